package cmd

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"jukebox/internal/client"
	"jukebox/internal/playback"
)

var (
	colorAccent = lipgloss.Color("#E5A00D")
	colorDim    = lipgloss.Color("#6B7280")
	colorGreen  = lipgloss.Color("#10B981")
	colorRed    = lipgloss.Color("#EF4444")
	colorBlue   = lipgloss.Color("#3B82F6")

	styleTitle   = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	styleDim     = lipgloss.NewStyle().Foreground(colorDim)
	styleCurrent = lipgloss.NewStyle().Bold(true)
)

func statusStyle(s client.Status) lipgloss.Style {
	switch s {
	case client.StatusConnected:
		return lipgloss.NewStyle().Foreground(colorGreen)
	case client.StatusConnecting:
		return lipgloss.NewStyle().Foreground(colorAccent)
	default:
		return lipgloss.NewStyle().Foreground(colorRed)
	}
}

func levelStyle(l client.Level) lipgloss.Style {
	switch l {
	case client.LevelSuccess:
		return lipgloss.NewStyle().Foreground(colorGreen)
	case client.LevelError:
		return lipgloss.NewStyle().Foreground(colorRed)
	default:
		return lipgloss.NewStyle().Foreground(colorBlue)
	}
}

type shownNotification struct {
	client.Notification
	expires time.Time
}

// view is the join command's client.Notifier. It keeps notifications
// until their TTL runs out and renders them with the player state.
type view struct {
	mu     sync.Mutex
	status client.Status
	notes  []shownNotification
	now    func() time.Time
}

func newView() *view {
	return &view{status: client.StatusOffline, now: time.Now}
}

func (v *view) SetStatus(s client.Status) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.status = s
}

func (v *view) Notify(n client.Notification) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.notes = append(v.notes, shownNotification{Notification: n, expires: v.now().Add(n.TTL)})
}

// active drops expired notifications and returns the rest.
func (v *view) active() []shownNotification {
	now := v.now()
	kept := v.notes[:0]
	for _, n := range v.notes {
		if now.Before(n.expires) {
			kept = append(kept, n)
		}
	}
	v.notes = kept
	return append([]shownNotification(nil), kept...)
}

// Render draws the status line, live notifications and the playlist.
func (v *view) Render(s playback.State, position float64, volume int) string {
	v.mu.Lock()
	status := v.status
	notes := v.active()
	v.mu.Unlock()

	var b strings.Builder
	b.WriteString(styleTitle.Render("jukebox"))
	b.WriteString("  ")
	b.WriteString(statusStyle(status).Render("● " + string(status)))
	b.WriteString(styleDim.Render(fmt.Sprintf("  vol %d%%", volume)))
	b.WriteString("\n")

	for _, n := range notes {
		b.WriteString(levelStyle(n.Level).Render("  " + n.Message))
		b.WriteString("\n")
	}

	if t, ok := s.Current(); ok {
		state := "paused"
		if s.IsPlaying {
			state = "playing"
		}
		fmt.Fprintf(&b, "%s %s - %s  %s / %s\n",
			styleCurrent.Render(state),
			t.Name, t.Artist,
			formatSeconds(position), formatSeconds(float64(t.Duration)))
	} else {
		b.WriteString(styleDim.Render("playlist is empty"))
		b.WriteString("\n")
	}

	for i, t := range s.Playlist {
		line := fmt.Sprintf("%2d. %s - %s", i, t.Name, t.Artist)
		if !t.HasSource() {
			line += " (no video)"
		}
		if i == s.CurrentIndex {
			b.WriteString(styleCurrent.Render("▶ " + line))
		} else {
			b.WriteString(styleDim.Render("  " + line))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func formatSeconds(sec float64) string {
	total := int(sec)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
