// Package playback holds the jukebox playback state and the rules for
// mutating it. Both the server engine and the client's offline mode use
// these methods, so a control event is validated the same way everywhere.
package playback

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"jukebox/internal/clock"
)

// DefaultDuration is used for tracks that arrive without a duration.
const DefaultDuration = 180

// NoTrack is the CurrentIndex of an empty playlist.
const NoTrack = -1

// Track is one playlist entry. Tracks are addressed by their position in
// the playlist; ID is informational only.
type Track struct {
	ID       string  `json:"id,omitempty"`
	Name     string  `json:"name"`
	Artist   string  `json:"artist"`
	VideoID  *string `json:"videoId"`
	Duration int     `json:"duration"`
}

// HasSource reports whether the track is linked to a video.
func (t Track) HasSource() bool {
	return t.VideoID != nil && *t.VideoID != ""
}

// NewTrack builds a track ready to be queued. An empty videoID leaves the
// track source-less and a non-positive duration falls back to defaultDuration.
func NewTrack(name, artist, videoID string, duration, defaultDuration int) Track {
	if defaultDuration <= 0 {
		defaultDuration = DefaultDuration
	}
	if duration <= 0 {
		duration = defaultDuration
	}
	t := Track{
		ID:       uuid.NewString(),
		Name:     strings.TrimSpace(name),
		Artist:   strings.TrimSpace(artist),
		Duration: duration,
	}
	if v := strings.TrimSpace(videoID); v != "" {
		t.VideoID = &v
	}
	return t
}

// State is the playback state shared by every listener.
//
// Invariants kept by every method:
//   - CurrentIndex is NoTrack iff Playlist is empty, otherwise a valid index
//   - IsPlaying is false while CurrentIndex is NoTrack
//   - Position is reset to 0 whenever CurrentIndex changes
//   - any write to IsPlaying or Position also writes LastUpdate
type State struct {
	Playlist     []Track
	CurrentIndex int
	IsPlaying    bool
	Position     float64
	LastUpdate   time.Time
}

// New returns a paused state holding a copy of seed, with the first track
// selected when seed is not empty.
func New(seed []Track, now time.Time) State {
	s := State{
		Playlist:     slices.Clone(seed),
		CurrentIndex: NoTrack,
		LastUpdate:   now,
	}
	if s.Playlist == nil {
		s.Playlist = []Track{}
	}
	if len(s.Playlist) > 0 {
		s.CurrentIndex = 0
	}
	return s
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	c := s
	c.Playlist = make([]Track, len(s.Playlist))
	for i, t := range s.Playlist {
		if t.VideoID != nil {
			v := *t.VideoID
			t.VideoID = &v
		}
		c.Playlist[i] = t
	}
	return c
}

// Current returns the selected track.
func (s *State) Current() (Track, bool) {
	if s.CurrentIndex < 0 || s.CurrentIndex >= len(s.Playlist) {
		return Track{}, false
	}
	return s.Playlist[s.CurrentIndex], true
}

// EffectivePosition extrapolates Position to now.
func (s *State) EffectivePosition(now time.Time) float64 {
	return clock.Reconcile(s.Position, s.IsPlaying, s.LastUpdate, now)
}

// Valid reports whether s satisfies the state invariants.
func (s *State) Valid() bool {
	if len(s.Playlist) == 0 {
		return s.CurrentIndex == NoTrack && !s.IsPlaying
	}
	return s.CurrentIndex >= 0 && s.CurrentIndex < len(s.Playlist) && s.Position >= 0
}

// Normalize repairs a state received from elsewhere so it satisfies the
// invariants. It is used on restored and replaced states.
func (s *State) Normalize() {
	if s.Playlist == nil {
		s.Playlist = []Track{}
	}
	if len(s.Playlist) == 0 {
		s.CurrentIndex = NoTrack
		s.IsPlaying = false
		s.Position = 0
		return
	}
	if s.CurrentIndex < 0 || s.CurrentIndex >= len(s.Playlist) {
		s.CurrentIndex = 0
		s.Position = 0
	}
	if s.Position < 0 {
		s.Position = 0
	}
}

// AddTrack appends t. Adding to an empty playlist selects it, paused.
func (s *State) AddTrack(t Track, now time.Time) bool {
	if strings.TrimSpace(t.Name) == "" || strings.TrimSpace(t.Artist) == "" || t.Duration <= 0 {
		return false
	}
	s.Playlist = append(s.Playlist, t)
	if len(s.Playlist) == 1 {
		s.CurrentIndex = 0
		s.IsPlaying = false
		s.Position = 0
		s.LastUpdate = now
	}
	return true
}

// RemoveTrack deletes the track at index, keeping the cursor on the same
// logical track where possible.
func (s *State) RemoveTrack(index int, now time.Time) bool {
	if index < 0 || index >= len(s.Playlist) {
		return false
	}
	s.Playlist = slices.Delete(s.Playlist, index, index+1)

	switch {
	case index == s.CurrentIndex:
		s.Position = 0
		if len(s.Playlist) == 0 {
			s.CurrentIndex = NoTrack
			s.IsPlaying = false
		} else if index >= len(s.Playlist) {
			s.CurrentIndex = 0
		}
	case index < s.CurrentIndex:
		s.CurrentIndex--
	}
	s.LastUpdate = now
	return true
}

// Play starts playback of the selected track.
func (s *State) Play(now time.Time) bool {
	if len(s.Playlist) == 0 {
		return false
	}
	s.Position = s.EffectivePosition(now)
	s.IsPlaying = true
	s.LastUpdate = now
	return true
}

// Pause stops playback, keeping the position.
func (s *State) Pause(now time.Time) bool {
	if len(s.Playlist) == 0 {
		return false
	}
	s.Position = s.EffectivePosition(now)
	s.IsPlaying = false
	s.LastUpdate = now
	return true
}

// Seek moves to seconds, clamped to the current track.
func (s *State) Seek(seconds float64, now time.Time) bool {
	t, ok := s.Current()
	if !ok {
		return false
	}
	s.Position = lo.Clamp(seconds, 0, float64(t.Duration))
	s.LastUpdate = now
	return true
}

// SetPosition records a position reported by a listener. It follows the
// same clamping as Seek.
func (s *State) SetPosition(seconds float64, now time.Time) bool {
	return s.Seek(seconds, now)
}

// ChangeSong selects the track at index from its start.
func (s *State) ChangeSong(index int, now time.Time) bool {
	if index < 0 || index >= len(s.Playlist) {
		return false
	}
	s.CurrentIndex = index
	s.Position = 0
	s.LastUpdate = now
	return true
}

// Next selects the following track, wrapping to the first.
func (s *State) Next(now time.Time) bool {
	n := len(s.Playlist)
	if n == 0 {
		return false
	}
	return s.ChangeSong((s.CurrentIndex+1)%n, now)
}

// Previous selects the preceding track, wrapping to the last.
func (s *State) Previous(now time.Time) bool {
	n := len(s.Playlist)
	if n == 0 {
		return false
	}
	return s.ChangeSong((s.CurrentIndex-1+n)%n, now)
}

// Advance moves Position forward by the wall time elapsed since LastUpdate.
// It reports whether the current track has reached its end. Nothing moves
// while paused or empty.
func (s *State) Advance(now time.Time) (ended bool) {
	t, ok := s.Current()
	if !ok || !s.IsPlaying {
		return false
	}
	s.Position = s.EffectivePosition(now)
	s.LastUpdate = now
	return s.Position >= float64(t.Duration)
}

// Step moves Position forward by d regardless of wall time, as the
// client-side simulation does on each of its ticks. It reports whether the
// current track has reached its end.
func (s *State) Step(d time.Duration, now time.Time) (ended bool) {
	t, ok := s.Current()
	if !ok || !s.IsPlaying {
		return false
	}
	s.Position += d.Seconds()
	s.LastUpdate = now
	return s.Position >= float64(t.Duration)
}

// ClampToEnd pins Position at the current track's duration.
func (s *State) ClampToEnd(now time.Time) {
	if t, ok := s.Current(); ok && s.Position > float64(t.Duration) {
		s.Position = float64(t.Duration)
		s.LastUpdate = now
	}
}
