// Package engine owns the canonical playback state. It is the only writer
// of that state: it applies listener intents one at a time, advances the
// position on a fixed tick and hands the resulting events to a Broadcaster.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"jukebox/internal/playback"
	"jukebox/internal/protocol"
)

// Broadcaster delivers server events to every connected listener.
// Broadcast is called with the engine lock held and must not block.
type Broadcaster interface {
	Broadcast(msg protocol.Message)
}

// BroadcasterFunc adapts a function to Broadcaster.
type BroadcasterFunc func(msg protocol.Message)

// Broadcast calls f(msg).
func (f BroadcasterFunc) Broadcast(msg protocol.Message) { f(msg) }

// Config tunes an Engine.
type Config struct {
	TickInterval    time.Duration    // default 1s
	AutoAdvance     bool             // move to the next track when the current one ends
	DefaultDuration int              // seconds, for tracks added without one
	Now             func() time.Time // default time.Now
}

// Engine holds one PlaybackState. Create it with New.
type Engine struct {
	mu    sync.Mutex
	state playback.State
	out   Broadcaster
	cfg   Config
	log   zerolog.Logger
}

// New creates an engine whose playlist starts as seed.
func New(cfg Config, seed []playback.Track, out Broadcaster, log zerolog.Logger) *Engine {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.DefaultDuration <= 0 {
		cfg.DefaultDuration = playback.DefaultDuration
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if out == nil {
		out = BroadcasterFunc(func(protocol.Message) {})
	}
	return &Engine{
		state: playback.New(seed, cfg.Now()),
		out:   out,
		cfg:   cfg,
		log:   log,
	}
}

// Snapshot returns a copy of the current state.
func (e *Engine) Snapshot() playback.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}

// Connect hands a sync-state message to register while holding the engine
// lock. A listener that subscribes inside register sees every later event
// and none that predate its snapshot.
func (e *Engine) Connect(register func(snapshot protocol.Message)) {
	e.mu.Lock()
	defer e.mu.Unlock()

	msg, err := protocol.NewMessage(protocol.TypeSyncState, "", e.cfg.Now(), protocol.StateOf(e.state.Clone()))
	if err != nil {
		e.log.Error().Err(err).Msg("snapshot encode failed")
		return
	}
	register(msg)
}

// Apply runs a validated intent. It reports whether the state changed.
func (e *Engine) Apply(in protocol.Intent) bool {
	switch in.Type {
	case protocol.TypeAddSong:
		b := in.Body.(protocol.AddSong)
		return e.AddTrack(in.RequestID, playback.NewTrack(b.Name, b.Artist, b.VideoID, b.Duration, e.cfg.DefaultDuration))
	case protocol.TypeRemoveSong:
		return e.RemoveTrack(in.RequestID, in.Body.(protocol.Index).Index)
	case protocol.TypePlay:
		return e.Play(in.RequestID)
	case protocol.TypePause:
		return e.Pause(in.RequestID)
	case protocol.TypeSeek:
		return e.Seek(in.RequestID, in.Body.(protocol.Seconds).Seconds)
	case protocol.TypeChangeSong:
		return e.ChangeSong(in.RequestID, in.Body.(protocol.Index).Index)
	case protocol.TypeNextSong:
		return e.NextSong(in.RequestID)
	case protocol.TypePreviousSong:
		return e.PreviousSong(in.RequestID)
	case protocol.TypeTimeUpdate:
		return e.TimeUpdate(in.Body.(protocol.Seconds).Seconds)
	}
	e.log.Warn().Str("type", string(in.Type)).Msg("unhandled intent")
	return false
}

// AddTrack appends t and broadcasts the playlist. When t is the first
// track the full state follows so listeners pick up the new cursor.
func (e *Engine) AddTrack(reqID string, t playback.Track) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.cfg.Now()
	wasEmpty := len(e.state.Playlist) == 0
	if !e.state.AddTrack(t, now) {
		e.log.Debug().Str("name", t.Name).Msg("add ignored")
		return false
	}
	e.log.Info().Str("name", t.Name).Str("artist", t.Artist).Bool("source", t.HasSource()).Msg("song added")

	e.emit(protocol.TypePlaylistUpdated, reqID, now, protocol.PlaylistUpdated{Playlist: e.state.Clone().Playlist})
	if wasEmpty {
		e.emit(protocol.TypeSyncState, reqID, now, protocol.StateOf(e.state.Clone()))
	}
	return true
}

// RemoveTrack deletes the track at index and broadcasts the full state.
func (e *Engine) RemoveTrack(reqID string, index int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.cfg.Now()
	var name string
	if index >= 0 && index < len(e.state.Playlist) {
		name = e.state.Playlist[index].Name
	}
	if !e.state.RemoveTrack(index, now) {
		e.log.Debug().Int("index", index).Msg("remove ignored")
		return false
	}
	e.log.Info().Str("name", name).Int("index", index).Msg("song removed")

	e.emit(protocol.TypeSyncState, reqID, now, protocol.StateOf(e.state.Clone()))
	return true
}

// Play starts playback.
func (e *Engine) Play(reqID string) bool {
	return e.playback(reqID, "playback started", (*playback.State).Play)
}

// Pause pauses playback.
func (e *Engine) Pause(reqID string) bool {
	return e.playback(reqID, "playback paused", (*playback.State).Pause)
}

// Seek moves the position, clamped to the current track.
func (e *Engine) Seek(reqID string, seconds float64) bool {
	return e.playback(reqID, "seeked", func(s *playback.State, now time.Time) bool {
		return s.Seek(seconds, now)
	})
}

func (e *Engine) playback(reqID, event string, op func(*playback.State, time.Time) bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.cfg.Now()
	if !op(&e.state, now) {
		e.log.Debug().Str("event", event).Msg("playback change ignored")
		return false
	}
	e.log.Info().Float64("position", e.state.Position).Msg(event)

	e.emit(protocol.TypePlaybackChanged, reqID, now, protocol.PlaybackChanged{
		IsPlaying: e.state.IsPlaying,
		Position:  e.state.Position,
		Timestamp: now.UnixMilli(),
	})
	return true
}

// ChangeSong selects the track at index.
func (e *Engine) ChangeSong(reqID string, index int) bool {
	return e.song(reqID, func(s *playback.State, now time.Time) bool {
		return s.ChangeSong(index, now)
	})
}

// NextSong selects the following track, wrapping around.
func (e *Engine) NextSong(reqID string) bool {
	return e.song(reqID, (*playback.State).Next)
}

// PreviousSong selects the preceding track, wrapping around.
func (e *Engine) PreviousSong(reqID string) bool {
	return e.song(reqID, (*playback.State).Previous)
}

func (e *Engine) song(reqID string, op func(*playback.State, time.Time) bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.changeSongLocked(reqID, e.cfg.Now(), op)
}

func (e *Engine) changeSongLocked(reqID string, now time.Time, op func(*playback.State, time.Time) bool) bool {
	if !op(&e.state, now) {
		e.log.Debug().Msg("song change ignored")
		return false
	}
	if t, ok := e.state.Current(); ok {
		e.log.Info().Int("index", e.state.CurrentIndex).Str("name", t.Name).Msg("song changed")
	}

	e.emit(protocol.TypeSongChanged, reqID, now, protocol.SongChanged{
		CurrentIndex: e.state.CurrentIndex,
		Position:     0,
		Timestamp:    now.UnixMilli(),
	})
	return true
}

// TimeUpdate records a position reported by a listener. Nothing is
// broadcast, so reports from one listener never echo to the others.
func (e *Engine) TimeUpdate(seconds float64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.SetPosition(seconds, e.cfg.Now())
}

// Tick advances the position by the time elapsed since the last update.
// It broadcasts nothing unless the current track ended and AutoAdvance
// moved on to the next one.
func (e *Engine) Tick() {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.cfg.Now()
	if !e.state.Advance(now) {
		return
	}
	if e.cfg.AutoAdvance {
		e.changeSongLocked("", now, (*playback.State).Next)
		return
	}
	e.state.ClampToEnd(now)
}

// Run ticks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	e.log.Info().Dur("interval", e.cfg.TickInterval).Msg("engine started")
	for {
		select {
		case <-ctx.Done():
			e.log.Info().Msg("engine stopped")
			return nil
		case <-ticker.C:
			e.Tick()
		}
	}
}

// emit must be called with e.mu held.
func (e *Engine) emit(t protocol.Type, reqID string, now time.Time, payload any) {
	msg, err := protocol.NewMessage(t, reqID, now, payload)
	if err != nil {
		e.log.Error().Err(err).Str("type", string(t)).Msg("broadcast encode failed")
		return
	}
	e.out.Broadcast(msg)
}
