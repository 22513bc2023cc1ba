// Package reflector keeps a listener's local copy of the playback state.
//
// While connected the local copy mirrors the server: local actions are
// applied optimistically and sent as intents tagged with a fresh request
// id, and server events are applied unless they are the echo of one of
// those intents. While offline the local copy is the only state; it is
// advanced by a local ticker and persisted after every change.
package reflector

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"jukebox/internal/clock"
	"jukebox/internal/playback"
	"jukebox/internal/protocol"
	"jukebox/internal/shadowstore"
)

// maxPending bounds the request ids awaiting an echo. Intents the server
// treats as no-ops never echo, so the set is reset when it fills up.
const maxPending = 256

// Store persists the offline state.
type Store interface {
	Load() (shadowstore.Record, bool)
	Save(shadowstore.Record) error
}

// Config tunes a Reflector.
type Config struct {
	TickInterval    time.Duration                      // offline simulation step, default 1s
	DefaultDuration int                                // seconds, for tracks added without one
	Now             func() time.Time                   // default time.Now
	OnChange        func(s playback.State, volume int) // called after every applied change
}

// Reflector is the listener-side state. The zero value is not usable;
// create one with New.
type Reflector struct {
	mu      sync.Mutex
	state   playback.State
	volume  int
	lastTS  int64
	pending map[string]struct{}
	online  bool

	simCancel context.CancelFunc
	simDone   chan struct{}

	store Store
	cfg   Config
	log   zerolog.Logger
}

// New creates a reflector, restoring the last offline state from store
// when one was saved. store may be nil.
func New(cfg Config, store Store, log zerolog.Logger) *Reflector {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.DefaultDuration <= 0 {
		cfg.DefaultDuration = playback.DefaultDuration
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	r := &Reflector{
		state:   playback.New(nil, cfg.Now()),
		volume:  shadowstore.DefaultVolume,
		pending: make(map[string]struct{}),
		store:   store,
		cfg:     cfg,
		log:     log,
	}
	if store != nil {
		if rec, ok := store.Load(); ok {
			r.state = rec.State(cfg.Now())
			r.volume = lo.Clamp(rec.Volume, 0, 100)
			log.Info().Int("tracks", len(rec.Playlist)).Msg("restored saved state")
		}
	}
	return r
}

// Snapshot returns a copy of the local state.
func (r *Reflector) Snapshot() playback.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Clone()
}

// Volume returns the local volume, 0 to 100.
func (r *Reflector) Volume() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.volume
}

// Online reports whether local actions are being sent to a server.
func (r *Reflector) Online() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.online
}

// EffectivePosition is the position extrapolated to now.
func (r *Reflector) EffectivePosition() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.EffectivePosition(r.cfg.Now())
}

// Receive applies a server event. It reports whether the local state
// changed; stale events and echoes of this listener's own intents are
// ignored.
func (r *Reflector) Receive(msg protocol.Message) bool {
	r.mu.Lock()
	applied := r.receiveLocked(msg)
	r.mu.Unlock()

	if applied {
		r.changed()
	}
	return applied
}

func (r *Reflector) receiveLocked(msg protocol.Message) bool {
	if msg.Timestamp != 0 && msg.Timestamp < r.lastTS {
		r.log.Debug().Str("type", string(msg.Type)).Int64("ts", msg.Timestamp).Int64("last", r.lastTS).Msg("stale event dropped")
		return false
	}
	if msg.Timestamp != 0 {
		r.lastTS = msg.Timestamp
	}
	own := r.consume(msg.RequestID)

	switch msg.Type {
	case protocol.TypeSyncState:
		var p protocol.SyncState
		if err := protocol.DecodePayload(msg, &p); err != nil {
			r.log.Warn().Err(err).Msg("bad sync-state")
			return false
		}
		r.state = p.State()
		return true

	case protocol.TypePlaylistUpdated:
		var p protocol.PlaylistUpdated
		if err := protocol.DecodePayload(msg, &p); err != nil {
			r.log.Warn().Err(err).Msg("bad playlist-updated")
			return false
		}
		// The server's copy carries the ids it assigned, so it replaces
		// the optimistic one even for our own additions.
		r.state.Playlist = p.Playlist
		r.state.Normalize()
		return true

	case protocol.TypePlaybackChanged:
		if own {
			return false
		}
		var p protocol.PlaybackChanged
		if err := protocol.DecodePayload(msg, &p); err != nil {
			r.log.Warn().Err(err).Msg("bad playback-changed")
			return false
		}
		if len(r.state.Playlist) == 0 {
			return false
		}
		r.state.IsPlaying = p.IsPlaying
		r.state.Position = max(0, p.Position)
		r.state.LastUpdate = clock.FromMillis(p.Timestamp)
		return true

	case protocol.TypeSongChanged:
		if own {
			return false
		}
		var p protocol.SongChanged
		if err := protocol.DecodePayload(msg, &p); err != nil {
			r.log.Warn().Err(err).Msg("bad song-changed")
			return false
		}
		if p.CurrentIndex < 0 || p.CurrentIndex >= len(r.state.Playlist) {
			r.log.Debug().Int("index", p.CurrentIndex).Msg("song-changed out of range")
			return false
		}
		r.state.CurrentIndex = p.CurrentIndex
		r.state.Position = max(0, p.Position)
		r.state.LastUpdate = clock.FromMillis(p.Timestamp)
		return true

	case protocol.TypeError:
		var p protocol.ErrorEvent
		protocol.DecodePayload(msg, &p)
		r.log.Warn().Str("request", msg.RequestID).Str("error", p.Message).Msg("server rejected intent")
		return false
	}

	r.log.Debug().Str("type", string(msg.Type)).Msg("unhandled event")
	return false
}

// consume removes id from the pending set and reports whether it was there.
func (r *Reflector) consume(id string) bool {
	if id == "" {
		return false
	}
	if _, ok := r.pending[id]; !ok {
		return false
	}
	delete(r.pending, id)
	return true
}

// AddTrack queues a track locally. videoID may be empty.
func (r *Reflector) AddTrack(name, artist, videoID string, duration int) (protocol.Message, bool) {
	t := playback.NewTrack(name, artist, videoID, duration, r.cfg.DefaultDuration)
	payload := protocol.AddSong{Name: t.Name, Artist: t.Artist, Duration: t.Duration}
	if t.VideoID != nil {
		payload.VideoID = *t.VideoID
	}
	return r.local(protocol.TypeAddSong, payload, func(s *playback.State, now time.Time) bool {
		return s.AddTrack(t, now)
	})
}

// RemoveTrack removes the track at index.
func (r *Reflector) RemoveTrack(index int) (protocol.Message, bool) {
	return r.local(protocol.TypeRemoveSong, protocol.Index{Index: index}, func(s *playback.State, now time.Time) bool {
		return s.RemoveTrack(index, now)
	})
}

// Play starts playback.
func (r *Reflector) Play() (protocol.Message, bool) {
	return r.local(protocol.TypePlay, nil, (*playback.State).Play)
}

// Pause pauses playback.
func (r *Reflector) Pause() (protocol.Message, bool) {
	return r.local(protocol.TypePause, nil, (*playback.State).Pause)
}

// Seek moves the position within the current track.
func (r *Reflector) Seek(seconds float64) (protocol.Message, bool) {
	return r.local(protocol.TypeSeek, protocol.Seconds{Seconds: max(0, seconds)}, func(s *playback.State, now time.Time) bool {
		return s.Seek(seconds, now)
	})
}

// ChangeSong selects the track at index.
func (r *Reflector) ChangeSong(index int) (protocol.Message, bool) {
	return r.local(protocol.TypeChangeSong, protocol.Index{Index: index}, func(s *playback.State, now time.Time) bool {
		return s.ChangeSong(index, now)
	})
}

// NextSong selects the following track, wrapping around.
func (r *Reflector) NextSong() (protocol.Message, bool) {
	return r.local(protocol.TypeNextSong, nil, (*playback.State).Next)
}

// PreviousSong selects the preceding track, wrapping around.
func (r *Reflector) PreviousSong() (protocol.Message, bool) {
	return r.local(protocol.TypePreviousSong, nil, (*playback.State).Previous)
}

// TimeUpdate records the position reported by the local player. The
// server does not echo it.
func (r *Reflector) TimeUpdate(seconds float64) (protocol.Message, bool) {
	r.mu.Lock()
	now := r.cfg.Now()
	if !r.state.SetPosition(seconds, now) {
		r.mu.Unlock()
		return protocol.Message{}, false
	}
	online := r.online
	if !online {
		r.persistLocked()
	}
	r.mu.Unlock()

	r.changed()
	if !online {
		return protocol.Message{}, false
	}
	msg, err := protocol.NewIntent(protocol.TypeTimeUpdate, "", protocol.Seconds{Seconds: max(0, seconds)})
	if err != nil {
		return protocol.Message{}, false
	}
	return msg, true
}

// SetVolume sets the local volume. Volume is never shared.
func (r *Reflector) SetVolume(v int) {
	r.mu.Lock()
	r.volume = lo.Clamp(v, 0, 100)
	if !r.online {
		r.persistLocked()
	}
	r.mu.Unlock()
	r.changed()
}

// local applies op to the local state. When online it returns the intent
// to send; the request id is remembered so the echo is not applied twice.
// When offline the state is persisted and there is nothing to send.
func (r *Reflector) local(t protocol.Type, payload any, op func(*playback.State, time.Time) bool) (protocol.Message, bool) {
	r.mu.Lock()
	if !op(&r.state, r.cfg.Now()) {
		r.mu.Unlock()
		r.log.Debug().Str("type", string(t)).Msg("local action ignored")
		return protocol.Message{}, false
	}

	var (
		msg  protocol.Message
		send bool
	)
	if r.online {
		id := uuid.NewString()
		m, err := protocol.NewIntent(t, id, payload)
		if err != nil {
			r.log.Error().Err(err).Str("type", string(t)).Msg("encode intent")
		} else {
			if len(r.pending) >= maxPending {
				clear(r.pending)
			}
			r.pending[id] = struct{}{}
			msg, send = m, true
		}
	} else {
		r.persistLocked()
	}
	r.mu.Unlock()

	r.changed()
	return msg, send
}

// GoOnline stops the offline simulation. Events from the new connection
// are accepted from the start, beginning with its sync-state.
func (r *Reflector) GoOnline() {
	r.stopSimulation()

	r.mu.Lock()
	r.online = true
	r.lastTS = 0
	clear(r.pending)
	r.mu.Unlock()
	r.log.Info().Msg("online")
}

// GoOffline makes the local state authoritative: it is persisted and,
// until GoOnline or ctx ends, advanced one tick at a time.
func (r *Reflector) GoOffline(ctx context.Context) {
	r.stopSimulation()

	r.mu.Lock()
	r.online = false
	clear(r.pending)
	// Fold the time since the last server update into the position so
	// simulation starts where playback actually is.
	now := r.cfg.Now()
	if r.state.IsPlaying {
		r.state.Position = r.state.EffectivePosition(now)
		r.state.LastUpdate = now
	}
	r.persistLocked()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.simCancel, r.simDone = cancel, done
	r.mu.Unlock()

	r.log.Info().Dur("tick", r.cfg.TickInterval).Msg("offline, simulating playback")
	go func() {
		defer close(done)
		ticker := time.NewTicker(r.cfg.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Tick()
			}
		}
	}()
}

func (r *Reflector) stopSimulation() {
	r.mu.Lock()
	cancel, done := r.simCancel, r.simDone
	r.simCancel, r.simDone = nil, nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Tick advances offline playback by one tick, moving to the next track
// when the current one ends. It does nothing while online.
func (r *Reflector) Tick() {
	r.mu.Lock()
	if r.online {
		r.mu.Unlock()
		return
	}
	now := r.cfg.Now()
	if !r.state.IsPlaying {
		r.mu.Unlock()
		return
	}
	if r.state.Step(r.cfg.TickInterval, now) {
		r.state.Next(now)
	}
	r.persistLocked()
	r.mu.Unlock()

	r.changed()
}

// persistLocked must be called with r.mu held.
func (r *Reflector) persistLocked() {
	if r.store == nil {
		return
	}
	if err := r.store.Save(shadowstore.RecordOf(r.state, r.volume)); err != nil {
		r.log.Warn().Err(err).Msg("save player state")
	}
}

func (r *Reflector) changed() {
	if r.cfg.OnChange == nil {
		return
	}
	r.mu.Lock()
	s, v := r.state.Clone(), r.volume
	r.mu.Unlock()
	r.cfg.OnChange(s, v)
}
