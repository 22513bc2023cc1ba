// Package shadowstore persists a listener's offline playlist between runs.
package shadowstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"

	"jukebox/internal/playback"
)

var (
	bucketJukebox = []byte("jukebox")
	keyState      = []byte("player-state")
)

// DefaultVolume is used when nothing was saved.
const DefaultVolume = 50

// Record is what survives a restart. Play/pause and position are not kept:
// a restored player always starts paused at the top of its track.
type Record struct {
	Playlist     []playback.Track `json:"playlist"`
	CurrentIndex int              `json:"currentIndex"`
	Volume       int              `json:"volume"`
}

// Store keeps one Record in a bbolt file.
type Store struct {
	db  *bolt.DB
	log zerolog.Logger

	// Memory-only mode
	mu  sync.Mutex
	mem []byte
}

// Open opens or creates the store at path. An empty path keeps the record
// in memory only.
func Open(path string, log zerolog.Logger) (*Store, error) {
	if path == "" {
		return &Store{log: log}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketJukebox)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, log: log}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Save replaces the stored record.
func (s *Store) Save(r Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode player state: %w", err)
	}

	if s.db == nil {
		s.mu.Lock()
		s.mem = data
		s.mu.Unlock()
		return nil
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketJukebox).Put(keyState, data)
	})
}

// Load returns the stored record. Any problem reading it, including a
// record that does not decode or breaks the playlist invariants, is
// logged and reported as no saved state.
func (s *Store) Load() (Record, bool) {
	var data []byte
	if s.db == nil {
		s.mu.Lock()
		data = s.mem
		s.mu.Unlock()
	} else {
		err := s.db.View(func(tx *bolt.Tx) error {
			b := tx.Bucket(bucketJukebox)
			if b == nil {
				return nil
			}
			if v := b.Get(keyState); v != nil {
				data = make([]byte, len(v))
				copy(data, v)
			}
			return nil
		})
		if err != nil {
			s.log.Warn().Err(err).Msg("read player state")
			return Record{}, false
		}
	}

	if data == nil {
		return Record{}, false
	}

	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		s.log.Warn().Err(err).Msg("discarding unreadable player state")
		return Record{}, false
	}

	st := r.State(time.Time{})
	if !st.Valid() {
		s.log.Warn().Int("index", r.CurrentIndex).Int("tracks", len(r.Playlist)).Msg("discarding inconsistent player state")
		return Record{}, false
	}
	return r, true
}

// Clear removes the stored record.
func (s *Store) Clear() error {
	if s.db == nil {
		s.mu.Lock()
		s.mem = nil
		s.mu.Unlock()
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketJukebox).Delete(keyState)
	})
}

// RecordOf extracts the persisted subset of a playback state.
func RecordOf(s playback.State, volume int) Record {
	return Record{
		Playlist:     s.Clone().Playlist,
		CurrentIndex: s.CurrentIndex,
		Volume:       volume,
	}
}

// State rebuilds a paused playback state from the record.
func (r Record) State(now time.Time) playback.State {
	s := playback.State{
		Playlist:     r.Playlist,
		CurrentIndex: r.CurrentIndex,
		LastUpdate:   now,
	}
	if s.Playlist == nil {
		s.Playlist = []playback.Track{}
	}
	return s
}
