// Package protocol defines the messages exchanged between the jukebox
// server and its listeners. Every frame is a tagged envelope; payloads are
// decoded into a concrete type per tag and validated before use.
package protocol

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"

	"jukebox/internal/clock"
	"jukebox/internal/playback"
)

// Type identifies a message variant.
type Type string

// Intents sent by listeners.
const (
	TypeAddSong      Type = "add-song"
	TypeRemoveSong   Type = "remove-song"
	TypePlay         Type = "play"
	TypePause        Type = "pause"
	TypeSeek         Type = "seek"
	TypeChangeSong   Type = "change-song"
	TypeNextSong     Type = "next-song"
	TypePreviousSong Type = "previous-song"
	TypeTimeUpdate   Type = "time-update"
)

// Events sent by the server.
const (
	TypeSyncState       Type = "sync-state"
	TypePlaylistUpdated Type = "playlist-updated"
	TypePlaybackChanged Type = "playback-changed"
	TypeSongChanged     Type = "song-changed"
	TypeError           Type = "error"
)

var (
	ErrUnknownType    = errors.New("unknown message type")
	ErrInvalidPayload = errors.New("invalid payload")
)

// Message is the envelope of every frame.
type Message struct {
	Type      Type            `json:"type"`
	RequestID string          `json:"requestId,omitempty"` // correlation id of the originating intent
	Timestamp int64           `json:"ts,omitempty"`        // unix ms at which the server sent it
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// IsIntent reports whether t is a listener intent.
func (t Type) IsIntent() bool {
	switch t {
	case TypeAddSong, TypeRemoveSong, TypePlay, TypePause, TypeSeek,
		TypeChangeSong, TypeNextSong, TypePreviousSong, TypeTimeUpdate:
		return true
	}
	return false
}

// IsEvent reports whether t is a server event.
func (t Type) IsEvent() bool {
	switch t {
	case TypeSyncState, TypePlaylistUpdated, TypePlaybackChanged, TypeSongChanged, TypeError:
		return true
	}
	return false
}

// AddSong asks for a track to be queued.
type AddSong struct {
	Name     string `json:"name" validate:"required,max=200"`
	Artist   string `json:"artist" validate:"required,max=200"`
	VideoID  string `json:"videoId,omitempty" validate:"omitempty,max=64"`
	Duration int    `json:"duration,omitempty"` // 0 or less means unknown
}

// Index addresses a playlist position. Out-of-range values are accepted
// here and ignored by the engine.
type Index struct {
	Index int `json:"index"`
}

// Seconds carries a playback position. The engine clamps it to the
// current track.
type Seconds struct {
	Seconds float64 `json:"seconds"`
}

// Empty is the payload of intents without arguments.
type Empty struct{}

// SyncState is the full state sent on connect and after structural changes.
type SyncState struct {
	Playlist            []playback.Track `json:"playlist"`
	CurrentIndex        int              `json:"currentIndex"`
	IsPlaying           bool             `json:"isPlaying"`
	Position            float64          `json:"position"`
	LastUpdateTimestamp int64            `json:"lastUpdateTimestamp"`
}

// PlaylistUpdated carries the playlist after an append.
type PlaylistUpdated struct {
	Playlist []playback.Track `json:"playlist"`
}

// PlaybackChanged is sent after play, pause and seek.
type PlaybackChanged struct {
	IsPlaying bool    `json:"isPlaying"`
	Position  float64 `json:"position"`
	Timestamp int64   `json:"timestamp"`
}

// SongChanged is sent when the cursor moves.
type SongChanged struct {
	CurrentIndex int     `json:"currentIndex"`
	Position     float64 `json:"position"`
	Timestamp    int64   `json:"timestamp"`
}

// ErrorEvent reports a rejected frame to the listener that sent it.
type ErrorEvent struct {
	Message string `json:"message"`
}

// Intent is a decoded and validated listener request.
type Intent struct {
	Type      Type
	RequestID string
	Body      any // one of AddSong, Index, Seconds, Empty
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Decode parses a raw frame into an envelope.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if msg.Type == "" {
		return Message{}, fmt.Errorf("%w: missing type", ErrInvalidPayload)
	}
	return msg, nil
}

// Encode serializes a message.
func Encode(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// ParseIntent turns an envelope into a validated intent.
func ParseIntent(msg Message) (Intent, error) {
	in := Intent{Type: msg.Type, RequestID: msg.RequestID}

	var body any
	switch msg.Type {
	case TypeAddSong:
		body = &AddSong{}
	case TypeRemoveSong, TypeChangeSong:
		body = &Index{}
	case TypeSeek, TypeTimeUpdate:
		body = &Seconds{}
	case TypePlay, TypePause, TypeNextSong, TypePreviousSong:
		in.Body = Empty{}
		return in, nil
	default:
		return Intent{}, fmt.Errorf("%w: %q", ErrUnknownType, msg.Type)
	}

	if len(msg.Payload) == 0 {
		return Intent{}, fmt.Errorf("%w: %s requires a payload", ErrInvalidPayload, msg.Type)
	}
	if err := json.Unmarshal(msg.Payload, body); err != nil {
		return Intent{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := validate.Struct(body); err != nil {
		return Intent{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	switch b := body.(type) {
	case *AddSong:
		in.Body = *b
	case *Index:
		in.Body = *b
	case *Seconds:
		in.Body = *b
	}
	return in, nil
}

// NewMessage wraps payload into an envelope.
func NewMessage(t Type, requestID string, sentAt time.Time, payload any) (Message, error) {
	msg := Message{
		Type:      t,
		RequestID: requestID,
		Timestamp: clock.Millis(sentAt),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Message{}, fmt.Errorf("encode %s payload: %w", t, err)
		}
		msg.Payload = raw
	}
	return msg, nil
}

// NewIntent builds an intent envelope as a listener would send it.
func NewIntent(t Type, requestID string, payload any) (Message, error) {
	if !t.IsIntent() {
		return Message{}, fmt.Errorf("%w: %q is not an intent", ErrUnknownType, t)
	}
	return NewMessage(t, requestID, time.Time{}, payload)
}

// DecodePayload unmarshals msg's payload into v.
func DecodePayload(msg Message, v any) error {
	if len(msg.Payload) == 0 {
		return fmt.Errorf("%w: %s has no payload", ErrInvalidPayload, msg.Type)
	}
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// StateOf converts a playback state into its wire form.
func StateOf(s playback.State) SyncState {
	return SyncState{
		Playlist:            s.Playlist,
		CurrentIndex:        s.CurrentIndex,
		IsPlaying:           s.IsPlaying,
		Position:            s.Position,
		LastUpdateTimestamp: clock.Millis(s.LastUpdate),
	}
}

// State converts the wire form back into a playback state.
func (s SyncState) State() playback.State {
	st := playback.State{
		Playlist:     s.Playlist,
		CurrentIndex: s.CurrentIndex,
		IsPlaying:    s.IsPlaying,
		Position:     s.Position,
		LastUpdate:   clock.FromMillis(s.LastUpdateTimestamp),
	}
	st.Normalize()
	return st
}
