package server

import (
	"time"

	"github.com/rs/zerolog"

	"jukebox/internal/engine"
	"jukebox/internal/platform/youtube"
	"jukebox/internal/protocol"
)

// Handler turns frames received from a session into engine operations.
type Handler struct {
	engine *engine.Engine
	log    zerolog.Logger
}

// NewHandler creates a new frame handler.
func NewHandler(eng *engine.Engine, log zerolog.Logger) *Handler {
	return &Handler{
		engine: eng,
		log:    log,
	}
}

// HandleFrame decodes, validates and applies one frame from s. Frames that
// fail validation are dropped and reported back to s only.
func (h *Handler) HandleFrame(s *Session, data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		h.reject(s, "", err)
		return
	}

	in, err := protocol.ParseIntent(msg)
	if err != nil {
		h.reject(s, msg.RequestID, err)
		return
	}

	if in.Type == protocol.TypeAddSong {
		in.Body = normalizeAddSong(in.Body.(protocol.AddSong))
	}

	applied := h.engine.Apply(in)
	h.log.Debug().
		Str("session", s.ID).
		Str("type", string(in.Type)).
		Str("request", in.RequestID).
		Bool("applied", applied).
		Msg("intent")
}

func (h *Handler) reject(s *Session, requestID string, err error) {
	h.log.Warn().Err(err).Str("session", s.ID).Msg("dropped frame")

	// Errors are not part of the engine's event order, so they carry no ts.
	msg, encErr := protocol.NewMessage(protocol.TypeError, requestID, time.Time{}, protocol.ErrorEvent{Message: err.Error()})
	if encErr != nil {
		return
	}
	s.Send(msg)
}

// normalizeAddSong accepts a pasted YouTube URL in place of a video id.
// Anything that is not recognisably a video is dropped so the track stays
// source-less.
func normalizeAddSong(b protocol.AddSong) protocol.AddSong {
	if b.VideoID == "" {
		return b
	}
	id, ok := youtube.ExtractVideoID(b.VideoID)
	if !ok {
		id = ""
	}
	b.VideoID = id
	return b
}
