package server

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"jukebox/internal/clock"
	"jukebox/internal/engine"
	"jukebox/internal/platform"
	"jukebox/internal/protocol"
)

// API handles the HTTP endpoints.
type API struct {
	engine    *engine.Engine
	sessions  *SessionManager
	searcher  platform.Searcher
	startedAt time.Time
	now       func() time.Time
	log       zerolog.Logger
}

// NewAPI creates a new API handler. searcher may be nil when no search
// platform is registered.
func NewAPI(eng *engine.Engine, sessions *SessionManager, searcher platform.Searcher, log zerolog.Logger) *API {
	return &API{
		engine:    eng,
		sessions:  sessions,
		searcher:  searcher,
		startedAt: time.Now(),
		now:       time.Now,
		log:       log,
	}
}

// SearchRequest is the request body for the search endpoint.
type SearchRequest struct {
	Query string `json:"query" binding:"required"`
}

// SearchResponse is the response for the search endpoint. VideoID is null
// when nothing matched.
type SearchResponse struct {
	VideoID *string `json:"videoId"`
	Error   string  `json:"error,omitempty"`
}

// HealthResponse is the response for the health endpoint.
type HealthResponse struct {
	Status               string  `json:"status"`
	Uptime               float64 `json:"uptime"` // seconds
	ConnectedClients     int     `json:"connectedClients"`
	YouTubeAPIConfigured bool    `json:"youtubeApiConfigured"`
	Timestamp            string  `json:"timestamp"`
}

// StateResponse is a sync-state payload plus the position extrapolated to
// the time of the request.
type StateResponse struct {
	protocol.SyncState
	EffectivePosition float64 `json:"effectivePosition"`
}

// IndexResponse describes the service at the root path.
type IndexResponse struct {
	Service          string   `json:"service"`
	Status           string   `json:"status"`
	ConnectedClients int      `json:"connectedClients"`
	CurrentSong      string   `json:"currentSong"`
	PlaylistLength   int      `json:"playlistLength"`
	IsPlaying        bool     `json:"isPlaying"`
	Endpoints        []string `json:"endpoints"`
}

// Search looks up the top video for a free-text query.
func (a *API) Search(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Query) == "" {
		c.JSON(http.StatusBadRequest, SearchResponse{Error: "query is required"})
		return
	}

	if a.searcher == nil || !a.searcher.Configured() {
		c.JSON(http.StatusInternalServerError, SearchResponse{Error: "search API key is not configured"})
		return
	}

	id, err := a.searcher.Search(c.Request.Context(), req.Query)
	if err != nil {
		status := searchStatus(err)
		a.log.Warn().Err(err).Str("query", req.Query).Int("status", status).Msg("search failed")
		c.JSON(status, SearchResponse{Error: err.Error()})
		return
	}

	a.log.Debug().Str("query", req.Query).Str("video", id).Msg("search")
	if id == "" {
		c.JSON(http.StatusOK, SearchResponse{})
		return
	}
	c.JSON(http.StatusOK, SearchResponse{VideoID: &id})
}

// searchStatus maps a search failure to the status returned to the caller.
func searchStatus(err error) int {
	switch {
	case errors.Is(err, platform.ErrMissingCredential):
		return http.StatusInternalServerError
	case errors.Is(err, platform.ErrQuotaExceeded):
		return http.StatusForbidden
	case errors.Is(err, platform.ErrTimeout):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Health reports liveness and the number of connected listeners.
func (a *API) Health(c *gin.Context) {
	now := a.now()
	c.JSON(http.StatusOK, HealthResponse{
		Status:               "OK",
		Uptime:               now.Sub(a.startedAt).Seconds(),
		ConnectedClients:     a.sessions.Count(),
		YouTubeAPIConfigured: a.searcher != nil && a.searcher.Configured(),
		Timestamp:            now.UTC().Format(time.RFC3339Nano),
	})
}

// State returns the current snapshot.
func (a *API) State(c *gin.Context) {
	s := a.engine.Snapshot()
	c.JSON(http.StatusOK, StateResponse{
		SyncState:         protocol.StateOf(s),
		EffectivePosition: clock.Reconcile(s.Position, s.IsPlaying, s.LastUpdate, a.now()),
	})
}

// Index describes the running service.
func (a *API) Index(c *gin.Context) {
	s := a.engine.Snapshot()
	current := "none"
	if t, ok := s.Current(); ok {
		current = t.Name + " - " + t.Artist
	}
	c.JSON(http.StatusOK, IndexResponse{
		Service:          "jukebox",
		Status:           "running",
		ConnectedClients: a.sessions.Count(),
		CurrentSong:      current,
		PlaylistLength:   len(s.Playlist),
		IsPlaying:        s.IsPlaying,
		Endpoints:        []string{"GET /health", "GET /state", "POST /search", "GET /ws", "GET /events"},
	})
}

// Events streams every broadcast as Server-Sent Events, starting with the
// current state.
func (a *API) Events(c *gin.Context) {
	var (
		first  protocol.Message
		events <-chan protocol.Message
		stop   func()
	)
	a.engine.Connect(func(snapshot protocol.Message) {
		first = snapshot
		events, stop = a.sessions.Watch()
	})
	if stop == nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	defer stop()

	c.SSEvent(string(first.Type), first)
	c.Writer.Flush()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case msg := <-events:
			c.SSEvent(string(msg.Type), msg)
			return true
		}
	})
}
