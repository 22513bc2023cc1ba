// Package server exposes the playback engine to listeners over WebSocket,
// Server-Sent Events and a small JSON API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"jukebox/internal/engine"
	"jukebox/internal/logging"
	"jukebox/internal/platform"
	"jukebox/internal/playback"
)

// shutdownTimeout bounds how long in-flight requests get on shutdown.
const shutdownTimeout = 5 * time.Second

// Options configures a Server.
type Options struct {
	Addr           string
	AllowedOrigins []string
	Engine         engine.Config
	Seed           []playback.Track
	Searcher       platform.Searcher // nil disables search
}

// Server wires the engine, sessions and HTTP routes together.
type Server struct {
	opts     Options
	engine   *engine.Engine
	sessions *SessionManager
	handler  http.Handler
	log      zerolog.Logger
}

// New creates a server. It does not start listening.
func New(opts Options, log zerolog.Logger) *Server {
	sessions := NewSessionManager(logging.Component(log, "sessions"))
	eng := engine.New(opts.Engine, opts.Seed, sessions, logging.Component(log, "engine"))

	api := NewAPI(eng, sessions, opts.Searcher, logging.Component(log, "api"))
	ws := NewSocketServer(eng, sessions, opts.AllowedOrigins, logging.Component(log, "socket"))

	return &Server{
		opts:     opts,
		engine:   eng,
		sessions: sessions,
		handler:  SetupRouter(api, ws, opts.AllowedOrigins, logging.Component(log, "http")),
		log:      log,
	}
}

// Engine returns the playback engine.
func (s *Server) Engine() *engine.Engine { return s.engine }

// Sessions returns the session manager.
func (s *Server) Sessions() *SessionManager { return s.sessions }

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler { return s.handler }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.engine.Run(ctx)
	})

	g.Go(func() error {
		s.log.Info().Str("addr", s.opts.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		s.log.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Hijacked WebSocket connections are not tracked by Shutdown.
		s.sessions.CloseAll()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
