// Package server assembles the HTTP API.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/rumor-ml/commons.systems/tradesync/internal/handlers"
	"github.com/rumor-ml/commons.systems/tradesync/internal/middleware"
	"github.com/rumor-ml/commons.systems/tradesync/internal/pipeline"
	"github.com/rumor-ml/commons.systems/tradesync/internal/streaming"
)

// Options configures a Server. Runner is required. Without Verifier the API
// is unauthenticated; without History the /api/runs routes are absent.
type Options struct {
	Runner   *pipeline.Runner
	History  handlers.RunHistory
	Verifier middleware.TokenVerifier
	Logger   *slog.Logger
}

// Server represents the sync API server
type Server struct {
	mux  *http.ServeMux
	sync *handlers.SyncHandlers
	opts Options
}

// New creates a server. Runs it starts are cancelled when ctx is.
func New(ctx context.Context, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	hub := streaming.NewStreamHub()
	s := &Server{
		mux:  http.NewServeMux(),
		sync: handlers.NewSyncHandlers(ctx, opts.Runner, hub, opts.Logger),
		opts: opts,
	}
	opts.Runner.Observer = s.sync
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	// Health check (no auth required)
	s.mux.HandleFunc("GET /health", handlers.HealthCheck)

	protect := func(h http.HandlerFunc) http.Handler { return h }
	if s.opts.Verifier != nil {
		auth := middleware.NewAuthMiddleware(s.opts.Verifier)
		protect = func(h http.HandlerFunc) http.Handler { return auth.RequireAuth(h) }
	}

	s.mux.Handle("POST /api/sync", protect(s.sync.StartSync))
	s.mux.Handle("GET /api/sync/{id}", protect(s.sync.GetSync))
	s.mux.Handle("GET /api/sync/{id}/events", protect(s.sync.StreamSync))
	s.mux.Handle("POST /api/dashboard", protect(s.sync.RefreshDashboard))

	if s.opts.History != nil {
		runs := handlers.NewRunsHandler(s.opts.History, s.opts.Logger)
		s.mux.Handle("GET /api/runs", protect(runs.ListRuns))
		s.mux.Handle("GET /api/runs/{id}", protect(runs.GetRun))
	}
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return middleware.Chain(s.mux, middleware.Recovery, middleware.Logger)
}

// Wait blocks until runs started through the API have finished.
func (s *Server) Wait() {
	s.sync.Wait()
}
