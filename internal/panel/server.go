// Package panel exposes a read-only HTTP status surface for the workflow
// engine: JSON endpoints over the query API plus a Server-Sent Events stream
// fed by the lifecycle event bus. Mutations go through the MCP tools; the
// panel only observes.
package panel

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/buffrsign/engine/internal/engine"
	"github.com/buffrsign/engine/internal/scheduler"
)

// Deps holds the dependencies for the panel server.
type Deps struct {
	Engine    *engine.Engine
	Scheduler *scheduler.Scheduler // optional
	Logger    *slog.Logger
}

// Server serves the status panel.
type Server struct {
	deps Deps
	http *http.Server
}

// NewServer creates a panel server listening on addr.
func NewServer(addr string, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	s := &Server{deps: deps}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler for the panel routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/workflows", s.handleWorkflows)
	mux.HandleFunc("GET /api/workflows/{id}", s.handleWorkflowDetail)
	mux.HandleFunc("GET /api/workflows/{id}/history", s.handleWorkflowHistory)
	mux.HandleFunc("GET /api/workflows/{id}/errors", s.handleWorkflowErrors)
	mux.HandleFunc("GET /api/workflows/{id}/events", s.handleWorkflowEvents)
	mux.HandleFunc("GET /api/scheduler", s.handleSchedulerJobs)

	mux.HandleFunc("GET /sse/events", s.handleSSEGlobal)
	mux.HandleFunc("GET /sse/workflows/{id}", s.handleSSEWorkflow)

	return mux
}

// Start begins serving in a background goroutine until ctx is cancelled.
func (s *Server) Start(ctx context.Context) {
	go func() {
		s.deps.Logger.Info("status panel listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.deps.Logger.Error("panel server error", "error", err.Error())
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.http.Shutdown(shutdownCtx)
	}()
}
