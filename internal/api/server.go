//
//
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/radio-control/tracker/internal/auth"
)

// Server represents the HTTP API server.
type Server struct {
	httpServer     *http.Server
	router         *mux.Router
	telemetryHub   TelemetryPort
	orchestrator   OrchestratorPort
	position       PositionPort
	authMiddleware *auth.Middleware
	startTime      time.Time
	readTimeout    time.Duration
	writeTimeout   time.Duration
	idleTimeout    time.Duration
}

// Options are the optional collaborators and timeouts of a Server.
type Options struct {
	Auth         *auth.Middleware
	Position     PositionPort
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// NewServer creates a new API server. A nil opts.Auth serves every route
// unauthenticated.
func NewServer(telemetryHub TelemetryPort, orchestrator OrchestratorPort, opts Options) *Server {
	s := &Server{
		telemetryHub:   telemetryHub,
		orchestrator:   orchestrator,
		position:       opts.Position,
		authMiddleware: opts.Auth,
		startTime:      time.Now(),
		readTimeout:    opts.ReadTimeout,
		writeTimeout:   opts.WriteTimeout,
		idleTimeout:    opts.IdleTimeout,
	}
	s.router = mux.NewRouter()
	s.RegisterRoutes(s.router)
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves on addr until Stop.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
		IdleTimeout:  s.idleTimeout,
	}

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}
