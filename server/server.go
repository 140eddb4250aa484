// Package server provides the daemon's HTTP surface: a health check, a
// consolidated status endpoint for dashboards, a manual refresh hook, and
// optionally the Prometheus scrape endpoint.
//
// # Endpoints
//
//   - GET /health - simple health check, returns "ok"
//   - GET /api/status - consolidated burst state, tasks, and outstanding surveys
//   - POST /refresh - trigger an immediate snapshot refresh
//   - GET /metrics - Prometheus scrape endpoint (when configured)
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sagebionetworks/burstd/server/handlers"
)

const (
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultShutdownTimeout = 5 * time.Second
)

// Provider bundles everything the endpoints report on.
type Provider interface {
	handlers.BurstProvider
	handlers.Refresher
}

// Server is the daemon's HTTP server.
type Server struct {
	addr           string
	logger         *slog.Logger
	provider       Provider
	nextRun        handlers.NextRunFunc
	metricsHandler http.Handler
	httpServer     *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithNextRun reports the next scheduled refresh on the status endpoint.
func WithNextRun(fn handlers.NextRunFunc) Option {
	return func(s *Server) { s.nextRun = fn }
}

// WithMetricsHandler exposes the given handler on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// New creates a Server listening on addr.
func New(addr string, provider Provider, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		addr:     addr,
		logger:   logger.With("component", "server"),
		provider: provider,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run starts the HTTP server and blocks until the context is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      mux,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "addr", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("listening on %s: %w", s.addr, err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", handlers.HandleHealth)
	mux.HandleFunc("GET /version", handlers.HandleVersion)
	mux.Handle("GET /api/status", handlers.NewStatusHandler(s.provider, s.nextRun))
	mux.Handle("POST /refresh", handlers.NewRefreshHandler(s.logger, s.provider))
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}
}
