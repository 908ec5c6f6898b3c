// Package server exposes persisted reports over a read-only JSON API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/3leaps/cadence/internal/server/handlers"
	"github.com/3leaps/cadence/internal/server/httperr"
	"github.com/3leaps/cadence/internal/server/middleware"
	"github.com/3leaps/cadence/pkg/provider"
)

// Server is the API server.
type Server struct {
	host string
	port int

	logger   *zap.Logger
	version  handlers.VersionInfo
	health   *handlers.HealthManager
	checkers map[string]handlers.HealthChecker
	reports  *handlers.Reports
	timeouts Timeouts

	store  provider.Store
	prefix string

	router chi.Router
}

// Timeouts bound the HTTP server.
type Timeouts struct {
	Read     time.Duration
	Write    time.Duration
	Idle     time.Duration
	Shutdown time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithVersion sets what /version and /health report.
func WithVersion(v handlers.VersionInfo) Option {
	return func(s *Server) { s.version = v }
}

// WithReports serves the artifacts in store under /v1.
func WithReports(store provider.Store, prefix string) Option {
	return func(s *Server) { s.store, s.prefix = store, prefix }
}

// WithChecker adds a health check.
func WithChecker(name string, c handlers.HealthChecker) Option {
	return func(s *Server) { s.checkers[name] = c }
}

// WithTimeouts sets the HTTP timeouts. Zero values keep the defaults.
func WithTimeouts(t Timeouts) Option {
	return func(s *Server) {
		if t.Read > 0 {
			s.timeouts.Read = t.Read
		}
		if t.Write > 0 {
			s.timeouts.Write = t.Write
		}
		if t.Idle > 0 {
			s.timeouts.Idle = t.Idle
		}
		if t.Shutdown > 0 {
			s.timeouts.Shutdown = t.Shutdown
		}
	}
}

// New returns a server for host:port.
func New(host string, port int, opts ...Option) *Server {
	s := &Server{
		host:     host,
		port:     port,
		logger:   zap.NewNop(),
		version:  handlers.VersionInfo{Version: "dev"},
		checkers: make(map[string]handlers.HealthChecker),
		timeouts: Timeouts{
			Read:     30 * time.Second,
			Write:    30 * time.Second,
			Idle:     120 * time.Second,
			Shutdown: 10 * time.Second,
		},
	}
	for _, o := range opts {
		o(s)
	}
	s.health = handlers.NewHealthManager(s.version.Version)
	for name, c := range s.checkers {
		s.health.RegisterChecker(name, c)
	}
	if s.store != nil {
		s.reports = handlers.NewReports(s.store, s.prefix, s.logger)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.AccessLog(s.logger))
	r.Use(middleware.RecoveryWithLogger(s.logger))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httperr.NotFound(w, r, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httperr.Write(w, r, http.StatusMethodNotAllowed, httperr.CodeMethodNotAllowed, "method not allowed", nil)
	})

	r.Get("/health", s.health.HealthHandler)
	r.Get("/health/live", s.health.LivenessHandler)
	r.Get("/health/ready", s.health.HealthHandler)
	r.Get("/version", handlers.VersionHandler(s.version))

	if s.reports != nil {
		s.reports.Mount(r)
	}
	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// Port returns the configured port.
func (s *Server) Port() int { return s.port }

// Addr returns host:port.
func (s *Server) Addr() string { return net.JoinHostPort(s.host, strconv.Itoa(s.port)) }

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.timeouts.Read,
		WriteTimeout: s.timeouts.Write,
		IdleTimeout:  s.timeouts.Idle,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve %s: %w", srv.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.timeouts.Shutdown)
	defer cancel()
	s.logger.Info("server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
