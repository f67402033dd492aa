// Package core provides the API chassis for the maintdesk PM engine. It
// creates a chi router and enforces cross-cutting concerns (panic recovery,
// request correlation, logging, timeouts) before requests reach the
// domain-specific handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"maintdesk/internal/config"
)

// defaultRequestTimeout is the soft deadline applied to request contexts when
// the config does not specify one. Synchronous generation passes run within
// this budget; larger fleets should use the async trigger instead.
const defaultRequestTimeout = 25 * time.Second

// V1RouteRegistrar registers a group of domain handler routes under /v1.
// The indirection avoids import cycles between core and handler packages.
type V1RouteRegistrar func(r chi.Router)

// Server encapsulates the API dependencies, allowing injection during testing
// and distinct configuration for different environments.
type Server struct {
	Config *config.Config
	Logger *slog.Logger

	// V1RouteRegistrars is populated by the application entry point before
	// MountRoutes is called.
	V1RouteRegistrars []V1RouteRegistrar

	// HealthProbes are checked concurrently by the /health endpoint.
	HealthProbes []HealthProbe

	// Closers are shut down in order during Shutdown (e.g., the pgx pool).
	Closers []func()

	router *chi.Mux
}

// NewServer initializes the router and prepares the server for route
// mounting. The caller mounts routes via MountRoutes after registering
// route registrars and probes.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config: cfg,
		Logger: logger,
		router: chi.NewRouter(),
	}, nil
}

// Handler returns the http.Handler for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration in tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// MountRoutes registers the global middleware chain, the /v1 handler groups,
// and the health endpoint. Middleware order matters: Recoverer outermost,
// then timeout, request ID, and logging.
func (s *Server) MountRoutes() {
	s.router.Use(s.Recoverer)
	s.router.Use(ContextTimeoutMiddleware(s.requestTimeout()))
	s.router.Use(RequestIDMiddleware)
	s.router.Use(RequestLogger(s.Logger, defaultRedactedHeaders))

	s.router.Route("/v1", func(r chi.Router) {
		for _, registrar := range s.V1RouteRegistrars {
			registrar(r)
		}
	})

	s.router.Get("/health", s.HandleHealth)
}

// requestTimeout returns the configured request timeout, falling back to the
// default when unset.
func (s *Server) requestTimeout() time.Duration {
	if s.Config != nil && s.Config.Server.RequestTimeout > 0 {
		return s.Config.Server.RequestTimeout
	}
	return defaultRequestTimeout
}

// Shutdown performs a graceful termination of server resources.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")

	for _, closer := range s.Closers {
		closer()
	}

	s.Logger.Info("server shutdown complete")
	return nil
}
