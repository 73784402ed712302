// Package server exposes the session API and the SSE stream over HTTP.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/crowdthink/brainstorm/internal/orchestrator"
	"github.com/crowdthink/brainstorm/internal/stream"
)

const apiTimeout = 30 * time.Second

type Server struct {
	Router *chi.Mux
	Port   int

	logger *slog.Logger
	httpd  *http.Server
}

// New builds the router. The stream endpoint lives outside the timeout
// middleware since an SSE connection is expected to outlive any API deadline.
func New(port int, logger *slog.Logger, engine *orchestrator.Engine, hub *stream.Hub) *Server {
	h := &handlers{engine: engine, hub: hub, logger: logger}

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(PrincipalMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "brainstorm")
	})

	r.Group(func(r chi.Router) {
		r.Use(TimeoutMiddleware(apiTimeout))

		r.Get("/healthz", h.health)
		r.Route("/v1/sessions", func(r chi.Router) {
			r.Post("/", h.createSession)
			r.Get("/", h.listSessions)
			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", h.getSession)
				r.Delete("/", h.deleteSession)
				r.Post("/messages", h.submitMessage)
				r.Post("/continue", h.continueDiscussion)
				r.Post("/pause", h.pause)
				r.Post("/resume", h.resume)
				r.Post("/stop", h.stop)
				r.Post("/retry", h.retry)
			})
		})
	})

	r.Get("/v1/sessions/{sessionID}/stream", h.streamSession)

	return &Server{
		Router: r,
		Port:   port,
		logger: logger,
	}
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.httpd = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.Port),
		Handler: s.Router,
	}
	s.logger.Info("starting server", slog.Int("port", s.Port))
	if err := s.httpd.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpd == nil {
		return nil
	}
	return s.httpd.Shutdown(ctx)
}
