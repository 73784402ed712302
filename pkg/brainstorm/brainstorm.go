// Package brainstorm provides the public API for embedding the session
// engine in another process, without running the brainstormd binary.
package brainstorm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/crowdthink/brainstorm/internal/orchestrator"
	"github.com/crowdthink/brainstorm/internal/provider"
	"github.com/crowdthink/brainstorm/internal/server"
	"github.com/crowdthink/brainstorm/internal/storage"
	"github.com/crowdthink/brainstorm/internal/storage/memory"
	"github.com/crowdthink/brainstorm/internal/storage/sqlite"
	"github.com/crowdthink/brainstorm/internal/stream"
)

// Engine is the orchestration entry point.
// See internal/orchestrator.Engine for full documentation.
type Engine = orchestrator.Engine

// Hub is the in-process event fan-out subscribers attach to.
type Hub = stream.Hub

// Option configures a Service.
type Option func(*settings) error

type settings struct {
	port       int
	logger     *slog.Logger
	store      storage.SessionStore
	providers  []provider.Config
	engineOpts []orchestrator.Option
}

// WithPort sets the HTTP listen port. Default 8080.
func WithPort(port int) Option {
	return func(s *settings) error {
		s.port = port
		return nil
	}
}

// WithLogger sets the logger for the engine and server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) error {
		s.logger = logger
		return nil
	}
}

// WithSQLite persists sessions in a SQLite database at path.
func WithSQLite(path string) Option {
	return func(s *settings) error {
		store, err := sqlite.New(path)
		if err != nil {
			return fmt.Errorf("failed to open sqlite store: %w", err)
		}
		s.store = store
		return nil
	}
}

// WithMemoryStore keeps sessions in memory. This is the default.
func WithMemoryStore() Option {
	return func(s *settings) error {
		s.store = memory.New()
		return nil
	}
}

// WithStore supplies a custom SessionStore implementation.
func WithStore(store storage.SessionStore) Option {
	return func(s *settings) error {
		s.store = store
		return nil
	}
}

// WithProvider binds a speaker role to a backend adapter.
func WithProvider(role, providerType, apiKey string) Option {
	return func(s *settings) error {
		s.providers = append(s.providers, provider.Config{
			Role: role, Type: providerType, APIKey: apiKey,
		})
		return nil
	}
}

// WithCallTimeout sets the per-adapter-call deadline.
func WithCallTimeout(d time.Duration) Option {
	return func(s *settings) error {
		s.engineOpts = append(s.engineOpts, orchestrator.WithCallTimeout(d))
		return nil
	}
}

// Service bundles the engine, the stream hub, and the HTTP server.
type Service struct {
	Engine *Engine
	Hub    *Hub

	srv   *server.Server
	store storage.SessionStore
}

// New assembles a Service.
func New(opts ...Option) (*Service, error) {
	s := &settings{
		port:   8080,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.store == nil {
		s.store = memory.New()
	}

	registry := provider.NewRegistry()
	for _, pc := range s.providers {
		p, err := provider.Build(pc)
		if err != nil {
			return nil, err
		}
		registry.Register(pc.Role, p)
	}

	engineOpts := append([]orchestrator.Option{orchestrator.WithLogger(s.logger)}, s.engineOpts...)
	hub := stream.NewHub()
	engine := orchestrator.New(s.store, registry, hub, engineOpts...)

	return &Service{
		Engine: engine,
		Hub:    hub,
		srv:    server.New(s.port, s.logger, engine, hub),
		store:  s.store,
	}, nil
}

// Start serves HTTP until Shutdown is called.
func (s *Service) Start() error {
	return s.srv.Start()
}

// Shutdown stops the server, drains in-flight rounds, and closes the store.
func (s *Service) Shutdown(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		return err
	}
	if err := s.Engine.Drain(ctx); err != nil {
		return err
	}
	return s.store.Close()
}
