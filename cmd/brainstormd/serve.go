package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/crowdthink/brainstorm/internal/config"
	"github.com/crowdthink/brainstorm/internal/orchestrator"
	"github.com/crowdthink/brainstorm/internal/provider"
	"github.com/crowdthink/brainstorm/internal/server"
	"github.com/crowdthink/brainstorm/internal/storage"
	"github.com/crowdthink/brainstorm/internal/storage/memory"
	"github.com/crowdthink/brainstorm/internal/storage/sqlite"
	"github.com/crowdthink/brainstorm/internal/stream"
	"github.com/crowdthink/brainstorm/internal/telemetry"
)

const shutdownTimeout = 30 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the session engine HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	shutdownTracer, err := telemetry.InitTracer("brainstorm", logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	registry := provider.NewRegistry()
	for _, pc := range cfg.Providers {
		p, err := provider.Build(provider.Config{
			Role:    pc.Role,
			Type:    pc.Type,
			APIKey:  pc.APIKey,
			BaseURL: pc.BaseURL,
		})
		if err != nil {
			return fmt.Errorf("failed to build provider: %w", err)
		}
		registry.Register(pc.Role, p)
		logger.Info("provider registered",
			slog.String("role", pc.Role), slog.String("type", pc.Type))
	}

	opts := []orchestrator.Option{
		orchestrator.WithLogger(logger),
		orchestrator.WithHistoryBudget(cfg.Engine.HistoryBudget),
	}
	if cfg.Engine.CallTimeout != "" {
		d, err := time.ParseDuration(cfg.Engine.CallTimeout)
		if err != nil {
			return fmt.Errorf("invalid call_timeout: %w", err)
		}
		opts = append(opts, orchestrator.WithCallTimeout(d))
	}

	hub := stream.NewHub()
	engine := orchestrator.New(store, registry, hub, opts...)
	srv := server.New(cfg.Server.Port, logger, engine, hub)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.String("error", err.Error()))
	}
	// in-flight rounds finish and persist before the store closes
	if err := engine.Drain(shutdownCtx); err != nil {
		logger.Error("rounds did not drain in time", slog.String("error", err.Error()))
		return err
	}

	logger.Info("shutdown complete")
	return nil
}

func openStore(cfg *config.Config, logger *slog.Logger) (storage.SessionStore, error) {
	switch cfg.Storage.Type {
	case "sqlite":
		store, err := sqlite.New(cfg.Storage.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		logger.Info("sqlite storage enabled", slog.String("path", cfg.Storage.SQLite.Path))
		return store, nil
	case "memory", "":
		logger.Info("in-memory storage enabled; transcripts will not survive restarts")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}
}
