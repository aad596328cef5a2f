package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/relayline/relayline/internal/agent"
	"github.com/relayline/relayline/internal/config"
	"github.com/relayline/relayline/internal/httpapi"
	"github.com/relayline/relayline/internal/observability"
	"github.com/relayline/relayline/internal/relay"
	"github.com/relayline/relayline/internal/store"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true}).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config error")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(level)
	} else {
		logger.Warn().Str("level", cfg.LogLevel).Msg("unknown log level, keeping default")
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	snapshots, err := store.NewStore(ctx, cfg.DatabaseURL, cfg.SnapshotTTL)
	if err != nil {
		logger.Fatal().Err(err).Msg("snapshot store init failed")
	}
	defer snapshots.Close()

	factory, err := agent.NewFactory(agent.Config{
		Mode:    cfg.AgentAdapterMode,
		HTTPURL: cfg.AgentHTTPURL,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("agent adapter init failed")
	}

	registry := relay.NewRegistry()
	engine := relay.NewEngine(cfg, registry, snapshots, factory, metrics, logger)

	api := httpapi.New(cfg, engine, registry, metrics, logger)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	if mem, ok := snapshots.(*store.InMemoryStore); ok {
		mem.StartJanitor(runCtx, time.Minute)
	}

	go func() {
		logger.Info().Str("addr", cfg.BindAddr).Msg("server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("listen error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info().Msg("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("graceful shutdown failed")
		_ = httpServer.Close()
	}

	// Persist live threads so a quick restart can resume calls inside the TTL.
	engine.Shutdown(shutdownCtx)

	logger.Info().Msg("shutdown complete")
}
