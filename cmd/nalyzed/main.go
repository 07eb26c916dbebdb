// Command nalyzed is Nalyze's process entry point: it loads
// configuration from the environment, wires every collaborator
// (registry, report store, query executor, router, conversation
// manager, AI client, tracing, metrics), and serves the HTTP surface
// until an OS signal requests shutdown.
//
// Grounded on CrlsMrls-dummybox/server/server.go's Start method for the
// signal-notify-then-graceful-shutdown sequence, adapted to also flush
// the tracer provider on the way down.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/nalyze/nalyze/internal/aiclient"
	"github.com/nalyze/nalyze/internal/config"
	"github.com/nalyze/nalyze/internal/conversation"
	"github.com/nalyze/nalyze/internal/httpapi"
	"github.com/nalyze/nalyze/internal/logging"
	"github.com/nalyze/nalyze/internal/metrics"
	"github.com/nalyze/nalyze/internal/registry"
	"github.com/nalyze/nalyze/internal/reportstore"
	"github.com/nalyze/nalyze/internal/router"
	"github.com/nalyze/nalyze/internal/sqlexec"
	"github.com/nalyze/nalyze/internal/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("loading configuration: %v", err)
	}

	logging.Init(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	logger := logging.WithComponent(context.Background(), "nalyzed")
	logger.Info().Str("config", cfg.String()).Msg("starting nalyzed")

	tp, err := tracing.Setup("nalyze")
	if err != nil {
		logger.Fatal().Err(err).Msg("setting up tracing")
	}

	reg, err := registry.Open(cfg.AppDataDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("opening dataset registry")
	}

	reports, err := reportstore.Open(cfg.AppDataDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("opening report store")
	}

	exec := sqlexec.NewManager(cfg.Executor.QueryTimeout, cfg.Executor.QueryTimeoutCeiling, cfg.Executor.LExec)

	var ai aiclient.Client = aiclient.NullClient{}
	if cfg.AIConfigured() {
		ai = aiclient.New(cfg.AIAPIKey(), cfg.AIBaseURL, cfg.AIModel)
	}

	conv := conversation.NewManager(router.New(), ai)
	met := metrics.Init()

	srv := httpapi.New(cfg, reg, reports, exec, conv, ai, met)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info().Int("port", cfg.HTTP.Port).Msg("listening")
	if err := srv.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("server exited with error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutting down tracer provider")
	}

	logger.Info().Msg("nalyzed stopped")
}
