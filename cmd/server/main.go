// EVE Chart Bot - Killmail Ingestion and Reconciliation
// Copyright 2026 guarzo
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/guarzo/eve-chart-bot-sub002

// Package main is the entry point for the killmail ingestion server.
//
// The server turns zKillboard's push and pull feeds into a reconciled
// DuckDB store of killmails for a configured set of tracked characters.
//
// # Application Architecture
//
// Components initialize in the following order:
//
//  1. Configuration: environment variables and optional config file (Koanf v2)
//  2. Database: DuckDB storage with schema creation
//  3. Registry: in-memory snapshot of tracked characters
//  4. ESI client: rate-limited enrichment fetcher behind a circuit breaker
//  5. Pipeline: in-process event pipe with a single sequential consumer
//  6. Feeds: killstream WebSocket, periodic catch-up, optional backfill
//  7. HTTP server: health, metrics, and read-only query endpoints
//
// Everything after the database runs under a Suture v4 supervisor tree,
// grouped into three layers that restart independently:
//
//	data-layer:  registry refresh, pipeline consumer
//	feeds-layer: websocket feed, catch-up task, backfill pass
//	api-layer:   HTTP server
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins): environment variables, a config.yaml if present, then
// built-in defaults. At least one feed must be enabled:
//
//	export ZKILL_REALTIME_ENABLED=true
//	export ZKILL_CATCHUP_ENABLED=true
//	export DATABASE_PATH=/data/killmails.duckdb
//	./eve-chart-bot
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger graceful shutdown: feeds disconnect, the
// consumer drains, the HTTP server stops accepting connections, and the
// database closes last.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/guarzo/eve-chart-bot-sub002/internal/api"
	"github.com/guarzo/eve-chart-bot-sub002/internal/backfill"
	"github.com/guarzo/eve-chart-bot-sub002/internal/config"
	"github.com/guarzo/eve-chart-bot-sub002/internal/database"
	"github.com/guarzo/eve-chart-bot-sub002/internal/esi"
	"github.com/guarzo/eve-chart-bot-sub002/internal/logging"
	"github.com/guarzo/eve-chart-bot-sub002/internal/models"
	"github.com/guarzo/eve-chart-bot-sub002/internal/pipeline"
	"github.com/guarzo/eve-chart-bot-sub002/internal/reconcile"
	"github.com/guarzo/eve-chart-bot-sub002/internal/registry"
	"github.com/guarzo/eve-chart-bot-sub002/internal/supervisor"
	"github.com/guarzo/eve-chart-bot-sub002/internal/zkill"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Default logger; configured logging is not available yet.
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Bool("realtime", cfg.ZKill.RealtimeEnabled).
		Bool("catchup", cfg.ZKill.CatchupEnabled).
		Bool("backfill", cfg.Backfill.Enabled).
		Str("db_path", cfg.Database.Path).
		Msg("Configuration loaded")

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()
	logging.Info().Msg("Database initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracked-character registry. The initial load is fatal: without it
	// every inbound event would be filtered as irrelevant.
	reg := registry.New(db, cfg.Registry.RefreshInterval)
	if err := reg.Load(ctx); err != nil {
		logging.Fatal().Err(err).Msg("Failed to load tracked characters")
	}
	logging.Info().Int("tracked", reg.Len()).Msg("Tracked-character registry loaded")

	// ESI enrichment fetcher. The circuit breaker sits in front of the
	// rate-limited client so sustained outages shed load quickly.
	fetcher := esi.NewCircuitBreakerClient(esi.NewClient(&cfg.ESI))

	engine := reconcile.NewEngine(db, reg)

	pipe := pipeline.New(pipeline.Config{
		RetryAttempts:         cfg.Pipeline.RetryAttempts,
		RetryDelay:            cfg.Pipeline.RetryDelay,
		ThroughputLogInterval: cfg.Pipeline.ThroughputLogInterval,
	}, reg, fetcher, engine, db)
	defer func() {
		if err := pipe.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing pipeline")
		}
	}()

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())

	tree.AddDataService(&supervisor.Named{Name: "registry-refresh", Service: reg})
	tree.AddDataService(&supervisor.Named{Name: "pipeline-consumer", Service: pipe})

	if cfg.ZKill.RealtimeEnabled {
		ws := zkill.NewWebSocketClient(cfg.ZKill.WebSocketURL, cfg.ZKill.UserAgent)
		ws.SetOnKillmail(func(km *models.Killmail) {
			env := &pipeline.Envelope{Feed: pipeline.FeedWebsocket, Killmail: km}
			if err := pipe.Publish(ctx, env); err != nil {
				logging.Error().Err(err).
					Int64("killmail_id", km.KillmailID).
					Msg("Failed to publish websocket killmail")
			}
		})
		tree.AddFeedService(supervisor.NewFeedService("zkill-websocket", ws))
		logging.Info().Str("url", cfg.ZKill.WebSocketURL).Msg("Killstream feed enabled")
	}

	if cfg.ZKill.CatchupEnabled || cfg.Backfill.Enabled {
		history := zkill.NewHistoryClient(cfg.ZKill.APIURL, cfg.ZKill.UserAgent)

		if cfg.ZKill.CatchupEnabled {
			catchup := pipeline.NewCatchup(pipeline.CatchupConfig{
				Interval:  cfg.ZKill.CatchupInterval,
				PageLimit: cfg.ZKill.CatchupPageLimit,
				PageDelay: cfg.ZKill.PageDelay,
			}, history, reg, db, pipe)
			tree.AddFeedService(&supervisor.Named{Name: "zkill-catchup", Service: catchup})
			logging.Info().
				Dur("interval", cfg.ZKill.CatchupInterval).
				Msg("History catch-up enabled")
		}

		if cfg.Backfill.Enabled {
			tree.AddFeedService(&supervisor.Named{
				Name:    "backfill",
				Service: backfill.New(cfg.Backfill, history, reg, pipe),
			})
			logging.Info().Int("max_pages", cfg.Backfill.MaxPages).Msg("Startup backfill enabled")
		}
	}

	apiServer := api.NewServer(&cfg.Server, db)
	httpServer := apiServer.HTTPServer()
	tree.AddAPIService(supervisor.NewHTTPServerService(httpServer, supervisor.DefaultTreeConfig().ShutdownTimeout))
	logging.Info().Str("addr", httpServer.Addr).Msg("HTTP server added")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Stopped")
}
