// Outpost - Offline-First Record Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/outpost

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/outpost/internal/api"
	"github.com/tomtom215/outpost/internal/config"
	"github.com/tomtom215/outpost/internal/connectivity"
	"github.com/tomtom215/outpost/internal/engine"
	"github.com/tomtom215/outpost/internal/events"
	"github.com/tomtom215/outpost/internal/logging"
	"github.com/tomtom215/outpost/internal/ops"
	"github.com/tomtom215/outpost/internal/store"
	"github.com/tomtom215/outpost/internal/supervisor"
	"github.com/tomtom215/outpost/internal/supervisor/services"
	ws "github.com/tomtom215/outpost/internal/websocket"
)

//nolint:gocyclo // Main initialization function with sequential setup steps
func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if len(os.Args) > 1 && os.Args[1] == "serve-remote" {
		if err := serveRemote(ctx, cfg); err != nil {
			logging.Fatal().Err(err).Msg("Remote server failed")
		}
		return
	}

	logging.Info().
		Str("store_path", cfg.Store.Path).
		Bool("in_memory", cfg.Store.InMemory).
		Str("remote_mode", cfg.Remote.Mode).
		Msg("Starting Outpost with supervisor tree")

	db, err := store.Open(storeConfig(cfg.Store))
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open store")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing store")
		}
	}()

	client, breaker, err := buildRemote(cfg)
	if err != nil {
		_ = db.Close()
		logging.Fatal().Err(err).Msg("Failed to create remote client")
	}

	var prober connectivity.Prober
	if cfg.Connectivity.ProbeURL != "" {
		prober = connectivity.NewHTTPProber(cfg.Connectivity.ProbeURL)
	} else {
		logging.Info().Msg("No probe URL configured, connectivity is driven by explicit reports")
	}
	monitor := connectivity.NewMonitor(connectivity.Config{
		ProbeInterval: cfg.Connectivity.ProbeInterval,
		ProbeTimeout:  cfg.Connectivity.ProbeTimeout,
		Debounce:      cfg.Connectivity.Debounce,
		InitialOnline: cfg.Connectivity.AssumeOnline,
	}, prober)

	bus := events.NewBus(events.DefaultConfig())
	defer bus.Close()

	eng, err := engine.New(engine.Config{
		BatchSize:    cfg.Engine.BatchSize,
		BackoffBase:  cfg.Engine.BackoffBase,
		BackoffMax:   cfg.Engine.BackoffMax,
		Coalesce:     cfg.Engine.Coalesce,
		DrainOnStart: cfg.Engine.DrainOnStart,
	}, db, client, engine.WithPublisher(bus), engine.WithMonitor(monitor))
	if err != nil {
		_ = db.Close()
		logging.Fatal().Err(err).Msg("Failed to create sync engine")
	}

	svc := ops.New(db, client, monitor, ops.WithTrigger(eng.Trigger))

	hub := ws.NewHub()
	bridge := ws.NewBridge(hub, bus, eng, time.Second)

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		FailureThreshold: 5,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		_ = db.Close()
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	tree.AddDataService(services.NewCompactorService(store.NewCompactor(db)))

	tree.AddSyncService(services.NewRunnerService("connectivity-monitor", monitor.Run))
	tree.AddSyncService(services.NewRunnerService("sync-engine", eng.Run))
	tree.AddSyncService(services.NewRunnerService("websocket-hub", hub.RunWithContext))
	tree.AddSyncService(services.NewRunnerService("outcome-bridge", bridge.Serve))

	if cfg.Server.Enabled {
		deps := api.Dependencies{
			Ops:            svc,
			Engine:         eng,
			Store:          db,
			Monitor:        monitor,
			Hub:            hub,
			AllowedOrigins: cfg.Server.CORSOrigins,
		}
		if breaker != nil {
			deps.Breaker = breaker
		}

		mwConfig := api.DefaultChiMiddlewareConfig()
		mwConfig.CORSAllowedOrigins = cfg.Server.CORSOrigins
		mwConfig.RateLimitRequests = cfg.Server.RateLimit
		mwConfig.RateLimitWindow = cfg.Server.RateLimitWindow

		router := api.NewRouter(api.NewHandler(deps), api.NewChiMiddleware(mwConfig))
		server := &http.Server{
			Handler:           router.Setup(),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       2 * time.Minute,
		}
		tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.Addr(), cfg.Server.ShutdownTimeout))
		logging.Info().Str("addr", cfg.Server.Addr()).Msg("Local API enabled")
	} else {
		logging.Info().Msg("Local API disabled (OUTPOST_SERVER_ENABLED=false)")
	}

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	var runErr error
	select {
	case <-ctx.Done():
		logging.Info().Msg("Shutdown signal received, waiting for supervisor to finish...")
		runErr = <-errCh
	case runErr = <-errCh:
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logging.Error().Err(runErr).Msg("Supervisor tree error")
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, u := range unstopped {
		logging.Warn().Str("service", u.Name).Msg("Service failed to stop")
	}

	logging.Info().Msg("Outpost stopped gracefully")
}
