// Chronocache - Multi-Tier Cache for Time-Series Analytics Aggregates
// Copyright 2026 J. Ostrander (jostrander)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jostrander/chronocache

// Package main is the entry point for the chronocached daemon.
//
// Chronocache is a multi-tier cache for expensive per-day, per-week and
// per-month statistical aggregates over a time-series dataset. The
// daemon wires the cache packages together, keeps the persistent tiers
// warm across restarts, applies invalidation from the data mutation
// pipeline, and serves diagnostics over HTTP.
//
// # Application Architecture
//
// The daemon initializes components in the following order:
//
//  1. Configuration: layered load from defaults, YAML file and env vars (Koanf v2)
//  2. Tiers: L1 memory LRU, L2 DuckDB structured store, L3 BadgerDB blob store
//  3. Orchestrator: tier chain, single-flight compute dedup, write-through
//  4. Invalidation controller: mutation events -> pattern purges with retry
//  5. Event bus (optional): in-process watermill bridge for importers
//  6. Refresh scheduler: warms popular soon-to-expire entries
//  7. HTTP server: diagnostics API and Prometheus exposition
//
// Long-running services run under a suture v4 supervisor tree, split
// into cache, events and API layers so a crashing background loop
// cannot take the HTTP server down with it.
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins): environment variables, a config file (config.yaml),
// then built-in defaults. CONFIG_PATH overrides the file search path.
//
// Common settings:
//   - DUCKDB_PATH: L2 database file (default /data/chronocache.duckdb)
//   - BLOB_PATH: L3 BadgerDB directory (default /data/chronocache-blob)
//   - SERVER_PORT: diagnostics listen port (default 3600)
//   - LOG_LEVEL, LOG_FORMAT: zerolog level and json/console output
//
// # Signal Handling
//
// The daemon shuts down gracefully on SIGINT and SIGTERM: the HTTP
// server drains in-flight requests, background loops stop, and the
// tiers are closed back to front so the persistent stores flush
// cleanly.
//
// # Example Usage
//
// Local development with everything in the working directory:
//
//	export DUCKDB_PATH=./chronocache.duckdb
//	export BLOB_PATH=./chronocache-blob
//	export LOG_FORMAT=console
//	./chronocached
//
// # Port 3600
//
// The default port 3600 is the number of seconds in an hour, a nod to
// the time-bucketed aggregates the cache exists to serve.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jostrander/chronocache/internal/api"
	"github.com/jostrander/chronocache/internal/cachekey"
	"github.com/jostrander/chronocache/internal/config"
	"github.com/jostrander/chronocache/internal/events"
	"github.com/jostrander/chronocache/internal/invalidation"
	"github.com/jostrander/chronocache/internal/logging"
	"github.com/jostrander/chronocache/internal/metrics"
	"github.com/jostrander/chronocache/internal/orchestrator"
	"github.com/jostrander/chronocache/internal/refresh"
	"github.com/jostrander/chronocache/internal/supervisor"
	"github.com/jostrander/chronocache/internal/supervisor/services"
	"github.com/jostrander/chronocache/internal/tier"
)

func main() {
	// Load configuration first to get logging settings.
	cfg, err := config.Load()
	if err != nil {
		// Use the default logger for config errors (config not yet available).
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
	})

	logging.Info().
		Str("structured_path", cfg.Structured.Path).
		Str("blob_path", cfg.Blob.Path).
		Str("listen", cfg.Server.Addr()).
		Bool("events", cfg.Events.Enabled).
		Bool("refresh", cfg.Refresh.Enabled).
		Msg("Starting chronocached")

	collector := metrics.NewCollector(metrics.CollectorConfig{
		Window:     cfg.Metrics.Window,
		Buckets:    cfg.Metrics.Buckets,
		MaxClasses: cfg.Metrics.MaxClasses,
	})
	defer collector.Close()

	// Tiers, fastest first. The orchestrator owns them after New and
	// closes all three on Close.
	memory := tier.NewMemory(cfg.Memory.MaxEntries, cfg.Memory.MaxBytes)

	structured, err := tier.NewStructured(tier.StructuredConfig{
		Path:          cfg.Structured.Path,
		Threads:       cfg.Structured.Threads,
		MaxMemory:     cfg.Structured.MaxMemory,
		SweepInterval: cfg.Structured.SweepInterval,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open structured tier")
	}

	blob, err := tier.NewBlob(tier.BlobConfig{
		Path:             cfg.Blob.Path,
		InMemory:         cfg.Blob.InMemory,
		SyncWrites:       cfg.Blob.SyncWrites,
		Compression:      cfg.Blob.Compression,
		GCInterval:       cfg.Blob.GCInterval,
		GCRatio:          cfg.Blob.GCRatio,
		ValueLogFileSize: cfg.Blob.ValueLogFileSize,
	})
	if err != nil {
		// Close what is already open before exiting; Fatal skips defers.
		if closeErr := structured.Close(); closeErr != nil {
			logging.Error().Err(closeErr).Msg("Error closing structured tier")
		}
		logging.Fatal().Err(err).Msg("Failed to open blob tier")
	}

	orch, err := orchestrator.New(orchestrator.Config{
		TTLDay:                  cfg.Cache.TTLDay,
		TTLWeek:                 cfg.Cache.TTLWeek,
		TTLMonth:                cfg.Cache.TTLMonth,
		BlobCeilingBytes:        cfg.Cache.BlobCeilingBytes,
		BreakerFailureThreshold: cfg.Cache.BreakerFailureThreshold,
		BreakerOpenTimeout:      cfg.Cache.BreakerOpenTimeout,
	}, memory, structured, blob, collector)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create orchestrator")
	}
	defer func() {
		if err := orch.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing orchestrator")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// L2 survives restarts; promote its hottest rows into L1 so the
	// first dashboards after a deploy hit memory.
	if cfg.Cache.PrimeCount > 0 {
		primed, err := orch.PrimeFromStructured(ctx, cfg.Cache.PrimeCount)
		if err != nil {
			logging.Warn().Err(err).Msg("Failed to prime memory tier from structured tier")
		} else if primed > 0 {
			logging.Info().Int("entries", primed).Msg("Primed memory tier from structured tier")
		}
	}

	controller := invalidation.NewController(orch, collector, invalidation.Config{
		RetryInterval: cfg.Invalidation.RetryInterval,
		RetryBackoff:  cfg.Invalidation.RetryBackoff,
		MaxRetries:    cfg.Invalidation.MaxRetries,
		MaxPending:    cfg.Invalidation.MaxPending,
	})

	// Optional in-process bridge for importers that publish mutation
	// events instead of calling the controller directly.
	var bus *events.Bus
	if cfg.Events.Enabled {
		bus, err = events.NewBus(controller, events.BusConfig{
			BufferSize:           cfg.Events.BufferSize,
			CloseTimeout:         cfg.Events.CloseTimeout,
			RetryMaxRetries:      cfg.Events.RetryMaxRetries,
			RetryInitialInterval: cfg.Events.RetryInitialInterval,
			RetryMaxInterval:     cfg.Events.RetryMaxInterval,
			RetryMultiplier:      cfg.Events.RetryMultiplier,
		})
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to create event bus")
		}
	} else {
		logging.Info().Msg("Mutation event bus disabled")
	}

	// The daemon holds no compute callbacks of its own; those live in
	// the application embedding this cache. With a declining provider
	// the scheduler tracks candidates but lets them expire, and an
	// embedding application swaps in its real provider here.
	scheduler := refresh.NewScheduler(structured, orch,
		func(cachekey.Key) (orchestrator.ComputeFunc, bool) { return nil, false },
		collector, refresh.Config{
			Enabled:        cfg.Refresh.Enabled,
			Interval:       cfg.Refresh.Interval,
			LowWater:       cfg.Refresh.LowWater,
			ScanLimit:      cfg.Refresh.ScanLimit,
			MinAccessRate:  cfg.Refresh.MinAccessRate,
			MaxConcurrent:  cfg.Refresh.MaxConcurrent,
			WarmsPerSecond: cfg.Refresh.WarmsPerSecond,
			WarmTimeout:    cfg.Refresh.WarmTimeout,
		})

	// A mutation observed mid-pass aborts overlapping warm jobs so a
	// stale recompute cannot race its own invalidation.
	controller.Subscribe(func(n invalidation.Notice) {
		if aborted := scheduler.AbortMatching(n.Pattern); aborted > 0 {
			logging.Debug().
				Int("aborted", aborted).
				Str("reason", n.Reason).
				Msg("Aborted in-flight warm jobs overlapping invalidation")
		}
	})

	handler := api.NewHandler(orch, controller, bus)
	router := api.NewRouter(handler).Setup()
	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
	}

	treeCfg := supervisor.DefaultTreeConfig()
	tree := supervisor.NewTree(logging.NewSlogLogger(), treeCfg)
	tree.AddCacheService(services.NewJanitorService(memory, cfg.Memory.CleanupInterval))
	tree.AddCacheService(services.NewRetryService(controller))
	tree.AddCacheService(scheduler)
	if bus != nil {
		tree.AddEventsService(bus)
	}
	tree.AddAPIService(services.NewHTTPService(server, treeCfg.ShutdownTimeout))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Str("addr", cfg.Server.Addr()).Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	// Drain the error channel; it closes when the supervisor finishes.
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Chronocached stopped gracefully")
}
