// Chronocache - Multi-Tier Cache for Time-Series Analytics Aggregates
// Copyright 2026 J. Ostrander (jostrander)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jostrander/chronocache

/*
Package supervisor provides process supervision for chronocache using suture v4.

The package builds a hierarchical supervisor tree that manages the
lifecycle of the daemon's long-running services, with Erlang/OTP-style
automatic restart, failure isolation, and graceful shutdown.

# Overview

Services are organized into three layers for failure isolation:

	Root ("chronocache")
	├── CacheSupervisor ("cache-layer")
	│   ├── JanitorService (memory tier expiry sweep)
	│   ├── RetryService (invalidation retry loop)
	│   └── refresh.Scheduler (low-water refresh ahead of expiry)
	├── EventsSupervisor ("events-layer")
	│   └── events.Bus (mutation event routing)
	└── APISupervisor ("api-layer")
	    └── HTTPService

The split ensures a crashing refresh pass cannot take the HTTP server
down with it: the API keeps answering out of the surviving tiers while
the cache layer restarts with backoff.

# Behavior

Crashed services restart automatically. Failures are counted per layer
with exponential decay; exceeding the threshold puts the layer into
backoff instead of hot-looping. Context cancellation triggers orderly
shutdown, and UnstoppedServiceReport names any service that ignored it.

Supervision events (starts, stops, failures, backoff transitions) are
logged through slog via the sutureslog adapter.

# Usage

	tree := supervisor.NewTree(logger, supervisor.DefaultTreeConfig())
	tree.AddCacheService(services.NewJanitorService(memory, time.Minute))
	tree.AddCacheService(services.NewRetryService(controller))
	tree.AddAPIService(services.NewHTTPService(server, 10*time.Second))
	err := tree.Serve(ctx) // blocks until ctx is canceled
*/
package supervisor
