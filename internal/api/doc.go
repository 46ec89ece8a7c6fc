// Chronocache - Multi-Tier Cache for Time-Series Analytics Aggregates
// Copyright 2026 J. Ostrander (jostrander)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jostrander/chronocache

// Package api provides the HTTP administration surface over the cache:
// health probes, diagnostics, manual invalidation, and mutation event
// ingestion. Routing uses Chi; every response is wrapped in the
// models.APIResponse envelope.
//
// Endpoints:
//
//	GET  /api/v1/health           overall health with per-tier availability
//	GET  /api/v1/health/live      liveness probe
//	GET  /api/v1/cache/stats      tier occupancy and activity counters
//	GET  /api/v1/cache/keys       cached key listing for diagnostics
//	POST /api/v1/cache/invalidate manual pattern invalidation
//	POST /api/v1/events/imported  data import notification
//	POST /api/v1/events/deleted   data deletion notification
//	GET  /metrics                 Prometheus exposition
package api
