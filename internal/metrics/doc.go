// Chronocache - Multi-Tier Cache for Time-Series Analytics Aggregates
// Copyright 2026 J. Ostrander (jostrander)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jostrander/chronocache

/*
Package metrics instruments the cache.

It has two faces. The Prometheus instruments (promauto counters, gauges
and histograms) expose per-tier traffic, computation latency,
invalidation volume and refresh activity for scraping at /metrics. The
Collector is the in-process side: atomic counters behind a Snapshot API
for the stats endpoint, a rolling-window access tracker that tells the
refresh scheduler which key classes are still hot, and an asynchronous
event stream for subscribers.

A single Collector is constructed at startup and handed to every
component that records activity. Both faces are fed by the same Record
calls, so instrumented code does not know or care whether anyone is
scraping.

# Available Metrics

Traffic:
  - chronocache_tier_hits_total: Hits per tier (counter)
    Labels: tier ("memory", "structured", "blob")
  - chronocache_misses_total: Full misses (counter)
  - chronocache_get_duration_seconds: End-to-end lookup latency (histogram)

Capacity:
  - chronocache_tier_entries / chronocache_tier_bytes: Gauges per tier
  - chronocache_tier_errors_total: Failed tier operations
    Labels: tier, operation

Computation:
  - chronocache_computations_total: Computations by outcome
  - chronocache_compute_duration_seconds: Latency per granularity
  - chronocache_flight_deduplicated_total: Coalesced lookups

Invalidation:
  - chronocache_invalidated_entries_total: Removed entries per tier
  - chronocache_invalidation_failures_total: Per-tier failures
  - chronocache_partial_invalidations_total: Abandoned after retries

Lifecycle:
  - chronocache_corrupt_entries_total: Corrupt frames dropped on read
  - chronocache_promotions_total: Entries promoted into a tier
  - chronocache_refresh_passes_total / chronocache_refresh_warms_total
  - chronocache_circuit_breaker_state: Blob tier breaker state
  - chronocache_mutation_events_total: Bus events processed

# Hot Path

Recording is designed for the lookup hot path: counter updates are
atomic, access tracking takes one short mutex, and subscriber events
are dropped rather than ever blocking the caller.
*/
package metrics
