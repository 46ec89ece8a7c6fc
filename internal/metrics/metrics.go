// Chronocache - Multi-Tier Cache for Time-Series Analytics Aggregates
// Copyright 2026 J. Ostrander (jostrander)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jostrander/chronocache

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instruments for cache observability:
// - per-tier hit/miss traffic and entry/byte gauges
// - computation throughput and latency
// - invalidation volume and failures
// - refresh scheduler activity
// - blob tier circuit breaker state

var (
	// TierHits counts lookups answered by each tier.
	TierHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronocache_tier_hits_total",
			Help: "Total number of cache hits per tier",
		},
		[]string{"tier"}, // "memory", "structured", "blob"
	)

	// MissesTotal counts lookups no tier could answer.
	MissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chronocache_misses_total",
			Help: "Total number of cache misses across all tiers",
		},
	)

	// GetDuration measures end-to-end lookup latency including any
	// computation.
	GetDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chronocache_get_duration_seconds",
			Help:    "End-to-end cache lookup latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// TierEntries is the current entry count per tier.
	TierEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chronocache_tier_entries",
			Help: "Current number of entries per tier",
		},
		[]string{"tier"},
	)

	// TierBytes is the current payload volume per tier.
	TierBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chronocache_tier_bytes",
			Help: "Current payload bytes per tier",
		},
		[]string{"tier"},
	)

	// TierErrors counts failed tier operations.
	TierErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronocache_tier_errors_total",
			Help: "Total number of failed tier operations",
		},
		[]string{"tier", "operation"}, // operation: "get", "set", "delete"
	)

	// ComputationsTotal counts aggregate computations by outcome.
	ComputationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronocache_computations_total",
			Help: "Total number of aggregate computations",
		},
		[]string{"outcome"}, // "success", "error"
	)

	// ComputeDuration measures computation latency per granularity.
	ComputeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chronocache_compute_duration_seconds",
			Help:    "Aggregate computation latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~16s
		},
		[]string{"granularity"},
	)

	// DeduplicatedTotal counts callers that shared another caller's
	// in-flight computation.
	DeduplicatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chronocache_flight_deduplicated_total",
			Help: "Total number of lookups coalesced into an in-flight computation",
		},
	)

	// InvalidatedEntries counts entries removed by invalidation per tier.
	InvalidatedEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronocache_invalidated_entries_total",
			Help: "Total number of entries removed by invalidation per tier",
		},
		[]string{"tier"},
	)

	// InvalidationFailures counts per-tier invalidation failures.
	InvalidationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronocache_invalidation_failures_total",
			Help: "Total number of per-tier invalidation failures",
		},
		[]string{"tier"},
	)

	// PartialInvalidations counts invalidations that exhausted their
	// retries with at least one tier still unswept.
	PartialInvalidations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chronocache_partial_invalidations_total",
			Help: "Total number of invalidations abandoned with a tier left inconsistent",
		},
	)

	// CorruptEntries counts entries dropped because they failed
	// validation on read.
	CorruptEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronocache_corrupt_entries_total",
			Help: "Total number of corrupt entries dropped on read",
		},
		[]string{"tier"},
	)

	// PromotionsTotal counts entries copied into a faster tier on hit.
	PromotionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronocache_promotions_total",
			Help: "Total number of entries promoted into a tier",
		},
		[]string{"tier"},
	)

	// RefreshPasses counts refresh scheduler passes.
	RefreshPasses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chronocache_refresh_passes_total",
			Help: "Total number of refresh scheduler passes",
		},
	)

	// RefreshWarms counts refresh warm attempts by outcome.
	RefreshWarms = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronocache_refresh_warms_total",
			Help: "Total number of proactive refresh computations",
		},
		[]string{"outcome"}, // "success", "error", "skipped"
	)

	// BreakerState reports circuit breaker state
	// (0=closed, 1=half-open, 2=open).
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chronocache_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// MutationEvents counts mutation events consumed from the bus.
	MutationEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronocache_mutation_events_total",
			Help: "Total number of dataset mutation events processed",
		},
		[]string{"type"}, // "imported", "deleted"
	)
)

// RecordTierHit records a lookup answered by the named tier.
func RecordTierHit(tier string) {
	TierHits.WithLabelValues(tier).Inc()
}

// RecordMiss records a lookup no tier could answer.
func RecordMiss() {
	MissesTotal.Inc()
}

// ObserveGetLatency records end-to-end lookup latency.
func ObserveGetLatency(seconds float64) {
	GetDuration.Observe(seconds)
}

// UpdateTierGauges publishes a tier's entry and byte counts.
func UpdateTierGauges(tier string, entries, bytes int64) {
	TierEntries.WithLabelValues(tier).Set(float64(entries))
	TierBytes.WithLabelValues(tier).Set(float64(bytes))
}

// RecordTierError records a failed tier operation.
func RecordTierError(tier, operation string) {
	TierErrors.WithLabelValues(tier, operation).Inc()
}

// RecordComputation records a computation outcome and its latency.
func RecordComputation(granularity string, seconds float64, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	ComputationsTotal.WithLabelValues(outcome).Inc()
	ComputeDuration.WithLabelValues(granularity).Observe(seconds)
}

// RecordDeduplicated records a coalesced lookup.
func RecordDeduplicated() {
	DeduplicatedTotal.Inc()
}

// RecordInvalidated records entries removed from a tier.
func RecordInvalidated(tier string, count int) {
	InvalidatedEntries.WithLabelValues(tier).Add(float64(count))
}

// RecordInvalidationFailure records a per-tier invalidation failure.
func RecordInvalidationFailure(tier string) {
	InvalidationFailures.WithLabelValues(tier).Inc()
}

// RecordPartialInvalidation records an invalidation abandoned after
// exhausting retries.
func RecordPartialInvalidation() {
	PartialInvalidations.Inc()
}

// RecordCorruptEntry records a corrupt entry dropped on read.
func RecordCorruptEntry(tier string) {
	CorruptEntries.WithLabelValues(tier).Inc()
}

// RecordPromotion records an entry promoted into the named tier.
func RecordPromotion(tier string) {
	PromotionsTotal.WithLabelValues(tier).Inc()
}

// RecordRefreshPass records one refresh scheduler pass.
func RecordRefreshPass() {
	RefreshPasses.Inc()
}

// RecordRefreshWarm records a refresh warm attempt.
func RecordRefreshWarm(err error) {
	if err != nil {
		RefreshWarms.WithLabelValues("error").Inc()
		return
	}
	RefreshWarms.WithLabelValues("success").Inc()
}

// RecordRefreshSkipped records a refresh candidate dropped before
// warming, e.g. below the access frequency threshold.
func RecordRefreshSkipped() {
	RefreshWarms.WithLabelValues("skipped").Inc()
}

// UpdateBreakerState publishes a circuit breaker state change.
func UpdateBreakerState(name string, state int) {
	BreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordMutationEvent records a processed dataset mutation event.
func RecordMutationEvent(eventType string) {
	MutationEvents.WithLabelValues(eventType).Inc()
}
