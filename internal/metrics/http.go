// Chronocache - Multi-Tier Cache for Time-Series Analytics Aggregates
// Copyright 2026 J. Ostrander (jostrander)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jostrander/chronocache

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// APIRequests counts HTTP requests by method, path, and status.
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronocache_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "path", "status"},
	)

	// APIRequestDuration measures HTTP request latency.
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chronocache_api_request_duration_seconds",
			Help:    "API request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ActiveRequests is the number of requests currently in flight.
	ActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chronocache_api_active_requests",
			Help: "Number of API requests currently being processed",
		},
	)
)

// RecordAPIRequest records one finished HTTP request.
func RecordAPIRequest(method, path, status string, duration time.Duration) {
	APIRequests.WithLabelValues(method, path, status).Inc()
	APIRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// TrackActiveRequest adjusts the in-flight request gauge.
func TrackActiveRequest(active bool) {
	if active {
		ActiveRequests.Inc()
	} else {
		ActiveRequests.Dec()
	}
}
