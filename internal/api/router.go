// Chronocache - Multi-Tier Cache for Time-Series Analytics Aggregates
// Copyright 2026 J. Ostrander (jostrander)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jostrander/chronocache

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jostrander/chronocache/internal/middleware"
)

// Router builds the HTTP handler tree.
type Router struct {
	handler *Handler
}

// NewRouter creates a router over the given handler.
func NewRouter(handler *Handler) *Router {
	return &Router{handler: handler}
}

// chiMiddleware adapts http.HandlerFunc middleware to Chi's
// func(http.Handler) http.Handler so it can be used with r.Use().
func chiMiddleware(mw func(http.HandlerFunc) http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return mw(next.ServeHTTP)
	}
}

// Setup configures all HTTP routes using the Chi router.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	// Global middleware, applied to all routes in order
	r.Use(chiMiddleware(middleware.RequestID)) // X-Request-ID header with logging context
	r.Use(chimiddleware.RealIP)                // Extract real IP from X-Forwarded-For
	r.Use(chimiddleware.Recoverer)             // Recover from panics

	// Health endpoints stay un-instrumented so probes do not skew the
	// request metrics.
	r.Route("/api/v1/health", func(r chi.Router) {
		r.Get("/", router.handler.Health)
		r.Get("/live", router.handler.HealthLive)
	})

	r.Route("/api/v1/cache", func(r chi.Router) {
		r.Use(chiMiddleware(middleware.PrometheusMetrics))
		r.Get("/stats", router.handler.Stats)
		r.Get("/keys", router.handler.Keys)
		r.Post("/invalidate", router.handler.Invalidate)
	})

	r.Route("/api/v1/events", func(r chi.Router) {
		r.Use(chiMiddleware(middleware.PrometheusMetrics))
		r.Post("/imported", router.handler.DataImported)
		r.Post("/deleted", router.handler.DataDeleted)
	})

	// Prometheus exposition
	r.Handle("/metrics", promhttp.Handler())

	return r
}
