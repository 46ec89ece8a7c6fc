// Chronocache - Multi-Tier Cache for Time-Series Analytics Aggregates
// Copyright 2026 J. Ostrander (jostrander)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jostrander/chronocache

// Package middleware provides HTTP middleware for request tracing and
// Prometheus instrumentation. Middleware here uses the plain
// http.HandlerFunc chaining style; the api package adapts it to Chi.
package middleware
