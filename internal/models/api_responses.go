// Chronocache - Multi-Tier Cache for Time-Series Analytics Aggregates
// Copyright 2026 J. Ostrander (jostrander)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jostrander/chronocache

// Package models holds the shared API response envelope. It exists as
// its own package so api and validation can agree on the error shape
// without importing each other.
package models

import (
	"time"
)

// APIResponse is the standardized response wrapper used by all HTTP
// endpoints.
//
// Status field values:
//   - "success": Request completed successfully, see Data field
//   - "error": Request failed, see Error field for details
//
// Example successful response:
//
//	{
//	  "status": "success",
//	  "data": {"tiers": [...], "activity": {...}},
//	  "metadata": {"timestamp": "2026-08-21T12:00:00Z"}
//	}
type APIResponse struct {
	Status   string      `json:"status"`
	Data     interface{} `json:"data"`
	Metadata Metadata    `json:"metadata"`
	Error    *APIError   `json:"error,omitempty"`
}

// Metadata contains response metadata for observability.
type Metadata struct {
	Timestamp   time.Time `json:"timestamp"`
	QueryTimeMS int64     `json:"query_time_ms,omitempty"`
}

// APIError represents an error response with structured error details.
//
// Common error codes:
//   - VALIDATION_ERROR: Invalid input parameters
//   - INVALID_JSON: Request body could not be decoded
//   - CACHE_ERROR: A cache tier operation failed
//   - EVENTS_DISABLED: The mutation event bus is not running
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// HealthStatus is the payload of the health endpoint.
type HealthStatus struct {
	Status  string     `json:"status"`
	Version string     `json:"version"`
	Tiers   []TierInfo `json:"tiers"`
	Uptime  float64    `json:"uptime_seconds"`
}

// TierInfo reports one cache tier's availability for health checks.
type TierInfo struct {
	Tier      string `json:"tier"`
	Available bool   `json:"available"`
	Entries   int64  `json:"entries"`
}
