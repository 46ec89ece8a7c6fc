// Chronocache - Multi-Tier Cache for Time-Series Analytics Aggregates
// Copyright 2026 J. Ostrander (jostrander)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jostrander/chronocache

package api

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/jostrander/chronocache/internal/cachekey"
	"github.com/jostrander/chronocache/internal/models"
)

// Stats serves tier occupancy and windowed activity counters.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	snap := h.orch.Snapshot(r.Context())

	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status: "success",
		Data:   snap,
		Metadata: models.Metadata{
			Timestamp:   time.Now(),
			QueryTimeMS: time.Since(start).Milliseconds(),
		},
	})
}

// Keys lists cached keys for diagnostics. Supports metric and
// granularity query parameters to narrow the scan, and limit to bound
// the response.
func (h *Handler) Keys(w http.ResponseWriter, r *http.Request) {
	req := KeysRequest{
		Metric:      r.URL.Query().Get("metric"),
		Granularity: r.URL.Query().Get("granularity"),
		Limit:       getIntParam(r, "limit", 1000),
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return
	}

	prefix := ""
	switch {
	case req.Metric != "" && req.Granularity != "":
		prefix = cachekey.Prefix(req.Metric, cachekey.Granularity(req.Granularity))
	case req.Metric != "":
		// Identifiers passing validation contain no escapable runes, so
		// the metric is its own encoded form.
		prefix = req.Metric + ":"
	}

	keys, err := h.orch.Keys(r.Context(), prefix)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "CACHE_ERROR", "Failed to list keys", err)
		return
	}

	truncated := false
	if len(keys) > req.Limit {
		keys = keys[:req.Limit]
		truncated = true
	}

	respondSuccess(w, http.StatusOK, map[string]interface{}{
		"keys":      keys,
		"count":     len(keys),
		"truncated": truncated,
	})
}

// Invalidate purges every cached aggregate matching the requested
// pattern. The purge is synchronous; on success the response reports
// how many entries were removed. A partial failure still removed
// entries from the healthy tiers and is queued for background retry,
// reported here as 502 so the caller knows a tier may briefly serve
// stale data.
func (h *Handler) Invalidate(w http.ResponseWriter, r *http.Request) {
	var req InvalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON body", err)
		return
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return
	}

	entries, err := h.controller.Apply(r.Context(), req.Pattern(), "")
	if err != nil {
		respondJSON(w, http.StatusBadGateway, &models.APIResponse{
			Status: "error",
			Data: map[string]interface{}{
				"entries_removed": entries,
				"pending_retries": h.controller.PendingRetries(),
			},
			Metadata: models.Metadata{Timestamp: time.Now()},
			Error: &models.APIError{
				Code:    "PARTIAL_INVALIDATION",
				Message: "One or more tiers failed to purge; retrying in the background",
			},
		})
		return
	}

	respondSuccess(w, http.StatusOK, map[string]interface{}{
		"entries_removed": entries,
	})
}
