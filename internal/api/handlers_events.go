// Chronocache - Multi-Tier Cache for Time-Series Analytics Aggregates
// Copyright 2026 J. Ostrander (jostrander)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jostrander/chronocache

package api

import (
	"context"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/jostrander/chronocache/internal/invalidation"
)

// DataImported ingests a data import notification. The event is
// published on the bus and the publish blocks until the invalidation
// handler has acknowledged it, so a client that POSTs here and then
// reads an aggregate never sees the pre-import value.
func (h *Handler) DataImported(w http.ResponseWriter, r *http.Request) {
	h.publishMutation(w, r, func(ctx context.Context, ev invalidation.MutationEvent) error {
		return h.bus.PublishDataImported(ctx, ev)
	})
}

// DataDeleted ingests a data deletion notification.
func (h *Handler) DataDeleted(w http.ResponseWriter, r *http.Request) {
	h.publishMutation(w, r, func(ctx context.Context, ev invalidation.MutationEvent) error {
		return h.bus.PublishDataDeleted(ctx, ev)
	})
}

func (h *Handler) publishMutation(w http.ResponseWriter, r *http.Request, publish func(context.Context, invalidation.MutationEvent) error) {
	if h.bus == nil {
		respondError(w, http.StatusServiceUnavailable, "EVENTS_DISABLED", "The mutation event bus is not running", nil)
		return
	}

	var req MutationEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON body", err)
		return
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return
	}

	if err := publish(r.Context(), req.Event()); err != nil {
		respondError(w, http.StatusInternalServerError, "PUBLISH_FAILED", "Failed to publish mutation event", err)
		return
	}

	respondSuccess(w, http.StatusAccepted, map[string]interface{}{
		"published": true,
	})
}
