// Chronocache - Multi-Tier Cache for Time-Series Analytics Aggregates
// Copyright 2026 J. Ostrander (jostrander)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jostrander/chronocache

package api

import (
	"net/http"
	"time"

	"github.com/jostrander/chronocache/internal/events"
	"github.com/jostrander/chronocache/internal/invalidation"
	"github.com/jostrander/chronocache/internal/models"
	"github.com/jostrander/chronocache/internal/orchestrator"
)

// Version reported by the health endpoint.
const Version = "1.0.0"

// Handler contains dependencies for API handlers.
//
// Handler methods are split across files:
//   - handlers.go: Handler struct, constructor, health endpoints (this file)
//   - handlers_cache.go: cache stats, key listing, manual invalidation
//   - handlers_events.go: mutation event ingestion
type Handler struct {
	orch       *orchestrator.Orchestrator
	controller *invalidation.Controller
	bus        *events.Bus // nil when the event bus is disabled
	startTime  time.Time
}

// NewHandler creates an API handler over the cache orchestrator, the
// invalidation controller, and the optional mutation event bus. Pass a
// nil bus when events are disabled; the event endpoints then respond
// 503.
func NewHandler(orch *orchestrator.Orchestrator, controller *invalidation.Controller, bus *events.Bus) *Handler {
	return &Handler{
		orch:       orch,
		controller: controller,
		bus:        bus,
		startTime:  time.Now(),
	}
}

// Health reports overall service health with per-tier availability.
// Status is "healthy" when every tier answered its stats probe and
// "degraded" otherwise; a degraded cache still serves from the tiers
// that remain.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	snap := h.orch.Snapshot(r.Context())

	status := "healthy"
	tiers := make([]models.TierInfo, 0, len(snap.Tiers))
	for _, ts := range snap.Tiers {
		if !ts.Available {
			status = "degraded"
		}
		tiers = append(tiers, models.TierInfo{
			Tier:      ts.Tier,
			Available: ts.Available,
			Entries:   ts.Entries,
		})
	}

	respondSuccess(w, http.StatusOK, models.HealthStatus{
		Status:  status,
		Version: Version,
		Tiers:   tiers,
		Uptime:  time.Since(h.startTime).Seconds(),
	})
}

// HealthLive is the liveness probe. It returns 200 whenever the process
// is up, regardless of tier state.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondSuccess(w, http.StatusOK, map[string]interface{}{
		"alive":  true,
		"uptime": time.Since(h.startTime).Seconds(),
	})
}
