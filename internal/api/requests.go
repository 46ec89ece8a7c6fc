// Chronocache - Multi-Tier Cache for Time-Series Analytics Aggregates
// Copyright 2026 J. Ostrander (jostrander)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jostrander/chronocache

package api

import (
	"time"

	"github.com/jostrander/chronocache/internal/cachekey"
	"github.com/jostrander/chronocache/internal/invalidation"
)

// InvalidateRequest is the validated body of POST /cache/invalidate.
// Every field is optional; empty fields match anything, so an empty
// body purges the entire cache.
//
// Fields:
//   - Metric: Metric identifier to purge (lowercase identifier)
//   - Granularity: Restrict to one aggregation granularity
//   - Source: Source partition, or "all" for cross-source aggregates
//   - Kind: Aggregate kind to purge
//   - From, To: Inclusive data date range (YYYY-MM-DD); aggregates whose
//     period overlaps the range are purged
type InvalidateRequest struct {
	Metric      string `json:"metric" validate:"omitempty,cacheident"`
	Granularity string `json:"granularity" validate:"omitempty,oneof=day week month"`
	Source      string `json:"source" validate:"omitempty,cacheident"`
	Kind        string `json:"kind" validate:"omitempty,cacheident"`
	From        string `json:"from" validate:"omitempty,datetime=2006-01-02"`
	To          string `json:"to" validate:"omitempty,datetime=2006-01-02"`
}

// Pattern converts the request to an invalidation pattern. The request
// must have passed validation first; the date parses cannot fail then.
func (req *InvalidateRequest) Pattern() cachekey.Pattern {
	p := cachekey.Pattern{
		Metric:      req.Metric,
		Granularity: cachekey.Granularity(req.Granularity),
		Source:      req.Source,
		Kind:        req.Kind,
	}
	if req.From != "" {
		p.From, _ = time.Parse("2006-01-02", req.From)
	}
	if req.To != "" {
		p.To, _ = time.Parse("2006-01-02", req.To)
	}
	return p
}

// MutationEventRequest is the validated body of the POST /events
// endpoints. Start and End bound the mutated data range; an empty
// Metric or Source widens the invalidation to all metrics or sources.
type MutationEventRequest struct {
	Metric string    `json:"metric" validate:"omitempty,cacheident"`
	Source string    `json:"source" validate:"omitempty,cacheident"`
	Start  time.Time `json:"start" validate:"required"`
	End    time.Time `json:"end" validate:"required,gtefield=Start"`
}

// Event converts the request to a mutation event.
func (req *MutationEventRequest) Event() invalidation.MutationEvent {
	return invalidation.MutationEvent{
		Metric: req.Metric,
		Source: req.Source,
		Start:  req.Start,
		End:    req.End,
	}
}

// KeysRequest is the validated query of GET /cache/keys.
//
// Fields:
//   - Metric: Restrict the listing to one metric (required for a
//     useful prefix scan on large caches, optional here)
//   - Granularity: Granularity half of the prefix; ignored without Metric
//   - Limit: Maximum keys returned (1-10000)
type KeysRequest struct {
	Metric      string `validate:"omitempty,cacheident"`
	Granularity string `validate:"omitempty,oneof=day week month"`
	Limit       int    `validate:"min=1,max=10000"`
}
