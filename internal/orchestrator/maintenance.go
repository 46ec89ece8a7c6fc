// Chronocache - Multi-Tier Cache for Time-Series Analytics Aggregates
// Copyright 2026 J. Ostrander (jostrander)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jostrander/chronocache

package orchestrator

import (
	"context"

	"github.com/jostrander/chronocache/internal/logging"
	"github.com/jostrander/chronocache/internal/metrics"
	"github.com/jostrander/chronocache/internal/tier"
)

// TierStats is one tier's occupancy. Available is false when the tier
// could not report, in which case the counts are zero.
type TierStats struct {
	Tier      string `json:"tier"`
	Available bool   `json:"available"`
	Entries   int64  `json:"entries"`
	Bytes     int64  `json:"bytes"`
}

// Stats is the cache snapshot served by the diagnostics surface.
type Stats struct {
	Tiers    []TierStats      `json:"tiers"`
	Activity metrics.Snapshot `json:"activity"`
}

// Snapshot collects per-tier occupancy and the activity counters. A
// tier that cannot report shows zeros; the snapshot itself never fails.
func (o *Orchestrator) Snapshot(ctx context.Context) Stats {
	out := Stats{Tiers: make([]TierStats, 0, 3)}
	for _, store := range []tier.Store{o.memory, o.structured, o.blob} {
		ts := TierStats{Tier: store.Name()}
		st, err := store.Stats(ctx)
		if err != nil {
			metrics.RecordTierError(store.Name(), "stats")
			logging.Warn().Err(err).Str("tier", store.Name()).Msg("Tier stats unavailable")
		} else {
			ts.Available = true
			ts.Entries = st.Entries
			ts.Bytes = st.Bytes
			o.collector.UpdateTierStats(store.Name(), st)
		}
		out.Tiers = append(out.Tiers, ts)
	}
	out.Activity = o.collector.Snapshot()
	return out
}

// Keys lists the encoded keys in the structured tier starting with
// prefix. Entries above the promotion ceiling live only in the blob
// tier and are not listed here.
func (o *Orchestrator) Keys(ctx context.Context, prefix string) ([]string, error) {
	if o.isClosed() {
		return nil, tier.ErrClosed
	}
	return o.structured.Keys(ctx, prefix)
}

// PrimeFromStructured reloads up to n of the most recently accessed
// structured-tier entries into the memory tier. Called once at startup
// so a restart does not begin with a cold L1. Returns how many entries
// were loaded.
func (o *Orchestrator) PrimeFromStructured(ctx context.Context, n int) (int, error) {
	if o.isClosed() {
		return 0, tier.ErrClosed
	}
	if o.recents == nil || n <= 0 {
		return 0, nil
	}

	keys, err := o.recents.MostRecentlyAccessed(ctx, n)
	if err != nil {
		return 0, err
	}

	loaded := 0
	for _, encoded := range keys {
		if err := ctx.Err(); err != nil {
			return loaded, err
		}
		e, ok := o.tierGet(ctx, o.structured, encoded)
		if !ok || e.SizeBytes > o.cfg.BlobCeilingBytes {
			continue
		}
		o.promote(ctx, e, o.memory)
		loaded++
	}

	logging.Info().Int("entries", loaded).Msg("Primed memory tier from structured tier")
	return loaded, nil
}
