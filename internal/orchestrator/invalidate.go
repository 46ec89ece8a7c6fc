// Chronocache - Multi-Tier Cache for Time-Series Analytics Aggregates
// Copyright 2026 J. Ostrander (jostrander)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jostrander/chronocache

package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/jostrander/chronocache/internal/cachekey"
	"github.com/jostrander/chronocache/internal/logging"
	"github.com/jostrander/chronocache/internal/tier"
)

// TierFailure names one tier that could not complete an invalidation.
type TierFailure struct {
	Tier string
	Err  error
}

// PartialInvalidationError reports an invalidation that completed on
// some tiers but not others. The tiers that succeeded stay purged;
// callers retry until the remaining tiers succeed too.
type PartialInvalidationError struct {
	Failures []TierFailure
}

func (e *PartialInvalidationError) Error() string {
	names := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		names[i] = f.Tier
	}
	return fmt.Sprintf("invalidation incomplete on tiers: %s", strings.Join(names, ", "))
}

// Unwrap exposes the per-tier errors to errors.Is and errors.As.
func (e *PartialInvalidationError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}

// FailedTiers lists the tier names still holding stale entries.
func (e *PartialInvalidationError) FailedTiers() []string {
	names := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		names[i] = f.Tier
	}
	return names
}

// Invalidate removes every cached entry the pattern selects, fastest
// tier first so a racing lookup cannot resurrect a stale value from a
// tier that was already purged. It returns the number of entries
// removed. When one or more tiers fail, the error is a
// *PartialInvalidationError naming them; the other tiers remain purged.
func (o *Orchestrator) Invalidate(ctx context.Context, p cachekey.Pattern) (int, error) {
	if o.isClosed() {
		return 0, tier.ErrClosed
	}

	p = p.Normalize()
	ranges := p.Ranges()

	// Computations started before the mutation would cache pre-mutation
	// data; drop their single-flight slots so the next caller recomputes.
	o.forgetMatching(ranges)

	total := 0
	var failures []TierFailure
	for _, store := range []tier.Store{o.memory, o.structured, o.blob} {
		n, err := o.deleteRanges(ctx, store, ranges)
		total += n
		if err != nil {
			failures = append(failures, TierFailure{Tier: store.Name(), Err: err})
			o.collector.RecordInvalidationFailure(store.Name())
			logging.Error().Err(err).Str("tier", store.Name()).
				Msg("Invalidation failed on tier")
			continue
		}
		o.collector.RecordInvalidated(store.Name(), n)
	}

	if len(failures) > 0 {
		return total, &PartialInvalidationError{Failures: failures}
	}
	logging.Debug().Int("entries", total).
		Str("metric", p.Metric).
		Str("source", p.Source).
		Msg("Invalidated cache entries")
	return total, nil
}

// InvalidateAll drops every entry in every tier, fastest tier first,
// and clears all single-flight slots. The returned count is the
// pre-flush occupancy and is best effort.
func (o *Orchestrator) InvalidateAll(ctx context.Context) (int, error) {
	if o.isClosed() {
		return 0, tier.ErrClosed
	}

	o.forgetAll()

	total := 0
	var failures []TierFailure
	for _, store := range []tier.Store{o.memory, o.structured, o.blob} {
		st, serr := store.Stats(ctx)
		if serr == nil {
			total += int(st.Entries)
		}
		if err := o.tierFlush(ctx, store); err != nil {
			failures = append(failures, TierFailure{Tier: store.Name(), Err: err})
			o.collector.RecordInvalidationFailure(store.Name())
			logging.Error().Err(err).Str("tier", store.Name()).
				Msg("Full cache flush failed on tier")
			continue
		}
		o.collector.RecordInvalidated(store.Name(), int(st.Entries))
	}

	if len(failures) > 0 {
		return total, &PartialInvalidationError{Failures: failures}
	}
	logging.Info().Int("entries", total).Msg("Flushed all cache tiers")
	return total, nil
}

// deleteRanges applies every key range to one tier. Blob tier deletes
// run through the circuit breaker like all other blob IO.
func (o *Orchestrator) deleteRanges(ctx context.Context, store tier.Store, ranges []cachekey.KeyRange) (int, error) {
	total := 0
	for _, r := range ranges {
		var n int
		var err error
		if store == o.blob {
			n, err = o.blobDeleteRange(ctx, r)
		} else {
			n, err = store.DeleteRange(ctx, r)
		}
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (o *Orchestrator) blobDeleteRange(ctx context.Context, r cachekey.KeyRange) (int, error) {
	var n int
	_, err := o.breaker.Execute(func() (blobResult, error) {
		var derr error
		n, derr = o.blob.DeleteRange(ctx, r)
		return blobResult{}, derr
	})
	return n, err
}

func (o *Orchestrator) tierFlush(ctx context.Context, store tier.Store) error {
	if store == o.blob {
		_, err := o.breaker.Execute(func() (blobResult, error) {
			return blobResult{}, o.blob.Flush(ctx)
		})
		return err
	}
	return store.Flush(ctx)
}

// forgetMatching drops single-flight slots whose key falls inside any
// of the ranges. Callers already waiting keep their result; the next
// caller recomputes.
func (o *Orchestrator) forgetMatching(ranges []cachekey.KeyRange) {
	o.inflightMu.Lock()
	defer o.inflightMu.Unlock()
	for encoded, ref := range o.inflight {
		for _, r := range ranges {
			if r.Matches(ref.key) {
				o.group.Forget(encoded)
				break
			}
		}
	}
}

func (o *Orchestrator) forgetAll() {
	o.inflightMu.Lock()
	defer o.inflightMu.Unlock()
	for encoded := range o.inflight {
		o.group.Forget(encoded)
	}
}
