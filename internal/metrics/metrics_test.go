// Chronocache - Multi-Tier Cache for Time-Series Analytics Aggregates
// Copyright 2026 J. Ostrander (jostrander)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jostrander/chronocache

package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// Counters are process-global, so every test reads a baseline first and
// asserts on the delta.

func TestRecordTierHit(t *testing.T) {
	before := testutil.ToFloat64(TierHits.WithLabelValues("memory"))
	RecordTierHit("memory")
	RecordTierHit("memory")
	after := testutil.ToFloat64(TierHits.WithLabelValues("memory"))

	if delta := after - before; delta != 2 {
		t.Errorf("tier hit delta = %v, want 2", delta)
	}
}

func TestRecordMiss(t *testing.T) {
	before := testutil.ToFloat64(MissesTotal)
	RecordMiss()
	after := testutil.ToFloat64(MissesTotal)

	if delta := after - before; delta != 1 {
		t.Errorf("miss delta = %v, want 1", delta)
	}
}

func TestRecordComputationOutcomes(t *testing.T) {
	successBefore := testutil.ToFloat64(ComputationsTotal.WithLabelValues("success"))
	errorBefore := testutil.ToFloat64(ComputationsTotal.WithLabelValues("error"))

	RecordComputation("day", 0.25, nil)
	RecordComputation("week", 1.5, errors.New("source unavailable"))

	if delta := testutil.ToFloat64(ComputationsTotal.WithLabelValues("success")) - successBefore; delta != 1 {
		t.Errorf("success delta = %v, want 1", delta)
	}
	if delta := testutil.ToFloat64(ComputationsTotal.WithLabelValues("error")) - errorBefore; delta != 1 {
		t.Errorf("error delta = %v, want 1", delta)
	}
}

func TestRecordInvalidatedAddsCount(t *testing.T) {
	before := testutil.ToFloat64(InvalidatedEntries.WithLabelValues("structured"))
	RecordInvalidated("structured", 37)
	after := testutil.ToFloat64(InvalidatedEntries.WithLabelValues("structured"))

	if delta := after - before; delta != 37 {
		t.Errorf("invalidated delta = %v, want 37", delta)
	}
}

func TestRecordRefreshWarmByOutcome(t *testing.T) {
	successBefore := testutil.ToFloat64(RefreshWarms.WithLabelValues("success"))
	errorBefore := testutil.ToFloat64(RefreshWarms.WithLabelValues("error"))
	skippedBefore := testutil.ToFloat64(RefreshWarms.WithLabelValues("skipped"))

	RecordRefreshWarm(nil)
	RecordRefreshWarm(errors.New("boom"))
	RecordRefreshSkipped()

	if delta := testutil.ToFloat64(RefreshWarms.WithLabelValues("success")) - successBefore; delta != 1 {
		t.Errorf("success delta = %v, want 1", delta)
	}
	if delta := testutil.ToFloat64(RefreshWarms.WithLabelValues("error")) - errorBefore; delta != 1 {
		t.Errorf("error delta = %v, want 1", delta)
	}
	if delta := testutil.ToFloat64(RefreshWarms.WithLabelValues("skipped")) - skippedBefore; delta != 1 {
		t.Errorf("skipped delta = %v, want 1", delta)
	}
}

func TestUpdateTierGauges(t *testing.T) {
	UpdateTierGauges("blob", 1234, 5678)

	if got := testutil.ToFloat64(TierEntries.WithLabelValues("blob")); got != 1234 {
		t.Errorf("TierEntries = %v, want 1234", got)
	}
	if got := testutil.ToFloat64(TierBytes.WithLabelValues("blob")); got != 5678 {
		t.Errorf("TierBytes = %v, want 5678", got)
	}
}

func TestUpdateBreakerState(t *testing.T) {
	UpdateBreakerState("blob", 2)
	if got := testutil.ToFloat64(BreakerState.WithLabelValues("blob")); got != 2 {
		t.Errorf("BreakerState = %v, want 2", got)
	}

	UpdateBreakerState("blob", 0)
	if got := testutil.ToFloat64(BreakerState.WithLabelValues("blob")); got != 0 {
		t.Errorf("BreakerState = %v, want 0", got)
	}
}
