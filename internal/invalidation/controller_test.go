// Chronocache - Multi-Tier Cache for Time-Series Analytics Aggregates
// Copyright 2026 J. Ostrander (jostrander)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jostrander/chronocache

package invalidation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jostrander/chronocache/internal/cachekey"
	"github.com/jostrander/chronocache/internal/metrics"
	"github.com/jostrander/chronocache/internal/orchestrator"
	"github.com/jostrander/chronocache/internal/tier"
)

type fakeInvalidator struct {
	mu        sync.Mutex
	calls     []cachekey.Pattern
	failCalls int // fail this many leading calls with a partial error
	perCall   int
}

func (f *fakeInvalidator) Invalidate(_ context.Context, p cachekey.Pattern) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, p)
	if f.failCalls > 0 {
		f.failCalls--
		return 0, &orchestrator.PartialInvalidationError{
			Failures: []orchestrator.TierFailure{{Tier: "blob", Err: errors.New("value log unwritable")}},
		}
	}
	return f.perCall, nil
}

func (f *fakeInvalidator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeInvalidator) patterns() []cachekey.Pattern {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]cachekey.Pattern, len(f.calls))
	copy(out, f.calls)
	return out
}

func newTestController(t *testing.T, inv Invalidator, cfg Config) (*Controller, *metrics.Collector) {
	t.Helper()
	col := metrics.NewCollector(metrics.CollectorConfig{})
	t.Cleanup(col.Close)
	return NewController(inv, col, cfg), col
}

type noticeLog struct {
	mu      sync.Mutex
	notices []Notice
}

func (l *noticeLog) record(n Notice) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.notices = append(l.notices, n)
}

func (l *noticeLog) all() []Notice {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Notice, len(l.notices))
	copy(out, l.notices)
	return out
}

func TestImportExpandsToSourceAndAllSources(t *testing.T) {
	fake := &fakeInvalidator{perCall: 3}
	c, _ := newTestController(t, fake, Config{})

	ev := MutationEvent{
		Metric: "steps",
		Source: "deviceA",
		Start:  time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
		End:    time.Date(2025, 1, 12, 0, 0, 0, 0, time.UTC),
	}
	n, err := c.OnDataImported(context.Background(), ev)
	if err != nil {
		t.Fatalf("OnDataImported: %v", err)
	}
	if n != 6 {
		t.Fatalf("invalidated %d entries, want 6 (3 per pattern)", n)
	}

	pats := fake.patterns()
	if len(pats) != 2 {
		t.Fatalf("expected 2 patterns, got %d: %+v", len(pats), pats)
	}
	if pats[0].Source != "deviceA" {
		t.Errorf("first pattern source = %q, want deviceA", pats[0].Source)
	}
	if pats[1].Source != cachekey.AllSources {
		t.Errorf("second pattern source = %q, want %q", pats[1].Source, cachekey.AllSources)
	}
	for i, p := range pats {
		if p.Metric != "steps" || !p.From.Equal(ev.Start) || !p.To.Equal(ev.End) {
			t.Errorf("pattern %d carries wrong scope: %+v", i, p)
		}
	}
}

func TestEventWithoutSourceUsesOnePattern(t *testing.T) {
	fake := &fakeInvalidator{perCall: 1}
	c, _ := newTestController(t, fake, Config{})

	ev := MutationEvent{Metric: "heart_rate", Start: time.Now().Add(-24 * time.Hour), End: time.Now()}
	if _, err := c.OnDataImported(context.Background(), ev); err != nil {
		t.Fatalf("OnDataImported: %v", err)
	}

	pats := fake.patterns()
	if len(pats) != 1 {
		t.Fatalf("expected 1 pattern for an unknown source, got %d", len(pats))
	}
	if pats[0].Source != "" {
		t.Errorf("pattern source = %q, want empty (match any)", pats[0].Source)
	}
}

func TestDeleteNotifiesWithDeleteReason(t *testing.T) {
	fake := &fakeInvalidator{perCall: 2}
	c, _ := newTestController(t, fake, Config{})

	var log noticeLog
	c.Subscribe(log.record)

	ev := MutationEvent{Metric: "steps", Source: "deviceB", Start: time.Now().Add(-time.Hour), End: time.Now()}
	if _, err := c.OnDataDeleted(context.Background(), ev); err != nil {
		t.Fatalf("OnDataDeleted: %v", err)
	}

	notices := log.all()
	if len(notices) != 2 {
		t.Fatalf("expected 2 notices, got %d", len(notices))
	}
	for _, n := range notices {
		if n.Reason != ReasonDelete {
			t.Errorf("notice reason = %q, want %q", n.Reason, ReasonDelete)
		}
		if n.ID == "" {
			t.Error("notice has no ID")
		}
		if n.Entries != 2 {
			t.Errorf("notice entries = %d, want 2", n.Entries)
		}
	}
}

func TestManualApplyDefaultsToManualReason(t *testing.T) {
	fake := &fakeInvalidator{perCall: 5}
	c, _ := newTestController(t, fake, Config{})

	var log noticeLog
	c.Subscribe(log.record)

	n, err := c.Apply(context.Background(), cachekey.Pattern{Metric: "steps"}, "")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if n != 5 {
		t.Fatalf("Apply removed %d, want 5", n)
	}
	notices := log.all()
	if len(notices) != 1 || notices[0].Reason != ReasonManual {
		t.Fatalf("notices = %+v, want one manual notice", notices)
	}
}

func TestPartialFailureQueuesAndRetries(t *testing.T) {
	fake := &fakeInvalidator{perCall: 4, failCalls: 1}
	c, _ := newTestController(t, fake, Config{
		RetryInterval: 20 * time.Millisecond,
		RetryBackoff:  time.Millisecond,
		MaxRetries:    5,
	})

	var log noticeLog
	c.Subscribe(log.record)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	ev := MutationEvent{Metric: "steps", Start: time.Now().Add(-time.Hour), End: time.Now()}
	n, err := c.OnDataImported(context.Background(), ev)
	if err == nil {
		t.Fatal("expected the partial invalidation error to propagate")
	}
	var partial *orchestrator.PartialInvalidationError
	if !errors.As(err, &partial) {
		t.Fatalf("error type %T", err)
	}
	if n != 0 {
		t.Fatalf("first attempt reported %d entries, want 0", n)
	}
	if c.PendingRetries() != 1 {
		t.Fatalf("PendingRetries = %d, want 1", c.PendingRetries())
	}

	deadline := time.After(2 * time.Second)
	for c.PendingRetries() != 0 {
		select {
		case <-deadline:
			t.Fatal("retry never drained the queue")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if fake.callCount() != 2 {
		t.Fatalf("invalidator called %d times, want 2", fake.callCount())
	}

	// The successful retry is announced.
	found := false
	for _, notice := range log.all() {
		if notice.Reason == ReasonImport && notice.Entries == 4 {
			found = true
		}
	}
	if !found {
		t.Error("no notice for the successful retry")
	}
}

func TestRetryAbandonedAfterMaxAttempts(t *testing.T) {
	fake := &fakeInvalidator{perCall: 1, failCalls: 1 << 30}
	c, col := newTestController(t, fake, Config{
		RetryInterval: 10 * time.Millisecond,
		RetryBackoff:  time.Nanosecond,
		MaxRetries:    2,
	})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	ev := MutationEvent{Metric: "steps", Start: time.Now().Add(-time.Hour), End: time.Now()}
	if _, err := c.OnDataImported(context.Background(), ev); err == nil {
		t.Fatal("expected partial failure")
	}

	deadline := time.After(2 * time.Second)
	for c.PendingRetries() != 0 {
		select {
		case <-deadline:
			t.Fatal("abandoned entry never left the queue")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if snap := col.Snapshot(); snap.PartialInvalidations != 1 {
		t.Errorf("PartialInvalidations = %d, want 1", snap.PartialInvalidations)
	}
	// Synchronous attempt + MaxRetries background attempts.
	if got := fake.callCount(); got != 3 {
		t.Errorf("invalidator called %d times, want 3", got)
	}
}

// TestImportFansOutAcrossGranularitiesAndSources drives an import event
// through a controller backed by a real orchestrator and real tiers. A
// mutation on one day must purge the day, the week and the month that
// contain it, for both the mutated source and the cross-source
// aggregate, out of every tier.
func TestImportFansOutAcrossGranularitiesAndSources(t *testing.T) {
	mem := tier.NewMemory(256, 1<<20)
	st, err := tier.NewStructured(tier.StructuredConfig{Path: tier.InMemoryPath, MaxMemory: "256MB"})
	if err != nil {
		t.Fatalf("NewStructured: %v", err)
	}
	bl, err := tier.NewBlob(tier.BlobConfig{InMemory: true})
	if err != nil {
		t.Fatalf("NewBlob: %v", err)
	}
	col := metrics.NewCollector(metrics.CollectorConfig{})
	orch, err := orchestrator.New(orchestrator.Config{}, mem, st, bl, col)
	if err != nil {
		t.Fatalf("orchestrator.New: %v", err)
	}
	t.Cleanup(func() {
		if err := orch.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
		col.Close()
	})
	c := NewController(orch, col, Config{})

	ctx := context.Background()
	mustKey := func(metric string, g cachekey.Granularity, period, source string) cachekey.Key {
		k, err := cachekey.New(metric, g, period, source, "summary")
		if err != nil {
			t.Fatalf("cachekey.New(%s %s %s %s): %v", metric, g, period, source, err)
		}
		return k
	}

	// 2025-01-15 sits in ISO week 2025-W03 and month 2025-01. Every
	// aggregate containing that day is stale for the mutated source and
	// for the cross-source rollup.
	affected := []cachekey.Key{
		mustKey("steps", cachekey.GranularityDay, "2025-01-15", "deviceA"),
		mustKey("steps", cachekey.GranularityWeek, "2025-W03", "deviceA"),
		mustKey("steps", cachekey.GranularityMonth, "2025-01", "deviceA"),
		mustKey("steps", cachekey.GranularityDay, "2025-01-15", cachekey.AllSources),
		mustKey("steps", cachekey.GranularityWeek, "2025-W03", cachekey.AllSources),
		mustKey("steps", cachekey.GranularityMonth, "2025-01", cachekey.AllSources),
	}
	untouched := []cachekey.Key{
		mustKey("heart_rate", cachekey.GranularityDay, "2025-01-15", "deviceA"),
		mustKey("steps", cachekey.GranularityDay, "2025-02-10", "deviceA"),
	}

	var calls atomic.Int32
	seed := func(k cachekey.Key) {
		t.Helper()
		_, err := orch.Get(ctx, k, func(context.Context) ([]byte, error) {
			calls.Add(1)
			return []byte("v1"), nil
		})
		if err != nil {
			t.Fatalf("seed Get(%s): %v", k, err)
		}
	}
	for _, k := range affected {
		seed(k)
	}
	for _, k := range untouched {
		seed(k)
	}

	n, err := c.OnDataImported(ctx, MutationEvent{
		Metric: "steps",
		Source: "deviceA",
		Start:  time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC),
		End:    time.Date(2025, 1, 15, 23, 59, 59, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("OnDataImported: %v", err)
	}
	// Six stale aggregates, each purged from all three tiers.
	if n != 18 {
		t.Fatalf("import purged %d entries, want 18", n)
	}

	stores := []tier.Store{mem, st, bl}
	for _, k := range affected {
		for _, store := range stores {
			if _, ok, _ := store.Get(ctx, k.Encode()); ok {
				t.Errorf("stale key %s survives in the %s tier", k, store.Name())
			}
		}
	}
	for _, k := range untouched {
		if _, ok, _ := mem.Get(ctx, k.Encode()); !ok {
			t.Errorf("unrelated key %s was purged", k)
		}
	}

	// A purged aggregate recomputes on the next read.
	before := calls.Load()
	got, err := orch.Get(ctx, affected[1], func(context.Context) ([]byte, error) {
		calls.Add(1)
		return []byte("v2"), nil
	})
	if err != nil {
		t.Fatalf("Get after import: %v", err)
	}
	if string(got) != "v2" || calls.Load() != before+1 {
		t.Fatalf("Get after import = %q, calls %d -> %d; want a recompute", got, before, calls.Load())
	}
}

func TestStartStopLifecycle(t *testing.T) {
	fake := &fakeInvalidator{perCall: 1}
	c, _ := newTestController(t, fake, Config{RetryInterval: 10 * time.Millisecond})

	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if !c.IsRunning() {
		t.Fatal("controller not running after Start")
	}

	c.Stop()
	if c.IsRunning() {
		t.Fatal("controller still running after Stop")
	}
	c.Stop() // no-op

	// Restartable after Stop.
	if err := c.Start(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if !c.IsRunning() {
		t.Fatal("controller not running after restart")
	}
	c.Stop()
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	c, _ := newTestController(t, &fakeInvalidator{}, Config{
		RetryBackoff: 100 * time.Millisecond,
	})

	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{20, 5 * time.Minute},
		{51, 5 * time.Minute},
	}
	for _, tt := range tests {
		if got := c.backoff(tt.attempts); got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}
