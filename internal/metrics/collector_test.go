// Chronocache - Multi-Tier Cache for Time-Series Analytics Aggregates
// Copyright 2026 J. Ostrander (jostrander)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jostrander/chronocache

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/jostrander/chronocache/internal/cachekey"
	"github.com/jostrander/chronocache/internal/tier"
)

func testKey(t *testing.T, metric string) cachekey.Key {
	t.Helper()
	k, err := cachekey.New(metric, cachekey.GranularityDay, "2025-01-15", "", "summary")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return k
}

func TestCollectorSnapshotCounts(t *testing.T) {
	c := NewCollector(CollectorConfig{})
	defer c.Close()

	k := testKey(t, "steps")
	c.RecordHit(tier.NameMemory, k)
	c.RecordHit(tier.NameMemory, k)
	c.RecordHit(tier.NameStructured, k)
	c.RecordHit(tier.NameBlob, k)
	c.RecordMiss(k)
	c.RecordDeduplicated()
	c.RecordComputation(cachekey.GranularityDay, 50*time.Millisecond, nil)
	c.RecordComputation(cachekey.GranularityDay, time.Second, errors.New("boom"))
	c.RecordInvalidated(tier.NameStructured, 12)
	c.RecordInvalidationFailure(tier.NameBlob)
	c.RecordPartialInvalidation()
	c.RecordCorruptEntry(tier.NameBlob)
	c.RecordPromotion(tier.NameMemory)
	c.RecordRefreshPass()
	c.RecordRefreshWarm(nil)
	c.RecordRefreshWarm(errors.New("boom"))

	s := c.Snapshot()
	if s.MemoryHits != 2 || s.StructuredHits != 1 || s.BlobHits != 1 {
		t.Errorf("hits = %d/%d/%d, want 2/1/1", s.MemoryHits, s.StructuredHits, s.BlobHits)
	}
	if s.Misses != 1 {
		t.Errorf("Misses = %d, want 1", s.Misses)
	}
	if s.Requests != 5 {
		t.Errorf("Requests = %d, want 5", s.Requests)
	}
	if want := 4.0 / 5.0; s.HitRate != want {
		t.Errorf("HitRate = %v, want %v", s.HitRate, want)
	}
	if s.Deduplicated != 1 {
		t.Errorf("Deduplicated = %d, want 1", s.Deduplicated)
	}
	if s.Computations != 2 || s.ComputeFailures != 1 {
		t.Errorf("Computations = %d/%d, want 2/1", s.Computations, s.ComputeFailures)
	}
	if s.InvalidatedEntries != 12 {
		t.Errorf("InvalidatedEntries = %d, want 12", s.InvalidatedEntries)
	}
	if s.InvalidationFailures != 1 || s.PartialInvalidations != 1 {
		t.Errorf("invalidation failures = %d/%d, want 1/1", s.InvalidationFailures, s.PartialInvalidations)
	}
	if s.CorruptEntries != 1 || s.Promotions != 1 {
		t.Errorf("corrupt/promotions = %d/%d, want 1/1", s.CorruptEntries, s.Promotions)
	}
	if s.RefreshPasses != 1 || s.RefreshWarms != 2 || s.RefreshFailures != 1 {
		t.Errorf("refresh = %d/%d/%d, want 1/2/1", s.RefreshPasses, s.RefreshWarms, s.RefreshFailures)
	}
}

func TestCollectorEmptySnapshot(t *testing.T) {
	c := NewCollector(CollectorConfig{})
	defer c.Close()

	s := c.Snapshot()
	if s.Requests != 0 {
		t.Errorf("Requests = %d, want 0", s.Requests)
	}
	if s.HitRate != 0 {
		t.Errorf("HitRate = %v, want 0 without traffic", s.HitRate)
	}
}

func TestCollectorAccessRate(t *testing.T) {
	c := NewCollector(CollectorConfig{Window: time.Minute, Buckets: 6})
	defer c.Close()

	steps := testKey(t, "steps")
	heart := testKey(t, "heart_rate")

	// Hits and misses both count as demand for the key class.
	c.RecordHit(tier.NameMemory, steps)
	c.RecordHit(tier.NameBlob, steps)
	c.RecordMiss(steps)
	c.RecordMiss(heart)

	if got := c.AccessRate("steps", cachekey.GranularityDay); got != 3 {
		t.Errorf("AccessRate(steps, day) = %d, want 3", got)
	}
	if got := c.AccessRate("heart_rate", cachekey.GranularityDay); got != 1 {
		t.Errorf("AccessRate(heart_rate, day) = %d, want 1", got)
	}
	if got := c.AccessRate("steps", cachekey.GranularityMonth); got != 0 {
		t.Errorf("AccessRate(steps, month) = %d, want 0 for untouched class", got)
	}
}

func TestCollectorObserversReceiveEvents(t *testing.T) {
	c := NewCollector(CollectorConfig{})
	defer c.Close()

	got := make(chan Event, 16)
	c.Subscribe(func(ev Event) {
		got <- ev
	})

	k := testKey(t, "steps")
	c.RecordHit(tier.NameMemory, k)
	c.RecordInvalidated(tier.NameStructured, 7)

	wantKinds := map[EventKind]bool{EventHit: false, EventInvalidated: false}
	deadline := time.After(2 * time.Second)
	for !wantKinds[EventHit] || !wantKinds[EventInvalidated] {
		select {
		case ev := <-got:
			switch ev.Kind {
			case EventHit:
				if ev.Tier != tier.NameMemory || ev.Key != k.Encode() {
					t.Errorf("hit event = %+v", ev)
				}
			case EventInvalidated:
				if ev.Count != 7 {
					t.Errorf("invalidated event count = %d, want 7", ev.Count)
				}
			}
			wantKinds[ev.Kind] = true
		case <-deadline:
			t.Fatalf("observer events missing: %+v", wantKinds)
		}
	}
}

func TestCollectorCloseIsIdempotentAndNonFatal(t *testing.T) {
	c := NewCollector(CollectorConfig{})
	c.Close()
	c.Close()

	// Recording after Close must not panic or block; the event is
	// counted as dropped.
	k := testKey(t, "steps")
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.RecordHit(tier.NameMemory, k)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RecordHit blocked after Close")
	}

	if s := c.Snapshot(); s.MemoryHits != 1 {
		t.Errorf("MemoryHits = %d, want 1", s.MemoryHits)
	}
}
