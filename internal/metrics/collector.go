// Chronocache - Multi-Tier Cache for Time-Series Analytics Aggregates
// Copyright 2026 J. Ostrander (jostrander)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jostrander/chronocache

package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jostrander/chronocache/internal/cachekey"
	"github.com/jostrander/chronocache/internal/tier"
)

// EventKind classifies collector events delivered to subscribers.
type EventKind string

// Collector event kinds.
const (
	EventHit         EventKind = "hit"
	EventMiss        EventKind = "miss"
	EventComputed    EventKind = "computed"
	EventInvalidated EventKind = "invalidated"
	EventPromoted    EventKind = "promoted"
)

// Event is a cache lifecycle notification. Subscribers receive events
// asynchronously; the recording path never blocks on them.
type Event struct {
	Kind  EventKind
	Tier  string
	Key   string
	Count int
}

// Snapshot is a point-in-time copy of the collector's counters,
// served by the stats endpoint.
type Snapshot struct {
	Requests             int64   `json:"requests"`
	MemoryHits           int64   `json:"memory_hits"`
	StructuredHits       int64   `json:"structured_hits"`
	BlobHits             int64   `json:"blob_hits"`
	Misses               int64   `json:"misses"`
	HitRate              float64 `json:"hit_rate"`
	Deduplicated         int64   `json:"deduplicated"`
	Computations         int64   `json:"computations"`
	ComputeFailures      int64   `json:"compute_failures"`
	InvalidatedEntries   int64   `json:"invalidated_entries"`
	InvalidationFailures int64   `json:"invalidation_failures"`
	PartialInvalidations int64   `json:"partial_invalidations"`
	CorruptEntries       int64   `json:"corrupt_entries"`
	Promotions           int64   `json:"promotions"`
	RefreshPasses        int64   `json:"refresh_passes"`
	RefreshWarms         int64   `json:"refresh_warms"`
	RefreshFailures      int64   `json:"refresh_failures"`
	DroppedEvents        int64   `json:"dropped_events"`
	TrackedClasses       int     `json:"tracked_classes"`
}

// Collector aggregates cache activity. It is handed to the
// orchestrator, controller and scheduler at construction; nothing in
// this package is reached through package-level mutable state.
//
// Every Record method is safe for concurrent use and also feeds the
// corresponding Prometheus instrument, so wiring a Collector is all a
// caller needs for both in-process stats and scrape-time metrics.
type Collector struct {
	memoryHits           atomic.Int64
	structuredHits       atomic.Int64
	blobHits             atomic.Int64
	misses               atomic.Int64
	deduplicated         atomic.Int64
	computations         atomic.Int64
	computeFailures      atomic.Int64
	invalidated          atomic.Int64
	invalidationFailures atomic.Int64
	partialInvalidations atomic.Int64
	corruptEntries       atomic.Int64
	promotions           atomic.Int64
	refreshPasses        atomic.Int64
	refreshWarms         atomic.Int64
	refreshFailures      atomic.Int64
	droppedEvents        atomic.Int64

	access *AccessTracker

	obsMu     sync.RWMutex
	observers []func(Event)

	events    chan Event
	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

// CollectorConfig tunes the rolling access window.
type CollectorConfig struct {
	// Window is the span over which access frequency is measured.
	Window time.Duration
	// Buckets subdivides the window.
	Buckets int
	// MaxClasses bounds the number of tracked key classes.
	MaxClasses int
}

// NewCollector creates a Collector with the given access window
// configuration. Zero values fall back to a 15 minute window of 15
// buckets over at most 4096 classes.
func NewCollector(cfg CollectorConfig) *Collector {
	if cfg.Window <= 0 {
		cfg.Window = 15 * time.Minute
	}
	if cfg.Buckets <= 0 {
		cfg.Buckets = 15
	}
	if cfg.MaxClasses <= 0 {
		cfg.MaxClasses = 4096
	}

	c := &Collector{
		access: NewAccessTracker(cfg.Window, cfg.Buckets, cfg.MaxClasses),
		events: make(chan Event, 256),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go c.dispatch()
	return c
}

// Subscribe registers an observer for collector events. Observers run
// on the dispatch goroutine; slow observers delay other observers but
// never the cache hot path.
func (c *Collector) Subscribe(fn func(Event)) {
	c.obsMu.Lock()
	c.observers = append(c.observers, fn)
	c.obsMu.Unlock()
}

// RecordHit records a lookup answered by the named tier.
func (c *Collector) RecordHit(tierName string, k cachekey.Key) {
	switch tierName {
	case tier.NameMemory:
		c.memoryHits.Add(1)
	case tier.NameStructured:
		c.structuredHits.Add(1)
	case tier.NameBlob:
		c.blobHits.Add(1)
	}
	c.access.Observe(keyClass(k))
	RecordTierHit(tierName)
	c.emit(Event{Kind: EventHit, Tier: tierName, Key: k.Encode()})
}

// RecordMiss records a lookup no tier could answer. Misses count
// toward access frequency; a cold popular key still deserves refresh.
func (c *Collector) RecordMiss(k cachekey.Key) {
	c.misses.Add(1)
	c.access.Observe(keyClass(k))
	RecordMiss()
	c.emit(Event{Kind: EventMiss, Key: k.Encode()})
}

// RecordComputation records an aggregate computation and its outcome.
func (c *Collector) RecordComputation(g cachekey.Granularity, d time.Duration, err error) {
	c.computations.Add(1)
	if err != nil {
		c.computeFailures.Add(1)
	}
	RecordComputation(string(g), d.Seconds(), err)
	c.emit(Event{Kind: EventComputed})
}

// RecordDeduplicated records a lookup coalesced into an in-flight
// computation.
func (c *Collector) RecordDeduplicated() {
	c.deduplicated.Add(1)
	RecordDeduplicated()
}

// RecordInvalidated records entries removed from a tier.
func (c *Collector) RecordInvalidated(tierName string, count int) {
	c.invalidated.Add(int64(count))
	RecordInvalidated(tierName, count)
	c.emit(Event{Kind: EventInvalidated, Tier: tierName, Count: count})
}

// RecordInvalidationFailure records a per-tier invalidation failure.
func (c *Collector) RecordInvalidationFailure(tierName string) {
	c.invalidationFailures.Add(1)
	RecordInvalidationFailure(tierName)
}

// RecordPartialInvalidation records an invalidation abandoned after
// exhausting retries.
func (c *Collector) RecordPartialInvalidation() {
	c.partialInvalidations.Add(1)
	RecordPartialInvalidation()
}

// RecordCorruptEntry records a corrupt entry dropped on read.
func (c *Collector) RecordCorruptEntry(tierName string) {
	c.corruptEntries.Add(1)
	RecordCorruptEntry(tierName)
}

// RecordPromotion records an entry promoted into the named tier.
func (c *Collector) RecordPromotion(tierName string) {
	c.promotions.Add(1)
	RecordPromotion(tierName)
	c.emit(Event{Kind: EventPromoted, Tier: tierName})
}

// RecordRefreshPass records one refresh scheduler pass.
func (c *Collector) RecordRefreshPass() {
	c.refreshPasses.Add(1)
	RecordRefreshPass()
}

// RecordRefreshWarm records a refresh warm attempt.
func (c *Collector) RecordRefreshWarm(err error) {
	c.refreshWarms.Add(1)
	if err != nil {
		c.refreshFailures.Add(1)
	}
	RecordRefreshWarm(err)
}

// RecordRefreshSkipped records a refresh candidate dropped before
// warming.
func (c *Collector) RecordRefreshSkipped() {
	RecordRefreshSkipped()
}

// ObserveGetLatency records end-to-end lookup latency.
func (c *Collector) ObserveGetLatency(d time.Duration) {
	ObserveGetLatency(d.Seconds())
}

// UpdateTierStats publishes a tier's entry and byte gauges.
func (c *Collector) UpdateTierStats(tierName string, st tier.Stats) {
	UpdateTierGauges(tierName, st.Entries, st.Bytes)
}

// AccessRate returns the rolling-window access count for the key class
// of metric and granularity.
func (c *Collector) AccessRate(metric string, g cachekey.Granularity) int64 {
	return c.access.Rate(metric + ":" + string(g))
}

// Snapshot returns a point-in-time copy of the counters.
func (c *Collector) Snapshot() Snapshot {
	s := Snapshot{
		MemoryHits:           c.memoryHits.Load(),
		StructuredHits:       c.structuredHits.Load(),
		BlobHits:             c.blobHits.Load(),
		Misses:               c.misses.Load(),
		Deduplicated:         c.deduplicated.Load(),
		Computations:         c.computations.Load(),
		ComputeFailures:      c.computeFailures.Load(),
		InvalidatedEntries:   c.invalidated.Load(),
		InvalidationFailures: c.invalidationFailures.Load(),
		PartialInvalidations: c.partialInvalidations.Load(),
		CorruptEntries:       c.corruptEntries.Load(),
		Promotions:           c.promotions.Load(),
		RefreshPasses:        c.refreshPasses.Load(),
		RefreshWarms:         c.refreshWarms.Load(),
		RefreshFailures:      c.refreshFailures.Load(),
		DroppedEvents:        c.droppedEvents.Load(),
		TrackedClasses:       c.access.Len(),
	}
	hits := s.MemoryHits + s.StructuredHits + s.BlobHits
	s.Requests = hits + s.Misses
	if s.Requests > 0 {
		s.HitRate = float64(hits) / float64(s.Requests)
	}
	return s
}

// Close stops the event dispatcher. Record methods remain safe to call
// afterwards; their events are dropped.
func (c *Collector) Close() {
	c.closeOnce.Do(func() {
		close(c.stopCh)
		<-c.doneCh
	})
}

// emit hands an event to the dispatcher without blocking. Events are
// dropped (and counted) when the buffer is full or the collector is
// closed.
func (c *Collector) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.stopCh:
		c.droppedEvents.Add(1)
	default:
		c.droppedEvents.Add(1)
	}
}

func (c *Collector) dispatch() {
	defer close(c.doneCh)
	for {
		select {
		case ev := <-c.events:
			c.obsMu.RLock()
			for _, fn := range c.observers {
				fn(ev)
			}
			c.obsMu.RUnlock()
		case <-c.stopCh:
			return
		}
	}
}

func keyClass(k cachekey.Key) string {
	return k.Metric + ":" + string(k.Granularity)
}
