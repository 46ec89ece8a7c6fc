// Chronocache - Multi-Tier Cache for Time-Series Analytics Aggregates
// Copyright 2026 J. Ostrander (jostrander)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jostrander/chronocache

// Package orchestrator composes the three cache tiers, the key codec
// and the single-flight group into the get-or-compute / invalidate /
// warm API consumers use. Consumers never touch tiers directly; entry
// creation and deletion happen only here.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/jostrander/chronocache/internal/cachekey"
	"github.com/jostrander/chronocache/internal/flight"
	"github.com/jostrander/chronocache/internal/logging"
	"github.com/jostrander/chronocache/internal/metrics"
	"github.com/jostrander/chronocache/internal/tier"
)

// ComputeFunc produces the serialized payload for a cache key. The
// cache never inspects what it computes.
type ComputeFunc = flight.ComputeFunc

// Config holds the orchestrator tunables.
type Config struct {
	// TTLDay, TTLWeek and TTLMonth set how long freshly computed
	// aggregates stay fresh per granularity. Zero means no TTL.
	TTLDay   time.Duration
	TTLWeek  time.Duration
	TTLMonth time.Duration

	// BlobCeilingBytes is the write-through ceiling: payloads strictly
	// larger go to the blob tier only and are never promoted above it.
	BlobCeilingBytes int64

	// BreakerFailureThreshold is how many consecutive blob tier
	// failures open the circuit breaker.
	BreakerFailureThreshold uint32
	// BreakerOpenTimeout is how long the breaker stays open before
	// probing again.
	BreakerOpenTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.TTLDay <= 0 {
		c.TTLDay = 30 * time.Minute
	}
	if c.TTLWeek <= 0 {
		c.TTLWeek = 2 * time.Hour
	}
	if c.TTLMonth <= 0 {
		c.TTLMonth = 6 * time.Hour
	}
	if c.BlobCeilingBytes <= 0 {
		c.BlobCeilingBytes = 256 << 10 // 256 KiB
	}
	if c.BreakerFailureThreshold == 0 {
		c.BreakerFailureThreshold = 5
	}
	if c.BreakerOpenTimeout <= 0 {
		c.BreakerOpenTimeout = 30 * time.Second
	}
}

// blobResult carries a blob tier read through the circuit breaker.
// Corruption is data-shaped, not a service failure, so it travels in
// its own field and never trips the breaker.
type blobResult struct {
	entry   tier.Entry
	found   bool
	corrupt error
}

// recentLister is the optional tier capability used by
// PrimeFromStructured.
type recentLister interface {
	MostRecentlyAccessed(ctx context.Context, n int) ([]string, error)
}

// Orchestrator is the public entry point of the cache. One instance is
// constructed at startup and handed to every consumer.
type Orchestrator struct {
	cfg Config

	memory     tier.Store
	structured tier.Store
	blob       tier.Store
	recents    recentLister

	group     *flight.Group
	collector *metrics.Collector
	breaker   *gobreaker.CircuitBreaker[blobResult]

	// inflight tracks keys with a computation underway so pattern
	// invalidation can drop their single-flight slots.
	inflightMu sync.Mutex
	inflight   map[string]*inflightRef

	closeMu sync.Mutex
	closed  bool
}

type inflightRef struct {
	key   cachekey.Key
	count int
}

// New wires an orchestrator over the given tiers. All three tiers and
// the collector are required; the orchestrator owns them and closes
// them on Close.
func New(cfg Config, memory, structured, blob tier.Store, collector *metrics.Collector) (*Orchestrator, error) {
	if memory == nil || structured == nil || blob == nil {
		return nil, errors.New("orchestrator requires all three tiers")
	}
	if collector == nil {
		return nil, errors.New("orchestrator requires a metrics collector")
	}
	cfg.applyDefaults()

	o := &Orchestrator{
		cfg:        cfg,
		memory:     memory,
		structured: structured,
		blob:       blob,
		group:      flight.NewGroup(),
		collector:  collector,
		inflight:   make(map[string]*inflightRef),
	}
	o.recents, _ = structured.(recentLister)

	o.breaker = gobreaker.NewCircuitBreaker[blobResult](gobreaker.Settings{
		Name:        blob.Name(),
		MaxRequests: 1,
		Timeout:     cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.UpdateBreakerState(name, breakerStateValue(to))
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Blob tier circuit breaker state changed")
		},
	})

	return o, nil
}

func breakerStateValue(s gobreaker.State) int {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}

// Option adjusts a single Get or Warm call.
type Option func(*callOptions)

type callOptions struct {
	ttl          time.Duration
	ttlSet       bool
	minFreshness time.Duration
}

// WithTTL overrides the granularity-derived TTL for this call's
// write-through. Zero disables expiry for the entry.
func WithTTL(d time.Duration) Option {
	return func(co *callOptions) {
		co.ttl = d
		co.ttlSet = true
	}
}

// WithMinFreshness treats a hit whose remaining TTL is below d as a
// miss, so the value is recomputed and rewritten with a fresh TTL
// instead of being read back. Refresh-ahead warming depends on it: a
// near-expiry entry is still live, and without a freshness floor every
// warm would hit that entry and refresh nothing.
func WithMinFreshness(d time.Duration) Option {
	return func(co *callOptions) {
		co.minFreshness = d
	}
}

// Get returns the cached value for key, walking memory, structured and
// blob tiers in order and promoting hits upward. On a full miss it
// computes the value exactly once across concurrent callers and writes
// it through the tiers. Compute failures propagate and cache nothing.
func (o *Orchestrator) Get(ctx context.Context, key cachekey.Key, compute ComputeFunc, opts ...Option) ([]byte, error) {
	return o.lookup(ctx, key, compute, false, opts...)
}

// Warm is Get for background refresh: same path, same single-flight,
// but recorded as refresh work instead of foreground traffic. Callers
// refreshing ahead of expiry combine it with WithMinFreshness; a bare
// Warm on a live entry is a lookup and recomputes nothing.
func (o *Orchestrator) Warm(ctx context.Context, key cachekey.Key, compute ComputeFunc, opts ...Option) error {
	_, err := o.lookup(ctx, key, compute, true, opts...)
	return err
}

func (o *Orchestrator) lookup(ctx context.Context, key cachekey.Key, compute ComputeFunc, background bool, opts ...Option) ([]byte, error) {
	if o.isClosed() {
		return nil, tier.ErrClosed
	}
	if err := key.Validate(); err != nil {
		return nil, err
	}

	var co callOptions
	for _, opt := range opts {
		opt(&co)
	}

	start := time.Now()
	if !background {
		defer func() {
			o.collector.ObserveGetLatency(time.Since(start))
		}()
	}

	encoded := key.Encode()

	// fresh rejects hits below the caller's freshness floor. Such an
	// entry is still live for plain Gets, so it is neither deleted nor
	// promoted here; the recompute's write-through replaces it.
	fresh := func(e tier.Entry) bool {
		if co.minFreshness <= 0 || e.ExpiresAt.IsZero() {
			return true
		}
		return time.Until(e.ExpiresAt) >= co.minFreshness
	}

	// L1
	if e, ok := o.tierGet(ctx, o.memory, encoded); ok && fresh(e) {
		if !background {
			o.collector.RecordHit(tier.NameMemory, key)
		}
		return e.Value, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("cache lookup canceled: %w", err)
	}

	// L2
	if e, ok := o.tierGet(ctx, o.structured, encoded); ok && fresh(e) {
		o.promote(ctx, e, o.memory)
		if !background {
			o.collector.RecordHit(tier.NameStructured, key)
		}
		return e.Value, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("cache lookup canceled: %w", err)
	}

	// L3
	if e, ok := o.blobGet(ctx, encoded); ok && fresh(e) {
		if e.SizeBytes <= o.cfg.BlobCeilingBytes {
			o.promote(ctx, e, o.structured)
			o.promote(ctx, e, o.memory)
		}
		if !background {
			o.collector.RecordHit(tier.NameBlob, key)
		}
		return e.Value, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("cache lookup canceled: %w", err)
	}

	if !background {
		o.collector.RecordMiss(key)
	}
	if compute == nil {
		return nil, fmt.Errorf("no compute function for key %s", encoded)
	}

	o.enterFlight(encoded, key)
	defer o.exitFlight(encoded)

	res, err := o.group.Do(ctx, encoded, func(fctx context.Context) ([]byte, error) {
		cstart := time.Now()
		value, cerr := compute(fctx)
		o.collector.RecordComputation(key.Granularity, time.Since(cstart), cerr)
		if cerr != nil {
			return nil, cerr
		}
		o.writeThrough(fctx, key, encoded, value, co)
		return value, nil
	})
	if err != nil {
		return nil, err
	}
	if res.Shared {
		o.collector.RecordDeduplicated()
	}
	return res.Value, nil
}

// tierGet reads one tier, degrading every tier-local failure to a miss.
// Corrupt entries were already deleted by the tier; anything else is
// logged and counted.
func (o *Orchestrator) tierGet(ctx context.Context, store tier.Store, encoded string) (tier.Entry, bool) {
	e, ok, err := store.Get(ctx, encoded)
	if err != nil {
		if errors.Is(err, tier.ErrCorruptEntry) {
			o.collector.RecordCorruptEntry(store.Name())
			logging.Warn().Err(err).Str("tier", store.Name()).Str("key", encoded).
				Msg("Corrupt cache entry dropped during lookup")
		} else {
			metrics.RecordTierError(store.Name(), "get")
			logging.Error().Err(err).Str("tier", store.Name()).Str("key", encoded).
				Msg("Tier read failed, treating as miss")
		}
		return tier.Entry{}, false
	}
	return e, ok
}

// blobGet reads the blob tier through the circuit breaker. An open
// breaker degrades to a miss.
func (o *Orchestrator) blobGet(ctx context.Context, encoded string) (tier.Entry, bool) {
	res, err := o.breaker.Execute(func() (blobResult, error) {
		e, ok, gerr := o.blob.Get(ctx, encoded)
		if gerr != nil {
			if errors.Is(gerr, tier.ErrCorruptEntry) {
				return blobResult{corrupt: gerr}, nil
			}
			return blobResult{}, gerr
		}
		return blobResult{entry: e, found: ok}, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			logging.Debug().Str("key", encoded).Msg("Blob tier breaker open, skipping read")
		} else {
			metrics.RecordTierError(o.blob.Name(), "get")
			logging.Error().Err(err).Str("key", encoded).Msg("Blob tier read failed, treating as miss")
		}
		return tier.Entry{}, false
	}
	if res.corrupt != nil {
		o.collector.RecordCorruptEntry(o.blob.Name())
		logging.Warn().Err(res.corrupt).Str("key", encoded).
			Msg("Corrupt blob entry dropped during lookup")
		return tier.Entry{}, false
	}
	return res.entry, res.found
}

// blobSet writes the blob tier through the circuit breaker. An open
// breaker skips the write; the entry is recomputable.
func (o *Orchestrator) blobSet(ctx context.Context, e tier.Entry) {
	_, err := o.breaker.Execute(func() (blobResult, error) {
		return blobResult{}, o.blob.Set(ctx, e)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			logging.Debug().Str("key", e.Key).Msg("Blob tier breaker open, skipping write")
			return
		}
		metrics.RecordTierError(o.blob.Name(), "set")
		logging.Error().Err(err).Str("key", e.Key).Msg("Blob tier write failed")
	}
}

// promote copies a hit into a faster tier. Promotion failures are not
// lookup failures.
func (o *Orchestrator) promote(ctx context.Context, e tier.Entry, into tier.Store) {
	e.TierOrigin = ""
	if err := into.Set(ctx, e); err != nil {
		metrics.RecordTierError(into.Name(), "set")
		logging.Warn().Err(err).Str("tier", into.Name()).Str("key", e.Key).
			Msg("Promotion write failed")
		return
	}
	o.collector.RecordPromotion(into.Name())
}

// writeThrough persists a freshly computed value: blob tier always,
// memory and structured tiers when the payload is under the ceiling.
// Failures are logged; the computed value is returned to callers
// regardless.
func (o *Orchestrator) writeThrough(ctx context.Context, key cachekey.Key, encoded string, value []byte, co callOptions) {
	now := time.Now()
	e := tier.Entry{
		Key:       encoded,
		Value:     value,
		SizeBytes: int64(len(value)),
		CreatedAt: now,
	}
	ttl := o.ttlFor(key.Granularity)
	if co.ttlSet {
		ttl = co.ttl
	}
	if ttl > 0 {
		e.ExpiresAt = now.Add(ttl)
	}

	o.blobSet(ctx, e)

	if e.SizeBytes > o.cfg.BlobCeilingBytes {
		return
	}
	if err := o.structured.Set(ctx, e); err != nil {
		metrics.RecordTierError(o.structured.Name(), "set")
		logging.Error().Err(err).Str("key", encoded).Msg("Structured tier write-through failed")
	}
	if err := o.memory.Set(ctx, e); err != nil {
		metrics.RecordTierError(o.memory.Name(), "set")
		logging.Error().Err(err).Str("key", encoded).Msg("Memory tier write-through failed")
	}
}

func (o *Orchestrator) ttlFor(g cachekey.Granularity) time.Duration {
	switch g {
	case cachekey.GranularityDay:
		return o.cfg.TTLDay
	case cachekey.GranularityWeek:
		return o.cfg.TTLWeek
	case cachekey.GranularityMonth:
		return o.cfg.TTLMonth
	default:
		return o.cfg.TTLDay
	}
}

func (o *Orchestrator) enterFlight(encoded string, key cachekey.Key) {
	o.inflightMu.Lock()
	defer o.inflightMu.Unlock()
	if ref, ok := o.inflight[encoded]; ok {
		ref.count++
		return
	}
	o.inflight[encoded] = &inflightRef{key: key, count: 1}
}

func (o *Orchestrator) exitFlight(encoded string) {
	o.inflightMu.Lock()
	defer o.inflightMu.Unlock()
	ref, ok := o.inflight[encoded]
	if !ok {
		return
	}
	ref.count--
	if ref.count <= 0 {
		delete(o.inflight, encoded)
	}
}

func (o *Orchestrator) isClosed() bool {
	o.closeMu.Lock()
	defer o.closeMu.Unlock()
	return o.closed
}

// Close shuts the orchestrator down: in-flight computations are
// cancelled and the tiers are closed back to front so faster tiers
// stop referencing slower ones first.
func (o *Orchestrator) Close() error {
	o.closeMu.Lock()
	if o.closed {
		o.closeMu.Unlock()
		return nil
	}
	o.closed = true
	o.closeMu.Unlock()

	o.group.Close()

	var errs []error
	for _, store := range []tier.Store{o.memory, o.structured, o.blob} {
		if err := store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s tier: %w", store.Name(), err))
		}
	}
	return errors.Join(errs...)
}
