// Chronocache - Multi-Tier Cache for Time-Series Analytics Aggregates
// Copyright 2026 J. Ostrander (jostrander)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jostrander/chronocache

// Package invalidation turns data mutation events into cache
// invalidation patterns and applies them through the orchestrator.
// Tiers that fail their purge are retried in the background with
// exponential backoff until they succeed or exhaust their attempts.
package invalidation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jostrander/chronocache/internal/cachekey"
	"github.com/jostrander/chronocache/internal/logging"
	"github.com/jostrander/chronocache/internal/metrics"
	"github.com/jostrander/chronocache/internal/orchestrator"
)

// Invalidation reasons carried on notices.
const (
	ReasonImport = "import"
	ReasonDelete = "delete"
	ReasonManual = "manual"
)

// MutationEvent describes a change to the underlying time-series data.
// An empty Metric means every metric may be affected; an empty Source
// means the mutation could have touched any source partition.
type MutationEvent struct {
	Metric string    `json:"metric,omitempty"`
	Source string    `json:"source,omitempty"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
}

// Patterns expands the event into the invalidation patterns that cover
// it. A mutation in one source partition also staled every cross-source
// aggregate, so a concrete source expands to that source plus
// AllSources; an unknown source matches everything.
func (ev MutationEvent) Patterns() []cachekey.Pattern {
	base := cachekey.Pattern{Metric: ev.Metric, From: ev.Start, To: ev.End}
	if ev.Source == "" {
		return []cachekey.Pattern{base}
	}
	withSource := base
	withSource.Source = ev.Source
	withAll := base
	withAll.Source = cachekey.AllSources
	return []cachekey.Pattern{withSource, withAll}
}

// Notice is delivered to subscribers after a pattern has been applied.
type Notice struct {
	ID        string           `json:"id"`
	Pattern   cachekey.Pattern `json:"pattern"`
	Entries   int              `json:"entries"`
	Reason    string           `json:"reason"`
	Timestamp time.Time        `json:"timestamp"`
}

// Invalidator is the orchestrator surface the controller drives.
type Invalidator interface {
	Invalidate(ctx context.Context, p cachekey.Pattern) (int, error)
}

// Config holds the controller tunables.
type Config struct {
	// RetryInterval is how often the background loop scans for pending
	// tier purges.
	RetryInterval time.Duration
	// RetryBackoff is the base delay doubled per attempt.
	RetryBackoff time.Duration
	// MaxRetries is how many attempts a pending purge gets before it is
	// abandoned with a warning.
	MaxRetries int
	// MaxPending bounds the retry queue.
	MaxPending int
}

func (c *Config) applyDefaults() {
	if c.RetryInterval <= 0 {
		c.RetryInterval = 5 * time.Second
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 8
	}
	if c.MaxPending <= 0 {
		c.MaxPending = 4096
	}
}

// Controller applies mutation-driven invalidation synchronously and
// owns the background retry loop for tiers that failed their purge.
type Controller struct {
	inv       Invalidator
	collector *metrics.Collector
	cfg       Config

	// Loop control. Stop waits for the goroutine to exit.
	mu       sync.Mutex
	running  bool
	stopping bool
	stopDone chan struct{}
	cancel   context.CancelFunc

	pendingMu sync.Mutex
	pending   map[string]*pendingRetry

	obsMu     sync.RWMutex
	observers []func(Notice)
}

// pendingRetry is one pattern still owed to at least one tier.
type pendingRetry struct {
	id            string
	pattern       cachekey.Pattern
	reason        string
	attempts      int
	lastAttemptAt time.Time
	createdAt     time.Time
}

// NewController wires a controller over an orchestrator.
func NewController(inv Invalidator, collector *metrics.Collector, cfg Config) *Controller {
	cfg.applyDefaults()
	return &Controller{
		inv:       inv,
		collector: collector,
		cfg:       cfg,
		pending:   make(map[string]*pendingRetry),
	}
}

// Subscribe registers a callback fired after every applied
// invalidation. Callbacks run inline on the applying goroutine and must
// be fast; slow consumers should hand off to their own channel.
func (c *Controller) Subscribe(fn func(Notice)) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	c.observers = append(c.observers, fn)
}

// OnDataImported reacts to new data landing in the source store. The
// affected patterns are purged synchronously before returning, so a
// consumer that reads its own import never sees a stale aggregate.
func (c *Controller) OnDataImported(ctx context.Context, ev MutationEvent) (int, error) {
	metrics.RecordMutationEvent("imported")
	return c.applyEvent(ctx, ev, ReasonImport)
}

// OnDataDeleted reacts to data being removed from the source store.
func (c *Controller) OnDataDeleted(ctx context.Context, ev MutationEvent) (int, error) {
	metrics.RecordMutationEvent("deleted")
	return c.applyEvent(ctx, ev, ReasonDelete)
}

// Apply purges one explicit pattern, the manual/administrative path.
func (c *Controller) Apply(ctx context.Context, p cachekey.Pattern, reason string) (int, error) {
	if reason == "" {
		reason = ReasonManual
	}
	metrics.RecordMutationEvent(reason)
	return c.applyPattern(ctx, p, reason)
}

func (c *Controller) applyEvent(ctx context.Context, ev MutationEvent, reason string) (int, error) {
	total := 0
	var errs []error
	for _, p := range ev.Patterns() {
		n, err := c.applyPattern(ctx, p, reason)
		total += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}

// applyPattern runs one synchronous invalidation. A partial failure is
// returned to the caller and queued for background retry; the tiers
// that succeeded are already purged.
func (c *Controller) applyPattern(ctx context.Context, p cachekey.Pattern, reason string) (int, error) {
	n, err := c.inv.Invalidate(ctx, p)
	if err != nil {
		var partial *orchestrator.PartialInvalidationError
		if errors.As(err, &partial) {
			logging.Warn().
				Strs("failed_tiers", partial.FailedTiers()).
				Str("metric", p.Metric).
				Str("reason", reason).
				Msg("Invalidation incomplete, queueing retry")
			c.enqueueRetry(p, reason)
		}
		if n > 0 {
			c.notify(p, n, reason)
		}
		return n, err
	}
	c.notify(p, n, reason)
	return n, nil
}

func (c *Controller) notify(p cachekey.Pattern, entries int, reason string) {
	notice := Notice{
		ID:        uuid.New().String(),
		Pattern:   p,
		Entries:   entries,
		Reason:    reason,
		Timestamp: time.Now(),
	}
	c.obsMu.RLock()
	defer c.obsMu.RUnlock()
	for _, fn := range c.observers {
		fn(notice)
	}
}

func (c *Controller) enqueueRetry(p cachekey.Pattern, reason string) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	if len(c.pending) >= c.cfg.MaxPending {
		c.collector.RecordPartialInvalidation()
		logging.Error().
			Int("pending", len(c.pending)).
			Msg("Invalidation retry queue full, dropping entry; some tiers may serve stale data until TTL")
		return
	}
	id := uuid.New().String()
	now := time.Now()
	c.pending[id] = &pendingRetry{
		id:        id,
		pattern:   p,
		reason:    reason,
		createdAt: now,
	}
}

// PendingRetries reports how many patterns still owe a tier purge.
func (c *Controller) PendingRetries() int {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	return len(c.pending)
}
