// Chronocache - Multi-Tier Cache for Time-Series Analytics Aggregates
// Copyright 2026 J. Ostrander (jostrander)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jostrander/chronocache

package invalidation

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/jostrander/chronocache/internal/logging"
)

// attemptTimeout bounds one background invalidation attempt.
const attemptTimeout = 10 * time.Second

// Start begins the background retry loop. It runs until Stop is called
// or the context is canceled.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()

	for c.stopping {
		stopDone := c.stopDone
		c.mu.Unlock()
		<-stopDone
		c.mu.Lock()
	}

	if c.running {
		c.mu.Unlock()
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running = true
	c.stopDone = make(chan struct{})
	done := c.stopDone

	c.mu.Unlock()

	go c.run(loopCtx, done)

	logging.Info().
		Dur("interval", c.cfg.RetryInterval).
		Int("max_retries", c.cfg.MaxRetries).
		Msg("Invalidation retry loop started")
	return nil
}

// Stop gracefully stops the retry loop and waits for it to exit.
// Pending retries stay queued for the next Start.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.running || c.stopping {
		c.mu.Unlock()
		return
	}

	c.cancel()
	c.running = false
	c.stopping = true
	stopDone := c.stopDone
	c.mu.Unlock()

	<-stopDone

	c.mu.Lock()
	c.stopping = false
	c.mu.Unlock()

	logging.Info().Msg("Invalidation retry loop stopped")
}

// IsRunning reports whether the retry loop is active.
func (c *Controller) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Controller) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.retryPending(ctx)
		}
	}
}

type retryResult int

const (
	retryResultSuccess retryResult = iota
	retryResultFailed
	retryResultMaxRetried
	retryResultSkipped
)

// retryPending walks the queue once, attempting every entry whose
// backoff has elapsed.
func (c *Controller) retryPending(ctx context.Context) {
	c.pendingMu.Lock()
	batch := make([]*pendingRetry, 0, len(c.pending))
	for _, pr := range c.pending {
		batch = append(batch, pr)
	}
	c.pendingMu.Unlock()

	if len(batch) == 0 {
		return
	}

	var succeeded, failed, abandoned int
	for _, pr := range batch {
		select {
		case <-ctx.Done():
			return
		default:
		}

		switch c.processRetry(ctx, pr) {
		case retryResultSuccess:
			succeeded++
		case retryResultFailed:
			failed++
		case retryResultMaxRetried:
			abandoned++
		}
	}

	if succeeded > 0 || failed > 0 || abandoned > 0 {
		logging.Info().
			Int("succeeded", succeeded).
			Int("failed", failed).
			Int("abandoned", abandoned).
			Msg("Invalidation retry pass complete")
	}
}

func (c *Controller) processRetry(ctx context.Context, pr *pendingRetry) retryResult {
	if pr.attempts >= c.cfg.MaxRetries {
		return c.abandonRetry(pr)
	}
	if !c.readyForRetry(pr) {
		return retryResultSkipped
	}

	attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
	n, err := c.inv.Invalidate(attemptCtx, pr.pattern)
	cancel()

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return retryResultSkipped
		}
		c.pendingMu.Lock()
		pr.attempts++
		pr.lastAttemptAt = time.Now()
		c.pendingMu.Unlock()
		logging.Warn().
			Err(err).
			Str("id", pr.id).
			Int("attempt", pr.attempts).
			Msg("Invalidation retry failed")
		return retryResultFailed
	}

	c.pendingMu.Lock()
	delete(c.pending, pr.id)
	c.pendingMu.Unlock()

	c.notify(pr.pattern, n, pr.reason)
	logging.Info().
		Str("id", pr.id).
		Int("entries", n).
		Int("attempts", pr.attempts+1).
		Msg("Invalidation retry succeeded")
	return retryResultSuccess
}

// abandonRetry drops an entry that exhausted its attempts. The affected
// tiers can serve stale data until the entries' TTLs expire, so this is
// surfaced as a warning and a metric.
func (c *Controller) abandonRetry(pr *pendingRetry) retryResult {
	c.pendingMu.Lock()
	delete(c.pending, pr.id)
	c.pendingMu.Unlock()

	c.collector.RecordPartialInvalidation()
	logging.Error().
		Str("id", pr.id).
		Str("metric", pr.pattern.Metric).
		Int("attempts", pr.attempts).
		Time("first_failed", pr.createdAt).
		Msg("Invalidation abandoned after max retries; stale entries remain until TTL")
	return retryResultMaxRetried
}

func (c *Controller) readyForRetry(pr *pendingRetry) bool {
	if pr.lastAttemptAt.IsZero() {
		return true
	}
	return time.Since(pr.lastAttemptAt) >= c.backoff(pr.attempts)
}

// backoff returns base * 2^attempts capped at five minutes.
func (c *Controller) backoff(attempts int) time.Duration {
	const maxBackoff = 5 * time.Minute
	if attempts > 50 {
		return maxBackoff
	}
	d := time.Duration(float64(c.cfg.RetryBackoff) * math.Pow(2, float64(attempts)))
	if d < 0 || d > maxBackoff {
		return maxBackoff
	}
	return d
}
