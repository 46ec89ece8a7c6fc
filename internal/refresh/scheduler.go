// Chronocache - Multi-Tier Cache for Time-Series Analytics Aggregates
// Copyright 2026 J. Ostrander (jostrander)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jostrander/chronocache

// Package refresh recomputes frequently read aggregates before their
// cache entries expire, so hot dashboards never stall on a cold
// recompute.
//
// Each pass the scheduler asks the structured tier for entries whose
// remaining TTL is below the low-water mark, keeps the key classes
// readers are actually hitting (rolling-window access rate from the
// metrics collector), and warms the survivors through the
// orchestrator. A worker semaphore and a token-bucket rate limiter
// keep background recomputation from starving foreground lookups.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jostrander/chronocache/internal/cachekey"
	"github.com/jostrander/chronocache/internal/logging"
	"github.com/jostrander/chronocache/internal/metrics"
	"github.com/jostrander/chronocache/internal/orchestrator"
)

// ComputeProvider resolves the computation for a key the scheduler
// wants to refresh. Returning false skips the key and the entry simply
// expires, for example after the underlying dataset was deleted.
// Providers are called concurrently and must be safe for concurrent
// use.
type ComputeProvider func(k cachekey.Key) (orchestrator.ComputeFunc, bool)

// ExpiringLister reports encoded keys whose entries expire within the
// given window, soonest first. *tier.Structured satisfies it.
type ExpiringLister interface {
	ExpiringSoon(ctx context.Context, within time.Duration, limit int) ([]string, error)
}

// Warmer recomputes and stores a single key without counting the work
// as foreground traffic. *orchestrator.Orchestrator satisfies it.
type Warmer interface {
	Warm(ctx context.Context, key cachekey.Key, compute orchestrator.ComputeFunc, opts ...orchestrator.Option) error
}

// Config holds configuration for the refresh scheduler.
type Config struct {
	// Interval is how often a refresh pass runs (default: 1 minute)
	Interval time.Duration

	// LowWater is the remaining-TTL window that makes an entry a
	// refresh candidate (default: 5 minutes)
	LowWater time.Duration

	// ScanLimit caps how many candidates one pass pulls from the
	// structured tier (default: 256)
	ScanLimit int

	// MinAccessRate is the rolling-window access count a key class
	// must reach before it is worth refreshing (default: 3)
	MinAccessRate int64

	// MaxConcurrent is the maximum number of warm computations running
	// at once (default: 4)
	MaxConcurrent int

	// WarmsPerSecond rate-limits warm starts within a pass (default: 8)
	WarmsPerSecond float64

	// WarmTimeout is the maximum time allowed for a single warm
	// computation (default: 30 seconds)
	WarmTimeout time.Duration

	// Enabled controls whether the scheduler is active
	Enabled bool
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		Interval:       time.Minute,
		LowWater:       5 * time.Minute,
		ScanLimit:      256,
		MinAccessRate:  3,
		MaxConcurrent:  4,
		WarmsPerSecond: 8,
		WarmTimeout:    30 * time.Second,
		Enabled:        true,
	}
}

// Scheduler drives refresh-ahead warming of soon-to-expire entries.
type Scheduler struct {
	lister    ExpiringLister
	warmer    Warmer
	provider  ComputeProvider
	collector *metrics.Collector
	config    Config

	limiter *rate.Limiter

	// Runtime state
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	stopCh  chan struct{}
	doneCh  chan struct{}

	jobMu sync.Mutex
	jobs  map[string]warmJob
}

// warmJob tracks an in-flight warm so an overlapping invalidation can
// cancel it before stale data is recomputed into the cache.
type warmJob struct {
	key    cachekey.Key
	cancel context.CancelFunc
}

// NewScheduler creates a refresh scheduler.
func NewScheduler(lister ExpiringLister, warmer Warmer, provider ComputeProvider, collector *metrics.Collector, config Config) *Scheduler {
	if config.Interval <= 0 {
		config.Interval = time.Minute
	}
	if config.LowWater <= 0 {
		config.LowWater = 5 * time.Minute
	}
	if config.ScanLimit <= 0 {
		config.ScanLimit = 256
	}
	if config.MinAccessRate <= 0 {
		config.MinAccessRate = 3
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}
	if config.WarmsPerSecond <= 0 {
		config.WarmsPerSecond = 8
	}
	if config.WarmTimeout <= 0 {
		config.WarmTimeout = 30 * time.Second
	}

	return &Scheduler{
		lister:    lister,
		warmer:    warmer,
		provider:  provider,
		collector: collector,
		config:    config,
		limiter:   rate.NewLimiter(rate.Limit(config.WarmsPerSecond), config.MaxConcurrent),
		jobs:      make(map[string]warmJob),
	}
}

// Start begins the scheduler loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("refresh scheduler already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	if !s.config.Enabled {
		logging.Info().Msg("Refresh scheduler disabled")
		// Keep goroutine alive but don't do anything
		go func() {
			defer close(s.doneCh)
			<-s.stopCh
		}()
		return nil
	}

	logging.Info().
		Dur("interval", s.config.Interval).
		Dur("low_water", s.config.LowWater).
		Int("max_concurrent", s.config.MaxConcurrent).
		Int64("min_access_rate", s.config.MinAccessRate).
		Msg("Starting refresh scheduler")

	go s.run(runCtx)
	return nil
}

// Stop stops the scheduler loop, cancels in-flight warm work and waits
// for the loop to exit.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	logging.Info().Msg("Stopping refresh scheduler...")
	close(s.stopCh)
	cancel()
	<-s.doneCh

	logging.Info().Msg("Refresh scheduler stopped")
	return nil
}

// IsRunning returns whether the scheduler is currently running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Serve implements suture.Service by adapting the Start/Stop lifecycle
// to a context-bound run.
func (s *Scheduler) Serve(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return fmt.Errorf("refresh scheduler start failed: %w", err)
	}

	<-ctx.Done()

	if err := s.Stop(); err != nil {
		return fmt.Errorf("refresh scheduler stop failed: %w", err)
	}
	return ctx.Err()
}

// String implements fmt.Stringer for supervisor logging.
func (s *Scheduler) String() string {
	return "refresh-scheduler"
}

// AbortMatching cancels in-flight warm work for keys the pattern
// covers and reports how many jobs were canceled. Wire it to the
// invalidation controller's observer so a dataset mutation cannot race
// a stale recompute back into the cache.
func (s *Scheduler) AbortMatching(p cachekey.Pattern) int {
	p = p.Normalize()

	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	aborted := 0
	for _, job := range s.jobs {
		if p.Matches(job.key) {
			job.cancel()
			aborted++
		}
	}
	return aborted
}

// run is the main scheduler loop.
func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	// Run immediately on start
	s.refreshPass(ctx)

	for {
		select {
		case <-ticker.C:
			s.refreshPass(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// refreshPass scans for entries near expiry and warms the ones readers
// are still hitting.
func (s *Scheduler) refreshPass(ctx context.Context) {
	s.collector.RecordRefreshPass()

	keys, err := s.lister.ExpiringSoon(ctx, s.config.LowWater, s.config.ScanLimit)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to list entries near expiry")
		return
	}

	if len(keys) == 0 {
		logging.Debug().Msg("No entries near expiry")
		return
	}

	candidates := make([]cachekey.Key, 0, len(keys))
	for _, raw := range keys {
		k, err := cachekey.Decode(raw)
		if err != nil {
			logging.Warn().Err(err).Str("key", raw).Msg("Skipping undecodable cache key")
			continue
		}
		if s.collector.AccessRate(k.Metric, k.Granularity) < s.config.MinAccessRate {
			s.collector.RecordRefreshSkipped()
			continue
		}
		candidates = append(candidates, k)
	}

	if len(candidates) == 0 {
		logging.Debug().Int("scanned", len(keys)).Msg("No entries near expiry are hot enough to warm")
		return
	}

	logging.Info().
		Int("scanned", len(keys)).
		Int("count", len(candidates)).
		Msg("Warming entries near expiry")

	// Warm candidates with concurrency and rate limits
	sem := make(chan struct{}, s.config.MaxConcurrent)
	var wg sync.WaitGroup

	for _, k := range candidates {
		if err := s.limiter.Wait(ctx); err != nil {
			break
		}

		wg.Add(1)
		sem <- struct{}{} // Acquire semaphore

		go func(k cachekey.Key) {
			defer wg.Done()
			defer func() { <-sem }() // Release semaphore

			s.warmOne(ctx, k)
		}(k)
	}

	wg.Wait()
}

// warmOne recomputes a single key through the orchestrator.
func (s *Scheduler) warmOne(ctx context.Context, k cachekey.Key) {
	compute, ok := s.provider(k)
	if !ok {
		s.collector.RecordRefreshSkipped()
		return
	}

	warmCtx, cancel := context.WithTimeout(ctx, s.config.WarmTimeout)
	defer cancel()

	encoded := k.Encode()
	s.trackJob(encoded, k, cancel)
	defer s.untrackJob(encoded)

	// Candidates come from ExpiringSoon, so the entry is still live in
	// the tiers. Without the freshness floor the warm would just read it
	// back instead of recomputing.
	err := s.warmer.Warm(warmCtx, k, compute, orchestrator.WithMinFreshness(s.config.LowWater))
	s.collector.RecordRefreshWarm(err)

	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		logging.Debug().Str("key", encoded).Msg("Warm aborted")
	default:
		logging.Warn().Err(err).Str("key", encoded).Msg("Warm failed")
	}
}

func (s *Scheduler) trackJob(encoded string, k cachekey.Key, cancel context.CancelFunc) {
	s.jobMu.Lock()
	s.jobs[encoded] = warmJob{key: k, cancel: cancel}
	s.jobMu.Unlock()
}

func (s *Scheduler) untrackJob(encoded string) {
	s.jobMu.Lock()
	delete(s.jobs, encoded)
	s.jobMu.Unlock()
}
