// Chronocache - Multi-Tier Cache for Time-Series Analytics Aggregates
// Copyright 2026 J. Ostrander (jostrander)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jostrander/chronocache

package services

import (
	"context"
	"time"
)

// ExpirySweeper matches the memory tier's expired-entry sweep.
//
// Satisfied by *tier.Memory. The interface keeps this package free of a
// tier import; the janitor only needs the sweep entry point.
type ExpirySweeper interface {
	CleanupExpired() int
}

// JanitorService periodically reaps expired entries from the memory
// tier. The tier already drops expired entries lazily on Get; the
// janitor exists so entries nobody reads again still release their
// bytes instead of waiting for LRU pressure.
type JanitorService struct {
	sweeper  ExpirySweeper
	interval time.Duration
	name     string
}

// NewJanitorService creates a janitor sweeping at the given interval.
// A non-positive interval falls back to one minute.
func NewJanitorService(sweeper ExpirySweeper, interval time.Duration) *JanitorService {
	if interval <= 0 {
		interval = time.Minute
	}
	return &JanitorService{
		sweeper:  sweeper,
		interval: interval,
		name:     "memory-janitor",
	}
}

// Serve implements suture.Service. Returns ctx.Err() on shutdown so the
// supervisor does not restart a service that was asked to stop.
func (s *JanitorService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweeper.CleanupExpired()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// String implements fmt.Stringer for supervisor log messages.
func (s *JanitorService) String() string {
	return s.name
}
