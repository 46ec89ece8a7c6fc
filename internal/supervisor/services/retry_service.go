// Chronocache - Multi-Tier Cache for Time-Series Analytics Aggregates
// Copyright 2026 J. Ostrander (jostrander)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jostrander/chronocache

package services

import (
	"context"
	"fmt"
)

// RetryLoop matches the invalidation controller's background loop
// lifecycle.
//
// Satisfied by *invalidation.Controller. The interface keeps this
// package decoupled from the invalidation package.
type RetryLoop interface {
	Start(ctx context.Context) error
	Stop()
}

// RetryService wraps the invalidation retry loop as a supervised
// service, adapting its Start/Stop lifecycle to suture's Serve:
//
//  1. Start(ctx) spawns the loop goroutine
//  2. Serve blocks until the context is canceled
//  3. Stop() waits for the loop to drain
//
// Pending retries survive a restart of the service; the controller
// keeps its queue across Start/Stop cycles.
type RetryService struct {
	loop RetryLoop
	name string
}

// NewRetryService creates a retry loop service wrapper.
func NewRetryService(loop RetryLoop) *RetryService {
	return &RetryService{
		loop: loop,
		name: "invalidation-retry",
	}
}

// Serve implements suture.Service. If Start fails the error is returned
// immediately so suture restarts the service under its backoff policy.
func (s *RetryService) Serve(ctx context.Context) error {
	if err := s.loop.Start(ctx); err != nil {
		return fmt.Errorf("invalidation retry loop start failed: %w", err)
	}

	<-ctx.Done()

	s.loop.Stop()
	return ctx.Err()
}

// String implements fmt.Stringer for supervisor log messages.
func (s *RetryService) String() string {
	return s.name
}
