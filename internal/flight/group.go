// Chronocache - Multi-Tier Cache for Time-Series Analytics Aggregates
// Copyright 2026 J. Ostrander (jostrander)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jostrander/chronocache

// Package flight collapses concurrent computations of the same cache
// key into a single execution. All callers waiting on a key receive the
// winner's result; callers whose context expires first detach with
// their own error while the shared computation keeps running.
package flight

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/singleflight"
)

// ErrComputationCancelled is returned to waiters when the group shuts
// down while their computation is still in flight.
var ErrComputationCancelled = errors.New("computation cancelled")

// ComputeFunc produces the value for a cache key. Implementations must
// honor ctx; the group cancels it on Close.
type ComputeFunc func(ctx context.Context) ([]byte, error)

// Group deduplicates concurrent executions per key.
//
// The executing function runs under the group's lifecycle context, not
// the context of whichever caller happened to arrive first. A caller
// timeout therefore never aborts work other callers are waiting on.
type Group struct {
	sf      singleflight.Group
	baseCtx context.Context
	cancel  context.CancelFunc
}

// NewGroup creates a Group. Close releases it.
func NewGroup() *Group {
	ctx, cancel := context.WithCancel(context.Background())
	return &Group{baseCtx: ctx, cancel: cancel}
}

// Result carries the outcome of a Do call.
type Result struct {
	// Value is the computed payload.
	Value []byte
	// Shared reports whether the result was delivered to more than
	// one caller, i.e. this call was deduplicated.
	Shared bool
}

// Do returns the result of fn for key, executing fn at most once across
// all concurrent callers of the same key. If ctx expires while waiting,
// Do returns ctx's error and the computation continues for the
// remaining waiters.
func (g *Group) Do(ctx context.Context, key string, fn ComputeFunc) (Result, error) {
	if err := g.baseCtx.Err(); err != nil {
		return Result{}, ErrComputationCancelled
	}

	ch := g.sf.DoChan(key, func() (interface{}, error) {
		value, err := fn(g.baseCtx)
		if err != nil {
			if g.baseCtx.Err() != nil {
				return nil, fmt.Errorf("%w: %s", ErrComputationCancelled, err)
			}
			return nil, err
		}
		return value, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Result{Shared: res.Shared}, res.Err
		}
		value, _ := res.Val.([]byte)
		return Result{Value: value, Shared: res.Shared}, nil
	case <-ctx.Done():
		return Result{}, fmt.Errorf("gave up waiting for computation: %w", ctx.Err())
	}
}

// Forget drops the in-flight record for key so the next Do executes fn
// again instead of joining a stale flight. Invalidation uses this to
// stop a freshly-invalidated key from being served by a computation
// that started before the invalidation.
func (g *Group) Forget(key string) {
	g.sf.Forget(key)
}

// Close cancels the lifecycle context handed to executing functions.
// Well-behaved computations observe it and unwind; their waiters
// receive ErrComputationCancelled.
func (g *Group) Close() {
	g.cancel()
}
