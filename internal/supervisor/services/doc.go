// Chronocache - Multi-Tier Cache for Time-Series Analytics Aggregates
// Copyright 2026 J. Ostrander (jostrander)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jostrander/chronocache

/*
Package services provides suture.Service wrappers for chronocache
components, translating their lifecycle patterns (Start/Stop, ticker
loops, ListenAndServe) into suture's context-aware Serve.

Available wrappers:

  - HTTPService wraps *http.Server with graceful connection draining
  - JanitorService sweeps expired entries out of the memory tier
  - RetryService runs the invalidation controller's retry loop

Components that already expose Serve(ctx) (refresh.Scheduler,
events.Bus) are added to the supervisor tree directly and need no
wrapper here.

Return values determine supervisor behavior: a non-nil error restarts
the service under the backoff policy, while ctx.Err() after a requested
shutdown stops it cleanly. All wrappers implement fmt.Stringer so
supervision events name the service in logs.
*/
package services
