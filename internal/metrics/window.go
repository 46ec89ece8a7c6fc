// Chronocache - Multi-Tier Cache for Time-Series Analytics Aggregates
// Copyright 2026 J. Ostrander (jostrander)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jostrander/chronocache

package metrics

import (
	"sync"
	"time"
)

// AccessWindow counts accesses over a rolling window using a bucketed
// ring. Time is divided into fixed buckets; counts older than the
// window fall out as the ring advances.
//
// Complexity:
//   - Observe: O(1)
//   - Rate: O(k) where k = number of buckets
//   - Memory: O(k) per window
type AccessWindow struct {
	mu         sync.Mutex
	ring       []int64
	bucketSize time.Duration
	numBuckets int
	current    int
	lastUpdate time.Time
}

// NewAccessWindow creates a window of the given total duration divided
// into numBuckets buckets.
func NewAccessWindow(window time.Duration, numBuckets int) *AccessWindow {
	if numBuckets <= 0 {
		numBuckets = 10
	}
	if window <= 0 {
		window = 15 * time.Minute
	}

	return &AccessWindow{
		ring:       make([]int64, numBuckets),
		bucketSize: window / time.Duration(numBuckets),
		numBuckets: numBuckets,
		lastUpdate: time.Now(),
	}
}

// Observe records one access in the current bucket.
func (w *AccessWindow) Observe() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.advance()
	w.ring[w.current]++
}

// Rate returns the number of accesses recorded within the window.
func (w *AccessWindow) Rate() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.advance()

	var total int64
	for _, n := range w.ring {
		total += n
	}
	return total
}

// advance rotates the ring forward by however many buckets have elapsed
// since the last update. Must be called with the lock held.
func (w *AccessWindow) advance() {
	now := time.Now()
	elapsed := int(now.Sub(w.lastUpdate) / w.bucketSize)
	if elapsed <= 0 {
		return
	}

	if elapsed >= w.numBuckets {
		for i := range w.ring {
			w.ring[i] = 0
		}
		w.current = 0
	} else {
		for i := 0; i < elapsed; i++ {
			w.current = (w.current + 1) % w.numBuckets
			w.ring[w.current] = 0
		}
	}

	w.lastUpdate = now
}

// AccessTracker maps key classes (metric plus granularity) to rolling
// access windows. The refresh scheduler consults it to decide which
// soon-to-expire aggregates are still worth recomputing.
type AccessTracker struct {
	mu         sync.RWMutex
	windows    map[string]*AccessWindow
	window     time.Duration
	numBuckets int
	maxClasses int
}

// NewAccessTracker creates a tracker. maxClasses bounds the map; 0
// means unlimited.
func NewAccessTracker(window time.Duration, numBuckets, maxClasses int) *AccessTracker {
	return &AccessTracker{
		windows:    make(map[string]*AccessWindow),
		window:     window,
		numBuckets: numBuckets,
		maxClasses: maxClasses,
	}
}

// Observe records one access for the given class.
func (t *AccessTracker) Observe(class string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	w, ok := t.windows[class]
	if !ok {
		if t.maxClasses > 0 && len(t.windows) >= t.maxClasses {
			t.evictOne()
		}
		w = NewAccessWindow(t.window, t.numBuckets)
		t.windows[class] = w
	}
	w.Observe()
}

// Rate returns the access count for the class within the window.
func (t *AccessTracker) Rate(class string) int64 {
	t.mu.RLock()
	w, ok := t.windows[class]
	t.mu.RUnlock()

	if !ok {
		return 0
	}
	return w.Rate()
}

// Len returns the number of tracked classes.
func (t *AccessTracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.windows)
}

// evictOne removes an arbitrary class. Must be called with the write
// lock held.
func (t *AccessTracker) evictOne() {
	for class := range t.windows {
		delete(t.windows, class)
		return
	}
}
