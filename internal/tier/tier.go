// Chronocache - Multi-Tier Cache for Time-Series Analytics Aggregates
// Copyright 2026 J. Ostrander (jostrander)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jostrander/chronocache

// Package tier implements the three cache tiers and the Store contract
// they share.
//
// A tier is a dumb key-addressed store: it holds entries, expires them,
// and deletes them when told to. Policy lives above it. The orchestrator
// exclusively owns entry creation, promotion and invalidation; a tier
// never mutates its own contents except for the memory tier's bounded
// LRU eviction and the structured/blob tiers' TTL sweeps.
//
// The three implementations:
//
//   - Memory: in-process LRU bounded by entry count and total bytes.
//     Fastest, smallest, first consulted.
//   - Structured: embedded DuckDB file. Every entry row carries the
//     decoded key columns plus a composite index, so pattern
//     invalidation is an indexed delete instead of a scan. Survives
//     restarts.
//   - Blob: embedded Badger store for large or expensive artifacts,
//     with optional compression and checksummed envelopes.
//
// A miss is a (Entry{}, false, nil) return. It is ordinary control flow,
// never an error, and never conflated with a stored empty value.
package tier

import (
	"context"
	"errors"
	"time"

	"github.com/jostrander/chronocache/internal/cachekey"
)

// Tier names used in logs and metric labels.
const (
	NameMemory     = "memory"
	NameStructured = "structured"
	NameBlob       = "blob"
)

var (
	// ErrCorruptEntry reports a stored entry that failed deserialization
	// or checksum verification. The tier deletes the entry before
	// returning it; callers treat the lookup as a miss and continue to
	// the next tier.
	ErrCorruptEntry = errors.New("tier: corrupt entry")

	// ErrClosed reports an operation on a closed store.
	ErrClosed = errors.New("tier: store closed")
)

// Entry is one cached aggregate as a tier stores it. Value is opaque to
// the tier: serialization happens above the cache.
type Entry struct {
	// Key is the canonical encoded cache key.
	Key string

	// Value is the serialized aggregate payload.
	Value []byte

	// SizeBytes is the payload size when the entry was created.
	SizeBytes int64

	// CreatedAt is when the value was computed.
	CreatedAt time.Time

	// ExpiresAt is the absolute expiry instant; zero means no expiry.
	ExpiresAt time.Time

	// TierOrigin names the tier that served the entry. Stores set it on
	// reads; it is not persisted.
	TierOrigin string
}

// Expired reports whether the entry's TTL has lapsed at the given instant.
func (e Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// Stats is a tier's size accounting.
type Stats struct {
	Entries int64
	Bytes   int64
}

// Store is the contract every tier implements.
type Store interface {
	// Name returns the tier name for logs and metric labels.
	Name() string

	// Get looks up a key. A miss is (Entry{}, false, nil).
	Get(ctx context.Context, key string) (Entry, bool, error)

	// Set stores an entry, replacing any previous value for its key.
	Set(ctx context.Context, e Entry) error

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// DeleteRange removes every entry matching the key range and
	// returns how many were removed.
	DeleteRange(ctx context.Context, r cachekey.KeyRange) (int, error)

	// Keys returns the encoded keys starting with prefix; an empty
	// prefix returns all keys.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Stats returns current entry and byte counts.
	Stats(ctx context.Context) (Stats, error)

	// Flush removes every entry.
	Flush(ctx context.Context) error

	// Close releases the store's resources.
	Close() error
}
