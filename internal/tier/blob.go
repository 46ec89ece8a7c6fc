// Chronocache - Multi-Tier Cache for Time-Series Analytics Aggregates
// Copyright 2026 J. Ostrander (jostrander)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jostrander/chronocache

package tier

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	json "github.com/goccy/go-json"

	"github.com/jostrander/chronocache/internal/cachekey"
	"github.com/jostrander/chronocache/internal/logging"
)

// blobFrameVersion is bumped when the on-disk frame layout changes.
// Frames with an unknown version are treated as corrupt.
const blobFrameVersion = 1

// deleteBatchSize bounds how many deletes share one transaction during
// range invalidation, keeping each commit under BadgerDB's txn limit.
const deleteBatchSize = 1024

// blobHeader precedes every stored payload. The checksum covers the
// payload only; BadgerDB already checksums its own blocks, this one
// detects value-log truncation and application-level corruption.
type blobHeader struct {
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Checksum  uint64    `json:"checksum"`
}

// BlobConfig holds the tunables for the L3 tier.
type BlobConfig struct {
	// Path is the BadgerDB directory. Ignored when InMemory is set.
	Path string
	// InMemory keeps the store entirely in RAM. Used by tests.
	InMemory bool
	// SyncWrites forces fsync on every write. Off by default; the L3
	// tier holds recomputable data, so losing the tail is acceptable.
	SyncWrites bool
	// Compression selects the block compression: "snappy" (default),
	// "zstd" or "none".
	Compression string
	// GCInterval is how often the value log garbage collector runs.
	// 0 disables the background GC loop.
	GCInterval time.Duration
	// GCRatio is the space-reclaim threshold passed to BadgerDB.
	GCRatio float64
	// ValueLogFileSize caps individual value log files. 0 keeps the
	// BadgerDB default.
	ValueLogFileSize int64
}

// Blob is the L3 tier: a log-structured key-value store for large
// aggregate payloads. It holds the long tail that would thrash the
// tiers above, trading read latency for capacity.
//
// Each value is framed with a small JSON header carrying the payload
// checksum and lifecycle timestamps. A frame that fails to decode is
// deleted on read and reported as ErrCorruptEntry so callers fall
// through to recomputation.
type Blob struct {
	db  *badger.DB
	cfg BlobConfig

	closeMu sync.Mutex
	closed  bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

var _ Store = (*Blob)(nil)

// NewBlob opens (or creates) the blob tier at cfg.Path.
func NewBlob(cfg BlobConfig) (*Blob, error) {
	if cfg.GCRatio <= 0 || cfg.GCRatio >= 1 {
		cfg.GCRatio = 0.5
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("blob tier path is required")
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts.SyncWrites = cfg.SyncWrites
	if cfg.ValueLogFileSize > 0 {
		opts.ValueLogFileSize = cfg.ValueLogFileSize
	}

	switch strings.ToLower(cfg.Compression) {
	case "", "snappy":
		opts.Compression = options.Snappy
	case "zstd":
		opts.Compression = options.ZSTD
	case "none":
		opts.Compression = options.None
	default:
		return nil, fmt.Errorf("unknown blob compression %q", cfg.Compression)
	}

	// Reduce logging verbosity
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open blob tier: %w", err)
	}

	b := &Blob{db: db, cfg: cfg}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		b.startGC(cfg.GCInterval)
	}

	logging.Debug().
		Str("path", cfg.Path).
		Bool("in_memory", cfg.InMemory).
		Bool("sync_writes", cfg.SyncWrites).
		Msg("Blob tier opened")

	return b, nil
}

// Name implements Store.
func (b *Blob) Name() string { return NameBlob }

// Get implements Store. A frame that fails to decode is removed and
// surfaced as ErrCorruptEntry; callers treat it as a miss.
func (b *Blob) Get(_ context.Context, key string) (Entry, bool, error) {
	if b.isClosed() {
		return Entry{}, false, ErrClosed
	}

	var raw []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("read blob entry: %w", err)
	}

	e, err := decodeBlobFrame(key, raw)
	if err != nil {
		b.dropCorrupt(key, err)
		return Entry{}, false, err
	}

	if e.Expired(time.Now()) {
		if derr := b.Delete(context.Background(), key); derr != nil {
			logging.Warn().Err(derr).Str("key", key).Msg("Failed to drop expired blob entry")
		}
		return Entry{}, false, nil
	}

	e.TierOrigin = NameBlob
	return e, true, nil
}

// dropCorrupt removes a frame that failed validation so the slot heals
// on the next write.
func (b *Blob) dropCorrupt(key string, cause error) {
	logging.Warn().Err(cause).Str("key", key).Msg("Dropping corrupt blob entry")
	if err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	}); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		logging.Error().Err(err).Str("key", key).Msg("Failed to drop corrupt blob entry")
	}
}

// Set implements Store. Entries whose TTL already elapsed are not
// written. BadgerDB's own TTL mirrors the header's ExpiresAt so space
// is reclaimed even if the entry is never read again.
func (b *Blob) Set(_ context.Context, e Entry) error {
	if b.isClosed() {
		return ErrClosed
	}

	var ttl time.Duration
	if !e.ExpiresAt.IsZero() {
		ttl = time.Until(e.ExpiresAt)
		if ttl <= 0 {
			return nil
		}
	}

	frame, err := encodeBlobFrame(e)
	if err != nil {
		return fmt.Errorf("encode blob entry: %w", err)
	}

	return b.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(e.Key), frame)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
}

// Delete implements Store.
func (b *Blob) Delete(_ context.Context, key string) error {
	if b.isClosed() {
		return ErrClosed
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("delete blob entry: %w", err)
	}
	return nil
}

// DeleteRange implements Store: one read pass collects the matching
// keys, then deletes run in bounded batches.
func (b *Blob) DeleteRange(ctx context.Context, r cachekey.KeyRange) (int, error) {
	if b.isClosed() {
		return 0, ErrClosed
	}

	prefix := []byte(r.Prefix())
	var matched [][]byte

	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			k, err := cachekey.Decode(string(key))
			if err != nil {
				continue
			}
			if r.Matches(k) {
				matched = append(matched, key)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan blob range: %w", err)
	}

	removed := 0
	for start := 0; start < len(matched); start += deleteBatchSize {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}
		end := min(start+deleteBatchSize, len(matched))
		err := b.db.Update(func(txn *badger.Txn) error {
			for _, key := range matched[start:end] {
				if err := txn.Delete(key); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return removed, fmt.Errorf("delete blob range: %w", err)
		}
		removed += end - start
	}
	return removed, nil
}

// Keys implements Store.
func (b *Blob) Keys(_ context.Context, prefix string) ([]string, error) {
	if b.isClosed() {
		return nil, ErrClosed
	}

	p := []byte(prefix)
	var keys []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list blob keys: %w", err)
	}
	return keys, nil
}

// Stats implements Store. Bytes counts stored frame sizes, not the
// value log footprint on disk.
func (b *Blob) Stats(_ context.Context) (Stats, error) {
	if b.isClosed() {
		return Stats{}, ErrClosed
	}

	var st Stats
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			st.Entries++
			st.Bytes += it.Item().ValueSize()
		}
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("read blob stats: %w", err)
	}
	return st, nil
}

// Flush implements Store by dropping every entry.
func (b *Blob) Flush(_ context.Context) error {
	if b.isClosed() {
		return ErrClosed
	}
	if err := b.db.DropAll(); err != nil {
		return fmt.Errorf("flush blob tier: %w", err)
	}
	return nil
}

// RunGC triggers value log garbage collection, looping until BadgerDB
// reports nothing left to rewrite.
func (b *Blob) RunGC() error {
	if b.isClosed() {
		return ErrClosed
	}
	for {
		err := b.db.RunValueLogGC(b.cfg.GCRatio)
		if errors.Is(err, badger.ErrNoRewrite) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("blob value log GC: %w", err)
		}
	}
}

// Close implements Store.
func (b *Blob) Close() error {
	b.closeMu.Lock()
	if b.closed {
		b.closeMu.Unlock()
		return nil
	}
	b.closed = true
	stopCh, doneCh := b.stopCh, b.doneCh
	b.closeMu.Unlock()

	if stopCh != nil {
		close(stopCh)
		<-doneCh
	}

	if err := b.db.Close(); err != nil {
		return fmt.Errorf("close blob tier: %w", err)
	}
	return nil
}

func (b *Blob) isClosed() bool {
	b.closeMu.Lock()
	defer b.closeMu.Unlock()
	return b.closed
}

func (b *Blob) startGC(interval time.Duration) {
	b.stopCh = make(chan struct{})
	b.doneCh = make(chan struct{})

	go func() {
		defer close(b.doneCh)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := b.RunGC(); err != nil && !errors.Is(err, ErrClosed) {
					logging.Warn().Err(err).Msg("Blob value log GC failed")
				}
			case <-b.stopCh:
				return
			}
		}
	}()
}

// encodeBlobFrame lays out uvarint(len(header)) | header JSON | payload.
func encodeBlobFrame(e Entry) ([]byte, error) {
	h := blobHeader{
		Version:   blobFrameVersion,
		CreatedAt: e.CreatedAt.UTC(),
		Checksum:  xxhash.Sum64(e.Value),
	}
	if !e.ExpiresAt.IsZero() {
		h.ExpiresAt = e.ExpiresAt.UTC()
	}

	hdr, err := json.Marshal(h)
	if err != nil {
		return nil, err
	}

	frame := make([]byte, 0, binary.MaxVarintLen32+len(hdr)+len(e.Value))
	frame = binary.AppendUvarint(frame, uint64(len(hdr)))
	frame = append(frame, hdr...)
	frame = append(frame, e.Value...)
	return frame, nil
}

// decodeBlobFrame validates and unpacks a stored frame. All failure
// modes map to ErrCorruptEntry.
func decodeBlobFrame(key string, raw []byte) (Entry, error) {
	hdrLen, n := binary.Uvarint(raw)
	if n <= 0 || hdrLen > uint64(len(raw)-n) {
		return Entry{}, fmt.Errorf("%w: truncated frame header for %s", ErrCorruptEntry, key)
	}

	hdrEnd := n + int(hdrLen)
	var h blobHeader
	if err := json.Unmarshal(raw[n:hdrEnd], &h); err != nil {
		return Entry{}, fmt.Errorf("%w: undecodable frame header for %s: %s", ErrCorruptEntry, key, err)
	}
	if h.Version != blobFrameVersion {
		return Entry{}, fmt.Errorf("%w: unsupported frame version %d for %s", ErrCorruptEntry, h.Version, key)
	}

	payload := raw[hdrEnd:]
	if h.Checksum != xxhash.Sum64(payload) {
		return Entry{}, fmt.Errorf("%w: checksum mismatch for %s", ErrCorruptEntry, key)
	}

	return Entry{
		Key:       key,
		Value:     payload,
		SizeBytes: int64(len(payload)),
		CreatedAt: h.CreatedAt,
		ExpiresAt: h.ExpiresAt,
	}, nil
}
