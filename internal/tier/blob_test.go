// Chronocache - Multi-Tier Cache for Time-Series Analytics Aggregates
// Copyright 2026 J. Ostrander (jostrander)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jostrander/chronocache

package tier

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/jostrander/chronocache/internal/cachekey"
)

func newTestBlob(t *testing.T) *Blob {
	t.Helper()

	b, err := NewBlob(BlobConfig{InMemory: true})
	if err != nil {
		t.Fatalf("NewBlob: %v", err)
	}
	t.Cleanup(func() {
		if err := b.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return b
}

func TestBlobRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := newTestBlob(t)

	key := dayKey(t, "steps", "2025-01-15")
	e := entryFor(key, []byte(`{"sum":12000}`))
	e.ExpiresAt = time.Now().Add(time.Hour)

	if err := b.Set(ctx, e); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, ok, err := b.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected hit after Set")
	}
	if string(got.Value) != `{"sum":12000}` {
		t.Errorf("value = %q", got.Value)
	}
	if got.TierOrigin != NameBlob {
		t.Errorf("TierOrigin = %q, want %q", got.TierOrigin, NameBlob)
	}
	if got.SizeBytes != int64(len(e.Value)) {
		t.Errorf("SizeBytes = %d, want %d", got.SizeBytes, len(e.Value))
	}
	if !got.CreatedAt.Equal(e.CreatedAt.UTC()) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, e.CreatedAt.UTC())
	}
	if got.ExpiresAt.IsZero() {
		t.Error("ExpiresAt lost on round trip")
	}

	_, ok, err = b.Get(ctx, dayKey(t, "steps", "2025-01-16"))
	if err != nil {
		t.Fatalf("Get miss: %v", err)
	}
	if ok {
		t.Error("expected miss for absent key")
	}
}

func TestBlobCorruptFrameSelfHeals(t *testing.T) {
	ctx := context.Background()
	b := newTestBlob(t)

	key := dayKey(t, "steps", "2025-01-15")
	if err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), []byte("\x05not a frame"))
	}); err != nil {
		t.Fatalf("inject garbage: %v", err)
	}

	_, ok, err := b.Get(ctx, key)
	if ok {
		t.Fatal("corrupt frame must not produce a hit")
	}
	if !errors.Is(err, ErrCorruptEntry) {
		t.Fatalf("Get corrupt = %v, want ErrCorruptEntry", err)
	}

	// The offending key is dropped, so the next read is a clean miss.
	_, ok, err = b.Get(ctx, key)
	if err != nil || ok {
		t.Errorf("Get after self-heal = (%v, %v), want clean miss", ok, err)
	}
}

func TestBlobChecksumMismatch(t *testing.T) {
	ctx := context.Background()
	b := newTestBlob(t)

	key := dayKey(t, "steps", "2025-01-15")
	frame, err := encodeBlobFrame(entryFor(key, []byte("payload")))
	if err != nil {
		t.Fatalf("encodeBlobFrame: %v", err)
	}
	// Flip a payload bit so the header checksum no longer matches.
	frame[len(frame)-1] ^= 0xFF

	if err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), frame)
	}); err != nil {
		t.Fatalf("inject tampered frame: %v", err)
	}

	_, ok, err := b.Get(ctx, key)
	if ok || !errors.Is(err, ErrCorruptEntry) {
		t.Errorf("Get tampered = (%v, %v), want ErrCorruptEntry miss", ok, err)
	}
}

func TestBlobExpiredWriteSkipped(t *testing.T) {
	ctx := context.Background()
	b := newTestBlob(t)

	key := dayKey(t, "steps", "2025-01-15")
	e := entryFor(key, []byte("v"))
	e.ExpiresAt = time.Now().Add(-time.Minute)

	if err := b.Set(ctx, e); err != nil {
		t.Fatalf("Set expired: %v", err)
	}
	if _, ok, err := b.Get(ctx, key); err != nil || ok {
		t.Errorf("Get = (%v, %v), want miss for never-admitted entry", ok, err)
	}
}

func TestBlobDelete(t *testing.T) {
	ctx := context.Background()
	b := newTestBlob(t)

	key := dayKey(t, "steps", "2025-01-15")
	if err := b.Set(ctx, entryFor(key, []byte("v"))); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := b.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := b.Get(ctx, key); ok {
		t.Error("expected miss after Delete")
	}

	// Deleting an absent key is not an error.
	if err := b.Delete(ctx, key); err != nil {
		t.Errorf("Delete absent: %v", err)
	}
}

func TestBlobDeleteRange(t *testing.T) {
	ctx := context.Background()
	b := newTestBlob(t)

	inRange := []string{
		dayKey(t, "steps", "2025-01-01"),
		dayKey(t, "steps", "2025-01-15"),
		dayKey(t, "steps", "2025-01-31"),
	}
	outOfRange := []string{
		dayKey(t, "steps", "2024-12-31"),
		dayKey(t, "steps", "2025-02-01"),
		dayKey(t, "heart_rate", "2025-01-15"),
	}
	for _, k := range append(append([]string{}, inRange...), outOfRange...) {
		if err := b.Set(ctx, entryFor(k, []byte("v"))); err != nil {
			t.Fatalf("Set(%q): %v", k, err)
		}
	}

	p := cachekey.Pattern{
		Metric: "steps",
		From:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		To:     time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
	}
	var total int
	for _, r := range p.Ranges() {
		n, err := b.DeleteRange(ctx, r)
		if err != nil {
			t.Fatalf("DeleteRange: %v", err)
		}
		total += n
	}
	if total != len(inRange) {
		t.Errorf("DeleteRange removed %d, want %d", total, len(inRange))
	}

	for _, k := range inRange {
		if _, ok, _ := b.Get(ctx, k); ok {
			t.Errorf("expected %q removed", k)
		}
	}
	for _, k := range outOfRange {
		if _, ok, _ := b.Get(ctx, k); !ok {
			t.Errorf("expected %q retained", k)
		}
	}
}

func TestBlobKeysPrefix(t *testing.T) {
	ctx := context.Background()
	b := newTestBlob(t)

	steps := dayKey(t, "steps", "2025-01-01")
	heart := dayKey(t, "heart_rate", "2025-01-01")
	for _, k := range []string{steps, heart} {
		if err := b.Set(ctx, entryFor(k, []byte("v"))); err != nil {
			t.Fatalf("Set(%q): %v", k, err)
		}
	}

	keys, err := b.Keys(ctx, cachekey.Prefix("steps", cachekey.GranularityDay))
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 1 || keys[0] != steps {
		t.Errorf("Keys = %v, want [%q]", keys, steps)
	}
}

func TestBlobStatsAndFlush(t *testing.T) {
	ctx := context.Background()
	b := newTestBlob(t)

	for _, period := range []string{"2025-01-01", "2025-01-02"} {
		if err := b.Set(ctx, entryFor(dayKey(t, "steps", period), []byte("value"))); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}

	stats, err := b.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Entries != 2 {
		t.Errorf("Entries = %d, want 2", stats.Entries)
	}
	if stats.Bytes == 0 {
		t.Error("Bytes = 0, want > 0")
	}

	if err := b.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	stats, err = b.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats after Flush: %v", err)
	}
	if stats.Entries != 0 {
		t.Errorf("Entries after Flush = %d, want 0", stats.Entries)
	}
}

func TestBlobClosedOps(t *testing.T) {
	ctx := context.Background()
	b, err := NewBlob(BlobConfig{InMemory: true})
	if err != nil {
		t.Fatalf("NewBlob: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if _, _, err := b.Get(ctx, dayKey(t, "steps", "2025-01-01")); !errors.Is(err, ErrClosed) {
		t.Errorf("Get after Close = %v, want ErrClosed", err)
	}
	if err := b.Set(ctx, entryFor(dayKey(t, "steps", "2025-01-01"), []byte("v"))); !errors.Is(err, ErrClosed) {
		t.Errorf("Set after Close = %v, want ErrClosed", err)
	}
}

func TestBlobPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	b, err := NewBlob(BlobConfig{Path: dir})
	if err != nil {
		t.Fatalf("NewBlob: %v", err)
	}
	key := dayKey(t, "steps", "2025-01-15")
	if err := b.Set(ctx, entryFor(key, []byte("durable"))); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := NewBlob(BlobConfig{Path: dir})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() {
		if err := reopened.Close(); err != nil {
			t.Errorf("Close reopened: %v", err)
		}
	})

	got, ok, err := reopened.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("Get after reopen = (%v, %v)", ok, err)
	}
	if string(got.Value) != "durable" {
		t.Errorf("value = %q, want %q", got.Value, "durable")
	}
}

func TestDecodeBlobFrameRejections(t *testing.T) {
	valid, err := encodeBlobFrame(Entry{Key: "k", Value: []byte("payload"), CreatedAt: time.Now()})
	if err != nil {
		t.Fatalf("encodeBlobFrame: %v", err)
	}

	tests := []struct {
		name string
		raw  []byte
	}{
		{"empty", nil},
		{"header length overruns frame", []byte{0xFF, 0x01}},
		{"header not JSON", append([]byte{0x04}, []byte("????rest")...)},
		{"truncated mid header", valid[:3]},
		{"payload truncated", valid[:len(valid)-2]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeBlobFrame("k", tt.raw)
			if !errors.Is(err, ErrCorruptEntry) {
				t.Errorf("decodeBlobFrame(%q) = %v, want ErrCorruptEntry", tt.raw, err)
			}
		})
	}
}

func TestBlobFrameEmptyPayload(t *testing.T) {
	frame, err := encodeBlobFrame(Entry{Key: "k", CreatedAt: time.Now()})
	if err != nil {
		t.Fatalf("encodeBlobFrame: %v", err)
	}
	e, err := decodeBlobFrame("k", frame)
	if err != nil {
		t.Fatalf("decodeBlobFrame: %v", err)
	}
	if len(e.Value) != 0 {
		t.Errorf("Value = %q, want empty", e.Value)
	}
}

func FuzzDecodeBlobFrame(f *testing.F) {
	valid, err := encodeBlobFrame(Entry{Key: "k", Value: []byte("payload"), CreatedAt: time.Now()})
	if err != nil {
		f.Fatalf("encodeBlobFrame: %v", err)
	}

	f.Add(valid)
	f.Add([]byte{})
	f.Add([]byte{0x00})
	f.Add([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x01})
	f.Add(valid[:len(valid)/2])
	f.Add(bytes.Repeat([]byte{0x7F}, 512))

	f.Fuzz(func(t *testing.T, raw []byte) {
		e, err := decodeBlobFrame("fuzz", raw)
		if err != nil {
			if !errors.Is(err, ErrCorruptEntry) {
				t.Fatalf("rejection must be ErrCorruptEntry, got %v", err)
			}
			return
		}
		// Accepted frames must round-trip through encode.
		re, encErr := encodeBlobFrame(e)
		if encErr != nil {
			t.Fatalf("re-encode accepted frame: %v", encErr)
		}
		if len(re) == 0 {
			t.Fatal("re-encoded frame is empty")
		}
	})
}
