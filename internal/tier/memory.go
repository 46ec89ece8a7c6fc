// Chronocache - Multi-Tier Cache for Time-Series Analytics Aggregates
// Copyright 2026 J. Ostrander (jostrander)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jostrander/chronocache

package tier

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jostrander/chronocache/internal/cachekey"
)

// Memory default bounds, applied when a limit is zero or negative.
const (
	defaultMemoryMaxEntries = 4096
	defaultMemoryMaxBytes   = 64 << 20 // 64 MiB
)

// memoryNode is an entry in the LRU list.
type memoryNode struct {
	entry Entry
	prev  *memoryNode
	next  *memoryNode
}

// Memory is the L1 tier: a thread-safe strict-LRU store bounded by both
// entry count and aggregate payload bytes. Whichever bound is exceeded
// first drives eviction.
//
// The implementation is a doubly-linked list plus a hashmap, giving O(1)
// Get, Set, Delete and eviction. The single mutex is held only for the
// map and list operations; values are copied in and out so callers can
// never alias cached bytes.
//
// TTL expiry is lazy: an expired entry is dropped when a Get touches it
// or when eviction reaches it.
type Memory struct {
	mu sync.Mutex

	maxEntries int
	maxBytes   int64

	items map[string]*memoryNode

	// head.next is the most recently used, tail.prev the least.
	head *memoryNode
	tail *memoryNode

	curBytes int64
}

var _ Store = (*Memory)(nil)

// NewMemory creates the memory tier with the given bounds. Non-positive
// bounds fall back to package defaults.
func NewMemory(maxEntries int, maxBytes int64) *Memory {
	if maxEntries <= 0 {
		maxEntries = defaultMemoryMaxEntries
	}
	if maxBytes <= 0 {
		maxBytes = defaultMemoryMaxBytes
	}

	m := &Memory{
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
		items:      make(map[string]*memoryNode, maxEntries),
		head:       &memoryNode{},
		tail:       &memoryNode{},
	}
	m.head.next = m.tail
	m.tail.prev = m.head
	return m
}

// Name implements Store.
func (m *Memory) Name() string { return NameMemory }

// Get implements Store. Found entries move to the front of the LRU
// order; expired entries are removed on touch.
func (m *Memory) Get(_ context.Context, key string) (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	node, ok := m.items[key]
	if !ok {
		return Entry{}, false, nil
	}
	if node.entry.Expired(time.Now()) {
		m.removeNode(node)
		return Entry{}, false, nil
	}

	m.moveToFront(node)

	out := node.entry
	out.Value = bytes.Clone(node.entry.Value)
	out.TierOrigin = NameMemory
	return out, true, nil
}

// Set implements Store. An entry larger than the tier's whole byte
// budget is not admitted; it belongs to the lower tiers.
func (m *Memory) Set(_ context.Context, e Entry) error {
	size := int64(len(e.Value))
	if size > m.maxBytes {
		return nil
	}

	e.Value = bytes.Clone(e.Value)
	e.TierOrigin = ""

	m.mu.Lock()
	defer m.mu.Unlock()

	if node, ok := m.items[e.Key]; ok {
		m.curBytes += size - int64(len(node.entry.Value))
		node.entry = e
		m.moveToFront(node)
	} else {
		node = &memoryNode{entry: e}
		m.addToFront(node)
		m.items[e.Key] = node
		m.curBytes += size
	}

	for len(m.items) > m.maxEntries || m.curBytes > m.maxBytes {
		if !m.evictOldest() {
			break
		}
	}
	return nil
}

// Delete implements Store.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if node, ok := m.items[key]; ok {
		m.removeNode(node)
	}
	return nil
}

// DeleteRange implements Store by scanning the resident set. The tier is
// small by construction, so the scan is bounded by maxEntries.
func (m *Memory) DeleteRange(_ context.Context, r cachekey.KeyRange) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for node := m.tail.prev; node != m.head; {
		prev := node.prev
		if k, err := cachekey.Decode(node.entry.Key); err == nil && r.Matches(k) {
			m.removeNode(node)
			removed++
		}
		node = prev
	}
	return removed, nil
}

// Keys implements Store.
func (m *Memory) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.items))
	for k := range m.items {
		if prefix == "" || strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// Stats implements Store.
func (m *Memory) Stats(_ context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{Entries: int64(len(m.items)), Bytes: m.curBytes}, nil
}

// Flush implements Store.
func (m *Memory) Flush(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items = make(map[string]*memoryNode, m.maxEntries)
	m.head.next = m.tail
	m.tail.prev = m.head
	m.curBytes = 0
	return nil
}

// Close implements Store. The memory tier holds no external resources.
func (m *Memory) Close() error {
	return m.Flush(context.Background())
}

// CleanupExpired removes all expired entries and returns how many were
// removed. The sweep walks from the least recently used end, where
// expired entries accumulate.
func (m *Memory) CleanupExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	removed := 0
	for node := m.tail.prev; node != m.head; {
		prev := node.prev
		if node.entry.Expired(now) {
			m.removeNode(node)
			removed++
		}
		node = prev
	}
	return removed
}

// Internal methods (must be called with lock held)

// addToFront adds a node to the front of the list (most recently used).
func (m *Memory) addToFront(node *memoryNode) {
	node.prev = m.head
	node.next = m.head.next
	m.head.next.prev = node
	m.head.next = node
}

// moveToFront moves an existing node to the front of the list.
func (m *Memory) moveToFront(node *memoryNode) {
	node.prev.next = node.next
	node.next.prev = node.prev
	m.addToFront(node)
}

// removeNode removes a node from both the list and the map.
func (m *Memory) removeNode(node *memoryNode) {
	node.prev.next = node.next
	node.next.prev = node.prev
	delete(m.items, node.entry.Key)
	m.curBytes -= int64(len(node.entry.Value))
}

// evictOldest removes the least recently used entry. Returns false when
// the list is empty.
func (m *Memory) evictOldest() bool {
	oldest := m.tail.prev
	if oldest == m.head {
		return false
	}
	m.removeNode(oldest)
	return true
}
