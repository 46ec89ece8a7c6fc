// Chronocache - Multi-Tier Cache for Time-Series Analytics Aggregates
// Copyright 2026 J. Ostrander (jostrander)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jostrander/chronocache

// Package cachekey defines the canonical cache key format shared by every
// tier and by the invalidation machinery.
//
// A key identifies one cached aggregate:
//
//	(metric, granularity, period, source, kind)
//
// and encodes to a single line of text:
//
//	steps:day:2025-01-15:all:summary
//	heart_rate:week:2025-W03:deviceA:trend
//
// Two properties of the encoding are load-bearing and must not be broken:
//
//  1. Encode is deterministic and Decode is its exact inverse. Identical
//     logical requests always map to byte-identical keys, which is what
//     tier lookups and single-flight coalescing key on.
//  2. Period identifiers are zero-padded fixed-width forms, so the
//     lexicographic order of encoded keys equals chronological order
//     within a (metric, granularity) prefix. Range invalidation scans
//     rely on this: the period segment sits before the source segment
//     precisely so a prefix plus a period range covers every source.
//
// Fields that could collide with the segment separator are
// percent-escaped; period and granularity segments have validated
// charsets and are never altered by escaping.
package cachekey

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// AllSources is the source value for aggregates spanning every source.
// An empty source passed to New is canonicalized to this sentinel, so
// "no source" and "all sources" produce the same key.
const AllSources = "all"

// segments is the number of colon-separated segments in an encoded key.
const segments = 5

// ErrMalformedKey reports a key string that does not decode to a valid key.
var ErrMalformedKey = errors.New("cachekey: malformed key")

// Granularity is the time bucketing of an aggregate.
type Granularity string

// Granularity values, ordered finest to coarsest.
const (
	GranularityDay   Granularity = "day"
	GranularityWeek  Granularity = "week"
	GranularityMonth Granularity = "month"
)

// Granularities returns all granularities, finest first.
func Granularities() []Granularity {
	return []Granularity{GranularityDay, GranularityWeek, GranularityMonth}
}

// Valid reports whether g is a known granularity.
func (g Granularity) Valid() bool {
	switch g {
	case GranularityDay, GranularityWeek, GranularityMonth:
		return true
	}
	return false
}

// ParseGranularity converts a string to a Granularity.
func ParseGranularity(s string) (Granularity, error) {
	g := Granularity(strings.ToLower(strings.TrimSpace(s)))
	if !g.Valid() {
		return "", fmt.Errorf("%w: unknown granularity %q", ErrMalformedKey, s)
	}
	return g, nil
}

// Key identifies one cached aggregate. Construct with New so fields are
// normalized; a zero Key is not valid.
type Key struct {
	// Metric is the lower-cased, trimmed metric name (e.g. "steps").
	Metric string

	// Granularity is the time bucketing of the aggregate.
	Granularity Granularity

	// Period is the canonical period identifier for the granularity:
	// "2006-01-02" for day, "2006-W02" (ISO week) for week, "2006-01"
	// for month.
	Period string

	// Source is the data source partition, or AllSources.
	Source string

	// Kind is the aggregate kind (e.g. "summary", "trend").
	Kind string
}

// New builds a normalized, validated Key.
//
// Metric and kind are lower-cased and trimmed and must be simple
// identifiers. An empty source means the aggregate spans all sources and
// is canonicalized to AllSources. The period must already be in the
// canonical form for the granularity.
func New(metric string, g Granularity, period, source, kind string) (Key, error) {
	k := Key{
		Metric:      strings.ToLower(strings.TrimSpace(metric)),
		Granularity: g,
		Period:      strings.TrimSpace(period),
		Source:      strings.TrimSpace(source),
		Kind:        strings.ToLower(strings.TrimSpace(kind)),
	}
	if k.Source == "" {
		k.Source = AllSources
	}
	if err := k.Validate(); err != nil {
		return Key{}, err
	}
	return k, nil
}

// NewForTime builds a Key for the period containing t at granularity g.
func NewForTime(metric string, g Granularity, t time.Time, source, kind string) (Key, error) {
	if !g.Valid() {
		return Key{}, fmt.Errorf("%w: unknown granularity %q", ErrMalformedKey, string(g))
	}
	return New(metric, g, PeriodOf(g, t), source, kind)
}

// Validate checks every field holds its canonical form. Keys built by
// New or Decode are always valid; hand-assembled keys should be checked
// before use.
func (k Key) Validate() error {
	if k.Metric == "" || !isIdentifier(k.Metric) {
		return fmt.Errorf("%w: invalid metric %q", ErrMalformedKey, k.Metric)
	}
	if k.Kind == "" || !isIdentifier(k.Kind) {
		return fmt.Errorf("%w: invalid kind %q", ErrMalformedKey, k.Kind)
	}
	if k.Source == "" {
		return fmt.Errorf("%w: empty source", ErrMalformedKey)
	}
	if !k.Granularity.Valid() {
		return fmt.Errorf("%w: unknown granularity %q", ErrMalformedKey, string(k.Granularity))
	}
	if err := ValidatePeriod(k.Granularity, k.Period); err != nil {
		return err
	}
	return nil
}

// Encode renders the key in its canonical text form. Encoding a Key
// produced by New never fails and Decode inverts it exactly.
func (k Key) Encode() string {
	var b strings.Builder
	b.Grow(len(k.Metric) + len(k.Granularity) + len(k.Period) + len(k.Source) + len(k.Kind) + segments - 1)
	b.WriteString(escapeSegment(k.Metric))
	b.WriteByte(':')
	b.WriteString(string(k.Granularity))
	b.WriteByte(':')
	b.WriteString(k.Period)
	b.WriteByte(':')
	b.WriteString(escapeSegment(k.Source))
	b.WriteByte(':')
	b.WriteString(escapeSegment(k.Kind))
	return b.String()
}

// String implements fmt.Stringer.
func (k Key) String() string { return k.Encode() }

// Prefix returns the encoded "<metric>:<granularity>:" prefix shared by
// every key of one metric at one granularity. Ordered stores use it for
// range scans.
func Prefix(metric string, g Granularity) string {
	return escapeSegment(strings.ToLower(strings.TrimSpace(metric))) + ":" + string(g) + ":"
}

// Decode parses an encoded key. It is strict: a string Decode accepts is
// always byte-identical to re-encoding the result, and anything else
// fails with ErrMalformedKey rather than producing a partial key.
func Decode(s string) (Key, error) {
	parts := strings.Split(s, ":")
	if len(parts) != segments {
		return Key{}, fmt.Errorf("%w: expected %d segments, got %d", ErrMalformedKey, segments, len(parts))
	}

	g, err := ParseGranularity(parts[1])
	if err != nil {
		return Key{}, err
	}
	if parts[1] != string(g) {
		return Key{}, fmt.Errorf("%w: non-canonical granularity %q", ErrMalformedKey, parts[1])
	}

	k := Key{
		Metric:      unescapeSegment(parts[0]),
		Granularity: g,
		Period:      parts[2],
		Source:      unescapeSegment(parts[3]),
		Kind:        unescapeSegment(parts[4]),
	}
	if err := k.Validate(); err != nil {
		return Key{}, err
	}
	// Reject inputs that validate but are not the canonical rendering
	// (e.g. escaped text that New would have normalized differently).
	if k.Encode() != s {
		return Key{}, fmt.Errorf("%w: non-canonical encoding %q", ErrMalformedKey, s)
	}
	return k, nil
}

// isIdentifier reports whether s is a lower-case identifier: letters,
// digits, '_', '.', '-'.
func isIdentifier(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '.' || r == '-':
		default:
			return false
		}
	}
	return true
}

// escapeSegment makes a field safe to join with ':'. Only '%' and ':'
// are rewritten so period ordering and readability are preserved.
func escapeSegment(s string) string {
	if !strings.ContainsAny(s, "%:") {
		return s
	}
	s = strings.ReplaceAll(s, "%", "%25")
	return strings.ReplaceAll(s, ":", "%3A")
}

// unescapeSegment inverts escapeSegment.
func unescapeSegment(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}
	s = strings.ReplaceAll(s, "%3A", ":")
	return strings.ReplaceAll(s, "%25", "%")
}
