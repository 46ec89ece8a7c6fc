// Chronocache - Multi-Tier Cache for Time-Series Analytics Aggregates
// Copyright 2026 J. Ostrander (jostrander)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jostrander/chronocache

package cachekey

import (
	"strings"
	"time"
)

// Pattern selects a set of keys for invalidation. Every populated field
// must agree with the key; zero-valued fields match anything. The time
// window [From, To] matches a key when the key's period interval overlaps
// it, so a day window still catches the week and month aggregates built
// over that day.
//
// Note that Source matching is exact: AllSources is a concrete source
// value, selected only by Source == AllSources or by an empty (match-any)
// Source.
type Pattern struct {
	Metric      string      `json:"metric,omitempty"`
	Granularity Granularity `json:"granularity,omitempty"`
	Source      string      `json:"source,omitempty"`
	Kind        string      `json:"kind,omitempty"`

	// From and To bound the affected data range, inclusive. A zero From
	// is unbounded past; a zero To is unbounded future.
	From time.Time `json:"from,omitempty"`
	To   time.Time `json:"to,omitempty"`
}

// Normalize returns the pattern with field forms matching what New
// produces for keys, so equality checks compare like with like.
func (p Pattern) Normalize() Pattern {
	p.Metric = strings.ToLower(strings.TrimSpace(p.Metric))
	p.Source = strings.TrimSpace(p.Source)
	p.Kind = strings.ToLower(strings.TrimSpace(p.Kind))
	return p
}

// Matches reports whether the key falls inside the pattern.
func (p Pattern) Matches(k Key) bool {
	if p.Metric != "" && p.Metric != k.Metric {
		return false
	}
	if p.Granularity != "" && p.Granularity != k.Granularity {
		return false
	}
	if p.Source != "" && p.Source != k.Source {
		return false
	}
	if p.Kind != "" && p.Kind != k.Kind {
		return false
	}
	if p.From.IsZero() && p.To.IsZero() {
		return true
	}

	start, end, err := PeriodInterval(k.Granularity, k.Period)
	if err != nil {
		return false
	}
	if !p.To.IsZero() && start.After(p.To) {
		return false
	}
	if !p.From.IsZero() && !end.After(p.From) {
		return false
	}
	return true
}

// KeyRange is a pattern expanded to one granularity, with the time window
// lowered to inclusive lexicographic period bounds. Stores translate a
// KeyRange directly: indexed column predicates in the structured tier,
// an ordered prefix scan in the blob tier.
type KeyRange struct {
	Metric      string
	Granularity Granularity
	PeriodLow   string // "" = unbounded
	PeriodHigh  string // "" = unbounded
	Source      string // "" = any
	Kind        string // "" = any
}

// Ranges expands the pattern to per-granularity key ranges. A pattern
// with a granularity set expands to exactly one range.
func (p Pattern) Ranges() []KeyRange {
	p = p.Normalize()

	grans := Granularities()
	if p.Granularity != "" {
		grans = []Granularity{p.Granularity}
	}

	out := make([]KeyRange, 0, len(grans))
	for _, g := range grans {
		r := KeyRange{
			Metric:      p.Metric,
			Granularity: g,
			Source:      p.Source,
			Kind:        p.Kind,
		}
		if !p.From.IsZero() {
			r.PeriodLow = PeriodOf(g, p.From)
		}
		if !p.To.IsZero() {
			r.PeriodHigh = PeriodOf(g, p.To)
		}
		out = append(out, r)
	}
	return out
}

// Matches reports whether the key falls inside the range. The period
// comparison is plain string ordering, valid because canonical periods
// are zero-padded within a granularity.
func (r KeyRange) Matches(k Key) bool {
	if r.Granularity != k.Granularity {
		return false
	}
	if r.Metric != "" && r.Metric != k.Metric {
		return false
	}
	if r.Source != "" && r.Source != k.Source {
		return false
	}
	if r.Kind != "" && r.Kind != k.Kind {
		return false
	}
	if r.PeriodLow != "" && k.Period < r.PeriodLow {
		return false
	}
	if r.PeriodHigh != "" && k.Period > r.PeriodHigh {
		return false
	}
	return true
}

// Prefix returns the longest encoded-key prefix shared by every key the
// range can match: "<metric>:<granularity>:" when the metric is set,
// otherwise "". Ordered stores seed their scans with it.
func (r KeyRange) Prefix() string {
	if r.Metric == "" {
		return ""
	}
	return Prefix(r.Metric, r.Granularity)
}
