// Chronocache - Multi-Tier Cache for Time-Series Analytics Aggregates
// Copyright 2026 J. Ostrander (jostrander)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jostrander/chronocache

package cachekey

import (
	"testing"
	"time"
)

func mustKey(t *testing.T, metric string, g Granularity, period, source, kind string) Key {
	t.Helper()
	k, err := New(metric, g, period, source, kind)
	if err != nil {
		t.Fatalf("New(%s, %s, %s, %s, %s): %v", metric, g, period, source, kind, err)
	}
	return k
}

func TestPatternMatchesJanuaryRange(t *testing.T) {
	t.Parallel()

	// The canonical invalidation shape: all cached aggregates for
	// "steps" computed over January, any granularity, any source.
	p := Pattern{
		Metric: "steps",
		From:   date(2025, time.January, 1),
		To:     date(2025, time.January, 31),
	}

	matching := []Key{
		mustKey(t, "steps", GranularityDay, "2025-01-01", "deviceA", "summary"),
		mustKey(t, "steps", GranularityDay, "2025-01-31", "", "summary"),
		mustKey(t, "steps", GranularityWeek, "2025-W03", "deviceA", "trend"),
		// W01 spills into December 2024 but overlaps January.
		mustKey(t, "steps", GranularityWeek, "2025-W01", "", "summary"),
		// W05 ends in February but overlaps January 27-31.
		mustKey(t, "steps", GranularityWeek, "2025-W05", "deviceA", "summary"),
		mustKey(t, "steps", GranularityMonth, "2025-01", "", "summary"),
	}
	for _, k := range matching {
		if !p.Matches(k) {
			t.Errorf("pattern should match %s", k)
		}
	}

	nonMatching := []Key{
		mustKey(t, "steps", GranularityDay, "2024-12-31", "deviceA", "summary"),
		mustKey(t, "steps", GranularityDay, "2025-02-01", "deviceA", "summary"),
		mustKey(t, "steps", GranularityWeek, "2025-W06", "deviceA", "summary"),
		mustKey(t, "steps", GranularityMonth, "2025-02", "", "summary"),
		mustKey(t, "heart_rate", GranularityDay, "2025-01-15", "deviceA", "summary"),
	}
	for _, k := range nonMatching {
		if p.Matches(k) {
			t.Errorf("pattern should not match %s", k)
		}
	}
}

func TestPatternFieldMatching(t *testing.T) {
	t.Parallel()

	key := mustKey(t, "steps", GranularityDay, "2025-01-15", "deviceA", "summary")

	tests := []struct {
		name string
		p    Pattern
		want bool
	}{
		{"empty pattern matches everything", Pattern{}, true},
		{"metric match", Pattern{Metric: "steps"}, true},
		{"metric mismatch", Pattern{Metric: "heart_rate"}, false},
		{"metric is normalized", Pattern{Metric: " Steps "}, true},
		{"granularity match", Pattern{Granularity: GranularityDay}, true},
		{"granularity mismatch", Pattern{Granularity: GranularityWeek}, false},
		{"source match", Pattern{Source: "deviceA"}, true},
		{"source mismatch", Pattern{Source: "deviceB"}, false},
		{"all-sources sentinel does not match concrete source", Pattern{Source: AllSources}, false},
		{"kind match", Pattern{Kind: "summary"}, true},
		{"kind mismatch", Pattern{Kind: "trend"}, false},
		{"open-ended from", Pattern{From: date(2025, time.January, 10)}, true},
		{"open-ended from excludes older", Pattern{From: date(2025, time.January, 16)}, false},
		{"open-ended to", Pattern{To: date(2025, time.January, 20)}, true},
		{"open-ended to excludes newer", Pattern{To: date(2025, time.January, 14)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.p.Normalize().Matches(key); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPatternMatchesAllSourcesKey(t *testing.T) {
	t.Parallel()

	aggregate := mustKey(t, "steps", GranularityDay, "2025-01-15", "", "summary")

	if !(Pattern{Source: AllSources}).Matches(aggregate) {
		t.Error("sentinel pattern should match the all-sources aggregate")
	}
	if !(Pattern{}).Matches(aggregate) {
		t.Error("match-any pattern should match the all-sources aggregate")
	}
	if (Pattern{Source: "deviceA"}).Matches(aggregate) {
		t.Error("device pattern should not match the all-sources aggregate")
	}
}

func TestPatternRanges(t *testing.T) {
	t.Parallel()

	p := Pattern{
		Metric: "steps",
		Source: "deviceA",
		From:   date(2025, time.January, 1),
		To:     date(2025, time.January, 31),
	}

	ranges := p.Ranges()
	if len(ranges) != 3 {
		t.Fatalf("len(Ranges()) = %d, want 3", len(ranges))
	}

	want := map[Granularity][2]string{
		GranularityDay:   {"2025-01-01", "2025-01-31"},
		GranularityWeek:  {"2025-W01", "2025-W05"},
		GranularityMonth: {"2025-01", "2025-01"},
	}
	for _, r := range ranges {
		bounds, ok := want[r.Granularity]
		if !ok {
			t.Errorf("unexpected granularity %s", r.Granularity)
			continue
		}
		if r.PeriodLow != bounds[0] || r.PeriodHigh != bounds[1] {
			t.Errorf("%s bounds = [%q, %q], want [%q, %q]",
				r.Granularity, r.PeriodLow, r.PeriodHigh, bounds[0], bounds[1])
		}
		if r.Metric != "steps" || r.Source != "deviceA" {
			t.Errorf("range lost pattern fields: %+v", r)
		}
	}
}

func TestPatternRangesSingleGranularity(t *testing.T) {
	t.Parallel()

	p := Pattern{Metric: "steps", Granularity: GranularityWeek}
	ranges := p.Ranges()
	if len(ranges) != 1 {
		t.Fatalf("len(Ranges()) = %d, want 1", len(ranges))
	}
	if ranges[0].Granularity != GranularityWeek {
		t.Errorf("granularity = %s, want week", ranges[0].Granularity)
	}
	if ranges[0].PeriodLow != "" || ranges[0].PeriodHigh != "" {
		t.Errorf("unbounded pattern produced bounds [%q, %q]", ranges[0].PeriodLow, ranges[0].PeriodHigh)
	}
}

func TestKeyRangeMatchesAgreesWithPattern(t *testing.T) {
	t.Parallel()

	p := Pattern{
		Metric: "steps",
		From:   date(2025, time.January, 1),
		To:     date(2025, time.January, 31),
	}
	ranges := p.Ranges()

	keys := []Key{
		mustKey(t, "steps", GranularityDay, "2024-12-31", "deviceA", "summary"),
		mustKey(t, "steps", GranularityDay, "2025-01-15", "deviceA", "summary"),
		mustKey(t, "steps", GranularityWeek, "2025-W01", "", "summary"),
		mustKey(t, "steps", GranularityWeek, "2025-W06", "", "summary"),
		mustKey(t, "steps", GranularityMonth, "2025-01", "", "summary"),
		mustKey(t, "steps", GranularityMonth, "2025-02", "", "summary"),
		mustKey(t, "heart_rate", GranularityDay, "2025-01-15", "deviceA", "summary"),
	}

	for _, k := range keys {
		inRange := false
		for _, r := range ranges {
			if r.Matches(k) {
				inRange = true
				break
			}
		}
		if inRange != p.Matches(k) {
			t.Errorf("range/pattern disagreement for %s: ranges=%v pattern=%v", k, inRange, p.Matches(k))
		}
	}
}

func TestKeyRangePrefix(t *testing.T) {
	t.Parallel()

	r := KeyRange{Metric: "steps", Granularity: GranularityDay}
	if got := r.Prefix(); got != "steps:day:" {
		t.Errorf("Prefix() = %q, want %q", got, "steps:day:")
	}

	unbounded := KeyRange{Granularity: GranularityDay}
	if got := unbounded.Prefix(); got != "" {
		t.Errorf("Prefix() without metric = %q, want empty", got)
	}
}
