// Chronocache - Multi-Tier Cache for Time-Series Analytics Aggregates
// Copyright 2026 J. Ostrander (jostrander)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jostrander/chronocache

package cachekey

import (
	"fmt"
	"strconv"
	"time"
)

// Period layouts. Weeks use ISO-8601 week dates, so the year segment of a
// week period is the ISO week-year, which differs from the calendar year
// around January 1st.
const (
	dayLayout   = "2006-01-02"
	monthLayout = "2006-01"
	weekLen     = len("2006-W02")
)

// PeriodOf returns the canonical period identifier containing t at
// granularity g. Periods are computed in UTC.
func PeriodOf(g Granularity, t time.Time) string {
	t = t.UTC()
	switch g {
	case GranularityDay:
		return t.Format(dayLayout)
	case GranularityWeek:
		y, w := t.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", y, w)
	case GranularityMonth:
		return t.Format(monthLayout)
	default:
		return ""
	}
}

// ValidatePeriod checks that period is the canonical identifier form for g.
func ValidatePeriod(g Granularity, period string) error {
	_, _, err := PeriodInterval(g, period)
	return err
}

// PeriodInterval returns the UTC time interval [start, end) covered by a
// period. It fails with ErrMalformedKey when period is not canonical for
// g, including calendar-impossible values (February 30th, week 53 of a
// 52-week year).
func PeriodInterval(g Granularity, period string) (start, end time.Time, err error) {
	switch g {
	case GranularityDay:
		start, err = time.ParseInLocation(dayLayout, period, time.UTC)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: bad day period %q", ErrMalformedKey, period)
		}
		return start, start.AddDate(0, 0, 1), nil

	case GranularityWeek:
		start, err = parseWeekPeriod(period)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		return start, start.AddDate(0, 0, 7), nil

	case GranularityMonth:
		start, err = time.ParseInLocation(monthLayout, period, time.UTC)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: bad month period %q", ErrMalformedKey, period)
		}
		return start, start.AddDate(0, 1, 0), nil

	default:
		return time.Time{}, time.Time{}, fmt.Errorf("%w: unknown granularity %q", ErrMalformedKey, string(g))
	}
}

// PeriodBounds returns the inclusive lexicographic period range [lo, hi]
// covering every period at granularity g that overlaps [from, to]. The
// zero-padded period forms make the string comparison equivalent to the
// chronological one, which is what indexed range deletes and ordered
// scans evaluate.
func PeriodBounds(g Granularity, from, to time.Time) (lo, hi string) {
	if to.Before(from) {
		from, to = to, from
	}
	return PeriodOf(g, from), PeriodOf(g, to)
}

// parseWeekPeriod parses the strict "2006-W02" form and returns the UTC
// Monday the week starts on.
func parseWeekPeriod(period string) (time.Time, error) {
	bad := func() (time.Time, error) {
		return time.Time{}, fmt.Errorf("%w: bad week period %q", ErrMalformedKey, period)
	}

	if len(period) != weekLen || period[4] != '-' || period[5] != 'W' {
		return bad()
	}
	year, err := strconv.Atoi(period[:4])
	if err != nil || year < 1 {
		return bad()
	}
	week, err := strconv.Atoi(period[6:])
	if err != nil || week < 1 || week > 53 {
		return bad()
	}

	start := isoWeekStart(year, week)
	// Round-trip through ISOWeek rejects week numbers the year does not
	// have (W53 in 52-week years) and any non-padded digits.
	if y, w := start.ISOWeek(); y != year || w != week {
		return bad()
	}
	if PeriodOf(GranularityWeek, start) != period {
		return bad()
	}
	return start, nil
}

// isoWeekStart returns the UTC Monday of the given ISO week. January 4th
// always falls in ISO week 1 of its week-year.
func isoWeekStart(year, week int) time.Time {
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, time.UTC)
	wd := int(jan4.Weekday())
	if wd == 0 {
		wd = 7
	}
	week1Monday := jan4.AddDate(0, 0, 1-wd)
	return week1Monday.AddDate(0, 0, (week-1)*7)
}

// ContainingPeriods returns the period identifier at every granularity
// whose interval contains t. The day key, its ISO week and its month all
// derive from the same underlying data, so mutation handling fans out
// through this.
func ContainingPeriods(t time.Time) map[Granularity]string {
	out := make(map[Granularity]string, len(Granularities()))
	for _, g := range Granularities() {
		out[g] = PeriodOf(g, t)
	}
	return out
}
