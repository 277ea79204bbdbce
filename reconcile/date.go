/*
Package reconcile provides the coverage reconciliation and incremental
fetch engine.

PURPOSE:
  This package decides, for every tracked entity and requested window,
  exactly which sub-ranges of time-series data are missing from partitioned
  storage given the entity's membership history, turns those gaps into
  minimal fetch tasks, executes them with bounded concurrency and retry,
  and merges results back into storage while keeping a resumable manifest.

KEY CONCEPTS IN THIS FILE (date.go):
  - Date: a calendar day in UTC (the primary key of every stored row)
  - Period: an inclusive [start, end] span of days
  - Frequency: daily/weekly/monthly data granularity
  - TolerancePolicy: frequency-dependent allowance for edge misalignment

DESIGN PRINCIPLES:
  1. Day granularity only: all comparisons normalize to midnight UTC
  2. Inclusive periods: [start, end] contains both endpoints
  3. Tolerances are policy, not truth: defaults handle US-market
     weekend/holiday drift and are overridable per run

SEE ALSO:
  - coverage.go: uses Period and TolerancePolicy to classify gaps
  - membership.go: intersects membership intervals with request windows
*/
package reconcile

import (
	"fmt"
	"time"
)

// =============================================================================
// DATE - A calendar day (UTC, day granularity)
// =============================================================================

type Date struct {
	Time time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Date{Time: t.UTC()}, nil
}

func MustDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func Today() Date {
	now := time.Now().UTC()
	return NewDate(now.Year(), now.Month(), now.Day())
}

func (d Date) normalize() time.Time {
	return time.Date(d.Time.Year(), d.Time.Month(), d.Time.Day(), 0, 0, 0, 0, time.UTC)
}

// Comparison
func (d Date) Before(other Date) bool        { return d.normalize().Before(other.normalize()) }
func (d Date) Equal(other Date) bool         { return d.normalize().Equal(other.normalize()) }
func (d Date) After(other Date) bool         { return d.normalize().After(other.normalize()) }
func (d Date) BeforeOrEqual(other Date) bool { return d.Before(other) || d.Equal(other) }
func (d Date) AfterOrEqual(other Date) bool  { return d.After(other) || d.Equal(other) }

// Arithmetic
func (d Date) AddDays(n int) Date   { return Date{Time: d.Time.AddDate(0, 0, n)} }
func (d Date) AddMonths(n int) Date { return Date{Time: d.Time.AddDate(0, n, 0)} }
func (d Date) AddYears(n int) Date  { return Date{Time: d.Time.AddDate(n, 0, 0)} }

// Properties
func (d Date) Year() int         { return d.Time.Year() }
func (d Date) Month() time.Month { return d.Time.Month() }
func (d Date) Day() int          { return d.Time.Day() }
func (d Date) IsZero() bool      { return d.Time.IsZero() }

func (d Date) String() string { return d.Time.Format("2006-01-02") }

// Min/Max
func MinDate(a, b Date) Date {
	if a.Before(b) {
		return a
	}
	return b
}

func MaxDate(a, b Date) Date {
	if a.After(b) {
		return a
	}
	return b
}

// DaysBetween returns the signed number of days from `from` to `to`.
func DaysBetween(from, to Date) int {
	return int(to.normalize().Sub(from.normalize()).Hours() / 24)
}

// EndOfMonth returns the last calendar day of the date's month.
func (d Date) EndOfMonth() Date {
	t := time.Date(d.Year(), d.Month()+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
	return Date{Time: t}
}

// =============================================================================
// PERIOD - Inclusive [Start, End] span of days
// =============================================================================

type Period struct {
	Start Date
	End   Date
}

// Valid reports whether the period is non-empty (Start <= End).
func (p Period) Valid() bool { return p.Start.BeforeOrEqual(p.End) }

// Contains returns true if the date is within [Start, End].
func (p Period) Contains(d Date) bool {
	return d.AfterOrEqual(p.Start) && d.BeforeOrEqual(p.End)
}

// Days returns the number of days the period spans, inclusive.
func (p Period) Days() int { return DaysBetween(p.Start, p.End) + 1 }

// Intersect returns the overlap of two periods and whether it is non-empty.
func (p Period) Intersect(other Period) (Period, bool) {
	out := Period{Start: MaxDate(p.Start, other.Start), End: MinDate(p.End, other.End)}
	return out, out.Valid()
}

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// =============================================================================
// FREQUENCY - Data granularity of a series
// =============================================================================

type Frequency string

const (
	FreqDaily   Frequency = "daily"
	FreqWeekly  Frequency = "weekly"
	FreqMonthly Frequency = "monthly"
)

func (f Frequency) Valid() bool {
	switch f {
	case FreqDaily, FreqWeekly, FreqMonthly:
		return true
	}
	return false
}

// AlignStart anchors a nominal period start to the frequency's natural
// storage convention, so that legitimate end-of-period storage is not
// misclassified as a gap. Daily and weekly starts are used as-is; a monthly
// start is advanced to that month's last calendar day because monthly series
// are stored on end-of-period markers.
func (f Frequency) AlignStart(d Date) Date {
	if f == FreqMonthly {
		return d.EndOfMonth()
	}
	return d
}

// =============================================================================
// TOLERANCE POLICY - Allowed edge misalignment before a gap is real
// =============================================================================

// TolerancePolicy maps a frequency to the number of days of edge
// misalignment tolerated before a gap is considered real. The defaults are
// empirical: daily tolerates weekend/holiday offsets, weekly tolerates
// any-weekday anchoring, monthly tolerates month-end vs last-trading-day
// drift. They assume a US-style calendar; override per run for others.
type TolerancePolicy struct {
	Daily   int
	Weekly  int
	Monthly int
}

func DefaultTolerancePolicy() TolerancePolicy {
	return TolerancePolicy{Daily: 2, Weekly: 6, Monthly: 3}
}

// Days returns the tolerance for a frequency.
func (tp TolerancePolicy) Days(f Frequency) int {
	switch f {
	case FreqWeekly:
		return tp.Weekly
	case FreqMonthly:
		return tp.Monthly
	default:
		return tp.Daily
	}
}
