/*
types.go - Core identifiers and row schema

PURPOSE:
  Defines the typed row struct stored in partitions and the immutable
  per-run requirement describing what coverage is being asked for.

KEY CONCEPTS:
  - Row: one observation of a series (a price bar), keyed by Date
  - Batch: rows for a single entity+frequency, ordered by date
  - CoverageRequirement: entity + frequency + required window + tolerance
  - PersistedRange: the actual min/max persisted for entity+frequency

DESIGN PRINCIPLES:
  1. Fixed schema: partitions hold typed Rows, not dynamic records
  2. Precision: decimal.Decimal for prices, never float64
  3. Explicit recency: Row.Revision decides merge conflicts, not write order

SEE ALSO:
  - partition.go: merge-on-write over Batches
  - coverage.go: verdicts computed against CoverageRequirements
*/
package reconcile

import (
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EntityID string

// =============================================================================
// ROW - One observation of a series (fixed schema, date-keyed)
// =============================================================================

// Row is a single price bar. Within a partition, rows are unique by Date.
// Revision is the recency key used by merge-on-write: on a date conflict the
// row with the higher revision wins, the incoming row winning ties.
type Row struct {
	Date     Date
	Open     decimal.Decimal
	High     decimal.Decimal
	Low      decimal.Decimal
	Close    decimal.Decimal
	Volume   int64
	Revision int64
}

// =============================================================================
// BATCH - Rows for one entity+frequency
// =============================================================================

type Batch struct {
	Entity    EntityID
	Frequency Frequency
	Rows      []Row
}

// SortByDate orders rows ascending by date, in place.
func (b *Batch) SortByDate() {
	sort.Slice(b.Rows, func(i, j int) bool { return b.Rows[i].Date.Before(b.Rows[j].Date) })
}

// DateRange returns the min and max row dates. ok is false for an empty batch.
func (b *Batch) DateRange() (min, max Date, ok bool) {
	if len(b.Rows) == 0 {
		return Date{}, Date{}, false
	}
	min, max = b.Rows[0].Date, b.Rows[0].Date
	for _, r := range b.Rows[1:] {
		min = MinDate(min, r.Date)
		max = MaxDate(max, r.Date)
	}
	return min, max, true
}

// =============================================================================
// COVERAGE REQUIREMENT - What a reconciliation run asks for
// =============================================================================

// CoverageRequirement describes the window an entity's series must cover.
// Immutable once created; one per entity per run.
type CoverageRequirement struct {
	Entity        EntityID
	Frequency     Frequency
	RequiredStart Date
	RequiredEnd   Date
	ToleranceDays int
}

// NewRequirement builds a requirement using the policy tolerance for the
// frequency.
func NewRequirement(entity EntityID, freq Frequency, start, end Date, policy TolerancePolicy) CoverageRequirement {
	return CoverageRequirement{
		Entity:        entity,
		Frequency:     freq,
		RequiredStart: start,
		RequiredEnd:   end,
		ToleranceDays: policy.Days(freq),
	}
}

// Window returns the required period.
func (cr CoverageRequirement) Window() Period {
	return Period{Start: cr.RequiredStart, End: cr.RequiredEnd}
}

// =============================================================================
// PERSISTED RANGE - What storage actually holds
// =============================================================================

// PersistedRange is derived by scanning existing partitions. A nil
// *PersistedRange means no data exists for the entity+frequency.
type PersistedRange struct {
	Entity    EntityID
	Frequency Frequency
	MinDate   Date
	MaxDate   Date
}
