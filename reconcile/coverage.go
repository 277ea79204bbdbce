/*
coverage.go - Coverage verdicts: is stored data complete for a window?

PURPOSE:
  Classifies, per entity, whether persisted data satisfies a
  CoverageRequirement, accounting for discontinuous membership. The answer
  must be exact and auditable: every period gets its own result, and the
  fetch ranges name precisely the spans worth fetching - never a single
  min/max span, which would fetch over periods the entity was not a member.

ALGORITHM (per overlap period P):
  1. No persisted data            -> Missing, fetch all of P
  2. start_gap and end_gap within tolerance -> Complete
  3. Persisted range disjoint from P        -> Missing, fetch all of P
  4. Otherwise Partial: fetch the head gap and/or tail gap that exceed
     tolerance. A within-tolerance side is NOT queued even when the other
     side has a real gap.

AGGREGATION (entity level):
  zero periods -> Complete, reason no_overlap (never needed, not verified)
  any Missing  -> Missing
  any Partial  -> Partial
  otherwise    -> Complete

SEE ALSO:
  - date.go: frequency alignment and tolerance policy
  - planner.go: turns verdicts into fetch tasks
*/
package reconcile

// =============================================================================
// VERDICT TYPES
// =============================================================================

type CoverageStatus string

const (
	StatusMissing  CoverageStatus = "missing"
	StatusPartial  CoverageStatus = "partial"
	StatusComplete CoverageStatus = "complete"
)

// VerdictReason distinguishes kinds of Complete verdicts.
type VerdictReason string

const (
	// ReasonVerified means persisted data was checked against every period.
	ReasonVerified VerdictReason = "verified"
	// ReasonNoOverlap means the entity was never in scope during the window,
	// so there was nothing to check.
	ReasonNoOverlap VerdictReason = "no_overlap"
)

// PeriodResult is the per-overlap-period portion of a verdict.
type PeriodResult struct {
	Period      Period
	Status      CoverageStatus
	StartGap    int // days of missing data at the head (before tolerance test)
	EndGap      int // days of missing data at the tail
	FetchRanges []Period
}

// CoverageVerdict is the entity-level classification.
type CoverageVerdict struct {
	Entity      EntityID
	Status      CoverageStatus
	Reason      VerdictReason
	Periods     []PeriodResult
	FetchRanges []Period
}

// =============================================================================
// COVERAGE CHECKER - Pure function over snapshots
// =============================================================================

// CoverageChecker classifies persisted data against requirements. It holds
// no persistent state; both inputs are snapshots taken by the caller.
type CoverageChecker struct{}

func NewCoverageChecker() *CoverageChecker { return &CoverageChecker{} }

// Check computes the verdict for one entity. periods are the entity's
// membership overlaps with the required window (possibly empty); persisted
// is nil when no data exists for the entity+frequency.
func (c *CoverageChecker) Check(req CoverageRequirement, periods []Period, persisted *PersistedRange) CoverageVerdict {
	verdict := CoverageVerdict{Entity: req.Entity, Status: StatusComplete, Reason: ReasonVerified}

	if len(periods) == 0 {
		// Never a member during the window: nothing was ever owed.
		verdict.Reason = ReasonNoOverlap
		return verdict
	}

	for _, p := range periods {
		result := c.checkPeriod(req, p, persisted)
		verdict.Periods = append(verdict.Periods, result)
		verdict.FetchRanges = append(verdict.FetchRanges, result.FetchRanges...)

		switch result.Status {
		case StatusMissing:
			verdict.Status = StatusMissing
		case StatusPartial:
			if verdict.Status != StatusMissing {
				verdict.Status = StatusPartial
			}
		}
	}
	return verdict
}

func (c *CoverageChecker) checkPeriod(req CoverageRequirement, p Period, persisted *PersistedRange) PeriodResult {
	result := PeriodResult{Period: p}

	if persisted == nil {
		result.Status = StatusMissing
		result.StartGap = p.Days()
		result.EndGap = p.Days()
		result.FetchRanges = []Period{p}
		return result
	}

	// Anchor the nominal start to the frequency's storage convention before
	// measuring, then never let a gap go negative.
	alignedStart := req.Frequency.AlignStart(p.Start)
	result.StartGap = max(0, DaysBetween(alignedStart, persisted.MinDate))
	result.EndGap = max(0, DaysBetween(persisted.MaxDate, p.End))

	tol := req.ToleranceDays
	switch {
	case result.StartGap <= tol && result.EndGap <= tol:
		result.Status = StatusComplete

	case persisted.MaxDate.Before(p.Start) || persisted.MinDate.After(p.End):
		// Persisted data does not touch this period at all.
		result.Status = StatusMissing
		result.FetchRanges = []Period{p}

	default:
		result.Status = StatusPartial
		if result.StartGap > tol {
			result.FetchRanges = append(result.FetchRanges,
				Period{Start: p.Start, End: persisted.MinDate.AddDays(-1)})
		}
		if result.EndGap > tol {
			result.FetchRanges = append(result.FetchRanges,
				Period{Start: persisted.MaxDate.AddDays(1), End: p.End})
		}
	}
	return result
}
