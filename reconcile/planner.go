/*
planner.go - Turning coverage verdicts into minimal fetch tasks

PURPOSE:
  Runs the CoverageChecker across many entities and flattens the non-empty
  fetch ranges into FetchTasks. Adjacent or overlapping ranges within the
  same entity are merged to minimize remote calls; ranges separated by a
  real gap (a membership hole) stay separate on purpose - fetching across
  the hole would request data the entity was never owed.

CHUNKING:
  Callers may split the entity list into fixed-size chunks processed
  sequentially, bounding peak memory and the blast radius of a catastrophic
  failure. Concurrency WITHIN a chunk is the executor's business.

SEE ALSO:
  - coverage.go: per-entity verdicts
  - executor.go: drains the task queue
*/
package reconcile

import (
	"context"
	"sort"
)

// =============================================================================
// FETCH TASK
// =============================================================================

type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
)

// FetchTask is one remote fetch: an entity and an inclusive date range.
type FetchTask struct {
	Entity     EntityID
	Frequency  Frequency
	FetchStart Date
	FetchEnd   Date
	Attempts   int
	Status     TaskStatus
}

// =============================================================================
// PLAN RESULT
// =============================================================================

// Plan is the output of one planning pass: the tasks to run plus the
// verdicts they were derived from (kept for reporting/audit).
type Plan struct {
	Tasks    []FetchTask
	Verdicts map[EntityID]CoverageVerdict
	// Skipped lists entities excluded from planning (backfill already
	// complete) without being checked.
	Skipped []EntityID
}

// =============================================================================
// FETCH PLANNER
// =============================================================================

// PlannerMode selects which entities are eligible.
type PlannerMode string

const (
	// ModeBackfill plans full-history fetches and excludes entities whose
	// manifest already says backfill_complete.
	ModeBackfill PlannerMode = "backfill"
	// ModeIncremental plans top-up fetches for every entity, including
	// backfill-complete ones.
	ModeIncremental PlannerMode = "incremental"
)

// FetchPlanner converts coverage requirements into fetch tasks. It is a
// pure function over snapshots: membership intervals, partition ranges, and
// the manifest are read, never written.
type FetchPlanner struct {
	Membership MembershipStore
	Partitions *PartitionIndex
	Checker    *CoverageChecker
	Tracker    *Tracker // may be nil; then nothing is excluded
	Mode       PlannerMode
}

func NewFetchPlanner(membership MembershipStore, partitions *PartitionIndex, tracker *Tracker, mode PlannerMode) *FetchPlanner {
	return &FetchPlanner{
		Membership: membership,
		Partitions: partitions,
		Checker:    NewCoverageChecker(),
		Tracker:    tracker,
		Mode:       mode,
	}
}

// PlanEntity computes the verdict and tasks for a single requirement.
// Returns ErrNoMembershipData (wrapped as a ConfigurationError by callers
// that treat it as fatal) when the entity has no membership record.
func (p *FetchPlanner) PlanEntity(ctx context.Context, req CoverageRequirement) (CoverageVerdict, []FetchTask, error) {
	intervals, err := p.Membership.Intervals(ctx, req.Entity)
	if err != nil {
		return CoverageVerdict{}, nil, err
	}
	periods := OverlappingPeriods(intervals, req.RequiredStart, req.RequiredEnd)

	persisted, err := p.Partitions.Range(ctx, req.Entity, req.Frequency)
	if err != nil {
		return CoverageVerdict{}, nil, err
	}

	verdict := p.Checker.Check(req, periods, persisted)
	ranges := MergeAdjacentRanges(verdict.FetchRanges)

	tasks := make([]FetchTask, 0, len(ranges))
	for _, r := range ranges {
		tasks = append(tasks, FetchTask{
			Entity:     req.Entity,
			Frequency:  req.Frequency,
			FetchStart: r.Start,
			FetchEnd:   r.End,
			Status:     TaskPending,
		})
	}
	return verdict, tasks, nil
}

// PlanAll runs the checker for every requirement and returns the combined
// plan. Entities already backfill-complete are skipped in backfill mode.
func (p *FetchPlanner) PlanAll(ctx context.Context, reqs []CoverageRequirement) (*Plan, error) {
	plan := &Plan{Verdicts: make(map[EntityID]CoverageVerdict, len(reqs))}

	for _, req := range reqs {
		if p.Mode == ModeBackfill && p.Tracker != nil && p.Tracker.BackfillComplete(req.Entity) {
			plan.Skipped = append(plan.Skipped, req.Entity)
			continue
		}

		verdict, tasks, err := p.PlanEntity(ctx, req)
		if err != nil {
			return nil, err
		}
		plan.Verdicts[req.Entity] = verdict
		plan.Tasks = append(plan.Tasks, tasks...)
	}
	return plan, nil
}

// =============================================================================
// RANGE MERGING & CHUNKING
// =============================================================================

// MergeAdjacentRanges merges overlapping or touching periods (next start
// within one day of the previous end) and returns them in chronological
// order. Ranges separated by a real gap are preserved as-is.
func MergeAdjacentRanges(ranges []Period) []Period {
	if len(ranges) <= 1 {
		return ranges
	}

	sorted := make([]Period, len(ranges))
	copy(sorted, ranges)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	out := []Period{sorted[0]}
	for _, r := range sorted[1:] {
		last := &out[len(out)-1]
		if r.Start.BeforeOrEqual(last.End.AddDays(1)) {
			last.End = MaxDate(last.End, r.End)
			continue
		}
		out = append(out, r)
	}
	return out
}

// ChunkRequirements splits requirements into fixed-size chunks for
// sequential processing. size <= 0 yields a single chunk.
func ChunkRequirements(reqs []CoverageRequirement, size int) [][]CoverageRequirement {
	if len(reqs) == 0 {
		return nil
	}
	if size <= 0 || size >= len(reqs) {
		return [][]CoverageRequirement{reqs}
	}
	var out [][]CoverageRequirement
	for start := 0; start < len(reqs); start += size {
		end := start + size
		if end > len(reqs) {
			end = len(reqs)
		}
		out = append(out, reqs[start:end])
	}
	return out
}
