/*
engine.go - Run-level orchestration

PURPOSE:
  Ties the pieces into one resumable run: load the manifest, build
  per-entity requirements for the window, plan and execute chunk by chunk,
  and persist the manifest at the end no matter what happened. This is the
  entry point cmd/ and api/ call.

RUN SHAPE:
  Backfill:    cover each entity's full membership overlap with the window;
               entities already backfill_complete are skipped; entities
               whose tasks all succeed are marked backfill_complete.
  Incremental: top up from the persisted tail to the window end; includes
               backfill-complete entities.

ERROR POLICY:
  Missing membership data is a ConfigurationError and aborts the run
  before any fetch. Per-entity fetch failures never abort (subject to
  SkipErrors); they end up in the report and the manifest.

SEE ALSO:
  - planner.go, executor.go, manifest.go
*/
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

// =============================================================================
// RUN CONFIG
// =============================================================================

// RunConfig describes one reconciliation run. Components receive it by
// value; nothing global.
type RunConfig struct {
	Mode      PlannerMode
	Frequency Frequency
	Window    Period

	// Entities to reconcile. Empty means every entity known to the
	// membership store.
	Entities []EntityID

	// ChunkSize splits the entity list into sequentially processed chunks.
	// Zero disables chunking.
	ChunkSize int

	Tolerance   TolerancePolicy
	Concurrency int
	Retry       RetryPolicy
	SkipErrors  bool
	Quality     QualityThresholds

	// CheckpointEvery persists the manifest after every N completed tasks.
	CheckpointEvery int
}

// Validate rejects configurations the engine cannot run.
func (c *RunConfig) Validate() error {
	if !c.Frequency.Valid() {
		return &ConfigurationError{Field: "frequency", Err: fmt.Errorf("%w: %q", ErrInvalidFrequency, c.Frequency)}
	}
	if !c.Window.Valid() {
		return &ConfigurationError{Field: "window", Err: fmt.Errorf("%w: %s", ErrInvalidPeriod, c.Window)}
	}
	switch c.Mode {
	case ModeBackfill, ModeIncremental:
	default:
		return &ConfigurationError{Field: "mode", Err: fmt.Errorf("unknown mode %q", c.Mode)}
	}
	return nil
}

// RunReport combines planning and execution results for one run.
type RunReport struct {
	Config    RunConfig
	Entities  int
	Skipped   []EntityID
	Verdicts  map[EntityID]CoverageVerdict
	Execution ExecutionReport
	StartedAt time.Time
	Duration  time.Duration
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine owns the wiring for reconciliation runs. Scoped to one run at a
// time; construct once per process with injected stores.
type Engine struct {
	Membership MembershipStore
	Partitions *PartitionIndex
	Tracker    *Tracker
	Provider   DataProvider
}

func NewEngine(membership MembershipStore, partitions *PartitionIndex, tracker *Tracker, provider DataProvider) *Engine {
	return &Engine{
		Membership: membership,
		Partitions: partitions,
		Tracker:    tracker,
		Provider:   provider,
	}
}

// Run executes one reconciliation run end to end. The manifest is saved
// before returning even when execution fails partway.
func (e *Engine) Run(ctx context.Context, cfg RunConfig) (*RunReport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	started := time.Now()

	if err := e.Tracker.Load(ctx); err != nil {
		return nil, &ConfigurationError{Field: "manifest", Err: err}
	}
	e.Tracker.CheckpointEvery = cfg.CheckpointEvery

	entities := cfg.Entities
	if len(entities) == 0 {
		var err error
		entities, err = e.Membership.Entities(ctx)
		if err != nil {
			return nil, &ConfigurationError{Field: "membership", Err: err}
		}
	}

	reqs := make([]CoverageRequirement, 0, len(entities))
	for _, id := range entities {
		reqs = append(reqs, NewRequirement(id, cfg.Frequency, cfg.Window.Start, cfg.Window.End, cfg.Tolerance))
	}

	report := &RunReport{
		Config:    cfg,
		Entities:  len(entities),
		Verdicts:  make(map[EntityID]CoverageVerdict, len(entities)),
		StartedAt: started,
	}

	planner := NewFetchPlanner(e.Membership, e.Partitions, e.Tracker, cfg.Mode)
	executor := NewExecutor(e.Provider, e.Partitions, e.Tracker)

	opts := ExecutorOptions{
		Concurrency:          cfg.Concurrency,
		Retry:                cfg.Retry,
		SkipErrors:           cfg.SkipErrors,
		Quality:              cfg.Quality,
		MarkBackfillComplete: cfg.Mode == ModeBackfill,
	}

	var runErr error
	log.Printf("[Engine] %s run: %d entities, window %s, frequency %s",
		cfg.Mode, len(entities), cfg.Window, cfg.Frequency)

	for _, chunk := range ChunkRequirements(reqs, cfg.ChunkSize) {
		plan, err := planner.PlanAll(ctx, chunk)
		if err != nil {
			if errors.Is(err, ErrNoMembershipData) {
				// Upstream data problem, not a legitimate "not a member".
				runErr = &ConfigurationError{Field: "membership", Err: err}
				break
			}
			runErr = err
			break
		}
		report.Skipped = append(report.Skipped, plan.Skipped...)
		for id, v := range plan.Verdicts {
			report.Verdicts[id] = v
		}

		exec, err := executor.Run(ctx, plan.Tasks, opts)
		if err != nil {
			runErr = err
			break
		}
		mergeReports(&report.Execution, exec)

		if !cfg.SkipErrors && exec.Failed > 0 {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}

	// Progress truth survives whatever happened above.
	if err := e.Tracker.Save(ctx); err != nil {
		log.Printf("[Engine] manifest save failed: %v", err)
		if runErr == nil {
			runErr = err
		}
	}

	report.Duration = time.Since(started)
	log.Printf("[Engine] run finished: %s", &report.Execution)
	return report, runErr
}

func mergeReports(into *ExecutionReport, from *ExecutionReport) {
	into.Total += from.Total
	into.Succeeded += from.Succeeded
	into.Failed += from.Failed
	into.Skipped += from.Skipped
	into.Errors = append(into.Errors, from.Errors...)
	into.Duration += from.Duration
}
