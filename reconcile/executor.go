/*
executor.go - Bounded-concurrency fetch execution with failure isolation

PURPOSE:
  Drains a queue of FetchTasks with at most `Concurrency` provider calls in
  flight, retrying transient failures with exponential backoff, writing
  successful batches through the PartitionIndex, and updating the manifest
  after EVERY task outcome.

SCHEDULING MODEL:
  A fixed pool of workers pulls tasks from a channel; a slot frees whenever
  a task finishes. Task completions are serialized through a single
  aggregator goroutine so manifest mutation and report assembly never race.
  The only suspension points inside a worker are the provider call and the
  backoff sleep; planning and merging are synchronous.

FAILURE ISOLATION:
  A failed task never cancels sibling tasks. With SkipErrors=false the
  executor stops ADMITTING new tasks after the first failure and returns
  with whatever completed; in-flight tasks always finish so a partition
  write is never interrupted mid-merge. With SkipErrors=true the full queue
  drains regardless of individual failures. An external stop (context
  cancellation) behaves like the former: no new admissions, clean finish.

SEE ALSO:
  - retry.go: backoff arithmetic
  - manifest.go: per-outcome progress updates
*/
package reconcile

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// =============================================================================
// OPTIONS & REPORT
// =============================================================================

// ExecutorOptions configure one Run call.
type ExecutorOptions struct {
	// Concurrency bounds in-flight provider calls. Minimum 1.
	Concurrency int
	// Retry policy for transient errors.
	Retry RetryPolicy
	// SkipErrors: true drains the whole queue; false stops admitting new
	// tasks after the first failure.
	SkipErrors bool
	// Quality gates fetched batches before any write.
	Quality QualityThresholds
	// MarkBackfillComplete is the caller-supplied manifest policy: at the
	// end of the run, entities whose tasks ALL succeeded are flagged as
	// fully backfilled. An entity with any failed or unadmitted task is
	// never flagged, so its missing ranges stay eligible for future runs.
	MarkBackfillComplete bool
}

// TaskError describes one failed or skipped task for the run report.
type TaskError struct {
	Entity  EntityID
	Range   Period
	Kind    ErrorKind
	Message string
}

// ExecutionReport is the user-visible summary produced at the end of every
// run regardless of outcome.
type ExecutionReport struct {
	Total     int
	Succeeded int
	Failed    int
	Skipped   int
	Errors    []TaskError
	Duration  time.Duration
}

func (r *ExecutionReport) String() string {
	return fmt.Sprintf("%d tasks: %d succeeded, %d failed, %d skipped in %s",
		r.Total, r.Succeeded, r.Failed, r.Skipped, r.Duration.Round(time.Millisecond))
}

// =============================================================================
// EXECUTOR
// =============================================================================

// Executor runs fetch tasks against a provider and feeds results to the
// partition index and manifest tracker.
type Executor struct {
	Provider   DataProvider
	Partitions *PartitionIndex
	Tracker    *Tracker

	sleep func(ctx context.Context, d time.Duration) error // test hook
}

func NewExecutor(provider DataProvider, partitions *PartitionIndex, tracker *Tracker) *Executor {
	return &Executor{
		Provider:   provider,
		Partitions: partitions,
		Tracker:    tracker,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type taskOutcome struct {
	task FetchTask
	rows int
	last Date
	err  error
}

// Run executes the tasks and returns the report. The returned error is
// non-nil only for run-level aborts (fatal configuration problems); per-task
// failures are reported, never propagated.
func (e *Executor) Run(ctx context.Context, tasks []FetchTask, opts ExecutorOptions) (*ExecutionReport, error) {
	if e.Provider == nil {
		return nil, &ConfigurationError{Field: "provider", Err: fmt.Errorf("nil DataProvider")}
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}

	started := time.Now()
	report := &ExecutionReport{Total: len(tasks)}
	if len(tasks) == 0 {
		report.Duration = time.Since(started)
		return report, nil
	}

	// stop blocks new admissions; in-flight tasks finish normally.
	stop := make(chan struct{})
	var stopOnce sync.Once
	halt := func() { stopOnce.Do(func() { close(stop) }) }

	queue := make(chan FetchTask)
	outcomes := make(chan taskOutcome)

	var workers sync.WaitGroup
	for i := 0; i < opts.Concurrency; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for task := range queue {
				outcomes <- e.runTask(ctx, task, opts)
			}
		}()
	}

	// Feeder: admits tasks until the queue is drained or the run is stopped.
	go func() {
		defer close(queue)
		for _, task := range tasks {
			select {
			case queue <- task:
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		workers.Wait()
		close(outcomes)
	}()

	tasksPerEntity := make(map[EntityID]int)
	for _, task := range tasks {
		tasksPerEntity[task.Entity]++
	}
	succeededPerEntity := make(map[EntityID]int)

	// Single aggregator: the only goroutine that touches the manifest and
	// the report.
	for outcome := range outcomes {
		e.record(ctx, outcome, report)
		if outcome.err == nil {
			succeededPerEntity[outcome.task.Entity]++
		}
		if outcome.err != nil && !opts.SkipErrors {
			halt()
		}
		if ctx.Err() != nil {
			halt()
		}
	}

	// backfill_complete is per entity, never per task: only an entity with
	// every one of its tasks succeeded has nothing left owed.
	if opts.MarkBackfillComplete && e.Tracker != nil {
		for entity, total := range tasksPerEntity {
			if succeededPerEntity[entity] != total {
				continue
			}
			if err := e.Tracker.MarkBackfillComplete(ctx, entity); err != nil {
				log.Printf("[Executor] manifest update failed for %s: %v", entity, err)
			}
		}
	}

	report.Skipped = report.Total - report.Succeeded - report.Failed
	if report.Skipped > 0 {
		tasksSkipped.Add(report.Skipped)
	}
	report.Duration = time.Since(started)
	log.Printf("[Executor] %s", report)
	return report, nil
}

// record applies one task outcome to the manifest and report. Runs only on
// the aggregator goroutine.
func (e *Executor) record(ctx context.Context, outcome taskOutcome, report *ExecutionReport) {
	task := outcome.task
	if outcome.err == nil {
		report.Succeeded++
		tasksSucceeded.Inc()
		rowsPersisted.Add(outcome.rows)
		if e.Tracker != nil {
			if err := e.Tracker.RecordSuccess(ctx, task.Entity, outcome.last, outcome.rows); err != nil {
				log.Printf("[Executor] manifest update failed for %s: %v", task.Entity, err)
			}
		}
		return
	}

	report.Failed++
	tasksFailed.Inc()
	report.Errors = append(report.Errors, TaskError{
		Entity:  task.Entity,
		Range:   Period{Start: task.FetchStart, End: task.FetchEnd},
		Kind:    KindOf(outcome.err),
		Message: outcome.err.Error(),
	})
	if e.Tracker != nil {
		if err := e.Tracker.RecordFailure(ctx, task.Entity, outcome.err); err != nil {
			log.Printf("[Executor] manifest update failed for %s: %v", task.Entity, err)
		}
	}
}

// runTask fetches one range with retries and persists the result. Returns
// the outcome for the aggregator; never panics the worker.
func (e *Executor) runTask(ctx context.Context, task FetchTask, opts ExecutorOptions) taskOutcome {
	task.Status = TaskRunning

	rows, err := e.fetchWithRetry(ctx, &task, opts)
	if err != nil {
		task.Status = TaskFailed
		return taskOutcome{task: task, err: err}
	}

	if qerr := opts.Quality.CheckBatch(task.Entity, rows); qerr != nil {
		// Rejected batches are never partially written.
		task.Status = TaskFailed
		return taskOutcome{task: task, err: qerr}
	}

	batch := &Batch{Entity: task.Entity, Frequency: task.Frequency, Rows: rows}
	if err := e.Partitions.Write(ctx, batch, true); err != nil {
		// The fetch succeeded; surface a storage error with enough context
		// to retry the write independently.
		task.Status = TaskFailed
		return taskOutcome{task: task, err: err}
	}

	task.Status = TaskSucceeded
	_, last, _ := batch.DateRange()
	return taskOutcome{task: task, rows: len(rows), last: last}
}

func (e *Executor) fetchWithRetry(ctx context.Context, task *FetchTask, opts ExecutorOptions) ([]Row, error) {
	var lastErr error
	for attempt := 0; attempt <= opts.Retry.MaxRetries; attempt++ {
		if attempt > 0 {
			taskRetries.Inc()
			if err := e.sleep(ctx, opts.Retry.Delay(attempt)); err != nil {
				return nil, TransientError(task.Entity, err)
			}
		}

		task.Attempts++
		rows, err := e.Provider.Fetch(ctx, task.Entity, task.FetchStart, task.FetchEnd)
		if err == nil {
			return rows, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return nil, err
		}
		log.Printf("[Executor] transient error for %s %s-%s (attempt %d/%d): %v",
			task.Entity, task.FetchStart, task.FetchEnd, task.Attempts, opts.Retry.MaxRetries+1, err)
	}
	return nil, lastErr
}
