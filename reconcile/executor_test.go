/*
executor_test.go - Bounded concurrency, retry, and failure isolation
*/
package reconcile_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/sync-engine/reconcile"
	"github.com/warp/sync-engine/reconcile/store"
)

// stubProvider scripts per-entity behavior and records call statistics.
type stubProvider struct {
	mu       sync.Mutex
	calls    map[reconcile.EntityID]int
	fail     map[reconcile.EntityID]error // returned on every call
	rows     func(entity reconcile.EntityID, start, end reconcile.Date) []reconcile.Row
	inFlight atomic.Int64
	maxSeen  atomic.Int64
	delay    time.Duration
}

func newStubProvider() *stubProvider {
	return &stubProvider{
		calls: make(map[reconcile.EntityID]int),
		fail:  make(map[reconcile.EntityID]error),
		rows: func(_ reconcile.EntityID, start, _ reconcile.Date) []reconcile.Row {
			return []reconcile.Row{row(start.String(), 100, 1)}
		},
	}
}

func (p *stubProvider) Fetch(_ context.Context, entity reconcile.EntityID, start, end reconcile.Date) ([]reconcile.Row, error) {
	cur := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		seen := p.maxSeen.Load()
		if cur <= seen || p.maxSeen.CompareAndSwap(seen, cur) {
			break
		}
	}
	if p.delay > 0 {
		time.Sleep(p.delay)
	}

	p.mu.Lock()
	p.calls[entity]++
	err := p.fail[entity]
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return p.rows(entity, start, end), nil
}

func (p *stubProvider) callCount(entity reconcile.EntityID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[entity]
}

type executorFixture struct {
	provider *stubProvider
	index    *reconcile.PartitionIndex
	manifest *store.MemoryManifest
	tracker  *reconcile.Tracker
	executor *reconcile.Executor
}

func newExecutorFixture(t *testing.T) *executorFixture {
	t.Helper()
	f := &executorFixture{
		provider: newStubProvider(),
		index:    reconcile.NewPartitionIndex(store.NewMemoryPartitions()),
		manifest: store.NewMemoryManifest(),
	}
	f.tracker = reconcile.NewTracker(f.manifest)
	require.NoError(t, f.tracker.Load(context.Background()))
	f.executor = reconcile.NewExecutor(f.provider, f.index, f.tracker)
	return f
}

func task(entity string, start, end string) reconcile.FetchTask {
	return reconcile.FetchTask{
		Entity:     reconcile.EntityID(entity),
		Frequency:  reconcile.FreqDaily,
		FetchStart: date(start),
		FetchEnd:   date(end),
		Status:     reconcile.TaskPending,
	}
}

// fastOpts disables backoff delays so retry tests run instantly.
func fastOpts() reconcile.ExecutorOptions {
	return reconcile.ExecutorOptions{
		Concurrency: 4,
		Retry:       reconcile.RetryPolicy{MaxRetries: 3, BaseDelay: 0, BackoffFactor: 2},
		SkipErrors:  true,
	}
}

// =============================================================================
// CONCURRENCY BOUND
// =============================================================================

func TestExecutor_ConcurrencyBound_NeverExceeded(t *testing.T) {
	f := newExecutorFixture(t)
	f.provider.delay = time.Millisecond

	var tasks []reconcile.FetchTask
	for i := 0; i < 1000; i++ {
		tasks = append(tasks, task(fmt.Sprintf("E%04d", i), "2020-01-06", "2020-01-10"))
	}

	opts := fastOpts()
	opts.Concurrency = 10
	report, err := f.executor.Run(context.Background(), tasks, opts)

	require.NoError(t, err)
	assert.Equal(t, 1000, report.Succeeded)
	assert.LessOrEqual(t, f.provider.maxSeen.Load(), int64(10),
		"no instant may have more than concurrency_limit provider calls in flight")
}

// =============================================================================
// RETRY
// =============================================================================

func TestExecutor_TransientError_AttemptedExactlyMaxRetriesPlusOne(t *testing.T) {
	f := newExecutorFixture(t)
	f.provider.fail["FLAKY"] = reconcile.TransientError("FLAKY", fmt.Errorf("timeout"))

	opts := fastOpts()
	opts.Retry.MaxRetries = 4
	report, err := f.executor.Run(context.Background(),
		[]reconcile.FetchTask{task("FLAKY", "2020-01-06", "2020-01-10")}, opts)

	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 5, f.provider.callCount("FLAKY"), "max_retries+1 attempts")
	require.Len(t, report.Errors, 1)
	assert.Equal(t, reconcile.ErrorTransient, report.Errors[0].Kind)
}

func TestExecutor_PermanentError_NeverRetried(t *testing.T) {
	f := newExecutorFixture(t)
	f.provider.fail["GONE"] = reconcile.PermanentError("GONE", fmt.Errorf("delisted"))

	report, err := f.executor.Run(context.Background(),
		[]reconcile.FetchTask{task("GONE", "2020-01-06", "2020-01-10")}, fastOpts())

	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, f.provider.callCount("GONE"))
}

// =============================================================================
// FAILURE ISOLATION & EARLY STOP
// =============================================================================

func TestExecutor_SkipErrorsTrue_DrainsFullQueue(t *testing.T) {
	f := newExecutorFixture(t)
	f.provider.fail["BAD"] = reconcile.PermanentError("BAD", fmt.Errorf("not found"))

	report, err := f.executor.Run(context.Background(), []reconcile.FetchTask{
		task("GOOD1", "2020-01-06", "2020-01-10"),
		task("BAD", "2020-01-06", "2020-01-10"),
		task("GOOD2", "2020-01-06", "2020-01-10"),
	}, fastOpts())

	require.NoError(t, err)
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 0, report.Skipped)
}

func TestExecutor_SkipErrorsFalse_StopsAdmittingAfterFirstFailure(t *testing.T) {
	f := newExecutorFixture(t)
	f.provider.fail["BAD"] = reconcile.PermanentError("BAD", fmt.Errorf("not found"))
	f.provider.delay = time.Millisecond

	var tasks []reconcile.FetchTask
	tasks = append(tasks, task("BAD", "2020-01-06", "2020-01-10"))
	for i := 0; i < 50; i++ {
		tasks = append(tasks, task(fmt.Sprintf("G%02d", i), "2020-01-06", "2020-01-10"))
	}

	opts := fastOpts()
	opts.SkipErrors = false
	opts.Concurrency = 2
	report, err := f.executor.Run(context.Background(), tasks, opts)

	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Greater(t, report.Skipped, 0, "tasks after the failure are not admitted")
	assert.Equal(t, report.Total, report.Succeeded+report.Failed+report.Skipped)
}

func TestExecutor_ContextCancel_NoNewAdmissions(t *testing.T) {
	f := newExecutorFixture(t)
	f.provider.delay = 2 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	var tasks []reconcile.FetchTask
	for i := 0; i < 100; i++ {
		tasks = append(tasks, task(fmt.Sprintf("E%02d", i), "2020-01-06", "2020-01-10"))
	}

	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	opts := fastOpts()
	opts.Concurrency = 2
	report, err := f.executor.Run(ctx, tasks, opts)

	require.NoError(t, err)
	assert.Greater(t, report.Skipped, 0)
	// In-flight tasks finished cleanly rather than being hard-killed.
	assert.Equal(t, report.Total, report.Succeeded+report.Failed+report.Skipped)
}

// =============================================================================
// MANIFEST SIDE EFFECTS
// =============================================================================

func TestExecutor_Success_UpdatesManifestLastDateAndRecords(t *testing.T) {
	f := newExecutorFixture(t)
	f.provider.rows = func(_ reconcile.EntityID, _, _ reconcile.Date) []reconcile.Row {
		return []reconcile.Row{
			row("2020-01-06", 100, 1),
			row("2020-01-10", 101, 1),
		}
	}

	opts := fastOpts()
	opts.MarkBackfillComplete = true
	_, err := f.executor.Run(context.Background(),
		[]reconcile.FetchTask{task("AAPL", "2020-01-06", "2020-01-10")}, opts)
	require.NoError(t, err)

	entry, ok := f.tracker.Entry("AAPL")
	require.True(t, ok)
	assert.Equal(t, date("2020-01-10"), entry.LastDate)
	assert.Equal(t, int64(2), entry.TotalRecords)
	assert.True(t, entry.BackfillComplete)
	assert.Empty(t, entry.LastError)
}

// splitStintProvider fails permanently for exactly one fetch range and
// succeeds for every other, so one entity can have mixed task outcomes.
type splitStintProvider struct {
	inner     *stubProvider
	failStart reconcile.Date
}

func (p *splitStintProvider) Fetch(ctx context.Context, entity reconcile.EntityID, start, end reconcile.Date) ([]reconcile.Row, error) {
	if start.Equal(p.failStart) {
		return nil, reconcile.PermanentError(entity, fmt.Errorf("history unavailable"))
	}
	return p.inner.Fetch(ctx, entity, start, end)
}

func TestExecutor_EntityWithFailedTask_NotMarkedBackfillComplete(t *testing.T) {
	f := newExecutorFixture(t)
	f.executor.Provider = &splitStintProvider{
		inner:     f.provider,
		failStart: date("2021-01-04"),
	}

	opts := fastOpts()
	opts.MarkBackfillComplete = true
	report, err := f.executor.Run(context.Background(), []reconcile.FetchTask{
		task("REJOIN", "2020-01-06", "2020-06-30"),
		task("REJOIN", "2021-01-04", "2021-06-30"),
		task("STEADY", "2020-01-06", "2020-06-30"),
	}, opts)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 1, report.Failed)

	assert.False(t, f.tracker.BackfillComplete("REJOIN"),
		"an entity with a failed task still owes a stint and must stay eligible")
	assert.True(t, f.tracker.BackfillComplete("STEADY"),
		"all tasks succeeded, nothing left owed")

	entry, ok := f.tracker.Entry("REJOIN")
	require.True(t, ok)
	assert.Equal(t, date("2020-01-06"), entry.LastDate, "the successful stint still advanced progress")
	assert.Equal(t, int64(1), entry.ErrorCount)
}

func TestExecutor_Failure_UpdatesManifestErrorCount(t *testing.T) {
	f := newExecutorFixture(t)
	f.provider.fail["BAD"] = reconcile.PermanentError("BAD", fmt.Errorf("not found"))

	_, err := f.executor.Run(context.Background(),
		[]reconcile.FetchTask{task("BAD", "2020-01-06", "2020-01-10")}, fastOpts())
	require.NoError(t, err)

	entry, ok := f.tracker.Entry("BAD")
	require.True(t, ok, "manifest is updated on failure too, never skipped")
	assert.Equal(t, int64(1), entry.ErrorCount)
	assert.Contains(t, entry.LastError, "not found")
}

// =============================================================================
// DATA QUALITY & STORAGE
// =============================================================================

func TestExecutor_QualityRejection_NoPartitionWrite(t *testing.T) {
	f := newExecutorFixture(t)
	f.provider.rows = func(reconcile.EntityID, reconcile.Date, reconcile.Date) []reconcile.Row {
		return []reconcile.Row{row("2020-01-06", 100, 1)}
	}

	opts := fastOpts()
	opts.Quality = reconcile.QualityThresholds{MinRows: 5}
	report, err := f.executor.Run(context.Background(),
		[]reconcile.FetchTask{task("THIN", "2020-01-06", "2020-01-10")}, opts)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, reconcile.ErrorDataQuality, report.Errors[0].Kind)

	rng, err := f.index.Range(context.Background(), "THIN", reconcile.FreqDaily)
	require.NoError(t, err)
	assert.Nil(t, rng, "rejected batches are never partially written")
}

type failingPartitions struct {
	*store.MemoryPartitions
}

func (f *failingPartitions) WritePartition(context.Context, reconcile.PartitionKey, *reconcile.Batch) error {
	return fmt.Errorf("disk full")
}

func TestExecutor_StorageFailure_SurfacedAsStorageError(t *testing.T) {
	provider := newStubProvider()
	index := reconcile.NewPartitionIndex(&failingPartitions{store.NewMemoryPartitions()})
	tracker := reconcile.NewTracker(store.NewMemoryManifest())
	require.NoError(t, tracker.Load(context.Background()))
	executor := reconcile.NewExecutor(provider, index, tracker)

	report, err := executor.Run(context.Background(),
		[]reconcile.FetchTask{task("AAPL", "2020-01-06", "2020-01-10")}, fastOpts())

	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, reconcile.ErrorStorage, report.Errors[0].Kind)
	assert.Contains(t, report.Errors[0].Message, "not persisted")
}

// =============================================================================
// RUN-LEVEL
// =============================================================================

func TestExecutor_NilProvider_ConfigurationError(t *testing.T) {
	f := newExecutorFixture(t)
	f.executor.Provider = nil

	_, err := f.executor.Run(context.Background(),
		[]reconcile.FetchTask{task("A", "2020-01-06", "2020-01-10")}, fastOpts())

	require.Error(t, err)
	assert.True(t, reconcile.IsFatal(err))
}

func TestExecutor_EmptyTaskList_EmptyReport(t *testing.T) {
	f := newExecutorFixture(t)
	report, err := f.executor.Run(context.Background(), nil, fastOpts())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Total)
}
