package reconcile_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/sync-engine/reconcile"
	"github.com/warp/sync-engine/reconcile/store"
)

func row(day string, close float64, revision int64) reconcile.Row {
	c := decimal.NewFromFloat(close)
	return reconcile.Row{
		Date: date(day), Open: c, High: c, Low: c, Close: c,
		Volume: 100, Revision: revision,
	}
}

func newIndex() *reconcile.PartitionIndex {
	return reconcile.NewPartitionIndex(store.NewMemoryPartitions())
}

func dailyBatch(entity string, rows ...reconcile.Row) *reconcile.Batch {
	return &reconcile.Batch{
		Entity: reconcile.EntityID(entity), Frequency: reconcile.FreqDaily, Rows: rows,
	}
}

// =============================================================================
// MERGE SEMANTICS
// =============================================================================

func TestPartition_MergeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	once := newIndex()
	twice := newIndex()

	batch := dailyBatch("AAPL",
		row("2020-01-02", 300.10, 1),
		row("2020-01-03", 301.25, 1))

	require.NoError(t, once.Write(ctx, batch, true))
	require.NoError(t, twice.Write(ctx, batch, true))
	require.NoError(t, twice.Write(ctx, batch, true))

	rowsOnce, _, err := once.ReadRange(ctx, "AAPL", reconcile.FreqDaily, date("2020-01-01"), date("2020-12-31"))
	require.NoError(t, err)
	rowsTwice, _, err := twice.ReadRange(ctx, "AAPL", reconcile.FreqDaily, date("2020-01-01"), date("2020-12-31"))
	require.NoError(t, err)

	assert.Equal(t, rowsOnce, rowsTwice)
}

func TestPartition_MergeCommutes_WinnerKeyedByRevision(t *testing.T) {
	// Batches A and B overlap on 2020-01-03; B carries the higher revision
	// there. Whichever order they are written, B's row wins.
	ctx := context.Background()

	a := dailyBatch("AAPL",
		row("2020-01-02", 300.00, 1),
		row("2020-01-03", 999.99, 1))
	b := dailyBatch("AAPL",
		row("2020-01-03", 301.00, 2),
		row("2020-01-06", 302.00, 2))

	ab := newIndex()
	require.NoError(t, ab.Write(ctx, a, true))
	require.NoError(t, ab.Write(ctx, b, true))

	ba := newIndex()
	require.NoError(t, ba.Write(ctx, b, true))
	require.NoError(t, ba.Write(ctx, a, true))

	rowsAB, _, err := ab.ReadRange(ctx, "AAPL", reconcile.FreqDaily, date("2020-01-01"), date("2020-12-31"))
	require.NoError(t, err)
	rowsBA, _, err := ba.ReadRange(ctx, "AAPL", reconcile.FreqDaily, date("2020-01-01"), date("2020-12-31"))
	require.NoError(t, err)

	assert.Equal(t, rowsAB, rowsBA)
	require.Len(t, rowsAB, 3)
	assert.True(t, rowsAB[1].Close.Equal(decimal.NewFromFloat(301.00)),
		"revision 2 row should win on the conflicting date")
}

func TestPartition_MergeFalse_ReplacesOutright(t *testing.T) {
	ctx := context.Background()
	idx := newIndex()

	require.NoError(t, idx.Write(ctx, dailyBatch("AAPL",
		row("2020-01-02", 300.00, 1),
		row("2020-01-03", 301.00, 1)), true))
	require.NoError(t, idx.Write(ctx, dailyBatch("AAPL",
		row("2020-01-06", 305.00, 2)), false))

	rows, _, err := idx.ReadRange(ctx, "AAPL", reconcile.FreqDaily, date("2020-01-01"), date("2020-12-31"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, date("2020-01-06"), rows[0].Date)
}

func TestPartition_WriteSplitsByCalendarYear(t *testing.T) {
	ctx := context.Background()
	backing := store.NewMemoryPartitions()
	idx := reconcile.NewPartitionIndex(backing)

	require.NoError(t, idx.Write(ctx, dailyBatch("AAPL",
		row("2020-12-31", 300.00, 1),
		row("2021-01-04", 301.00, 1)), true))

	years, err := backing.Years(ctx, "AAPL", reconcile.FreqDaily)
	require.NoError(t, err)
	assert.Equal(t, []int{2020, 2021}, years)
}

// =============================================================================
// RANGE READS
// =============================================================================

func TestPartition_RangeSpansAllYears(t *testing.T) {
	ctx := context.Background()
	idx := newIndex()

	require.NoError(t, idx.Write(ctx, dailyBatch("AAPL",
		row("2019-06-03", 200.00, 1),
		row("2020-03-02", 250.00, 1),
		row("2021-09-01", 310.00, 1)), true))

	rng, err := idx.Range(ctx, "AAPL", reconcile.FreqDaily)
	require.NoError(t, err)
	require.NotNil(t, rng)
	assert.Equal(t, date("2019-06-03"), rng.MinDate)
	assert.Equal(t, date("2021-09-01"), rng.MaxDate)
}

func TestPartition_RangeNilWhenEmpty(t *testing.T) {
	idx := newIndex()
	rng, err := idx.Range(context.Background(), "NOBODY", reconcile.FreqDaily)
	require.NoError(t, err)
	assert.Nil(t, rng)
}

func TestPartition_ReadRangeFiltersWindow_ButRangeIsGlobal(t *testing.T) {
	ctx := context.Background()
	idx := newIndex()

	require.NoError(t, idx.Write(ctx, dailyBatch("AAPL",
		row("2019-06-03", 200.00, 1),
		row("2020-03-02", 250.00, 1),
		row("2021-09-01", 310.00, 1)), true))

	rows, rng, err := idx.ReadRange(ctx, "AAPL", reconcile.FreqDaily, date("2020-01-01"), date("2020-12-31"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, date("2020-03-02"), rows[0].Date)
	// The persisted range reflects all partitions, not just the window.
	require.NotNil(t, rng)
	assert.Equal(t, date("2019-06-03"), rng.MinDate)
	assert.Equal(t, date("2021-09-01"), rng.MaxDate)
}

// =============================================================================
// MERGE FUNCTION DIRECTLY
// =============================================================================

func TestMergeRows_IncomingWinsOnEqualRevision(t *testing.T) {
	existing := []reconcile.Row{row("2020-01-02", 1.00, 5)}
	incoming := []reconcile.Row{row("2020-01-02", 2.00, 5)}

	merged := reconcile.MergeRows(existing, incoming)

	require.Len(t, merged, 1)
	assert.True(t, merged[0].Close.Equal(decimal.NewFromFloat(2.00)))
}

func TestMergeRows_HigherExistingRevisionSurvives(t *testing.T) {
	existing := []reconcile.Row{row("2020-01-02", 1.00, 9)}
	incoming := []reconcile.Row{row("2020-01-02", 2.00, 3)}

	merged := reconcile.MergeRows(existing, incoming)

	require.Len(t, merged, 1)
	assert.True(t, merged[0].Close.Equal(decimal.NewFromFloat(1.00)))
}

func TestMergeRows_ResultSortedByDate(t *testing.T) {
	merged := reconcile.MergeRows(
		[]reconcile.Row{row("2020-01-08", 1, 1), row("2020-01-02", 1, 1)},
		[]reconcile.Row{row("2020-01-06", 1, 1)})

	require.Len(t, merged, 3)
	assert.Equal(t, date("2020-01-02"), merged[0].Date)
	assert.Equal(t, date("2020-01-06"), merged[1].Date)
	assert.Equal(t, date("2020-01-08"), merged[2].Date)
}
