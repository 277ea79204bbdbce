/*
manifest_test.go - Resumable progress records and checkpointing
*/
package reconcile_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/sync-engine/reconcile"
	"github.com/warp/sync-engine/reconcile/store"
)

func newTracker(t *testing.T) (*reconcile.Tracker, *store.MemoryManifest) {
	t.Helper()
	manifest := store.NewMemoryManifest()
	tracker := reconcile.NewTracker(manifest)
	require.NoError(t, tracker.Load(context.Background()))
	return tracker, manifest
}

// =============================================================================
// RECORD UPDATES
// =============================================================================

func TestTracker_RecordSuccess_CreatesEntryOnFirstCompletedTask(t *testing.T) {
	tracker, _ := newTracker(t)

	_, ok := tracker.Entry("AAPL")
	require.False(t, ok, "no entry before the first completed task")

	err := tracker.RecordSuccess(context.Background(), "AAPL", date("2024-06-28"), 120)
	require.NoError(t, err)

	entry, ok := tracker.Entry("AAPL")
	require.True(t, ok)
	assert.Equal(t, date("2024-06-28"), entry.LastDate)
	assert.Equal(t, int64(120), entry.TotalRecords)
	assert.False(t, entry.BackfillComplete)
	assert.False(t, entry.LastUpdated.IsZero())
}

func TestTracker_RecordSuccess_LastDateOnlyAdvances(t *testing.T) {
	tracker, _ := newTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.RecordSuccess(ctx, "AAPL", date("2024-06-28"), 10))
	// An out-of-order backfill task for an older range must not regress it.
	require.NoError(t, tracker.RecordSuccess(ctx, "AAPL", date("2019-12-31"), 250))

	entry, _ := tracker.Entry("AAPL")
	assert.Equal(t, date("2024-06-28"), entry.LastDate)
	assert.Equal(t, int64(260), entry.TotalRecords, "record counts still accumulate")
}

func TestTracker_RecordSuccess_ClearsLastError(t *testing.T) {
	tracker, _ := newTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.RecordFailure(ctx, "AAPL", fmt.Errorf("rate limit")))
	require.NoError(t, tracker.RecordSuccess(ctx, "AAPL", date("2024-06-28"), 10))

	entry, _ := tracker.Entry("AAPL")
	assert.Empty(t, entry.LastError)
	assert.Equal(t, int64(1), entry.ErrorCount, "error history is kept, only the message clears")
}

func TestTracker_RecordFailure_NeverSkipped(t *testing.T) {
	tracker, _ := newTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.RecordFailure(ctx, "GONE", fmt.Errorf("404 not found")))
	require.NoError(t, tracker.RecordFailure(ctx, "GONE", fmt.Errorf("404 not found")))

	entry, ok := tracker.Entry("GONE")
	require.True(t, ok, "failures create records too")
	assert.Equal(t, int64(2), entry.ErrorCount)
	assert.Contains(t, entry.LastError, "404")
	assert.True(t, entry.LastDate.IsZero(), "failure never advances last_date")
}

func TestTracker_MarkBackfillComplete_StickyAcrossLaterUpdates(t *testing.T) {
	tracker, _ := newTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.RecordSuccess(ctx, "AAPL", date("2024-06-28"), 10))
	assert.False(t, tracker.BackfillComplete("AAPL"), "a successful task alone never flags completion")

	require.NoError(t, tracker.MarkBackfillComplete(ctx, "AAPL"))
	assert.True(t, tracker.BackfillComplete("AAPL"))

	// Later successes and failures do not unset it.
	require.NoError(t, tracker.RecordSuccess(ctx, "AAPL", date("2024-07-01"), 1))
	require.NoError(t, tracker.RecordFailure(ctx, "AAPL", fmt.Errorf("rate limit")))
	assert.True(t, tracker.BackfillComplete("AAPL"))

	assert.False(t, tracker.BackfillComplete("NEWCO"), "unknown entity is not complete")
}

// =============================================================================
// LOAD / SAVE DISCIPLINE
// =============================================================================

func TestTracker_SaveAndReload_RoundTripsEntries(t *testing.T) {
	tracker, manifest := newTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.RecordSuccess(ctx, "AAPL", date("2024-06-28"), 120))
	require.NoError(t, tracker.MarkBackfillComplete(ctx, "AAPL"))
	require.NoError(t, tracker.RecordFailure(ctx, "GONE", fmt.Errorf("delisted")))
	require.NoError(t, tracker.Save(ctx))

	reloaded := reconcile.NewTracker(manifest)
	require.NoError(t, reloaded.Load(ctx))

	entry, ok := reloaded.Entry("AAPL")
	require.True(t, ok)
	assert.Equal(t, date("2024-06-28"), entry.LastDate)
	assert.True(t, entry.BackfillComplete)

	failed, ok := reloaded.Entry("GONE")
	require.True(t, ok)
	assert.Equal(t, int64(1), failed.ErrorCount)
}

func TestTracker_Entries_ReturnsCopies(t *testing.T) {
	tracker, _ := newTracker(t)
	require.NoError(t, tracker.RecordSuccess(context.Background(), "AAPL", date("2024-06-28"), 10))

	entries := tracker.Entries()
	entries["AAPL"] = reconcile.ManifestEntry{Entity: "AAPL", TotalRecords: 999}

	entry, _ := tracker.Entry("AAPL")
	assert.Equal(t, int64(10), entry.TotalRecords, "mutating the copy must not touch the tracker")
}

// =============================================================================
// CHECKPOINTING
// =============================================================================

func TestTracker_CheckpointEvery_PersistsMidRun(t *testing.T) {
	tracker, manifest := newTracker(t)
	tracker.CheckpointEvery = 3
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		entity := reconcile.EntityID(fmt.Sprintf("E%d", i))
		require.NoError(t, tracker.RecordSuccess(ctx, entity, date("2024-06-28"), 1))
	}

	// Updates 3 and 6 trigger checkpoints; update 7 is still dirty.
	assert.Equal(t, 2, manifest.SaveCount)

	require.NoError(t, tracker.Save(ctx))
	assert.Equal(t, 3, manifest.SaveCount)
}

func TestTracker_CheckpointDisabled_SavesOnlyAtRunEnd(t *testing.T) {
	tracker, manifest := newTracker(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		entity := reconcile.EntityID(fmt.Sprintf("E%d", i))
		require.NoError(t, tracker.RecordSuccess(ctx, entity, date("2024-06-28"), 1))
	}
	assert.Equal(t, 0, manifest.SaveCount)

	require.NoError(t, tracker.Save(ctx))
	assert.Equal(t, 1, manifest.SaveCount)
}
