/*
manifest.go - Resumable per-entity progress records

PURPOSE:
  The manifest is what lets a killed or restarted run avoid re-fetching
  entities that already completed. One record per entity, created on the
  first completed task and updated after EVERY task outcome, success or
  failure. Records are never deleted, only updated.

DISCIPLINE:
  Single writer per run: the manifest is loaded once at run start, mutated
  in memory as tasks complete, and persisted once at run end (plus optional
  periodic checkpoints for long runs). The Tracker is still mutex-guarded
  because executor completion callbacks may run concurrently.

SEE ALSO:
  - store.go: ManifestStore interface
  - executor.go: calls RecordSuccess/RecordFailure per task
*/
package reconcile

import (
	"context"
	"sync"
	"time"
)

// =============================================================================
// MANIFEST ENTRY
// =============================================================================

// ManifestEntry is the persisted progress record for one entity.
type ManifestEntry struct {
	Entity           EntityID
	LastDate         Date
	BackfillComplete bool
	TotalRecords     int64
	ErrorCount       int64
	LastError        string
	LastUpdated      time.Time
}

// =============================================================================
// TRACKER
// =============================================================================

// Tracker holds the in-memory manifest for one run.
type Tracker struct {
	store ManifestStore

	mu      sync.Mutex
	entries map[EntityID]*ManifestEntry
	dirty   int // completed updates since last persist

	// CheckpointEvery persists the manifest after every N updates.
	// Zero disables checkpointing; the manifest is still saved at run end.
	CheckpointEvery int

	now func() time.Time // test hook
}

func NewTracker(store ManifestStore) *Tracker {
	return &Tracker{
		store:   store,
		entries: make(map[EntityID]*ManifestEntry),
		now:     time.Now,
	}
}

// Load reads the full manifest into memory. Call once at run start.
func (t *Tracker) Load(ctx context.Context) error {
	entries, err := t.store.Load(ctx)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if entries == nil {
		entries = make(map[EntityID]*ManifestEntry)
	}
	t.entries = entries
	t.dirty = 0
	return nil
}

// Save persists the full manifest. Call once at run end.
func (t *Tracker) Save(ctx context.Context) error {
	t.mu.Lock()
	snapshot := t.snapshotLocked()
	t.dirty = 0
	t.mu.Unlock()
	return t.store.Save(ctx, snapshot)
}

func (t *Tracker) snapshotLocked() map[EntityID]*ManifestEntry {
	out := make(map[EntityID]*ManifestEntry, len(t.entries))
	for id, e := range t.entries {
		clone := *e
		out[id] = &clone
	}
	return out
}

// Entry returns a copy of the entity's record, if present.
func (t *Tracker) Entry(entity EntityID) (ManifestEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[entity]
	if !ok {
		return ManifestEntry{}, false
	}
	return *e, true
}

// Entries returns a copy of all records.
func (t *Tracker) Entries() map[EntityID]ManifestEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[EntityID]ManifestEntry, len(t.entries))
	for id, e := range t.entries {
		out[id] = *e
	}
	return out
}

// BackfillComplete reports whether the entity is already fully backfilled.
// Such entities are excluded from backfill planning but remain eligible for
// incremental updates.
func (t *Tracker) BackfillComplete(entity EntityID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[entity]
	return ok && e.BackfillComplete
}

func (t *Tracker) entryLocked(entity EntityID) *ManifestEntry {
	e, ok := t.entries[entity]
	if !ok {
		e = &ManifestEntry{Entity: entity}
		t.entries[entity] = e
	}
	return e
}

// RecordSuccess updates the entity's record after a successful task:
// advances last_date and accumulates the record count.
func (t *Tracker) RecordSuccess(ctx context.Context, entity EntityID, lastDate Date, records int) error {
	t.mu.Lock()
	e := t.entryLocked(entity)
	if e.LastDate.IsZero() || lastDate.After(e.LastDate) {
		e.LastDate = lastDate
	}
	e.TotalRecords += int64(records)
	e.LastError = ""
	e.LastUpdated = t.now()
	t.dirty++
	checkpoint := t.checkpointDueLocked()
	t.mu.Unlock()

	if checkpoint {
		return t.Save(ctx)
	}
	return nil
}

// MarkBackfillComplete flags the entity as fully backfilled, excluding it
// from future backfill planning. Call only after EVERY one of the entity's
// tasks in a run succeeded; a single failed task means a stint is still
// owed, and flagging it anyway would orphan that stint forever.
func (t *Tracker) MarkBackfillComplete(ctx context.Context, entity EntityID) error {
	t.mu.Lock()
	e := t.entryLocked(entity)
	e.BackfillComplete = true
	e.LastUpdated = t.now()
	t.dirty++
	checkpoint := t.checkpointDueLocked()
	t.mu.Unlock()

	if checkpoint {
		return t.Save(ctx)
	}
	return nil
}

// RecordFailure updates the entity's record after a failed task. Never
// skipped: failures are part of progress truth.
func (t *Tracker) RecordFailure(ctx context.Context, entity EntityID, taskErr error) error {
	t.mu.Lock()
	e := t.entryLocked(entity)
	e.ErrorCount++
	if taskErr != nil {
		e.LastError = taskErr.Error()
	}
	e.LastUpdated = t.now()
	t.dirty++
	checkpoint := t.checkpointDueLocked()
	t.mu.Unlock()

	if checkpoint {
		return t.Save(ctx)
	}
	return nil
}

func (t *Tracker) checkpointDueLocked() bool {
	return t.CheckpointEvery > 0 && t.dirty >= t.CheckpointEvery
}
