/*
partition.go - Partitioned row storage with merge-on-write

PURPOSE:
  The partition unit is (entity, frequency, calendar year). PartitionIndex
  adds the correctness-critical behavior on top of a raw PartitionStore:
  merge-on-write (dedupe by date, newer revision wins), range reads that
  span years, and the actual persisted min/max used by coverage checks.

MERGE CONTRACT:
  - Dedupe by date; on conflict the higher Revision wins, the incoming row
    winning ties. This makes the merge idempotent (same batch twice ==
    once) and commutative in outcome (A then B == B then A) because the
    winner is keyed by explicit recency, not write order.
  - A write always replaces the whole partition with the deduplicated,
    date-sorted union. Partial overwrites do not exist.

CONCURRENCY:
  Merge-on-write is read-modify-write, so writes to the SAME partition key
  are serialized through a per-key lock. Writes to different keys proceed
  concurrently.

SEE ALSO:
  - store.go: PartitionStore interface (atomic whole-partition replace)
  - store/csvpart: filesystem implementation
*/
package reconcile

import (
	"context"
	"fmt"
	"sync"
)

// =============================================================================
// PARTITION KEY
// =============================================================================

// PartitionKey addresses one stored partition: {entity}/{frequency}/{year}.
type PartitionKey struct {
	Entity    EntityID
	Frequency Frequency
	Year      int
}

func (k PartitionKey) String() string {
	return fmt.Sprintf("%s/%s/%d", k.Entity, k.Frequency, k.Year)
}

// =============================================================================
// MERGE - Pure row-set merge, newer revision wins
// =============================================================================

// MergeRows merges incoming rows into existing rows, deduplicating by date.
// On a date conflict the row with the higher Revision wins; the incoming row
// wins ties. The result is sorted ascending by date.
func MergeRows(existing, incoming []Row) []Row {
	byDate := make(map[Date]Row, len(existing)+len(incoming))
	for _, r := range existing {
		byDate[r.Date.normalizeKey()] = r
	}
	for _, r := range incoming {
		key := r.Date.normalizeKey()
		if prev, ok := byDate[key]; ok && prev.Revision > r.Revision {
			continue
		}
		byDate[key] = r
	}

	out := make([]Row, 0, len(byDate))
	for _, r := range byDate {
		out = append(out, r)
	}
	batch := Batch{Rows: out}
	batch.SortByDate()
	return batch.Rows
}

// normalizeKey makes Date usable as a map key regardless of wall-clock noise.
func (d Date) normalizeKey() Date { return Date{Time: d.normalize()} }

// =============================================================================
// PARTITION INDEX
// =============================================================================

// PartitionIndex reads and writes partitioned batches for an entity and
// frequency, splitting and merging by calendar year.
type PartitionIndex struct {
	store PartitionStore

	mu    sync.Mutex
	locks map[PartitionKey]*sync.Mutex
}

func NewPartitionIndex(store PartitionStore) *PartitionIndex {
	return &PartitionIndex{store: store, locks: make(map[PartitionKey]*sync.Mutex)}
}

// keyLock returns the mutex serializing writes to one partition key.
func (pi *PartitionIndex) keyLock(key PartitionKey) *sync.Mutex {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	l, ok := pi.locks[key]
	if !ok {
		l = &sync.Mutex{}
		pi.locks[key] = l
	}
	return l
}

// Write persists rows for entity+frequency, partitioned by calendar year.
// With merge=true each year partition becomes the deduplicated union of the
// existing and incoming rows; with merge=false incoming rows replace the
// partition outright. Idempotent: writing the same batch twice produces the
// same persisted content as writing it once.
func (pi *PartitionIndex) Write(ctx context.Context, batch *Batch, merge bool) error {
	if len(batch.Rows) == 0 {
		return nil
	}

	byYear := make(map[int][]Row)
	for _, r := range batch.Rows {
		byYear[r.Date.Year()] = append(byYear[r.Date.Year()], r)
	}

	for year, rows := range byYear {
		key := PartitionKey{Entity: batch.Entity, Frequency: batch.Frequency, Year: year}
		if err := pi.writePartition(ctx, key, rows, merge); err != nil {
			return &StorageError{Entity: batch.Entity, Frequency: batch.Frequency, Rows: len(rows), Err: err}
		}
		partitionWrites.Inc()
	}
	return nil
}

func (pi *PartitionIndex) writePartition(ctx context.Context, key PartitionKey, rows []Row, merge bool) error {
	lock := pi.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	merged := rows
	if merge {
		existing, err := pi.store.ReadPartition(ctx, key)
		if err != nil {
			return err
		}
		if existing != nil {
			merged = MergeRows(existing.Rows, rows)
		} else {
			merged = MergeRows(nil, rows)
		}
	} else {
		merged = MergeRows(nil, rows)
	}

	out := &Batch{Entity: key.Entity, Frequency: key.Frequency, Rows: merged}
	return pi.store.WritePartition(ctx, key, out)
}

// ReadRange returns rows for entity+frequency within [start, end], sorted by
// date, along with the actual persisted min/max ACROSS ALL partitions (not
// just the requested window). The range is nil when no data exists.
func (pi *PartitionIndex) ReadRange(ctx context.Context, entity EntityID, freq Frequency, start, end Date) ([]Row, *PersistedRange, error) {
	rng, err := pi.Range(ctx, entity, freq)
	if err != nil {
		return nil, nil, err
	}
	if rng == nil {
		return nil, nil, nil
	}

	var rows []Row
	window := Period{Start: start, End: end}
	for year := start.Year(); year <= end.Year(); year++ {
		key := PartitionKey{Entity: entity, Frequency: freq, Year: year}
		batch, err := pi.store.ReadPartition(ctx, key)
		if err != nil {
			return nil, nil, err
		}
		if batch == nil {
			continue
		}
		for _, r := range batch.Rows {
			if window.Contains(r.Date) {
				rows = append(rows, r)
			}
		}
	}
	out := Batch{Rows: rows}
	out.SortByDate()
	return out.Rows, rng, nil
}

// Range scans the entity's partitions and returns the actual persisted
// min/max dates, or nil when no data exists.
func (pi *PartitionIndex) Range(ctx context.Context, entity EntityID, freq Frequency) (*PersistedRange, error) {
	years, err := pi.store.Years(ctx, entity, freq)
	if err != nil {
		return nil, err
	}
	if len(years) == 0 {
		return nil, nil
	}

	var rng *PersistedRange
	// Min lives in the first year with rows, max in the last.
	for _, year := range years {
		key := PartitionKey{Entity: entity, Frequency: freq, Year: year}
		batch, err := pi.store.ReadPartition(ctx, key)
		if err != nil {
			return nil, err
		}
		if batch == nil {
			continue
		}
		min, max, ok := batch.DateRange()
		if !ok {
			continue
		}
		if rng == nil {
			rng = &PersistedRange{Entity: entity, Frequency: freq, MinDate: min, MaxDate: max}
			continue
		}
		rng.MinDate = MinDate(rng.MinDate, min)
		rng.MaxDate = MaxDate(rng.MaxDate, max)
	}
	return rng, nil
}
