/*
store.go - Persistence interfaces for the reconciliation engine

PURPOSE:
  Defines the interface between the engine and its storage backends.
  Different implementations can use SQLite, the filesystem, cloud object
  storage, or in-memory maps.

KEY INTERFACES:
  MembershipStore: point-in-time interval truth (read-only to the engine)
  ManifestStore:   per-entity progress records (load-all / save-all)
  PartitionStore:  raw partition blobs addressed by entity/frequency/year

OWNERSHIP:
  MembershipStore owns interval truth, ManifestStore owns progress truth,
  PartitionStore owns row truth. The engine's CoverageChecker and
  FetchPlanner are pure functions over snapshots of all three.

PARTITION CONTRACT:
  WritePartition always replaces the whole partition atomically (write to
  temp then rename, or equivalent); a crash mid-write must never leave a
  half-written partition. Merge semantics live ABOVE this interface, in
  PartitionIndex - stores only read and replace whole units.

IMPLEMENTATIONS:
  - store/sqlite:       production MembershipStore + ManifestStore
  - store/csvpart:      filesystem PartitionStore (one file per partition)
  - reconcile/store:    in-memory implementations for testing

SEE ALSO:
  - partition.go: PartitionIndex (merge-on-write, range scans)
  - manifest.go: Tracker built on ManifestStore
*/
package reconcile

import "context"

// =============================================================================
// MEMBERSHIP STORE
// =============================================================================

// MembershipStore loads per-entity membership intervals.
type MembershipStore interface {
	// Intervals returns the entity's membership intervals, non-overlapping
	// and sorted by start. Returns ErrNoMembershipData when the entity has
	// no membership record at all (distinct from a known entity whose
	// intervals are simply outside a queried window).
	Intervals(ctx context.Context, entity EntityID) ([]MembershipInterval, error)

	// Entities returns all entities with at least one membership record.
	Entities(ctx context.Context) ([]EntityID, error)
}

// =============================================================================
// MANIFEST STORE
// =============================================================================

// ManifestStore persists the progress manifest: one record per entity.
// Load-once / save-once per run; Save must be atomic so a crash during
// persist cannot corrupt the previous manifest.
type ManifestStore interface {
	Load(ctx context.Context) (map[EntityID]*ManifestEntry, error)
	Save(ctx context.Context, entries map[EntityID]*ManifestEntry) error
}

// =============================================================================
// PARTITION STORE
// =============================================================================

// PartitionStore reads and replaces whole partitions. ReadPartition returns
// (nil, nil) when the partition does not exist.
type PartitionStore interface {
	ReadPartition(ctx context.Context, key PartitionKey) (*Batch, error)
	WritePartition(ctx context.Context, key PartitionKey, batch *Batch) error

	// Years lists the partition years present for entity+frequency,
	// ascending. Empty when no data exists.
	Years(ctx context.Context, entity EntityID, freq Frequency) ([]int, error)
}
