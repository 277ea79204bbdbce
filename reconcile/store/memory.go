// Package store provides in-memory implementations of the reconcile
// persistence interfaces, for testing and development.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/sync-engine/reconcile"
)

// =============================================================================
// MEMORY MEMBERSHIP STORE
// =============================================================================

type MemoryMembership struct {
	mu        sync.RWMutex
	intervals map[reconcile.EntityID][]reconcile.MembershipInterval
}

func NewMemoryMembership() *MemoryMembership {
	return &MemoryMembership{intervals: make(map[reconcile.EntityID][]reconcile.MembershipInterval)}
}

// Add appends an interval, keeping the entity's intervals sorted by start.
func (m *MemoryMembership) Add(iv reconcile.MembershipInterval) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ivs := append(m.intervals[iv.Entity], iv)
	sort.Slice(ivs, func(i, j int) bool { return ivs[i].Start.Before(ivs[j].Start) })
	m.intervals[iv.Entity] = ivs
}

func (m *MemoryMembership) Intervals(_ context.Context, entity reconcile.EntityID) ([]reconcile.MembershipInterval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ivs, ok := m.intervals[entity]
	if !ok {
		return nil, reconcile.ErrNoMembershipData
	}
	out := make([]reconcile.MembershipInterval, len(ivs))
	copy(out, ivs)
	return out, nil
}

func (m *MemoryMembership) Entities(_ context.Context) ([]reconcile.EntityID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]reconcile.EntityID, 0, len(m.intervals))
	for id := range m.intervals {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// =============================================================================
// MEMORY MANIFEST STORE
// =============================================================================

type MemoryManifest struct {
	mu      sync.Mutex
	entries map[reconcile.EntityID]*reconcile.ManifestEntry

	// SaveCount tracks persists, for checkpoint tests.
	SaveCount int
}

func NewMemoryManifest() *MemoryManifest {
	return &MemoryManifest{entries: make(map[reconcile.EntityID]*reconcile.ManifestEntry)}
}

func (m *MemoryManifest) Load(_ context.Context) (map[reconcile.EntityID]*reconcile.ManifestEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[reconcile.EntityID]*reconcile.ManifestEntry, len(m.entries))
	for id, e := range m.entries {
		clone := *e
		out[id] = &clone
	}
	return out, nil
}

func (m *MemoryManifest) Save(_ context.Context, entries map[reconcile.EntityID]*reconcile.ManifestEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := make(map[reconcile.EntityID]*reconcile.ManifestEntry, len(entries))
	for id, e := range entries {
		clone := *e
		next[id] = &clone
	}
	m.entries = next
	m.SaveCount++
	return nil
}

// =============================================================================
// MEMORY PARTITION STORE
// =============================================================================

type MemoryPartitions struct {
	mu         sync.RWMutex
	partitions map[reconcile.PartitionKey]*reconcile.Batch
}

func NewMemoryPartitions() *MemoryPartitions {
	return &MemoryPartitions{partitions: make(map[reconcile.PartitionKey]*reconcile.Batch)}
}

func (m *MemoryPartitions) ReadPartition(_ context.Context, key reconcile.PartitionKey) (*reconcile.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.partitions[key]
	if !ok {
		return nil, nil
	}
	clone := &reconcile.Batch{Entity: b.Entity, Frequency: b.Frequency, Rows: make([]reconcile.Row, len(b.Rows))}
	copy(clone.Rows, b.Rows)
	return clone, nil
}

func (m *MemoryPartitions) WritePartition(_ context.Context, key reconcile.PartitionKey, batch *reconcile.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := &reconcile.Batch{Entity: batch.Entity, Frequency: batch.Frequency, Rows: make([]reconcile.Row, len(batch.Rows))}
	copy(clone.Rows, batch.Rows)
	m.partitions[key] = clone
	return nil
}

func (m *MemoryPartitions) Years(_ context.Context, entity reconcile.EntityID, freq reconcile.Frequency) ([]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var years []int
	for key := range m.partitions {
		if key.Entity == entity && key.Frequency == freq {
			years = append(years, key.Year)
		}
	}
	sort.Ints(years)
	return years, nil
}
