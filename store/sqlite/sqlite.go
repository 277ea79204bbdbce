/*
Package sqlite provides SQLite-backed implementations of the reconcile
persistence interfaces.

PURPOSE:
  Implements MembershipStore and ManifestStore using SQLite. In production
  the same patterns apply to PostgreSQL - only minor SQL dialect
  differences.

KEY TABLES:
  membership_intervals: per-entity point-in-time spans of universe
                        membership (non-overlapping, sorted by start)
  manifest:             one progress record per entity (row-per-entity,
                        upserted atomically inside a transaction)

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

ATOMIC MANIFEST SAVE:
  Save() writes the full manifest inside one transaction, so a crash
  mid-save leaves the previous manifest intact - the resumability contract
  depends on never observing a half-saved manifest.

USAGE:
  db, err := sqlite.New("./data/sync.db")
  if err != nil { log.Fatal(err) }
  defer db.Close()

SEE ALSO:
  - reconcile/store.go: interface definitions
  - reconcile/store/memory.go: in-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/sync-engine/reconcile"
)

// DB implements reconcile.MembershipStore and reconcile.ManifestStore.
type DB struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (or creates) the database at dbPath. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &DB{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *DB) Close() error {
	return s.db.Close()
}

func (s *DB) migrate() error {
	schema := `
	-- Point-in-time membership truth
	CREATE TABLE IF NOT EXISTS membership_intervals (
		entity_id TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		PRIMARY KEY (entity_id, start_date)
	);

	CREATE INDEX IF NOT EXISTS idx_membership_entity
		ON membership_intervals(entity_id);

	-- Per-entity progress manifest (row per entity, never deleted)
	CREATE TABLE IF NOT EXISTS manifest (
		entity_id TEXT PRIMARY KEY,
		last_date TEXT,
		backfill_complete BOOLEAN NOT NULL DEFAULT FALSE,
		total_records INTEGER NOT NULL DEFAULT 0,
		error_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		last_updated TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// MEMBERSHIP STORE
// =============================================================================

// AddInterval inserts one membership interval. Loader-side convenience;
// the engine itself only reads.
func (s *DB) AddInterval(ctx context.Context, iv reconcile.MembershipInterval) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO membership_intervals (entity_id, start_date, end_date)
		VALUES (?, ?, ?)`,
		string(iv.Entity), iv.Start.String(), iv.End.String())
	if err != nil {
		return fmt.Errorf("failed to insert interval for %s: %w", iv.Entity, err)
	}
	return nil
}

func (s *DB) Intervals(ctx context.Context, entity reconcile.EntityID) ([]reconcile.MembershipInterval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_id, start_date, end_date
		FROM membership_intervals
		WHERE entity_id = ?
		ORDER BY start_date ASC`,
		string(entity))
	if err != nil {
		return nil, fmt.Errorf("failed to query intervals: %w", err)
	}
	defer rows.Close()

	var out []reconcile.MembershipInterval
	for rows.Next() {
		var id, start, end string
		if err := rows.Scan(&id, &start, &end); err != nil {
			return nil, fmt.Errorf("failed to scan interval: %w", err)
		}
		iv, err := parseInterval(id, start, end)
		if err != nil {
			return nil, err
		}
		out = append(out, iv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		// Unknown entity: an upstream data problem, not an empty answer.
		return nil, fmt.Errorf("%w: %s", reconcile.ErrNoMembershipData, entity)
	}
	return out, nil
}

func (s *DB) Entities(ctx context.Context) ([]reconcile.EntityID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT entity_id FROM membership_intervals ORDER BY entity_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}
	defer rows.Close()

	var out []reconcile.EntityID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		out = append(out, reconcile.EntityID(id))
	}
	return out, rows.Err()
}

func parseInterval(id, start, end string) (reconcile.MembershipInterval, error) {
	s, err := reconcile.ParseDate(start)
	if err != nil {
		return reconcile.MembershipInterval{}, fmt.Errorf("bad start_date for %s: %w", id, err)
	}
	e, err := reconcile.ParseDate(end)
	if err != nil {
		return reconcile.MembershipInterval{}, fmt.Errorf("bad end_date for %s: %w", id, err)
	}
	return reconcile.MembershipInterval{Entity: reconcile.EntityID(id), Start: s, End: e}, nil
}

// =============================================================================
// MANIFEST STORE
// =============================================================================

func (s *DB) Load(ctx context.Context) (map[reconcile.EntityID]*reconcile.ManifestEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_id, last_date, backfill_complete, total_records,
		       error_count, last_error, last_updated
		FROM manifest`)
	if err != nil {
		return nil, fmt.Errorf("failed to load manifest: %w", err)
	}
	defer rows.Close()

	out := make(map[reconcile.EntityID]*reconcile.ManifestEntry)
	for rows.Next() {
		var (
			id, lastUpdated     string
			lastDate, lastError sql.NullString
			backfillComplete    bool
			totalRecords        int64
			errorCount          int64
		)
		if err := rows.Scan(&id, &lastDate, &backfillComplete, &totalRecords,
			&errorCount, &lastError, &lastUpdated); err != nil {
			return nil, fmt.Errorf("failed to scan manifest row: %w", err)
		}

		entry := &reconcile.ManifestEntry{
			Entity:           reconcile.EntityID(id),
			BackfillComplete: backfillComplete,
			TotalRecords:     totalRecords,
			ErrorCount:       errorCount,
			LastError:        lastError.String,
		}
		if lastDate.Valid && lastDate.String != "" {
			d, err := reconcile.ParseDate(lastDate.String)
			if err != nil {
				return nil, fmt.Errorf("bad last_date for %s: %w", id, err)
			}
			entry.LastDate = d
		}
		if t, err := time.Parse(time.RFC3339, lastUpdated); err == nil {
			entry.LastUpdated = t
		}
		out[entry.Entity] = entry
	}
	return out, rows.Err()
}

func (s *DB) Save(ctx context.Context, entries map[reconcile.EntityID]*reconcile.ManifestEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin manifest save: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO manifest (entity_id, last_date, backfill_complete,
		                      total_records, error_count, last_error, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET
			last_date = excluded.last_date,
			backfill_complete = excluded.backfill_complete,
			total_records = excluded.total_records,
			error_count = excluded.error_count,
			last_error = excluded.last_error,
			last_updated = excluded.last_updated`)
	if err != nil {
		return fmt.Errorf("failed to prepare manifest upsert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		lastDate := ""
		if !e.LastDate.IsZero() {
			lastDate = e.LastDate.String()
		}
		if _, err := stmt.ExecContext(ctx, string(e.Entity), lastDate, e.BackfillComplete,
			e.TotalRecords, e.ErrorCount, e.LastError, e.LastUpdated.Format(time.RFC3339)); err != nil {
			return fmt.Errorf("failed to upsert manifest for %s: %w", e.Entity, err)
		}
	}
	return tx.Commit()
}
