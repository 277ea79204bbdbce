/*
Package csvpart stores partitions as CSV files on the local filesystem.

PURPOSE:
  One file per partition, addressed {root}/{entity_id}/{frequency}/{year}.csv.
  The engine's merge semantics live above this package (in
  reconcile.PartitionIndex); csvpart only reads whole partitions and
  replaces them atomically.

ATOMIC REPLACE:
  Writes go to a temp file in the same directory followed by os.Rename, so
  a crash mid-write can never produce a half-written partition. The
  previous file stays intact until the rename lands.

SCHEMA:
  Header: date,open,high,low,close,volume,revision
  Validated on read; a file with a different header fails with
  reconcile.ErrSchemaMismatch rather than yielding garbage rows.

SEE ALSO:
  - reconcile/partition.go: merge-on-write and range reads
  - reconcile/store/memory.go: in-memory equivalent for tests
*/
package csvpart

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/warp/sync-engine/reconcile"
)

var schema = []string{"date", "open", "high", "low", "close", "volume", "revision"}

// Store is a filesystem-backed reconcile.PartitionStore.
type Store struct {
	root string
}

// New creates a store rooted at dir, creating it if necessary.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create partition root: %w", err)
	}
	return &Store{root: dir}, nil
}

func (s *Store) path(key reconcile.PartitionKey) string {
	return filepath.Join(s.root, string(key.Entity), string(key.Frequency),
		fmt.Sprintf("%d.csv", key.Year))
}

// ReadPartition loads one partition file. Returns (nil, nil) when the
// partition does not exist.
func (s *Store) ReadPartition(_ context.Context, key reconcile.PartitionKey) (*reconcile.Batch, error) {
	f, err := os.Open(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open partition %s: %w", key, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(schema)

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header of %s: %w", key, err)
	}
	if err := validateHeader(header); err != nil {
		return nil, fmt.Errorf("partition %s: %w", key, err)
	}

	batch := &reconcile.Batch{Entity: key.Entity, Frequency: key.Frequency}
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("partition %s: %w", key, err)
		}
		row, err := decodeRow(record)
		if err != nil {
			return nil, fmt.Errorf("partition %s: %w", key, err)
		}
		batch.Rows = append(batch.Rows, row)
	}
	return batch, nil
}

// WritePartition atomically replaces the whole partition file.
func (s *Store) WritePartition(_ context.Context, key reconcile.PartitionKey, batch *reconcile.Batch) error {
	path := s.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create partition dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), fmt.Sprintf(".%d.csv.tmp-*", key.Year))
	if err != nil {
		return fmt.Errorf("failed to create temp partition: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(schema); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, row := range batch.Rows {
		if err := w.Write(encodeRow(row)); err != nil {
			tmp.Close()
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to flush partition: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync partition: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp partition: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace partition %s: %w", key, err)
	}
	return nil
}

// Years lists the partition years present for entity+frequency, ascending.
func (s *Store) Years(_ context.Context, entity reconcile.EntityID, freq reconcile.Frequency) ([]int, error) {
	dir := filepath.Join(s.root, string(entity), string(freq))
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list partitions for %s/%s: %w", entity, freq, err)
	}

	var years []int
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".csv" {
			continue
		}
		year, err := strconv.Atoi(name[:len(name)-len(".csv")])
		if err != nil {
			continue
		}
		years = append(years, year)
	}
	sort.Ints(years)
	return years, nil
}

// =============================================================================
// ROW CODEC
// =============================================================================

func validateHeader(header []string) error {
	if len(header) != len(schema) {
		return fmt.Errorf("%w: %d columns, want %d", reconcile.ErrSchemaMismatch, len(header), len(schema))
	}
	for i, col := range schema {
		if header[i] != col {
			return fmt.Errorf("%w: column %d is %q, want %q", reconcile.ErrSchemaMismatch, i, header[i], col)
		}
	}
	return nil
}

func encodeRow(r reconcile.Row) []string {
	return []string{
		r.Date.String(),
		r.Open.String(),
		r.High.String(),
		r.Low.String(),
		r.Close.String(),
		strconv.FormatInt(r.Volume, 10),
		strconv.FormatInt(r.Revision, 10),
	}
}

func decodeRow(record []string) (reconcile.Row, error) {
	date, err := reconcile.ParseDate(record[0])
	if err != nil {
		return reconcile.Row{}, err
	}
	prices := make([]decimal.Decimal, 4)
	for i, field := range record[1:5] {
		d, err := decimal.NewFromString(field)
		if err != nil {
			return reconcile.Row{}, fmt.Errorf("bad price %q: %w", field, err)
		}
		prices[i] = d
	}
	volume, err := strconv.ParseInt(record[5], 10, 64)
	if err != nil {
		return reconcile.Row{}, fmt.Errorf("bad volume %q: %w", record[5], err)
	}
	revision, err := strconv.ParseInt(record[6], 10, 64)
	if err != nil {
		return reconcile.Row{}, fmt.Errorf("bad revision %q: %w", record[6], err)
	}
	return reconcile.Row{
		Date:     date,
		Open:     prices[0],
		High:     prices[1],
		Low:      prices[2],
		Close:    prices[3],
		Volume:   volume,
		Revision: revision,
	}, nil
}
