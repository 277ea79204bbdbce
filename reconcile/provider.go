/*
provider.go - External data provider contract and error classification

PURPOSE:
  The engine never talks a wire protocol itself; it consumes a DataProvider
  whose adapter has already classified failures structurally. The executor
  routes purely on ErrorKind: transient errors retry, permanent and
  data-quality errors are recorded and skipped.

CLASSIFICATION:
  Adapters should construct TransientError / PermanentError /
  DataQualityError directly from what they know about the upstream
  (status codes, typed SDK errors). ClassifyLegacy exists only for legacy
  providers that surface untyped errors; matching substrings of error text
  is inherently fragile and should be treated as a stopgap, not a pattern.

SEE ALSO:
  - errors.go: ProviderError and ErrorKind
  - executor.go: retry routing
*/
package reconcile

import (
	"context"
	"fmt"
	"strings"
)

// =============================================================================
// DATA PROVIDER
// =============================================================================

// DataProvider fetches rows for an entity over an inclusive date range.
// Implementations own their own per-call timeouts; the executor's retry
// budget is separate. Errors must be classified (see errors.go); use the
// constructors below.
type DataProvider interface {
	Fetch(ctx context.Context, entity EntityID, start, end Date) ([]Row, error)
}

// Error constructors for provider adapters.

func TransientError(entity EntityID, err error) error {
	return &ProviderError{Kind: ErrorTransient, Entity: entity, Err: err}
}

func PermanentError(entity EntityID, err error) error {
	return &ProviderError{Kind: ErrorPermanent, Entity: entity, Err: err}
}

func DataQualityError(entity EntityID, err error) error {
	return &ProviderError{Kind: ErrorDataQuality, Entity: entity, Err: err}
}

// =============================================================================
// LEGACY CLASSIFIER - Substring matching fallback
// =============================================================================

// ClassifyLegacy wraps an untyped provider error by matching substrings of
// its text. This is a documented fallback for legacy providers only:
// structural classification in the adapter is always preferable because
// error text is not a stable interface.
func ClassifyLegacy(entity EntityID, err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "429"),
		strings.Contains(msg, "503"),
		strings.Contains(msg, "connection reset"):
		return TransientError(entity, err)
	case strings.Contains(msg, "404"),
		strings.Contains(msg, "not found"),
		strings.Contains(msg, "delisted"):
		return PermanentError(entity, err)
	default:
		return PermanentError(entity, err)
	}
}

// =============================================================================
// QUALITY GATE - Minimum acceptance thresholds for fetched batches
// =============================================================================

// QualityThresholds gate fetched batches before any partition write. A
// rejected batch is never partially persisted.
type QualityThresholds struct {
	// MinRows rejects batches smaller than this. Zero disables the check.
	MinRows int
	// RequirePrices rejects rows whose close price is zero/unset.
	RequirePrices bool
}

// CheckBatch validates fetched rows against the thresholds. Returns a
// DataQualityError describing the first violation, or nil.
func (q QualityThresholds) CheckBatch(entity EntityID, rows []Row) error {
	if q.MinRows > 0 && len(rows) < q.MinRows {
		return DataQualityError(entity, &thresholdError{
			reason: "row count below minimum", got: len(rows), want: q.MinRows,
		})
	}
	if q.RequirePrices {
		for _, r := range rows {
			if r.Close.IsZero() {
				return DataQualityError(entity, &thresholdError{
					reason: "missing close price on " + r.Date.String(),
				})
			}
		}
	}
	return nil
}

type thresholdError struct {
	reason    string
	got, want int
}

func (e *thresholdError) Error() string {
	if e.want > 0 {
		return fmt.Sprintf("%s: got %d, want >= %d", e.reason, e.got, e.want)
	}
	return e.reason
}
