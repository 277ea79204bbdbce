/*
errors.go - Centralized error types for the reconciliation engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The executor routes on these distinctions: transient provider errors are
  retried, permanent and data-quality errors are recorded and skipped,
  configuration errors abort the run.

ERROR CATEGORIES:
  1. Configuration errors - fatal, abort the run
  2. Provider errors      - classified transient/permanent/data-quality
  3. Storage errors       - write failed after a successful fetch

USAGE:
  if errors.Is(err, reconcile.ErrNoMembershipData) { ... }

  var perr *reconcile.ProviderError
  if errors.As(err, &perr) && perr.Kind == reconcile.ErrorTransient { ... }

SEE ALSO:
  - provider.go: adapters produce classified ProviderErrors
  - executor.go: routes on IsRetryable / error kinds
*/
package reconcile

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNoMembershipData is returned when an entity has no membership
	// record at all. This is an upstream data problem, distinct from a known
	// entity whose intervals simply never overlap the window.
	ErrNoMembershipData = errors.New("no membership data for entity")

	// ErrInvalidPeriod is returned when a period is malformed (end before start).
	ErrInvalidPeriod = errors.New("invalid period: end before start")

	// ErrInvalidFrequency is returned for an unrecognized frequency.
	ErrInvalidFrequency = errors.New("invalid frequency")

	// ErrSchemaMismatch is returned when a partition file's schema does not
	// match the expected row layout.
	ErrSchemaMismatch = errors.New("partition schema mismatch")

	// ErrRunStopped is returned for tasks never admitted because the run was
	// stopped (first failure with skip_errors=false, or external interrupt).
	ErrRunStopped = errors.New("run stopped before task admission")
)

// =============================================================================
// ERROR KINDS - Classification of fetch-path failures
// =============================================================================

type ErrorKind string

const (
	// ErrorTransient marks retryable failures: timeouts, rate limits.
	ErrorTransient ErrorKind = "transient"
	// ErrorPermanent marks unretryable failures: entity not found, delisted.
	ErrorPermanent ErrorKind = "permanent"
	// ErrorDataQuality marks rejected batches: too few rows, missing values.
	ErrorDataQuality ErrorKind = "data_quality"
	// ErrorStorage marks a failed partition write after a successful fetch.
	ErrorStorage ErrorKind = "storage"
	// ErrorConfiguration marks fatal misconfiguration; aborts the run.
	ErrorConfiguration ErrorKind = "configuration"
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ProviderError is a classified failure from a DataProvider adapter.
// Adapters must classify structurally; see provider.go for the legacy
// substring fallback.
type ProviderError struct {
	Kind   ErrorKind
	Entity EntityID
	Err    error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error (%s) for %s: %v", e.Kind, e.Entity, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// StorageError wraps a failed partition write. The fetch succeeded, so the
// error carries enough context to retry the write independently.
type StorageError struct {
	Entity    EntityID
	Frequency Frequency
	Rows      int
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error for %s/%s (%d rows fetched but not persisted): %v",
		e.Entity, e.Frequency, e.Rows, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ConfigurationError aborts the whole run.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error (%s): %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// KindOf returns the classification of an error seen on the fetch path.
// Unclassified errors are treated as permanent: retrying an unknown failure
// burns the retry budget without evidence it can succeed.
func KindOf(err error) ErrorKind {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Kind
	}
	var serr *StorageError
	if errors.As(err, &serr) {
		return ErrorStorage
	}
	var cerr *ConfigurationError
	if errors.As(err, &cerr) {
		return ErrorConfiguration
	}
	return ErrorPermanent
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return KindOf(err) == ErrorTransient
}

// IsFatal returns true if the error must abort the run.
func IsFatal(err error) bool {
	return KindOf(err) == ErrorConfiguration
}
