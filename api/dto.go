/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON structures for the operational API. These types decouple the engine
  types from the external contract; handlers validate, DTOs only carry.

SEE ALSO:
  - handlers.go: validation and mapping
*/
package api

import (
	"time"

	"github.com/warp/sync-engine/reconcile"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// RunRequest triggers one reconciliation run.
type RunRequest struct {
	Mode        string   `json:"mode"`      // "backfill" | "incremental"
	Frequency   string   `json:"frequency"` // "daily" | "weekly" | "monthly"
	Start       string   `json:"start"`     // YYYY-MM-DD
	End         string   `json:"end"`       // YYYY-MM-DD
	Entities    []string `json:"entities,omitempty"`
	Concurrency int      `json:"concurrency,omitempty"`
	MaxRetries  int      `json:"max_retries,omitempty"`
	SkipErrors  bool     `json:"skip_errors"`
	ChunkSize   int      `json:"chunk_size,omitempty"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// RunReportDTO is the user-visible run summary.
type RunReportDTO struct {
	Mode      string         `json:"mode"`
	Window    string         `json:"window"`
	Entities  int            `json:"entities"`
	Total     int            `json:"total_tasks"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Skipped   int            `json:"skipped"`
	Errors    []TaskErrorDTO `json:"errors"`
	Duration  string         `json:"duration"`
}

type TaskErrorDTO struct {
	Entity  string `json:"entity_id"`
	Range   string `json:"range"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ManifestEntryDTO mirrors one manifest record.
type ManifestEntryDTO struct {
	Entity           string `json:"entity_id"`
	LastDate         string `json:"last_date,omitempty"`
	BackfillComplete bool   `json:"backfill_complete"`
	TotalRecords     int64  `json:"total_records"`
	ErrorCount       int64  `json:"error_count"`
	LastError        string `json:"last_error,omitempty"`
	LastUpdated      string `json:"last_updated,omitempty"`
}

// CoverageVerdictDTO reports a dry-run coverage check for one entity.
type CoverageVerdictDTO struct {
	Entity      string            `json:"entity_id"`
	Status      string            `json:"status"`
	Reason      string            `json:"reason,omitempty"`
	Periods     []PeriodResultDTO `json:"periods,omitempty"`
	FetchRanges []string          `json:"fetch_ranges,omitempty"`
}

type PeriodResultDTO struct {
	Period   string `json:"period"`
	Status   string `json:"status"`
	StartGap int    `json:"start_gap_days"`
	EndGap   int    `json:"end_gap_days"`
}

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}

// =============================================================================
// MAPPERS
// =============================================================================

func toRunReportDTO(r *reconcile.RunReport) RunReportDTO {
	out := RunReportDTO{
		Mode:      string(r.Config.Mode),
		Window:    r.Config.Window.String(),
		Entities:  r.Entities,
		Total:     r.Execution.Total,
		Succeeded: r.Execution.Succeeded,
		Failed:    r.Execution.Failed,
		Skipped:   r.Execution.Skipped,
		Errors:    []TaskErrorDTO{},
		Duration:  r.Duration.Round(time.Millisecond).String(),
	}
	for _, e := range r.Execution.Errors {
		out.Errors = append(out.Errors, TaskErrorDTO{
			Entity:  string(e.Entity),
			Range:   e.Range.String(),
			Kind:    string(e.Kind),
			Message: e.Message,
		})
	}
	return out
}

func toManifestEntryDTO(e reconcile.ManifestEntry) ManifestEntryDTO {
	out := ManifestEntryDTO{
		Entity:           string(e.Entity),
		BackfillComplete: e.BackfillComplete,
		TotalRecords:     e.TotalRecords,
		ErrorCount:       e.ErrorCount,
		LastError:        e.LastError,
	}
	if !e.LastDate.IsZero() {
		out.LastDate = e.LastDate.String()
	}
	if !e.LastUpdated.IsZero() {
		out.LastUpdated = e.LastUpdated.Format(time.RFC3339)
	}
	return out
}

func toCoverageVerdictDTO(v reconcile.CoverageVerdict) CoverageVerdictDTO {
	out := CoverageVerdictDTO{
		Entity: string(v.Entity),
		Status: string(v.Status),
		Reason: string(v.Reason),
	}
	for _, p := range v.Periods {
		out.Periods = append(out.Periods, PeriodResultDTO{
			Period:   p.Period.String(),
			Status:   string(p.Status),
			StartGap: p.StartGap,
			EndGap:   p.EndGap,
		})
	}
	for _, r := range v.FetchRanges {
		out.FetchRanges = append(out.FetchRanges, r.String())
	}
	return out
}
