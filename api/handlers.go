/*
handlers.go - HTTP handlers for the operational API

PURPOSE:
  A thin operational surface over the engine: trigger reconciliation runs,
  inspect the manifest, and dry-run coverage checks for a single entity.
  The engine itself knows nothing about HTTP.

ONE RUN AT A TIME:
  The manifest follows a single-writer-per-run discipline, so the run
  endpoint is serialized with a mutex; a second concurrent request gets
  409 Conflict rather than a corrupted manifest.

SEE ALSO:
  - server.go: routing
  - reconcile/engine.go: the run the handlers trigger
*/
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/warp/sync-engine/reconcile"
)

// Handler holds the dependencies for all endpoints.
type Handler struct {
	Engine *reconcile.Engine

	// Defaults applied when a RunRequest omits tuning fields.
	DefaultConcurrency int
	DefaultRetry       reconcile.RetryPolicy
	Tolerance          reconcile.TolerancePolicy

	runMu sync.Mutex
}

func NewHandler(engine *reconcile.Engine) *Handler {
	return &Handler{
		Engine:             engine,
		DefaultConcurrency: 4,
		DefaultRetry:       reconcile.DefaultRetryPolicy(),
		Tolerance:          reconcile.DefaultTolerancePolicy(),
	}
}

// =============================================================================
// RUNS
// =============================================================================

// TriggerRun executes one reconciliation run synchronously.
// POST /api/runs
func (h *Handler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	cfg, err := h.runConfig(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if !h.runMu.TryLock() {
		writeError(w, http.StatusConflict, fmt.Errorf("a run is already in progress"))
		return
	}
	defer h.runMu.Unlock()

	report, err := h.Engine.Run(r.Context(), cfg)
	if err != nil {
		if reconcile.IsFatal(err) {
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
		// Partial failure still returns the report; the error list is in it.
		if report == nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, toRunReportDTO(report))
}

func (h *Handler) runConfig(req RunRequest) (reconcile.RunConfig, error) {
	start, err := reconcile.ParseDate(req.Start)
	if err != nil {
		return reconcile.RunConfig{}, err
	}
	end, err := reconcile.ParseDate(req.End)
	if err != nil {
		return reconcile.RunConfig{}, err
	}

	cfg := reconcile.RunConfig{
		Mode:        reconcile.PlannerMode(req.Mode),
		Frequency:   reconcile.Frequency(req.Frequency),
		Window:      reconcile.Period{Start: start, End: end},
		ChunkSize:   req.ChunkSize,
		Tolerance:   h.Tolerance,
		Concurrency: req.Concurrency,
		Retry:       h.DefaultRetry,
		SkipErrors:  req.SkipErrors,
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = h.DefaultConcurrency
	}
	if req.MaxRetries > 0 {
		cfg.Retry.MaxRetries = req.MaxRetries
	}
	for _, id := range req.Entities {
		cfg.Entities = append(cfg.Entities, reconcile.EntityID(id))
	}
	return cfg, cfg.Validate()
}

// =============================================================================
// MANIFEST
// =============================================================================

// ListManifest returns every manifest record.
// GET /api/manifest
func (h *Handler) ListManifest(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.Tracker.Load(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	entries := h.Engine.Tracker.Entries()
	out := make([]ManifestEntryDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, toManifestEntryDTO(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Entity < out[j].Entity })
	writeJSON(w, http.StatusOK, out)
}

// GetManifestEntry returns one entity's manifest record.
// GET /api/manifest/{id}
func (h *Handler) GetManifestEntry(w http.ResponseWriter, r *http.Request) {
	id := reconcile.EntityID(chi.URLParam(r, "id"))
	if err := h.Engine.Tracker.Load(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	entry, ok := h.Engine.Tracker.Entry(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("no manifest entry for %s", id))
		return
	}
	writeJSON(w, http.StatusOK, toManifestEntryDTO(entry))
}

// =============================================================================
// COVERAGE (dry run, no fetching)
// =============================================================================

// CheckCoverage computes a coverage verdict without fetching anything.
// GET /api/coverage/{id}?frequency=daily&start=2020-01-01&end=2024-12-31
func (h *Handler) CheckCoverage(w http.ResponseWriter, r *http.Request) {
	id := reconcile.EntityID(chi.URLParam(r, "id"))

	freq := reconcile.Frequency(r.URL.Query().Get("frequency"))
	if !freq.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %q", reconcile.ErrInvalidFrequency, freq))
		return
	}
	start, err := reconcile.ParseDate(r.URL.Query().Get("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	end, err := reconcile.ParseDate(r.URL.Query().Get("end"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	planner := reconcile.NewFetchPlanner(h.Engine.Membership, h.Engine.Partitions, nil, reconcile.ModeIncremental)
	req := reconcile.NewRequirement(id, freq, start, end, h.Tolerance)

	verdict, _, err := planner.PlanEntity(r.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		if reconcile.KindOf(err) == reconcile.ErrorConfiguration {
			status = http.StatusUnprocessableEntity
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, toCoverageVerdictDTO(verdict))
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}
