/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, middleware stack, and routes. This is the
  wiring layer connecting URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for dashboards

ROUTES:
  POST /api/runs               Trigger a reconciliation run
  GET  /api/manifest           Full progress manifest
  GET  /api/manifest/{id}      One entity's record
  GET  /api/coverage/{id}      Dry-run coverage verdict
  GET  /metrics                Prometheus exposition

SEE ALSO:
  - handlers.go: handler implementations
  - cmd/syncd/main.go: server startup
*/
package api

import (
	"net/http"

	"github.com/VictoriaMetrics/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Post("/runs", h.TriggerRun)

		r.Route("/manifest", func(r chi.Router) {
			r.Get("/", h.ListManifest)
			r.Get("/{id}", h.GetManifestEntry)
		})

		r.Get("/coverage/{id}", h.CheckCoverage)
	})

	r.Get("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		metrics.WritePrometheus(w, true)
	})

	return r
}
