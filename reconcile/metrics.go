// Package-level counters for the fetch path. Exposed in Prometheus format
// by the api package; see api/server.go.
package reconcile

import "github.com/VictoriaMetrics/metrics"

var (
	tasksSucceeded  = metrics.NewCounter(`sync_fetch_tasks_total{outcome="succeeded"}`)
	tasksFailed     = metrics.NewCounter(`sync_fetch_tasks_total{outcome="failed"}`)
	tasksSkipped    = metrics.NewCounter(`sync_fetch_tasks_total{outcome="skipped"}`)
	taskRetries     = metrics.NewCounter(`sync_fetch_retries_total`)
	partitionWrites = metrics.NewCounter(`sync_partition_writes_total`)
	rowsPersisted   = metrics.NewCounter(`sync_rows_persisted_total`)
)
