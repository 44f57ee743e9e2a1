// Package metrics provides the Prometheus registry shared by the reporting
// jobs and writes it out at the end of a run.
// All metrics are defined in their respective packages (client, cache,
// ratelimit, dispatch) to maintain modularity and avoid circular dependencies.
//
// Jobs are short-lived batch processes, so metrics are not scraped. Instead the
// gatherer is written to a node-exporter textfile when the run finishes.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is the default Prometheus registry used by the jobs.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer written by WriteTextfile.
var Gatherer = prometheus.DefaultGatherer

var (
	jobRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "report_job_runs_total",
		Help: "Job runs by job and outcome",
	}, []string{"job", "status"})

	jobDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "report_job_duration_seconds",
		Help: "Duration of the last run by job",
	}, []string{"job"})

	jobErrorRecords = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "report_job_error_records",
		Help: "Error records written by the last run by job",
	}, []string{"job"})

	jobLastSuccess = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "report_job_last_success_timestamp_seconds",
		Help: "Unix time of the last successful run by job",
	}, []string{"job"})
)

// ObserveRun records the outcome of one job run.
func ObserveRun(job string, duration time.Duration, errorRecords int, err error) {
	status := "ok"
	if err != nil {
		status = "failed"
	}
	jobRunsTotal.WithLabelValues(job, status).Inc()
	jobDuration.WithLabelValues(job).Set(duration.Seconds())
	jobErrorRecords.WithLabelValues(job).Set(float64(errorRecords))
	if err == nil {
		jobLastSuccess.WithLabelValues(job).SetToCurrentTime()
	}
}

// WriteTextfile writes every gathered metric to path in the text exposition
// format. The file is written atomically. An empty path is a no-op.
func WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if err := prometheus.WriteToTextfile(path, Gatherer); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// Metrics Documentation
//
// Job Metrics (pkg/metrics):
//   - report_job_runs_total{job, status} (Counter): Runs by job and outcome
//   - report_job_duration_seconds{job} (Gauge): Duration of the last run
//   - report_job_error_records{job} (Gauge): Error records written by the last run
//   - report_job_last_success_timestamp_seconds{job} (Gauge): Last successful run
//
// Dispatch Metrics (pkg/dispatch):
//   - dispatch_tasks_total{pool, status} (Counter): Tasks by pool and outcome (ok, failed)
//   - dispatch_task_duration_seconds{pool} (Histogram): Task duration
//
// Throttle Metrics (pkg/ratelimit):
//   - stac_throttles_total (Counter): 429/503 responses received
//   - stac_throttle_wait_seconds (Histogram): Time spent waiting for a throttle to clear
//
// Cache Metrics (pkg/cache):
//   - stac_cache_hits_total{layer} (Counter): Cache hits by layer (memory, redis)
//   - stac_cache_misses_total (Counter): Cache misses
//   - stac_cache_size_bytes{layer} (Gauge): Bytes written by layer
//   - stac_cache_errors_total{operation} (Counter): Cache operation errors
//
// Request Metrics (pkg/client):
//   - stac_requests_total{endpoint, status} (Counter): Requests by endpoint (collections, collection, items, item) and HTTP status
//   - stac_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - stac_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network, decode)
//
// Retry Metrics (pkg/client):
//   - stac_retries_total{error_class} (Counter): Retry attempts by error class
//   - stac_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - stac_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Example Prometheus Queries:
//
//   # Jobs that have not succeeded in a day
//   time() - report_job_last_success_timestamp_seconds > 86400
//
//   # Retry exhaustion by class
//   sum by (error_class) (stac_retry_exhausted_total)
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(stac_request_duration_seconds_bucket[5m]))
