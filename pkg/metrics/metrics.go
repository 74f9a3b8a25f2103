// Package metrics exposes the Prometheus registry used by the price sync.
// All metrics are defined in their respective packages (client, ratelimit,
// pagination, baselock, runstore, repricer) to maintain modularity and avoid
// circular dependencies.
//
// This package provides the scrape handler and a reference for all available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the price sync.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the registry read by Handler.
var Gatherer = prometheus.DefaultGatherer

// Handler serves every registered metric in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Bucket Metrics (pkg/ratelimit):
//   - pricesync_bucket_used{bucket} (Gauge): Last observed calls counted against the upstream bucket
//   - pricesync_bucket_waits_total{bucket} (Counter): Requests delayed because the bucket was nearly full
//   - pricesync_bucket_wait_seconds (Histogram): Time spent waiting for the bucket to leak
//
// Request Metrics (pkg/client):
//   - pricesync_upstream_requests_total{endpoint, method, status} (Counter): Requests by endpoint and HTTP status
//   - pricesync_upstream_request_duration_seconds{method} (Histogram): Request duration by method
//   - pricesync_upstream_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//
// Retry Metrics (pkg/client):
//   - pricesync_upstream_retries_total{error_class} (Counter): Retry attempts by error class
//   - pricesync_upstream_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - pricesync_upstream_retry_exhausted_total{error_class} (Counter): Requests that exhausted max attempts
//
// Catalog Metrics (pkg/pagination, pkg/baselock):
//   - pricesync_pages_fetched_total (Counter): Catalog pages fetched
//   - pricesync_base_locks_total{result} (Counter): Base price lock lookups (existing, captured, dry_run, failed)
//
// Run Metrics (pkg/repricer, pkg/runstore):
//   - pricesync_variants_total{status, reason} (Counter): Variant outcomes
//   - pricesync_runs_total{result} (Counter): Runs by result (completed, cancelled, incomplete, lease_lost, aborted, busy, invalid)
//   - pricesync_run_duration_seconds (Histogram): Run duration
//   - pricesync_last_run_timestamp_seconds (Gauge): Unix time the last run finished
//   - pricesync_run_lease_total{result} (Counter): Run lease acquisitions
//   - pricesync_runstore_errors_total{operation} (Counter): Run store redis errors
//
// Example Prometheus Queries:
//
//   # Failed variant rate
//   sum(rate(pricesync_variants_total{status="failed"}[1h]))
//
//   # Throttling pressure
//   rate(pricesync_upstream_errors_total{class="rate_limit"}[5m])
//
//   # Stale price sync (no run finished in a day)
//   time() - pricesync_last_run_timestamp_seconds > 86400
//
//   # P95 upstream latency
//   histogram_quantile(0.95, rate(pricesync_upstream_request_duration_seconds_bucket[5m]))
