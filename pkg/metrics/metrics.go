// Package metrics documents the Prometheus metrics of the offline cache manager
// and exposes them over HTTP. Metrics are defined with promauto in the packages
// that record them (cachestore, network, worker) so this package imports none
// of them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer every package registers into via promauto.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer served by Handler.
var Gatherer = prometheus.DefaultGatherer

// Names lists every metric family the module defines.
var Names = []string{
	// pkg/cachestore
	"offline_cache_hits_total",
	"offline_cache_misses_total",
	"offline_cache_writes_total",
	"offline_cache_errors_total",

	// pkg/network
	"offline_network_requests_total",
	"offline_network_request_duration_seconds",
	"offline_network_errors_total",
	"offline_network_retries_total",
	"offline_network_retry_backoff_seconds",
	"offline_network_retry_exhausted_total",

	// pkg/worker
	"offline_worker_state_transitions_total",
	"offline_worker_tasks_total",
	"offline_worker_fetch_total",
	"offline_worker_dynamic_writes_total",
	"offline_worker_install_failures_total",
	"offline_worker_stale_cache_deletes_total",
	"offline_worker_push_ignored_total",
	"offline_worker_messages_total",
	"offline_worker_sync_total",
}

// Handler serves the Prometheus exposition format for Gatherer.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Cache Metrics (pkg/cachestore):
//   - offline_cache_hits_total{cache} (Counter): lookups answered from a cache generation
//   - offline_cache_misses_total (Counter): lookups that found no entry
//   - offline_cache_writes_total{cache} (Counter): entries written
//   - offline_cache_errors_total{backend, operation} (Counter): storage errors
//
// Network Metrics (pkg/network):
//   - offline_network_requests_total{method, status} (Counter)
//   - offline_network_request_duration_seconds{method} (Histogram)
//   - offline_network_errors_total{class} (Counter): network, client, server
//   - offline_network_retries_total{error_class} (Counter)
//   - offline_network_retry_backoff_seconds{error_class} (Histogram)
//   - offline_network_retry_exhausted_total{error_class} (Counter)
//
// Worker Metrics (pkg/worker):
//   - offline_worker_state_transitions_total{state} (Counter)
//   - offline_worker_tasks_total{event, result} (Counter)
//   - offline_worker_fetch_total{source} (Counter): hit, miss, fallback, bypass
//   - offline_worker_dynamic_writes_total{result} (Counter)
//   - offline_worker_install_failures_total (Counter)
//   - offline_worker_stale_cache_deletes_total{result} (Counter)
//   - offline_worker_push_ignored_total{reason} (Counter)
//   - offline_worker_messages_total{type} (Counter)
//   - offline_worker_sync_total{result} (Counter)
//
// Example Prometheus Queries:
//
//   # Offline hit rate
//   sum(rate(offline_worker_fetch_total{source=~"hit|fallback"}[5m])) /
//   sum(rate(offline_worker_fetch_total[5m]))
//
//   # Fallback pages served
//   rate(offline_worker_fetch_total{source="fallback"}[5m])
//
//   # Failed installs
//   increase(offline_worker_install_failures_total[1h]) > 0
//
//   # P95 network latency
//   histogram_quantile(0.95, rate(offline_network_request_duration_seconds_bucket[5m]))
