// Package metrics provides the Prometheus registry and HTTP handler for the
// booking API. Metrics themselves are defined in their owning packages
// (cache, upstream, ratelimit) to keep them next to the code they observe.
//
// This package documents all exported series in one place.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the Prometheus registry used by the booking API.
// All metrics are registered via promauto in their owning packages.
var Registry = prometheus.DefaultRegisterer

// Handler returns the HTTP handler serving the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Cache metrics (pkg/cache):
//   - booking_cache_hits_total (Counter): Store hits
//   - booking_cache_misses_total (Counter): Store misses
//   - booking_cache_keys (Gauge): Live entries in the store
//   - booking_cache_sweep_purged_total (Counter): Entries removed by the sweeper
//   - booking_cache_leaders_total (Counter): Coalesced requests that led an invocation
//   - booking_cache_coalesced_total (Counter): Followers served by a leader's result
//   - booking_cache_follower_timeouts_total (Counter): Follower waits that timed out
//   - booking_cache_safety_timeouts_total (Counter): Operations force-rejected
//   - booking_cache_inflight_operations (Gauge): Registered in-flight operations
//
// Upstream metrics (pkg/upstream):
//   - booking_upstream_requests_total{endpoint, status} (Counter)
//   - booking_upstream_request_duration_seconds{endpoint} (Histogram)
//   - booking_upstream_errors_total{error_class} (Counter)
//   - booking_upstream_retries_total{error_class} (Counter)
//   - booking_upstream_retry_exhausted_total{error_class} (Counter)
//   - booking_upstream_retry_backoff_seconds (Histogram)
//
// Pagination metrics (pkg/pagination):
//   - booking_pagination_pages_fetched_total (Counter)
//   - booking_pagination_pages_per_listing (Histogram)
//
// HTTP metrics (internal/server):
//   - booking_http_requests_total{pattern, status} (Counter)
//   - booking_http_request_duration_seconds{pattern} (Histogram)
//
// Rate limit metrics (pkg/ratelimit):
//   - booking_upstream_budget_remaining (Gauge)
//   - booking_rate_limit_blocks_total (Counter)
//   - booking_rate_limit_throttles_total (Counter)
//
// Example Prometheus queries:
//
//	# Cache hit rate
//	rate(booking_cache_hits_total[5m]) /
//	(rate(booking_cache_hits_total[5m]) + rate(booking_cache_misses_total[5m]))
//
//	# Coalescing effectiveness: followers served per handler invocation
//	rate(booking_cache_coalesced_total[5m]) / rate(booking_cache_leaders_total[5m])
//
//	# P95 upstream latency
//	histogram_quantile(0.95, rate(booking_upstream_request_duration_seconds_bucket[5m]))
