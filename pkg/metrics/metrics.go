// Package metrics provides the centralized Prometheus metrics registry for
// notionkit. All metrics are defined in their respective packages (transport,
// paginate, ratelimit) to maintain modularity and avoid circular
// dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by notionkit. All metrics
// are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Transport Metrics (pkg/transport):
//   - notion_requests_total{endpoint, status} (Counter): Requests by endpoint and HTTP status
//   - notion_request_duration_seconds{endpoint} (Histogram): Attempt duration by endpoint
//   - notion_errors_total{kind} (Counter): Terminal failures by kind (network, timeout, http, unclassified)
//   - notion_retries_total{kind} (Counter): Retry attempts by error kind
//   - notion_retry_backoff_seconds{kind} (Histogram): Backoff duration before retries
//   - notion_retry_exhausted_total{kind} (Counter): Calls that exhausted their retry budget
//
// Pagination Metrics (pkg/paginate):
//   - notion_pages_total{endpoint} (Counter): Pages fetched by endpoint
//   - notion_page_results_total{endpoint} (Counter): Results emitted by endpoint
//   - notion_pagination_run_duration_seconds{endpoint} (Histogram): Full-run duration
//
// Rate Limit Metrics (pkg/ratelimit):
//   - notion_rate_limit_throttles_total (Counter): Responses that installed a Retry-After gate
//   - notion_rate_limit_wait_seconds (Histogram): Time spent waiting before sending
//   - notion_rate_limit_gate_seconds (Gauge): Remaining Retry-After gate duration
//
// Example Prometheus Queries:
//
//   # Request Error Rate
//   rate(notion_errors_total[5m])
//
//   # Retry Rate by Kind
//   sum by (kind) (rate(notion_retries_total[5m]))
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(notion_request_duration_seconds_bucket[5m]))
//
//   # Pagination Throughput
//   rate(notion_page_results_total[5m])
