// Package metrics provides Prometheus metrics for the session bridge.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// UpstreamRequests counts upstream calls by route and status ("0" for transport failures).
	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fundgate",
			Name:      "upstream_requests_total",
			Help:      "Total upstream requests by route and status",
		},
		[]string{"route", "status"},
	)

	UpstreamLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fundgate",
			Name:      "upstream_latency_seconds",
			Help:      "Upstream request latency in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"route"},
	)

	// ContractViolations counts 2xx upstream payloads that failed shape validation.
	ContractViolations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fundgate",
			Name:      "contract_violations_total",
			Help:      "Upstream 2xx responses rejected by shape validation",
		},
		[]string{"endpoint"},
	)

	CookiesCleared = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fundgate",
			Name:      "session_cookie_cleared_total",
			Help:      "Session cookies cleared by reason",
		},
		[]string{"reason"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fundgate",
			Name:      "http_requests_total",
			Help:      "Inbound requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)
)

// RecordUpstream records one upstream call
func RecordUpstream(route string, status int, latency time.Duration) {
	if route == "" {
		route = "unknown"
	}
	UpstreamRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	UpstreamLatency.WithLabelValues(route).Observe(latency.Seconds())
}

// RecordContractViolation records a rejected upstream payload
func RecordContractViolation(endpoint string) {
	ContractViolations.WithLabelValues(endpoint).Inc()
}

// RecordCookieCleared records a cleared session cookie
func RecordCookieCleared(reason string) {
	CookiesCleared.WithLabelValues(reason).Inc()
}

// RecordHTTP records an inbound request. An empty route means no route matched.
func RecordHTTP(method, route string, status int) {
	if route == "" {
		route = "unmatched"
	}
	HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
