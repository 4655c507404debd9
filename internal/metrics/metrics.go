// Package metrics exposes Prometheus collectors for the press-digest service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	itemsIngestedTotal         prometheus.Counter
	fetchFailuresTotal         *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	summariesTotal             *prometheus.CounterVec
	backendHealthy             prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		itemsIngestedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pressdigest_items_ingested_total",
				Help: "Total number of source items persisted by ingestion.",
			},
		)

		fetchFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pressdigest_fetch_failures_total",
				Help: "Total number of failed fetches, labeled by failure code.",
			},
			[]string{"code"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pressdigest_fetch_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		summariesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pressdigest_summaries_total",
				Help: "Total number of summaries persisted, labeled by backend.",
			},
			[]string{"backend"},
		)

		backendHealthy = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pressdigest_backend_healthy",
				Help: "1 when the last enrichment backend probe succeeded, 0 otherwise.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pressdigest_rate_limit_delays_seconds",
				Help:    "Histogram of per-host politeness wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records bytes fetched from a site.
func ObserveFetch(site string, bytesFetched int) {
	Init()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(SanitizeSite(site)).Add(float64(bytesFetched))
	}
}

// ObserveFetchFailure increments the failure counter for a fetch error code.
func ObserveFetchFailure(code string) {
	Init()
	fetchFailuresTotal.WithLabelValues(code).Inc()
}

// ObserveItemIngested increments the ingested items counter.
func ObserveItemIngested() {
	Init()
	itemsIngestedTotal.Inc()
}

// ObserveSummary increments the summary counter for the backend that produced it.
func ObserveSummary(backend string) {
	Init()
	summariesTotal.WithLabelValues(backend).Inc()
}

// SetBackendHealthy records the outcome of the latest backend probe.
func SetBackendHealthy(healthy bool) {
	Init()
	if healthy {
		backendHealthy.Set(1)
		return
	}
	backendHealthy.Set(0)
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a politeness wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
