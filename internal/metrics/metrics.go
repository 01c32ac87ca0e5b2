// Package metrics exposes Prometheus collectors for the crawl, ingest and HTTP layers.
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
	crawlerPagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spimex_crawler_pages_total",
			Help: "Index pages fetched, labeled by outcome (links, empty, failed).",
		},
		[]string{"outcome"},
	)

	crawlerDownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spimex_crawler_downloads_total",
			Help: "Document downloads, labeled by outcome (downloaded, skipped, failed).",
		},
		[]string{"outcome"},
	)

	fetchAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spimex_fetch_attempts_total",
			Help: "HTTP fetch attempts, labeled by result (ok, retry, exhausted).",
		},
		[]string{"result"},
	)

	crawlerInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "spimex_crawler_inflight_requests",
			Help: "Outbound requests currently holding a concurrency slot.",
		},
	)

	ingestFilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spimex_ingest_files_total",
			Help: "Spreadsheets processed, labeled by outcome (parsed, failed).",
		},
		[]string{"outcome"},
	)

	ingestRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spimex_ingest_records_total",
			Help: "Normalized records, labeled by outcome (written, duplicate, dropped).",
		},
		[]string{"outcome"},
	)

	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spimex_cache_lookups_total",
			Help: "Read cache lookups, labeled by key and result (hit, miss, refresh).",
		},
		[]string{"key", "result"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spimex_http_requests_total",
			Help: "API requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpPanicsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spimex_http_panics_total",
			Help: "Handler panics recovered by the API, labeled by route.",
		},
		[]string{"route"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "spimex_http_request_duration_seconds",
			Help:    "API request latencies, labeled by method and route.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
		[]string{"method", "route"},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage counts one index page fetch.
func ObservePage(outcome string) {
	crawlerPagesTotal.WithLabelValues(outcome).Inc()
}

// ObserveDownload counts one document download outcome.
func ObserveDownload(outcome string) {
	crawlerDownloadsTotal.WithLabelValues(outcome).Inc()
}

// ObserveFetchAttempt counts one fetch attempt.
func ObserveFetchAttempt(result string) {
	fetchAttemptsTotal.WithLabelValues(result).Inc()
}

// IncInFlight marks a concurrency slot as taken.
func IncInFlight() { crawlerInFlight.Inc() }

// DecInFlight marks a concurrency slot as released.
func DecInFlight() { crawlerInFlight.Dec() }

// ObserveFile counts one processed spreadsheet.
func ObserveFile(outcome string) {
	ingestFilesTotal.WithLabelValues(outcome).Inc()
}

// ObserveRecords adds n records with the given outcome.
func ObserveRecords(outcome string, n int) {
	if n > 0 {
		ingestRecordsTotal.WithLabelValues(outcome).Add(float64(n))
	}
}

// ObserveCache counts one cache lookup.
func ObserveCache(key, result string) {
	cacheLookupsTotal.WithLabelValues(key, result).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObservePanic counts one recovered handler panic.
func ObservePanic(route string) {
	httpPanicsTotal.WithLabelValues(route).Inc()
}
