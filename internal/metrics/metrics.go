// Package metrics exposes Prometheus collectors for the sitewatch service.
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
	cyclesTotal          *prometheus.CounterVec
	cycleDurationSeconds prometheus.Histogram
	itemsDiscoveredTotal *prometheus.CounterVec
	itemsNewTotal        prometheus.Counter
	searchRequestsTotal  *prometheus.CounterVec
	searchRetriesTotal   prometheus.Counter
	fetchRequestsTotal   *prometheus.CounterVec
	fetchRetriesTotal    prometheus.Counter
	notifyTotal          *prometheus.CounterVec
	publishTotal         *prometheus.CounterVec
	snapshotsTotal       *prometheus.CounterVec
	httpRequestsTotal    *prometheus.CounterVec
	httpDurationSeconds  *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		cyclesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitewatch_cycles_total",
				Help: "Total number of watch cycles, labeled by outcome.",
			},
			[]string{"status"},
		)

		cycleDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sitewatch_cycle_duration_seconds",
				Help:    "Histogram of watch cycle durations.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		)

		itemsDiscoveredTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitewatch_items_discovered_total",
				Help: "Total number of items returned by discovery, labeled by site.",
			},
			[]string{"site"},
		)

		itemsNewTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "sitewatch_items_new_total",
				Help: "Total number of items that survived deduplication.",
			},
		)

		searchRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitewatch_search_requests_total",
				Help: "Total number of search provider calls, labeled by operation and outcome.",
			},
			[]string{"op", "status"},
		)

		searchRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "sitewatch_search_retries_total",
				Help: "Total number of search provider retries.",
			},
		)

		fetchRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitewatch_fetch_requests_total",
				Help: "Total number of page fetches, labeled by outcome.",
			},
			[]string{"status"},
		)

		fetchRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "sitewatch_fetch_retries_total",
				Help: "Total number of page fetch retries.",
			},
		)

		notifyTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitewatch_notify_total",
				Help: "Total number of notification dispatches, labeled by outcome.",
			},
			[]string{"status"},
		)

		publishTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitewatch_publish_total",
				Help: "Total number of cycle event publishes, labeled by outcome.",
			},
			[]string{"status"},
		)

		snapshotsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitewatch_snapshots_total",
				Help: "Total number of page snapshot writes, labeled by outcome.",
			},
			[]string{"status"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitewatch_http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sitewatch_http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite reduces a URL to a lowercase hostname label so site-keyed
// collectors stay bounded. Anything unparseable maps to "unknown".
func SanitizeSite(rawURL string) string {
	raw := strings.TrimSpace(rawURL)
	if raw == "" {
		return "unknown"
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCycle records one finished cycle and its duration. Cycles that never
// ran (locked, failed setup) pass a zero duration and skip the histogram.
func ObserveCycle(status string, duration time.Duration) {
	cyclesTotal.WithLabelValues(status).Inc()
	if duration > 0 {
		cycleDurationSeconds.Observe(duration.Seconds())
	}
}

// ObserveDiscovery records the item count returned by discovery for a site.
func ObserveDiscovery(site string, items int) {
	itemsDiscoveredTotal.WithLabelValues(SanitizeSite(site)).Add(float64(items))
}

// ObserveNewItems records how many items survived deduplication.
func ObserveNewItems(count int) {
	if count > 0 {
		itemsNewTotal.Add(float64(count))
	}
}

// ObserveSearch increments the search call counter.
func ObserveSearch(op, status string) {
	searchRequestsTotal.WithLabelValues(op, status).Inc()
}

// ObserveSearchRetry increments the search retry counter.
func ObserveSearchRetry() {
	searchRetriesTotal.Inc()
}

// ObserveFetch increments the fetch counter for the given outcome.
func ObserveFetch(status string) {
	fetchRequestsTotal.WithLabelValues(status).Inc()
}

// ObserveFetchRetry increments the fetch retry counter.
func ObserveFetchRetry() {
	fetchRetriesTotal.Inc()
}

// ObserveNotify increments the notification counter.
func ObserveNotify(status string) {
	notifyTotal.WithLabelValues(status).Inc()
}

// ObservePublish increments the event publish counter.
func ObservePublish(status string) {
	publishTotal.WithLabelValues(status).Inc()
}

// ObserveSnapshot increments the snapshot write counter.
func ObserveSnapshot(status string) {
	snapshotsTotal.WithLabelValues(status).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
