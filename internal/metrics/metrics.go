// Package metrics exposes Prometheus collectors for the enrichment pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Job outcomes.
const (
	OutcomePersisted     = "persisted"
	OutcomePersistFailed = "persist_failed"
	OutcomeTimeout       = "timeout"
	OutcomeInvalid       = "invalid"
)

// Persist attempt results.
const (
	PersistOK     = "ok"
	PersistFailed = "failed"
)

// StatusClassError labels candidate URLs that produced no HTTP response.
const StatusClassError = "error"

var (
	jobsTotal                  *prometheus.CounterVec
	fetchTotal                 *prometheus.CounterVec
	persistAttemptsTotal       *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	analyzeDurationSeconds     prometheus.Histogram
	feedDomainsTotal           prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times; every observer calls it.
func Init() {
	once.Do(func() {
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enricher_jobs_total",
				Help: "Total number of queue messages handled, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		fetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enricher_fetch_total",
				Help: "Total number of candidate URL attempts, labeled by status class.",
			},
			[]string{"status_class"},
		)

		persistAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enricher_persist_attempts_total",
				Help: "Total number of result write attempts, labeled by result.",
			},
			[]string{"result"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "enricher_active_workers",
				Help: "Number of workers currently running their loop.",
			},
		)

		analyzeDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "enricher_analyze_duration_seconds",
				Help:    "Histogram of analysis latencies, from pop to result.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 45},
			},
		)

		feedDomainsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "enricher_feed_domains_total",
				Help: "Total number of domains pushed onto the queue by the feeder.",
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
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// StatusClass buckets an HTTP status code into "2xx", "3xx", and so on.
func StatusClass(code int) string {
	if code < 100 || code > 599 {
		return "other"
	}
	return strconv.Itoa(code/100) + "xx"
}

// ObserveJob increments the job counter for the given outcome.
func ObserveJob(outcome string) {
	Init()
	jobsTotal.WithLabelValues(outcome).Inc()
}

// ObserveFetch counts one candidate URL attempt.
func ObserveFetch(statusClass string) {
	Init()
	fetchTotal.WithLabelValues(statusClass).Inc()
}

// ObservePersistAttempt counts one write attempt against the store.
func ObservePersistAttempt(result string) {
	Init()
	persistAttemptsTotal.WithLabelValues(result).Inc()
}

// ObserveAnalyzeDuration records how long one analysis took.
func ObserveAnalyzeDuration(d time.Duration) {
	Init()
	analyzeDurationSeconds.Observe(d.Seconds())
}

// ObserveFeed adds n domains to the feeder counter.
func ObserveFeed(n int) {
	Init()
	feedDomainsTotal.Add(float64(n))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}
