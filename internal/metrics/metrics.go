// Package metrics exposes Prometheus collectors for the crawl scheduler.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Task outcomes recorded by ObserveTask.
const (
	OutcomeIngested     = "ingested"
	OutcomeIngestFailed = "ingest_failed"
	OutcomeNon200       = "non_200"
	OutcomeExhausted    = "exhausted"
	OutcomeCanceled     = "canceled"
)

var (
	crawlerTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_tasks_total",
			Help: "Total number of frontier tasks completed, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	crawlerFetchAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_fetch_attempts_total",
			Help: "Total number of GET attempts, labeled by site and result.",
		},
		[]string{"site", "result"},
	)

	crawlerFetchDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crawler_fetch_duration_seconds",
			Help:    "Histogram of GET latencies for attempts that produced a response.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"site"},
	)

	crawlerFrontierEnqueuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crawler_frontier_enqueued_total",
			Help: "Total number of URLs accepted by the frontier.",
		},
	)

	crawlerFrontierDuplicatesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crawler_frontier_duplicates_total",
			Help: "Total number of URLs rejected because they were already seen.",
		},
	)

	crawlerFrontierPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "crawler_frontier_pending",
			Help: "Tasks enqueued but not yet completed.",
		},
	)

	crawlerActiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "crawler_active_workers",
			Help: "Number of workers currently executing a task.",
		},
	)

	crawlerLivesIngestedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crawler_lives_ingested_total",
			Help: "Total number of live records persisted.",
		},
	)

	crawlerRateLimitDelaysSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crawler_rate_limit_delays_seconds",
			Help:    "Histogram of shared rate limiter wait durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests served, labeled by method and code.",
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
)

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

// ObserveTask increments the completed task counter for the given outcome.
func ObserveTask(outcome string) {
	crawlerTasksTotal.WithLabelValues(outcome).Inc()
}

// ObserveFetchAttempt records one GET attempt. A nil error counts as "ok".
func ObserveFetchAttempt(rawURL string, err error, duration time.Duration) {
	site := SanitizeSite(rawURL)
	if err != nil {
		crawlerFetchAttemptsTotal.WithLabelValues(site, "transport_error").Inc()
		return
	}
	crawlerFetchAttemptsTotal.WithLabelValues(site, "ok").Inc()
	crawlerFetchDurationSeconds.WithLabelValues(site).Observe(duration.Seconds())
}

// ObserveEnqueue records a frontier admission decision.
func ObserveEnqueue(accepted bool) {
	if accepted {
		crawlerFrontierEnqueuedTotal.Inc()
		return
	}
	crawlerFrontierDuplicatesTotal.Inc()
}

// SetPending publishes the frontier's outstanding task count.
func SetPending(n int) {
	crawlerFrontierPending.Set(float64(n))
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	crawlerActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	crawlerActiveWorkers.Dec()
}

// AddLivesIngested counts persisted live records.
func AddLivesIngested(n int) {
	if n > 0 {
		crawlerLivesIngestedTotal.Add(float64(n))
	}
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(duration time.Duration) {
	crawlerRateLimitDelaysSeconds.Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
