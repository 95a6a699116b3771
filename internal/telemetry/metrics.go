// Package telemetry exposes Prometheus collectors for the fetch pipeline.
package telemetry

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchAttemptsTotal     *prometheus.CounterVec
	fetchBytesTotal        *prometheus.CounterVec
	fetchRetriesTotal      *prometheus.CounterVec
	profileRotationsTotal  prometheus.Counter
	rateLimitDelaysSeconds *prometheus.HistogramVec
	tasksTotal             *prometheus.CounterVec
	dedupHitsTotal         prometheus.Counter
	recordsPersistedTotal  *prometheus.CounterVec
	extractionErrorsTotal  prometheus.Counter
	activeWorkers          prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus collectors. It is safe to call multiple
// times.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetchpipe_fetch_attempts_total",
				Help: "Total fetch attempts, labeled by host and result kind.",
			},
			[]string{"host", "result"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetchpipe_fetch_bytes_total",
				Help: "Total response bytes fetched, labeled by host.",
			},
			[]string{"host"},
		)

		fetchRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetchpipe_fetch_retries_total",
				Help: "Total retried fetch attempts, labeled by error kind.",
			},
			[]string{"kind"},
		)

		profileRotationsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "fetchpipe_profile_rotations_total",
				Help: "Total identity profile rotations triggered by blocks.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fetchpipe_rate_limit_delays_seconds",
				Help:    "Histogram of per-host rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		tasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetchpipe_tasks_total",
				Help: "Total tasks finished, labeled by terminal state.",
			},
			[]string{"state"},
		)

		dedupHitsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "fetchpipe_dedup_hits_total",
				Help: "Total fetches short-circuited by unchanged content.",
			},
		)

		recordsPersistedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetchpipe_records_persisted_total",
				Help: "Total records upserted, labeled by upsert result.",
			},
			[]string{"result"},
		)

		extractionErrorsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "fetchpipe_extraction_errors_total",
				Help: "Total per-record extraction failures.",
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "fetchpipe_active_workers",
				Help: "Number of workers currently processing a task.",
			},
		)
	})
}

// SanitizeHost extracts a lowercase hostname from a URL, or "unknown".
func SanitizeHost(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler exposing the Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records one fetch attempt.
func ObserveFetch(rawURL string, result string, bytesFetched int) {
	Init()
	host := SanitizeHost(rawURL)
	fetchAttemptsTotal.WithLabelValues(host, result).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(host).Add(float64(bytesFetched))
	}
}

// ObserveRetry counts a retried attempt for the given error kind.
func ObserveRetry(kind string) {
	Init()
	fetchRetriesTotal.WithLabelValues(kind).Inc()
}

// ObserveRotation counts an identity profile rotation.
func ObserveRotation() {
	Init()
	profileRotationsTotal.Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveTask counts a task reaching a terminal state.
func ObserveTask(state string) {
	Init()
	tasksTotal.WithLabelValues(state).Inc()
}

// ObserveDedupHit counts an unchanged-content short-circuit.
func ObserveDedupHit() {
	Init()
	dedupHitsTotal.Inc()
}

// ObserveUpsert counts an upsert by result.
func ObserveUpsert(result string) {
	Init()
	recordsPersistedTotal.WithLabelValues(result).Inc()
}

// ObserveExtractionError counts a per-record extraction failure.
func ObserveExtractionError() {
	Init()
	extractionErrorsTotal.Inc()
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
