// Package metrics exposes Prometheus collectors for the bulk checker.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	checksTotal           *prometheus.CounterVec
	checkDurationSeconds  prometheus.Histogram
	checkRetriesTotal     prometheus.Counter
	batchesTotal          prometheus.Counter
	activeWorkers         prometheus.Gauge
	persistenceErrsTotal  prometheus.Counter
	discoveredSubjects    prometheus.Gauge
	cooldownDelaysSeconds prometheus.Histogram

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		checksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bulkcheck_checks_total",
				Help: "Total subject checks completed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		checkDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "bulkcheck_check_duration_seconds",
				Help:    "Wall-clock duration of one subject check including retries.",
				Buckets: []float64{1, 5, 10, 20, 30, 60, 120},
			},
		)

		checkRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "bulkcheck_check_retries_total",
				Help: "Total lookup retries across all subjects.",
			},
		)

		batchesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "bulkcheck_batches_total",
				Help: "Total batches dispatched.",
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "bulkcheck_active_workers",
				Help: "Number of checks currently in flight.",
			},
		)

		persistenceErrsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "bulkcheck_persistence_errors_total",
				Help: "Writes to the result store or failure ledger that failed.",
			},
		)

		discoveredSubjects = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "bulkcheck_discovered_subjects",
				Help: "Subjects returned by discovery for the current run.",
			},
		)

		cooldownDelaysSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "bulkcheck_cooldown_delays_seconds",
				Help:    "Observed inter-batch cooldown durations.",
				Buckets: []float64{1, 5, 10, 30, 60, 120},
			},
		)
	})
}

// Handler returns an http.Handler exposing the Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCheck records one completed subject check.
func ObserveCheck(outcome string, duration time.Duration) {
	Init()
	checksTotal.WithLabelValues(outcome).Inc()
	checkDurationSeconds.Observe(duration.Seconds())
}

// ObserveRetry counts one lookup retry.
func ObserveRetry() {
	Init()
	checkRetriesTotal.Inc()
}

// ObserveBatch counts one dispatched batch.
func ObserveBatch() {
	Init()
	batchesTotal.Inc()
}

// ObserveCooldown records an inter-batch pause.
func ObserveCooldown(d time.Duration) {
	Init()
	cooldownDelaysSeconds.Observe(d.Seconds())
}

// ObservePersistenceError counts a dropped store write.
func ObservePersistenceError() {
	Init()
	persistenceErrsTotal.Inc()
}

// SetDiscovered publishes the discovery size for the current run.
func SetDiscovered(n int) {
	Init()
	discoveredSubjects.Set(float64(n))
}

// IncActiveWorkers increments the in-flight gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the in-flight gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}
