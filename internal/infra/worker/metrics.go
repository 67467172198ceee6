package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"notification-gateway/internal/pkg/config"
)

// WorkerMetrics combines the worker's configuration metrics with
// reconciliation run metrics:
//   - worker_reconcile_runs_total{status}
//   - worker_reconcile_duration_seconds
//   - worker_reconcile_stuck_total
//   - worker_reconcile_fallbacks_total
//   - worker_reconcile_last_success_timestamp
type WorkerMetrics struct {
	*config.ConfigMetrics

	RunsTotal            *prometheus.CounterVec
	DurationSeconds      prometheus.Histogram
	StuckTotal           prometheus.Counter
	FallbacksTriggered   prometheus.Counter
	LastSuccessTimestamp prometheus.Gauge
}

// NewWorkerMetrics registers the worker metrics with the default registry.
func NewWorkerMetrics() *WorkerMetrics {
	return NewWorkerMetricsWith(prometheus.DefaultRegisterer)
}

// NewWorkerMetricsWith registers the worker metrics with reg.
func NewWorkerMetricsWith(reg prometheus.Registerer) *WorkerMetrics {
	factory := promauto.With(reg)
	return &WorkerMetrics{
		ConfigMetrics: config.NewConfigMetricsWith(reg, "worker"),

		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_reconcile_runs_total",
			Help: "Total number of reconciliation runs by status (success/failure)",
		}, []string{"status"}),

		DurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "worker_reconcile_duration_seconds",
			Help:    "Duration of reconciliation runs in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		}),

		StuckTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "worker_reconcile_stuck_total",
			Help: "Total number of stuck deliveries found across all runs",
		}),

		FallbacksTriggered: factory.NewCounter(prometheus.CounterOpts{
			Name: "worker_reconcile_fallbacks_total",
			Help: "Total number of fallbacks triggered by reconciliation",
		}),

		LastSuccessTimestamp: factory.NewGauge(prometheus.GaugeOpts{
			Name: "worker_reconcile_last_success_timestamp",
			Help: "Unix timestamp of the last successful reconciliation run",
		}),
	}
}

// RecordRun records one finished sweep. A failed run leaves the last
// success timestamp untouched.
func (m *WorkerMetrics) RecordRun(seconds float64, stuck, fallbacks int, err error) {
	m.DurationSeconds.Observe(seconds)
	m.StuckTotal.Add(float64(stuck))
	m.FallbacksTriggered.Add(float64(fallbacks))
	if err != nil {
		m.RunsTotal.WithLabelValues("failure").Inc()
		return
	}
	m.RunsTotal.WithLabelValues("success").Inc()
	m.LastSuccessTimestamp.SetToCurrentTime()
}
