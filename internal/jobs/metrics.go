package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics
var (
	jobsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codeatlas_jobs_processed_total",
			Help: "Total number of finished job attempts",
		},
		[]string{"kind", "status"},
	)

	jobsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "codeatlas_jobs_active",
			Help: "Number of jobs currently running",
		},
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "codeatlas_job_duration_seconds",
			Help:    "Time taken to run a job attempt",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"kind"},
	)

	jobsRecovered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "codeatlas_jobs_recovered_total",
			Help: "Jobs reset from a stale running state at startup",
		},
	)
)

func init() {
	prometheus.MustRegister(jobsProcessedTotal, jobsActive, jobDuration, jobsRecovered)
}
