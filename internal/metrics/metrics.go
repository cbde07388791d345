// Package metrics holds the Prometheus collectors of jobconsole.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobconsole_jobs_processed_total",
			Help: "Total number of jobs performed successfully",
		},
		[]string{"queue", "class"},
	)

	JobsFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobconsole_jobs_failed_total",
			Help: "Total number of jobs that ended up in the failure log",
		},
		[]string{"queue", "class"},
	)

	WorkersPrunedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jobconsole_workers_pruned_total",
			Help: "Total number of dead workers removed from the registry",
		},
	)

	FailuresRequeuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jobconsole_failures_requeued_total",
			Help: "Total number of failed jobs put back onto a queue",
		},
	)

	StatusesKilledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jobconsole_statuses_killed_total",
			Help: "Total number of status jobs that ended in the killed state",
		},
	)

	QueueLength = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jobconsole_queue_length",
			Help: "Number of jobs waiting in a queue",
		},
		[]string{"queue"},
	)

	WorkersRegistered = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jobconsole_workers_registered",
			Help: "Number of workers in the registry",
		},
	)

	JobDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jobconsole_job_duration_seconds",
			Help:    "Job execution duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
		},
		[]string{"queue"},
	)
)
