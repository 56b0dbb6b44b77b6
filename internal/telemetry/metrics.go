package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// PairsScored counts (control, requirement) pairs submitted to the scorer
	PairsScored = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "covmap",
			Name:      "pairs_scored_total",
			Help:      "Total number of control/requirement pairs scored",
		},
	)

	// MappingsClassified counts mappings produced by the engine, per type
	MappingsClassified = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "covmap",
			Name:      "mappings_classified_total",
			Help:      "Total number of control mappings produced, by mapping type",
		},
		[]string{"type"},
	)

	// JobsTotal counts recomputation jobs by terminal state
	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "covmap",
			Name:      "jobs_total",
			Help:      "Total number of recomputation jobs, by terminal state",
		},
		[]string{"state"},
	)

	// JobRestarts counts generation bumps picked up at batch checkpoints
	JobRestarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "covmap",
			Name:      "job_restarts_total",
			Help:      "Total number of jobs restarted after a generation bump",
		},
	)

	// JobDuration observes wall-clock duration of completed jobs
	JobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "covmap",
			Name:      "job_duration_seconds",
			Help:      "Wall-clock duration of completed recomputation jobs",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		},
	)

	// GapsReopened counts gaps the analyzer moved back to reopened
	GapsReopened = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "covmap",
			Name:      "gaps_reopened_total",
			Help:      "Total number of resolved gaps reopened after coverage regressed",
		},
	)

	// Ensure metrics are only registered once
	once sync.Once
)

// InitMetrics registers all metrics with the global Prometheus registry.
// This function is idempotent and can be called multiple times safely.
func InitMetrics() {
	once.Do(func() {
		prometheus.DefaultRegisterer.Register(PairsScored)
		prometheus.DefaultRegisterer.Register(MappingsClassified)
		prometheus.DefaultRegisterer.Register(JobsTotal)
		prometheus.DefaultRegisterer.Register(JobRestarts)
		prometheus.DefaultRegisterer.Register(JobDuration)
		prometheus.DefaultRegisterer.Register(GapsReopened)
	})
}
