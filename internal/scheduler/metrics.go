package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Instruments named per spec §6 ("names starting with ponder_"), mirroring
// internal/syncstore and internal/entitystore/postgres's per-package metrics
// files under a scheduler-specific namespace.
var (
	taskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ponder_indexing_function_duration_seconds",
		Help:    "Duration of a single indexing function invocation.",
		Buckets: prometheus.DefBuckets,
	}, []string{"function", "kind"})

	tasksCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ponder_indexing_events_processed_total",
		Help: "Total events successfully processed per indexing function.",
	}, []string{"function"})

	completedCheckpointTimestamp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ponder_indexing_completed_timestamp_seconds",
		Help: "Block timestamp of the min state checkpoint across all indexing functions.",
	}, []string{})

	hasError = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ponder_indexing_has_error",
		Help: "1 if the scheduler has halted on an unrecoverable task error, else 0.",
	})
)
