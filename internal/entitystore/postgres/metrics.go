package postgres

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/0xkanth/evmindex/internal/retry"
)

// Per-operation instruments, mirroring internal/syncstore's metrics.go
// (itself grounded on the teacher's processor.ProcessBlock duration
// histogram), under a distinct metric namespace for the Entity Store.
var (
	opDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ponder_entity_store_operation_duration_seconds",
		Help:    "Duration of Entity Store operations.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	opCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ponder_entity_store_operation_total",
		Help: "Total Entity Store operation calls.",
	}, []string{"operation"})

	opErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ponder_entity_store_operation_errors_total",
		Help: "Total Entity Store operation terminal errors.",
	}, []string{"operation"})
)

func wrapOp(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	opCalls.WithLabelValues(op).Inc()
	start := time.Now()

	err := retry.Do(ctx, retry.StoreConfig(), fn)

	opDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		opErrors.WithLabelValues(op).Inc()
	}
	return err
}
