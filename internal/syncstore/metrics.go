package syncstore

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/0xkanth/evmindex/internal/retry"
)

// Metrics are the per-operation Prometheus instruments every driver shares,
// grounded on the teacher's processor.ProcessBlock duration-histogram
// wrapper (internal/processor/block_events_processor.go).
var (
	opDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ponder_sync_store_operation_duration_seconds",
		Help:    "Duration of Sync Store operations.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	opCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ponder_sync_store_operation_total",
		Help: "Total Sync Store operation calls.",
	}, []string{"operation"})

	opErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ponder_sync_store_operation_errors_total",
		Help: "Total Sync Store operation terminal errors.",
	}, []string{"operation"})
)

// WrapOp retries fn per the Sync Store retry policy (3 retries, 100/200/400ms
// backoff) and records duration/call/error metrics labeled by op.
func WrapOp(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	opCalls.WithLabelValues(op).Inc()
	start := time.Now()

	err := retry.Do(ctx, retry.StoreConfig(), fn)

	opDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		opErrors.WithLabelValues(op).Inc()
	}
	return err
}
