package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"runtime"
	"time"

	"github.com/0xkanth/evmindex/internal/retry"
)

// invokeFunc runs one task attempt; invokeLog and invokeSetup are its two
// instantiations.
type invokeFunc func(ctx context.Context, key string, task Task) error

// executeWithRetry implements spec §4.3's per-task failure policy: up to
// TaskConfig().Attempts tries, reverting the entity store to task.Checkpoint
// before every retry so re-execution is idempotent. A non-retryable error
// short-circuits straight to the terminal branch.
func (s *Scheduler) executeWithRetry(ctx context.Context, key string, task Task, invoke invokeFunc) error {
	cfg := retry.TaskConfig()
	delay := cfg.Delay
	var lastErr error

	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		maybeYield(ctx)

		err := invoke(ctx, key, task)
		if err == nil {
			return nil
		}
		if retry.IsNonRetryable(err) {
			return err
		}
		lastErr = err

		if attempt < cfg.Attempts {
			if revertErr := s.entityStore.Revert(ctx, task.Checkpoint); revertErr != nil {
				return fmt.Errorf("scheduler: revert before retry %d for %s: %w", attempt+1, key, revertErr)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}
	return fmt.Errorf("scheduler: task %s exhausted %d attempts: %w", key, cfg.Attempts, lastErr)
}

// maybeYield is the ~1%-probability zero-delay yield of spec §5, giving a
// single-threaded backend a chance to surface progress and honor shutdown
// signals between task attempts.
func maybeYield(ctx context.Context) {
	if rand.Intn(100) != 0 {
		return
	}
	select {
	case <-ctx.Done():
	default:
		runtime.Gosched()
	}
}
