// Package retry provides the retry envelope wrapped around Sync Store
// operations and task execution: exponential backoff with a distinguished
// non-retryable sentinel that short-circuits the loop.
//
// Adapted from the teacher's pkg/txhelper transaction-send retry loop
// (SendTransactionWithRetry, IsRetryableError), reclassified for DB/RPC
// errors instead of transaction-send errors since this system never sends
// transactions.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// nonRetryable wraps an error to mark it as terminal: the envelope must not
// retry it regardless of attempts remaining.
type nonRetryable struct {
	err error
}

func (n *nonRetryable) Error() string { return n.err.Error() }
func (n *nonRetryable) Unwrap() error { return n.err }

// NonRetryable marks err as terminal. Sync Store operations and indexing
// functions return NonRetryable(err) to skip the remaining attempts.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetryable{err: err}
}

// IsNonRetryable reports whether err (or any error it wraps) was marked
// terminal via NonRetryable.
func IsNonRetryable(err error) bool {
	var n *nonRetryable
	return errors.As(err, &n)
}

// Config tunes the envelope. Attempts is the total number of tries
// (attempts-1 retries); Delay is the base backoff, doubled on each retry.
type Config struct {
	Attempts int
	Delay    time.Duration
}

// StoreConfig matches the Sync Store's retry policy (spec §4.1): 3 retries,
// 100/200/400ms exponential backoff, i.e. 4 total attempts.
func StoreConfig() Config {
	return Config{Attempts: 4, Delay: 100 * time.Millisecond}
}

// TaskConfig matches the scheduler's per-task retry policy (spec §4.3): 4
// attempts total.
func TaskConfig() Config {
	return Config{Attempts: 4, Delay: 200 * time.Millisecond}
}

// Do runs fn up to cfg.Attempts times, sleeping cfg.Delay*2^(attempt-1)
// between tries, and returns as soon as fn succeeds, fn returns a
// NonRetryable error, or ctx is canceled. A NonRetryable error is returned
// unwrapped from its marker so callers see the original cause; once every
// attempt has failed, the returned error wraps the last attempt's error.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}

	delay := cfg.Delay
	var lastErr error

	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}

		if IsNonRetryable(err) {
			var n *nonRetryable
			errors.As(err, &n)
			return n.err
		}

		lastErr = err
	}

	return fmt.Errorf("retry: exhausted %d attempts: %w", cfg.Attempts, lastErr)
}
