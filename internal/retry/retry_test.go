package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDoRetriesThenSucceeds(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), Config{Attempts: 3, Delay: time.Millisecond}, func(ctx context.Context) error {
		attempts++
		if attempts < 2 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, attempts)
}

func TestDoNonRetryableShortCircuits(t *testing.T) {
	attempts := 0
	sentinel := errors.New("permanent")
	err := Do(context.Background(), Config{Attempts: 5, Delay: time.Millisecond}, func(ctx context.Context) error {
		attempts++
		return NonRetryable(sentinel)
	})
	require.ErrorIs(t, err, sentinel)
	require.Equal(t, 1, attempts)
}

func TestDoExhaustsAttempts(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), Config{Attempts: 3, Delay: time.Millisecond}, func(ctx context.Context) error {
		attempts++
		return errors.New("still failing")
	})
	require.Error(t, err)
	require.Equal(t, 3, attempts)
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := Do(ctx, Config{Attempts: 3, Delay: 50 * time.Millisecond}, func(ctx context.Context) error {
		attempts++
		return errors.New("fail")
	})
	require.Error(t, err)
	require.Equal(t, 1, attempts, "first attempt still runs before the context is checked")
}
