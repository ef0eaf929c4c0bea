package backoff_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/integration-relay/internal/backoff"
)

func TestNextDelayFirstAttempt(t *testing.T) {
	base := 5000 * time.Millisecond
	max := 30000 * time.Millisecond

	for i := 0; i < 200; i++ {
		d := backoff.NextDelay(1, base, max)
		require.GreaterOrEqual(t, d, 5250*time.Millisecond)
		require.Less(t, d, 6000*time.Millisecond)
	}
}

func TestNextDelayCapAbsorbsJitter(t *testing.T) {
	base := 5000 * time.Millisecond
	max := 30000 * time.Millisecond

	for i := 0; i < 50; i++ {
		require.Equal(t, max, backoff.NextDelay(20, base, max))
	}
}

func TestNextDelayShiftIsBounded(t *testing.T) {
	// Attempts beyond the shift ceiling must not wrap around into negative
	// durations; they simply hit the cap.
	d := backoff.NextDelay(500, time.Second, time.Minute)
	require.Equal(t, time.Minute, d)

	// Zero and negative attempts are clamped to the first attempt.
	d = backoff.NextDelay(0, 5*time.Second, 30*time.Second)
	require.GreaterOrEqual(t, d, 5250*time.Millisecond)
	require.Less(t, d, 6*time.Second)
}

func TestRunRetriesUntilSuccess(t *testing.T) {
	calls := 0
	var retries []int

	err := backoff.Run(context.Background(), time.Millisecond, 5*time.Millisecond,
		func(attempt int, wait time.Duration, err error) {
			retries = append(retries, attempt)
		},
		func() error {
			calls++
			if calls < 3 {
				return errors.New("db down")
			}
			return nil
		})

	require.NoError(t, err)
	require.Equal(t, 3, calls)
	require.Equal(t, []int{1, 2}, retries)
}

func TestRunCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- backoff.Run(ctx, time.Minute, time.Hour, nil, func() error {
			return errors.New("still down")
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("retry loop did not abort on cancellation")
	}
}

func TestRunCancelledBeforeFirstAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := backoff.Run(ctx, time.Millisecond, time.Millisecond, nil, func() error {
		t.Fatal("op must not run after cancellation")
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
}
