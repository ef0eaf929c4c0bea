// Package backoff computes capped, jittered exponential delays and drives the
// blocking retry loop used for idempotent downstream writes.
package backoff

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

const (
	// maxShift bounds the exponent so the doubling never overflows.
	maxShift = 10

	jitterMinMs = 250
	jitterMaxMs = 1000
)

var (
	rndMu sync.Mutex
	rnd   = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// NextDelay returns the wait before retry attempt+1. The delay doubles per
// attempt starting from base, is capped at max, and carries a uniform jitter
// in [250ms, 1s); the jittered result never exceeds max.
func NextDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	shift := attempt - 1
	if shift > maxShift {
		shift = maxShift
	}

	exp := base << shift
	if exp > max || exp < 0 {
		exp = max
	}

	delay := exp + jitter()
	if delay > max {
		delay = max
	}
	return delay
}

func jitter() time.Duration {
	rndMu.Lock()
	defer rndMu.Unlock()
	ms := jitterMinMs + rnd.Int63n(jitterMaxMs-jitterMinMs)
	return time.Duration(ms) * time.Millisecond
}

// Run invokes op until it succeeds, sleeping NextDelay between attempts. The
// loop never gives up on its own; cancelling the context aborts the wait and
// surfaces a fatal error instead of silently continuing.
func Run(ctx context.Context, base, max time.Duration, onRetry func(attempt int, wait time.Duration, err error), op func() error) error {
	attempt := 1
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("backoff: aborted before attempt %d: %w", attempt, err)
		}

		err := op()
		if err == nil {
			return nil
		}

		wait := NextDelay(attempt, base, max)
		if onRetry != nil {
			onRetry(attempt, wait, err)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("backoff: interrupted while waiting to retry attempt %d: %w", attempt+1, ctx.Err())
		case <-timer.C:
		}

		attempt++
	}
}
