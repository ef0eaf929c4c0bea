package gateway

import (
	"sync"
	"time"
)

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

// breaker is a failure-rate circuit breaker. While closed it counts outcomes;
// once at least minRequests outcomes were observed and the failure rate meets
// the threshold it opens for openFor. After that window a single probe is let
// through: success closes the breaker, failure re-opens it.
type breaker struct {
	threshold   float64
	minRequests int
	openFor     time.Duration
	now         func() time.Time

	mu        sync.Mutex
	state     breakerState
	successes int
	failures  int
	openedAt  time.Time
	probing   bool
}

func newBreaker(threshold float64, minRequests int, openFor time.Duration, now func() time.Time) *breaker {
	if threshold <= 0 || threshold > 1 {
		threshold = 0.5
	}
	if minRequests < 1 {
		minRequests = 1
	}
	if openFor <= 0 {
		openFor = 30 * time.Second
	}
	if now == nil {
		now = time.Now
	}
	return &breaker{
		threshold:   threshold,
		minRequests: minRequests,
		openFor:     openFor,
		now:         now,
	}
}

// Allow reports whether a call may proceed right now.
func (b *breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed:
		return true
	case stateOpen:
		if b.now().Sub(b.openedAt) < b.openFor {
			return false
		}
		b.state = stateHalfOpen
		b.probing = true
		return true
	case stateHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
	return false
}

// Success records a successful call outcome.
func (b *breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == stateHalfOpen {
		b.reset()
		return
	}
	b.successes++
}

// Failure records a failed call outcome, opening the breaker when the window
// crosses the configured failure rate.
func (b *breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == stateHalfOpen {
		b.open()
		return
	}

	b.failures++
	total := b.successes + b.failures
	if total < b.minRequests {
		return
	}
	if float64(b.failures)/float64(total) >= b.threshold {
		b.open()
	}
}

// Open reports whether the breaker currently short-circuits calls.
func (b *breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == stateOpen && b.now().Sub(b.openedAt) < b.openFor
}

// caller holds b.mu
func (b *breaker) open() {
	b.state = stateOpen
	b.openedAt = b.now()
	b.probing = false
	b.successes = 0
	b.failures = 0
}

// caller holds b.mu
func (b *breaker) reset() {
	b.state = stateClosed
	b.probing = false
	b.successes = 0
	b.failures = 0
}
