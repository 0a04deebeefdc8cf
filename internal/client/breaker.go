package client

import (
	"sync"
	"time"
)

// BreakerState names the circuit breaker's three states.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// CircuitBreaker guards the transport against a failing backend: after
// FailureThreshold consecutive failures it opens and rejects calls
// until RecoveryTimeout elapses, then admits a single trial call
// (half-open). Success closes it again, failure reopens it.
//
// The breaker is the only shared mutable state in the client and is
// safe for use from concurrent callers. It is constructed by whoever
// owns the Client and passed in, so its lifetime is explicit and tests
// never leak state through a package-level singleton.
type CircuitBreaker struct {
	mu                  sync.Mutex
	failureThreshold    int
	recoveryTimeout     time.Duration
	now                 func() time.Time
	onStateChange       func(from, to BreakerState)
	state               BreakerState
	consecutiveFailures int
	openedAt            time.Time
}

// NewCircuitBreaker returns a closed breaker. threshold <= 0 defaults
// to 5 consecutive failures; recovery <= 0 defaults to 60 seconds.
func NewCircuitBreaker(threshold int, recovery time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if recovery <= 0 {
		recovery = 60 * time.Second
	}
	return &CircuitBreaker{
		failureThreshold: threshold,
		recoveryTimeout:  recovery,
		now:              time.Now,
		state:            BreakerClosed,
	}
}

// SetClock replaces the breaker's time source. Test hook.
func (b *CircuitBreaker) SetClock(now func() time.Time) {
	b.mu.Lock()
	b.now = now
	b.mu.Unlock()
}

// OnStateChange registers a callback invoked (outside any hot path,
// but under the breaker lock) whenever the state changes.
func (b *CircuitBreaker) OnStateChange(fn func(from, to BreakerState)) {
	b.mu.Lock()
	b.onStateChange = fn
	b.mu.Unlock()
}

// Allow reports whether a call may proceed. In the open state it
// transitions to half-open once the recovery timeout has elapsed and
// admits exactly one trial call.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if b.now().Sub(b.openedAt) >= b.recoveryTimeout {
			b.transition(BreakerHalfOpen)
			return true
		}
		return false
	case BreakerHalfOpen:
		// One trial is already in flight.
		return false
	}
	return false
}

// ReleaseTrial returns a half-open breaker to open without recording a
// verdict. It covers trials that never reach the backend (caller
// cancellation, serialization failure before the POST): openedAt is
// left untouched, so the already-elapsed recovery window lets the next
// Allow admit a fresh trial immediately instead of wedging every
// future call behind a trial that will never conclude.
func (b *CircuitBreaker) ReleaseTrial() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerHalfOpen {
		b.transition(BreakerOpen)
	}
}

// RecordSuccess closes the breaker and clears the failure count.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
	if b.state != BreakerClosed {
		b.transition(BreakerClosed)
	}
}

// RecordFailure notes one dependency failure. A failed half-open trial
// reopens immediately; in the closed state the breaker opens once the
// consecutive-failure threshold is reached. Cancelled calls must not
// be recorded at all.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerHalfOpen {
		b.openedAt = b.now()
		b.transition(BreakerOpen)
		return
	}

	b.consecutiveFailures++
	if b.state == BreakerClosed && b.consecutiveFailures >= b.failureThreshold {
		b.openedAt = b.now()
		b.transition(BreakerOpen)
	}
}

// State returns the current breaker state.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// transition must be called with the lock held.
func (b *CircuitBreaker) transition(to BreakerState) {
	from := b.state
	b.state = to
	if b.onStateChange != nil && from != to {
		b.onStateChange(from, to)
	}
}
