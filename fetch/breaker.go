package fetch

import (
	"sync"
	"time"
)

type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Breaker is a circuit breaker over the fetch primitive. Qualifying failures
// increment a counter; at the threshold the circuit opens and all calls fail
// fast until the recovery timeout elapses, after which exactly one call is
// admitted half-open. Success there closes the circuit and resets the
// counter, failure reopens it immediately.
type Breaker struct {
	mu sync.Mutex

	failureThreshold int
	recoveryTimeout  time.Duration

	state       BreakerState
	failures    int
	lastFailure time.Time
	probing     bool             // a half-open probe call is already in flight
	now         func() time.Time // swapped in tests
}

func NewBreaker(failureThreshold int, recoveryTimeout time.Duration) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = 60 * time.Second
	}
	return &Breaker{
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		state:            StateClosed,
		now:              time.Now,
	}
}

// Allow reports whether a call may proceed. While open it returns a
// *CircuitOpenError until the recovery timeout has elapsed; exactly one call
// after that is admitted as the half-open probe, and further callers fail
// fast until the probe records its outcome.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateHalfOpen:
		if b.probing {
			return &CircuitOpenError{RetryAt: b.lastFailure.Add(b.recoveryTimeout)}
		}
		b.probing = true
		return nil
	}

	retryAt := b.lastFailure.Add(b.recoveryTimeout)
	if b.now().Before(retryAt) {
		return &CircuitOpenError{RetryAt: retryAt}
	}

	b.state = StateHalfOpen
	b.probing = true
	return nil
}

// RecordSuccess closes the circuit and resets the failure counter.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.failures = 0
	b.probing = false
}

// RecordFailure counts a qualifying failure. A half-open failure reopens the
// circuit immediately regardless of the counter.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = b.now()

	if b.state == StateHalfOpen || b.failures >= b.failureThreshold {
		b.state = StateOpen
	}
	b.probing = false
}

func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}
