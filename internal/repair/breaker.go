package repair

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Breaker.Allow while the circuit rejects calls.
var ErrCircuitOpen = errors.New("repair: circuit open")

// State is the breaker state.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// Breaker is a consecutive-failure circuit breaker. It is safe for
// concurrent use; admission and state transitions happen under one mutex.
type Breaker struct {
	mu sync.Mutex

	threshold int
	recovery  time.Duration
	now       func() time.Time

	state       State
	failures    int
	lastFailure time.Time
	trial       bool // a HALF_OPEN trial call is in flight
}

// NewBreaker creates a closed breaker. now defaults to time.Now.
func NewBreaker(threshold int, recovery time.Duration, now func() time.Time) *Breaker {
	if threshold < 1 {
		threshold = 1
	}
	if now == nil {
		now = time.Now
	}
	return &Breaker{threshold: threshold, recovery: recovery, now: now, state: StateClosed}
}

// State returns the current state without side effects.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Allow admits or rejects one call. An OPEN breaker whose recovery timeout
// has elapsed moves to HALF_OPEN and admits exactly one trial; further calls
// are rejected until that trial is recorded.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.now().Sub(b.lastFailure) > b.recovery {
			b.state = StateHalfOpen
			b.trial = true
			return nil
		}
		return ErrCircuitOpen
	case StateHalfOpen:
		if b.trial {
			return ErrCircuitOpen
		}
		b.trial = true
		return nil
	}
	return ErrCircuitOpen
}

// Success records a successful call.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.trial = false
}

// Failure records a failed call.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.lastFailure = b.now()
	b.trial = false
	if b.state == StateHalfOpen || b.failures >= b.threshold {
		b.state = StateOpen
	}
}

// Release gives back an admitted call that never produced an outcome
// (caller cancelled). A HALF_OPEN breaker may then admit a new trial.
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trial = false
}
