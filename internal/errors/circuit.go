package errors

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the circuit breaker state.
type State int

const (
	// StateClosed is the normal state where requests are allowed.
	StateClosed State = iota
	// StateOpen is when the circuit is tripped and requests are blocked.
	StateOpen
	// StateHalfOpen lets a single trial call through after the reset timeout.
	StateHalfOpen
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker fails fast for a backend that keeps failing.
// The search engine keeps one per retrieval backend so a dead store
// costs nothing instead of a full backend timeout on every query.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	now          func() time.Time

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	trial       bool
}

// CircuitBreakerOption configures a CircuitBreaker.
type CircuitBreakerOption func(*CircuitBreaker)

// WithMaxFailures sets the number of consecutive failures before opening the circuit.
func WithMaxFailures(n int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		if n > 0 {
			cb.maxFailures = n
		}
	}
}

// WithResetTimeout sets the time to wait before attempting recovery.
func WithResetTimeout(d time.Duration) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		if d > 0 {
			cb.resetTimeout = d
		}
	}
}

// withClock overrides time.Now for tests.
func withClock(now func() time.Time) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.now = now
	}
}

// NewCircuitBreaker creates a new circuit breaker with the given name.
// Default: 5 failures, 30 second reset timeout.
func NewCircuitBreaker(name string, opts ...CircuitBreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:         name,
		maxFailures:  5,
		resetTimeout: 30 * time.Second,
		now:          time.Now,
		state:        StateClosed,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Name returns the circuit breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// State returns the current circuit breaker state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentState()
}

// currentState must be called with mu held.
func (cb *CircuitBreaker) currentState() State {
	if cb.state == StateOpen && cb.now().Sub(cb.lastFailure) > cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// allow reports whether a call may proceed, claiming the half-open trial slot.
func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.currentState() {
	case StateClosed:
		return true
	case StateHalfOpen:
		if cb.trial {
			return false
		}
		cb.trial = true
		return true
	default:
		return false
	}
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	wasTrial := cb.trial
	cb.trial = false

	if err == nil {
		cb.failures = 0
		cb.state = StateClosed
		return
	}

	cb.failures++
	cb.lastFailure = cb.now()
	if wasTrial || cb.failures >= cb.maxFailures {
		cb.state = StateOpen
	}
}

// Execute runs fn through the circuit breaker.
// Returns ErrCircuitOpen without calling fn if the circuit is open.
func Execute[T any](cb *CircuitBreaker, fn func() (T, error)) (T, error) {
	if !cb.allow() {
		var zero T
		return zero, ErrCircuitOpen
	}
	result, err := fn()
	cb.record(err)
	return result, err
}
