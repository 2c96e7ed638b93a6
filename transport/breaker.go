package transport

import (
	"errors"
	"sync"
	"time"
)

// CircuitState represents the state of the circuit breaker.
type CircuitState int

const (
	// StateClosed means the circuit acts normally (requests pass).
	StateClosed CircuitState = iota
	// StateOpen means the circuit fails fast (requests blocked).
	StateOpen
	// StateHalfOpen means the circuit is probing (one request passes).
	StateHalfOpen
)

// String returns the string representation of the state.
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "Closed"
	case StateOpen:
		return "Open"
	case StateHalfOpen:
		return "Half-Open"
	default:
		return "Unknown"
	}
}

// ErrCircuitOpen is returned when the circuit breaker is open.
var ErrCircuitOpen = errors.New("transport: circuit breaker is open")

// CircuitBreakerPolicy configures a CircuitBreaker.
type CircuitBreakerPolicy struct {
	// Enabled turns the breaker on. A disabled breaker passes every call.
	Enabled bool

	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int

	// ResetTimeout is how long the circuit stays open before probing.
	ResetTimeout time.Duration

	// OnStateChange is called asynchronously on every transition.
	OnStateChange func(from, to CircuitState)
}

// DefaultCircuitBreakerPolicy opens after five failures for 30 seconds.
func DefaultCircuitBreakerPolicy() *CircuitBreakerPolicy {
	return &CircuitBreakerPolicy{
		Enabled:          true,
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
	}
}

// CircuitBreaker stops calling an endpoint that keeps failing.
//
// Only failures selected by the breaker's failure filter are counted; an
// endpoint that answers 401 is up, even if the answer is unwelcome.
type CircuitBreaker struct {
	mu sync.Mutex

	state       CircuitState
	failures    int
	lastFailure time.Time
	probing     bool

	threshold     int
	timeout       time.Duration
	enabled       bool
	clock         Clock
	isFailure     func(error) bool
	onStateChange func(from, to CircuitState)
}

// NewCircuitBreaker creates a new circuit breaker with the given policy.
func NewCircuitBreaker(policy *CircuitBreakerPolicy) *CircuitBreaker {
	cb := &CircuitBreaker{
		state:     StateClosed,
		clock:     realClock{},
		isFailure: func(err error) bool { return err != nil },
	}
	if policy == nil {
		return cb
	}
	cb.enabled = policy.Enabled
	cb.threshold = max(policy.FailureThreshold, 1)
	cb.timeout = policy.ResetTimeout
	cb.onStateChange = policy.OnStateChange
	return cb
}

// Execute runs fn unless the circuit is open.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.enabled {
		return fn()
	}
	if err := cb.allow(); err != nil {
		return err
	}
	err := fn()
	cb.record(err)
	return err
}

// allow decides whether a call may proceed. In Half-Open only one probe
// is in flight at a time.
func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.clock.Now().Sub(cb.lastFailure) <= cb.timeout {
			return ErrCircuitOpen
		}
		cb.transitionToLocked(StateHalfOpen)
		cb.probing = true
		return nil
	case StateHalfOpen:
		if cb.probing {
			return ErrCircuitOpen
		}
		cb.probing = true
		return nil
	default:
		return nil
	}
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen {
		cb.probing = false
	}

	if !cb.isFailure(err) {
		cb.failures = 0
		if cb.state == StateHalfOpen {
			cb.transitionToLocked(StateClosed)
		}
		return
	}

	cb.failures++
	cb.lastFailure = cb.clock.Now()

	switch cb.state {
	case StateHalfOpen:
		cb.transitionToLocked(StateOpen)
	case StateClosed:
		if cb.failures >= cb.threshold {
			cb.transitionToLocked(StateOpen)
		}
	}
}

// transitionToLocked changes state and fires the callback.
// Must be called with cb.mu held.
func (cb *CircuitBreaker) transitionToLocked(to CircuitState) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	if cb.onStateChange != nil {
		go cb.onStateChange(from, to)
	}
}

// State returns the current state (thread-safe).
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
