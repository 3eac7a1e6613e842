package resilix

import (
	"sync/atomic"
	"time"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int64

const (
	// StateClosed lets requests through and counts consecutive failures.
	StateClosed CircuitState = iota
	// StateOpen rejects requests until the cooldown since the last failure
	// has elapsed.
	StateOpen
	// StateHalfOpen admits a single trial request that decides whether the
	// circuit closes again or reopens.
	StateHalfOpen
)

// String returns the lowercase state name used in logs, metrics and the CLI.
func (s CircuitState) String() string {
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

// CircuitBreakerConfig controls when a breaker trips and how long it stays
// open.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures in the closed
	// state that trips the circuit.
	FailureThreshold int
	// Cooldown is how long after the last recorded failure the circuit
	// stays open before a trial request is admitted.
	Cooldown time.Duration
}

// CircuitBreaker is a per-endpoint failure gate. All state lives in atomics
// so Allow stays lock-free on the hot path.
type CircuitBreaker struct {
	failureThreshold int64
	cooldown         int64 // nanoseconds

	state       int64
	failures    int64
	lastFailure int64 // nanoseconds since epoch, 0 when never failed

	// onStateChange, when set, is invoked after every state transition.
	// Called outside any lock; must be cheap and non-blocking.
	onStateChange func(from, to CircuitState)
}

// NewCircuitBreaker creates a closed breaker. Zero config fields fall back
// to a threshold of 5 failures and a 30 second cooldown.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultFailureThreshold
	}
	if config.Cooldown <= 0 {
		config.Cooldown = DefaultCooldown
	}

	return &CircuitBreaker{
		failureThreshold: int64(config.FailureThreshold),
		cooldown:         int64(config.Cooldown),
		state:            int64(StateClosed),
	}
}

// Allow reports whether a call may proceed. The second return is true when
// this caller was admitted as the half-open trial: the winner of the
// open-to-half-open transition is the only request in flight until it
// reports an outcome or releases the slot. All other callers are rejected
// while the trial runs.
func (cb *CircuitBreaker) Allow() (allowed, trial bool) {
	switch CircuitState(atomic.LoadInt64(&cb.state)) {
	case StateClosed:
		return true, false
	case StateOpen:
		now := time.Now().UnixNano()
		lastFailure := atomic.LoadInt64(&cb.lastFailure)
		if now-lastFailure >= cb.cooldown {
			if atomic.CompareAndSwapInt64(&cb.state, int64(StateOpen), int64(StateHalfOpen)) {
				cb.notify(StateOpen, StateHalfOpen)
				return true, true
			}
		}
		return false, false
	case StateHalfOpen:
		// The trial slot is taken.
		return false, false
	default:
		return false, false
	}
}

// RecordSuccess records a successful call. In the closed state it clears the
// consecutive failure count; in the half-open state it closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	switch CircuitState(atomic.LoadInt64(&cb.state)) {
	case StateClosed:
		atomic.StoreInt64(&cb.failures, 0)
	case StateOpen:
		// A straggler from before the trip. Ignore.
	case StateHalfOpen:
		if atomic.CompareAndSwapInt64(&cb.state, int64(StateHalfOpen), int64(StateClosed)) {
			atomic.StoreInt64(&cb.failures, 0)
			cb.notify(StateHalfOpen, StateClosed)
		}
	}
}

// RecordFailure records a failed call. It refreshes the last failure
// timestamp, so an open circuit's cooldown restarts when a half-open trial
// fails.
func (cb *CircuitBreaker) RecordFailure() {
	atomic.StoreInt64(&cb.lastFailure, time.Now().UnixNano())

	switch CircuitState(atomic.LoadInt64(&cb.state)) {
	case StateClosed:
		failures := atomic.AddInt64(&cb.failures, 1)
		if failures >= cb.failureThreshold {
			if atomic.CompareAndSwapInt64(&cb.state, int64(StateClosed), int64(StateOpen)) {
				cb.notify(StateClosed, StateOpen)
			}
		}
	case StateOpen:
		// Stragglers admitted before the trip still count.
		atomic.AddInt64(&cb.failures, 1)
	case StateHalfOpen:
		atomic.AddInt64(&cb.failures, 1)
		if atomic.CompareAndSwapInt64(&cb.state, int64(StateHalfOpen), int64(StateOpen)) {
			cb.notify(StateHalfOpen, StateOpen)
		}
	}
}

// Release frees the half-open trial slot without recording an outcome. The
// circuit returns to open with its last failure timestamp untouched, so the
// next caller may start a fresh trial immediately. Used when the trial was
// abandoned, for example by context cancellation.
func (cb *CircuitBreaker) Release() {
	if atomic.CompareAndSwapInt64(&cb.state, int64(StateHalfOpen), int64(StateOpen)) {
		cb.notify(StateHalfOpen, StateOpen)
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	return CircuitState(atomic.LoadInt64(&cb.state))
}

// Failures returns the current consecutive failure count.
func (cb *CircuitBreaker) Failures() int64 {
	return atomic.LoadInt64(&cb.failures)
}

// LastFailureAt returns the time of the most recent recorded failure, or the
// zero time when none was recorded.
func (cb *CircuitBreaker) LastFailureAt() time.Time {
	nano := atomic.LoadInt64(&cb.lastFailure)
	if nano == 0 {
		return time.Time{}
	}
	return time.Unix(0, nano)
}

// Reset forces the breaker back to closed and clears all counters.
func (cb *CircuitBreaker) Reset() {
	from := CircuitState(atomic.SwapInt64(&cb.state, int64(StateClosed)))
	atomic.StoreInt64(&cb.failures, 0)
	atomic.StoreInt64(&cb.lastFailure, 0)
	if from != StateClosed {
		cb.notify(from, StateClosed)
	}
}

func (cb *CircuitBreaker) notify(from, to CircuitState) {
	if cb.onStateChange != nil {
		cb.onStateChange(from, to)
	}
}
