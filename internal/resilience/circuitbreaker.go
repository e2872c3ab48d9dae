// Package resilience provides circuit breaker and provider failover primitives
// for the translation, transcription and synthesis backends.
//
// The central type is [CircuitBreaker], a classic three-state breaker
// (closed → open → half-open) that protects callers from cascading failures.
// [FallbackGroup] composes multiple instances of any provider type with per-entry
// circuit breakers so that a failing primary is automatically bypassed in favour
// of healthy fallbacks.
//
// A call that ends with context.Canceled is neither a success nor a failure:
// superseded pipeline runs cancel their in-flight provider calls routinely and
// must not trip a healthy backend's breaker.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] when the breaker is in
// the open state and the reset timeout has not yet elapsed.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the current operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// has passed since the last failure.
	StateOpen

	// StateHalfOpen lets up to HalfOpenMax probe calls through. That many
	// successes close the breaker; one failure re-opens it.
	StateHalfOpen
)

var stateNames = [...]string{
	StateClosed:   "closed",
	StateOpen:     "open",
	StateHalfOpen: "half-open",
}

// String returns the human-readable name of the state.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels the breaker in logs and state-change notifications,
	// e.g. "llm/openai".
	Name string

	// MaxFailures is the number of consecutive failures in the closed state
	// before the breaker opens. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before admitting
	// probes. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is both the number of probes admitted while half-open and
	// the number of probe successes needed to close. Default: 3.
	HalfOpenMax int

	// OnStateChange, if set, is called after every transition with the lock
	// released.
	OnStateChange func(name string, from, to State)
}

// CircuitBreaker implements the three-state circuit breaker pattern.
// It is safe for concurrent use from multiple goroutines.
type CircuitBreaker struct {
	name          string
	maxFailures   int
	resetTimeout  time.Duration
	halfOpenMax   int
	onStateChange func(name string, from, to State)

	mu       sync.Mutex
	state    State
	failures int       // consecutive failures while closed
	openedAt time.Time // time of the failure that opened the breaker
	inFlight int       // probes admitted in the current half-open window
	passed   int       // probes that succeeded in the current window
}

// NewCircuitBreaker creates a [CircuitBreaker] with the supplied configuration.
// Zero-value config fields are replaced with defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	return &CircuitBreaker{
		name:          cfg.Name,
		maxFailures:   cfg.MaxFailures,
		resetTimeout:  cfg.ResetTimeout,
		halfOpenMax:   cfg.HalfOpenMax,
		onStateChange: cfg.OnStateChange,
		state:         StateClosed,
	}
}

// Name returns the label the breaker was created with.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Execute runs fn if the breaker admits the call and accounts for its result.
// A rejected call returns [ErrCircuitOpen] without running fn.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, ok := cb.admit()
	if !ok {
		return ErrCircuitOpen
	}
	err := fn()
	cb.settle(probe, err)
	return err
}

// admit decides whether a call may run and whether it counts as a probe.
func (cb *CircuitBreaker) admit() (probe, ok bool) {
	cb.mu.Lock()
	var changed func()
	defer func() {
		cb.mu.Unlock()
		if changed != nil {
			changed()
		}
	}()

	if cb.state == StateOpen {
		if time.Since(cb.openedAt) < cb.resetTimeout {
			return false, false
		}
		changed = cb.moveTo(StateHalfOpen)
	}
	if cb.state == StateHalfOpen {
		if cb.inFlight >= cb.halfOpenMax {
			return false, false
		}
		cb.inFlight++
		return true, true
	}
	return false, true
}

// settle records the outcome of an admitted call. A cancelled call carries no
// signal about the backend: it hands back its probe slot and changes nothing
// else.
func (cb *CircuitBreaker) settle(probe bool, err error) {
	cb.mu.Lock()
	var changed func()
	defer func() {
		cb.mu.Unlock()
		if changed != nil {
			changed()
		}
	}()

	// A probe admitted before a Reset or a re-open belongs to a window that no
	// longer exists.
	stale := probe && cb.state != StateHalfOpen

	switch {
	case errors.Is(err, context.Canceled):
		if probe && !stale {
			cb.inFlight--
		}
	case err != nil:
		if stale {
			return
		}
		if probe || cb.state == StateClosed && cb.failures+1 >= cb.maxFailures {
			cb.openedAt = time.Now()
			changed = cb.moveTo(StateOpen)
			return
		}
		cb.failures++
	default:
		if !probe {
			cb.failures = 0
			return
		}
		if stale {
			return
		}
		cb.passed++
		if cb.passed >= cb.halfOpenMax {
			changed = cb.moveTo(StateClosed)
		}
	}
}

// moveTo switches to next, resets the per-state counters and returns the
// notification to run once the lock is released. Must be called with cb.mu
// held.
func (cb *CircuitBreaker) moveTo(next State) func() {
	prev := cb.state
	cb.state = next
	cb.failures, cb.inFlight, cb.passed = 0, 0, 0

	switch next {
	case StateOpen:
		slog.Warn("circuit breaker opened", "name", cb.name, "from", prev)
	case StateHalfOpen:
		slog.Info("circuit breaker half-open, probing", "name", cb.name)
	case StateClosed:
		slog.Info("circuit breaker closed", "name", cb.name, "from", prev)
	}
	if cb.onStateChange == nil || prev == next {
		return nil
	}
	fn, name := cb.onStateChange, cb.name
	return func() { fn(name, prev, next) }
}

// State returns the current [State] of the breaker. An open breaker whose reset
// timeout has elapsed reports [StateHalfOpen]; the transition itself happens on
// the next [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && time.Since(cb.openedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker back to [StateClosed].
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	changed := cb.moveTo(StateClosed)
	cb.mu.Unlock()
	if changed != nil {
		changed()
	}
}
