// Package resilience keeps the speech platform usable when a speech backend
// misbehaves.
//
// [CircuitBreaker] is a three-state breaker (closed, open, half-open) that
// stops calling a backend after repeated failures. [Group] orders several
// instances of one provider type, each behind its own breaker, and
// [STTFailover] and [TTSFailover] use it to present a primary provider with
// fallbacks as a single [stt.Provider] or [tts.Provider].
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// rejects calls.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// has passed since the last failure.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through. Enough
	// successes close the breaker; any failure opens it again.
	StateHalfOpen
)

// String returns the human-readable name of the state.
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

// Breaker defaults.
const (
	DefaultMaxFailures  = 5
	DefaultResetTimeout = 30 * time.Second
	DefaultHalfOpenMax  = 3
)

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker]. Zero
// fields take the package defaults.
type CircuitBreakerConfig struct {
	// Name labels the breaker in logs and state-change callbacks.
	Name string

	// MaxFailures is the number of consecutive failures that opens a closed
	// breaker.
	MaxFailures int

	// ResetTimeout is how long an open breaker waits before probing.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of probe calls allowed while half-open, and
	// the number of successes needed to close again.
	HalfOpenMax int

	// OnStateChange, if set, is called after every transition. It runs with
	// the breaker unlocked.
	OnStateChange func(name string, from, to State)

	// Now overrides the clock. Tests use it to step past ResetTimeout.
	Now func() time.Time
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	name          string
	maxFailures   int
	resetTimeout  time.Duration
	halfOpenMax   int
	onStateChange func(name string, from, to State)
	now           func() time.Time

	mu              sync.Mutex
	state           State
	consecutiveFail int
	openedAt        time.Time
	probes          int
	probeSuccesses  int
}

// NewCircuitBreaker returns a closed breaker configured by cfg.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultResetTimeout
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = DefaultHalfOpenMax
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{
		name:          cfg.Name,
		maxFailures:   cfg.MaxFailures,
		resetTimeout:  cfg.ResetTimeout,
		halfOpenMax:   cfg.HalfOpenMax,
		onStateChange: cfg.OnStateChange,
		now:           cfg.Now,
		state:         StateClosed,
	}
}

// Name returns the breaker's label.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Execute runs fn if the breaker allows it and records the outcome. It
// returns [ErrCircuitOpen] without calling fn while the breaker is open or
// its half-open probe budget is used up.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	var changes []transition
	if cb.state == StateOpen {
		if cb.now().Sub(cb.openedAt) < cb.resetTimeout {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		changes = append(changes, cb.setLocked(StateHalfOpen))
	}
	probing := cb.state == StateHalfOpen
	if probing {
		if cb.probes >= cb.halfOpenMax {
			cb.mu.Unlock()
			cb.notify(changes)
			return ErrCircuitOpen
		}
		cb.probes++
	}
	cb.mu.Unlock()
	cb.notify(changes)

	err := fn()

	cb.mu.Lock()
	changes = changes[:0]
	if err != nil {
		if t, ok := cb.failureLocked(probing); ok {
			changes = append(changes, t)
		}
	} else if t, ok := cb.successLocked(probing); ok {
		changes = append(changes, t)
	}
	cb.mu.Unlock()
	cb.notify(changes)
	return err
}

// RecordFailure counts a failure that surfaced after Execute returned, such
// as a stream that broke once it was open.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	t, ok := cb.failureLocked(cb.state == StateHalfOpen)
	cb.mu.Unlock()
	if ok {
		cb.notify([]transition{t})
	}
}

type transition struct{ from, to State }

// setLocked moves to s and resets the counters s starts with. cb.mu must be
// held.
func (cb *CircuitBreaker) setLocked(s State) transition {
	t := transition{from: cb.state, to: s}
	cb.state = s
	switch s {
	case StateClosed:
		cb.consecutiveFail = 0
	case StateOpen:
		cb.openedAt = cb.now()
	case StateHalfOpen:
		cb.probes = 0
		cb.probeSuccesses = 0
	}
	return t
}

func (cb *CircuitBreaker) failureLocked(probing bool) (transition, bool) {
	if probing {
		if cb.state != StateHalfOpen {
			return transition{}, false
		}
		slog.Warn("circuit breaker probe failed, reopening", "name", cb.name)
		return cb.setLocked(StateOpen), true
	}
	cb.consecutiveFail++
	if cb.state == StateClosed && cb.consecutiveFail >= cb.maxFailures {
		slog.Warn("circuit breaker opened", "name", cb.name, "consecutive_failures", cb.consecutiveFail)
		return cb.setLocked(StateOpen), true
	}
	return transition{}, false
}

func (cb *CircuitBreaker) successLocked(probing bool) (transition, bool) {
	if !probing {
		cb.consecutiveFail = 0
		return transition{}, false
	}
	if cb.state != StateHalfOpen {
		return transition{}, false
	}
	cb.probeSuccesses++
	if cb.probeSuccesses >= cb.halfOpenMax {
		slog.Info("circuit breaker closed after successful probes", "name", cb.name)
		return cb.setLocked(StateClosed), true
	}
	return transition{}, false
}

func (cb *CircuitBreaker) notify(changes []transition) {
	if cb.onStateChange == nil {
		return
	}
	for _, t := range changes {
		cb.onStateChange(cb.name, t.from, t.to)
	}
}

// State returns the current state. An open breaker whose reset timeout has
// passed reports [StateHalfOpen]; the transition itself happens on the next
// [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	t := cb.setLocked(StateClosed)
	cb.mu.Unlock()
	if t.from != t.to {
		cb.notify([]transition{t})
	}
	slog.Info("circuit breaker manually reset", "name", cb.name)
}
