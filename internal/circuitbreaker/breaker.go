// Package circuitbreaker implements per-target failure isolation for
// backend calls.
package circuitbreaker

import (
	"context"
	"sync"
	"time"

	"github.com/apexgw/apexgw/internal/observability"
	"github.com/apexgw/apexgw/internal/util"
)

// State represents the state of a circuit breaker.
type State int

const (
	// StateClosed indicates the circuit is closed and calls are allowed.
	StateClosed State = iota

	// StateOpen indicates the circuit is open and calls are rejected.
	StateOpen

	// StateHalfOpen indicates the circuit is probing backend recovery.
	StateHalfOpen
)

// String returns the string representation of the state.
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

// Breaker is a circuit breaker for a single backend target.
//
// Closed passes calls through and counts consecutive failures; reaching the
// failure threshold opens the circuit. Open rejects calls until the timeout
// has elapsed since opening, then one probe call is admitted. The probe's
// outcome decides between Closed and a fresh Open period; concurrent calls
// arriving while the probe is in flight are rejected.
type Breaker struct {
	target string
	config *Config
	logger observability.Logger

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	openedAt            time.Time
	probeInFlight       bool
}

// BreakerOption is a functional option for configuring a breaker.
type BreakerOption func(*Breaker)

// WithBreakerLogger sets the logger for the breaker.
func WithBreakerLogger(logger observability.Logger) BreakerOption {
	return func(b *Breaker) {
		b.logger = logger
	}
}

// New creates a circuit breaker for the given backend target.
func New(target string, config *Config, opts ...BreakerOption) *Breaker {
	if config == nil {
		config = DefaultConfig()
	}
	config.Validate()

	b := &Breaker{
		target: target,
		config: config,
		logger: observability.NopLogger(),
		state:  StateClosed,
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Allow reports whether a call may proceed. When the circuit rejects the
// call it returns a CircuitOpenError; no network attempt must be made.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		if time.Since(b.openedAt) >= b.config.Timeout {
			b.transitionTo(StateHalfOpen)
			b.probeInFlight = true
			return nil
		}
		return util.NewCircuitOpenError(b.target, b.state.String())

	case StateHalfOpen:
		if !b.probeInFlight {
			b.probeInFlight = true
			return nil
		}
		return util.NewCircuitOpenError(b.target, b.state.String())

	default:
		return util.NewCircuitOpenError(b.target, "unknown")
	}
}

// RecordSuccess records a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0

	if b.state == StateHalfOpen {
		b.probeInFlight = false
		b.transitionTo(StateClosed)
	}
}

// RecordFailure records a failed call.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.config.FailureThreshold {
			b.openedAt = time.Now()
			b.transitionTo(StateOpen)
		}

	case StateHalfOpen:
		// The probe failed: start a fresh open period.
		b.probeInFlight = false
		b.openedAt = time.Now()
		b.transitionTo(StateOpen)
	}
}

// AbandonProbe releases the half-open probe slot without recording an
// outcome, for an admitted probe that never reached the backend (for
// example when no pooled connection could be acquired). The next Allow
// admits a fresh probe; without this the breaker would stay half-open
// rejecting everything.
func (b *Breaker) AbandonProbe() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen && b.probeInFlight {
		b.probeInFlight = false
	}
}

// Execute runs fn under circuit breaker protection and records its outcome.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := b.Allow(); err != nil {
		return err
	}

	err := fn(ctx)
	if err != nil {
		b.RecordFailure()
		return err
	}

	b.RecordSuccess()
	return nil
}

// State returns the current state. It does not admit a probe; the Open to
// HalfOpen transition happens in Allow.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Target returns the backend target this breaker guards.
func (b *Breaker) Target() string {
	return b.target
}

// Stats holds a snapshot of breaker state.
type Stats struct {
	State               State
	ConsecutiveFailures int
	OpenedAt            time.Time
}

// Stats returns the current breaker statistics.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Stats{
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFailures,
		OpenedAt:            b.openedAt,
	}
}

// Reset returns the breaker to the closed state.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0
	b.probeInFlight = false
	if b.state != StateClosed {
		b.transitionTo(StateClosed)
	}
}

// transitionTo must be called with b.mu held.
func (b *Breaker) transitionTo(newState State) {
	oldState := b.state
	b.state = newState

	if newState == StateClosed {
		b.consecutiveFailures = 0
	}

	recordStateChange(b.target, oldState, newState)

	b.logger.Info("circuit breaker state changed",
		observability.String("target", b.target),
		observability.String("from", oldState.String()),
		observability.String("to", newState.String()),
	)

	if b.config.OnStateChange != nil {
		go b.config.OnStateChange(b.target, oldState, newState)
	}
}
