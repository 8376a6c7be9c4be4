// Package resilience implements a circuit breaker guarding outbound calls
// to the embedded CMS. A backend that is down should fail fast instead of
// stalling every portal page render on a connect timeout.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while the breaker refuses calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the breaker state.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Settings configures the breaker behavior.
type Settings struct {
	// FailureThreshold is the number of consecutive failures that trips
	// the breaker.
	FailureThreshold uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
	// HalfOpenMax is the number of trial requests allowed while half-open.
	HalfOpenMax uint32
	// OnStateChange is called on every transition, may be nil.
	OnStateChange func(name string, from, to State)
}

// Breaker implements a consecutive-failure circuit breaker.
type Breaker struct {
	name     string
	settings Settings

	mu       sync.Mutex
	state    State
	failures uint32
	inFlight uint32
	openedAt time.Time
}

// New creates a breaker. Zero settings get conservative defaults.
func New(name string, settings Settings) *Breaker {
	if settings.FailureThreshold == 0 {
		settings.FailureThreshold = 5
	}
	if settings.OpenTimeout == 0 {
		settings.OpenTimeout = 30 * time.Second
	}
	if settings.HalfOpenMax == 0 {
		settings.HalfOpenMax = 1
	}
	return &Breaker{name: name, settings: settings}
}

// State reports the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState()
}

// Execute runs fn if the breaker admits the call and records the outcome.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn()
	b.record(err == nil)
	return err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.currentState() {
	case StateOpen:
		return ErrCircuitOpen
	case StateHalfOpen:
		if b.inFlight >= b.settings.HalfOpenMax {
			return ErrCircuitOpen
		}
	}
	b.inFlight++
	return nil
}

func (b *Breaker) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.inFlight > 0 {
		b.inFlight--
	}

	state := b.currentState()
	if success {
		b.failures = 0
		if state == StateHalfOpen {
			b.transition(state, StateClosed)
		}
		return
	}

	b.failures++
	if state == StateHalfOpen || b.failures >= b.settings.FailureThreshold {
		b.openedAt = time.Now()
		b.transition(state, StateOpen)
	}
}

// currentState folds the open-timeout expiry into the stored state.
// Callers must hold b.mu.
func (b *Breaker) currentState() State {
	if b.state == StateOpen && time.Since(b.openedAt) >= b.settings.OpenTimeout {
		b.transition(StateOpen, StateHalfOpen)
	}
	return b.state
}

func (b *Breaker) transition(from, to State) {
	if from == to {
		return
	}
	b.state = to
	if to != StateOpen {
		b.failures = 0
	}
	if b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.name, from, to)
	}
}
