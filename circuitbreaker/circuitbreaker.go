// Package circuitbreaker protects the billing backend from being hammered
// while it is unhealthy. Dispatch attempts fail fast when the circuit is
// open; the reporter drops the affected events rather than queueing them.
//
// States:
//   - Closed: normal operation, dispatches pass through
//   - Open: backend unhealthy, dispatches fail immediately
//   - Half-Open: testing recovery, limited dispatches allowed
//
// Implementations:
//   - InMemory: single-instance, uses sync.RWMutex
//   - Redis: distributed, uses Lua scripts for atomic transitions
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Allow while the circuit is open.
var ErrOpen = errors.New("circuit breaker open")

// CircuitBreaker gates billing dispatches. Both the in-memory and Redis
// implementations satisfy this interface.
type CircuitBreaker interface {
	// Allow returns nil if a dispatch may proceed, ErrOpen otherwise.
	Allow(ctx context.Context) error

	// RecordSuccess records a successful dispatch. In half-open state,
	// enough successes close the circuit.
	RecordSuccess(ctx context.Context)

	// RecordFailure records a failed dispatch. Enough failures open the
	// circuit.
	RecordFailure(ctx context.Context)

	// State returns the current state.
	State(ctx context.Context) State
}

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

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

// Config defines circuit breaker behavior.
type Config struct {
	FailureThreshold int           // Failures before opening
	SuccessThreshold int           // Successes to close from half-open
	Timeout          time.Duration // Time before transitioning to half-open
}

// DefaultConfig suits a billing backend where brief outages are common and
// full recovery should be detected within a minute.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
}

// InMemory is the single-instance implementation.
type InMemory struct {
	mu          sync.RWMutex
	state       State
	failures    int
	successes   int
	lastFailure time.Time
	config      Config
}

func NewInMemory(cfg Config) *InMemory {
	return &InMemory{
		state:  StateClosed,
		config: cfg,
	}
}

func (cb *InMemory) Allow(ctx context.Context) error {
	cb.mu.RLock()
	state := cb.state
	lastFailure := cb.lastFailure
	cb.mu.RUnlock()

	switch state {
	case StateClosed:
		return nil
	case StateOpen:
		if time.Since(lastFailure) > cb.config.Timeout {
			cb.mu.Lock()
			if cb.state == StateOpen {
				cb.state = StateHalfOpen
				cb.successes = 0
			}
			cb.mu.Unlock()
			return nil
		}
		return ErrOpen
	case StateHalfOpen:
		return nil
	}

	return nil
}

func (cb *InMemory) RecordSuccess(ctx context.Context) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.state = StateClosed
			cb.failures = 0
			cb.successes = 0
		}
	}
}

func (cb *InMemory) RecordFailure(ctx context.Context) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailure = time.Now()

	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.state = StateOpen
		}
	case StateHalfOpen:
		cb.state = StateOpen
		cb.successes = 0
	}
}

func (cb *InMemory) State(ctx context.Context) State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

func (cb *InMemory) Failures() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.failures
}
