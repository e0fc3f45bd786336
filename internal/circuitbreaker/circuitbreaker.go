// Package circuitbreaker guards synchronous fetch paths against upstream
// APIs that are failing hard, so the display loop stops paying fetch
// timeouts for an endpoint that is down and falls back to stale data.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrCircuitOpen is returned when the circuit breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the state of the circuit breaker.
type State int

const (
	// StateClosed means calls pass through normally.
	StateClosed State = iota
	// StateOpen means calls are rejected immediately.
	StateOpen
	// StateHalfOpen means probe calls are allowed through.
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

// Config holds circuit breaker parameters.
type Config struct {
	// FailureThreshold is the number of consecutive failures before the
	// circuit opens.
	FailureThreshold int
	// SuccessThreshold is the number of consecutive half-open successes
	// needed to close the circuit again.
	SuccessThreshold int
	// OpenTimeout is how long the circuit stays open before allowing a
	// probe call.
	OpenTimeout time.Duration
	// Name identifies the breaker in logs, usually the domain name.
	Name string
}

// DefaultConfig returns the default circuit breaker configuration.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
		Name:             "fetch",
	}
}

// CircuitBreaker implements the circuit breaker pattern for fetch functions.
// All methods are safe for concurrent use.
type CircuitBreaker struct {
	cfg Config

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	lastFailure time.Time
	nowFunc     func() time.Time // for testing; defaults to time.Now
}

// New creates a circuit breaker with the given configuration.
func New(cfg Config) *CircuitBreaker {
	return &CircuitBreaker{
		cfg:     cfg,
		state:   StateClosed,
		nowFunc: time.Now,
	}
}

// Execute runs fn under breaker protection. It returns ErrCircuitOpen
// without calling fn when the circuit is open and the open timeout has not
// elapsed.
func (cb *CircuitBreaker) Execute(_ context.Context, fn func() error) error {
	cb.mu.Lock()
	if cb.state == StateOpen {
		if cb.now().Sub(cb.lastFailure) < cb.cfg.OpenTimeout {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.successes = 0
		log.Info().Str("circuit_breaker", cb.cfg.Name).Msg("Circuit breaker transitioning to half-open")
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil {
		cb.onFailure()
		return err
	}
	cb.onSuccess()
	return nil
}

// onFailure handles a failed call. Must be called with cb.mu held.
func (cb *CircuitBreaker) onFailure() {
	cb.failures++
	cb.lastFailure = cb.now()

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.state = StateOpen
			log.Warn().
				Str("circuit_breaker", cb.cfg.Name).
				Int("failures", cb.failures).
				Msg("Circuit breaker opened")
		}
	case StateHalfOpen:
		// A failed probe reopens the circuit immediately.
		cb.state = StateOpen
		log.Warn().Str("circuit_breaker", cb.cfg.Name).Msg("Circuit breaker reopened after failed probe")
	}
}

// onSuccess handles a successful call. Must be called with cb.mu held.
func (cb *CircuitBreaker) onSuccess() {
	cb.failures = 0

	if cb.state == StateHalfOpen {
		cb.successes++
		if cb.successes >= cb.cfg.SuccessThreshold {
			cb.state = StateClosed
			cb.successes = 0
			log.Info().Str("circuit_breaker", cb.cfg.Name).Msg("Circuit breaker closed after recovery")
		}
	}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats describes breaker state for the ops API.
type Stats struct {
	State       string    `json:"state"`
	Failures    int       `json:"failures"`
	LastFailure time.Time `json:"last_failure,omitempty"`
	Healthy     bool      `json:"healthy"`
}

// GetStats returns current breaker statistics.
func (cb *CircuitBreaker) GetStats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Stats{
		State:       cb.state.String(),
		Failures:    cb.failures,
		LastFailure: cb.lastFailure,
		Healthy:     cb.state == StateClosed,
	}
}

func (cb *CircuitBreaker) now() time.Time {
	if cb.nowFunc != nil {
		return cb.nowFunc()
	}
	return time.Now()
}
