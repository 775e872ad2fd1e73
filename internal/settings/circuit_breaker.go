package settings

import (
	"sync"
	"time"

	"github.com/rendis/docflow/pkg/schema"
)

// CircuitState is the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // calls pass
	CircuitOpen                         // calls rejected until the cooldown elapses
	CircuitHalfOpen                     // a limited number of trial calls pass
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a Breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before probing.
	Cooldown time.Duration
	// HalfOpenMax is the number of trial calls allowed while half-open.
	HalfOpenMax int
}

// DefaultBreakerConfig returns threshold 5, cooldown 30s, one trial call.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		HalfOpenMax:      1,
	}
}

// Breaker guards calls to one remote service.
type Breaker struct {
	name   string
	config BreakerConfig
	now    func() time.Time

	mu               sync.Mutex
	state            CircuitState
	failures         int
	lastFailure      time.Time
	halfOpenAttempts int
}

// NewBreaker creates a closed breaker. now defaults to time.Now.
func NewBreaker(name string, config BreakerConfig, now func() time.Time) *Breaker {
	if now == nil {
		now = time.Now
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if config.HalfOpenMax <= 0 {
		config.HalfOpenMax = 1
	}
	return &Breaker{name: name, config: config, now: now}
}

// Allow returns nil when a call may proceed, or a CIRCUIT_OPEN error.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitOpen:
		elapsed := b.now().Sub(b.lastFailure)
		if elapsed >= b.config.Cooldown {
			b.state = CircuitHalfOpen
			b.halfOpenAttempts = 1
			return nil
		}
		return schema.NewErrorf(schema.ErrCodeCircuitOpen,
			"circuit open for %s after %d consecutive failures", b.name, b.failures).
			WithDetails(map[string]any{
				"service":            b.name,
				"state":              b.state.String(),
				"cooldown_remaining": (b.config.Cooldown - elapsed).String(),
			})
	case CircuitHalfOpen:
		if b.halfOpenAttempts >= b.config.HalfOpenMax {
			return schema.NewErrorf(schema.ErrCodeCircuitOpen,
				"circuit half-open for %s: trial call already in flight", b.name)
		}
		b.halfOpenAttempts++
	}
	return nil
}

// Success closes the circuit.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.halfOpenAttempts = 0
	b.state = CircuitClosed
}

// Failure records a failed call and returns the resulting state.
func (b *Breaker) Failure() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = b.now()
	if b.state == CircuitHalfOpen || b.failures >= b.config.FailureThreshold {
		b.state = CircuitOpen
	}
	return b.state
}

// State returns the current state.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == CircuitOpen && b.now().Sub(b.lastFailure) >= b.config.Cooldown {
		b.state = CircuitHalfOpen
		b.halfOpenAttempts = 0
	}
	return b.state
}
