// Package resilience provides the fault-tolerance primitives used around
// search-engine calls: exponential-backoff retry, a circuit breaker, and a
// deadline wrapper.
package resilience

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Allow while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the phase of a circuit breaker. The numeric values are exported
// as the circuit_breaker_state gauge.
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

// CircuitBreakerConfig controls when the breaker trips and how it probes for
// recovery.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// circuit. Defaults to 5.
	FailureThreshold int
	// ResetTimeout is how long the circuit stays open before a probe is let
	// through. Defaults to 30s.
	ResetTimeout time.Duration
	// HalfOpenMaxRequests bounds concurrent probes. Defaults to 1.
	HalfOpenMaxRequests int

	// OnStateChange observes every transition. It runs with the breaker's
	// lock held and must not call back into the breaker.
	OnStateChange func(name string, from, to State)
}

// Snapshot is a point-in-time view of a breaker.
type Snapshot struct {
	State               State
	ConsecutiveFailures int
	OpenedAt            time.Time
}

// CircuitBreaker counts consecutive failures reported through Record and
// opens once they reach the threshold. After ResetTimeout it lets a limited
// number of probes through; one success closes it, one failure reopens it.
type CircuitBreaker struct {
	name   string
	cfg    CircuitBreakerConfig
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probes   int
}

// NewCircuitBreaker creates a closed breaker, filling in defaults for zero
// config values.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = 1
	}
	return &CircuitBreaker{
		name:   name,
		cfg:    cfg,
		logger: slog.Default().With("component", "circuit-breaker", "breaker", name),
		now:    time.Now,
	}
}

// Name returns the name the breaker was created with.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Allow reports whether a call may proceed. Every nil return must be paired
// with exactly one Record.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		wait := cb.cfg.ResetTimeout - cb.now().Sub(cb.openedAt)
		if wait > 0 {
			return fmt.Errorf("%w: %s (retry in %v)", ErrCircuitOpen, cb.name, wait.Round(time.Millisecond))
		}
		cb.transition(StateHalfOpen)
		cb.probes = 1
		cb.logger.Info("circuit half-open, probing")
	case StateHalfOpen:
		if cb.probes >= cb.cfg.HalfOpenMaxRequests {
			return fmt.Errorf("%w: %s (probe in flight)", ErrCircuitOpen, cb.name)
		}
		cb.probes++
	}
	return nil
}

// Record reports the outcome of a call admitted by Allow. Only failures
// that indicate an unhealthy dependency should be recorded as failed.
func (cb *CircuitBreaker) Record(failed bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if !failed {
		if cb.state == StateHalfOpen {
			cb.logger.Info("circuit closed after successful probe")
		}
		cb.failures = 0
		cb.probes = 0
		cb.transition(StateClosed)
		return
	}

	cb.failures++
	switch cb.state {
	case StateHalfOpen:
		cb.open()
		cb.logger.Warn("probe failed, circuit reopened")
	case StateClosed:
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.open()
			cb.logger.Warn("circuit opened", "consecutive_failures", cb.failures)
		}
	}
}

// Execute runs fn through Allow and Record, counting any error as a failure.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.Allow(); err != nil {
		return err
	}
	err := fn()
	cb.Record(err != nil)
	return err
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Snapshot returns the current state and failure count.
func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Snapshot{State: cb.state, ConsecutiveFailures: cb.failures, OpenedAt: cb.openedAt}
}

// Reset forces the breaker closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.probes = 0
	cb.transition(StateClosed)
}

func (cb *CircuitBreaker) open() {
	cb.openedAt = cb.now()
	cb.probes = 0
	cb.transition(StateOpen)
}

func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.name, from, to)
	}
}
