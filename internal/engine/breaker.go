package engine

import (
	"context"
	"sync"
	"time"
)

// BreakerState 熔断器状态
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// BreakerConfig holds the thresholds of one circuit breaker.
type BreakerConfig struct {
	FailureThreshold  int           // consecutive failures before tripping
	ResetTimeout      time.Duration // how long OPEN rejects before a trial
	HalfOpenSuccesses int           // trial successes required to close
}

// DefaultBreakerConfig returns the production defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:  5,
		ResetTimeout:      60 * time.Second,
		HalfOpenSuccesses: 3,
	}
}

// CircuitBreaker wraps a single fallible operation category and
// short-circuits calls while the dependency is known bad.
//
// State machine:
//
//	CLOSED    → operation runs; failureThreshold consecutive failures → OPEN
//	OPEN      → rejects with ErrCircuitOpen until ResetTimeout elapses,
//	            then lets one trial through (HALF_OPEN)
//	HALF_OPEN → HalfOpenSuccesses consecutive successes → CLOSED;
//	            any failure → back to OPEN with a fresh lastFailureTime
//
// failureCount is only fully reset on the transition back to CLOSED, so a
// failure during HALF_OPEN is already at the threshold and re-trips
// immediately. The breaker holds no business data; its only side effects
// are the state-change log/metric events.
type CircuitBreaker struct {
	name  string
	cfg   BreakerConfig
	clock Clock

	mu              sync.Mutex
	state           BreakerState
	failureCount    int
	successCount    int // meaningful only in HALF_OPEN
	lastFailureTime time.Time

	onStateChange func(name string, from, to BreakerState)
	metrics       *Metrics
}

// BreakerOption configures a CircuitBreaker.
type BreakerOption func(*CircuitBreaker)

// WithBreakerClock injects a clock (tests).
func WithBreakerClock(c Clock) BreakerOption {
	return func(cb *CircuitBreaker) { cb.clock = c }
}

// WithStateChangeHook registers an observer for state transitions.
func WithStateChangeHook(fn func(name string, from, to BreakerState)) BreakerOption {
	return func(cb *CircuitBreaker) { cb.onStateChange = fn }
}

// NewCircuitBreaker creates a breaker in the CLOSED state.
func NewCircuitBreaker(name string, cfg BreakerConfig, opts ...BreakerOption) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 60 * time.Second
	}
	if cfg.HalfOpenSuccesses <= 0 {
		cfg.HalfOpenSuccesses = 3
	}
	cb := &CircuitBreaker{
		name:    name,
		cfg:     cfg,
		clock:   SystemClock,
		state:   StateClosed,
		metrics: GetMetrics(),
	}
	for _, opt := range opts {
		opt(cb)
	}
	cb.metrics.BreakerState.WithLabelValues(name).Set(0)
	return cb
}

// Execute runs op under breaker protection. While the breaker is OPEN it
// returns ErrCircuitOpen without invoking op; otherwise it surfaces op's
// own error unchanged.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	if err := cb.beforeCall(); err != nil {
		return err
	}

	err := op(ctx)
	cb.afterCall(err)
	return err
}

func (cb *CircuitBreaker) beforeCall() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateOpen {
		return nil
	}
	if cb.clock.Now().Sub(cb.lastFailureTime) < cb.cfg.ResetTimeout {
		return ErrCircuitOpen
	}
	// Cooldown elapsed: let the call through as a trial.
	cb.transitionLocked(StateHalfOpen)
	cb.successCount = 0
	return nil
}

func (cb *CircuitBreaker) afterCall(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		switch cb.state {
		case StateHalfOpen:
			cb.successCount++
			if cb.successCount >= cb.cfg.HalfOpenSuccesses {
				cb.transitionLocked(StateClosed)
				cb.failureCount = 0
				cb.successCount = 0
			}
		case StateClosed:
			cb.failureCount = 0
		}
		return
	}

	cb.failureCount++
	cb.lastFailureTime = cb.clock.Now()

	switch cb.state {
	case StateClosed:
		if cb.failureCount >= cb.cfg.FailureThreshold {
			cb.transitionLocked(StateOpen)
		}
	case StateHalfOpen:
		// failureCount was never cleared on entry to OPEN, so one trial
		// failure re-trips immediately.
		cb.transitionLocked(StateOpen)
	}
}

// transitionLocked moves to the target state and emits observability
// events. Caller holds cb.mu.
func (cb *CircuitBreaker) transitionLocked(to BreakerState) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to

	LogBreakerStateChange(cb.name, from, to)
	cb.metrics.BreakerState.WithLabelValues(cb.name).Set(float64(to))
	if to == StateOpen {
		cb.metrics.BreakerTrips.WithLabelValues(cb.name).Inc()
	}
	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, from, to)
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// BreakerCounts is a read snapshot of the breaker's counters.
type BreakerCounts struct {
	State           BreakerState
	FailureCount    int
	SuccessCount    int
	LastFailureTime time.Time
}

// Counts returns a snapshot of the internal counters.
func (cb *CircuitBreaker) Counts() BreakerCounts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return BreakerCounts{
		State:           cb.state,
		FailureCount:    cb.failureCount,
		SuccessCount:    cb.successCount,
		LastFailureTime: cb.lastFailureTime,
	}
}

// Reset forces the breaker back to CLOSED and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionLocked(StateClosed)
	cb.failureCount = 0
	cb.successCount = 0
	cb.lastFailureTime = time.Time{}
}
