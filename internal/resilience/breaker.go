package resilience

import (
	"sync/atomic"
	"time"
)

// BreakerState represents the state of the circuit breaker
type BreakerState int32

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
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

// BreakerConfig holds configuration for the circuit breaker
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening
	RecoveryTimeout  time.Duration // time to wait before attempting recovery
	SuccessThreshold int           // successes needed to close again
}

// Breaker implements a circuit breaker around external service calls. It
// trips open after FailureThreshold consecutive failures and probes again
// after RecoveryTimeout.
type Breaker struct {
	config      BreakerConfig
	state       int32
	failures    int32
	successes   int32
	nextAttempt atomic.Int64 // unix nanos
}

// NewBreaker creates a circuit breaker, filling in defaults for zero fields.
func NewBreaker(config BreakerConfig) *Breaker {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout == 0 {
		config.RecoveryTimeout = 30 * time.Second
	}
	if config.SuccessThreshold == 0 {
		config.SuccessThreshold = 3
	}
	return &Breaker{config: config, state: int32(StateClosed)}
}

// Call executes fn with circuit breaker protection.
func (b *Breaker) Call(fn func() error) error {
	state := BreakerState(atomic.LoadInt32(&b.state))

	if state == StateOpen {
		if time.Now().UnixNano() < b.nextAttempt.Load() {
			return &OpenError{State: state}
		}
		atomic.StoreInt32(&b.state, int32(StateHalfOpen))
		atomic.StoreInt32(&b.successes, 0)
	}

	if err := fn(); err != nil {
		b.onFailure()
		return err
	}
	b.onSuccess()
	return nil
}

func (b *Breaker) onFailure() {
	failures := atomic.AddInt32(&b.failures, 1)
	atomic.StoreInt32(&b.successes, 0)

	if failures >= int32(b.config.FailureThreshold) {
		atomic.StoreInt32(&b.state, int32(StateOpen))
		b.nextAttempt.Store(time.Now().Add(b.config.RecoveryTimeout).UnixNano())
	}
}

func (b *Breaker) onSuccess() {
	atomic.StoreInt32(&b.failures, 0)

	if BreakerState(atomic.LoadInt32(&b.state)) == StateHalfOpen {
		if atomic.AddInt32(&b.successes, 1) >= int32(b.config.SuccessThreshold) {
			atomic.StoreInt32(&b.state, int32(StateClosed))
		}
	}
}

// State returns the current state of the breaker.
func (b *Breaker) State() BreakerState {
	return BreakerState(atomic.LoadInt32(&b.state))
}

// Reset forces the breaker back to closed.
func (b *Breaker) Reset() {
	atomic.StoreInt32(&b.state, int32(StateClosed))
	atomic.StoreInt32(&b.failures, 0)
	atomic.StoreInt32(&b.successes, 0)
}

// OpenError is returned when a call is rejected because the breaker is open.
type OpenError struct {
	State BreakerState
}

func (e *OpenError) Error() string {
	return "circuit breaker is " + e.State.String()
}
