package cache

import (
	"context"
	"errors"
	"sync"
	"time"
)

type CircuitBreakerState int

const (
	CircuitBreakerClosed CircuitBreakerState = iota
	CircuitBreakerOpen
	CircuitBreakerHalfOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case CircuitBreakerOpen:
		return "open"
	case CircuitBreakerHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

var (
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")
	ErrTooManyRequests    = errors.New("too many requests")
)

type CircuitBreakerConfig struct {
	Name             string        `json:"name"`
	MaxFailures      int           `json:"max_failures"`
	Timeout          time.Duration `json:"timeout"`
	HalfOpenMaxCalls int           `json:"half_open_max_calls"`
	// OnStateChange is called outside the lock after every transition.
	OnStateChange func(name string, from, to CircuitBreakerState) `json:"-"`
}

func DefaultCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		Name:             "default",
		MaxFailures:      5,
		Timeout:          30 * time.Second,
		HalfOpenMaxCalls: 3,
	}
}

// CircuitBreaker stops calling a failing dependency for Timeout after
// MaxFailures consecutive failures, then lets up to HalfOpenMaxCalls probe
// calls through before closing again.
type CircuitBreaker struct {
	mu              sync.Mutex
	state           CircuitBreakerState
	failureCount    int
	successCount    int
	inFlight        int
	lastFailureTime time.Time

	name             string
	maxFailures      int
	timeout          time.Duration
	halfOpenMaxCalls int
	onStateChange    func(name string, from, to CircuitBreakerState)
	now              func() time.Time
}

func NewCircuitBreaker(config *CircuitBreakerConfig) *CircuitBreaker {
	if config == nil {
		config = DefaultCircuitBreakerConfig()
	}

	cb := &CircuitBreaker{
		state:            CircuitBreakerClosed,
		name:             config.Name,
		maxFailures:      config.MaxFailures,
		timeout:          config.Timeout,
		halfOpenMaxCalls: config.HalfOpenMaxCalls,
		onStateChange:    config.OnStateChange,
		now:              time.Now,
	}
	if cb.maxFailures < 1 {
		cb.maxFailures = 1
	}
	if cb.halfOpenMaxCalls < 1 {
		cb.halfOpenMaxCalls = 1
	}
	return cb
}

// Execute runs fn unless the breaker is open. Context cancellation is not
// counted against the dependency.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.before(); err != nil {
		return err
	}

	err := fn(ctx)

	switch {
	case err == nil:
		cb.after(true)
	case errors.Is(err, context.Canceled):
		cb.release()
	default:
		cb.after(false)
	}
	return err
}

func (cb *CircuitBreaker) before() error {
	cb.mu.Lock()

	from := cb.state
	switch cb.state {
	case CircuitBreakerOpen:
		if cb.now().Sub(cb.lastFailureTime) < cb.timeout {
			cb.mu.Unlock()
			return ErrCircuitBreakerOpen
		}
		cb.state = CircuitBreakerHalfOpen
		cb.successCount = 0
		cb.inFlight = 0
	case CircuitBreakerHalfOpen:
		if cb.inFlight+cb.successCount >= cb.halfOpenMaxCalls {
			cb.mu.Unlock()
			return ErrTooManyRequests
		}
	}
	if cb.state == CircuitBreakerHalfOpen {
		cb.inFlight++
	}
	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
	return nil
}

func (cb *CircuitBreaker) after(success bool) {
	cb.mu.Lock()

	from := cb.state
	if cb.state == CircuitBreakerHalfOpen && cb.inFlight > 0 {
		cb.inFlight--
	}

	if success {
		switch cb.state {
		case CircuitBreakerClosed:
			cb.failureCount = 0
		case CircuitBreakerHalfOpen:
			cb.successCount++
			if cb.successCount >= cb.halfOpenMaxCalls {
				cb.state = CircuitBreakerClosed
				cb.failureCount = 0
				cb.successCount = 0
			}
		}
	} else {
		cb.failureCount++
		cb.lastFailureTime = cb.now()
		switch cb.state {
		case CircuitBreakerClosed:
			if cb.failureCount >= cb.maxFailures {
				cb.state = CircuitBreakerOpen
			}
		case CircuitBreakerHalfOpen:
			cb.state = CircuitBreakerOpen
			cb.successCount = 0
		}
	}
	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
}

func (cb *CircuitBreaker) release() {
	cb.mu.Lock()
	if cb.state == CircuitBreakerHalfOpen && cb.inFlight > 0 {
		cb.inFlight--
	}
	cb.mu.Unlock()
}

func (cb *CircuitBreaker) notify(from, to CircuitBreakerState) {
	if from != to && cb.onStateChange != nil {
		cb.onStateChange(cb.name, from, to)
	}
}

func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) GetStats() map[string]interface{} {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return map[string]interface{}{
		"name":            cb.name,
		"state":           cb.state.String(),
		"failure_count":   cb.failureCount,
		"success_count":   cb.successCount,
		"last_failure":    cb.lastFailureTime.Unix(),
		"max_failures":    cb.maxFailures,
		"timeout_seconds": cb.timeout.Seconds(),
	}
}
