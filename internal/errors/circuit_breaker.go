package errors

import (
	"errors"
	"sync"
	"time"
)

// Breaker defaults used when NewCircuitBreaker receives zero values.
const (
	ErrorThreshold      = 0.5
	MinRequests         = 10
	TimeoutDuration     = 30 * time.Second
	HalfOpenMaxRequests = 3
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

var (
	ErrCircuitOpen             = errors.New("circuit breaker is open")
	errHalfOpenTooManyRequests = errors.New("too many requests in half-open")
)

// BreakerSettings tunes a CircuitBreaker.
type BreakerSettings struct {
	ErrorThreshold float64
	MinRequests    int
	OpenTimeout    time.Duration
	HalfOpenMax    int
	// OnStateChange, when set, is invoked outside the lock after every transition.
	OnStateChange func(from, to State)
}

// CircuitBreaker stops calling a failing dependency once its error rate crosses the threshold.
type CircuitBreaker struct {
	mu              sync.Mutex
	settings        BreakerSettings
	state           State
	failures        int
	successes       int
	requests        int
	lastFailureTime time.Time
	now             func() time.Time
}

func NewCircuitBreaker(settings BreakerSettings) *CircuitBreaker {
	if settings.ErrorThreshold <= 0 {
		settings.ErrorThreshold = ErrorThreshold
	}
	if settings.MinRequests <= 0 {
		settings.MinRequests = MinRequests
	}
	if settings.OpenTimeout <= 0 {
		settings.OpenTimeout = TimeoutDuration
	}
	if settings.HalfOpenMax <= 0 {
		settings.HalfOpenMax = HalfOpenMaxRequests
	}

	return &CircuitBreaker{
		settings: settings,
		state:    StateClosed,
		now:      time.Now,
	}
}

// Call runs fn unless the breaker is open. Errors returned by fn count as failures.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if fn == nil {
		return nil
	}

	cb.mu.Lock()
	reopened := false
	if cb.state == StateOpen {
		if cb.now().Sub(cb.lastFailureTime) < cb.settings.OpenTimeout {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.resetCountersLocked()
		reopened = true
	}

	if cb.state == StateHalfOpen && cb.requests >= cb.settings.HalfOpenMax {
		cb.mu.Unlock()
		return errHalfOpenTooManyRequests
	}
	cb.requests++
	cb.mu.Unlock()

	if reopened {
		cb.notify(StateOpen, StateHalfOpen)
	}

	callErr := fn()

	cb.mu.Lock()
	before := cb.state
	if callErr != nil {
		cb.failures++
		if cb.state == StateHalfOpen || cb.errorRateExceededLocked() {
			cb.tripLocked()
		}
	} else {
		cb.successes++
		if cb.state == StateHalfOpen && cb.successes >= cb.settings.HalfOpenMax {
			cb.state = StateClosed
			cb.resetCountersLocked()
		}
	}
	after := cb.state
	cb.mu.Unlock()

	cb.notify(before, after)

	return callErr
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) errorRateExceededLocked() bool {
	if cb.requests < cb.settings.MinRequests {
		return false
	}

	return float64(cb.failures)/float64(cb.requests) >= cb.settings.ErrorThreshold
}

func (cb *CircuitBreaker) resetCountersLocked() {
	cb.failures = 0
	cb.successes = 0
	cb.requests = 0
}

func (cb *CircuitBreaker) tripLocked() {
	cb.state = StateOpen
	cb.lastFailureTime = cb.now()
	cb.resetCountersLocked()
}

func (cb *CircuitBreaker) notify(from, to State) {
	if from == to || cb.settings.OnStateChange == nil {
		return
	}
	cb.settings.OnStateChange(from, to)
}
