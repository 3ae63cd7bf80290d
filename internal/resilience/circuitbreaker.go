// Package resilience protects the caption pipeline from failing speech and
// translation backends.
//
// The central type is [CircuitBreaker], a three-state breaker
// (closed → open → half-open). When the whisper server or a translation API
// goes down, the breaker trips after a few consecutive failures and the
// pipeline workers stop burning their timeout budget on a dead backend;
// captioning resumes automatically once probe calls succeed again.
//
// [Transcriber] and [Translator] wrap the provider interfaces with a breaker
// each. All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrBackendDown is returned without calling the backend while its breaker is
// open and the cooldown has not yet elapsed.
var ErrBackendDown = errors.New("backend circuit open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrBackendDown] until the cooldown
	// elapses.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through. Enough
	// successes close the breaker; any failure re-opens it.
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

// BreakerConfig tunes a [CircuitBreaker]. Zero fields take defaults.
type BreakerConfig struct {
	// Name labels the breaker in log messages, e.g. "whisper".
	Name string

	// MaxFailures is how many consecutive failures trip the breaker.
	// Default: 3.
	MaxFailures int

	// Cooldown is how long the breaker stays open before probing.
	// Default: 15s.
	Cooldown time.Duration

	// ProbeSuccesses is how many consecutive half-open successes close the
	// breaker. Default: 2.
	ProbeSuccesses int
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.MaxFailures <= 0 {
		c.MaxFailures = 3
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 15 * time.Second
	}
	if c.ProbeSuccesses <= 0 {
		c.ProbeSuccesses = 2
	}
	return c
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu       sync.Mutex
	state    State
	failures int       // consecutive failures while closed
	probes   int       // consecutive successes while half-open
	openedAt time.Time // when the breaker last tripped
}

// BreakerOption customises a [CircuitBreaker].
type BreakerOption func(*CircuitBreaker)

// WithBreakerClock substitutes the time source. Tests use this to step
// through the cooldown without sleeping.
func WithBreakerClock(now func() time.Time) BreakerOption {
	return func(cb *CircuitBreaker) { cb.now = now }
}

// NewCircuitBreaker creates a closed breaker with the supplied configuration.
func NewCircuitBreaker(cfg BreakerConfig, opts ...BreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		cfg:   cfg.withDefaults(),
		now:   time.Now,
		state: StateClosed,
	}
	for _, o := range opts {
		o(cb)
	}
	return cb
}

// Execute runs fn if the breaker allows it. While open it returns
// [ErrBackendDown] without calling fn; after the cooldown one probe call at a
// time is let through.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.before(); err != nil {
		return err
	}
	err := fn()
	cb.after(err)
	return err
}

// before gates the call and performs the open → half-open transition.
func (cb *CircuitBreaker) before() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.openedAt) < cb.cfg.Cooldown {
			return ErrBackendDown
		}
		cb.state = StateHalfOpen
		cb.probes = 0
		slog.Info("circuit breaker probing backend", "name", cb.cfg.Name)
	}
	return nil
}

// after records the call outcome.
func (cb *CircuitBreaker) after(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.recordFailure()
		return
	}
	cb.recordSuccess()
}

// recordFailure must be called with cb.mu held.
func (cb *CircuitBreaker) recordFailure() {
	switch cb.state {
	case StateHalfOpen:
		// A failed probe re-opens immediately.
		cb.state = StateOpen
		cb.openedAt = cb.now()
		slog.Warn("circuit breaker re-opened", "name", cb.cfg.Name)

	case StateClosed:
		cb.failures++
		if cb.failures >= cb.cfg.MaxFailures {
			cb.state = StateOpen
			cb.openedAt = cb.now()
			slog.Warn("circuit breaker opened",
				"name", cb.cfg.Name,
				"consecutive_failures", cb.failures)
		}
	}
}

// recordSuccess must be called with cb.mu held.
func (cb *CircuitBreaker) recordSuccess() {
	switch cb.state {
	case StateHalfOpen:
		cb.probes++
		if cb.probes >= cb.cfg.ProbeSuccesses {
			cb.state = StateClosed
			cb.failures = 0
			slog.Info("circuit breaker closed", "name", cb.cfg.Name)
		}

	case StateClosed:
		cb.failures = 0
	}
}

// State reports the breaker state. An open breaker whose cooldown has elapsed
// reports [StateHalfOpen]; the actual transition happens on the next Execute.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.cfg.Cooldown {
		return StateHalfOpen
	}
	return cb.state
}
