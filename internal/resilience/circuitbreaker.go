// Package resilience keeps corrections flowing when a model backend fails.
//
// Every model in the chain sits behind a [CircuitBreaker]. [FallbackGroup]
// walks the chain in order and skips models whose breaker is open, and
// [LLMFallback] exposes the chain as a single [llm.Provider].
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without calling through while a breaker is
// open, or while its half-open probe slots are taken.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// State is the mode of a [CircuitBreaker].
type State int

const (
	StateClosed   State = iota // calls pass
	StateOpen                  // calls fail fast with ErrCircuitOpen
	StateHalfOpen              // a few probe calls decide
)

var stateNames = [...]string{
	StateClosed:   "closed",
	StateOpen:     "open",
	StateHalfOpen: "half-open",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero fields take the
// defaults noted on each.
type CircuitBreakerConfig struct {
	Name string // log label, usually the provider name

	MaxFailures  int           // consecutive failures that open it; 5
	ResetTimeout time.Duration // time spent open before probing; 30s
	HalfOpenMax  int           // successful probes that close it; 3

	// IsFailure filters errors. Default: all but context.Canceled, so a
	// user abandoning a check never trips the model's breaker.
	IsFailure func(error) bool

	Now func() time.Time
}

func (c *CircuitBreakerConfig) setDefaults() {
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.HalfOpenMax <= 0 {
		c.HalfOpenMax = 3
	}
	if c.IsFailure == nil {
		c.IsFailure = func(err error) bool { return !errors.Is(err, context.Canceled) }
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// CircuitBreaker guards one model backend.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu       sync.Mutex
	state    State
	failures int       // consecutive, closed state only
	openedAt time.Time // when the breaker last opened
	probes   int       // half-open calls admitted
	passed   int       // half-open calls that succeeded
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	cfg.setDefaults()
	return &CircuitBreaker{cfg: cfg}
}

// Execute calls fn unless the breaker refuses, and feeds the result back.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn()
	cb.settle(probe, err)
	return err
}

// admit decides whether a call may go through and whether it is a
// half-open probe.
func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateClosed {
		return false, nil
	}
	if cb.state == StateOpen {
		if cb.cfg.Now().Sub(cb.openedAt) < cb.cfg.ResetTimeout {
			return false, ErrCircuitOpen
		}
		cb.state, cb.probes, cb.passed = StateHalfOpen, 0, 0
		slog.Info("resilience: breaker half-open", "name", cb.cfg.Name)
	}
	if cb.probes >= cb.cfg.HalfOpenMax {
		return false, ErrCircuitOpen
	}
	cb.probes++
	return true, nil
}

// settle records the result of an admitted call.
func (cb *CircuitBreaker) settle(probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	failed := err != nil && cb.cfg.IsFailure(err)

	if !probe {
		switch {
		case failed:
			cb.failures++
			if cb.failures >= cb.cfg.MaxFailures {
				cb.open()
				slog.Warn("resilience: breaker opened", "name", cb.cfg.Name, "failures", cb.failures, "err", err)
			}
		case err == nil:
			cb.failures = 0
		}
		return
	}

	// A sibling probe may already have reopened or closed the breaker.
	if cb.state != StateHalfOpen {
		return
	}
	switch {
	case failed:
		cb.open()
		slog.Warn("resilience: probe failed, breaker reopened", "name", cb.cfg.Name, "err", err)
	case err != nil:
		cb.probes-- // ignored error, the slot is reused
	default:
		cb.passed++
		if cb.passed >= cb.cfg.HalfOpenMax {
			cb.state, cb.failures = StateClosed, 0
			slog.Info("resilience: breaker closed", "name", cb.cfg.Name)
		}
	}
}

// open trips the breaker. cb.mu must be held.
func (cb *CircuitBreaker) open() {
	cb.state = StateOpen
	cb.openedAt = cb.cfg.Now()
	cb.failures = cb.cfg.MaxFailures
}

// State reports the current mode. An open breaker past its reset timeout
// reads as half-open even before the next call moves it there.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.cfg.Now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset closes the breaker and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state, cb.failures, cb.probes, cb.passed = StateClosed, 0, 0, 0
	slog.Info("resilience: breaker reset", "name", cb.cfg.Name)
}
