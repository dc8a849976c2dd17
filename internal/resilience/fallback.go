package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// ErrAllFailed wraps the last error once every link in the chain has
// failed or was skipped by its breaker.
var ErrAllFailed = errors.New("resilience: all providers failed")

// FallbackConfig configures a [FallbackGroup].
type FallbackConfig struct {
	// CircuitBreaker is copied for every link; Name is set to the link's name.
	CircuitBreaker CircuitBreakerConfig

	// OnAttempt observes each call that reached a provider. Calls refused
	// by an open breaker are not reported.
	OnAttempt func(name string, err error)
}

type link[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup is an ordered chain of interchangeable values. Calls go to
// the first link whose breaker admits them and move down the chain on
// failure.
type FallbackGroup[T any] struct {
	cfg FallbackConfig

	mu    sync.RWMutex
	chain []*link[T] // replaced, never mutated in place
}

// NewFallbackGroup starts a chain with primary at its head.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends v to the end of the chain.
func (fg *FallbackGroup[T]) AddFallback(name string, v T) {
	bc := fg.cfg.CircuitBreaker
	bc.Name = name
	l := &link[T]{name: name, value: v, breaker: NewCircuitBreaker(bc)}

	fg.mu.Lock()
	fg.chain = append(slices.Clip(fg.chain), l)
	fg.mu.Unlock()
}

func (fg *FallbackGroup[T]) links() []*link[T] {
	fg.mu.RLock()
	defer fg.mu.RUnlock()
	return fg.chain
}

// Names lists the links in call order.
func (fg *FallbackGroup[T]) Names() []string {
	var names []string
	for _, l := range fg.links() {
		names = append(names, l.name)
	}
	return names
}

// States maps each link name to its breaker state.
func (fg *FallbackGroup[T]) States() map[string]State {
	chain := fg.links()
	states := make(map[string]State, len(chain))
	for _, l := range chain {
		states[l.name] = l.breaker.State()
	}
	return states
}

// Primary is the head of the chain.
func (fg *FallbackGroup[T]) Primary() T { return fg.links()[0].value }

// Each visits the links in call order.
func (fg *FallbackGroup[T]) Each(fn func(name string, v T)) {
	for _, l := range fg.links() {
		fn(l.name, l.value)
	}
}

// Execute is [ExecuteWithResult] for calls without a result.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult walks the chain until fn succeeds. A cancelled context
// stops the walk and is returned as is; otherwise exhausting the chain
// yields [ErrAllFailed] wrapping the last error.
func ExecuteWithResult[T any, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for _, l := range fg.links() {
		res, err := call(l, fn)
		skipped := errors.Is(err, ErrCircuitOpen)
		if !skipped && fg.cfg.OnAttempt != nil {
			fg.cfg.OnAttempt(l.name, err)
		}

		switch {
		case err == nil:
			return res, nil
		case errors.Is(err, context.Canceled):
			return zero, err
		case skipped:
			slog.Debug("resilience: breaker open, skipping", "provider", l.name)
		default:
			slog.Warn("resilience: provider failed, falling back", "provider", l.name, "err", err)
		}
		lastErr = err
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}

func call[T, R any](l *link[T], fn func(T) (R, error)) (R, error) {
	var res R
	err := l.breaker.Execute(func() (err error) {
		res, err = fn(l.value)
		return err
	})
	return res, err
}
