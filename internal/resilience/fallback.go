package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry of a [FallbackGroup] either
// failed or had an open breaker.
var ErrAllFailed = errors.New("resilience: all providers failed")

type entry[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// FallbackGroup chains a primary and zero or more fallback providers of the
// same role. Each entry carries its own [Breaker]; calls go to the first
// entry whose breaker admits them and that succeeds.
//
// FallbackGroup is safe for concurrent use once assembled. AddFallback is
// not synchronized; register every fallback before the first call.
type FallbackGroup[T any] struct {
	entries []entry[T]
	cfg     BreakerConfig
}

// NewFallbackGroup returns a group with the named primary as its first
// entry. cfg seeds every entry's breaker; the per-entry name overrides
// cfg.Name.
func NewFallbackGroup[T any](name string, primary T, cfg BreakerConfig) *FallbackGroup[T] {
	g := &FallbackGroup[T]{cfg: cfg}
	g.add(name, primary)
	return g
}

// AddFallback appends a provider tried after all earlier entries.
func (g *FallbackGroup[T]) AddFallback(name string, fallback T) {
	g.add(name, fallback)
}

func (g *FallbackGroup[T]) add(name string, v T) {
	cfg := g.cfg
	cfg.Name = name
	g.entries = append(g.entries, entry[T]{name: name, value: v, breaker: NewBreaker(cfg)})
}

// Names returns the entry names in call order.
func (g *FallbackGroup[T]) Names() []string {
	names := make([]string, len(g.entries))
	for i, e := range g.entries {
		names[i] = e.name
	}
	return names
}

// Execute tries fn against each entry in order until one succeeds. Entries
// with open breakers are skipped. When every entry fails the last error is
// wrapped in [ErrAllFailed].
func (g *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(g, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult tries fn against each entry of g in order until one
// succeeds, returning its result. A package-level function because methods
// cannot add type parameters.
func ExecuteWithResult[T, R any](g *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var lastErr error
	for i := range g.entries {
		e := &g.entries[i]
		var result R
		err := e.breaker.Execute(func() error {
			var callErr error
			result, callErr = fn(e.value)
			return callErr
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("resilience: provider skipped, circuit open", "provider", e.name)
		} else {
			slog.Warn("resilience: provider failed, trying next", "provider", e.name, "err", err)
		}
	}
	var zero R
	return zero, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}
