package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry of a [Group] failed or had an
// open breaker.
var ErrAllFailed = errors.New("resilience: all providers failed")

type entry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// Group holds a primary and zero or more fallback instances of one provider
// type, each behind its own [CircuitBreaker]. Entries are tried in the order
// they were added.
//
// Entries must all be added before the group is shared between goroutines.
type Group[T any] struct {
	entries []entry[T]
	cfg     CircuitBreakerConfig
}

// NewGroup returns a group whose first entry is primary. cfg is the template
// for every entry's breaker; its Name is replaced by the entry name.
func NewGroup[T any](primaryName string, primary T, cfg CircuitBreakerConfig) *Group[T] {
	g := &Group[T]{cfg: cfg}
	g.Add(primaryName, primary)
	return g
}

// Add appends a fallback entry.
func (g *Group[T]) Add(name string, value T) {
	cfg := g.cfg
	cfg.Name = name
	g.entries = append(g.entries, entry[T]{name: name, value: value, breaker: NewCircuitBreaker(cfg)})
}

// Len returns the number of entries.
func (g *Group[T]) Len() int { return len(g.entries) }

// Primary returns the first entry.
func (g *Group[T]) Primary() T { return g.entries[0].value }

// Available reports whether at least one entry's breaker would accept a call.
func (g *Group[T]) Available() bool {
	for i := range g.entries {
		if g.entries[i].breaker.State() != StateOpen {
			return true
		}
	}
	return false
}

// ReportFailure records a late failure against the breaker of entry i, the
// index returned by [Do].
func (g *Group[T]) ReportFailure(i int) {
	if i >= 0 && i < len(g.entries) {
		g.entries[i].breaker.RecordFailure()
	}
}

// Execute calls fn on each entry in order until one succeeds. It returns the
// index of the entry that succeeded.
func (g *Group[T]) Execute(fn func(T) error) (int, error) {
	_, i, err := Do(g, func(v T) (struct{}, error) { return struct{}{}, fn(v) })
	return i, err
}

// Do calls fn on each entry of g in order until one succeeds, returning its
// result and the index of the entry that produced it. Entries with an open
// breaker are skipped. When every entry fails, the error wraps
// [ErrAllFailed] and the last failure.
func Do[T, R any](g *Group[T], fn func(T) (R, error)) (R, int, error) {
	var (
		zero    R
		lastErr error
	)
	for i := range g.entries {
		e := &g.entries[i]
		var res R
		err := e.breaker.Execute(func() error {
			var err error
			res, err = fn(e.value)
			return err
		})
		if err == nil {
			if i > 0 {
				slog.Debug("served by fallback provider", "provider", e.name)
			}
			return res, i, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping provider (circuit open)", "provider", e.name)
		} else {
			slog.Warn("provider failed, trying next", "provider", e.name, "err", err)
		}
	}
	return zero, -1, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
