package respond

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/MrWong99/voxa/internal/intent"
)

// RandomSource draws a uniformly distributed index in [0, n).
// *rand.Rand from math/rand/v2 satisfies it.
type RandomSource interface {
	IntN(n int) int
}

// Clock returns the current instant.
type Clock func() time.Time

// globalRand adapts the math/rand/v2 top-level functions to [RandomSource].
type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

// Option configures a [Selector].
type Option func(*Selector)

// WithRandom sets the random source used to pick phrases.
func WithRandom(r RandomSource) Option {
	return func(s *Selector) {
		if r != nil {
			s.rng = r
		}
	}
}

// WithClock sets the clock read by computed replies.
func WithClock(c Clock) Option {
	return func(s *Selector) {
		if c != nil {
			s.now = c
		}
	}
}

// Selector produces reply text for a category. It reads the clock at
// selection time, so computed replies reflect when the reply was generated
// rather than when the transcript was captured.
//
// A Selector is safe for concurrent use if its RandomSource is.
type Selector struct {
	catalog Catalog
	rng     RandomSource
	now     Clock
}

// NewSelector validates catalog and returns a Selector over it.
func NewSelector(catalog Catalog, opts ...Option) (*Selector, error) {
	if err := catalog.Validate(); err != nil {
		return nil, err
	}
	s := &Selector{
		catalog: catalog,
		rng:     globalRand{},
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Select returns the reply for category. Unknown categories fall back to the
// [intent.Default] entry.
func (s *Selector) Select(category intent.Category) string {
	e, ok := s.catalog[category]
	if !ok {
		e = s.catalog[intent.Default]
	}
	if e.Compute != nil {
		return e.Compute(s.now())
	}
	return e.Phrases[s.rng.IntN(len(e.Phrases))]
}

// Phrases returns the candidate list for category, or nil for computed
// categories.
func (s *Selector) Phrases(category intent.Category) []string {
	e := s.catalog[category]
	if len(e.Phrases) == 0 {
		return nil
	}
	out := make([]string, len(e.Phrases))
	copy(out, e.Phrases)
	return out
}

// MustSelector is like [NewSelector] but panics on an invalid catalog. Use it
// only with catalogs fixed at build time.
func MustSelector(catalog Catalog, opts ...Option) *Selector {
	s, err := NewSelector(catalog, opts...)
	if err != nil {
		panic(fmt.Sprintf("respond: %v", err))
	}
	return s
}
