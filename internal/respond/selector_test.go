package respond

import (
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voxa/internal/intent"
)

// fixedRand always returns the same index, clamped to n-1.
type fixedRand struct{ idx int }

func (f fixedRand) IntN(n int) int {
	if f.idx >= n {
		return n - 1
	}
	return f.idx
}

// seqRand returns successive indexes modulo n.
type seqRand struct{ next int }

func (s *seqRand) IntN(n int) int {
	v := s.next % n
	s.next++
	return v
}

func TestDefaultCatalog_Valid(t *testing.T) {
	t.Parallel()
	if err := DefaultCatalog().Validate(); err != nil {
		t.Fatalf("DefaultCatalog().Validate() = %v", err)
	}
}

func TestCatalog_ValidateRejectsBadEntries(t *testing.T) {
	t.Parallel()

	c := DefaultCatalog()
	c[intent.Joke] = Entry{}
	c[intent.Time] = Entry{Phrases: []string{"x"}, Compute: FormatTime}
	delete(c, intent.Name)

	err := c.Validate()
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	for _, want := range []string{"joke", "time", "name"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %q, got: %v", want, err)
		}
	}
	if _, err := NewSelector(c); err == nil {
		t.Error("NewSelector should reject an invalid catalog")
	}
}

func TestSelect_PhraseMembership(t *testing.T) {
	t.Parallel()
	s := MustSelector(DefaultCatalog(), WithRandom(&seqRand{}))

	for _, cat := range []intent.Category{intent.GreetingQuery, intent.Weather, intent.Joke, intent.Name, intent.Farewell, intent.Default} {
		phrases := s.Phrases(cat)
		if len(phrases) != 4 {
			t.Fatalf("%v: %d phrases, want 4", cat, len(phrases))
		}
		for range 20 {
			got := s.Select(cat)
			if !slices.Contains(phrases, got) {
				t.Errorf("Select(%v) = %q, not in candidate list", cat, got)
			}
		}
	}
}

func TestSelect_DeterministicWithFixedRandom(t *testing.T) {
	t.Parallel()
	s := MustSelector(DefaultCatalog(), WithRandom(fixedRand{idx: 2}))

	want := s.Phrases(intent.Weather)[2]
	for range 5 {
		if got := s.Select(intent.Weather); got != want {
			t.Errorf("Select(weather) = %q, want %q", got, want)
		}
	}
}

func TestSelect_HelloIsFixed(t *testing.T) {
	t.Parallel()
	s := MustSelector(DefaultCatalog(), WithRandom(&seqRand{next: 3}))
	if got := s.Select(intent.Hello); got != HelloReply {
		t.Errorf("Select(hello) = %q, want %q", got, HelloReply)
	}
	if HelloReply != "Hello there! How can I help you today?" {
		t.Errorf("HelloReply = %q", HelloReply)
	}
}

func TestSelect_ComputedUsesInjectedClock(t *testing.T) {
	t.Parallel()

	instants := []time.Time{
		time.Date(2024, time.March, 5, 14, 7, 9, 0, time.UTC),
		time.Date(2025, time.December, 31, 0, 30, 0, 0, time.UTC),
	}
	i := 0
	s := MustSelector(DefaultCatalog(), WithClock(func() time.Time { return instants[i] }))

	if got := s.Select(intent.Time); got != "The current time is 2:07:09 PM" {
		t.Errorf("Select(time) = %q", got)
	}
	if got := s.Select(intent.Date); got != "Today is 3/5/2024" {
		t.Errorf("Select(date) = %q", got)
	}

	i = 1
	if got := s.Select(intent.Time); got != "The current time is 12:30:00 AM" {
		t.Errorf("Select(time) = %q", got)
	}
	if got := s.Select(intent.Date); got != "Today is 12/31/2025" {
		t.Errorf("Select(date) = %q", got)
	}
	if s.Phrases(intent.Time) != nil {
		t.Error("Phrases(time) should be nil for a computed entry")
	}
}

func TestSelect_ClockReadAtSelection(t *testing.T) {
	t.Parallel()
	calls := 0
	s := MustSelector(DefaultCatalog(), WithClock(func() time.Time {
		calls++
		return time.Date(2024, 1, 1, 9, 0, calls, 0, time.UTC)
	}))
	a := s.Select(intent.Time)
	b := s.Select(intent.Time)
	if a == b {
		t.Errorf("consecutive selections at different instants should differ, both %q", a)
	}
	if calls != 2 {
		t.Errorf("clock read %d times, want 2", calls)
	}
}

func TestScenario_Joke(t *testing.T) {
	t.Parallel()
	s := MustSelector(DefaultCatalog())
	cat := intent.Match("tell me a joke")
	if cat != intent.Joke {
		t.Fatalf("category = %v, want joke", cat)
	}
	if got := s.Select(cat); !slices.Contains(DefaultCatalog()[intent.Joke].Phrases, got) {
		t.Errorf("reply %q not a joke", got)
	}
}

func TestScenario_SometimeFallsToDefault(t *testing.T) {
	t.Parallel()
	s := MustSelector(DefaultCatalog())
	cat := intent.Match("what time is it, maybe sometime later")
	if cat != intent.Default {
		t.Fatalf("category = %v, want default", cat)
	}
	if got := s.Select(cat); !slices.Contains(DefaultCatalog()[intent.Default].Phrases, got) {
		t.Errorf("reply %q not from the default list", got)
	}
}

func TestScenario_HiThere(t *testing.T) {
	t.Parallel()
	s := MustSelector(DefaultCatalog())
	cat := intent.Match("hi there")
	if cat != intent.Hello {
		t.Fatalf("category = %v, want hello", cat)
	}
	if got := s.Select(cat); got != "Hello there! How can I help you today?" {
		t.Errorf("reply = %q", got)
	}
}
