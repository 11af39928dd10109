package resilience

import (
	"errors"
	"testing"
	"time"
)

func newTestGroup() *Group[string] {
	g := NewGroup("primary", "primary", CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour})
	g.Add("secondary", "secondary")
	return g
}

func TestGroup_PrimarySuccess(t *testing.T) {
	t.Parallel()
	g := newTestGroup()

	var called []string
	i, err := g.Execute(func(v string) error {
		called = append(called, v)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if i != 0 || len(called) != 1 || called[0] != "primary" {
		t.Fatalf("index %d, called %v", i, called)
	}
	if g.Len() != 2 || g.Primary() != "primary" {
		t.Errorf("Len=%d Primary=%q", g.Len(), g.Primary())
	}
}

func TestGroup_FailsOver(t *testing.T) {
	t.Parallel()
	g := newTestGroup()

	res, i, err := Do(g, func(v string) (string, error) {
		if v == "primary" {
			return "", errTest
		}
		return "served by " + v, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if i != 1 || res != "served by secondary" {
		t.Fatalf("index %d, result %q", i, res)
	}
}

func TestGroup_AllFail(t *testing.T) {
	t.Parallel()
	g := newTestGroup()

	_, err := g.Execute(func(string) error { return errTest })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, errTest) {
		t.Errorf("err = %v, should wrap the last failure", err)
	}
}

func TestGroup_SkipsOpenEntry(t *testing.T) {
	t.Parallel()
	g := newTestGroup()

	for range 2 {
		_, _ = g.Execute(func(v string) error {
			if v == "primary" {
				return errTest
			}
			return nil
		})
	}

	var called []string
	if _, err := g.Execute(func(v string) error {
		called = append(called, v)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if len(called) != 1 || called[0] != "secondary" {
		t.Errorf("called = %v, want only secondary", called)
	}
	if !g.Available() {
		t.Error("group should be available while secondary is closed")
	}
}

func TestGroup_Available(t *testing.T) {
	t.Parallel()
	g := newTestGroup()
	if !g.Available() {
		t.Fatal("fresh group should be available")
	}
	for range 2 {
		_, _ = g.Execute(func(string) error { return errTest })
	}
	if g.Available() {
		t.Error("group with every breaker open should be unavailable")
	}
}
