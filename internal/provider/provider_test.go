package provider

import (
	"context"
	"testing"

	"digestbot/internal/feed"
)

type stubSource struct{ name string }

func (s stubSource) Name() string { return s.name }

func (s stubSource) Fetch(context.Context) ([]feed.Item, error) { return nil, nil }

func newTestRegistry(t *testing.T, names ...string) *Registry {
	t.Helper()
	r := NewRegistry()
	for _, n := range names {
		if err := r.Register(stubSource{name: n}); err != nil {
			t.Fatalf("Register(%q): %v", n, err)
		}
	}
	return r
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := newTestRegistry(t, "bbc")
	if err := r.Register(stubSource{name: "BBC"}); err == nil {
		t.Fatalf("expected duplicate error for case-insensitive name")
	}
	if err := r.Register(stubSource{name: "  "}); err == nil {
		t.Fatalf("expected error for empty name")
	}
}

func TestSelectAllByDefault(t *testing.T) {
	r := newTestRegistry(t, "bbc", "ap", "wired")
	got, err := r.Select(nil, nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 sources, got %d", len(got))
	}
	// Names() sorts, so selection order is stable.
	if got[0].Name() != "ap" || got[1].Name() != "bbc" || got[2].Name() != "wired" {
		t.Fatalf("unexpected order: %s %s %s", got[0].Name(), got[1].Name(), got[2].Name())
	}
}

func TestSelectIncludeIsExact(t *testing.T) {
	r := newTestRegistry(t, "bbc", "ap")
	got, err := r.Select([]string{"BBC"}, nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(got) != 1 || got[0].Name() != "bbc" {
		t.Fatalf("expected only bbc, got %d sources", len(got))
	}

	if _, err := r.Select([]string{"nope"}, nil); err == nil {
		t.Fatalf("expected error for unknown include name")
	}
}

func TestSelectExclude(t *testing.T) {
	r := newTestRegistry(t, "bbc", "ap")
	got, err := r.Select(nil, []string{"ap", "unknown-is-ignored"})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(got) != 1 || got[0].Name() != "bbc" {
		t.Fatalf("expected bbc only, got %d", len(got))
	}
}
