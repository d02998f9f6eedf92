// Package provider defines content sources and their registry.
//
// A source is selected by name at startup; an unknown name is a configuration
// error, never a crash deep in the pipeline.
package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"digestbot/internal/feed"
)

// Source pulls fresh items from one upstream content source.
// Fetch takes no arguments and returns everything the source currently
// offers; the pipeline applies limiting and filtering afterwards.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]feed.Item, error)
}

// Registry maps source names to implementations.
type Registry struct {
	sources map[string]Source
}

func NewRegistry() *Registry {
	return &Registry{sources: map[string]Source{}}
}

func (r *Registry) Register(s Source) error {
	name := strings.ToLower(strings.TrimSpace(s.Name()))
	if name == "" {
		return fmt.Errorf("source with empty name")
	}
	if _, ok := r.sources[name]; ok {
		return fmt.Errorf("duplicate source %q", name)
	}
	r.sources[name] = s
	return nil
}

func (r *Registry) Get(name string) (Source, error) {
	s, ok := r.sources[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unknown source %q", name)
	}
	return s, nil
}

func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.sources))
	for n := range r.sources {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Select resolves the sources for a run: exactly include when given,
// otherwise all registered sources minus exclude. An unknown include name is
// an error; unknown exclude names are ignored.
func (r *Registry) Select(include, exclude []string) ([]Source, error) {
	excl := make(map[string]struct{}, len(exclude))
	for _, n := range exclude {
		excl[strings.ToLower(strings.TrimSpace(n))] = struct{}{}
	}

	var names []string
	if len(include) > 0 {
		names = include
	} else {
		names = r.Names()
	}

	out := make([]Source, 0, len(names))
	for _, n := range names {
		key := strings.ToLower(strings.TrimSpace(n))
		if _, skip := excl[key]; skip {
			continue
		}
		s, err := r.Get(key)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
