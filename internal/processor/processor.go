// Package processor defines summarization backends and their registry.
//
// Backends classify their failures through the retry package: timeouts, 5xx
// responses, undecodable payloads and blank completions are transient (the
// pipeline retries them); 4xx responses are permanent (the item is dropped).
package processor

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Summarizer condenses a block of text into a short summary.
type Summarizer interface {
	Name() string
	Summarize(ctx context.Context, content string) (string, error)
}

// DefaultPromptTemplate is applied when a backend has no configured template.
// {content} is replaced with the text to summarize.
const DefaultPromptTemplate = `Summarize the following news articles in a clear and concise manner. Focus on the key facts, main events, and important implications. Present the information in a structured way that highlights the most newsworthy elements:

{content}

Summary:`

func renderPrompt(template, content string) string {
	if strings.TrimSpace(template) == "" {
		template = DefaultPromptTemplate
	}
	return strings.ReplaceAll(template, "{content}", content)
}

// Registry maps processor names to implementations.
type Registry struct {
	procs map[string]Summarizer
}

func NewRegistry() *Registry {
	return &Registry{procs: map[string]Summarizer{}}
}

func (r *Registry) Register(s Summarizer) error {
	name := strings.ToLower(strings.TrimSpace(s.Name()))
	if name == "" {
		return fmt.Errorf("processor with empty name")
	}
	if _, ok := r.procs[name]; ok {
		return fmt.Errorf("duplicate processor %q", name)
	}
	r.procs[name] = s
	return nil
}

func (r *Registry) Get(name string) (Summarizer, error) {
	s, ok := r.procs[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unknown processor %q", name)
	}
	return s, nil
}

func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.procs))
	for n := range r.procs {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
