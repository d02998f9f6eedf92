// Package channel defines delivery channels and their registry.
//
// A channel send failure is soft: the pipeline logs it and moves on to the
// next chunk/channel. Channels own their own throttling and retry policies.
package channel

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Channel delivers one rendered message chunk for a topic.
type Channel interface {
	Name() string
	Send(ctx context.Context, text, topic string) error
}

// Registry maps channel names to implementations.
type Registry struct {
	channels map[string]Channel
}

func NewRegistry() *Registry {
	return &Registry{channels: map[string]Channel{}}
}

func (r *Registry) Register(c Channel) error {
	name := strings.ToLower(strings.TrimSpace(c.Name()))
	if name == "" {
		return fmt.Errorf("channel with empty name")
	}
	if _, ok := r.channels[name]; ok {
		return fmt.Errorf("duplicate channel %q", name)
	}
	r.channels[name] = c
	return nil
}

func (r *Registry) Get(name string) (Channel, error) {
	c, ok := r.channels[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unknown channel %q", name)
	}
	return c, nil
}

func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.channels))
	for n := range r.channels {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Select resolves the channels for a run: exactly names when given, otherwise
// every registered channel.
func (r *Registry) Select(names []string) ([]Channel, error) {
	if len(names) == 0 {
		names = r.Names()
	}
	out := make([]Channel, 0, len(names))
	for _, n := range names {
		c, err := r.Get(n)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
