// Package config loads, validates and watches the digestbot configuration
// file. YAML and JSON are both accepted; YAML is coerced to JSON so one
// strict decoder covers both formats.
package config

import (
	"fmt"
	"strings"
	"time"

	"digestbot/internal/pipeline"
	"digestbot/internal/retry"
	"digestbot/pkg/logx"
)

type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Pipeline PipelineConfig `json:"pipeline"`

	Providers  []ProviderConfig  `json:"providers"`
	Processors []ProcessorConfig `json:"processors"`
	Channels   []ChannelConfig   `json:"channels"`

	Scheduler SchedulerConfig `json:"scheduler"`
}

// LoggingConfig maps onto logx.Config.
type LoggingConfig struct {
	Level   string `json:"level,omitempty"`
	Console bool   `json:"console"`
	File    struct {
		Enabled bool   `json:"enabled"`
		Path    string `json:"path,omitempty"`
	} `json:"file,omitempty"`
}

// Logx translates the section for the logging service.
func (l LoggingConfig) Logx() logx.Config {
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File: logx.FileConfig{
			Enabled: l.File.Enabled,
			Path:    l.File.Path,
		},
	}
}

// StorageConfig controls the persistence layer.
//
// Driver is "sqlite", "file" or "none". BusyTimeout is a Go duration
// string and applies to sqlite only.
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// PipelineConfig tunes message assembly and summarization retries.
// All durations are Go duration strings (e.g. "500ms", "10s").
type PipelineConfig struct {
	MaxMessageLength  int `json:"max_message_length,omitempty"`
	PromptBudget      int `json:"prompt_budget,omitempty"`
	DescriptionBudget int `json:"description_budget,omitempty"`

	// FallbackOnExhaustion substitutes an extractive summary when the
	// summarizer keeps failing transiently. Pointer so an omitted field
	// defaults to true.
	FallbackOnExhaustion *bool `json:"fallback_on_exhaustion,omitempty"`

	Retry RetryConfig `json:"retry,omitempty"`
}

type RetryConfig struct {
	MaxAttempts int     `json:"max_attempts,omitempty"`
	Base        string  `json:"base,omitempty"`
	MaxDelay    string  `json:"max_delay,omitempty"`
	Jitter      float64 `json:"jitter,omitempty"`
}

// ProviderConfig declares one content source. Kind selects the
// implementation; currently "rss".
type ProviderConfig struct {
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Enabled *bool  `json:"enabled,omitempty"`

	URL      string            `json:"url,omitempty"`
	Topic    string            `json:"topic,omitempty"`
	TopicMap map[string]string `json:"topic_map,omitempty"`
	Timeout  string            `json:"timeout,omitempty"`
}

// ProcessorConfig declares one summarizer backend. Kind is "ollama" or
// "openai". APIKey may use ${ENV_VAR} placeholders.
type ProcessorConfig struct {
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Enabled *bool  `json:"enabled,omitempty"`

	Endpoint  string `json:"endpoint,omitempty"`
	Model     string `json:"model,omitempty"`
	APIKey    string `json:"api_key,omitempty"`
	Timeout   string `json:"timeout,omitempty"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

// ChannelConfig declares one delivery channel. Kind is "telegram" or
// "email"; only the fields for the selected kind apply.
type ChannelConfig struct {
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Enabled *bool  `json:"enabled,omitempty"`

	// telegram
	Token      string           `json:"token,omitempty"`
	ChatID     int64            `json:"chat_id,omitempty"`
	TopicChats map[string]int64 `json:"topic_chats,omitempty"`
	RatePerSec int              `json:"rate_per_sec,omitempty"`

	// email
	Host     string   `json:"host,omitempty"`
	Port     int      `json:"port,omitempty"`
	Username string   `json:"username,omitempty"`
	Password string   `json:"password,omitempty"`
	From     string   `json:"from,omitempty"`
	To       []string `json:"to,omitempty"`
}

// SchedulerConfig drives daemon mode: a fetch job that saves items and a
// digest job that summarizes and delivers the stored backlog.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`

	// Cron specs in robfig/cron format (five fields, or @every syntax).
	FetchCron  string `json:"fetch_cron,omitempty"`
	DigestCron string `json:"digest_cron,omitempty"`

	Topics    []string `json:"topics,omitempty"`
	Sources   []string `json:"sources,omitempty"`
	Processor string   `json:"processor,omitempty"`
	Channels  []string `json:"channels,omitempty"`

	// Window bounds the digest job's backlog, a Go duration string.
	Window string `json:"window,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// On reports whether an Enabled pointer means active; omitted means yes.
func On(p *bool) bool { return p == nil || *p }

// PipelineConfig translates the raw section into pipeline tuning values.
func (c *Config) PipelineConfig() (pipeline.Config, error) {
	p := c.Pipeline

	base, err := ParseDurationField("pipeline.retry.base", p.Retry.Base)
	if err != nil {
		return pipeline.Config{}, err
	}
	maxDelay, err := ParseDurationField("pipeline.retry.max_delay", p.Retry.MaxDelay)
	if err != nil {
		return pipeline.Config{}, err
	}

	return pipeline.Config{
		MaxMessageLength:     p.MaxMessageLength,
		PromptBudget:         p.PromptBudget,
		DescriptionBudget:    p.DescriptionBudget,
		FallbackOnExhaustion: On(p.FallbackOnExhaustion),
		Retry: retry.Options{
			MaxAttempts: p.Retry.MaxAttempts,
			Base:        base,
			MaxDelay:    maxDelay,
			Jitter:      p.Retry.Jitter,
		},
	}, nil
}

// Validate rejects configs the service could not start with. It is also
// used as the watch-time gate so a bad edit never replaces a good config.
func (c *Config) Validate() error {
	switch d := strings.ToLower(strings.TrimSpace(c.Storage.Driver)); d {
	case "", "none", "file", "sqlite":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", d)
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}
	if _, err := c.PipelineConfig(); err != nil {
		return err
	}

	seen := map[string]struct{}{}
	uniq := func(section, name string) error {
		if name == "" {
			return fmt.Errorf("%s: name is required", section)
		}
		key := section + "/" + name
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%s: duplicate name %q", section, name)
		}
		seen[key] = struct{}{}
		return nil
	}

	for i, p := range c.Providers {
		path := fmt.Sprintf("providers[%d]", i)
		if err := uniq("providers", p.Name); err != nil {
			return err
		}
		switch p.Kind {
		case "rss":
			if p.URL == "" {
				return fmt.Errorf("%s: rss provider requires url", path)
			}
		default:
			return fmt.Errorf("%s: unknown kind %q", path, p.Kind)
		}
		if _, err := ParseDurationField(path+".timeout", p.Timeout); err != nil {
			return err
		}
	}

	for i, p := range c.Processors {
		path := fmt.Sprintf("processors[%d]", i)
		if err := uniq("processors", p.Name); err != nil {
			return err
		}
		switch p.Kind {
		case "ollama":
		case "openai":
			if On(p.Enabled) && p.APIKey == "" {
				return fmt.Errorf("%s: openai processor requires api_key", path)
			}
		default:
			return fmt.Errorf("%s: unknown kind %q", path, p.Kind)
		}
		if _, err := ParseDurationField(path+".timeout", p.Timeout); err != nil {
			return err
		}
	}

	for i, ch := range c.Channels {
		path := fmt.Sprintf("channels[%d]", i)
		if err := uniq("channels", ch.Name); err != nil {
			return err
		}
		switch ch.Kind {
		case "telegram":
			if On(ch.Enabled) && ch.Token == "" {
				return fmt.Errorf("%s: telegram channel requires token", path)
			}
		case "email":
			if On(ch.Enabled) && (ch.Host == "" || ch.From == "" || len(ch.To) == 0) {
				return fmt.Errorf("%s: email channel requires host, from and to", path)
			}
		default:
			return fmt.Errorf("%s: unknown kind %q", path, ch.Kind)
		}
	}

	if c.Scheduler.Enabled {
		if c.Scheduler.FetchCron == "" && c.Scheduler.DigestCron == "" {
			return fmt.Errorf("scheduler: enabled but no fetch_cron or digest_cron set")
		}
		if _, err := ParseDurationField("scheduler.window", c.Scheduler.Window); err != nil {
			return err
		}
	}
	return nil
}

// SchedulerWindow returns the digest backlog window with its default.
func (c *Config) SchedulerWindow() time.Duration {
	d, err := ParseDurationOrDefault("scheduler.window", c.Scheduler.Window, 6*time.Hour)
	if err != nil {
		return 6 * time.Hour
	}
	return d
}
