package pipeline

import (
	"fmt"
	"time"

	"digestbot/internal/retry"
)

// Mode selects how far a run goes after fetching.
type Mode string

const (
	// ModeSaveOnly fetches and persists, nothing else.
	ModeSaveOnly Mode = "save-only"
	// ModeTitles delivers bullet lists of titles with links.
	ModeTitles Mode = "titles-only"
	// ModeTitlesDesc is ModeTitles plus a one-line description per item.
	ModeTitlesDesc Mode = "titles-with-description"
	// ModeSummarize runs every item through the summarizer.
	ModeSummarize Mode = "summarize"
)

// ParseMode validates a mode string from config or CLI.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeSaveOnly, ModeTitles, ModeTitlesDesc, ModeSummarize:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// titleMode reports whether m delivers title bullets without summarization.
func (m Mode) titleMode() bool { return m == ModeTitles || m == ModeTitlesDesc }

// Options selects the work for one RunOnce invocation.
type Options struct {
	// Topics to deliver; items with other topics stay persisted but are not
	// sent. Empty means ["general"].
	Topics []string

	// Sources to fetch from (exactly these when set, otherwise all
	// registered minus ExcludeSources).
	Sources        []string
	ExcludeSources []string

	// Channels to deliver through; empty means all registered.
	Channels []string

	// Processor names the summarization backend (summarize mode only).
	Processor string

	// Limit caps items taken per source. 0 means no cap.
	Limit int

	Mode Mode

	// DryRun logs would-be sends instead of delivering, and skips ledger
	// marking.
	DryRun bool
}

// BatchOptions selects the work for one RunBatch invocation.
type BatchOptions struct {
	// Window is the trailing period to pull unprocessed items from.
	Window time.Duration

	Processor string
	Channels  []string
	Limit     int
	DryRun    bool
}

// Result summarizes one run for observability. It is never persisted.
type Result struct {
	Fetched    int
	Persisted  int
	Deduped    int
	Summarized int
	Fallbacks  int
	Delivered  int
	Failed     int
}

// Config carries the knobs the orchestrator itself owns.
type Config struct {
	// MaxMessageLength bounds one delivered chunk, header included.
	// Defaults to 3900 (a safe buffer under Telegram's 4096).
	MaxMessageLength int

	// PromptBudget bounds the body text handed to the summarizer per item.
	PromptBudget int

	// DescriptionBudget bounds the one-line description in
	// titles-with-description mode.
	DescriptionBudget int

	// FallbackOnExhaustion substitutes an extractive summary when the
	// summarizer exhausts its retries, instead of dropping the item.
	FallbackOnExhaustion bool

	Retry retry.Options
}

func (c Config) withDefaults() Config {
	if c.MaxMessageLength <= 0 {
		c.MaxMessageLength = 3900
	}
	if c.PromptBudget <= 0 {
		c.PromptBudget = 500
	}
	if c.DescriptionBudget <= 0 {
		c.DescriptionBudget = 160
	}
	return c
}
