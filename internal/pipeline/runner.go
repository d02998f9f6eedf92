// Package pipeline orchestrates the digest run: fetch, persist, dedup,
// summarize, group by topic, chunk, deliver, mark sent.
//
// Every step is a hard boundary: a failure in one step never aborts
// independent items, topics or channels in the next. The run returns a
// Result with counters instead of failing on partial errors; the only hard
// failures are an empty fetch and, in save-only/title modes, a persistence
// outage.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"digestbot/internal/channel"
	"digestbot/internal/chunk"
	"digestbot/internal/feed"
	"digestbot/internal/processor"
	"digestbot/internal/provider"
	"digestbot/internal/retry"
	"digestbot/internal/storage"
	"digestbot/pkg/logx"
)

// Deps wires the collaborators into the orchestrator.
type Deps struct {
	Sources    *provider.Registry
	Processors *processor.Registry
	Channels   *channel.Registry
	Store      storage.Store // nil when storage is disabled
	Log        logx.Logger
}

// Runner executes digest runs against a fixed set of collaborators.
// It is safe for sequential reuse; concurrent duplicate runs with the same
// topics+mode are the caller's responsibility to avoid.
type Runner struct {
	cfg   Config
	src   *provider.Registry
	procs *processor.Registry
	chans *channel.Registry
	store storage.Store
	log   logx.Logger
}

func New(cfg Config, deps Deps) *Runner {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Runner{
		cfg:   cfg.withDefaults(),
		src:   deps.Sources,
		procs: deps.Processors,
		chans: deps.Channels,
		store: deps.Store,
		log:   log,
	}
}

// ErrNoItems is the hard failure for a run whose fetch step produced nothing.
var ErrNoItems = errors.New("no items fetched")

// RunOnce executes the full pipeline for one invocation.
func (r *Runner) RunOnce(ctx context.Context, opts Options) (Result, error) {
	var res Result

	if _, err := ParseMode(string(opts.Mode)); err != nil {
		return res, err
	}
	topics := normalizeTopics(opts.Topics)

	sources, err := r.src.Select(opts.Sources, opts.ExcludeSources)
	if err != nil {
		return res, err
	}

	var chans []channel.Channel
	if opts.Mode != ModeSaveOnly {
		if chans, err = r.chans.Select(opts.Channels); err != nil {
			return res, err
		}
	}

	var proc processor.Summarizer
	if opts.Mode == ModeSummarize {
		if proc, err = r.procs.Get(opts.Processor); err != nil {
			return res, err
		}
	}

	// Step 1: fetch. A source failure yields zero items, never a dead run.
	items := r.fetch(ctx, sources, opts.Limit, &res)
	if len(items) == 0 {
		return res, ErrNoItems
	}

	// Step 2: persist. Fatal outside summarize mode, degraded inside it.
	items, persistOK := r.persist(ctx, items, &res)
	if !persistOK && opts.Mode != ModeSummarize {
		return res, errors.New("persisting items failed and this mode depends on stored identifiers")
	}

	if opts.Mode == ModeSaveOnly {
		r.log.Info("save-only run complete", logx.Int("persisted", res.Persisted))
		return res, nil
	}

	// Step 3: dedup against the ledger (title modes only).
	if opts.Mode.titleMode() {
		items = r.dedup(ctx, items, &res)
		if len(items) == 0 {
			r.log.Info("no new items to send (all already delivered)")
			return res, nil
		}
	}

	// Step 5: per-item summarization.
	if opts.Mode == ModeSummarize {
		items = r.summarizeItems(ctx, proc, items, &res)
		if len(items) == 0 {
			r.log.Warn("no items were successfully summarized")
			return res, nil
		}
	}

	// Steps 4, 6, 7: group, compose, chunk, deliver, mark.
	now := time.Now()
	for _, group := range groupByTopic(items) {
		if _, wanted := topics[group.topic]; !wanted {
			continue
		}

		var header, body string
		switch {
		case opts.Mode.titleMode():
			header = titlesHeader(group.topic, len(group.items), now)
			body = r.titlesBody(group.items, opts.Mode == ModeTitlesDesc)
		default:
			header = summaryHeader(group.topic, now)
			body = combinedSummaries(group.items)
		}

		r.deliverTopic(ctx, chans, group, header, body, opts.DryRun, persistOK, &res)
	}
	return res, nil
}

// RunBatch pulls unprocessed items from the store instead of fetching, then
// runs summarize/group/deliver only. There is no dedup step: an item without
// a summary has never been delivered.
func (r *Runner) RunBatch(ctx context.Context, opts BatchOptions) (Result, error) {
	var res Result

	if r.store == nil {
		return res, errors.New("batch mode requires storage")
	}
	proc, err := r.procs.Get(opts.Processor)
	if err != nil {
		return res, err
	}
	chans, err := r.chans.Select(opts.Channels)
	if err != nil {
		return res, err
	}

	window := opts.Window
	if window <= 0 {
		window = 6 * time.Hour
	}

	items, err := r.store.Unprocessed(ctx, window, opts.Limit)
	if err != nil {
		return res, fmt.Errorf("load unprocessed items: %w", err)
	}
	if len(items) == 0 {
		r.log.Info("no unprocessed items in window", logx.Duration("window", window))
		return res, nil
	}
	r.log.Info("batch processing started",
		logx.Int("items", len(items)), logx.Duration("window", window))

	items = r.summarizeItems(ctx, proc, items, &res)
	if len(items) == 0 {
		r.log.Warn("no items were successfully summarized")
		return res, nil
	}

	now := time.Now()
	for _, group := range groupByTopic(items) {
		header := batchHeader(group.topic, len(group.items), now)
		body := batchBody(group.items)
		r.deliverTopic(ctx, chans, group, header, body, opts.DryRun, true, &res)
	}
	return res, nil
}

// fetch gathers items from every selected source, tagging and limiting them
// per source. Counts land in res.
func (r *Runner) fetch(ctx context.Context, sources []provider.Source, limit int, res *Result) []feed.Item {
	var all []feed.Item
	for _, src := range sources {
		items, err := src.Fetch(ctx)
		if err != nil {
			r.log.Error("source fetch failed", logx.String("source", src.Name()), logx.Err(err))
			continue
		}
		if limit > 0 && len(items) > limit {
			r.log.Info("limiting items from source",
				logx.String("source", src.Name()), logx.Int("limit", limit))
			items = items[:limit]
		}
		for i := range items {
			if items[i].Source == "" {
				items[i].Source = src.Name()
			}
		}
		r.log.Info("fetched items", logx.String("source", src.Name()), logx.Int("count", len(items)))
		all = append(all, items...)
	}
	res.Fetched = len(all)
	r.log.Info("total items fetched", logx.Int("count", len(all)))
	return all
}

// persist bulk-saves items; the returned bool reports whether stored
// identifiers are usable for dedup and marking.
func (r *Runner) persist(ctx context.Context, items []feed.Item, res *Result) ([]feed.Item, bool) {
	if r.store == nil {
		r.log.Warn("storage disabled; items will not be persisted", logx.Int("count", len(items)))
		return items, false
	}
	saved, err := r.store.SaveItems(ctx, items)
	if err != nil {
		r.log.Error("persisting items failed", logx.Err(err))
		return items, false
	}
	for _, it := range saved {
		if it.Persisted() {
			res.Persisted++
		}
	}
	r.log.Info("items persisted", logx.Int("count", res.Persisted))
	return saved, true
}

// dedup drops items whose ledger key was already delivered.
func (r *Runner) dedup(ctx context.Context, items []feed.Item, res *Result) []feed.Item {
	keys, err := r.store.DeliveredKeys(ctx)
	if err != nil {
		// Best-effort ledger: a failed read means we risk one duplicate
		// send, which the next successful mark repairs.
		r.log.Warn("ledger read failed; skipping dedup", logx.Err(err))
		return items
	}
	if len(keys) == 0 {
		return items
	}
	r.log.Info("filtering previously delivered items", logx.Int("ledger", len(keys)))

	kept := items[:0]
	for _, it := range items {
		if _, sent := keys[it.DedupKey()]; sent {
			res.Deduped++
			continue
		}
		kept = append(kept, it)
	}
	return kept
}

// summarizeItems runs the summarizer for every item independently. A
// permanent failure drops only that item; transient exhaustion substitutes an
// extractive fallback when configured.
func (r *Runner) summarizeItems(ctx context.Context, proc processor.Summarizer, items []feed.Item, res *Result) []feed.Item {
	kept := make([]feed.Item, 0, len(items))
	for _, it := range items {
		input := "**" + it.Title + "**\n" + chunk.TruncateWords(it.Body, r.cfg.PromptBudget)

		var summary string
		err := retry.Do(ctx, r.cfg.Retry, func(ctx context.Context) error {
			s, sErr := proc.Summarize(ctx, input)
			if sErr == nil {
				summary = s
			}
			return sErr
		})
		switch {
		case err == nil:
			res.Summarized++
		case retry.IsExhausted(err) && r.cfg.FallbackOnExhaustion:
			r.log.Warn("summarizer exhausted retries; using fallback summary",
				logx.String("title", it.Title), logx.Err(err))
			summary = processor.FallbackSummary(input)
			res.Summarized++
			res.Fallbacks++
		default:
			r.log.Error("summarization failed; dropping item",
				logx.String("title", it.Title), logx.Err(err))
			res.Failed++
			continue
		}

		it.Summary = summary
		if r.store != nil && it.Persisted() {
			if _, uErr := r.store.UpdateSummary(ctx, it.ID, summary); uErr != nil {
				r.log.Warn("storing summary failed", logx.Int64("id", it.ID), logx.Err(uErr))
			}
		}
		kept = append(kept, it)
	}
	r.log.Info("summarization finished",
		logx.Int("ok", res.Summarized), logx.Int("failed", res.Failed), logx.Int("fallbacks", res.Fallbacks))
	return kept
}

// deliverTopic chunks and sends one topic's message to every channel, then
// marks the items in the ledger. markable is false when persistence degraded
// and identifiers are unusable.
func (r *Runner) deliverTopic(ctx context.Context, chans []channel.Channel, group topicGroup, header, body string, dryRun, markable bool, res *Result) {
	msgs := chunk.Split(header, body, r.cfg.MaxMessageLength)

	delivered := false
	for _, ch := range chans {
		ok := true
		for _, msg := range msgs {
			if dryRun {
				r.log.Info("[dry run] would send chunk",
					logx.String("channel", ch.Name()), logx.String("topic", group.topic), logx.Int("len", len(msg)))
				continue
			}
			if err := ch.Send(ctx, msg, group.topic); err != nil {
				// Soft failure: remaining chunks and channels still go out.
				r.log.Error("chunk delivery failed",
					logx.String("channel", ch.Name()), logx.String("topic", group.topic), logx.Err(err))
				ok = false
			}
		}
		if ok {
			delivered = true
			if !dryRun {
				r.log.Info("all chunks sent",
					logx.String("channel", ch.Name()), logx.String("topic", group.topic), logx.Int("chunks", len(msgs)))
			}
		}
	}

	if dryRun {
		return
	}
	if !delivered {
		res.Failed += len(group.items)
		return
	}
	res.Delivered += len(group.items)

	if r.store == nil || !markable {
		return
	}
	if err := r.store.MarkDelivered(ctx, group.items); err != nil {
		// Accepted consequence: one duplicate send on the next run.
		r.log.Warn("marking items delivered failed", logx.String("topic", group.topic), logx.Err(err))
	}
}

type topicGroup struct {
	topic string
	items []feed.Item
}

// groupByTopic buckets items preserving first-seen topic order and the
// source fetch order inside each bucket.
func groupByTopic(items []feed.Item) []topicGroup {
	index := map[string]int{}
	var groups []topicGroup
	for _, it := range items {
		topic := it.Topic
		if topic == "" {
			topic = "general"
		}
		i, ok := index[topic]
		if !ok {
			i = len(groups)
			index[topic] = i
			groups = append(groups, topicGroup{topic: topic})
		}
		groups[i].items = append(groups[i].items, it)
	}
	return groups
}

func normalizeTopics(topics []string) map[string]struct{} {
	if len(topics) == 0 {
		topics = []string{"general"}
	}
	out := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			out[t] = struct{}{}
		}
	}
	return out
}
