package provider

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"digestbot/internal/feed"
	logx "digestbot/pkg/logx"
)

// RSSConfig configures one RSS/Atom source.
type RSSConfig struct {
	Name string
	URL  string

	// Topic is the fallback category tag when nothing better is found.
	Topic string

	// TopicMap maps a substring of a feed category or article URL path to a
	// topic tag, e.g. {"sport": "sports", "business": "finance"}.
	TopicMap map[string]string

	Timeout time.Duration
}

// RSSSource fetches items from a single RSS/Atom feed.
type RSSSource struct {
	cfg    RSSConfig
	client *http.Client
	log    logx.Logger

	// topicKeys keeps TopicMap matching deterministic.
	topicKeys []string
}

var _ Source = (*RSSSource)(nil)

func NewRSSSource(cfg RSSConfig, log logx.Logger) (*RSSSource, error) {
	if strings.TrimSpace(cfg.Name) == "" {
		return nil, errors.New("rss source name is empty")
	}
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("rss source url is empty")
	}
	if cfg.Topic == "" {
		cfg.Topic = "general"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	keys := make([]string, 0, len(cfg.TopicMap))
	for k := range cfg.TopicMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return &RSSSource{
		cfg:       cfg,
		client:    &http.Client{Timeout: timeout},
		log:       log,
		topicKeys: keys,
	}, nil
}

func (s *RSSSource) Name() string { return s.cfg.Name }

func (s *RSSSource) Fetch(ctx context.Context) ([]feed.Item, error) {
	fp := gofeed.NewParser()
	fp.Client = s.client

	parsed, err := fp.ParseURLWithContext(s.cfg.URL, ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	items := make([]feed.Item, 0, len(parsed.Items))
	for _, entry := range parsed.Items {
		if entry == nil {
			continue
		}
		body := entry.Description
		if body == "" {
			body = entry.Content
		}
		it := feed.Normalize(entry.Title, stripHTML(body), entry.Link, s.topicFor(entry))
		it.Source = s.cfg.Name
		it.FetchedAt = now
		items = append(items, it)
	}
	return items, nil
}

// topicFor derives an item's topic from feed categories first, then from the
// article URL path, falling back to the configured default.
func (s *RSSSource) topicFor(entry *gofeed.Item) string {
	for _, cat := range entry.Categories {
		if t := s.mapTopic(cat); t != "" {
			return t
		}
	}
	if t := s.mapTopic(entry.Link); t != "" {
		return t
	}
	return s.cfg.Topic
}

func (s *RSSSource) mapTopic(v string) string {
	v = strings.ToLower(v)
	for _, needle := range s.topicKeys {
		if strings.Contains(v, strings.ToLower(needle)) {
			return s.cfg.TopicMap[needle]
		}
	}
	return ""
}

// stripHTML flattens feed descriptions (often HTML fragments) to plain text.
func stripHTML(v string) string {
	if v == "" || !strings.Contains(v, "<") {
		return v
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(v))
	if err != nil {
		return v
	}
	return strings.TrimSpace(doc.Text())
}
