package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"digestbot/pkg/logx"
)

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Test Wire</title>
    <item>
      <title>Match Report</title>
      <link>https://news.test/sport/match-1</link>
      <description>&lt;p&gt;The home side &lt;b&gt;won&lt;/b&gt; again.&lt;/p&gt;</description>
      <category>Sport</category>
    </item>
    <item>
      <title>Budget Vote</title>
      <link>https://news.test/politics/vote</link>
      <description>Parliament voted today.</description>
    </item>
    <item>
      <title></title>
      <link>https://news.test/misc/empty</link>
      <description></description>
    </item>
  </channel>
</rss>`

func newRSSAgainst(t *testing.T, cfg RSSConfig) *RSSSource {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(sampleFeed))
	}))
	t.Cleanup(srv.Close)
	cfg.URL = srv.URL
	src, err := NewRSSSource(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("NewRSSSource: %v", err)
	}
	return src
}

func TestRSSFetch(t *testing.T) {
	src := newRSSAgainst(t, RSSConfig{
		Name:  "wire",
		Topic: "general",
		TopicMap: map[string]string{
			"sport":    "sports",
			"politics": "politics",
		},
	})

	items, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}

	first := items[0]
	if first.Title != "Match Report" {
		t.Fatalf("title = %q", first.Title)
	}
	if first.Topic != "sports" {
		t.Fatalf("category should map to sports, got %q", first.Topic)
	}
	if first.Body != "The home side won again." {
		t.Fatalf("html not stripped: %q", first.Body)
	}
	if first.Source != "wire" || first.FetchedAt.IsZero() {
		t.Fatalf("source/fetched_at not set: %+v", first)
	}

	// No category: topic comes from the URL path.
	if items[1].Topic != "politics" {
		t.Fatalf("url path should map to politics, got %q", items[1].Topic)
	}

	// Empty title gets the normalization default.
	if items[2].Title != "Untitled" {
		t.Fatalf("empty title should default, got %q", items[2].Title)
	}
	if items[2].Topic != "general" {
		t.Fatalf("unmapped item should use the default topic, got %q", items[2].Topic)
	}
}

func TestRSSFetchUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	src, err := NewRSSSource(RSSConfig{Name: "down", URL: srv.URL}, logx.Nop())
	if err != nil {
		t.Fatalf("NewRSSSource: %v", err)
	}
	if _, err := src.Fetch(context.Background()); err == nil {
		t.Fatalf("expected fetch error")
	}
}

func TestRSSConfigErrors(t *testing.T) {
	if _, err := NewRSSSource(RSSConfig{URL: "https://x"}, logx.Nop()); err == nil {
		t.Fatalf("missing name must fail")
	}
	if _, err := NewRSSSource(RSSConfig{Name: "x"}, logx.Nop()); err == nil {
		t.Fatalf("missing url must fail")
	}
}
