package feed

import (
	"strings"
	"time"
	"unicode"
)

// Item is one fetched content unit.
//
// Lifecycle: created by a provider -> persisted (ID assigned by the store) ->
// optionally summarized -> delivered (ledger entry + DeliveredAt). Items are
// never deleted by this system; retention is an external concern.
type Item struct {
	// ID is assigned by the item store on first persistence. Zero until then.
	ID int64

	Title string
	Body  string
	URL   string

	// Topic is a lowercase category tag ("general", "sports", ...).
	Topic string

	// Source names the provider this item came from.
	Source string

	FetchedAt time.Time

	// Summary is set after successful summarization.
	Summary string

	// DeliveredAt is set when the item is marked sent. Zero until then.
	DeliveredAt time.Time
}

// DedupKey identifies an item in the delivery ledger.
// Items with a URL are keyed by it; for items without one we fall back to
// title|source, which can under- or over-deduplicate when a source reuses
// titles.
func (it Item) DedupKey() string {
	if it.URL != "" {
		return it.URL
	}
	return it.Title + "|" + it.Source
}

// Persisted reports whether the store has assigned this item an ID.
func (it Item) Persisted() bool { return it.ID != 0 }

// Title renders a lowercase topic tag for display ("sports" -> "Sports",
// "middle east" -> "Middle East").
func Title(topic string) string {
	words := strings.Fields(topic)
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

// Normalize trims fields and lowercases the topic, defaulting empty values
// the same way across all providers.
func Normalize(title, body, url, topic string) Item {
	title = strings.TrimSpace(title)
	if title == "" {
		title = "Untitled"
	}
	topic = strings.ToLower(strings.TrimSpace(topic))
	if topic == "" {
		topic = "general"
	}
	return Item{
		Title: title,
		Body:  strings.TrimSpace(body),
		URL:   strings.TrimSpace(url),
		Topic: topic,
	}
}
