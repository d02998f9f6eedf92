package pipeline

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"digestbot/internal/feed"
)

const timestampFormat = "2006-01-02 15:04"

// summarySeparator sits between per-item summaries in a combined digest.
const summarySeparator = "\n\n---\n\n"

func summaryHeader(topic string, now time.Time) string {
	return fmt.Sprintf("📰 **News Summary - %s**\n🕐 %s", feed.Title(topic), now.Format(timestampFormat))
}

func titlesHeader(topic string, count int, now time.Time) string {
	return fmt.Sprintf("📰 **%s Articles**\n🕐 %s | 📄 %d articles",
		feed.Title(topic), now.Format(timestampFormat), count)
}

func batchHeader(topic string, count int, now time.Time) string {
	return fmt.Sprintf("📰 **News Summary - %s**\n🕐 %s | 📄 %d articles",
		feed.Title(topic), now.Format(timestampFormat), count)
}

// bulletLine renders one item as a single atomic line.
func bulletLine(it feed.Item) string {
	if it.URL != "" {
		return fmt.Sprintf("• %s (%s)", it.Title, it.URL)
	}
	return "• " + it.Title
}

// titlesBody builds one bullet per item, optionally followed by an indented
// one-line description taken from the first body line.
func (r *Runner) titlesBody(items []feed.Item, withDescription bool) string {
	lines := make([]string, 0, len(items))
	for _, it := range items {
		line := bulletLine(it)
		if withDescription {
			if desc := firstLine(it.Body, r.cfg.DescriptionBudget); desc != "" {
				line += "\n  - " + desc
			}
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func combinedSummaries(items []feed.Item) string {
	summaries := make([]string, 0, len(items))
	for _, it := range items {
		summaries = append(summaries, it.Summary)
	}
	return strings.Join(summaries, summarySeparator)
}

// batchBody is the fuller digest layout used by scheduled batch runs:
// combined summaries plus a short source list.
func batchBody(items []feed.Item) string {
	var b strings.Builder
	b.WriteString(combinedSummaries(items))

	b.WriteString("\n\n**Sources:**")
	for i, it := range items {
		if i == 5 {
			break
		}
		title := cutRunes(it.Title, 50)
		if it.URL != "" {
			fmt.Fprintf(&b, "\n%d. [%s...](%s)", i+1, title, it.URL)
		} else {
			fmt.Fprintf(&b, "\n%d. %s...", i+1, title)
		}
	}
	return b.String()
}

// firstLine extracts a display snippet: the first non-empty body line, hard
// cut to budget runes.
func firstLine(body string, budget int) string {
	body = strings.TrimSpace(body)
	if body == "" {
		return ""
	}
	line := body
	if i := strings.IndexByte(body, '\n'); i >= 0 {
		line = body[:i]
	}
	return strings.TrimSpace(cutRunes(line, budget))
}

// cutRunes hard-cuts s to at most n runes without splitting one.
func cutRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
