// Package chunk splits composed digest messages into transport-safe pieces.
//
// A message body is a sequence of atomic lines (one bullet, one paragraph,
// one article block). Chunk boundaries never fall inside an atomic line, so
// rejoining all chunk bodies in order reproduces the original body exactly.
package chunk

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// headerSep separates the header from the body inside each chunk.
const headerSep = "\n\n"

// Split breaks body into chunks that, together with header, stay within
// maxLen. Lines are never split: a single line longer than maxLen is emitted
// as an over-length chunk rather than corrupted. When more than one chunk
// results, chunks after the first get a "(part i/N)" suffix on the header
// line.
func Split(header, body string, maxLen int) []string {
	if strings.TrimSpace(body) == "" {
		return []string{header}
	}

	lines := strings.Split(body, "\n")
	bodies := packLines(header, lines, maxLen)

	// Chunks after the first carry the part suffix on the header, so once a
	// split is unavoidable the suffix width must come out of the budget.
	// Repack until the chunk count (and with it the suffix width) settles.
	for len(bodies) > 1 {
		reserve := len(partSuffix(len(bodies), len(bodies)))
		next := packLines(header, lines, maxLen-reserve)
		if len(next) == len(bodies) {
			bodies = next
			break
		}
		bodies = next
	}
	if len(bodies) == 0 {
		return []string{header}
	}

	total := len(bodies)
	out := make([]string, 0, total)
	for i, b := range bodies {
		h := header
		if total > 1 && i > 0 {
			h = header + partSuffix(i+1, total)
		}
		out = append(out, h+headerSep+b)
	}
	return out
}

// packLines greedily accumulates lines into chunk bodies that fit the budget
// alongside header. Lines are never split.
func packLines(header string, lines []string, maxLen int) []string {
	var bodies []string
	var current []string
	for _, line := range lines {
		prospective := strings.Join(append(current, line), "\n")
		if len(header)+len(headerSep)+len(prospective) > maxLen && len(current) > 0 {
			bodies = append(bodies, strings.Join(current, "\n"))
			current = []string{line}
		} else {
			current = append(current, line)
		}
	}
	if len(current) > 0 {
		bodies = append(bodies, strings.Join(current, "\n"))
	}
	return bodies
}

// partSuffix tags the last header line so multi-chunk sequences stay
// readable when messages arrive out of order.
func partSuffix(i, total int) string {
	return fmt.Sprintf(" (part %d/%d)", i, total)
}

// TruncateWords cuts s down to at most maxLen bytes, preferring a word
// boundary when one falls in the last fifth of the budget, and appends "..."
// when anything was cut.
func TruncateWords(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	truncated := s[:cut]
	lastSpace := strings.LastIndex(truncated, " ")
	if float64(lastSpace) > float64(maxLen)*0.8 {
		return truncated[:lastSpace] + "..."
	}
	return truncated + "..."
}
