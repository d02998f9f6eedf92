package chunk

import (
	"fmt"
	"strings"
	"testing"
)

func TestSplitSingleChunk(t *testing.T) {
	got := Split("Header", "line one\nline two", 100)
	if len(got) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(got))
	}
	if got[0] != "Header\n\nline one\nline two" {
		t.Fatalf("unexpected chunk: %q", got[0])
	}
}

func TestSplitEmptyBody(t *testing.T) {
	got := Split("Header", "   ", 100)
	if len(got) != 1 || got[0] != "Header" {
		t.Fatalf("expected header-only chunk, got %#v", got)
	}
}

func TestSplitRespectsMaxLenAndRoundTrips(t *testing.T) {
	header := strings.Repeat("H", 30)
	lines := make([]string, 50)
	for i := range lines {
		lines[i] = strings.Repeat("x", 80)
	}
	body := strings.Join(lines, "\n")

	const maxLen = 500
	chunks := Split(header, body, maxLen)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}

	var rejoined []string
	for i, c := range chunks {
		if len(c) > maxLen {
			t.Fatalf("chunk %d is %d bytes, max %d", i, len(c), maxLen)
		}
		_, b, ok := strings.Cut(c, "\n\n")
		if !ok {
			t.Fatalf("chunk %d has no header separator: %q", i, c)
		}
		rejoined = append(rejoined, b)
	}
	if strings.Join(rejoined, "\n") != body {
		t.Fatalf("rejoined bodies do not reproduce the original")
	}
}

func TestSplitPartSuffixes(t *testing.T) {
	body := strings.Repeat("a", 90) + "\n" + strings.Repeat("b", 90) + "\n" + strings.Repeat("c", 90)
	chunks := Split("Top", body, 100)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if !strings.HasPrefix(chunks[0], "Top\n\n") {
		t.Fatalf("first chunk header should be unsuffixed: %q", chunks[0])
	}
	for i := 1; i < len(chunks); i++ {
		want := fmt.Sprintf("Top (part %d/%d)\n\n", i+1, len(chunks))
		if !strings.HasPrefix(chunks[i], want) {
			t.Fatalf("chunk %d: expected prefix %q, got %q", i, want, chunks[i])
		}
	}
}

func TestSplitSuffixedChunksStayWithinMaxLen(t *testing.T) {
	// Lines sized so chunks fill the budget to the brim: without room
	// reserved for the part suffix, suffixed chunks would overrun maxLen.
	header := strings.Repeat("H", 30)
	lines := make([]string, 6)
	for i := range lines {
		lines[i] = strings.Repeat("x", 33)
	}
	body := strings.Join(lines, "\n")

	const maxLen = 100
	chunks := Split(header, body, maxLen)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > maxLen {
			t.Fatalf("chunk %d is %d bytes, max %d", i, len(c), maxLen)
		}
	}
	if !strings.Contains(chunks[1], "(part 2/") {
		t.Fatalf("second chunk missing part suffix: %q", chunks[1])
	}

	var rejoined []string
	for i, c := range chunks {
		_, b, ok := strings.Cut(c, "\n\n")
		if !ok {
			t.Fatalf("chunk %d has no header separator: %q", i, c)
		}
		rejoined = append(rejoined, b)
	}
	if strings.Join(rejoined, "\n") != body {
		t.Fatalf("rejoined bodies do not reproduce the original")
	}
}

func TestSplitNeverBreaksALine(t *testing.T) {
	long := strings.Repeat("z", 300)
	chunks := Split("H", "short\n"+long+"\ntail", 100)

	found := false
	for _, c := range chunks {
		if strings.Contains(c, long) {
			found = true
		}
	}
	if !found {
		t.Fatalf("over-length line was split across chunks")
	}
}

func TestTruncateWords(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		maxLen int
		want   string
	}{
		{"short passthrough", "hello world", 50, "hello world"},
		{"zero budget passthrough", "hello", 0, "hello"},
		{"word boundary in last fifth", "aaaa bbbb cccc dddd", 17, "aaaa bbbb cccc..."},
		{"hard cut when boundary too early", "supercalifragilistic", 10, "supercalif..."},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := TruncateWords(tc.in, tc.maxLen); got != tc.want {
				t.Fatalf("TruncateWords(%q, %d) = %q, want %q", tc.in, tc.maxLen, got, tc.want)
			}
		})
	}
}

func TestTruncateWordsKeepsRunesWhole(t *testing.T) {
	s := strings.Repeat("é", 40) // 2 bytes per rune
	got := TruncateWords(s, 11)
	trimmed := strings.TrimSuffix(got, "...")
	for _, r := range trimmed {
		if r != 'é' {
			t.Fatalf("rune was split: %q", got)
		}
	}
	if len(trimmed) != 10 {
		t.Fatalf("expected cut at 10 bytes, got %d", len(trimmed))
	}
}
