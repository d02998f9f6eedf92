package processor

import "strings"

// FallbackSummary builds a naive extractive summary from the first three
// sentences. The pipeline substitutes it when a backend exhausts its retries,
// so one slow or flaky model never empties a whole digest.
func FallbackSummary(content string) string {
	sentences := strings.Split(content, ". ")
	if len(sentences) <= 3 {
		return content
	}

	summary := strings.Join(sentences[:3], ". ")
	if !strings.HasSuffix(summary, ".") {
		summary += "."
	}
	return "[Fallback Summary] " + summary
}
