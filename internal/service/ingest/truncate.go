package ingest

import (
	"strings"
	"unicode/utf8"

	"github.com/KushiTirumala/Aria-Sales-Analyst/internal/models"
)

const (
	TruncationMarker = "\n\n[... content truncated for length ...]"
	headerLines      = 3
	// room kept for the joining newline and the marker
	truncationReserve = 200
)

// Truncate bounds text to maxChars characters plus the marker, keeping the
// first three lines verbatim and the window that directly follows them. A
// header that alone exceeds the budget is returned whole with the marker.
func Truncate(text string, maxChars int) models.TruncatedContent {
	total := utf8.RuneCountInString(text)
	if total <= maxChars {
		return models.TruncatedContent{Text: text}
	}

	header := text
	for i, n := 0, 0; i < len(text); i++ {
		if text[i] != '\n' {
			continue
		}
		n++
		if n == headerLines {
			header = text[:i]
			break
		}
	}

	headerLen := utf8.RuneCountInString(header)
	remaining := maxChars - headerLen - truncationReserve
	if remaining <= 0 {
		// the header is never cut, even past the budget
		return models.TruncatedContent{Text: header + TruncationMarker, WasTruncated: true}
	}

	rest := strings.TrimPrefix(text[len(header):], "\n")
	middle := prefixRunes(rest, remaining)

	var b strings.Builder
	b.Grow(len(header) + len(middle) + len(TruncationMarker) + 1)
	b.WriteString(header)
	b.WriteByte('\n')
	b.WriteString(middle)
	b.WriteString(TruncationMarker)
	return models.TruncatedContent{Text: b.String(), WasTruncated: true}
}

func prefixRunes(s string, n int) string {
	if n <= 0 {
		return ""
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
