package tools

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// DefaultMaxLines bounds tool output by line count.
	DefaultMaxLines = 2000
	// DefaultMaxBytes bounds tool output by byte size.
	DefaultMaxBytes = 200_000
)

// TruncateResult is the outcome of the two-stage truncator.
type TruncateResult struct {
	Content       string
	WasTruncated  bool
	OriginalLines int
	OriginalBytes int
}

// TruncateOutput bounds content first by line count, then by byte size at a
// UTF-8 boundary. Truncated output gains a trailing notice with the original
// totals. Pass 0 for either limit to use the default.
func TruncateOutput(content string, maxLines, maxBytes int) TruncateResult {
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	originalLines := countLines(content)
	originalBytes := len(content)
	if originalLines <= maxLines && originalBytes <= maxBytes {
		return TruncateResult{Content: content, OriginalLines: originalLines, OriginalBytes: originalBytes}
	}

	result := content
	truncated := false
	if originalLines > maxLines {
		lines := strings.Split(content, "\n")
		result = strings.Join(lines[:maxLines], "\n")
		truncated = true
	}
	if len(result) > maxBytes {
		result = truncateUTF8(result, maxBytes)
		truncated = true
	}
	if truncated {
		result += fmt.Sprintf("\n\n[Output truncated: %d lines, %d bytes total]", originalLines, originalBytes)
	}
	return TruncateResult{
		Content:       result,
		WasTruncated:  truncated,
		OriginalLines: originalLines,
		OriginalBytes: originalBytes,
	}
}

// truncateUTF8 cuts s to at most maxBytes without splitting a rune.
func truncateUTF8(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	end := maxBytes
	for end > 0 && !utf8.RuneStart(s[end]) {
		end--
	}
	return s[:end]
}

// countLines counts lines the way text editors do: a trailing newline does
// not start a new line.
func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}
