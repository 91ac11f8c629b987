package xpost

import (
	"strings"
	"unicode/utf8"
)

const ellipsis = "..."

// AppendTags appends a blank line and the space separated hashtags when at
// least one tag is present.
func AppendTags(text string, tags []string) string {
	if len(tags) == 0 {
		return text
	}
	return text + "\n\n" + HashtagLine(tags)
}

// HashtagLine renders tags as "#a #b".
func HashtagLine(tags []string) string {
	parts := make([]string, len(tags))
	for i, tag := range tags {
		parts[i] = "#" + tag
	}
	return strings.Join(parts, " ")
}

// AppendAttribution appends the "Originally posted at" footer when url is set.
func AppendAttribution(text, url string) string {
	if url == "" {
		return text
	}
	return text + "\n\nOriginally posted at: " + url
}

// Truncate caps text at limit characters. Longer input keeps its first
// limit-3 characters followed by "...", so the result is exactly limit long.
// Limits below 3 cut the ellipsis itself short.
func Truncate(text string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	if limit < len(ellipsis) {
		return ellipsis[:limit]
	}
	return string([]rune(text)[:limit-len(ellipsis)]) + ellipsis
}

// TruncationPoint reports how many bytes of text survive Truncate before
// the ellipsis, or len(text) when no truncation happens.
func TruncationPoint(text string, limit int) int {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return len(text)
	}
	if limit < len(ellipsis) {
		return 0
	}
	return len(string([]rune(text)[:limit-len(ellipsis)]))
}
