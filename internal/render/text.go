// Package render builds the channel-neutral view of a briefing that every
// channel adapter formats, plus the small text helpers they share.
package render

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Plural picks singular or plural by n without the count.
func Plural(n int, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}

// Count renders "1 event", "2 events". The plural adds an "s" to the first
// word, so "overdue task" is fine but "task due today" needs CountPhrase.
func Count(n int, noun string) string {
	return fmt.Sprintf("%d %s", n, Plural(n, noun, noun+"s"))
}

// CountPhrase renders n with an explicit plural form.
func CountPhrase(n int, singular, plural string) string {
	return fmt.Sprintf("%d %s", n, Plural(n, singular, plural))
}

// JoinList joins items as "a", "a and b", "a, b and c".
func JoinList(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	default:
		return strings.Join(items[:len(items)-1], ", ") + " and " + items[len(items)-1]
	}
}

const ellipsis = "…"

// Truncate shortens s to at most max runes, marking the cut with an ellipsis.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	if max == 1 {
		return string(runes[:1])
	}
	return strings.TrimRight(string(runes[:max-1]), " \n") + ellipsis
}
