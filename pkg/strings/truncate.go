// Package strings holds small text helpers for report output.
package strings

import "strings"

// MinTruncateLen is the smallest usable maxLen for TruncateDescription;
// below it there is no room for content plus the ellipsis.
const MinTruncateLen = 4

// TruncateDescription flattens s to a single line, collapsing whitespace,
// and truncates it to maxLen runes with a trailing "..." when it was
// longer. maxLen values below MinTruncateLen are clamped.
func TruncateDescription(s string, maxLen int) string {
	if maxLen < MinTruncateLen {
		maxLen = MinTruncateLen
	}
	s = strings.Join(strings.Fields(s), " ")

	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen-3]) + "..."
	}
	return s
}
