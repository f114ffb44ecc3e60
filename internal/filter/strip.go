package filter

import "strings"

// Strip removes every well-formed <think>…</think> span from a complete
// string in one pass, including the whitespace run that follows each
// closing marker. An unterminated region suppresses the rest of the
// string. Used when the full output is already materialized; agrees
// byte-for-byte with Stream on any complete input.
func Strip(s string) string {
	var b strings.Builder
	cursor := 0
	for cursor < len(s) {
		start := strings.Index(s[cursor:], startMarker)
		if start < 0 {
			b.WriteString(s[cursor:])
			break
		}
		start += cursor
		b.WriteString(s[cursor:start])

		rest := s[start+len(startMarker):]
		end := strings.Index(rest, endMarker)
		if end < 0 {
			// Unclosed region suppresses the tail.
			break
		}
		after := rest[end+len(endMarker):]
		after = strings.TrimLeft(after, " \t\r\n")
		cursor = len(s) - len(after)
	}
	return b.String()
}
