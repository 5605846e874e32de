package provider

import (
	"strings"
)

// cleanCaption strips the decoration chat models like to wrap answers in:
// markdown fences, a leading "Alt text:" label and surrounding quotes.
func cleanCaption(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) > 0 && (strings.HasPrefix(lines[0], "```") || strings.HasPrefix(lines[0], "~~~")) {
		lines = lines[1:]
	}
	if len(lines) > 0 && (strings.HasPrefix(lines[len(lines)-1], "```") || strings.HasPrefix(lines[len(lines)-1], "~~~")) {
		lines = lines[:len(lines)-1]
	}
	out := strings.TrimSpace(strings.Join(lines, "\n"))

	if len(out) >= 9 && strings.EqualFold(out[:9], "alt text:") {
		out = strings.TrimSpace(out[9:])
	}
	for _, q := range []string{`"`, "'", "“"} {
		closing := q
		if q == "“" {
			closing = "”"
		}
		if len(out) >= len(q)+len(closing) && strings.HasPrefix(out, q) && strings.HasSuffix(out, closing) {
			out = strings.TrimSpace(out[len(q) : len(out)-len(closing)])
			break
		}
	}
	return out
}
