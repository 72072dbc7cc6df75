package hbpr

import "strings"

// Sanitize replaces ASCII control characters with spaces so that raw
// terminal dumps cannot corrupt text-based storage or exports. Newlines,
// carriage returns and tabs are kept. Sanitization is lossy, never fatal.
func Sanitize(text string) string {
	if !needsSanitize(text) {
		return text
	}
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if isHostileControl(r) {
			b.WriteByte(' ')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func needsSanitize(text string) bool {
	for _, r := range text {
		if isHostileControl(r) {
			return true
		}
	}
	return false
}

func isHostileControl(r rune) bool {
	if r == '\n' || r == '\r' || r == '\t' {
		return false
	}
	return r < 0x20 || r == 0x7f
}
