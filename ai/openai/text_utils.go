package openai

import (
	"strings"
	"unicode"
)

// scrubString drops control characters left behind by PDF text extraction,
// collapses runs of spaces and tabs, and trims the result. Newlines are kept.
func scrubString(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		switch {
		case r == '\n':
			b.WriteRune(r)
			space = false
		case r == ' ' || r == '\t' || r == ' ':
			if !space {
				b.WriteRune(' ')
			}
			space = true
		case unicode.IsControl(r) || r == unicode.ReplacementChar:
			continue
		default:
			b.WriteRune(r)
			space = false
		}
	}
	return strings.TrimSpace(b.String())
}

// isLetter returns true if the rune is an ASCII letter.
func isLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}
