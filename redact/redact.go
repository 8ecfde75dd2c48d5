package redact

import (
	"strings"
)

// String keeps the first and last quarter of s and masks the rest.
// Strings shorter than 8 bytes are masked entirely.
func String(s string) string {
	l := len(s)
	if l == 0 {
		return ""
	}

	if l < 8 {
		return strings.Repeat("*", l)
	}

	keep := l / 4

	return s[:keep] + strings.Repeat("*", l-2*keep) + s[l-keep:]
}
