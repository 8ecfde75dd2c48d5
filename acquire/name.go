package acquire

import (
	"strings"
)

const (
	maxNameLen   = 96
	fallbackName = "track"
)

// SanitizeName maps title to a file name made of ASCII letters, digits, dots,
// dashes and underscores. It never returns an empty or hidden name.
func SanitizeName(title string) string {
	var b strings.Builder
	b.Grow(len(title))
	for _, r := range strings.TrimSpace(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
		if b.Len() >= maxNameLen {
			break
		}
	}

	name := strings.TrimLeft(b.String(), ".")
	if len(name) > maxNameLen {
		name = name[:maxNameLen]
	}

	if strings.Trim(name, "._-") == "" {
		return fallbackName
	}

	return name
}
