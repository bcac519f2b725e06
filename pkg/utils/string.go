package utils

import (
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"
)

// SanitizeString removes control characters and surrounding whitespace.
func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

// TruncateString truncates s to at most maxLen runes.
func TruncateString(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	return string([]rune(s)[:maxLen])
}

const maxFileNameBytes = 200

// SanitizeFileName reduces name to a single safe path segment. Letters and
// digits of any script, '.', '-' and '_' survive; everything else becomes '_'.
// Runs of '.' collapse to one. Returns "" when nothing usable is left.
func SanitizeFileName(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	name = filepath.Base(name)

	var b strings.Builder
	lastUnderscore, lastDot := false, false
	for _, r := range name {
		switch {
		case r == '.':
			if !lastDot {
				b.WriteRune(r)
			}
			lastDot, lastUnderscore = true, false
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '-':
			b.WriteRune(r)
			lastDot, lastUnderscore = false, false
		default:
			lastDot = false
			if !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}

	out := strings.Trim(b.String(), "._")
	if out == "" {
		return ""
	}

	if len(out) > maxFileNameBytes {
		ext := filepath.Ext(out)
		if len(ext) > 16 {
			ext = ""
		}
		base := out[:maxFileNameBytes-len(ext)]
		for !utf8.ValidString(base) {
			base = base[:len(base)-1]
		}
		out = base + ext
	}
	return out
}
