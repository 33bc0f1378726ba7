package utils

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// SanitizeString drops control characters and trims whitespace.
func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

// TruncateString truncates to maxLen runes.
func TruncateString(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	return string([]rune(s)[:maxLen])
}

// DisplayName normalises a user-supplied name for broadcast payloads,
// falling back when nothing printable is left.
func DisplayName(name, fallback string) string {
	name = TruncateString(SanitizeString(name), 64)
	if name == "" {
		return fallback
	}
	return name
}
