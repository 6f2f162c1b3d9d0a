package tool

import (
	"strings"
	"unicode/utf8"
)

// MaskedSecretValue is used in user-facing output for sensitive values.
const MaskedSecretValue = "**********"

// LogPreviewLimit is how many characters of free-text inputs reach the logs.
const LogPreviewLimit = 50

// Mask hides a non-empty secret.
func Mask(value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	return MaskedSecretValue
}

// Truncate shortens s to at most limit runes, marking the cut with "...".
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + "..."
}
