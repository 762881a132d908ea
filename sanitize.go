package chatcore

import (
	"regexp"
	"strings"
)

var controlCharRe = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)

// SanitizeText strips control characters from model output and enforces a
// maximum length in runes. Truncation is marked with a trailing "...".
// A maxLen of zero disables the length cap.
func SanitizeText(text string, maxLen int) string {
	cleaned := strings.TrimSpace(controlCharRe.ReplaceAllString(text, ""))
	if maxLen > 0 {
		if runes := []rune(cleaned); len(runes) > maxLen {
			cleaned = string(runes[:maxLen]) + "..."
		}
	}
	return cleaned
}
