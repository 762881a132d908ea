package chatcore

import (
	"regexp"
	"strings"
)

// Language is a resolved conversation language.
type Language string

const (
	LangJa Language = "ja"
	LangEn Language = "en"

	// DefaultLanguage is used whenever nothing else resolves.
	DefaultLanguage = LangJa
)

var (
	jaScriptRe = regexp.MustCompile(`[ぁ-んァ-ン一-龯]`)
	latinRe    = regexp.MustCompile(`[A-Za-z]`)
)

// NormalizeLanguage maps free-form language codes ("ja-JP", "EN_us", ...)
// to a supported Language, falling back to the default.
func NormalizeLanguage(s string) Language {
	normalized := strings.ToLower(strings.TrimSpace(s))
	normalized = strings.ReplaceAll(normalized, "_", "-")
	switch {
	case strings.HasPrefix(normalized, "ja"):
		return LangJa
	case strings.HasPrefix(normalized, "en"):
		return LangEn
	}
	return DefaultLanguage
}

// DetectLanguage guesses a language from the script of the text.
// Returns false when the text carries no usable signal.
func DetectLanguage(text string) (Language, bool) {
	if text == "" {
		return "", false
	}
	if jaScriptRe.MatchString(text) {
		return LangJa, true
	}
	if latinRe.MatchString(text) {
		return LangEn, true
	}
	return "", false
}

// ParseAcceptLanguage picks the first supported language from an
// Accept-Language header value. Returns false when none match.
func ParseAcceptLanguage(header string) (Language, bool) {
	for _, part := range strings.Split(header, ",") {
		code := strings.ToLower(strings.TrimSpace(strings.SplitN(part, ";", 2)[0]))
		if strings.HasPrefix(code, "ja") {
			return LangJa, true
		}
		if strings.HasPrefix(code, "en") {
			return LangEn, true
		}
	}
	return "", false
}
