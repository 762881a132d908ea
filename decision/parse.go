// Package decision turns noisy, free-form "facts extracted from chat" into a
// stable, bounded, canonical record per conversation. It is pure text
// reconciliation: no I/O, deterministic, and idempotent on its own output.
package decision

import (
	"regexp"
	"strings"
)

var (
	// bulletPrefixRe matches leading bullet and numbering decorations the
	// model likes to add: -, *, ・, ①-⑳, "1.", "2)", "3）", ...
	bulletPrefixRe = regexp.MustCompile(`^\s*(?:[-*•・●○◎◯]|\d+[.)]|\d+[）)]|[①-⑳])\s*`)

	// kvSeparatorRe splits "key: value" lines on the first half- or
	// full-width colon.
	kvSeparatorRe = regexp.MustCompile(`\s*[:：]\s*`)

	spacesRe      = regexp.MustCompile(`\s+`)
	controlCharRe = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)
)

type itemKind int

const (
	kvItem itemKind = iota
	plainItem
)

// item is one parsed decision line: either a key/value pair or plain text.
type item struct {
	kind  itemKind
	key   string
	value string
}

// normalizeLine strips bullet decorations and collapses runs of whitespace.
func normalizeLine(line string) string {
	cleaned := bulletPrefixRe.ReplaceAllString(strings.TrimSpace(line), "")
	cleaned = spacesRe.ReplaceAllString(cleaned, " ")
	return strings.TrimSpace(cleaned)
}

// splitLines breaks decision text into cleaned lines, dropping empties and
// "no decisions" style sentinels.
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	var lines []string
	for _, raw := range strings.Split(text, "\n") {
		cleaned := normalizeLine(raw)
		if cleaned == "" || ignoredLines[cleaned] {
			continue
		}
		lines = append(lines, cleaned)
	}
	return lines
}

// parseKeyValue splits a "key: value" style line on its first colon.
// Lines without both a key and a value are not key/value items.
func parseKeyValue(line string) (key, value string, ok bool) {
	loc := kvSeparatorRe.FindStringIndex(line)
	if loc == nil {
		return "", "", false
	}
	key = strings.TrimSpace(line[:loc[0]])
	value = strings.TrimSpace(line[loc[1]:])
	if key == "" || value == "" {
		return "", "", false
	}
	return key, value, true
}

// normalizeValue strips control characters from user or model text and
// collapses internal whitespace.
func normalizeValue(text string) string {
	cleaned := controlCharRe.ReplaceAllString(text, "")
	return strings.Join(strings.Fields(cleaned), " ")
}

// parseItems converts decision text into items, de-duplicating key/value
// lines by key (last occurrence wins, keeping the original position) and
// plain lines by exact text.
func parseItems(text string) (items []item, keyIndex map[string]int, plainSeen map[string]bool) {
	keyIndex = make(map[string]int)
	plainSeen = make(map[string]bool)
	for _, line := range splitLines(text) {
		if key, value, ok := parseKeyValue(line); ok {
			it := item{kind: kvItem, key: key, value: value}
			if idx, dup := keyIndex[key]; dup {
				items[idx] = it
			} else {
				keyIndex[key] = len(items)
				items = append(items, it)
			}
			continue
		}
		if !plainSeen[line] {
			items = append(items, item{kind: plainItem, value: line})
			plainSeen[line] = true
		}
	}
	return items, keyIndex, plainSeen
}

// itemsToText renders items as display lines, key/value ones with a
// full-width colon.
func itemsToText(items []item) string {
	lines := make([]string, 0, len(items))
	for _, it := range items {
		if it.kind == kvItem {
			lines = append(lines, it.key+"："+it.value)
		} else {
			lines = append(lines, it.value)
		}
	}
	return strings.Join(lines, "\n")
}
