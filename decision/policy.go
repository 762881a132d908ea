package decision

import (
	"strings"

	chatcore "github.com/creastat/chatcore"
)

// policyItem is one live decision entry during policy enforcement: a fixed
// item keyed by canonical name, or a flex item keyed by its raw label.
type policyItem struct {
	fixed     bool
	canonical string
	key       string
	value     string
}

// enforce applies the mode's schema policy: memo keys fold into one memo
// entry, recognized keys become fixed items, unrecognized keys stay flex up
// to the flex cap, and the total item count is bounded by MaxItems with
// every eviction preserved verbatim in the memo. The result is rendered as
// localized "label：value" lines, memo last.
//
// enforce is idempotent: running it on its own output changes nothing.
func enforce(text string, mode chatcore.Mode, lang chatcore.Language, limits Limits) string {
	items, _, _ := parseItems(text)
	if len(items) == 0 {
		return DefaultMessage(lang)
	}

	allowed := allowedKeys(mode)
	var memoEntries []string
	var ordered []policyItem
	fixedIndex := make(map[string]int)
	flexIndex := make(map[string]int)

	for _, it := range items {
		if it.kind != kvItem {
			if it.value != "" {
				memoEntries = append(memoEntries, it.value)
			}
			continue
		}

		key := strings.TrimSpace(it.key)
		value := strings.TrimSpace(it.value)
		if isMemoKey(key) {
			if value != "" {
				memoEntries = append(memoEntries, value)
			}
			continue
		}

		if canonical, ok := canonicalKey(key, mode); ok && allowed[canonical] {
			if idx, dup := fixedIndex[canonical]; dup {
				ordered[idx].value = value
			} else {
				fixedIndex[canonical] = len(ordered)
				ordered = append(ordered, policyItem{fixed: true, canonical: canonical, value: value})
			}
			continue
		}

		if idx, dup := flexIndex[key]; dup {
			ordered[idx].value = value
		} else {
			flexIndex[key] = len(ordered)
			ordered = append(ordered, policyItem{key: key, value: value})
		}
	}

	// Flex cap: the first FlexKeyLimit flex items stay live; the rest fold
	// into the memo in their original order.
	flexLimit := limits.FlexKeyLimit
	if flexLimit < 0 {
		flexLimit = 0
	}
	var flexIdxs []int
	for i, it := range ordered {
		if !it.fixed {
			flexIdxs = append(flexIdxs, i)
		}
	}
	if len(flexIdxs) > flexLimit {
		overflow := flexIdxs[flexLimit:]
		for _, idx := range overflow {
			memoEntries = append(memoEntries, ordered[idx].key+"："+ordered[idx].value)
		}
		for i := len(overflow) - 1; i >= 0; i-- {
			idx := overflow[i]
			ordered = append(ordered[:idx], ordered[idx+1:]...)
		}
	}

	// Total cap: evict flex items newest-first to keep the earliest
	// established facts, then the oldest fixed items. The memo counts as
	// one slot when non-empty.
	if limits.MaxItems > 0 {
		totalItems := func() int {
			total := len(ordered)
			if len(memoEntries) > 0 {
				total++
			}
			return total
		}
		for totalItems() > limits.MaxItems && len(ordered) > 0 {
			idx := -1
			for i := len(ordered) - 1; i >= 0; i-- {
				if !ordered[i].fixed {
					idx = i
					break
				}
			}
			if idx == -1 {
				idx = 0
			}
			removed := ordered[idx]
			ordered = append(ordered[:idx], ordered[idx+1:]...)
			if removed.fixed {
				memoEntries = append(memoEntries, labelFor(mode, lang, removed.canonical)+"："+removed.value)
			} else {
				memoEntries = append(memoEntries, removed.key+"："+removed.value)
			}
		}
	}

	final := make([]item, 0, len(ordered)+1)
	for _, it := range ordered {
		label := it.key
		if it.fixed {
			label = labelFor(mode, lang, it.canonical)
		}
		final = append(final, item{kind: kvItem, key: label, value: it.value})
	}
	if memoValue := buildMemoValue(memoEntries); memoValue != "" {
		final = append(final, item{kind: kvItem, key: MemoKey(lang), value: memoValue})
	}

	if len(final) == 0 {
		return DefaultMessage(lang)
	}
	return chatcore.SanitizeText(itemsToText(final), limits.MaxChars)
}

// buildMemoValue joins memo candidates into one slash-separated entry.
func buildMemoValue(entries []string) string {
	var normalized []string
	for _, entry := range entries {
		if cleaned := normalizeLine(entry); cleaned != "" {
			normalized = append(normalized, cleaned)
		}
	}
	return strings.Join(normalized, " / ")
}
