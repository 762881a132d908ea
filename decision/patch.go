package decision

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// Patch is a structured add/update/remove delta against decision state.
// Add and update are functionally identical at this layer: both are
// idempotent upserts. Remove lists raw keys to drop before upserting.
type Patch struct {
	Add    map[string]string
	Update map[string]string
	Remove []string
}

// Empty reports whether the patch carries no operations.
func (p Patch) Empty() bool {
	return len(p.Add) == 0 && len(p.Update) == 0 && len(p.Remove) == 0
}

// ParsePatch extracts a decision patch from free-form model output. It
// accepts a JSON object carrying at least one of the keys "add", "update"
// (string→string), or "remove" (array of strings), optionally wrapped in
// code fences or surrounding prose. Any other shape yields ok=false and the
// caller falls back to a line-merge.
func ParsePatch(text string) (Patch, bool) {
	obj, ok := extractJSONObject(text)
	if !ok {
		return Patch{}, false
	}

	addRaw, hasAdd := obj["add"]
	updateRaw, hasUpdate := obj["update"]
	removeRaw, hasRemove := obj["remove"]
	if !hasAdd && !hasUpdate && !hasRemove {
		return Patch{}, false
	}

	return Patch{
		Add:    normalizePatchMap(addRaw),
		Update: normalizePatchMap(updateRaw),
		Remove: normalizePatchRemove(removeRaw),
	}, true
}

// extractJSONObject parses a JSON object out of model text, first as-is
// (after stripping code fences), then from the outermost {...} span.
func extractJSONObject(text string) (map[string]any, bool) {
	cleaned := strings.TrimSpace(stripCodeFences(text))
	if cleaned == "" {
		return nil, false
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(cleaned), &obj); err == nil && obj != nil {
		return obj, true
	}

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start == -1 || end <= start {
		return nil, false
	}
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

// stripCodeFences removes a surrounding triple-backtick fence if present.
func stripCodeFences(text string) string {
	stripped := strings.TrimSpace(text)
	if !strings.HasPrefix(stripped, "```") {
		return stripped
	}
	lines := strings.Split(stripped, "\n")
	if len(lines) >= 2 && strings.HasPrefix(lines[len(lines)-1], "```") {
		return strings.TrimSpace(strings.Join(lines[1:len(lines)-1], "\n"))
	}
	return stripped
}

// normalizePatchMap coerces an add/update payload into clean string pairs,
// dropping entries whose key or value is empty or non-scalar.
func normalizePatchMap(raw any) map[string]string {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	normalized := make(map[string]string, len(obj))
	for key, val := range obj {
		k := strings.TrimSpace(key)
		v := strings.TrimSpace(stringifyScalar(val))
		if k != "" && v != "" {
			normalized[k] = v
		}
	}
	return normalized
}

// normalizePatchRemove coerces a remove payload into non-empty key names.
// A bare string is accepted as a single-element list.
func normalizePatchRemove(raw any) []string {
	var candidates []any
	switch v := raw.(type) {
	case []any:
		candidates = v
	case string:
		candidates = []any{v}
	default:
		return nil
	}
	var keys []string
	for _, c := range candidates {
		if key := strings.TrimSpace(stringifyScalar(c)); key != "" {
			keys = append(keys, key)
		}
	}
	return keys
}

func stringifyScalar(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

// applyPatch applies remove, then upserts add and update, preserving the
// position of entries that already exist. Keys named in remove are not
// resurrected by the same patch.
func applyPatch(prevText string, p Patch) string {
	if p.Empty() {
		return strings.Join(splitLines(prevText), "\n")
	}

	items, keyIndex, _ := parseItems(prevText)

	removeSet := make(map[string]bool, len(p.Remove))
	for _, key := range p.Remove {
		if key != "" {
			removeSet[key] = true
		}
	}
	if len(removeSet) > 0 {
		kept := items[:0]
		for _, it := range items {
			if it.kind == kvItem && removeSet[it.key] {
				continue
			}
			kept = append(kept, it)
		}
		items = kept
		keyIndex = make(map[string]int)
		for idx, it := range items {
			if it.kind == kvItem {
				keyIndex[it.key] = idx
			}
		}
	}

	// Upserts are applied in sorted key order so output is deterministic
	// regardless of map iteration.
	upsert := func(valueMap map[string]string) {
		keys := make([]string, 0, len(valueMap))
		for key := range valueMap {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			value := valueMap[key]
			if removeSet[key] {
				continue
			}
			it := item{kind: kvItem, key: key, value: value}
			if idx, ok := keyIndex[key]; ok {
				items[idx] = it
			} else {
				keyIndex[key] = len(items)
				items = append(items, it)
			}
		}
	}
	upsert(p.Add)
	upsert(p.Update)

	return itemsToText(items)
}

// mergeText keeps every previous line, overwrites lines whose key matches a
// new line's key, and appends genuinely new lines. Already-present entries
// are never reordered.
func mergeText(prevText, newText string) string {
	prevLines := splitLines(prevText)
	newLines := splitLines(newText)

	if len(newLines) == 0 {
		return strings.Join(prevLines, "\n")
	}

	result := append([]string(nil), prevLines...)
	keyIndex := make(map[string]int)
	seenPlain := make(map[string]bool)
	for idx, line := range result {
		if key, _, ok := parseKeyValue(line); ok {
			keyIndex[key] = idx
		} else {
			seenPlain[line] = true
		}
	}

	for _, line := range newLines {
		if key, _, ok := parseKeyValue(line); ok {
			if idx, dup := keyIndex[key]; dup {
				result[idx] = line
			} else {
				keyIndex[key] = len(result)
				result = append(result, line)
			}
			continue
		}
		if !seenPlain[line] {
			result = append(result, line)
			seenPlain[line] = true
		}
	}

	return strings.Join(result, "\n")
}
