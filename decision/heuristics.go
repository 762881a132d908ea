package decision

import (
	"regexp"
	"strings"

	chatcore "github.com/creastat/chatcore"
)

// Slot heuristics: when the model returns no parseable patch, recent turns
// are scanned for slot-question / slot-answer pairs so obvious facts are
// still captured. Slots are named by their raw Japanese labels and
// canonicalized later by the schema alias tables.
var slotOrder = []string{"出発地", "目的地", "日程"}

var slotQuestionPatterns = map[string]*regexp.Regexp{
	"出発地": regexp.MustCompile(`(?i)(出発|出発地|出発地点).*(どこ|どちら|どこから|どちらから)|(departure|origin|from).*(where|which|location)`),
	"目的地": regexp.MustCompile(`(?i)(目的地|行き先|旅行先|行きたい場所|どこに行きたい)|(destination|where to|where do you want to go|travel to)`),
	"日程":  regexp.MustCompile(`(?i)(日程|いつ|ご都合|何日|何泊|何月|何日から)|(dates|date|schedule|when)`),
}

var slotValuePatterns = map[string]*regexp.Regexp{
	"出発地": regexp.MustCompile(`(?i)(出発地|出発地点|出発は|出発|departure|origin)\s*(?:は|:|：|is)?\s*(.+)`),
	"目的地": regexp.MustCompile(`(?i)(目的地|行き先|旅行先|行きたい場所|行き先は|destination)\s*(?:は|:|：|is)?\s*(.+)`),
	"日程":  regexp.MustCompile(`(?i)(日程|日付|出発日|旅行日程|ご都合|dates|date|schedule)\s*(?:は|:|：|is)?\s*(.+)`),
}

var unknownAnswerRe = regexp.MustCompile(`(?i)^(?:\?|？|わからない|不明|未定|まだ|さっき言った|前に言った|そのまま|not sure|unknown|tbd|later|no idea|same as before|as before)$`)

var dateLikeRe = regexp.MustCompile(`(\d{4}[-/]\d{1,2}[-/]\d{1,2}|\d{1,2}[-/]\d{1,2}|\d{4}年\d{1,2}月\d{1,2}日|\d{1,2}月\d{1,2}日)`)

var dateWordsJa = []string{"今日", "明日", "明後日", "あさって", "今週", "来週", "再来週", "来月", "週末", "平日"}
var dateWordsEn = []string{"today", "tomorrow", "this week", "next week", "weekend", "weekday", "next month"}

var yesNoTokens = map[string]bool{
	"はい": true, "いいえ": true, "うん": true, "うーん": true,
	"yes": true, "no": true, "y": true, "n": true, "ok": true,
}

// derivePatchWindow bounds how far back the heuristics look.
const derivePatchWindow = 20

func isDateLike(text string) bool {
	if text == "" {
		return false
	}
	if dateLikeRe.MatchString(text) {
		return true
	}
	for _, token := range dateWordsJa {
		if strings.Contains(text, token) {
			return true
		}
	}
	lowered := strings.ToLower(text)
	for _, token := range dateWordsEn {
		if strings.Contains(lowered, token) {
			return true
		}
	}
	return false
}

// extractSlotValue pulls a candidate value for the slot out of user text.
func extractSlotValue(slot, text string) string {
	pattern, ok := slotValuePatterns[slot]
	if !ok || text == "" {
		return ""
	}
	m := pattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return normalizeValue(m[2])
}

// isValidSlotValue rejects empty, yes/no, and "don't know" style answers,
// and requires date-likeness to match the slot: the schedule slot needs a
// date, the place slots must not look like one.
func isValidSlotValue(slot, text string) bool {
	cleaned := normalizeValue(text)
	if cleaned == "" {
		return false
	}
	if yesNoTokens[strings.ToLower(cleaned)] {
		return false
	}
	if unknownAnswerRe.MatchString(cleaned) {
		return false
	}
	if slot == "日程" {
		return isDateLike(cleaned)
	}
	return !isDateLike(cleaned)
}

// DerivePatch infers an add/update patch from recent conversation turns.
// An assistant turn asking a slot question arms that slot; the following
// user turn answers it, either explicitly ("出発地は東京") or bare ("東京").
// Returns false when nothing new or changed was found.
func (e *Engine) DerivePatch(history []chatcore.Message, prevText string) (Patch, bool) {
	if len(history) == 0 {
		return Patch{}, false
	}

	existing := make(map[string]string)
	items, _, _ := parseItems(prevText)
	for _, it := range items {
		if it.kind == kvItem {
			existing[it.key] = it.value
		}
	}
	decided := make(map[string]string, len(existing))
	for k, v := range existing {
		decided[k] = v
	}

	recent := history
	if len(recent) > derivePatchWindow {
		recent = recent[len(recent)-derivePatchWindow:]
	}

	pendingSlot := ""
	for _, msg := range recent {
		if msg.Role == chatcore.RoleAssistant {
			pendingSlot = ""
			for _, slot := range slotOrder {
				if slotQuestionPatterns[slot].MatchString(msg.Content) {
					pendingSlot = slot
					break
				}
			}
			continue
		}

		userText := normalizeValue(msg.Content)
		if userText == "" {
			pendingSlot = ""
			continue
		}

		handled := false
		for _, slot := range slotOrder {
			value := extractSlotValue(slot, userText)
			if value != "" && isValidSlotValue(slot, value) {
				decided[slot] = value
				handled = true
				pendingSlot = ""
			}
		}
		if handled {
			continue
		}

		if pendingSlot != "" && isValidSlotValue(pendingSlot, userText) {
			decided[pendingSlot] = userText
		}
		pendingSlot = ""
	}

	add := make(map[string]string)
	update := make(map[string]string)
	for key, value := range decided {
		if prev, ok := existing[key]; !ok {
			add[key] = value
		} else if prev != value {
			update[key] = value
		}
	}

	if len(add) == 0 && len(update) == 0 {
		return Patch{}, false
	}
	return Patch{Add: add, Update: update}, true
}
