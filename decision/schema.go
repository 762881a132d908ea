package decision

import (
	"regexp"
	"strings"
	"sync"

	chatcore "github.com/creastat/chatcore"
)

// Localized messages rendered in place of, or instead of, decision text.
var (
	defaultMessages = map[chatcore.Language]string{
		chatcore.LangJa: "決定している項目がありません。",
		chatcore.LangEn: "No decisions yet.",
	}
	errorMessages = map[chatcore.Language]string{
		chatcore.LangJa: "決定事項の更新中にエラーが発生しました。",
		chatcore.LangEn: "Failed to update decisions.",
	}
	safetyMessages = map[chatcore.Language]string{
		chatcore.LangJa: "安全性の理由で表示できません。",
		chatcore.LangEn: "This content can't be shown for safety reasons.",
	}
	guardBlockedMessages = map[chatcore.Language]string{
		chatcore.LangJa: "それには答えられません",
		chatcore.LangEn: "I can't answer that.",
	}

	memoKeys = map[chatcore.Language]string{
		chatcore.LangJa: "メモ",
		chatcore.LangEn: "Notes",
	}
)

// ignoredLines are sentinels that must never be parsed as decision content.
var ignoredLines = map[string]bool{
	defaultMessages[chatcore.LangJa]: true,
	defaultMessages[chatcore.LangEn]: true,
	"決定事項がありません。":                    true,
	"決定している項目はありません。":                true,
	errorMessages[chatcore.LangJa]:   true,
	errorMessages[chatcore.LangEn]:   true,
	"Empty":                          true,
	"{}":                             true,
	"[]":                             true,
}

// DefaultMessage is the localized "no decisions yet" sentinel.
func DefaultMessage(lang chatcore.Language) string {
	return localized(defaultMessages, lang)
}

// ErrorMessage is shown when reconciliation itself failed.
func ErrorMessage(lang chatcore.Language) string {
	return localized(errorMessages, lang)
}

// SafetyMessage replaces decision text that failed the safety check.
func SafetyMessage(lang chatcore.Language) string {
	return localized(safetyMessages, lang)
}

// GuardBlockedMessage is the reply for guard-blocked user input.
func GuardBlockedMessage(lang chatcore.Language) string {
	return localized(guardBlockedMessages, lang)
}

// MemoKey is the localized label of the overflow memo field.
func MemoKey(lang chatcore.Language) string {
	return localized(memoKeys, lang)
}

func localized(m map[chatcore.Language]string, lang chatcore.Language) string {
	if v, ok := m[chatcore.NormalizeLanguage(string(lang))]; ok {
		return v
	}
	return m[chatcore.DefaultLanguage]
}

// schema describes one mode's fixed decision keys: display labels per
// language plus extra accepted aliases per canonical key.
type schema struct {
	labels  map[chatcore.Language]map[string]string
	aliases map[string][]string
}

var schemasByMode = map[chatcore.Mode]schema{
	chatcore.ModeTravel: {
		labels: map[chatcore.Language]map[string]string{
			chatcore.LangJa: {
				"destination":   "目的地",
				"departure":     "出発地",
				"dates":         "日程",
				"travelers":     "人数",
				"budget":        "予算",
				"transport":     "交通手段",
				"accommodation": "宿泊",
				"companions":    "同行者",
			},
			chatcore.LangEn: {
				"destination":   "Destination",
				"departure":     "Departure",
				"dates":         "Dates",
				"travelers":     "Travelers",
				"budget":        "Budget",
				"transport":     "Transport",
				"accommodation": "Accommodation",
				"companions":    "Companions",
			},
		},
		aliases: map[string][]string{
			"destination":   {"行き先", "旅行先", "destinations"},
			"departure":     {"出発地点", "出発", "origin", "from"},
			"dates":         {"日付", "旅行日程", "schedule", "date", "when"},
			"travelers":     {"人数", "旅行人数", "people", "guests"},
			"budget":        {"費用", "price", "price range"},
			"transport":     {"交通", "移動手段", "transportation", "transit"},
			"accommodation": {"ホテル", "宿", "stay", "lodging"},
			"companions":    {"同行", "同伴者", "companion", "companions"},
		},
	},
	chatcore.ModeReply: {
		labels: map[chatcore.Language]map[string]string{
			chatcore.LangJa: {
				"response_policy": "返信方針",
				"tone":            "トーン",
				"length":          "長さ",
				"purpose":         "目的",
				"key_points":      "伝えたい内容",
				"avoid":           "避けたい内容",
			},
			chatcore.LangEn: {
				"response_policy": "Response policy",
				"tone":            "Tone",
				"length":          "Length",
				"purpose":         "Purpose",
				"key_points":      "Key points",
				"avoid":           "Avoid",
			},
		},
		aliases: map[string][]string{
			"response_policy": {"返答方針", "返信の方針", "reply policy", "response"},
			"tone":            {"口調"},
			"length":          {"文字数", "word count"},
			"purpose":         {"狙い", "goal"},
			"key_points":      {"要点", "伝えたいこと", "message"},
			"avoid":           {"避けたいこと", "ng", "don't mention"},
		},
	},
	chatcore.ModeFitness: {
		labels: map[chatcore.Language]map[string]string{
			chatcore.LangJa: {
				"goal":        "目標",
				"frequency":   "頻度",
				"time":        "時間",
				"experience":  "経験",
				"environment": "環境",
				"constraints": "制約",
				"diet":        "食事方針",
			},
			chatcore.LangEn: {
				"goal":        "Goal",
				"frequency":   "Frequency",
				"time":        "Time",
				"experience":  "Experience",
				"environment": "Environment",
				"constraints": "Constraints",
				"diet":        "Diet",
			},
		},
		aliases: map[string][]string{
			"goal":        {"目的"},
			"frequency":   {"回数", "per week"},
			"time":        {"duration", "minutes"},
			"experience":  {"経験値", "level"},
			"environment": {"設備", "equipment"},
			"constraints": {"制限", "怪我", "injury", "limitations"},
			"diet":        {"食事", "nutrition"},
		},
	},
	chatcore.ModeJob: {
		labels: map[chatcore.Language]map[string]string{
			chatcore.LangJa: {
				"company":    "対象企業",
				"role":       "職種",
				"prompt":     "設問文",
				"word_count": "文字数",
				"self_pr":    "自己PR要素",
				"gakuchika":  "ガクチカ要素",
				"motive":     "志望動機要素",
				"interview":  "面接対策方針",
			},
			chatcore.LangEn: {
				"company":    "Company",
				"role":       "Role",
				"prompt":     "Prompt",
				"word_count": "Word count",
				"self_pr":    "Self PR",
				"gakuchika":  "Gakuchika",
				"motive":     "Motivation",
				"interview":  "Interview prep",
			},
		},
		aliases: map[string][]string{
			"company":    {"企業"},
			"role":       {"ポジション", "position"},
			"prompt":     {"質問", "question"},
			"word_count": {"字数"},
			"self_pr":    {"自己PR"},
			"gakuchika":  {"ガクチカ"},
			"motive":     {"志望動機"},
			"interview":  {"面接方針", "interview"},
		},
	},
	chatcore.ModeStudy: {
		labels: map[chatcore.Language]map[string]string{
			chatcore.LangJa: {
				"class":      "授業名",
				"scope":      "範囲",
				"goal":       "学習目標",
				"key_points": "重要ポイント",
				"terms":      "用語",
				"questions":  "確認問題",
				"next_task":  "次のタスク",
			},
			chatcore.LangEn: {
				"class":      "Class",
				"scope":      "Scope",
				"goal":       "Learning goal",
				"key_points": "Key points",
				"terms":      "Terms",
				"questions":  "Check questions",
				"next_task":  "Next task",
			},
		},
		aliases: map[string][]string{
			"class":      {"科目", "course"},
			"scope":      {"coverage"},
			"goal":       {"目標"},
			"key_points": {"要点"},
			"terms":      {"vocabulary"},
			"questions":  {"確認", "practice questions"},
			"next_task":  {"次やること"},
		},
	},
}

var aliasSeparatorRe = regexp.MustCompile(`[\s_\-./]+`)

// normalizeAlias folds case, separators, and colons out of a key so label
// variants compare equal.
func normalizeAlias(key string) string {
	cleaned := strings.ToLower(strings.TrimSpace(key))
	cleaned = aliasSeparatorRe.ReplaceAllString(cleaned, "")
	cleaned = strings.NewReplacer(":", "", "：", "").Replace(cleaned)
	return cleaned
}

// Alias lookups are built once per mode and cached: every label in every
// language plus the extra aliases, all mapped to the canonical key.
var (
	aliasCacheMu sync.Mutex
	aliasCache   = make(map[chatcore.Mode]map[string]string)
)

func aliasLookup(mode chatcore.Mode) map[string]string {
	aliasCacheMu.Lock()
	defer aliasCacheMu.Unlock()

	if lookup, ok := aliasCache[mode]; ok {
		return lookup
	}

	lookup := make(map[string]string)
	sc := schemasByMode[mode]
	for _, labels := range sc.labels {
		for canonical, label := range labels {
			lookup[normalizeAlias(label)] = canonical
		}
	}
	for canonical, aliases := range sc.aliases {
		for _, alias := range aliases {
			lookup[normalizeAlias(alias)] = canonical
		}
	}
	aliasCache[mode] = lookup
	return lookup
}

// canonicalKey resolves a raw key label to the mode's canonical key.
func canonicalKey(key string, mode chatcore.Mode) (string, bool) {
	if key == "" {
		return "", false
	}
	canonical, ok := aliasLookup(mode)[normalizeAlias(key)]
	return canonical, ok
}

// allowedKeys returns the canonical key set of a mode's schema.
func allowedKeys(mode chatcore.Mode) map[string]bool {
	allowed := make(map[string]bool)
	for _, labels := range schemasByMode[mode].labels {
		for canonical := range labels {
			allowed[canonical] = true
		}
	}
	return allowed
}

// labelFor resolves the display label of a canonical key in the target
// language, falling back to Japanese labels, then the canonical name.
func labelFor(mode chatcore.Mode, lang chatcore.Language, canonical string) string {
	labelsByLang := schemasByMode[mode].labels
	labels, ok := labelsByLang[chatcore.NormalizeLanguage(string(lang))]
	if !ok {
		labels = labelsByLang[chatcore.DefaultLanguage]
	}
	if label, ok := labels[canonical]; ok {
		return label
	}
	return canonical
}

// isMemoKey reports whether a key addresses the free-text memo field in any
// supported language.
func isMemoKey(key string) bool {
	normalized := normalizeAlias(key)
	for _, memoKey := range memoKeys {
		if normalized == normalizeAlias(memoKey) {
			return true
		}
	}
	return false
}
