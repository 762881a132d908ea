package decision

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chatcore "github.com/creastat/chatcore"
)

func TestApplyPatchAddThenUpdate(t *testing.T) {
	e := NewEngine(DefaultLimits())

	state := e.ApplyPatch("", Patch{Add: map[string]string{"目的地": "京都"}},
		chatcore.ModeTravel, chatcore.LangJa)
	assert.Equal(t, "目的地：京都", state)

	// An update addressed by canonical key name lands on the same item.
	state = e.ApplyPatch(state, Patch{Update: map[string]string{"destination": "大阪"}},
		chatcore.ModeTravel, chatcore.LangJa)
	assert.Equal(t, "目的地：大阪", state)
}

func TestApplyPatchIdempotent(t *testing.T) {
	e := NewEngine(DefaultLimits())
	p := Patch{
		Add:    map[string]string{"目的地": "京都", "予算": "5万円"},
		Remove: []string{"日程"},
	}
	prev := "日程：未定\n人数：2人"

	once := e.ApplyPatch(prev, p, chatcore.ModeTravel, chatcore.LangJa)
	twice := e.ApplyPatch(once, p, chatcore.ModeTravel, chatcore.LangJa)
	assert.Equal(t, once, twice)
}

func TestReconcileAppliesStructuredPatch(t *testing.T) {
	e := NewEngine(DefaultLimits())

	got := e.Reconcile("目的地：京都", `{"update":{"目的地":"大阪"},"add":{"日程":"3月10日"}}`,
		chatcore.ModeTravel, chatcore.LangJa)
	assert.Equal(t, "目的地：大阪\n日程：3月10日", got)
}

func TestReconcileFallsBackToLineMerge(t *testing.T) {
	e := NewEngine(DefaultLimits())

	got := e.Reconcile("目的地：京都", "日程：3月10日\n目的地：大阪",
		chatcore.ModeTravel, chatcore.LangJa)
	assert.Equal(t, "目的地：大阪\n日程：3月10日", got)
}

func TestReconcileEmptyModelOutputKeepsState(t *testing.T) {
	e := NewEngine(DefaultLimits())

	got := e.Reconcile("目的地：京都", "", chatcore.ModeTravel, chatcore.LangJa)
	assert.Equal(t, "目的地：京都", got)

	got = e.Reconcile("", "", chatcore.ModeTravel, chatcore.LangJa)
	assert.Equal(t, DefaultMessage(chatcore.LangJa), got)
}

func TestReconcileIdempotentOnOwnOutput(t *testing.T) {
	e := NewEngine(DefaultLimits())

	state := e.Reconcile("", "目的地：京都\n温泉に入りたい", chatcore.ModeTravel, chatcore.LangJa)
	again := e.Reconcile(state, state, chatcore.ModeTravel, chatcore.LangJa)
	assert.Equal(t, state, again)
}

func TestReconcileSanitizesModelText(t *testing.T) {
	e := NewEngine(DefaultLimits())

	got := e.Reconcile("", "目的地：京\x00都", chatcore.ModeTravel, chatcore.LangJa)
	assert.Equal(t, "目的地：京都", got)
}

func TestPatchSequenceNeverExceedsItemCap(t *testing.T) {
	limits := Limits{MaxItems: 4, FlexKeyLimit: 2, MaxChars: 2000}
	e := NewEngine(limits)

	patches := []Patch{
		{Add: map[string]string{"目的地": "京都", "出発地": "東京"}},
		{Add: map[string]string{"日程": "3月1日", "人数": "2人"}},
		{Add: map[string]string{"こだわり": "静かな宿"}},
		{Update: map[string]string{"目的地": "大阪"}},
		{Add: map[string]string{"ペット": "犬連れ", "予算": "5万円"}},
		{Remove: []string{"人数"}},
	}

	state := ""
	for i, p := range patches {
		state = e.ApplyPatch(state, p, chatcore.ModeTravel, chatcore.LangJa)
		lines := strings.Split(state, "\n")
		require.LessOrEqual(t, len(lines), limits.MaxItems, "after patch %d: %q", i, state)
	}

	// Values pushed out of live items are still recoverable from the memo.
	assert.Contains(t, state, "静かな宿")
	assert.Contains(t, state, "犬連れ")
}

func TestEnforceLocalizesAcrossLanguages(t *testing.T) {
	e := NewEngine(DefaultLimits())

	ja := e.Enforce("destination: Kyoto", chatcore.ModeTravel, chatcore.LangJa)
	require.Equal(t, "目的地：Kyoto", ja)

	en := e.Enforce(ja, chatcore.ModeTravel, chatcore.LangEn)
	assert.Equal(t, "Destination：Kyoto", en)
}
