package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chatcore "github.com/creastat/chatcore"
)

func turns(pairs ...[2]string) []chatcore.Message {
	var history []chatcore.Message
	for _, p := range pairs {
		history = append(history, chatcore.Message{Role: chatcore.Role(p[0]), Content: p[1]})
	}
	return history
}

func TestDerivePatchBareAnswerToSlotQuestion(t *testing.T) {
	e := NewEngine(DefaultLimits())
	history := turns(
		[2]string{"assistant", "ご出発はどこからですか？"},
		[2]string{"user", "東京"},
	)

	p, ok := e.DerivePatch(history, "")
	require.True(t, ok)
	assert.Equal(t, map[string]string{"出発地": "東京"}, p.Add)
	assert.Empty(t, p.Update)
}

func TestDerivePatchExplicitStatement(t *testing.T) {
	e := NewEngine(DefaultLimits())
	history := turns([2]string{"user", "目的地は京都"})

	p, ok := e.DerivePatch(history, "")
	require.True(t, ok)
	assert.Equal(t, map[string]string{"目的地": "京都"}, p.Add)
}

func TestDerivePatchScheduleRequiresDateLike(t *testing.T) {
	e := NewEngine(DefaultLimits())

	history := turns(
		[2]string{"assistant", "ご都合はいつですか？"},
		[2]string{"user", "3月10日"},
	)
	p, ok := e.DerivePatch(history, "")
	require.True(t, ok)
	assert.Equal(t, map[string]string{"日程": "3月10日"}, p.Add)

	// A non-date answer never lands in the schedule slot.
	history = turns(
		[2]string{"assistant", "ご都合はいつですか？"},
		[2]string{"user", "京都"},
	)
	_, ok = e.DerivePatch(history, "")
	assert.False(t, ok)
}

func TestDerivePatchRejectsNonAnswers(t *testing.T) {
	e := NewEngine(DefaultLimits())

	for _, answer := range []string{"わからない", "未定", "はい", "いいえ", "not sure", "？"} {
		history := turns(
			[2]string{"assistant", "目的地はどこに行きたいですか？"},
			[2]string{"user", answer},
		)
		_, ok := e.DerivePatch(history, "")
		assert.False(t, ok, "answer %q must not fill a slot", answer)
	}
}

func TestDerivePatchUpdatesChangedSlot(t *testing.T) {
	e := NewEngine(DefaultLimits())
	history := turns([2]string{"user", "出発地は大阪でお願いします"})

	p, ok := e.DerivePatch(history, "出発地：東京")
	require.True(t, ok)
	assert.Empty(t, p.Add)
	assert.Equal(t, "大阪でお願いします", p.Update["出発地"])
}

func TestDerivePatchNoChangeNoPatch(t *testing.T) {
	e := NewEngine(DefaultLimits())

	history := turns([2]string{"user", "出発地は東京"})
	_, ok := e.DerivePatch(history, "出発地：東京")
	assert.False(t, ok)

	_, ok = e.DerivePatch(nil, "出発地：東京")
	assert.False(t, ok)

	history = turns([2]string{"user", "こんにちは"})
	_, ok = e.DerivePatch(history, "")
	assert.False(t, ok)
}

func TestDerivePatchPendingSlotClearsAfterOneTurn(t *testing.T) {
	e := NewEngine(DefaultLimits())
	history := turns(
		[2]string{"assistant", "ご出発はどこからですか？"},
		[2]string{"user", "わからない"},
		[2]string{"user", "東京"},
	)

	// The armed slot only accepts the immediately following user turn; the
	// bare "東京" two turns later must not fill it.
	_, ok := e.DerivePatch(history, "")
	assert.False(t, ok)
}

func TestDerivePatchWindowsRecentTurnsOnly(t *testing.T) {
	e := NewEngine(DefaultLimits())

	var history []chatcore.Message
	history = append(history,
		chatcore.Message{Role: chatcore.RoleAssistant, Content: "ご出発はどこからですか？"},
		chatcore.Message{Role: chatcore.RoleUser, Content: "東京"},
	)
	for i := 0; i < derivePatchWindow; i++ {
		history = append(history, chatcore.Message{Role: chatcore.RoleUser, Content: "こんにちは"})
	}

	// The question/answer pair has scrolled out of the window.
	_, ok := e.DerivePatch(history, "")
	assert.False(t, ok)
}
