package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chatcore "github.com/creastat/chatcore"
	"github.com/creastat/chatcore/decision"
	"github.com/creastat/chatcore/lock"
	"github.com/creastat/chatcore/ratelimit"
	"github.com/creastat/chatcore/session"
)

// memKV is an in-memory session.KV for tests. Setting down makes every
// operation fail as if the store were unreachable.
type memKV struct {
	items map[string]string
	down  bool
}

func newMemKV() *memKV { return &memKV{items: make(map[string]string)} }

func (m *memKV) Get(ctx context.Context, key string) (string, bool, error) {
	if m.down {
		return "", false, chatcore.ErrStoreUnavailable
	}
	val, ok := m.items[key]
	return val, ok, nil
}

func (m *memKV) SetWithTTL(ctx context.Context, key, value string) error {
	if m.down {
		return chatcore.ErrStoreUnavailable
	}
	m.items[key] = value
	return nil
}

func (m *memKV) Delete(ctx context.Context, keys ...string) error {
	if m.down {
		return chatcore.ErrStoreUnavailable
	}
	for _, key := range keys {
		delete(m.items, key)
	}
	return nil
}

// allowRunner emulates the rate script: allow with increasing counts, or a
// fixed sentinel / error when configured.
type allowRunner struct {
	count    int64
	sentinel int64
	err      error
}

func (r *allowRunner) Eval(ctx context.Context, script *redis.Script, keys []string, args ...any) (int64, error) {
	if r.err != nil {
		return 0, r.err
	}
	if r.sentinel < 0 {
		return r.sentinel, nil
	}
	r.count++
	return r.count, nil
}

type fakeLLM struct {
	reply       string
	replyErr    error
	extract     string
	extractErr  error
	replyReqs   []ReplyRequest
	extractReqs []ExtractRequest
}

func (f *fakeLLM) Reply(ctx context.Context, req ReplyRequest) (string, error) {
	f.replyReqs = append(f.replyReqs, req)
	return f.reply, f.replyErr
}

func (f *fakeLLM) ExtractDecisions(ctx context.Context, req ExtractRequest) (string, error) {
	f.extractReqs = append(f.extractReqs, req)
	return f.extract, f.extractErr
}

type fakeGuard struct {
	unsafe map[string]bool
}

func (f *fakeGuard) Safe(ctx context.Context, text string) bool {
	return !f.unsafe[text]
}

type fakeRetriever struct {
	snippets []string
	err      error
}

func (f *fakeRetriever) Retrieve(ctx context.Context, mode chatcore.Mode, lang chatcore.Language, query string, limit int) ([]string, error) {
	return f.snippets, f.err
}

type fakeArchiver struct {
	sessionID string
	mode      chatcore.Mode
	decision  string
	err       error
}

func (f *fakeArchiver) Archive(ctx context.Context, sessionID string, mode chatcore.Mode, decision string) error {
	f.sessionID = sessionID
	f.mode = mode
	f.decision = decision
	return f.err
}

type testHarness struct {
	engine   *Engine
	kv       *memKV
	runner   *allowRunner
	llm      *fakeLLM
	sessions *session.Store
	locks    *lock.Registry
}

func newHarness(t *testing.T, opts ...Option) *testHarness {
	t.Helper()
	h := &testHarness{
		kv:     newMemKV(),
		runner: &allowRunner{},
		llm: &fakeLLM{
			reply:   "いいですね！計画を立てましょう。",
			extract: `{"add":{"目的地":"京都"}}`,
		},
		locks: lock.NewRegistry(),
	}
	h.sessions = session.New(h.kv)
	limiter := ratelimit.New(ratelimit.DefaultConfig(), h.runner, h.sessions)
	h.engine = New(DefaultConfig(), h.sessions, limiter, h.locks,
		decision.NewEngine(decision.DefaultLimits()), h.llm, opts...)
	return h
}

func travelReq() Request {
	return Request{
		SessionID: "s1",
		Prompt:    "京都に行きたいです",
		Mode:      chatcore.ModeTravel,
		TierHint:  "normal",
	}
}

func TestHandleTurnFullFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.engine.HandleTurn(ctx, travelReq())
	require.NoError(t, err)

	assert.Equal(t, StatusOK, res.Status)
	assert.Equal(t, "いいですね！計画を立てましょう。", res.Reply)
	assert.Equal(t, "目的地：京都", res.Decision)
	assert.Equal(t, chatcore.LangJa, res.Language)
	assert.Equal(t, 1, res.Limit.Count)
	assert.Equal(t, chatcore.TierNormal, res.Limit.Tier)

	// Everything was persisted.
	history := h.sessions.ChatHistory(ctx, "s1")
	require.Len(t, history, 2)
	assert.Equal(t, chatcore.RoleUser, history[0].Role)
	assert.Equal(t, "京都に行きたいです", history[0].Content)
	assert.Equal(t, chatcore.RoleAssistant, history[1].Role)
	assert.Equal(t, "目的地：京都", h.sessions.Decision(ctx, "s1"))
	tier, ok, err := h.sessions.UserTier(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, chatcore.TierNormal, tier)

	// The lock is free again.
	assert.True(t, h.locks.Acquire("s1"))
	h.locks.Release("s1")
}

func TestHandleTurnBusy(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.locks.Acquire("s1"))
	defer h.locks.Release("s1")

	res, err := h.engine.HandleTurn(context.Background(), travelReq())
	require.NoError(t, err)
	assert.Equal(t, StatusBusy, res.Status)
	assert.Empty(t, h.llm.replyReqs, "a busy turn must not reach the model")
}

func TestHandleTurnNeedTier(t *testing.T) {
	h := newHarness(t)
	req := travelReq()
	req.TierHint = ""

	res, err := h.engine.HandleTurn(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StatusNeedTier, res.Status)
	assert.Empty(t, h.llm.replyReqs)
	assert.Zero(t, h.runner.count, "no usage may be charged without a tier")
}

func TestHandleTurnDenied(t *testing.T) {
	h := newHarness(t)
	h.runner.sentinel = -1

	res, err := h.engine.HandleTurn(context.Background(), travelReq())
	require.NoError(t, err)
	assert.Equal(t, StatusDenied, res.Status)
	assert.Equal(t, res.Limit.Limit, res.Limit.Count)
	assert.Empty(t, h.llm.replyReqs)
}

func TestHandleTurnGlobalDenied(t *testing.T) {
	h := newHarness(t)
	h.runner.sentinel = -2

	res, err := h.engine.HandleTurn(context.Background(), travelReq())
	require.NoError(t, err)
	assert.Equal(t, StatusDenied, res.Status)
	assert.True(t, res.Limit.GlobalExceeded)
}

func TestHandleTurnStoreUnavailable(t *testing.T) {
	h := newHarness(t)
	h.runner.err = errors.New("connection refused")

	res, err := h.engine.HandleTurn(context.Background(), travelReq())
	require.NoError(t, err)
	assert.Equal(t, StatusUnavailable, res.Status)
	assert.Equal(t, ratelimit.CodeStoreUnavailable, res.Limit.Code)
	assert.Empty(t, h.llm.replyReqs)
}

func TestHandleTurnStoreDownWithoutHint(t *testing.T) {
	h := newHarness(t)
	h.kv.down = true
	req := travelReq()
	req.TierHint = ""

	// The tier is unreadable, not absent: the user must not be asked to
	// choose a tier they may already have.
	res, err := h.engine.HandleTurn(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StatusUnavailable, res.Status)
	assert.Equal(t, ratelimit.CodeStoreUnavailable, res.Limit.Code)
	assert.Empty(t, h.llm.replyReqs)
}

func TestHandleTurnGuardBlocksInput(t *testing.T) {
	req := travelReq()
	h := newHarness(t, WithGuard(&fakeGuard{unsafe: map[string]bool{req.Prompt: true}}))
	ctx := context.Background()

	res, err := h.engine.HandleTurn(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, StatusBlocked, res.Status)
	assert.Equal(t, decision.GuardBlockedMessage(chatcore.LangJa), res.Reply)
	assert.Equal(t, decision.SafetyMessage(chatcore.LangJa), res.Decision)
	assert.Empty(t, h.llm.replyReqs)
	assert.Empty(t, h.sessions.ChatHistory(ctx, req.SessionID), "blocked input must not enter history")
}

func TestHandleTurnModelError(t *testing.T) {
	h := newHarness(t)
	h.llm.replyErr = errors.New("model timeout")
	ctx := context.Background()

	res, err := h.engine.HandleTurn(ctx, travelReq())
	require.Error(t, err)
	assert.NotEqual(t, StatusOK, res.Status, "a failed turn must not report success")
	assert.Empty(t, h.sessions.ChatHistory(ctx, "s1"), "a failed turn must not persist history")
	// Usage was charged on attempt and is not rolled back.
	assert.Equal(t, int64(1), h.runner.count)
	// The lock is released despite the failure.
	assert.True(t, h.locks.Acquire("s1"))
	h.locks.Release("s1")
}

func TestHandleTurnHeuristicPatchWithoutModelOutput(t *testing.T) {
	h := newHarness(t)
	h.llm.extract = ""
	req := travelReq()
	req.Prompt = "出発地は東京"

	res, err := h.engine.HandleTurn(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, res.Status)
	assert.Equal(t, "出発地：東京", res.Decision)
}

func TestHandleTurnUnsafeExtractionKeepsPreviousState(t *testing.T) {
	const unsafeExtract = "危険な内容：..."
	h := newHarness(t, WithGuard(&fakeGuard{unsafe: map[string]bool{unsafeExtract: true}}))
	h.llm.extract = unsafeExtract
	ctx := context.Background()

	res, err := h.engine.HandleTurn(ctx, travelReq())
	require.NoError(t, err)
	assert.Equal(t, StatusOK, res.Status)
	// The unsafe extraction never reaches decision state.
	assert.Equal(t, decision.DefaultMessage(chatcore.LangJa), res.Decision)
	assert.Equal(t, decision.DefaultMessage(chatcore.LangJa), h.sessions.Decision(ctx, "s1"))
}

func TestHandleTurnRetrieverFailureTolerated(t *testing.T) {
	h := newHarness(t, WithRetriever(&fakeRetriever{err: errors.New("vector store down")}))

	res, err := h.engine.HandleTurn(context.Background(), travelReq())
	require.NoError(t, err)
	assert.Equal(t, StatusOK, res.Status)
	require.Len(t, h.llm.replyReqs, 1)
	assert.Empty(t, h.llm.replyReqs[0].Snippets)
}

func TestHandleTurnSnippetsReachModel(t *testing.T) {
	h := newHarness(t, WithRetriever(&fakeRetriever{snippets: []string{"京都の春は桜が見頃です。"}}))

	_, err := h.engine.HandleTurn(context.Background(), travelReq())
	require.NoError(t, err)
	require.Len(t, h.llm.replyReqs, 1)
	assert.Equal(t, []string{"京都の春は桜が見頃です。"}, h.llm.replyReqs[0].Snippets)
}

func TestHandleTurnLanguageSticksToSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	req := travelReq()
	req.Prompt = "I want to visit Kyoto"
	res, err := h.engine.HandleTurn(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, chatcore.LangEn, res.Language)

	// The next turn keeps the stored language even for ambiguous input.
	req.Prompt = "123"
	res, err = h.engine.HandleTurn(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, chatcore.LangEn, res.Language)
}

func TestFinalizePlan(t *testing.T) {
	archiver := &fakeArchiver{}
	h := newHarness(t, WithArchiver(archiver))
	ctx := context.Background()

	h.sessions.SaveDecision(ctx, "s1", "目的地：京都")
	h.sessions.SaveLanguage(ctx, "s1", chatcore.LangJa)

	require.NoError(t, h.engine.FinalizePlan(ctx, "s1", chatcore.ModeTravel))
	assert.Equal(t, "s1", archiver.sessionID)
	assert.Equal(t, chatcore.ModeTravel, archiver.mode)
	assert.Equal(t, "目的地：京都", archiver.decision)
}

func TestFinalizePlanWithoutArchiver(t *testing.T) {
	h := newHarness(t)
	err := h.engine.FinalizePlan(context.Background(), "s1", chatcore.ModeTravel)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestReset(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.HandleTurn(ctx, travelReq())
	require.NoError(t, err)
	require.NotEmpty(t, h.sessions.Decision(ctx, "s1"))

	h.engine.Reset(ctx, "s1")
	assert.Empty(t, h.sessions.Decision(ctx, "s1"))
	assert.Empty(t, h.sessions.ChatHistory(ctx, "s1"))
}
