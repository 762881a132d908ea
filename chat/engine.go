package chat

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	chatcore "github.com/creastat/chatcore"
	"github.com/creastat/chatcore/decision"
	"github.com/creastat/chatcore/lock"
	"github.com/creastat/chatcore/ratelimit"
	"github.com/creastat/chatcore/session"
)

// Status classifies the outcome of a turn. Everything except StatusOK is a
// structured negative outcome the caller renders as a specific localized
// message; none of them are errors.
type Status string

const (
	// StatusOK: the turn completed and produced a reply.
	StatusOK Status = "ok"
	// StatusBusy: a previous request for this session is still being
	// processed; the caller should retry shortly.
	StatusBusy Status = "busy"
	// StatusDenied: a daily cap was reached (see Result.Limit).
	StatusDenied Status = "denied"
	// StatusNeedTier: no tier is known for this session; the user must
	// choose one before chatting.
	StatusNeedTier Status = "need_tier"
	// StatusUnavailable: the shared store is down; try again later.
	StatusUnavailable Status = "unavailable"
	// StatusBlocked: the safety guard rejected the user's input.
	StatusBlocked Status = "blocked"
)

// ErrNotConfigured is returned when an optional collaborator needed by the
// requested operation was not provided.
var ErrNotConfigured = errors.New("collaborator not configured")

// Request is one inbound chat turn.
type Request struct {
	SessionID string
	Prompt    string
	Mode      chatcore.Mode
	// TierHint is the tier the caller claims for this request; it takes
	// precedence over the stored tier and is persisted when it wins.
	TierHint string
	// Language optionally forces the conversation language.
	Language string
}

// Result is the outcome of one turn.
type Result struct {
	Status   Status
	Reply    string
	Decision string
	Language chatcore.Language
	Limit    ratelimit.Result
}

// Config bounds per-turn work.
type Config struct {
	// HistoryTokenLimit and HistoryMessageLimit bound persisted history.
	// Non-positive disables the respective bound.
	HistoryTokenLimit   int
	HistoryMessageLimit int

	// MaxOutputChars caps the sanitized assistant reply. Non-positive
	// disables the cap.
	MaxOutputChars int

	// RetrieveLimit is how many guide snippets to fetch per turn.
	RetrieveLimit int
}

// DefaultConfig mirrors the production defaults.
func DefaultConfig() Config {
	return Config{
		HistoryTokenLimit:   4000,
		HistoryMessageLimit: 40,
		RetrieveLimit:       3,
	}
}

// Engine runs conversation turns.
type Engine struct {
	cfg       Config
	sessions  *session.Store
	limiter   *ratelimit.Limiter
	locks     *lock.Registry
	decisions *decision.Engine
	llm       LLM
	guard     Guard
	retriever Retriever
	archiver  Archiver
	log       *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithGuard enables content safety checking of user input and extraction
// output.
func WithGuard(g Guard) Option {
	return func(e *Engine) { e.guard = g }
}

// WithRetriever enables guide-snippet retrieval before the model call.
func WithRetriever(r Retriever) Option {
	return func(e *Engine) { e.retriever = r }
}

// WithArchiver enables FinalizePlan.
func WithArchiver(a Archiver) Option {
	return func(e *Engine) { e.archiver = a }
}

// WithLogger sets the logger for turn outcomes.
func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// New creates a turn engine over the given collaborators.
func New(cfg Config, sessions *session.Store, limiter *ratelimit.Limiter, locks *lock.Registry, decisions *decision.Engine, llm LLM, opts ...Option) *Engine {
	e := &Engine{
		cfg:       cfg,
		sessions:  sessions,
		limiter:   limiter,
		locks:     locks,
		decisions: decisions,
		llm:       llm,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// HandleTurn runs one conversation turn end to end. Negative outcomes
// (busy, rate-limited, missing tier, store down, guard block) are reported
// in Result.Status; the returned error is reserved for model failures.
//
// The session lock is released on every exit path. Usage already charged by
// the rate check is not rolled back when the turn fails afterwards.
func (e *Engine) HandleTurn(ctx context.Context, req Request) (Result, error) {
	if !e.locks.Acquire(req.SessionID) {
		return Result{Status: StatusBusy}, nil
	}
	defer e.locks.Release(req.SessionID)

	lim := e.limiter.CheckAndIncrement(ctx, req.SessionID, req.TierHint)
	if !lim.Allowed {
		return Result{Status: denialStatus(lim), Limit: lim}, nil
	}
	if hint, ok := chatcore.ParseTier(req.TierHint); ok && hint == lim.Tier {
		e.sessions.SaveUserTier(ctx, req.SessionID, lim.Tier)
	}

	lang := e.resolveLanguage(ctx, req)

	if e.guard != nil && !e.guard.Safe(ctx, req.Prompt) {
		dec := e.sessions.Decision(ctx, req.SessionID)
		if dec == "" {
			dec = decision.SafetyMessage(lang)
		}
		return Result{
			Status:   StatusBlocked,
			Reply:    decision.GuardBlockedMessage(lang),
			Decision: dec,
			Language: lang,
			Limit:    lim,
		}, nil
	}

	history := e.sessions.ChatHistory(ctx, req.SessionID)
	decisionText := e.decisions.Enforce(e.sessions.Decision(ctx, req.SessionID), req.Mode, lang)
	snippets := e.retrieve(ctx, req, lang)

	reply, err := e.llm.Reply(ctx, ReplyRequest{
		Mode:     req.Mode,
		Language: lang,
		History:  history,
		Decision: decisionText,
		Snippets: snippets,
		Prompt:   req.Prompt,
	})
	if err != nil {
		return Result{Language: lang, Limit: lim}, fmt.Errorf("model reply: %w", err)
	}
	reply = chatcore.SanitizeText(reply, e.cfg.MaxOutputChars)

	history = chatcore.AppendTurn(history, chatcore.RoleUser, req.Prompt)
	history = chatcore.AppendTurn(history, chatcore.RoleAssistant, reply)
	history = chatcore.TruncateHistory(history, e.cfg.HistoryTokenLimit, e.cfg.HistoryMessageLimit)
	e.sessions.SaveChatHistory(ctx, req.SessionID, history)

	decisionText = e.updateDecisions(ctx, req, history, decisionText, lang)

	e.log.Debug("turn completed",
		zap.String("session_id", req.SessionID),
		zap.String("mode", string(req.Mode)),
		zap.Int("usage", lim.Count))

	return Result{
		Status:   StatusOK,
		Reply:    reply,
		Decision: decisionText,
		Language: lang,
		Limit:    lim,
	}, nil
}

// Reset wipes all stored state for a session.
func (e *Engine) Reset(ctx context.Context, sessionID string) {
	e.sessions.Reset(ctx, sessionID)
}

// FinalizePlan hands the session's current decision state to the archiver.
func (e *Engine) FinalizePlan(ctx context.Context, sessionID string, mode chatcore.Mode) error {
	if e.archiver == nil {
		return fmt.Errorf("finalize plan: %w", ErrNotConfigured)
	}
	lang, _ := e.sessions.Language(ctx, sessionID)
	decisionText := e.decisions.Enforce(e.sessions.Decision(ctx, sessionID), mode, lang)
	return e.archiver.Archive(ctx, sessionID, mode, decisionText)
}

func denialStatus(lim ratelimit.Result) Status {
	switch {
	case lim.Code == ratelimit.CodeStoreUnavailable:
		return StatusUnavailable
	case lim.Tier == "":
		return StatusNeedTier
	default:
		return StatusDenied
	}
}

// resolveLanguage prefers an explicit request language, then the stored
// one, then script detection on the prompt. The result is persisted so the
// session stays in one language.
func (e *Engine) resolveLanguage(ctx context.Context, req Request) chatcore.Language {
	var lang chatcore.Language
	switch {
	case req.Language != "":
		lang = chatcore.NormalizeLanguage(req.Language)
	default:
		stored, ok := e.sessions.Language(ctx, req.SessionID)
		if ok {
			lang = stored
		} else if detected, ok := chatcore.DetectLanguage(req.Prompt); ok {
			lang = detected
		} else {
			lang = chatcore.DefaultLanguage
		}
	}
	e.sessions.SaveLanguage(ctx, req.SessionID, lang)
	return lang
}

func (e *Engine) retrieve(ctx context.Context, req Request, lang chatcore.Language) []string {
	if e.retriever == nil || e.cfg.RetrieveLimit <= 0 {
		return nil
	}
	snippets, err := e.retriever.Retrieve(ctx, req.Mode, lang, req.Prompt, e.cfg.RetrieveLimit)
	if err != nil {
		// Retrieval is best-effort; the turn proceeds without context.
		e.log.Warn("snippet retrieval failed",
			zap.String("session_id", req.SessionID),
			zap.Error(err))
		return nil
	}
	return snippets
}

// updateDecisions folds this turn's facts into decision state: heuristic
// slot answers first, then the model's extraction output. The previous
// state wins whenever the model output is unusable or unsafe.
func (e *Engine) updateDecisions(ctx context.Context, req Request, history []chatcore.Message, prev string, lang chatcore.Language) string {
	current := prev
	if patch, ok := e.decisions.DerivePatch(history, current); ok {
		current = e.decisions.ApplyPatch(current, patch, req.Mode, lang)
	}

	raw, err := e.llm.ExtractDecisions(ctx, ExtractRequest{
		Mode:     req.Mode,
		Language: lang,
		History:  history,
		Previous: current,
	})
	if err != nil {
		e.log.Warn("decision extraction failed, keeping previous state",
			zap.String("session_id", req.SessionID),
			zap.Error(err))
		e.sessions.SaveDecision(ctx, req.SessionID, current)
		return current
	}

	if e.guard != nil && !e.guard.Safe(ctx, raw) {
		e.sessions.SaveDecision(ctx, req.SessionID, current)
		return current
	}

	current = e.decisions.Reconcile(current, raw, req.Mode, lang)
	e.sessions.SaveDecision(ctx, req.SessionID, current)
	return current
}
