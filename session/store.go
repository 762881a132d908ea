// Package session exposes typed accessors over the shared store for one
// conversation: chat history, decision text, user tier, and language. All
// fields of a session share one TTL, refreshed on every write.
//
// Storage failures never surface to callers as errors, with one exception
// (UserTier, see there). Reads degrade to the in-memory fallback when one is
// configured, and otherwise to empty values; a request must keep working
// (with reduced memory) while the store is down.
package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	chatcore "github.com/creastat/chatcore"
	"github.com/creastat/chatcore/kv"
)

// Session field suffixes under the session:{id}: namespace.
const (
	fieldChatHistory = "chat_history"
	fieldDecision    = "decision"
	fieldUserType    = "user_type"
	fieldLanguage    = "user_language"
)

// KV is the slice of the kv client the store needs.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	SetWithTTL(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
}

// Store reads and writes per-session fields. It is the sole writer of the
// session:{id}:* key namespace.
type Store struct {
	kv       KV
	fallback *kv.Memory
	log      *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithFallback enables degraded reads and writes through the process-local
// fallback while the shared store is unreachable.
func WithFallback(mem *kv.Memory) Option {
	return func(s *Store) { s.fallback = mem }
}

// WithLogger sets the logger for degraded-mode warnings.
func WithLogger(log *zap.Logger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// New creates a session store over the given kv client.
func New(client KV, opts ...Option) *Store {
	s := &Store{kv: client, log: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Key builds the store key for one session field, e.g.
// "session:abc-123:chat_history".
func Key(sessionID, field string) string {
	return "session:" + sessionID + ":" + field
}

// NewID returns a fresh opaque session id.
func NewID() string {
	return uuid.NewString()
}

// ValidID reports whether the id is a well-formed session id.
func ValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// ChatHistory returns the ordered turns for a session. Absent or
// undecodable history yields an empty slice: the caller treats the
// conversation as brand new rather than failing the request.
func (s *Store) ChatHistory(ctx context.Context, sessionID string) []chatcore.Message {
	raw, ok := s.get(ctx, Key(sessionID, fieldChatHistory))
	if !ok {
		return nil
	}
	var history []chatcore.Message
	if err := json.Unmarshal([]byte(raw), &history); err != nil {
		s.log.Warn("discarding undecodable chat history",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return nil
	}
	return history
}

// SaveChatHistory serializes and persists the full ordered history.
func (s *Store) SaveChatHistory(ctx context.Context, sessionID string, history []chatcore.Message) {
	if history == nil {
		history = []chatcore.Message{}
	}
	data, err := json.Marshal(history)
	if err != nil {
		s.log.Error("marshal chat history", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	s.set(ctx, Key(sessionID, fieldChatHistory), string(data))
}

// Decision returns the canonical decision text, or "" when none exists yet.
func (s *Store) Decision(ctx context.Context, sessionID string) string {
	raw, _ := s.get(ctx, Key(sessionID, fieldDecision))
	return raw
}

// SaveDecision persists the decision engine's canonical output.
func (s *Store) SaveDecision(ctx context.Context, sessionID, text string) {
	s.set(ctx, Key(sessionID, fieldDecision), text)
}

// UserTier returns the stored tier for a session. Absent or invalid values
// report false; such a session cannot be rate-limited and must be asked to
// choose a tier. Unlike the other readers, a store failure that the fallback
// cannot bridge is reported as an error: the rate limiter has to tell an
// outage apart from a user who never chose a tier.
func (s *Store) UserTier(ctx context.Context, sessionID string) (chatcore.Tier, bool, error) {
	key := Key(sessionID, fieldUserType)
	raw, found, err := s.kv.Get(ctx, key)
	if err != nil {
		if s.fallback != nil {
			if val, ok := s.fallback.Get(key); ok {
				tier, valid := chatcore.ParseTier(val)
				return tier, valid, nil
			}
		}
		s.log.Warn("store unavailable reading user tier", zap.String("session_id", sessionID))
		return "", false, fmt.Errorf("read user tier: %w", chatcore.ErrStoreUnavailable)
	}
	if !found {
		return "", false, nil
	}
	tier, valid := chatcore.ParseTier(raw)
	return tier, valid, nil
}

// SaveUserTier persists the session's tier.
func (s *Store) SaveUserTier(ctx context.Context, sessionID string, tier chatcore.Tier) {
	s.set(ctx, Key(sessionID, fieldUserType), string(tier))
}

// Language returns the session's resolved language.
func (s *Store) Language(ctx context.Context, sessionID string) (chatcore.Language, bool) {
	raw, ok := s.get(ctx, Key(sessionID, fieldLanguage))
	if !ok || raw == "" {
		return "", false
	}
	return chatcore.NormalizeLanguage(raw), true
}

// SaveLanguage persists the session's resolved language.
func (s *Store) SaveLanguage(ctx context.Context, sessionID string, lang chatcore.Language) {
	s.set(ctx, Key(sessionID, fieldLanguage), string(lang))
}

// Reset deletes every field for a session, used when the user restarts a
// conversation.
func (s *Store) Reset(ctx context.Context, sessionID string) {
	keys := []string{
		Key(sessionID, fieldChatHistory),
		Key(sessionID, fieldDecision),
		Key(sessionID, fieldLanguage),
		Key(sessionID, fieldUserType),
	}
	if err := s.kv.Delete(ctx, keys...); err != nil {
		s.log.Warn("store delete failed during reset", zap.String("session_id", sessionID), zap.Error(err))
	}
	if s.fallback != nil {
		s.fallback.Delete(keys...)
	}
}

// get reads one key, consulting the fallback only when the store itself is
// unavailable. A clean miss stays a miss.
func (s *Store) get(ctx context.Context, key string) (string, bool) {
	val, found, err := s.kv.Get(ctx, key)
	if err == nil {
		return val, found
	}
	if s.fallback == nil {
		return "", false
	}
	s.log.Warn("store unavailable, reading in-memory fallback", zap.String("key", key))
	return s.fallback.Get(key)
}

// set writes one key with TTL, shadowing into the fallback when the store
// is unavailable so the current conversation survives a short outage.
func (s *Store) set(ctx context.Context, key, value string) {
	err := s.kv.SetWithTTL(ctx, key, value)
	if err == nil {
		return
	}
	if s.fallback == nil {
		s.log.Warn("store unavailable, dropping session write", zap.String("key", key))
		return
	}
	s.log.Warn("store unavailable, writing in-memory fallback", zap.String("key", key))
	s.fallback.Set(key, value)
}
