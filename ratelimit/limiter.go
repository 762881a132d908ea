// Package ratelimit enforces daily request caps per (session, tier) and
// globally across all sessions. Both counters are checked and advanced in a
// single server-side script so concurrent requests can never overshoot a cap
// through a read-then-write race, in this process or any other.
package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	chatcore "github.com/creastat/chatcore"
)

// Code classifies why a request was denied for reasons other than capacity.
type Code string

// CodeStoreUnavailable marks a fail-closed denial caused by the shared store
// being unreachable. Callers should answer "try again later", not "limit
// reached".
const CodeStoreUnavailable Code = "store_unavailable"

// Result is the outcome of one limit check.
type Result struct {
	// Allowed reports whether the request may proceed.
	Allowed bool

	// Count is the post-increment usage for the (session, tier) counter
	// when allowed; on a capacity denial it reports the limit itself.
	Count int

	// Limit is the per-tier daily cap that applied.
	Limit int

	// Tier is the resolved tier. Empty when no tier could be resolved, in
	// which case the caller must ask the user to choose one.
	Tier chatcore.Tier

	// GlobalExceeded is set when the shared daily cap, rather than the
	// per-tier cap, caused the denial. It takes priority when both trip.
	GlobalExceeded bool

	// Code is set for infra denials (see CodeStoreUnavailable) and empty
	// for capacity and precondition denials.
	Code Code
}

// Script return sentinels: the per-user and global caps were exceeded.
// In either case the script has already rolled both counters back.
const (
	userExceeded   = -1
	globalExceeded = -2
)

// checkScript atomically increments the user and global counters, arms their
// TTLs on first increment, and rolls both back when either cap is exceeded.
// KEYS: user counter, global counter. ARGV: user limit, global limit, TTL
// seconds. Returns the post-increment user count, or a sentinel.
var checkScript = redis.NewScript(`
local user_key = KEYS[1]
local total_key = KEYS[2]
local user_limit = tonumber(ARGV[1])
local total_limit = tonumber(ARGV[2])
local expire_time = tonumber(ARGV[3])

local user_val = redis.call("incr", user_key)
local total_val = redis.call("incr", total_key)

if user_val == 1 then
    redis.call("expire", user_key, expire_time)
end
if total_val == 1 then
    redis.call("expire", total_key, expire_time)
end

if user_val > user_limit or total_val > total_limit then
    redis.call("decr", user_key)
    redis.call("decr", total_key)
    if total_val > total_limit then
        return -2
    end
    return -1
end

return user_val
`)

// Config holds the daily caps.
type Config struct {
	// TierLimits maps each tier to its daily request cap.
	TierLimits map[chatcore.Tier]int

	// GlobalLimit caps requests per day across every session.
	GlobalLimit int

	// CounterTTL is set on counters at first increment. It outlives the
	// calendar day the key is named after, so rollover needs no cleanup.
	CounterTTL time.Duration
}

// DefaultConfig mirrors the production caps.
func DefaultConfig() Config {
	return Config{
		TierLimits: map[chatcore.Tier]int{
			chatcore.TierNormal:  50,
			chatcore.TierPremium: 150,
		},
		GlobalLimit: 500,
		CounterTTL:  48 * time.Hour,
	}
}

// ScriptRunner runs an atomic script against the shared store.
// *kv.Client satisfies it.
type ScriptRunner interface {
	Eval(ctx context.Context, script *redis.Script, keys []string, args ...any) (int64, error)
}

// TierSource resolves the tier previously stored for a session. A non-nil
// error means the tier could not be read because the store is down, as
// opposed to the session having none. *session.Store satisfies it.
type TierSource interface {
	UserTier(ctx context.Context, sessionID string) (chatcore.Tier, bool, error)
}

// Limiter checks and advances the daily counters.
type Limiter struct {
	cfg   Config
	store ScriptRunner
	tiers TierSource
	log   *zap.Logger
	now   func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithLogger sets the logger for script failures.
func WithLogger(log *zap.Logger) Option {
	return func(l *Limiter) {
		if log != nil {
			l.log = log
		}
	}
}

// New creates a limiter over the given store and tier source.
func New(cfg Config, store ScriptRunner, tiers TierSource, opts ...Option) *Limiter {
	l := &Limiter{
		cfg:   cfg,
		store: store,
		tiers: tiers,
		log:   zap.NewNop(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// UserKey returns the per-session counter key for the given day.
func UserKey(day time.Time, sessionID string, tier chatcore.Tier) string {
	return "dailyUsage:" + day.Format("2006-01-02") + ":" + sessionID + ":" + string(tier)
}

// GlobalKey returns the shared counter key for the given day.
func GlobalKey(day time.Time) string {
	return "dailyUsageTotal:" + day.Format("2006-01-02")
}

// ResolveTier resolves the effective tier: an explicit hint wins, otherwise
// the tier previously stored for the session. Returns false when neither
// yields a valid tier, and an error when the stored tier could not be read.
func (l *Limiter) ResolveTier(ctx context.Context, sessionID, hint string) (chatcore.Tier, bool, error) {
	if tier, ok := chatcore.ParseTier(hint); ok {
		return tier, true, nil
	}
	if sessionID == "" {
		return "", false, nil
	}
	return l.tiers.UserTier(ctx, sessionID)
}

// CheckAndIncrement resolves the tier and advances both daily counters in
// one atomic round trip. Usage is charged on attempt: a caller abandoning
// the request afterwards does not roll the counters back.
//
// A session with no resolvable tier is denied with no error code. That is a
// product precondition, not an infra failure. When the store is down,
// whether during tier resolution or the counter script, the limiter fails
// closed and reports CodeStoreUnavailable.
func (l *Limiter) CheckAndIncrement(ctx context.Context, sessionID, tierHint string) Result {
	tier, ok, err := l.ResolveTier(ctx, sessionID, tierHint)
	if err != nil {
		l.log.Error("tier lookup failed, denying request",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return Result{Code: CodeStoreUnavailable}
	}
	if !ok {
		return Result{}
	}
	limit := l.cfg.TierLimits[tier]

	day := l.now()
	keys := []string{UserKey(day, sessionID, tier), GlobalKey(day)}
	ttlSeconds := int(l.cfg.CounterTTL / time.Second)

	val, err := l.store.Eval(ctx, checkScript, keys,
		strconv.Itoa(limit),
		strconv.Itoa(l.cfg.GlobalLimit),
		strconv.Itoa(ttlSeconds),
	)
	if err != nil {
		l.log.Error("rate check script failed, denying request",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return Result{Limit: limit, Tier: tier, Code: CodeStoreUnavailable}
	}

	switch val {
	case userExceeded:
		return Result{Count: limit, Limit: limit, Tier: tier}
	case globalExceeded:
		return Result{Count: limit, Limit: limit, Tier: tier, GlobalExceeded: true}
	default:
		return Result{Allowed: true, Count: int(val), Limit: limit, Tier: tier}
	}
}
