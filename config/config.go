// Package config loads service configuration from the environment on top of
// each package's defaults. Unset variables keep the default; malformed
// values are an error rather than a silent fallback.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	chatcore "github.com/creastat/chatcore"
	"github.com/creastat/chatcore/chat"
	"github.com/creastat/chatcore/decision"
	"github.com/creastat/chatcore/kv"
	"github.com/creastat/chatcore/ratelimit"
)

// Qdrant holds guide store connection settings.
type Qdrant struct {
	URL            string
	APIKey         string
	CollectionName string
}

// Supabase holds plan archive connection settings.
type Supabase struct {
	URL    string
	APIKey string
	Table  string
}

// Config aggregates the settings of every package in the service.
type Config struct {
	Store    kv.Config
	Rate     ratelimit.Config
	Decision decision.Limits
	Chat     chat.Config
	Qdrant   Qdrant
	Supabase Supabase
}

// Load builds the configuration from the environment.
func Load() (Config, error) {
	cfg := Config{
		Store:    kv.DefaultConfig(),
		Rate:     ratelimit.DefaultConfig(),
		Decision: decision.DefaultLimits(),
		Chat:     chat.DefaultConfig(),
	}

	var err error
	load := func(f func() error) {
		if err == nil {
			err = f()
		}
	}

	load(func() error { return envString("REDIS_URL", &cfg.Store.Addr) })
	load(func() error { return envSeconds("REDIS_SESSION_TTL_SECONDS", &cfg.Store.SessionTTL) })
	load(func() error { return envSeconds("REDIS_CONNECT_TIMEOUT_SECONDS", &cfg.Store.ConnectTimeout) })
	load(func() error { return envSeconds("REDIS_SOCKET_TIMEOUT_SECONDS", &cfg.Store.SocketTimeout) })
	load(func() error { return envSeconds("REDIS_HEALTH_CHECK_INTERVAL_SECONDS", &cfg.Store.HealthCheckInterval) })
	load(func() error { return envInt("REDIS_RECONNECT_RETRIES", &cfg.Store.ReconnectRetries) })
	load(func() error { return envMillis("REDIS_RECONNECT_INITIAL_DELAY_MS", &cfg.Store.ReconnectInitialDelay) })
	load(func() error { return envMillis("REDIS_RECONNECT_MAX_DELAY_MS", &cfg.Store.ReconnectMaxDelay) })
	load(func() error { return envMillis("REDIS_RECONNECT_MIN_INTERVAL_MS", &cfg.Store.ReconnectMinInterval) })
	load(func() error { return envBool("REDIS_FAIL_FAST", &cfg.Store.FailFast) })
	load(func() error { return envBool("REDIS_ALLOW_FALLBACK", &cfg.Store.AllowFallback) })

	normalLimit := cfg.Rate.TierLimits[chatcore.TierNormal]
	premiumLimit := cfg.Rate.TierLimits[chatcore.TierPremium]
	load(func() error { return envInt("DAILY_LIMIT_NORMAL", &normalLimit) })
	load(func() error { return envInt("DAILY_LIMIT_PREMIUM", &premiumLimit) })
	load(func() error { return envInt("DAILY_LIMIT_TOTAL", &cfg.Rate.GlobalLimit) })
	load(func() error { return envSeconds("DAILY_LIMIT_TTL_SECONDS", &cfg.Rate.CounterTTL) })
	cfg.Rate.TierLimits = map[chatcore.Tier]int{
		chatcore.TierNormal:  normalLimit,
		chatcore.TierPremium: premiumLimit,
	}

	load(func() error { return envInt("DECISION_MAX_ITEMS", &cfg.Decision.MaxItems) })
	load(func() error { return envInt("DECISION_FLEX_KEY_LIMIT", &cfg.Decision.FlexKeyLimit) })
	load(func() error { return envInt("MAX_DECISION_CHARS", &cfg.Decision.MaxChars) })

	load(func() error { return envInt("HISTORY_TOKEN_LIMIT", &cfg.Chat.HistoryTokenLimit) })
	load(func() error { return envInt("HISTORY_MESSAGE_LIMIT", &cfg.Chat.HistoryMessageLimit) })
	load(func() error { return envInt("MAX_OUTPUT_CHARS", &cfg.Chat.MaxOutputChars) })
	load(func() error { return envInt("GUIDE_RETRIEVE_LIMIT", &cfg.Chat.RetrieveLimit) })

	load(func() error { return envString("QDRANT_URL", &cfg.Qdrant.URL) })
	load(func() error { return envString("QDRANT_API_KEY", &cfg.Qdrant.APIKey) })
	load(func() error { return envString("QDRANT_COLLECTION", &cfg.Qdrant.CollectionName) })

	load(func() error { return envString("SUPABASE_URL", &cfg.Supabase.URL) })
	load(func() error { return envString("SUPABASE_KEY", &cfg.Supabase.APIKey) })
	load(func() error { return envString("SUPABASE_PLANS_TABLE", &cfg.Supabase.Table) })

	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func envString(name string, dst *string) error {
	if v, ok := os.LookupEnv(name); ok {
		*dst = v
	}
	return nil
}

func envInt(name string, dst *int) error {
	v, ok := os.LookupEnv(name)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s=%q: %w", name, v, chatcore.ErrInvalidConfig)
	}
	*dst = n
	return nil
}

func envBool(name string, dst *bool) error {
	v, ok := os.LookupEnv(name)
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s=%q: %w", name, v, chatcore.ErrInvalidConfig)
	}
	*dst = b
	return nil
}

func envSeconds(name string, dst *time.Duration) error {
	var n int
	prev := int(*dst / time.Second)
	n = prev
	if err := envInt(name, &n); err != nil {
		return err
	}
	if n != prev {
		*dst = time.Duration(n) * time.Second
	}
	return nil
}

func envMillis(name string, dst *time.Duration) error {
	var n int
	prev := int(*dst / time.Millisecond)
	n = prev
	if err := envInt(name, &n); err != nil {
		return err
	}
	if n != prev {
		*dst = time.Duration(n) * time.Millisecond
	}
	return nil
}
