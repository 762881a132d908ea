// Package kv manages the connection to the shared key-value store backing
// session state and rate counters. The client keeps one Redis connection per
// process, checks its health on an interval, reconnects with capped
// exponential backoff, and either terminates the process (fail-fast) or
// degrades to the in-memory fallback when the store stays unreachable.
package kv

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	chatcore "github.com/creastat/chatcore"
)

// Config holds connection and resilience settings for the shared store.
type Config struct {
	// Addr is the store address, either a redis:// URL or host:port.
	Addr string

	// SessionTTL is applied to every value written via SetWithTTL.
	// Non-positive disables expiry.
	SessionTTL time.Duration

	ConnectTimeout time.Duration
	SocketTimeout  time.Duration

	// HealthCheckInterval is how often an apparently-healthy connection is
	// pinged. Non-positive disables periodic checks.
	HealthCheckInterval time.Duration

	ReconnectRetries      int
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration

	// ReconnectMinInterval bounds how often a reconnect round may start,
	// so a dead store does not trigger a retry storm on every request.
	ReconnectMinInterval time.Duration

	// FailFast terminates the process when the store is unreachable instead
	// of serving degraded. Orchestration is expected to restart and retry.
	FailFast bool

	// AllowFallback permits callers to consult the in-memory fallback while
	// the store is down. Ignored when FailFast is set.
	AllowFallback bool
}

// DefaultConfig mirrors the production defaults.
func DefaultConfig() Config {
	return Config{
		Addr:                  "redis://localhost:6379/0",
		SessionTTL:            48 * time.Hour,
		ConnectTimeout:        2 * time.Second,
		SocketTimeout:         2 * time.Second,
		HealthCheckInterval:   30 * time.Second,
		ReconnectRetries:      5,
		ReconnectInitialDelay: 500 * time.Millisecond,
		ReconnectMaxDelay:     5 * time.Second,
		ReconnectMinInterval:  2 * time.Second,
		AllowFallback:         true,
	}
}

// Client is the per-process handle to the shared store. Connect and
// reconnect transitions are guarded by a mutex; command I/O runs outside it
// against a connection reference obtained under the mutex.
type Client struct {
	cfg      Config
	log      *zap.Logger
	fallback *Memory

	mu              sync.Mutex
	rdb             *redis.Client
	lastHealthCheck time.Time
	lastReconnect   time.Time

	now   func() time.Time
	sleep func(time.Duration)
	dial  func() (*redis.Client, error)
	exit  func(int)
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger used for health-state transitions.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// New creates a client and attempts an initial connection. In fail-fast mode
// a failed initial connection (after retries) terminates the process; in
// fallback mode the client starts unhealthy and reconnects on demand.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.Addr == "" {
		return nil, chatcore.ErrInvalidConfig
	}

	c := &Client{
		cfg:      cfg,
		log:      zap.NewNop(),
		fallback: NewMemory(cfg.SessionTTL),
		now:      time.Now,
		sleep:    time.Sleep,
		exit:     os.Exit,
	}
	c.dial = c.dialRedis
	for _, opt := range opts {
		opt(c)
	}

	if cfg.FailFast {
		rdb := c.connectWithRetries()
		if rdb == nil {
			c.failFast("startup", nil)
			return nil, chatcore.ErrStoreUnavailable
		}
		c.rdb = rdb
		c.lastHealthCheck = c.now()
		return c, nil
	}

	if rdb, err := c.dial(); err == nil {
		c.rdb = rdb
		c.lastHealthCheck = c.now()
	} else {
		c.log.Warn("initial store connection failed", zap.Error(err))
	}
	return c, nil
}

// FallbackAllowed reports whether degraded reads/writes through the
// in-memory fallback are permitted.
func (c *Client) FallbackAllowed() bool {
	return !c.cfg.FailFast && c.cfg.AllowFallback
}

// Fallback returns the process-local fallback store.
func (c *Client) Fallback() *Memory {
	return c.fallback
}

// SessionTTL returns the TTL applied to session writes.
func (c *Client) SessionTTL() time.Duration {
	return c.cfg.SessionTTL
}

// Get fetches a key. The second return value is false when the key is
// absent. A non-nil error means the store is unavailable.
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	rdb, err := c.conn(ctx)
	if err != nil {
		return "", false, err
	}
	val, err := rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		c.markUnhealthy("get", err)
		return "", false, fmt.Errorf("kv get: %w", chatcore.ErrStoreUnavailable)
	}
	return val, true, nil
}

// SetWithTTL writes a value with the configured session TTL, refreshing the
// expiry of existing keys.
func (c *Client) SetWithTTL(ctx context.Context, key, value string) error {
	rdb, err := c.conn(ctx)
	if err != nil {
		return err
	}
	ttl := c.cfg.SessionTTL
	if ttl < 0 {
		ttl = 0
	}
	if err := rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		c.markUnhealthy("set", err)
		return fmt.Errorf("kv set: %w", chatcore.ErrStoreUnavailable)
	}
	return nil
}

// Delete removes keys unconditionally.
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	rdb, err := c.conn(ctx)
	if err != nil {
		return err
	}
	if err := rdb.Del(ctx, keys...).Err(); err != nil {
		c.markUnhealthy("delete", err)
		return fmt.Errorf("kv delete: %w", chatcore.ErrStoreUnavailable)
	}
	return nil
}

// Eval runs a server-side script atomically and returns its integer result.
func (c *Client) Eval(ctx context.Context, script *redis.Script, keys []string, args ...any) (int64, error) {
	rdb, err := c.conn(ctx)
	if err != nil {
		return 0, err
	}
	res, err := script.Run(ctx, rdb, keys, args...).Int64()
	if err != nil {
		c.markUnhealthy("eval", err)
		return 0, fmt.Errorf("kv eval: %w", chatcore.ErrStoreUnavailable)
	}
	return res, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rdb == nil {
		return nil
	}
	err := c.rdb.Close()
	c.rdb = nil
	return err
}

// conn returns a healthy connection reference, running the periodic health
// check and on-demand reconnect under the state mutex.
func (c *Client) conn(ctx context.Context) (*redis.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.rdb != nil && c.healthCheckDue(now) {
		c.lastHealthCheck = now
		if err := c.ping(ctx, c.rdb); err != nil {
			c.log.Warn("store health check failed", zap.Error(err))
			c.rdb = nil
		}
	}
	if c.rdb != nil {
		return c.rdb, nil
	}

	if !c.cfg.FailFast && now.Sub(c.lastReconnect) < c.cfg.ReconnectMinInterval {
		return nil, fmt.Errorf("kv connect throttled: %w", chatcore.ErrStoreUnavailable)
	}
	c.lastReconnect = now

	if rdb := c.connectWithRetries(); rdb != nil {
		c.rdb = rdb
		c.lastHealthCheck = now
		c.log.Info("store connection restored", zap.String("addr", c.cfg.Addr))
		return c.rdb, nil
	}

	c.failFast("reconnect", nil)
	return nil, fmt.Errorf("kv connect: %w", chatcore.ErrStoreUnavailable)
}

func (c *Client) healthCheckDue(now time.Time) bool {
	if c.cfg.HealthCheckInterval <= 0 {
		return false
	}
	return now.Sub(c.lastHealthCheck) >= c.cfg.HealthCheckInterval
}

// connectWithRetries dials with capped exponential backoff between attempts.
func (c *Client) connectWithRetries() *redis.Client {
	retries := c.cfg.ReconnectRetries
	if retries < 1 {
		retries = 1
	}
	delay := c.cfg.ReconnectInitialDelay
	if delay < 0 {
		delay = 0
	}

	for attempt := 1; attempt <= retries; attempt++ {
		rdb, err := c.dial()
		if err == nil {
			return rdb
		}
		c.log.Error("store connection attempt failed",
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt < retries {
			sleepFor := delay
			if sleepFor > c.cfg.ReconnectMaxDelay {
				sleepFor = c.cfg.ReconnectMaxDelay
			}
			if sleepFor > 0 {
				c.sleep(sleepFor)
			}
			delay *= 2
			if delay < 100*time.Millisecond {
				delay = 100 * time.Millisecond
			}
			if delay > c.cfg.ReconnectMaxDelay {
				delay = c.cfg.ReconnectMaxDelay
			}
		}
	}
	return nil
}

func (c *Client) dialRedis() (*redis.Client, error) {
	opts, err := c.redisOptions()
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}

func (c *Client) redisOptions() (*redis.Options, error) {
	var opts *redis.Options
	if strings.Contains(c.cfg.Addr, "://") {
		parsed, err := redis.ParseURL(c.cfg.Addr)
		if err != nil {
			return nil, err
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: c.cfg.Addr}
	}
	opts.DialTimeout = c.cfg.ConnectTimeout
	opts.ReadTimeout = c.cfg.SocketTimeout
	opts.WriteTimeout = c.cfg.SocketTimeout
	return opts, nil
}

func (c *Client) ping(ctx context.Context, rdb *redis.Client) error {
	pingCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()
	return rdb.Ping(pingCtx).Err()
}

// markUnhealthy records a failed command, drops the connection so the next
// call reconnects, and honors fail-fast mode.
func (c *Client) markUnhealthy(op string, err error) {
	c.log.Error("store command failed, marking connection unhealthy",
		zap.String("op", op),
		zap.Error(err))
	c.mu.Lock()
	c.rdb = nil
	c.lastHealthCheck = time.Time{}
	c.mu.Unlock()
	c.failFast(op, err)
}

func (c *Client) failFast(reason string, err error) {
	if !c.cfg.FailFast {
		return
	}
	if err != nil {
		c.log.Error("store unavailable in fail-fast mode, terminating",
			zap.String("reason", reason),
			zap.Error(err))
	} else {
		c.log.Error("store unavailable in fail-fast mode, terminating",
			zap.String("reason", reason))
	}
	_ = c.log.Sync()
	c.exit(1)
}
