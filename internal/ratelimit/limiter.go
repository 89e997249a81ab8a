// Package ratelimit implements a sliding window log rate limiter for per-user
// message throttling, backed by Redis sorted sets so every server process
// shares one view of each user's recent activity.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Defaults applied to unset Config fields.
const (
	DefaultLimit     = 5
	DefaultWindow    = 10 * time.Second
	DefaultKeyPrefix = "throttle:"
)

// Config defines how many messages a user may send per window.
type Config struct {
	Limit     int           `yaml:"messages"`
	Window    time.Duration `yaml:"window"`
	KeyPrefix string        `yaml:"key_prefix"`
}

// DefaultConfig returns a config allowing 5 messages per 10 seconds.
func DefaultConfig() Config {
	return Config{
		Limit:     DefaultLimit,
		Window:    DefaultWindow,
		KeyPrefix: DefaultKeyPrefix,
	}
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// Limiter throttles users with a sliding window log. Every attempt, including
// rejected ones, is recorded in the window, so a client that keeps retrying
// while throttled stays throttled.
type Limiter struct {
	client redis.UniversalClient
	cfg    Config
	log    zerolog.Logger
	now    func() time.Time
}

// New creates a Limiter. Non-positive limits and windows fall back to the
// defaults.
func New(client redis.UniversalClient, cfg Config, log zerolog.Logger, opts ...Option) *Limiter {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}

	l := &Limiter{
		client: client,
		cfg:    cfg,
		log:    log,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Limit returns the number of messages allowed per window.
func (l *Limiter) Limit() int {
	return l.cfg.Limit
}

// Window returns the length of the sliding window.
func (l *Limiter) Window() time.Duration {
	return l.cfg.Window
}

// Allow records an attempt by userKey and reports whether it may proceed.
// When the store cannot be reached the limiter fails open.
func (l *Limiter) Allow(ctx context.Context, userKey string) bool {
	count, err := l.record(ctx, userKey)
	if err != nil {
		l.log.Warn().Err(err).Str("user", userKey).Msg("rate limit store unavailable, allowing message")
		return true
	}

	if count > int64(l.cfg.Limit) {
		l.log.Debug().Str("user", userKey).Int64("count", count).Int("limit", l.cfg.Limit).Msg("rate limit exceeded")
		return false
	}
	return true
}

// record prunes, inserts, refreshes the expiry and counts in one MULTI/EXEC
// so concurrent senders sharing a key cannot interleave.
func (l *Limiter) record(ctx context.Context, userKey string) (int64, error) {
	now := l.now()
	key := l.key(userKey)
	windowStart := now.Add(-l.cfg.Window).UnixMilli()
	member := strconv.FormatInt(now.UnixNano(), 10) + "-" + uuid.NewString()

	var card *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(windowStart, 10))
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: member})
		pipe.PExpire(ctx, key, l.cfg.Window)
		card = pipe.ZCard(ctx, key)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("record attempt: %w", err)
	}
	return card.Val(), nil
}

// Count returns the number of attempts currently inside userKey's window.
func (l *Limiter) Count(ctx context.Context, userKey string) (int, error) {
	windowStart := l.now().Add(-l.cfg.Window).UnixMilli()
	count, err := l.client.ZCount(ctx, l.key(userKey), "("+strconv.FormatInt(windowStart, 10), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	return int(count), nil
}

// Reset forgets every attempt recorded for userKey.
func (l *Limiter) Reset(ctx context.Context, userKey string) error {
	if err := l.client.Del(ctx, l.key(userKey)).Err(); err != nil {
		return fmt.Errorf("reset %s: %w", userKey, err)
	}
	return nil
}

func (l *Limiter) key(userKey string) string {
	return l.cfg.KeyPrefix + userKey
}
