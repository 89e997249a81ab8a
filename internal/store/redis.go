// Package store builds the Redis client shared by the rate limiter, the
// history store and the Redis broadcast bus.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig describes how to reach the shared store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// NewRedisClient creates a pooled client for cfg. The connection is probed
// once; an unreachable store is logged and tolerated because every consumer
// degrades gracefully without it.
func NewRedisClient(ctx context.Context, cfg RedisConfig, log zerolog.Logger) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := Ping(pingCtx, client); err != nil {
		log.Warn().Err(err).Str("addr", cfg.Addr).Msg("redis unreachable at startup, continuing in degraded mode")
	} else {
		log.Info().Str("addr", cfg.Addr).Msg("redis connection established")
	}

	return client, nil
}

// Ping checks that the store answers.
func Ping(ctx context.Context, client redis.UniversalClient) error {
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}
