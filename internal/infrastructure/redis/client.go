package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/cassiomorais/callbacks/internal/infrastructure/config"
	"github.com/cassiomorais/callbacks/pkg/retry"
	"github.com/redis/go-redis/v9"
)

const clientName = "callbacks"

// NewClient connects to Redis. The first ping is retried with backoff.
func NewClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(clientOptions(cfg))

	policy := retry.DefaultConfig()
	if cfg.ConnectRetries > 0 {
		policy.MaxAttempts = uint(cfg.ConnectRetries)
	}
	if cfg.ConnectRetryDelay > 0 {
		policy.InitialDelay = cfg.ConnectRetryDelay
	}

	if err := retry.Do(ctx, policy, func() error {
		return client.Ping(ctx).Err()
	}); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis at %s after %d attempts: %w", cfg.RedisAddr(), policy.MaxAttempts, err)
	}
	return client, nil
}

// clientOptions sizes the pool for lock traffic plus the long-lived
// notification subscription, which holds one connection of its own.
func clientOptions(cfg *config.RedisConfig) *redis.Options {
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}
	return &redis.Options{
		Addr:         cfg.RedisAddr(),
		ClientName:   clientName,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     poolSize + 1,
		MinIdleConns: poolSize / 4,
		MaxRetries:   3,
	}
}
