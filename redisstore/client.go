/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"github.com/acronis/go-concurrencylimit/log"
)

// NewClient creates a Redis client and checks the connection with PING.
// PING is retried with exponential backoff up to cfg.Connect.MaxAttempts times.
// The client is closed if the connection cannot be established.
func NewClient(ctx context.Context, cfg *Config, logger log.FieldLogger) (*redis.Client, error) {
	client := redis.NewClient(makeOptions(cfg))
	logger = logger.With(log.String("redis_address", cfg.Address), log.Int("redis_db", cfg.DB))

	attempt := 0
	ping := func() error {
		attempt++
		return client.Ping(ctx).Err()
	}
	notify := func(err error, delay time.Duration) {
		logger.Warn("redis is not reachable, retrying",
			log.Int("attempt", attempt), log.Duration("delay", delay), log.Error(err))
	}
	if err := backoff.RetryNotify(ping, backoff.WithContext(newConnectBackOff(cfg.Connect), ctx), notify); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis at %s (%d attempt(s)): %w", cfg.Address, attempt, err)
	}
	logger.Info("connected to redis", log.Int("attempts", attempt))
	return client, nil
}

// HealthCheck returns a function that checks the client with PING.
func HealthCheck(client redis.Cmdable) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}

func makeOptions(cfg *Config) *redis.Options {
	return &redis.Options{
		Addr:         cfg.Address,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  time.Duration(cfg.Timeouts.Dial),
		ReadTimeout:  time.Duration(cfg.Timeouts.Read),
		WriteTimeout: time.Duration(cfg.Timeouts.Write),
		// CLIENT SETINFO is not supported by older Redis servers.
		DisableIdentity: true,
	}
}

func newConnectBackOff(cfg ConnectConfig) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	if cfg.InitialInterval > 0 {
		eb.InitialInterval = time.Duration(cfg.InitialInterval)
	}
	if cfg.MaxInterval > 0 {
		eb.MaxInterval = time.Duration(cfg.MaxInterval)
	}
	eb.MaxElapsedTime = 0 // Bounded by the number of attempts.
	var b backoff.BackOff = eb
	if cfg.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(eb, uint64(cfg.MaxAttempts-1)) //nolint:gosec // validated by Config
	}
	b.Reset()
	return b
}
