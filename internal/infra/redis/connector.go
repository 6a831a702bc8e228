package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/PocketPalCo/attribution-service/config"
	"github.com/go-redis/redis/v8"
)

const (
	connectTimeout = 30 * time.Second
	pingTimeout    = 2 * time.Second
	retryInterval  = time.Second
	maxRetryWait   = 8 * time.Second
)

// Init creates a client from config and waits until the server answers a
// ping, retrying with exponential backoff up to connectTimeout.
func Init(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr(),
		Username:     cfg.RedisUser,
		Password:     cfg.RedisPass,
		DB:           cfg.RedisDb,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	logger.Info("Connecting to redis", "addr", cfg.RedisAddr())
	wait := retryInterval
	for attempt := 1; ; attempt++ {
		pingCtx, pingCancel := context.WithTimeout(ctx, pingTimeout)
		err := client.Ping(pingCtx).Err()
		pingCancel()
		if err == nil {
			logger.Info("Connected to redis", "addr", cfg.RedisAddr(), "attempts", attempt)
			return client, nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			_ = client.Close()
			return nil, fmt.Errorf("redis unavailable at %s after %d attempts: %w", cfg.RedisAddr(), attempt, err)
		case <-timer.C:
			logger.Warn("Redis connection failed, retrying", "attempt", attempt, "next_retry_in", wait, "error", err)
			wait *= 2
			if wait > maxRetryWait {
				wait = maxRetryWait
			}
		}
	}
}
