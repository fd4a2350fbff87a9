package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/egannguyen/go-kafka-ecommerce/fulfillment/internal/config"
	"github.com/egannguyen/go-kafka-ecommerce/fulfillment/internal/repository"
	"github.com/egannguyen/go-kafka-ecommerce/fulfillment/internal/repository/redisstore"
	"github.com/egannguyen/go-kafka-ecommerce/fulfillment/internal/repository/sqlstore"
)

// openIdempotencyStore returns the configured idempotency backend and a func
// that releases it.
func openIdempotencyStore(ctx context.Context, cfg config.Config, db *sqlstore.DB) (repository.IdempotencyStore, func(), error) {
	if cfg.IdempotencyBackend != config.IdempotencyRedis {
		return sqlstore.NewIdempotencyStore(db), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	slog.Info("Redis connected", "addr", cfg.RedisAddr)

	closeFn := func() {
		if err := client.Close(); err != nil {
			slog.Error("Failed to close redis client", "err", err)
		}
	}
	return redisstore.NewIdempotencyStore(client, "fulfillment", cfg.IdempotencyTTL), closeFn, nil
}
