// Package redisstore keeps idempotency records in Redis, letting key expiry
// do the garbage collection.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/egannguyen/go-kafka-ecommerce/fulfillment/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/fulfillment/internal/repository"
	"github.com/redis/go-redis/v9"
)

type idempotencyStore struct {
	client      *redis.Client
	serviceName string
	ttl         time.Duration
}

// NewIdempotencyStore stores records under "<serviceName>:idempotency:<requestID>"
// with the given ttl.
func NewIdempotencyStore(client *redis.Client, serviceName string, ttl time.Duration) repository.IdempotencyStore {
	return &idempotencyStore{client: client, serviceName: serviceName, ttl: ttl}
}

func (s *idempotencyStore) key(requestID string) string {
	return fmt.Sprintf("%s:idempotency:%s", s.serviceName, requestID)
}

func (s *idempotencyStore) Create(ctx context.Context, record entity.IdempotencyRecord) (bool, error) {
	payload, err := json.Marshal(record)
	if err != nil {
		return false, fmt.Errorf("failed to marshal idempotency record %s: %w", record.RequestID, err)
	}
	created, err := s.client.SetNX(ctx, s.key(record.RequestID), payload, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to create idempotency record %s: %w", record.RequestID, err)
	}
	return created, nil
}

func (s *idempotencyStore) Get(ctx context.Context, requestID string) (entity.IdempotencyRecord, error) {
	raw, err := s.client.Get(ctx, s.key(requestID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return entity.IdempotencyRecord{}, entity.ErrNotFound
	}
	if err != nil {
		return entity.IdempotencyRecord{}, fmt.Errorf("failed to get idempotency record %s: %w", requestID, err)
	}
	var record entity.IdempotencyRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return entity.IdempotencyRecord{}, fmt.Errorf("failed to unmarshal idempotency record %s: %w", requestID, err)
	}
	return record, nil
}

// Complete stores the result under WATCH so a concurrent delete or completion
// aborts the write instead of resurrecting the key.
func (s *idempotencyStore) Complete(ctx context.Context, requestID string, result []byte, completedAt time.Time) error {
	key := s.key(requestID)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		record, err := getRecord(ctx, tx, key)
		if errors.Is(err, entity.ErrNotFound) {
			return fmt.Errorf("pending idempotency record %s: %w", requestID, entity.ErrNotFound)
		}
		if err != nil {
			return err
		}
		if record.Completed() {
			return fmt.Errorf("pending idempotency record %s: %w", requestID, entity.ErrNotFound)
		}
		at := completedAt.UTC()
		record.CompletedAt = &at
		record.Result = result
		payload, err := json.Marshal(record)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetArgs(ctx, key, payload, redis.SetArgs{Mode: "XX", KeepTTL: true})
			return nil
		})
		return err
	}, key)
	if errors.Is(err, entity.ErrNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to complete idempotency record %s: %w", requestID, err)
	}
	return nil
}

// Reclaim rewrites the creation time under WATCH; losing the race to another
// worker reports false.
func (s *idempotencyStore) Reclaim(ctx context.Context, requestID, commandName string, staleBefore, now time.Time) (bool, error) {
	key := s.key(requestID)
	reclaimed := false
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		record, err := getRecord(ctx, tx, key)
		if err != nil {
			return err
		}
		if record.Completed() || record.CommandName != commandName || !record.CreatedAt.Before(staleBefore) {
			return nil
		}
		record.CreatedAt = now.UTC()
		payload, err := json.Marshal(record)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetArgs(ctx, key, payload, redis.SetArgs{Mode: "XX", KeepTTL: true})
			return nil
		})
		if err == nil {
			reclaimed = true
		}
		return err
	}, key)
	switch {
	case errors.Is(err, entity.ErrNotFound), errors.Is(err, redis.TxFailedErr):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("failed to reclaim idempotency record %s: %w", requestID, err)
	}
	return reclaimed, nil
}

func (s *idempotencyStore) Delete(ctx context.Context, requestID string) error {
	key := s.key(requestID)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		record, err := getRecord(ctx, tx, key)
		if err != nil {
			return err
		}
		if record.Completed() {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		return err
	}, key)
	if err != nil && !errors.Is(err, entity.ErrNotFound) {
		return fmt.Errorf("failed to delete idempotency record %s: %w", requestID, err)
	}
	return nil
}

func getRecord(ctx context.Context, tx *redis.Tx, key string) (entity.IdempotencyRecord, error) {
	raw, err := tx.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return entity.IdempotencyRecord{}, entity.ErrNotFound
	}
	if err != nil {
		return entity.IdempotencyRecord{}, err
	}
	var record entity.IdempotencyRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return entity.IdempotencyRecord{}, err
	}
	return record, nil
}

// Purge is a no-op: keys expire on their own.
func (s *idempotencyStore) Purge(context.Context, time.Time) (int64, error) {
	return 0, nil
}
