package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/egannguyen/go-kafka-ecommerce/fulfillment/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/fulfillment/internal/repository"
)

type idempotencyStore struct {
	db *DB
}

// NewIdempotencyStore creates an IdempotencyStore keyed by request id.
func NewIdempotencyStore(db *DB) repository.IdempotencyStore {
	return &idempotencyStore{db: db}
}

func (s *idempotencyStore) Create(ctx context.Context, record entity.IdempotencyRecord) (bool, error) {
	result, err := s.db.ExecContext(ctx, s.db.rebind(`
		INSERT INTO idempotency_records (request_id, command_name, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (request_id) DO NOTHING`),
		record.RequestID, record.CommandName, toMillis(record.CreatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("failed to create idempotency record %s: %w", record.RequestID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected for %s: %w", record.RequestID, err)
	}
	return affected == 1, nil
}

func (s *idempotencyStore) Get(ctx context.Context, requestID string) (entity.IdempotencyRecord, error) {
	var (
		record      entity.IdempotencyRecord
		createdAt   int64
		completedAt sql.NullInt64
		result      sql.NullString
	)
	err := s.db.QueryRowContext(ctx, s.db.rebind(`
		SELECT request_id, command_name, created_at, completed_at, result
		FROM idempotency_records WHERE request_id = ?`), requestID).Scan(
		&record.RequestID, &record.CommandName, &createdAt, &completedAt, &result,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return entity.IdempotencyRecord{}, entity.ErrNotFound
	}
	if err != nil {
		return entity.IdempotencyRecord{}, fmt.Errorf("failed to get idempotency record %s: %w", requestID, err)
	}
	record.CreatedAt = fromMillis(createdAt)
	record.CompletedAt = timePtr(completedAt)
	if result.Valid {
		record.Result = []byte(result.String)
	}
	return record, nil
}

func (s *idempotencyStore) Complete(ctx context.Context, requestID string, result []byte, completedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, s.db.rebind(`
		UPDATE idempotency_records SET completed_at = ?, result = ?
		WHERE request_id = ? AND completed_at IS NULL`),
		toMillis(completedAt), string(result), requestID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete idempotency record %s: %w", requestID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected for %s: %w", requestID, err)
	}
	if affected == 0 {
		return fmt.Errorf("pending idempotency record %s: %w", requestID, entity.ErrNotFound)
	}
	return nil
}

func (s *idempotencyStore) Reclaim(ctx context.Context, requestID, commandName string, staleBefore, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.rebind(`
		UPDATE idempotency_records SET created_at = ?
		WHERE request_id = ? AND command_name = ? AND completed_at IS NULL AND created_at < ?`),
		toMillis(now), requestID, commandName, toMillis(staleBefore),
	)
	if err != nil {
		return false, fmt.Errorf("failed to reclaim idempotency record %s: %w", requestID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected for %s: %w", requestID, err)
	}
	return affected == 1, nil
}

func (s *idempotencyStore) Delete(ctx context.Context, requestID string) error {
	if _, err := s.db.ExecContext(ctx, s.db.rebind(`
		DELETE FROM idempotency_records WHERE request_id = ? AND completed_at IS NULL`), requestID); err != nil {
		return fmt.Errorf("failed to delete idempotency record %s: %w", requestID, err)
	}
	return nil
}

func (s *idempotencyStore) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.rebind(`DELETE FROM idempotency_records WHERE created_at < ?`), toMillis(olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to purge idempotency records: %w", err)
	}
	return res.RowsAffected()
}
