package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/egannguyen/go-kafka-ecommerce/fulfillment/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/fulfillment/internal/integration"
	"github.com/egannguyen/go-kafka-ecommerce/fulfillment/internal/repository"
	"github.com/google/uuid"
)

const entryColumns = `
	event_id,
	event_type_name,
	content,
	aggregate_id,
	sequence,
	state,
	times_sent,
	transaction_id,
	creation_time,
	next_attempt_at,
	claimed_by,
	claimed_at,
	published_at,
	last_error`

// ErrClaimLost is repository.ErrClaimLost, re-exported for store callers.
var ErrClaimLost = repository.ErrClaimLost

// appendToOutbox translates the drained domain events and inserts one Pending
// row per integration event inside tx. It runs as the last step of a save.
// Rows are ordered by (creation_time, aggregate_version, sequence), which keeps
// the saves of one aggregate in commit order even within one millisecond.
func (d *DB) appendToOutbox(ctx context.Context, tx *sql.Tx, translator integration.Translator, aggregateID string, version int, events []entity.Event, now time.Time) (string, []integration.Event, error) {
	integrationEvents, err := integration.TranslateAll(translator, events)
	if err != nil {
		return "", nil, fmt.Errorf("failed to translate domain events: %w", err)
	}

	transactionID := uuid.NewString()
	if len(integrationEvents) == 0 {
		return transactionID, integrationEvents, nil
	}

	stmt, err := tx.PrepareContext(ctx, d.rebind(`
		INSERT INTO integration_event_log (
			event_id, event_type_name, content, aggregate_id, aggregate_version, sequence,
			state, times_sent, transaction_id, creation_time, next_attempt_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)`))
	if err != nil {
		return "", nil, fmt.Errorf("failed to prepare outbox insert: %w", err)
	}
	defer stmt.Close()

	for i, ie := range integrationEvents {
		content, err := json.Marshal(ie)
		if err != nil {
			return "", nil, fmt.Errorf("failed to marshal integration event %s: %w", ie.EventName(), err)
		}
		_, err = stmt.ExecContext(ctx,
			ie.EventID(),
			ie.EventName(),
			string(content),
			aggregateID,
			version,
			i,
			string(entity.EventStatePending),
			transactionID,
			toMillis(now),
			toMillis(now),
		)
		if err != nil {
			return "", nil, fmt.Errorf("failed to insert outbox entry %s: %w", ie.EventName(), err)
		}
	}
	return transactionID, integrationEvents, nil
}

// EventLog is the outbox reader/settler used by the publisher.
type EventLog struct {
	db *DB
}

// NewEventLog creates an EventLog over db.
func NewEventLog(db *DB) *EventLog {
	return &EventLog{db: db}
}

var _ repository.EventLog = (*EventLog)(nil)

func (l *EventLog) ClaimPending(ctx context.Context, worker string, limit int, now time.Time, inFlightTimeout time.Duration) ([]entity.IntegrationEventLogEntry, error) {
	worker = strings.TrimSpace(worker)
	if worker == "" {
		return nil, fmt.Errorf("worker is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}
	if inFlightTimeout <= 0 {
		return nil, fmt.Errorf("in-flight timeout must be greater than zero")
	}
	now = now.UTC()
	staleBefore := toMillis(now.Add(-inFlightTimeout))

	const due = `(
		state = ?
		OR (state = ? AND next_attempt_at <= ?)
		OR (state = ? AND claimed_at IS NOT NULL AND claimed_at <= ?)
	)`
	dueArgs := []any{
		string(entity.EventStatePending),
		string(entity.EventStateFailed), toMillis(now),
		string(entity.EventStateInFlight), staleBefore,
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer tx.Rollback()

	ids, err := l.selectIDs(ctx, tx, `
		SELECT event_id FROM integration_event_log
		WHERE `+due+`
		ORDER BY creation_time ASC, aggregate_version ASC, sequence ASC, event_id ASC
		LIMIT ?`, append(dueArgs, limit)...)
	if err != nil {
		return nil, err
	}

	// InFlight rows that timed out count as a failed attempt.
	claimed, err := l.claimIDs(ctx, tx, ids, worker, now, `
		UPDATE integration_event_log
		SET state = ?,
			claimed_by = ?,
			claimed_at = ?,
			times_sent = times_sent + CASE WHEN state = ? THEN 1 ELSE 0 END
		WHERE event_id = ? AND `+due, dueArgs)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim transaction: %w", err)
	}
	return claimed, nil
}

func (l *EventLog) ClaimTransaction(ctx context.Context, transactionID, worker string, now time.Time) ([]entity.IntegrationEventLogEntry, error) {
	if transactionID == "" || worker == "" {
		return nil, fmt.Errorf("transaction id and worker are required")
	}
	now = now.UTC()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer tx.Rollback()

	ids, err := l.selectIDs(ctx, tx, `
		SELECT event_id FROM integration_event_log
		WHERE transaction_id = ? AND state = ?
		ORDER BY sequence ASC`, transactionID, string(entity.EventStatePending))
	if err != nil {
		return nil, err
	}

	claimed, err := l.claimIDs(ctx, tx, ids, worker, now, `
		UPDATE integration_event_log
		SET state = ?,
			claimed_by = ?,
			claimed_at = ?,
			times_sent = times_sent + CASE WHEN state = ? THEN 1 ELSE 0 END
		WHERE event_id = ? AND state = ?`, []any{string(entity.EventStatePending)})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim transaction: %w", err)
	}
	return claimed, nil
}

func (l *EventLog) selectIDs(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]string, error) {
	rows, err := tx.QueryContext(ctx, l.db.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select claim candidates: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan claim candidate: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating claim candidates: %w", err)
	}
	return ids, nil
}

// claimIDs runs the compare-and-set update for every candidate. A candidate
// another worker took in the meantime affects no rows and is skipped.
func (l *EventLog) claimIDs(ctx context.Context, tx *sql.Tx, ids []string, worker string, now time.Time, update string, guardArgs []any) ([]entity.IntegrationEventLogEntry, error) {
	claimed := make([]entity.IntegrationEventLogEntry, 0, len(ids))
	for _, id := range ids {
		args := []any{string(entity.EventStateInFlight), worker, toMillis(now), string(entity.EventStateInFlight), id}
		args = append(args, guardArgs...)
		result, err := tx.ExecContext(ctx, l.db.rebind(update), args...)
		if err != nil {
			return nil, fmt.Errorf("failed to claim outbox entry %s: %w", id, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to read rows affected for %s: %w", id, err)
		}
		if affected == 0 {
			continue
		}

		row := tx.QueryRowContext(ctx, l.db.rebind(`SELECT `+entryColumns+` FROM integration_event_log WHERE event_id = ?`), id)
		entry, err := scanEntry(row.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to load claimed entry %s: %w", id, err)
		}
		claimed = append(claimed, entry)
	}
	return claimed, nil
}

func (l *EventLog) MarkPublished(ctx context.Context, eventID, worker string, now time.Time) error {
	result, err := l.db.ExecContext(ctx, l.db.rebind(`
		UPDATE integration_event_log
		SET state = ?, published_at = ?, claimed_by = '', claimed_at = NULL, last_error = ''
		WHERE event_id = ? AND state = ? AND claimed_by = ?`),
		string(entity.EventStatePublished), toMillis(now),
		eventID, string(entity.EventStateInFlight), worker,
	)
	if err != nil {
		return fmt.Errorf("failed to mark entry %s published: %w", eventID, err)
	}
	return requireAffected(result, eventID)
}

func (l *EventLog) MarkFailed(ctx context.Context, eventID, worker string, nextAttemptAt time.Time, lastErr string) error {
	result, err := l.db.ExecContext(ctx, l.db.rebind(`
		UPDATE integration_event_log
		SET state = ?, times_sent = times_sent + 1, next_attempt_at = ?, last_error = ?,
			claimed_by = '', claimed_at = NULL
		WHERE event_id = ? AND state = ? AND claimed_by = ?`),
		string(entity.EventStateFailed), toMillis(nextAttemptAt), lastErr,
		eventID, string(entity.EventStateInFlight), worker,
	)
	if err != nil {
		return fmt.Errorf("failed to mark entry %s failed: %w", eventID, err)
	}
	return requireAffected(result, eventID)
}

func requireAffected(result sql.Result, eventID string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected for %s: %w", eventID, err)
	}
	if affected == 0 {
		return fmt.Errorf("entry %s: %w", eventID, ErrClaimLost)
	}
	return nil
}

func (l *EventLog) GetEntry(ctx context.Context, eventID string) (entity.IntegrationEventLogEntry, error) {
	row := l.db.QueryRowContext(ctx, l.db.rebind(`SELECT `+entryColumns+` FROM integration_event_log WHERE event_id = ?`), eventID)
	entry, err := scanEntry(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return entity.IntegrationEventLogEntry{}, entity.ErrNotFound
	}
	if err != nil {
		return entity.IntegrationEventLogEntry{}, fmt.Errorf("failed to get outbox entry %s: %w", eventID, err)
	}
	return entry, nil
}

func (l *EventLog) ListByState(ctx context.Context, state entity.EventState, limit int) ([]entity.IntegrationEventLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.db.QueryContext(ctx, l.db.rebind(`
		SELECT `+entryColumns+` FROM integration_event_log
		WHERE state = ?
		ORDER BY creation_time ASC, aggregate_version ASC, sequence ASC, event_id ASC
		LIMIT ?`), string(state), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list outbox entries: %w", err)
	}
	defer rows.Close()

	var entries []entity.IntegrationEventLogEntry
	for rows.Next() {
		entry, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outbox entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outbox rows: %w", err)
	}
	return entries, nil
}

func (l *EventLog) CountByState(ctx context.Context) (map[entity.EventState]int, error) {
	counts := map[entity.EventState]int{
		entity.EventStatePending:   0,
		entity.EventStateInFlight:  0,
		entity.EventStatePublished: 0,
		entity.EventStateFailed:    0,
	}
	rows, err := l.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM integration_event_log GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("failed to count outbox entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			state string
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("failed to scan outbox count: %w", err)
		}
		counts[entity.EventState(state)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outbox counts: %w", err)
	}
	return counts, nil
}

func scanEntry(scan func(dest ...any) error) (entity.IntegrationEventLogEntry, error) {
	var (
		entry         entity.IntegrationEventLogEntry
		content       string
		state         string
		creationTime  int64
		nextAttemptAt int64
		claimedAt     sql.NullInt64
		publishedAt   sql.NullInt64
	)
	err := scan(
		&entry.EventID,
		&entry.EventTypeName,
		&content,
		&entry.AggregateID,
		&entry.Sequence,
		&state,
		&entry.TimesSent,
		&entry.TransactionID,
		&creationTime,
		&nextAttemptAt,
		&entry.ClaimedBy,
		&claimedAt,
		&publishedAt,
		&entry.LastError,
	)
	if err != nil {
		return entity.IntegrationEventLogEntry{}, err
	}
	entry.Content = []byte(content)
	entry.State = entity.EventState(state)
	entry.CreationTime = fromMillis(creationTime)
	entry.NextAttemptAt = fromMillis(nextAttemptAt)
	entry.ClaimedAt = timePtr(claimedAt)
	entry.PublishedAt = timePtr(publishedAt)
	return entry, nil
}
