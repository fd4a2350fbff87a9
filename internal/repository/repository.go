package repository

import (
	"context"
	"errors"
	"time"

	"github.com/egannguyen/go-kafka-ecommerce/fulfillment/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/fulfillment/internal/integration"
)

// SaveResult is what a committed aggregate save hands back: the drained
// domain events and the integration events written to the outbox with them.
type SaveResult struct {
	TransactionID     string
	Events            []entity.Event
	IntegrationEvents []integration.Event
}

// OrderRepository handles persistence for Orders.
type OrderRepository interface {
	Get(ctx context.Context, id string) (*entity.OrderAggregate, error)
	// Save writes the order and its outbox entries in one transaction.
	Save(ctx context.Context, order *entity.OrderAggregate) (SaveResult, error)
}

// ShipmentRepository handles persistence for Shipments.
type ShipmentRepository interface {
	Get(ctx context.Context, id string) (*entity.ShipmentAggregate, error)
	FindByOrderID(ctx context.Context, orderID string) (*entity.ShipmentAggregate, error)
	Save(ctx context.Context, shipment *entity.ShipmentAggregate) (SaveResult, error)
}

// ErrClaimLost is returned when an outbox entry is no longer InFlight for the
// worker trying to settle it, usually because the claim expired and was reclaimed.
var ErrClaimLost = errors.New("outbox claim lost")

// EventLog is the outbox side of the store used by the publisher.
type EventLog interface {
	// ClaimPending moves up to limit due entries to InFlight for worker.
	// Pending entries, Failed entries whose retry time passed, and InFlight
	// entries claimed before now-inFlightTimeout are all eligible.
	ClaimPending(ctx context.Context, worker string, limit int, now time.Time, inFlightTimeout time.Duration) ([]entity.IntegrationEventLogEntry, error)
	// ClaimTransaction claims the Pending entries written by one save.
	ClaimTransaction(ctx context.Context, transactionID, worker string, now time.Time) ([]entity.IntegrationEventLogEntry, error)
	MarkPublished(ctx context.Context, eventID, worker string, now time.Time) error
	MarkFailed(ctx context.Context, eventID, worker string, nextAttemptAt time.Time, lastErr string) error
	GetEntry(ctx context.Context, eventID string) (entity.IntegrationEventLogEntry, error)
	ListByState(ctx context.Context, state entity.EventState, limit int) ([]entity.IntegrationEventLogEntry, error)
	CountByState(ctx context.Context) (map[entity.EventState]int, error)
}

// IdempotencyStore persists request ids seen by the idempotency guard.
type IdempotencyStore interface {
	// Create inserts a new record and reports false when the id already exists.
	Create(ctx context.Context, record entity.IdempotencyRecord) (bool, error)
	Get(ctx context.Context, requestID string) (entity.IdempotencyRecord, error)
	Complete(ctx context.Context, requestID string, result []byte, completedAt time.Time) error
	// Reclaim restarts an unfinished record of commandName created before
	// staleBefore, stamping it with now. It reports false when the record
	// completed, belongs to another command or is still fresh.
	Reclaim(ctx context.Context, requestID, commandName string, staleBefore, now time.Time) (bool, error)
	// Delete removes a record that has not completed. Completed records stay.
	Delete(ctx context.Context, requestID string) error
	// Purge removes records created before olderThan and returns how many went.
	Purge(ctx context.Context, olderThan time.Time) (int64, error)
}
