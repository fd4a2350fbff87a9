package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/egannguyen/go-kafka-ecommerce/fulfillment/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/fulfillment/internal/repository"
)

var tracer = otel.Tracer("fulfillment")

// CommandFunc runs the business logic of one command.
type CommandFunc func(ctx context.Context) (entity.CommandResult, error)

// DefaultRequestLease is how long an unfinished request keeps its id before
// a retry may take it over.
const DefaultRequestLease = time.Minute

// IdempotencyGuard applies a command at most once per request id. A replay
// gets the stored result of the first execution.
type IdempotencyGuard struct {
	store repository.IdempotencyStore
	lease time.Duration
	now   func() time.Time
}

func NewIdempotencyGuard(store repository.IdempotencyStore, lease time.Duration) *IdempotencyGuard {
	if lease <= 0 {
		lease = DefaultRequestLease
	}
	return &IdempotencyGuard{
		store: store,
		lease: lease,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Execute runs handler unless requestID was seen before. A completed record
// short-circuits to its stored result; a record still being executed yields
// ErrRequestInProgress until its lease runs out, after which the next
// attempt takes it over and runs handler again. When handler fails the record
// is removed so the caller can retry with the same id.
func (g *IdempotencyGuard) Execute(ctx context.Context, requestID, commandName string, handler CommandFunc) (entity.CommandResult, error) {
	ctx, span := tracer.Start(ctx, "command "+commandName)
	defer span.End()
	span.SetAttributes(
		attribute.String("command.name", commandName),
		attribute.String("command.request_id", requestID),
	)

	if requestID == "" {
		return entity.CommandResult{}, &entity.ValidationError{Field: "request_id", Reason: "is required"}
	}

	created, err := g.store.Create(ctx, entity.IdempotencyRecord{
		RequestID:   requestID,
		CommandName: commandName,
		CreatedAt:   g.now(),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create idempotency record")
		return entity.CommandResult{}, fmt.Errorf("failed to register request: %w", err)
	}
	if !created {
		span.SetAttributes(attribute.Bool("command.duplicate", true))
		result, takeOver, err := g.replay(ctx, requestID, commandName)
		if !takeOver {
			return result, err
		}
		span.SetAttributes(attribute.Bool("command.takeover", true))
		slog.Warn("Guard: taking over abandoned request", "request_id", requestID, "command", commandName)
	}

	result, err := handler(ctx)
	if err != nil {
		// the record must not outlive a failed attempt
		if delErr := g.store.Delete(context.WithoutCancel(ctx), requestID); delErr != nil {
			slog.Error("Guard: failed to release request", "request_id", requestID, "err", delErr)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "command failed")
		return entity.CommandResult{}, err
	}

	result.RequestID = requestID
	result.Command = commandName
	payload, err := json.Marshal(result)
	if err != nil {
		return entity.CommandResult{}, fmt.Errorf("failed to marshal command result: %w", err)
	}
	if err := g.store.Complete(context.WithoutCancel(ctx), requestID, payload, g.now()); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "complete idempotency record")
		return entity.CommandResult{}, fmt.Errorf("failed to store command result: %w", err)
	}
	return result, nil
}

// replay resolves a request id that already has a record. takeOver is true
// when the record was abandoned and now belongs to this attempt.
func (g *IdempotencyGuard) replay(ctx context.Context, requestID, commandName string) (entity.CommandResult, bool, error) {
	record, err := g.store.Get(ctx, requestID)
	if errors.Is(err, entity.ErrNotFound) {
		// released between Create and Get by a failing first attempt
		return entity.CommandResult{}, false, entity.ErrRequestInProgress
	}
	if err != nil {
		return entity.CommandResult{}, false, fmt.Errorf("failed to load request %s: %w", requestID, err)
	}
	if record.CommandName != commandName {
		return entity.CommandResult{}, false, &entity.ValidationError{
			Field:  "request_id",
			Reason: fmt.Sprintf("already used for %s", record.CommandName),
		}
	}
	if !record.Completed() {
		now := g.now()
		staleBefore := now.Add(-g.lease)
		if !record.CreatedAt.Before(staleBefore) {
			return entity.CommandResult{}, false, entity.ErrRequestInProgress
		}
		reclaimed, err := g.store.Reclaim(ctx, requestID, commandName, staleBefore, now)
		if err != nil {
			return entity.CommandResult{}, false, fmt.Errorf("failed to reclaim request %s: %w", requestID, err)
		}
		if !reclaimed {
			return entity.CommandResult{}, false, entity.ErrRequestInProgress
		}
		return entity.CommandResult{}, true, nil
	}

	var result entity.CommandResult
	if err := json.Unmarshal(record.Result, &result); err != nil {
		return entity.CommandResult{}, false, fmt.Errorf("failed to unmarshal stored result for %s: %w", requestID, err)
	}
	slog.Info("Guard: duplicate request, returning stored result", "request_id", requestID, "command", commandName)
	return result, false, nil
}

// CollectGarbage drops records created more than ttl ago.
func (g *IdempotencyGuard) CollectGarbage(ctx context.Context, ttl time.Duration) (int64, error) {
	purged, err := g.store.Purge(ctx, g.now().Add(-ttl))
	if err != nil {
		return 0, fmt.Errorf("failed to purge idempotency records: %w", err)
	}
	if purged > 0 {
		slog.Info("Guard: purged idempotency records", "count", purged)
	}
	return purged, nil
}

// RunJanitor calls CollectGarbage every interval until ctx is done.
func (g *IdempotencyGuard) RunJanitor(ctx context.Context, interval, ttl time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := g.CollectGarbage(ctx, ttl); err != nil {
				slog.Error("Guard: garbage collection failed", "err", err)
			}
		}
	}
}
