package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/egannguyen/go-kafka-ecommerce/fulfillment/internal/entity"
)

func TestGuardReplaysStoredResult(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	calls := 0
	handler := func(context.Context) (entity.CommandResult, error) {
		calls++
		return entity.CommandResult{AggregateID: "order-1", Applied: true, Status: "Paid"}, nil
	}

	first, err := h.guard.Execute(ctx, "req-1", "SetPaid", handler)
	require.NoError(t, err)
	second, err := h.guard.Execute(ctx, "req-1", "SetPaid", handler)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, first, second)
	assert.Equal(t, entity.CommandResult{RequestID: "req-1", Command: "SetPaid", AggregateID: "order-1", Applied: true, Status: "Paid"}, first)

	record, err := h.idempotent.Get(ctx, "req-1")
	require.NoError(t, err)
	assert.True(t, record.Completed())
}

func TestGuardReportsRequestInProgress(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	created, err := h.idempotent.Create(ctx, entity.IdempotencyRecord{RequestID: "req-2", CommandName: "Ship", CreatedAt: time.Now().UTC()})
	require.NoError(t, err)
	require.True(t, created)

	_, err = h.guard.Execute(ctx, "req-2", "Ship", func(context.Context) (entity.CommandResult, error) {
		t.Fatal("handler must not run while the first execution is in progress")
		return entity.CommandResult{}, nil
	})
	require.ErrorIs(t, err, entity.ErrRequestInProgress)
}

func TestGuardReleasesFailedRequest(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	boom := errors.New("database unavailable")
	_, err := h.guard.Execute(ctx, "req-3", "Ship", func(context.Context) (entity.CommandResult, error) {
		return entity.CommandResult{}, boom
	})
	require.ErrorIs(t, err, boom)

	_, err = h.idempotent.Get(ctx, "req-3")
	require.ErrorIs(t, err, entity.ErrNotFound)

	res, err := h.guard.Execute(ctx, "req-3", "Ship", func(context.Context) (entity.CommandResult, error) {
		return entity.CommandResult{AggregateID: "order-3", Applied: true}, nil
	})
	require.NoError(t, err)
	assert.True(t, res.Applied)
}

func TestGuardRejectsRequestIDReuseAcrossCommands(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	ok := func(context.Context) (entity.CommandResult, error) { return entity.CommandResult{Applied: true}, nil }
	_, err := h.guard.Execute(ctx, "req-4", "Ship", ok)
	require.NoError(t, err)

	_, err = h.guard.Execute(ctx, "req-4", "Refund", ok)
	require.ErrorIs(t, err, entity.ErrValidation)
}

func TestGuardRequiresRequestID(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.guard.Execute(context.Background(), "", "Ship", func(context.Context) (entity.CommandResult, error) {
		return entity.CommandResult{}, nil
	})
	require.ErrorIs(t, err, entity.ErrValidation)
}

func TestGuardCollectGarbage(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	ok := func(context.Context) (entity.CommandResult, error) { return entity.CommandResult{Applied: true}, nil }
	h.guard.now = func() time.Time { return time.Now().UTC().Add(-48 * time.Hour) }
	_, err := h.guard.Execute(ctx, "old", "Ship", ok)
	require.NoError(t, err)
	h.guard.now = func() time.Time { return time.Now().UTC() }
	_, err = h.guard.Execute(ctx, "fresh", "Ship", ok)
	require.NoError(t, err)

	purged, err := h.guard.CollectGarbage(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	_, err = h.idempotent.Get(ctx, "old")
	require.ErrorIs(t, err, entity.ErrNotFound)
	_, err = h.idempotent.Get(ctx, "fresh")
	require.NoError(t, err)
}

func TestGuardTakesOverAbandonedRequest(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	stale := time.Now().UTC().Add(-time.Hour)
	_, err := h.idempotent.Create(ctx, entity.IdempotencyRecord{RequestID: "req-5", CommandName: "Ship", CreatedAt: stale})
	require.NoError(t, err)

	calls := 0
	handler := func(context.Context) (entity.CommandResult, error) {
		calls++
		return entity.CommandResult{AggregateID: "order-5", Applied: true}, nil
	}
	first, err := h.guard.Execute(ctx, "req-5", "Ship", handler)
	require.NoError(t, err)
	assert.True(t, first.Applied)

	second, err := h.guard.Execute(ctx, "req-5", "Ship", handler)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)

	record, err := h.idempotent.Get(ctx, "req-5")
	require.NoError(t, err)
	assert.True(t, record.Completed())
}

func TestGuardRetriesCommandAfterWorkerCrash(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	created, err := h.orders.CreateOrder(ctx, "req-create", sampleOrder())
	require.NoError(t, err)

	// a worker registered the request and died before completing it
	_, err = h.idempotent.Create(ctx, entity.IdempotencyRecord{
		RequestID:   "req-validate",
		CommandName: CommandSetAwaitingValidation,
		CreatedAt:   time.Now().UTC().Add(-time.Hour),
	})
	require.NoError(t, err)

	res, err := h.orders.SetAwaitingValidation(ctx, "req-validate", created.AggregateID)
	require.NoError(t, err)
	assert.Equal(t, string(entity.OrderStatusAwaitingValidation), res.Status)
	assert.Equal(t, entity.OrderStatusAwaitingValidation, mustOrder(t, h, created.AggregateID).Status)
}
