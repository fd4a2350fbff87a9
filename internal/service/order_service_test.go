package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/egannguyen/go-kafka-ecommerce/fulfillment/internal/entity"
)

func TestOrderLifecycleThroughRefund(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	created, err := h.orders.CreateOrder(ctx, "req-create", sampleOrder())
	require.NoError(t, err)
	assert.True(t, created.Applied)
	assert.Equal(t, string(entity.OrderStatusSubmitted), created.Status)
	orderID := created.AggregateID

	steps := []struct {
		run    func(ctx context.Context, requestID, orderID string) (entity.CommandResult, error)
		status entity.OrderStatus
	}{
		{h.orders.SetAwaitingValidation, entity.OrderStatusAwaitingValidation},
		{h.orders.ConfirmStock, entity.OrderStatusStockConfirmed},
		{h.orders.SetPaid, entity.OrderStatusPaid},
		{h.orders.Ship, entity.OrderStatusShipped},
		{h.orders.RequestReturn, entity.OrderStatusAwaitingReturn},
		{h.orders.ReceiveReturn, entity.OrderStatusReceivedReturn},
		{h.orders.Refund, entity.OrderStatusRefunded},
	}
	for i, step := range steps {
		res, err := step.run(ctx, "req-step-"+string(step.status), orderID)
		require.NoError(t, err, "step %d", i)
		assert.True(t, res.Applied)
		assert.Equal(t, string(step.status), res.Status)
	}

	order, err := h.orders.GetOrder(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, entity.OrderStatusRefunded, order.Status)
	assert.Equal(t, "Buyer buyer-1", order.BuyerName)
	assert.Len(t, order.Items(), 2)
}

func TestCreateOrderRequiresItems(t *testing.T) {
	h := newHarness(t, nil)
	cmd := sampleOrder()
	cmd.Items = nil

	_, err := h.orders.CreateOrder(context.Background(), "req-empty", cmd)
	require.ErrorIs(t, err, entity.ErrValidation)
}

func TestCommandOnUnknownOrderIsNotApplied(t *testing.T) {
	h := newHarness(t, nil)

	res, err := h.orders.Ship(context.Background(), "req-ship", "missing-order")
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, "missing-order", res.AggregateID)
}

func TestRejectedTransitionReleasesRequestID(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	created, err := h.orders.CreateOrder(ctx, "req-create", sampleOrder())
	require.NoError(t, err)

	_, err = h.orders.Ship(ctx, "req-ship", created.AggregateID)
	require.ErrorIs(t, err, entity.ErrInvalidTransition)

	_, err = h.idempotent.Get(ctx, "req-ship")
	require.ErrorIs(t, err, entity.ErrNotFound)
}

func TestDuplicateCommandWritesOutboxOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	created, err := h.orders.CreateOrder(ctx, "req-create", sampleOrder())
	require.NoError(t, err)
	again, err := h.orders.CreateOrder(ctx, "req-create", sampleOrder())
	require.NoError(t, err)
	assert.Equal(t, created, again)

	first, err := h.orders.SetAwaitingValidation(ctx, "req-validate", created.AggregateID)
	require.NoError(t, err)
	second, err := h.orders.SetAwaitingValidation(ctx, "req-validate", created.AggregateID)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	counts, err := h.eventLog.CountByState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[entity.EventStatePending])
}

func TestRejectStockCancelsWithoutEvent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	created, err := h.orders.CreateOrder(ctx, "req-create", sampleOrder())
	require.NoError(t, err)
	_, err = h.orders.SetAwaitingValidation(ctx, "req-validate", created.AggregateID)
	require.NoError(t, err)

	res, err := h.orders.RejectStock(ctx, "req-reject", created.AggregateID, []string{"p-2"})
	require.NoError(t, err)
	assert.Equal(t, string(entity.OrderStatusCancelled), res.Status)

	order, err := h.orders.GetOrder(ctx, created.AggregateID)
	require.NoError(t, err)
	assert.Contains(t, order.Description, "Headphones")

	counts, err := h.eventLog.CountByState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[entity.EventStatePending])
}

func TestCancellationPolicyThroughService(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	created, err := h.orders.CreateOrder(ctx, "req-create", sampleOrder())
	require.NoError(t, err)
	_, err = h.orders.Cancel(ctx, "req-cancel-early", created.AggregateID)
	require.ErrorIs(t, err, entity.ErrInvalidTransition)

	orderID := h.createPaidOrder(t)
	res, err := h.orders.Cancel(ctx, "req-cancel", orderID)
	require.NoError(t, err)
	assert.Equal(t, string(entity.OrderStatusCancelled), res.Status)

	_, err = h.orders.Cancel(ctx, "req-cancel-again", orderID)
	require.Error(t, err)
	assert.True(t, entity.IsAlreadyInTarget(err))
}
