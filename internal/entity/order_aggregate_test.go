package entity

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOrder(t *testing.T) *OrderAggregate {
	t.Helper()
	order, err := NewOrderAggregate("order-1", "buyer-1", "Alice", Address{
		Street:  "1 Main St",
		City:    "Springfield",
		State:   "OR",
		Country: "US",
		ZipCode: "97477",
	})
	require.NoError(t, err)
	require.NoError(t, order.AddOrderItem("prod-1", "Headphones", decimal.NewFromInt(10), decimal.Zero, "", 2))
	return order
}

func eventTypes(events []Event) []string {
	types := make([]string, 0, len(events))
	for _, e := range events {
		types = append(types, e.EventType())
	}
	return types
}

func TestNewOrderRaisesStartedEvent(t *testing.T) {
	order := newTestOrder(t)

	assert.Equal(t, OrderStatusSubmitted, order.Status)
	assert.Equal(t, []string{"OrderStarted"}, eventTypes(order.Changes()))
}

func TestNewOrderRequiresBuyer(t *testing.T) {
	_, err := NewOrderAggregate("order-1", " ", "", Address{})
	require.ErrorIs(t, err, ErrValidation)
}

func TestGetTotalIgnoresDiscount(t *testing.T) {
	order := newTestOrder(t)
	assert.True(t, order.GetTotal().Equal(decimal.NewFromInt(20)), "total = %s", order.GetTotal())

	require.NoError(t, order.AddOrderItem("prod-2", "Keyboard", decimal.RequireFromString("4.50"), decimal.NewFromInt(3), "", 2))
	assert.True(t, order.GetTotal().Equal(decimal.NewFromInt(29)), "total = %s", order.GetTotal())
}

func TestAddOrderItemMergesSameProduct(t *testing.T) {
	order := newTestOrder(t)

	require.NoError(t, order.AddOrderItem("prod-1", "Headphones", decimal.NewFromInt(10), decimal.NewFromInt(5), "", 3))
	require.NoError(t, order.AddOrderItem("prod-1", "Headphones", decimal.NewFromInt(10), decimal.NewFromInt(1), "", 1))

	items := order.Items()
	require.Len(t, items, 1)
	assert.Equal(t, 6, items[0].Units)
	assert.True(t, items[0].Discount.Equal(decimal.NewFromInt(5)))
}

func TestAddOrderItemMergesPaddedProductID(t *testing.T) {
	order := newTestOrder(t)

	require.NoError(t, order.AddOrderItem(" prod-1", "Headphones", decimal.NewFromInt(10), decimal.Zero, "", 1))
	require.NoError(t, order.AddOrderItem("prod-1 ", "Headphones", decimal.NewFromInt(10), decimal.Zero, "", 2))

	items := order.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "prod-1", items[0].ProductID)
	assert.Equal(t, 5, items[0].Units)
}

func TestAddOrderItemRejectsInvalidLines(t *testing.T) {
	order := newTestOrder(t)

	err := order.AddOrderItem("prod-2", "Mouse", decimal.NewFromInt(5), decimal.Zero, "", 0)
	require.ErrorIs(t, err, ErrValidation)

	err = order.AddOrderItem("prod-2", "Mouse", decimal.NewFromInt(5), decimal.NewFromInt(11), "", 2)
	require.ErrorIs(t, err, ErrValidation)

	// Merge that would break the discount invariant leaves the line untouched.
	err = order.AddOrderItem("prod-1", "Headphones", decimal.NewFromInt(10), decimal.NewFromInt(100), "", 1)
	require.ErrorIs(t, err, ErrValidation)

	items := order.Items()
	require.Len(t, items, 1)
	assert.Equal(t, 2, items[0].Units)
	assert.True(t, items[0].Discount.IsZero())
}

func TestItemsAreCopies(t *testing.T) {
	order := newTestOrder(t)

	items := order.Items()
	items[0].Units = 99

	assert.Equal(t, 2, order.Items()[0].Units)
}

func TestOrderHappyPathThroughRefund(t *testing.T) {
	order := newTestOrder(t)
	order.ClearChanges()

	steps := []struct {
		name   string
		apply  func() error
		status OrderStatus
		event  string
	}{
		{"awaiting validation", order.SetAwaitingValidationStatus, OrderStatusAwaitingValidation, "OrderStatusChangedToAwaitingValidation"},
		{"stock confirmed", order.SetStockConfirmedStatus, OrderStatusStockConfirmed, "OrderStatusChangedToStockConfirmed"},
		{"paid", order.SetPaidStatus, OrderStatusPaid, "OrderStatusChangedToPaid"},
		{"shipped", order.SetShippedStatus, OrderStatusShipped, "OrderShipped"},
		{"awaiting return", order.SetAwaitingReturnStatus, OrderStatusAwaitingReturn, "OrderReturnRequested"},
		{"received return", order.SetReceivedReturnStatus, OrderStatusReceivedReturn, "OrderReturnReceived"},
		{"refunded", order.SetRefundedStatus, OrderStatusRefunded, "OrderRefunded"},
	}

	for i, step := range steps {
		require.NoError(t, step.apply(), step.name)
		assert.Equal(t, step.status, order.Status, step.name)

		changes := order.Changes()
		require.Len(t, changes, i+1, step.name)
		assert.Equal(t, step.event, changes[i].EventType(), step.name)
	}

	refunded := order.Changes()[len(steps)-1].(OrderRefunded)
	assert.True(t, refunded.Amount.Equal(decimal.NewFromInt(20)))
}

func TestPaidEventCarriesBuyerAndItems(t *testing.T) {
	order := newTestOrder(t)
	require.NoError(t, order.SetAwaitingValidationStatus())
	require.NoError(t, order.SetStockConfirmedStatus())
	order.ClearChanges()

	require.NoError(t, order.SetPaidStatus())

	changes := order.Changes()
	require.Len(t, changes, 1)
	paid, ok := changes[0].(OrderStatusChangedToPaid)
	require.True(t, ok)
	assert.Equal(t, "buyer-1", paid.BuyerID)
	assert.Equal(t, "Alice", paid.BuyerName)
	require.Len(t, paid.Items, 1)
	assert.Equal(t, "prod-1", paid.Items[0].ProductID)
}

func TestStockRejectedCancelsWithoutEvent(t *testing.T) {
	order := newTestOrder(t)
	assert.True(t, order.GetTotal().Equal(decimal.NewFromInt(20)))

	require.NoError(t, order.SetAwaitingValidationStatus())
	order.ClearChanges()

	require.NoError(t, order.SetCancelledStatusWhenStockIsRejected([]string{"prod-1"}))

	assert.Equal(t, OrderStatusCancelled, order.Status)
	assert.Contains(t, order.Description, "Headphones")
	assert.Empty(t, order.Changes())
}

func TestStockRejectedRequiresAwaitingValidation(t *testing.T) {
	order := newTestOrder(t)

	err := order.SetCancelledStatusWhenStockIsRejected([]string{"prod-1"})

	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, OrderStatusSubmitted, order.Status)
}

func TestInvalidTransitionsLeaveStatusUnchanged(t *testing.T) {
	order := newTestOrder(t)
	order.ClearChanges()

	for name, apply := range map[string]func() error{
		"stock confirmed": order.SetStockConfirmedStatus,
		"paid":            order.SetPaidStatus,
		"shipped":         order.SetShippedStatus,
		"cancelled":       order.SetCancelledStatus,
		"awaiting return": order.SetAwaitingReturnStatus,
		"received return": order.SetReceivedReturnStatus,
		"refunded":        order.SetRefundedStatus,
	} {
		err := apply()
		require.ErrorIs(t, err, ErrInvalidTransition, name)
		assert.Equal(t, OrderStatusSubmitted, order.Status, name)
	}
	assert.Empty(t, order.Changes())
}

func TestShipTwiceReportsAlreadyInTarget(t *testing.T) {
	order := RestoreOrderAggregate("order-1", 3, "buyer-1", "Alice", Address{}, OrderStatusShipped, "", utcNow(), nil)

	err := order.SetShippedStatus()

	var te *TransitionError
	require.True(t, errors.As(err, &te))
	assert.True(t, te.AlreadyInTarget())
	assert.Equal(t, OrderStatusShipped, order.Status)
	assert.Empty(t, order.Changes())
}

func TestShipFromStockConfirmedIsInvalid(t *testing.T) {
	order := RestoreOrderAggregate("order-1", 2, "buyer-1", "Alice", Address{}, OrderStatusStockConfirmed, "", utcNow(), nil)

	err := order.SetShippedStatus()

	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.False(t, IsAlreadyInTarget(err))
	assert.Equal(t, OrderStatusStockConfirmed, order.Status)
}

// Cancellation is only allowed once the order is Paid or Shipped.
func TestCancellationPolicy(t *testing.T) {
	allowed := []OrderStatus{OrderStatusPaid, OrderStatusShipped}
	rejected := []OrderStatus{
		OrderStatusSubmitted,
		OrderStatusAwaitingValidation,
		OrderStatusStockConfirmed,
		OrderStatusCancelled,
		OrderStatusAwaitingReturn,
		OrderStatusReceivedReturn,
		OrderStatusRefunded,
	}

	for _, status := range allowed {
		order := RestoreOrderAggregate("order-1", 1, "buyer-1", "Alice", Address{}, status, "", utcNow(), nil)
		require.NoError(t, order.SetCancelledStatus(), string(status))
		assert.Equal(t, OrderStatusCancelled, order.Status)
		assert.Equal(t, []string{"OrderCancelled"}, eventTypes(order.Changes()))
	}

	for _, status := range rejected {
		order := RestoreOrderAggregate("order-1", 1, "buyer-1", "Alice", Address{}, status, "", utcNow(), nil)
		err := order.SetCancelledStatus()
		require.ErrorIs(t, err, ErrInvalidTransition, string(status))
		assert.Equal(t, status, order.Status)
	}
}

func TestAddOrderItemOnlyWhileSubmitted(t *testing.T) {
	order := newTestOrder(t)
	require.NoError(t, order.SetAwaitingValidationStatus())

	err := order.AddOrderItem("prod-9", "Lamp", decimal.NewFromInt(1), decimal.Zero, "", 1)

	require.ErrorIs(t, err, ErrValidation)
	assert.Len(t, order.Items(), 1)
}
