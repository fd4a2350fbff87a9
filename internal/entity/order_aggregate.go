package entity

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusSubmitted          OrderStatus = "Submitted"
	OrderStatusAwaitingValidation OrderStatus = "AwaitingValidation"
	OrderStatusStockConfirmed     OrderStatus = "StockConfirmed"
	OrderStatusPaid               OrderStatus = "Paid"
	OrderStatusShipped            OrderStatus = "Shipped"
	OrderStatusCancelled          OrderStatus = "Cancelled"
	OrderStatusAwaitingReturn     OrderStatus = "AwaitingReturn"
	OrderStatusReceivedReturn     OrderStatus = "ReceivedReturn"
	OrderStatusRefunded           OrderStatus = "Refunded"
)

// OrderAggregate owns the order data and the order state machine.
type OrderAggregate struct {
	AggregateBase
	BuyerID     string
	BuyerName   string
	Address     Address
	Status      OrderStatus
	Description string
	CreatedAt   time.Time

	items []OrderItem
}

// NewOrderAggregate starts a new order in the Submitted status.
func NewOrderAggregate(id, buyerID, buyerName string, address Address) (*OrderAggregate, error) {
	id = strings.TrimSpace(id)
	buyerID = strings.TrimSpace(buyerID)
	if id == "" {
		return nil, &ValidationError{Field: "order_id", Reason: "is required"}
	}
	if buyerID == "" {
		return nil, &ValidationError{Field: "buyer_id", Reason: "is required"}
	}

	now := utcNow()
	a := &OrderAggregate{
		AggregateBase: AggregateBase{ID: id, Version: 0},
		BuyerID:       buyerID,
		BuyerName:     buyerName,
		Address:       address,
		Status:        OrderStatusSubmitted,
		CreatedAt:     now,
	}
	a.record(OrderStarted{OrderID: id, BuyerID: buyerID, BuyerName: buyerName, OccurredAt: now})
	return a, nil
}

// RestoreOrderAggregate rebuilds a persisted order without raising events.
func RestoreOrderAggregate(id string, version int, buyerID, buyerName string, address Address, status OrderStatus, description string, createdAt time.Time, items []OrderItem) *OrderAggregate {
	restored := make([]OrderItem, len(items))
	copy(restored, items)
	return &OrderAggregate{
		AggregateBase: AggregateBase{ID: id, Version: version},
		BuyerID:       buyerID,
		BuyerName:     buyerName,
		Address:       address,
		Status:        status,
		Description:   description,
		CreatedAt:     createdAt,
		items:         restored,
	}
}

// Items returns a copy of the order lines.
func (a *OrderAggregate) Items() []OrderItem {
	out := make([]OrderItem, len(a.items))
	copy(out, a.items)
	return out
}

// AddOrderItem adds a line, or merges units into the existing line for the
// same product keeping the larger discount.
func (a *OrderAggregate) AddOrderItem(productID, productName string, unitPrice, discount decimal.Decimal, pictureURL string, units int) error {
	if a.Status != OrderStatusSubmitted {
		return &ValidationError{Field: "items", Reason: fmt.Sprintf("cannot be changed while order is %s", a.Status)}
	}

	productID = strings.TrimSpace(productID)
	for i := range a.items {
		if a.items[i].ProductID != productID {
			continue
		}
		if units <= 0 {
			return &ValidationError{Field: "units", Reason: "must be greater than zero"}
		}
		if discount.IsNegative() {
			return &ValidationError{Field: "discount", Reason: "must not be negative"}
		}
		merged := a.items[i]
		merged.Units += units
		if discount.GreaterThan(merged.Discount) {
			merged.Discount = discount
		}
		if err := merged.validate(); err != nil {
			return err
		}
		a.items[i] = merged
		return nil
	}

	item, err := NewOrderItem(productID, productName, unitPrice, discount, pictureURL, units)
	if err != nil {
		return err
	}
	a.items = append(a.items, item)
	return nil
}

// GetTotal is the sum of unit price times units over every line. Discounts are not applied.
func (a *OrderAggregate) GetTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range a.items {
		total = total.Add(item.LineTotal())
	}
	return total
}

func (a *OrderAggregate) SetAwaitingValidationStatus() error {
	if a.Status != OrderStatusSubmitted {
		return a.transitionError(OrderStatusAwaitingValidation)
	}
	a.raise(OrderStatusChangedToAwaitingValidation{OrderID: a.ID, Items: a.Items(), OccurredAt: utcNow()})
	return nil
}

func (a *OrderAggregate) SetStockConfirmedStatus() error {
	if a.Status != OrderStatusAwaitingValidation {
		return a.transitionError(OrderStatusStockConfirmed)
	}
	a.raise(OrderStatusChangedToStockConfirmed{OrderID: a.ID, OccurredAt: utcNow()})
	return nil
}

// SetCancelledStatusWhenStockIsRejected cancels an order whose items failed
// the stock check. No event is raised; the caller reports the failure.
func (a *OrderAggregate) SetCancelledStatusWhenStockIsRejected(rejectedProductIDs []string) error {
	if a.Status != OrderStatusAwaitingValidation {
		return a.transitionError(OrderStatusCancelled)
	}

	rejected := make(map[string]struct{}, len(rejectedProductIDs))
	for _, id := range rejectedProductIDs {
		rejected[id] = struct{}{}
	}
	var names []string
	for _, item := range a.items {
		if _, ok := rejected[item.ProductID]; ok {
			names = append(names, item.ProductName)
		}
	}

	a.Status = OrderStatusCancelled
	a.Description = fmt.Sprintf("The product items don't have stock: (%s).", strings.Join(names, ", "))
	return nil
}

func (a *OrderAggregate) SetPaidStatus() error {
	if a.Status != OrderStatusStockConfirmed {
		return a.transitionError(OrderStatusPaid)
	}
	a.raise(OrderStatusChangedToPaid{
		OrderID:    a.ID,
		BuyerID:    a.BuyerID,
		BuyerName:  a.BuyerName,
		Address:    a.Address,
		Items:      a.Items(),
		OccurredAt: utcNow(),
	})
	return nil
}

func (a *OrderAggregate) SetShippedStatus() error {
	if a.Status != OrderStatusPaid {
		return a.transitionError(OrderStatusShipped)
	}
	a.raise(OrderShipped{OrderID: a.ID, BuyerID: a.BuyerID, BuyerName: a.BuyerName, OccurredAt: utcNow()})
	return nil
}

// SetCancelledStatus cancels a paid or shipped order. Earlier states leave
// through the stock rejection path only.
func (a *OrderAggregate) SetCancelledStatus() error {
	if a.Status != OrderStatusPaid && a.Status != OrderStatusShipped {
		return a.transitionError(OrderStatusCancelled)
	}
	a.raise(OrderCancelled{
		OrderID:    a.ID,
		BuyerID:    a.BuyerID,
		BuyerName:  a.BuyerName,
		Items:      a.Items(),
		OccurredAt: utcNow(),
	})
	return nil
}

func (a *OrderAggregate) SetAwaitingReturnStatus() error {
	if a.Status != OrderStatusShipped {
		return a.transitionError(OrderStatusAwaitingReturn)
	}
	a.raise(OrderReturnRequested{OrderID: a.ID, BuyerID: a.BuyerID, BuyerName: a.BuyerName, OccurredAt: utcNow()})
	return nil
}

func (a *OrderAggregate) SetReceivedReturnStatus() error {
	if a.Status != OrderStatusAwaitingReturn {
		return a.transitionError(OrderStatusReceivedReturn)
	}
	a.raise(OrderReturnReceived{OrderID: a.ID, BuyerID: a.BuyerID, Items: a.Items(), OccurredAt: utcNow()})
	return nil
}

func (a *OrderAggregate) SetRefundedStatus() error {
	if a.Status != OrderStatusReceivedReturn {
		return a.transitionError(OrderStatusRefunded)
	}
	a.raise(OrderRefunded{
		OrderID:    a.ID,
		BuyerID:    a.BuyerID,
		BuyerName:  a.BuyerName,
		Amount:     a.GetTotal(),
		OccurredAt: utcNow(),
	})
	return nil
}

func (a *OrderAggregate) raise(e Event) {
	a.applyEvent(e)
	a.record(e)
}

// applyEvent mutates the aggregate state based on the event.
func (a *OrderAggregate) applyEvent(e Event) {
	switch e.(type) {
	case OrderStatusChangedToAwaitingValidation:
		a.Status = OrderStatusAwaitingValidation
	case OrderStatusChangedToStockConfirmed:
		a.Status = OrderStatusStockConfirmed
		a.Description = "All the items were confirmed with available stock."
	case OrderStatusChangedToPaid:
		a.Status = OrderStatusPaid
		a.Description = "The payment was confirmed."
	case OrderShipped:
		a.Status = OrderStatusShipped
		a.Description = "The order was shipped."
	case OrderCancelled:
		a.Status = OrderStatusCancelled
		a.Description = "The order was cancelled."
	case OrderReturnRequested:
		a.Status = OrderStatusAwaitingReturn
		a.Description = "A return was requested by the buyer."
	case OrderReturnReceived:
		a.Status = OrderStatusReceivedReturn
		a.Description = "The returned items were received."
	case OrderRefunded:
		a.Status = OrderStatusRefunded
		a.Description = "The order was refunded."
	}
}

func (a *OrderAggregate) transitionError(to OrderStatus) error {
	return &TransitionError{Aggregate: "order", ID: a.ID, From: string(a.Status), To: string(to)}
}
