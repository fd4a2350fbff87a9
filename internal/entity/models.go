package entity

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Address is the immutable shipping address of an order or shipment.
type Address struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	Country string `json:"country"`
	ZipCode string `json:"zip_code"`
}

// OrderItem is a line item within an order.
type OrderItem struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Discount    decimal.Decimal `json:"discount"`
	Units       int             `json:"units"`
	PictureURL  string          `json:"picture_url"`
}

// NewOrderItem validates and builds a line item.
func NewOrderItem(productID, productName string, unitPrice, discount decimal.Decimal, pictureURL string, units int) (OrderItem, error) {
	item := OrderItem{
		ProductID:   strings.TrimSpace(productID),
		ProductName: productName,
		UnitPrice:   unitPrice,
		Discount:    discount,
		Units:       units,
		PictureURL:  pictureURL,
	}
	if item.ProductID == "" {
		return OrderItem{}, &ValidationError{Field: "product_id", Reason: "is required"}
	}
	if err := item.validate(); err != nil {
		return OrderItem{}, err
	}
	return item, nil
}

func (i OrderItem) validate() error {
	if i.Units <= 0 {
		return &ValidationError{Field: "units", Reason: "must be greater than zero"}
	}
	if i.UnitPrice.IsNegative() {
		return &ValidationError{Field: "unit_price", Reason: "must not be negative"}
	}
	if i.Discount.IsNegative() {
		return &ValidationError{Field: "discount", Reason: "must not be negative"}
	}
	if i.LineTotal().LessThan(i.Discount) {
		return &ValidationError{Field: "discount", Reason: "the total of order item is lower than applied discount"}
	}
	return nil
}

// LineTotal is unit price times units, discount excluded.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Units)))
}

// CommandResult is the result shape shared by first and duplicate executions
// of a command.
type CommandResult struct {
	RequestID   string `json:"request_id"`
	Command     string `json:"command"`
	AggregateID string `json:"aggregate_id,omitempty"`
	Applied     bool   `json:"applied"`
	Status      string `json:"status,omitempty"`
}

// IdempotencyRecord tracks one request id seen by the idempotency guard.
type IdempotencyRecord struct {
	RequestID   string     `json:"request_id"`
	CommandName string     `json:"command_name"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Result      []byte     `json:"result,omitempty"`
}

// Completed reports whether the command finished and its result was stored.
func (r IdempotencyRecord) Completed() bool {
	return r.CompletedAt != nil
}
