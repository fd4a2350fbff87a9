// Package integration holds the cross-service events published through the
// outbox and the translator that derives them from domain events.
package integration

import (
	"time"

	"github.com/egannguyen/go-kafka-ecommerce/fulfillment/internal/entity"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event is a serializable notification delivered over the message channel.
type Event interface {
	EventID() string
	EventName() string
	CreatedAt() time.Time
}

// Base carries the identity every integration event needs.
type Base struct {
	ID           string    `json:"id"`
	CreationDate time.Time `json:"creation_date"`
}

func NewBase() Base {
	return Base{ID: uuid.NewString(), CreationDate: time.Now().UTC()}
}

func (b Base) EventID() string      { return b.ID }
func (b Base) CreatedAt() time.Time { return b.CreationDate }

// StockItem is the order line view shared with inventory.
type StockItem struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Units       int    `json:"units"`
}

func stockItems(items []entity.OrderItem) []StockItem {
	out := make([]StockItem, 0, len(items))
	for _, item := range items {
		out = append(out, StockItem{ProductID: item.ProductID, ProductName: item.ProductName, Units: item.Units})
	}
	return out
}

// --- Ordering ---

type OrderStatusChangedToAwaitingValidation struct {
	Base
	OrderID     string      `json:"order_id"`
	OrderStatus string      `json:"order_status"`
	Items       []StockItem `json:"items"`
}

func (OrderStatusChangedToAwaitingValidation) EventName() string {
	return "OrderStatusChangedToAwaitingValidationIntegrationEvent"
}

type OrderStatusChangedToStockConfirmed struct {
	Base
	OrderID     string `json:"order_id"`
	OrderStatus string `json:"order_status"`
}

func (OrderStatusChangedToStockConfirmed) EventName() string {
	return "OrderStatusChangedToStockConfirmedIntegrationEvent"
}

type OrderStatusChangedToPaid struct {
	Base
	OrderID     string         `json:"order_id"`
	OrderStatus string         `json:"order_status"`
	BuyerID     string         `json:"buyer_id"`
	BuyerName   string         `json:"buyer_name"`
	Address     entity.Address `json:"address"`
	Items       []StockItem    `json:"items"`
}

func (OrderStatusChangedToPaid) EventName() string {
	return "OrderStatusChangedToPaidIntegrationEvent"
}

type OrderStatusChangedToShipped struct {
	Base
	OrderID     string `json:"order_id"`
	OrderStatus string `json:"order_status"`
	BuyerID     string `json:"buyer_id"`
	BuyerName   string `json:"buyer_name"`
}

func (OrderStatusChangedToShipped) EventName() string {
	return "OrderStatusChangedToShippedIntegrationEvent"
}

type OrderStatusChangedToCancelled struct {
	Base
	OrderID     string      `json:"order_id"`
	OrderStatus string      `json:"order_status"`
	BuyerID     string      `json:"buyer_id"`
	BuyerName   string      `json:"buyer_name"`
	Items       []StockItem `json:"items"`
}

func (OrderStatusChangedToCancelled) EventName() string {
	return "OrderStatusChangedToCancelledIntegrationEvent"
}

type OrderStatusChangedToAwaitingReturn struct {
	Base
	OrderID     string `json:"order_id"`
	OrderStatus string `json:"order_status"`
	BuyerID     string `json:"buyer_id"`
	BuyerName   string `json:"buyer_name"`
}

func (OrderStatusChangedToAwaitingReturn) EventName() string {
	return "OrderStatusChangedToAwaitingReturnIntegrationEvent"
}

type OrderStatusChangedToReceivedReturn struct {
	Base
	OrderID     string      `json:"order_id"`
	OrderStatus string      `json:"order_status"`
	BuyerID     string      `json:"buyer_id"`
	Items       []StockItem `json:"items"`
}

func (OrderStatusChangedToReceivedReturn) EventName() string {
	return "OrderStatusChangedToReceivedReturnIntegrationEvent"
}

type OrderStatusChangedToRefunded struct {
	Base
	OrderID     string          `json:"order_id"`
	OrderStatus string          `json:"order_status"`
	BuyerID     string          `json:"buyer_id"`
	BuyerName   string          `json:"buyer_name"`
	Amount      decimal.Decimal `json:"amount"`
}

func (OrderStatusChangedToRefunded) EventName() string {
	return "OrderStatusChangedToRefundedIntegrationEvent"
}

// OrderPaymentSucceeded is published by the payment service; ordering only consumes it.
type OrderPaymentSucceeded struct {
	Base
	OrderID string `json:"order_id"`
}

func (OrderPaymentSucceeded) EventName() string {
	return "OrderPaymentSucceededIntegrationEvent"
}

// --- Shipping ---

type ShipmentCreated struct {
	Base
	ShipmentID string `json:"shipment_id"`
	OrderID    string `json:"order_id"`
}

func (ShipmentCreated) EventName() string { return "ShipmentCreatedIntegrationEvent" }

type ShipmentShipperAssigned struct {
	Base
	ShipmentID string `json:"shipment_id"`
	OrderID    string `json:"order_id"`
	ShipperID  string `json:"shipper_id"`
}

func (ShipmentShipperAssigned) EventName() string { return "ShipmentShipperAssignedIntegrationEvent" }

type ShipmentPickedUp struct {
	Base
	ShipmentID  string `json:"shipment_id"`
	OrderID     string `json:"order_id"`
	WarehouseID string `json:"warehouse_id"`
}

func (ShipmentPickedUp) EventName() string { return "ShipmentPickedUpIntegrationEvent" }

type ShipmentOutForDelivery struct {
	Base
	ShipmentID string `json:"shipment_id"`
	OrderID    string `json:"order_id"`
}

func (ShipmentOutForDelivery) EventName() string { return "ShipmentOutForDeliveryIntegrationEvent" }

type ShipmentDelivered struct {
	Base
	ShipmentID  string    `json:"shipment_id"`
	OrderID     string    `json:"order_id"`
	DeliveredAt time.Time `json:"delivered_at"`
}

func (ShipmentDelivered) EventName() string { return "ShipmentDeliveredIntegrationEvent" }

type ShipmentCancelled struct {
	Base
	ShipmentID        string `json:"shipment_id"`
	OrderID           string `json:"order_id"`
	ReturnWarehouseID string `json:"return_warehouse_id"`
}

func (ShipmentCancelled) EventName() string { return "ShipmentCancelledIntegrationEvent" }

type ShipmentReturned struct {
	Base
	ShipmentID  string `json:"shipment_id"`
	OrderID     string `json:"order_id"`
	WarehouseID string `json:"warehouse_id"`
}

func (ShipmentReturned) EventName() string { return "ShipmentReturnedIntegrationEvent" }
