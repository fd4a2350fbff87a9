package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// --- Order events ---

// OrderStarted is raised when a new order is created. It never leaves the ordering service.
type OrderStarted struct {
	OrderID    string    `json:"order_id"`
	BuyerID    string    `json:"buyer_id"`
	BuyerName  string    `json:"buyer_name"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (e OrderStarted) EventType() string { return "OrderStarted" }

// OrderStatusChangedToAwaitingValidation carries the full item list for the downstream stock check.
type OrderStatusChangedToAwaitingValidation struct {
	OrderID    string      `json:"order_id"`
	Items      []OrderItem `json:"items"`
	OccurredAt time.Time   `json:"occurred_at"`
}

func (e OrderStatusChangedToAwaitingValidation) EventType() string {
	return "OrderStatusChangedToAwaitingValidation"
}

type OrderStatusChangedToStockConfirmed struct {
	OrderID    string    `json:"order_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (e OrderStatusChangedToStockConfirmed) EventType() string {
	return "OrderStatusChangedToStockConfirmed"
}

// OrderStatusChangedToPaid drives shipment creation downstream.
type OrderStatusChangedToPaid struct {
	OrderID    string      `json:"order_id"`
	BuyerID    string      `json:"buyer_id"`
	BuyerName  string      `json:"buyer_name"`
	Address    Address     `json:"address"`
	Items      []OrderItem `json:"items"`
	OccurredAt time.Time   `json:"occurred_at"`
}

func (e OrderStatusChangedToPaid) EventType() string { return "OrderStatusChangedToPaid" }

type OrderShipped struct {
	OrderID    string    `json:"order_id"`
	BuyerID    string    `json:"buyer_id"`
	BuyerName  string    `json:"buyer_name"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (e OrderShipped) EventType() string { return "OrderShipped" }

// OrderCancelled drives inventory restoration and shipment cancellation downstream.
type OrderCancelled struct {
	OrderID    string      `json:"order_id"`
	BuyerID    string      `json:"buyer_id"`
	BuyerName  string      `json:"buyer_name"`
	Items      []OrderItem `json:"items"`
	OccurredAt time.Time   `json:"occurred_at"`
}

func (e OrderCancelled) EventType() string { return "OrderCancelled" }

type OrderReturnRequested struct {
	OrderID    string    `json:"order_id"`
	BuyerID    string    `json:"buyer_id"`
	BuyerName  string    `json:"buyer_name"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (e OrderReturnRequested) EventType() string { return "OrderReturnRequested" }

type OrderReturnReceived struct {
	OrderID    string      `json:"order_id"`
	BuyerID    string      `json:"buyer_id"`
	Items      []OrderItem `json:"items"`
	OccurredAt time.Time   `json:"occurred_at"`
}

func (e OrderReturnReceived) EventType() string { return "OrderReturnReceived" }

type OrderRefunded struct {
	OrderID    string          `json:"order_id"`
	BuyerID    string          `json:"buyer_id"`
	BuyerName  string          `json:"buyer_name"`
	Amount     decimal.Decimal `json:"amount"`
	OccurredAt time.Time       `json:"occurred_at"`
}

func (e OrderRefunded) EventType() string { return "OrderRefunded" }

// --- Shipment events ---

type ShipmentCreated struct {
	ShipmentID string    `json:"shipment_id"`
	OrderID    string    `json:"order_id"`
	Address    Address   `json:"address"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (e ShipmentCreated) EventType() string { return "ShipmentCreated" }

type ShipmentWaypointAdded struct {
	ShipmentID  string `json:"shipment_id"`
	WaypointID  string `json:"waypoint_id"`
	WarehouseID string `json:"warehouse_id"`
	Sequence    int    `json:"sequence"`
}

func (e ShipmentWaypointAdded) EventType() string { return "ShipmentWaypointAdded" }

type ShipmentShipperAssigned struct {
	ShipmentID string    `json:"shipment_id"`
	OrderID    string    `json:"order_id"`
	ShipperID  string    `json:"shipper_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (e ShipmentShipperAssigned) EventType() string { return "ShipmentShipperAssigned" }

type ShipmentArrivedAtWarehouse struct {
	ShipmentID  string    `json:"shipment_id"`
	OrderID     string    `json:"order_id"`
	WaypointID  string    `json:"waypoint_id"`
	WarehouseID string    `json:"warehouse_id"`
	OccurredAt  time.Time `json:"occurred_at"`
}

func (e ShipmentArrivedAtWarehouse) EventType() string { return "ShipmentArrivedAtWarehouse" }

type ShipmentPickedUp struct {
	ShipmentID  string    `json:"shipment_id"`
	OrderID     string    `json:"order_id"`
	WaypointID  string    `json:"waypoint_id"`
	WarehouseID string    `json:"warehouse_id"`
	OccurredAt  time.Time `json:"occurred_at"`
}

func (e ShipmentPickedUp) EventType() string { return "ShipmentPickedUp" }

type ShipmentDepartedWarehouse struct {
	ShipmentID     string    `json:"shipment_id"`
	OrderID        string    `json:"order_id"`
	WaypointID     string    `json:"waypoint_id"`
	NextWaypointID string    `json:"next_waypoint_id"`
	OccurredAt     time.Time `json:"occurred_at"`
}

func (e ShipmentDepartedWarehouse) EventType() string { return "ShipmentDepartedWarehouse" }

// ShipmentOutForDelivery is raised when the last waypoint is left behind.
type ShipmentOutForDelivery struct {
	ShipmentID string    `json:"shipment_id"`
	OrderID    string    `json:"order_id"`
	WaypointID string    `json:"waypoint_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (e ShipmentOutForDelivery) EventType() string { return "ShipmentOutForDelivery" }

type ShipmentDelivered struct {
	ShipmentID string    `json:"shipment_id"`
	OrderID    string    `json:"order_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (e ShipmentDelivered) EventType() string { return "ShipmentDelivered" }

type ShipmentCancelled struct {
	ShipmentID        string    `json:"shipment_id"`
	OrderID           string    `json:"order_id"`
	ReturnWarehouseID string    `json:"return_warehouse_id"`
	OccurredAt        time.Time `json:"occurred_at"`
}

func (e ShipmentCancelled) EventType() string { return "ShipmentCancelled" }

type ShipmentReturned struct {
	ShipmentID  string    `json:"shipment_id"`
	OrderID     string    `json:"order_id"`
	WarehouseID string    `json:"warehouse_id"`
	OccurredAt  time.Time `json:"occurred_at"`
}

func (e ShipmentReturned) EventType() string { return "ShipmentReturned" }
