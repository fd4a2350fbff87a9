package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/egannguyen/go-kafka-ecommerce/fulfillment/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/fulfillment/internal/integration"
	"github.com/egannguyen/go-kafka-ecommerce/fulfillment/internal/messaging"
)

// Handler names double as consumer group suffixes and request id prefixes.
const (
	HandlerOrderingStockCheck       = "ordering.stock-check"
	HandlerOrderingPaymentSucceeded = "ordering.payment-succeeded"
	HandlerOrderingShipmentPickedUp = "ordering.shipment-picked-up"
	HandlerOrderingShipmentCancel   = "ordering.shipment-cancelled"
	HandlerShippingOrderPaid        = "shipping.order-paid"
	HandlerShippingOrderCancelled   = "shipping.order-cancelled"
)

// IntegrationHandlers reacts to integration events of the other bounded
// context. Every handler runs its command under the idempotency guard with
// request id "<handler>:<event id>", so a redelivered event is applied once.
type IntegrationHandlers struct {
	orders    *OrderService
	shipments *ShipmentService
	inventory InventoryChecker
}

func NewIntegrationHandlers(orders *OrderService, shipments *ShipmentService, inventory InventoryChecker) *IntegrationHandlers {
	return &IntegrationHandlers{orders: orders, shipments: shipments, inventory: inventory}
}

// Register subscribes every handler on sub.
func (h *IntegrationHandlers) Register(sub messaging.Subscriber) error {
	routes := []struct {
		event   integration.Event
		name    string
		handler func(context.Context, string, integration.Event) (entity.CommandResult, error)
	}{
		{integration.OrderStatusChangedToAwaitingValidation{}, HandlerOrderingStockCheck, h.checkStock},
		{integration.OrderPaymentSucceeded{}, HandlerOrderingPaymentSucceeded, h.paymentSucceeded},
		{integration.ShipmentPickedUp{}, HandlerOrderingShipmentPickedUp, h.shipmentPickedUp},
		{integration.ShipmentCancelled{}, HandlerOrderingShipmentCancel, h.shipmentCancelled},
		{integration.OrderStatusChangedToPaid{}, HandlerShippingOrderPaid, h.orderPaid},
		{integration.OrderStatusChangedToCancelled{}, HandlerShippingOrderCancelled, h.orderCancelled},
	}
	for _, r := range routes {
		if err := sub.Subscribe(r.event.EventName(), r.name, h.wrap(r.name, r.handler)); err != nil {
			return fmt.Errorf("failed to subscribe %s: %w", r.name, err)
		}
	}
	return nil
}

// wrap decodes the envelope and classifies the outcome. Permanent failures
// (bad payloads, rejected transitions) are logged and acknowledged; only
// transient ones are returned so the bus redelivers.
func (h *IntegrationHandlers) wrap(name string, handle func(context.Context, string, integration.Event) (entity.CommandResult, error)) messaging.HandlerFunc {
	return func(ctx context.Context, env messaging.Envelope) error {
		event, err := integration.Decode(env.EventType, env.Payload)
		if err != nil {
			slog.Error("Handler: dropping undecodable event", "handler", name, "event_id", env.EventID, "event_type", env.EventType, "err", err)
			return nil
		}

		requestID := name + ":" + env.EventID
		result, err := handle(ctx, requestID, event)
		switch {
		case err == nil:
			slog.Info("Handler: event handled", "handler", name, "event_id", env.EventID, "aggregate_id", result.AggregateID, "applied", result.Applied)
			return nil
		case entity.IsAlreadyInTarget(err):
			slog.Info("Handler: already in target status", "handler", name, "event_id", env.EventID, "err", err)
			return nil
		case errors.Is(err, entity.ErrInvalidTransition),
			errors.Is(err, entity.ErrInvalidWaypoint),
			errors.Is(err, entity.ErrValidation):
			slog.Warn("Handler: event rejected", "handler", name, "event_id", env.EventID, "err", err)
			return nil
		default:
			slog.Error("Handler: event failed, will be redelivered", "handler", name, "event_id", env.EventID, "err", err)
			return err
		}
	}
}

func (h *IntegrationHandlers) checkStock(ctx context.Context, requestID string, e integration.Event) (entity.CommandResult, error) {
	event := e.(*integration.OrderStatusChangedToAwaitingValidation)

	availability, err := h.inventory.CheckStock(ctx, stockRequests(event.Items))
	if err != nil {
		return entity.CommandResult{}, fmt.Errorf("failed to check stock for order %s: %w", event.OrderID, err)
	}

	// a product inventory did not answer for counts as out of stock
	inStock := make(map[string]bool, len(availability))
	for _, a := range availability {
		inStock[a.ProductID] = a.HasStock
	}
	var rejected []string
	seen := make(map[string]struct{}, len(event.Items))
	for _, item := range event.Items {
		if _, ok := seen[item.ProductID]; ok || inStock[item.ProductID] {
			continue
		}
		seen[item.ProductID] = struct{}{}
		rejected = append(rejected, item.ProductID)
	}
	if len(rejected) > 0 {
		slog.Info("Handler: stock rejected", "order_id", event.OrderID, "products", rejected)
		return h.orders.RejectStock(ctx, requestID, event.OrderID, rejected)
	}
	return h.orders.ConfirmStock(ctx, requestID, event.OrderID)
}

func (h *IntegrationHandlers) paymentSucceeded(ctx context.Context, requestID string, e integration.Event) (entity.CommandResult, error) {
	return h.orders.SetPaid(ctx, requestID, e.(*integration.OrderPaymentSucceeded).OrderID)
}

func (h *IntegrationHandlers) shipmentPickedUp(ctx context.Context, requestID string, e integration.Event) (entity.CommandResult, error) {
	return h.orders.Ship(ctx, requestID, e.(*integration.ShipmentPickedUp).OrderID)
}

func (h *IntegrationHandlers) shipmentCancelled(ctx context.Context, requestID string, e integration.Event) (entity.CommandResult, error) {
	return h.orders.Cancel(ctx, requestID, e.(*integration.ShipmentCancelled).OrderID)
}

// orderPaid opens a shipment routed through the warehouses inventory
// allocates the order lines to, in order of first appearance.
func (h *IntegrationHandlers) orderPaid(ctx context.Context, requestID string, e integration.Event) (entity.CommandResult, error) {
	event := e.(*integration.OrderStatusChangedToPaid)

	availability, err := h.inventory.CheckStock(ctx, stockRequests(event.Items))
	if err != nil {
		return entity.CommandResult{}, fmt.Errorf("failed to allocate warehouses for order %s: %w", event.OrderID, err)
	}

	seen := make(map[string]struct{})
	var waypoints []WaypointInput
	for _, a := range availability {
		if a.WarehouseID == "" {
			continue
		}
		if _, ok := seen[a.WarehouseID]; ok {
			continue
		}
		seen[a.WarehouseID] = struct{}{}
		waypoints = append(waypoints, WaypointInput{WarehouseID: a.WarehouseID, WarehouseName: a.WarehouseName})
	}

	if len(waypoints) == 0 {
		// redelivered until inventory can place the order
		return entity.CommandResult{}, fmt.Errorf("inventory allocated no warehouse for order %s", event.OrderID)
	}

	return h.shipments.CreateForOrder(ctx, requestID, CreateShipment{
		OrderID:   event.OrderID,
		Address:   event.Address,
		Waypoints: waypoints,
	})
}

func (h *IntegrationHandlers) orderCancelled(ctx context.Context, requestID string, e integration.Event) (entity.CommandResult, error) {
	return h.shipments.CancelForOrder(ctx, requestID, e.(*integration.OrderStatusChangedToCancelled).OrderID)
}

func stockRequests(items []integration.StockItem) []StockRequest {
	out := make([]StockRequest, 0, len(items))
	for _, item := range items {
		out = append(out, StockRequest{ProductID: item.ProductID, Units: item.Units})
	}
	return out
}
