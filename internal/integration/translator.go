package integration

import (
	"fmt"

	"github.com/egannguyen/go-kafka-ecommerce/fulfillment/internal/entity"
)

// Translator maps domain events to integration events right before an
// aggregate transaction commits.
type Translator interface {
	Translate(e entity.Event) (Event, bool, error)
}

// DomainTranslator is the production mapping. Every domain event type has an
// explicit case; unknown types are an error.
type DomainTranslator struct{}

// Translate returns the integration event for e, or ok=false when e stays local.
func (DomainTranslator) Translate(e entity.Event) (Event, bool, error) {
	switch e := e.(type) {
	case entity.OrderStarted:
		return nil, false, nil
	case entity.OrderStatusChangedToAwaitingValidation:
		return &OrderStatusChangedToAwaitingValidation{
			Base:        NewBase(),
			OrderID:     e.OrderID,
			OrderStatus: string(entity.OrderStatusAwaitingValidation),
			Items:       stockItems(e.Items),
		}, true, nil
	case entity.OrderStatusChangedToStockConfirmed:
		return &OrderStatusChangedToStockConfirmed{
			Base:        NewBase(),
			OrderID:     e.OrderID,
			OrderStatus: string(entity.OrderStatusStockConfirmed),
		}, true, nil
	case entity.OrderStatusChangedToPaid:
		return &OrderStatusChangedToPaid{
			Base:        NewBase(),
			OrderID:     e.OrderID,
			OrderStatus: string(entity.OrderStatusPaid),
			BuyerID:     e.BuyerID,
			BuyerName:   e.BuyerName,
			Address:     e.Address,
			Items:       stockItems(e.Items),
		}, true, nil
	case entity.OrderShipped:
		return &OrderStatusChangedToShipped{
			Base:        NewBase(),
			OrderID:     e.OrderID,
			OrderStatus: string(entity.OrderStatusShipped),
			BuyerID:     e.BuyerID,
			BuyerName:   e.BuyerName,
		}, true, nil
	case entity.OrderCancelled:
		return &OrderStatusChangedToCancelled{
			Base:        NewBase(),
			OrderID:     e.OrderID,
			OrderStatus: string(entity.OrderStatusCancelled),
			BuyerID:     e.BuyerID,
			BuyerName:   e.BuyerName,
			Items:       stockItems(e.Items),
		}, true, nil
	case entity.OrderReturnRequested:
		return &OrderStatusChangedToAwaitingReturn{
			Base:        NewBase(),
			OrderID:     e.OrderID,
			OrderStatus: string(entity.OrderStatusAwaitingReturn),
			BuyerID:     e.BuyerID,
			BuyerName:   e.BuyerName,
		}, true, nil
	case entity.OrderReturnReceived:
		return &OrderStatusChangedToReceivedReturn{
			Base:        NewBase(),
			OrderID:     e.OrderID,
			OrderStatus: string(entity.OrderStatusReceivedReturn),
			BuyerID:     e.BuyerID,
			Items:       stockItems(e.Items),
		}, true, nil
	case entity.OrderRefunded:
		return &OrderStatusChangedToRefunded{
			Base:        NewBase(),
			OrderID:     e.OrderID,
			OrderStatus: string(entity.OrderStatusRefunded),
			BuyerID:     e.BuyerID,
			BuyerName:   e.BuyerName,
			Amount:      e.Amount,
		}, true, nil

	case entity.ShipmentCreated:
		return &ShipmentCreated{Base: NewBase(), ShipmentID: e.ShipmentID, OrderID: e.OrderID}, true, nil
	case entity.ShipmentWaypointAdded:
		return nil, false, nil
	case entity.ShipmentShipperAssigned:
		return &ShipmentShipperAssigned{Base: NewBase(), ShipmentID: e.ShipmentID, OrderID: e.OrderID, ShipperID: e.ShipperID}, true, nil
	case entity.ShipmentArrivedAtWarehouse:
		return nil, false, nil
	case entity.ShipmentPickedUp:
		return &ShipmentPickedUp{Base: NewBase(), ShipmentID: e.ShipmentID, OrderID: e.OrderID, WarehouseID: e.WarehouseID}, true, nil
	case entity.ShipmentDepartedWarehouse:
		return nil, false, nil
	case entity.ShipmentOutForDelivery:
		return &ShipmentOutForDelivery{Base: NewBase(), ShipmentID: e.ShipmentID, OrderID: e.OrderID}, true, nil
	case entity.ShipmentDelivered:
		return &ShipmentDelivered{Base: NewBase(), ShipmentID: e.ShipmentID, OrderID: e.OrderID, DeliveredAt: e.OccurredAt}, true, nil
	case entity.ShipmentCancelled:
		return &ShipmentCancelled{Base: NewBase(), ShipmentID: e.ShipmentID, OrderID: e.OrderID, ReturnWarehouseID: e.ReturnWarehouseID}, true, nil
	case entity.ShipmentReturned:
		return &ShipmentReturned{Base: NewBase(), ShipmentID: e.ShipmentID, OrderID: e.OrderID, WarehouseID: e.WarehouseID}, true, nil
	default:
		return nil, false, fmt.Errorf("no integration mapping for domain event %s", e.EventType())
	}
}

// TranslateAll translates events in order, skipping local-only ones.
func TranslateAll(t Translator, events []entity.Event) ([]Event, error) {
	out := make([]Event, 0, len(events))
	for _, e := range events {
		ie, ok, err := t.Translate(e)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, ie)
		}
	}
	return out, nil
}
