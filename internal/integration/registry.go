package integration

import (
	"encoding/json"
	"fmt"
	"sort"
)

var factories = map[string]func() Event{}

func register(factory func() Event) {
	factories[factory().EventName()] = factory
}

func init() {
	register(func() Event { return &OrderStatusChangedToAwaitingValidation{} })
	register(func() Event { return &OrderStatusChangedToStockConfirmed{} })
	register(func() Event { return &OrderStatusChangedToPaid{} })
	register(func() Event { return &OrderStatusChangedToShipped{} })
	register(func() Event { return &OrderStatusChangedToCancelled{} })
	register(func() Event { return &OrderStatusChangedToAwaitingReturn{} })
	register(func() Event { return &OrderStatusChangedToReceivedReturn{} })
	register(func() Event { return &OrderStatusChangedToRefunded{} })
	register(func() Event { return &OrderPaymentSucceeded{} })
	register(func() Event { return &ShipmentCreated{} })
	register(func() Event { return &ShipmentShipperAssigned{} })
	register(func() Event { return &ShipmentPickedUp{} })
	register(func() Event { return &ShipmentOutForDelivery{} })
	register(func() Event { return &ShipmentDelivered{} })
	register(func() Event { return &ShipmentCancelled{} })
	register(func() Event { return &ShipmentReturned{} })
}

// Decode unmarshals a payload into the registered event type for name.
func Decode(name string, payload []byte) (Event, error) {
	factory, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown integration event type: %s", name)
	}
	event := factory()
	if err := json.Unmarshal(payload, event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", name, err)
	}
	return event, nil
}

// Names lists every registered event type name, sorted.
func Names() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
