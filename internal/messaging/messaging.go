package messaging

import "context"

// Envelope is one integration event on the wire.
type Envelope struct {
	EventID   string
	EventType string
	// Key groups messages for partitioning; the aggregate id.
	Key     string
	Payload []byte
}

// HandlerFunc handles one delivered envelope. Returning an error nacks the
// message so the transport redelivers it.
type HandlerFunc func(ctx context.Context, env Envelope) error

// Publisher defines an interface for publishing events to a message broker.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

// Subscriber defines an interface for subscribing to an event type.
type Subscriber interface {
	Subscribe(eventType, handlerName string, handler HandlerFunc) error
}
