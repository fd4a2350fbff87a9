package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

const (
	MetadataEventType    = "event_type"
	MetadataPartitionKey = "partition_key"
)

// SubscriberFactory returns the subscriber a handler consumes from. Kafka
// transports hand out one consumer group per handler so every handler sees
// every message of its topic.
type SubscriberFactory func(handlerName string) (message.Subscriber, error)

// BusConfig tunes the local retry applied before a message is nacked.
type BusConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	CloseTimeout    time.Duration
	// AwaitRouter makes Publish wait until the router is running. Transports
	// that drop messages with no subscriber, like the in-process channel, need it.
	AwaitRouter bool
}

func (c BusConfig) withDefaults() BusConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = 100 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 2 * time.Second
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = 10 * time.Second
	}
	return c
}

// Bus is the only component that talks to the message channel. Outbound
// events go straight to the publisher; inbound events are dispatched through
// a watermill router.
type Bus struct {
	publisher   message.Publisher
	subscribers SubscriberFactory
	router      *message.Router
	logger      watermill.LoggerAdapter
	awaitRouter bool
}

var (
	_ Publisher  = (*Bus)(nil)
	_ Subscriber = (*Bus)(nil)
)

// NewBus builds the router with recovery, correlation and retry middleware.
func NewBus(publisher message.Publisher, subscribers SubscriberFactory, cfg BusConfig, logger watermill.LoggerAdapter) (*Bus, error) {
	if logger == nil {
		logger = watermill.NewSlogLogger(slog.Default())
	}
	cfg = cfg.withDefaults()

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: cfg.CloseTimeout}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create router: %w", err)
	}
	router.AddMiddleware(
		middleware.Recoverer,
		middleware.CorrelationID,
		middleware.Retry{
			MaxRetries:      cfg.MaxRetries,
			InitialInterval: cfg.InitialInterval,
			MaxInterval:     cfg.MaxInterval,
			Multiplier:      2,
			Logger:          logger,
		}.Middleware,
	)

	return &Bus{
		publisher:   publisher,
		subscribers: subscribers,
		router:      router,
		logger:      logger,
		awaitRouter: cfg.AwaitRouter,
	}, nil
}

// NewGoChannel returns the in-process transport used in local mode and tests.
func NewGoChannel(logger watermill.LoggerAdapter) *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, logger)
}

// Publish sends env on the topic named after its event type. The message
// uuid is the event id so consumers can deduplicate redeliveries. Publish
// fails with ctx's error once ctx is done, even if the transport has not
// answered yet.
func (b *Bus) Publish(ctx context.Context, env Envelope) error {
	msg := message.NewMessage(env.EventID, env.Payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(MetadataEventType, env.EventType)
	if env.Key != "" {
		msg.Metadata.Set(MetadataPartitionKey, env.Key)
	}
	middleware.SetCorrelationID(env.EventID, msg)

	if b.awaitRouter {
		select {
		case <-b.router.Running():
		case <-ctx.Done():
			return fmt.Errorf("failed to publish %s %s: router not running: %w", env.EventType, env.EventID, ctx.Err())
		}
	}

	// watermill publishers do not take a context; give up on ctx and let the
	// send finish in the background
	done := make(chan error, 1)
	go func() {
		done <- b.publisher.Publish(env.EventType, msg)
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to publish %s %s: %w", env.EventType, env.EventID, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to publish %s %s: %w", env.EventType, env.EventID, ctx.Err())
	}
}

// Subscribe registers handler for eventType. It must be called before Run.
func (b *Bus) Subscribe(eventType, handlerName string, handler HandlerFunc) error {
	subscriber, err := b.subscribers(handlerName)
	if err != nil {
		return fmt.Errorf("failed to create subscriber for %s: %w", handlerName, err)
	}
	b.router.AddNoPublisherHandler(handlerName, eventType, subscriber, func(msg *message.Message) error {
		env := Envelope{
			EventID:   msg.UUID,
			EventType: msg.Metadata.Get(MetadataEventType),
			Key:       msg.Metadata.Get(MetadataPartitionKey),
			Payload:   msg.Payload,
		}
		if env.EventType == "" {
			env.EventType = eventType
		}
		return handler(msg.Context(), env)
	})
	slog.Info("Bus: handler registered", "handler", handlerName, "event_type", eventType)
	return nil
}

// Run blocks dispatching inbound messages until ctx is cancelled.
func (b *Bus) Run(ctx context.Context) error {
	return b.router.Run(ctx)
}

// Running is closed once every handler is subscribed.
func (b *Bus) Running() chan struct{} {
	return b.router.Running()
}

func (b *Bus) Close() error {
	if err := b.router.Close(); err != nil {
		return fmt.Errorf("failed to close router: %w", err)
	}
	if err := b.publisher.Close(); err != nil {
		return fmt.Errorf("failed to close publisher: %w", err)
	}
	return nil
}
