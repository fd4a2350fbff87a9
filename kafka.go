package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/egannguyen/go-kafka-ecommerce/fulfillment/internal/config"
	"github.com/egannguyen/go-kafka-ecommerce/fulfillment/internal/integration"
	"github.com/egannguyen/go-kafka-ecommerce/fulfillment/internal/messaging"
	"github.com/egannguyen/go-kafka-ecommerce/fulfillment/internal/messaging/kafka"
)

// newBus builds the bus on the configured transport. The in-process channel
// serves every handler from one pubsub.
func newBus(ctx context.Context, cfg config.Config) (*messaging.Bus, error) {
	logger := watermill.NewSlogLogger(slog.Default())

	var (
		publisher   message.Publisher
		subscribers messaging.SubscriberFactory
	)
	switch cfg.BusTransport {
	case config.TransportKafka:
		if cfg.KafkaProvisionTopics {
			if err := kafka.ProvisionTopics(ctx, cfg.KafkaBrokers, integration.Names(), cfg.KafkaTopicPartitions); err != nil {
				return nil, err
			}
		}
		kafkaCfg := kafka.Config{
			Brokers:       cfg.KafkaBrokers,
			ConsumerGroup: cfg.KafkaConsumerGroup,
			ClientID:      cfg.WorkerID,
		}
		p, err := kafka.NewPublisher(kafkaCfg, logger)
		if err != nil {
			return nil, err
		}
		publisher = p
		subscribers = kafka.NewSubscriberFactory(kafkaCfg, logger)
		slog.Info("Kafka transport ready", "brokers", cfg.KafkaBrokers, "consumer_group", cfg.KafkaConsumerGroup)
	default:
		pubSub := messaging.NewGoChannel(logger)
		publisher = pubSub
		subscribers = func(string) (message.Subscriber, error) { return pubSub, nil }
	}

	bus, err := messaging.NewBus(publisher, subscribers, messaging.BusConfig{
		AwaitRouter: cfg.BusTransport != config.TransportKafka,
	}, logger)
	if err != nil {
		publisher.Close()
		return nil, fmt.Errorf("failed to create bus: %w", err)
	}
	return bus, nil
}
