// Package kafka wires the bus to Kafka: watermill-kafka publishers and
// subscribers configured through sarama, plus topic provisioning.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	kafkaGo "github.com/segmentio/kafka-go"

	"github.com/egannguyen/go-kafka-ecommerce/fulfillment/internal/messaging"
)

// Config selects brokers and the consumer group prefix.
type Config struct {
	Brokers       []string
	ConsumerGroup string
	ClientID      string
}

// marshaler keeps messages of one aggregate on one partition.
func marshaler() kafka.MarshalerUnmarshaler {
	return kafka.NewWithPartitioningMarshaler(func(_ string, msg *message.Message) (string, error) {
		return msg.Metadata.Get(messaging.MetadataPartitionKey), nil
	})
}

func publisherSaramaConfig(clientID string) *sarama.Config {
	cfg := kafka.DefaultSaramaSyncPublisherConfig()
	cfg.ClientID = clientID
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	return cfg
}

func subscriberSaramaConfig(clientID string) *sarama.Config {
	cfg := kafka.DefaultSaramaSubscriberConfig()
	cfg.ClientID = clientID
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	return cfg
}

// NewPublisher creates a synchronous publisher; Publish returns once the
// brokers acknowledged the write.
func NewPublisher(cfg Config, logger watermill.LoggerAdapter) (message.Publisher, error) {
	publisher, err := kafka.NewPublisher(kafka.PublisherConfig{
		Brokers:               cfg.Brokers,
		Marshaler:             marshaler(),
		OverwriteSaramaConfig: publisherSaramaConfig(cfg.ClientID),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka publisher: %w", err)
	}
	return publisher, nil
}

// NewSubscriberFactory gives each handler its own consumer group,
// "<ConsumerGroup>.<handlerName>".
func NewSubscriberFactory(cfg Config, logger watermill.LoggerAdapter) messaging.SubscriberFactory {
	return func(handlerName string) (message.Subscriber, error) {
		subscriber, err := kafka.NewSubscriber(kafka.SubscriberConfig{
			Brokers:               cfg.Brokers,
			Unmarshaler:           marshaler(),
			OverwriteSaramaConfig: subscriberSaramaConfig(cfg.ClientID),
			ConsumerGroup:         cfg.ConsumerGroup + "." + handlerName,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create kafka subscriber: %w", err)
		}
		return subscriber, nil
	}
}

// ProvisionTopics creates the topics that do not exist yet through the
// cluster controller.
func ProvisionTopics(ctx context.Context, brokers []string, topics []string, partitions int) error {
	if len(brokers) == 0 {
		return fmt.Errorf("no kafka brokers configured")
	}
	if partitions <= 0 {
		partitions = 1
	}

	conn, err := kafkaGo.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return fmt.Errorf("failed to dial kafka: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("failed to find kafka controller: %w", err)
	}
	var dialer kafkaGo.Dialer
	controllerConn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("failed to dial kafka controller: %w", err)
	}
	defer controllerConn.Close()

	configs := make([]kafkaGo.TopicConfig, 0, len(topics))
	for _, topic := range topics {
		configs = append(configs, kafkaGo.TopicConfig{
			Topic:             topic,
			NumPartitions:     partitions,
			ReplicationFactor: 1,
		})
	}
	if err := controllerConn.CreateTopics(configs...); err != nil && !errors.Is(err, kafkaGo.TopicAlreadyExists) {
		return fmt.Errorf("failed to create topics: %w", err)
	}

	slog.Info("Kafka topics provisioned", "count", len(topics), "partitions", partitions)
	return nil
}
