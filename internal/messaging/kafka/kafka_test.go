package kafka

import (
	"context"
	"testing"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/egannguyen/go-kafka-ecommerce/fulfillment/internal/messaging"
)

func TestMarshalerPartitionsByAggregate(t *testing.T) {
	msg := message.NewMessage("evt-1", []byte(`{}`))
	msg.Metadata.Set(messaging.MetadataPartitionKey, "order-42")
	msg.Metadata.Set(messaging.MetadataEventType, "OrderStatusChangedToPaidIntegrationEvent")

	out, err := marshaler().Marshal("OrderStatusChangedToPaidIntegrationEvent", msg)
	require.NoError(t, err)
	require.NotNil(t, out.Key)
	key, err := out.Key.Encode()
	require.NoError(t, err)
	assert.Equal(t, "order-42", string(key))

	back, err := marshaler().Unmarshal(&sarama.ConsumerMessage{
		Key:     key,
		Value:   []byte(`{}`),
		Headers: recordHeaders(out.Headers),
	})
	require.NoError(t, err)
	assert.Equal(t, "evt-1", back.UUID)
	assert.Equal(t, "OrderStatusChangedToPaidIntegrationEvent", back.Metadata.Get(messaging.MetadataEventType))
}

func recordHeaders(headers []sarama.RecordHeader) []*sarama.RecordHeader {
	out := make([]*sarama.RecordHeader, 0, len(headers))
	for i := range headers {
		out = append(out, &headers[i])
	}
	return out
}

func TestSaramaConfigs(t *testing.T) {
	pub := publisherSaramaConfig("fulfillment")
	assert.Equal(t, "fulfillment", pub.ClientID)
	assert.Equal(t, sarama.WaitForAll, pub.Producer.RequiredAcks)
	assert.True(t, pub.Producer.Return.Successes)

	sub := subscriberSaramaConfig("fulfillment")
	assert.Equal(t, sarama.OffsetOldest, sub.Consumer.Offsets.Initial)
}

func TestProvisionTopicsRequiresBrokers(t *testing.T) {
	err := ProvisionTopics(context.Background(), nil, []string{"t"}, 1)
	require.Error(t, err)
}
