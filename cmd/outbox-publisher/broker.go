package main

import (
	"context"
	"errors"

	"github.com/angelmondragon/orderflow-backend/pkg/kafka"
	"github.com/angelmondragon/orderflow-backend/pkg/pubsub"
)

// brokerMessage is what both brokers receive for one outbox row. Key carries
// the aggregate id.
type brokerMessage struct {
	Key        string
	Data       []byte
	Attributes map[string]string
}

type broker interface {
	Name() string
	Ping(context.Context) error
	Publish(ctx context.Context, topic string, msg brokerMessage) error
}

type pubsubBroker struct {
	client *pubsub.Client
}

func (b *pubsubBroker) Name() string { return "pubsub" }

func (b *pubsubBroker) Ping(ctx context.Context) error { return b.client.PingTopic(ctx) }

// Publish orders messages by aggregate through the Pub/Sub ordering key.
func (b *pubsubBroker) Publish(ctx context.Context, topic string, msg brokerMessage) error {
	err := b.client.Publish(ctx, topic, msg.Key, msg.Data, msg.Attributes)
	if errors.Is(err, pubsub.ErrTopicNotSet) {
		return errPublisherMissing
	}
	return err
}

type kafkaBroker struct {
	producer *kafka.Producer
}

func (b *kafkaBroker) Name() string { return "kafka" }

func (b *kafkaBroker) Ping(ctx context.Context) error { return b.producer.Ping(ctx) }

func (b *kafkaBroker) Publish(ctx context.Context, topic string, msg brokerMessage) error {
	return b.producer.Publish(ctx, topic, []byte(msg.Key), msg.Data, msg.Attributes)
}

var errPublisherMissing = errors.New("publisher not configured")
