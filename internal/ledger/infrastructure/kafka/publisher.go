package kafka

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"

	"tally/internal/common/logging"
)

// Publisher publishes events to Kafka using a synchronous producer.
// SendMessage blocks until the broker acknowledges the write (or the
// producer's configured timeout elapses), so a nil error means the event
// is durably accepted by the bus. Delivery is at-least-once.
type Publisher struct {
	producer sarama.SyncProducer
}

// NewPublisher connects a sync producer to the given brokers.
// The sarama config should come from config.ToSaramaConfig so that
// Return.Successes and the producer timeout are set correctly.
func NewPublisher(brokers []string, cfg *sarama.Config) (*Publisher, error) {
	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create sync producer: %w", err)
	}
	return &Publisher{producer: producer}, nil
}

// Publish sends one event to the topic, partitioned by key.
// Events sharing a key land on the same partition in send order.
func (p *Publisher) Publish(ctx context.Context, topic, key string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(payload),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}

	logging.DebugContext(ctx, "Event published",
		"topic", topic,
		"partition", partition,
		"offset", offset,
	)
	return nil
}

// Close shuts down the producer, flushing any in-flight messages.
func (p *Publisher) Close() error {
	return p.producer.Close()
}
