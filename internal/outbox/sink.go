package outbox

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// Sink abstracts the bus so the publisher can be tested without brokers.
type Sink interface {
	// Publish sends one message; same key routes to the same partition.
	Publish(ctx context.Context, topic, key string, value []byte) error
	Close() error
}

const (
	defaultKafkaBatchSize  = 100
	defaultKafkaBatchBytes = 1 << 20
)

// KafkaSink publishes through a shared kafka writer. The Hash balancer keeps
// per-aggregate ordering: one key always lands on one partition.
type KafkaSink struct {
	writer *kafka.Writer
}

// NewKafkaSink builds a sink with sync writes and full acks for durability.
func NewKafkaSink(brokers []string) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka sink requires at least one broker address")
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		BatchSize:              defaultKafkaBatchSize,
		BatchBytes:             defaultKafkaBatchBytes,
		RequiredAcks:           kafka.RequireAll,
		Async:                  false,
		AllowAutoTopicCreation: true,
	}
	return &KafkaSink{writer: writer}, nil
}

func (k *KafkaSink) Publish(ctx context.Context, topic, key string, value []byte) error {
	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	}
	return k.writer.WriteMessages(ctx, msg)
}

func (k *KafkaSink) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
