package notification

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes notifications to a Kafka topic, keyed so that all
// events of a wallet land on the same partition.
type KafkaNotifier struct {
	writer messageWriter
}

// NewKafkaNotifier builds a notifier writing to topic on brokers.
func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
	}
}

// Send writes one message and waits for the brokers to acknowledge it.
func (n *KafkaNotifier) Send(ctx context.Context, message Message) error {
	err := n.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(message.Key),
		Value:   message.Body,
		Headers: []kafka.Header{{Key: "kind", Value: []byte(message.Kind)}},
	})
	if err != nil {
		return fmt.Errorf("kafka publish %s: %w", message.Kind, err)
	}
	return nil
}

// Close flushes pending writes.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
