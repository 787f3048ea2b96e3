package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

type amqpPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// RabbitMQNotifier publishes notifications to a durable topic exchange with
// the message kind as routing key.
type RabbitMQNotifier struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	channel  amqpPublisher
	exchange string
}

// NewRabbitMQNotifier dials url and declares exchange.
func NewRabbitMQNotifier(url, exchange string) (*RabbitMQNotifier, error) {
	conn, err := amqp091.DialConfig(url, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &RabbitMQNotifier{conn: conn, channel: ch, exchange: exchange}, nil
}

// Send publishes one persistent message.
func (n *RabbitMQNotifier) Send(ctx context.Context, message Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	err := n.channel.PublishWithContext(ctx, n.exchange, message.Kind, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Type:         message.Kind,
		Headers:      amqp091.Table{"key": message.Key},
		Timestamp:    time.Now().UTC(),
		Body:         message.Body,
	})
	if err != nil {
		return fmt.Errorf("rabbitmq publish %s: %w", message.Kind, err)
	}
	return nil
}

// Close releases the channel and connection.
func (n *RabbitMQNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	err := n.channel.Close()
	if n.conn != nil {
		if cerr := n.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
