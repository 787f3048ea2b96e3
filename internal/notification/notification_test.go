package notification

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTransfer() TransferCompleted {
	return TransferCompleted{
		TransactionID:       uuid.New(),
		SourceWalletID:      uuid.New(),
		DestinationWalletID: uuid.New(),
		Amount:              1250,
		CreatedAt:           time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC),
	}
}

func TestNewTransferCompleted(t *testing.T) {
	event := sampleTransfer()
	msg, err := NewTransferCompleted(event)
	require.NoError(t, err)

	assert.Equal(t, KindTransferCompleted, msg.Kind)
	assert.Equal(t, event.SourceWalletID.String(), msg.Key)

	var body map[string]any
	require.NoError(t, json.Unmarshal(msg.Body, &body))
	assert.Equal(t, event.TransactionID.String(), body["transaction_id"])
	assert.EqualValues(t, 1250, body["amount"])
	assert.Nil(t, body["executor_id"])
	assert.Nil(t, body["description"])
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaNotifierSend(t *testing.T) {
	w := &fakeWriter{}
	n := &KafkaNotifier{writer: w}
	msg, err := NewTransferCompleted(sampleTransfer())
	require.NoError(t, err)

	require.NoError(t, n.Send(context.Background(), msg))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, []byte(msg.Key), w.msgs[0].Key)
	assert.Equal(t, msg.Body, w.msgs[0].Value)
	require.Len(t, w.msgs[0].Headers, 1)
	assert.Equal(t, KindTransferCompleted, string(w.msgs[0].Headers[0].Value))

	w.err = errors.New("broker down")
	assert.ErrorContains(t, n.Send(context.Background(), msg), "broker down")
}

type fakeChannel struct {
	exchange string
	key      string
	msg      amqp091.Publishing
	closed   bool
}

func (c *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp091.Publishing) error {
	c.exchange, c.key, c.msg = exchange, key, msg
	return nil
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

func TestRabbitMQNotifierSend(t *testing.T) {
	ch := &fakeChannel{}
	n := &RabbitMQNotifier{channel: ch, exchange: "ledger_events"}
	msg, err := NewTransferCompleted(sampleTransfer())
	require.NoError(t, err)

	require.NoError(t, n.Send(context.Background(), msg))
	assert.Equal(t, "ledger_events", ch.exchange)
	assert.Equal(t, KindTransferCompleted, ch.key)
	assert.Equal(t, amqp091.Persistent, ch.msg.DeliveryMode)
	assert.Equal(t, msg.Body, ch.msg.Body)
	assert.Equal(t, msg.Key, ch.msg.Headers["key"])

	require.NoError(t, n.Close())
	assert.True(t, ch.closed)
}

func TestLoggerNotifierNilSafe(t *testing.T) {
	var n *LoggerNotifier
	assert.NoError(t, n.Send(context.Background(), Message{Kind: KindTransferCompleted}))
}
