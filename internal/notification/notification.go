package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const (
	// KindTransferCompleted is sent once a transfer has been committed.
	KindTransferCompleted = "ledger.transfer.completed"
)

// Message describes a notification payload. Key groups related messages;
// transfers use the source wallet so one wallet's events stay ordered.
type Message struct {
	Kind string
	Key  string
	Body []byte
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// TransferCompleted is the JSON body of a KindTransferCompleted message.
type TransferCompleted struct {
	TransactionID       uuid.UUID  `json:"transaction_id"`
	SourceWalletID      uuid.UUID  `json:"source_wallet_id"`
	DestinationWalletID uuid.UUID  `json:"destination_wallet_id"`
	ExecutorID          *uuid.UUID `json:"executor_id"`
	Amount              int64      `json:"amount"`
	Description         *string    `json:"description"`
	CreatedAt           time.Time  `json:"created_at"`
}

// NewTransferCompleted encodes event as a message.
func NewTransferCompleted(event TransferCompleted) (Message, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s: %w", KindTransferCompleted, err)
	}
	return Message{Kind: KindTransferCompleted, Key: event.SourceWalletID.String(), Body: body}, nil
}

// LoggerNotifier writes notifications to the logger. It is the default when
// no broker is configured.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(ctx context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.InfoContext(ctx, "notification", "kind", message.Kind, "key", message.Key, "body", string(message.Body))
	return nil
}
