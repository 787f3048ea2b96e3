package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tallybook/tallybook/internal/logging"
	"github.com/tallybook/tallybook/internal/notification"
	"github.com/tallybook/tallybook/internal/wallet"
)

// WalletFinder looks wallets up outside a unit of work.
type WalletFinder interface {
	FindByID(ctx context.Context, id uuid.UUID) (wallet.Wallet, bool, error)
}

// DefaultNotifyTimeout bounds the delivery of one transfer notification.
const DefaultNotifyTimeout = 2 * time.Second

// Engine is the only path by which money moves between wallets.
type Engine struct {
	store         Store
	wallets       WalletFinder
	notifier      notification.Notifier
	notifyTimeout time.Duration
	logger        *slog.Logger
}

// Option customises an Engine.
type Option func(*Engine)

// WithNotifyTimeout caps how long Transfer waits for the notifier after
// commit. Non-positive values keep DefaultNotifyTimeout.
func WithNotifyTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.notifyTimeout = d
		}
	}
}

// NewEngine wires an engine. notifier may be nil.
func NewEngine(store Store, wallets WalletFinder, notifier notification.Notifier, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = logging.Discard()
	}
	e := &Engine{
		store:         store,
		wallets:       wallets,
		notifier:      notifier,
		notifyTimeout: DefaultNotifyTimeout,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// TransferInput describes a movement of Amount minor units.
type TransferInput struct {
	Source      uuid.UUID
	Destination uuid.UUID
	Amount      int64
	Executor    *uuid.UUID
	Description *string
}

// Transfer moves money from Source to Destination and returns the recorded
// transaction. The balance checks and the append run in one unit of work
// holding the locks of both wallets, so every transaction touching a wallet
// commits in the order it was appended. Transfer is not idempotent.
func (e *Engine) Transfer(ctx context.Context, in TransferInput) (Transaction, error) {
	if in.Amount <= 0 {
		return Transaction{}, ErrInvalidAmount
	}
	if in.Source == in.Destination {
		return Transaction{}, ErrSameWallet
	}
	in.Description = normalizeDescription(in.Description)

	var recorded Transaction
	err := e.store.WithinUnitOfWork(ctx, func(ctx context.Context, uow UnitOfWork) error {
		locked, err := lockPair(ctx, uow, in.Source, in.Destination)
		if err != nil {
			return err
		}
		source, ok := locked[in.Source]
		if !ok {
			return &WalletNotFoundError{WalletID: in.Source, Role: RoleSource}
		}
		if _, ok := locked[in.Destination]; !ok {
			return &WalletNotFoundError{WalletID: in.Destination, Role: RoleDestination}
		}

		balance, err := uow.Balance(ctx, in.Source)
		if err != nil {
			return err
		}
		if !source.AllowOverdraft && balance < in.Amount {
			shortfall := in.Amount - balance
			if shortfall < 0 {
				// overdraft was revoked on a deeply negative wallet
				shortfall = math.MaxInt64
			}
			return &InsufficientFundsError{
				WalletID:  in.Source,
				Balance:   balance,
				Amount:    in.Amount,
				Shortfall: shortfall,
			}
		}
		if balance < math.MinInt64+in.Amount {
			return &BalanceOutOfRangeError{WalletID: in.Source, Role: RoleSource, Balance: balance, Amount: in.Amount}
		}

		credited, err := uow.Balance(ctx, in.Destination)
		if err != nil {
			return err
		}
		if credited > math.MaxInt64-in.Amount {
			return &BalanceOutOfRangeError{WalletID: in.Destination, Role: RoleDestination, Balance: credited, Amount: in.Amount}
		}

		t := Transaction{
			ID:                  uuid.New(),
			SourceWalletID:      in.Source,
			DestinationWalletID: in.Destination,
			Executor:            in.Executor,
			Amount:              in.Amount,
			Description:         in.Description,
		}
		if err := uow.Append(ctx, &t); err != nil {
			return err
		}
		recorded = t
		return nil
	})
	if err != nil {
		e.logTransferFailure(ctx, in, err)
		return Transaction{}, fmt.Errorf("Transfer: %w", err)
	}

	e.log(ctx).InfoContext(ctx, "ledger.transfer completed",
		"transaction_id", recorded.ID,
		"source_wallet_id", recorded.SourceWalletID,
		"destination_wallet_id", recorded.DestinationWalletID,
		"amount", recorded.Amount,
	)
	e.notify(ctx, recorded)
	return recorded, nil
}

// Balance derives the current balance of a wallet from its history.
func (e *Engine) Balance(ctx context.Context, walletID uuid.UUID) (int64, error) {
	if err := e.requireWallet(ctx, walletID); err != nil {
		return 0, err
	}
	balance, err := e.store.Balance(ctx, walletID)
	if err != nil {
		return 0, fmt.Errorf("Balance: %w", err)
	}
	return balance, nil
}

// History returns one page of a wallet's transactions, newest first.
func (e *Engine) History(ctx context.Context, walletID uuid.UUID, page Page) (HistoryPage, error) {
	if err := e.requireWallet(ctx, walletID); err != nil {
		return HistoryPage{}, err
	}
	hp, err := e.store.History(ctx, walletID, page)
	if err != nil {
		return HistoryPage{}, fmt.Errorf("History: %w", err)
	}
	return hp, nil
}

// Walk yields a wallet's whole history newest first, fetching pageSize
// transactions at a time. Iteration stops at the first error, which is
// yielded with a zero Transaction. Every call starts again from the newest.
func (e *Engine) Walk(ctx context.Context, walletID uuid.UUID, pageSize int) iter.Seq2[Transaction, error] {
	return func(yield func(Transaction, error) bool) {
		page := Page{Size: pageSize}
		for {
			hp, err := e.History(ctx, walletID, page)
			if err != nil {
				yield(Transaction{}, err)
				return
			}
			for _, t := range hp.Transactions {
				if !yield(t, nil) {
					return
				}
			}
			if hp.NextCursor == "" {
				return
			}
			page.Cursor = hp.NextCursor
		}
	}
}

// Transaction fetches a recorded transaction.
func (e *Engine) Transaction(ctx context.Context, id uuid.UUID) (Transaction, error) {
	t, ok, err := e.store.FindTransaction(ctx, id)
	if err != nil {
		return Transaction{}, fmt.Errorf("Transaction: %w", err)
	}
	if !ok {
		return Transaction{}, ErrTransactionNotFound
	}
	return t, nil
}

// Annotate attaches late-arriving metadata to a transaction. A nil or blank
// description clears it. The amount and wallets never change.
func (e *Engine) Annotate(ctx context.Context, id uuid.UUID, description *string) (Transaction, error) {
	t, err := e.store.UpdateDescription(ctx, id, normalizeDescription(description))
	if err != nil {
		return Transaction{}, fmt.Errorf("Annotate: %w", err)
	}
	e.log(ctx).InfoContext(ctx, "ledger.transaction annotated", "transaction_id", id)
	return t, nil
}

// lockPair locks both wallets in identifier order so that transfers in
// opposite directions never wait on each other. Missing wallets are absent
// from the result.
func lockPair(ctx context.Context, uow UnitOfWork, a, b uuid.UUID) (map[uuid.UUID]wallet.Wallet, error) {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	locked := make(map[uuid.UUID]wallet.Wallet, 2)
	for _, id := range [2]uuid.UUID{a, b} {
		w, ok, err := uow.LockWallet(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			locked[id] = w
		}
	}
	return locked, nil
}

func (e *Engine) requireWallet(ctx context.Context, walletID uuid.UUID) error {
	_, ok, err := e.wallets.FindByID(ctx, walletID)
	if err != nil {
		return storageError(ctx, "find wallet", err)
	}
	if !ok {
		return &WalletNotFoundError{WalletID: walletID}
	}
	return nil
}

func (e *Engine) logTransferFailure(ctx context.Context, in TransferInput, err error) {
	attrs := []any{
		"source_wallet_id", in.Source,
		"destination_wallet_id", in.Destination,
		"amount", in.Amount,
		"error", err,
	}
	switch {
	case errors.Is(err, ErrStorageUnavailable):
		e.log(ctx).WarnContext(ctx, "ledger.transfer storage unavailable", attrs...)
	case errors.Is(err, ErrInsufficientFunds), errors.Is(err, ErrWalletNotFound), errors.Is(err, ErrBalanceOutOfRange):
		e.log(ctx).InfoContext(ctx, "ledger.transfer rejected", attrs...)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		e.log(ctx).InfoContext(ctx, "ledger.transfer abandoned", attrs...)
	default:
		e.log(ctx).ErrorContext(ctx, "ledger.transfer failed", attrs...)
	}
}

// notify runs after commit; its outcome never changes the transfer result.
// Delivery gets its own deadline so a caller cancelling right after commit
// does not drop the event, and a stuck broker cannot hold the response.
func (e *Engine) notify(ctx context.Context, t Transaction) {
	if e.notifier == nil {
		return
	}
	msg, err := notification.NewTransferCompleted(notification.TransferCompleted{
		TransactionID:       t.ID,
		SourceWalletID:      t.SourceWalletID,
		DestinationWalletID: t.DestinationWalletID,
		ExecutorID:          t.Executor,
		Amount:              t.Amount,
		Description:         t.Description,
		CreatedAt:           t.CreatedAt,
	})
	if err == nil {
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.notifyTimeout)
		err = e.notifier.Send(sendCtx, msg)
		cancel()
	}
	if err != nil {
		e.log(ctx).WarnContext(ctx, "ledger.transfer notification failed", "transaction_id", t.ID, "error", err)
	}
}

func normalizeDescription(description *string) *string {
	if description == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*description)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func (e *Engine) log(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, e.logger)
}
