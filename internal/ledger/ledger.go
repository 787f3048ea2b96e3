// Package ledger moves money between wallets. Balances are never stored;
// they are derived from the append-only transaction log every time.
package ledger

import (
	"context"
	"encoding/base64"
	"strconv"

	"github.com/google/uuid"

	"github.com/tallybook/tallybook/internal/audit"
	"github.com/tallybook/tallybook/internal/wallet"
)

const (
	// DefaultPageSize applies when a history page size is not set.
	DefaultPageSize = 50
	// MaxPageSize caps a single history page.
	MaxPageSize = 200
)

// Transaction is one movement of Amount minor units from the source wallet
// to the destination wallet. Only Description may change after creation.
type Transaction struct {
	ID                  uuid.UUID
	SourceWalletID      uuid.UUID
	DestinationWalletID uuid.UUID
	Executor            *uuid.UUID
	Amount              int64
	Description         *string
	audit.Timestamps
}

// Delta is the signed effect of the transaction on walletID's balance.
func (t Transaction) Delta(walletID uuid.UUID) int64 {
	switch walletID {
	case t.DestinationWalletID:
		return t.Amount
	case t.SourceWalletID:
		return -t.Amount
	default:
		return 0
	}
}

// Page selects a slice of a wallet's history. The zero value is the newest
// DefaultPageSize transactions.
type Page struct {
	Size   int
	Cursor string
}

func (p Page) limit() int {
	switch {
	case p.Size <= 0:
		return DefaultPageSize
	case p.Size > MaxPageSize:
		return MaxPageSize
	default:
		return p.Size
	}
}

// HistoryPage holds transactions newest first. NextCursor is empty on the
// last page.
type HistoryPage struct {
	Transactions []Transaction
	NextCursor   string
}

// Store persists the transaction log.
type Store interface {
	// WithinUnitOfWork runs fn in one atomic unit of work. Anything fn
	// appended is committed only if fn returns nil.
	WithinUnitOfWork(ctx context.Context, fn func(ctx context.Context, uow UnitOfWork) error) error
	Balance(ctx context.Context, walletID uuid.UUID) (int64, error)
	History(ctx context.Context, walletID uuid.UUID, page Page) (HistoryPage, error)
	FindTransaction(ctx context.Context, id uuid.UUID) (Transaction, bool, error)
	UpdateDescription(ctx context.Context, id uuid.UUID, description *string) (Transaction, error)
}

// UnitOfWork is the write side of the log. It only exists inside
// Store.WithinUnitOfWork, so nothing can append outside one.
type UnitOfWork interface {
	// LockWallet reads the wallet and excludes concurrent units of work that
	// lock the same wallet until this one ends.
	LockWallet(ctx context.Context, id uuid.UUID) (wallet.Wallet, bool, error)
	Balance(ctx context.Context, walletID uuid.UUID) (int64, error)
	// Append stamps and inserts tx.
	Append(ctx context.Context, tx *Transaction) error
}

func encodeCursor(seq int64) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.FormatInt(seq, 10)))
}

// decodeCursor returns 0 for the first page.
func decodeCursor(cursor string) (int64, error) {
	if cursor == "" {
		return 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, ErrInvalidCursor
	}
	seq, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil || seq <= 0 {
		return 0, ErrInvalidCursor
	}
	return seq, nil
}

// pageOf trims rows fetched with limit+1 and derives the next cursor.
func pageOf(rows []Transaction, seqs []int64, limit int) HistoryPage {
	if len(rows) <= limit {
		return HistoryPage{Transactions: rows}
	}
	return HistoryPage{
		Transactions: rows[:limit],
		NextCursor:   encodeCursor(seqs[limit-1]),
	}
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func fromNullUUID(id uuid.NullUUID) *uuid.UUID {
	if !id.Valid {
		return nil
	}
	v := id.UUID
	return &v
}
