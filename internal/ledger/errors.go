package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/tallybook/tallybook/internal/storage/sqlerr"
)

var (
	// ErrInvalidAmount is returned for transfers of zero or negative amounts.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrSameWallet is returned when source and destination are the same wallet.
	ErrSameWallet = errors.New("source and destination wallets must differ")

	// ErrWalletNotFound matches every *WalletNotFoundError.
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrInsufficientFunds matches every *InsufficientFundsError.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrBalanceOutOfRange matches every *BalanceOutOfRangeError.
	ErrBalanceOutOfRange = errors.New("balance out of range")

	// ErrStorageUnavailable marks a transient storage failure. Nothing from the
	// failed unit of work was persisted, so the call can be retried as is.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrTransactionNotFound is returned when no transaction has the identifier.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrInvalidCursor is returned for history cursors this store did not issue.
	ErrInvalidCursor = errors.New("invalid history cursor")
)

// Role names which side of a transfer a wallet was on.
type Role string

const (
	RoleSource      Role = "source"
	RoleDestination Role = "destination"
)

// WalletNotFoundError names the missing wallet.
type WalletNotFoundError struct {
	WalletID uuid.UUID
	Role     Role
}

func (e *WalletNotFoundError) Error() string {
	if e.Role == "" {
		return fmt.Sprintf("wallet %s not found", e.WalletID)
	}
	return fmt.Sprintf("%s wallet %s not found", e.Role, e.WalletID)
}

func (e *WalletNotFoundError) Is(target error) bool {
	return target == ErrWalletNotFound
}

// InsufficientFundsError reports how far the source balance falls short.
type InsufficientFundsError struct {
	WalletID  uuid.UUID
	Balance   int64
	Amount    int64
	Shortfall int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds in wallet %s: balance %d, amount %d, shortfall %d",
		e.WalletID, e.Balance, e.Amount, e.Shortfall)
}

func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

// BalanceOutOfRangeError reports a transfer that would take a wallet balance
// past what an int64 can hold.
type BalanceOutOfRangeError struct {
	WalletID uuid.UUID
	Role     Role
	Balance  int64
	Amount   int64
}

func (e *BalanceOutOfRangeError) Error() string {
	return fmt.Sprintf("%s wallet %s balance %d cannot absorb amount %d", e.Role, e.WalletID, e.Balance, e.Amount)
}

func (e *BalanceOutOfRangeError) Is(target error) bool {
	return target == ErrBalanceOutOfRange
}

// UnavailableError wraps the driver error behind ErrStorageUnavailable.
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s: %v", ErrStorageUnavailable, e.Err)
}

func (e *UnavailableError) Is(target error) bool {
	return target == ErrStorageUnavailable
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

var outcomes = []error{
	ErrInvalidAmount, ErrSameWallet, ErrWalletNotFound, ErrInsufficientFunds,
	ErrBalanceOutOfRange, ErrStorageUnavailable, ErrTransactionNotFound, ErrInvalidCursor,
}

// storageError classifies an error that escaped a store call. Ledger
// outcomes pass through untouched. Otherwise caller cancellation wins, then
// transient driver failures.
func storageError(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	for _, outcome := range outcomes {
		if errors.Is(err, outcome) {
			return err
		}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", op, ctxErr)
	}
	if sqlerr.IsTransient(err) {
		return fmt.Errorf("%s: %w", op, &UnavailableError{Err: err})
	}
	return fmt.Errorf("%s: %w", op, err)
}
