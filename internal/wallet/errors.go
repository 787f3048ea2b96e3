package wallet

import (
	"errors"
	"fmt"

	"github.com/tallybook/tallybook/internal/storage/sqlerr"
)

var (
	// ErrNotFound indicates no wallet exists with the requested identifier.
	ErrNotFound = errors.New("wallet not found")

	// ErrDuplicateLabel indicates another wallet already carries the label.
	ErrDuplicateLabel = errors.New("wallet label already in use")

	// ErrWalletInUse indicates the wallet is referenced by ledger history and cannot be deleted.
	ErrWalletInUse = errors.New("wallet is referenced by transactions")

	ErrInvalidLabel = errors.New("wallet label is too long")

	// ErrUnavailable marks a transient storage failure such as a lock wait
	// that timed out. Nothing was written; the call can be retried.
	ErrUnavailable = errors.New("wallet storage unavailable")
)

// classify tags transient driver failures with ErrUnavailable and keeps the
// driver error reachable through errors.As.
func classify(err error) error {
	if err == nil || !sqlerr.IsTransient(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}
