package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tallybook/tallybook/internal/audit"
	"github.com/tallybook/tallybook/internal/storage/sqlerr"
	"github.com/tallybook/tallybook/internal/wallet"
)

const sqliteBalanceQuery = `
        SELECT COALESCE(SUM(CASE WHEN destination_wallet_id = ?1 THEN amount ELSE -amount END), 0)
        FROM transactions
        WHERE source_wallet_id = ?1 OR destination_wallet_id = ?1`

// SQLiteStore keeps the transaction log in an embedded SQLite database.
// Units of work open with BEGIN IMMEDIATE and so run one at a time; readers
// are not blocked in WAL mode.
type SQLiteStore struct {
	db    *sql.DB
	guard *audit.Guard
}

// NewSQLiteStore constructs a SQLite-backed transaction log.
func NewSQLiteStore(db *sql.DB, guard *audit.Guard) *SQLiteStore {
	return &SQLiteStore{db: db, guard: guard}
}

// WithinUnitOfWork runs fn in a write transaction.
func (s *SQLiteStore) WithinUnitOfWork(ctx context.Context, fn func(ctx context.Context, uow UnitOfWork) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageError(ctx, "begin", err)
	}
	defer tx.Rollback() // nolint:errcheck

	if err := fn(ctx, &sqliteUnit{tx: tx, guard: s.guard}); err != nil {
		return storageError(ctx, "unit of work", err)
	}

	if err := tx.Commit(); err != nil {
		return storageError(ctx, "commit", err)
	}
	return nil
}

// Balance sums the log for walletID.
func (s *SQLiteStore) Balance(ctx context.Context, walletID uuid.UUID) (int64, error) {
	balance, err := sqliteBalance(ctx, s.db, walletID)
	if err != nil {
		return 0, storageError(ctx, "Balance", err)
	}
	return balance, nil
}

// History returns one page of walletID's transactions, newest first.
func (s *SQLiteStore) History(ctx context.Context, walletID uuid.UUID, page Page) (HistoryPage, error) {
	after, err := decodeCursor(page.Cursor)
	if err != nil {
		return HistoryPage{}, err
	}
	limit := page.limit()

	rows, err := s.db.QueryContext(ctx, `SELECT seq, `+transactionColumns+`
        FROM transactions
        WHERE (source_wallet_id = ?1 OR destination_wallet_id = ?1)
          AND (?2 = 0 OR seq < ?2)
        ORDER BY seq DESC
        LIMIT ?3`, walletID.String(), after, limit+1)
	if err != nil {
		return HistoryPage{}, storageError(ctx, "History", err)
	}
	defer rows.Close()

	var (
		txs  []Transaction
		seqs []int64
	)
	for rows.Next() {
		var seq int64
		t, err := scanSQLiteTransaction(rows, &seq)
		if err != nil {
			return HistoryPage{}, fmt.Errorf("History: scan: %w", err)
		}
		txs = append(txs, t)
		seqs = append(seqs, seq)
	}
	if err := rows.Err(); err != nil {
		return HistoryPage{}, storageError(ctx, "History", err)
	}
	return pageOf(txs, seqs, limit), nil
}

// FindTransaction fetches a transaction by identifier.
func (s *SQLiteStore) FindTransaction(ctx context.Context, id uuid.UUID) (Transaction, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id.String())
	t, err := scanSQLiteTransaction(row, nil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Transaction{}, false, nil
		}
		return Transaction{}, false, storageError(ctx, "FindTransaction", err)
	}
	return t, true, nil
}

// UpdateDescription replaces the description of a recorded transaction.
func (s *SQLiteStore) UpdateDescription(ctx context.Context, id uuid.UUID, description *string) (Transaction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Transaction{}, storageError(ctx, "UpdateDescription: begin", err)
	}
	defer tx.Rollback() // nolint:errcheck

	row := tx.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id.String())
	t, err := scanSQLiteTransaction(row, nil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Transaction{}, ErrTransactionNotFound
		}
		return Transaction{}, storageError(ctx, "UpdateDescription", err)
	}

	stored := t.Timestamps
	t.Description = description
	s.guard.OnUpdate(stored, &t)

	if _, err := tx.ExecContext(ctx, `UPDATE transactions SET description = ?, created_at = ?, updated_at = ? WHERE id = ?`,
		nullString(t.Description), toMicros(t.CreatedAt), nullMicros(t.UpdatedAt), t.ID.String()); err != nil {
		return Transaction{}, storageError(ctx, "UpdateDescription", err)
	}
	if err := tx.Commit(); err != nil {
		return Transaction{}, storageError(ctx, "UpdateDescription: commit", err)
	}
	return t, nil
}

type sqliteUnit struct {
	tx    *sql.Tx
	guard *audit.Guard
}

// LockWallet needs no row lock: the unit of work already holds the
// database write lock.
func (u *sqliteUnit) LockWallet(ctx context.Context, id uuid.UUID) (wallet.Wallet, bool, error) {
	return wallet.FindInTx(ctx, u.tx, id)
}

func (u *sqliteUnit) Balance(ctx context.Context, walletID uuid.UUID) (int64, error) {
	balance, err := sqliteBalance(ctx, u.tx, walletID)
	if err != nil {
		return 0, fmt.Errorf("balance: %w", err)
	}
	return balance, nil
}

func (u *sqliteUnit) Append(ctx context.Context, t *Transaction) error {
	u.guard.OnCreate(t)
	_, err := u.tx.ExecContext(ctx, `INSERT INTO transactions (`+transactionColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID.String(), t.SourceWalletID.String(), t.DestinationWalletID.String(), nullUUID(t.Executor), t.Amount,
		nullString(t.Description), toMicros(t.CreatedAt), nullMicros(t.UpdatedAt))
	if err != nil {
		return fmt.Errorf("append: %w", err)
	}
	return nil
}

type sqliteQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// sqliteBalance sums the log in SQL. SQLite SUM fails as soon as a partial
// sum leaves the int64 range, even when the final balance fits, so that case
// is folded again exactly.
func sqliteBalance(ctx context.Context, q sqliteQuerier, walletID uuid.UUID) (int64, error) {
	var balance int64
	err := q.QueryRowContext(ctx, sqliteBalanceQuery, walletID.String()).Scan(&balance)
	if err == nil {
		return balance, nil
	}
	if !sqlerr.IsIntegerOverflow(err) {
		return 0, err
	}
	return foldSQLiteBalance(ctx, q, walletID)
}

func foldSQLiteBalance(ctx context.Context, q sqliteQuerier, walletID uuid.UUID) (int64, error) {
	rows, err := q.QueryContext(ctx, `SELECT amount, destination_wallet_id = ?1
        FROM transactions
        WHERE source_wallet_id = ?1 OR destination_wallet_id = ?1`, walletID.String())
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var (
			amount int64
			credit bool
		)
		if err := rows.Scan(&amount, &credit); err != nil {
			return 0, fmt.Errorf("scan: %w", err)
		}
		if credit {
			total = total.Add(decimal.NewFromInt(amount))
		} else {
			total = total.Sub(decimal.NewFromInt(amount))
		}
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if !total.BigInt().IsInt64() {
		return 0, fmt.Errorf("balance of wallet %s is %s, outside int64", walletID, total)
	}
	return total.IntPart(), nil
}

func toMicros(t time.Time) int64 {
	return t.UTC().UnixMicro()
}

func nullMicros(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMicros(*t), Valid: true}
}

type sqliteScanner interface {
	Scan(dest ...any) error
}

// scanSQLiteTransaction reads transactionColumns, preceded by seq when seq
// is not nil.
func scanSQLiteTransaction(s sqliteScanner, seq *int64) (Transaction, error) {
	var (
		t           Transaction
		executor    uuid.NullUUID
		description sql.NullString
		createdAt   int64
		updatedAt   sql.NullInt64
	)
	dest := []any{&t.ID, &t.SourceWalletID, &t.DestinationWalletID, &executor, &t.Amount, &description, &createdAt, &updatedAt}
	if seq != nil {
		dest = append([]any{seq}, dest...)
	}
	if err := s.Scan(dest...); err != nil {
		return Transaction{}, err
	}
	t.Executor = fromNullUUID(executor)
	if description.Valid {
		d := description.String
		t.Description = &d
	}
	t.CreatedAt = time.UnixMicro(createdAt).UTC()
	if updatedAt.Valid {
		u := time.UnixMicro(updatedAt.Int64).UTC()
		t.UpdatedAt = &u
	}
	return t, nil
}
