package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tallybook/tallybook/internal/audit"
	"github.com/tallybook/tallybook/internal/wallet"
)

const (
	transactionColumns = `id, source_wallet_id, destination_wallet_id, executor_actor_id, amount, description, created_at, updated_at`

	// SUM over BIGINT yields NUMERIC, so only the final cast can overflow.
	postgresBalanceQuery = `
        SELECT COALESCE(SUM(CASE WHEN destination_wallet_id = $1 THEN amount ELSE -amount END), 0)::BIGINT
        FROM transactions
        WHERE source_wallet_id = $1 OR destination_wallet_id = $1`
)

// PostgresStore keeps the transaction log in PostgreSQL. Units of work run
// at READ COMMITTED; transfers serialise on row locks of both wallets and
// read balances after acquiring them. seq is drawn while those locks are
// held, so per wallet it follows commit order.
type PostgresStore struct {
	db          *pgxpool.Pool
	guard       *audit.Guard
	lockTimeout time.Duration
}

// NewPostgresStore constructs a Postgres-backed transaction log. A unit of
// work waits at most lockTimeout for a row lock; zero waits forever.
func NewPostgresStore(db *pgxpool.Pool, guard *audit.Guard, lockTimeout time.Duration) *PostgresStore {
	return &PostgresStore{db: db, guard: guard, lockTimeout: lockTimeout}
}

// WithinUnitOfWork runs fn in a database transaction.
func (s *PostgresStore) WithinUnitOfWork(ctx context.Context, fn func(ctx context.Context, uow UnitOfWork) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return storageError(ctx, "begin", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if s.lockTimeout > 0 {
		ms := strconv.FormatInt(s.lockTimeout.Milliseconds(), 10)
		if _, err := tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, ms); err != nil {
			return storageError(ctx, "set lock_timeout", err)
		}
	}

	if err := fn(ctx, &postgresUnit{tx: tx, guard: s.guard}); err != nil {
		return storageError(ctx, "unit of work", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return storageError(ctx, "commit", err)
	}
	return nil
}

// Balance sums the log for walletID.
func (s *PostgresStore) Balance(ctx context.Context, walletID uuid.UUID) (int64, error) {
	var balance int64
	if err := s.db.QueryRow(ctx, postgresBalanceQuery, walletID).Scan(&balance); err != nil {
		return 0, storageError(ctx, "Balance", err)
	}
	return balance, nil
}

// History returns one page of walletID's transactions, newest first.
func (s *PostgresStore) History(ctx context.Context, walletID uuid.UUID, page Page) (HistoryPage, error) {
	after, err := decodeCursor(page.Cursor)
	if err != nil {
		return HistoryPage{}, err
	}
	limit := page.limit()

	rows, err := s.db.Query(ctx, `SELECT seq, `+transactionColumns+`
        FROM transactions
        WHERE (source_wallet_id = $1 OR destination_wallet_id = $1)
          AND ($2::BIGINT = 0 OR seq < $2)
        ORDER BY seq DESC
        LIMIT $3`, walletID, after, limit+1)
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
		t, err := scanPostgresTransaction(rows, &seq)
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
func (s *PostgresStore) FindTransaction(ctx context.Context, id uuid.UUID) (Transaction, bool, error) {
	row := s.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	t, err := scanPostgresTransaction(row, nil)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, false, nil
		}
		return Transaction{}, false, storageError(ctx, "FindTransaction", err)
	}
	return t, true, nil
}

// UpdateDescription replaces the description of a recorded transaction.
func (s *PostgresStore) UpdateDescription(ctx context.Context, id uuid.UUID, description *string) (Transaction, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Transaction{}, storageError(ctx, "UpdateDescription: begin", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	row := tx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id)
	t, err := scanPostgresTransaction(row, nil)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrTransactionNotFound
		}
		return Transaction{}, storageError(ctx, "UpdateDescription", err)
	}

	stored := t.Timestamps
	t.Description = description
	s.guard.OnUpdate(stored, &t)

	if _, err := tx.Exec(ctx, `UPDATE transactions SET description = $2, created_at = $3, updated_at = $4 WHERE id = $1`,
		t.ID, nullString(t.Description), t.CreatedAt, t.UpdatedAt); err != nil {
		return Transaction{}, storageError(ctx, "UpdateDescription", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, storageError(ctx, "UpdateDescription: commit", err)
	}
	return t, nil
}

type postgresUnit struct {
	tx    pgx.Tx
	guard *audit.Guard
}

func (u *postgresUnit) LockWallet(ctx context.Context, id uuid.UUID) (wallet.Wallet, bool, error) {
	return wallet.FindForUpdate(ctx, u.tx, id)
}

func (u *postgresUnit) Balance(ctx context.Context, walletID uuid.UUID) (int64, error) {
	var balance int64
	if err := u.tx.QueryRow(ctx, postgresBalanceQuery, walletID).Scan(&balance); err != nil {
		return 0, fmt.Errorf("balance: %w", err)
	}
	return balance, nil
}

func (u *postgresUnit) Append(ctx context.Context, t *Transaction) error {
	u.guard.OnCreate(t)
	_, err := u.tx.Exec(ctx, `INSERT INTO transactions (`+transactionColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.ID, t.SourceWalletID, t.DestinationWalletID, nullUUID(t.Executor), t.Amount,
		nullString(t.Description), t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("append: %w", err)
	}
	return nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// scanPostgresTransaction reads transactionColumns, preceded by seq when
// seq is not nil.
func scanPostgresTransaction(row pgx.Row, seq *int64) (Transaction, error) {
	var (
		t           Transaction
		executor    uuid.NullUUID
		description sql.NullString
		updatedAt   sql.NullTime
	)
	dest := []any{&t.ID, &t.SourceWalletID, &t.DestinationWalletID, &executor, &t.Amount, &description, &t.CreatedAt, &updatedAt}
	if seq != nil {
		dest = append([]any{seq}, dest...)
	}
	if err := row.Scan(dest...); err != nil {
		return Transaction{}, err
	}
	t.Executor = fromNullUUID(executor)
	if description.Valid {
		d := description.String
		t.Description = &d
	}
	t.CreatedAt = t.CreatedAt.UTC()
	if updatedAt.Valid {
		u := updatedAt.Time.UTC()
		t.UpdatedAt = &u
	}
	return t, nil
}
