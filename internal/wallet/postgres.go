package wallet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tallybook/tallybook/internal/audit"
	"github.com/tallybook/tallybook/internal/storage/sqlerr"
)

// PostgresRepository stores wallets in PostgreSQL.
type PostgresRepository struct {
	db    *pgxpool.Pool
	guard *audit.Guard
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool, guard *audit.Guard) *PostgresRepository {
	return &PostgresRepository{db: db, guard: guard}
}

// Create inserts a wallet record.
func (r *PostgresRepository) Create(ctx context.Context, input CreateInput) (Wallet, error) {
	w := Wallet{
		ID:             uuid.New(),
		Owner:          input.Owner,
		Label:          input.Label,
		AllowOverdraft: input.AllowOverdraft,
	}
	r.guard.OnCreate(&w)

	_, err := r.db.Exec(ctx, `INSERT INTO wallets (`+walletColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6)`,
		w.ID, nullUUID(w.Owner), labelArg(w.Label), w.AllowOverdraft, w.CreatedAt, w.UpdatedAt)
	if err != nil {
		if sqlerr.IsUniqueViolation(err, labelConstraint) {
			return Wallet{}, fmt.Errorf("Create: %w", ErrDuplicateLabel)
		}
		return Wallet{}, fmt.Errorf("Create: %w", err)
	}
	return w, nil
}

// FindByID fetches wallet metadata by identifier.
func (r *PostgresRepository) FindByID(ctx context.Context, id uuid.UUID) (Wallet, bool, error) {
	row := r.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1`, id)
	return optionalPostgresWallet(row, "FindByID")
}

// FindByLabel fetches the wallet carrying the label.
func (r *PostgresRepository) FindByLabel(ctx context.Context, label Label) (Wallet, bool, error) {
	row := r.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE label = $1`, string(label))
	return optionalPostgresWallet(row, "FindByLabel")
}

// ListByOwner returns the wallets owned by an actor, oldest first.
func (r *PostgresRepository) ListByOwner(ctx context.Context, owner uuid.UUID) ([]Wallet, error) {
	rows, err := r.db.Query(ctx, `SELECT `+walletColumns+` FROM wallets
        WHERE owner_actor_id = $1 ORDER BY created_at, id`, owner)
	if err != nil {
		return nil, fmt.Errorf("ListByOwner: %w", err)
	}
	defer rows.Close()

	var wallets []Wallet
	for rows.Next() {
		w, err := scanPostgresWallet(rows)
		if err != nil {
			return nil, fmt.Errorf("ListByOwner: scan: %w", err)
		}
		wallets = append(wallets, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListByOwner: rows: %w", err)
	}
	return wallets, nil
}

// SetOverdraftPolicy updates the overdraft flag.
func (r *PostgresRepository) SetOverdraftPolicy(ctx context.Context, id uuid.UUID, allow bool) (Wallet, error) {
	w, err := r.update(ctx, id, func(w *Wallet) { w.AllowOverdraft = allow })
	if err != nil {
		return Wallet{}, fmt.Errorf("SetOverdraftPolicy: %w", err)
	}
	return w, nil
}

// SetLabel replaces the wallet label; nil clears it.
func (r *PostgresRepository) SetLabel(ctx context.Context, id uuid.UUID, label *Label) (Wallet, error) {
	w, err := r.update(ctx, id, func(w *Wallet) { w.Label = label })
	if err != nil {
		return Wallet{}, fmt.Errorf("SetLabel: %w", err)
	}
	return w, nil
}

// DetachOwner clears the owner reference of every wallet of an actor.
func (r *PostgresRepository) DetachOwner(ctx context.Context, owner uuid.UUID) (int, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("DetachOwner: begin: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	rows, err := tx.Query(ctx, `SELECT `+walletColumns+` FROM wallets
        WHERE owner_actor_id = $1 ORDER BY id FOR UPDATE`, owner)
	if err != nil {
		return 0, fmt.Errorf("DetachOwner: %w", err)
	}
	owned, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Wallet, error) {
		return scanPostgresWallet(row)
	})
	if err != nil {
		return 0, fmt.Errorf("DetachOwner: scan: %w", err)
	}

	for i := range owned {
		stored := owned[i].Timestamps
		owned[i].Owner = nil
		r.guard.OnUpdate(stored, &owned[i])
		if err := writePostgresWallet(ctx, tx, owned[i]); err != nil {
			return 0, fmt.Errorf("DetachOwner: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("DetachOwner: commit: %w", err)
	}
	return len(owned), nil
}

// Delete removes a wallet that no transaction references.
func (r *PostgresRepository) Delete(ctx context.Context, id uuid.UUID) error {
	cmd, err := r.db.Exec(ctx, `DELETE FROM wallets WHERE id = $1`, id)
	if err != nil {
		if sqlerr.IsForeignKeyViolation(err) {
			return fmt.Errorf("Delete: %w", ErrWalletInUse)
		}
		return fmt.Errorf("Delete: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("Delete: %w", ErrNotFound)
	}
	return nil
}

// FindForUpdate reads a wallet inside tx and holds its row FOR NO KEY UPDATE
// until tx ends, which serialises writers on the wallet without blocking
// inserts that only reference it.
func FindForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (Wallet, bool, error) {
	row := tx.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1 FOR NO KEY UPDATE`, id)
	return optionalPostgresWallet(row, "FindForUpdate")
}

func (r *PostgresRepository) update(ctx context.Context, id uuid.UUID, mutate func(*Wallet)) (Wallet, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return Wallet{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	w, ok, err := FindForUpdate(ctx, tx, id)
	if err != nil {
		return Wallet{}, err
	}
	if !ok {
		return Wallet{}, ErrNotFound
	}

	stored := w.Timestamps
	mutate(&w)
	r.guard.OnUpdate(stored, &w)

	if err := writePostgresWallet(ctx, tx, w); err != nil {
		return Wallet{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Wallet{}, fmt.Errorf("commit: %w", err)
	}
	return w, nil
}

func writePostgresWallet(ctx context.Context, tx pgx.Tx, w Wallet) error {
	_, err := tx.Exec(ctx, `UPDATE wallets
        SET owner_actor_id = $2, label = $3, allow_overdraft = $4, created_at = $5, updated_at = $6
        WHERE id = $1`,
		w.ID, nullUUID(w.Owner), labelArg(w.Label), w.AllowOverdraft, w.CreatedAt, w.UpdatedAt)
	if err != nil {
		if sqlerr.IsUniqueViolation(err, labelConstraint) {
			return ErrDuplicateLabel
		}
		return err
	}
	return nil
}

func optionalPostgresWallet(row pgx.Row, op string) (Wallet, bool, error) {
	w, err := scanPostgresWallet(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{}, false, nil
		}
		return Wallet{}, false, fmt.Errorf("%s: %w", op, err)
	}
	return w, true, nil
}

func scanPostgresWallet(row pgx.Row) (Wallet, error) {
	var (
		w         Wallet
		owner     uuid.NullUUID
		label     sql.NullString
		updatedAt sql.NullTime
	)
	if err := row.Scan(&w.ID, &owner, &label, &w.AllowOverdraft, &w.CreatedAt, &updatedAt); err != nil {
		return Wallet{}, err
	}
	w.Owner = fromNullUUID(owner)
	if label.Valid {
		l := Label(label.String)
		w.Label = &l
	}
	w.CreatedAt = w.CreatedAt.UTC()
	if updatedAt.Valid {
		t := updatedAt.Time.UTC()
		w.UpdatedAt = &t
	}
	return w, nil
}
