package wallet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tallybook/tallybook/internal/audit"
	"github.com/tallybook/tallybook/internal/storage/sqlerr"
)

// SQLiteRepository stores wallets in an embedded SQLite database. Writes run
// in BEGIN IMMEDIATE transactions (see infra.OpenSQLite).
type SQLiteRepository struct {
	db    *sql.DB
	guard *audit.Guard
}

// NewSQLiteRepository builds a repository backed by SQLite.
func NewSQLiteRepository(db *sql.DB, guard *audit.Guard) *SQLiteRepository {
	return &SQLiteRepository{db: db, guard: guard}
}

func toMicros(t time.Time) int64 {
	return t.UTC().UnixMicro()
}

func fromMicros(v int64) time.Time {
	return time.UnixMicro(v).UTC()
}

func nullMicros(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMicros(*t), Valid: true}
}

// Create inserts a wallet record.
func (r *SQLiteRepository) Create(ctx context.Context, input CreateInput) (Wallet, error) {
	w := Wallet{
		ID:             uuid.New(),
		Owner:          input.Owner,
		Label:          input.Label,
		AllowOverdraft: input.AllowOverdraft,
	}
	r.guard.OnCreate(&w)

	_, err := r.db.ExecContext(ctx, `INSERT INTO wallets (`+walletColumns+`)
        VALUES (?, ?, ?, ?, ?, ?)`,
		w.ID.String(), nullUUID(w.Owner), labelArg(w.Label), w.AllowOverdraft, toMicros(w.CreatedAt), nullMicros(w.UpdatedAt))
	if err != nil {
		if sqlerr.IsUniqueViolation(err, labelConstraint) {
			return Wallet{}, fmt.Errorf("Create: %w", ErrDuplicateLabel)
		}
		return Wallet{}, fmt.Errorf("Create: %w", err)
	}
	return w, nil
}

// FindByID fetches wallet metadata by identifier.
func (r *SQLiteRepository) FindByID(ctx context.Context, id uuid.UUID) (Wallet, bool, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = ?`, id.String())
	return optionalSQLiteWallet(row, "FindByID")
}

// FindByLabel fetches the wallet carrying the label.
func (r *SQLiteRepository) FindByLabel(ctx context.Context, label Label) (Wallet, bool, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+walletColumns+` FROM wallets WHERE label = ?`, string(label))
	return optionalSQLiteWallet(row, "FindByLabel")
}

// ListByOwner returns the wallets owned by an actor, oldest first.
func (r *SQLiteRepository) ListByOwner(ctx context.Context, owner uuid.UUID) ([]Wallet, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+walletColumns+` FROM wallets
        WHERE owner_actor_id = ? ORDER BY created_at, id`, owner.String())
	if err != nil {
		return nil, fmt.Errorf("ListByOwner: %w", err)
	}
	defer rows.Close()

	wallets, err := collectSQLiteWallets(rows)
	if err != nil {
		return nil, fmt.Errorf("ListByOwner: %w", err)
	}
	return wallets, nil
}

// SetOverdraftPolicy updates the overdraft flag.
func (r *SQLiteRepository) SetOverdraftPolicy(ctx context.Context, id uuid.UUID, allow bool) (Wallet, error) {
	w, err := r.update(ctx, id, func(w *Wallet) { w.AllowOverdraft = allow })
	if err != nil {
		return Wallet{}, fmt.Errorf("SetOverdraftPolicy: %w", err)
	}
	return w, nil
}

// SetLabel replaces the wallet label; nil clears it.
func (r *SQLiteRepository) SetLabel(ctx context.Context, id uuid.UUID, label *Label) (Wallet, error) {
	w, err := r.update(ctx, id, func(w *Wallet) { w.Label = label })
	if err != nil {
		return Wallet{}, fmt.Errorf("SetLabel: %w", err)
	}
	return w, nil
}

// DetachOwner clears the owner reference of every wallet of an actor.
func (r *SQLiteRepository) DetachOwner(ctx context.Context, owner uuid.UUID) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("DetachOwner: begin: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck

	rows, err := tx.QueryContext(ctx, `SELECT `+walletColumns+` FROM wallets
        WHERE owner_actor_id = ? ORDER BY id`, owner.String())
	if err != nil {
		return 0, fmt.Errorf("DetachOwner: %w", err)
	}
	owned, err := collectSQLiteWallets(rows)
	rows.Close()
	if err != nil {
		return 0, fmt.Errorf("DetachOwner: %w", err)
	}

	for i := range owned {
		stored := owned[i].Timestamps
		owned[i].Owner = nil
		r.guard.OnUpdate(stored, &owned[i])
		if err := writeSQLiteWallet(ctx, tx, owned[i]); err != nil {
			return 0, fmt.Errorf("DetachOwner: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("DetachOwner: commit: %w", err)
	}
	return len(owned), nil
}

// Delete removes a wallet that no transaction references.
func (r *SQLiteRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM wallets WHERE id = ?`, id.String())
	if err != nil {
		if sqlerr.IsForeignKeyViolation(err) {
			return fmt.Errorf("Delete: %w", ErrWalletInUse)
		}
		return fmt.Errorf("Delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("Delete: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("Delete: %w", ErrNotFound)
	}
	return nil
}

// FindInTx reads a wallet inside tx. SQLite write transactions already hold
// the database write lock, so no row lock is needed.
func FindInTx(ctx context.Context, tx *sql.Tx, id uuid.UUID) (Wallet, bool, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = ?`, id.String())
	return optionalSQLiteWallet(row, "FindInTx")
}

func (r *SQLiteRepository) update(ctx context.Context, id uuid.UUID, mutate func(*Wallet)) (Wallet, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Wallet{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck

	w, ok, err := FindInTx(ctx, tx, id)
	if err != nil {
		return Wallet{}, err
	}
	if !ok {
		return Wallet{}, ErrNotFound
	}

	stored := w.Timestamps
	mutate(&w)
	r.guard.OnUpdate(stored, &w)

	if err := writeSQLiteWallet(ctx, tx, w); err != nil {
		return Wallet{}, err
	}
	if err := tx.Commit(); err != nil {
		return Wallet{}, fmt.Errorf("commit: %w", err)
	}
	return w, nil
}

func writeSQLiteWallet(ctx context.Context, tx *sql.Tx, w Wallet) error {
	_, err := tx.ExecContext(ctx, `UPDATE wallets
        SET owner_actor_id = ?, label = ?, allow_overdraft = ?, created_at = ?, updated_at = ?
        WHERE id = ?`,
		nullUUID(w.Owner), labelArg(w.Label), w.AllowOverdraft, toMicros(w.CreatedAt), nullMicros(w.UpdatedAt), w.ID.String())
	if err != nil {
		if sqlerr.IsUniqueViolation(err, labelConstraint) {
			return ErrDuplicateLabel
		}
		return err
	}
	return nil
}

type sqliteScanner interface {
	Scan(dest ...any) error
}

func collectSQLiteWallets(rows *sql.Rows) ([]Wallet, error) {
	var wallets []Wallet
	for rows.Next() {
		w, err := scanSQLiteWallet(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		wallets = append(wallets, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return wallets, nil
}

func optionalSQLiteWallet(row *sql.Row, op string) (Wallet, bool, error) {
	w, err := scanSQLiteWallet(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Wallet{}, false, nil
		}
		return Wallet{}, false, fmt.Errorf("%s: %w", op, err)
	}
	return w, true, nil
}

func scanSQLiteWallet(s sqliteScanner) (Wallet, error) {
	var (
		w         Wallet
		owner     uuid.NullUUID
		label     sql.NullString
		createdAt int64
		updatedAt sql.NullInt64
	)
	if err := s.Scan(&w.ID, &owner, &label, &w.AllowOverdraft, &createdAt, &updatedAt); err != nil {
		return Wallet{}, err
	}
	w.Owner = fromNullUUID(owner)
	if label.Valid {
		l := Label(label.String)
		w.Label = &l
	}
	w.CreatedAt = fromMicros(createdAt)
	if updatedAt.Valid {
		t := fromMicros(updatedAt.Int64)
		w.UpdatedAt = &t
	}
	return w, nil
}
