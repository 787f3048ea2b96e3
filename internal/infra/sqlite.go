package infra

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tallybook/tallybook/internal/storage/migrate"
	"github.com/tallybook/tallybook/internal/storage/migrations"
)

// SQLiteDSN builds the connection string for an on-disk database. Every
// transaction starts with BEGIN IMMEDIATE so writers queue on the database
// lock for at most busyTimeout instead of failing on upgrade.
func SQLiteDSN(path string, busyTimeout time.Duration) string {
	return fmt.Sprintf(
		"%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate",
		path, busyTimeout.Milliseconds(),
	)
}

// OpenSQLite opens the embedded database at path, verifies it and applies
// the ledger schema.
func OpenSQLite(ctx context.Context, path string, busyTimeout time.Duration) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	db, err := sql.Open("sqlite", SQLiteDSN(path, busyTimeout))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := migrate.SQLite(ctx, db, migrations.SQLite, "sqlite"); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return db, nil
}
