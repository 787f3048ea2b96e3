// Package testutil opens migrated databases for store and engine tests.
package testutil

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tallybook/tallybook/internal/infra"
)

const (
	// SQLiteBusyTimeout is generous so concurrency tests queue instead of failing.
	SQLiteBusyTimeout = 5 * time.Second
	// PostgresLockTimeout is short so lock contention tests fail fast.
	PostgresLockTimeout = 500 * time.Millisecond
)

// NewSQLite opens a fresh migrated SQLite database in a temp dir.
func NewSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := infra.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "ledger.db"), SQLiteBusyTimeout)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// NewPostgres starts a throwaway PostgreSQL container and returns a migrated
// pool. It skips under -short or when no container runtime is reachable.
func NewPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres integration test skipped in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("ledger_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}

	pool, err := infra.NewPostgresPool(ctx, connStr, 10, PostgresLockTimeout)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := infra.MigratePostgres(ctx, pool); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	return pool
}
