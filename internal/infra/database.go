package infra

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tallybook/tallybook/internal/storage/migrate"
	"github.com/tallybook/tallybook/internal/storage/migrations"
)

// NewPostgresPool configures and returns a PostgreSQL connection pool.
// maxConns <= 0 keeps the pgxpool default. Every session gets lockTimeout as
// its lock_timeout, so no statement queues on a row lock indefinitely.
func NewPostgresPool(ctx context.Context, url string, maxConns int32, lockTimeout time.Duration) (*pgxpool.Pool, error) {
	if url == "" {
		return nil, fmt.Errorf("database url is required")
	}

	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if lockTimeout > 0 {
		cfg.ConnConfig.RuntimeParams["lock_timeout"] = fmt.Sprintf("%dms", lockTimeout.Milliseconds())
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return pool, nil
}

// MigratePostgres brings the ledger schema up to date.
func MigratePostgres(ctx context.Context, pool *pgxpool.Pool) error {
	if err := migrate.Postgres(ctx, pool, migrations.Postgres, "postgres"); err != nil {
		return fmt.Errorf("migrate postgres: %w", err)
	}
	return nil
}
