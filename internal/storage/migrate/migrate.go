// Package migrate applies embedded SQL migrations at most once per file.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	migrationTable = "schema_migrations"
	upMarker       = "-- +migrate Up"
	downMarker     = "-- +migrate Down"

	// postgresLockKey serialises concurrent instances migrating the same database.
	postgresLockKey = 7_411_002
)

// File is one migration read from the embedded filesystem.
type File struct {
	Name string
	Up   string
}

// Files lists the .sql files under root in lexical order.
func Files(fsys fs.FS, root string) ([]File, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		root = "."
	}
	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	files := make([]File, 0, len(names))
	for _, name := range names {
		content, err := fs.ReadFile(fsys, path.Join(root, name))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		files = append(files, File{Name: name, Up: ExtractUp(string(content))})
	}
	return files, nil
}

// ExtractUp returns the SQL in the "-- +migrate Up" section.
func ExtractUp(content string) string {
	upIdx := strings.Index(content, upMarker)
	if upIdx == -1 {
		return content
	}
	body := content[upIdx+len(upMarker):]
	if downIdx := strings.Index(body, downMarker); downIdx != -1 {
		body = body[:downIdx]
	}
	return body
}

// SQLite applies migrations through database/sql.
func SQLite(ctx context.Context, db *sql.DB, fsys fs.FS, root string) error {
	if db == nil {
		return errors.New("sql db is required")
	}
	files, err := Files(fsys, root)
	if err != nil {
		return err
	}

	createSQL := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    name TEXT PRIMARY KEY,
    applied_at INTEGER NOT NULL
)`, migrationTable)
	if _, err := db.ExecContext(ctx, createSQL); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, file := range files {
		if strings.TrimSpace(file.Up) == "" {
			continue
		}
		if err := applySQLite(ctx, db, file); err != nil {
			return err
		}
	}
	return nil
}

func applySQLite(ctx context.Context, db *sql.DB, file File) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", file.Name, err)
	}
	defer tx.Rollback() // nolint:errcheck

	var found int
	err = tx.QueryRowContext(ctx, "SELECT 1 FROM "+migrationTable+" WHERE name = ?", file.Name).Scan(&found)
	switch {
	case err == nil:
		return nil
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("check migration %s: %w", file.Name, err)
	}

	if _, err := tx.ExecContext(ctx, file.Up); err != nil {
		return fmt.Errorf("exec migration %s: %w", file.Name, err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO "+migrationTable+" (name, applied_at) VALUES (?, ?)",
		file.Name, time.Now().UTC().UnixMilli(),
	); err != nil {
		return fmt.Errorf("record migration %s: %w", file.Name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", file.Name, err)
	}
	return nil
}

// Postgres applies migrations through a pgx pool. Each file runs in its own
// transaction holding an advisory lock, so concurrently booting instances
// apply it exactly once.
func Postgres(ctx context.Context, pool *pgxpool.Pool, fsys fs.FS, root string) error {
	if pool == nil {
		return errors.New("postgres pool is required")
	}
	files, err := Files(fsys, root)
	if err != nil {
		return err
	}

	createSQL := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    name TEXT PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL
)`, migrationTable)
	if _, err := pool.Exec(ctx, createSQL); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, file := range files {
		if strings.TrimSpace(file.Up) == "" {
			continue
		}
		if err := applyPostgres(ctx, pool, file); err != nil {
			return err
		}
	}
	return nil
}

func applyPostgres(ctx context.Context, pool *pgxpool.Pool, file File) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", file.Name, err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", postgresLockKey); err != nil {
		return fmt.Errorf("lock migration %s: %w", file.Name, err)
	}

	var found int
	err = tx.QueryRow(ctx, "SELECT 1 FROM "+migrationTable+" WHERE name = $1", file.Name).Scan(&found)
	switch {
	case err == nil:
		return nil
	case !errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("check migration %s: %w", file.Name, err)
	}

	// No arguments: pgx uses the simple protocol, which accepts multiple statements.
	if _, err := tx.Exec(ctx, file.Up); err != nil {
		return fmt.Errorf("exec migration %s: %w", file.Name, err)
	}
	if _, err := tx.Exec(ctx,
		"INSERT INTO "+migrationTable+" (name, applied_at) VALUES ($1, $2)",
		file.Name, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("record migration %s: %w", file.Name, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit migration %s: %w", file.Name, err)
	}
	return nil
}
