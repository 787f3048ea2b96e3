// Package sqlerr classifies driver errors from PostgreSQL (pgx) and SQLite
// (modernc) into the few categories the stores care about.
package sqlerr

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

const (
	pgUniqueViolation       = "23505"
	pgForeignKeyViolation   = "23503"
	pgSerializationFailure  = "40001"
	pgDeadlockDetected      = "40P01"
	pgLockNotAvailable      = "55P03"
	pgQueryCanceled         = "57014"
	pgTooManyConnections    = "53300"
	pgAdminShutdown         = "57P01"
	pgNumericOutOfRange     = "22003"
	pgConnectionClassPrefix = "08"
)

// IsUniqueViolation reports whether err is a unique or primary key violation.
// A non-empty constraint narrows the match to that constraint or column.
func IsUniqueViolation(err error, constraint string) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code != pgUniqueViolation {
			return false
		}
		return constraint == "" || strings.Contains(pgErr.ConstraintName, constraint)
	}
	var liteErr *msqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_UNIQUE, sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY:
			return constraint == "" || strings.Contains(liteErr.Error(), constraint)
		}
	}
	return false
}

// IsForeignKeyViolation reports whether err is a referential integrity failure.
func IsForeignKeyViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgForeignKeyViolation
	}
	var liteErr *msqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3lib.SQLITE_CONSTRAINT_FOREIGNKEY
	}
	return false
}

// IsIntegerOverflow reports whether an aggregate or cast left the 64-bit
// integer range.
func IsIntegerOverflow(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgNumericOutOfRange
	}
	var liteErr *msqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code()&0xff == sqlite3lib.SQLITE_ERROR && strings.Contains(liteErr.Error(), "integer overflow")
	}
	return false
}

// IsTransient reports whether the failed unit of work can be retried from
// scratch: lock or serialization conflicts, timeouts and lost connections.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable,
			pgQueryCanceled, pgTooManyConnections, pgAdminShutdown:
			return true
		}
		return strings.HasPrefix(pgErr.Code, pgConnectionClassPrefix)
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}
	var liteErr *msqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() & 0xff {
		case sqlite3lib.SQLITE_BUSY, sqlite3lib.SQLITE_LOCKED:
			return true
		}
	}
	return false
}
