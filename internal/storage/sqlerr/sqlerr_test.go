package sqlerr

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresClassification(t *testing.T) {
	unique := &pgconn.PgError{Code: "23505", ConstraintName: "wallets_label_key"}
	assert.True(t, IsUniqueViolation(fmt.Errorf("insert: %w", unique), "label"))
	assert.False(t, IsUniqueViolation(unique, "pkey"))
	assert.True(t, IsUniqueViolation(unique, ""))

	fk := &pgconn.PgError{Code: "23503"}
	assert.True(t, IsForeignKeyViolation(fk))
	assert.False(t, IsForeignKeyViolation(unique))

	for _, code := range []string{"40001", "40P01", "55P03", "08006", "53300"} {
		assert.True(t, IsTransient(&pgconn.PgError{Code: code}), code)
	}
	assert.False(t, IsTransient(unique))
}

func TestNilAndPlainErrors(t *testing.T) {
	plain := errors.New("boom")
	assert.False(t, IsUniqueViolation(nil, ""))
	assert.False(t, IsForeignKeyViolation(nil))
	assert.False(t, IsTransient(nil))
	assert.False(t, IsUniqueViolation(plain, ""))
	assert.False(t, IsTransient(plain))
}

func TestIntegerOverflow(t *testing.T) {
	assert.True(t, IsIntegerOverflow(fmt.Errorf("balance: %w", &pgconn.PgError{Code: "22003"})))
	assert.False(t, IsIntegerOverflow(&pgconn.PgError{Code: "40001"}))
	assert.False(t, IsIntegerOverflow(errors.New("integer overflow")))

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	var sum int64
	err = db.QueryRow(`SELECT SUM(x) FROM (SELECT 9223372036854775807 AS x UNION ALL SELECT 1)`).Scan(&sum)
	require.Error(t, err)
	assert.True(t, IsIntegerOverflow(err))
	assert.False(t, IsTransient(err))
}
