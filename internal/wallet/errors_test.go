package wallet

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestClassifyMarksTransientFailures(t *testing.T) {
	lockTimeout := &pgconn.PgError{Code: "55P03", Message: "canceling statement due to lock timeout"}
	err := classify(fmt.Errorf("SetOverdraftPolicy: %w", lockTimeout))
	assert.ErrorIs(t, err, ErrUnavailable)

	var pgErr *pgconn.PgError
	assert.True(t, errors.As(err, &pgErr))
	assert.Equal(t, "55P03", pgErr.Code)

	assert.NoError(t, classify(nil))
	assert.Equal(t, ErrNotFound, classify(ErrNotFound))
	assert.NotErrorIs(t, classify(&pgconn.PgError{Code: "23505"}), ErrUnavailable)
}
