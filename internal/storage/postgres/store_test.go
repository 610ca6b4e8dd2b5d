package postgres

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestIsDuplicateKeyError(t *testing.T) {
	assert.False(t, isDuplicateKeyError(nil))
	assert.False(t, isDuplicateKeyError(errors.New("boom")))
	assert.False(t, isDuplicateKeyError(&pgconn.PgError{Code: "23503"}))
	assert.True(t, isDuplicateKeyError(&pgconn.PgError{Code: pgErrUniqueViolation}))
	assert.True(t, isDuplicateKeyError(errors.Wrap(&pgconn.PgError{Code: pgErrUniqueViolation}, "insert")))
}

func TestNew_BadDSN(t *testing.T) {
	_, err := New(context.Background(), "postgres://%zz")
	assert.Error(t, err)
}
