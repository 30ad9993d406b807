package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/ammerola/stockledger/internal/core/domain"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
	}{
		{
			name:   "serialization_failure_is_conflict",
			err:    &pgconn.PgError{Code: codeSerializationFailure, Message: "could not serialize access"},
			target: domain.ErrConflict,
		},
		{
			name:   "deadlock_is_conflict",
			err:    fmt.Errorf("failed to commit transaction: %w", &pgconn.PgError{Code: codeDeadlockDetected}),
			target: domain.ErrConflict,
		},
		{
			name:   "negative_quantity_check_is_conflict",
			err:    &pgconn.PgError{Code: codeCheckViolation, Message: "stock_lots_quantity_check"},
			target: domain.ErrConflict,
		},
		{
			name:   "duplicate_sale_id_is_conflict",
			err:    &pgconn.PgError{Code: codeUniqueViolation},
			target: domain.ErrConflict,
		},
		{
			name:   "missing_reference_is_not_found",
			err:    &pgconn.PgError{Code: codeForeignKeyViolation, Detail: "Key (product_id) is not present"},
			target: domain.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, mapError(tt.err), tt.target)
		})
	}

	t.Run("other_errors_pass_through", func(t *testing.T) {
		plain := errors.New("connection reset")
		assert.Same(t, plain, mapError(plain))

		syntax := &pgconn.PgError{Code: "42601"}
		assert.Equal(t, error(syntax), mapError(syntax))
	})

	t.Run("nil_stays_nil", func(t *testing.T) {
		assert.NoError(t, mapError(nil))
	})
}

func TestForUpdate(t *testing.T) {
	assert.Equal(t, "SELECT 1 FOR UPDATE", forUpdate("SELECT 1", true))
	assert.Equal(t, "SELECT 1", forUpdate("SELECT 1", false))
}
