package repo

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestClassify(t *testing.T) {
	plain := errors.New("syntax error")
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"record not found", gorm.ErrRecordNotFound, ErrNotFound},
		{"lock not available", &pgconn.PgError{Code: "55P03"}, ErrLockUnavailable},
		{"numeric overflow", &pgconn.PgError{Code: "22003"}, ErrDataRange},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, ErrTransient},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, ErrTransient},
		{"statement timeout", &pgconn.PgError{Code: "57014"}, ErrTransient},
		{"too many connections", &pgconn.PgError{Code: "53300"}, ErrTransient},
		{"connection failure", &pgconn.PgError{Code: "08006"}, ErrTransient},
		{"admin shutdown", fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "57P01"}), ErrTransient},
		{"foreign key violation", &pgconn.PgError{Code: "23503"}, ErrNotFound},
		{"deadline", context.DeadlineExceeded, ErrTransient},
		{"canceled", context.Canceled, ErrCanceled},
		{"wrapped canceled", fmt.Errorf("query: %w", context.Canceled), ErrCanceled},
		{"bad conn", driver.ErrBadConn, ErrTransient},
		{"already classified", ErrLockUnavailable, ErrLockUnavailable},
		{"unknown", plain, plain},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			assert.ErrorIs(t, got, tt.want)
			assert.ErrorIs(t, got, tt.err)
		})
	}
	assert.NoError(t, Classify(nil))
}

func TestClassify_UniqueViolationIsNotTransient(t *testing.T) {
	err := Classify(&pgconn.PgError{Code: "23505"})
	assert.False(t, errors.Is(err, ErrTransient))
	assert.False(t, errors.Is(err, ErrDataRange))
}
