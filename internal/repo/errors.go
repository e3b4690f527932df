package repo

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// SQLSTATE codes the engine reacts to.
const (
	pgNumericValueOutOfRange = "22003"
	pgForeignKeyViolation    = "23503"
	pgSerializationFailure   = "40001"
	pgDeadlockDetected       = "40P01"
	pgInsufficientResources  = "53000"
	pgTooManyConnections     = "53300"
	pgLockNotAvailable       = "55P03"
	pgQueryCanceled          = "57014"
	pgAdminShutdown          = "57P01"
	pgCannotConnectNow       = "57P03"
)

// Classify translates driver failures into the store's error kinds. The
// original error stays in the chain; unknown errors are returned untouched.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrLockUnavailable),
		errors.Is(err, ErrTransient), errors.Is(err, ErrDataRange),
		errors.Is(err, ErrCanceled):
		return err
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrTransient, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %w", ErrCanceled, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgLockNotAvailable:
			return fmt.Errorf("%w: %w", ErrLockUnavailable, err)
		case pgNumericValueOutOfRange:
			return fmt.Errorf("%w: %w", ErrDataRange, err)
		case pgForeignKeyViolation:
			return fmt.Errorf("%w: %w", ErrNotFound, err)
		case pgSerializationFailure, pgDeadlockDetected, pgQueryCanceled,
			pgInsufficientResources, pgTooManyConnections, pgAdminShutdown, pgCannotConnectNow:
			return fmt.Errorf("%w: %w", ErrTransient, err)
		}
		// class 08: connection exception
		if strings.HasPrefix(pgErr.Code, "08") {
			return fmt.Errorf("%w: %w", ErrTransient, err)
		}
		return err
	}

	if errors.Is(err, driver.ErrBadConn) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	return err
}
