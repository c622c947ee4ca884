package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/chronicle-dev/chronicle/internal/storage"
)

// wrapDBError translates driver-level failures into storage sentinel errors
// so callers can use errors.Is without importing this package.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	case isUniqueConstraintError(err):
		return fmt.Errorf("%s: %w: %v", op, storage.ErrConflict, err)
	case isConstraintError(err):
		return fmt.Errorf("%s: %w: %v", op, storage.ErrOperation, err)
	case isLockedError(err):
		return fmt.Errorf("%s: %w: %v", op, storage.ErrConnection, err)
	default:
		return fmt.Errorf("%s: %w: %v", op, storage.ErrOperation, err)
	}
}

func wrapDBErrorf(err error, format string, args ...any) error {
	return wrapDBError(fmt.Sprintf(format, args...), err)
}

// The pure-Go driver reports constraint violations as formatted strings, so
// detection is by substring rather than error code.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed: UNIQUE")
}

func isConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "constraint failed") ||
		strings.Contains(msg, "CHECK constraint") ||
		strings.Contains(msg, "FOREIGN KEY constraint")
}

func isLockedError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}
