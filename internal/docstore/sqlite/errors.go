package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ledgerline/recona/internal/docstore"
)

// isUniqueConstraintError reports whether err is a unique-index violation.
// SQLite reports these as "UNIQUE constraint failed: <table>.<expr>".
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// isBusyError reports whether err is a transient lock/busy failure worth
// retrying.
func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database table is locked")
}

// wrapErr maps backend errors onto the docstore sentinel set.
func wrapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case isUniqueConstraintError(err):
		return fmt.Errorf("%w: %v", docstore.ErrDuplicate, err)
	case isBusyError(err):
		return fmt.Errorf("%w: %v", docstore.ErrUnavailable, err)
	default:
		return err
	}
}
