package migrate

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
)

// ErrAborted wraps conditions that stop a whole run: the database became
// unreachable, the scan itself failed, or the operator cancelled.
var ErrAborted = errors.New("migration aborted")

// DocumentError records a per-document failure. It is counted and logged;
// it never stops the run.
type DocumentError struct {
	ID    string
	Cause error
}

func (e *DocumentError) Error() string {
	return fmt.Sprintf("document %s: %v", e.ID, e.Cause)
}

func (e *DocumentError) Unwrap() error { return e.Cause }

// isFatal reports whether err means no further document can make progress.
func isFatal(err error) bool {
	return errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func abort(name string, cause error) error {
	return fmt.Errorf("%w: %s: %w", ErrAborted, name, cause)
}
