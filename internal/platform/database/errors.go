package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// ErrStaleWrite marks a compare-and-set update that matched no row.
var ErrStaleWrite = errors.New("database: stale write")

const (
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
	mysqlErrDuplicateEntry  = 1062
	mysqlErrTooManyConns    = 1040
)

// Error implements repositories.RepositoryError for gorm backed repositories.
type Error struct {
	op          string
	err         error
	notFound    bool
	conflict    bool
	unavailable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.op != "" {
		return fmt.Sprintf("%s: %v", e.op, e.err)
	}
	return e.err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// IsNotFound reports whether the error represents a missing row.
func (e *Error) IsNotFound() bool {
	return e != nil && e.notFound
}

// IsConflict reports whether the error represents a duplicate key or a lost update.
func (e *Error) IsConflict() bool {
	return e != nil && e.conflict
}

// IsUnavailable reports whether the error represents a transient backend outage.
func (e *Error) IsUnavailable() bool {
	return e != nil && e.unavailable
}

// NotFound builds a not-found repository error for op.
func NotFound(op string, format string, args ...any) error {
	return &Error{op: op, err: fmt.Errorf(format, args...), notFound: true}
}

// Conflict builds a conflict repository error for op.
func Conflict(op string, format string, args ...any) error {
	return &Error{op: op, err: fmt.Errorf("%w: "+format, append([]any{ErrStaleWrite}, args...)...), conflict: true}
}

func newError(op string, err error) *Error {
	e := &Error{op: op, err: err}

	var myErr *mysqldriver.MySQLError
	var netErr net.Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound), errors.Is(err, sql.ErrNoRows):
		e.notFound = true
	case errors.Is(err, gorm.ErrDuplicatedKey), errors.Is(err, ErrStaleWrite):
		e.conflict = true
	case errors.As(err, &myErr):
		switch myErr.Number {
		case mysqlErrDuplicateEntry, mysqlErrDeadlock, mysqlErrLockWaitTimeout:
			e.conflict = true
		case mysqlErrTooManyConns:
			e.unavailable = true
		}
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone), errors.Is(err, mysqldriver.ErrInvalidConn):
		e.unavailable = true
	case errors.As(err, &netErr):
		e.unavailable = true
	}
	return e
}

// WrapError annotates gorm errors with repository semantics. Context cancellations are passed through.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var repoErr *Error
	if errors.As(err, &repoErr) {
		if op != "" && repoErr.op == "" {
			repoErr.op = op
		}
		return repoErr
	}
	return newError(op, err)
}

// IsRetryable reports whether err is a deadlock or lock wait timeout worth retrying.
func IsRetryable(err error) bool {
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlErrDeadlock || myErr.Number == mysqlErrLockWaitTimeout
	}
	return false
}
