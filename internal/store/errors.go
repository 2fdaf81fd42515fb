package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Sentinel errors for store operations.
var (
	// ErrTooManyRows is returned by QueryOne when the statement yields
	// more than one row.
	ErrTooManyRows = errors.New("query returned more than one row")

	// ErrIDAllocationExhausted is returned when no free identifier could
	// be found within the allocation bound.
	ErrIDAllocationExhausted = errors.New("id allocation exhausted")

	// ErrIDConflict indicates that an insert collided with an existing
	// primary key, typically because another writer took the id.
	ErrIDConflict = errors.New("primary key already in use")

	// ErrIDNotAllocated is returned when a row is inserted without an id
	// obtained from AllocateID.
	ErrIDNotAllocated = errors.New("row id was not allocated")

	// ErrAlreadyImported indicates the ledger already holds the message.
	ErrAlreadyImported = errors.New("message already imported")

	// ErrContactNotFound indicates that no contact has the requested id.
	ErrContactNotFound = errors.New("contact not found")

	// ErrHistoryNotFound indicates that no history row has the requested id.
	ErrHistoryNotFound = errors.New("history record not found")

	// ErrDatabaseMissing indicates the database file does not exist.
	ErrDatabaseMissing = errors.New("database file does not exist")

	// ErrDatabaseLocked indicates another process holds the database
	// exclusively.
	ErrDatabaseLocked = errors.New("database is locked exclusively")

	// ErrNotRollbackCapable indicates the connection cannot roll back.
	ErrNotRollbackCapable = errors.New("connection is not in a rollback-capable mode")

	// ErrUnknownTable is returned when allocating ids for a table without
	// a registered primary key.
	ErrUnknownTable = errors.New("no id column registered for table")

	errClosed = errors.New("store is closed")
)

// ConnectionError reports that the database could not be reached. It is
// never retried inside the store.
type ConnectionError struct {
	Op   string
	Path string
	Err  error
}

func (e *ConnectionError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("connection error (%s %s): %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("connection error (%s): %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// IsConnectionError reports whether err (or any error in its chain) is a
// ConnectionError.
func IsConnectionError(err error) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr)
}

// TransactionError reports a failure to begin, commit or roll back a
// transaction. Ids allocated inside the failed attempt are listed in
// Burned and are never handed out again by this store.
type TransactionError struct {
	Op     string
	Err    error
	Burned []int64
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction %s failed: %v", e.Op, e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }

// IsTransactionError reports whether err (or any error in its chain) is a
// TransactionError.
func IsTransactionError(err error) bool {
	var txErr *TransactionError
	return errors.As(err, &txErr)
}

// classify wraps err as a ConnectionError when it signals a lost
// connection, and otherwise adds op as context.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, errClosed) {
		return &ConnectionError{Op: op, Err: err}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if isPrimaryKeyViolation(err) {
		return fmt.Errorf("%s: %w: %v", op, ErrIDConflict, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// isPrimaryKeyViolation reports whether err is a SQLite primary key or
// unique constraint failure.
func isPrimaryKeyViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch code := sqliteErr.Code(); code {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	default:
		return code&0xff == sqlite3.SQLITE_CONSTRAINT &&
			strings.Contains(sqliteErr.Error(), "UNIQUE constraint failed")
	}
}
