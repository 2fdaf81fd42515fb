package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

// Tx is a transaction scope handed to the function passed to
// WithTransaction.
type Tx struct {
	tx        *sqlx.Tx
	store     *SQLiteStore
	allocated []int64
}

// WithTransaction runs fn inside a transaction and returns its result.
// The transaction is committed only when fn returns without error; every
// other exit path, including a panic, rolls it back. It fails with a
// TransactionError if the connection cannot roll back, or if commit or
// rollback fails.
func WithTransaction[T any](
	ctx context.Context, s *SQLiteStore, fn func(tx *Tx) (T, error),
) (result T, err error) {
	var zero T

	if err := s.checkOpen("begin"); err != nil {
		return zero, err
	}
	if !s.rollbackCapable {
		return zero, &TransactionError{Op: "begin", Err: ErrNotRollbackCapable}
	}

	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		err = classify("beginning transaction", err)
		if IsConnectionError(err) {
			return zero, err
		}
		return zero, &TransactionError{Op: "begin", Err: err}
	}

	tx := &Tx{tx: sqlTx, store: s}
	done := false
	defer func() {
		if done {
			return
		}
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			err = errors.Join(err, &TransactionError{
				Op:     "rollback",
				Err:    rbErr,
				Burned: tx.allocated,
			})
		}
	}()

	result, err = fn(tx)
	if err != nil {
		return zero, err
	}

	done = true
	if err := sqlTx.Commit(); err != nil {
		return zero, &TransactionError{Op: "commit", Err: err, Burned: tx.allocated}
	}
	return result, nil
}

// AllocateID returns an identifier not currently present in table's
// primary key, as seen from inside the transaction.
func (t *Tx) AllocateID(ctx context.Context, table string) (int64, error) {
	id, err := t.store.ids.allocate(ctx, t.tx, t.store.dialect, table)
	if err != nil {
		return 0, err
	}
	t.allocated = append(t.allocated, id)
	return id, nil
}

// Allocated returns the ids allocated in this transaction so far.
func (t *Tx) Allocated() []int64 {
	return append([]int64(nil), t.allocated...)
}

// QueryOne runs query inside the transaction.
func (t *Tx) QueryOne(ctx context.Context, query string, kind Kind) (any, bool, error) {
	return QueryOne(ctx, t.tx, query, kind)
}

// Exec runs a statement inside the transaction.
func (t *Tx) Exec(ctx context.Context, query string) (int64, error) {
	res, err := t.tx.ExecContext(ctx, query)
	if err != nil {
		return 0, classify("executing statement", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classify("reading rows affected", err)
	}
	return n, nil
}

func (t *Tx) dialect() Dialect {
	return t.store.dialect
}
