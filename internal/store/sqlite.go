package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// querier is the subset of sqlx shared by *sqlx.DB and *sqlx.Tx.
type querier interface {
	sqlx.QueryerContext
	sqlx.ExecerContext
}

// Options controls how a database file is opened.
type Options struct {
	// Exclusive takes a lock file next to the database so that no other
	// process can open it while this store is open.
	Exclusive bool

	// JournalMode is the SQLite journal mode. "off" leaves the
	// connection unable to roll back, and transactions are refused.
	JournalMode string

	// BusyTimeout bounds how long a writer waits for a competing lock.
	BusyTimeout time.Duration
}

// SQLiteStore is the typed data-access layer over the contact database.
type SQLiteStore struct {
	db       *sqlx.DB
	path     string
	lockPath string
	dialect  Dialect
	ids      *idAllocator

	rollbackCapable bool
	closed          atomic.Bool
}

// lockSuffix names the lock file kept next to an exclusively opened
// database, after the legacy engine's own lock files.
const lockSuffix = ".lck"

// Open connects to the existing database at path. It fails with a
// ConnectionError if the file is missing or locked exclusively elsewhere.
func Open(path string, opts Options) (*SQLiteStore, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &ConnectionError{Op: "open", Path: path, Err: ErrDatabaseMissing}
		}
		return nil, &ConnectionError{Op: "open", Path: path, Err: err}
	}

	lockPath := path + lockSuffix
	if opts.Exclusive {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err != nil {
			if errors.Is(err, os.ErrExist) {
				return nil, &ConnectionError{Op: "lock", Path: path, Err: ErrDatabaseLocked}
			}
			return nil, &ConnectionError{Op: "lock", Path: path, Err: err}
		}
		_, _ = f.WriteString(strconv.Itoa(os.Getpid()))
		_ = f.Close()
	} else if _, err := os.Stat(lockPath); err == nil {
		return nil, &ConnectionError{Op: "open", Path: path, Err: ErrDatabaseLocked}
	}

	s, err := open(path, opts)
	if err != nil {
		if opts.Exclusive {
			_ = os.Remove(lockPath)
		}
		return nil, err
	}
	if opts.Exclusive {
		s.lockPath = lockPath
	}
	return s, nil
}

// Create bootstraps a new, empty database file at path and opens it.
func Create(path string, opts Options) (*SQLiteStore, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating database %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("creating database %s: %w", path, err)
	}
	return Open(path, opts)
}

func open(path string, opts Options) (*SQLiteStore, error) {
	journal := strings.ToLower(opts.JournalMode)
	if journal == "" {
		journal = "wal"
	}
	busy := opts.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}

	params := url.Values{}
	params.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	params.Add("_pragma", fmt.Sprintf("journal_mode(%s)", journal))
	params.Add("_txlock", "immediate")
	dsn := "file:" + path + "?" + params.Encode()

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, &ConnectionError{Op: "open", Path: path, Err: err}
	}

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &ConnectionError{Op: "ping", Path: path, Err: err}
	}

	s := &SQLiteStore{
		db:      db,
		path:    path,
		dialect: SQLite,
		ids:     newIDAllocator(),
	}

	mode, _, err := QueryOne(ctx, db, "PRAGMA journal_mode", KindString)
	if err != nil {
		db.Close()
		return nil, &ConnectionError{Op: "journal mode", Path: path, Err: err}
	}
	s.rollbackCapable = !strings.EqualFold(fmt.Sprint(mode), "off")

	if err := s.runMigrations(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection and releases the
// exclusive lock, if held.
func (s *SQLiteStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := s.db.Close()
	if s.lockPath != "" {
		if rmErr := os.Remove(s.lockPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			err = errors.Join(err, rmErr)
		}
	}
	return err
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// RollbackCapable reports whether transactions can be used.
func (s *SQLiteStore) RollbackCapable() bool {
	return s.rollbackCapable
}

// Literal renders v in the backend's dialect for embedding in SQL.
func (s *SQLiteStore) Literal(kind Kind, v any) (string, error) {
	return s.dialect.Format(kind, v)
}

// QueryOne runs query against the store. See the package-level QueryOne.
func (s *SQLiteStore) QueryOne(ctx context.Context, query string, kind Kind) (any, bool, error) {
	if err := s.checkOpen("query"); err != nil {
		return nil, false, err
	}
	return QueryOne(ctx, s.db, query, kind)
}

// Exec runs a statement outside any transaction.
func (s *SQLiteStore) Exec(ctx context.Context, query string) (int64, error) {
	if err := s.checkOpen("exec"); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return 0, classify("executing statement", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classify("reading rows affected", err)
	}
	return n, nil
}

// AllocateID returns an identifier not currently present in table's
// primary key.
func (s *SQLiteStore) AllocateID(ctx context.Context, table string) (int64, error) {
	if err := s.checkOpen("allocate id"); err != nil {
		return 0, err
	}
	return s.ids.allocate(ctx, s.db, s.dialect, table)
}

func (s *SQLiteStore) checkOpen(op string) error {
	if s.closed.Load() {
		return &ConnectionError{Op: op, Path: s.path, Err: errClosed}
	}
	return nil
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations(ctx context.Context) error {
	currentVersion := 0

	// Check if schema_version table exists.
	var tableCount int
	err := s.db.GetContext(ctx,
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.GetContext(ctx, &currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.ExecContext(ctx, m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}
