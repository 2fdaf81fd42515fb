package testutil

import (
	"path/filepath"
	"testing"

	"github.com/nhle/mailhistory/internal/store"
)

// NewTestStore creates a SQLiteStore backed by a fresh file in a temporary
// directory with all migrations applied. It automatically closes the store
// when the test completes.
func NewTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	return NewTestStoreWith(t, store.Options{})
}

// NewTestStoreWith is NewTestStore with explicit open options.
func NewTestStoreWith(t *testing.T, opts store.Options) *store.SQLiteStore {
	t.Helper()

	path := filepath.Join(t.TempDir(), "contacts.db")
	s, err := store.Create(path, opts)
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}
