package store_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailhistory/internal/model"
	"github.com/nhle/mailhistory/internal/store"
	"github.com/nhle/mailhistory/tests/testutil"
)

func insertContact(t *testing.T, s *store.SQLiteStore, c model.ContactRecord) model.ContactRecord {
	t.Helper()
	got, err := store.WithTransaction(context.Background(), s, func(tx *store.Tx) (model.ContactRecord, error) {
		return tx.InsertContact(context.Background(), c)
	})
	require.NoError(t, err)
	return got
}

func TestOpenMissingFile(t *testing.T) {
	_, err := store.Open(filepath.Join(t.TempDir(), "nope.db"), store.Options{})
	require.Error(t, err)
	assert.True(t, store.IsConnectionError(err))
	assert.ErrorIs(t, err, store.ErrDatabaseMissing)
}

func TestOpenExclusiveLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contacts.db")

	s, err := store.Create(path, store.Options{Exclusive: true})
	require.NoError(t, err)

	_, err = store.Open(path, store.Options{})
	require.Error(t, err)
	assert.True(t, store.IsConnectionError(err))
	assert.ErrorIs(t, err, store.ErrDatabaseLocked)

	_, err = store.Open(path, store.Options{Exclusive: true})
	assert.ErrorIs(t, err, store.ErrDatabaseLocked)

	require.NoError(t, s.Close())
	_, statErr := os.Stat(path + ".lck")
	assert.True(t, errors.Is(statErr, os.ErrNotExist), "lock file should be removed on close")

	reopened, err := store.Open(path, store.Options{})
	require.NoError(t, err)
	require.NoError(t, reopened.Close())
}

func TestClosedStoreReportsConnectionError(t *testing.T) {
	s := testutil.NewTestStore(t)
	require.NoError(t, s.Close())

	_, _, err := s.QueryOne(context.Background(), "SELECT 1", store.KindInt)
	assert.True(t, store.IsConnectionError(err))

	_, err = store.WithTransaction(context.Background(), s, func(tx *store.Tx) (int, error) {
		return 0, nil
	})
	assert.True(t, store.IsConnectionError(err))
}

func TestQueryOne(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	insertContact(t, s, model.ContactRecord{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com"})
	insertContact(t, s, model.ContactRecord{FirstName: "Bob", Email: "shared@example.com"})
	insertContact(t, s, model.ContactRecord{FirstName: "Carol", Email: "shared@example.com"})

	t.Run("no rows", func(t *testing.T) {
		v, found, err := s.QueryOne(ctx, "SELECT first_name FROM contacts WHERE email = 'none@example.com'", store.KindString)
		require.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, v)
	})

	t.Run("one row", func(t *testing.T) {
		v, found, err := s.QueryOne(ctx, "SELECT first_name FROM contacts WHERE email = 'ada@example.com'", store.KindString)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "Ada", v)
	})

	t.Run("many rows", func(t *testing.T) {
		_, _, err := s.QueryOne(ctx, "SELECT first_name FROM contacts WHERE email = 'shared@example.com'", store.KindString)
		assert.ErrorIs(t, err, store.ErrTooManyRows)
	})

	t.Run("null value", func(t *testing.T) {
		v, found, err := s.QueryOne(ctx, "SELECT NULL", store.KindString)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Nil(t, v)
	})

	t.Run("bool coercion", func(t *testing.T) {
		v, found, err := s.QueryOne(ctx, "SELECT 1", store.KindBool)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, true, v)
	})
}

func TestContactIDByEmail(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	ada := insertContact(t, s, model.ContactRecord{FirstName: "Ada", Email: "ada@example.com"})
	insertContact(t, s, model.ContactRecord{FirstName: "Bob", Email: "shared@example.com"})
	insertContact(t, s, model.ContactRecord{FirstName: "Carol", Email: "shared@example.com"})

	id, found, err := s.ContactIDByEmail(ctx, "ADA@example.com")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, ada.ContactID, id)

	_, found, err = s.ContactIDByEmail(ctx, "missing@example.com")
	require.NoError(t, err)
	assert.False(t, found)

	_, _, err = s.ContactIDByEmail(ctx, "shared@example.com")
	assert.ErrorIs(t, err, store.ErrTooManyRows)
}

func TestFindContactsByEmailMatchesSpouse(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	insertContact(t, s, model.ContactRecord{
		FirstName: "John", LastName: "Smith", Email: "john@example.com",
		SpouseFirstName: "Jane", SpouseLastName: "Smith", SpouseEmail: "Jane@Example.com",
	})

	got, err := s.FindContactsByEmail(ctx, "jane@example.com")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "John", got[0].FirstName)
	assert.True(t, got[0].HasSpouse())

	none, err := s.FindContactsByEmail(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestAllocateIDConcurrentIsUnique(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	const workers = 16
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = make(map[int64]bool)
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := store.WithTransaction(ctx, s, func(tx *store.Tx) (int64, error) {
				id, err := tx.AllocateID(ctx, "history")
				if err != nil {
					return 0, err
				}
				return id, tx.InsertHistory(ctx, model.HistoryRecord{
					HistoryID:    id,
					ContactID:    1,
					TaskTypeCode: model.TaskTypeEmail,
					OccurredAt:   time.Now(),
				})
			})
			assert.NoError(t, err)

			mu.Lock()
			defer mu.Unlock()
			assert.False(t, ids[id], "id %d issued twice", id)
			ids[id] = true
		}()
	}
	wg.Wait()

	assert.Len(t, ids, workers)
	n, err := s.CountHistory(ctx)
	require.NoError(t, err)
	assert.Equal(t, workers, n)
}

func TestAllocateIDUnknownTable(t *testing.T) {
	s := testutil.NewTestStore(t)
	_, err := s.AllocateID(context.Background(), "notes")
	assert.ErrorIs(t, err, store.ErrUnknownTable)
}

func TestAllocateIDNeverReissuesBurnedIDs(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)
	errBoom := errors.New("boom")

	var burned int64
	_, err := store.WithTransaction(ctx, s, func(tx *store.Tx) (int64, error) {
		id, err := tx.AllocateID(ctx, "history")
		burned = id
		if err != nil {
			return 0, err
		}
		return 0, errBoom
	})
	require.ErrorIs(t, err, errBoom)

	next, err := s.AllocateID(ctx, "history")
	require.NoError(t, err)
	assert.Greater(t, next, burned)
}

func TestWithTransactionRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)
	errBoom := errors.New("boom")

	_, err := store.WithTransaction(ctx, s, func(tx *store.Tx) (struct{}, error) {
		if _, err := tx.InsertContact(ctx, model.ContactRecord{Email: "ghost@example.com"}); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, errBoom
	})
	require.ErrorIs(t, err, errBoom)

	got, err := s.FindContactsByEmail(ctx, "ghost@example.com")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestWithTransactionRollsBackOnPanic(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	assert.Panics(t, func() {
		_, _ = store.WithTransaction(ctx, s, func(tx *store.Tx) (int, error) {
			if _, err := tx.InsertContact(ctx, model.ContactRecord{Email: "panic@example.com"}); err != nil {
				return 0, err
			}
			panic("fn exploded")
		})
	})

	got, err := s.FindContactsByEmail(ctx, "panic@example.com")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestWithTransactionCommits(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)
	occurred := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)

	rec, err := store.WithTransaction(ctx, s, func(tx *store.Tx) (model.HistoryRecord, error) {
		c, err := tx.InsertContact(ctx, model.ContactRecord{FirstName: "Ada", Email: "ada@example.com"})
		if err != nil {
			return model.HistoryRecord{}, err
		}
		id, err := tx.AllocateID(ctx, "history")
		if err != nil {
			return model.HistoryRecord{}, err
		}
		rec := model.HistoryRecord{
			HistoryID:    id,
			ContactID:    c.ContactID,
			TaskTypeCode: model.TaskTypeEmail,
			Subject:      "Lunch? It's on me",
			Body:         "See you at noon.",
			OccurredAt:   occurred,
			WithSpouse:   true,
		}
		return rec, tx.InsertHistory(ctx, rec)
	})
	require.NoError(t, err)

	got, err := s.GetHistory(ctx, rec.HistoryID)
	require.NoError(t, err)
	assert.Equal(t, rec.Subject, got.Subject)
	assert.Equal(t, rec.Body, got.Body)
	assert.True(t, got.OccurredAt.Equal(occurred))
	assert.True(t, got.WithSpouse)

	list, err := s.HistoryForContact(ctx, rec.ContactID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = s.GetHistory(ctx, rec.HistoryID+100)
	assert.ErrorIs(t, err, store.ErrHistoryNotFound)
}

func TestInsertHistoryWithNULBytes(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	rec, err := store.WithTransaction(ctx, s, func(tx *store.Tx) (model.HistoryRecord, error) {
		id, err := tx.AllocateID(ctx, "history")
		if err != nil {
			return model.HistoryRecord{}, err
		}
		rec := model.HistoryRecord{
			HistoryID:    id,
			ContactID:    1,
			TaskTypeCode: model.TaskTypeEmail,
			Subject:      "bin\x00ary",
			Body:         "before\x00after",
			OccurredAt:   time.Now(),
		}
		return rec, tx.InsertHistory(ctx, rec)
	})
	require.NoError(t, err)

	got, err := s.GetHistory(ctx, rec.HistoryID)
	require.NoError(t, err)
	assert.Equal(t, "binary", got.Subject)
	assert.Equal(t, "beforeafter", got.Body)
}

func TestInsertHistoryRequiresAllocatedID(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	_, err := store.WithTransaction(ctx, s, func(tx *store.Tx) (int, error) {
		return 0, tx.InsertHistory(ctx, model.HistoryRecord{ContactID: 1, OccurredAt: time.Now()})
	})
	assert.ErrorIs(t, err, store.ErrIDNotAllocated)
}

func TestWithTransactionRefusesWithoutRollback(t *testing.T) {
	s := testutil.NewTestStoreWith(t, store.Options{JournalMode: "off"})
	assert.False(t, s.RollbackCapable())

	called := false
	_, err := store.WithTransaction(context.Background(), s, func(tx *store.Tx) (int, error) {
		called = true
		return 0, nil
	})
	require.Error(t, err)
	assert.False(t, called)
	assert.True(t, store.IsTransactionError(err))
	assert.ErrorIs(t, err, store.ErrNotRollbackCapable)
}

func TestImportLedger(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	mark := func() error {
		_, err := store.WithTransaction(ctx, s, func(tx *store.Tx) (int, error) {
			return 0, tx.MarkImported(ctx, model.ImportedMessage{
				AccountID:  "acct-1",
				ExternalID: "<m1@example.com>",
				HistoryID:  7,
			})
		})
		return err
	}

	imported, err := s.IsImported(ctx, "acct-1", "<m1@example.com>")
	require.NoError(t, err)
	assert.False(t, imported)

	require.NoError(t, mark())
	assert.ErrorIs(t, mark(), store.ErrAlreadyImported)

	imported, err = s.IsImported(ctx, "acct-1", "<m1@example.com>")
	require.NoError(t, err)
	assert.True(t, imported)

	id, found, err := s.ImportedHistoryID(ctx, "acct-1", "<m1@example.com>")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(7), id)

	n, err := s.ImportedCount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.ImportedCount(ctx, "acct-2")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestContactDisplayNameAndHistory(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	c := insertContact(t, s, model.ContactRecord{FirstName: "Grace", LastName: "Hopper", Email: "grace@example.com"})

	name, err := s.ContactDisplayName(ctx, c.ContactID)
	require.NoError(t, err)
	assert.Equal(t, "Grace Hopper", name)

	_, err = s.ContactDisplayName(ctx, c.ContactID+100)
	assert.ErrorIs(t, err, store.ErrContactNotFound)

	early := time.Date(2023, 1, 2, 3, 4, 5, 0, time.UTC)
	late := early.Add(48 * time.Hour)
	for _, at := range []time.Time{late, early} {
		_, err := store.WithTransaction(ctx, s, func(tx *store.Tx) (struct{}, error) {
			id, err := tx.AllocateID(ctx, "history")
			if err != nil {
				return struct{}{}, err
			}
			return struct{}{}, tx.InsertHistory(ctx, model.HistoryRecord{
				HistoryID: id, ContactID: c.ContactID, TaskTypeCode: model.TaskTypeEmail,
				Subject: at.Format(time.DateOnly), OccurredAt: at,
			})
		})
		require.NoError(t, err)
	}

	recs, err := s.HistoryForContact(ctx, c.ContactID)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "2023-01-02", recs[0].Subject)
	assert.Equal(t, "2023-01-04", recs[1].Subject)
}
