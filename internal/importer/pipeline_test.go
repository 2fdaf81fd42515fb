package importer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailhistory/internal/contact"
	"github.com/nhle/mailhistory/internal/filter"
	"github.com/nhle/mailhistory/internal/logging"
	"github.com/nhle/mailhistory/internal/model"
	"github.com/nhle/mailhistory/internal/retry"
	"github.com/nhle/mailhistory/internal/store"
	"github.com/nhle/mailhistory/tests/testutil"
)

var work = model.AccountConfig{ID: "work", Label: "Work", Enabled: true}

func newTestPipeline(t *testing.T, s *store.SQLiteStore, createContacts bool, ignore ...string) *Pipeline {
	t.Helper()
	list, errs := filter.Compile(ignore)
	require.Empty(t, errs)

	return NewPipeline(s, contact.AutoResolver{CreateContacts: createContacts}, PipelineConfig{
		Ignore: list,
		Backoff: retry.BackoffConfig{
			InitialInterval: time.Millisecond,
			MaxInterval:     time.Millisecond,
			Multiplier:      1,
			MaxRetries:      2,
		},
	}, logging.Discard())
}

func seedContact(t *testing.T, s *store.SQLiteStore, c model.ContactRecord) {
	t.Helper()
	_, err := store.WithTransaction(context.Background(), s, func(tx *store.Tx) (model.ContactRecord, error) {
		return tx.InsertContact(context.Background(), c)
	})
	require.NoError(t, err)
}

func TestPipelineCreatesContactAndHistory(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)
	p := newTestPipeline(t, s, true)

	raw := testutil.Raw("m1@example.com", "Ada Lovelace <ada@example.com>", "Engines", "Notes attached.")
	outcome, err := p.Process(ctx, work, raw)
	require.NoError(t, err)
	assert.Equal(t, OutcomeImported, outcome)

	contacts, err := s.FindContactsByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Equal(t, "Ada", contacts[0].FirstName)
	assert.Equal(t, "Lovelace", contacts[0].LastName)

	history, err := s.HistoryForContact(ctx, contacts[0].ContactID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "Engines", history[0].Subject)
	assert.Equal(t, "Notes attached.", history[0].Body)
	assert.Equal(t, model.TaskTypeEmail, history[0].TaskTypeCode)
	assert.True(t, history[0].OccurredAt.Equal(time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)))
	assert.False(t, history[0].WithSpouse)

	id, found, err := s.ImportedHistoryID(ctx, work.ID, raw.ExternalID)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, history[0].HistoryID, id)
}

func TestPipelineReimportIsDuplicate(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)
	p := newTestPipeline(t, s, true)

	raw := testutil.Raw("m1@example.com", "ada@example.com", "Hello", "Hi")
	_, err := p.Process(ctx, work, raw)
	require.NoError(t, err)

	outcome, err := p.Process(ctx, work, raw)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)

	n, err := s.CountHistory(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// The same message id under another account is a different message.
	outcome, err = p.Process(ctx, model.AccountConfig{ID: "home"}, raw)
	require.NoError(t, err)
	assert.Equal(t, OutcomeImported, outcome)
}

func TestPipelineReusesCreatedContact(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)
	p := newTestPipeline(t, s, true)

	for _, id := range []string{"a@x", "b@x", "c@x"} {
		outcome, err := p.Process(ctx, work, testutil.Raw(id, "Grace Hopper <grace@example.com>", id, "body"))
		require.NoError(t, err)
		assert.Equal(t, OutcomeImported, outcome)
	}

	contacts, err := s.FindContactsByEmail(ctx, "grace@example.com")
	require.NoError(t, err)
	require.Len(t, contacts, 1)

	history, err := s.HistoryForContact(ctx, contacts[0].ContactID)
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestPipelineRecordsSpouse(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)
	seedContact(t, s, model.ContactRecord{
		ContactID: 3, FirstName: "John", LastName: "Smith", Email: "john@example.com",
		SpouseFirstName: "Jane", SpouseLastName: "Smith", SpouseEmail: "jane@example.com",
	})
	p := newTestPipeline(t, s, false)

	outcome, err := p.Process(ctx, work, testutil.Raw("s1@x", "Jane Smith <JANE@example.com>", "Dinner", "Friday?"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeImported, outcome)

	history, err := s.HistoryForContact(ctx, 3)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].WithSpouse)
}

func TestPipelineIgnoresSender(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)
	p := newTestPipeline(t, s, true, "mailer-daemon@*", "noreply@example.com")

	for _, from := range []string{"x@mailer-daemon.com", "NoReply@Example.com"} {
		outcome, err := p.Process(ctx, work, testutil.Raw(from, from, "Bounce", "undeliverable"))
		require.NoError(t, err)
		assert.Equal(t, OutcomeIgnored, outcome, from)
	}

	n, err := s.CountHistory(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPipelineSkipsUnknownSenderWithoutCreate(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)
	p := newTestPipeline(t, s, false)

	outcome, err := p.Process(ctx, work, testutil.Raw("u1@x", "stranger@example.com", "Hi", "?"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)

	imported, err := s.IsImported(ctx, work.ID, "u1@x")
	require.NoError(t, err)
	assert.False(t, imported)
}

func TestPipelineAmbiguousSenderFails(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)
	seedContact(t, s, model.ContactRecord{ContactID: 1, FirstName: "Pat", Email: "shared@example.com"})
	seedContact(t, s, model.ContactRecord{ContactID: 2, FirstName: "Sam", Email: "shared@example.com"})
	p := newTestPipeline(t, s, true)

	_, err := p.Process(ctx, work, testutil.Raw("amb@x", "shared@example.com", "Hi", "?"))
	require.ErrorIs(t, err, contact.ErrLookupAmbiguous)
	assert.False(t, sessionFatal(err))

	n, err := s.CountHistory(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPipelineWithoutRollbackIsFatal(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStoreWith(t, store.Options{JournalMode: "off"})
	p := newTestPipeline(t, s, true)

	_, err := p.Process(ctx, work, testutil.Raw("r1@x", "ada@example.com", "Hi", "?"))
	require.ErrorIs(t, err, store.ErrNotRollbackCapable)
	assert.True(t, sessionFatal(err))
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "imported", OutcomeImported.String())
	assert.Equal(t, "duplicate", OutcomeDuplicate.String())
	assert.Equal(t, "ignored", OutcomeIgnored.String())
	assert.Equal(t, "skipped", OutcomeSkipped.String())
	assert.Equal(t, "unknown", Outcome(42).String())
}
