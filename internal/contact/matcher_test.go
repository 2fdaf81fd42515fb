package contact

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailhistory/internal/logging"
	"github.com/nhle/mailhistory/internal/model"
)

type mockLookup struct {
	mock.Mock
}

func (m *mockLookup) FindContactsByEmail(ctx context.Context, address string) ([]model.ContactRecord, error) {
	args := m.Called(ctx, address)
	recs, _ := args.Get(0).([]model.ContactRecord)
	return recs, args.Error(1)
}

var (
	john = model.ContactRecord{
		ContactID: 3, FirstName: "John", LastName: "Smith", Email: "john@example.com",
		SpouseFirstName: "Jane", SpouseLastName: "Smith", SpouseEmail: "jane@example.com",
	}
	ada = model.ContactRecord{ContactID: 7, FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com"}
)

func TestFindCandidates(t *testing.T) {
	lookup := &mockLookup{}
	lookup.On("FindContactsByEmail", mock.Anything, "jane@example.com").
		Return([]model.ContactRecord{john}, nil)

	m := NewMatcher(lookup, logging.Discard())
	matches, err := m.FindCandidates(context.Background(), " jane@example.com ")
	require.NoError(t, err)
	require.Len(t, matches, 1)

	got := matches[0]
	require.NotNil(t, got.Candidate.ContactID)
	assert.Equal(t, int64(3), *got.Candidate.ContactID)
	assert.Equal(t, "John Smith", got.Candidate.DisplayName)
	assert.True(t, got.ViaSpouse)

	require.NotNil(t, got.Spouse)
	assert.Nil(t, got.Spouse.ContactID)
	assert.Equal(t, "Jane Smith", got.Spouse.DisplayName)
	assert.Equal(t, "jane@example.com", got.Spouse.MatchKey)

	lookup.AssertExpectations(t)
}

func TestFindCandidatesSkipsUnusableAddress(t *testing.T) {
	lookup := &mockLookup{}
	m := NewMatcher(lookup, logging.Discard())

	for _, addr := range []string{"", "  ", model.Sentinel} {
		matches, err := m.FindCandidates(context.Background(), addr)
		require.NoError(t, err)
		assert.Empty(t, matches)
	}
	lookup.AssertNotCalled(t, "FindContactsByEmail", mock.Anything, mock.Anything)
}

func TestFindCandidatesWrapsLookupError(t *testing.T) {
	errDown := errors.New("database down")
	lookup := &mockLookup{}
	lookup.On("FindContactsByEmail", mock.Anything, "ada@example.com").Return(nil, errDown)

	_, err := NewMatcher(lookup, logging.Discard()).FindCandidates(context.Background(), "ada@example.com")
	assert.ErrorIs(t, err, errDown)
}

func TestFindUnique(t *testing.T) {
	lookup := &mockLookup{}
	lookup.On("FindContactsByEmail", mock.Anything, "ada@example.com").Return([]model.ContactRecord{ada}, nil)
	lookup.On("FindContactsByEmail", mock.Anything, "shared@example.com").Return([]model.ContactRecord{ada, john}, nil)
	lookup.On("FindContactsByEmail", mock.Anything, "nobody@example.com").Return([]model.ContactRecord{}, nil)

	m := NewMatcher(lookup, logging.Discard())
	ctx := context.Background()

	one, err := m.FindUnique(ctx, "ada@example.com")
	require.NoError(t, err)
	require.NotNil(t, one)
	assert.Equal(t, "Ada", one.Contact.FirstName)

	none, err := m.FindUnique(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = m.FindUnique(ctx, "shared@example.com")
	assert.ErrorIs(t, err, ErrLookupAmbiguous)
}

func TestSpouseKeyWithoutEmail(t *testing.T) {
	rec := model.ContactRecord{ContactID: 9, FirstName: "Sam", Email: "sam@example.com", SpouseFirstName: "Alex"}
	m := newMatch(rec, "sam@example.com")

	require.NotNil(t, m.Spouse)
	assert.Equal(t, "spouse-of:9", m.Spouse.MatchKey)
	assert.False(t, m.ViaSpouse)
}

func TestGuessNames(t *testing.T) {
	tests := []struct {
		in          string
		first, last string
	}{
		{"", "", ""},
		{"   ", "", ""},
		{"Cher", "", "Cher"},
		{"Ada Lovelace", "Ada", "Lovelace"},
		{"Mary Ann Evans", "Mary Ann", "Evans"},
		{"  Ludwig   van Beethoven ", "Ludwig van", "Beethoven"},
	}

	for _, tt := range tests {
		first, last := GuessNames(tt.in)
		assert.Equal(t, tt.first, first, "first name of %q", tt.in)
		assert.Equal(t, tt.last, last, "last name of %q", tt.in)
	}
}
