package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestContactCandidateEqual(t *testing.T) {
	id := func(n int64) *int64 { return &n }
	unsaved := &ContactCandidate{DisplayName: "Ada", MatchKey: "ada@example.com"}
	noKey := &ContactCandidate{DisplayName: "Ada"}

	tests := []struct {
		name string
		a, b *ContactCandidate
		want bool
	}{
		{"same id", &ContactCandidate{ContactID: id(7)}, &ContactCandidate{ContactID: id(7), DisplayName: "other"}, true},
		{"different id", &ContactCandidate{ContactID: id(7)}, &ContactCandidate{ContactID: id(8)}, false},
		{"unsaved by key", unsaved, &ContactCandidate{MatchKey: "ada@example.com"}, true},
		{"saved vs unsaved", &ContactCandidate{ContactID: id(7), MatchKey: "ada@example.com"}, unsaved, false},
		{"no key equals itself", noKey, noKey, true},
		{"no key", noKey, &ContactCandidate{DisplayName: "Ada"}, false},
		{"both nil", nil, nil, true},
		{"one nil", unsaved, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Equal(tt.b))
			assert.Equal(t, tt.want, tt.b.Equal(tt.a))
		})
	}
}

func TestContactRecordNames(t *testing.T) {
	c := ContactRecord{FirstName: "John", LastName: "Doe", SpouseFirstName: "Jane"}
	assert.Equal(t, "John Doe", c.DisplayName())
	assert.Equal(t, "Jane", c.SpouseDisplayName())
	assert.True(t, c.HasSpouse())
	assert.False(t, ContactRecord{FirstName: "Solo"}.HasSpouse())
}

func TestCanonicalMessageOccurredAt(t *testing.T) {
	fallback := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	sent := time.Date(2020, 1, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, fallback, CanonicalMessage{}.OccurredAt(fallback))
	assert.Equal(t, sent, CanonicalMessage{SentAt: sent}.OccurredAt(fallback))

	m := CanonicalMessage{Degraded: []string{"subject"}}
	assert.True(t, m.IsDegraded("subject"))
	assert.False(t, m.IsDegraded("body"))
}
