// Package contact links message senders to records in the contact
// database.
package contact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/nhle/mailhistory/internal/model"
)

// ErrLookupAmbiguous is returned when an address matches more contacts
// than the caller can accept.
var ErrLookupAmbiguous = errors.New("address matches more than one contact")

// Lookup is the part of the store the matcher reads from.
type Lookup interface {
	FindContactsByEmail(ctx context.Context, address string) ([]model.ContactRecord, error)
}

// Match is one contact found for an address.
type Match struct {
	Contact   model.ContactRecord
	Candidate model.ContactCandidate

	// Spouse is the contact's secondary identity, nil when it has none.
	Spouse *model.ContactCandidate

	// ViaSpouse reports that the address matched the secondary identity.
	ViaSpouse bool
}

// Matcher finds contact candidates for sender addresses.
type Matcher struct {
	lookup Lookup
	logger *slog.Logger
}

// NewMatcher creates a Matcher reading from lookup.
func NewMatcher(lookup Lookup, logger *slog.Logger) *Matcher {
	return &Matcher{lookup: lookup, logger: logger}
}

// FindCandidates returns the contacts whose own or secondary address is
// address, ordered by contact id.
func (m *Matcher) FindCandidates(ctx context.Context, address string) ([]Match, error) {
	address = strings.TrimSpace(address)
	if address == "" || address == model.Sentinel {
		return nil, nil
	}

	records, err := m.lookup.FindContactsByEmail(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("finding candidates for %s: %w", address, err)
	}

	matches := make([]Match, 0, len(records))
	for _, rec := range records {
		matches = append(matches, newMatch(rec, address))
	}

	m.logger.Debug("contact candidates", "address", address, "count", len(matches))
	return matches, nil
}

// FindUnique returns the single match for address, nil when there is
// none, or ErrLookupAmbiguous.
func (m *Matcher) FindUnique(ctx context.Context, address string) (*Match, error) {
	matches, err := m.FindCandidates(ctx, address)
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, nil
	case 1:
		return &matches[0], nil
	}
	return nil, fmt.Errorf("%s: %w (%d contacts)", address, ErrLookupAmbiguous, len(matches))
}

func newMatch(rec model.ContactRecord, address string) Match {
	id := rec.ContactID
	m := Match{
		Contact: rec,
		Candidate: model.ContactCandidate{
			ContactID:   &id,
			DisplayName: rec.DisplayName(),
			MatchKey:    rec.Email,
		},
		ViaSpouse: rec.SpouseEmail != "" &&
			strings.EqualFold(rec.SpouseEmail, address) &&
			!strings.EqualFold(rec.Email, address),
	}

	if rec.HasSpouse() {
		key := rec.SpouseEmail
		if key == "" {
			key = "spouse-of:" + strconv.FormatInt(rec.ContactID, 10)
		}
		m.Spouse = &model.ContactCandidate{
			DisplayName: rec.SpouseDisplayName(),
			MatchKey:    key,
		}
	}
	return m
}

// Candidates returns the primary candidate of each match.
func Candidates(matches []Match) []model.ContactCandidate {
	out := make([]model.ContactCandidate, len(matches))
	for i, m := range matches {
		out[i] = m.Candidate
	}
	return out
}

// GuessNames splits a full name into first and last name: the last token
// is the last name and the preceding tokens form the first name.
func GuessNames(fullName string) (first, last string) {
	tokens := strings.Fields(fullName)
	switch len(tokens) {
	case 0:
		return "", ""
	case 1:
		return "", tokens[0]
	}
	return strings.Join(tokens[:len(tokens)-1], " "), tokens[len(tokens)-1]
}
