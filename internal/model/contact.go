package model

import "strings"

// ContactRecord is a row of the external contacts table.
type ContactRecord struct {
	ContactID       int64  `db:"contact_id"`
	FirstName       string `db:"first_name"`
	LastName        string `db:"last_name"`
	Email           string `db:"email"`
	SpouseFirstName string `db:"spouse_first_name"`
	SpouseLastName  string `db:"spouse_last_name"`
	SpouseEmail     string `db:"spouse_email"`
}

// DisplayName joins the first and last name.
func (c ContactRecord) DisplayName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// HasSpouse reports whether the contact carries a secondary identity.
func (c ContactRecord) HasSpouse() bool {
	return strings.TrimSpace(c.SpouseFirstName+c.SpouseLastName) != ""
}

// SpouseDisplayName joins the spouse's first and last name.
func (c ContactRecord) SpouseDisplayName() string {
	return strings.TrimSpace(c.SpouseFirstName + " " + c.SpouseLastName)
}

// ContactCandidate is a possible contact match for a message sender.
type ContactCandidate struct {
	// ContactID is nil until the contact has been persisted.
	ContactID *int64 `json:"contact_id,omitempty"`

	DisplayName string `json:"display_name"`

	// MatchKey is the identity string the candidate was matched on,
	// usually an email address.
	MatchKey string `json:"match_key"`
}

// Equal reports whether two candidates denote the same contact. Persisted
// candidates compare by ID; unpersisted ones by MatchKey. An unpersisted
// candidate without a MatchKey is only equal to itself.
func (c *ContactCandidate) Equal(other *ContactCandidate) bool {
	if c == nil || other == nil {
		return c == other
	}
	if c == other {
		return true
	}
	switch {
	case c.ContactID != nil && other.ContactID != nil:
		return *c.ContactID == *other.ContactID
	case c.ContactID == nil && other.ContactID == nil:
		return c.MatchKey != "" && c.MatchKey == other.MatchKey
	default:
		return false
	}
}

// Persisted reports whether the candidate refers to a stored contact.
func (c *ContactCandidate) Persisted() bool {
	return c != nil && c.ContactID != nil
}
