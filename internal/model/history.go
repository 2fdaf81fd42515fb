package model

import "time"

// TaskTypeEmail is the legacy history type code for an imported email.
const TaskTypeEmail = 101

// HistoryRecord is a persisted history row linking one imported message to
// a contact.
type HistoryRecord struct {
	// HistoryID must be allocated through the store before insertion.
	HistoryID    int64     `db:"history_id"`
	ContactID    int64     `db:"contact_id"`
	TaskTypeCode int       `db:"task_type_code"`
	Subject      string    `db:"subject"`
	Body         string    `db:"body"`
	OccurredAt   time.Time `db:"occurred_at"`
	LastEditedAt time.Time `db:"last_edited_at"`

	// WithSpouse marks a history item recorded against the contact's
	// secondary identity.
	WithSpouse bool `db:"with_spouse"`
}

// ImportedMessage is a ledger entry recording that an external message
// has been turned into a history row.
type ImportedMessage struct {
	AccountID  string    `db:"account_id"`
	ExternalID string    `db:"external_id"`
	HistoryID  int64     `db:"history_id"`
	ImportedAt time.Time `db:"imported_at"`
}
