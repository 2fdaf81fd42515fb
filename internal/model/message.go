package model

import "time"

// Sentinel is substituted for any message field whose extraction failed.
const Sentinel = "<error>"

// CanonicalMessage is the normalized, in-memory representation of one
// ingested message. It is built once from a single raw message and must
// not be modified afterwards.
type CanonicalMessage struct {
	// SourceAccountID is the stable ID of the account the message came from.
	SourceAccountID string `json:"source_account_id"`

	// SourceAccountLabel is the account's user-defined label.
	SourceAccountLabel string `json:"source_account_label"`

	// ExternalID identifies the message within its account and is the
	// deduplication key for the import ledger.
	ExternalID string `json:"external_id"`

	Subject       string    `json:"subject"`
	SenderName    string    `json:"sender_name"`
	SenderAddress string    `json:"sender_address"`
	Body          string    `json:"body"`
	SentAt        time.Time `json:"sent_at"`

	// Recipients holds the To/Cc addresses in header order.
	Recipients []string `json:"recipients"`

	// Degraded lists the fields that fell back to a sentinel value.
	Degraded []string `json:"degraded,omitempty"`
}

// IsDegraded reports whether the named field fell back to a sentinel.
func (m CanonicalMessage) IsDegraded(field string) bool {
	for _, f := range m.Degraded {
		if f == field {
			return true
		}
	}
	return false
}

// OccurredAt returns the time to record for the message: the sent date when
// it could be extracted, otherwise fallback.
func (m CanonicalMessage) OccurredAt(fallback time.Time) time.Time {
	if m.SentAt.IsZero() {
		return fallback
	}
	return m.SentAt
}
