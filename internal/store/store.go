// Package store is the typed data-access layer over the legacy contact
// database: literal rendering, single-value queries, id allocation and
// scoped transactions.
//
// The legacy engine has no bind parameters, so every statement is built
// from literals rendered by a Dialect. FormatValue exposes the legacy
// literal format itself.
package store

import (
	"context"

	"github.com/nhle/mailhistory/internal/model"
)

// Store is the read side of the contact database used outside of
// transactions.
type Store interface {
	FindContactsByEmail(ctx context.Context, address string) ([]model.ContactRecord, error)
	GetContact(ctx context.Context, id int64) (*model.ContactRecord, error)
	ContactDisplayName(ctx context.Context, id int64) (string, error)
	ContactIDByEmail(ctx context.Context, address string) (int64, bool, error)
	IsImported(ctx context.Context, accountID, externalID string) (bool, error)
	ImportedCount(ctx context.Context, accountID string) (int, error)
	CountHistory(ctx context.Context) (int, error)
	HistoryForContact(ctx context.Context, contactID int64) ([]model.HistoryRecord, error)
	GetHistory(ctx context.Context, id int64) (*model.HistoryRecord, error)
}

var _ Store = (*SQLiteStore)(nil)
