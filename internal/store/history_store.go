package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nhle/mailhistory/internal/model"
)

const historyColumns = `history_id, contact_id, task_type_code, subject, body,
	occurred_at, last_edited_at, with_spouse`

// InsertHistory stores rec. rec.HistoryID must have been obtained from
// AllocateID beforehand.
func (t *Tx) InsertHistory(ctx context.Context, rec model.HistoryRecord) error {
	if rec.HistoryID <= 0 {
		return ErrIDNotAllocated
	}
	if rec.LastEditedAt.IsZero() {
		rec.LastEditedAt = time.Now()
	}

	d := t.dialect()
	query := fmt.Sprintf(`
		INSERT INTO history (%s) VALUES (%s, %s, %s, %s, %s, %s, %s, %s)`,
		historyColumns,
		d.MustFormat(KindInt, rec.HistoryID),
		d.MustFormat(KindInt, rec.ContactID),
		d.MustFormat(KindInt, rec.TaskTypeCode),
		d.MustFormat(KindString, rec.Subject),
		d.MustFormat(KindString, rec.Body),
		d.MustFormat(KindDateTime, rec.OccurredAt),
		d.MustFormat(KindDateTime, rec.LastEditedAt),
		d.MustFormat(KindBool, rec.WithSpouse),
	)
	if _, err := t.tx.ExecContext(ctx, query); err != nil {
		return classify(fmt.Sprintf("inserting history %d", rec.HistoryID), err)
	}
	return nil
}

// GetHistory retrieves a single history record by id.
func (s *SQLiteStore) GetHistory(ctx context.Context, id int64) (*model.HistoryRecord, error) {
	if err := s.checkOpen("get history"); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(
		"SELECT %s FROM history WHERE history_id = %s",
		historyColumns, s.dialect.MustFormat(KindInt, id),
	)

	var rec model.HistoryRecord
	if err := s.db.GetContext(ctx, &rec, query); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("history %d: %w", id, ErrHistoryNotFound)
		}
		return nil, classify(fmt.Sprintf("getting history %d", id), err)
	}
	return &rec, nil
}

// HistoryForContact returns the contact's history, oldest first.
func (s *SQLiteStore) HistoryForContact(ctx context.Context, contactID int64) ([]model.HistoryRecord, error) {
	if err := s.checkOpen("list history"); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(
		"SELECT %s FROM history WHERE contact_id = %s ORDER BY occurred_at, history_id",
		historyColumns, s.dialect.MustFormat(KindInt, contactID),
	)

	var recs []model.HistoryRecord
	if err := s.db.SelectContext(ctx, &recs, query); err != nil {
		return nil, classify("listing history", err)
	}
	return recs, nil
}

// CountHistory returns the number of history rows.
func (s *SQLiteStore) CountHistory(ctx context.Context) (int, error) {
	if err := s.checkOpen("count history"); err != nil {
		return 0, err
	}
	n, _, err := queryInt(ctx, s.db, "SELECT COUNT(*) FROM history")
	return int(n), err
}

// ImportedHistoryID returns the history id recorded for an external
// message, if it has been imported.
func (s *SQLiteStore) ImportedHistoryID(
	ctx context.Context, accountID, externalID string,
) (int64, bool, error) {
	if err := s.checkOpen("lookup import"); err != nil {
		return 0, false, err
	}
	return importedHistoryID(ctx, s.db, s.dialect, accountID, externalID)
}

// IsImported reports whether the external message already has a history
// row.
func (s *SQLiteStore) IsImported(ctx context.Context, accountID, externalID string) (bool, error) {
	_, found, err := s.ImportedHistoryID(ctx, accountID, externalID)
	return found, err
}

// IsImported is the in-transaction variant of SQLiteStore.IsImported.
func (t *Tx) IsImported(ctx context.Context, accountID, externalID string) (bool, error) {
	_, found, err := importedHistoryID(ctx, t.tx, t.dialect(), accountID, externalID)
	return found, err
}

func importedHistoryID(
	ctx context.Context, q sqlx.QueryerContext, d Dialect, accountID, externalID string,
) (int64, bool, error) {
	query := fmt.Sprintf(
		"SELECT history_id FROM imported_messages WHERE account_id = %s AND external_id = %s",
		d.MustFormat(KindString, accountID),
		d.MustFormat(KindString, externalID),
	)
	return queryInt(ctx, q, query)
}

// MarkImported records that an external message produced a history row.
// It fails with ErrAlreadyImported if the message is already recorded.
func (t *Tx) MarkImported(ctx context.Context, m model.ImportedMessage) error {
	if m.ImportedAt.IsZero() {
		m.ImportedAt = time.Now()
	}

	d := t.dialect()
	query := fmt.Sprintf(`
		INSERT INTO imported_messages (account_id, external_id, history_id, imported_at)
		VALUES (%s, %s, %s, %s)`,
		d.MustFormat(KindString, m.AccountID),
		d.MustFormat(KindString, m.ExternalID),
		d.MustFormat(KindInt, m.HistoryID),
		d.MustFormat(KindDateTime, m.ImportedAt),
	)
	if _, err := t.tx.ExecContext(ctx, query); err != nil {
		if isPrimaryKeyViolation(err) {
			return fmt.Errorf("%s/%s: %w", m.AccountID, m.ExternalID, ErrAlreadyImported)
		}
		return classify("marking message imported", err)
	}
	return nil
}

// ImportedCount returns how many messages have been imported for an
// account.
func (s *SQLiteStore) ImportedCount(ctx context.Context, accountID string) (int, error) {
	if err := s.checkOpen("count imports"); err != nil {
		return 0, err
	}
	query := fmt.Sprintf(
		"SELECT COUNT(*) FROM imported_messages WHERE account_id = %s",
		s.dialect.MustFormat(KindString, accountID),
	)
	n, _, err := queryInt(ctx, s.db, query)
	return int(n), err
}
