package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/nhle/mailhistory/internal/model"
)

const contactColumns = `contact_id, first_name, last_name, email,
	spouse_first_name, spouse_last_name, spouse_email`

// FindContactsByEmail returns every contact whose own or spouse email
// matches address, case-insensitively, ordered by contact id.
func (s *SQLiteStore) FindContactsByEmail(
	ctx context.Context, address string,
) ([]model.ContactRecord, error) {
	if err := s.checkOpen("find contacts"); err != nil {
		return nil, err
	}
	return findContactsByEmail(ctx, s.db, s.dialect, address)
}

// FindContactsByEmail is the in-transaction variant of
// SQLiteStore.FindContactsByEmail.
func (t *Tx) FindContactsByEmail(
	ctx context.Context, address string,
) ([]model.ContactRecord, error) {
	return findContactsByEmail(ctx, t.tx, t.dialect(), address)
}

func findContactsByEmail(
	ctx context.Context, q sqlx.QueryerContext, d Dialect, address string,
) ([]model.ContactRecord, error) {
	lit := d.MustFormat(KindString, address)
	query := fmt.Sprintf(`
		SELECT %s FROM contacts
		WHERE email = %s COLLATE NOCASE
		   OR spouse_email = %s COLLATE NOCASE
		ORDER BY contact_id`,
		contactColumns, lit, lit,
	)

	var contacts []model.ContactRecord
	if err := sqlx.SelectContext(ctx, q, &contacts, query); err != nil {
		return nil, classify("finding contacts by email", err)
	}
	return contacts, nil
}

// GetContact retrieves a single contact by id.
func (s *SQLiteStore) GetContact(ctx context.Context, id int64) (*model.ContactRecord, error) {
	if err := s.checkOpen("get contact"); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(
		"SELECT %s FROM contacts WHERE contact_id = %s",
		contactColumns, s.dialect.MustFormat(KindInt, id),
	)

	var c model.ContactRecord
	if err := s.db.GetContext(ctx, &c, query); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("contact %d: %w", id, ErrContactNotFound)
		}
		return nil, classify(fmt.Sprintf("getting contact %d", id), err)
	}
	return &c, nil
}

// ContactIDByEmail returns the id of the single contact whose primary
// email is address. It reports found=false when there is none, and
// ErrTooManyRows when the address is shared by several contacts.
func (s *SQLiteStore) ContactIDByEmail(ctx context.Context, address string) (int64, bool, error) {
	query := fmt.Sprintf(
		"SELECT contact_id FROM contacts WHERE email = %s COLLATE NOCASE",
		s.dialect.MustFormat(KindString, address),
	)
	v, found, err := s.QueryOne(ctx, query, KindInt)
	if err != nil || !found || v == nil {
		return 0, false, err
	}
	return v.(int64), true, nil
}

// InsertContact stores c. A zero ContactID is replaced by a freshly
// allocated one. The stored record is returned.
func (t *Tx) InsertContact(ctx context.Context, c model.ContactRecord) (model.ContactRecord, error) {
	if c.ContactID == 0 {
		id, err := t.AllocateID(ctx, "contacts")
		if err != nil {
			return c, err
		}
		c.ContactID = id
	}

	d := t.dialect()
	query := fmt.Sprintf(`
		INSERT INTO contacts (%s) VALUES (%s, %s, %s, %s, %s, %s, %s)`,
		contactColumns,
		d.MustFormat(KindInt, c.ContactID),
		d.MustFormat(KindString, c.FirstName),
		d.MustFormat(KindString, c.LastName),
		d.MustFormat(KindString, c.Email),
		d.MustFormat(KindString, c.SpouseFirstName),
		d.MustFormat(KindString, c.SpouseLastName),
		d.MustFormat(KindString, c.SpouseEmail),
	)
	if _, err := t.tx.ExecContext(ctx, query); err != nil {
		return c, classify(fmt.Sprintf("inserting contact %d", c.ContactID), err)
	}
	return c, nil
}

// ContactDisplayName returns the contact's first and last name joined,
// as shown wherever the contact is listed.
func (s *SQLiteStore) ContactDisplayName(ctx context.Context, id int64) (string, error) {
	c, err := s.GetContact(ctx, id)
	if err != nil {
		return "", err
	}
	return c.DisplayName(), nil
}
