package email

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nhle/mailhistory/internal/model"
	"github.com/nhle/mailhistory/internal/source"
)

// Adapter opens IMAP mailboxes for accounts. It implements
// source.Factory.
type Adapter struct {
	secrets SecretFunc
	logger  *slog.Logger
	now     func() time.Time
}

// NewAdapter creates an adapter that looks up account secrets through
// secrets.
func NewAdapter(secrets SecretFunc, logger *slog.Logger) *Adapter {
	return &Adapter{
		secrets: secrets,
		logger:  logger,
		now:     time.Now,
	}
}

// Open connects to the account's server, authenticates, selects its
// mailbox read-only and determines the message set.
func (a *Adapter) Open(
	ctx context.Context, acct model.AccountConfig,
) (source.MessageSource, error) {
	secret, err := a.secrets(ctx, acct.ID)
	if err != nil {
		return nil, &source.AuthError{
			AccountID: acct.ID,
			Message:   fmt.Sprintf("no stored secret: %v", err),
		}
	}

	client, err := NewIMAPClient(acct, secret).Connect(ctx)
	if err != nil {
		return nil, err
	}

	var since time.Time
	if acct.SinceDays > 0 {
		since = a.now().AddDate(0, 0, -acct.SinceDays)
	}

	uids, err := SelectMessages(client, acct.Mailbox, since)
	if err != nil {
		_ = client.Logout().Wait()
		_ = client.Close()
		return nil, fmt.Errorf("opening mailbox for %s: %w", acct.Label, err)
	}

	a.logger.Info("mailbox selected",
		"account", acct.ID, "mailbox", acct.Mailbox, "messages", len(uids))

	return NewMailbox(client, acct.ID, uids, a.logger), nil
}

var _ source.Factory = (*Adapter)(nil)
