package email

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync/atomic"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/nhle/mailhistory/internal/source"
)

// Mailbox streams the selected messages of one IMAP mailbox. It
// implements source.MessageSource.
type Mailbox struct {
	client    *imapclient.Client
	accountID string
	uids      []imap.UID
	logger    *slog.Logger

	next      atomic.Int64
	connected atomic.Bool
}

// NewMailbox wraps an authenticated client whose mailbox is already
// selected.
func NewMailbox(
	client *imapclient.Client, accountID string, uids []imap.UID, logger *slog.Logger,
) *Mailbox {
	m := &Mailbox{
		client:    client,
		accountID: accountID,
		uids:      uids,
		logger:    logger,
	}
	m.connected.Store(true)
	return m
}

// FetchNext fetches the next message by UID. The cursor advances even
// when the fetch fails so that one bad message cannot stall the stream.
func (m *Mailbox) FetchNext(ctx context.Context) (source.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return source.RawMessage{}, err
	}
	if !m.connected.Load() {
		return source.RawMessage{}, fmt.Errorf("account %s: connection closed", m.accountID)
	}

	i := m.next.Load()
	if i >= int64(len(m.uids)) {
		return source.RawMessage{}, source.ErrEndOfStream
	}
	m.next.Add(1)
	uid := m.uids[i]

	messageID, raw, err := FetchRaw(ctx, m.client, uid)
	if err != nil {
		m.noteFailure(err)
		return source.RawMessage{}, err
	}

	externalID := messageID
	if externalID == "" {
		externalID = source.ContentKey(raw)
	}
	return source.RawMessage{ExternalID: externalID, Data: raw}, nil
}

// noteFailure marks the connection lost when the transport is gone.
// Errors about a single message leave it usable.
func (m *Mailbox) noteFailure(err error) {
	if !transportLost(m.client, err) {
		return
	}
	if m.connected.CompareAndSwap(true, false) {
		m.logger.Warn("IMAP connection lost", "account", m.accountID, "error", err)
	}
}

func transportLost(client *imapclient.Client, err error) bool {
	if client.State() == imap.ConnStateLogout {
		return true
	}
	select {
	case <-client.Closed():
		return true
	default:
	}
	if errors.Is(err, ErrMessageUnavailable) {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed)
}

// CurrentIndex returns how many messages have been fetched.
func (m *Mailbox) CurrentIndex() int {
	return int(min(m.next.Load(), int64(len(m.uids))))
}

// TotalCount returns the number of selected messages.
func (m *Mailbox) TotalCount() int {
	return len(m.uids)
}

// IsConnected reports whether the connection is still usable.
func (m *Mailbox) IsConnected() bool {
	return m.connected.Load()
}

// Close logs out and closes the connection.
func (m *Mailbox) Close() error {
	if !m.connected.Swap(false) {
		return m.client.Close()
	}
	_ = m.client.Logout().Wait()
	return m.client.Close()
}
