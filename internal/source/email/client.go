package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"

	"github.com/nhle/mailhistory/internal/model"
	"github.com/nhle/mailhistory/internal/source"
)

// IMAPClient wraps go-imap v2 for connecting to an account's server.
type IMAPClient struct {
	accountID string
	host      string
	port      string
	username  string
	secret    string
	auth      string
	tls       bool
}

// NewIMAPClient creates a client for acct. secret is the password, or the
// bearer token when the account uses OAUTHBEARER.
func NewIMAPClient(acct model.AccountConfig, secret string) *IMAPClient {
	return &IMAPClient{
		accountID: acct.ID,
		host:      acct.Host,
		port:      acct.Port,
		username:  acct.Username,
		secret:    secret,
		auth:      acct.Auth,
		tls:       acct.TLS,
	}
}

// Connect establishes a connection to the IMAP server, authenticates,
// and returns the connected client. Cancelling ctx abandons a pending
// dial, handshake or login. The caller is responsible for calling
// Logout/Close on the returned client.
func (c *IMAPClient) Connect(ctx context.Context) (*imapclient.Client, error) {
	addr := net.JoinHostPort(c.host, c.port)

	client, err := c.dial(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	err = c.authenticate(client)
	if !stop() {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, context.Cause(ctx))
	}
	if err != nil {
		_ = client.Logout().Wait()
		_ = client.Close()
		return nil, &source.AuthError{
			AccountID: c.accountID,
			Message: fmt.Sprintf(
				"authentication failed for %s: %v",
				c.username, err,
			),
		}
	}

	return client, nil
}

// dial opens the transport with ctx and completes implicit TLS or
// STARTTLS before handing the connection to imapclient.
func (c *IMAPClient) dial(ctx context.Context, addr string) (*imapclient.Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	if c.tls {
		tlsConn := tls.Client(conn, &tls.Config{ServerName: c.host, NextProtos: []string{"imap"}})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			_ = conn.Close()
			return nil, err
		}
		return imapclient.New(tlsConn, nil), nil
	}

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	client, err := imapclient.NewStartTLS(conn, &imapclient.Options{
		TLSConfig: &tls.Config{ServerName: c.host},
	})
	if !stop() {
		if client != nil {
			_ = client.Close()
		}
		return nil, context.Cause(ctx)
	}
	return client, err
}

func (c *IMAPClient) authenticate(client *imapclient.Client) error {
	if c.auth != model.AuthOAuthBearer {
		return client.Login(c.username, c.secret).Wait()
	}

	port, _ := strconv.Atoi(c.port)
	return client.Authenticate(sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
		Username: c.username,
		Token:    c.secret,
		Host:     c.host,
		Port:     port,
	}))
}

// SelectMessages selects mailbox read-only and returns the UIDs of the
// messages received on or after since. A zero since selects everything.
func SelectMessages(
	client *imapclient.Client, mailbox string, since time.Time,
) ([]imap.UID, error) {
	if _, err := client.Select(mailbox, &imap.SelectOptions{ReadOnly: true}).Wait(); err != nil {
		return nil, fmt.Errorf("selecting %s: %w", mailbox, err)
	}

	criteria := &imap.SearchCriteria{}
	if !since.IsZero() {
		criteria.Since = since
	}

	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching messages: %w", err)
	}

	return searchData.AllUIDs(), nil
}

// ErrMessageUnavailable reports that a selected message could not be
// fetched, typically because it was expunged after the search. The
// connection stays usable.
var ErrMessageUnavailable = errors.New("message unavailable")

// FetchRaw fetches the full message for uid without setting \Seen. It
// returns the Message-ID from the envelope, or "" when there is none.
// Cancelling ctx closes the client.
func FetchRaw(ctx context.Context, client *imapclient.Client, uid imap.UID) (string, []byte, error) {
	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	defer stop()

	bodySection := &imap.FetchItemBodySection{
		Peek: true,
	}

	fetchOpts := &imap.FetchOptions{
		Envelope:    true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	fetchCmd := client.Fetch(imap.UIDSetNum(uid), fetchOpts)
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		if err := fetchCmd.Close(); err != nil {
			return "", nil, fetchError(uid, err)
		}
		return "", nil, fmt.Errorf("UID %d not found: %w", uid, ErrMessageUnavailable)
	}

	buf, err := msg.Collect()
	if err != nil {
		return "", nil, fmt.Errorf("collecting message data: %w", err)
	}

	if err := fetchCmd.Close(); err != nil {
		return "", nil, fetchError(uid, err)
	}

	var messageID string
	if buf.Envelope != nil {
		messageID = buf.Envelope.MessageID
	}

	raw := buf.FindBodySection(bodySection)
	if raw == nil {
		return messageID, nil, fmt.Errorf("UID %d has no body: %w", uid, ErrMessageUnavailable)
	}

	return messageID, raw, nil
}

// fetchError marks a NO reply as concerning only the requested message.
func fetchError(uid imap.UID, err error) error {
	var imapErr *imap.Error
	if errors.As(err, &imapErr) && imapErr.Type == imap.StatusResponseTypeNo {
		return fmt.Errorf("fetching UID %d: %w: %w", uid, ErrMessageUnavailable, err)
	}
	return fmt.Errorf("fetching UID %d: %w", uid, err)
}
