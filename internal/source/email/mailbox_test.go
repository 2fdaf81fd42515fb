package email

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-imap/v2/imapserver"
	"github.com/emersion/go-imap/v2/imapserver/imapmemserver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailhistory/internal/logging"
	"github.com/nhle/mailhistory/internal/model"
	"github.com/nhle/mailhistory/internal/source"
	"github.com/nhle/mailhistory/tests/testutil"
)

const (
	testUser     = "ada"
	testPassword = "secret"
)

func startServer(t *testing.T) string {
	t.Helper()

	mem := imapmemserver.New()
	user := imapmemserver.NewUser(testUser, testPassword)
	require.NoError(t, user.Create("INBOX", nil))
	mem.AddUser(user)

	srv := imapserver.New(&imapserver.Options{
		NewSession: func(*imapserver.Conn) (imapserver.Session, *imapserver.GreetingData, error) {
			return mem.NewSession(), nil, nil
		},
		Caps:         imap.CapSet{imap.CapIMAP4rev1: {}},
		InsecureAuth: true,
		Logger:       log.New(io.Discard, "", 0),
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Close() })

	return ln.Addr().String()
}

func login(t *testing.T, addr string) *imapclient.Client {
	t.Helper()
	client, err := imapclient.DialInsecure(addr, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Login(testUser, testPassword).Wait())
	return client
}

func appendMail(t *testing.T, client *imapclient.Client, subject string) {
	t.Helper()
	data := testutil.Mail(subject+"@example.com", "Ada <ada@example.com>", subject, "body "+subject)
	cmd := client.Append("INBOX", int64(len(data)), nil)
	_, err := cmd.Write(data)
	require.NoError(t, err)
	require.NoError(t, cmd.Close())
	_, err = cmd.Wait()
	require.NoError(t, err)
}

func TestMailboxFetchesSelectedMessages(t *testing.T) {
	addr := startServer(t)
	admin := login(t, addr)
	appendMail(t, admin, "a")
	appendMail(t, admin, "b")

	client := login(t, addr)
	uids, err := SelectMessages(client, "INBOX", time.Time{})
	require.NoError(t, err)
	require.Len(t, uids, 2)

	mb := NewMailbox(client, "acct", uids, logging.Discard())
	assert.Equal(t, 2, mb.TotalCount())

	ctx := context.Background()
	first, err := mb.FetchNext(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(first.Data), "Subject: a")
	assert.NotEmpty(t, first.ExternalID)

	second, err := mb.FetchNext(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(second.Data), "Subject: b")
	assert.Equal(t, 2, mb.CurrentIndex())

	_, err = mb.FetchNext(ctx)
	assert.ErrorIs(t, err, source.ErrEndOfStream)
	assert.True(t, mb.IsConnected())
	_ = mb.Close()
	assert.False(t, mb.IsConnected())
}

func TestMailboxSkipsMessageExpungedAfterSearch(t *testing.T) {
	addr := startServer(t)
	admin := login(t, addr)
	appendMail(t, admin, "a")
	appendMail(t, admin, "b")

	client := login(t, addr)
	uids, err := SelectMessages(client, "INBOX", time.Time{})
	require.NoError(t, err)
	require.Len(t, uids, 2)
	mb := NewMailbox(client, "acct", uids, logging.Discard())

	_, err = admin.Select("INBOX", nil).Wait()
	require.NoError(t, err)
	require.NoError(t, admin.Store(imap.UIDSetNum(uids[0]), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagDeleted},
	}, nil).Close())
	require.NoError(t, admin.Expunge().Close())

	ctx := context.Background()
	_, err = mb.FetchNext(ctx)
	require.ErrorIs(t, err, ErrMessageUnavailable)
	assert.True(t, mb.IsConnected())
	assert.Equal(t, imap.ConnStateSelected, client.State())

	msg, err := mb.FetchNext(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(msg.Data), "Subject: b")
	assert.True(t, mb.IsConnected())
}

func TestMailboxClosedTransportIsLost(t *testing.T) {
	addr := startServer(t)
	admin := login(t, addr)
	appendMail(t, admin, "a")

	client := login(t, addr)
	uids, err := SelectMessages(client, "INBOX", time.Time{})
	require.NoError(t, err)
	mb := NewMailbox(client, "acct", uids, logging.Discard())

	require.NoError(t, client.Close())
	_, err = mb.FetchNext(context.Background())
	require.Error(t, err)
	assert.False(t, mb.IsConnected())
}

func TestConnectAbandonedOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	// Accept and stay silent so the handshake never completes.
	go func() {
		var conns []net.Conn
		defer func() {
			for _, conn := range conns {
				_ = conn.Close()
			}
		}()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conns = append(conns, conn)
		}
	}()

	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)

	for _, useTLS := range []bool{true, false} {
		t.Run(fmt.Sprintf("tls=%v", useTLS), func(t *testing.T) {
			c := NewIMAPClient(model.AccountConfig{
				ID: "acct", Host: host, Port: port, Username: testUser, TLS: useTLS,
			}, testPassword)

			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()

			start := time.Now()
			_, err := c.Connect(ctx)
			require.Error(t, err)
			assert.Less(t, time.Since(start), 5*time.Second)
		})
	}
}

func TestTransportLost(t *testing.T) {
	addr := startServer(t)
	client := login(t, addr)

	assert.False(t, transportLost(client, fmt.Errorf("UID 1 has no body: %w", ErrMessageUnavailable)))
	assert.False(t, transportLost(client, &imap.Error{Type: imap.StatusResponseTypeNo, Text: "no such message"}))
	assert.True(t, transportLost(client, io.ErrUnexpectedEOF))
	assert.True(t, transportLost(client, &net.OpError{Op: "read", Err: net.ErrClosed}))

	require.NoError(t, client.Close())
	assert.True(t, transportLost(client, fmt.Errorf("UID 1 has no body: %w", ErrMessageUnavailable)))
}

func TestFetchErrorMarksNOAsUnavailable(t *testing.T) {
	no := &imap.Error{Type: imap.StatusResponseTypeNo, Text: "message expunged"}
	assert.ErrorIs(t, fetchError(7, no), ErrMessageUnavailable)
	assert.ErrorIs(t, fetchError(7, no), error(no))

	bad := &imap.Error{Type: imap.StatusResponseTypeBad, Text: "syntax"}
	assert.NotErrorIs(t, fetchError(7, bad), ErrMessageUnavailable)
}
