package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/nhle/mailhistory/internal/model"
	"github.com/nhle/mailhistory/internal/source"
)

// Mail builds a minimal plain-text RFC 5322 message.
func Mail(messageID, from, subject, body string) []byte {
	var b strings.Builder
	if messageID != "" {
		fmt.Fprintf(&b, "Message-ID: <%s>\r\n", messageID)
	}
	fmt.Fprintf(&b, "From: %s\r\n", from)
	b.WriteString("To: me@example.com\r\n")
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("Date: Sat, 09 Mar 2024 14:05:07 +0000\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")
	return []byte(b.String())
}

// Raw wraps Mail in a RawMessage keyed by messageID.
func Raw(messageID, from, subject, body string) source.RawMessage {
	return source.RawMessage{ExternalID: messageID, Data: Mail(messageID, from, subject, body)}
}

// FakeSource is an in-memory MessageSource.
type FakeSource struct {
	mu       sync.Mutex
	messages []source.RawMessage
	errs     map[int]error
	dropAt   int
	next     int
	closed   bool

	// Gate, when set, is received from before each message is returned.
	Gate chan struct{}
}

// NewFakeSource returns a source that delivers messages in order.
func NewFakeSource(messages ...source.RawMessage) *FakeSource {
	return &FakeSource{messages: messages, errs: make(map[int]error), dropAt: -1}
}

// FailAt makes the fetch of message i return err.
func (f *FakeSource) FailAt(i int, err error) *FakeSource {
	f.errs[i] = err
	return f
}

// DisconnectAt makes the fetch of message i lose the connection.
func (f *FakeSource) DisconnectAt(i int) *FakeSource {
	f.dropAt = i
	return f
}

// FetchNext implements source.MessageSource.
func (f *FakeSource) FetchNext(ctx context.Context) (source.RawMessage, error) {
	if f.Gate != nil {
		select {
		case <-f.Gate:
		case <-ctx.Done():
			return source.RawMessage{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.next >= len(f.messages) {
		return source.RawMessage{}, source.ErrEndOfStream
	}
	i := f.next
	f.next++

	if i == f.dropAt {
		f.closed = true
		return source.RawMessage{}, fmt.Errorf("fetch %d: connection reset", i)
	}
	if err, ok := f.errs[i]; ok {
		return source.RawMessage{}, err
	}
	return f.messages[i], nil
}

// CurrentIndex implements source.MessageSource.
func (f *FakeSource) CurrentIndex() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.next
}

// TotalCount implements source.MessageSource.
func (f *FakeSource) TotalCount() int {
	return len(f.messages)
}

// IsConnected implements source.MessageSource.
func (f *FakeSource) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.closed
}

// Close implements source.MessageSource.
func (f *FakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// FakeFactory opens FakeSources by account id.
type FakeFactory struct {
	mu      sync.Mutex
	sources map[string]*FakeSource
	errs    map[string]error
	opened  []string
}

// NewFakeFactory returns an empty factory.
func NewFakeFactory() *FakeFactory {
	return &FakeFactory{
		sources: make(map[string]*FakeSource),
		errs:    make(map[string]error),
	}
}

// Add registers src for accountID.
func (f *FakeFactory) Add(accountID string, src *FakeSource) *FakeFactory {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sources[accountID] = src
	return f
}

// Refuse makes opening accountID fail with err.
func (f *FakeFactory) Refuse(accountID string, err error) *FakeFactory {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[accountID] = err
	return f
}

// Opened returns the account ids opened so far.
func (f *FakeFactory) Opened() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.opened...)
}

// Open implements source.Factory.
func (f *FakeFactory) Open(_ context.Context, acct model.AccountConfig) (source.MessageSource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.opened = append(f.opened, acct.ID)
	if err, ok := f.errs[acct.ID]; ok {
		return nil, err
	}
	src, ok := f.sources[acct.ID]
	if !ok {
		return nil, fmt.Errorf("no source for account %s", acct.ID)
	}
	return src, nil
}

var _ source.Factory = (*FakeFactory)(nil)
