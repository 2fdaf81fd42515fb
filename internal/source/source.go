package source

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"lukechampine.com/blake3"

	"github.com/nhle/mailhistory/internal/model"
)

var (
	// ErrEndOfStream is returned by FetchNext once every message has
	// been delivered.
	ErrEndOfStream = errors.New("end of message stream")

	// ErrConnectionLost marks a session that ended because its source
	// disconnected.
	ErrConnectionLost = errors.New("connection lost")
)

// AuthError indicates that authentication has failed or expired for an
// account. It is returned by source clients when the server rejects the
// credentials.
type AuthError struct {
	AccountID string
	Message   string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %s", e.AccountID, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// RawMessage is one undecoded message as delivered by a source.
type RawMessage struct {
	// ExternalID identifies the message within its account. It is the
	// Message-ID header when present, otherwise a content key.
	ExternalID string

	// Data is the full RFC 5322 message.
	Data []byte
}

// MessageSource streams the messages of one account.
type MessageSource interface {
	// FetchNext returns the next message, or ErrEndOfStream when the
	// stream is exhausted. Any other error is a per-message failure
	// unless IsConnected reports false afterwards.
	FetchNext(ctx context.Context) (RawMessage, error)

	// CurrentIndex is the number of messages fetched so far.
	CurrentIndex() int

	// TotalCount is the number of messages the stream will deliver.
	TotalCount() int

	// IsConnected reports whether the underlying connection is usable.
	IsConnected() bool

	Close() error
}

// Factory opens a MessageSource for an account. It blocks until the
// connection is established and the message set is known.
type Factory interface {
	Open(ctx context.Context, acct model.AccountConfig) (MessageSource, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(ctx context.Context, acct model.AccountConfig) (MessageSource, error)

// Open calls f.
func (f FactoryFunc) Open(ctx context.Context, acct model.AccountConfig) (MessageSource, error) {
	return f(ctx, acct)
}

// ContentKey derives a stable external id from message bytes, for
// messages that carry no Message-ID.
func ContentKey(data []byte) string {
	sum := blake3.Sum256(data)
	return "blake3:" + hex.EncodeToString(sum[:16])
}
