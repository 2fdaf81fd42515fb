// Package normalize turns raw messages into canonical messages.
//
// Every field is extracted in its own fault domain: a failure, or a
// panic, while reading one field substitutes model.Sentinel for that
// field and leaves the others intact. Normalize itself never fails.
package normalize

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/k3a/html2text"

	"github.com/nhle/mailhistory/internal/model"
	"github.com/nhle/mailhistory/internal/source"
)

// Field names recorded in CanonicalMessage.Degraded.
const (
	FieldSubject    = "subject"
	FieldSender     = "sender"
	FieldDate       = "date"
	FieldRecipients = "recipients"
	FieldBody       = "body"
)

// FieldExtractionError describes a field that fell back to the sentinel.
// It is logged, never returned.
type FieldExtractionError struct {
	Field string
	Err   error
}

func (e *FieldExtractionError) Error() string {
	return fmt.Sprintf("extracting %s: %v", e.Field, e.Err)
}

func (e *FieldExtractionError) Unwrap() error { return e.Err }

// Normalizer converts raw messages into model.CanonicalMessage values.
type Normalizer struct {
	logger *slog.Logger
}

// New creates a Normalizer that reports degraded fields to logger.
func New(logger *slog.Logger) *Normalizer {
	return &Normalizer{logger: logger}
}

// Normalize builds the canonical form of raw for acct.
func (n *Normalizer) Normalize(raw source.RawMessage, acct model.AccountConfig) model.CanonicalMessage {
	msg := model.CanonicalMessage{
		SourceAccountID:    acct.ID,
		SourceAccountLabel: acct.Label,
		ExternalID:         raw.ExternalID,
	}

	entity, parseErr := message.Read(bytes.NewReader(raw.Data))
	if parseErr != nil && !message.IsUnknownCharset(parseErr) && !message.IsUnknownEncoding(parseErr) {
		entity = nil
	}
	header := func() (mail.Header, error) {
		if entity == nil {
			return mail.Header{}, fmt.Errorf("parsing message header: %w", parseErr)
		}
		return mail.Header{Header: entity.Header}, nil
	}

	msg.Subject = extract(n, &msg, FieldSubject, model.Sentinel, func() (string, error) {
		h, err := header()
		if err != nil {
			return "", err
		}
		return h.Subject()
	})

	type sender struct{ name, addr string }
	from := extract(n, &msg, FieldSender, sender{model.Sentinel, model.Sentinel}, func() (sender, error) {
		h, err := header()
		if err != nil {
			return sender{}, err
		}
		list, err := h.AddressList("From")
		if err != nil {
			return sender{}, err
		}
		if len(list) == 0 {
			return sender{}, nil
		}
		return sender{name: strings.TrimSpace(list[0].Name), addr: list[0].Address}, nil
	})
	msg.SenderName, msg.SenderAddress = from.name, from.addr

	msg.SentAt = extract(n, &msg, FieldDate, time.Time{}, func() (time.Time, error) {
		h, err := header()
		if err != nil {
			return time.Time{}, err
		}
		if h.Get("Date") == "" {
			return time.Time{}, nil
		}
		t, err := h.Date()
		if err != nil {
			return time.Time{}, err
		}
		return t.UTC(), nil
	})

	msg.Recipients = extract(n, &msg, FieldRecipients, []string{model.Sentinel}, func() ([]string, error) {
		h, err := header()
		if err != nil {
			return nil, err
		}
		var out []string
		for _, key := range []string{"To", "Cc"} {
			list, err := h.AddressList(key)
			if err != nil {
				return nil, err
			}
			for _, a := range list {
				out = append(out, a.Address)
			}
		}
		return out, nil
	})

	msg.Body = extract(n, &msg, FieldBody, model.Sentinel, func() (string, error) {
		if entity == nil {
			return "", fmt.Errorf("parsing message: %w", parseErr)
		}
		return extractBody(entity)
	})

	return msg
}

// extract runs fn in its own fault domain. On error or panic it records
// field as degraded and returns fallback.
func extract[T any](
	n *Normalizer, msg *model.CanonicalMessage, field string, fallback T, fn func() (T, error),
) (v T) {
	fail := func(err error) {
		v = fallback
		msg.Degraded = append(msg.Degraded, field)
		fieldErr := &FieldExtractionError{Field: field, Err: err}
		n.logger.Debug("field degraded",
			"account", msg.SourceAccountID,
			"external_id", msg.ExternalID,
			"error", fieldErr)
	}

	defer func() {
		if r := recover(); r != nil {
			fail(fmt.Errorf("panic: %v", r))
		}
	}()

	got, err := fn()
	if err != nil {
		fail(err)
		return v
	}
	return got
}

// extractBody walks the MIME tree depth-first and returns the first
// text/plain part, else the first text/html part reduced to text, else
// the empty string. Attachments are never body candidates.
func extractBody(entity *message.Entity) (string, error) {
	var plain, html *string

	var walk func(*message.Entity) error
	walk = func(e *message.Entity) error {
		if plain != nil {
			return nil
		}

		if mr := e.MultipartReader(); mr != nil {
			for {
				part, err := mr.NextPart()
				if err == io.EOF {
					return nil
				}
				if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
					return fmt.Errorf("reading multipart: %w", err)
				}
				if err := walk(part); err != nil {
					return err
				}
			}
		}

		if disp, _, _ := e.Header.ContentDisposition(); disp == "attachment" {
			return nil
		}

		mediaType, _, err := e.Header.ContentType()
		if err != nil || mediaType == "" {
			mediaType = "text/plain"
		}

		switch mediaType {
		case "text/plain":
			if plain != nil {
				return nil
			}
			content, err := io.ReadAll(e.Body)
			if err != nil {
				return fmt.Errorf("reading text/plain part: %w", err)
			}
			s := string(content)
			plain = &s
		case "text/html":
			if html != nil {
				return nil
			}
			content, err := io.ReadAll(e.Body)
			if err != nil {
				return fmt.Errorf("reading text/html part: %w", err)
			}
			s := string(content)
			html = &s
		}
		return nil
	}

	err := walk(entity)
	switch {
	case plain != nil:
		return strings.TrimSpace(*plain), nil
	case html != nil:
		return HTMLToText(*html), nil
	case err != nil:
		return "", err
	}
	return "", nil
}

var (
	spaceRun = regexp.MustCompile(`[ \t\p{Zs}]+`)
	blankRun = regexp.MustCompile(`\n{3,}`)
)

// HTMLToText strips markup and collapses whitespace.
func HTMLToText(html string) string {
	text := html2text.HTML2Text(html)
	text = strings.ReplaceAll(text, "\r\n", "\n")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(spaceRun.ReplaceAllString(line, " "))
	}
	text = blankRun.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(text)
}
