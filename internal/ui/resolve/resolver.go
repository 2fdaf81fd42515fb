// Package resolve asks the user which contact a message belongs to.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/nhle/mailhistory/internal/contact"
	"github.com/nhle/mailhistory/internal/model"
	"github.com/nhle/mailhistory/internal/normalize"
)

// Choices offered next to the candidates.
const (
	ChoiceCreate = -1
	ChoiceSkip   = -2
)

// ErrAborted is returned by a Prompter when the user dismisses a prompt.
var ErrAborted = errors.New("prompt aborted")

// Prompter asks the questions of the disambiguation flow.
type Prompter interface {
	// SelectCandidate returns the index of the chosen match, ChoiceCreate
	// or ChoiceSkip.
	SelectCandidate(ctx context.Context, msg model.CanonicalMessage, matches []contact.Match) (int, error)

	// NewContact lets the user edit the guessed names. ok=false skips the
	// message.
	NewContact(ctx context.Context, msg model.CanonicalMessage, first, last string) (f, l string, ok bool, err error)

	// ChooseIdentity reports whether the message is from the contact's
	// secondary identity.
	ChooseIdentity(ctx context.Context, msg model.CanonicalMessage, m contact.Match) (bool, error)

	Confirm(ctx context.Context, msg model.CanonicalMessage, who string) (bool, error)
}

// Resolver drives the disambiguation flow through a Prompter. Sessions
// run concurrently, so prompts are serialized.
type Resolver struct {
	mu       sync.Mutex
	prompter Prompter
}

// New creates a Resolver asking through p.
func New(p Prompter) *Resolver {
	return &Resolver{prompter: p}
}

var _ contact.Resolver = (*Resolver)(nil)

// Resolve implements contact.Resolver. A dismissed prompt skips the
// message.
func (r *Resolver) Resolve(
	ctx context.Context, msg model.CanonicalMessage, matches []contact.Match,
) (contact.Association, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d := contact.NewDisambiguation(msg, matches)
	if err := d.Start(); err != nil {
		return contact.Association{}, false, err
	}

	for !d.State().Terminal() {
		if err := r.step(ctx, d); err != nil {
			if errors.Is(err, ErrAborted) {
				return contact.Association{}, false, nil
			}
			return contact.Association{}, false, fmt.Errorf("resolving %s: %w", msg.SenderAddress, err)
		}
	}

	a, ok := d.Result()
	return a, ok, nil
}

func (r *Resolver) step(ctx context.Context, d *contact.Disambiguation) error {
	msg := d.Message()

	switch d.State() {
	case contact.StateSelectCandidate:
		choice, err := r.prompter.SelectCandidate(ctx, msg, d.Matches())
		if err != nil {
			return err
		}
		switch choice {
		case ChoiceSkip:
			return d.Skip()
		case ChoiceCreate:
			return r.create(ctx, d)
		}
		return d.Select(choice)

	case contact.StateCreateNew:
		return r.create(ctx, d)

	case contact.StateSpouseDisambiguation:
		m, _ := d.Selected()
		spouse, err := r.prompter.ChooseIdentity(ctx, msg, m)
		if err != nil {
			return err
		}
		return d.ChooseIdentity(spouse)

	case contact.StateConfirm:
		ok, err := r.prompter.Confirm(ctx, msg, pendingName(d))
		if err != nil {
			return err
		}
		if !ok {
			return d.Skip()
		}
		return d.Confirm()
	}
	return fmt.Errorf("unexpected state %s", d.State())
}

func (r *Resolver) create(ctx context.Context, d *contact.Disambiguation) error {
	msg := d.Message()
	first, last := suggestNames(contact.SenderFullName(msg))

	first, last, ok, err := r.prompter.NewContact(ctx, msg, first, last)
	if err != nil {
		return err
	}
	if !ok {
		return d.Skip()
	}
	return d.CreateNew(first, last)
}

// suggestNames proposes the names offered when creating a contact. The
// first name is the display-name guess, which understands initials and
// "Last, First" order; the last name is whatever that guess left over.
func suggestNames(fullName string) (first, last string) {
	first = normalize.GuessFromName(fullName)

	tokens := strings.Fields(fullName)
	if len(tokens) > 1 && strings.HasSuffix(tokens[0], ",") && first == tokens[1] {
		return first, strings.TrimSuffix(tokens[0], ",")
	}

	_, last = contact.GuessNames(fullName)
	if last == "" || strings.HasSuffix(first, last) {
		return first, ""
	}
	return first, last
}

// pendingName names whoever the message is about to be recorded for.
func pendingName(d *contact.Disambiguation) string {
	if c := d.Pending(); c != nil {
		return fmt.Sprintf("new contact %s", c.DisplayName())
	}
	m, ok := d.Selected()
	if !ok {
		return ""
	}
	return m.Contact.DisplayName()
}
