package resolve

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/nhle/mailhistory/internal/contact"
	"github.com/nhle/mailhistory/internal/model"
	"github.com/nhle/mailhistory/internal/normalize"
)

// HuhPrompter asks through huh forms on the terminal.
type HuhPrompter struct {
	// Accessible switches the forms to plain line prompts.
	Accessible bool
}

func (p HuhPrompter) run(ctx context.Context, title string, fields ...huh.Field) error {
	form := huh.NewForm(huh.NewGroup(fields...).Title(title)).
		WithAccessible(p.Accessible)

	err := form.RunWithContext(ctx)
	if errors.Is(err, huh.ErrUserAborted) {
		return ErrAborted
	}
	return err
}

func describe(msg model.CanonicalMessage) string {
	return fmt.Sprintf("%s · %q", normalize.FormatAddress(msg.SenderName, msg.SenderAddress), msg.Subject)
}

// SelectCandidate implements Prompter.
func (p HuhPrompter) SelectCandidate(
	ctx context.Context, msg model.CanonicalMessage, matches []contact.Match,
) (int, error) {
	opts := make([]huh.Option[int], 0, len(matches)+2)
	for i, m := range matches {
		label := m.Contact.DisplayName()
		if m.ViaSpouse {
			label += " (via " + m.Contact.SpouseDisplayName() + ")"
		}
		opts = append(opts, huh.NewOption(fmt.Sprintf("%s <%s>", label, m.Contact.Email), i))
	}
	opts = append(opts,
		huh.NewOption("Create a new contact", ChoiceCreate),
		huh.NewOption("Skip this message", ChoiceSkip),
	)

	choice := 0
	err := p.run(ctx, describe(msg),
		huh.NewSelect[int]().
			Title("Several contacts use this address").
			Options(opts...).
			Value(&choice),
	)
	return choice, err
}

// NewContact implements Prompter.
func (p HuhPrompter) NewContact(
	ctx context.Context, msg model.CanonicalMessage, first, last string,
) (string, string, bool, error) {
	create := true
	err := p.run(ctx, describe(msg),
		huh.NewConfirm().
			Title("No contact uses this address. Create one?").
			Affirmative("Create").
			Negative("Skip").
			Value(&create),
		huh.NewInput().
			Title("First name").
			Value(&first),
		huh.NewInput().
			Title("Last name").
			Value(&last).
			Validate(func(s string) error {
				if create && strings.TrimSpace(s) == "" && strings.TrimSpace(first) == "" {
					return errors.New("a name is required")
				}
				return nil
			}),
	)
	return strings.TrimSpace(first), strings.TrimSpace(last), create, err
}

// ChooseIdentity implements Prompter.
func (p HuhPrompter) ChooseIdentity(
	ctx context.Context, msg model.CanonicalMessage, m contact.Match,
) (bool, error) {
	spouse := m.ViaSpouse
	err := p.run(ctx, describe(msg),
		huh.NewSelect[bool]().
			Title("Who sent this message?").
			Options(
				huh.NewOption(m.Contact.DisplayName(), false),
				huh.NewOption(m.Contact.SpouseDisplayName(), true),
			).
			Value(&spouse),
	)
	return spouse, err
}

// Confirm implements Prompter.
func (p HuhPrompter) Confirm(ctx context.Context, msg model.CanonicalMessage, who string) (bool, error) {
	ok := true
	err := p.run(ctx, describe(msg),
		huh.NewConfirm().
			Title(fmt.Sprintf("Record this message for %s?", who)).
			Value(&ok),
	)
	return ok, err
}
