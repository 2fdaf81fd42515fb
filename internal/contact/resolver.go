package contact

import (
	"context"
	"fmt"
	"strings"

	"github.com/nhle/mailhistory/internal/model"
)

// Resolver drives a Disambiguation to a terminal state. It reports
// ok=false when the message was skipped.
type Resolver interface {
	Resolve(ctx context.Context, msg model.CanonicalMessage, matches []Match) (a Association, ok bool, err error)
}

// AutoResolver resolves without user input: a single match is taken,
// preferring the secondary identity when the address belongs to it;
// unknown senders become new contacts when CreateContacts is set; and
// ambiguous addresses are skipped with ErrLookupAmbiguous.
type AutoResolver struct {
	CreateContacts bool
}

// Resolve implements Resolver.
func (r AutoResolver) Resolve(
	_ context.Context, msg model.CanonicalMessage, matches []Match,
) (Association, bool, error) {
	d := NewDisambiguation(msg, matches)
	if err := d.Start(); err != nil {
		return Association{}, false, err
	}

	for !d.State().Terminal() {
		var err error
		switch d.State() {
		case StateSelectCandidate:
			_ = d.Skip()
			return Association{}, false, fmt.Errorf("%s: %w (%d contacts)",
				msg.SenderAddress, ErrLookupAmbiguous, len(matches))
		case StateCreateNew:
			if !r.CreateContacts || !usableAddress(msg.SenderAddress) {
				err = d.Skip()
				break
			}
			first, last := GuessNames(SenderFullName(msg))
			err = d.CreateNew(first, last)
		case StateSpouseDisambiguation:
			m, _ := d.Selected()
			err = d.ChooseIdentity(m.ViaSpouse)
		case StateConfirm:
			err = d.Confirm()
		}
		if err != nil {
			return Association{}, false, err
		}
	}

	a, ok := d.Result()
	return a, ok, nil
}

// SenderFullName returns the name to create a contact from: the sender's
// display name, or the local part of its address.
func SenderFullName(msg model.CanonicalMessage) string {
	name := strings.TrimSpace(msg.SenderName)
	if name != "" && name != model.Sentinel {
		return name
	}
	local, _, _ := strings.Cut(msg.SenderAddress, "@")
	return local
}

func usableAddress(addr string) bool {
	return addr != "" && addr != model.Sentinel && strings.Contains(addr, "@")
}
