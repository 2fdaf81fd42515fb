package contact

import (
	"errors"
	"fmt"

	"github.com/nhle/mailhistory/internal/model"
)

// State is a step of the sender disambiguation flow.
type State int

const (
	StateSelectCandidate State = iota
	StateCreateNew
	StateSpouseDisambiguation
	StateConfirm
	StateDone
	StateSkipped
)

func (s State) String() string {
	switch s {
	case StateSelectCandidate:
		return "select-candidate"
	case StateCreateNew:
		return "create-new"
	case StateSpouseDisambiguation:
		return "spouse-disambiguation"
	case StateConfirm:
		return "confirm"
	case StateDone:
		return "done"
	case StateSkipped:
		return "skipped"
	}
	return "unknown"
}

// Terminal reports whether the flow has finished.
func (s State) Terminal() bool {
	return s == StateDone || s == StateSkipped
}

// EventKind identifies an input to the flow.
type EventKind int

const (
	EventStart EventKind = iota
	EventSelect
	EventCreateNew
	EventChooseIdentity
	EventConfirm
	EventSkip
)

// Event is an input to the flow. Only the fields relevant to Kind are read.
type Event struct {
	Kind EventKind

	// Index selects a match for EventSelect.
	Index int

	// FirstName and LastName name the contact for EventCreateNew.
	FirstName, LastName string

	// Spouse chooses the secondary identity for EventChooseIdentity.
	Spouse bool
}

var (
	// ErrInvalidTransition is returned for an event the current state
	// does not accept.
	ErrInvalidTransition = errors.New("invalid disambiguation transition")

	// ErrFinished is returned for any event once the flow is terminal.
	ErrFinished = errors.New("disambiguation already finished")
)

// Association is the outcome of a completed flow: the message is to be
// recorded against Contact, or against NewContact once it is created.
type Association struct {
	Message model.CanonicalMessage

	// Contact is the existing contact, nil when NewContact is set.
	Contact *model.ContactRecord

	// NewContact is a contact to create. Its ContactID is zero.
	NewContact *model.ContactRecord

	// Candidate is the identity the message is recorded against.
	Candidate model.ContactCandidate

	// WithSpouse marks the contact's secondary identity as the sender.
	WithSpouse bool
}

// Disambiguation tracks one message's way from its candidate list to an
// association. It is not safe for concurrent use.
type Disambiguation struct {
	msg     model.CanonicalMessage
	matches []Match

	state      State
	selected   int
	newContact *model.ContactRecord
	withSpouse bool
	result     *Association
}

// NewDisambiguation creates a flow for msg over matches, in the
// SelectCandidate state. Call Start to route it.
func NewDisambiguation(msg model.CanonicalMessage, matches []Match) *Disambiguation {
	return &Disambiguation{
		msg:      msg,
		matches:  matches,
		state:    StateSelectCandidate,
		selected: -1,
	}
}

// State returns the current state.
func (d *Disambiguation) State() State { return d.state }

// Message returns the message being associated.
func (d *Disambiguation) Message() model.CanonicalMessage { return d.msg }

// Matches returns the candidate matches.
func (d *Disambiguation) Matches() []Match { return d.matches }

// Selected returns the selected match, if any.
func (d *Disambiguation) Selected() (Match, bool) {
	if d.selected < 0 {
		return Match{}, false
	}
	return d.matches[d.selected], true
}

// Pending returns the contact that would be created, if any.
func (d *Disambiguation) Pending() *model.ContactRecord { return d.newContact }

// Result returns the association once the flow is Done.
func (d *Disambiguation) Result() (Association, bool) {
	if d.result == nil {
		return Association{}, false
	}
	return *d.result, true
}

// Start routes the flow on the number of matches: none leads to
// CreateNew, one is selected, many wait for Select.
func (d *Disambiguation) Start() error { return d.Fire(Event{Kind: EventStart}) }

// Select chooses match i.
func (d *Disambiguation) Select(i int) error { return d.Fire(Event{Kind: EventSelect, Index: i}) }

// CreateNew chooses to create a new contact with the given names.
func (d *Disambiguation) CreateNew(first, last string) error {
	return d.Fire(Event{Kind: EventCreateNew, FirstName: first, LastName: last})
}

// ChooseIdentity picks the contact itself or its secondary identity.
func (d *Disambiguation) ChooseIdentity(spouse bool) error {
	return d.Fire(Event{Kind: EventChooseIdentity, Spouse: spouse})
}

// Confirm completes the flow.
func (d *Disambiguation) Confirm() error { return d.Fire(Event{Kind: EventConfirm}) }

// Skip abandons the flow; the message is not associated.
func (d *Disambiguation) Skip() error { return d.Fire(Event{Kind: EventSkip}) }

// Fire applies ev. It is the only place the state changes.
func (d *Disambiguation) Fire(ev Event) error {
	if d.state.Terminal() {
		return fmt.Errorf("%w: %s", ErrFinished, d.state)
	}

	if ev.Kind == EventSkip {
		d.state = StateSkipped
		return nil
	}

	switch d.state {
	case StateSelectCandidate:
		switch ev.Kind {
		case EventStart:
			switch len(d.matches) {
			case 0:
				d.state = StateCreateNew
			case 1:
				d.choose(0)
			}
			return nil
		case EventSelect:
			if ev.Index < 0 || ev.Index >= len(d.matches) {
				return fmt.Errorf("%w: no match %d", ErrInvalidTransition, ev.Index)
			}
			d.choose(ev.Index)
			return nil
		case EventCreateNew:
			d.create(ev)
			return nil
		}

	case StateCreateNew:
		if ev.Kind == EventCreateNew {
			d.create(ev)
			return nil
		}

	case StateSpouseDisambiguation:
		if ev.Kind == EventChooseIdentity {
			d.withSpouse = ev.Spouse
			d.state = StateConfirm
			return nil
		}

	case StateConfirm:
		if ev.Kind == EventConfirm {
			d.result = d.associate()
			d.state = StateDone
			return nil
		}
	}

	return fmt.Errorf("%w: event %d in state %s", ErrInvalidTransition, ev.Kind, d.state)
}

func (d *Disambiguation) choose(i int) {
	d.selected = i
	d.newContact = nil
	d.withSpouse = false
	if d.matches[i].Spouse != nil {
		d.state = StateSpouseDisambiguation
		return
	}
	d.state = StateConfirm
}

func (d *Disambiguation) create(ev Event) {
	d.selected = -1
	d.withSpouse = false
	d.newContact = &model.ContactRecord{
		FirstName: ev.FirstName,
		LastName:  ev.LastName,
		Email:     d.msg.SenderAddress,
	}
	d.state = StateConfirm
}

func (d *Disambiguation) associate() *Association {
	a := &Association{Message: d.msg, WithSpouse: d.withSpouse}

	if d.newContact != nil {
		c := *d.newContact
		a.NewContact = &c
		a.Candidate = model.ContactCandidate{
			DisplayName: c.DisplayName(),
			MatchKey:    c.Email,
		}
		return a
	}

	m := d.matches[d.selected]
	c := m.Contact
	a.Contact = &c
	a.Candidate = m.Candidate
	if d.withSpouse && m.Spouse != nil {
		a.Candidate = *m.Spouse
	}
	return a
}
