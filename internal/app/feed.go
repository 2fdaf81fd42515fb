package app

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/mailhistory/internal/importer"
	"github.com/nhle/mailhistory/internal/ui/progress"
)

// Feed turns coordinator notifications into Bubble Tea messages. The
// program reads them one at a time through Wait.
type Feed struct {
	ch      chan tea.Msg
	done    chan struct{}
	once    sync.Once
	cancels []func()
}

// NewFeed subscribes to the session and importing notifications of ev.
func NewFeed(ev importer.Events) *Feed {
	f := &Feed{
		ch:   make(chan tea.Msg, 64),
		done: make(chan struct{}),
	}
	f.cancels = append(f.cancels,
		ev.SessionChanged.Subscribe(func(c importer.Change[importer.SessionSnapshot]) {
			f.send(progress.SessionMsg{Change: c})
		}),
		ev.ImportingChanged.Subscribe(func(c importer.Change[bool]) {
			f.send(progress.ImportingMsg{Change: c})
		}),
	)
	return f
}

func (f *Feed) send(msg tea.Msg) {
	select {
	case f.ch <- msg:
	case <-f.done:
	}
}

// Wait returns a command that delivers the next notification. It must be
// re-issued after each delivered message to keep listening.
func (f *Feed) Wait() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-f.ch:
			return msg
		case <-f.done:
			return nil
		}
	}
}

// Close unsubscribes and releases any blocked publisher.
func (f *Feed) Close() {
	f.once.Do(func() {
		for _, cancel := range f.cancels {
			cancel()
		}
		close(f.done)
	})
}
