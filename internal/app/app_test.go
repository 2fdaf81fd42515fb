package app

import (
	"context"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailhistory/internal/importer"
	"github.com/nhle/mailhistory/internal/logging"
	"github.com/nhle/mailhistory/internal/model"
	"github.com/nhle/mailhistory/internal/ui/progress"
)

type fakeCoordinator struct {
	importing bool
	started   int
	stopped   int
	startErr  error
}

func (f *fakeCoordinator) Pause(string) bool                    { return true }
func (f *fakeCoordinator) Resume(string) bool                   { return true }
func (f *fakeCoordinator) Sessions() []importer.SessionSnapshot { return nil }
func (f *fakeCoordinator) Importing() bool                      { return f.importing }
func (f *fakeCoordinator) TotalMessageCount() int               { return 10 }
func (f *fakeCoordinator) CurrentMessageCount() int             { return 4 }
func (f *fakeCoordinator) StopAll()                             { f.stopped++ }

func (f *fakeCoordinator) StartAll(context.Context) error {
	f.started++
	return f.startErr
}

func receive(t *testing.T, cmd tea.Cmd) tea.Msg {
	t.Helper()
	got := make(chan tea.Msg, 1)
	go func() { got <- cmd() }()
	select {
	case msg := <-got:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message from feed")
		return nil
	}
}

func TestFeedDeliversNotifications(t *testing.T) {
	coord := importer.New(nil, nil, logging.Discard())
	defer coord.Close()
	feed := NewFeed(coord.Events)
	defer feed.Close()

	snap := importer.SessionSnapshot{AccountID: "a", Status: model.SessionImporting}
	coord.Events.SessionChanged.Publish(importer.SessionSnapshot{}, snap)

	msg := receive(t, feed.Wait())
	sm, ok := msg.(progress.SessionMsg)
	require.True(t, ok, "got %T", msg)
	assert.Equal(t, "a", sm.Change.New.AccountID)

	coord.Events.ImportingChanged.Publish(false, true)
	im, ok := receive(t, feed.Wait()).(progress.ImportingMsg)
	require.True(t, ok)
	assert.True(t, im.Change.New)
}

func TestFeedClosedReturnsNil(t *testing.T) {
	coord := importer.New(nil, nil, logging.Discard())
	defer coord.Close()
	feed := NewFeed(coord.Events)
	feed.Close()

	assert.Nil(t, receive(t, feed.Wait()))
}

func TestModelHeaderAndKeys(t *testing.T) {
	coord := importer.New(nil, nil, logging.Discard())
	defer coord.Close()
	feed := NewFeed(coord.Events)
	defer feed.Close()

	fc := &fakeCoordinator{importing: true}
	var m tea.Model = New(context.Background(), fc, feed)
	assert.Equal(t, "Loading...", m.View())

	m, _ = m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	assert.Contains(t, m.View(), "Mail History Import")
	assert.Contains(t, m.View(), "importing 4/10")

	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'s'}})
	assert.Equal(t, 1, fc.stopped)
	assert.Contains(t, m.View(), "stopping after the current message")

	m, _ = m.Update(progress.ImportingMsg{Change: importer.Change[bool]{Old: true, New: false}})
	assert.Contains(t, m.View(), "idle")

	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'i'}})
	assert.Equal(t, 1, fc.started)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Equal(t, 2, fc.stopped)
}
