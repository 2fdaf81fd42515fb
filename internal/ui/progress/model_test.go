package progress

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailhistory/internal/importer"
	"github.com/nhle/mailhistory/internal/keys"
	"github.com/nhle/mailhistory/internal/model"
)

type fakeController struct {
	paused   []string
	resumed  []string
	accept   bool
	sessions []importer.SessionSnapshot
}

func (f *fakeController) Pause(id string) bool {
	f.paused = append(f.paused, id)
	return f.accept
}

func (f *fakeController) Resume(id string) bool {
	f.resumed = append(f.resumed, id)
	return f.accept
}

func (f *fakeController) Sessions() []importer.SessionSnapshot { return f.sessions }

func snapshot(id string, index int, status model.SessionStatus) importer.SessionSnapshot {
	return importer.SessionSnapshot{
		AccountID:    id,
		AccountIndex: index,
		Label:        "label-" + id,
		Status:       status,
		StatusName:   status.String(),
		Current:      3,
		Total:        10,
	}
}

func sessionMsg(s importer.SessionSnapshot) SessionMsg {
	return SessionMsg{Change: importer.Change[importer.SessionSnapshot]{New: s}}
}

func press(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func TestRowsFollowAccountOrder(t *testing.T) {
	m := New(&fakeController{}, keys.DefaultKeyMap(), 120, 30)

	m, _ = m.Update(sessionMsg(snapshot("b", 1, model.SessionImporting)))
	m, _ = m.Update(sessionMsg(snapshot("a", 0, model.SessionConnecting)))
	m, _ = m.Update(sessionMsg(snapshot("b", 1, model.SessionComplete)))

	rows := m.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, "a", rows[0].AccountID)
	assert.Equal(t, "b", rows[1].AccountID)
	assert.Equal(t, model.SessionComplete, rows[1].Status)

	view := m.View()
	assert.Contains(t, view, "label-a")
	assert.Contains(t, view, "complete")
	assert.Contains(t, view, "3/10")
}

func TestKeysDriveSelectedSession(t *testing.T) {
	ctl := &fakeController{accept: true}
	m := New(ctl, keys.DefaultKeyMap(), 120, 30)
	m, _ = m.Update(sessionMsg(snapshot("a", 0, model.SessionImporting)))
	m, _ = m.Update(sessionMsg(snapshot("b", 1, model.SessionImporting)))

	m, _ = m.Update(press('j'))
	m, _ = m.Update(press('p'))
	m, _ = m.Update(press('k'))
	m, _ = m.Update(press('r'))

	assert.Equal(t, []string{"b"}, ctl.paused)
	assert.Equal(t, []string{"a"}, ctl.resumed)
	assert.Empty(t, m.Notice())

	ctl.accept = false
	m, _ = m.Update(press('p'))
	assert.Equal(t, "label-a is not importing", m.Notice())
}

func TestImportStartReloadsRows(t *testing.T) {
	ctl := &fakeController{sessions: []importer.SessionSnapshot{snapshot("x", 0, model.SessionIdle)}}
	m := New(ctl, keys.DefaultKeyMap(), 120, 30)
	m, _ = m.Update(sessionMsg(snapshot("old", 3, model.SessionFailed)))
	require.Len(t, m.Rows(), 2)

	m, _ = m.Update(ImportingMsg{Change: importer.Change[bool]{Old: false, New: true}})
	rows := m.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, "x", rows[0].AccountID)
}

func TestEmptyView(t *testing.T) {
	m := New(&fakeController{}, keys.DefaultKeyMap(), 80, 24)
	assert.Contains(t, m.View(), "No import sessions")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}
