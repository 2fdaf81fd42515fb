// Package app is the root Bubble Tea model of the import progress view.
package app

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/mailhistory/internal/keys"
	"github.com/nhle/mailhistory/internal/ui"
	helpview "github.com/nhle/mailhistory/internal/ui/help"
	"github.com/nhle/mailhistory/internal/ui/progress"
)

// Coordinator is what the view needs from the import coordinator.
type Coordinator interface {
	progress.Controller
	StartAll(ctx context.Context) error
	StopAll()
	Importing() bool
	TotalMessageCount() int
	CurrentMessageCount() int
}

// Model is the root model: header, session list or help, status bar.
type Model struct {
	ctx       context.Context
	coord     Coordinator
	feed      *Feed
	keys      *keys.KeyMap
	layout    ui.Layout
	sessions  progress.Model
	helpView  helpview.Model
	showHelp  bool
	ready     bool
	importing bool
	notice    string
}

// New creates the root model. Starting the import is left to the caller
// or to the start key.
func New(ctx context.Context, coord Coordinator, feed *Feed) Model {
	k := keys.DefaultKeyMap()
	return Model{
		ctx:       ctx,
		coord:     coord,
		feed:      feed,
		keys:      k,
		sessions:  progress.New(coord, k, 80, 24),
		helpView:  helpview.New(k, 80, 24),
		importing: coord.Importing(),
	}
}

// Init starts listening for notifications.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.sessions.Init(), m.feed.Wait())
}

// Update routes messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.ready = true
		m.sessions.SetSize(msg.Width, m.layout.ContentHeight())
		m.helpView.SetSize(msg.Width, m.layout.ContentHeight())
		return m, nil

	case progress.SessionMsg:
		var cmd tea.Cmd
		m.sessions, cmd = m.sessions.Update(msg)
		return m, tea.Batch(cmd, m.feed.Wait())

	case progress.ImportingMsg:
		m.importing = msg.Change.New
		if !m.importing {
			m.notice = "import finished"
		}
		var cmd tea.Cmd
		m.sessions, cmd = m.sessions.Update(msg)
		return m, tea.Batch(cmd, m.feed.Wait())

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.coord.StopAll()
			return m, tea.Quit
		case key.Matches(msg, m.keys.Help):
			m.showHelp = !m.showHelp
			return m, nil
		case key.Matches(msg, m.keys.Stop):
			m.coord.StopAll()
			m.notice = "stopping after the current message"
			return m, nil
		case key.Matches(msg, m.keys.Start):
			if err := m.coord.StartAll(m.ctx); err != nil {
				m.notice = err.Error()
			} else {
				m.notice = ""
			}
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.sessions, cmd = m.sessions.Update(msg)
	return m, cmd
}

// View renders the frame.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	header := m.layout.RenderHeader("Mail History Import", m.status())
	content := m.sessions.View()
	if m.showHelp {
		content = m.helpView.View()
	}
	return m.layout.Frame(header, content, m.layout.RenderStatusBar(m.hints()))
}

// status summarizes the run for the header.
func (m Model) status() string {
	if !m.importing {
		return "idle"
	}
	return fmt.Sprintf("importing %d/%d", m.coord.CurrentMessageCount(), m.coord.TotalMessageCount())
}

func (m Model) hints() string {
	if n := m.sessions.Notice(); n != "" {
		return n
	}
	if m.notice != "" {
		return m.notice
	}
	return m.helpView.ShortView()
}
