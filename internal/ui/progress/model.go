// Package progress renders one row per import session with a progress
// bar, and forwards session controls to the coordinator.
package progress

import (
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mailhistory/internal/importer"
	"github.com/nhle/mailhistory/internal/keys"
	"github.com/nhle/mailhistory/internal/model"
	"github.com/nhle/mailhistory/internal/theme"
)

// Controller is the part of the coordinator the view drives.
type Controller interface {
	Pause(accountID string) bool
	Resume(accountID string) bool
	Sessions() []importer.SessionSnapshot
}

// SessionMsg carries a session change into the Bubble Tea runtime.
type SessionMsg struct {
	Change importer.Change[importer.SessionSnapshot]
}

// ImportingMsg carries a change of the coordinator's importing flag.
type ImportingMsg struct {
	Change importer.Change[bool]
}

// Model is the session list.
type Model struct {
	ctl      Controller
	keys     *keys.KeyMap
	rows     []importer.SessionSnapshot
	selected int
	bar      progress.Model
	spinner  spinner.Model
	width    int
	height   int
	notice   string
}

// New creates the session list.
func New(ctl Controller, k *keys.KeyMap, width, height int) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(theme.ColorMagenta)

	m := Model{
		ctl:     ctl,
		keys:    k,
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
		spinner: sp,
	}
	m.SetSize(width, height)
	m.rows = ctl.Sessions()
	return m
}

// Init starts the spinner.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update applies session changes and handles session keys.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case SessionMsg:
		m.apply(msg.Change.New)
		return m, nil

	case ImportingMsg:
		if msg.Change.New {
			m.rows = m.ctl.Sessions()
			m.selected = min(m.selected, max(len(m.rows)-1, 0))
			m.notice = ""
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg), nil
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) Model {
	switch {
	case key.Matches(msg, m.keys.Down):
		if m.selected < len(m.rows)-1 {
			m.selected++
		}
	case key.Matches(msg, m.keys.Up):
		if m.selected > 0 {
			m.selected--
		}
	case key.Matches(msg, m.keys.Pause):
		if row, ok := m.Selected(); ok && !m.ctl.Pause(row.AccountID) {
			m.notice = fmt.Sprintf("%s is not importing", row.Label)
		}
	case key.Matches(msg, m.keys.Resume):
		if row, ok := m.Selected(); ok && !m.ctl.Resume(row.AccountID) {
			m.notice = fmt.Sprintf("%s is not paused", row.Label)
		}
	}
	return m
}

// apply merges a snapshot into the rows, keeping account order.
func (m *Model) apply(snap importer.SessionSnapshot) {
	i := slices.IndexFunc(m.rows, func(r importer.SessionSnapshot) bool {
		return r.AccountID == snap.AccountID
	})
	if i >= 0 {
		m.rows[i] = snap
		return
	}
	m.rows = append(m.rows, snap)
	slices.SortStableFunc(m.rows, func(a, b importer.SessionSnapshot) int {
		return a.AccountIndex - b.AccountIndex
	})
}

// Selected returns the focused row.
func (m Model) Selected() (importer.SessionSnapshot, bool) {
	if m.selected < 0 || m.selected >= len(m.rows) {
		return importer.SessionSnapshot{}, false
	}
	return m.rows[m.selected], true
}

// Rows returns the rows in display order.
func (m Model) Rows() []importer.SessionSnapshot {
	return slices.Clone(m.rows)
}

// Notice returns the last feedback message.
func (m Model) Notice() string {
	return m.notice
}

// View renders the list.
func (m Model) View() string {
	if len(m.rows) == 0 {
		return theme.HelpStyle.Render("  No import sessions. Press i to start.")
	}

	var b strings.Builder
	for i, row := range m.rows {
		style := theme.RowStyle
		if i == m.selected {
			style = theme.SelectedRowStyle
		}
		b.WriteString(style.Render(m.renderRow(row)))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderRow(row importer.SessionSnapshot) string {
	label := lipgloss.NewStyle().Width(20).Render(truncate(row.Label, 19))
	status := theme.SessionStatusStyle(row.Status).Render(row.StatusName)

	var detail string
	switch row.Status {
	case model.SessionConnecting:
		detail = m.spinner.View() + " connecting"
	case model.SessionFailed:
		detail = theme.ErrorStyle.Render(truncate(row.LastError, max(m.width-40, 10)))
	default:
		pct := 0.0
		if row.Total > 0 {
			pct = float64(row.Current) / float64(row.Total)
		}
		detail = fmt.Sprintf("%s %d/%d", m.bar.ViewAs(pct), row.Current, row.Total)
	}

	line := lipgloss.JoinHorizontal(lipgloss.Top, label, status, detail)
	counts := theme.HelpStyle.Render(fmt.Sprintf(
		"imported %d · duplicates %d · ignored %d · skipped %d · failed %d",
		row.Imported, row.Duplicates, row.Ignored, row.Skipped, row.Failed))
	return lipgloss.JoinVertical(lipgloss.Left, line, counts)
}

// SetSize updates the view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.bar.Width = max(min(width-60, 40), 10)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
