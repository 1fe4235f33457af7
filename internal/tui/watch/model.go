// Package watch provides a live feed of ticket changes broadcast by ticketd.
package watch

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/drewfead/ticketd/internal/cli"
	"github.com/drewfead/ticketd/internal/control"
)

// Model is the bubbletea model for the change feed.
type Model struct {
	events     <-chan control.Event
	lines      []Line
	viewport   viewport.Model
	width      int
	height     int
	ready      bool
	autoScroll bool
	closed     bool

	// Only changes to this ticket are shown when non-zero.
	number int64
}

// Line is one received change.
type Line struct {
	Time   time.Time
	Change control.TicketChanged
}

type (
	changeMsg Line
	closedMsg struct{}
)

// New creates a feed over a client's event channel.
func New(events <-chan control.Event, number int64) Model {
	return Model{
		events:     events,
		number:     number,
		autoScroll: true,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return m.waitForEvent
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "g":
			m.viewport.GotoTop()
		case "G":
			m.viewport.GotoBottom()
		case "f":
			m.autoScroll = !m.autoScroll
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-4)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - 4
		}
		m.updateContent()

	case changeMsg:
		if m.number == 0 || msg.Change.Number == m.number {
			m.lines = append(m.lines, Line(msg))
			m.updateContent()
			if m.autoScroll {
				m.viewport.GotoBottom()
			}
		}
		cmds = append(cmds, m.waitForEvent)

	case closedMsg:
		m.closed = true
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "Connecting..."
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(cli.StyleMuted.Render(strings.Repeat("─", m.width)))
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	b.WriteString(m.renderFooter())
	return b.String()
}

// Lines returns the changes shown so far.
func (m Model) Lines() []Line {
	return m.lines
}

func (m Model) renderHeader() string {
	scope := "all tickets"
	if m.number != 0 {
		scope = fmt.Sprintf("ticket %d", m.number)
	}
	status := cli.StyleOK.Render(cli.Bullet + " live")
	if m.closed {
		status = cli.StyleError.Render(cli.Circle + " disconnected")
	}
	return fmt.Sprintf("%s  %s  %s",
		status,
		cli.StyleTitle.Render("Ticket changes"),
		cli.StyleMuted.Render(scope))
}

func (m Model) renderFooter() string {
	follow := "follow: ON"
	if !m.autoScroll {
		follow = "follow: OFF"
	}
	help := "[q] quit  [g/G] top/bottom  [f] toggle follow  [↑↓] scroll"
	return cli.StyleMuted.Render(fmt.Sprintf("%s  │  %s", help, follow))
}

func (m *Model) updateContent() {
	if !m.ready {
		return
	}
	lines := make([]string, 0, len(m.lines))
	for _, l := range m.lines {
		lines = append(lines, formatLine(l))
	}
	m.viewport.SetContent(strings.Join(lines, "\n"))
}

func formatLine(l Line) string {
	c := l.Change
	kind := lipgloss.NewStyle().Foreground(cli.ColorBlue).Render("update")
	if c.IsNew {
		kind = lipgloss.NewStyle().Foreground(cli.ColorGreen).Render("new   ")
	}

	fields := make([]string, 0, len(c.Fields))
	for f := range c.Fields {
		fields = append(fields, string(f))
	}
	slices.Sort(fields)

	return fmt.Sprintf("%s %s %s %s %s %s",
		cli.StyleMuted.Render(l.Time.Format("15:04:05")),
		kind,
		cli.StyleAccent.Render(fmt.Sprintf("#%-5d", c.Number)),
		c.Pusher,
		cli.StyleMuted.Render(c.Ref),
		cli.StyleMuted.Render(strings.Join(fields, ",")))
}

func (m Model) waitForEvent() tea.Msg {
	for ev := range m.events {
		if ev.Type != control.EventTicketChanged {
			continue
		}
		var payload control.TicketChanged
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			continue
		}
		return changeMsg{Time: time.Now(), Change: payload}
	}
	return closedMsg{}
}
