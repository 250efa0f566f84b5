package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"parley/session"
	"parley/transcript"
)

// Msg is anything the session pipeline pushes into the UI: a finalized
// segment, the live partial, a status snapshot, or an error line.
type Msg any

type SegmentMsg struct {
	Segment transcript.Segment
}

type PartialMsg struct {
	Partial *transcript.Partial
}

type StatusMsg struct {
	Status session.ManagerStatus
}

type ErrorMsg struct {
	Err error
}

var (
	chromeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1)
	degradedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#000000")).
			Background(lipgloss.Color("#FFFF00")).
			Padding(0, 1)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
)

type model struct {
	viewport viewport.Model
	renderer *transcript.Renderer
	msgs     chan Msg

	segments []transcript.Segment
	partial  *transcript.Partial
	status   session.ManagerStatus
	errLines []string
	ready    bool
	showLog  bool
}

func initialModel(msgs chan Msg) model {
	return model{
		renderer: transcript.NewRenderer(true),
		msgs:     msgs,
	}
}

func (m model) Init() tea.Cmd {
	return waitForMsg(m.msgs)
}

func waitForMsg(msgs chan Msg) tea.Cmd {
	return func() tea.Msg {
		return <-msgs
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return m, tea.Quit
		case "tab":
			m.showLog = !m.showLog
			m.viewport.SetContent(m.contentView())
		}

	case tea.WindowSizeMsg:
		headerHeight := lipgloss.Height(m.headerView())
		footerHeight := lipgloss.Height(m.footerView())
		verticalMarginHeight := headerHeight + footerHeight

		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-verticalMarginHeight)
			m.viewport.YPosition = headerHeight
			m.viewport.SetContent(m.contentView())
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - verticalMarginHeight
		}

	case SegmentMsg:
		m.segments = append(m.segments, msg.Segment)
		m.partial = nil
		m.viewport.SetContent(m.contentView())
		m.viewport.GotoBottom()
		cmds = append(cmds, waitForMsg(m.msgs))

	case PartialMsg:
		m.partial = msg.Partial
		m.viewport.SetContent(m.contentView())
		m.viewport.GotoBottom()
		cmds = append(cmds, waitForMsg(m.msgs))

	case StatusMsg:
		m.status = msg.Status
		cmds = append(cmds, waitForMsg(m.msgs))

	case ErrorMsg:
		m.errLines = append(m.errLines, msg.Err.Error())
		if m.showLog {
			m.viewport.SetContent(m.contentView())
		}
		cmds = append(cmds, waitForMsg(m.msgs))
	}

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m model) View() string {
	if !m.ready {
		return "\n  Initializing..."
	}
	return fmt.Sprintf(
		"%s\n%s\n%s",
		m.headerView(),
		m.viewport.View(),
		m.footerView(),
	)
}

func (m model) headerView() string {
	title := chromeStyle.Render("Live Transcript")
	parts := []string{title}
	if m.status.Degraded != nil {
		parts = append(parts, degradedStyle.Render("degraded: "+m.status.Degraded.Name))
	}
	head := lipgloss.JoinHorizontal(lipgloss.Center, parts...)
	line := strings.Repeat("─", max(0, m.viewport.Width-lipgloss.Width(head)))
	return lipgloss.JoinHorizontal(lipgloss.Center, head, line)
}

func (m model) footerView() string {
	info := chromeStyle.Render(fmt.Sprintf(
		"%s | %s | %s | q to quit, tab for log",
		m.status.State,
		m.status.Coord.Quality,
		m.status.Coord.Elapsed.Round(1e9),
	))
	line := strings.Repeat("─", max(0, m.viewport.Width-lipgloss.Width(info)))
	return lipgloss.JoinHorizontal(lipgloss.Center, line, info)
}

func (m model) contentView() string {
	if m.showLog {
		return m.logView()
	}
	return m.renderer.RenderAll(m.segments, m.partial)
}

func (m model) logView() string {
	var sb strings.Builder
	for _, line := range m.errLines {
		sb.WriteString(errorStyle.Render(line))
		sb.WriteString("\n")
	}
	return sb.String()
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Run drives the UI until the user quits. Msgs pushed into msgs while the
// program runs are rendered as they arrive.
func Run(msgs chan Msg) error {
	p := tea.NewProgram(
		initialModel(msgs),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)
	_, err := p.Run()
	return err
}
