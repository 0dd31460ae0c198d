// Package tui is the terminal front end for a voice session. It renders the
// controller's state and forwards key presses as Connect and Disconnect
// requests; it never mutates session state itself.
package tui

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/orbisvoice/orbis/internal/session"
	"github.com/orbisvoice/orbis/internal/visualizer"
)

const (
	frameInterval = time.Second / 30
	stageCols     = 40
	stageRows     = 20
	maxTranscript = 6
)

// ─── ports ───────────────────────────────────────────────────────────────────

// Controller is the subset of [session.Controller] the UI drives.
type Controller interface {
	Connect(ctx context.Context) error
	Disconnect()
	State() session.State
}

// ─── async messages ───────────────────────────────────────────────────────────

type stateMsg session.State

type transcriptMsg session.Transcript

type tickMsg time.Time

type connectDoneMsg struct{ err error }

type disconnectDoneMsg struct{}

// ─── key bindings ─────────────────────────────────────────────────────────────

type keyMap struct {
	Toggle key.Binding
	Cancel key.Binding
	Help   key.Binding
	Quit   key.Binding
}

func defaultKeys() keyMap {
	return keyMap{
		Toggle: key.NewBinding(key.WithKeys(" ", "enter"), key.WithHelp("space", "start/stop")),
		Cancel: key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "cancel")),
		Help:   key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
		Quit:   key.NewBinding(key.WithKeys("ctrl+c", "q"), key.WithHelp("q", "quit")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Toggle, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Toggle, k.Cancel},
		{k.Help, k.Quit},
	}
}

// ─── model ───────────────────────────────────────────────────────────────────

// Model is the root Bubble Tea model.
type Model struct {
	ctrl     Controller
	subtitle string

	state       session.State
	anim        visualizer.Animator
	rings       []visualizer.Ring
	transcripts []session.Transcript

	keys     keyMap
	help     help.Model
	showHelp bool
	width    int
}

// New returns a Model driving ctrl. subtitle is shown under the title,
// typically the model and voice in use.
func New(ctrl Controller, subtitle string) Model {
	return Model{
		ctrl:     ctrl,
		subtitle: subtitle,
		state:    ctrl.State(),
		keys:     defaultKeys(),
		help:     help.New(),
	}
}

// Bind forwards controller notifications to p. Call it before p.Run.
func Bind(p *tea.Program, ctrl *session.Controller) {
	ctrl.OnChange(func(st session.State) { p.Send(stateMsg(st)) })
	ctrl.OnTranscript(func(tr session.Transcript) { p.Send(transcriptMsg(tr)) })
}

func (m Model) Init() tea.Cmd {
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(frameInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) connectCmd() tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		return connectDoneMsg{err: ctrl.Connect(context.Background())}
	}
}

func (m Model) disconnectCmd() tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		ctrl.Disconnect()
		return disconnectDoneMsg{}
	}
}

// ─── update ───────────────────────────────────────────────────────────────────

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width

	case stateMsg:
		m.state = session.State(msg)

	case transcriptMsg:
		m.appendTranscript(session.Transcript(msg))

	case tickMsg:
		m.rings = m.anim.Next(m.state.Connected, m.state.Volume)
		return m, tick()

	case connectDoneMsg:
		// Failures are surfaced through State.Error; ErrBusy means a
		// notification is already on its way.
		if errors.Is(msg.err, session.ErrBusy) {
			return m, nil
		}
		m.state = m.ctrl.State()
		if msg.err == nil {
			m.transcripts = nil
		}

	case disconnectDoneMsg:
		m.state = m.ctrl.State()

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Help):
			m.showHelp = !m.showHelp
		case key.Matches(msg, m.keys.Toggle):
			switch {
			case m.state.Connecting:
				return m, nil
			case m.state.Connected:
				return m, m.disconnectCmd()
			default:
				return m, m.connectCmd()
			}
		case key.Matches(msg, m.keys.Cancel):
			if m.showHelp {
				m.showHelp = false
				return m, nil
			}
			if m.state.Connecting {
				return m, m.disconnectCmd()
			}
		}
	}
	return m, nil
}

// appendTranscript merges consecutive fragments from the same speaker.
func (m *Model) appendTranscript(tr session.Transcript) {
	if n := len(m.transcripts); n > 0 && m.transcripts[n-1].Role == tr.Role {
		m.transcripts[n-1].Text += tr.Text
		return
	}
	m.transcripts = append(m.transcripts, tr)
	if len(m.transcripts) > maxTranscript {
		m.transcripts = m.transcripts[len(m.transcripts)-maxTranscript:]
	}
}

// ─── view ────────────────────────────────────────────────────────────────────

func (m Model) View() string {
	sections := []string{
		titleStyle.Render("Gemini Live"),
		subtitleStyle.Render(strings.ToUpper(m.subtitle)),
		"",
		stageStyle.Render(ringStyle.Render(strings.Join(visualizer.Render(m.rings, stageCols, stageRows), "\n"))),
		m.statusBadge(),
		hintStyle.Render(m.hint()),
	}
	if m.state.Error != "" {
		sections = append(sections, errorStyle.Width(stageCols).Render(m.state.Error))
	}
	if len(m.transcripts) > 0 {
		sections = append(sections, "", m.renderTranscripts())
	}
	if m.showHelp {
		sections = append(sections, "", m.help.FullHelpView(m.keys.FullHelp()))
	} else {
		sections = append(sections, "", m.help.ShortHelpView(m.keys.ShortHelp()))
	}
	return appStyle.Render(lipgloss.JoinVertical(lipgloss.Center, sections...))
}

func (m Model) statusBadge() string {
	switch {
	case m.state.Connecting:
		return connectingBadge.Render("CONNECTING...")
	case m.state.Connected:
		return listeningBadge.Render("LISTENING")
	default:
		return readyBadge.Render("READY")
	}
}

func (m Model) hint() string {
	switch {
	case m.state.Connecting:
		return "Establishing connection... (esc to cancel)"
	case m.state.Connected:
		return "Press space to stop"
	default:
		return "Press space to start"
	}
}

func (m Model) renderTranscripts() string {
	lines := make([]string, 0, len(m.transcripts))
	for _, tr := range m.transcripts {
		text := strings.TrimSpace(tr.Text)
		if tr.Role == "user" {
			lines = append(lines, userStyle.Width(stageCols).Render("you  "+text))
		} else {
			lines = append(lines, modelStyle.Width(stageCols).Render("live "+text))
		}
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}
