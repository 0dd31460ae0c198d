package tui

import "github.com/charmbracelet/lipgloss"

var (
	ember   = lipgloss.Color("#ff4e00")
	rust    = lipgloss.Color("#3a1510")
	text    = lipgloss.Color("#f5f5f5")
	subtext = lipgloss.Color("#8a8580")
	amber   = lipgloss.Color("#fcd34d")
	emerald = lipgloss.Color("#6ee7b7")
	red     = lipgloss.Color("#fca5a5")

	appStyle = lipgloss.NewStyle().
			Foreground(text).
			Padding(1, 2)

	titleStyle    = lipgloss.NewStyle().Foreground(text).Bold(true)
	subtitleStyle = lipgloss.NewStyle().Foreground(subtext)
	ringStyle     = lipgloss.NewStyle().Foreground(ember)

	stageStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(rust)

	badgeStyle = lipgloss.NewStyle().
			Padding(0, 1).
			Bold(true).
			BorderStyle(lipgloss.RoundedBorder())

	readyBadge      = badgeStyle.Foreground(subtext).BorderForeground(subtext)
	connectingBadge = badgeStyle.Foreground(amber).BorderForeground(amber)
	listeningBadge  = badgeStyle.Foreground(emerald).BorderForeground(emerald)

	hintStyle = lipgloss.NewStyle().Foreground(subtext)

	errorStyle = lipgloss.NewStyle().
			Foreground(red).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(red).
			Padding(0, 1)

	userStyle  = lipgloss.NewStyle().Foreground(subtext)
	modelStyle = lipgloss.NewStyle().Foreground(ember)
)
