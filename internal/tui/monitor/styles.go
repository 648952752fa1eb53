package monitor

import "github.com/charmbracelet/lipgloss"

var (
	mutedColor   = lipgloss.Color("241")
	successColor = lipgloss.Color("42")
	warningColor = lipgloss.Color("214")
	errorColor   = lipgloss.Color("196")

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	panelTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Background(lipgloss.Color("237")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	titleStyle     = lipgloss.NewStyle().Bold(true)
	subtleStyle    = lipgloss.NewStyle().Foreground(mutedColor)
	helpStyle      = lipgloss.NewStyle().Foreground(mutedColor)
	timestampStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))

	onlineStyle  = lipgloss.NewStyle().Foreground(successColor).Bold(true)
	offlineStyle = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
	pendingStyle = lipgloss.NewStyle().Foreground(warningColor)
	doneStyle    = lipgloss.NewStyle().Foreground(mutedColor).Strikethrough(true)
)
