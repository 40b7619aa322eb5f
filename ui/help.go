package ui

import (
	"github.com/charmbracelet/lipgloss"
)

func renderHelpModal(width, height int) string {
	green := lipgloss.NewStyle().
		Bold(true).
		Foreground(successColor)

	title := green.Render("Helix - Keyboard Shortcuts")

	blue := lipgloss.NewStyle().Foreground(accentColor)

	globalActions := lipgloss.JoinVertical(
		lipgloss.Left,
		blue.Render("## Global Actions"),
		"• Alt+L         Sequences",
		"• Alt+R         Rename sequence",
		"• Alt+F         Search conversation",
		"• Alt+X         Dismiss error",
		"• Alt+A         About",
		"• Alt+H         Toggle this help",
		"• Alt+Q         Quit",
		"• Tab           Switch chat/workspace",
	)

	chatActions := lipgloss.JoinVertical(
		lipgloss.Left,
		blue.Render("## Chat"),
		"• Enter         Send message",
		"• Alt+Enter     New line",
		"• Alt+Y         Copy last reply",
		"• PgUp/PgDn     Scroll conversation",
	)

	workspace := lipgloss.JoinVertical(
		lipgloss.Left,
		blue.Render("## Workspace"),
		"• j/k           Select step",
		"• Enter / e     Edit step",
		"• c             Copy step content",
		"• g / G         First / last step",
	)

	tips := lipgloss.JoinVertical(
		lipgloss.Left,
		blue.Render("## Tips"),
		"• Tell Helix the role, company and persona",
		"• Ask it to rename the sequence any time",
		"• Edits from other clients show up live",
	)

	column1 := lipgloss.JoinVertical(
		lipgloss.Left,
		globalActions,
		"",
		tips,
	)

	column2 := lipgloss.JoinVertical(
		lipgloss.Left,
		chatActions,
		"",
		workspace,
	)

	columnStyle := lipgloss.NewStyle().Width(46).PaddingLeft(4)

	twoColumns := lipgloss.JoinHorizontal(
		lipgloss.Top,
		columnStyle.Render(column1),
		"  ",
		columnStyle.Render(column2),
	)

	footer := lipgloss.NewStyle().
		Foreground(dimColor).
		Render("Press Alt+H or Esc to close this help")

	content := lipgloss.JoinVertical(
		lipgloss.Center,
		title,
		"",
		twoColumns,
		"",
		footer,
	)

	helpBox := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("8")).
		Padding(1, 2)

	return lipgloss.Place(
		width,
		height,
		lipgloss.Center,
		lipgloss.Center,
		helpBox.Render(content),
	)
}
