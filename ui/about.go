package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

const asciiArt = ` _          _ _
| |__   ___| (_)_  __
| '_ \ / _ \ | \ \/ /
| | | |  __/ | |>  <
|_| |_|\___|_|_/_/\_\`

var features = []string{
	"• Draft recruiting outreach by chatting",
	"• Email, LinkedIn and phone steps with timing",
	"• Live sync with every open client",
	"• Edit any step in place",
}

func renderAboutModal(width, height int, version string) string {
	var sb strings.Builder

	asciiStyle := lipgloss.NewStyle().
		Foreground(successColor).
		Bold(true)

	sb.WriteString(asciiStyle.Render(asciiArt))
	sb.WriteString("\n\n\n")

	featureStyle := lipgloss.NewStyle().Foreground(dimColor)
	for _, feature := range features {
		sb.WriteString(featureStyle.Render(feature))
		sb.WriteString("\n")
	}
	sb.WriteString("\n\n")

	labelStyle := lipgloss.NewStyle().
		Foreground(accentColor).
		Bold(true)

	if version == "" {
		version = "dev"
	}
	sb.WriteString(labelStyle.Render("Version: "))
	sb.WriteString(version)
	sb.WriteString("\n\n\n")

	sb.WriteString(featureStyle.Render("Press Esc or Alt+A to close"))
	sb.WriteString("\n")

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("8")).
		Padding(1, 2)

	return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center, boxStyle.Render(sb.String()))
}
