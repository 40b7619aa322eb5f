package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"helix/domain"
	"helix/storage"
)

// Rough height of one rendered result including its blank separator.
const linesPerResult = 4

func (a *AppView) openMessageSearch() tea.Cmd {
	a.closeAllModals()
	a.showMessageSearch = true
	a.messageSearchInput.SetValue("")
	a.messageSearchResults = nil
	a.selectedSearchIdx = 0
	a.messageSearchScrollIdx = 0
	a.textarea.Blur()
	return a.messageSearchInput.Focus()
}

func (a *AppView) closeMessageSearch() {
	a.showMessageSearch = false
	a.messageSearchInput.Blur()
	a.restoreFocus()
}

func (a AppView) visibleSearchResults() int {
	// 16 rows of modal chrome: border, padding, title, input, counters, footer
	return max((a.height-16)/linesPerResult, 1)
}

func (a *AppView) handleMessageSearchKeys(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "esc", "alt+f":
		a.closeMessageSearch()
		return nil

	case "alt+j", "down":
		if a.selectedSearchIdx < len(a.messageSearchResults)-1 {
			a.selectedSearchIdx++
			// Scroll down if selection moves past visible area
			if a.selectedSearchIdx >= a.messageSearchScrollIdx+a.visibleSearchResults() {
				a.messageSearchScrollIdx++
			}
		}
		return nil

	case "alt+k", "up":
		if a.selectedSearchIdx > 0 {
			a.selectedSearchIdx--
			// Scroll up if selection moves above visible area
			if a.selectedSearchIdx < a.messageSearchScrollIdx {
				a.messageSearchScrollIdx = a.selectedSearchIdx
			}
		}
		return nil

	case "enter":
		if a.selectedSearchIdx >= len(a.messageSearchResults) {
			return nil
		}
		match := a.messageSearchResults[a.selectedSearchIdx]
		a.closeMessageSearch()
		return a.jumpToEntry(match.EntryID)
	}

	// Any other key edits the query; search again and reset the cursor
	var cmd tea.Cmd
	a.messageSearchInput, cmd = a.messageSearchInput.Update(msg)
	a.messageSearchResults = storage.SearchEntries(a.dataModel.Entries, a.messageSearchInput.Value())
	a.selectedSearchIdx = 0
	a.messageSearchScrollIdx = 0
	return cmd
}

// jumpToEntry scrolls the conversation to an entry and flashes a marker on it.
func (a *AppView) jumpToEntry(entryID string) tea.Cmd {
	a.highlightedEntryID = entryID
	a.highlightFlashCount = 1
	// Offsets are only current after a redraw
	a.updateViewportContent(false)
	if off, ok := a.entryOffsets[entryID]; ok {
		a.viewport.SetYOffset(off)
	}
	return flashTick()
}

func renderMessageSearch(searchInput textinput.Model, results []storage.EntryMatch, selectedIdx, scrollIdx, width, height int) string {
	modalWidth := min(width-4, 100)

	modalStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(dimColor).
		Padding(1, 2)

	title := TitleStyle.Render("🔍 Search Conversation")

	var resultsView strings.Builder
	switch {
	case len(results) == 0 && searchInput.Value() == "":
		resultsView.WriteString(DimStyle.Render("Type to search the conversation..."))
	case len(results) == 0:
		resultsView.WriteString(DimStyle.Render("No matches found"))
	default:
		visible := max((height-16)/linesPerResult, 1)
		end := min(scrollIdx+visible, len(results))

		fmt.Fprintf(&resultsView, "Found %d matches:\n\n", len(results))
		if scrollIdx > 0 {
			resultsView.WriteString(DimStyle.Render(fmt.Sprintf("↑ %d more above", scrollIdx)) + "\n\n")
		}

		for i := scrollIdx; i < end; i++ {
			match := results[i]

			roleStyle, roleName := UserStyle, "You"
			if match.Role == domain.RoleAssistant {
				roleStyle, roleName = AssistantStyle, "Helix"
			}

			text := fmt.Sprintf("%s [%s]\n  %s",
				roleStyle.Render(roleName),
				match.Timestamp.Local().Format("Jan 2, 3:04 PM"),
				truncate(match.Preview, modalWidth-10),
			)
			if i == selectedIdx {
				text = SelectedStyle.Render("> ") + text
			} else {
				text = "  " + text
			}
			resultsView.WriteString(text + "\n\n")
		}

		if end < len(results) {
			resultsView.WriteString(DimStyle.Render(fmt.Sprintf("↓ %d more below", len(results)-end)))
		}
	}

	footer := FormatFooter("Type", "to search", "Alt+J/K", "Navigate", "Enter", "Jump", "Esc", "Close")

	content := lipgloss.JoinVertical(
		lipgloss.Left,
		title,
		"",
		searchInput.View(),
		"",
		resultsView.String(),
		"",
		footer,
	)

	return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center,
		modalStyle.Width(modalWidth).Render(content))
}
