package ui

import "github.com/charmbracelet/lipgloss"

// ConfirmationState backs a y/n prompt about one target entity.
type ConfirmationState struct {
	Active   bool
	Title    string
	Message  string
	TargetID  string
}

func (c *ConfirmationState) Ask(title, message, targetID string) {
	c.Active = true
	c.Title = title
	c.Message = message
	c.TargetID = targetID
}

func (c *ConfirmationState) Dismiss() {
	*c = ConfirmationState{}
}

func RenderConfirmationModal(state ConfirmationState, width, height int) string {
	modalWidth := modalWidthFor(60, width)

	lines := centeredLines(state.Message, modalWidth)
	lines = append(lines, "")
	lines = append(lines, lipgloss.NewStyle().
		Width(modalWidth).
		Align(lipgloss.Center).
		Foreground(dimColor).
		Render("This cannot be undone."))

	return RenderThreeSectionModal(
		state.Title,
		lines,
		FormatFooter("y", "Yes", "n", "No"),
		ModalTypeWarning,
		modalWidth,
		width,
		height,
	)
}
