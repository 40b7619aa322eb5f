package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"helix/config"
	"helix/domain"
	"helix/storage"
)

// SequencePickerState is the sequence library modal. The list itself lives
// in the store; this holds only cursor, filter and prompt state.
type SequencePickerState struct {
	selectedIdx int
	loading     bool

	filterMode  bool
	filterInput textinput.Model

	createMode bool
	nameInput  textinput.Model

	confirm ConfirmationState
}

func newSequencePickerState() SequencePickerState {
	filter := textinput.New()
	filter.Prompt = "/ "
	filter.CharLimit = 60

	name := textinput.New()
	name.Prompt = "Name: "
	name.Placeholder = "Leave empty for the default name"
	name.CharLimit = 120

	return SequencePickerState{filterInput: filter, nameInput: name}
}

func (s *SequencePickerState) reset() {
	s.selectedIdx = 0
	s.loading = false
	s.filterMode = false
	s.filterInput.SetValue("")
	s.filterInput.Blur()
	s.createMode = false
	s.nameInput.SetValue("")
	s.nameInput.Blur()
	s.confirm.Dismiss()
}

func (s SequencePickerState) visible(all []domain.OutreachSequence) []domain.OutreachSequence {
	return storage.FilterSequences(all, s.filterInput.Value())
}

func (a *AppView) openSequencePicker() tea.Cmd {
	a.closeAllModals()
	a.showSequencePicker = true
	a.sequencePicker.loading = true
	a.textarea.Blur()

	// Start the cursor on the active sequence
	current := a.currentSequenceID()
	for i, seq := range a.dataModel.Sequences {
		if seq.ID == current {
			a.sequencePicker.selectedIdx = i
		}
	}
	return a.dataModel.LoadSequences()
}

func (a *AppView) closeSequencePicker() {
	a.showSequencePicker = false
	a.sequencePicker.reset()
	a.restoreFocus()
}

func (a *AppView) handleSequencePickerKeys(msg tea.KeyMsg) tea.Cmd {
	p := &a.sequencePicker
	list := p.visible(a.dataModel.Sequences)

	// Delete confirmation takes precedence over everything else
	if p.confirm.Active {
		switch msg.String() {
		case "y", "Y":
			id := p.confirm.TargetID
			p.confirm.Dismiss()
			return a.dataModel.DeleteSequence(id)
		case "n", "N", "esc":
			p.confirm.Dismiss()
		}
		return nil
	}

	if p.createMode {
		switch msg.String() {
		case "esc":
			p.createMode = false
			p.nameInput.Blur()
			return nil
		case "enter":
			name := strings.TrimSpace(p.nameInput.Value())
			// An empty name lets the backend pick its default
			var fields domain.SequencePatch
			if name != "" {
				fields.Name = domain.String(name)
			}
			a.closeSequencePicker()
			return a.dataModel.CreateSequence(fields)
		}
		var cmd tea.Cmd
		p.nameInput, cmd = p.nameInput.Update(msg)
		return cmd
	}

	if p.filterMode {
		switch msg.String() {
		case "esc":
			p.filterMode = false
			p.filterInput.SetValue("")
			p.filterInput.Blur()
			p.selectedIdx = 0
			return nil
		case "enter":
			return a.pickSequence(list)
		case "alt+j", "down":
			p.move(1, len(list))
			return nil
		case "alt+k", "up":
			p.move(-1, len(list))
			return nil
		}
		// The list shrinks as the filter changes; restart at the top
		var cmd tea.Cmd
		p.filterInput, cmd = p.filterInput.Update(msg)
		p.selectedIdx = 0
		return cmd
	}

	switch msg.String() {
	case "esc", "alt+l", "q":
		a.closeSequencePicker()
	case "j", "down":
		p.move(1, len(list))
	case "k", "up":
		p.move(-1, len(list))
	case "g":
		p.selectedIdx = 0
	case "G":
		p.selectedIdx = max(len(list)-1, 0)
	case "/":
		p.filterMode = true
		return p.filterInput.Focus()
	case "n":
		p.createMode = true
		return p.nameInput.Focus()
	case "d":
		if p.selectedIdx < len(list) {
			seq := list[p.selectedIdx]
			p.confirm.Ask("⚠ Delete Sequence",
				fmt.Sprintf("Delete \"%s\" and all of its steps?", seq.Name),
				seq.ID)
		}
	case "x":
		return a.exportTranscript()
	case "enter":
		return a.pickSequence(list)
	}
	return nil
}

func (p *SequencePickerState) move(delta, n int) {
	if n == 0 {
		p.selectedIdx = 0
		return
	}
	p.selectedIdx = min(max(p.selectedIdx+delta, 0), n-1)
}

func (a *AppView) pickSequence(list []domain.OutreachSequence) tea.Cmd {
	if a.sequencePicker.selectedIdx >= len(list) {
		return nil
	}
	id := list[a.sequencePicker.selectedIdx].ID
	a.closeSequencePicker()
	// Already active, skip the round trip
	if id == a.currentSequenceID() {
		return nil
	}
	return a.dataModel.SelectSequence(id)
}

// exportTranscript writes the session and active sequence to the downloads
// directory and reports the path in the info modal.
func (a *AppView) exportTranscript() tea.Cmd {
	session := a.dataModel.Session
	if session == nil {
		return nil
	}

	snapshot := *session
	snapshot.Messages = append([]domain.ConversationEntry(nil), a.dataModel.Entries...)
	t := storage.Transcript{ExportedAt: time.Now().UTC(), Session: &snapshot}
	name := "session"
	if seq := a.dataModel.Sequence; seq != nil {
		cp := *seq
		t.Sequence = &cp
		name = seq.Name
	}
	path := storage.GenerateExportPath(name)

	return func() tea.Msg {
		err := storage.ExportTranscript(t, path)
		if err != nil {
			config.Log.Error("transcript export failed", zap.String("path", path), zap.Error(err))
		}
		return transcriptExportedMsg{Path: path, Err: err}
	}
}

func renderSequencePicker(p SequencePickerState, all []domain.OutreachSequence, currentID string, width, height int) string {
	if p.confirm.Active {
		return RenderConfirmationModal(p.confirm, width, height)
	}

	modalWidth := min(width-10, 100)
	list := p.visible(all)

	if p.createMode {
		lines := []string{
			lipgloss.NewStyle().Width(modalWidth).Render("  " + p.nameInput.View()),
		}
		return RenderThreeSectionModal("New Sequence", lines, FormatFooter("Enter", "Create", "Esc", "Back"), ModalTypeInfo, modalWidth, width, height)
	}

	var header string
	switch {
	case p.filterMode:
		header = p.filterInput.View()
	case p.loading && len(all) == 0:
		header = "Loading sequences..."
	case len(list) == len(all):
		header = fmt.Sprintf("%d sequences", len(all))
	default:
		header = fmt.Sprintf("%d of %d sequences", len(list), len(all))
	}

	headerSection := lipgloss.NewStyle().
		Foreground(dimColor).
		Align(lipgloss.Center).
		Width(modalWidth).
		BorderTop(true).
		BorderBottom(true).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(dimColor).
		Render(header)

	maxLines := max(height-14, 3)
	var lines []string

	if len(list) == 0 {
		emptyMsg := "No sequences yet. Press n to create one, or just start chatting."
		if p.filterMode {
			emptyMsg = "No matches found"
		}
		lines = append(lines, lipgloss.NewStyle().
			Foreground(dimColor).
			Italic(true).
			Align(lipgloss.Center).
			Width(modalWidth).
			Render(emptyMsg))
	}

	start, end := 0, len(list)
	if len(list) > maxLines {
		start = min(max(p.selectedIdx-maxLines/2, 0), len(list)-maxLines)
		end = start + maxLines
	}

	for i := start; i < end; i++ {
		seq := list[i]
		indicator := "  "
		nameStyle := lipgloss.NewStyle()
		if i == p.selectedIdx {
			indicator = "▶ "
			nameStyle = nameStyle.Foreground(successColor).Bold(true)
		} else if seq.ID == currentID {
			nameStyle = nameStyle.Foreground(accentColor).Bold(true)
		}

		right := fmt.Sprintf("%d steps  %8s", len(seq.Steps), formatTimeAgo(seq.UpdatedAt.Time))
		marker := ""
		if seq.ID == currentID {
			marker = " (current)"
		}

		nameWidth := modalWidth - 8 - len(right) - len(marker)
		left := indicator + nameStyle.Render(truncate(seq.Name, nameWidth)) + DimStyle.Render(marker)
		spacing := max(modalWidth-4-lipgloss.Width(left)-len(right), 2)

		line := "  " + left + strings.Repeat(" ", spacing) + DimStyle.Render(right)
		lines = append(lines, lipgloss.NewStyle().Width(modalWidth).Render(line))
	}

	blank := strings.Repeat(" ", modalWidth)
	lines = append([]string{blank}, lines...)
	lines = append(lines, blank)

	var footer string
	if p.filterMode {
		footer = FormatFooter("Type", "to filter", "Alt+J/K", "Navigate", "Enter", "Open", "Esc", "Cancel")
	} else {
		footer = FormatFooter("/", "Filter", "j/k", "Navigate", "Enter", "Open", "n", "New", "d", "Delete", "x", "Export", "Esc", "Close")
	}
	footerSection := lipgloss.NewStyle().
		Align(lipgloss.Center).
		Width(modalWidth).
		BorderTop(true).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(dimColor).
		Render(footer)

	title := lipgloss.NewStyle().
		Bold(true).
		Align(lipgloss.Center).
		Width(modalWidth).
		Render("Sequences")

	sections := append([]string{title, headerSection}, lines...)
	sections = append(sections, footerSection)

	return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center, strings.Join(sections, "\n"))
}
