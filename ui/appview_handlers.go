package ui

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"helix/domain"
)

// handleModalKeys routes a key to whichever modal is open. The second
// result is false when no modal is showing.
func (a *AppView) handleModalKeys(msg tea.KeyMsg) (tea.Cmd, bool) {
	// Order matches View: the modal drawn on top gets the key
	switch {
	case a.showErrorModal:
		if msg.String() == "enter" || msg.String() == "esc" {
			a.showErrorModal = false
			a.errorModalMsg = ""
		}
		return nil, true

	case a.showInfoModal:
		if msg.String() == "enter" || msg.String() == "esc" {
			a.showInfoModal = false
			a.infoModalTitle = ""
			a.infoModalMsg = ""
		}
		return nil, true

	case a.showHelp:
		if msg.String() == "esc" || msg.String() == "alt+h" {
			a.showHelp = false
		}
		return nil, true

	case a.showAbout:
		if msg.String() == "esc" || msg.String() == "alt+a" {
			a.showAbout = false
		}
		return nil, true

	case a.showStepEditor:
		return a.handleStepEditorKeys(msg), true

	case a.showSequencePicker:
		return a.handleSequencePickerKeys(msg), true

	case a.showMessageSearch:
		return a.handleMessageSearchKeys(msg), true

	case a.renameMode:
		return a.handleRenameKeys(msg), true
	}
	return nil, false
}

func (a *AppView) startRename() tea.Cmd {
	seq := a.dataModel.Sequence
	if seq == nil {
		return nil
	}
	a.closeAllModals()
	a.renameMode = true
	a.renameInput.SetValue(seq.Name)
	a.renameInput.CursorEnd()
	a.textarea.Blur()
	return a.renameInput.Focus()
}

func (a *AppView) endRename() {
	a.renameMode = false
	a.renameInput.Blur()
	a.restoreFocus()
}

func (a *AppView) handleRenameKeys(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "esc":
		a.endRename()
		return nil

	case "enter":
		name := strings.TrimSpace(a.renameInput.Value())
		a.endRename()
		// Nothing to send for an empty or unchanged name
		if name == "" || a.dataModel.Sequence == nil || name == a.dataModel.Sequence.Name {
			return nil
		}
		return a.dataModel.UpdateSequence(domain.SequencePatch{Name: domain.String(name)})

	case "alt+u":
		a.renameInput.SetValue("")
		return nil
	}

	var cmd tea.Cmd
	a.renameInput, cmd = a.renameInput.Update(msg)
	return cmd
}

func (a *AppView) openStepEditor() tea.Cmd {
	step, ok := a.dataModel.Sequence.Step(a.selectedStepID)
	if !ok {
		return nil
	}
	a.closeAllModals()
	a.stepEditor.Open(step, a.width)
	a.showStepEditor = true
	return nil
}

func (a *AppView) handleStepEditorKeys(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "esc":
		a.showStepEditor = false
		return nil

	case "ctrl+s":
		patch, err := a.stepEditor.Patch()
		if err != nil {
			// Keep the form open with the message under it
			a.stepEditor.err = err.Error()
			return nil
		}
		a.showStepEditor = false
		// Saving an untouched form is a plain close
		if patch.IsEmpty() {
			return nil
		}
		return a.dataModel.UpdateStep(a.stepEditor.StepID(), patch)
	}

	return a.stepEditor.Update(msg)
}

// handleWorkspaceKeys drives the step list when the workspace has focus.
func (a *AppView) handleWorkspaceKeys(msg tea.KeyMsg) tea.Cmd {
	steps := a.dataModel.Sequence.OrderedSteps()
	idx := a.selectedStepIndex(steps)

	switch msg.String() {
	case "j", "down":
		if idx < len(steps)-1 {
			a.selectedStepID = steps[idx+1].ID
		}
	case "k", "up":
		if idx > 0 {
			a.selectedStepID = steps[idx-1].ID
		}
	case "g", "home":
		if len(steps) > 0 {
			a.selectedStepID = steps[0].ID
		}
	case "G", "end":
		if len(steps) > 0 {
			a.selectedStepID = steps[len(steps)-1].ID
		}
	case "ctrl+d":
		a.workspace.HalfViewDown()
		return nil
	case "ctrl+u":
		a.workspace.HalfViewUp()
		return nil
	case "enter", "e":
		return a.openStepEditor()
	case "c":
		step, ok := a.dataModel.Sequence.Step(a.selectedStepID)
		if !ok {
			return nil
		}
		// Email steps copy with their subject line so they paste ready to send
		text := step.Content
		if step.HasSubject() && step.Subject != "" {
			text = "Subject: " + step.Subject + "\n\n" + text
		}
		return copyToClipboard("step", text)
	case "esc":
		a.setFocus(focusChat)
		return nil
	default:
		return nil
	}

	// Selection moved: redraw so the marker and scroll follow it
	a.updateWorkspaceContent()
	return nil
}

func (a *AppView) setFocus(f focusArea) {
	a.focus = f
	a.restoreFocus()
	a.updateWorkspaceContent()
}

// restoreFocus puts the cursor back where the focused panel expects it.
func (a *AppView) restoreFocus() {
	if a.focus == focusChat {
		a.textarea.Focus()
		return
	}
	a.textarea.Blur()
}

// lastReply returns the newest assistant text, skipping tool entries.
func (a AppView) lastReply() (string, bool) {
	entries := a.dataModel.Entries
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.Role == domain.RoleAssistant && e.ToolCall == nil && e.Content != "" {
			return e.Content, true
		}
	}
	return "", false
}
