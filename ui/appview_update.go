package ui

import (
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"helix/config"
	"helix/domain"
	appmodel "helix/model"
)

// Rows taken by everything except the conversation viewport: title,
// separator, status bar and the three-line textarea.
const chromeHeight = 6

func (a AppView) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.layout(msg.Width, msg.Height)
		a.ready = true
		return a, a.refresh(true)

	case spinner.TickMsg:
		// Spinner first: it drives the loading title, pending markers and tool entries
		var cmd tea.Cmd
		a.loadingSpinner, cmd = a.loadingSpinner.Update(msg)
		if a.hasActivity() {
			// Redraw only while something animates, otherwise every tick re-wraps the log
			a.updateViewportContent(a.viewport.AtBottom())
		}
		return a, cmd

	case appmodel.ShutdownCompleteMsg:
		if msg.Err != nil {
			config.Log.Warn("shutdown finished with error", zap.Error(msg.Err))
		}
		return a, tea.Quit

	case appmodel.InitializedMsg,
		appmodel.MessageSentMsg,
		appmodel.SequenceUpdatedMsg,
		appmodel.StepUpdatedMsg,
		appmodel.UserUpdatedMsg,
		appmodel.SequencesListedMsg,
		appmodel.SequenceSelectedMsg,
		appmodel.SequenceCreatedMsg,
		appmodel.SequenceDeletedMsg,
		appmodel.PushEventMsg,
		appmodel.PublishFailedMsg:
		return a, a.applyStoreMessage(msg)

	case flashTickMsg, markdownRenderedMsg, clipboardMsg, transcriptExportedMsg, statusNoteExpiredMsg:
		return a.handleUIMessage(msg)

	case tea.KeyMsg:
		// PRIORITY 0: quit and modal toggles
		if cmd, handled := a.handleGlobalKeys(msg); handled {
			return a, cmd
		}
		// PRIORITY 1: whichever modal is on top (order matches View)
		if cmd, handled := a.handleModalKeys(msg); handled {
			return a, cmd
		}
		// PRIORITY 2: the focused panel
		if a.focus == focusWorkspace {
			return a, a.handleWorkspaceKeys(msg)
		}
		if cmd, handled := a.handleChatKeys(msg); handled {
			return a, cmd
		}
	}

	// Everything else (cursor blink, typing) belongs to the focused input
	if a.focus == focusChat && !a.modalOpen() {
		var cmd tea.Cmd
		a.textarea, cmd = a.textarea.Update(msg)
		cmds = append(cmds, cmd)
	}
	// Rename lives inside the workspace panel, not a modal, so it gets its own input pass
	if a.renameMode {
		var cmd tea.Cmd
		a.renameInput, cmd = a.renameInput.Update(msg)
		cmds = append(cmds, cmd)
	}

	return a, tea.Batch(cmds...)
}

func (a *AppView) layout(width, height int) {
	a.width = width
	a.height = height

	// Chat gets three fifths of the width, the workspace the rest
	a.chatWidth = width * 3 / 5
	a.workWidth = width - a.chatWidth

	viewportHeight := max(height-chromeHeight, 3)
	a.viewport.Width = a.chatWidth - 1
	a.viewport.Height = viewportHeight
	a.textarea.SetWidth(a.chatWidth - 2)

	// Panel border and padding take three columns
	a.workspace.Width = max(a.workWidth-3, 10)
	a.workspace.Height = viewportHeight + a.textarea.Height()
}

// applyStoreMessage hands a protocol result to the store, then reacts to
// what changed.
func (a *AppView) applyStoreMessage(msg tea.Msg) tea.Cmd {
	// Follow the conversation only if the user was already at the bottom;
	// a search jump keeps its position while the match is highlighted
	atBottom := a.viewport.AtBottom() || a.viewport.TotalLineCount() <= a.viewport.Height
	followUp := a.dataModel.Update(msg)
	gotoBottom := atBottom && a.highlightedEntryID == ""

	switch msg := msg.(type) {
	case appmodel.InitializedMsg:
		if msg.Err != nil {
			a.showErrorModal = true
			a.errorModalMsg = "Could not start a session with the Helix backend.\n\n" + msg.Err.Error()
		}
		gotoBottom = true

	case appmodel.MessageSentMsg:
		gotoBottom = true

	case appmodel.SequencesListedMsg:
		// Keep the cursor on a row that still exists
		a.sequencePicker.loading = false
		n := len(a.sequencePicker.visible(a.dataModel.Sequences))
		a.sequencePicker.selectedIdx = min(a.sequencePicker.selectedIdx, max(n-1, 0))

	case appmodel.SequenceDeletedMsg:
		n := len(a.sequencePicker.visible(a.dataModel.Sequences))
		a.sequencePicker.selectedIdx = min(a.sequencePicker.selectedIdx, max(n-1, 0))

	case appmodel.SequenceSelectedMsg, appmodel.SequenceCreatedMsg:
		// A different sequence: start from its first step
		a.selectedStepID = ""
		a.workspace.GotoTop()
	}

	return tea.Batch(followUp, a.refresh(gotoBottom))
}

// handleGlobalKeys covers shortcuts that work over any modal or panel.
func (a *AppView) handleGlobalKeys(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch msg.String() {
	case "alt+q", "ctrl+c":
		// A second press skips the graceful close
		if a.quitIssued {
			return tea.Quit, true
		}
		a.quitIssued = true
		config.Log.Info("shutting down")
		return a.dataModel.Shutdown(), true
	}

	// Closing: swallow everything until ShutdownCompleteMsg
	if a.quitIssued {
		return nil, true
	}

	// Text inputs inside modals own every other key
	if a.showStepEditor || a.showMessageSearch || a.renameMode ||
		a.sequencePicker.filterMode || a.sequencePicker.createMode {
		return nil, false
	}

	switch msg.String() {
	case "alt+h":
		show := !a.showHelp
		a.closeAllModals()
		a.showHelp = show
		return nil, true
	case "alt+a":
		show := !a.showAbout
		a.closeAllModals()
		a.showAbout = show
		return nil, true
	case "alt+l":
		if a.showSequencePicker {
			a.closeSequencePicker()
			return nil, true
		}
		return a.openSequencePicker(), true
	case "alt+f":
		return a.openMessageSearch(), true
	case "alt+r":
		return a.startRename(), true
	case "alt+x":
		a.dataModel.ClearError()
		return nil, true
	}
	return nil, false
}

func (a *AppView) handleChatKeys(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch msg.String() {
	case "tab":
		if a.dataModel.Sequence == nil {
			return nil, true
		}
		a.setFocus(focusWorkspace)
		return nil, true

	case "enter":
		text := a.textarea.Value()
		if text == "" {
			return nil, true
		}
		// Whitespace-only input yields no command; keep it in the box
		cmd := a.dataModel.SendMessage(text)
		if cmd == nil {
			return nil, true
		}
		a.textarea.Reset()
		return tea.Batch(cmd, a.refresh(true)), true

	case "alt+y":
		reply, ok := a.lastReply()
		if !ok {
			return nil, true
		}
		return copyToClipboard("last reply", reply), true

	case "pgup":
		a.viewport.HalfViewUp()
		return nil, true
	case "pgdown":
		a.viewport.HalfViewDown()
		return nil, true
	case "alt+up":
		a.viewport.LineUp(1)
		return nil, true
	case "alt+down":
		a.viewport.LineDown(1)
		return nil, true
	case "alt+g":
		a.viewport.GotoTop()
		return nil, true
	case "alt+G":
		a.viewport.GotoBottom()
		return nil, true
	}
	return nil, false
}

func (a AppView) modalOpen() bool {
	return a.showErrorModal || a.showInfoModal || a.showHelp || a.showAbout ||
		a.showStepEditor || a.showSequencePicker || a.showMessageSearch || a.renameMode
}

// hasActivity reports whether anything on screen animates with the spinner.
func (a AppView) hasActivity() bool {
	if a.dataModel.Loading {
		return true
	}
	for _, e := range a.dataModel.Entries {
		if e.Pending {
			return true
		}
		if e.ToolCall != nil && e.ToolCall.Status == domain.ToolInvoking {
			return true
		}
	}
	return false
}
