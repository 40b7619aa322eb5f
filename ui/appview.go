package ui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	appmodel "helix/model"
	"helix/storage"
)

type focusArea int

const (
	focusChat focusArea = iota
	focusWorkspace
)

type renderedEntry struct {
	source   string
	width    int
	rendered string
}

type AppView struct {
	// Reference to core data model
	dataModel *appmodel.Model

	// UI Components
	viewport  viewport.Model // conversation log
	workspace viewport.Model // active sequence
	textarea  textarea.Model

	// Window state
	width      int
	height     int
	chatWidth  int
	workWidth  int
	ready      bool
	focus      focusArea
	quitIssued bool

	loadingSpinner spinner.Model

	// Markdown cache for assistant entries, keyed by entry id
	rendered     map[string]renderedEntry
	entryOffsets map[string]int

	// Workspace selection, by step id so it survives replacement
	selectedStepID string
	stepOffsets    map[string]int

	showHelp  bool
	showAbout bool

	// Step editor
	showStepEditor bool
	stepEditor     StepEditorState

	// Inline rename of the active sequence
	renameMode  bool
	renameInput textinput.Model

	showSequencePicker bool
	sequencePicker     SequencePickerState

	showMessageSearch      bool
	messageSearchInput     textinput.Model
	messageSearchResults   []storage.EntryMatch
	selectedSearchIdx      int
	messageSearchScrollIdx int

	highlightedEntryID  string
	highlightFlashCount int

	// Acknowledge modal for store errors
	showErrorModal bool
	errorModalMsg  string

	// Short-lived confirmation shown in the status bar
	statusNote string

	// Info modal state (for simple notifications)
	showInfoModal  bool
	infoModalTitle string
	infoModalMsg   string
}

func NewAppView(dataModel *appmodel.Model) AppView {
	ta := textarea.New()
	ta.Placeholder = "Describe the role, company and ideal candidate..."
	ta.Focus()
	ta.CharLimit = 0
	ta.ShowLineNumbers = false
	ta.SetHeight(3)
	ta.SetWidth(80)

	// Alt+Enter for newline, Enter alone sends
	ta.KeyMap.InsertNewline = key.NewBinding(key.WithKeys("alt+enter"))

	ta.SetPromptFunc(2, func(lineIdx int) string {
		if lineIdx == 0 {
			return "> "
		}
		return "| "
	})

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	renameInput := textinput.New()
	renameInput.Prompt = "Name: "
	renameInput.CharLimit = 120

	messageSearchInput := textinput.New()
	messageSearchInput.Prompt = "Search: "
	messageSearchInput.CharLimit = 100

	return AppView{
		dataModel:          dataModel,
		textarea:           ta,
		viewport:           viewport.New(0, 0),
		workspace:          viewport.New(0, 0),
		loadingSpinner:     sp,
		rendered:           make(map[string]renderedEntry),
		entryOffsets:       make(map[string]int),
		stepOffsets:        make(map[string]int),
		renameInput:        renameInput,
		messageSearchInput: messageSearchInput,
		sequencePicker:     newSequencePickerState(),
		stepEditor:         newStepEditorState(),
	}
}

func (a AppView) Init() tea.Cmd {
	return tea.Batch(
		textarea.Blink,
		a.loadingSpinner.Tick,
		a.dataModel.Init(),
	)
}

func (a AppView) View() string {
	if !a.ready {
		return "Loading Helix..."
	}

	if a.quitIssued {
		return renderSpinner("Closing connection...", a.loadingSpinner.View(), a.width, a.height)
	}

	// Modal rendering order (top to bottom layers)
	if a.showErrorModal {
		return RenderAcknowledgeModal("⚠  Something went wrong", a.errorModalMsg, ModalTypeError, a.width, a.height)
	}

	if a.showInfoModal {
		return RenderAcknowledgeModal(a.infoModalTitle, a.infoModalMsg, ModalTypeInfo, a.width, a.height)
	}

	if a.showHelp {
		return renderHelpModal(a.width, a.height)
	}

	if a.showAbout {
		return renderAboutModal(a.width, a.height, a.dataModel.Version)
	}

	if a.showStepEditor {
		return renderStepEditor(a.stepEditor, a.width, a.height)
	}

	if a.showSequencePicker {
		return renderSequencePicker(a.sequencePicker, a.dataModel.Sequences, a.currentSequenceID(), a.width, a.height)
	}

	if a.showMessageSearch {
		return renderMessageSearch(a.messageSearchInput, a.messageSearchResults, a.selectedSearchIdx, a.messageSearchScrollIdx, a.width, a.height)
	}

	title := a.renderTitle()

	chat := lipgloss.JoinVertical(lipgloss.Left,
		a.viewport.View(),
		a.textarea.View(),
	)

	panel := PanelStyle
	if a.focus == focusWorkspace {
		panel = panel.BorderForeground(accentColor)
	}
	work := panel.Height(a.viewport.Height + a.textarea.Height()).Render(a.renameOrWorkspace())

	body := lipgloss.JoinHorizontal(lipgloss.Top,
		lipgloss.NewStyle().Width(a.chatWidth).Render(chat),
		work,
	)

	return lipgloss.JoinVertical(
		lipgloss.Left,
		title,
		"",
		body,
		a.renderStatusBar(),
	)
}

func (a AppView) renameOrWorkspace() string {
	if !a.renameMode {
		return a.workspace.View()
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		TitleStyle.Render("Rename sequence"),
		"",
		a.renameInput.View(),
		"",
		DimStyle.Render(FormatFooter("Enter", "Save", "Esc", "Cancel")),
	)
}

func (a AppView) renderTitle() string {
	helix := AssistantStyle.Bold(true).Render("Helix")

	name := "No sequence"
	if seq := a.dataModel.Sequence; seq != nil && seq.Name != "" {
		name = seq.Name
	}
	title := helix + UserStyle.Render(fmt.Sprintf(" - %s", name))

	if a.dataModel.Loading {
		title += DimStyle.Render(" | " + a.loadingSpinner.View() + " connecting")
	} else if a.dataModel.PushOnline {
		title += lipgloss.NewStyle().Foreground(successColor).Render(" | ● live")
	} else {
		title += lipgloss.NewStyle().Foreground(warningColor).Render(" | ○ offline")
	}
	return title
}

func (a AppView) renderStatusBar() string {
	if err := a.dataModel.LastError; err != nil {
		return ErrorStyle.Render("✗ "+truncate(err.Error(), a.width-20)) + StatusStyle.Render("  Alt+X dismiss")
	}

	if a.statusNote != "" {
		return lipgloss.NewStyle().Foreground(successColor).Render("✓ " + a.statusNote)
	}

	descStyle := lipgloss.NewStyle().Foreground(successColor).Bold(true)
	statusBar := fmt.Sprintf("Alt+Q %s  Tab %s  Alt+L %s  Alt+R %s  Alt+F %s  Enter %s  Alt+Y %s  Alt+H %s",
		descStyle.Render("Quit"),
		descStyle.Render("Focus"),
		descStyle.Render("Sequences"),
		descStyle.Render("Rename"),
		descStyle.Render("Search"),
		descStyle.Render("Send"),
		descStyle.Render("Copy"),
		descStyle.Render("Help"),
	)
	return StatusStyle.Render(statusBar)
}

func (a AppView) currentSequenceID() string {
	if a.dataModel.Sequence == nil {
		return ""
	}
	return a.dataModel.Sequence.ID
}

func (a *AppView) closeAllModals() {
	a.showHelp = false
	a.showAbout = false
	a.showInfoModal = false
	a.showStepEditor = false
	a.showSequencePicker = false
	a.showMessageSearch = false
	a.renameMode = false

	a.sequencePicker.reset()

	if a.renameInput.Focused() {
		a.renameInput.Blur()
	}
	if a.messageSearchInput.Focused() {
		a.messageSearchInput.Blur()
	}
}
