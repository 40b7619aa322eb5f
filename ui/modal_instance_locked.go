package ui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
)

// InstanceLockedModal is shown when another Helix client holds the data
// directory lock. The user can exit or force delete the stale lock file.
type InstanceLockedModal struct {
	runningPID  int
	width       int
	height      int
	forceDelete bool
}

func NewInstanceLockedModal(runningPID int) InstanceLockedModal {
	return InstanceLockedModal{runningPID: runningPID}
}

func (m InstanceLockedModal) Init() tea.Cmd {
	return nil
}

func (m InstanceLockedModal) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "enter", "ctrl+c":
			return m, tea.Quit
		case "d", "D":
			m.forceDelete = true
			return m, tea.Quit
		}
	}

	return m, nil
}

// ForceDelete returns true if the user chose to force delete the lock file
func (m InstanceLockedModal) ForceDelete() bool {
	return m.forceDelete
}

func (m InstanceLockedModal) View() string {
	if m.width < 20 || m.height < 10 {
		return "Terminal too small"
	}

	message := fmt.Sprintf(
		"Another Helix client is already running (PID %d).\n\n"+
			"Two clients sharing one data directory would fight over\n"+
			"the saved session and the user id.\n\n"+
			"Set HELIX_DATA_DIR to give a second client its own directory.\n\n"+
			"If you think this is a mistake, press D to force delete\n"+
			"the lock file and open Helix anyway.",
		m.runningPID)

	modalWidth := modalWidthFor(64, m.width)
	return RenderThreeSectionModal(
		"⚠️  Helix Already Running",
		centeredLines(message, modalWidth),
		FormatFooter("Enter", "Exit", "D", "Force delete lock file"),
		ModalTypeError,
		modalWidth,
		m.width,
		m.height,
	)
}
