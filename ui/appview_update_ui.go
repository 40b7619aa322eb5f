package ui

import (
	"fmt"
	"time"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"helix/config"
)

const flashInterval = 300 * time.Millisecond

func flashTick() tea.Cmd {
	return tea.Tick(flashInterval, func(time.Time) tea.Msg {
		return flashTickMsg{}
	})
}

// copyToClipboard writes text off the update loop; what names it in the
// status line.
func copyToClipboard(what, text string) tea.Cmd {
	return func() tea.Msg {
		return clipboardMsg{What: what, Err: clipboard.WriteAll(text)}
	}
}

// handleUIMessage handles messages owned by the view rather than the store.
func (a AppView) handleUIMessage(msg tea.Msg) (AppView, tea.Cmd) {
	switch msg := msg.(type) {
	case flashTickMsg:
		if a.highlightFlashCount > 0 && a.highlightFlashCount < 6 {
			a.highlightFlashCount++
			a.updateViewportContent(false)
			return a, flashTick()
		}
		a.highlightedEntryID = ""
		a.highlightFlashCount = 0
		a.updateViewportContent(false)
		return a, nil

	case markdownRenderedMsg:
		// Drop renders for content or widths that have since changed
		cur, ok := a.rendered[msg.EntryID]
		if !ok || cur.source != msg.Source || cur.width != msg.Width {
			return a, nil
		}
		cur.rendered = msg.Rendered
		a.rendered[msg.EntryID] = cur
		a.updateViewportContent(a.highlightedEntryID == "" && a.viewport.AtBottom())
		return a, nil

	case clipboardMsg:
		if msg.Err != nil {
			config.Log.Warn("clipboard write failed", zap.Error(msg.Err))
			a.showInfoModal = true
			a.infoModalTitle = "⚠️  Clipboard Error"
			a.infoModalMsg = fmt.Sprintf("Could not copy the %s:\n\n%v", msg.What, msg.Err)
			return a, nil
		}
		a.statusNote = "Copied " + msg.What
		return a, clearStatusNote()

	case transcriptExportedMsg:
		a.showInfoModal = true
		if msg.Err != nil {
			a.infoModalTitle = "⚠️  Export Failed"
			a.infoModalMsg = msg.Err.Error()
			return a, nil
		}
		a.infoModalTitle = "✓ Export Successful"
		a.infoModalMsg = "Transcript saved to:\n\n" + msg.Path
		return a, nil

	case statusNoteExpiredMsg:
		a.statusNote = ""
		return a, nil
	}

	return a, nil
}

func clearStatusNote() tea.Cmd {
	return tea.Tick(2*time.Second, func(time.Time) tea.Msg {
		return statusNoteExpiredMsg{}
	})
}
