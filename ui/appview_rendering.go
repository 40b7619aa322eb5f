package ui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"helix/config"
	"helix/domain"
)

// refresh redraws both panels from the store and starts markdown renders
// for assistant entries that have no up-to-date cached rendering.
func (a *AppView) refresh(gotoBottom bool) tea.Cmd {
	a.ensureStepSelection()
	a.updateWorkspaceContent()
	a.updateViewportContent(gotoBottom)
	return a.renderPendingMarkdown()
}

func (a *AppView) updateViewportContent(gotoBottom bool) {
	entries := a.dataModel.Entries
	if len(entries) == 0 {
		msg := "No messages yet. Tell Helix about the role you are hiring for."
		if a.dataModel.Loading {
			msg = a.loadingSpinner.View() + " Loading conversation..."
		}
		a.viewport.SetContent(DimStyle.Render(msg))
		return
	}

	var content strings.Builder
	clear(a.entryOffsets)

	for _, entry := range entries {
		// Line offset of each entry, used by search to jump to a match
		a.entryOffsets[entry.ID] = strings.Count(content.String(), "\n")

		// Flash the entry the user jumped to (odd ticks show the marker)
		highlightPrefix := ""
		if entry.ID == a.highlightedEntryID && a.highlightFlashCount%2 == 1 {
			highlightPrefix = HighlightStyle.Render(">>> ")
		}

		timestamp := DimStyle.Render(entry.Timestamp.Local().Format("[15:04]"))

		switch {
		// Tool entries come first: they are assistant-authored but render as a status line
		case entry.ToolCall != nil:
			content.WriteString(a.formatToolEntry(highlightPrefix, timestamp, entry))

		case entry.Role == domain.RoleUser:
			body := wordWrap(entry.Content, a.chatWidth-4)
			if entry.Pending {
				body += "\n" + DimStyle.Render(a.loadingSpinner.View()+" sending")
			}
			content.WriteString(formatUserMessage(highlightPrefix, timestamp, UserStyle.Render("You"), body))

		case entry.Role == domain.RoleAssistant:
			body := entry.Content
			if r, ok := a.rendered[entry.ID]; ok && r.source == entry.Content && r.rendered != "" {
				body = r.rendered
			} else {
				// Plain wrap until the markdown render comes back
				body = wordWrap(body, a.chatWidth-4)
			}
			fmt.Fprintf(&content, "%s%s %s\n%s\n\n", highlightPrefix, timestamp, AssistantStyle.Render("Helix"), body)

		default:
			fmt.Fprintf(&content, "%s%s %s\n%s\n\n", highlightPrefix, timestamp, DimStyle.Render("System"), DimStyle.Render(wordWrap(entry.Content, a.chatWidth-4)))
		}
	}

	a.viewport.SetContent(content.String())
	if gotoBottom {
		a.viewport.GotoBottom()
	}
}

// formatToolEntry renders an assistant action as a status line. An action
// still in flight gets the spinner.
func (a AppView) formatToolEntry(highlightPrefix, timestamp string, entry domain.ConversationEntry) string {
	call := entry.ToolCall
	style := toolStatusStyle(call.Status)

	var icon string
	switch call.Status {
	case domain.ToolCompleted:
		icon = "✓"
	case domain.ToolFailed:
		icon = "✗"
	default:
		icon = a.loadingSpinner.View()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s%s %s %s %s\n", highlightPrefix, timestamp, style.Render(icon), style.Render(call.Name), DimStyle.Render(string(call.Status)))
	if entry.Content != "" {
		b.WriteString("╰─ " + wordWrap(entry.Content, a.chatWidth-6) + "\n")
	}
	if call.Result != "" {
		b.WriteString(DimStyle.Render("╰─ "+wordWrap(call.Result, a.chatWidth-6)) + "\n")
	}
	b.WriteString("\n")
	return b.String()
}

func formatUserMessage(highlightPrefix, timestamp, role, content string) string {
	bar := UserStyle.Render("┃")

	var result strings.Builder
	fmt.Fprintf(&result, "%s%s %s %s\n", highlightPrefix, bar, timestamp, role)
	for _, line := range strings.Split(content, "\n") {
		fmt.Fprintf(&result, "%s %s\n", bar, line)
	}
	result.WriteString("\n")
	return result.String()
}

// renderPendingMarkdown returns one command per assistant entry whose
// cached rendering is missing or stale. In-flight renders are not repeated.
func (a *AppView) renderPendingMarkdown() tea.Cmd {
	var cmds []tea.Cmd
	width := a.chatWidth
	for _, entry := range a.dataModel.Entries {
		if entry.Role != domain.RoleAssistant || entry.ToolCall != nil || entry.Content == "" {
			continue
		}
		if r, ok := a.rendered[entry.ID]; ok && r.source == entry.Content && r.width == width {
			continue
		}
		// Keep showing an older rendering of the same content until the new one lands
		next := renderedEntry{source: entry.Content, width: width}
		if r, ok := a.rendered[entry.ID]; ok && r.source == entry.Content {
			next.rendered = r.rendered
		}
		a.rendered[entry.ID] = next
		cmds = append(cmds, renderMarkdownAsync(entry.ID, entry.Content, width))
	}
	return tea.Batch(cmds...)
}

func renderMarkdownAsync(entryID, content string, width int) tea.Cmd {
	return func() tea.Msg {
		start := time.Now()
		rendered := renderMarkdown(content, width)
		config.Log.Debug("markdown rendered",
			zap.String("entry", entryID),
			zap.Int("chars", len(content)),
			zap.Duration("elapsed", time.Since(start)))

		return markdownRenderedMsg{
			EntryID:  entryID,
			Source:   content,
			Width:    width,
			Rendered: rendered,
		}
	}
}

// ensureStepSelection keeps the workspace cursor on a step that exists.
// Selection is tracked by id so a replaced sequence keeps it when it can.
func (a *AppView) ensureStepSelection() {
	steps := a.dataModel.Sequence.OrderedSteps()
	if len(steps) == 0 {
		a.selectedStepID = ""
		return
	}
	if _, ok := a.dataModel.Sequence.Step(a.selectedStepID); !ok {
		a.selectedStepID = steps[0].ID
	}
}

func (a AppView) selectedStepIndex(steps []domain.OutreachStep) int {
	for i, s := range steps {
		if s.ID == a.selectedStepID {
			return i
		}
	}
	return 0
}

func (a *AppView) updateWorkspaceContent() {
	seq := a.dataModel.Sequence
	width := a.workWidth - 3
	if width < 20 {
		width = 20
	}

	if seq == nil {
		a.workspace.SetContent(DimStyle.Render(wordWrap(
			"No sequence yet.\n\nOnce Helix knows the role, the company and who you want to reach, it drafts a sequence here.",
			width)))
		return
	}

	var b strings.Builder
	clear(a.stepOffsets)

	// Header: name, then "role @ company", then the persona
	b.WriteString(TitleStyle.Render(truncate(seq.Name, width)) + "\n")
	meta := []string{}
	if seq.RoleName != "" {
		meta = append(meta, seq.RoleName)
	}
	if seq.CompanyName != "" {
		meta = append(meta, seq.CompanyName)
	}
	if len(meta) > 0 {
		b.WriteString(DimStyle.Render(truncate(strings.Join(meta, " @ "), width)) + "\n")
	}
	if seq.CandidatePersona != "" {
		b.WriteString(DimStyle.Render(wordWrap("Persona: "+seq.CandidatePersona, width)) + "\n")
	}
	b.WriteString("\n")

	steps := seq.OrderedSteps()
	if len(steps) == 0 {
		b.WriteString(DimStyle.Render("This sequence has no steps."))
	}

	// Display order is by step number, never storage order
	for _, step := range steps {
		a.stepOffsets[step.ID] = strings.Count(b.String(), "\n")
		// Only highlight when the workspace has focus, so tab feels like a mode switch
		selected := step.ID == a.selectedStepID && a.focus == focusWorkspace
		b.WriteString(formatStep(step, selected, width))
		b.WriteString("\n")
	}

	a.workspace.SetContent(b.String())
	a.scrollToSelectedStep()
}

func formatStep(step domain.OutreachStep, selected bool, width int) string {
	indicator := "  "
	headerStyle := AssistantStyle.Bold(true)
	if selected {
		indicator = "▶ "
		headerStyle = SelectedStyle
	}

	header := fmt.Sprintf("%d. %s", step.StepNumber, step.Type.Label())
	if step.Timing != "" {
		header += " · " + step.Timing
	}

	var b strings.Builder
	b.WriteString(indicator + headerStyle.Render(header) + "\n")

	body := lipgloss.NewStyle().PaddingLeft(2)
	// Subjects only mean something for email steps
	if step.HasSubject() && step.Subject != "" {
		b.WriteString(body.Render(lipgloss.NewStyle().Bold(true).Render("Subject: ")+truncate(step.Subject, width-11)) + "\n")
	}
	b.WriteString(body.Render(wordWrap(step.Content, width-2)) + "\n")
	if step.WaitTime != nil && *step.WaitTime > 0 {
		days := "days"
		if *step.WaitTime == 1 {
			days = "day"
		}
		b.WriteString(body.Render(DimStyle.Render(fmt.Sprintf("wait %d %s", *step.WaitTime, days))) + "\n")
	}
	return b.String()
}

// scrollToSelectedStep moves the workspace so the selected step header is visible.
func (a *AppView) scrollToSelectedStep() {
	off, ok := a.stepOffsets[a.selectedStepID]
	if !ok || a.workspace.Height == 0 {
		return
	}
	// Leave two rows so the first lines of the step body show too
	if off < a.workspace.YOffset || off >= a.workspace.YOffset+a.workspace.Height-2 {
		a.workspace.SetYOffset(max(off-1, 0))
	}
}
