package ui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"helix/domain"
)

var stepKinds = []domain.StepKind{domain.StepEmail, domain.StepLinkedIn, domain.StepPhone, domain.StepOther}

type editorField int

const (
	fieldKind editorField = iota
	fieldSubject
	fieldTiming
	fieldWait
	fieldContent
)

// StepEditorState holds the form for one step. original is the step as it
// was when the editor opened; only fields that differ from it are sent.
type StepEditorState struct {
	original domain.OutreachStep
	kind     domain.StepKind
	focus    editorField
	err      string

	subject textinput.Model
	timing  textinput.Model
	wait    textinput.Model
	content textarea.Model
}

func newStepEditorState() StepEditorState {
	subject := textinput.New()
	subject.Prompt = ""
	subject.CharLimit = 200

	timing := textinput.New()
	timing.Prompt = ""
	timing.CharLimit = 40

	wait := textinput.New()
	wait.Prompt = ""
	wait.CharLimit = 3

	content := textarea.New()
	content.ShowLineNumbers = false
	content.CharLimit = 0
	content.SetHeight(8)

	return StepEditorState{
		subject: subject,
		timing:  timing,
		wait:    wait,
		content: content,
	}
}

// Open loads step into the form.
func (s *StepEditorState) Open(step domain.OutreachStep, width int) {
	s.original = step
	s.kind = step.Type
	s.err = ""

	s.subject.SetValue(step.Subject)
	s.timing.SetValue(step.Timing)
	s.wait.SetValue("")
	if step.WaitTime != nil {
		s.wait.SetValue(strconv.Itoa(*step.WaitTime))
	}
	s.content.SetValue(step.Content)

	w := modalWidthFor(76, width) - 4
	s.subject.Width = w - 10
	s.timing.Width = w - 10
	s.content.SetWidth(w)

	s.setFocus(fieldContent)
}

func (s StepEditorState) StepID() string {
	return s.original.ID
}

func (s StepEditorState) fields() []editorField {
	if s.kind == domain.StepEmail {
		return []editorField{fieldKind, fieldSubject, fieldTiming, fieldWait, fieldContent}
	}
	return []editorField{fieldKind, fieldTiming, fieldWait, fieldContent}
}

func (s *StepEditorState) setFocus(f editorField) {
	s.focus = f
	// Blur everything, then focus the one input (the kind row has none)
	s.subject.Blur()
	s.timing.Blur()
	s.wait.Blur()
	s.content.Blur()

	switch f {
	case fieldSubject:
		s.subject.Focus()
	case fieldTiming:
		s.timing.Focus()
	case fieldWait:
		s.wait.Focus()
	case fieldContent:
		s.content.Focus()
	}
}

func (s *StepEditorState) cycleFocus(delta int) {
	fields := s.fields()
	idx := 0
	for i, f := range fields {
		if f == s.focus {
			idx = i
		}
	}
	idx = (idx + delta + len(fields)) % len(fields)
	s.setFocus(fields[idx])
}

func (s *StepEditorState) cycleKind(delta int) {
	idx := 0
	for i, k := range stepKinds {
		if k == s.kind {
			idx = i
		}
	}
	s.kind = stepKinds[(idx+delta+len(stepKinds))%len(stepKinds)]
}

// Update routes a key to the focused field.
func (s *StepEditorState) Update(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "tab":
		s.cycleFocus(1)
		return nil
	case "shift+tab":
		s.cycleFocus(-1)
		return nil
	}

	var cmd tea.Cmd
	switch s.focus {
	case fieldKind:
		switch msg.String() {
		case "left", "h":
			s.cycleKind(-1)
		case "right", "l", " ":
			s.cycleKind(1)
		}
	case fieldSubject:
		s.subject, cmd = s.subject.Update(msg)
	case fieldTiming:
		s.timing, cmd = s.timing.Update(msg)
	case fieldWait:
		s.wait, cmd = s.wait.Update(msg)
	case fieldContent:
		s.content, cmd = s.content.Update(msg)
	}
	return cmd
}

// Patch returns the changed fields. Subject is only considered for email steps.
func (s *StepEditorState) Patch() (domain.StepPatch, error) {
	var patch domain.StepPatch
	orig := s.original

	if s.kind != orig.Type {
		patch.Type = domain.Kind(s.kind)
	}
	if v := s.content.Value(); v != orig.Content {
		if strings.TrimSpace(v) == "" {
			return patch, fmt.Errorf("content cannot be empty")
		}
		patch.Content = domain.String(v)
	}
	// Switching away from email keeps the stored subject untouched
	if s.kind == domain.StepEmail {
		if v := strings.TrimSpace(s.subject.Value()); v != orig.Subject {
			patch.Subject = domain.String(v)
		}
	}
	if v := strings.TrimSpace(s.timing.Value()); v != orig.Timing {
		patch.Timing = domain.String(v)
	}

	// A cleared wait field means "leave as is"; the patch cannot unset it
	if raw := strings.TrimSpace(s.wait.Value()); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return patch, fmt.Errorf("wait must be a whole number of days")
		}
		if orig.WaitTime == nil || *orig.WaitTime != n {
			patch.WaitTime = domain.Int(n)
		}
	}

	return patch, nil
}

func renderStepEditor(s StepEditorState, width, height int) string {
	modalWidth := modalWidthFor(76, width)
	label := lipgloss.NewStyle().Width(10).Foreground(dimColor)
	focused := lipgloss.NewStyle().Width(10).Foreground(accentColor).Bold(true)

	row := func(f editorField, name, value string) string {
		l := label
		if s.focus == f {
			l = focused
		}
		return l.Render(name) + value
	}

	var kinds []string
	for _, k := range stepKinds {
		if k == s.kind {
			kinds = append(kinds, SelectedStyle.Render("["+k.Label()+"]"))
		} else {
			kinds = append(kinds, DimStyle.Render(" "+k.Label()+" "))
		}
	}

	lines := []string{row(fieldKind, "Channel", strings.Join(kinds, " "))}
	if s.kind == domain.StepEmail {
		lines = append(lines, row(fieldSubject, "Subject", s.subject.View()))
	}
	lines = append(lines,
		row(fieldTiming, "Timing", s.timing.View()),
		row(fieldWait, "Wait", s.wait.View()+DimStyle.Render(" days")),
		"",
		row(fieldContent, "Content", ""),
		s.content.View(),
	)
	if s.err != "" {
		lines = append(lines, "", ErrorStyle.Render(s.err))
	}

	title := fmt.Sprintf("Edit Step %d", s.original.StepNumber)
	footer := FormatFooter("Tab", "Next field", "←/→", "Channel", "Ctrl+S", "Save", "Esc", "Cancel")
	return RenderThreeSectionModal(title, lines, footer, ModalTypeInfo, modalWidth, width, height)
}
