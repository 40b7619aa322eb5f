package ui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"helix/domain"
	appmodel "helix/model"
)

func keyRunes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func testSequence() *domain.OutreachSequence {
	return &domain.OutreachSequence{
		ID:   "seq-1",
		Name: "Staff SRE at Acme Outreach",
		Steps: []domain.OutreachStep{
			{ID: "s3", StepNumber: 3, Type: domain.StepEmail, Content: "Following up", Subject: "Following up"},
			{ID: "s1", StepNumber: 1, Type: domain.StepEmail, Content: "Hello", Subject: "Hi", Timing: "Day 1"},
			{ID: "s2", StepNumber: 2, Type: domain.StepLinkedIn, Content: "Connecting"},
		},
	}
}

func newTestView(t *testing.T, seq *domain.OutreachSequence) (AppView, *appmodel.Model) {
	t.Helper()
	m := appmodel.NewModel(nil, nil, nil, "test")
	m.Loading = false
	m.Sequence = seq

	updated, _ := NewAppView(m).Update(tea.WindowSizeMsg{Width: 140, Height: 40})
	return updated.(AppView), m
}

func press(t *testing.T, a AppView, msgs ...tea.Msg) AppView {
	t.Helper()
	for _, msg := range msgs {
		updated, _ := a.Update(msg)
		a = updated.(AppView)
	}
	return a
}

func TestWorkspaceSelectionFollowsStepOrder(t *testing.T) {
	a, m := newTestView(t, testSequence())

	if a.selectedStepID != "s1" {
		t.Fatalf("initial selection = %q, want first ordered step", a.selectedStepID)
	}

	a = press(t, a, tea.KeyMsg{Type: tea.KeyTab})
	if a.focus != focusWorkspace {
		t.Fatal("tab did not focus the workspace")
	}

	a = press(t, a, keyRunes("j"))
	if a.selectedStepID != "s2" {
		t.Errorf("after j = %q, want s2", a.selectedStepID)
	}
	a = press(t, a, keyRunes("G"))
	if a.selectedStepID != "s3" {
		t.Errorf("after G = %q, want s3", a.selectedStepID)
	}
	a = press(t, a, keyRunes("j"))
	if a.selectedStepID != "s3" {
		t.Errorf("j past the end moved to %q", a.selectedStepID)
	}

	// A replacement that still has the step keeps the selection
	seq := testSequence()
	seq.Name = "Renamed"
	m.Sequence = seq
	a.refresh(false)
	if a.selectedStepID != "s3" {
		t.Errorf("selection lost on replacement: %q", a.selectedStepID)
	}

	// One that does not falls back to the first step
	m.Sequence = &domain.OutreachSequence{ID: "seq-2", Steps: []domain.OutreachStep{{ID: "x1", StepNumber: 1}}}
	a.refresh(false)
	if a.selectedStepID != "x1" {
		t.Errorf("selection = %q, want x1", a.selectedStepID)
	}
}

func TestTabWithoutSequenceStaysInChat(t *testing.T) {
	a, _ := newTestView(t, nil)
	a = press(t, a, tea.KeyMsg{Type: tea.KeyTab})
	if a.focus != focusChat {
		t.Error("workspace focused with no sequence")
	}
}

func TestEnterSendsOptimisticMessage(t *testing.T) {
	a, m := newTestView(t, nil)

	a = press(t, a, keyRunes("Hiring a staff SRE"))
	a = press(t, a, tea.KeyMsg{Type: tea.KeyEnter})

	if len(m.Entries) != 1 {
		t.Fatalf("entries = %+v", m.Entries)
	}
	if e := m.Entries[0]; e.Content != "Hiring a staff SRE" || !e.Pending || e.Role != domain.RoleUser {
		t.Errorf("optimistic entry = %+v", e)
	}
	if a.textarea.Value() != "" {
		t.Errorf("textarea not cleared: %q", a.textarea.Value())
	}
	if !strings.Contains(a.viewport.View(), "Hiring a staff SRE") {
		t.Error("optimistic entry not rendered")
	}

	// Blank input sends nothing
	a = press(t, a, tea.KeyMsg{Type: tea.KeyEnter})
	if len(m.Entries) != 1 {
		t.Errorf("blank enter sent a message: %d entries", len(m.Entries))
	}
}

func TestStaleMarkdownIsDropped(t *testing.T) {
	a, m := newTestView(t, nil)
	m.Entries = []domain.ConversationEntry{domain.NewEntry("m-1", domain.RoleAssistant, "**new** text")}
	a.refresh(true)

	cur, ok := a.rendered["m-1"]
	if !ok || cur.source != "**new** text" {
		t.Fatalf("render not scheduled: %+v", cur)
	}

	a, _ = a.handleUIMessage(markdownRenderedMsg{EntryID: "m-1", Source: "old text", Width: cur.width, Rendered: "OLD"})
	if a.rendered["m-1"].rendered != "" {
		t.Error("stale render was applied")
	}

	a, _ = a.handleUIMessage(markdownRenderedMsg{EntryID: "m-1", Source: "**new** text", Width: cur.width, Rendered: "NEW"})
	if a.rendered["m-1"].rendered != "NEW" {
		t.Error("current render was not applied")
	}
	if !strings.Contains(a.viewport.View(), "NEW") {
		t.Error("rendered markdown not shown")
	}
}

func TestToolEntryRendering(t *testing.T) {
	a, m := newTestView(t, nil)
	m.Entries = []domain.ConversationEntry{{
		ID:       "t-1",
		Role:     domain.RoleAssistant,
		ToolCall: &domain.ToolInvocation{Name: "generate_sequence", Status: domain.ToolCompleted, Result: "Created outreach sequence"},
	}}
	a.refresh(true)

	view := a.viewport.View()
	for _, want := range []string{"generate_sequence", "completed", "Created outreach sequence"} {
		if !strings.Contains(view, want) {
			t.Errorf("tool entry missing %q:\n%s", want, view)
		}
	}
	if a.hasActivity() {
		t.Error("completed tool call should not animate")
	}
}

func TestStepEditorPatch(t *testing.T) {
	step := domain.OutreachStep{ID: "s1", StepNumber: 1, Type: domain.StepEmail, Content: "Hello", Subject: "Hi", Timing: "Day 1", WaitTime: domain.Int(0)}

	s := newStepEditorState()
	s.Open(step, 120)

	patch, err := s.Patch()
	if err != nil {
		t.Fatal(err)
	}
	if !patch.IsEmpty() {
		t.Errorf("untouched editor produced %+v", patch)
	}

	s.content.SetValue("Hello there")
	s.subject.SetValue("New subject")
	patch, err = s.Patch()
	if err != nil {
		t.Fatal(err)
	}
	if patch.Content == nil || *patch.Content != "Hello there" || patch.Subject == nil || *patch.Subject != "New subject" {
		t.Errorf("patch = %+v", patch)
	}
	if patch.Type != nil || patch.Timing != nil || patch.WaitTime != nil {
		t.Errorf("unchanged fields in patch: %+v", patch)
	}

	// Subject is only sent for email steps
	s.cycleKind(1)
	patch, _ = s.Patch()
	if patch.Type == nil || *patch.Type != domain.StepLinkedIn {
		t.Errorf("type = %v", patch.Type)
	}
	if patch.Subject != nil {
		t.Error("subject sent for a linkedin step")
	}

	s.wait.SetValue("two")
	if _, err := s.Patch(); err == nil {
		t.Error("expected error for a non-numeric wait")
	}
	s.wait.SetValue("3")
	s.content.SetValue("   ")
	if _, err := s.Patch(); err == nil {
		t.Error("expected error for empty content")
	}
}

func TestRenameSendsPatch(t *testing.T) {
	a, m := newTestView(t, testSequence())

	a = press(t, a, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r"), Alt: true})
	if !a.renameMode {
		t.Fatal("alt+r did not start rename")
	}
	if a.renameInput.Value() != m.Sequence.Name {
		t.Errorf("rename input = %q", a.renameInput.Value())
	}

	a = press(t, a, tea.KeyMsg{Type: tea.KeyEsc})
	if a.renameMode {
		t.Error("esc did not cancel rename")
	}
	if m.Sequence.Name != "Staff SRE at Acme Outreach" {
		t.Error("cancelled rename changed the sequence")
	}
}

func TestFrameCodeBlocks(t *testing.T) {
	in := "before\n" + codeBar + " x := 1\n" + codeBar + " y := 2\nafter"
	out := frameCodeBlocks(in, 30)

	if !strings.Contains(out, "[code]") {
		t.Error("missing code label")
	}
	if strings.Contains(out, codeBar) {
		t.Error("code bar not stripped")
	}
	if !strings.Contains(out, "x := 1\ny := 2") {
		t.Errorf("code lines changed:\n%s", out)
	}
	if !strings.HasPrefix(out, "before") || !strings.HasSuffix(out, "after") {
		t.Errorf("surrounding text lost:\n%s", out)
	}
}

func TestWordWrap(t *testing.T) {
	got := wordWrap("one two three four\n\nfive", 9)
	want := "one two\nthree\nfour\n\nfive"
	if got != want {
		t.Errorf("wordWrap = %q, want %q", got, want)
	}
}
