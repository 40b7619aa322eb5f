package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/go-cmp/cmp"

	"helix/domain"
	"helix/transport"
)

func newTestModel(api *fakeAPI) (*Model, *fakePush) {
	push := newFakePush()
	m := NewModel(api, push, nil, "test")
	return m, push
}

// run executes cmd and feeds its message back into the store, the way the
// bubbletea runtime would.
func run(m *Model, cmd tea.Cmd) tea.Cmd {
	if cmd == nil {
		return nil
	}
	return m.Update(cmd())
}

func entryIDs(entries []domain.ConversationEntry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}

func sampleSequence() *domain.OutreachSequence {
	return &domain.OutreachSequence{
		ID:          "seq-1",
		Name:        "Backend Engineer at Acme Outreach",
		CompanyName: "Acme",
		RoleName:    "Backend Engineer",
		Steps: []domain.OutreachStep{
			{ID: "st-1", StepNumber: 1, Type: domain.StepEmail, Subject: "Hello", Content: "Intro", Timing: "Day 1"},
			{ID: "st-2", StepNumber: 2, Type: domain.StepLinkedIn, Content: "Connect", WaitTime: domain.Int(3)},
			{ID: "st-3", StepNumber: 3, Type: domain.StepEmail, Subject: "Following up", Content: "Bump"},
		},
	}
}

func TestSendMessageFailureRollsBack(t *testing.T) {
	netErr := &transport.NetworkError{Op: "POST", URL: "http://localhost:5000/api/messages", Err: errors.New("connection refused")}
	m, push := newTestModel(&fakeAPI{
		SendMessageFunc: func(context.Context, domain.OutgoingMessage) (*domain.ConversationEntry, error) {
			return nil, netErr
		},
	})

	cmd := m.SendMessage("Hello")
	if cmd == nil {
		t.Fatal("expected a command")
	}

	if len(m.Entries) != 1 {
		t.Fatalf("optimistic entry missing: %+v", m.Entries)
	}
	if e := m.Entries[0]; e.Role != domain.RoleUser || e.Content != "Hello" || !e.Pending {
		t.Errorf("unexpected optimistic entry %+v", e)
	}

	if follow := run(m, cmd); follow != nil {
		t.Error("failed send should not publish")
	}
	if len(m.Entries) != 0 {
		t.Errorf("entry not retracted: %+v", m.Entries)
	}
	if !transport.IsNetwork(m.LastError) {
		t.Errorf("LastError = %v, want network error", m.LastError)
	}
	if len(push.Published) != 0 {
		t.Errorf("published %v", push.Published)
	}
}

func TestSendMessageIgnoresBlankText(t *testing.T) {
	m, _ := newTestModel(&fakeAPI{})
	if cmd := m.SendMessage("   "); cmd != nil {
		t.Error("blank text should be a no-op")
	}
	if len(m.Entries) != 0 {
		t.Errorf("entries = %+v", m.Entries)
	}
}

func TestSendMessageConfirmsInPlaceAndPublishes(t *testing.T) {
	m, push := newTestModel(&fakeAPI{
		SendMessageFunc: func(_ context.Context, msg domain.OutgoingMessage) (*domain.ConversationEntry, error) {
			e := domain.NewEntry("m-9", msg.Role, msg.Content)
			return &e, nil
		},
	})
	m.Entries = []domain.ConversationEntry{domain.NewEntry("m-1", domain.RoleAssistant, "Hi, how can I help?")}

	cmd := m.SendMessage("Write a sequence")
	tempID := m.Entries[1].ID

	publish := run(m, cmd)
	if diff := cmp.Diff([]string{"m-1", "m-9"}, entryIDs(m.Entries)); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}
	if _, ok := m.Entry(tempID); ok {
		t.Error("temporary id survived confirmation")
	}

	if publish == nil {
		t.Fatal("expected publish command")
	}
	run(m, publish)
	if len(push.Published) != 1 || push.Published[0].Event != transport.WireMessage {
		t.Fatalf("published = %+v", push.Published)
	}
	var sent domain.ConversationEntry
	if err := json.Unmarshal(push.Published[0].Payload, &sent); err != nil {
		t.Fatal(err)
	}
	if sent.ID != "m-9" || sent.Content != "Write a sequence" {
		t.Errorf("published payload %+v", sent)
	}
}

func TestSendMessageNoDuplicates(t *testing.T) {
	// Each send is confirmed over REST and echoed over push; the two
	// arrive in every order, and the sends resolve out of issue order.
	tests := []struct {
		name      string
		pushFirst bool
		reverse   bool
	}{
		{name: "response then echo"},
		{name: "echo then response", pushFirst: true},
		{name: "response then echo, resolved in reverse", reverse: true},
		{name: "echo then response, resolved in reverse", pushFirst: true, reverse: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := 0
			m, _ := newTestModel(&fakeAPI{
				SendMessageFunc: func(_ context.Context, msg domain.OutgoingMessage) (*domain.ConversationEntry, error) {
					n++
					e := domain.NewEntry(fmt.Sprintf("srv-%d", n), msg.Role, msg.Content)
					return &e, nil
				},
			})

			texts := []string{"first", "second", "third"}
			var cmds []tea.Cmd
			for _, text := range texts {
				cmds = append(cmds, m.SendMessage(text))
			}
			if len(m.Entries) != len(texts) {
				t.Fatalf("optimistic entries = %d", len(m.Entries))
			}

			// Resolve all requests first (off the UI thread), then apply
			var msgs []MessageSentMsg
			for _, cmd := range cmds {
				msgs = append(msgs, cmd().(MessageSentMsg))
			}
			if tt.reverse {
				for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
					msgs[i], msgs[j] = msgs[j], msgs[i]
				}
			}

			for _, msg := range msgs {
				echo := PushEventMsg{Event: transport.Event{Kind: transport.EventNewMessage, Entry: msg.Entry}}
				if tt.pushFirst {
					m.Update(echo)
					m.Update(msg)
				} else {
					m.Update(msg)
					m.Update(echo)
				}
			}

			if len(m.Entries) != len(texts) {
				t.Fatalf("got %d entries, want %d: %v", len(m.Entries), len(texts), entryIDs(m.Entries))
			}
			seen := map[string]bool{}
			for i, e := range m.Entries {
				if seen[e.ID] {
					t.Errorf("duplicate id %q", e.ID)
				}
				seen[e.ID] = true
				if e.Content != texts[i] {
					t.Errorf("entry %d content = %q, want %q (log position changed)", i, e.Content, texts[i])
				}
			}
		})
	}
}

func TestSequenceCreatedReplacesUnconditionally(t *testing.T) {
	m, _ := newTestModel(&fakeAPI{})
	m.Sequence = sampleSequence()

	next := m.Update(PushEventMsg{Event: transport.Event{
		Kind:     transport.EventSequenceReplaced,
		Name:     transport.WireSequenceCreated,
		Sequence: &domain.OutreachSequence{ID: "seq-2", Name: "Designer at Globex Outreach"},
	}})

	if m.Sequence == nil || m.Sequence.ID != "seq-2" {
		t.Fatalf("sequence = %+v", m.Sequence)
	}
	if next == nil {
		t.Error("push events should re-arm the listener")
	}
}

func TestToolCallReplacedInPlace(t *testing.T) {
	m, _ := newTestModel(&fakeAPI{})
	m.Entries = []domain.ConversationEntry{
		domain.NewEntry("m-4", domain.RoleUser, "Make it shorter"),
		{ID: "m-5", Role: domain.RoleAssistant, ToolCall: &domain.ToolInvocation{Name: "generate_sequence", Status: domain.ToolInvoking}},
		domain.NewEntry("m-6", domain.RoleAssistant, "Working on it"),
	}

	m.Update(PushEventMsg{Event: transport.Event{
		Kind: transport.EventToolCallUpdate,
		Entry: &domain.ConversationEntry{
			ID:       "m-5",
			Role:     domain.RoleAssistant,
			ToolCall: &domain.ToolInvocation{Name: "generate_sequence", Status: domain.ToolCompleted, Result: "Created 3 steps"},
		},
	}})

	if diff := cmp.Diff([]string{"m-4", "m-5", "m-6"}, entryIDs(m.Entries)); diff != "" {
		t.Errorf("log order changed (-want +got):\n%s", diff)
	}
	want := &domain.ToolInvocation{Name: "generate_sequence", Status: domain.ToolCompleted, Result: "Created 3 steps"}
	if diff := cmp.Diff(want, m.Entries[1].ToolCall); diff != "" {
		t.Errorf("tool call mismatch (-want +got):\n%s", diff)
	}
}

func TestStaleToolStatusDoesNotRegress(t *testing.T) {
	m, _ := newTestModel(&fakeAPI{})
	m.Entries = []domain.ConversationEntry{
		{ID: "m-5", Role: domain.RoleAssistant, ToolCall: &domain.ToolInvocation{Name: "generate_sequence", Status: domain.ToolFailed, Result: "timeout"}},
	}

	m.Update(PushEventMsg{Event: transport.Event{
		Kind: transport.EventToolCallUpdate,
		Entry: &domain.ConversationEntry{
			ID: "m-5", Role: domain.RoleAssistant, Content: "retrying",
			ToolCall: &domain.ToolInvocation{Name: "generate_sequence", Status: domain.ToolInvoking},
		},
	}})

	got := m.Entries[0]
	if got.ToolCall.Status != domain.ToolFailed || got.ToolCall.Result != "timeout" {
		t.Errorf("tool call regressed: %+v", got.ToolCall)
	}
	if got.Content != "retrying" {
		t.Errorf("rest of entry should still be replaced, content = %q", got.Content)
	}
}

func TestNewMessageEventAppends(t *testing.T) {
	m, _ := newTestModel(&fakeAPI{})
	m.Update(PushEventMsg{Event: transport.Event{
		Kind:  transport.EventNewMessage,
		Entry: &domain.ConversationEntry{ID: "m-1", Role: domain.RoleAssistant, Content: "Hi"},
	}})
	if len(m.Entries) != 1 || m.Entries[0].ID != "m-1" {
		t.Errorf("entries = %+v", m.Entries)
	}
}

func TestUpdateSequencePublishesPatch(t *testing.T) {
	m, push := newTestModel(&fakeAPI{
		UpdateSequenceFunc: func(_ context.Context, id string, fields domain.SequencePatch) (*domain.OutreachSequence, error) {
			seq := sampleSequence()
			fields.Apply(seq)
			return seq, nil
		},
	})
	m.Sequence = sampleSequence()

	publish := run(m, m.UpdateSequence(domain.SequencePatch{Name: domain.String("Q1 Outreach")}))
	if m.Sequence.Name != "Q1 Outreach" {
		t.Errorf("name = %q", m.Sequence.Name)
	}

	run(m, publish)
	if len(push.Published) != 1 {
		t.Fatalf("published = %+v", push.Published)
	}
	if push.Published[0].Event != transport.WireUpdateSequence {
		t.Errorf("event = %q", push.Published[0].Event)
	}
	var payload map[string]any
	if err := json.Unmarshal(push.Published[0].Payload, &payload); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[string]any{"id": "seq-1", "name": "Q1 Outreach"}, payload); diff != "" {
		t.Errorf("payload mismatch (-want +got):\n%s", diff)
	}
}

func TestUpdateSequenceWithoutSequenceIsNoop(t *testing.T) {
	called := false
	m, _ := newTestModel(&fakeAPI{
		UpdateSequenceFunc: func(context.Context, string, domain.SequencePatch) (*domain.OutreachSequence, error) {
			called = true
			return nil, nil
		},
	})

	if cmd := m.UpdateSequence(domain.SequencePatch{Name: domain.String("x")}); cmd != nil {
		cmd()
	}
	if called {
		t.Error("request issued without a loaded sequence")
	}
}

func TestUpdateFailuresLeaveStateUntouched(t *testing.T) {
	serverErr := &transport.ServerError{Method: "PUT", Path: "/sequences/seq-1", StatusCode: 500, Message: "db locked"}

	tests := []struct {
		name string
		cmd  func(m *Model) tea.Cmd
	}{
		{
			name: "sequence",
			cmd: func(m *Model) tea.Cmd {
				return m.UpdateSequence(domain.SequencePatch{Name: domain.String("Q1 Outreach")})
			},
		},
		{
			name: "step",
			cmd: func(m *Model) tea.Cmd {
				return m.UpdateStep("st-1", domain.StepPatch{Subject: domain.String("New subject")})
			},
		},
		{
			name: "user",
			cmd: func(m *Model) tea.Cmd {
				return m.UpdateUser(domain.UserPatch{Name: domain.String("Ada")})
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, push := newTestModel(&fakeAPI{
				UpdateSequenceFunc: func(context.Context, string, domain.SequencePatch) (*domain.OutreachSequence, error) {
					return nil, serverErr
				},
				UpdateStepFunc: func(context.Context, string, string, domain.StepPatch) (*domain.OutreachSequence, error) {
					return nil, serverErr
				},
				UpdateUserFunc: func(context.Context, domain.UserPatch) (*domain.User, error) {
					return nil, serverErr
				},
			})
			m.Sequence = sampleSequence()
			m.User = &domain.User{ID: "u-1", Name: "Grace"}
			wantSeq, wantUser := sampleSequence(), &domain.User{ID: "u-1", Name: "Grace"}

			if follow := run(m, tt.cmd(m)); follow != nil {
				t.Error("failure should not issue follow-up commands")
			}

			if diff := cmp.Diff(wantSeq, m.Sequence); diff != "" {
				t.Errorf("sequence changed (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(wantUser, m.User); diff != "" {
				t.Errorf("user changed (-want +got):\n%s", diff)
			}
			var serr *transport.ServerError
			if !errors.As(m.LastError, &serr) {
				t.Errorf("LastError = %v", m.LastError)
			}
			if len(push.Published) != 0 {
				t.Errorf("published %+v", push.Published)
			}
		})
	}
}

func TestUpdateStepRoundTrip(t *testing.T) {
	server := sampleSequence()
	m, _ := newTestModel(&fakeAPI{
		UpdateStepFunc: func(_ context.Context, seqID, stepID string, fields domain.StepPatch) (*domain.OutreachSequence, error) {
			if seqID != "seq-1" || stepID != "st-2" {
				return nil, fmt.Errorf("unexpected target %s/%s", seqID, stepID)
			}
			out := *server
			out.Steps = append([]domain.OutreachStep(nil), server.Steps...)
			for i := range out.Steps {
				if out.Steps[i].ID == stepID {
					fields.Apply(&out.Steps[i])
				}
			}
			return &out, nil
		},
	})
	m.Sequence = sampleSequence()

	run(m, m.UpdateStep("st-2", domain.StepPatch{Content: domain.String("Let's connect"), WaitTime: domain.Int(5)}))

	if m.LastError != nil {
		t.Fatalf("LastError = %v", m.LastError)
	}

	before := sampleSequence()
	for _, id := range []string{"st-1", "st-3"} {
		want, _ := before.Step(id)
		got, ok := m.Sequence.Step(id)
		if !ok {
			t.Fatalf("step %s missing", id)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("untargeted step %s changed (-want +got):\n%s", id, diff)
		}
	}

	want, _ := before.Step("st-2")
	want.Content = "Let's connect"
	want.WaitTime = domain.Int(5)
	got, _ := m.Sequence.Step("st-2")
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("targeted step mismatch (-want +got):\n%s", diff)
	}
}

func TestUpdateStepWithoutSequenceIsNoop(t *testing.T) {
	m, _ := newTestModel(&fakeAPI{})
	if cmd := m.UpdateStep("st-1", domain.StepPatch{Content: domain.String("x")}); cmd != nil {
		t.Error("expected nil command")
	}
}

func TestUpdateUserWithoutUserIsNoop(t *testing.T) {
	m, _ := newTestModel(&fakeAPI{})
	if cmd := m.UpdateUser(domain.UserPatch{Name: domain.String("x")}); cmd != nil {
		t.Error("expected nil command")
	}
}

func TestStepResponseWinsOverEarlierPush(t *testing.T) {
	release := make(chan struct{})
	m, _ := newTestModel(&fakeAPI{
		UpdateStepFunc: func(_ context.Context, _, stepID string, fields domain.StepPatch) (*domain.OutreachSequence, error) {
			<-release
			out := sampleSequence()
			for i := range out.Steps {
				if out.Steps[i].ID == stepID {
					fields.Apply(&out.Steps[i])
				}
			}
			return out, nil
		},
	})
	m.Sequence = sampleSequence()

	cmd := m.UpdateStep("st-1", domain.StepPatch{Subject: domain.String("Quick question")})
	result := make(chan tea.Msg, 1)
	go func() { result <- cmd() }()

	// A push lands while the request is still outstanding
	pushed := sampleSequence()
	pushed.Name = "Renamed elsewhere"
	pushed.Steps = pushed.Steps[:1]
	m.Update(PushEventMsg{Event: transport.Event{Kind: transport.EventSequenceReplaced, Sequence: pushed}})
	if m.Sequence.Name != "Renamed elsewhere" {
		t.Fatalf("push not applied: %q", m.Sequence.Name)
	}

	close(release)
	m.Update(<-result)

	want := sampleSequence()
	want.Steps[0].Subject = "Quick question"
	if diff := cmp.Diff(want, m.Sequence); diff != "" {
		t.Errorf("late response should replace pushed state (-want +got):\n%s", diff)
	}
}

func TestUpdateUserReplacesWithServerCopy(t *testing.T) {
	var sent domain.UserPatch
	m, _ := newTestModel(&fakeAPI{
		UpdateUserFunc: func(_ context.Context, fields domain.UserPatch) (*domain.User, error) {
			sent = fields
			return &domain.User{
				ID:          "u-1",
				Name:        "Dana Recruiter",
				Email:       "dana@acme.test",
				Company:     "Acme",
				Role:        "Talent Partner",
				Preferences: map[string]any{"tone": "casual"},
			}, nil
		},
	})
	m.User = &domain.User{ID: "u-1", Name: "Dana", Email: "dana@acme.test"}

	run(m, m.UpdateUser(domain.UserPatch{Name: domain.String("Dana Recruiter"), Role: domain.String("Talent Partner")}))

	if m.LastError != nil {
		t.Fatalf("LastError = %v", m.LastError)
	}
	if sent.Name == nil || *sent.Name != "Dana Recruiter" || sent.Email != nil {
		t.Errorf("patch sent = %+v", sent)
	}
	want := &domain.User{
		ID:          "u-1",
		Name:        "Dana Recruiter",
		Email:       "dana@acme.test",
		Company:     "Acme",
		Role:        "Talent Partner",
		Preferences: map[string]any{"tone": "casual"},
	}
	if diff := cmp.Diff(want, m.User); diff != "" {
		t.Errorf("user (-want +got):\n%s", diff)
	}
}
