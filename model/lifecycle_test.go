package model

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"helix/domain"
	"helix/storage"
	"helix/transport"
)

func TestInitialize(t *testing.T) {
	session := &domain.Session{
		ID:                "s-1",
		CurrentSequenceID: "seq-1",
		Messages:          []domain.ConversationEntry{domain.NewEntry("m-1", domain.RoleAssistant, "Welcome")},
	}

	tests := []struct {
		name         string
		api          *fakeAPI
		openErr      error
		wantErr      bool
		wantSequence bool
		wantUser     bool
		wantPush     bool
	}{
		{
			name: "everything available",
			api: &fakeAPI{
				BootstrapFunc: func(context.Context) (*domain.Session, error) { return session, nil },
				SequenceFunc:  func(context.Context, string) (*domain.OutreachSequence, error) { return sampleSequence(), nil },
				UserFunc:      func(context.Context) (*domain.User, error) { return &domain.User{ID: "u-1"}, nil },
			},
			wantSequence: true,
			wantUser:     true,
			wantPush:     true,
		},
		{
			name: "sequence and user failures are not fatal",
			api: &fakeAPI{
				BootstrapFunc: func(context.Context) (*domain.Session, error) { return session, nil },
			},
			wantPush: true,
		},
		{
			name:    "push channel down is not fatal",
			openErr: errors.New("dial refused"),
			api: &fakeAPI{
				BootstrapFunc: func(context.Context) (*domain.Session, error) { return session, nil },
			},
		},
		{
			name: "bootstrap failure",
			api: &fakeAPI{
				BootstrapFunc: func(context.Context) (*domain.Session, error) {
					return nil, &transport.InitializationError{FetchErr: errors.New("404"), CreateErr: errors.New("500")}
				},
			},
			wantErr:  true,
			wantPush: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, push := newTestModel(tt.api)
			push.OpenErr = tt.openErr

			if !m.Loading {
				t.Fatal("store should start loading")
			}
			m.Update(m.initialize()())

			if m.Loading {
				t.Error("loading flag not cleared")
			}
			if push.opens != 1 {
				t.Errorf("push opens = %d", push.opens)
			}
			if m.PushOnline != tt.wantPush {
				t.Errorf("PushOnline = %v, want %v", m.PushOnline, tt.wantPush)
			}

			if tt.wantErr {
				var ierr *transport.InitializationError
				if !errors.As(m.LastError, &ierr) {
					t.Errorf("LastError = %v", m.LastError)
				}
				if m.Session != nil {
					t.Error("no session expected")
				}
				return
			}

			if m.LastError != nil {
				t.Errorf("LastError = %v", m.LastError)
			}
			if m.Session == nil || m.Session.ID != "s-1" {
				t.Fatalf("session = %+v", m.Session)
			}
			if diff := cmp.Diff([]string{"m-1"}, entryIDs(m.Entries)); diff != "" {
				t.Errorf("entries (-want +got):\n%s", diff)
			}
			if (m.Sequence != nil) != tt.wantSequence {
				t.Errorf("sequence = %+v", m.Sequence)
			}
			if (m.User != nil) != tt.wantUser {
				t.Errorf("user = %+v", m.User)
			}
		})
	}
}

func TestInitializeSavesSessionID(t *testing.T) {
	store, err := storage.NewClientStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	m := NewModel(&fakeAPI{
		BootstrapFunc: func(context.Context) (*domain.Session, error) { return &domain.Session{ID: "s-7"}, nil },
	}, newFakePush(), store, "test")

	m.Update(m.initialize()())

	id, err := store.LoadCurrentSessionID()
	if err != nil || id != "s-7" {
		t.Errorf("saved session id = %q, %v", id, err)
	}
}

func TestInitializeKeepsEventsFromStartup(t *testing.T) {
	m, _ := newTestModel(&fakeAPI{
		BootstrapFunc: func(context.Context) (*domain.Session, error) {
			return &domain.Session{
				ID:                "s-1",
				CurrentSequenceID: "seq-1",
				Messages: []domain.ConversationEntry{
					domain.NewEntry("m-1", domain.RoleUser, "old"),
					{ID: "m-2", Role: domain.RoleAssistant, ToolCall: &domain.ToolInvocation{Name: "generate_sequence", Status: domain.ToolInvoking}},
				},
			}, nil
		},
		SequenceFunc: func(context.Context, string) (*domain.OutreachSequence, error) { return sampleSequence(), nil },
	})

	// Push events land while the bootstrap is in flight
	m.Update(PushEventMsg{Event: transport.Event{
		Kind:  transport.EventToolCallUpdate,
		Entry: &domain.ConversationEntry{ID: "m-2", Role: domain.RoleAssistant, ToolCall: &domain.ToolInvocation{Name: "generate_sequence", Status: domain.ToolCompleted}},
	}})
	m.Update(PushEventMsg{Event: transport.Event{
		Kind:  transport.EventNewMessage,
		Entry: &domain.ConversationEntry{ID: "m-3", Role: domain.RoleAssistant, Content: "Done"},
	}})
	m.Update(PushEventMsg{Event: transport.Event{
		Kind:     transport.EventSequenceReplaced,
		Sequence: &domain.OutreachSequence{ID: "seq-2"},
	}})

	m.Update(m.initialize()())

	if diff := cmp.Diff([]string{"m-1", "m-2", "m-3"}, entryIDs(m.Entries)); diff != "" {
		t.Errorf("entries (-want +got):\n%s", diff)
	}
	if m.Entries[1].ToolCall.Status != domain.ToolCompleted {
		t.Errorf("startup snapshot clobbered pushed status: %+v", m.Entries[1].ToolCall)
	}
	if m.Sequence.ID != "seq-2" {
		t.Errorf("sequence = %s, want the pushed one", m.Sequence.ID)
	}
}

func TestPushEventsNeverRegressLoading(t *testing.T) {
	m, _ := newTestModel(&fakeAPI{
		BootstrapFunc: func(context.Context) (*domain.Session, error) { return &domain.Session{ID: "s-1"}, nil },
	})
	m.Update(m.initialize()())

	events := []transport.Event{
		{Kind: transport.EventNewMessage, Entry: &domain.ConversationEntry{ID: "m-1", Pending: true}},
		{Kind: transport.EventSequenceReplaced, Sequence: &domain.OutreachSequence{ID: "seq-9"}},
		{Kind: transport.EventToolCallUpdate, Entry: &domain.ConversationEntry{ID: "m-1", ToolCall: &domain.ToolInvocation{Status: domain.ToolInvoking}}},
	}
	for _, ev := range events {
		m.Update(PushEventMsg{Event: ev})
		if m.Loading {
			t.Fatalf("loading regressed after %v", ev.Kind)
		}
	}
}

func TestPushEventsReachUpdateInOrder(t *testing.T) {
	m, push := newTestModel(&fakeAPI{})
	m.Init()

	for i, id := range []string{"m-1", "m-2", "m-3"} {
		kind := transport.EventNewMessage
		if i == 1 {
			kind = transport.EventToolCallUpdate
		}
		push.Emit(transport.Event{Kind: kind, Entry: &domain.ConversationEntry{ID: id}})
	}

	for range 3 {
		msg := m.ListenPush()()
		if _, ok := msg.(PushEventMsg); !ok {
			t.Fatalf("got %T", msg)
		}
		m.Update(msg)
	}

	if diff := cmp.Diff([]string{"m-1", "m-2", "m-3"}, entryIDs(m.Entries)); diff != "" {
		t.Errorf("arrival order lost (-want +got):\n%s", diff)
	}
}

func TestInitSubscribesOnce(t *testing.T) {
	m, push := newTestModel(&fakeAPI{})
	m.Init()
	m.Init()
	if got := push.subscribers(); got != len(pushKinds) {
		t.Errorf("subscribers = %d, want %d", got, len(pushKinds))
	}
}

func TestCloseReleasesPushChannel(t *testing.T) {
	m, push := newTestModel(&fakeAPI{})
	m.Init()

	msg := m.Shutdown()()
	if done, ok := msg.(ShutdownCompleteMsg); !ok || done.Err != nil {
		t.Fatalf("shutdown = %#v", msg)
	}
	if !m.Quitting {
		t.Error("Quitting not set")
	}
	if push.subscribers() != 0 {
		t.Errorf("%d handlers still subscribed", push.subscribers())
	}
	if err := m.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if push.closes != 1 {
		t.Errorf("push closed %d times", push.closes)
	}

	// A listener armed before shutdown returns instead of hanging
	done := make(chan struct{})
	go func() {
		m.ListenPush()()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ListenPush blocked after Close")
	}
}

func TestSequenceLibrary(t *testing.T) {
	library := []domain.OutreachSequence{*sampleSequence(), {ID: "seq-2", Name: "Designers"}}

	m, _ := newTestModel(&fakeAPI{
		ListSequencesFunc: func(context.Context) ([]domain.OutreachSequence, error) { return library, nil },
		SequenceFunc: func(_ context.Context, id string) (*domain.OutreachSequence, error) {
			for _, s := range library {
				if s.ID == id {
					s := s
					return &s, nil
				}
			}
			return nil, &transport.ServerError{StatusCode: 404, Message: "Sequence not found"}
		},
		CreateSequenceFunc: func(_ context.Context, fields domain.SequencePatch) (*domain.OutreachSequence, error) {
			seq := &domain.OutreachSequence{ID: "seq-3"}
			fields.Apply(seq)
			return seq, nil
		},
		DeleteSequenceFunc: func(context.Context, string) error { return nil },
	})

	run(m, m.LoadSequences())
	if len(m.Sequences) != 2 {
		t.Fatalf("library = %d", len(m.Sequences))
	}

	run(m, m.SelectSequence("seq-2"))
	if m.Sequence == nil || m.Sequence.ID != "seq-2" {
		t.Fatalf("selected = %+v", m.Sequence)
	}

	run(m, m.SelectSequence("missing"))
	if !transport.IsNotFound(m.LastError) || m.Sequence.ID != "seq-2" {
		t.Errorf("failed select should keep state: seq=%s err=%v", m.Sequence.ID, m.LastError)
	}
	m.ClearError()

	run(m, m.CreateSequence(domain.SequencePatch{Name: domain.String("Data Team")}))
	if m.Sequence.ID != "seq-3" || len(m.Sequences) != 3 {
		t.Errorf("create: active=%s library=%d", m.Sequence.ID, len(m.Sequences))
	}

	run(m, m.DeleteSequence("seq-3"))
	if m.Sequence != nil {
		t.Errorf("deleting the active sequence should clear it")
	}
	if len(m.Sequences) != 2 {
		t.Errorf("library = %d after delete", len(m.Sequences))
	}
}

func TestInitializeOpensPushAlongsideBootstrap(t *testing.T) {
	bootstrapped := make(chan struct{})
	m, push := newTestModel(&fakeAPI{
		BootstrapFunc: func(context.Context) (*domain.Session, error) {
			close(bootstrapped)
			return &domain.Session{ID: "s-1"}, nil
		},
	})
	// Stands in for a socket host that is slow to answer the upgrade
	push.OpenFunc = func(context.Context) error {
		select {
		case <-bootstrapped:
			return errors.New("handshake timed out")
		case <-time.After(5 * time.Second):
			return errors.New("bootstrap waited for the push channel")
		}
	}

	m.Update(m.initialize()())

	if m.Loading {
		t.Fatal("loading flag not cleared")
	}
	if m.Session == nil || m.Session.ID != "s-1" {
		t.Fatalf("session = %+v", m.Session)
	}
	if m.PushOnline {
		t.Error("PushOnline should be false after a failed open")
	}
	if m.LastError != nil {
		t.Errorf("a push failure is not a startup error: %v", m.LastError)
	}
}

func TestPushOnlineFollowsConnectionEvents(t *testing.T) {
	m, push := newTestModel(&fakeAPI{
		BootstrapFunc: func(context.Context) (*domain.Session, error) { return &domain.Session{ID: "s-1"}, nil },
	})
	m.Init()
	m.Update(m.initialize()())
	if !m.PushOnline {
		t.Fatal("expected online after startup")
	}

	steps := []struct {
		ev   transport.Event
		want bool
	}{
		{transport.Event{Kind: transport.EventDisconnected, Err: errors.New("going away")}, false},
		{transport.Event{Kind: transport.EventConnected}, true},
		{transport.Event{Kind: transport.EventDisconnected, Err: errors.New("reset")}, false},
	}
	for _, st := range steps {
		push.Emit(st.ev)
		msg := m.ListenPush()()
		m.Update(msg)
		if m.PushOnline != st.want {
			t.Errorf("after %v: PushOnline = %v, want %v", st.ev.Kind, m.PushOnline, st.want)
		}
	}

	// A late startup result does not overrule what the channel reported
	m.Update(InitializedMsg{Session: &domain.Session{ID: "s-1"}})
	if m.PushOnline {
		t.Error("startup result overrode a disconnect")
	}
	m.Close()
}
