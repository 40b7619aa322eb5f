package model

import (
	"context"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"helix/config"
	"helix/domain"
	"helix/storage"
	"helix/transport"
)

var pushKinds = []transport.EventKind{
	transport.EventNewMessage,
	transport.EventSequenceReplaced,
	transport.EventToolCallUpdate,
	transport.EventConnected,
	transport.EventDisconnected,
}

// Init subscribes to push events and starts the startup protocol.
// Subscribing happens before the channel opens so no early event is missed.
func (m *Model) Init() tea.Cmd {
	m.subscribe()
	return tea.Batch(m.initialize(), m.ListenPush())
}

func (m *Model) subscribe() {
	if m.unsubs != nil {
		return
	}

	events, done := m.events, m.ctx.Done()
	forward := func(ev transport.Event) {
		select {
		case events <- ev:
		case <-done:
		}
	}
	for _, kind := range pushKinds {
		m.unsubs = append(m.unsubs, m.Push.Subscribe(kind, forward))
	}
}

func (m *Model) initialize() tea.Cmd {
	api, push, store, ctx := m.API, m.Push, m.Storage, m.ctx
	return func() tea.Msg {
		// The push channel opens alongside the bootstrap. Its dial is bounded
		// and a failure is not fatal: the channel reconnects on the next publish.
		opened := make(chan error, 1)
		go func() { opened <- push.Open(ctx) }()

		msg := bootstrap(ctx, api, store)

		if err := <-opened; err != nil {
			config.Log.Warn("push channel unavailable", zap.Error(err))
			msg.PushErr = err
		}
		return msg
	}
}

// bootstrap runs the request/response half of startup. Only the session is
// required; the active sequence and the profile are best effort.
func bootstrap(ctx context.Context, api API, store *storage.ClientStorage) InitializedMsg {
	var msg InitializedMsg

	session, err := api.RequestSessionBootstrap(ctx)
	if err != nil {
		config.Log.Error("session bootstrap failed", zap.Error(err))
		msg.Err = err
		return msg
	}
	msg.Session = session

	if store != nil {
		if err := store.SaveCurrentSessionID(session.ID); err != nil {
			config.Log.Warn("failed to save current session id", zap.Error(err))
		}
	}

	if id := session.CurrentSequenceID; id != "" {
		seq, err := api.RequestSequence(ctx, id)
		if err != nil {
			config.Log.Warn("failed to load active sequence", zap.String("sequence_id", id), zap.Error(err))
		} else {
			msg.Sequence = seq
		}
	}

	user, err := api.RequestUserProfile(ctx)
	if err != nil {
		config.Log.Debug("no user profile", zap.Error(err))
	} else {
		msg.User = user
	}

	return msg
}

// ListenPush waits for the next push event. Update re-issues it after
// applying each event, so events are applied one at a time in arrival order.
func (m *Model) ListenPush() tea.Cmd {
	events, done := m.events, m.ctx.Done()
	return func() tea.Msg {
		select {
		case ev := <-events:
			return PushEventMsg{Event: ev}
		case <-done:
			return nil
		}
	}
}

// SendMessage appends an optimistic user entry under a temporary id and
// persists it. The entry is swapped for the confirmed one, or removed, when
// MessageSentMsg comes back.
func (m *Model) SendMessage(text string) tea.Cmd {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	tempID := uuid.NewString()
	entry := domain.NewEntry(tempID, domain.RoleUser, text)
	entry.Pending = true
	m.Entries = append(m.Entries, entry)

	api, ctx := m.API, m.ctx
	out := domain.OutgoingMessage{Role: domain.RoleUser, Content: text}
	return func() tea.Msg {
		entry, err := api.RequestSendMessage(ctx, out)
		return MessageSentMsg{TempID: tempID, Entry: entry, Err: err}
	}
}

// UpdateSequence asks the backend to merge fields into the active sequence.
// Local state is not touched until the backend answers.
func (m *Model) UpdateSequence(fields domain.SequencePatch) tea.Cmd {
	if m.Sequence == nil || fields.IsEmpty() {
		return nil
	}

	api, ctx, id := m.API, m.ctx, m.Sequence.ID
	return func() tea.Msg {
		seq, err := api.RequestSequenceUpdate(ctx, id, fields)
		return SequenceUpdatedMsg{SequenceID: id, Patch: fields, Sequence: seq, Err: err}
	}
}

// UpdateStep patches one step of the active sequence.
func (m *Model) UpdateStep(stepID string, fields domain.StepPatch) tea.Cmd {
	if m.Sequence == nil || fields.IsEmpty() {
		return nil
	}

	api, ctx, seqID := m.API, m.ctx, m.Sequence.ID
	return func() tea.Msg {
		seq, err := api.RequestStepUpdate(ctx, seqID, stepID, fields)
		return StepUpdatedMsg{SequenceID: seqID, StepID: stepID, Sequence: seq, Err: err}
	}
}

func (m *Model) UpdateUser(fields domain.UserPatch) tea.Cmd {
	if m.User == nil {
		return nil
	}

	api, ctx := m.API, m.ctx
	return func() tea.Msg {
		user, err := api.RequestUserProfileUpdate(ctx, fields)
		return UserUpdatedMsg{User: user, Err: err}
	}
}

// LoadSequences fetches the user's sequence library.
func (m *Model) LoadSequences() tea.Cmd {
	api, ctx := m.API, m.ctx
	return func() tea.Msg {
		seqs, err := api.ListSequences(ctx)
		return SequencesListedMsg{Sequences: seqs, Err: err}
	}
}

// SelectSequence makes id the active sequence.
func (m *Model) SelectSequence(id string) tea.Cmd {
	if id == "" {
		return nil
	}

	api, ctx := m.API, m.ctx
	return func() tea.Msg {
		seq, err := api.RequestSequence(ctx, id)
		return SequenceSelectedMsg{SequenceID: id, Sequence: seq, Err: err}
	}
}

// CreateSequence creates a sequence and makes it active.
func (m *Model) CreateSequence(fields domain.SequencePatch) tea.Cmd {
	api, ctx := m.API, m.ctx
	return func() tea.Msg {
		seq, err := api.CreateSequence(ctx, fields)
		return SequenceCreatedMsg{Sequence: seq, Err: err}
	}
}

func (m *Model) DeleteSequence(id string) tea.Cmd {
	if id == "" {
		return nil
	}

	api, ctx := m.API, m.ctx
	return func() tea.Msg {
		return SequenceDeletedMsg{SequenceID: id, Err: api.DeleteSequence(ctx, id)}
	}
}

// publish is fire-and-forget: a failure is logged and never rolls anything back.
func (m *Model) publish(event string, payload any) tea.Cmd {
	push, ctx := m.Push, m.ctx
	return func() tea.Msg {
		if err := push.Publish(ctx, event, payload); err != nil {
			return PublishFailedMsg{Event: event, Err: err}
		}
		return nil
	}
}

// Close releases the push channel: every handler is unsubscribed, pending
// protocols are cancelled and the connection is closed. Safe to call more
// than once and from any goroutine.
func (m *Model) Close() error {
	var err error
	m.closeOnce.Do(func() {
		for _, unsub := range m.unsubs {
			unsub()
		}
		m.cancel()
		err = m.Push.Close()
	})
	return err
}

// Shutdown is Close as a command, for the quit path of the UI.
func (m *Model) Shutdown() tea.Cmd {
	m.Quitting = true
	return func() tea.Msg {
		return ShutdownCompleteMsg{Err: m.Close()}
	}
}
