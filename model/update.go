package model

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"helix/config"
	"helix/domain"
	"helix/transport"
)

// Update applies the result of a protocol or a push event to the store and
// returns any follow-up command. Messages the store does not own are ignored.
func (m *Model) Update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case InitializedMsg:
		m.applyInitialized(msg)
	case MessageSentMsg:
		return m.applyMessageSent(msg)
	case SequenceUpdatedMsg:
		return m.applySequenceUpdated(msg)
	case StepUpdatedMsg:
		m.applyStepUpdated(msg)
	case UserUpdatedMsg:
		m.applyUserUpdated(msg)
	case SequencesListedMsg:
		m.applySequencesListed(msg)
	case SequenceSelectedMsg:
		m.applySequenceSelected(msg)
	case SequenceCreatedMsg:
		m.applySequenceCreated(msg)
	case SequenceDeletedMsg:
		m.applySequenceDeleted(msg)
	case PushEventMsg:
		m.applyPushEvent(msg.Event)
		return m.ListenPush()
	case PublishFailedMsg:
		config.Log.Warn("publish failed", zap.String("event", msg.Event), zap.Error(msg.Err))
		m.PushOnline = false
	}
	return nil
}

// ClearError dismisses the last reported error.
func (m *Model) ClearError() {
	m.LastError = nil
}

func (m *Model) fail(op string, err error, fields ...zap.Field) {
	config.Log.Error(op+" failed", append(fields, zap.Error(err))...)
	m.LastError = fmt.Errorf("%s: %w", op, err)
}

func (m *Model) applyInitialized(msg InitializedMsg) {
	// Loading clears on every outcome
	m.Loading = false
	m.Initialized = true
	if msg.PushErr != nil {
		m.PushOnline = false
	} else if !m.pushSeen {
		m.PushOnline = true
	}

	if msg.Err != nil {
		m.LastError = msg.Err
		return
	}

	if msg.Session != nil {
		m.Session = msg.Session
		m.Entries = mergeEntries(msg.Session.Messages, m.Entries)
	}

	// A sequence pushed while startup was in flight wins over the fetched one
	if m.Sequence == nil && msg.Sequence != nil {
		m.Sequence = msg.Sequence
	}
	if m.Sequence != nil {
		m.rememberSequence(*m.Sequence)
	}
	if msg.User != nil {
		m.User = msg.User
	}
}

// mergeEntries lays entries that reached the store during startup (push
// events, early sends) over the session's log: same id replaces, new ids append.
func mergeEntries(base, live []domain.ConversationEntry) []domain.ConversationEntry {
	out := make([]domain.ConversationEntry, len(base), len(base)+len(live))
	copy(out, base)

	for _, e := range live {
		replaced := false
		for i := range out {
			if out[i].ID == e.ID {
				out[i] = e
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, e)
		}
	}
	return out
}

func (m *Model) applyMessageSent(msg MessageSentMsg) tea.Cmd {
	idx := m.entryIndex(msg.TempID)

	if msg.Err != nil {
		if idx >= 0 {
			m.removeEntry(idx)
		}
		m.fail("send message", msg.Err, zap.String("temp_id", msg.TempID))
		return nil
	}

	var confirmed domain.ConversationEntry
	switch {
	case msg.Entry != nil:
		confirmed = *msg.Entry
	case idx >= 0:
		confirmed = m.Entries[idx]
	}
	if confirmed.ID == "" {
		confirmed.ID = msg.TempID
	}
	confirmed.Pending = false

	// The backend echoes the message on the push channel, which can beat
	// the response here. Keep only the copy at the optimistic position.
	if dup := m.entryIndex(confirmed.ID); dup >= 0 && dup != idx && idx >= 0 {
		m.removeEntry(dup)
		if dup < idx {
			idx--
		}
	}

	switch {
	case idx >= 0:
		m.Entries[idx] = confirmed
	case m.entryIndex(confirmed.ID) < 0:
		m.Entries = append(m.Entries, confirmed)
	}

	return m.publish(transport.WireMessage, confirmed)
}

func (m *Model) applySequenceUpdated(msg SequenceUpdatedMsg) tea.Cmd {
	if msg.Err != nil {
		m.fail("update sequence", msg.Err, zap.String("sequence_id", msg.SequenceID))
		return nil
	}

	m.replaceSequence(msg.Sequence)
	return m.publish(transport.WireUpdateSequence, domain.SequenceUpdate{
		ID:            msg.SequenceID,
		SequencePatch: msg.Patch,
	})
}

func (m *Model) applyStepUpdated(msg StepUpdatedMsg) {
	if msg.Err != nil {
		m.fail("update step", msg.Err,
			zap.String("sequence_id", msg.SequenceID), zap.String("step_id", msg.StepID))
		return
	}
	m.replaceSequence(msg.Sequence)
}

func (m *Model) applyUserUpdated(msg UserUpdatedMsg) {
	if msg.Err != nil {
		m.fail("update profile", msg.Err)
		return
	}
	if msg.User != nil {
		m.User = msg.User
	}
}

func (m *Model) applySequencesListed(msg SequencesListedMsg) {
	if msg.Err != nil {
		m.fail("list sequences", msg.Err)
		return
	}
	m.Sequences = msg.Sequences
}

func (m *Model) applySequenceSelected(msg SequenceSelectedMsg) {
	if msg.Err != nil {
		m.fail("load sequence", msg.Err, zap.String("sequence_id", msg.SequenceID))
		return
	}
	m.replaceSequence(msg.Sequence)
}

func (m *Model) applySequenceCreated(msg SequenceCreatedMsg) {
	if msg.Err != nil {
		m.fail("create sequence", msg.Err)
		return
	}
	m.replaceSequence(msg.Sequence)
}

func (m *Model) applySequenceDeleted(msg SequenceDeletedMsg) {
	if msg.Err != nil {
		m.fail("delete sequence", msg.Err, zap.String("sequence_id", msg.SequenceID))
		return
	}

	for i := range m.Sequences {
		if m.Sequences[i].ID == msg.SequenceID {
			m.Sequences = append(m.Sequences[:i:i], m.Sequences[i+1:]...)
			break
		}
	}
	if m.Sequence != nil && m.Sequence.ID == msg.SequenceID {
		m.Sequence = nil
	}
}

func (m *Model) applyPushEvent(ev transport.Event) {
	switch ev.Kind {
	case transport.EventNewMessage, transport.EventToolCallUpdate:
		if ev.Entry != nil {
			m.upsertEntry(*ev.Entry)
		}
	case transport.EventSequenceReplaced:
		// The backend decides which sequence is current
		m.replaceSequence(ev.Sequence)
	case transport.EventConnected:
		m.pushSeen = true
		m.PushOnline = true
	case transport.EventDisconnected:
		m.pushSeen = true
		config.Log.Info("push channel offline", zap.Error(ev.Err))
		m.PushOnline = false
	}
}

// upsertEntry replaces the entry with the same id in place or appends it.
// A tool call never moves back from a terminal status.
func (m *Model) upsertEntry(e domain.ConversationEntry) {
	i := m.entryIndex(e.ID)
	if i < 0 {
		m.Entries = append(m.Entries, e)
		return
	}

	prev := m.Entries[i].ToolCall
	if prev != nil && e.ToolCall != nil && !prev.Status.CanAdvanceTo(e.ToolCall.Status) {
		config.Log.Debug("ignoring stale tool status",
			zap.String("entry_id", e.ID),
			zap.String("have", string(prev.Status)),
			zap.String("got", string(e.ToolCall.Status)))
		kept := *prev
		e.ToolCall = &kept
	}
	m.Entries[i] = e
}

func (m *Model) replaceSequence(seq *domain.OutreachSequence) {
	if seq == nil {
		return
	}
	s := *seq
	m.Sequence = &s
	m.rememberSequence(s)
}

// rememberSequence keeps the library listing in step with the active sequence.
func (m *Model) rememberSequence(seq domain.OutreachSequence) {
	for i := range m.Sequences {
		if m.Sequences[i].ID == seq.ID {
			m.Sequences[i] = seq
			return
		}
	}
	m.Sequences = append(m.Sequences, seq)
}
