package model

import (
	"helix/domain"
	"helix/transport"
)

// InitializedMsg carries everything the startup protocol fetched.
// Err is set only when the session could not be bootstrapped.
type InitializedMsg struct {
	Session  *domain.Session
	Sequence *domain.OutreachSequence
	User     *domain.User
	PushErr  error
	Err      error
}

type MessageSentMsg struct {
	TempID string
	Entry  *domain.ConversationEntry
	Err    error
}

type SequenceUpdatedMsg struct {
	SequenceID string
	Patch      domain.SequencePatch
	Sequence   *domain.OutreachSequence
	Err        error
}

type StepUpdatedMsg struct {
	SequenceID string
	StepID     string
	Sequence   *domain.OutreachSequence
	Err        error
}

type UserUpdatedMsg struct {
	User *domain.User
	Err  error
}

type SequencesListedMsg struct {
	Sequences []domain.OutreachSequence
	Err       error
}

type SequenceSelectedMsg struct {
	SequenceID string
	Sequence   *domain.OutreachSequence
	Err        error
}

type SequenceCreatedMsg struct {
	Sequence *domain.OutreachSequence
	Err      error
}

type SequenceDeletedMsg struct {
	SequenceID string
	Err        error
}

// PushEventMsg is one event off the push channel, in arrival order.
type PushEventMsg struct {
	Event transport.Event
}

type PublishFailedMsg struct {
	Event string
	Err   error
}

type ShutdownCompleteMsg struct {
	Err error
}
