package model

import (
	"context"

	"helix/domain"
	"helix/transport"
)

// API is the request/response side of the backend; *transport.Client
// satisfies it.
type API interface {
	RequestSessionBootstrap(ctx context.Context) (*domain.Session, error)
	ListSequences(ctx context.Context) ([]domain.OutreachSequence, error)
	RequestSequence(ctx context.Context, id string) (*domain.OutreachSequence, error)
	CreateSequence(ctx context.Context, fields domain.SequencePatch) (*domain.OutreachSequence, error)
	RequestSequenceUpdate(ctx context.Context, id string, fields domain.SequencePatch) (*domain.OutreachSequence, error)
	DeleteSequence(ctx context.Context, id string) error
	RequestStepUpdate(ctx context.Context, sequenceID, stepID string, fields domain.StepPatch) (*domain.OutreachSequence, error)
	RequestSendMessage(ctx context.Context, msg domain.OutgoingMessage) (*domain.ConversationEntry, error)
	RequestUserProfile(ctx context.Context) (*domain.User, error)
	RequestUserProfileUpdate(ctx context.Context, fields domain.UserPatch) (*domain.User, error)
}

// Realtime is the push side of the backend; *transport.PushChannel satisfies it.
type Realtime interface {
	Open(ctx context.Context) error
	Close() error
	Publish(ctx context.Context, event string, payload any) error
	Subscribe(kind transport.EventKind, h transport.Handler) func()
}

var (
	_ API      = (*transport.Client)(nil)
	_ Realtime = (*transport.PushChannel)(nil)
)
