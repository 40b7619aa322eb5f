package model

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"helix/domain"
	"helix/transport"
)

var errNotImplemented = errors.New("not implemented")

// fakeAPI is a function-field fake: each test sets only what it needs.
type fakeAPI struct {
	BootstrapFunc      func(ctx context.Context) (*domain.Session, error)
	ListSequencesFunc  func(ctx context.Context) ([]domain.OutreachSequence, error)
	SequenceFunc       func(ctx context.Context, id string) (*domain.OutreachSequence, error)
	CreateSequenceFunc func(ctx context.Context, fields domain.SequencePatch) (*domain.OutreachSequence, error)
	UpdateSequenceFunc func(ctx context.Context, id string, fields domain.SequencePatch) (*domain.OutreachSequence, error)
	DeleteSequenceFunc func(ctx context.Context, id string) error
	UpdateStepFunc     func(ctx context.Context, seqID, stepID string, fields domain.StepPatch) (*domain.OutreachSequence, error)
	SendMessageFunc    func(ctx context.Context, msg domain.OutgoingMessage) (*domain.ConversationEntry, error)
	UserFunc           func(ctx context.Context) (*domain.User, error)
	UpdateUserFunc     func(ctx context.Context, fields domain.UserPatch) (*domain.User, error)
}

func (f *fakeAPI) RequestSessionBootstrap(ctx context.Context) (*domain.Session, error) {
	if f.BootstrapFunc != nil {
		return f.BootstrapFunc(ctx)
	}
	return nil, errNotImplemented
}

func (f *fakeAPI) ListSequences(ctx context.Context) ([]domain.OutreachSequence, error) {
	if f.ListSequencesFunc != nil {
		return f.ListSequencesFunc(ctx)
	}
	return nil, errNotImplemented
}

func (f *fakeAPI) RequestSequence(ctx context.Context, id string) (*domain.OutreachSequence, error) {
	if f.SequenceFunc != nil {
		return f.SequenceFunc(ctx, id)
	}
	return nil, errNotImplemented
}

func (f *fakeAPI) CreateSequence(ctx context.Context, fields domain.SequencePatch) (*domain.OutreachSequence, error) {
	if f.CreateSequenceFunc != nil {
		return f.CreateSequenceFunc(ctx, fields)
	}
	return nil, errNotImplemented
}

func (f *fakeAPI) RequestSequenceUpdate(ctx context.Context, id string, fields domain.SequencePatch) (*domain.OutreachSequence, error) {
	if f.UpdateSequenceFunc != nil {
		return f.UpdateSequenceFunc(ctx, id, fields)
	}
	return nil, errNotImplemented
}

func (f *fakeAPI) DeleteSequence(ctx context.Context, id string) error {
	if f.DeleteSequenceFunc != nil {
		return f.DeleteSequenceFunc(ctx, id)
	}
	return errNotImplemented
}

func (f *fakeAPI) RequestStepUpdate(ctx context.Context, seqID, stepID string, fields domain.StepPatch) (*domain.OutreachSequence, error) {
	if f.UpdateStepFunc != nil {
		return f.UpdateStepFunc(ctx, seqID, stepID, fields)
	}
	return nil, errNotImplemented
}

func (f *fakeAPI) RequestSendMessage(ctx context.Context, msg domain.OutgoingMessage) (*domain.ConversationEntry, error) {
	if f.SendMessageFunc != nil {
		return f.SendMessageFunc(ctx, msg)
	}
	return nil, errNotImplemented
}

func (f *fakeAPI) RequestUserProfile(ctx context.Context) (*domain.User, error) {
	if f.UserFunc != nil {
		return f.UserFunc(ctx)
	}
	return nil, errNotImplemented
}

func (f *fakeAPI) RequestUserProfileUpdate(ctx context.Context, fields domain.UserPatch) (*domain.User, error) {
	if f.UpdateUserFunc != nil {
		return f.UpdateUserFunc(ctx, fields)
	}
	return nil, errNotImplemented
}

type published struct {
	Event   string
	Payload json.RawMessage
}

type fakeSub struct {
	kind transport.EventKind
	h    transport.Handler
}

// fakePush records opens and publishes and lets tests emit events.
type fakePush struct {
	mu        sync.Mutex
	OpenErr   error
	OpenFunc  func(ctx context.Context) error
	opens     int
	closes    int
	nextID    int
	handlers  map[int]fakeSub
	order     []int
	Published []published
}

func newFakePush() *fakePush {
	return &fakePush{handlers: map[int]fakeSub{}}
}

func (f *fakePush) Open(ctx context.Context) error {
	f.mu.Lock()
	f.opens++
	open, err := f.OpenFunc, f.OpenErr
	f.mu.Unlock()
	if open != nil {
		return open(ctx)
	}
	return err
}

func (f *fakePush) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	f.handlers = map[int]fakeSub{}
	return nil
}

func (f *fakePush) Publish(_ context.Context, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Published = append(f.Published, published{Event: event, Payload: data})
	return nil
}

func (f *fakePush) Subscribe(kind transport.EventKind, h transport.Handler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	f.handlers[id] = fakeSub{kind: kind, h: h}
	f.order = append(f.order, id)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.handlers, id)
	}
}

// Emit delivers ev to matching handlers in subscription order.
func (f *fakePush) Emit(ev transport.Event) {
	f.mu.Lock()
	var hs []transport.Handler
	for _, id := range f.order {
		if s, ok := f.handlers[id]; ok && s.kind == ev.Kind {
			hs = append(hs, s.h)
		}
	}
	f.mu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}

func (f *fakePush) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}
