package model

import (
	"context"
	"sync"

	"helix/domain"
	"helix/storage"
	"helix/transport"
)

// pushBuffer bounds how far the push reader can run ahead of Update.
// When it fills, the reader blocks, which keeps arrival order intact.
const pushBuffer = 64

// Model is the view-model store: the in-memory mirror of the backend's
// entities plus the protocols that change them. It is owned by the
// bubbletea program goroutine; protocols return tea.Cmds that do their I/O
// elsewhere and report back through messages applied in Update.
type Model struct {
	// Core dependencies
	API     API
	Push    Realtime
	Storage *storage.ClientStorage

	// Application data
	Entries   []domain.ConversationEntry
	Sequence  *domain.OutreachSequence
	Session   *domain.Session
	User      *domain.User
	Sequences []domain.OutreachSequence

	// Runtime state (not UI)
	Loading     bool
	Initialized bool
	PushOnline  bool
	LastError   error
	Quitting    bool

	Version string

	ctx    context.Context
	cancel context.CancelFunc
	events chan transport.Event
	unsubs []func()

	// pushSeen is set once a connection event has been applied; from then on
	// those events, not the startup result, decide PushOnline.
	pushSeen bool

	closeOnce sync.Once
}

// NewModel creates the store. Storage may be nil.
func NewModel(api API, push Realtime, store *storage.ClientStorage, version string) *Model {
	ctx, cancel := context.WithCancel(context.Background())
	return &Model{
		API:     api,
		Push:    push,
		Storage: store,
		Loading: true,
		Version: version,
		ctx:     ctx,
		cancel:  cancel,
		events:  make(chan transport.Event, pushBuffer),
	}
}

// Context is cancelled by Shutdown.
func (m *Model) Context() context.Context {
	return m.ctx
}

func (m *Model) entryIndex(id string) int {
	for i := range m.Entries {
		if m.Entries[i].ID == id {
			return i
		}
	}
	return -1
}

func (m *Model) removeEntry(i int) {
	m.Entries = append(m.Entries[:i:i], m.Entries[i+1:]...)
}

// Entry returns a copy of the entry with the given id.
func (m *Model) Entry(id string) (domain.ConversationEntry, bool) {
	if i := m.entryIndex(id); i >= 0 {
		return m.Entries[i], true
	}
	return domain.ConversationEntry{}, false
}
