package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"helix/domain"
)

// Wire event names on the push channel.
const (
	WireMessage         = "message"
	WireUpdateSequence  = "update_sequence"
	WireSequenceUpdate  = "sequence_update"
	WireSequenceCreated = "sequence_created"
	WireToolCall        = "tool_call"
)

// EventKind is what a subscriber listens for. Several wire events can map
// to one kind: sequence_update and sequence_created both replace the sequence.
type EventKind int

const (
	EventNewMessage EventKind = iota + 1
	EventSequenceReplaced
	EventToolCallUpdate

	// Connection state changes of the push channel itself.
	EventConnected
	EventDisconnected
)

func (k EventKind) String() string {
	switch k {
	case EventNewMessage:
		return "new-message"
	case EventSequenceReplaced:
		return "sequence-replaced"
	case EventToolCallUpdate:
		return "tool-call-update"
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Frame is one push-channel text frame.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Event is a decoded server-to-client frame or a connection state change.
// Err is set on EventDisconnected.
type Event struct {
	Kind     EventKind
	Name     string
	Entry    *domain.ConversationEntry
	Sequence *domain.OutreachSequence
	Err      error
}

var errUnknownEvent = errors.New("unknown event")

// DecodeEvent turns a frame into a typed event.
func DecodeEvent(f Frame) (Event, error) {
	ev := Event{Name: f.Event}

	switch f.Event {
	case WireMessage, WireToolCall:
		var entry domain.ConversationEntry
		if err := json.Unmarshal(f.Data, &entry); err != nil {
			return ev, fmt.Errorf("decode %s payload: %w", f.Event, err)
		}
		if entry.ID == "" {
			return ev, fmt.Errorf("%s payload has no id", f.Event)
		}
		ev.Kind = EventNewMessage
		if f.Event == WireToolCall {
			ev.Kind = EventToolCallUpdate
		}
		ev.Entry = &entry

	case WireSequenceUpdate, WireSequenceCreated:
		var seq domain.OutreachSequence
		if err := json.Unmarshal(f.Data, &seq); err != nil {
			return ev, fmt.Errorf("decode %s payload: %w", f.Event, err)
		}
		// Without an id the payload cannot be a whole sequence
		if seq.ID == "" {
			return ev, fmt.Errorf("%s payload has no id", f.Event)
		}
		ev.Kind = EventSequenceReplaced
		ev.Sequence = &seq

	default:
		return ev, fmt.Errorf("%w %q", errUnknownEvent, f.Event)
	}

	return ev, nil
}

// Handler receives push events. Handlers run on the push channel's reader
// goroutine, one at a time, in subscription order.
type Handler func(Event)

type subscription struct {
	id      uint64
	kind    EventKind
	handler Handler
}

// registry is an ordered set of subscriber handles.
type registry struct {
	mu     sync.Mutex
	nextID uint64
	subs   []subscription
}

func (r *registry) add(kind EventKind, h Handler) func() {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.subs = append(r.subs, subscription{id: id, kind: kind, handler: h})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(id) })
	}
}

func (r *registry) remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range r.subs {
		if s.id == id {
			r.subs = append(r.subs[:i:i], r.subs[i+1:]...)
			return
		}
	}
}

func (r *registry) dispatch(ev Event) {
	r.mu.Lock()
	var matched []Handler
	for _, s := range r.subs {
		if s.kind == ev.Kind {
			matched = append(matched, s.handler)
		}
	}
	r.mu.Unlock()

	for _, h := range matched {
		h(ev)
	}
}

func (r *registry) clear() {
	r.mu.Lock()
	r.subs = nil
	r.mu.Unlock()
}

func (r *registry) count(kind EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.subs {
		if s.kind == kind {
			n++
		}
	}
	return n
}
