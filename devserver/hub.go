package devserver

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"helix/config"
	"helix/domain"
	"helix/transport"
)

const (
	clientSendBuffer = 32
	writeTimeout     = 5 * time.Second
)

type pushClient struct {
	conn   *websocket.Conn
	userID string
	send   chan transport.Frame
}

// Hub owns the websocket connections and fans frames out to the
// connections of the user they concern.
type Hub struct {
	store   *Store
	metrics *metrics

	mu      sync.Mutex
	clients map[*pushClient]struct{}
	closed  bool
	wg      sync.WaitGroup
}

func newHub(store *Store, m *metrics) *Hub {
	return &Hub{store: store, metrics: m, clients: make(map[*pushClient]struct{})}
}

// Broadcast queues a frame for every connection of userID. Sessions,
// messages and sequences all belong to one user, so nobody else hears about
// them. A client that cannot keep up is disconnected rather than allowed to
// stall the rest.
func (h *Hub) Broadcast(userID, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		config.Log.Error("failed to encode broadcast", zap.String("event", event), zap.Error(err))
		return
	}
	frame := transport.Frame{Event: event, Data: data}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.userID != userID {
			continue
		}
		select {
		case c.send <- frame:
		default:
			config.Log.Warn("push client too slow, dropping", zap.String("user_id", c.userID))
			delete(h.clients, c)
			close(c.send)
		}
	}
	h.metrics.broadcasts.WithLabelValues(event).Inc()
}

// Clients reports how many push clients are connected.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// local development server; any origin may connect
		InsecureSkipVerify: true,
	})
	if err != nil {
		config.Log.Warn("websocket accept failed", zap.Error(err))
		return
	}

	c := &pushClient{conn: conn, userID: r.Header.Get(transport.UserIDHeader), send: make(chan transport.Frame, clientSendBuffer)}
	if !h.register(c) {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer h.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(ctx, c)
	}()

	h.readLoop(ctx, c)

	h.unregister(c)
	cancel()
	<-writerDone
	conn.Close(websocket.StatusNormalClosure, "")
}

func (h *Hub) register(c *pushClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.wg.Add(1)
	h.metrics.clients.Inc()
	config.Log.Debug("push client connected", zap.String("user_id", c.userID))
	return true
}

func (h *Hub) unregister(c *pushClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.metrics.clients.Dec()
	config.Log.Debug("push client disconnected", zap.String("user_id", c.userID))
}

func (h *Hub) writeLoop(ctx context.Context, c *pushClient) {
	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				// dropped by Broadcast or Close
				c.conn.Close(websocket.StatusGoingAway, "")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, c.conn, frame)
			cancel()
			if err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) readLoop(ctx context.Context, c *pushClient) {
	for {
		var frame transport.Frame
		if err := wsjson.Read(ctx, c.conn, &frame); err != nil {
			return
		}
		h.metrics.inbound.WithLabelValues(frame.Event).Inc()
		h.handleFrame(ctx, c, frame)
	}
}

func (h *Hub) handleFrame(ctx context.Context, c *pushClient, frame transport.Frame) {
	switch frame.Event {
	case transport.WireUpdateSequence:
		var upd domain.SequenceUpdate
		if err := json.Unmarshal(frame.Data, &upd); err != nil || upd.ID == "" {
			config.Log.Debug("ignoring malformed update_sequence", zap.Error(err))
			return
		}
		seq, err := h.store.UpdateSequence(ctx, upd.ID, upd.SequencePatch)
		if err != nil {
			config.Log.Warn("update_sequence failed", zap.String("sequence_id", upd.ID), zap.Error(err))
			return
		}
		h.Broadcast(c.userID, transport.WireSequenceUpdate, seq)

	case transport.WireMessage:
		// Messages are persisted over REST; the push copy is informational
		config.Log.Debug("received message frame", zap.String("user_id", c.userID))

	default:
		config.Log.Debug("ignoring unknown frame", zap.String("event", frame.Event))
	}
}

// Close disconnects every client and waits for their handlers to return.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()

	h.wg.Wait()
}
