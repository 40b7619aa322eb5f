package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"helix/config"
)

const (
	maxFrameBytes      = 4 << 20
	defaultDialTimeout = 10 * time.Second
	minRedialDelay     = time.Second
	maxRedialDelay     = 30 * time.Second
)

var errChannelClosed = errors.New("push channel closed")

// PushChannel is the persistent bidirectional half of the transport.
// Open is idempotent; Publish connects lazily when the channel is down.
// A connection lost without Close is redialed in the background with
// exponential backoff, and subscribers of EventConnected/EventDisconnected
// hear about every change.
type PushChannel struct {
	url         string
	header      http.Header
	dialTimeout time.Duration
	redialMin   time.Duration
	redialMax   time.Duration
	subs        registry

	// dialMu serializes dials; mu guards the connection state and is never
	// held across network I/O.
	dialMu sync.Mutex
	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	gen    uint64 // bumped by Close so in-flight dials know to give up
	redial context.CancelFunc
	wg     sync.WaitGroup
}

// NewPushChannel builds an unconnected channel. dialTimeout bounds every
// websocket handshake; zero means ten seconds.
func NewPushChannel(url, userID string, dialTimeout time.Duration) *PushChannel {
	h := http.Header{}
	if userID != "" {
		h.Set(UserIDHeader, userID)
	}
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}
	return &PushChannel{
		url:         url,
		header:      h,
		dialTimeout: dialTimeout,
		redialMin:   minRedialDelay,
		redialMax:   maxRedialDelay,
	}
}

// Open connects if not already connected.
func (p *PushChannel) Open(ctx context.Context) error {
	return p.connect(ctx)
}

func (p *PushChannel) connect(ctx context.Context) error {
	p.dialMu.Lock()
	defer p.dialMu.Unlock()

	p.mu.Lock()
	if p.conn != nil {
		p.mu.Unlock()
		return nil
	}
	gen := p.gen
	p.mu.Unlock()

	// A server that accepts TCP but never answers the upgrade must not
	// hold the caller forever
	dialCtx, cancel := context.WithTimeout(ctx, p.dialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, p.url, &websocket.DialOptions{HTTPHeader: p.header})
	if err != nil {
		return &NetworkError{Op: "DIAL", URL: p.url, Err: err}
	}
	conn.SetReadLimit(maxFrameBytes)

	p.mu.Lock()
	if p.gen != gen {
		p.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
		return errChannelClosed
	}
	readCtx, cancelRead := context.WithCancel(context.Background())
	p.conn, p.cancel = conn, cancelRead
	p.wg.Add(1)
	p.mu.Unlock()

	config.Log.Debug("push channel connected", zap.String("url", p.url))
	go p.readLoop(readCtx, conn)
	p.subs.dispatch(Event{Kind: EventConnected})
	return nil
}

func (p *PushChannel) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer p.wg.Done()
	for {
		var frame Frame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			p.drop(conn, err)
			return
		}

		ev, err := DecodeEvent(frame)
		if err != nil {
			config.Log.Debug("ignoring push frame", zap.String("event", frame.Event), zap.Error(err))
			continue
		}
		p.subs.dispatch(ev)
	}
}

// drop forgets a connection whose reader failed, tells subscribers and
// starts redialing. A connection already replaced or closed by Close is
// left alone.
func (p *PushChannel) drop(conn *websocket.Conn, err error) {
	p.mu.Lock()
	if p.conn != conn {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	p.conn, p.cancel = nil, nil
	if p.redial != nil {
		p.redial()
	}
	ctx, stop := context.WithCancel(context.Background())
	p.redial = stop
	p.wg.Add(1)
	go p.redialLoop(ctx, stop)
	p.mu.Unlock()

	cancel()
	if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		config.Log.Warn("push channel disconnected", zap.String("url", p.url), zap.Error(err))
	}
	_ = conn.Close(websocket.StatusGoingAway, "")
	p.subs.dispatch(Event{Kind: EventDisconnected, Err: err})
}

func (p *PushChannel) redialLoop(ctx context.Context, stop context.CancelFunc) {
	defer p.wg.Done()
	defer func() {
		// A cancelled loop was superseded or closed; p.redial is no longer ours
		p.mu.Lock()
		if ctx.Err() == nil {
			p.redial = nil
		}
		p.mu.Unlock()
		stop()
	}()

	delay := p.redialMin
	for {
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}

		err := p.connect(ctx)
		if err == nil || errors.Is(err, errChannelClosed) || ctx.Err() != nil {
			return
		}
		config.Log.Debug("push redial failed", zap.Duration("retry_in", delay), zap.Error(err))
		delay = min(delay*2, p.redialMax)
	}
}

// Connected reports whether a connection is currently held.
func (p *PushChannel) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn != nil
}

// Close removes every subscriber, stops redialing and closes the
// connection. It waits for the background goroutines to exit. Closing a
// closed channel is a no-op.
func (p *PushChannel) Close() error {
	p.subs.clear()

	p.mu.Lock()
	p.gen++
	conn, cancel, stopRedial := p.conn, p.cancel, p.redial
	p.conn, p.cancel, p.redial = nil, nil, nil
	p.mu.Unlock()

	if stopRedial != nil {
		stopRedial()
	}

	var err error
	if conn != nil {
		err = conn.Close(websocket.StatusNormalClosure, "")
		cancel()
	}
	p.wg.Wait()

	var ce websocket.CloseError
	if err != nil && !errors.As(err, &ce) {
		return fmt.Errorf("failed to close push channel: %w", err)
	}
	return nil
}

// Publish sends one event, connecting first if needed.
func (p *PushChannel) Publish(ctx context.Context, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", event, err)
	}

	if err := p.connect(ctx); err != nil {
		return err
	}

	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return &NetworkError{Op: "PUBLISH " + event, URL: p.url, Err: errors.New("connection lost")}
	}

	if err := wsjson.Write(ctx, conn, Frame{Event: event, Data: data}); err != nil {
		return &NetworkError{Op: "PUBLISH " + event, URL: p.url, Err: err}
	}
	return nil
}

// Subscribe registers h for kind and returns its unsubscribe function.
// Calling the returned function more than once is harmless.
func (p *PushChannel) Subscribe(kind EventKind, h Handler) func() {
	return p.subs.add(kind, h)
}

// Subscribers reports how many handlers are registered for kind.
func (p *PushChannel) Subscribers(kind EventKind) int {
	return p.subs.count(kind)
}
