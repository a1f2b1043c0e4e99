package bus

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/iksnae/chatsync/internal"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsSendBuffer   = 256
)

// WSRelay is an http.Handler that relays envelopes between every connected
// websocket client. It keeps no state beyond the live connections.
type WSRelay struct {
	upgrader websocket.Upgrader

	mu    sync.Mutex
	peers map[*wsPeer]struct{}
}

type wsPeer struct {
	conn *websocket.Conn
	send chan Envelope
	once sync.Once
}

// NewWSRelay creates a relay accepting connections from any origin.
func NewWSRelay() *WSRelay {
	return &WSRelay{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // local tool, peers are other actors on this machine
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		peers: make(map[*wsPeer]struct{}),
	}
}

// Peers returns the number of connected clients.
func (r *WSRelay) Peers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

func (r *WSRelay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		internal.LogWarn("websocket upgrade failed: %v", err)
		return
	}
	p := &wsPeer{conn: conn, send: make(chan Envelope, wsSendBuffer)}
	r.mu.Lock()
	r.peers[p] = struct{}{}
	r.mu.Unlock()
	internal.LogDebug("relay: peer connected from %s", req.RemoteAddr)

	go r.writeLoop(p)
	r.readLoop(p)
}

func (r *WSRelay) readLoop(p *wsPeer) {
	defer r.drop(p)
	for {
		var env Envelope
		if err := p.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				internal.LogWarn("relay: read failed: %v", err)
			}
			return
		}
		r.mu.Lock()
		for other := range r.peers {
			if other == p {
				continue
			}
			select {
			case other.send <- env:
			default:
				internal.LogWarn("relay: dropping slow peer")
				go r.drop(other)
			}
		}
		r.mu.Unlock()
	}
}

func (r *WSRelay) writeLoop(p *wsPeer) {
	for env := range p.send {
		_ = p.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := p.conn.WriteJSON(env); err != nil {
			r.drop(p)
			return
		}
	}
}

func (r *WSRelay) drop(p *wsPeer) {
	p.once.Do(func() {
		r.mu.Lock()
		delete(r.peers, p)
		r.mu.Unlock()
		close(p.send)
		p.conn.Close()
	})
}

// Close disconnects every peer. http.Server.Shutdown does not touch
// hijacked connections, so servers call this as well.
func (r *WSRelay) Close() {
	r.mu.Lock()
	peers := make([]*wsPeer, 0, len(r.peers))
	for p := range r.peers {
		peers = append(peers, p)
	}
	r.mu.Unlock()
	for _, p := range peers {
		r.drop(p)
	}
}

// WSTransport is a client connection to a WSRelay.
type WSTransport struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	mu     sync.Mutex
	nextID int
	subs   map[int]func(Envelope)
	closed bool
	done   chan struct{}
}

// DialWebSocket connects to a relay. http and https URLs are accepted and
// rewritten to ws and wss.
func DialWebSocket(ctx context.Context, url string) (*WSTransport, error) {
	url = strings.Replace(url, "http://", "ws://", 1)
	url = strings.Replace(url, "https://", "wss://", 1)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket connect: %w", err)
	}
	t := &WSTransport{
		conn: conn,
		subs: make(map[int]func(Envelope)),
		done: make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

// Done is closed when the connection ends.
func (t *WSTransport) Done() <-chan struct{} {
	return t.done
}

func (t *WSTransport) readLoop() {
	defer close(t.done)
	for {
		var env Envelope
		if err := t.conn.ReadJSON(&env); err != nil {
			t.mu.Lock()
			closed := t.closed
			t.mu.Unlock()
			if !closed {
				internal.LogWarn("websocket read failed: %v", err)
			}
			return
		}
		t.mu.Lock()
		subs := make([]func(Envelope), 0, len(t.subs))
		for _, id := range sortedKeys(t.subs) {
			subs = append(subs, t.subs[id])
		}
		t.mu.Unlock()
		for _, fn := range subs {
			fn(env)
		}
	}
}

func (t *WSTransport) Publish(env Envelope) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = t.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := t.conn.WriteJSON(env); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

func (t *WSTransport) Subscribe(fn func(Envelope)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := t.nextID
	t.subs[id] = fn
	return func() {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
	}
}

func (t *WSTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.writeMu.Lock()
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	t.writeMu.Unlock()
	return t.conn.Close()
}
