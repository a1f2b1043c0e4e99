package bus

import (
	"errors"
	"sync"
)

// ErrClosed is returned when publishing on a closed transport.
var ErrClosed = errors.New("bus: transport closed")

// Hub is an in-process broadcast medium. Each Connect returns an endpoint;
// an envelope published on one endpoint reaches every other endpoint.
type Hub struct {
	mu        sync.Mutex
	endpoints map[*HubEndpoint]struct{}
	track     *tracker
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		endpoints: make(map[*HubEndpoint]struct{}),
		track:     newTracker(),
	}
}

// Connect adds an endpoint to the hub.
func (h *Hub) Connect() *HubEndpoint {
	e := &HubEndpoint{hub: h, subs: make(map[int]*mailbox[Envelope])}
	h.mu.Lock()
	h.endpoints[e] = struct{}{}
	h.mu.Unlock()
	return e
}

// Flush waits until every envelope handed to the hub has been delivered.
func (h *Hub) Flush() {
	h.track.wait()
}

func (h *Hub) broadcast(from *HubEndpoint, env Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for e := range h.endpoints {
		if e != from {
			e.deliver(env)
		}
	}
}

func (h *Hub) remove(e *HubEndpoint) {
	h.mu.Lock()
	delete(h.endpoints, e)
	h.mu.Unlock()
}

// HubEndpoint is one actor's connection to a Hub.
type HubEndpoint struct {
	hub *Hub

	mu     sync.Mutex
	nextID int
	subs   map[int]*mailbox[Envelope]
	closed bool
}

func (e *HubEndpoint) Publish(env Envelope) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return ErrClosed
	}
	e.hub.broadcast(e, env)
	return nil
}

func (e *HubEndpoint) deliver(env Envelope) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range sortedKeys(e.subs) {
		e.subs[id].push(env)
	}
}

func (e *HubEndpoint) Subscribe(fn func(Envelope)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := e.nextID
	m := newMailbox(fn, e.hub.track)
	e.subs[id] = m
	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
		m.close()
	}
}

func (e *HubEndpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	subs := e.subs
	e.subs = make(map[int]*mailbox[Envelope])
	e.mu.Unlock()

	e.hub.remove(e)
	for _, m := range subs {
		m.close()
	}
	return nil
}
