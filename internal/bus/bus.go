package bus

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/iksnae/chatsync/internal"
)

// Bus is one actor's endpoint on the change channel. Local subscribers see
// every event, including the actor's own, asynchronously and in order.
type Bus struct {
	origin string
	now    func() time.Time
	seq    atomic.Uint64
	track  *tracker

	mu         sync.Mutex
	nextID     int
	subs       map[int]*mailbox[Event]
	taskSubs   map[int]*mailbox[TaskSignal]
	lastSeen   map[string]uint64
	transports []Transport
	detach     []func()
	closed     bool
}

// Option configures a Bus.
type Option func(*Bus)

// WithOrigin fixes the actor id instead of generating one.
func WithOrigin(origin string) Option {
	return func(b *Bus) { b.origin = origin }
}

// WithNow sets the clock used to stamp events.
func WithNow(now func() time.Time) Option {
	return func(b *Bus) { b.now = now }
}

// New creates a bus with a random origin id.
func New(opts ...Option) *Bus {
	b := &Bus{
		origin:   uuid.NewString(),
		now:      time.Now,
		track:    newTracker(),
		subs:     make(map[int]*mailbox[Event]),
		taskSubs: make(map[int]*mailbox[TaskSignal]),
		lastSeen: make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Origin returns this actor's id.
func (b *Bus) Origin() string {
	return b.origin
}

// Attach connects a transport. Envelopes from other origins are delivered
// to local subscribers; local publishes are forwarded to it.
func (b *Bus) Attach(t Transport) {
	unsubscribe := t.Subscribe(b.receive)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		unsubscribe()
		return
	}
	b.transports = append(b.transports, t)
	b.detach = append(b.detach, unsubscribe)
}

// Notify stamps e if needed, delivers it locally and broadcasts it.
func (b *Bus) Notify(e Event) {
	if e.Timestamp == 0 {
		e.Timestamp = b.now().UnixMilli()
	}
	b.dispatchEvent(e)
	b.publish(Envelope{Event: &e})
}

// PublishTask broadcasts a generation signal to every actor, this one
// included.
func (b *Bus) PublishTask(s TaskSignal) {
	if s.Origin == "" {
		s.Origin = b.origin
	}
	b.dispatchTask(s)
	b.publish(Envelope{Task: &s})
}

func (b *Bus) publish(env Envelope) {
	env.Origin = b.origin
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	// seq is assigned under the lock so transports see it in order
	env.Seq = b.seq.Add(1)
	transports := append([]Transport(nil), b.transports...)
	for _, t := range transports {
		if err := t.Publish(env); err != nil {
			internal.LogWarn("bus publish failed: %v", err)
		}
	}
	b.mu.Unlock()
}

func (b *Bus) receive(env Envelope) {
	if env.Origin == b.origin {
		return
	}
	b.mu.Lock()
	if b.closed || env.Seq <= b.lastSeen[env.Origin] {
		b.mu.Unlock()
		return
	}
	b.lastSeen[env.Origin] = env.Seq
	b.mu.Unlock()

	switch {
	case env.Event != nil:
		b.dispatchEvent(*env.Event)
	case env.Task != nil:
		b.dispatchTask(*env.Task)
	}
}

func (b *Bus) dispatchEvent(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range sortedKeys(b.subs) {
		b.subs[id].push(e)
	}
}

func (b *Bus) dispatchTask(s TaskSignal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range sortedKeys(b.taskSubs) {
		b.taskSubs[id].push(s)
	}
}

// Subscribe registers fn for change events.
func (b *Bus) Subscribe(fn func(Event)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	m := newMailbox(fn, b.track)
	b.subs[id] = m
	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		m.close()
	}
}

// SubscribeTasks registers fn for generation signals.
func (b *Bus) SubscribeTasks(fn func(TaskSignal)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	m := newMailbox(fn, b.track)
	b.taskSubs[id] = m
	return func() {
		b.mu.Lock()
		delete(b.taskSubs, id)
		b.mu.Unlock()
		m.close()
	}
}

// Flush blocks until every queued local delivery has run.
func (b *Bus) Flush() {
	b.track.wait()
}

// Close detaches transports and stops all subscribers. Transports are not
// closed; they are owned by whoever attached them.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	detach := b.detach
	subs := b.subs
	taskSubs := b.taskSubs
	b.subs = make(map[int]*mailbox[Event])
	b.taskSubs = make(map[int]*mailbox[TaskSignal])
	b.mu.Unlock()

	for _, fn := range detach {
		fn()
	}
	for _, m := range subs {
		m.close()
	}
	for _, m := range taskSubs {
		m.close()
	}
	return nil
}

func sortedKeys[T any](m map[int]T) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
