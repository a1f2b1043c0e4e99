package bus

import (
	"sync"

	"github.com/iksnae/chatsync/internal"
)

// mailbox delivers values to fn one at a time, in push order, on its own
// goroutine.
type mailbox[T any] struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []T
	closed  bool
	fn      func(T)
	tracker *tracker
}

func newMailbox[T any](fn func(T), tr *tracker) *mailbox[T] {
	m := &mailbox[T]{fn: fn, tracker: tr}
	m.cond = sync.NewCond(&m.mu)
	go m.run()
	return m
}

func (m *mailbox[T]) push(v T) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.tracker.add()
	m.queue = append(m.queue, v)
	m.cond.Signal()
}

func (m *mailbox[T]) close() {
	m.mu.Lock()
	m.closed = true
	dropped := len(m.queue)
	m.queue = nil
	m.cond.Signal()
	m.mu.Unlock()
	for i := 0; i < dropped; i++ {
		m.tracker.done()
	}
}

func (m *mailbox[T]) run() {
	for {
		m.mu.Lock()
		for len(m.queue) == 0 && !m.closed {
			m.cond.Wait()
		}
		if m.closed {
			m.mu.Unlock()
			return
		}
		v := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()

		m.deliver(v)
	}
}

func (m *mailbox[T]) deliver(v T) {
	defer m.tracker.done()
	defer func() {
		if r := recover(); r != nil {
			internal.LogError("bus subscriber panicked: %v", r)
		}
	}()
	m.fn(v)
}

// tracker counts queued and running deliveries so tests can wait for quiet.
type tracker struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending int
}

func newTracker() *tracker {
	t := &tracker{}
	t.cond = sync.NewCond(&t.mu)
	return t
}

func (t *tracker) add() {
	t.mu.Lock()
	t.pending++
	t.mu.Unlock()
}

func (t *tracker) done() {
	t.mu.Lock()
	t.pending--
	if t.pending <= 0 {
		t.pending = 0
		t.cond.Broadcast()
	}
	t.mu.Unlock()
}

func (t *tracker) wait() {
	t.mu.Lock()
	for t.pending > 0 {
		t.cond.Wait()
	}
	t.mu.Unlock()
}
