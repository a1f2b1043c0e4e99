// Package generation tracks streaming generations per chat. Each actor owns
// its local handles and mirrors the running set of other actors from task
// signals on the bus.
package generation

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/iksnae/chatsync/internal"
	"github.com/iksnae/chatsync/internal/bus"
	"github.com/iksnae/chatsync/internal/store"
)

var (
	// ErrAlreadyRunning is returned by Begin when the chat already has a
	// local generation.
	ErrAlreadyRunning = errors.New("generation already running")
	// ErrCancelled is the cancellation cause of an aborted generation.
	ErrCancelled = errors.New("generation cancelled")
)

// Signaler carries task signals between actors. *bus.Bus implements it.
type Signaler interface {
	Origin() string
	PublishTask(s bus.TaskSignal)
	SubscribeTasks(fn func(bus.TaskSignal)) (unsubscribe func())
}

// Handle is the cancellation token of one local generation.
type Handle struct {
	ChatID string
	// Chat is the in-memory chat the generation streams into.
	Chat *store.Chat

	ctx    context.Context
	cancel context.CancelCauseFunc
	done   chan struct{}
}

// Context is cancelled when the generation is aborted or ended.
func (h *Handle) Context() context.Context { return h.ctx }

// Cancel aborts the generation. Safe to call repeatedly and after the end.
func (h *Handle) Cancel() { h.cancel(ErrCancelled) }

// IsCancelled reports whether Cancel was called.
func (h *Handle) IsCancelled() bool {
	return errors.Is(context.Cause(h.ctx), ErrCancelled)
}

// Done is closed once the handle has been removed from the registry.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Registry maps chat ids to running generations.
type Registry struct {
	sig    Signaler
	origin string
	unsub  func()

	mu        sync.Mutex
	local     map[string]*Handle
	remote    map[string]string // chat id -> origin
	nextID    int
	listeners map[int]func()
	closed    bool
}

// NewRegistry creates a registry and asks other actors to announce what
// they are running.
func NewRegistry(sig Signaler) *Registry {
	r := &Registry{
		sig:       sig,
		origin:    sig.Origin(),
		local:     make(map[string]*Handle),
		remote:    make(map[string]string),
		listeners: make(map[int]func()),
	}
	r.unsub = sig.SubscribeTasks(r.onSignal)
	sig.PublishTask(bus.TaskSignal{State: bus.TaskSync})
	return r
}

func (r *Registry) onSignal(s bus.TaskSignal) {
	if s.State == bus.TaskAbort {
		r.mu.Lock()
		h := r.local[s.ChatID]
		r.mu.Unlock()
		if h != nil {
			internal.LogInfo("abort requested for chat %s by %s", s.ChatID, s.Origin)
			h.Cancel()
		}
		return
	}
	if s.Origin == r.origin {
		return
	}

	changed := false
	r.mu.Lock()
	switch s.State {
	case bus.TaskStarted:
		if r.remote[s.ChatID] != s.Origin {
			r.remote[s.ChatID] = s.Origin
			changed = true
		}
	case bus.TaskStopped:
		if r.remote[s.ChatID] == s.Origin {
			delete(r.remote, s.ChatID)
			changed = true
		}
	case bus.TaskSync:
		for chatID := range r.local {
			r.sig.PublishTask(bus.TaskSignal{ChatID: chatID, State: bus.TaskStarted})
		}
	}
	r.mu.Unlock()
	if changed {
		r.fire()
	}
}

// Begin registers a new local generation for chatID.
func (r *Registry) Begin(ctx context.Context, chatID string, chat *store.Chat) (*Handle, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, errors.New("registry closed")
	}
	if _, ok := r.local[chatID]; ok {
		r.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	hctx, cancel := context.WithCancelCause(ctx)
	h := &Handle{ChatID: chatID, Chat: chat, ctx: hctx, cancel: cancel, done: make(chan struct{})}
	r.local[chatID] = h
	r.mu.Unlock()

	r.sig.PublishTask(bus.TaskSignal{ChatID: chatID, State: bus.TaskStarted})
	r.fire()
	return h, nil
}

// End removes the local handle for chatID. Every generation path must call
// it exactly once when finished.
func (r *Registry) End(chatID string) {
	r.mu.Lock()
	h, ok := r.local[chatID]
	delete(r.local, chatID)
	r.mu.Unlock()
	if !ok {
		return
	}
	h.cancel(context.Canceled)
	close(h.done)
	r.sig.PublishTask(bus.TaskSignal{ChatID: chatID, State: bus.TaskStopped})
	r.fire()
}

// IsRunning reports a local generation or one another actor announced.
func (r *Registry) IsRunning(chatID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, local := r.local[chatID]
	_, remote := r.remote[chatID]
	return local || remote
}

// IsRunningLocally reports whether this actor holds a handle for chatID.
func (r *Registry) IsRunningLocally(chatID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.local[chatID]
	return ok
}

// Handle returns the local handle for chatID, or nil.
func (r *Registry) Handle(chatID string) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.local[chatID]
}

// Abort cancels a local generation, or asks the owning actor to cancel a
// remote one. It is a no-op when nothing runs.
func (r *Registry) Abort(chatID string) bool {
	r.mu.Lock()
	h := r.local[chatID]
	_, remote := r.remote[chatID]
	r.mu.Unlock()

	switch {
	case h != nil:
		h.Cancel()
		return true
	case remote:
		r.sig.PublishTask(bus.TaskSignal{ChatID: chatID, State: bus.TaskAbort})
		return true
	}
	return false
}

// Wait blocks until the local generation for chatID has ended.
func (r *Registry) Wait(ctx context.Context, chatID string) error {
	h := r.Handle(chatID)
	if h == nil {
		return nil
	}
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AbortAndWait aborts chatID and waits for its cleanup.
func (r *Registry) AbortAndWait(ctx context.Context, chatID string) error {
	r.Abort(chatID)
	return r.Wait(ctx, chatID)
}

// AbortAll cancels every local generation.
func (r *Registry) AbortAll() {
	r.mu.Lock()
	handles := make([]*Handle, 0, len(r.local))
	for _, h := range r.local {
		handles = append(handles, h)
	}
	r.mu.Unlock()
	for _, h := range handles {
		h.Cancel()
	}
}

// Running lists chats generating on any actor, sorted.
func (r *Registry) Running() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.local)+len(r.remote))
	for id := range r.local {
		ids = append(ids, id)
	}
	for id := range r.remote {
		if _, dup := r.local[id]; !dup {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// Subscribe registers fn to run after the running set changes.
func (r *Registry) Subscribe(fn func()) (unsubscribe func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.listeners[id] = fn
	return func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	}
}

func (r *Registry) fire() {
	r.mu.Lock()
	fns := make([]func(), 0, len(r.listeners))
	for _, fn := range r.listeners {
		fns = append(fns, fn)
	}
	r.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Close aborts local generations and stops listening for signals.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()
	r.AbortAll()
	r.unsub()
}
