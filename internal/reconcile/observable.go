package reconcile

import "sync"

// Observable holds one piece of view state. Values handed out are
// snapshots and must not be modified.
type Observable[T any] struct {
	mu      sync.Mutex
	value   T
	version uint64
	nextID  int
	subs    map[int]func(T)
}

func newObservable[T any](initial T) *Observable[T] {
	return &Observable[T]{value: initial, subs: make(map[int]func(T))}
}

// Get returns the current value.
func (o *Observable[T]) Get() T {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.value
}

// Subscribe calls fn with every new value until unsubscribe is called.
// fn runs on the goroutine that produced the value.
func (o *Observable[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.nextID++
	id := o.nextID
	o.subs[id] = fn
	return func() {
		o.mu.Lock()
		delete(o.subs, id)
		o.mu.Unlock()
	}
}

// set stores v unless a newer version was already stored.
func (o *Observable[T]) set(v T, version uint64) {
	o.mu.Lock()
	if version < o.version {
		o.mu.Unlock()
		return
	}
	o.value = v
	o.version = version
	fns := make([]func(T), 0, len(o.subs))
	for _, fn := range o.subs {
		fns = append(fns, fn)
	}
	o.mu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
}
