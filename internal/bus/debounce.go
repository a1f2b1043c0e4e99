package bus

import (
	"sync"
	"time"

	"github.com/iksnae/chatsync/internal/clock"
)

// Debouncer coalesces bursts of triggers into one call of fn, made wait
// after the last trigger. maxWait bounds how long a steady stream of
// triggers can postpone the call; zero disables the bound.
type Debouncer struct {
	clock   clock.Clock
	wait    time.Duration
	maxWait time.Duration
	fn      func()

	mu      sync.Mutex
	timer   clock.Timer
	gen     uint64
	first   time.Time
	pending bool
	stopped bool
}

// NewDebouncer creates a debouncer driven by c.
func NewDebouncer(c clock.Clock, wait, maxWait time.Duration, fn func()) *Debouncer {
	return &Debouncer{clock: c, wait: wait, maxWait: maxWait, fn: fn}
}

// Trigger schedules fn, pushing back any call already scheduled.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	now := d.clock.Now()
	if !d.pending {
		d.pending = true
		d.first = now
	}
	delay := d.wait
	if d.maxWait > 0 {
		if remaining := d.first.Add(d.maxWait).Sub(now); remaining < delay {
			delay = remaining
		}
		if delay < 0 {
			delay = 0
		}
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = d.clock.AfterFunc(delay, func() { d.fire(gen) })
}

// Pending reports whether a call is scheduled.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// Flush runs a scheduled call immediately.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	gen := d.gen
	d.mu.Unlock()
	d.fire(gen)
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || !d.pending || d.stopped {
		d.mu.Unlock()
		return
	}
	d.pending = false
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()
	d.fn()
}

// Stop cancels any scheduled call and ignores later triggers.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.pending = false
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
