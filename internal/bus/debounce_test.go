package bus

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/iksnae/chatsync/internal/clock"
	"github.com/stretchr/testify/assert"
)

func TestDebouncerCoalescesBurst(t *testing.T) {
	c := clock.NewFake(time.Unix(0, 0))
	var calls atomic.Int32
	d := NewDebouncer(c, 300*time.Millisecond, 0, func() { calls.Add(1) })

	d.Trigger()
	c.Advance(100 * time.Millisecond)
	d.Trigger()
	c.Advance(100 * time.Millisecond)
	d.Trigger()
	assert.True(t, d.Pending())

	c.Advance(299 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
	c.Advance(time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
	assert.False(t, d.Pending())

	c.Advance(time.Second)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDebouncerMaxWait(t *testing.T) {
	c := clock.NewFake(time.Unix(0, 0))
	var calls atomic.Int32
	d := NewDebouncer(c, 300*time.Millisecond, time.Second, func() { calls.Add(1) })

	for i := 0; i < 5; i++ {
		d.Trigger()
		c.Advance(250 * time.Millisecond)
	}
	// triggers at 0,250,500,750,1000; the 1s bound fires at 1000
	assert.Equal(t, int32(1), calls.Load())
}

func TestDebouncerFlushAndStop(t *testing.T) {
	c := clock.NewFake(time.Unix(0, 0))
	var calls atomic.Int32
	d := NewDebouncer(c, time.Second, 0, func() { calls.Add(1) })

	d.Flush()
	assert.Equal(t, int32(0), calls.Load(), "flush without trigger is a no-op")

	d.Trigger()
	d.Flush()
	assert.Equal(t, int32(1), calls.Load())
	c.Advance(2 * time.Second)
	assert.Equal(t, int32(1), calls.Load())

	d.Trigger()
	d.Stop()
	c.Advance(2 * time.Second)
	d.Trigger()
	c.Advance(2 * time.Second)
	assert.Equal(t, int32(1), calls.Load())
}
