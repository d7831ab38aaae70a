package sync

import (
	"sync/atomic"

	"github.com/xyproto/ldrt/sync/futex"
)

// Cond is a futex-backed pthread_cond_t. It tracks a generation counter:
// Wait records the generation before releasing the associated mutex, then
// blocks on that exact value so a Signal/Broadcast that happens between the
// read and the futex syscall is never missed.
type Cond struct {
	seq atomic.Int32
}

// Wait atomically releases m and blocks until Signal or Broadcast bumps the
// generation counter, then reacquires m before returning, mirroring
// pthread_cond_wait's mutex handoff contract.
func (c *Cond) Wait(m *Mutex, tid int32) error {
	gen := c.seq.Load()
	if err := m.Unlock(tid); err != nil {
		return err
	}
	futex.WaitOnWord(&c.seq, gen)
	return m.Lock(tid)
}

// Signal wakes at least one thread blocked in Wait.
func (c *Cond) Signal() {
	c.seq.Add(1)
	futex.WakeWord(&c.seq, 1)
}

// Broadcast wakes every thread blocked in Wait.
func (c *Cond) Broadcast() {
	c.seq.Add(1)
	futex.WakeWord(&c.seq, 1<<30)
}
