package sync

import (
	"sync/atomic"

	"github.com/xyproto/ldrt/sync/futex"
)

// Semaphore is a futex-backed sem_t: a non-negative counter with Post
// (increment, wake one waiter) and Wait (block while zero).
type Semaphore struct {
	count atomic.Int32
}

// NewSemaphore creates a semaphore with the given initial value.
func NewSemaphore(initial int32) *Semaphore {
	s := &Semaphore{}
	s.count.Store(initial)
	return s
}

// Post increments the semaphore and wakes one waiter if any are parked.
func (s *Semaphore) Post() {
	s.count.Add(1)
	futex.WakeWord(&s.count, 1)
}

// Wait blocks until the count is positive, then decrements it.
func (s *Semaphore) Wait() {
	for {
		cur := s.count.Load()
		if cur > 0 {
			if s.count.CompareAndSwap(cur, cur-1) {
				return
			}
			continue
		}
		futex.WaitOnWord(&s.count, cur)
	}
}

// TryWait attempts a non-blocking decrement; reports whether it succeeded.
func (s *Semaphore) TryWait() bool {
	for {
		cur := s.count.Load()
		if cur <= 0 {
			return false
		}
		if s.count.CompareAndSwap(cur, cur-1) {
			return true
		}
	}
}

// Value returns the current semaphore count.
func (s *Semaphore) Value() int32 {
	return s.count.Load()
}
