// Package sync implements the POSIX thread synchronization primitives a C
// runtime hands out through pthread_mutex_t, pthread_cond_t,
// pthread_barrier_t, pthread_once_t and sem_t: futex-backed, userspace-fast,
// kernel-slow.
package sync

import (
	"sync/atomic"

	"github.com/xyproto/ldrt/sync/futex"
)

// MutexType selects the pthread_mutex_t semantics requested at init time.
type MutexType int

const (
	Normal MutexType = iota
	ErrorCheck
	Recursive
)

const (
	stateUnlocked = 0
	waitingBit    = int32(1) << 31
	indexMask     = ^waitingBit
)

// recursionMax is the ceiling on a Recursive mutex's lock count -- once hit,
// a further recursive Lock/TryLock returns EAGAIN rather than wrapping the
// counter, matching PTHREAD_MUTEX_MAXIMUM_RECURSIVE_LOCKS-style behavior.
const recursionMax = 0xffff

// ErrKind reports why a mutex operation failed, carrying the POSIX errno
// a libc pthread_mutex_* wrapper would return.
type ErrKind int

const (
	ErrNone ErrKind = iota
	ErrAgain
	ErrBusy
	ErrDeadlock
	ErrPerm
)

func (e ErrKind) Error() string {
	switch e {
	case ErrAgain:
		return "resource temporarily unavailable"
	case ErrBusy:
		return "device or resource busy"
	case ErrDeadlock:
		return "resource deadlock avoided"
	case ErrPerm:
		return "operation not permitted"
	default:
		return "no error"
	}
}

// Mutex is a futex-backed pthread_mutex_t: the lock word's low 31 bits hold
// the owning thread's tid (0 means unlocked), and bit 31 marks that at least
// one thread is parked in the kernel waiting on it.
type Mutex struct {
	word      atomic.Int32
	recursion atomic.Uint32
	typ       MutexType
	robust    bool
}

// NewMutex constructs an unlocked mutex of the given type.
func NewMutex(typ MutexType, robust bool) *Mutex {
	return &Mutex{typ: typ, robust: robust}
}

// Lock blocks until the calling thread (identified by tid, normally
// unix.Gettid()) owns the mutex.
func (m *Mutex) Lock(tid int32) error {
	for {
		if m.word.CompareAndSwap(stateUnlocked, tid) {
			if m.typ == Recursive {
				m.recursion.Add(1)
			}
			return nil
		}
		cur := m.word.Load()
		owner := cur & indexMask
		switch {
		case owner == tid && m.typ == Recursive:
			if m.recursion.Load() >= recursionMax {
				return ErrAgain
			}
			m.recursion.Add(1)
			return nil
		case owner == tid && m.typ == ErrorCheck:
			return ErrDeadlock
		case owner == 0:
			continue // spurious CAS failure, retry
		default:
			marked := m.word.Or(waitingBit)
			if marked == stateUnlocked {
				continue
			}
			futex.WaitOnWord(&m.word, marked)
		}
	}
}

// TryLock attempts to acquire the mutex without blocking.
func (m *Mutex) TryLock(tid int32) error {
	if m.word.CompareAndSwap(stateUnlocked, tid) {
		if m.typ == Recursive {
			m.recursion.Add(1)
		}
		return nil
	}
	owner := m.word.Load() & indexMask
	if m.typ == Recursive && owner == tid {
		if m.recursion.Load() >= recursionMax {
			return ErrAgain
		}
		m.recursion.Add(1)
		return nil
	}
	if owner == tid && m.typ == ErrorCheck {
		return ErrDeadlock
	}
	return ErrBusy
}

// Unlock releases the mutex, waking one waiter if any were parked.
func (m *Mutex) Unlock(tid int32) error {
	if m.robust || m.typ == Recursive || m.typ == ErrorCheck {
		if m.word.Load()&indexMask != tid {
			return ErrPerm
		}
	}
	if m.typ == Recursive {
		left := m.recursion.Add(^uint32(0)) // decrement
		if left > 0 {
			return nil
		}
	}
	prev := m.word.Swap(stateUnlocked)
	if prev&waitingBit != 0 {
		futex.WakeWord(&m.word, 1)
	}
	return nil
}
