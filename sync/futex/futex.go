// Package futex wraps the Linux futex(2) syscall on the two operations the
// rest of the runtime needs: wait-if-still-equal and wake-n-waiters. Every
// blocking primitive in package sync (mutex, condvar, barrier, semaphore,
// once) is built out of these two calls plus a plain CAS loop.
package futex

import (
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	opWait = 0
	opWake = 1
)

// Wait blocks the calling OS thread while *addr == expect, subject to the
// optional timeout. It returns false if the kernel reports a timeout and
// true otherwise (spurious wakeups are expected and handled by the caller's
// retry loop, exactly like the futex(2) man page requires).
func Wait(addr *int32, expect int32, timeout *time.Duration) bool {
	var ts *unix.Timespec
	if timeout != nil {
		t := unix.NsecToTimespec(timeout.Nanoseconds())
		ts = &t
	}
	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(opWait),
		uintptr(expect),
		uintptr(unsafe.Pointer(ts)),
		0, 0,
	)
	return errno != unix.ETIMEDOUT
}

// Wake wakes up to n waiters blocked on addr and returns how many were
// actually woken.
func Wake(addr *int32, n int32) int {
	r, _, _ := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(opWake),
		uintptr(n),
		0, 0, 0,
	)
	return int(r)
}

// WakeAll wakes every waiter blocked on addr.
func WakeAll(addr *int32) int {
	return Wake(addr, 1<<30)
}

// WaitOnWord is the AtomicInt-shaped convenience form used by the mutex and
// condvar implementations, mirroring futex_wait/futex_wake over an
// *atomic.Int32 instead of a raw pointer.
func WaitOnWord(word *atomic.Int32, expect int32) bool {
	return Wait((*int32)(unsafe.Pointer(word)), expect, nil)
}

// WakeWord wakes n waiters blocked on word.
func WakeWord(word *atomic.Int32, n int32) int {
	return Wake((*int32)(unsafe.Pointer(word)), n)
}
