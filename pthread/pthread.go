// Package pthread implements the thread-creation and join/detach surface a
// libc exposes on top of raw kernel threads (clone/pthread_create) and the
// futex-based primitives in package sync: a Pthread handle per created
// thread, a one-shot Waitval used exactly the way the reference runtime
// uses it for pthread_join, and the OS-tid -> *tls.TCB registry that stands
// in for a hardware thread-pointer register. x86-64 activates its TCB via
// arch_prctl (package tls); AArch64 and RISC-V have no such syscall in this
// runtime's model, so their thread-local accesses go through this registry
// instead, keyed by the kernel thread id returned from Gettid.
package pthread

import (
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/xyproto/ldrt/internal/errs"
	"github.com/xyproto/ldrt/sync/futex"
	"github.com/xyproto/ldrt/tls"
)

const component = "pthread"

// Waitval is a one-shot, one-writer/many-reader rendezvous cell: exactly
// the primitive pthread_join needs to block until a thread's exit value
// is available, and no more.
type Waitval[T any] struct {
	state atomic.Int32
	mu    sync.Mutex
	value T
}

// Post stores value and wakes every waiter. Must be called at most once.
func (w *Waitval[T]) Post(value T) {
	w.mu.Lock()
	w.value = value
	w.mu.Unlock()
	w.state.Store(1)
	futex.WakeWord(&w.state, 1<<31-1)
}

// Wait blocks until Post has been called, then returns the posted value.
func (w *Waitval[T]) Wait() T {
	for w.state.Load() == 0 {
		futex.WaitOnWord(&w.state, 0)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.value
}

// DetachState mirrors PTHREAD_CREATE_JOINABLE / PTHREAD_CREATE_DETACHED.
type DetachState int

const (
	Joinable DetachState = iota
	Detached
)

// CancelState mirrors PTHREAD_CANCEL_ENABLE / PTHREAD_CANCEL_DISABLE.
type CancelState int32

const (
	CancelEnable CancelState = iota
	CancelDisable
)

// Pthread is the per-thread control block a pthread_t handle refers to.
type Pthread struct {
	OSTid      int32
	StackBase  uintptr
	StackSize  uintptr
	Detach     DetachState
	cancel     atomic.Int32
	exitResult Waitval[any]
	tcb        *tls.TCB
}

var (
	registryMu sync.RWMutex
	registry   = make(map[int32]*Pthread)
)

// register records th in the OS-tid registry, keyed by the calling
// thread's kernel tid. Called from the new thread's goroutine itself right
// after it is pinned with runtime.LockOSThread, mirroring the reference
// runtime's per-thread setup in start.rs.
func register(tid int32, th *Pthread) {
	registryMu.Lock()
	registry[tid] = th
	registryMu.Unlock()
}

func unregister(tid int32) {
	registryMu.Lock()
	delete(registry, tid)
	registryMu.Unlock()
}

// Self returns the Pthread control block for the calling OS thread, or nil
// if it was never created through this package (e.g. the process's
// original main thread before Bootstrap is called).
func Self() *Pthread {
	tid := int32(unix.Gettid())
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registry[tid]
}

// Bootstrap registers the process's initial thread (the one running main)
// with its already-activated TCB, so Self() resolves on it the same way it
// would for any pthread_create'd thread.
func Bootstrap(tcb *tls.TCB) *Pthread {
	th := &Pthread{OSTid: int32(unix.Gettid()), Detach: Joinable, tcb: tcb}
	register(th.OSTid, th)
	return th
}

// TCB returns the TLS control block associated with th, the lookup every
// __tls_get_addr-equivalent call needs on architectures without a
// hardware thread-pointer activation syscall.
func (p *Pthread) TCB() *tls.TCB { return p.tcb }

// Create starts fn on a new goroutine pinned to an OS thread with
// runtime.LockOSThread, analogous to pthread_create, and has it register
// itself before invoking fn. No clone call is made: the mmapped stack is
// only recorded in StackBase/StackSize, and fn runs on the goroutine's own
// Go stack.
func Create(stackSize uintptr, tcb *tls.TCB, fn func()) (*Pthread, error) {
	if stackSize == 0 {
		stackSize = 8 << 20
	}
	stack, err := unix.Mmap(-1, 0, int(stackSize),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_STACK)
	if err != nil {
		return nil, errs.Wrap(component, errs.ResourceExhausted, err, "mmap thread stack")
	}

	stackBase := uintptr(0)
	if len(stack) > 0 {
		stackBase = uintptr(unsafe.Pointer(&stack[0]))
	}
	th := &Pthread{
		StackBase: stackBase,
		StackSize: stackSize,
		Detach:    Joinable,
		tcb:       tcb,
	}

	ready := make(chan int32, 1)
	go func() {
		// Go's scheduler, not clone(2), actually supplies the OS thread
		// here: LockOSThread pins this goroutine to one so Gettid below
		// is stable for the registry key, the same invariant a real
		// clone()'d pthread gets for free from the kernel.
		runtime.LockOSThread()
		tid := int32(unix.Gettid())
		register(tid, th)
		th.OSTid = tid
		ready <- tid

		defer func() {
			unregister(tid)
			runtime.UnlockOSThread()
		}()

		fn()
		th.exitResult.Post(nil)
	}()
	<-ready

	return th, nil
}

// Join blocks until th's thread function returns.
func (p *Pthread) Join() any {
	return p.exitResult.Wait()
}

// Cancel requests cooperative cancellation; the running thread observes it
// at the next CancelPoint call.
func (p *Pthread) Cancel() {
	p.cancel.Store(1)
}

// CancelPoint is a cooperative cancellation checkpoint a long-running
// thread function calls periodically; it never preempts asynchronously.
func (p *Pthread) CancelPoint() bool {
	return p.cancel.Load() != 0
}
