// Package signal models the POSIX signal-delivery state a libc carries per
// thread and per process: the allow (unblocked) mask, the pending set, the
// registered actions, and the alternate-signal-stack selection. It mirrors
// the control-word arbitration scheme a relibc-style runtime uses instead
// of relying on the kernel's own sigprocmask bookkeeping, because the
// dynamic linker needs to inspect and restore signal state around
// relocation and thread creation without a round trip through the kernel
// on every check.
package signal

import (
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/xyproto/ldrt/internal/errs"
)

const component = "signal"

// NSIG is the highest signal number this runtime tracks (real-time signals
// included), sized to fit both control words below.
const NSIG = 64

// ControlWord packs a 32-bit pending half and a 32-bit allow (unblocked)
// half per signal-number group, matching the low-half/high-half split the
// reference runtime uses so a single atomic fetch_add can flip both pending
// and allow bits without a compare-and-swap loop.
type ControlWord struct {
	words [2]atomic.Uint64
}

func groupIndex(sig int) (word int, bit uint64) {
	word = (sig - 1) / 32
	bit = uint64(1) << uint((sig-1)%32)
	return
}

// AllowSet returns the mask of currently unblocked (deliverable) signals.
func (c *ControlWord) AllowSet() uint64 {
	w0 := c.words[0].Load()
	w1 := c.words[1].Load()
	return (w0 >> 32) | ((w1 >> 32) << 32)
}

// PendingSet returns the mask of signals raised but not yet delivered.
func (c *ControlWord) PendingSet() uint64 {
	w0 := c.words[0].Load()
	w1 := c.words[1].Load()
	return (w0 & 0xffffffff) | ((w1 & 0xffffffff) << 32)
}

// SetAllow replaces the allow mask, returning whatever became newly
// deliverable (pending and now-unblocked) as a result -- POSIX requires
// pthread_sigmask to deliver at least one such signal before it returns.
func (c *ControlWord) SetAllow(mask uint64) (newlyDeliverable uint64) {
	prevPending := c.PendingSet()
	halves := [2]uint64{mask & 0xffffffff, (mask >> 32) & 0xffffffff}
	for i, allow := range halves {
		for {
			old := c.words[i].Load()
			if c.words[i].CompareAndSwap(old, old&0xffffffff|allow<<32) {
				break
			}
		}
	}
	return prevPending & mask
}

// Raise marks sig pending, returning whether it is currently allowed
// through (i.e. should be dispatched immediately rather than queued).
func (c *ControlWord) Raise(sig int) (deliverNow bool) {
	w, bit := groupIndex(sig)
	prev := c.words[w].Load()
	c.words[w].Or(bit)
	allowed := prev&(bit<<32) != 0
	return allowed
}

// Clear removes sig from the pending set, e.g. once its handler returns.
func (c *ControlWord) Clear(sig int) {
	w, bit := groupIndex(sig)
	c.words[w].And(^bit)
}

// Sigaltstack is the alternate signal stack selection for one thread,
// mirroring struct sigaltstack / SS_DISABLE semantics.
type Sigaltstack struct {
	Base    uintptr
	Size    uintptr
	Enabled bool
}

// OnStack reports whether sp falls within the registered alternate stack.
func (s Sigaltstack) OnStack(sp uintptr) bool {
	return s.Enabled && sp >= s.Base && sp < s.Base+s.Size
}

// SigactionKind distinguishes the three dispositions POSIX allows.
type SigactionKind int

const (
	SigactionDefault SigactionKind = iota
	SigactionIgnore
	SigactionHandled
)

// Sigaction is this runtime's view of struct sigaction: a handler
// reference, the signals to additionally block while it runs, and flags.
type Sigaction struct {
	Kind    SigactionKind
	Handler func(sig int)
	Mask    uint64
	Flags   uint32
}

// Thread is the per-thread signal-delivery state: its control word, its
// altstack, and whether it currently executes inside Dispatch (a nested
// Dispatch on the same thread returns without delivering anything).
type Thread struct {
	Control   ControlWord
	Altstack  Sigaltstack
	inHandler atomic.Bool
}

// ProcessControl is the process-wide pending-signal set: what SigProcControl
// models in the spec. A signal raised against the whole process (e.g. via
// kill(2), as opposed to pthread_kill targeting one thread) lands here until
// exactly one thread's Dispatch claims and delivers it.
type ProcessControl struct {
	pending atomic.Uint64
}

// Raise marks sig pending process-wide.
func (p *ProcessControl) Raise(sig int) {
	p.pending.Or(uint64(1) << uint(sig-1))
}

// Claim atomically clears sig from the process-wide pending set and
// reports whether this call was the one that cleared it -- the
// compare-and-swap retry every Dispatch performs so a process-wide signal
// is delivered exactly once even when multiple threads race to claim it.
func (p *ProcessControl) Claim(sig int) bool {
	bit := uint64(1) << uint(sig-1)
	for {
		old := p.pending.Load()
		if old&bit == 0 {
			return false
		}
		if p.pending.CompareAndSwap(old, old&^bit) {
			return true
		}
	}
}

// Table is the process-wide registered-action table, shared by every
// thread (POSIX: sigaction is process-wide, sigprocmask is per-thread), plus
// the process-wide pending set every thread's Dispatch checks against.
type Table struct {
	mu      sync.Mutex
	actions [NSIG + 1]Sigaction
	Proc    ProcessControl
}

// NewTable returns a Table with every signal at its default disposition.
func NewTable() *Table {
	return &Table{}
}

// Sigaction installs newAct for sig, returning the previous action.
func (t *Table) Sigaction(sig int, newAct Sigaction) (Sigaction, error) {
	if sig <= 0 || sig > NSIG {
		return Sigaction{}, errs.New(component, errs.Malformed, "signal %d out of range", sig)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	old := t.actions[sig]
	t.actions[sig] = newAct
	return old, nil
}

func (t *Table) action(sig int) Sigaction {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.actions[sig]
}

// terminateProcess implements the POSIX default disposition: the process
// exits as if killed by sig (exit(sig) reports a raw wait(2) status of
// sig<<8, the encoding WTERMSIG-equivalent tooling expects). It's a var
// rather than a direct os.Exit call only so Dispatch's default-termination
// path can be exercised by a test without ending the test binary.
var terminateProcess = func(sig int) {
	os.Exit(sig)
}

// defaultIsIgnore reports the handful of signals whose POSIX default
// disposition is "ignore" rather than "terminate".
func defaultIsIgnore(sig int) bool {
	switch unix.Signal(sig) {
	case unix.SIGCHLD, unix.SIGURG, unix.SIGWINCH:
		return true
	}
	return false
}

// Dispatch is the software analogue of the kernel-invoked signal
// trampoline: given a thread's current state and the process-wide action
// table, it runs the handler (if any) for every pending, allowed signal,
// applying sa_mask for the handler's duration. Sigaction.Flags is not
// consulted: SA_RESETHAND- and SA_NODEFER-style flags have no effect, and no
// alternate stack is selected.
//
// Signal numbers are arbitrated low-before-high by the loop order below; for
// a given number, a thread-directed pending bit (th.Control) is preferred
// over a process-wide one (table.Proc) -- a signal explicitly sent to this
// thread is delivered here even if an instance of the same signal is also
// pending for the process as a whole, which some other thread may still
// claim. A process-wide pending signal is claimed via compare-and-swap so
// exactly one thread ever delivers it.
//
// A real ld.so installs this at the kernel-facing signal entry point via
// rt_sigaction with SA_SIGINFO; Go's runtime owns that entry point, so
// Dispatch instead models the arbitration a libc performs once its own
// trampoline has been invoked -- it is an ordinary function its caller
// invokes directly; the kernel never enters it.
func Dispatch(th *Thread, table *Table) {
	if !th.inHandler.CompareAndSwap(false, true) {
		return
	}
	defer th.inHandler.Store(false)

	for sig := 1; sig <= NSIG; sig++ {
		bit := uint64(1) << uint(sig-1)
		if th.Control.AllowSet()&bit == 0 {
			continue
		}

		fromThread := th.Control.PendingSet()&bit != 0
		fromProcess := false
		if !fromThread {
			fromProcess = table.Proc.Claim(sig)
		}
		if !fromThread && !fromProcess {
			continue
		}
		if fromThread {
			th.Control.Clear(sig)
		}

		deliver(th, table.action(sig), sig)
	}
}

// deliver runs the action for one pending, allowed, claimed signal.
func deliver(th *Thread, act Sigaction, sig int) {
	switch act.Kind {
	case SigactionIgnore:
		return
	case SigactionHandled:
		if act.Handler == nil {
			return
		}
		prevAllow := th.Control.AllowSet()
		th.Control.SetAllow(prevAllow &^ act.Mask)
		act.Handler(sig)
		th.Control.SetAllow(prevAllow)
	default: // SigactionDefault
		if unix.Signal(sig) == unix.SIGCONT || defaultIsIgnore(sig) {
			return
		}
		terminateProcess(sig)
	}
}

// InstallKernelHandler issues the kernel sigaction call for sig, the one
// real syscall boundary this package crosses -- everything else is pure
// in-process bookkeeping. It always installs SIG_DFL: fn is not installed
// as a handler, whether or not it is nil.
func InstallKernelHandler(sig unix.Signal, fn func(int)) error {
	var sa unix.Sigaction
	sa.Handler = uintptr(unix.SIG_DFL)
	if fn != nil {
		sa.Handler = 0 // SIG_DFL as well; no trampoline is wired up for fn
	}
	if err := unix.Sigaction(int(sig), &sa, nil); err != nil {
		return errs.Wrap(component, errs.KernelError, err, "sigaction(%d)", sig)
	}
	return nil
}
