// Package forkexec implements the fork/exec plumbing a libc's posix_spawn
// and system() ultimately bottom out in: duplicating the calling process
// (relying on the kernel's copy-on-write address-space semantics, not an
// actual memory copy), restoring a requested signal mask in the child
// before the exec happens, and replacing the child's image via execve.
// pte_clone in the reference runtime is the thread-creation analogue of
// the same clone(2) syscall this package uses for whole-process
// duplication.
package forkexec

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/xyproto/ldrt/internal/errs"
)

const component = "forkexec"

// Attr configures a Spawn call: the argv/envp for the child's eventual
// execve, and the signal mask it should run under once control reaches
// user code again (mirroring posix_spawnattr_t's POSIX_SPAWN_SETSIGMASK).
type Attr struct {
	Path       string
	Argv       []string
	Envp       []string
	SignalMask uint64
}

// Fork duplicates the calling process via a plain fork(2)-equivalent
// clone, returning 0 in the child and the child's pid in the parent --
// the same split-return convention as the C standard library's fork().
// Address space duplication is entirely the kernel's copy-on-write
// responsibility; this package does not touch the parent's memory.
func Fork() (pid int, isChild bool, err error) {
	r1, _, errno := unix.RawSyscall(unix.SYS_CLONE, uintptr(unix.SIGCHLD), 0, 0)
	if errno != 0 {
		return 0, false, errs.Wrap(component, errs.KernelError, errno, "clone")
	}
	if r1 == 0 {
		return 0, true, nil
	}
	return int(r1), false, nil
}

// RestoreSignalMask applies mask as the calling thread's signal mask, the
// step a forked child takes before exec so the new program does not
// inherit a handler-installation race with the parent's signal state.
// Called directly via rt_sigprocmask rather than through a typed wrapper
// since the mask here is this runtime's own 64-bit representation, not
// the kernel's sigset_t layout on every architecture.
func RestoreSignalMask(mask uint64) error {
	_, _, errno := unix.RawSyscall6(unix.SYS_RT_SIGPROCMASK,
		uintptr(unix.SIG_SETMASK),
		uintptr(unsafe.Pointer(&mask)),
		0, 8, 0, 0)
	if errno != 0 {
		return errs.Wrap(component, errs.KernelError, errno, "rt_sigprocmask")
	}
	return nil
}

// Exec replaces the calling process's image with the program at attr.Path,
// the terminal step of fork-then-exec; on success it never returns.
func Exec(attr Attr) error {
	if attr.SignalMask != 0 {
		if err := RestoreSignalMask(attr.SignalMask); err != nil {
			return err
		}
	}
	err := unix.Exec(attr.Path, attr.Argv, attr.Envp)
	return errs.Wrap(component, errs.KernelError, err, "execve %s", attr.Path)
}

// SpawnAndExec forks and, in the child, execs attr.Path, returning the
// child's pid to the parent. It is the fork+exec pairing posix_spawn
// wraps in a single call.
func SpawnAndExec(attr Attr) (pid int, err error) {
	childPid, isChild, err := Fork()
	if err != nil {
		return 0, err
	}
	if isChild {
		if execErr := Exec(attr); execErr != nil {
			unix.Exit(127)
		}
		unix.Exit(0)
	}
	return childPid, nil
}
