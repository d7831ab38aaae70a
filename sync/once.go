package sync

import (
	"sync/atomic"

	"github.com/xyproto/ldrt/sync/futex"
)

const (
	onceNotStarted = 0
	onceInProgress = 1
	onceDone       = 2
)

// Once implements pthread_once_t: the first caller runs fn to completion,
// every other concurrent caller blocks until that run finishes, and later
// calls become no-ops.
type Once struct {
	state atomic.Int32
}

// Do runs fn exactly once across however many callers race into Do.
func (o *Once) Do(fn func()) {
	if o.state.Load() == onceDone {
		return
	}
	if o.state.CompareAndSwap(onceNotStarted, onceInProgress) {
		fn()
		o.state.Store(onceDone)
		futex.WakeWord(&o.state, 1<<30)
		return
	}
	for o.state.Load() == onceInProgress {
		futex.WaitOnWord(&o.state, onceInProgress)
	}
}
