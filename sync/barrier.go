package sync

import "fmt"

// Barrier implements pthread_barrier_t: originalCount threads must all call
// Wait before any of them proceed; exactly one of them observes
// SerialThread, the rest observe Waited, matching pthread_barrier_wait's
// PTHREAD_BARRIER_SERIAL_THREAD contract.
type Barrier struct {
	originalCount uint32
	mu            Mutex
	cv            Cond
	count         uint32
	genID         uint32
}

type WaitResult int

const (
	Waited WaitResult = iota
	SerialThread
)

// NewBarrier builds a barrier that releases once `count` threads have
// called Wait. count must be at least 1.
func NewBarrier(count uint32) (*Barrier, error) {
	if count == 0 {
		return nil, fmt.Errorf("barrier count must be positive")
	}
	return &Barrier{originalCount: count, mu: *NewMutex(Normal, false)}, nil
}

// Wait blocks the calling thread until originalCount threads have all
// called Wait, then releases them together. Exactly one caller per
// generation gets SerialThread back.
func (b *Barrier) Wait(tid int32) (WaitResult, error) {
	if err := b.mu.Lock(tid); err != nil {
		return Waited, err
	}
	gen := b.genID
	b.count++

	if b.count == b.originalCount {
		b.genID++
		b.count = 0
		b.cv.Broadcast()
		if err := b.mu.Unlock(tid); err != nil {
			return Waited, err
		}
		return SerialThread, nil
	}

	for b.genID == gen {
		if err := b.cv.Wait(&b.mu, tid); err != nil {
			return Waited, err
		}
	}
	if err := b.mu.Unlock(tid); err != nil {
		return Waited, err
	}
	return Waited, nil
}
