package sync

import "testing"

func TestMutexNormalLockUnlock(t *testing.T) {
	m := NewMutex(Normal, false)
	if err := m.Lock(1); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if err := m.TryLock(2); err != ErrBusy {
		t.Fatalf("TryLock from another owner = %v, want ErrBusy", err)
	}
	if err := m.Unlock(1); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if err := m.TryLock(2); err != nil {
		t.Fatalf("TryLock after unlock: %v", err)
	}
}

func TestMutexRecursiveNesting(t *testing.T) {
	m := NewMutex(Recursive, false)
	const tid = 7
	for i := 0; i < 3; i++ {
		if err := m.Lock(tid); err != nil {
			t.Fatalf("nested Lock %d: %v", i, err)
		}
	}
	for i := 0; i < 2; i++ {
		if err := m.Unlock(tid); err != nil {
			t.Fatalf("nested Unlock %d: %v", i, err)
		}
		if err := m.TryLock(99); err != ErrBusy {
			t.Fatalf("mutex released too early at depth %d", i)
		}
	}
	if err := m.Unlock(tid); err != nil {
		t.Fatalf("final Unlock: %v", err)
	}
	if err := m.TryLock(99); err != nil {
		t.Fatalf("mutex should be free after full unwind: %v", err)
	}
}

func TestMutexRecursionOverflowReturnsErrAgain(t *testing.T) {
	m := NewMutex(Recursive, false)
	const tid = 3
	if err := m.Lock(tid); err != nil {
		t.Fatalf("initial Lock: %v", err)
	}
	for i := uint32(1); i < recursionMax; i++ {
		if err := m.Lock(tid); err != nil {
			t.Fatalf("nested Lock at depth %d: %v", i, err)
		}
	}
	if err := m.Lock(tid); err != ErrAgain {
		t.Fatalf("Lock past recursionMax = %v, want ErrAgain", err)
	}
	if err := m.TryLock(tid); err != ErrAgain {
		t.Fatalf("TryLock past recursionMax = %v, want ErrAgain", err)
	}
}

func TestMutexErrorCheckDetectsDeadlock(t *testing.T) {
	m := NewMutex(ErrorCheck, false)
	if err := m.Lock(1); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if err := m.Lock(1); err != ErrDeadlock {
		t.Fatalf("relocking same thread = %v, want ErrDeadlock", err)
	}
}

func TestMutexUnlockByNonOwnerIsRejected(t *testing.T) {
	m := NewMutex(ErrorCheck, false)
	if err := m.Lock(1); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if err := m.Unlock(2); err != ErrPerm {
		t.Fatalf("Unlock by non-owner = %v, want ErrPerm", err)
	}
}
