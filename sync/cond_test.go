package sync

import (
	"testing"
	"time"
)

func TestCondSignalWakesWaiter(t *testing.T) {
	m := NewMutex(Normal, false)
	var c Cond

	woke := make(chan struct{})
	go func() {
		if err := m.Lock(2); err != nil {
			t.Errorf("Lock: %v", err)
			return
		}
		if err := c.Wait(m, 2); err != nil {
			t.Errorf("Wait: %v", err)
			return
		}
		m.Unlock(2)
		close(woke)
	}()

	time.Sleep(50 * time.Millisecond)
	if err := m.Lock(1); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	c.Signal()
	if err := m.Unlock(1); err != nil {
		t.Fatalf("Unlock: %v", err)
	}

	select {
	case <-woke:
	case <-time.After(5 * time.Second):
		t.Fatal("Signal did not wake the waiting goroutine in time")
	}
}

func TestCondBroadcastWakesAllWaiters(t *testing.T) {
	m := NewMutex(Normal, false)
	var c Cond
	const n = 3
	woke := make(chan struct{}, n)

	for i := 0; i < n; i++ {
		go func(tid int32) {
			if err := m.Lock(tid); err != nil {
				t.Errorf("Lock: %v", err)
				return
			}
			if err := c.Wait(m, tid); err != nil {
				t.Errorf("Wait: %v", err)
				return
			}
			m.Unlock(tid)
			woke <- struct{}{}
		}(int32(i + 10))
	}

	time.Sleep(50 * time.Millisecond)
	c.Broadcast()

	for i := 0; i < n; i++ {
		select {
		case <-woke:
		case <-time.After(5 * time.Second):
			t.Fatal("Broadcast did not wake all waiters in time")
		}
	}
}
