package pthread

import (
	"testing"
	"time"
)

func TestWaitvalPostThenWait(t *testing.T) {
	var w Waitval[int]
	w.Post(42)
	if got := w.Wait(); got != 42 {
		t.Fatalf("Wait() = %d, want 42", got)
	}
}

func TestWaitvalWaitBlocksUntilPost(t *testing.T) {
	var w Waitval[string]
	done := make(chan string, 1)
	go func() {
		done <- w.Wait()
	}()

	select {
	case <-done:
		t.Fatal("Wait returned before Post was called")
	case <-time.After(50 * time.Millisecond):
	}

	w.Post("ready")

	select {
	case got := <-done:
		if got != "ready" {
			t.Fatalf("Wait() = %q, want %q", got, "ready")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not unblock after Post")
	}
}

func TestCreateRegistersAndJoins(t *testing.T) {
	ran := false
	th, err := Create(0, nil, func() { ran = true })
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	th.Join()
	if !ran {
		t.Fatal("thread function did not run")
	}
}

func TestCancelPoint(t *testing.T) {
	th, err := Create(0, nil, func() {})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	th.Join()
	if th.CancelPoint() {
		t.Fatal("CancelPoint true before Cancel was called")
	}
	th.Cancel()
	if !th.CancelPoint() {
		t.Fatal("CancelPoint false after Cancel was called")
	}
}

func TestBootstrapRegistersCallingThread(t *testing.T) {
	th := Bootstrap(nil)
	defer unregister(th.OSTid)

	self := Self()
	if self == nil {
		t.Fatal("Self() returned nil after Bootstrap")
	}
	if self != th {
		t.Fatal("Self() did not return the bootstrapped Pthread")
	}
}
