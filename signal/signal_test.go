package signal

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestControlWordRaiseWithoutAllowDoesNotDeliverNow(t *testing.T) {
	var c ControlWord
	if deliver := c.Raise(5); deliver {
		t.Fatal("Raise reported immediate delivery for a signal with no allow bit set")
	}
	if c.PendingSet()&(1<<4) == 0 {
		t.Fatal("signal 5 not marked pending after Raise")
	}
}

func TestControlWordRaiseWithAllowDeliversNow(t *testing.T) {
	var c ControlWord
	c.SetAllow(1 << 4) // allow signal 5
	if deliver := c.Raise(5); !deliver {
		t.Fatal("Raise reported deferred delivery for an allowed signal")
	}
}

func TestControlWordClearRemovesPendingBit(t *testing.T) {
	var c ControlWord
	c.Raise(3)
	if c.PendingSet()&(1<<2) == 0 {
		t.Fatal("signal 3 should be pending")
	}
	c.Clear(3)
	if c.PendingSet()&(1<<2) != 0 {
		t.Fatal("signal 3 still pending after Clear")
	}
}

func TestControlWordSetAllowReturnsNewlyDeliverable(t *testing.T) {
	var c ControlWord
	c.Raise(7) // pending, not allowed yet
	newly := c.SetAllow(1 << 6)
	if newly&(1<<6) == 0 {
		t.Fatal("SetAllow did not report signal 7 as newly deliverable")
	}
}

func TestControlWordHighGroupSignals(t *testing.T) {
	var c ControlWord
	c.SetAllow(uint64(1) << 40) // signal 41, lives in the second word
	if deliver := c.Raise(41); !deliver {
		t.Fatal("high-numbered signal did not deliver despite being allowed")
	}
}

func TestSigaltstackOnStack(t *testing.T) {
	s := Sigaltstack{Base: 0x1000, Size: 0x200, Enabled: true}
	if !s.OnStack(0x1000) {
		t.Error("expected base address to be on-stack")
	}
	if !s.OnStack(0x11ff) {
		t.Error("expected last in-range address to be on-stack")
	}
	if s.OnStack(0x1200) {
		t.Error("address past the end should not be on-stack")
	}
	s.Enabled = false
	if s.OnStack(0x1000) {
		t.Error("disabled altstack should never report on-stack")
	}
}

func TestTableSigactionReturnsPrevious(t *testing.T) {
	table := NewTable()
	first := Sigaction{Kind: SigactionHandled, Handler: func(int) {}}
	old, err := table.Sigaction(9, first)
	if err != nil {
		t.Fatalf("Sigaction: %v", err)
	}
	if old.Kind != SigactionDefault {
		t.Fatalf("expected default previous action, got %v", old.Kind)
	}

	second := Sigaction{Kind: SigactionIgnore}
	old, err = table.Sigaction(9, second)
	if err != nil {
		t.Fatalf("Sigaction: %v", err)
	}
	if old.Kind != SigactionHandled {
		t.Fatalf("expected previous action to be Handled, got %v", old.Kind)
	}
}

func TestTableSigactionRejectsOutOfRange(t *testing.T) {
	table := NewTable()
	if _, err := table.Sigaction(0, Sigaction{}); err == nil {
		t.Error("expected error for signal 0")
	}
	if _, err := table.Sigaction(NSIG+1, Sigaction{}); err == nil {
		t.Error("expected error for signal beyond NSIG")
	}
}

func TestDispatchInvokesHandlerForPendingAllowedSignal(t *testing.T) {
	th := &Thread{}
	table := NewTable()
	var handled int
	table.Sigaction(5, Sigaction{Kind: SigactionHandled, Handler: func(sig int) { handled = sig }})

	th.Control.SetAllow(1 << 4)
	th.Control.Raise(5)

	Dispatch(th, table)

	if handled != 5 {
		t.Fatalf("handler ran with sig=%d, want 5", handled)
	}
	if th.Control.PendingSet()&(1<<4) != 0 {
		t.Fatal("signal 5 still pending after Dispatch")
	}
}

func TestDispatchSkipsUnhandledSignals(t *testing.T) {
	old := terminateProcess
	var gotSig int
	terminateProcess = func(sig int) { gotSig = sig }
	defer func() { terminateProcess = old }()

	th := &Thread{}
	table := NewTable()
	th.Control.SetAllow(1 << 2)
	th.Control.Raise(3)

	Dispatch(th, table)

	if th.Control.PendingSet()&(1<<2) != 0 {
		t.Fatal("pending bit for an unhandled (default-disposition) signal should still clear")
	}
	if gotSig != 3 {
		t.Fatalf("expected default disposition to terminate with sig=3, got %d", gotSig)
	}
}

func TestDispatchPrefersThreadPendingOverProcessPending(t *testing.T) {
	th := &Thread{}
	table := NewTable()
	var handledVia int
	table.Sigaction(5, Sigaction{Kind: SigactionHandled, Handler: func(sig int) { handledVia = sig }})

	th.Control.SetAllow(1 << 4)
	th.Control.Raise(5)
	table.Proc.Raise(5)

	Dispatch(th, table)

	if handledVia != 5 {
		t.Fatal("handler did not run for the thread-pending signal")
	}
	if !table.Proc.Claim(5) {
		t.Fatal("process-wide pending bit for signal 5 was consumed by the thread-pending delivery")
	}
}

func TestDispatchClaimsProcessPendingExactlyOnce(t *testing.T) {
	th1, th2 := &Thread{}, &Thread{}
	table := NewTable()
	count := 0
	table.Sigaction(6, Sigaction{Kind: SigactionHandled, Handler: func(int) { count++ }})

	th1.Control.SetAllow(1 << 5)
	th2.Control.SetAllow(1 << 5)
	table.Proc.Raise(6)

	Dispatch(th1, table)
	Dispatch(th2, table)

	if count != 1 {
		t.Fatalf("handler ran %d times, want exactly 1", count)
	}
}

func TestDispatchSigContDefaultIsNoop(t *testing.T) {
	old := terminateProcess
	called := false
	terminateProcess = func(int) { called = true }
	defer func() { terminateProcess = old }()

	th := &Thread{}
	table := NewTable()
	th.Control.SetAllow(1 << (unix.SIGCONT - 1))
	th.Control.Raise(int(unix.SIGCONT))

	Dispatch(th, table)

	if called {
		t.Fatal("SIGCONT's default disposition should not terminate the process")
	}
}

func TestDispatchDefaultIgnoredSignalDoesNotTerminate(t *testing.T) {
	old := terminateProcess
	called := false
	terminateProcess = func(int) { called = true }
	defer func() { terminateProcess = old }()

	th := &Thread{}
	table := NewTable()
	th.Control.SetAllow(1 << (unix.SIGCHLD - 1))
	th.Control.Raise(int(unix.SIGCHLD))

	Dispatch(th, table)

	if called {
		t.Fatal("SIGCHLD's default disposition (ignore) should not terminate the process")
	}
}
