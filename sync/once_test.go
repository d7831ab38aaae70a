package sync

import (
	"sync/atomic"
	"testing"
)

func TestOnceRunsExactlyOnce(t *testing.T) {
	var o Once
	var count atomic.Int32
	for i := 0; i < 5; i++ {
		o.Do(func() { count.Add(1) })
	}
	if got := count.Load(); got != 1 {
		t.Fatalf("fn ran %d times, want 1", got)
	}
}

func TestOnceLeavesStateDone(t *testing.T) {
	var o Once
	o.Do(func() {})
	if got := o.state.Load(); got != onceDone {
		t.Fatalf("state = %d, want onceDone(%d)", got, onceDone)
	}
}
