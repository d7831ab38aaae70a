package tls

import "testing"

func TestLayoutStaticTLSSurplusAndAlignment(t *testing.T) {
	sizes := []uintptr{100, 50}
	aligns := []uintptr{16, 8}

	total, offsets := LayoutStaticTLS(sizes, aligns)

	if len(offsets) != 2 {
		t.Fatalf("expected 2 offsets, got %d", len(offsets))
	}
	if offsets[0] != 0 {
		t.Fatalf("first module should start at offset 0, got %d", offsets[0])
	}
	if offsets[1] < offsets[0]+sizes[0] {
		t.Fatalf("module 1 at offset %d overlaps module 0's [%d,%d)", offsets[1], offsets[0], offsets[0]+sizes[0])
	}
	if total < offsets[1]+sizes[1]+staticTLSSurplus {
		t.Fatalf("total %d does not include surplus past the last module's end %d", total, offsets[1]+sizes[1])
	}
}

func TestLayoutStaticTLSDoesNotDoubleCount(t *testing.T) {
	// Three same-size modules should occupy disjoint, monotonically
	// increasing ranges -- not grow quadratically the way re-accumulating
	// an already-cumulative size per module would.
	sizes := []uintptr{64, 64, 64}
	aligns := []uintptr{8, 8, 8}

	total, offsets := LayoutStaticTLS(sizes, aligns)

	want := []uintptr{0, 64, 128}
	for i, w := range want {
		if offsets[i] != w {
			t.Fatalf("offsets[%d] = %d, want %d", i, offsets[i], w)
		}
	}
	if total < 192+staticTLSSurplus {
		t.Fatalf("total %d too small for 3*64 bytes plus surplus", total)
	}
}

func TestRoundUp(t *testing.T) {
	cases := []struct{ v, align, want uintptr }{
		{0, 16, 0},
		{1, 16, 16},
		{16, 16, 16},
		{17, 16, 32},
		{100, 8, 104},
	}
	for _, c := range cases {
		if got := roundUp(c.v, c.align); got != c.want {
			t.Errorf("roundUp(%d, %d) = %d, want %d", c.v, c.align, got, c.want)
		}
	}
}

func TestNewTCBMapsRequestedSize(t *testing.T) {
	tcb, err := New(4096)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if tcb.TLSLen != 4096 {
		t.Fatalf("TLSLen = %d, want 4096", tcb.TLSLen)
	}
	if tcb.Self == 0 {
		t.Fatalf("Self address is zero")
	}
}
