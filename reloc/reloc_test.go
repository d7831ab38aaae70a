package reloc

import (
	"testing"
	"unsafe"

	"github.com/xyproto/ldrt/internal/engine"
)

func applyAt(t *testing.T, arch engine.Arch, p Params) uintptr {
	t.Helper()
	var word uintptr
	p.RelocAddr = uintptr(unsafe.Pointer(&word))
	ok, err := Apply(arch, p)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !ok {
		t.Fatalf("Apply reported unrecognized type %d for %s", p.Type, arch)
	}
	return word
}

func TestRelativeRelocationAddsBias(t *testing.T) {
	got := applyAt(t, engine.ArchX86_64, Params{
		Type:      RX8664Relative,
		BaseAddr:  0x400000,
		Addend:    0x20,
		HasAddend: true,
	})
	if want := uintptr(0x400020); got != want {
		t.Errorf("RELATIVE = %#x, want %#x", got, want)
	}
}

func TestGlobDatUsesSymbolValueDirectly(t *testing.T) {
	got := applyAt(t, engine.ArchX86_64, Params{
		Type:   RX8664GlobDat,
		SymVal: 0xdeadbeef,
	})
	if got != 0xdeadbeef {
		t.Errorf("GLOB_DAT = %#x, want 0xdeadbeef", got)
	}
}

func TestX86_64TPOffIsNegativeFromBlockEnd(t *testing.T) {
	got := applyAt(t, engine.ArchX86_64, Params{
		Type:          RX8664TPOff64,
		TLSOffset:     16,
		SymVal:        8,
		StaticTLSSize: 100,
	})
	var blockSize uintptr = 100
	want := 16 + 8 - blockSize
	if got != want {
		t.Errorf("TPOFF64 = %d, want %d", int(got), int(want))
	}
}

func TestAArch64TPRelOffsetsPastTCBHeader(t *testing.T) {
	got := applyAt(t, engine.ArchARM64, Params{
		Type:      RAArch64TLSTPRel,
		TLSOffset: 32,
		SymVal:    4,
	})
	want := uintptr(tcbAlignedSize + 32 + 4)
	if got != want {
		t.Errorf("TLS_TPREL = %d, want %d", got, want)
	}
}

func TestIRelativeInvokesResolver(t *testing.T) {
	called := false
	got := applyAt(t, engine.ArchRiscv64, Params{
		Type:      RRiscvIRelative,
		BaseAddr:  0x1000,
		Addend:    0x8,
		HasAddend: true,
		IFuncResolve: func(addr uintptr) uintptr {
			called = true
			if addr != 0x1008 {
				t.Errorf("resolver called with %#x, want 0x1008", addr)
			}
			return 0x42
		},
	})
	if !called {
		t.Fatal("IFuncResolve was not invoked")
	}
	if got != 0x42 {
		t.Errorf("IRELATIVE result = %#x, want 0x42", got)
	}
}

func TestUnknownTypeIsNotFatal(t *testing.T) {
	var word uintptr
	ok, err := Apply(engine.ArchX86_64, Params{Type: 9999, RelocAddr: uintptr(unsafe.Pointer(&word))})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if ok {
		t.Fatal("expected unrecognized relocation type to report ok=false")
	}
}

func TestIsCopyType(t *testing.T) {
	if !IsCopyType(engine.ArchX86_64, RX8664Copy) {
		t.Error("x86-64 COPY not recognized")
	}
	if IsCopyType(engine.ArchX86_64, RX8664Relative) {
		t.Error("RELATIVE misidentified as COPY")
	}
}
