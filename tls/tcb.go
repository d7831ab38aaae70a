// Package tls builds and activates the thread control block and static TLS
// region for a loaded process image: the per-arch TCB/TLS placement (variant
// I on AArch64/RISC-V, variant II on x86-64), the master-image copy-in for
// each DSO's PT_TLS segment, and activation via arch_prctl/ARCH_SET_FS (or
// the AArch64/RISC-V thread-pointer register, modeled explicitly since Go
// code cannot read tpidr_el0/fs itself).
package tls

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/xyproto/ldrt/internal/engine"
)

// Master mirrors one DSO's initial TLS image: the bytes to copy in and the
// byte offset within the static TLS block to copy them to.
type Master struct {
	Data   []byte
	Offset uintptr
}

// TCB is the thread control block Go stands in for a real thread-pointer
// register: every OS thread the runtime creates (via pthread.Create) owns
// exactly one, and the registry in package pthread maps OS tid -> *TCB since
// Go gives us no way to dedicate a hardware register to it.
type TCB struct {
	// TLSEnd points one byte past the end of the static TLS region. On
	// variant II (x86-64) the TCB sits at this address; on variant I
	// (AArch64, RISC-V) the TCB sits below TLSStart and TLSEnd marks the
	// top of a region that grows down from it.
	TLSEnd  uintptr
	TLSLen  uintptr
	Self    uintptr // address of this TCB, i.e. the thread pointer value
	Masters []Master

	mem []byte // backing mmap, kept alive for the lifetime of the thread
}

// staticTLSSurplus is extra space reserved beyond what's known to be needed
// at process-start time, so a later dlopen can still satisfy static-model
// TLS relocations without falling back to the dynamic TLS path.
const staticTLSSurplus = 2048
const minStaticTLS = 1664

// LayoutStaticTLS computes the total static TLS region size (plus surplus)
// and each module's starting byte offset within it, given every loaded
// module's TLS segment size/alignment in load order. offsets[i] is where
// module i's image begins, measured from the start of the region -- the
// same number every TPOFF/TLSTPRel relocation arithmetic in package reloc
// adds the symbol's own intra-module offset to.
func LayoutStaticTLS(moduleSizes []uintptr, moduleAligns []uintptr) (total uintptr, offsets []uintptr) {
	offsets = make([]uintptr, len(moduleSizes))
	var cursor uintptr
	for i, size := range moduleSizes {
		align := moduleAligns[i]
		if align == 0 {
			align = 1
		}
		cursor = roundUp(cursor, align)
		offsets[i] = cursor
		cursor += size
	}
	total = cursor + staticTLSSurplus
	if total < minStaticTLS {
		total = minStaticTLS
	}
	return total, offsets
}

func roundUp(v, alignment uintptr) uintptr {
	return (v + alignment - 1) &^ (alignment - 1)
}

// New mmaps a fresh TLS+TCB region sized to hold size bytes of static TLS
// plus one page for the TCB structure itself, and initializes the TCB's
// self-referencing fields.
func New(size uintptr) (*TCB, error) {
	pageSize := uintptr(unix.Getpagesize())
	total := roundUp(size, pageSize) + pageSize

	mem, err := unix.Mmap(-1, 0, int(total), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("tls: mmap tcb region: %w", err)
	}

	tlsRegion := mem[:size]
	base := uintptr(ptrOf(mem))

	t := &TCB{
		TLSEnd: base + size,
		TLSLen: size,
		mem:    mem,
	}
	t.Self = t.TLSEnd
	_ = tlsRegion
	return t, nil
}

// TLSBase returns the address variant-I relocations (AArch64, RISC-V) treat
// as the start of the TLS block: immediately after the TCB.
func (t *TCB) TLSBase(arch engine.Arch) uintptr {
	if arch.TLSVariant() == 2 {
		return t.TLSEnd - t.TLSLen
	}
	return t.Self + tcbSize(arch)
}

// tcbSize is the size reserved for the TCB header proper on variant-I
// targets, rounded up to 16 bytes as the reference TCB layout does.
func tcbSize(arch engine.Arch) uintptr {
	const headerSize = 8 // minimal {dtv *uintptr} header
	return roundUp(headerSize, 16)
}

// CopyMasters copies each module's initial TLS image into the static TLS
// block at its own Offset, measured from the start of the region (the same
// offset LayoutStaticTLS assigned it and relocation arithmetic adds the
// symbol's intra-module offset to).
func (t *TCB) CopyMasters() error {
	tlsBytes := t.tlsSlice()
	for i, m := range t.Masters {
		end := m.Offset + uintptr(len(m.Data))
		if end > uintptr(len(tlsBytes)) {
			return fmt.Errorf("tls: master %d out of bounds (offset=%d end=%d len=%d)", i, m.Offset, end, len(tlsBytes))
		}
		copy(tlsBytes[m.Offset:end], m.Data)
	}
	return nil
}

func (t *TCB) tlsSlice() []byte {
	return t.mem[:t.TLSLen]
}

// Activate installs t as the calling OS thread's thread pointer. On Linux
// x86-64 this is ARCH_SET_FS via arch_prctl(2); AArch64/RISC-V have no
// equivalent syscall and instead rely on a software-maintained registry
// (package pthread) keyed by OS tid, since neither Go nor a non-assembly
// process can write tpidr_el0/tp directly.
func (t *TCB) Activate(arch engine.Arch) error {
	if arch != engine.ArchX86_64 {
		return nil
	}
	const archSetFS = 0x1002
	_, _, errno := unix.Syscall(unix.SYS_ARCH_PRCTL, archSetFS, t.Self, 0)
	if errno != 0 {
		return fmt.Errorf("tls: arch_prctl(ARCH_SET_FS): %w", errno)
	}
	return nil
}

func ptrOf(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}
