// Package reloc applies a single relocation entry against an already-mapped
// image, for each of the three target architectures this runtime supports.
// It is deliberately a pure function of (type, values, addresses) -> written
// word, with no knowledge of symbol tables or dependency graphs; package
// linker drives it once per relocation entry after resolving the symbol.
package reloc

import (
	"fmt"
	"unsafe"

	"github.com/xyproto/ldrt/internal/engine"
)

// Relocation type constants, x86-64 (Elf64_Rela r_info low 32 bits).
const (
	RX8664None      = 0
	RX8664_64       = 1
	RX8664GlobDat   = 6
	RX8664JumpSlot  = 7
	RX8664Relative  = 8
	RX8664Copy      = 5
	RX8664IRelative = 37
	RX8664DTPMod64  = 16
	RX8664DTPOff64  = 17
	RX8664TPOff64   = 18
)

// AArch64 relocation types.
const (
	RAArch64None      = 0
	RAArch64Abs64     = 257
	RAArch64Copy      = 1024
	RAArch64GlobDat   = 1025
	RAArch64JumpSlot  = 1026
	RAArch64Relative  = 1027
	RAArch64TLSDTPMod = 1028
	RAArch64TLSDTPRel = 1029
	RAArch64TLSTPRel  = 1030
	RAArch64IRelative = 1032
)

// RISC-V relocation types.
const (
	RRiscvNone       = 0
	RRiscv64         = 2
	RRiscvCopy       = 4
	RRiscvJumpSlot   = 5
	RRiscvRelative   = 3
	RRiscvTLSDTPMod  = 7
	RRiscvTLSDTPRel  = 9
	RRiscvTLSTPRel   = 11
	RRiscvIRelative  = 58
)

// Params bundles everything Apply needs to compute a relocated value; it
// mirrors the parameter list of the reference relocate() function one to
// one so the per-arch arithmetic below reads the same way.
type Params struct {
	Type          uint32
	SymVal        uintptr // symbol's resolved value (VA), or TLS module offset for TLS relocs
	Addend        uintptr
	HasAddend     bool
	RelocAddr     uintptr // address to patch, already base-relocated
	BaseAddr      uintptr // load bias of the object being relocated
	TLSModuleID   uintptr // id of the module defining the TLS symbol (for DTPMOD)
	TLSOffset     uintptr // defining module's offset within the static TLS block
	StaticTLSSize uintptr // total static TLS block size (x86-64 TPOFF arithmetic)
	IFuncResolve  func(resolverAddr uintptr) uintptr
}

// tcbAlignedSize is the 16-byte-rounded TCB header size used by the
// variant-I (AArch64, RISC-V) TPREL arithmetic.
const tcbAlignedSize = 16 // round_up(minimal TCB header, 16)

// Apply writes the relocated value at p.RelocAddr and reports whether the
// relocation type was recognized for arch. Unknown types are not an error
// by themselves -- the caller decides whether an unhandled type for a
// non-matching architecture is fatal.
func Apply(arch engine.Arch, p Params) (bool, error) {
	val := uintptr(0)
	if p.HasAddend {
		val = p.Addend
	}
	ptr := (*uintptr)(unsafe.Pointer(p.RelocAddr))

	switch arch {
	case engine.ArchX86_64:
		switch p.Type {
		case RX8664None:
			return true, nil
		case RX8664_64:
			*ptr = p.SymVal + val
		case RX8664GlobDat, RX8664JumpSlot:
			*ptr = p.SymVal
		case RX8664Relative:
			*ptr = p.BaseAddr + val
		case RX8664IRelative:
			*ptr = resolveIFunc(p, p.BaseAddr+val)
		case RX8664DTPMod64:
			*ptr = p.TLSModuleID
		case RX8664DTPOff64:
			*ptr = p.SymVal + val
		case RX8664TPOff64:
			// Variant II: the static TLS block ends exactly at %fs, so the
			// offset from a module's start must be turned negative by
			// subtracting the whole block size.
			offsetFromStart := p.TLSOffset + p.SymVal + val
			*ptr = offsetFromStart - p.StaticTLSSize
		default:
			return false, nil
		}
		return true, nil

	case engine.ArchARM64:
		switch p.Type {
		case RAArch64None:
			return true, nil
		case RAArch64Abs64, RAArch64GlobDat, RAArch64JumpSlot:
			*ptr = p.SymVal + val
		case RAArch64Relative:
			*ptr = p.BaseAddr + val
		case RAArch64IRelative:
			*ptr = resolveIFunc(p, p.BaseAddr+val)
		case RAArch64TLSDTPMod:
			*ptr = p.TLSModuleID
		case RAArch64TLSDTPRel:
			*ptr = p.SymVal + val
		case RAArch64TLSTPRel:
			// Variant I: the TCB sits at %tp and the TLS block follows it,
			// so the offset is measured forward from the aligned TCB size.
			*ptr = tcbAlignedSize + p.TLSOffset + p.SymVal + val
		default:
			return false, nil
		}
		return true, nil

	case engine.ArchRiscv64:
		switch p.Type {
		case RRiscvNone:
			return true, nil
		case RRiscv64:
			*ptr = p.SymVal + val
		case RRiscvJumpSlot:
			*ptr = p.SymVal
		case RRiscvRelative:
			*ptr = p.BaseAddr + val
		case RRiscvIRelative:
			*ptr = resolveIFunc(p, p.BaseAddr+val)
		case RRiscvTLSDTPMod:
			*ptr = p.TLSModuleID
		case RRiscvTLSDTPRel:
			*ptr = p.SymVal + val
		case RRiscvTLSTPRel:
			*ptr = tcbAlignedSize + p.TLSOffset + p.SymVal + val
		default:
			return false, nil
		}
		return true, nil
	}

	return false, fmt.Errorf("reloc: unsupported architecture %s", arch)
}

func resolveIFunc(p Params, resolverAddr uintptr) uintptr {
	if p.IFuncResolve != nil {
		return p.IFuncResolve(resolverAddr)
	}
	return resolverAddr
}

// ApplyCopy implements R_*_COPY: copy sz bytes of a shared library's
// initial data into the executable's .bss so absolute references in the
// executable keep working without an extra indirection.
func ApplyCopy(src, dst unsafe.Pointer, sz uintptr) {
	s := unsafe.Slice((*byte)(src), sz)
	d := unsafe.Slice((*byte)(dst), sz)
	copy(d, s)
}

// IsCopyType reports whether r_type is the COPY relocation for arch.
func IsCopyType(arch engine.Arch, r_type uint32) bool {
	switch arch {
	case engine.ArchX86_64:
		return r_type == RX8664Copy
	case engine.ArchARM64:
		return r_type == RAArch64Copy
	case engine.ArchRiscv64:
		return r_type == RRiscvCopy
	}
	return false
}
