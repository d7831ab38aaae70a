package symresolve

import "github.com/xyproto/ldrt/elf"

// Result is what a successful Find returns: the final resolved value
// (post-IFUNC, if applicable), size, symbol type and binding/visibility
// bits a relocation or dlsym caller needs.
type Result struct {
	Value     uintptr
	Size      uint64
	SymType   byte
	Weak      bool
	Protected bool
}

const (
	stvProtected = 0x3
	sttGNUIFunc  = 10
	stbWeak      = 2
)

// Find looks a symbol up the way a Linux dynamic linker does: GNU hash
// first when available, the legacy SysV hash as a fallback, then an
// SHN_UNDEF check, then symbol-version validation, then (eagerly) IFUNC
// resolution. The order is load-bearing: skipping the SHN_UNDEF check
// before the version check would let an unresolved import masquerade as a
// definition, and resolving IFUNCs before the version check would invoke
// resolver code for a symbol version that should have been rejected.
func Find(
	name string,
	req *VersionReq,
	dynsym []elf.SymEnt,
	dynstr []byte,
	gnuHash *GnuHashTable,
	sysvHash *SysVHashTable,
	verData *VersionData,
	loadBase uintptr,
	ifuncResolve func(addr uintptr) uintptr,
) (Result, bool) {
	idx := -1
	if gnuHash != nil {
		idx = gnuHash.Lookup(name, dynsym, dynstr)
	} else if sysvHash != nil {
		idx = sysvHash.Lookup(name, dynsym, dynstr)
	}
	if idx < 0 {
		return Result{}, false
	}

	sym := dynsym[idx]
	if sym.Shndx == elf.SHN_UNDEF {
		return Result{}, false
	}

	if verData != nil && !verData.Check(idx, req) {
		return Result{}, false
	}

	value := loadBase + uintptr(sym.Value)
	symType := sym.Type()
	if symType == sttGNUIFunc && ifuncResolve != nil {
		value = ifuncResolve(value)
	}

	return Result{
		Value:     value,
		Size:      sym.Size,
		SymType:   symType,
		Weak:      sym.Bind() == stbWeak,
		Protected: sym.Other&0x3 == stvProtected,
	}, true
}
