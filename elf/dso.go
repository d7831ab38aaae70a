package elf

import (
	"encoding/binary"
	"path/filepath"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/xyproto/ldrt/internal/errs"
)

// Symbol table entry binding/type (Elf64_Sym.st_info nibbles).
const (
	STB_LOCAL  = 0
	STB_GLOBAL = 1
	STB_WEAK   = 2

	STT_NOTYPE = 0
	STT_OBJECT = 1
	STT_FUNC   = 2
	STT_GNU_IFUNC = 10

	SHN_UNDEF = 0
)

// SymEnt is one Elf64_Sym record as read off disk.
type SymEnt struct {
	NameOff uint32
	Info    byte
	Other   byte
	Shndx   uint16
	Value   uint64
	Size    uint64
}

func (s SymEnt) Bind() byte { return s.Info >> 4 }
func (s SymEnt) Type() byte { return s.Info & 0xf }

// ResolvedSymbol is a symbol value already adjusted for a DSO's load bias,
// the unit package linker and package reloc exchange.
type ResolvedSymbol struct {
	Addr uintptr
	Size uint64
	Type byte
	// VersionIdx is the entry's .gnu.version index, 0 if unversioned.
	VersionIdx uint16
}

// Master mirrors a PT_TLS segment's initial image, handed to package tls.
type Master struct {
	Ptr    uintptr
	Len    uintptr
	Offset uintptr
}

// DSO is one loaded shared object or the main executable: its mapped image,
// the dynamic symbol tables split by binding, dependency names, init/fini
// array bounds, and TLS module bookkeeping.
type DSO struct {
	Name       string
	Path       string
	ID         int
	Dlopened   bool
	EntryPoint uintptr
	Runpath    []string

	Base  uintptr // load bias; 0 for non-PIE
	Mem   []byte  // the mapped image
	Dyn   *Dynamic

	GlobalSyms map[string]ResolvedSymbol
	WeakSyms   map[string]ResolvedSymbol

	Dependencies []string

	InitArray, FiniArray   [2]uintptr // (addr, size)
	TLSModuleID, TLSOffset uintptr

	UseCount int
}

// GetSym looks up name first in the global, then weak, symbol table,
// reporting whether the match was a strong (global) binding.
func (d *DSO) GetSym(name string) (ResolvedSymbol, bool, bool) {
	if v, ok := d.GlobalSyms[name]; ok {
		return v, true, true
	}
	if v, ok := d.WeakSyms[name]; ok {
		return v, false, true
	}
	return ResolvedSymbol{}, false, false
}

// RunInit calls every function pointer in .init_array, in array order.
func RunInit(initArray [2]uintptr) {
	callArray(initArray, false)
}

// RunFini calls every function pointer in .fini_array, in reverse order.
func RunFini(finiArray [2]uintptr) {
	callArray(finiArray, true)
}

func callArray(arr [2]uintptr, reverse bool) {
	addr, size := arr[0], arr[1]
	if addr == 0 || size == 0 {
		return
	}
	n := int(size) / 8
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	if reverse {
		for i, j := 0, n-1; i < j; i, j = i+1, j-1 {
			idx[i], idx[j] = idx[j], idx[i]
		}
	}
	for _, i := range idx {
		slot := (*uintptr)(unsafe.Pointer(addr + uintptr(i*8)))
		fn := *slot
		if fn == 0 {
			continue
		}
		callNoArgs(fn)
	}
}

// Bounds computes the lowest and highest virtual address spanned by the
// image's PT_LOAD segments (page-aligned), which is how much to mmap before
// copying segment data in.
func Bounds(img *Image) (lo, hi uintptr, ok bool) {
	first := true
	for _, ph := range img.Phdrs {
		if ph.Type != PT_LOAD {
			continue
		}
		voff := ph.VAddr % ph.Align
		vaddr := uintptr(ph.VAddr - voff)
		vsize := roundUp(uintptr(ph.Memsz+voff), uintptr(ph.Align))
		if first {
			lo, hi = vaddr, vaddr+vsize
			first = false
			continue
		}
		if vaddr < lo {
			lo = vaddr
		}
		if vaddr+vsize > hi {
			hi = vaddr + vsize
		}
	}
	return lo, hi, !first
}

func roundUp(v, align uintptr) uintptr {
	if align == 0 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}

// MapAndCopy mmaps enough space to hold every PT_LOAD segment of img
// (at requestedBase, or wherever the kernel chooses if requestedBase is 0),
// copies each segment's file data in, and returns the mapped bytes plus the
// PT_TLS master image if one is present. If a non-zero debugLinkMapAddr is
// given and the image carries a DT_DEBUG entry, that address is patched
// into the dynamic section in place so a ptrace'd debugger can find our
// r_debug/link_map chain (mirrors glibc/musl's own bootstrap trick).
func MapAndCopy(img *Image, requestedBase uintptr, tlsOffset uintptr, debugLinkMapAddr uintptr) ([]byte, *Master, error) {
	lo, hi, ok := Bounds(img)
	if !ok {
		return nil, nil, errs.New(component, errs.Malformed, "%s: no PT_LOAD segments", img.Path)
	}

	pie := img.IsPIE()
	size := hi - lo
	if !pie {
		size = hi
	}

	var base uintptr
	var mem []byte
	if requestedBase != 0 {
		base = requestedBase
		mem = unsafe.Slice((*byte)(unsafe.Pointer(base)), size)
	} else {
		prot := unix.PROT_READ | unix.PROT_WRITE
		flags := unix.MAP_ANON | unix.MAP_PRIVATE
		m, err := unix.Mmap(-1, 0, int(size), prot, flags)
		if err != nil {
			return nil, nil, errs.Wrap(component, errs.KernelError, err, "mmap %s (%d bytes)", img.Path, size)
		}
		mem = m
		base = uintptr(unsafe.Pointer(&mem[0]))
	}

	var master *Master
	for _, ph := range img.Phdrs {
		voff := ph.VAddr % ph.Align
		vaddr := uintptr(ph.VAddr - voff)
		vsize := roundUp(uintptr(ph.Memsz+voff), uintptr(ph.Align))

		switch ph.Type {
		case PT_LOAD:
			if requestedBase != 0 {
				continue // already mapped by the caller (PT_INTERP recursion case)
			}
			start := ph.Offset
			end := start + ph.Filesz
			if end > uint64(len(img.Data)) {
				return nil, nil, errs.New(component, errs.Malformed, "%s: PT_LOAD file range out of bounds", img.Path)
			}
			objData := img.Data[start:end]
			var dstOff uintptr
			if pie {
				dstOff = uintptr(ph.VAddr)
			} else {
				dstOff = uintptr(ph.VAddr) - base
			}
			if dstOff+uintptr(len(objData)) > uintptr(len(mem)) {
				return nil, nil, errs.New(component, errs.Malformed, "%s: PT_LOAD destination range out of bounds", img.Path)
			}
			copy(mem[dstOff:dstOff+uintptr(len(objData))], objData)

		case PT_TLS:
			var ptr uintptr
			if pie {
				ptr = base + uintptr(ph.VAddr)
			} else {
				ptr = uintptr(ph.VAddr)
			}
			master = &Master{Ptr: ptr, Len: uintptr(ph.Filesz), Offset: tlsOffset + vsize}

		case PT_DYNAMIC:
			if debugLinkMapAddr == 0 {
				continue
			}
			dyn, err := ParseDynamic(img.Data, ph.Offset)
			if err != nil {
				continue
			}
			if dyn.FileOffsetOfDebug < 0 {
				continue
			}
			var patchOff uintptr
			if pie {
				patchOff = uintptr(ph.VAddr) + uintptr(dyn.FileOffsetOfDebug) - uintptr(ph.Offset)
			} else {
				patchOff = uintptr(ph.VAddr) + uintptr(dyn.FileOffsetOfDebug) - uintptr(ph.Offset) - base
			}
			if patchOff+8 <= uintptr(len(mem)) {
				binary.LittleEndian.PutUint64(mem[patchOff:patchOff+8], uint64(debugLinkMapAddr))
			}
		}
	}

	return mem, master, nil
}

// CollectSyms splits a DSO's dynamic symbol table into global and weak
// maps, skipping SHN_UNDEF entries (those are imports, not exports) and any
// binding other than GLOBAL/WEAK, matching the reference loader exactly.
func CollectSyms(dynsym []SymEnt, dynstr []byte, mmapBase uintptr, pie bool) (map[string]ResolvedSymbol, map[string]ResolvedSymbol) {
	globals := make(map[string]ResolvedSymbol)
	weak := make(map[string]ResolvedSymbol)

	for _, sym := range dynsym {
		if sym.Shndx == SHN_UNDEF {
			continue
		}
		bind := sym.Bind()
		if bind != STB_GLOBAL && bind != STB_WEAK {
			continue
		}
		name := cstrAt(dynstr, sym.NameOff)
		if name == "" {
			continue
		}
		var base uintptr
		if pie {
			base = mmapBase
		}
		rs := ResolvedSymbol{Addr: base + uintptr(sym.Value), Size: sym.Size, Type: sym.Type()}
		if bind == STB_GLOBAL {
			globals[name] = rs
		} else {
			weak[name] = rs
		}
	}
	return globals, weak
}

func cstrAt(table []byte, off uint32) string {
	if uint64(off) >= uint64(len(table)) {
		return ""
	}
	end := off
	for end < uint32(len(table)) && table[end] != 0 {
		end++
	}
	return string(table[off:end])
}

// GetRunpath resolves DT_RUNPATH/DT_RPATH, expanding $ORIGIN to the
// directory containing path.
func GetRunpath(path string, raw string) []string {
	if raw == "" {
		return nil
	}
	origin := filepath.Dir(path)
	expanded := strings.ReplaceAll(raw, "$ORIGIN", origin)
	return strings.Split(expanded, ":")
}

// Basename returns the final path component, as used when an object has no
// DT_SONAME.
func Basename(path string) string {
	return filepath.Base(path)
}
