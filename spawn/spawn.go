// Package spawn maps a freshly exec'd ELF program: it hands the program to
// package linker to be mapped and relocated along with its dependencies,
// and BuildAuxv builds an auxv Vector describing it. PT_INTERP is not
// consulted, and no initial process stack (argv/envp/auxv) is laid out. It
// is the Go analogue of relibc_ld_so_start plus part of the kernel's own
// ELF loader, fused into one in-process operation since this runtime
// drives everything through a single exec'd process rather than a kernel
// binfmt handler.
package spawn

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/xyproto/ldrt/auxv"
	"github.com/xyproto/ldrt/elf"
	"github.com/xyproto/ldrt/internal/engine"
	"github.com/xyproto/ldrt/internal/errs"
	"github.com/xyproto/ldrt/linker"
)

const component = "spawn"

// Result is what Load returns: the address execution should jump to, and
// the fully populated Linker so the caller can look up additional symbols
// or run further dlopen calls afterward.
type Result struct {
	Entry  uintptr
	Linker *linker.Linker
}

// Load drives package linker to map, relocate, and initialize path plus
// its full dependency graph, returning the address to jump to next.
// path's PT_INTERP, if any, is not consulted.
func Load(path string, ldLibraryPath []string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(component, errs.Malformed, err, "read %s", path)
	}
	img, err := elf.Parse(path, data)
	if err != nil {
		return nil, err
	}
	arch, err := elf.ArchForMachine(img.Header.Machine)
	if err != nil {
		return nil, err
	}
	if arch != engine.Current() {
		return nil, errs.New(component, errs.Malformed, "%s targets %v, running on %v", path, arch, engine.Current())
	}

	l := linker.New(arch, ldLibraryPath)
	entry, err := l.LoadProgram(path)
	if err != nil {
		return nil, err
	}

	return &Result{Entry: entry, Linker: l}, nil
}

// BuildAuxv constructs the auxiliary vector the started program expects,
// seeded with the fields this runtime can supply without kernel
// cooperation (AT_PAGESZ, AT_ENTRY) -- the remaining identity-derived
// fields (AT_UID et al) are filled in by ApplyProcessInfo.
func BuildAuxv(phdrAddr uintptr, phentsize, phnum int, entry uintptr) *auxv.Vector {
	v := auxv.New()
	v.Set(auxv.AT_PHDR, uint64(phdrAddr))
	v.Set(auxv.AT_PHENT, uint64(phentsize))
	v.Set(auxv.AT_PHNUM, uint64(phnum))
	v.Set(auxv.AT_PAGESZ, uint64(unix.Getpagesize()))
	v.Set(auxv.AT_ENTRY, uint64(entry))
	return v
}

// ApplyProcessInfo fills in the identity-derived auxv fields a real kernel
// exec populates from the calling credentials.
func ApplyProcessInfo(v *auxv.Vector) {
	v.Set(auxv.AT_UID, uint64(os.Getuid()))
	v.Set(auxv.AT_EUID, uint64(os.Geteuid()))
	v.Set(auxv.AT_GID, uint64(os.Getgid()))
	v.Set(auxv.AT_EGID, uint64(os.Getegid()))
}

// EnforceWX mprotects every PT_LOAD segment of img to its final
// (non-writable-if-executable) permissions once relocation has finished
// writing to it, the W^X pass a hardened loader applies between "finished
// patching GOT/data" and "ready to execute".
func EnforceWX(base uintptr, img *elf.Image) error {
	for _, ph := range img.Phdrs {
		if ph.Type != elf.PT_LOAD {
			continue
		}
		prot := 0
		if ph.Flags&elf.PF_R != 0 {
			prot |= unix.PROT_READ
		}
		if ph.Flags&elf.PF_W != 0 {
			prot |= unix.PROT_WRITE
		}
		if ph.Flags&elf.PF_X != 0 {
			prot |= unix.PROT_EXEC
		}
		if prot&unix.PROT_WRITE != 0 && prot&unix.PROT_EXEC != 0 {
			return errs.New(component, errs.Malformed, "segment at offset %#x is both writable and executable", ph.Offset)
		}

		addr := base + uintptr(roundDown(ph.VAddr, ph.Align))
		size := roundUp(ph.VAddr+ph.Memsz, ph.Align) - roundDown(ph.VAddr, ph.Align)
		data := addrSlice(addr, uintptr(size))
		if err := unix.Mprotect(data, prot); err != nil {
			return errs.Wrap(component, errs.KernelError, err, "mprotect")
		}
	}
	return nil
}

func roundUp(v, align uint64) uint64 {
	if align == 0 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}

func roundDown(v, align uint64) uint64 {
	if align == 0 {
		return v
	}
	return v &^ (align - 1)
}

func addrSlice(addr uintptr, size uintptr) []byte {
	if size == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(size))
}
