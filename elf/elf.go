// Package elf parses ELF64 executables and shared objects off disk (or out
// of an already-mmapped image) into the structures the rest of the runtime
// needs: program headers, the dynamic section's tag/value pairs, the
// dynamic symbol table and string table, and the PT_TLS segment. It reads
// and patches existing images; it never writes one from scratch.
package elf

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/xyproto/ldrt/internal/engine"
	"github.com/xyproto/ldrt/internal/errs"
)

const component = "elf"

// ELF64 header field sizes and layout, ELF64 spec section "ELF Header".
const (
	HeaderSize  = 64
	PhentSize   = 56
	ShentSize   = 64
	identOffset = 0
)

// e_type values we care about.
const (
	ET_EXEC = 2
	ET_DYN  = 3
)

// e_machine values, matching the host architectures this runtime targets.
const (
	EM_X86_64  = 0x3e
	EM_AARCH64 = 0xB7
	EM_RISCV   = 0xF3
)

// MachineForArch maps an engine.Arch to its ELF e_machine constant.
func MachineForArch(a engine.Arch) uint16 {
	switch a {
	case engine.ArchX86_64:
		return EM_X86_64
	case engine.ArchARM64:
		return EM_AARCH64
	case engine.ArchRiscv64:
		return EM_RISCV
	}
	return 0
}

// ArchForMachine is the inverse of MachineForArch, used when reading an
// unknown binary off disk to decide which relocation/TLS arithmetic to use.
func ArchForMachine(m uint16) (engine.Arch, error) {
	switch m {
	case EM_X86_64:
		return engine.ArchX86_64, nil
	case EM_AARCH64:
		return engine.ArchARM64, nil
	case EM_RISCV:
		return engine.ArchRiscv64, nil
	default:
		return engine.ArchUnknown, errs.New(component, errs.Malformed, "unsupported e_machine 0x%x", m)
	}
}

// Program header p_type values.
const (
	PT_NULL    = 0
	PT_LOAD    = 1
	PT_DYNAMIC = 2
	PT_INTERP  = 3
	PT_TLS     = 7
)

// Program header p_flags bits.
const (
	PF_X = 1
	PF_W = 2
	PF_R = 4
)

// ProgramHeader is the ELF64 Phdr, read as-is off disk.
type ProgramHeader struct {
	Type   uint32
	Flags  uint32
	Offset uint64
	VAddr  uint64
	PAddr  uint64
	Filesz uint64
	Memsz  uint64
	Align  uint64
}

// Header is the ELF64 Ehdr fields this runtime actually consults.
type Header struct {
	Type      uint16
	Machine   uint16
	Entry     uint64
	PhOff     uint64
	PhEntSize uint16
	PhNum     uint16
	ShOff     uint64
}

// Image is a parsed ELF file: the raw bytes (mmapped or read into memory),
// the header, and the program header table. Dynamic-section parsing lives
// in dynamic.go and is done separately via ParseDynamic.
type Image struct {
	Path    string
	Data    []byte // raw file contents, or the mmapped image once loaded
	Header  Header
	Phdrs   []ProgramHeader
	Machine uint16
}

// Parse reads and validates an ELF64 header plus program header table from
// data (the full file contents). It does not map anything; see MapAndCopy
// for PT_LOAD mapping.
func Parse(path string, data []byte) (*Image, error) {
	if len(data) < HeaderSize {
		return nil, errs.New(component, errs.Malformed, "%s: file too short for ELF header", path)
	}
	if data[0] != 0x7f || data[1] != 'E' || data[2] != 'L' || data[3] != 'F' {
		return nil, errs.New(component, errs.Malformed, "%s: bad ELF magic", path)
	}
	if data[4] != 2 {
		return nil, errs.New(component, errs.Malformed, "%s: not a 64-bit ELF object", path)
	}
	if data[5] != 1 {
		return nil, errs.New(component, errs.Malformed, "%s: not little-endian", path)
	}

	h := Header{
		Type:      binary.LittleEndian.Uint16(data[16:18]),
		Machine:   binary.LittleEndian.Uint16(data[18:20]),
		Entry:     binary.LittleEndian.Uint64(data[24:32]),
		PhOff:     binary.LittleEndian.Uint64(data[32:40]),
		ShOff:     binary.LittleEndian.Uint64(data[40:48]),
		PhEntSize: binary.LittleEndian.Uint16(data[54:56]),
		PhNum:     binary.LittleEndian.Uint16(data[56:58]),
	}

	if _, err := ArchForMachine(h.Machine); err != nil {
		return nil, err
	}

	img := &Image{Path: path, Data: data, Header: h, Machine: h.Machine}

	off := h.PhOff
	for i := 0; i < int(h.PhNum); i++ {
		if off+uint64(PhentSize) > uint64(len(data)) {
			return nil, errs.New(component, errs.Malformed, "%s: program header %d out of bounds", path, i)
		}
		ph := ProgramHeader{
			Type:   binary.LittleEndian.Uint32(data[off : off+4]),
			Flags:  binary.LittleEndian.Uint32(data[off+4 : off+8]),
			Offset: binary.LittleEndian.Uint64(data[off+8 : off+16]),
			VAddr:  binary.LittleEndian.Uint64(data[off+16 : off+24]),
			PAddr:  binary.LittleEndian.Uint64(data[off+24 : off+32]),
			Filesz: binary.LittleEndian.Uint64(data[off+32 : off+40]),
			Memsz:  binary.LittleEndian.Uint64(data[off+40 : off+48]),
			Align:  binary.LittleEndian.Uint64(data[off+48 : off+56]),
		}
		img.Phdrs = append(img.Phdrs, ph)
		off += uint64(h.PhEntSize)
	}

	return img, nil
}

// Load reads a file from disk and parses it with Parse.
func Load(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(component, errs.KernelError, err, "reading %s", path)
	}
	return Parse(path, data)
}

// PhdrsOfType returns every program header of the given p_type, in file
// order.
func (img *Image) PhdrsOfType(t uint32) []ProgramHeader {
	var out []ProgramHeader
	for _, ph := range img.Phdrs {
		if ph.Type == t {
			out = append(out, ph)
		}
	}
	return out
}

// Interp returns the PT_INTERP string (the requested dynamic linker path),
// or "" if this image has none (i.e. it is statically linked or is itself
// the interpreter).
func (img *Image) Interp() (string, bool) {
	for _, ph := range img.Phdrs {
		if ph.Type == PT_INTERP {
			end := ph.Offset + ph.Filesz
			if end > uint64(len(img.Data)) {
				return "", false
			}
			raw := img.Data[ph.Offset:end]
			n := 0
			for n < len(raw) && raw[n] != 0 {
				n++
			}
			return string(raw[:n]), true
		}
	}
	return "", false
}

// IsPIE reports whether the image is position-independent (ET_DYN) as
// opposed to a fixed-address executable (ET_EXEC).
func (img *Image) IsPIE() bool {
	return img.Header.Type == ET_DYN
}

func (img *Image) String() string {
	return fmt.Sprintf("elf.Image{%s type=%d machine=0x%x phdrs=%d}", img.Path, img.Header.Type, img.Header.Machine, len(img.Phdrs))
}
