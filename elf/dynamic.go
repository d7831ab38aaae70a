package elf

import (
	"encoding/binary"

	"github.com/xyproto/ldrt/internal/errs"
)

// Dynamic section tags (Elf64_Dyn.d_tag), ELF64 spec "Dynamic Section".
const (
	DT_NULL     = 0
	DT_NEEDED   = 1
	DT_PLTRELSZ = 2
	DT_PLTGOT   = 3
	DT_HASH     = 4
	DT_STRTAB   = 5
	DT_SYMTAB   = 6
	DT_RELA     = 7
	DT_RELASZ   = 8
	DT_RELAENT  = 9
	DT_STRSZ    = 10
	DT_SYMENT   = 11
	DT_INIT     = 12
	DT_FINI     = 13
	DT_SONAME   = 14
	DT_RPATH    = 15
	DT_SYMBOLIC = 16
	DT_REL      = 17
	DT_RELSZ    = 18
	DT_RELENT   = 19
	DT_PLTREL   = 20
	DT_DEBUG    = 21
	DT_TEXTREL  = 22
	DT_JMPREL   = 23
	DT_BIND_NOW = 24
	DT_INIT_ARRAY     = 25
	DT_FINI_ARRAY     = 26
	DT_INIT_ARRAYSZ   = 27
	DT_FINI_ARRAYSZ   = 28
	DT_RUNPATH        = 29
	DT_FLAGS          = 30
	DT_GNU_HASH       = 0x6ffffef5
	DT_VERSYM         = 0x6ffffff0
	DT_VERDEF         = 0x6ffffffc
	DT_VERDEFNUM      = 0x6ffffffd
	DT_VERNEED        = 0x6ffffffe
	DT_VERNEEDNUM     = 0x6fffffff
	DT_FLAGS_1        = 0x6ffffffb
)

// DynEntry is one Elf64_Dyn entry.
type DynEntry struct {
	Tag int64
	Val uint64
}

// Dynamic is the parsed .dynamic section: the tag/value pairs plus the
// tables they point at, already resolved to byte slices of the image.
type Dynamic struct {
	Entries []DynEntry
	byTag   map[int64][]uint64

	// FileOffsetOfDebug, if >=0, is the byte offset (within the data passed
	// to ParseDynamic) of the value half of the DT_DEBUG entry -- used to
	// patch in the address of our in-process r_debug structure once the
	// image is mapped, so external debuggers can walk the link map.
	FileOffsetOfDebug int64
}

// ParseDynamic reads the .dynamic section starting at byte offset
// dynOffset within data (already PT_DYNAMIC-relative, not yet
// base-relocated) until a DT_NULL terminator.
func ParseDynamic(data []byte, dynOffset uint64) (*Dynamic, error) {
	d := &Dynamic{byTag: make(map[int64][]uint64), FileOffsetOfDebug: -1}
	off := dynOffset
	for {
		if off+16 > uint64(len(data)) {
			return nil, errs.New(component, errs.Malformed, "dynamic section runs past end of image")
		}
		tag := int64(binary.LittleEndian.Uint64(data[off : off+8]))
		val := binary.LittleEndian.Uint64(data[off+8 : off+16])
		d.Entries = append(d.Entries, DynEntry{Tag: tag, Val: val})
		d.byTag[tag] = append(d.byTag[tag], val)
		if tag == DT_DEBUG {
			d.FileOffsetOfDebug = int64(off + 8)
		}
		if tag == DT_NULL {
			break
		}
		off += 16
	}
	return d, nil
}

// Value returns the first value for tag, if present.
func (d *Dynamic) Value(tag int64) (uint64, bool) {
	vs, ok := d.byTag[tag]
	if !ok || len(vs) == 0 {
		return 0, false
	}
	return vs[0], true
}

// Values returns every value recorded for tag (used for DT_NEEDED, which
// may repeat).
func (d *Dynamic) Values(tag int64) []uint64 {
	return d.byTag[tag]
}

// HasFlag reports whether the DT_FLAGS or DT_FLAGS_1 word (selected by
// flagsTag) has bit set.
func (d *Dynamic) HasFlag(flagsTag int64, bit uint64) bool {
	v, ok := d.Value(flagsTag)
	return ok && v&bit != 0
}
