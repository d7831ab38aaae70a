package symresolve

import "github.com/xyproto/ldrt/elf"

// SysVHashTable is the legacy DT_HASH table: nbucket/nchain followed by the
// bucket and chain arrays (one uint32 per symbol).
type SysVHashTable struct {
	NBucket uint32
	NChain  uint32
	Buckets []uint32
	Chain   []uint32
}

// ElfHash is the classic "PJW hash" SysV string hash function.
func ElfHash(name string) uint32 {
	var h, g uint32
	for i := 0; i < len(name); i++ {
		h = (h << 4) + uint32(name[i])
		g = h & 0xf0000000
		if g != 0 {
			h ^= g >> 24
		}
		h &^= g
	}
	return h
}

// ParseSysVHash reads a DT_HASH section from data starting at off.
func ParseSysVHash(data []byte, off uint64) *SysVHashTable {
	le := littleEndian{data}
	t := &SysVHashTable{NBucket: le.u32(off), NChain: le.u32(off + 4)}
	p := off + 8
	t.Buckets = make([]uint32, t.NBucket)
	for i := range t.Buckets {
		t.Buckets[i] = le.u32(p)
		p += 4
	}
	t.Chain = make([]uint32, t.NChain)
	for i := range t.Chain {
		t.Chain[i] = le.u32(p)
		p += 4
	}
	return t
}

// Lookup walks the bucket's hash chain looking for name, returning the
// symbol table index or -1.
func (t *SysVHashTable) Lookup(name string, dynsym []elf.SymEnt, dynstr []byte) int {
	if t.NBucket == 0 {
		return -1
	}
	h := ElfHash(name)
	idx := t.Buckets[h%t.NBucket]
	for idx != 0 {
		if int(idx) < len(dynsym) && cstrEq(dynstr, dynsym[idx].NameOff, name) {
			return int(idx)
		}
		if int(idx) >= len(t.Chain) {
			break
		}
		idx = t.Chain[idx]
	}
	return -1
}
