// Package symresolve implements symbol lookup the way a modern Linux
// dynamic linker does it: GNU-hash first (falling back to the legacy SysV
// hash table when a DSO was built without one), then symbol-version
// validation against .gnu.version_r/.gnu.version_d, then IFUNC resolution
// -- in that exact order, grounded on the reference find_symbol_linux_style
// integration.
package symresolve

import "github.com/xyproto/ldrt/elf"

// GnuHash computes the DT_GNU_HASH string hash (the "djb2-ish" hash every
// GNU-hash implementation uses).
func GnuHash(name string) uint32 {
	var h uint32 = 5381
	for i := 0; i < len(name); i++ {
		h = h*33 + uint32(name[i])
	}
	return h
}

// GnuHashTable is the parsed .gnu.hash section: the bucket/chain layout
// plus the bloom filter used to reject most non-matches in O(1).
type GnuHashTable struct {
	NBuckets   uint32
	SymOffset  uint32
	BloomSize  uint32
	BloomShift uint32
	Bloom      []uint64
	Buckets    []uint32
	Chain      []uint32 // indexed from SymOffset
}

// ParseGnuHash reads a .gnu.hash section from data starting at off.
func ParseGnuHash(data []byte, off uint64, nsyms uint32) (*GnuHashTable, error) {
	le := littleEndian{data}
	t := &GnuHashTable{
		NBuckets:   le.u32(off),
		SymOffset:  le.u32(off + 4),
		BloomSize:  le.u32(off + 8),
		BloomShift: le.u32(off + 12),
	}
	p := off + 16
	t.Bloom = make([]uint64, t.BloomSize)
	for i := range t.Bloom {
		t.Bloom[i] = le.u64(p)
		p += 8
	}
	t.Buckets = make([]uint32, t.NBuckets)
	for i := range t.Buckets {
		t.Buckets[i] = le.u32(p)
		p += 4
	}
	// The chain array runs from SymOffset to nsyms; we don't know where it
	// ends except by the symbol table size, mirroring how glibc relies on
	// nsyms rather than an explicit chain length field.
	chainLen := int(nsyms) - int(t.SymOffset)
	if chainLen < 0 {
		chainLen = 0
	}
	t.Chain = make([]uint32, chainLen)
	for i := range t.Chain {
		t.Chain[i] = le.u32(p)
		p += 4
	}
	return t, nil
}

// Lookup finds name in the dynamic symbol table using the GNU hash's
// bucket+bloom-filter+chain walk, returning the symbol table index or -1.
func (t *GnuHashTable) Lookup(name string, dynsym []elf.SymEnt, dynstr []byte) int {
	if t.NBuckets == 0 {
		return -1
	}
	h1 := GnuHash(name)
	wordBits := uint32(64)
	bloomWord := t.Bloom[(h1/wordBits)%t.BloomSize]
	h2 := h1 >> t.BloomShift
	mask := (uint64(1) << (h1 % wordBits)) | (uint64(1) << (h2 % wordBits))
	if bloomWord&mask != mask {
		return -1
	}

	idx := t.Buckets[h1%t.NBuckets]
	if idx < t.SymOffset {
		return -1
	}
	for {
		ci := idx - t.SymOffset
		if int(ci) >= len(t.Chain) {
			return -1
		}
		chainHash := t.Chain[ci]
		if (chainHash|1) == (h1|1) {
			if int(idx) < len(dynsym) {
				sym := dynsym[idx]
				if cstrEq(dynstr, sym.NameOff, name) {
					return int(idx)
				}
			}
		}
		if chainHash&1 != 0 {
			return -1 // last entry in chain
		}
		idx++
	}
}

func cstrEq(table []byte, off uint32, want string) bool {
	if uint64(off) >= uint64(len(table)) {
		return false
	}
	rest := table[off:]
	for i := 0; i < len(want); i++ {
		if i >= len(rest) || rest[i] != want[i] {
			return false
		}
	}
	return len(rest) > len(want) && rest[len(want)] == 0
}

type littleEndian struct{ d []byte }

func (l littleEndian) u32(off uint64) uint32 {
	return uint32(l.d[off]) | uint32(l.d[off+1])<<8 | uint32(l.d[off+2])<<16 | uint32(l.d[off+3])<<24
}

func (l littleEndian) u64(off uint64) uint64 {
	lo := uint64(l.u32(off))
	hi := uint64(l.u32(off + 4))
	return lo | hi<<32
}
