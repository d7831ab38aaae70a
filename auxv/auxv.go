// Package auxv encodes and decodes the ELF auxiliary vector the kernel
// hands a freshly exec'd process: the array of (type, value) pairs
// terminated by AT_NULL that tells the dynamic linker where its own
// program headers are, the page size, the hardware capability bits, and
// more. package spawn's BuildAuxv builds one of these; nothing in this
// module reads one back off an initial stack.
package auxv

import "github.com/xyproto/ldrt/internal/errs"

const component = "auxv"

// Auxiliary vector type values this runtime consults, matching the Linux
// AT_* constants.
const (
	AT_NULL         = 0
	AT_IGNORE       = 1
	AT_EXECFD       = 2
	AT_PHDR         = 3
	AT_PHENT        = 4
	AT_PHNUM        = 5
	AT_PAGESZ       = 6
	AT_BASE         = 7
	AT_FLAGS        = 8
	AT_ENTRY        = 9
	AT_NOTELF       = 10
	AT_UID          = 11
	AT_EUID         = 12
	AT_GID          = 13
	AT_EGID         = 14
	AT_PLATFORM     = 15
	AT_HWCAP        = 16
	AT_CLKTCK       = 17
	AT_SECURE       = 23
	AT_RANDOM       = 25
	AT_EXECFN       = 31
	AT_SYSINFO_EHDR = 33
)

// Entry is one (a_type, a_val) pair.
type Entry struct {
	Type  uint64
	Value uint64
}

// Vector is the decoded auxiliary vector, indexed by AT_* type for O(1)
// lookup plus the original ordered Entries for re-encoding.
type Vector struct {
	Entries []Entry
	byType  map[uint64]uint64
}

// Get returns the value recorded for typ, if present.
func (v *Vector) Get(typ uint64) (uint64, bool) {
	val, ok := v.byType[typ]
	return val, ok
}

// Set records or overwrites the value for typ, preserving insertion order
// for new types and updating in place for existing ones.
func (v *Vector) Set(typ, val uint64) {
	if v.byType == nil {
		v.byType = make(map[uint64]uint64)
	}
	if _, exists := v.byType[typ]; exists {
		for i := range v.Entries {
			if v.Entries[i].Type == typ {
				v.Entries[i].Value = val
				break
			}
		}
	} else {
		v.Entries = append(v.Entries, Entry{Type: typ, Value: val})
	}
	v.byType[typ] = val
}

// New returns an empty Vector ready for Set calls, used by package spawn
// to build the auxv for a freshly exec'd program.
func New() *Vector {
	return &Vector{byType: make(map[uint64]uint64)}
}

// Decode reads a little-endian, AT_NULL-terminated array of (type, value)
// uint64 pairs starting at data, the layout the kernel places just past
// envp's NULL terminator on the initial process stack.
func Decode(data []uint64) (*Vector, error) {
	v := New()
	if len(data)%2 != 0 {
		return nil, errs.New(component, errs.Malformed, "auxv has an odd element count")
	}
	for i := 0; i < len(data); i += 2 {
		typ, val := data[i], data[i+1]
		if typ == AT_NULL {
			return v, nil
		}
		v.Set(typ, val)
	}
	return nil, errs.New(component, errs.Malformed, "auxv missing AT_NULL terminator")
}

// Encode serializes v back into a flat (type, value)... AT_NULL array
// suitable for writing onto a new process's initial stack.
func (v *Vector) Encode() []uint64 {
	out := make([]uint64, 0, len(v.Entries)*2+2)
	for _, e := range v.Entries {
		out = append(out, e.Type, e.Value)
	}
	return append(out, AT_NULL, 0)
}
