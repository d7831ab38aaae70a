// Package linker is the dynamic linker orchestrator: it walks a DSO's
// DT_NEEDED graph depth-first, lays out the static TLS block, drives
// relocation object by object, runs init arrays in reverse load order
// (dependencies first) and an object's fini array when it is dlclosed,
// and maintains the debugger rendezvous structure (r_debug/link_map) so an
// attached debugger can enumerate loaded objects the same way it would for
// glibc or musl's ld.so.
package linker

import "sync"

// RTLDState mirrors the r_debug.state values a debugger polls to know
// whether a mapping change is in progress.
type RTLDState int32

const (
	RTConsistent RTLDState = iota
	RTAdd
	RTDelete
)

// LinkMapEntry is one node in the doubly linked link_map chain: the
// load bias, the object's name, and the address of its .dynamic section.
type LinkMapEntry struct {
	Addr uintptr
	Name string
	Ld   uintptr
	prev *LinkMapEntry
	next *LinkMapEntry
}

// RDebug is the process-wide rendezvous structure a debugger locates (via
// DT_DEBUG, patched in place by elf.MapAndCopy) to enumerate every loaded
// object and get notified of mapping changes.
type RDebug struct {
	mu      sync.Mutex
	Version int32
	Map     *LinkMapEntry
	State   RTLDState
	LdBase  uintptr
}

// Global is the single process-wide rendezvous instance; its address is
// what gets patched into every loaded object's DT_DEBUG entry.
var Global = &RDebug{Version: 1}

// BeginAdd marks the start of a mapping-change transaction (before any new
// object becomes visible) and notifies the debugger breakpoint.
func (d *RDebug) BeginAdd() {
	d.mu.Lock()
	d.State = RTAdd
	d.mu.Unlock()
	debugStateBreakpoint()
}

// BeginDelete marks the start of an unmap transaction.
func (d *RDebug) BeginDelete() {
	d.mu.Lock()
	d.State = RTDelete
	d.mu.Unlock()
	debugStateBreakpoint()
}

// Finish marks the mapping change complete.
func (d *RDebug) Finish() {
	d.mu.Lock()
	d.State = RTConsistent
	d.mu.Unlock()
	debugStateBreakpoint()
}

// Insert appends a new object to the tail of the link_map chain.
func (d *RDebug) Insert(addr uintptr, name string, ld uintptr) {
	d.mu.Lock()
	defer d.mu.Unlock()
	node := &LinkMapEntry{Addr: addr, Name: name, Ld: ld}
	if d.Map == nil {
		d.Map = node
		return
	}
	last := d.Map
	for last.next != nil {
		last = last.next
	}
	node.prev = last
	last.next = node
}

// InsertFirst inserts a new object at the head of the chain. The loader
// itself only calls Insert; the main executable ends up as link_map[0]
// because it is committed first.
func (d *RDebug) InsertFirst(addr uintptr, name string, ld uintptr) {
	d.mu.Lock()
	defer d.mu.Unlock()
	node := &LinkMapEntry{Addr: addr, Name: name, Ld: ld}
	if d.Map == nil {
		d.Map = node
		return
	}
	old := d.Map
	node.next = old
	old.prev = node
	d.Map = node
}

// Remove unlinks the entry for name from the chain, used by dlclose.
func (d *RDebug) Remove(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for n := d.Map; n != nil; n = n.next {
		if n.Name != name {
			continue
		}
		if n.prev != nil {
			n.prev.next = n.next
		} else {
			d.Map = n.next
		}
		if n.next != nil {
			n.next.prev = n.prev
		}
		return
	}
}

// debugStateBreakpoint is the Go analogue of _dl_debug_state: an
// intentionally empty function a debugger sets a breakpoint on to be
// notified of rendezvous state transitions. It must never be inlined away
// (hence the go:noinline pragma below); kept as
// a distinct symbol here for the same reason the reference implementation
// keeps it as a separate no-mangle extern "C" function.
//
//go:noinline
func debugStateBreakpoint() {}
