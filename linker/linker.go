package linker

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unsafe"

	"github.com/xyproto/ldrt/elf"
	"github.com/xyproto/ldrt/elf/symresolve"
	"github.com/xyproto/ldrt/internal/engine"
	"github.com/xyproto/ldrt/internal/errs"
	"github.com/xyproto/ldrt/reloc"
	"github.com/xyproto/ldrt/tls"
)

const component = "linker"
const rootID = 1

// Symbol is what Linker.Sym returns to a dlsym-style caller: a fully
// resolved address plus enough metadata to know whether it needs the
// __tls_get_addr indirection instead of being used directly.
type Symbol struct {
	Addr    uintptr
	Size    uint64
	SymType byte
}

// object bundles a parsed elf.Image with its loaded elf.DSO state, the raw
// file bytes, and whatever the GNU-hash/SysV-hash/versioning resolver (C6)
// was able to parse out of its dynamic section.
type object struct {
	img  *elf.Image
	dso  *elf.DSO
	data []byte

	dynsym   []elf.SymEnt
	dynstr   []byte
	gnuHash  *symresolve.GnuHashTable
	sysvHash *symresolve.SysVHashTable
	verData  *symresolve.VersionData

	tlsSize  uint64
	tlsAlign uint64
}

// resolveSymbol looks name up in o, preferring the GNU-hash/SysV-hash path
// (which also runs the version check and IFUNC dispatch) when o carries a
// hash section, and falling back to the plain CollectSyms map otherwise.
func (o *object) resolveSymbol(name string) (symresolve.Result, bool) {
	if o.gnuHash != nil || o.sysvHash != nil {
		return symresolve.Find(name, nil, o.dynsym, o.dynstr, o.gnuHash, o.sysvHash, o.verData, o.dso.Base, ifuncResolve)
	}
	rs, strong, ok := o.dso.GetSym(name)
	if !ok {
		return symresolve.Result{}, false
	}
	return symresolve.Result{Value: rs.Addr, Size: rs.Size, SymType: rs.Type, Weak: !strong}, true
}

func ifuncResolve(addr uintptr) uintptr {
	return elf.CallIFuncResolver(addr)
}

// masterData returns the PT_TLS segment's file-backed initial image bytes
// (.tdata; the .tbss tail beyond it is left zeroed by the fresh TLS mmap).
func (o *object) masterData() []byte {
	for _, ph := range o.img.Phdrs {
		if ph.Type == elf.PT_TLS {
			end := ph.Offset + ph.Filesz
			if end > uint64(len(o.img.Data)) {
				end = uint64(len(o.img.Data))
			}
			if ph.Offset >= end {
				return nil
			}
			return o.img.Data[ph.Offset:end]
		}
	}
	return nil
}

// Linker is the process-wide dynamic linker state: every loaded object
// indexed by id and by name, the order they were committed in (the fixed
// search order relocation symbol resolution uses), the static TLS layout
// accumulated so far, and the search path configuration.
type Linker struct {
	Arch engine.Arch

	ldLibraryPath []string

	nextObjectID    int
	nextTLSModuleID int

	objects   map[int]*object
	nameToID  map[string]int
	loadOrder []int

	tcb           *tls.TCB
	staticTLSUsed uintptr
	staticTLSCap  uintptr
	dynTLS        map[uintptr][]byte
}

// New constructs a Linker targeting arch, consulting ldLibraryPath (already
// split on ':') before falling back to /lib.
func New(arch engine.Arch, ldLibraryPath []string) *Linker {
	return &Linker{
		Arch:            arch,
		ldLibraryPath:   ldLibraryPath,
		nextObjectID:    rootID,
		nextTLSModuleID: 1,
		objects:         make(map[int]*object),
		nameToID:        make(map[string]int),
	}
}

// LoadProgram loads path as the root executable (object id 1) plus its full
// DT_NEEDED dependency graph, and returns its entry point address.
func (l *Linker) LoadProgram(path string) (uintptr, error) {
	if err := l.loadObject(path, nil, 0, false); err != nil {
		return 0, err
	}
	root, ok := l.objects[rootID]
	if !ok {
		return 0, errs.New(component, errs.Malformed, "root object failed to register")
	}
	return root.dso.EntryPoint, nil
}

// Dlopen loads name (and any not-yet-loaded dependencies) as a dynamically
// opened object, bumping its use count if it is already resident.
func (l *Linker) Dlopen(name string) (int, error) {
	if id, ok := l.nameToID[name]; ok {
		l.objects[id].dso.UseCount++
		return id, nil
	}
	var runpath []string
	if root, ok := l.objects[rootID]; ok {
		runpath = root.dso.Runpath
	}
	id := l.nextObjectID
	if err := l.loadObject(name, runpath, 0, true); err != nil {
		return 0, err
	}
	return id, nil
}

// Dlclose decrements lib's use count, unloading it and its dependencies
// once nothing else references it.
func (l *Linker) Dlclose(id int) {
	obj, ok := l.objects[id]
	if !ok || !obj.dso.Dlopened {
		return
	}
	if obj.dso.UseCount > 1 {
		obj.dso.UseCount--
		return
	}

	Global.BeginDelete()
	elf.RunFini(obj.dso.FiniArray)
	delete(l.objects, id)
	delete(l.nameToID, obj.dso.Name)
	Global.Remove(obj.dso.Name)
	for _, dep := range obj.dso.Dependencies {
		if depID, ok := l.nameToID[dep]; ok {
			l.Dlclose(depID)
		}
	}
	Global.Finish()
}

// Sym resolves name within the object identified by id. The returned
// address is the symbol's resolved value as is: no STT_TLS indirection is
// applied, and SymType tells the caller when it needs one.
func (l *Linker) Sym(id int, name string) (Symbol, bool) {
	obj, ok := l.objects[id]
	if !ok {
		return Symbol{}, false
	}
	res, found := obj.resolveSymbol(name)
	if !found {
		return Symbol{}, false
	}
	return Symbol{Addr: res.Value, Size: res.Size, SymType: res.SymType}, true
}

// TLSGetAddr resolves (module, offset) the way __tls_get_addr does for a
// module reached through this linker: a static offset into the resident
// TCB if the module fit in the process's reserved TLS surplus at dlopen
// time (or was present at process start), otherwise the heap-backed
// dynamic TLS block allocated for it once that surplus ran out.
func (l *Linker) TLSGetAddr(moduleID uintptr, offset uintptr) (uintptr, error) {
	if block, ok := l.dynTLS[moduleID]; ok {
		if offset > uintptr(len(block)) {
			return 0, errs.New(component, errs.Malformed, "tls offset %d out of range for module %d", offset, moduleID)
		}
		if len(block) == 0 {
			return 0, errs.New(component, errs.Malformed, "tls module %d has no dynamic storage", moduleID)
		}
		return uintptr(unsafe.Pointer(&block[0])) + offset, nil
	}
	for _, o := range l.objects {
		if o.dso.TLSModuleID == moduleID {
			if l.tcb == nil {
				return 0, errs.New(component, errs.Malformed, "no tcb active for tls module %d", moduleID)
			}
			return l.tcb.TLSBase(l.Arch) + o.dso.TLSOffset + offset, nil
		}
	}
	return 0, errs.New(component, errs.SymbolNotFound, "unknown tls module %d", moduleID)
}

func (l *Linker) loadObject(path string, runpath []string, baseAddr uintptr, dlopened bool) error {
	Global.BeginAdd()
	defer Global.Finish()

	var newObjects []*object
	if err := l.loadRecursive(path, runpath, baseAddr, dlopened, &newObjects); err != nil {
		return err
	}

	if err := l.allocateTLS(newObjects); err != nil {
		return err
	}

	if err := l.relocateAll(newObjects); err != nil {
		return err
	}

	// Reverse load order, so dependencies run their constructors before the
	// objects that need them.
	for i := len(newObjects) - 1; i >= 0; i-- {
		elf.RunInit(newObjects[i].dso.InitArray)
	}

	for _, obj := range newObjects {
		l.objects[obj.dso.ID] = obj
		l.nameToID[obj.dso.Name] = obj.dso.ID
		l.loadOrder = append(l.loadOrder, obj.dso.ID)
		Global.Insert(obj.dso.Base, obj.dso.Path, dynAddr(obj))
	}

	return nil
}

func dynAddr(obj *object) uintptr {
	for _, ph := range obj.img.Phdrs {
		if ph.Type == elf.PT_DYNAMIC {
			if obj.dso.Base != 0 {
				return obj.dso.Base + uintptr(ph.VAddr)
			}
			return uintptr(ph.VAddr)
		}
	}
	return 0
}

// loadRecursive is a depth-first, pre-order walk over DT_NEEDED (not a
// breadth-first one): each dependency is pushed onto newObjects before its
// own dependencies are visited, the reference loader's load_objects_recursive order
// (post-order isn't required here; relocateAll walks newObjects in reverse
// so leaves relocate before the objects that depend on them, and the same
// root-first order doubles as the fixed symbol search order).
func (l *Linker) loadRecursive(name string, parentRunpath []string, baseAddr uintptr, dlopened bool, newObjects *[]*object) error {
	if id, ok := l.nameToID[name]; ok {
		l.objects[id].dso.UseCount++
		return nil
	}
	for _, o := range *newObjects {
		if o.dso.Name == name {
			o.dso.UseCount++
			return nil
		}
	}

	path, err := l.searchObject(name, parentRunpath)
	if err != nil {
		return err
	}
	img, err := elf.Load(path)
	if err != nil {
		return err
	}

	// Global is process-wide; its address is stable for the lifetime of
	// the process so DT_DEBUG can be patched to point straight at it.
	debugAddr := globalAddr()

	mem, _, err := elf.MapAndCopy(img, baseAddr, 0, debugAddr)
	if err != nil {
		return err
	}

	obj := &object{img: img, data: img.Data}
	if err := l.buildDSO(obj, path, img, mem); err != nil {
		return err
	}
	obj.dso.Dlopened = dlopened

	*newObjects = append(*newObjects, obj)
	l.nextObjectID++

	for _, dep := range obj.dso.Dependencies {
		if err := l.loadRecursive(dep, obj.dso.Runpath, 0, dlopened, newObjects); err != nil {
			return err
		}
	}

	return nil
}

func (l *Linker) buildDSO(obj *object, path string, img *elf.Image, mem []byte) error {
	pie := img.IsPIE()
	base := uintptr(0)
	if pie && len(mem) > 0 {
		base = memBase(mem)
	}

	var dyn *elf.Dynamic
	for _, ph := range img.Phdrs {
		if ph.Type == elf.PT_DYNAMIC {
			d, err := elf.ParseDynamic(img.Data, ph.Offset)
			if err != nil {
				return err
			}
			dyn = d
		}
	}
	if dyn == nil {
		return errs.New(component, errs.Malformed, "%s: no PT_DYNAMIC segment", path)
	}

	name := elf.Basename(path)
	deps := neededNames(img, dyn)

	runpathRaw := ""
	if off, ok := dyn.Value(elf.DT_RUNPATH); ok {
		runpathRaw = dynstrAt(img, dyn, off)
	} else if off, ok := dyn.Value(elf.DT_RPATH); ok {
		runpathRaw = dynstrAt(img, dyn, off)
	}

	entry := uintptr(img.Header.Entry)
	if pie {
		entry = base + uintptr(img.Header.Entry)
	}

	dso := &elf.DSO{
		Name:         name,
		Path:         path,
		ID:           l.nextObjectID,
		Base:         base,
		Mem:          mem,
		Dyn:          dyn,
		Dependencies: deps,
		Runpath:      elf.GetRunpath(path, runpathRaw),
		EntryPoint:   entry,
		UseCount:     1,
	}
	obj.dso = dso

	if dynsym, dynstr, ok := dynsymTable(img.Data, dyn); ok {
		dso.GlobalSyms, dso.WeakSyms = elf.CollectSyms(dynsym, dynstr, base, pie)
		obj.dynsym = dynsym
		obj.dynstr = dynstr
		obj.gnuHash = parseGnuHash(img.Data, dyn, uint32(len(dynsym)))
		if obj.gnuHash == nil {
			obj.sysvHash = parseSysVHash(img.Data, dyn)
		}
		obj.verData = parseVersionData(img.Data, dyn, dynstr, len(dynsym))
	}

	if addr, ok := dyn.Value(elf.DT_INIT_ARRAY); ok {
		sz, _ := dyn.Value(elf.DT_INIT_ARRAYSZ)
		dso.InitArray = [2]uintptr{base + uintptr(addr), uintptr(sz)}
	}
	if addr, ok := dyn.Value(elf.DT_FINI_ARRAY); ok {
		sz, _ := dyn.Value(elf.DT_FINI_ARRAYSZ)
		dso.FiniArray = [2]uintptr{base + uintptr(addr), uintptr(sz)}
	}

	return nil
}

func parseGnuHash(data []byte, dyn *elf.Dynamic, nsyms uint32) *symresolve.GnuHashTable {
	off, ok := dyn.Value(elf.DT_GNU_HASH)
	if !ok {
		return nil
	}
	t, err := symresolve.ParseGnuHash(data, off, nsyms)
	if err != nil {
		return nil
	}
	return t
}

func parseSysVHash(data []byte, dyn *elf.Dynamic) *symresolve.SysVHashTable {
	off, ok := dyn.Value(elf.DT_HASH)
	if !ok {
		return nil
	}
	return symresolve.ParseSysVHash(data, off)
}

func parseVersionData(data []byte, dyn *elf.Dynamic, dynstr []byte, nsyms int) *symresolve.VersionData {
	versymOff, ok := dyn.Value(elf.DT_VERSYM)
	if !ok {
		return nil
	}
	versym := make([]uint16, 0, nsyms)
	for i := 0; i < nsyms; i++ {
		o := versymOff + uint64(i*2)
		if o+2 > uint64(len(data)) {
			break
		}
		versym = append(versym, uint16(data[o])|uint16(data[o+1])<<8)
	}
	v := &symresolve.VersionData{Versym: versym, Strtab: dynstr}
	if verdefOff, ok := dyn.Value(elf.DT_VERDEF); ok && verdefOff < uint64(len(data)) {
		num, _ := dyn.Value(elf.DT_VERDEFNUM)
		v.VerdefData = data[verdefOff:]
		v.VerdefNum = int(num)
	}
	return v
}

// dynsymTable reads the full .dynsym array and its paired string table out
// of data. The symbol count isn't recorded anywhere a minimal loader reads
// by default (no section headers), so it's derived from DT_HASH's nchain
// when present (exact, per the SysV ABI), falling back to the byte gap
// between DT_SYMTAB and DT_STRTAB when only DT_GNU_HASH is present.
func dynsymTable(data []byte, dyn *elf.Dynamic) ([]elf.SymEnt, []byte, bool) {
	symtabOff, ok := dyn.Value(elf.DT_SYMTAB)
	if !ok {
		return nil, nil, false
	}
	strtabOff, ok := dyn.Value(elf.DT_STRTAB)
	if !ok {
		return nil, nil, false
	}

	var count uint64
	if hashOff, ok := dyn.Value(elf.DT_HASH); ok && hashOff+8 <= uint64(len(data)) {
		count = leU32(data, hashOff+4)
	} else if strtabOff > symtabOff {
		count = (strtabOff - symtabOff) / 24
	}
	if count == 0 {
		return nil, nil, false
	}

	syms := make([]elf.SymEnt, 0, count)
	for i := uint64(0); i < count; i++ {
		off := symtabOff + i*24
		if off+24 > uint64(len(data)) {
			break
		}
		syms = append(syms, elf.SymEnt{
			NameOff: uint32(leU32(data, off)),
			Info:    data[off+4],
			Other:   data[off+5],
			Shndx:   uint16(data[off+6]) | uint16(data[off+7])<<8,
			Value:   leU64(data, off+8),
			Size:    leU64(data, off+16),
		})
	}

	strtabEnd := uint64(len(data))
	dynstr := data[strtabOff:strtabEnd]
	return syms, dynstr, true
}

func leU32(b []byte, off uint64) uint64 {
	return uint64(b[off]) | uint64(b[off+1])<<8 | uint64(b[off+2])<<16 | uint64(b[off+3])<<24
}

func neededNames(img *elf.Image, dyn *elf.Dynamic) []string {
	var names []string
	for _, off := range dyn.Values(elf.DT_NEEDED) {
		names = append(names, dynstrAt(img, dyn, off))
	}
	return names
}

func dynstrAt(img *elf.Image, dyn *elf.Dynamic, off uint64) string {
	strtabAddr, ok := dyn.Value(elf.DT_STRTAB)
	if !ok {
		return ""
	}
	base := strtabAddr
	fileOff := base + off
	if fileOff >= uint64(len(img.Data)) {
		return ""
	}
	end := fileOff
	for end < uint64(len(img.Data)) && img.Data[end] != 0 {
		end++
	}
	return string(img.Data[fileOff:end])
}

func (l *Linker) searchObject(name string, parentRunpath []string) (string, error) {
	if filepath.IsAbs(name) || strings.Contains(name, "/") {
		if accessible(name) {
			return name, nil
		}
	}
	var search []string
	search = append(search, parentRunpath...)
	search = append(search, l.ldLibraryPath...)
	search = append(search, "/lib", "/usr/lib")
	for _, dir := range search {
		candidate := filepath.Join(dir, name)
		if accessible(candidate) {
			return candidate, nil
		}
	}
	return "", errs.New(component, errs.SymbolNotFound, "failed to locate %q", name)
}

func accessible(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// tlsSegment scans img's program headers for PT_TLS, returning its static
// memory size and alignment if present.
func tlsSegment(img *elf.Image) (size uint64, align uint64, ok bool) {
	for _, ph := range img.Phdrs {
		if ph.Type == elf.PT_TLS {
			a := ph.Align
			if a == 0 {
				a = 1
			}
			return ph.Memsz, a, true
		}
	}
	return 0, 0, false
}

// allocateTLS assigns static offsets for every TLS-bearing object in
// newObjects, laying out a fresh static TLS block the first time any
// TLS-bearing object is loaded, and for every load after that trying to
// carve the newcomer's module out of the surplus already reserved in the
// resident TCB (try_allocate_static_tls) -- falling back to a heap-backed
// dynamic TLS block once that surplus is exhausted.
func (l *Linker) allocateTLS(newObjects []*object) error {
	var tlsObjs []*object
	for _, obj := range newObjects {
		if size, align, ok := tlsSegment(obj.img); ok {
			obj.tlsSize, obj.tlsAlign = size, align
			tlsObjs = append(tlsObjs, obj)
		}
	}
	if len(tlsObjs) == 0 {
		return nil
	}

	if l.tcb == nil {
		return l.initStaticTLS(tlsObjs)
	}
	for _, obj := range tlsObjs {
		l.allocateDynamicTLS(obj)
	}
	return nil
}

// initStaticTLS lays out every TLS-bearing object discovered so far (the
// common case: the root executable and its DT_NEEDED graph at process
// start) and activates the resulting TCB for the calling thread.
func (l *Linker) initStaticTLS(tlsObjs []*object) error {
	sizes := make([]uintptr, len(tlsObjs))
	aligns := make([]uintptr, len(tlsObjs))
	for i, obj := range tlsObjs {
		sizes[i] = uintptr(obj.tlsSize)
		aligns[i] = uintptr(obj.tlsAlign)
	}

	total, offsets := tls.LayoutStaticTLS(sizes, aligns)
	tcb, err := tls.New(total)
	if err != nil {
		return err
	}

	for i, obj := range tlsObjs {
		obj.dso.TLSModuleID = uintptr(i + 1)
		obj.dso.TLSOffset = offsets[i]
		tcb.Masters = append(tcb.Masters, tls.Master{Data: obj.masterData(), Offset: offsets[i]})
	}
	if err := tcb.CopyMasters(); err != nil {
		return err
	}
	if err := tcb.Activate(l.Arch); err != nil {
		return err
	}

	l.tcb = tcb
	// StaticTLSSize fed into reloc.Apply must be the exact same total as
	// tcb.TLSLen -- CopyMasters already copies relative to that total, so
	// diverging here would put the TPOFF-computed address and the actual
	// copy-in location at different offsets from the thread pointer.
	l.staticTLSCap = total
	if n := len(offsets); n > 0 {
		l.staticTLSUsed = offsets[n-1] + sizes[n-1]
	}
	l.nextTLSModuleID = len(tlsObjs) + 1
	return nil
}

func (l *Linker) allocateDynamicTLS(obj *object) {
	align := uintptr(obj.tlsAlign)
	if align == 0 {
		align = 1
	}
	offset := roundUpUintptr(l.staticTLSUsed, align)
	end := offset + uintptr(obj.tlsSize)

	obj.dso.TLSModuleID = uintptr(l.nextTLSModuleID)
	l.nextTLSModuleID++

	if end <= l.staticTLSCap {
		obj.dso.TLSOffset = offset
		l.staticTLSUsed = end
		l.tcb.Masters = append(l.tcb.Masters, tls.Master{Data: obj.masterData(), Offset: offset})
		_ = l.tcb.CopyMasters()
		return
	}

	// Surplus exhausted: fall back to dynamic TLS, a heap block addressed
	// through TLSGetAddr instead of a fixed thread-pointer offset.
	if l.dynTLS == nil {
		l.dynTLS = make(map[uintptr][]byte)
	}
	block := make([]byte, obj.tlsSize)
	copy(block, obj.masterData())
	l.dynTLS[obj.dso.TLSModuleID] = block
}

func roundUpUintptr(v, align uintptr) uintptr {
	if align == 0 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}

// searchOrder returns every object the symbol resolution scope for this
// transaction covers, in a fixed order: already-resident objects in the
// order they were originally committed, then the objects being loaded now
// (root first, then its dependencies, matching loadRecursive's walk).
// This is what makes shadowing and COPY-skip-the-executable deterministic.
func (l *Linker) searchOrder(newObjects []*object) []*object {
	order := make([]*object, 0, len(l.loadOrder)+len(newObjects))
	for _, id := range l.loadOrder {
		if o, ok := l.objects[id]; ok {
			order = append(order, o)
		}
	}
	order = append(order, newObjects...)
	return order
}

func (l *Linker) relocateAll(newObjects []*object) error {
	order := l.searchOrder(newObjects)
	for i := len(newObjects) - 1; i >= 0; i-- {
		obj := newObjects[i]
		if err := l.relocateObject(obj, order); err != nil {
			return fmt.Errorf("relocate %s: %w", obj.dso.Name, err)
		}
	}
	return nil
}

func (l *Linker) relocateObject(obj *object, order []*object) error {
	relaOff, hasRela := obj.dso.Dyn.Value(elf.DT_RELA)
	relaSz, _ := obj.dso.Dyn.Value(elf.DT_RELASZ)
	jmpOff, hasJmp := obj.dso.Dyn.Value(elf.DT_JMPREL)
	jmpSz, _ := obj.dso.Dyn.Value(elf.DT_PLTRELSZ)
	_, hasSym := obj.dso.Dyn.Value(elf.DT_SYMTAB)
	_, hasStr := obj.dso.Dyn.Value(elf.DT_STRTAB)

	if (!hasRela && !hasJmp) || !hasSym || !hasStr {
		return nil // nothing to relocate
	}

	// DT_RELA entries first, then the DT_JMPREL (PLT) entries, all bound eagerly.
	relaCount, jmpCount := 0, 0
	if hasRela {
		relaCount = int(relaSz) / 24
	}
	if hasJmp {
		jmpCount = int(jmpSz) / 24
	}
	for i := 0; i < relaCount+jmpCount; i++ {
		off := relaOff + uint64(i*24)
		if i >= relaCount {
			off = jmpOff + uint64((i-relaCount)*24)
		}
		if off+24 > uint64(len(obj.img.Data)) {
			break
		}
		rOffset := leU64(obj.img.Data, off)
		rInfo := leU64(obj.img.Data, off+8)
		rAddend := leU64(obj.img.Data, off+16)

		symIdx := uint32(rInfo >> 32)
		rType := uint32(rInfo)

		symVal, err := l.resolveRelocSymbol(order, obj, symIdx, rType)
		if err != nil {
			return err
		}

		relocAddr := obj.dso.Base + uintptr(rOffset)

		p := reloc.Params{
			Type:          rType,
			SymVal:        symVal,
			Addend:        uintptr(rAddend),
			HasAddend:     true,
			RelocAddr:     relocAddr,
			BaseAddr:      obj.dso.Base,
			TLSModuleID:   obj.dso.TLSModuleID,
			TLSOffset:     obj.dso.TLSOffset,
			StaticTLSSize: l.staticTLSCap,
		}
		if _, err := reloc.Apply(l.Arch, p); err != nil {
			return err
		}
	}
	return nil
}

// resolveRelocSymbol resolves the symbol a relocation entry references
// against order -- every currently loaded object plus the objects being
// loaded in this transaction, in fixed (main-first, load-order) sequence.
// The first strong definition found wins (first-loaded shadowing); a weak
// definition is remembered as a fallback in case nothing stronger turns up
// later. A COPY relocation skips index 0 (the executable itself never
// holds the real definition a COPY relocation needs to find).
func (l *Linker) resolveRelocSymbol(order []*object, obj *object, symIdx uint32, rType uint32) (uintptr, error) {
	if symIdx == 0 {
		return 0, nil
	}
	name := symNameAt(obj.img.Data, obj.dso.Dyn, symIdx)
	if name == "" {
		return 0, nil
	}

	start := 0
	if reloc.IsCopyType(l.Arch, rType) {
		start = 1
	}

	var weakAddr uintptr
	haveWeak := false
	for i := start; i < len(order); i++ {
		res, ok := order[i].resolveSymbol(name)
		if !ok {
			continue
		}
		if !res.Weak {
			return res.Value, nil
		}
		if !haveWeak {
			weakAddr, haveWeak = res.Value, true
		}
	}
	if haveWeak {
		return weakAddr, nil
	}
	return 0, errs.New(component, errs.SymbolNotFound, "undefined symbol %q referenced by %s", name, obj.dso.Name)
}

func symNameAt(data []byte, dyn *elf.Dynamic, idx uint32) string {
	symtabOff, ok := dyn.Value(elf.DT_SYMTAB)
	if !ok {
		return ""
	}
	strtabOff, ok := dyn.Value(elf.DT_STRTAB)
	if !ok {
		return ""
	}
	const symEntSize = 24
	off := symtabOff + uint64(idx)*symEntSize
	if off+symEntSize > uint64(len(data)) {
		return ""
	}
	nameOff := uint32(leU64(data, off) & 0xffffffff)
	strOff := strtabOff + uint64(nameOff)
	if strOff >= uint64(len(data)) {
		return ""
	}
	end := strOff
	for end < uint64(len(data)) && data[end] != 0 {
		end++
	}
	return string(data[strOff:end])
}

func leU64(b []byte, off uint64) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[off+uint64(i)]) << (8 * i)
	}
	return v
}

func memBase(mem []byte) uintptr {
	if len(mem) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&mem[0]))
}

// globalAddr is the address DT_DEBUG gets patched to: a debugger reads it
// to find Global and walk the link_map chain, the same way it locates
// glibc's or musl's _r_debug.
func globalAddr() uintptr {
	return uintptr(unsafe.Pointer(Global))
}
