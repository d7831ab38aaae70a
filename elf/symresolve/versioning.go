package symresolve

import "encoding/binary"

// VersionReq is a DT_VERNEED-derived requirement: the library and version
// name a relocation's symbol must resolve against (e.g. "GLIBC_2.14").
type VersionReq struct {
	Filename string
	Version  string
	Hash     uint32
	Hidden   bool
}

// VersionData wraps .gnu.version (Versym), .gnu.version_d (Verdef chain)
// and the string table needed to check a candidate symbol against a
// VersionReq.
type VersionData struct {
	Versym     []uint16 // one per dynsym entry
	VerdefData []byte   // raw Verdef chain bytes
	VerdefOff  uint64   // offset of the chain within VerdefData's source image
	VerdefNum  int
	Strtab     []byte
}

const versionHiddenBit = 0x8000
const versionIdxMask = 0x7fff

// Check reports whether the symbol at dynsym index idx satisfies req (or,
// if req is nil, whether it's a plain global/default-version definition).
func (v *VersionData) Check(idx int, req *VersionReq) bool {
	if len(v.Versym) == 0 {
		return true
	}
	if idx < 0 || idx >= len(v.Versym) {
		return true
	}
	verIdx := v.Versym[idx]
	hidden := verIdx&versionHiddenBit != 0
	vi := verIdx & versionIdxMask

	if vi <= 1 {
		return true // 0 = local, 1 = global/base, no specific version needed
	}

	if req != nil {
		name, ok := v.defName(vi)
		return ok && name == req.Version
	}
	return !hidden
}

// defName walks the Verdef chain looking for the definition whose vd_ndx
// matches ndx, returning its first aux (version) name.
func (v *VersionData) defName(ndx uint16) (string, bool) {
	if len(v.VerdefData) == 0 {
		return "", false
	}
	ptr := uint64(0)
	for i := 0; i < v.VerdefNum; i++ {
		if ptr+20 > uint64(len(v.VerdefData)) {
			break
		}
		vdNdx := binary.LittleEndian.Uint16(v.VerdefData[ptr+4 : ptr+6])
		vdAux := binary.LittleEndian.Uint32(v.VerdefData[ptr+12 : ptr+16])
		vdNext := binary.LittleEndian.Uint32(v.VerdefData[ptr+16 : ptr+20])
		if vdNdx&versionIdxMask == ndx {
			auxOff := ptr + uint64(vdAux)
			if auxOff+4 > uint64(len(v.VerdefData)) {
				return "", false
			}
			nameOff := binary.LittleEndian.Uint32(v.VerdefData[auxOff : auxOff+4])
			return cstr(v.Strtab, nameOff), true
		}
		if vdNext == 0 {
			break
		}
		ptr += uint64(vdNext)
	}
	return "", false
}

func cstr(table []byte, off uint32) string {
	if uint64(off) >= uint64(len(table)) {
		return ""
	}
	end := off
	for end < uint32(len(table)) && table[end] != 0 {
		end++
	}
	return string(table[off:end])
}
