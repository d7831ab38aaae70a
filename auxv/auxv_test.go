package auxv

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	v := New()
	v.Set(AT_PHDR, 0x400040)
	v.Set(AT_PHENT, 56)
	v.Set(AT_PHNUM, 9)
	v.Set(AT_PAGESZ, 4096)
	v.Set(AT_ENTRY, 0x401000)

	encoded := v.Encode()

	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	for _, typ := range []uint64{AT_PHDR, AT_PHENT, AT_PHNUM, AT_PAGESZ, AT_ENTRY} {
		want, _ := v.Get(typ)
		got, ok := decoded.Get(typ)
		if !ok {
			t.Fatalf("decoded vector missing AT type %d", typ)
		}
		if got != want {
			t.Errorf("AT type %d = %d, want %d", typ, got, want)
		}
	}
}

func TestDecodeRequiresNullTerminator(t *testing.T) {
	data := []uint64{AT_PHDR, 0x1000}
	if _, err := Decode(data); err == nil {
		t.Fatal("expected error for missing AT_NULL terminator")
	}
}

func TestDecodeRejectsOddLength(t *testing.T) {
	data := []uint64{AT_PHDR}
	if _, err := Decode(data); err == nil {
		t.Fatal("expected error for odd-length auxv")
	}
}

func TestSetOverwritesExistingEntry(t *testing.T) {
	v := New()
	v.Set(AT_PAGESZ, 4096)
	v.Set(AT_PAGESZ, 65536)

	got, ok := v.Get(AT_PAGESZ)
	if !ok || got != 65536 {
		t.Fatalf("Get(AT_PAGESZ) = (%d, %v), want (65536, true)", got, ok)
	}
	if len(v.Entries) != 1 {
		t.Fatalf("expected a single Entries record after overwrite, got %d", len(v.Entries))
	}
}
