package vm

import (
	"testing"

	"github.com/chazu/veil/seed"
)

func testMaterial(t *testing.T, fill byte) *seed.Material {
	t.Helper()
	var s seed.Seed
	for i := range s {
		s[i] = fill ^ byte(i)
	}
	m, err := seed.Derive(s)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	return m
}

// ---------------------------------------------------------------------------
// Permutation tests
// ---------------------------------------------------------------------------

func TestOpcodeTablePermutation(t *testing.T) {
	for _, fill := range []byte{0x00, 0x01, 0x42, 0xA5, 0xFF} {
		table := NewOpcodeTable(testMaterial(t, fill))

		var seen [256]bool
		for b := 0; b < 256; b++ {
			enc := table.Encode(Opcode(b))
			if seen[enc] {
				t.Fatalf("seed %#02x: byte %#02x assigned twice", fill, enc)
			}
			seen[enc] = true
			if got := table.Decode(enc); got != Opcode(b) {
				t.Fatalf("seed %#02x: decode(encode(%#02x)) = %#02x", fill, b, byte(got))
			}
		}
		for b := 0; b < 256; b++ {
			if got := table.Encode(table.Decode(byte(b))); got != byte(b) {
				t.Fatalf("seed %#02x: encode(decode(%#02x)) = %#02x", fill, b, got)
			}
		}
	}
}

func TestOpcodeTableSeedSpecific(t *testing.T) {
	a := NewOpcodeTable(testMaterial(t, 0x11))
	b := NewOpcodeTable(testMaterial(t, 0x22))
	if a.Equal(b) {
		t.Fatal("different seeds produced identical permutations")
	}

	// Same seed twice is byte-for-byte identical.
	c := NewOpcodeTable(testMaterial(t, 0x11))
	if !a.Equal(c) {
		t.Fatal("same seed produced different permutations")
	}
}

func TestOpcodeTableSerializeRoundTrip(t *testing.T) {
	table := NewOpcodeTable(testMaterial(t, 0x33))
	parsed, err := ParseOpcodeTable(table.Serialize())
	if err != nil {
		t.Fatalf("ParseOpcodeTable: %v", err)
	}
	if !parsed.Equal(table) {
		t.Fatal("round-tripped table differs")
	}
}

func TestParseOpcodeTableRejects(t *testing.T) {
	if _, err := ParseOpcodeTable(make([]byte, 100)); err == nil {
		t.Error("short table accepted")
	}
	dup := make([]byte, 256)
	for i := range dup {
		dup[i] = byte(i)
	}
	dup[5] = dup[4]
	if _, err := ParseOpcodeTable(dup); err == nil {
		t.Error("non-permutation accepted")
	}
}
