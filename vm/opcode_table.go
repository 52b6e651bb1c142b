package vm

import (
	"fmt"

	"github.com/chazu/veil/seed"
)

// ---------------------------------------------------------------------------
// OpcodeTable: per-build byte permutation
// ---------------------------------------------------------------------------

// OpcodeTable is the build-specific bijection between logical opcodes and
// their byte encodings. Encode and Decode are mutual inverses over the full
// byte alphabet; bytes whose decoded value is not a defined opcode hit the
// engine's trap handler.
type OpcodeTable struct {
	encode [256]byte
	decode [256]byte
}

// NewOpcodeTable derives the permutation for a build. The shuffle is
// Fisher-Yates keyed by the seed's dedicated PRF stream, so the byte
// assignment carries no statistical trace of the logical ordering.
func NewOpcodeTable(m *seed.Material) *OpcodeTable {
	perm := [256]byte{}
	for i := range perm {
		perm[i] = byte(i)
	}

	stream := m.ShuffleStream()
	for i := len(perm) - 1; i > 0; i-- {
		j := stream.Intn(i + 1)
		perm[i], perm[j] = perm[j], perm[i]
	}

	t := &OpcodeTable{}
	for logical, encoded := range perm {
		t.encode[logical] = encoded
		t.decode[encoded] = byte(logical)
	}
	return t
}

// Encode maps a logical opcode to its byte encoding for this build.
func (t *OpcodeTable) Encode(op Opcode) byte {
	return t.encode[op]
}

// Decode maps an encoded byte back to its logical opcode.
func (t *OpcodeTable) Decode(b byte) Opcode {
	return Opcode(t.decode[b])
}

// Serialize returns the encode permutation as a 256-byte slice for
// embedding into the envelope body.
func (t *OpcodeTable) Serialize() []byte {
	out := make([]byte, 256)
	copy(out, t.encode[:])
	return out
}

// ParseOpcodeTable reconstructs a table from its serialized form.
func ParseOpcodeTable(data []byte) (*OpcodeTable, error) {
	if len(data) != 256 {
		return nil, fmt.Errorf("vm: opcode table must be 256 bytes, got %d", len(data))
	}
	var seen [256]bool
	t := &OpcodeTable{}
	for logical, encoded := range data {
		if seen[encoded] {
			return nil, fmt.Errorf("vm: opcode table is not a permutation (byte %#02x repeats)", encoded)
		}
		seen[encoded] = true
		t.encode[logical] = encoded
		t.decode[encoded] = byte(logical)
	}
	return t, nil
}

// Equal reports whether two tables carry the same permutation.
func (t *OpcodeTable) Equal(other *OpcodeTable) bool {
	return t.encode == other.encode
}
