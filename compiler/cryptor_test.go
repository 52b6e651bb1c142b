package compiler

import (
	"testing"

	"github.com/chazu/veil/manifest"
)

// ---------------------------------------------------------------------------
// Value cryptor tests
// ---------------------------------------------------------------------------

func cryptorLiterals() []uint64 {
	lits := []uint64{
		0, 1, 42,
		0xBEEF, 0xDEADBEEF, 0xDEADBEEFCAFEBABE,
		^uint64(0), ^uint64(0) - 1,
		1 << 63, (1 << 63) + 1,
	}
	x := uint64(0x6C62272E07BB0142)
	for i := 0; i < 64; i++ {
		x ^= x << 13
		x ^= x >> 7
		x ^= x << 17
		lits = append(lits, x)
	}
	return lits
}

func TestChainRoundTrip(t *testing.T) {
	p := newPipeline(t, 0x80)
	c := p.variantCompiler()
	c.opts.Level = manifest.LevelParanoid

	for _, lit := range cryptorLiterals() {
		ops, start := c.buildChain(lit)

		if len(ops) < 3 || len(ops) > 7 {
			t.Fatalf("literal %#x: chain length %d outside [3, 7]", lit, len(ops))
		}
		if start == lit {
			t.Fatalf("literal %#x: start value equals the literal", lit)
		}
		for _, op := range ops {
			switch op.kind {
			case crAdd, crSub, crXor:
				if op.k == lit {
					t.Fatalf("literal %#x: chain constant equals the literal", lit)
				}
			case crRol, crRor:
				if op.k < 1 || op.k > 63 {
					t.Fatalf("literal %#x: rotate amount %d outside [1, 63]", lit, op.k)
				}
			}
		}

		x := start
		for i, op := range ops {
			x = op.apply(x)
			if x == lit && i != len(ops)-1 {
				t.Fatalf("literal %#x exposed before the final chain step", lit)
			}
		}
		if x != lit {
			t.Fatalf("chain for %#x evaluates to %#x", lit, x)
		}
	}
}

func TestCryptedLiteralsExecute(t *testing.T) {
	for _, fill := range []byte{0x81, 0x82} {
		p := newPipeline(t, fill)
		for _, lit := range cryptorLiterals()[:16] {
			unit := &Unit{
				Name: "lit",
				Ret:  TU64,
				Body: []Stmt{&ExprStmt{X: u64(lit)}},
			}
			if got := p.mustRun(t, unit, manifest.LevelParanoid, nil); got != lit {
				t.Fatalf("seed %#02x: crypted literal %#x executed to %#x", fill, lit, got)
			}
		}
	}
}

func TestCryptorOffBelowParanoid(t *testing.T) {
	// Below paranoid a 64-bit literal appears verbatim in the emitted
	// bytecode (operands are not permuted, only opcode bytes are).
	p := newPipeline(t, 0x83)
	unit := &Unit{
		Name: "plain",
		Ret:  TU64,
		Body: []Stmt{&ExprStmt{X: u64(0x1122334455667788)}},
	}
	code := p.compile(t, unit, manifest.LevelStandard)
	if !containsWindow(code, []byte{0x88, 0x77, 0x66, 0x55, 0x44, 0x33, 0x22, 0x11}) {
		t.Error("standard level should push the literal directly")
	}

	// At paranoid the plaintext literal is absent from the bytecode.
	code = p.compile(t, unit, manifest.LevelParanoid)
	if containsWindow(code, []byte{0x88, 0x77, 0x66, 0x55, 0x44, 0x33, 0x22, 0x11}) {
		t.Error("paranoid level leaked the literal into bytecode")
	}
}

func containsWindow(haystack, needle []byte) bool {
	if len(needle) > len(haystack) {
		return false
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
