package compiler

import (
	"math/bits"

	"github.com/chazu/veil/manifest"
	"github.com/chazu/veil/vm"
)

// ---------------------------------------------------------------------------
// Value cryptor: literal pushes become decryption chains
// ---------------------------------------------------------------------------

// chain operation kinds. Every operation is reversible over 64-bit words.
const (
	crAdd = iota
	crSub
	crXor
	crRol
	crRor
	crNot
	crNeg
	crKinds
)

type chainOp struct {
	kind int
	k    uint64
}

func (op chainOp) apply(x uint64) uint64 {
	switch op.kind {
	case crAdd:
		return x + op.k
	case crSub:
		return x - op.k
	case crXor:
		return x ^ op.k
	case crRol:
		return bits.RotateLeft64(x, int(op.k))
	case crRor:
		return bits.RotateLeft64(x, -int(op.k))
	case crNot:
		return ^x
	default:
		return -x
	}
}

func (op chainOp) invert(x uint64) uint64 {
	switch op.kind {
	case crAdd:
		return x - op.k
	case crSub:
		return x + op.k
	case crXor:
		return x ^ op.k
	case crRol:
		return bits.RotateLeft64(x, -int(op.k))
	case crRor:
		return bits.RotateLeft64(x, int(op.k))
	case crNot:
		return ^x
	default:
		return -x
	}
}

// pushLiteral emits a literal push. Below paranoid it is a plain push; at
// paranoid every literal becomes a chain of 3-7 reversible operations whose
// net effect reconstructs the value at runtime, so the plaintext constant
// never appears in the artifact.
func (c *Compiler) pushLiteral(v uint64) {
	if c.opts.Level != manifest.LevelParanoid {
		c.b.pushConst(v)
		return
	}

	ops, start := c.buildChain(v)
	c.b.emitU64(vm.OpPushU64, start)
	for _, op := range ops {
		switch op.kind {
		case crAdd:
			c.b.emitU64(vm.OpPushU64, op.k)
			c.b.emit(vm.OpAdd)
		case crSub:
			c.b.emitU64(vm.OpPushU64, op.k)
			c.b.emit(vm.OpSub)
		case crXor:
			c.b.emitU64(vm.OpPushU64, op.k)
			c.b.emit(vm.OpXor)
		case crRol:
			c.b.emitU8(vm.OpRolImm, byte(op.k))
		case crRor:
			c.b.emitU8(vm.OpRorImm, byte(op.k))
		case crNot:
			c.b.emit(vm.OpNot)
		case crNeg:
			c.b.emit(vm.OpNeg)
		}
	}
}

// buildChain samples a chain from the substitution stream and computes the
// start value by applying the inverses backward from the target. Neither
// the start value nor any chain constant ever equals the literal.
func (c *Compiler) buildChain(v uint64) ([]chainOp, uint64) {
	for {
		n := 3 + c.stream.Intn(5)
		ops := make([]chainOp, n)
		for i := range ops {
			kind := c.stream.Intn(crKinds)
			var k uint64
			switch kind {
			case crRol, crRor:
				k = uint64(1 + c.stream.Intn(63))
				for k == v {
					k = uint64(1 + c.stream.Intn(63))
				}
			case crAdd, crSub, crXor:
				k = c.stream.Uint64()
				for k == v {
					k = c.stream.Uint64()
				}
			}
			ops[i] = chainOp{kind: kind, k: k}
		}

		start := v
		for i := n - 1; i >= 0; i-- {
			start = ops[i].invert(start)
		}
		if start == v {
			continue
		}

		// Round-trip check; the chain is rejected if any intermediate
		// exposes the literal before the final step.
		x := start
		exposed := false
		for i, op := range ops {
			x = op.apply(x)
			if x == v && i != n-1 {
				exposed = true
				break
			}
		}
		if exposed || x != v {
			continue
		}
		return ops, start
	}
}
