package compiler

import (
	"math/bits"

	"github.com/chazu/veil/manifest"
	"github.com/chazu/veil/vm"
)

// ---------------------------------------------------------------------------
// Substitution: mixed boolean-arithmetic identities
// ---------------------------------------------------------------------------

// mbaThreshold is the per-site probability (out of 256) that an operator
// site draws from its substitution menu instead of lowering directly.
func (c *Compiler) mbaThreshold() int {
	switch c.opts.Level {
	case manifest.LevelDebug:
		return 64
	case manifest.LevelParanoid:
		return 256
	default:
		return 128
	}
}

// opaqueThreshold is the per-site probability (out of 256) of inserting an
// opaque predicate before a jump.
func (c *Compiler) opaqueThreshold() int {
	switch c.opts.Level {
	case manifest.LevelDebug:
		return 0
	case manifest.LevelParanoid:
		return 128
	default:
		return 64
	}
}

// menuSize returns the number of equivalent lowerings for an operator.
func menuSize(op vm.Opcode) int {
	switch op {
	case vm.OpAdd:
		return 5
	case vm.OpSub:
		return 3
	case vm.OpXor:
		return 3
	case vm.OpAnd, vm.OpOr:
		return 2
	}
	return 1
}

// emitBinarySubst lowers a two-operand operator with both operands already
// on the stack as [a, b], sampling the menu with the substitution stream.
func (c *Compiler) emitBinarySubst(op vm.Opcode) {
	variant := 0
	if n := menuSize(op); n > 1 && int(c.stream.Byte()) < c.mbaThreshold() {
		variant = c.stream.Intn(n)
	}
	c.emitBinaryVariant(op, variant)
}

// emitBinaryVariant lowers one specific menu entry. Every variant computes
// the identical 64-bit result as the direct opcode.
func (c *Compiler) emitBinaryVariant(op vm.Opcode, variant int) {
	if variant == 0 {
		c.b.emit(op)
		return
	}

	switch op {
	case vm.OpAdd:
		switch variant {
		case 1: // a - (-b)
			c.b.emit(vm.OpNeg)
			c.b.emit(vm.OpSub)
		case 2: // ~(~a - b)
			c.b.emit(vm.OpSwap)
			c.b.emit(vm.OpNot)
			c.b.emit(vm.OpSwap)
			c.b.emit(vm.OpSub)
			c.b.emit(vm.OpNot)
		case 3: // (a ^ b) + 2*(a & b)
			c.withPair(op, func(r1, r2 byte) {
				c.loadPair(r1, r2)
				c.b.emit(vm.OpXor)
				c.loadPair(r1, r2)
				c.b.emit(vm.OpAnd)
				c.b.emitU8(vm.OpPushU8, 1)
				c.b.emit(vm.OpShl)
				c.b.emit(vm.OpAdd)
			})
		case 4: // (a | b) + (a & b)
			c.withPair(op, func(r1, r2 byte) {
				c.loadPair(r1, r2)
				c.b.emit(vm.OpOr)
				c.loadPair(r1, r2)
				c.b.emit(vm.OpAnd)
				c.b.emit(vm.OpAdd)
			})
		}

	case vm.OpSub:
		switch variant {
		case 1: // a + (-b)
			c.b.emit(vm.OpNeg)
			c.b.emit(vm.OpAdd)
		case 2: // ~(~a + b)
			c.b.emit(vm.OpSwap)
			c.b.emit(vm.OpNot)
			c.b.emit(vm.OpSwap)
			c.b.emit(vm.OpAdd)
			c.b.emit(vm.OpNot)
		}

	case vm.OpXor:
		switch variant {
		case 1: // (a | b) & ~(a & b)
			c.withPair(op, func(r1, r2 byte) {
				c.loadPair(r1, r2)
				c.b.emit(vm.OpOr)
				c.loadPair(r1, r2)
				c.b.emit(vm.OpAnd)
				c.b.emit(vm.OpNot)
				c.b.emit(vm.OpAnd)
			})
		case 2: // (a & ~b) | (~a & b)
			c.withPair(op, func(r1, r2 byte) {
				c.b.emitU8(vm.OpLoadReg, r1)
				c.b.emitU8(vm.OpLoadReg, r2)
				c.b.emit(vm.OpNot)
				c.b.emit(vm.OpAnd)
				c.b.emitU8(vm.OpLoadReg, r1)
				c.b.emit(vm.OpNot)
				c.b.emitU8(vm.OpLoadReg, r2)
				c.b.emit(vm.OpAnd)
				c.b.emit(vm.OpOr)
			})
		}

	case vm.OpAnd: // ~(~a | ~b)
		c.b.emit(vm.OpSwap)
		c.b.emit(vm.OpNot)
		c.b.emit(vm.OpSwap)
		c.b.emit(vm.OpNot)
		c.b.emit(vm.OpOr)
		c.b.emit(vm.OpNot)

	case vm.OpOr: // ~(~a & ~b)
		c.b.emit(vm.OpSwap)
		c.b.emit(vm.OpNot)
		c.b.emit(vm.OpSwap)
		c.b.emit(vm.OpNot)
		c.b.emit(vm.OpAnd)
		c.b.emit(vm.OpNot)
	}
}

// withPair spills [a, b] into two scratch registers and runs emit with
// their indices. The emitted sequence must push exactly one result. When
// the scratch pool is exhausted the site falls back to the direct opcode.
func (c *Compiler) withPair(op vm.Opcode, emit func(r1, r2 byte)) {
	r1, err1 := c.allocScratch()
	r2, err2 := c.allocScratch()
	if err1 != nil || err2 != nil {
		c.freeScratch(boolInt(err1 == nil) + boolInt(err2 == nil))
		c.b.emit(op)
		return
	}
	c.b.emitU8(vm.OpStoreReg, byte(r2)) // b
	c.b.emitU8(vm.OpStoreReg, byte(r1)) // a
	emit(byte(r1), byte(r2))
	c.freeScratch(2)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (c *Compiler) loadPair(r1, r2 byte) {
	c.b.emitU8(vm.OpLoadReg, r1)
	c.b.emitU8(vm.OpLoadReg, r2)
}

// emitNotSubst lowers bitwise complement with its substitution menu.
func (c *Compiler) emitNotSubst() {
	variant := 0
	if int(c.stream.Byte()) < c.mbaThreshold() {
		variant = c.stream.Intn(3)
	}
	c.emitNotVariant(variant)
}

func (c *Compiler) emitNotVariant(variant int) {
	switch variant {
	case 1: // a ^ MAX
		c.b.emitU64(vm.OpPushU64, ^uint64(0))
		c.b.emit(vm.OpXor)
	case 2: // MAX - a
		c.b.emitU64(vm.OpPushU64, ^uint64(0))
		c.b.emit(vm.OpSwap)
		c.b.emit(vm.OpSub)
	default:
		c.b.emit(vm.OpNot)
	}
}

// emitMulShiftAdd rewrites multiplication by a small power-of-two-sum
// constant into shifts and adds. Both operands are on the stack; y is the
// literal. Returns false when the site lowers as a plain MUL.
func (c *Compiler) emitMulShiftAdd(y Expr) bool {
	lit, ok := y.(*Lit)
	if !ok {
		return false
	}
	v := lit.Value
	if v == 0 || bits.OnesCount64(v) > 2 {
		return false
	}
	if int(c.stream.Byte()) >= c.mbaThreshold() {
		return false
	}

	r1, err := c.allocScratch()
	if err != nil {
		return false
	}
	low := uint(bits.TrailingZeros64(v))
	rest := v &^ (1 << low)

	c.b.emit(vm.OpPop) // drop the pushed multiplier
	c.b.emitU8(vm.OpStoreReg, byte(r1))

	c.b.emitU8(vm.OpLoadReg, byte(r1))
	c.b.emitU8(vm.OpPushU8, byte(low))
	c.b.emit(vm.OpShl)
	if rest != 0 {
		high := uint(bits.TrailingZeros64(rest))
		c.b.emitU8(vm.OpLoadReg, byte(r1))
		c.b.emitU8(vm.OpPushU8, byte(high))
		c.b.emit(vm.OpShl)
		c.b.emit(vm.OpAdd)
	}
	c.freeScratch(1)
	return true
}

// ---------------------------------------------------------------------------
// Opaque predicates
// ---------------------------------------------------------------------------

// maybeOpaque inserts an opaque predicate whose branch is statically fixed
// but taken at runtime, jumping over a short decoy sequence. Insertion is
// a per-site coin flip on the substitution stream.
func (c *Compiler) maybeOpaque() {
	if int(c.stream.Byte()) >= c.opaqueThreshold() {
		return
	}
	skip := c.b.newLabel()
	if c.stream.Byte()&1 == 0 {
		c.b.emit(vm.OpOpaqueTrue)
		c.b.jump(vm.OpJnz, skip)
	} else {
		c.b.emit(vm.OpOpaqueFalse)
		c.b.jump(vm.OpJz, skip)
	}
	// Decoy: never executed, but scans as well-formed code.
	c.b.emitU64(vm.OpPushU64, c.stream.Uint64())
	c.b.emit(vm.OpPop)
	c.b.mark(skip)
}

// ---------------------------------------------------------------------------
// Dead code
// ---------------------------------------------------------------------------

// maybeDeadCode inserts a value-neutral sequence at a statement boundary.
// The gate and the sequence are both functions of the current bytecode
// length hashed with the build's FNV constants, so placement is
// deterministic per build with no stream consumption.
func (c *Compiler) maybeDeadCode() {
	var mask uint64
	switch c.opts.Level {
	case manifest.LevelDebug:
		return
	case manifest.LevelParanoid:
		mask = 0x3
	default:
		mask = 0x7
	}

	n := c.b.pos()
	h := c.opts.Material.RegionHash([]byte{byte(n), byte(n >> 8), byte(n >> 16)})
	if h&mask != 0 {
		return
	}

	k := h >> 8
	switch (h >> 4) % 3 {
	case 0:
		c.b.emit(vm.OpNop)
	case 1:
		c.b.emitU64(vm.OpPushU64, k)
		c.b.emit(vm.OpPop)
	default:
		c.b.emitU64(vm.OpPushU64, k)
		c.b.emit(vm.OpDup)
		c.b.emit(vm.OpXor)
		c.b.emit(vm.OpPop)
	}
}
