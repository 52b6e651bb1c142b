package vm

import "math/bits"

// handlerFunc is the common signature shared by every instruction handler.
// Handlers read their own operands, leave the instruction pointer at the
// next opcode boundary, and fail only through the Fault taxonomy.
type handlerFunc func(st *State) error

// ---------------------------------------------------------------------------
// Stack handlers
// ---------------------------------------------------------------------------

func handleNop(st *State) error { return nil }

func handleNopN(st *State) error {
	n, err := st.readU8()
	if err != nil {
		return err
	}
	if st.ip+int(n) > len(st.code) {
		return st.fault(JumpOutOfBounds)
	}
	st.ip += int(n)
	return nil
}

func handlePushU64(st *State) error {
	v, err := st.readU64()
	if err != nil {
		return err
	}
	return st.push(v)
}

func handlePushU32(st *State) error {
	v, err := st.readU32()
	if err != nil {
		return err
	}
	return st.push(uint64(v))
}

func handlePushU16(st *State) error {
	v, err := st.readU16()
	if err != nil {
		return err
	}
	return st.push(uint64(v))
}

func handlePushU8(st *State) error {
	v, err := st.readU8()
	if err != nil {
		return err
	}
	return st.push(uint64(v))
}

func handlePop(st *State) error {
	_, err := st.pop()
	return err
}

func handleDup(st *State) error {
	v, err := st.peek()
	if err != nil {
		return err
	}
	return st.push(v)
}

func handleSwap(st *State) error {
	n := len(st.stack)
	if n < 2 {
		return st.fault(StackUnderflow)
	}
	st.stack[n-1], st.stack[n-2] = st.stack[n-2], st.stack[n-1]
	return nil
}

func handleOver(st *State) error {
	n := len(st.stack)
	if n < 2 {
		return st.fault(StackUnderflow)
	}
	return st.push(st.stack[n-2])
}

// ---------------------------------------------------------------------------
// Arithmetic handlers
// ---------------------------------------------------------------------------

func handleAdd(st *State) error { return st.binop(func(a, b uint64) uint64 { return a + b }) }
func handleSub(st *State) error { return st.binop(func(a, b uint64) uint64 { return a - b }) }
func handleMul(st *State) error { return st.binop(func(a, b uint64) uint64 { return a * b }) }

func handleDiv(st *State) error {
	a, b, err := st.pop2()
	if err != nil {
		return err
	}
	if b == 0 {
		return st.fault(DivideByZero)
	}
	return st.push(a / b)
}

func handleMod(st *State) error {
	a, b, err := st.pop2()
	if err != nil {
		return err
	}
	if b == 0 {
		return st.fault(DivideByZero)
	}
	return st.push(a % b)
}

func handleIDiv(st *State) error {
	a, b, err := st.pop2()
	if err != nil {
		return err
	}
	sa, sb := int64(a), int64(b)
	if sb == 0 {
		return st.fault(DivideByZero)
	}
	if sa == -1<<63 && sb == -1 {
		return st.fault(IntOverflowTrap)
	}
	return st.push(uint64(sa / sb))
}

func handleIMod(st *State) error {
	a, b, err := st.pop2()
	if err != nil {
		return err
	}
	sa, sb := int64(a), int64(b)
	if sb == 0 {
		return st.fault(DivideByZero)
	}
	if sa == -1<<63 && sb == -1 {
		return st.fault(IntOverflowTrap)
	}
	return st.push(uint64(sa % sb))
}

func handleNeg(st *State) error { return st.replaceTop(func(v uint64) uint64 { return -v }) }
func handleInc(st *State) error { return st.replaceTop(func(v uint64) uint64 { return v + 1 }) }
func handleDec(st *State) error { return st.replaceTop(func(v uint64) uint64 { return v - 1 }) }

// ---------------------------------------------------------------------------
// Bitwise handlers
// ---------------------------------------------------------------------------

func handleAnd(st *State) error { return st.binop(func(a, b uint64) uint64 { return a & b }) }
func handleOr(st *State) error  { return st.binop(func(a, b uint64) uint64 { return a | b }) }
func handleXor(st *State) error { return st.binop(func(a, b uint64) uint64 { return a ^ b }) }
func handleNot(st *State) error { return st.replaceTop(func(v uint64) uint64 { return ^v }) }

func handleShl(st *State) error {
	return st.binop(func(a, b uint64) uint64 { return a << (b & 63) })
}

func handleShr(st *State) error {
	return st.binop(func(a, b uint64) uint64 { return a >> (b & 63) })
}

func handleSar(st *State) error {
	return st.binop(func(a, b uint64) uint64 { return uint64(int64(a) >> (b & 63)) })
}

func handleRol(st *State) error {
	return st.binop(func(a, b uint64) uint64 { return bits.RotateLeft64(a, int(b&63)) })
}

func handleRor(st *State) error {
	return st.binop(func(a, b uint64) uint64 { return bits.RotateLeft64(a, -int(b&63)) })
}

func handleRolImm(st *State) error {
	n, err := st.readU8()
	if err != nil {
		return err
	}
	return st.replaceTop(func(v uint64) uint64 { return bits.RotateLeft64(v, int(n&63)) })
}

func handleRorImm(st *State) error {
	n, err := st.readU8()
	if err != nil {
		return err
	}
	return st.replaceTop(func(v uint64) uint64 { return bits.RotateLeft64(v, -int(n&63)) })
}

func handlePopcnt(st *State) error {
	return st.replaceTop(func(v uint64) uint64 { return uint64(bits.OnesCount64(v)) })
}

func handleClz(st *State) error {
	return st.replaceTop(func(v uint64) uint64 { return uint64(bits.LeadingZeros64(v)) })
}

func handleCtz(st *State) error {
	return st.replaceTop(func(v uint64) uint64 { return uint64(bits.TrailingZeros64(v)) })
}

// ---------------------------------------------------------------------------
// Comparison handlers
// ---------------------------------------------------------------------------

func boolWord(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func handleEq(st *State) error { return st.binop(func(a, b uint64) uint64 { return boolWord(a == b) }) }
func handleNe(st *State) error { return st.binop(func(a, b uint64) uint64 { return boolWord(a != b) }) }
func handleLt(st *State) error { return st.binop(func(a, b uint64) uint64 { return boolWord(a < b) }) }
func handleLe(st *State) error { return st.binop(func(a, b uint64) uint64 { return boolWord(a <= b) }) }
func handleGt(st *State) error { return st.binop(func(a, b uint64) uint64 { return boolWord(a > b) }) }
func handleGe(st *State) error { return st.binop(func(a, b uint64) uint64 { return boolWord(a >= b) }) }

func handleILt(st *State) error {
	return st.binop(func(a, b uint64) uint64 { return boolWord(int64(a) < int64(b)) })
}

func handleILe(st *State) error {
	return st.binop(func(a, b uint64) uint64 { return boolWord(int64(a) <= int64(b)) })
}

func handleIGt(st *State) error {
	return st.binop(func(a, b uint64) uint64 { return boolWord(int64(a) > int64(b)) })
}

func handleIGe(st *State) error {
	return st.binop(func(a, b uint64) uint64 { return boolWord(int64(a) >= int64(b)) })
}

// ---------------------------------------------------------------------------
// Cast handlers
// ---------------------------------------------------------------------------

func handleTruncU8(st *State) error {
	return st.replaceTop(func(v uint64) uint64 { return v & 0xFF })
}

func handleTruncU16(st *State) error {
	return st.replaceTop(func(v uint64) uint64 { return v & 0xFFFF })
}

func handleTruncU32(st *State) error {
	return st.replaceTop(func(v uint64) uint64 { return v & 0xFFFFFFFF })
}

func handleSextI8(st *State) error {
	return st.replaceTop(func(v uint64) uint64 { return uint64(int64(int8(v))) })
}

func handleSextI16(st *State) error {
	return st.replaceTop(func(v uint64) uint64 { return uint64(int64(int16(v))) })
}

func handleSextI32(st *State) error {
	return st.replaceTop(func(v uint64) uint64 { return uint64(int64(int32(v))) })
}
