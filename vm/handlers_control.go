package vm

// ---------------------------------------------------------------------------
// Control-flow handlers
// ---------------------------------------------------------------------------

func handleJmp(st *State) error {
	target, err := st.readU32()
	if err != nil {
		return err
	}
	return st.jumpTo(target)
}

func handleJz(st *State) error {
	target, err := st.readU32()
	if err != nil {
		return err
	}
	cond, err := st.pop()
	if err != nil {
		return err
	}
	if cond == 0 {
		return st.jumpTo(target)
	}
	return nil
}

func handleJnz(st *State) error {
	target, err := st.readU32()
	if err != nil {
		return err
	}
	cond, err := st.pop()
	if err != nil {
		return err
	}
	if cond != 0 {
		return st.jumpTo(target)
	}
	return nil
}

func handleCall(st *State) error {
	target, err := st.readU32()
	if err != nil {
		return err
	}
	if len(st.callStack) >= MaxCallDepth {
		return st.fault(StackOverflow)
	}
	st.callStack = append(st.callStack, st.ip)
	return st.jumpTo(target)
}

func handleRet(st *State) error {
	if len(st.callStack) == 0 {
		// Return from the top level halts with the current top of stack.
		st.halted = true
		if v, err := st.peek(); err == nil {
			st.result = v
		}
		return nil
	}
	st.ip = st.callStack[len(st.callStack)-1]
	st.callStack = st.callStack[:len(st.callStack)-1]
	return nil
}

func handleHalt(st *State) error {
	st.halted = true
	if len(st.stack) > 0 {
		st.result = st.stack[len(st.stack)-1]
	}
	return nil
}

func handleHaltErr(st *State) error {
	code, err := st.readU8()
	if err != nil {
		return err
	}
	return st.faultCode(HostAbort, code)
}

func handleTrap(st *State) error {
	code, err := st.readU8()
	if err != nil {
		return err
	}
	if code == TrapNonExhaustiveMatch {
		return st.faultCode(NonExhaustiveMatch, code)
	}
	return st.faultCode(IllegalOpcode, code)
}

// TrapNonExhaustiveMatch is the trap code the compiler emits at the
// fall-through point of a match with no irrefutable arm.
const TrapNonExhaustiveMatch = 0x01

// handleTrapByte services encoded bytes with no logical opcode assigned.
func handleTrapByte(st *State) error {
	return st.fault(IllegalOpcode)
}

// ---------------------------------------------------------------------------
// Register handlers
// ---------------------------------------------------------------------------

func handleLoadReg(st *State) error {
	idx, err := st.readU8()
	if err != nil {
		return err
	}
	return st.push(st.regs[idx])
}

func handleStoreReg(st *State) error {
	idx, err := st.readU8()
	if err != nil {
		return err
	}
	v, err := st.pop()
	if err != nil {
		return err
	}
	st.regs[idx] = v
	return nil
}

// ---------------------------------------------------------------------------
// Input handlers
// ---------------------------------------------------------------------------

func handleInputWord(st *State) error {
	return st.push(st.inputWord())
}

func handleInputLen(st *State) error {
	return st.push(uint64(len(st.input)))
}

func handleInputByte(st *State) error {
	off, err := st.pop()
	if err != nil {
		return err
	}
	v, err := st.inputAt(int(off), 1)
	if err != nil {
		return err
	}
	return st.push(v)
}

func handleInputU16(st *State) error { return inputImm(st, 2) }
func handleInputU32(st *State) error { return inputImm(st, 4) }
func handleInputU64(st *State) error { return inputImm(st, 8) }

func inputImm(st *State, width int) error {
	off, err := st.readU16()
	if err != nil {
		return err
	}
	v, err := st.inputAt(int(off), width)
	if err != nil {
		return err
	}
	return st.push(v)
}

// ---------------------------------------------------------------------------
// Opaque predicates
// ---------------------------------------------------------------------------

// The product of two consecutive integers is always even, so the parity
// test below is statically fixed while still consuming a runtime value.

func handleOpaqueTrue(st *State) error {
	x := st.icount
	product := x * (x + 1)
	return st.push(boolWord(product%2 == 0))
}

func handleOpaqueFalse(st *State) error {
	x := st.icount
	product := x * (x + 1)
	return st.push(boolWord(product%2 != 0))
}

// ---------------------------------------------------------------------------
// Native calls
// ---------------------------------------------------------------------------

// maxNativeArgs bounds the argument buffer for one host call.
const maxNativeArgs = 8

func handleNativeCall(st *State) error {
	idx, err := st.readU8()
	if err != nil {
		return err
	}
	argc, err := st.readU8()
	if err != nil {
		return err
	}
	if int(idx) >= len(st.natives) || st.natives[idx] == nil {
		return st.fault(NativeCallIndex)
	}
	if argc > maxNativeArgs {
		return st.fault(NativeCallIndex)
	}

	// Arguments were pushed in source order; pop into place.
	var buf [maxNativeArgs]uint64
	args := buf[:argc]
	for i := int(argc) - 1; i >= 0; i-- {
		v, err := st.pop()
		if err != nil {
			return err
		}
		args[i] = v
	}

	ret, err := st.natives[idx](args)
	if err != nil {
		return st.fault(HostAbort)
	}
	return st.push(ret)
}
