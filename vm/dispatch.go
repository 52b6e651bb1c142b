package vm

// ---------------------------------------------------------------------------
// Indirect-threaded dispatch
// ---------------------------------------------------------------------------

// logicalHandlers maps logical opcodes to their handlers. The table is a
// plain function array so dispatch is one indexed call; it never changes
// after package init.
var logicalHandlers = [256]handlerFunc{
	OpNop:     handleNop,
	OpNopN:    handleNopN,
	OpPushU64: handlePushU64,
	OpPushU32: handlePushU32,
	OpPushU16: handlePushU16,
	OpPushU8:  handlePushU8,
	OpPop:     handlePop,
	OpDup:     handleDup,
	OpSwap:    handleSwap,
	OpOver:    handleOver,

	OpAdd:  handleAdd,
	OpSub:  handleSub,
	OpMul:  handleMul,
	OpDiv:  handleDiv,
	OpIDiv: handleIDiv,
	OpMod:  handleMod,
	OpIMod: handleIMod,
	OpNeg:  handleNeg,
	OpInc:  handleInc,
	OpDec:  handleDec,

	OpAnd:    handleAnd,
	OpOr:     handleOr,
	OpXor:    handleXor,
	OpNot:    handleNot,
	OpShl:    handleShl,
	OpShr:    handleShr,
	OpSar:    handleSar,
	OpRol:    handleRol,
	OpRor:    handleRor,
	OpRolImm: handleRolImm,
	OpRorImm: handleRorImm,
	OpPopcnt: handlePopcnt,
	OpClz:    handleClz,
	OpCtz:    handleCtz,

	OpEq:  handleEq,
	OpNe:  handleNe,
	OpLt:  handleLt,
	OpLe:  handleLe,
	OpGt:  handleGt,
	OpGe:  handleGe,
	OpILt: handleILt,
	OpILe: handleILe,
	OpIGt: handleIGt,
	OpIGe: handleIGe,

	OpJmp:     handleJmp,
	OpJz:      handleJz,
	OpJnz:     handleJnz,
	OpCall:    handleCall,
	OpRet:     handleRet,
	OpHalt:    handleHalt,
	OpHaltErr: handleHaltErr,
	OpTrap:    handleTrap,

	OpLoadReg:  handleLoadReg,
	OpStoreReg: handleStoreReg,

	OpHeapAlloc:   handleHeapAlloc,
	OpHeapFree:    handleHeapFree,
	OpHeapLoad8:   handleHeapLoad8,
	OpHeapLoad16:  handleHeapLoad16,
	OpHeapLoad32:  handleHeapLoad32,
	OpHeapLoad64:  handleHeapLoad64,
	OpHeapStore8:  handleHeapStore8,
	OpHeapStore16: handleHeapStore16,
	OpHeapStore32: handleHeapStore32,
	OpHeapStore64: handleHeapStore64,

	OpLen:     handleLen,
	OpGetIdx:  handleGetIdx,
	OpSetIdx:  handleSetIdx,
	OpPushElt: handlePushElt,
	OpPopElt:  handlePopElt,
	OpConcat:  handleConcat,
	OpHash:    handleHash,
	OpEqBytes: handleEqBytes,
	OpIsEmpty: handleIsEmpty,

	OpTruncU8:  handleTruncU8,
	OpTruncU16: handleTruncU16,
	OpTruncU32: handleTruncU32,
	OpSextI8:   handleSextI8,
	OpSextI16:  handleSextI16,
	OpSextI32:  handleSextI32,

	OpInputWord: handleInputWord,
	OpInputLen:  handleInputLen,
	OpInputByte: handleInputByte,
	OpInputU16:  handleInputU16,
	OpInputU32:  handleInputU32,
	OpInputU64:  handleInputU64,

	OpOpaqueTrue:  handleOpaqueTrue,
	OpOpaqueFalse: handleOpaqueFalse,

	OpNativeCall: handleNativeCall,
}

// buildDispatch folds the build's decode permutation into a byte-indexed
// handler table, so the runtime loop applies decode exactly once per
// fetched byte and every byte maps to either a legal handler or the trap.
func buildDispatch(table *OpcodeTable) [256]handlerFunc {
	var dispatch [256]handlerFunc
	for b := 0; b < 256; b++ {
		logical := table.Decode(byte(b))
		h := logicalHandlers[logical]
		if h == nil || !logical.Valid() {
			h = handleTrapByte
		}
		dispatch[b] = h
	}
	return dispatch
}

// scanBoundaries walks the decoded instruction stream and marks every
// offset that begins an instruction. Jump validation consults this map so
// no jump can land mid-operand. A byte that decodes to no legal opcode is
// marked and stepped over as a one-byte instruction; executing it traps.
func scanBoundaries(code []byte, table *OpcodeTable) []bool {
	boundary := make([]bool, len(code))
	ip := 0
	for ip < len(code) {
		boundary[ip] = true
		op := table.Decode(code[ip])
		if !op.Valid() {
			ip++
			continue
		}
		ip += 1 + op.OperandBytes()
	}
	return boundary
}
