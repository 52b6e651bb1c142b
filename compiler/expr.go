package compiler

import "github.com/chazu/veil/vm"

// ---------------------------------------------------------------------------
// Expression lowering
// ---------------------------------------------------------------------------

// compileExpr lowers an expression as a postfix sequence, leaving exactly
// one word on the stack. It returns the expression's type and whether the
// value is a freshly created heap run the caller must eventually free.
func (c *Compiler) compileExpr(e Expr) (Type, bool, error) {
	switch x := e.(type) {
	case *Lit:
		if !x.Type.Integer() && x.Type != TBool {
			return 0, false, errCode(CodeType)
		}
		c.pushLiteral(x.Value)
		return x.Type, false, nil

	case *StrLit:
		c.emitRunLiteral([]byte(x.Value))
		return TString, true, nil

	case *VecLit:
		elems := make([]byte, len(x.Elems))
		for i, el := range x.Elems {
			lit, ok := el.(*Lit)
			if !ok || lit.Value > 0xFF {
				return 0, false, errCode(CodeUnsupported)
			}
			elems[i] = byte(lit.Value)
		}
		c.emitRunLiteral(elems)
		return TVec, true, nil

	case *Input:
		c.b.emit(vm.OpInputWord)
		return TU64, false, nil

	case *InputLen:
		c.b.emit(vm.OpInputLen)
		return TU64, false, nil

	case *InputAt:
		if err := c.compileIndexOperand(x.Off); err != nil {
			return 0, false, err
		}
		c.b.emit(vm.OpInputByte)
		return TU8, false, nil

	case *Var:
		bnd := c.lookup(x.Name)
		if bnd == nil {
			return 0, false, errCode(CodeUndeclared)
		}
		if bnd.Size != 1 {
			return 0, false, errCode(CodeUnsupported)
		}
		c.b.emitU8(vm.OpLoadReg, byte(bnd.Reg))
		return bnd.Type, false, nil

	case *Field:
		bnd := c.lookup(x.X.Name)
		if bnd == nil {
			return 0, false, errCode(CodeUndeclared)
		}
		if bnd.Type != TStruct {
			return 0, false, errCode(CodeType)
		}
		for i, name := range bnd.Fields {
			if name == x.Name {
				c.b.emitU8(vm.OpLoadReg, byte(bnd.Reg+i))
				return TU64, false, nil
			}
		}
		return 0, false, errCode(CodeUndeclared)

	case *Unary:
		return c.compileUnary(x)

	case *Binary:
		return c.compileBinary(x)

	case *Cast:
		return c.compileCast(x)

	case *HostCall:
		return c.compileHostCall(x)

	case *MacroCall:
		return 0, false, errCode(CodeMacro)

	case *Length:
		if err := c.withRun(x.X, func() { c.b.emit(vm.OpLen) }); err != nil {
			return 0, false, err
		}
		return TU64, false, nil

	case *Index:
		if err := c.compileIndexExpr(x); err != nil {
			return 0, false, err
		}
		return TU8, false, nil

	case *Match:
		if err := c.compileMatch(x); err != nil {
			return 0, false, err
		}
		return x.Type, false, nil

	case *StructLit, *TupleLit:
		// Register groups exist only as let bindings.
		return 0, false, errCode(CodeUnsupported)

	default:
		return 0, false, errCode(CodeUnsupported)
	}
}

// compileScalarOperand compiles an expression that must produce a plain
// word (no heap ownership).
func (c *Compiler) compileScalarOperand(e Expr) error {
	typ, owned, err := c.compileExpr(e)
	if err != nil {
		return err
	}
	if owned || typ.HeapResident() {
		return errCode(CodeType)
	}
	return nil
}

// compileIndexOperand compiles an integer-typed index expression.
func (c *Compiler) compileIndexOperand(e Expr) error {
	typ, owned, err := c.compileExpr(e)
	if err != nil {
		return err
	}
	if owned || !typ.Integer() {
		return errCode(CodeType)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Heap-run operands
// ---------------------------------------------------------------------------

// withRun compiles a heap-typed operand, invokes use with the handle on
// top of the stack, and frees the run afterwards when this expression
// created it. use must consume the handle and push exactly one word.
func (c *Compiler) withRun(e Expr, use func()) error {
	typ, owned, err := c.compileExpr(e)
	if err != nil {
		return err
	}
	if !typ.HeapResident() {
		return errCode(CodeType)
	}
	if !owned {
		use()
		return nil
	}
	reg, err := c.allocScratch()
	if err != nil {
		return err
	}
	c.b.emit(vm.OpDup)
	c.b.emitU8(vm.OpStoreReg, byte(reg))
	use()
	c.b.emitU8(vm.OpLoadReg, byte(reg))
	c.b.emit(vm.OpHeapFree)
	c.freeScratch(1)
	return nil
}

// compileIndexExpr lowers x[i].
func (c *Compiler) compileIndexExpr(x *Index) error {
	typ, owned, err := c.compileExpr(x.X)
	if err != nil {
		return err
	}
	if !typ.HeapResident() {
		return errCode(CodeType)
	}
	if !owned {
		if err := c.compileIndexOperand(x.I); err != nil {
			return err
		}
		c.b.emit(vm.OpGetIdx)
		return nil
	}
	reg, err := c.allocScratch()
	if err != nil {
		return err
	}
	c.b.emit(vm.OpDup)
	c.b.emitU8(vm.OpStoreReg, byte(reg))
	if err := c.compileIndexOperand(x.I); err != nil {
		return err
	}
	c.b.emit(vm.OpGetIdx)
	c.b.emitU8(vm.OpLoadReg, byte(reg))
	c.b.emit(vm.OpHeapFree)
	c.freeScratch(1)
	return nil
}

// emitRunLiteral allocates a fresh run and fills it byte by byte, leaving
// the handle on the stack. Bytes go through the literal path so the value
// cryptor covers string contents at paranoid level.
func (c *Compiler) emitRunLiteral(data []byte) {
	c.pushLiteral(uint64(len(data)))
	c.b.emit(vm.OpHeapAlloc)
	for _, by := range data {
		c.b.emit(vm.OpDup)
		c.pushLiteral(uint64(by))
		c.b.emit(vm.OpPushElt)
	}
}

// ---------------------------------------------------------------------------
// Unary and cast lowering
// ---------------------------------------------------------------------------

func (c *Compiler) compileUnary(x *Unary) (Type, bool, error) {
	typ, owned, err := c.compileExpr(x.X)
	if err != nil {
		return 0, false, err
	}
	if owned || typ.HeapResident() {
		return 0, false, errCode(CodeType)
	}
	switch x.Op {
	case OpNegU:
		if !typ.Integer() {
			return 0, false, errCode(CodeType)
		}
		c.b.emit(vm.OpNeg)
		c.normalize(typ)
		return typ, false, nil
	case OpNotU:
		if typ == TBool {
			// Boolean not is x ^ 1, never bitwise complement.
			c.b.emitU8(vm.OpPushU8, 1)
			c.b.emit(vm.OpXor)
			return TBool, false, nil
		}
		if !typ.Integer() {
			return 0, false, errCode(CodeType)
		}
		c.emitNotSubst()
		c.normalize(typ)
		return typ, false, nil
	}
	return 0, false, errCode(CodeUnsupported)
}

func (c *Compiler) compileCast(x *Cast) (Type, bool, error) {
	typ, owned, err := c.compileExpr(x.X)
	if err != nil {
		return 0, false, err
	}
	if owned || !typ.Integer() || !x.To.Integer() {
		return 0, false, errCode(CodeType)
	}
	// Widening to a 64-bit type is a no-op: unsigned sources are already
	// zero-extended and signed sources reinterpret their sign-extended
	// word. Narrowing re-canonicalizes.
	if x.To.Width() < 64 {
		c.normalize(x.To)
	}
	return x.To, false, nil
}

// normalize re-establishes a narrow type's canonical 64-bit representation
// after an arithmetic result may have overflowed it: mask for unsigned,
// mask then sign-extend for signed.
func (c *Compiler) normalize(typ Type) {
	switch typ {
	case TU8:
		c.b.emit(vm.OpTruncU8)
	case TU16:
		c.b.emit(vm.OpTruncU16)
	case TU32:
		c.b.emit(vm.OpTruncU32)
	case TI8:
		c.b.emit(vm.OpTruncU8)
		c.b.emit(vm.OpSextI8)
	case TI16:
		c.b.emit(vm.OpTruncU16)
		c.b.emit(vm.OpSextI16)
	case TI32:
		c.b.emit(vm.OpTruncU32)
		c.b.emit(vm.OpSextI32)
	}
}

// ---------------------------------------------------------------------------
// Binary lowering
// ---------------------------------------------------------------------------

func (c *Compiler) compileBinary(x *Binary) (Type, bool, error) {
	// String operators work through run handles.
	if c.isRunExpr(x.X) {
		return c.compileRunBinary(x)
	}

	lt, lo, err := c.compileExpr(x.X)
	if err != nil {
		return 0, false, err
	}
	rt, ro, err := c.compileExpr(x.Y)
	if err != nil {
		return 0, false, err
	}
	if lo || ro {
		return 0, false, errCode(CodeType)
	}

	switch x.Op {
	case OpLogAndB, OpLogOrB:
		if lt != TBool || rt != TBool {
			return 0, false, errCode(CodeType)
		}
		if x.Op == OpLogAndB {
			c.emitBinarySubst(vm.OpAnd)
		} else {
			c.emitBinarySubst(vm.OpOr)
		}
		return TBool, false, nil

	case OpEqB, OpNeB, OpLtB, OpLeB, OpGtB, OpGeB:
		if lt != rt {
			return 0, false, errCode(CodeType)
		}
		if !lt.Integer() && lt != TBool {
			return 0, false, errCode(CodeType)
		}
		c.b.emit(comparisonOp(x.Op, lt.Signed()))
		return TBool, false, nil
	}

	if lt != rt || !lt.Integer() {
		return 0, false, errCode(CodeType)
	}

	switch x.Op {
	case OpAddB:
		c.emitBinarySubst(vm.OpAdd)
	case OpSubB:
		c.emitBinarySubst(vm.OpSub)
	case OpMulB:
		if !c.emitMulShiftAdd(x.Y) {
			c.b.emit(vm.OpMul)
		}
	case OpDivB:
		if lt.Signed() {
			c.b.emit(vm.OpIDiv)
		} else {
			c.b.emit(vm.OpDiv)
		}
	case OpModB:
		if lt.Signed() {
			c.b.emit(vm.OpIMod)
		} else {
			c.b.emit(vm.OpMod)
		}
	case OpAndB:
		c.emitBinarySubst(vm.OpAnd)
	case OpOrB:
		c.emitBinarySubst(vm.OpOr)
	case OpXorB:
		c.emitBinarySubst(vm.OpXor)
	case OpShlB:
		c.b.emit(vm.OpShl)
	case OpShrB:
		if lt.Signed() {
			c.b.emit(vm.OpSar)
		} else {
			c.b.emit(vm.OpShr)
		}
	default:
		return 0, false, errCode(CodeUnsupported)
	}
	c.normalize(lt)
	return lt, false, nil
}

func comparisonOp(op BinOp, signed bool) vm.Opcode {
	switch op {
	case OpEqB:
		return vm.OpEq
	case OpNeB:
		return vm.OpNe
	case OpLtB:
		if signed {
			return vm.OpILt
		}
		return vm.OpLt
	case OpLeB:
		if signed {
			return vm.OpILe
		}
		return vm.OpLe
	case OpGtB:
		if signed {
			return vm.OpIGt
		}
		return vm.OpGt
	default:
		if signed {
			return vm.OpIGe
		}
		return vm.OpGe
	}
}

// isRunExpr reports whether an expression is heap-typed without compiling
// it, for operator steering only.
func (c *Compiler) isRunExpr(e Expr) bool {
	switch x := e.(type) {
	case *StrLit, *VecLit:
		return true
	case *Var:
		bnd := c.lookup(x.Name)
		return bnd != nil && bnd.Type.HeapResident()
	case *Binary:
		return x.Op == OpAddB && c.isRunExpr(x.X)
	}
	return false
}

// compileRunBinary lowers string/vector operators: concatenation and
// equality.
func (c *Compiler) compileRunBinary(x *Binary) (Type, bool, error) {
	switch x.Op {
	case OpAddB:
		var typ Type
		err := c.withRunPair(x.X, x.Y, func() { c.b.emit(vm.OpConcat) }, &typ)
		if err != nil {
			return 0, false, err
		}
		return typ, true, nil
	case OpEqB:
		var typ Type
		err := c.withRunPair(x.X, x.Y, func() { c.b.emit(vm.OpEqBytes) }, &typ)
		if err != nil {
			return 0, false, err
		}
		return TBool, false, nil
	case OpNeB:
		var typ Type
		err := c.withRunPair(x.X, x.Y, func() {
			c.b.emit(vm.OpEqBytes)
			c.b.emitU8(vm.OpPushU8, 1)
			c.b.emit(vm.OpXor)
		}, &typ)
		if err != nil {
			return 0, false, err
		}
		return TBool, false, nil
	}
	return 0, false, errCode(CodeUnsupported)
}

// withRunPair compiles two heap operands, applies use (which consumes both
// handles and pushes one word), then frees any owned operands.
func (c *Compiler) withRunPair(xe, ye Expr, use func(), outType *Type) error {
	xt, xo, err := c.compileExpr(xe)
	if err != nil {
		return err
	}
	if !xt.HeapResident() {
		return errCode(CodeType)
	}
	var xreg int
	if xo {
		if xreg, err = c.allocScratch(); err != nil {
			return err
		}
		c.b.emit(vm.OpDup)
		c.b.emitU8(vm.OpStoreReg, byte(xreg))
	}

	yt, yo, err := c.compileExpr(ye)
	if err != nil {
		return err
	}
	if yt != xt {
		return errCode(CodeType)
	}
	var yreg int
	if yo {
		if yreg, err = c.allocScratch(); err != nil {
			return err
		}
		c.b.emit(vm.OpDup)
		c.b.emitU8(vm.OpStoreReg, byte(yreg))
	}

	use()

	if yo {
		c.b.emitU8(vm.OpLoadReg, byte(yreg))
		c.b.emit(vm.OpHeapFree)
		c.freeScratch(1)
	}
	if xo {
		c.b.emitU8(vm.OpLoadReg, byte(xreg))
		c.b.emit(vm.OpHeapFree)
		c.freeScratch(1)
	}
	*outType = xt
	return nil
}

// ---------------------------------------------------------------------------
// Host calls
// ---------------------------------------------------------------------------

func (c *Compiler) compileHostCall(x *HostCall) (Type, bool, error) {
	entry, ok := c.opts.Hosts.resolve(x.Name)
	if !ok {
		return 0, false, errCode(CodeHostCall)
	}
	if entry.arity != len(x.Args) {
		return 0, false, errCode(CodeType)
	}
	for _, arg := range x.Args {
		if err := c.compileScalarOperand(arg); err != nil {
			return 0, false, err
		}
	}
	c.b.emitNative(entry.index, byte(len(x.Args)))
	return TU64, false, nil
}
