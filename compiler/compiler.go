package compiler

import (
	"github.com/chazu/veil/manifest"
	"github.com/chazu/veil/seed"
	"github.com/chazu/veil/vm"
)

// ---------------------------------------------------------------------------
// Compiler
// ---------------------------------------------------------------------------

// Options carries the build context the compiler consults: the protection
// level, the seed material (for the substitution stream and entropy
// constants), the opcode table, and the host table.
type Options struct {
	Level    manifest.Level
	Material *seed.Material
	Table    *vm.OpcodeTable
	Hosts    *HostTable
}

// Compiler lowers one unit. It is single-use: construct, compile, discard.
type Compiler struct {
	b      *builder
	opts   Options
	stream *seed.Stream

	scopes      []*scopeFrame
	loops       []loopRecord
	nextReg     int
	scratchUsed int
	structs     map[string][]string

	retType Type
}

// Compile lowers a typed unit into bytecode for the given build. The
// result is deterministic: the same tree, seed, and level always produce
// identical bytes.
func Compile(unit *Unit, opts Options) ([]byte, error) {
	if opts.Level == "" {
		opts.Level = manifest.LevelStandard
	}
	if opts.Table == nil || opts.Material == nil {
		return nil, errCode(CodeInternal)
	}
	c := &Compiler{
		b:       newBuilder(opts.Table),
		opts:    opts,
		stream:  opts.Material.SubstStream(),
		structs: make(map[string][]string),
		retType: unit.Ret,
	}

	c.pushScope()
	body := unit.Body

	// A trailing expression statement of the return type acts as the
	// unit's value.
	var tail Expr
	if unit.Ret != TUnit && len(body) > 0 {
		if es, ok := body[len(body)-1].(*ExprStmt); ok {
			tail = es.X
			body = body[:len(body)-1]
		}
	}

	for _, stmt := range body {
		if err := c.compileStmt(stmt); err != nil {
			return nil, err
		}
		c.maybeDeadCode()
	}

	if tail != nil {
		if err := c.compileReturnValue(tail); err != nil {
			return nil, err
		}
	} else {
		c.unwindTo(0)
		c.b.emit(vm.OpHalt)
	}

	if c.b.depthErr {
		return nil, errCode(CodeInternal)
	}
	return c.b.bytes(), nil
}

// compileReturnValue computes a value, unwinds every scope, and halts.
func (c *Compiler) compileReturnValue(value Expr) error {
	typ, owned, err := c.compileExpr(value)
	if err != nil {
		return err
	}
	if typ.HeapResident() || owned {
		return errCode(CodeUnsupported)
	}
	if typ != c.retType {
		return errCode(CodeType)
	}
	c.unwindTo(0)
	c.b.emit(vm.OpHalt)
	return nil
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (c *Compiler) compileStmts(stmts []Stmt) error {
	for _, stmt := range stmts {
		if err := c.compileStmt(stmt); err != nil {
			return err
		}
		c.maybeDeadCode()
	}
	return nil
}

func (c *Compiler) compileStmt(stmt Stmt) error {
	base := c.b.depth
	var err error
	switch s := stmt.(type) {
	case *Let:
		err = c.compileLet(s)
	case *Assign:
		err = c.compileAssign(s)
	case *SetIdx:
		err = c.compileSetIdx(s)
	case *If:
		err = c.compileIf(s)
	case *While:
		err = c.compileWhile(s)
	case *ForRange:
		err = c.compileForRange(s)
	case *Loop:
		err = c.compileLoop(s)
	case *Break:
		err = c.compileBreak()
	case *Continue:
		err = c.compileContinue()
	case *Return:
		err = c.compileReturn(s)
	case *ExprStmt:
		err = c.compileExprStmt(s)
	case *Block:
		c.pushScope()
		err = c.compileStmts(s.Stmts)
		c.popScope()
	case *StructDef:
		if _, dup := c.structs[s.Name]; dup || len(s.Fields) == 0 {
			err = errCode(CodeUnsupported)
		} else {
			c.structs[s.Name] = s.Fields
		}
	default:
		err = errCode(CodeUnsupported)
	}
	if err != nil {
		return err
	}
	// Statements that do not transfer control leave the stack where they
	// found it.
	switch stmt.(type) {
	case *Break, *Continue, *Return:
	default:
		if c.b.depth != base {
			return errCode(CodeInternal)
		}
	}
	return nil
}

func (c *Compiler) compileLet(s *Let) error {
	switch v := s.Value.(type) {
	case *StructLit:
		fields, ok := c.structs[v.TypeName]
		if !ok {
			return errCode(CodeUndeclared)
		}
		if len(v.Fields) != len(fields) {
			return errCode(CodeType)
		}
		bnd, err := c.declare(s.Name, TStruct, len(fields))
		if err != nil {
			return err
		}
		bnd.Fields = fields
		byName := make(map[string]Expr, len(v.Fields))
		for _, f := range v.Fields {
			byName[f.Name] = f.Value
		}
		for i, name := range fields {
			init, ok := byName[name]
			if !ok {
				return errCode(CodeType)
			}
			if err := c.compileScalarOperand(init); err != nil {
				return err
			}
			c.b.emitU8(vm.OpStoreReg, byte(bnd.Reg+i))
		}
		return nil

	case *TupleLit:
		bnd, err := c.declare(s.Name, TTuple, len(v.Elems))
		if err != nil {
			return err
		}
		for i, elem := range v.Elems {
			if err := c.compileScalarOperand(elem); err != nil {
				return err
			}
			c.b.emitU8(vm.OpStoreReg, byte(bnd.Reg+i))
		}
		return nil
	}

	typ, owned, err := c.compileExpr(s.Value)
	if err != nil {
		return err
	}
	if typ.HeapResident() && !owned {
		// Aliasing a heap handle would double-free at scope exit.
		return errCode(CodeUnsupported)
	}
	bnd, err := c.declare(s.Name, typ, 1)
	if err != nil {
		return err
	}
	c.b.emitU8(vm.OpStoreReg, byte(bnd.Reg))
	return nil
}

func (c *Compiler) compileAssign(s *Assign) error {
	bnd := c.lookup(s.Name)
	if bnd == nil {
		return errCode(CodeUndeclared)
	}
	if bnd.Size != 1 {
		return errCode(CodeUnsupported)
	}
	typ, owned, err := c.compileExpr(s.Value)
	if err != nil {
		return err
	}
	if typ != bnd.Type {
		return errCode(CodeType)
	}
	if bnd.Heap {
		if !owned {
			return errCode(CodeUnsupported)
		}
		// Free the old run before the register is overwritten.
		c.b.emitU8(vm.OpLoadReg, byte(bnd.Reg))
		c.b.emit(vm.OpHeapFree)
	}
	c.b.emitU8(vm.OpStoreReg, byte(bnd.Reg))
	return nil
}

func (c *Compiler) compileSetIdx(s *SetIdx) error {
	typ, owned, err := c.compileExpr(s.X)
	if err != nil {
		return err
	}
	if !typ.HeapResident() || owned {
		return errCode(CodeType)
	}
	if err := c.compileIndexOperand(s.I); err != nil {
		return err
	}
	if err := c.compileScalarOperand(s.V); err != nil {
		return err
	}
	c.b.emit(vm.OpSetIdx)
	return nil
}

func (c *Compiler) compileExprStmt(s *ExprStmt) error {
	typ, owned, err := c.compileExpr(s.X)
	if err != nil {
		return err
	}
	if typ.HeapResident() && owned {
		c.b.emit(vm.OpHeapFree)
		return nil
	}
	c.b.emit(vm.OpPop)
	return nil
}

// ---------------------------------------------------------------------------
// Control flow
// ---------------------------------------------------------------------------

func (c *Compiler) compileCond(cond Expr) error {
	typ, _, err := c.compileExpr(cond)
	if err != nil {
		return err
	}
	if typ != TBool {
		return errCode(CodeType)
	}
	return nil
}

func (c *Compiler) compileIf(s *If) error {
	if err := c.compileCond(s.Cond); err != nil {
		return err
	}
	c.maybeOpaque()

	elseLabel := c.b.newLabel()
	endLabel := c.b.newLabel()
	base := c.b.depth - 1

	c.b.jump(vm.OpJz, elseLabel)
	c.pushScope()
	if err := c.compileStmts(s.Then); err != nil {
		return err
	}
	c.popScope()
	c.b.jump(vm.OpJmp, endLabel)

	c.b.mark(elseLabel)
	c.b.setDepth(base)
	if len(s.Else) > 0 {
		c.pushScope()
		if err := c.compileStmts(s.Else); err != nil {
			return err
		}
		c.popScope()
	}
	c.b.mark(endLabel)
	c.b.setDepth(base)
	return nil
}

func (c *Compiler) compileWhile(s *While) error {
	top := c.b.newLabel()
	end := c.b.newLabel()

	c.b.mark(top)
	if err := c.compileCond(s.Cond); err != nil {
		return err
	}
	c.maybeOpaque()
	base := c.b.depth - 1
	c.b.jump(vm.OpJz, end)

	c.loops = append(c.loops, loopRecord{
		continueLabel: top,
		breakLabel:    end,
		scopeDepth:    len(c.scopes),
	})
	c.pushScope()
	if err := c.compileStmts(s.Body); err != nil {
		return err
	}
	c.popScope()
	c.loops = c.loops[:len(c.loops)-1]

	c.b.jump(vm.OpJmp, top)
	c.b.mark(end)
	c.b.setDepth(base)
	return nil
}

func (c *Compiler) compileForRange(s *ForRange) error {
	c.pushScope()

	fromType, _, err := c.compileExpr(s.From)
	if err != nil {
		return err
	}
	if !fromType.Integer() {
		return errCode(CodeType)
	}
	iter, err := c.declare(s.Var, fromType, 1)
	if err != nil {
		return err
	}
	c.b.emitU8(vm.OpStoreReg, byte(iter.Reg))

	toType, _, err := c.compileExpr(s.To)
	if err != nil {
		return err
	}
	if toType != fromType {
		return errCode(CodeType)
	}
	limit, err := c.declare("$limit", fromType, 1)
	if err != nil {
		return err
	}
	c.b.emitU8(vm.OpStoreReg, byte(limit.Reg))

	top := c.b.newLabel()
	step := c.b.newLabel()
	end := c.b.newLabel()

	c.b.mark(top)
	c.b.emitU8(vm.OpLoadReg, byte(iter.Reg))
	c.b.emitU8(vm.OpLoadReg, byte(limit.Reg))
	if fromType.Signed() {
		c.b.emit(vm.OpILt)
	} else {
		c.b.emit(vm.OpLt)
	}
	c.maybeOpaque()
	base := c.b.depth - 1
	c.b.jump(vm.OpJz, end)

	c.loops = append(c.loops, loopRecord{
		continueLabel: step,
		breakLabel:    end,
		scopeDepth:    len(c.scopes),
	})
	c.pushScope()
	if err := c.compileStmts(s.Body); err != nil {
		return err
	}
	c.popScope()
	c.loops = c.loops[:len(c.loops)-1]

	c.b.mark(step)
	c.b.setDepth(base)
	c.b.emitU8(vm.OpLoadReg, byte(iter.Reg))
	c.b.emit(vm.OpInc)
	c.normalize(fromType)
	c.b.emitU8(vm.OpStoreReg, byte(iter.Reg))
	c.b.jump(vm.OpJmp, top)

	c.b.mark(end)
	c.b.setDepth(base)
	c.popScope()
	return nil
}

func (c *Compiler) compileLoop(s *Loop) error {
	top := c.b.newLabel()
	end := c.b.newLabel()
	base := c.b.depth

	c.b.mark(top)
	c.loops = append(c.loops, loopRecord{
		continueLabel: top,
		breakLabel:    end,
		scopeDepth:    len(c.scopes),
	})
	c.pushScope()
	if err := c.compileStmts(s.Body); err != nil {
		return err
	}
	c.popScope()
	c.loops = c.loops[:len(c.loops)-1]

	c.b.jump(vm.OpJmp, top)
	c.b.mark(end)
	c.b.setDepth(base)
	return nil
}

func (c *Compiler) compileBreak() error {
	if len(c.loops) == 0 {
		return errCode(CodeUnsupported)
	}
	loop := c.loops[len(c.loops)-1]
	c.unwindTo(loop.scopeDepth)
	c.b.jump(vm.OpJmp, loop.breakLabel)
	return nil
}

func (c *Compiler) compileContinue() error {
	if len(c.loops) == 0 {
		return errCode(CodeUnsupported)
	}
	loop := c.loops[len(c.loops)-1]
	c.unwindTo(loop.scopeDepth)
	c.b.jump(vm.OpJmp, loop.continueLabel)
	return nil
}

func (c *Compiler) compileReturn(s *Return) error {
	if s.Value == nil {
		if c.retType != TUnit {
			return errCode(CodeType)
		}
		c.unwindTo(0)
		c.b.emit(vm.OpHalt)
		return nil
	}
	if err := c.compileReturnValue(s.Value); err != nil {
		return err
	}
	// compileReturnValue consumed the pushed value conceptually; the
	// tracker still counts it on paths that continue past this statement.
	c.b.adjust(-1)
	return nil
}
