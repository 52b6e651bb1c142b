package compiler

import "github.com/chazu/veil/vm"

// ---------------------------------------------------------------------------
// Match compilation: patterns become decision trees
// ---------------------------------------------------------------------------

// matchSubject describes where the subject lives while arms are tested.
type matchSubject struct {
	regs    []int // one register per scalar element
	typ     Type  // element type for scalar subjects
	fields  []string
	scratch int // scratch registers to release afterwards
}

// compileMatch lowers a match expression. Each arm tests its pattern,
// binds, evaluates its guard, and either produces the arm body's value or
// falls to the next arm. A match with no irrefutable arm gets a trap at
// the fall-through point.
func (c *Compiler) compileMatch(m *Match) error {
	if len(m.Arms) == 0 {
		return errCode(CodeUnsupported)
	}
	subj, err := c.compileSubject(m.Subject)
	if err != nil {
		return err
	}

	base := c.b.depth
	end := c.b.newLabel()

	done := false
	for _, arm := range m.Arms {
		irrefutable := patternIrrefutable(arm.Pat) && arm.Guard == nil
		next := c.b.newLabel()

		if !irrefutable {
			if err := c.emitPatternTest(arm.Pat, subj); err != nil {
				return err
			}
			c.b.jump(vm.OpJz, next)
		}

		c.pushScope()
		if err := c.emitPatternBindings(arm.Pat, subj); err != nil {
			return err
		}
		if arm.Guard != nil {
			typ, owned, err := c.compileExpr(arm.Guard)
			if err != nil {
				return err
			}
			if typ != TBool || owned {
				return errCode(CodeType)
			}
			c.b.jump(vm.OpJz, next)
		}
		typ, owned, err := c.compileExpr(arm.Body)
		if err != nil {
			return err
		}
		if typ != m.Type || owned {
			return errCode(CodeType)
		}
		c.popScope()
		c.b.jump(vm.OpJmp, end)

		c.b.mark(next)
		c.b.setDepth(base)

		if irrefutable {
			done = true
			break
		}
	}

	if !done {
		// Statically reachable fall-through: trap rather than run off the
		// end of the decision tree.
		c.b.emitU8(vm.OpTrap, vm.TrapNonExhaustiveMatch)
	}

	c.b.mark(end)
	c.b.setDepth(base + 1)

	if subj.scratch > 0 {
		c.freeScratch(subj.scratch)
	}
	return nil
}

// compileSubject evaluates the match subject into registers.
func (c *Compiler) compileSubject(e Expr) (*matchSubject, error) {
	switch x := e.(type) {
	case *TupleLit:
		reg, err := c.allocScratchRun(len(x.Elems))
		if err != nil {
			return nil, err
		}
		subj := &matchSubject{typ: TU64, scratch: len(x.Elems)}
		for i, elem := range x.Elems {
			if err := c.compileScalarOperand(elem); err != nil {
				return nil, err
			}
			c.b.emitU8(vm.OpStoreReg, byte(reg+i))
			subj.regs = append(subj.regs, reg+i)
		}
		return subj, nil

	case *Var:
		bnd := c.lookup(x.Name)
		if bnd == nil {
			return nil, errCode(CodeUndeclared)
		}
		if bnd.Size > 1 {
			subj := &matchSubject{typ: TU64, fields: bnd.Fields}
			for i := 0; i < bnd.Size; i++ {
				subj.regs = append(subj.regs, bnd.Reg+i)
			}
			return subj, nil
		}
	}

	typ, owned, err := c.compileExpr(e)
	if err != nil {
		return nil, err
	}
	if owned || typ.HeapResident() {
		return nil, errCode(CodeUnsupported)
	}
	reg, err := c.allocScratch()
	if err != nil {
		return nil, err
	}
	c.b.emitU8(vm.OpStoreReg, byte(reg))
	return &matchSubject{regs: []int{reg}, typ: typ, scratch: 1}, nil
}

// ---------------------------------------------------------------------------
// Pattern tests
// ---------------------------------------------------------------------------

// emitPatternTest pushes 1 when the subject matches the pattern.
func (c *Compiler) emitPatternTest(pat Pattern, subj *matchSubject) error {
	switch p := pat.(type) {
	case *PatWild:
		c.b.emitU8(vm.OpPushU8, 1)
		return nil

	case *PatBind:
		if p.Inner == nil {
			c.b.emitU8(vm.OpPushU8, 1)
			return nil
		}
		return c.emitPatternTest(p.Inner, subj)

	case *PatLit:
		if len(subj.regs) != 1 {
			return errCode(CodeType)
		}
		c.b.emitU8(vm.OpLoadReg, byte(subj.regs[0]))
		c.pushLiteral(p.Value)
		c.b.emit(vm.OpEq)
		return nil

	case *PatRange:
		if len(subj.regs) != 1 {
			return errCode(CodeType)
		}
		signed := subj.typ.Signed()
		c.b.emitU8(vm.OpLoadReg, byte(subj.regs[0]))
		c.pushLiteral(p.Lo)
		c.b.emit(pick(signed, vm.OpIGe, vm.OpGe))
		c.b.emitU8(vm.OpLoadReg, byte(subj.regs[0]))
		c.pushLiteral(p.Hi)
		c.b.emit(pick(signed, vm.OpILe, vm.OpLe))
		c.b.emit(vm.OpAnd)
		return nil

	case *PatOr:
		if len(p.Pats) == 0 {
			return errCode(CodeUnsupported)
		}
		for i, sub := range p.Pats {
			if patternBindsNames(sub) {
				return errCode(CodeUnsupported)
			}
			if err := c.emitPatternTest(sub, subj); err != nil {
				return err
			}
			if i > 0 {
				c.b.emit(vm.OpOr)
			}
		}
		return nil

	case *PatTuple:
		return c.emitElementTests(p.Elems, subj)

	case *PatTupleStruct:
		return c.emitElementTests(p.Elems, subj)

	case *PatStruct:
		if subj.fields == nil {
			return errCode(CodeType)
		}
		first := true
		for _, name := range subj.fields {
			sub, ok := p.Fields[name]
			if !ok {
				continue
			}
			idx := fieldIndex(subj.fields, name)
			elemSubj := &matchSubject{regs: subj.regs[idx : idx+1], typ: TU64}
			if err := c.emitPatternTest(sub, elemSubj); err != nil {
				return err
			}
			if !first {
				c.b.emit(vm.OpAnd)
			}
			first = false
		}
		if first {
			c.b.emitU8(vm.OpPushU8, 1)
		}
		return nil
	}
	return errCode(CodeUnsupported)
}

func (c *Compiler) emitElementTests(elems []Pattern, subj *matchSubject) error {
	if len(elems) != len(subj.regs) {
		return errCode(CodeType)
	}
	first := true
	for i, sub := range elems {
		if _, wild := sub.(*PatWild); wild {
			continue
		}
		if bind, ok := sub.(*PatBind); ok && bind.Inner == nil {
			continue
		}
		elemSubj := &matchSubject{regs: subj.regs[i : i+1], typ: subj.typ}
		if err := c.emitPatternTest(sub, elemSubj); err != nil {
			return err
		}
		if !first {
			c.b.emit(vm.OpAnd)
		}
		first = false
	}
	if first {
		c.b.emitU8(vm.OpPushU8, 1)
	}
	return nil
}

// emitPatternBindings declares and fills the names a pattern binds. Runs
// inside the arm's scope frame, after the test succeeded.
func (c *Compiler) emitPatternBindings(pat Pattern, subj *matchSubject) error {
	switch p := pat.(type) {
	case *PatBind:
		if len(subj.regs) != 1 {
			return errCode(CodeUnsupported)
		}
		bnd, err := c.declare(p.Name, subj.typ, 1)
		if err != nil {
			return err
		}
		c.b.emitU8(vm.OpLoadReg, byte(subj.regs[0]))
		c.b.emitU8(vm.OpStoreReg, byte(bnd.Reg))
		if p.Inner != nil {
			return c.emitPatternBindings(p.Inner, subj)
		}
		return nil

	case *PatTuple:
		return c.emitElementBindings(p.Elems, subj)

	case *PatTupleStruct:
		return c.emitElementBindings(p.Elems, subj)

	case *PatStruct:
		for _, name := range subj.fields {
			sub, ok := p.Fields[name]
			if !ok {
				continue
			}
			idx := fieldIndex(subj.fields, name)
			elemSubj := &matchSubject{regs: subj.regs[idx : idx+1], typ: TU64}
			if err := c.emitPatternBindings(sub, elemSubj); err != nil {
				return err
			}
		}
		return nil
	}
	return nil
}

func (c *Compiler) emitElementBindings(elems []Pattern, subj *matchSubject) error {
	if len(elems) != len(subj.regs) {
		return errCode(CodeType)
	}
	for i, sub := range elems {
		elemSubj := &matchSubject{regs: subj.regs[i : i+1], typ: subj.typ}
		if err := c.emitPatternBindings(sub, elemSubj); err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Static pattern analysis
// ---------------------------------------------------------------------------

// patternIrrefutable reports whether a pattern matches every subject.
func patternIrrefutable(pat Pattern) bool {
	switch p := pat.(type) {
	case *PatWild:
		return true
	case *PatBind:
		return p.Inner == nil || patternIrrefutable(p.Inner)
	case *PatTuple:
		for _, sub := range p.Elems {
			if !patternIrrefutable(sub) {
				return false
			}
		}
		return true
	case *PatOr:
		for _, sub := range p.Pats {
			if patternIrrefutable(sub) {
				return true
			}
		}
	}
	return false
}

// patternBindsNames reports whether a pattern introduces bindings;
// or-pattern alternatives may not.
func patternBindsNames(pat Pattern) bool {
	switch p := pat.(type) {
	case *PatBind:
		return true
	case *PatTuple:
		for _, sub := range p.Elems {
			if patternBindsNames(sub) {
				return true
			}
		}
	case *PatTupleStruct:
		for _, sub := range p.Elems {
			if patternBindsNames(sub) {
				return true
			}
		}
	case *PatStruct:
		for _, sub := range p.Fields {
			if patternBindsNames(sub) {
				return true
			}
		}
	case *PatOr:
		for _, sub := range p.Pats {
			if patternBindsNames(sub) {
				return true
			}
		}
	}
	return false
}

func fieldIndex(fields []string, name string) int {
	for i, f := range fields {
		if f == name {
			return i
		}
	}
	return -1
}

func pick(cond bool, a, b vm.Opcode) vm.Opcode {
	if cond {
		return a
	}
	return b
}
