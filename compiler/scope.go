package compiler

import "github.com/chazu/veil/vm"

// ---------------------------------------------------------------------------
// Scopes, loops, registers
// ---------------------------------------------------------------------------

// binding is one named local. Scalars occupy a single register; struct and
// tuple values occupy Size consecutive registers starting at Reg.
type binding struct {
	Reg    int
	Type   Type
	Size   int      // 1 for scalars
	Fields []string // field order for struct bindings
	Heap   bool     // true when the register holds a heap handle
}

// scopeFrame is one lexical scope. Frames form a stack; inner frames
// shadow outer ones.
type scopeFrame struct {
	names map[string]*binding
	order []*binding // declaration order, for reverse cleanup
	base  int        // first register this frame allocated
}

// loopRecord tracks one active loop. Break and continue consult the
// entry-scope depth to know how many frames to unwind.
type loopRecord struct {
	continueLabel label
	breakLabel    label
	scopeDepth    int
}

// scratchBase is the bottom of the scratch register pool. Locals grow from
// register 0; scratch registers for substitution rewrites and match
// subjects grow down from the top of the file.
const scratchBase = vm.NumRegisters - 16

func (c *Compiler) pushScope() {
	c.scopes = append(c.scopes, &scopeFrame{
		names: make(map[string]*binding),
		base:  c.nextReg,
	})
}

// popScope drops the innermost frame, emitting HEAP_FREE for its
// heap-resident bindings in reverse declaration order.
func (c *Compiler) popScope() {
	frame := c.scopes[len(c.scopes)-1]
	c.emitFrameCleanup(frame)
	c.scopes = c.scopes[:len(c.scopes)-1]
	c.nextReg = frame.base
}

// emitFrameCleanup frees a frame's heap bindings without touching the
// compile-time scope state. Break, continue, and return use it to unwind
// frames they do not pop.
func (c *Compiler) emitFrameCleanup(frame *scopeFrame) {
	for i := len(frame.order) - 1; i >= 0; i-- {
		bnd := frame.order[i]
		if bnd.Heap {
			c.b.emitU8(vm.OpLoadReg, byte(bnd.Reg))
			c.b.emit(vm.OpHeapFree)
		}
	}
}

// unwindTo emits cleanup for every frame above depth, innermost first.
// Scope state is left intact; only bytecode is emitted.
func (c *Compiler) unwindTo(depth int) {
	for i := len(c.scopes) - 1; i >= depth; i-- {
		c.emitFrameCleanup(c.scopes[i])
	}
}

// declare binds a name in the innermost frame and allocates its
// register(s).
func (c *Compiler) declare(name string, typ Type, size int) (*binding, error) {
	if size < 1 {
		size = 1
	}
	if c.nextReg+size > c.scratchTop() {
		return nil, errCode(CodeInternal)
	}
	bnd := &binding{
		Reg:  c.nextReg,
		Type: typ,
		Size: size,
		Heap: typ.HeapResident(),
	}
	c.nextReg += size
	frame := c.scopes[len(c.scopes)-1]
	frame.names[name] = bnd
	frame.order = append(frame.order, bnd)
	return bnd, nil
}

// lookup resolves a name against the scope stack, innermost first.
func (c *Compiler) lookup(name string) *binding {
	for i := len(c.scopes) - 1; i >= 0; i-- {
		if bnd, ok := c.scopes[i].names[name]; ok {
			return bnd
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Scratch registers
// ---------------------------------------------------------------------------

func (c *Compiler) scratchTop() int {
	return vm.NumRegisters - c.scratchUsed
}

// allocScratch reserves a register from the top-down pool.
func (c *Compiler) allocScratch() (int, error) {
	if c.scratchUsed >= vm.NumRegisters-scratchBase {
		return 0, errCode(CodeInternal)
	}
	c.scratchUsed++
	return vm.NumRegisters - c.scratchUsed, nil
}

// allocScratchRun reserves n consecutive scratch registers and returns the
// lowest index.
func (c *Compiler) allocScratchRun(n int) (int, error) {
	if c.scratchUsed+n > vm.NumRegisters-scratchBase {
		return 0, errCode(CodeInternal)
	}
	c.scratchUsed += n
	return vm.NumRegisters - c.scratchUsed, nil
}

func (c *Compiler) freeScratch(n int) {
	c.scratchUsed -= n
}
