package compiler

import (
	"encoding/binary"

	"github.com/chazu/veil/vm"
)

// ---------------------------------------------------------------------------
// builder: bytecode emission with label fixups
// ---------------------------------------------------------------------------

// label indexes the builder's fixup list. Labels are indices, never
// pointers, so loop records can hold them without back-references.
type label int

type fixupEntry struct {
	resolved bool
	target   int
	sites    []int // operand offsets awaiting the target
}

// builder accumulates encoded bytecode. Every opcode byte passes through
// the build's encode permutation at append time; operands are written raw.
// The builder also tracks the static stack depth so the compiler can
// reject programs whose shape would overflow at runtime.
type builder struct {
	table  *vm.OpcodeTable
	buf    []byte
	fixups []fixupEntry

	depth    int
	maxDepth int
	depthErr bool
}

func newBuilder(table *vm.OpcodeTable) *builder {
	return &builder{table: table, buf: make([]byte, 0, 256)}
}

func (b *builder) bytes() []byte {
	return b.buf
}

func (b *builder) pos() int {
	return len(b.buf)
}

// adjust moves the static depth tracker and records violations.
func (b *builder) adjust(delta int) {
	b.depth += delta
	if b.depth < 0 || b.depth > vm.MaxStack {
		b.depthErr = true
	}
	if b.depth > b.maxDepth {
		b.maxDepth = b.depth
	}
}

// setDepth overrides the tracker at join points (after branches whose arms
// agree on the resulting shape).
func (b *builder) setDepth(d int) {
	b.depth = d
}

func (b *builder) emit(op vm.Opcode) {
	b.buf = append(b.buf, b.table.Encode(op))
	b.adjust(op.Info().StackEffect)
}

func (b *builder) emitU8(op vm.Opcode, operand byte) {
	b.buf = append(b.buf, b.table.Encode(op), operand)
	b.adjust(op.Info().StackEffect)
}

func (b *builder) emitU16(op vm.Opcode, operand uint16) {
	b.buf = append(b.buf, b.table.Encode(op), byte(operand), byte(operand>>8))
	b.adjust(op.Info().StackEffect)
}

func (b *builder) emitU32(op vm.Opcode, operand uint32) {
	b.buf = append(b.buf, b.table.Encode(op))
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], operand)
	b.buf = append(b.buf, tmp[:]...)
	b.adjust(op.Info().StackEffect)
}

func (b *builder) emitU64(op vm.Opcode, operand uint64) {
	b.buf = append(b.buf, b.table.Encode(op))
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], operand)
	b.buf = append(b.buf, tmp[:]...)
	b.adjust(op.Info().StackEffect)
}

// pushConst emits the narrowest push for a value. The value cryptor
// replaces this for protected literals.
func (b *builder) pushConst(v uint64) {
	switch {
	case v <= 0xFF:
		b.emitU8(vm.OpPushU8, byte(v))
	case v <= 0xFFFF:
		b.emitU16(vm.OpPushU16, uint16(v))
	case v <= 0xFFFFFFFF:
		b.emitU32(vm.OpPushU32, uint32(v))
	default:
		b.emitU64(vm.OpPushU64, v)
	}
}

// emitNative appends a NATIVE_CALL with its variable stack effect.
func (b *builder) emitNative(idx, argc byte) {
	b.buf = append(b.buf, b.table.Encode(vm.OpNativeCall), idx, argc)
	b.adjust(1 - int(argc))
}

// ---------------------------------------------------------------------------
// Labels
// ---------------------------------------------------------------------------

func (b *builder) newLabel() label {
	b.fixups = append(b.fixups, fixupEntry{})
	return label(len(b.fixups) - 1)
}

// mark resolves a label to the current position and patches every site
// recorded for it.
func (b *builder) mark(l label) {
	f := &b.fixups[l]
	f.resolved = true
	f.target = len(b.buf)
	for _, site := range f.sites {
		binary.LittleEndian.PutUint32(b.buf[site:], uint32(f.target))
	}
	f.sites = nil
}

// jump emits a control-flow opcode targeting a label, patching later if
// the label is still open.
func (b *builder) jump(op vm.Opcode, l label) {
	b.buf = append(b.buf, b.table.Encode(op))
	site := len(b.buf)
	f := &b.fixups[l]
	if f.resolved {
		var tmp [4]byte
		binary.LittleEndian.PutUint32(tmp[:], uint32(f.target))
		b.buf = append(b.buf, tmp[:]...)
	} else {
		f.sites = append(f.sites, site)
		b.buf = append(b.buf, 0, 0, 0, 0)
	}
	b.adjust(op.Info().StackEffect)
}
