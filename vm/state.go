package vm

import "encoding/binary"

// Execution bounds. Stack and heap have fixed maxima; exceeding either
// faults rather than growing.
const (
	MaxStack        = 1024
	MaxCallDepth    = 128
	NumRegisters    = 256
	MaxInstructions = 8_000_000
)

// ---------------------------------------------------------------------------
// State: per-invocation VM state
// ---------------------------------------------------------------------------

// State is the mutable state of one invocation. No two invocations share a
// State; everything here is reset by the engine before the loop starts.
type State struct {
	code     []byte
	boundary []bool // true at offsets that start an instruction

	input  []byte
	result uint64

	stack     []uint64
	regs      [NumRegisters]uint64
	callStack []int
	heap      Heap

	ip     int
	opIP   int // offset of the opcode currently being executed
	icount uint64
	halted bool

	natives []NativeFunc

	// Build-specific FNV constants, used by the HASH opcode.
	fnvOffset uint64
	fnvPrime  uint64
}

func newState(code []byte, boundary []bool, input []byte, natives []NativeFunc, fnvOffset, fnvPrime uint64) *State {
	return &State{
		code:      code,
		boundary:  boundary,
		input:     input,
		stack:     make([]uint64, 0, 64),
		callStack: make([]int, 0, 16),
		heap:      newHeap(),
		natives:   natives,
		fnvOffset: fnvOffset,
		fnvPrime:  fnvPrime,
	}
}

// ---------------------------------------------------------------------------
// Stack operations
// ---------------------------------------------------------------------------

func (st *State) push(v uint64) error {
	if len(st.stack) >= MaxStack {
		return st.fault(StackOverflow)
	}
	st.stack = append(st.stack, v)
	return nil
}

func (st *State) pop() (uint64, error) {
	if len(st.stack) == 0 {
		return 0, st.fault(StackUnderflow)
	}
	v := st.stack[len(st.stack)-1]
	st.stack = st.stack[:len(st.stack)-1]
	return v, nil
}

func (st *State) pop2() (a, b uint64, err error) {
	if b, err = st.pop(); err != nil {
		return 0, 0, err
	}
	if a, err = st.pop(); err != nil {
		return 0, 0, err
	}
	return a, b, nil
}

func (st *State) peek() (uint64, error) {
	if len(st.stack) == 0 {
		return 0, st.fault(StackUnderflow)
	}
	return st.stack[len(st.stack)-1], nil
}

// replaceTop rewrites the top of stack in place.
func (st *State) replaceTop(f func(uint64) uint64) error {
	if len(st.stack) == 0 {
		return st.fault(StackUnderflow)
	}
	st.stack[len(st.stack)-1] = f(st.stack[len(st.stack)-1])
	return nil
}

// binop pops two operands and pushes f(a, b).
func (st *State) binop(f func(a, b uint64) uint64) error {
	a, b, err := st.pop2()
	if err != nil {
		return err
	}
	st.stack = append(st.stack, f(a, b))
	return nil
}

// ---------------------------------------------------------------------------
// Operand reading
// ---------------------------------------------------------------------------

func (st *State) readU8() (byte, error) {
	if st.ip >= len(st.code) {
		return 0, st.fault(IllegalOpcode)
	}
	v := st.code[st.ip]
	st.ip++
	return v, nil
}

func (st *State) readU16() (uint16, error) {
	if st.ip+2 > len(st.code) {
		return 0, st.fault(IllegalOpcode)
	}
	v := binary.LittleEndian.Uint16(st.code[st.ip:])
	st.ip += 2
	return v, nil
}

func (st *State) readU32() (uint32, error) {
	if st.ip+4 > len(st.code) {
		return 0, st.fault(IllegalOpcode)
	}
	v := binary.LittleEndian.Uint32(st.code[st.ip:])
	st.ip += 4
	return v, nil
}

func (st *State) readU64() (uint64, error) {
	if st.ip+8 > len(st.code) {
		return 0, st.fault(IllegalOpcode)
	}
	v := binary.LittleEndian.Uint64(st.code[st.ip:])
	st.ip += 8
	return v, nil
}

// jumpTo validates a jump target: in bounds and on an opcode boundary.
func (st *State) jumpTo(target uint32) error {
	t := int(target)
	if t >= len(st.code) || !st.boundary[t] {
		return st.fault(JumpOutOfBounds)
	}
	st.ip = t
	return nil
}

// ---------------------------------------------------------------------------
// Input access
// ---------------------------------------------------------------------------

func (st *State) inputAt(off, width int) (uint64, error) {
	if off < 0 || off+width > len(st.input) {
		return 0, st.fault(HeapOutOfRange)
	}
	var v uint64
	for i := width - 1; i >= 0; i-- {
		v = v<<8 | uint64(st.input[off+i])
	}
	return v, nil
}

// inputWord returns the first 8 input bytes as a little-endian word,
// zero-padded when the input is shorter.
func (st *State) inputWord() uint64 {
	var v uint64
	n := len(st.input)
	if n > 8 {
		n = 8
	}
	for i := n - 1; i >= 0; i-- {
		v = v<<8 | uint64(st.input[i])
	}
	return v
}
