package vm

import (
	"fmt"

	"github.com/chazu/veil/envelope"
	"github.com/chazu/veil/seed"
)

// ---------------------------------------------------------------------------
// Engine: load, verify, run
// ---------------------------------------------------------------------------

// Engine executes sealed bytecode. It is constructed once per build seed
// and may run any number of invocations; all mutable state lives in the
// per-invocation State. The dispatch table is immutable after construction.
type Engine struct {
	material *seed.Material
	table    *OpcodeTable
	dispatch [256]handlerFunc
}

// NewEngine derives the opcode table and dispatch table for a build.
func NewEngine(m *seed.Material) *Engine {
	table := NewOpcodeTable(m)
	return &Engine{
		material: m,
		table:    table,
		dispatch: buildDispatch(table),
	}
}

// Table returns the engine's opcode table.
func (e *Engine) Table() *OpcodeTable {
	return e.table
}

// Loaded is a verified program ready for execution.
type Loaded struct {
	code     []byte
	boundary []bool
}

// Code returns the decoded-side bytecode bytes (still in their encoded
// byte alphabet; decoding happens per fetch through the dispatch table).
func (l *Loaded) Code() []byte {
	return l.code
}

// Load opens an envelope, verifies it against this build, and checks that
// the embedded opcode table matches the seed-derived one.
func (e *Engine) Load(env []byte) (*Loaded, error) {
	body, err := envelope.Open(e.material, env)
	if err != nil {
		return nil, err
	}
	embedded, err := ParseOpcodeTable(body.OpcodeTable)
	if err != nil {
		return nil, fmt.Errorf("vm: embedded opcode table: %w", err)
	}
	if !embedded.Equal(e.table) {
		return nil, &envelope.LoadError{Kind: envelope.BuildMismatch}
	}
	return &Loaded{
		code:     body.Code,
		boundary: scanBoundaries(body.Code, e.table),
	}, nil
}

// Execute loads an envelope and runs it over the input with no host
// functions.
func (e *Engine) Execute(env, input []byte) (uint64, error) {
	return e.ExecuteWithNatives(env, input, nil)
}

// ExecuteWithNatives loads an envelope and runs it with a native table.
func (e *Engine) ExecuteWithNatives(env, input []byte, natives *NativeTable) (uint64, error) {
	loaded, err := e.Load(env)
	if err != nil {
		return 0, err
	}
	return e.Run(loaded, input, natives)
}

// Run executes a previously loaded program. Each call gets fresh state: a
// new empty stack, zeroed registers, a fresh heap, and IP 0.
func (e *Engine) Run(loaded *Loaded, input []byte, natives *NativeTable) (uint64, error) {
	st := newState(loaded.code, loaded.boundary, input, natives.slice(),
		e.material.RegionOffset, e.material.RegionPrime)
	if err := e.loop(st, nil); err != nil {
		return 0, err
	}
	return st.result, nil
}

// RunState executes a loaded program and returns the final state, so a
// caller can observe the heap counter and instruction count.
func (e *Engine) RunState(loaded *Loaded, input []byte, natives *NativeTable) (*State, error) {
	st := newState(loaded.code, loaded.boundary, input, natives.slice(),
		e.material.RegionOffset, e.material.RegionPrime)
	if err := e.loop(st, nil); err != nil {
		return nil, err
	}
	return st, nil
}

// loop is the fetch/execute loop: read byte, advance, one indexed call
// through the dispatch table. An optional yield hook is invoked by the
// cooperative driver; the synchronous engine passes nil.
func (e *Engine) loop(st *State, yield func()) error {
	yieldMask := e.material.YieldMask
	for !st.halted && st.ip < len(st.code) {
		st.icount++
		if st.icount > MaxInstructions {
			return &Fault{Kind: BudgetExceeded, IP: st.ip}
		}

		st.opIP = st.ip
		b := st.code[st.ip]
		st.ip++
		if err := e.dispatch[b](st); err != nil {
			return err
		}

		if yield != nil && st.icount&yieldMask == 0 {
			yield()
		}
	}
	return nil
}

// Result returns the output word of a finished state.
func (st *State) Result() uint64 {
	return st.result
}

// LiveAllocations returns the heap's live-allocation counter.
func (st *State) LiveAllocations() int {
	return st.heap.Live()
}

// Instructions returns the number of instructions retired.
func (st *State) Instructions() uint64 {
	return st.icount
}
