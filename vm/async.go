package vm

import "runtime"

// ---------------------------------------------------------------------------
// Cooperative driver
// ---------------------------------------------------------------------------

// AsyncEngine wraps an Engine with a cooperative yield every
// yield-mask + 1 instructions. The yield fragments the native call graph
// an analyst sees; it never releases state and the output is identical to
// the synchronous engine's for every program and input. Handlers never
// suspend; only the outer loop yields.
type AsyncEngine struct {
	engine *Engine
	yield  func()
}

// NewAsyncEngine creates a cooperative driver over an engine. A nil yield
// defaults to handing the processor to the Go scheduler.
func NewAsyncEngine(e *Engine, yield func()) *AsyncEngine {
	if yield == nil {
		yield = runtime.Gosched
	}
	return &AsyncEngine{engine: e, yield: yield}
}

// Execute loads an envelope and runs it with cooperative yields.
func (a *AsyncEngine) Execute(env, input []byte) (uint64, error) {
	return a.ExecuteWithNatives(env, input, nil)
}

// ExecuteWithNatives loads an envelope and runs it with a native table and
// cooperative yields.
func (a *AsyncEngine) ExecuteWithNatives(env, input []byte, natives *NativeTable) (uint64, error) {
	loaded, err := a.engine.Load(env)
	if err != nil {
		return 0, err
	}
	return a.Run(loaded, input, natives)
}

// Run executes a loaded program with cooperative yields.
func (a *AsyncEngine) Run(loaded *Loaded, input []byte, natives *NativeTable) (uint64, error) {
	st := newState(loaded.code, loaded.boundary, input, natives.slice(),
		a.engine.material.RegionOffset, a.engine.material.RegionPrime)
	if err := a.engine.loop(st, a.yield); err != nil {
		return 0, err
	}
	return st.result, nil
}
