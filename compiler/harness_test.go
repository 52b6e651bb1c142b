package compiler

import (
	"testing"

	"github.com/chazu/veil/envelope"
	"github.com/chazu/veil/manifest"
	"github.com/chazu/veil/seed"
	"github.com/chazu/veil/vm"
)

// ---------------------------------------------------------------------------
// Test harness: compile, seal, run
// ---------------------------------------------------------------------------

func testMaterial(t *testing.T, fill byte) *seed.Material {
	t.Helper()
	var s seed.Seed
	for i := range s {
		s[i] = fill ^ byte(i)
	}
	m, err := seed.Derive(s)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	return m
}

// pipeline bundles one build seed's compile and execution sides.
type pipeline struct {
	material *seed.Material
	engine   *vm.Engine
	hosts    *HostTable
}

func newPipeline(t *testing.T, fill byte) *pipeline {
	t.Helper()
	m := testMaterial(t, fill)
	return &pipeline{
		material: m,
		engine:   vm.NewEngine(m),
		hosts:    NewHostTable(),
	}
}

func (p *pipeline) compile(t *testing.T, unit *Unit, level manifest.Level) []byte {
	t.Helper()
	code, err := Compile(unit, Options{
		Level:    level,
		Material: p.material,
		Table:    p.engine.Table(),
		Hosts:    p.hosts,
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return code
}

func (p *pipeline) seal(t *testing.T, code []byte, level manifest.Level) []byte {
	t.Helper()
	env, err := envelope.Seal(p.material, &envelope.Body{
		OpcodeTable: p.engine.Table().Serialize(),
		Code:        code,
	}, level)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	return env
}

// run compiles, seals, and executes a unit.
func (p *pipeline) run(t *testing.T, unit *Unit, level manifest.Level, input []byte, natives *vm.NativeTable) (uint64, error) {
	t.Helper()
	code := p.compile(t, unit, level)
	env := p.seal(t, code, level)
	return p.engine.ExecuteWithNatives(env, input, natives)
}

// runState compiles, seals, and executes a unit, returning the final state.
func (p *pipeline) runState(t *testing.T, unit *Unit, level manifest.Level, input []byte) *vm.State {
	t.Helper()
	code := p.compile(t, unit, level)
	env := p.seal(t, code, level)
	loaded, err := p.engine.Load(env)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	st, err := p.engine.RunState(loaded, input, nil)
	if err != nil {
		t.Fatalf("RunState: %v", err)
	}
	return st
}

// mustRun fails the test on any fault.
func (p *pipeline) mustRun(t *testing.T, unit *Unit, level manifest.Level, input []byte) uint64 {
	t.Helper()
	result, err := p.run(t, unit, level, input, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	return result
}

// allLevels runs a subtest per protection level.
func allLevels(t *testing.T, f func(t *testing.T, level manifest.Level)) {
	for _, level := range []manifest.Level{
		manifest.LevelDebug, manifest.LevelStandard, manifest.LevelParanoid,
	} {
		t.Run(string(level), func(t *testing.T) { f(t, level) })
	}
}

// Convenience constructors keep unit trees readable.

func u64(v uint64) *Lit   { return &Lit{Type: TU64, Value: v} }
func u8lit(v uint64) *Lit { return &Lit{Type: TU8, Value: v} }

func boolLit(b bool) *Lit {
	l := &Lit{Type: TBool}
	if b {
		l.Value = 1
	}
	return l
}

func v(name string) *Var    { return &Var{Name: name} }
func add(x, y Expr) *Binary { return &Binary{Op: OpAddB, X: x, Y: y} }
func sub(x, y Expr) *Binary { return &Binary{Op: OpSubB, X: x, Y: y} }
func mul(x, y Expr) *Binary { return &Binary{Op: OpMulB, X: x, Y: y} }
func xor(x, y Expr) *Binary { return &Binary{Op: OpXorB, X: x, Y: y} }
func eq(x, y Expr) *Binary  { return &Binary{Op: OpEqB, X: x, Y: y} }
func lt(x, y Expr) *Binary  { return &Binary{Op: OpLtB, X: x, Y: y} }
func gt(x, y Expr) *Binary  { return &Binary{Op: OpGtB, X: x, Y: y} }
