// Package veil ties the build pipeline to the execution engine: a typed
// tree goes in, a sealed envelope comes out, and the engine runs envelopes
// produced by the same build seed.
package veil

import (
	"fmt"

	"github.com/chazu/veil/compiler"
	"github.com/chazu/veil/envelope"
	"github.com/chazu/veil/manifest"
	"github.com/chazu/veil/seed"
	"github.com/chazu/veil/vm"
)

// Builder compiles and seals protected units for one build seed. Both the
// compiler and the envelope draw from the same material, so artifacts are
// bound to the seed that built them.
type Builder struct {
	material *seed.Material
	engine   *vm.Engine
	hosts    *compiler.HostTable
}

// NewBuilder creates a builder (and its engine) for a seed.
func NewBuilder(m *seed.Material) *Builder {
	return &Builder{
		material: m,
		engine:   vm.NewEngine(m),
		hosts:    compiler.NewHostTable(),
	}
}

// Hosts returns the compile-time host table. Register every host function
// a unit calls before building it; the runtime native table must register
// the same names in the same order.
func (b *Builder) Hosts() *compiler.HostTable {
	return b.hosts
}

// Engine returns the engine for this build seed.
func (b *Builder) Engine() *vm.Engine {
	return b.engine
}

// Build lowers a unit at the given protection level and seals the result.
func (b *Builder) Build(unit *compiler.Unit, level manifest.Level) ([]byte, error) {
	code, err := compiler.Compile(unit, compiler.Options{
		Level:    level,
		Material: b.material,
		Table:    b.engine.Table(),
		Hosts:    b.hosts,
	})
	if err != nil {
		return nil, fmt.Errorf("veil: building %s: %w", unit.Name, err)
	}
	body := &envelope.Body{
		OpcodeTable: b.engine.Table().Serialize(),
		Code:        code,
	}
	env, err := envelope.Seal(b.material, body, level)
	if err != nil {
		return nil, fmt.Errorf("veil: sealing %s: %w", unit.Name, err)
	}
	return env, nil
}

// Execute runs a sealed envelope over an input with no host functions.
func (b *Builder) Execute(env, input []byte) (uint64, error) {
	return b.engine.Execute(env, input)
}

// ExecuteWithNatives runs a sealed envelope with a native table.
func (b *Builder) ExecuteWithNatives(env, input []byte, natives *vm.NativeTable) (uint64, error) {
	return b.engine.ExecuteWithNatives(env, input, natives)
}
