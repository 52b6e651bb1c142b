// Package manifest handles veil.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Level selects how much protection a unit's artifact carries. The default
// is LevelStandard.
type Level string

const (
	// LevelDebug disables encryption, opaque predicates and dead code, and
	// keeps substitution density low (1/4); the build id is still validated
	// at load.
	LevelDebug Level = "debug"
	// LevelStandard seals the artifact with the authenticated cipher.
	LevelStandard Level = "standard"
	// LevelParanoid adds the region table and the value cryptor, and runs
	// every substitution at full density.
	LevelParanoid Level = "paranoid"
)

// Valid reports whether l names a known level.
func (l Level) Valid() bool {
	switch l {
	case LevelDebug, LevelStandard, LevelParanoid:
		return true
	}
	return false
}

// Manifest represents a veil.toml project configuration.
type Manifest struct {
	Project Project         `toml:"project"`
	Build   Build           `toml:"build"`
	Units   map[string]Unit `toml:"units"`

	// Dir is the directory containing the veil.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// Build configures the build pipeline.
type Build struct {
	// SeedFile is read from veil.toml; seed loading does not consult it and
	// always uses seed.FileName.
	SeedFile string `toml:"seed-file"`
	// Level is the default protection level for units without an override.
	Level Level `toml:"level"`
	// Store is the path of the artifact store database.
	Store string `toml:"store"`
}

// Unit is a per-protected-unit override.
type Unit struct {
	Level Level `toml:"level"`
}

// Load parses a veil.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, "veil.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	// Defaults
	if m.Build.Level == "" {
		m.Build.Level = LevelStandard
	}
	if !m.Build.Level.Valid() {
		return nil, fmt.Errorf("%s: unknown protection level %q", path, m.Build.Level)
	}
	for name, u := range m.Units {
		if u.Level != "" && !u.Level.Valid() {
			return nil, fmt.Errorf("%s: unit %s: unknown protection level %q", path, name, u.Level)
		}
	}
	if m.Build.Store == "" {
		m.Build.Store = "veil-store.db"
	}

	return &m, nil
}

// UnitLevel returns the effective protection level for a unit.
func (m *Manifest) UnitLevel(name string) Level {
	if u, ok := m.Units[name]; ok && u.Level != "" {
		return u.Level
	}
	return m.Build.Level
}
