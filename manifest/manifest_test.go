package manifest

import (
	"os"
	"path/filepath"
	"testing"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "veil.toml"), []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return dir
}

func TestLoadManifest(t *testing.T) {
	dir := writeManifest(t, `
[project]
name = "acme-guard"
version = "1.2.0"

[build]
level = "paranoid"
store = "artifacts.db"

[units.license_check]
level = "debug"
`)
	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Project.Name != "acme-guard" || m.Project.Version != "1.2.0" {
		t.Errorf("project = %+v", m.Project)
	}
	if m.Build.Level != LevelParanoid {
		t.Errorf("level = %q, want paranoid", m.Build.Level)
	}
	if m.Build.Store != "artifacts.db" {
		t.Errorf("store = %q", m.Build.Store)
	}
	if got := m.UnitLevel("license_check"); got != LevelDebug {
		t.Errorf("unit override = %q, want debug", got)
	}
	if got := m.UnitLevel("other"); got != LevelParanoid {
		t.Errorf("default unit level = %q, want paranoid", got)
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := writeManifest(t, `
[project]
name = "bare"
`)
	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Build.Level != LevelStandard {
		t.Errorf("default level = %q, want standard", m.Build.Level)
	}
	if m.Build.Store == "" {
		t.Error("default store path missing")
	}
}

func TestLoadManifestRejectsBadLevel(t *testing.T) {
	dir := writeManifest(t, `
[build]
level = "extreme"
`)
	if _, err := Load(dir); err == nil {
		t.Error("unknown level accepted")
	}
}

func TestLoadManifestMissingFile(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Error("missing veil.toml accepted")
	}
}

func TestLevelValid(t *testing.T) {
	for _, l := range []Level{LevelDebug, LevelStandard, LevelParanoid} {
		if !l.Valid() {
			t.Errorf("%q should be valid", l)
		}
	}
	if Level("max").Valid() {
		t.Error(`"max" should not be valid`)
	}
}
