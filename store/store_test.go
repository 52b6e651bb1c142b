package store

import (
	"bytes"
	"path/filepath"
	"testing"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "artifacts.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testBuildID(fill byte) [16]byte {
	var id [16]byte
	for i := range id {
		id[i] = fill ^ byte(i)
	}
	return id
}

func TestStorePutGet(t *testing.T) {
	s := testStore(t)
	id := testBuildID(0x10)
	env := []byte{1, 2, 3, 4, 5}

	if err := s.Put(id, "license_check", "paranoid", env); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(id, "license_check")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, env) {
		t.Errorf("Get = %v, want %v", got, env)
	}
}

func TestStoreReplace(t *testing.T) {
	s := testStore(t)
	id := testBuildID(0x20)

	if err := s.Put(id, "u", "standard", []byte{1}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(id, "u", "paranoid", []byte{2, 2}); err != nil {
		t.Fatalf("Put replace: %v", err)
	}
	got, err := s.Get(id, "u")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, []byte{2, 2}) {
		t.Errorf("Get after replace = %v", got)
	}
}

func TestStoreMissing(t *testing.T) {
	s := testStore(t)
	if _, err := s.Get(testBuildID(0x30), "ghost"); err == nil {
		t.Error("missing artifact returned without error")
	}
}

func TestStoreListScopedToBuild(t *testing.T) {
	s := testStore(t)
	a, b := testBuildID(0x40), testBuildID(0x41)

	if err := s.Put(a, "one", "debug", []byte{1}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(a, "two", "standard", []byte{2, 2}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(b, "other", "paranoid", []byte{3}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	entries, err := s.List(a)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("List returned %d entries, want 2", len(entries))
	}
	if entries[0].Unit != "one" || entries[1].Unit != "two" {
		t.Errorf("entries = %+v", entries)
	}
	if entries[1].Size != 2 {
		t.Errorf("size = %d, want 2", entries[1].Size)
	}
}

func TestBuildKeyStable(t *testing.T) {
	id := testBuildID(0x50)
	if BuildKey(id) != BuildKey(id) {
		t.Error("BuildKey is not stable")
	}
	if BuildKey(id) == BuildKey(testBuildID(0x51)) {
		t.Error("BuildKey collides across ids")
	}
}
