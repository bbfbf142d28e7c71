package safeio

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteFileAtomicReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "plan.json")
	if err := WriteFileAtomic(path, []byte("one"), 0o644); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := WriteFileAtomic(path, []byte("two"), 0o644); err != nil {
		t.Fatalf("second write: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "two" {
		t.Fatalf("content = %q, want two", got)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %v", entries)
	}
}

func TestReadJSON(t *testing.T) {
	dir := t.TempDir()

	var v map[string]int
	found, err := ReadJSON(filepath.Join(dir, "missing.json"), &v)
	if err != nil || found {
		t.Fatalf("missing file: found=%v err=%v", found, err)
	}

	good := filepath.Join(dir, "good.json")
	if err := WriteJSON(good, map[string]int{"a": 1}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	found, err = ReadJSON(good, &v)
	if err != nil || !found || v["a"] != 1 {
		t.Fatalf("good file: found=%v err=%v v=%v", found, err, v)
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err = ReadJSON(bad, &v)
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestHashFileMatchesHashBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Lang.gf")
	data := []byte("concrete SemanticsEng of Semantics = {}")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := HashFile(path)
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}
	if got != HashBytes(data) {
		t.Fatalf("HashFile = %s, HashBytes = %s", got, HashBytes(data))
	}
}
