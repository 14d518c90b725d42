package marine

import (
	"os"
	"path/filepath"
	"testing"
)

func TestModuleNameFor(t *testing.T) {
	cases := map[string]string{
		"greeter.wasm":        "greeter",
		"a.b.wasm":            "a.b",
		"no_extension":        "no_extension",
		"nested.name.wasm":    "nested.name",
	}
	for in, want := range cases {
		if got := moduleNameFor(in); got != want {
			t.Errorf("moduleNameFor(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWasmFilesInSortsAndFilters(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.wasm", "a.wasm", "skip.txt", "c.wasm"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "subdir.wasm"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	names, err := wasmFilesIn(dir)
	if err != nil {
		t.Fatalf("wasmFilesIn: %v", err)
	}
	want := []string{"a.wasm", "b.wasm", "c.wasm"}
	if len(names) != len(want) {
		t.Fatalf("got %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("got %v, want %v", names, want)
		}
	}
}

func TestWasmFilesInMissingDir(t *testing.T) {
	if _, err := wasmFilesIn(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatalf("expected error for a missing directory")
	}
}
