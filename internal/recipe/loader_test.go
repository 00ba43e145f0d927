package recipe

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleYAML = `
name: zlib
version: 1.3.1
source:
  url: https://zlib.net/zlib-1.3.1.tar.gz
  checksum: "sha256:9a93b2b7dfdac77ceba5a558a580e74667dd6fede4a525df3a4c2b4fb82a1cb"
build_system: cmake
dependencies:
  build:
    - name: cmake
  run: []
steps:
  - action: run_command
    params:
      command: ctest
    when:
      os: [linux]
`

func TestLoad_YAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "zlib.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0644); err != nil {
		t.Fatal(err)
	}

	r, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if r.Name != "zlib" || r.Version != "1.3.1" {
		t.Errorf("unexpected recipe: %+v", r)
	}
	if r.BuildSystem != "cmake" {
		t.Errorf("BuildSystem = %q, want cmake", r.BuildSystem)
	}
	if len(r.Steps) != 1 || r.Steps[0].Action != "run_command" {
		t.Errorf("unexpected steps: %+v", r.Steps)
	}
}

func TestLoad_JSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "zlib.json")
	data := `{"name":"zlib","version":"1.3.1","source":{"url":"https://zlib.net/zlib-1.3.1.tar.gz","checksum":"sha256:abc"},"build_system":"cmake"}`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	r, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if r.Name != "zlib" {
		t.Errorf("Name = %q, want zlib", r.Name)
	}
}

func TestLoad_UnrecognizedExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "zlib.toml")
	if err := os.WriteFile(path, []byte("name = \"zlib\""), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected error for unrecognized extension")
	}
}

func TestIsRecipeFile(t *testing.T) {
	tests := map[string]bool{
		"zlib.yaml": true,
		"zlib.yml":  true,
		"zlib.json": true,
		"zlib.toml": false,
		"README.md": false,
	}
	for name, want := range tests {
		if got := IsRecipeFile(name); got != want {
			t.Errorf("IsRecipeFile(%q) = %v, want %v", name, got, want)
		}
	}
}
