package archive

import (
	"os"
	"path/filepath"
	"testing"

	"sourcepm/internal/recipe"
)

func TestCreateAndExtractArtifact(t *testing.T) {
	stage := t.TempDir()
	os.MkdirAll(filepath.Join(stage, "lib"), 0755)
	os.WriteFile(filepath.Join(stage, "lib", "libz.so"), []byte("binary data"), 0644)
	os.WriteFile(filepath.Join(stage, "lib", "libz.a"), []byte("static lib"), 0644)

	files := []string{"lib/libz.so", "lib/libz.a"}
	r := &recipe.Recipe{Name: "zlib", Version: "1.3.1"}

	out := filepath.Join(t.TempDir(), "zlib-1.3.1.tar.gz")
	meta, err := CreateArtifact(stage, "zlib", "1.3.1", "amd64", files, r, out)
	if err != nil {
		t.Fatalf("CreateArtifact() error: %v", err)
	}
	if meta.SHA256 == "" {
		t.Error("expected non-empty digest")
	}
	if len(meta.Files) != 2 {
		t.Errorf("expected 2 files, got %d", len(meta.Files))
	}

	dest := t.TempDir()
	extracted, err := ExtractArtifact(out, dest)
	if err != nil {
		t.Fatalf("ExtractArtifact() error: %v", err)
	}
	if extracted.Name != "zlib" || extracted.Version != "1.3.1" {
		t.Errorf("unexpected metadata: %+v", extracted)
	}

	data, err := os.ReadFile(filepath.Join(dest, "lib", "libz.so"))
	if err != nil {
		t.Fatalf("expected extracted file: %v", err)
	}
	if string(data) != "binary data" {
		t.Errorf("extracted content mismatch: %q", data)
	}
}

func TestVerifyDigest(t *testing.T) {
	stage := t.TempDir()
	os.WriteFile(filepath.Join(stage, "a.txt"), []byte("hello"), 0644)

	out := filepath.Join(t.TempDir(), "pkg-1.0.tar.gz")
	meta, err := CreateArtifact(stage, "pkg", "1.0", "any", []string{"a.txt"}, nil, out)
	if err != nil {
		t.Fatalf("CreateArtifact() error: %v", err)
	}

	if err := VerifyDigest(out, meta); err != nil {
		t.Errorf("VerifyDigest() failed on a freshly-built archive: %v", err)
	}
}

func TestVerifyDigest_Mismatch(t *testing.T) {
	stage := t.TempDir()
	os.WriteFile(filepath.Join(stage, "a.txt"), []byte("hello"), 0644)

	out := filepath.Join(t.TempDir(), "pkg-1.0.tar.gz")
	meta, err := CreateArtifact(stage, "pkg", "1.0", "any", []string{"a.txt"}, nil, out)
	if err != nil {
		t.Fatalf("CreateArtifact() error: %v", err)
	}
	meta.SHA256 = "0000000000000000000000000000000000000000000000000000000000000000"

	if err := VerifyDigest(out, meta); err == nil {
		t.Error("expected digest mismatch error")
	}
}

func TestExtractArtifact_RejectsPathTraversal(t *testing.T) {
	// Exercises the withinDir guard directly; constructing a malicious tar
	// inline is unnecessary to prove the guard function works correctly.
	if withinDir("/tmp/out/../../etc/passwd", "/tmp/out") {
		t.Error("expected traversal path to be rejected")
	}
	if !withinDir("/tmp/out/lib/libz.so", "/tmp/out") {
		t.Error("expected normal nested path to be accepted")
	}
}
