package index

import (
	"os"
	"path/filepath"
	"testing"
)

func writeRecipe(t *testing.T, root, name, version string) {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	content := "name: " + name + "\nversion: \"" + version + "\"\nbuild_system: make\nsource:\n  url: https://example.org/" + name + ".tar.gz\n  checksum: sha256:0\n"
	if err := os.WriteFile(filepath.Join(dir, "recipe.yaml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRefreshAndFind(t *testing.T) {
	root := t.TempDir()
	writeRecipe(t, root, "zlib", "1.3.1")

	idx := New(root, filepath.Join(t.TempDir(), "cache.json"))
	if err := idx.Refresh(true); err != nil {
		t.Fatalf("Refresh() error: %v", err)
	}

	r, ok, err := idx.Find("zlib")
	if err != nil {
		t.Fatalf("Find() error: %v", err)
	}
	if !ok {
		t.Fatal("expected zlib to be found")
	}
	if r.Version != "1.3.1" {
		t.Errorf("Version = %q, want 1.3.1", r.Version)
	}
}

func TestFind_Missing(t *testing.T) {
	root := t.TempDir()
	idx := New(root, "")
	idx.Refresh(true)

	_, ok, err := idx.Find("ghost")
	if err != nil {
		t.Fatalf("Find() error: %v", err)
	}
	if ok {
		t.Error("expected ghost to be absent")
	}
}

func TestList(t *testing.T) {
	root := t.TempDir()
	writeRecipe(t, root, "zlib", "1.3.1")
	writeRecipe(t, root, "cmake", "3.28.0")

	idx := New(root, "")
	idx.Refresh(true)

	names := idx.List()
	if len(names) != 2 || names[0] != "cmake" || names[1] != "zlib" {
		t.Errorf("List() = %v, want [cmake zlib]", names)
	}
}

func TestReverseDependencies(t *testing.T) {
	root := t.TempDir()
	writeRecipe(t, root, "zlib", "1.3.1")
	writeRecipe(t, root, "libpng", "1.6.40")

	pngRecipe := filepath.Join(root, "libpng", "recipe.yaml")
	data, _ := os.ReadFile(pngRecipe)
	data = append(data, []byte("dependencies:\n  build:\n    - name: zlib\n")...)
	os.WriteFile(pngRecipe, data, 0o644)

	idx := New(root, "")
	idx.Refresh(true)

	revdeps := idx.ReverseDependencies("zlib")
	if len(revdeps) != 1 || revdeps[0] != "libpng" {
		t.Errorf("ReverseDependencies(zlib) = %v, want [libpng]", revdeps)
	}
}

func TestSearch_ExactAndSubstring(t *testing.T) {
	root := t.TempDir()
	writeRecipe(t, root, "zlib", "1.3.1")
	writeRecipe(t, root, "zlib-ng", "2.2.0")

	idx := New(root, "")
	idx.Refresh(true)

	results := idx.Search("zlib", false)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Name != "zlib" || results[0].Score != scoreExact {
		t.Errorf("best match = %+v, want exact zlib", results[0])
	}
}

func TestRefresh_SkipsUnchangedMtime(t *testing.T) {
	root := t.TempDir()
	writeRecipe(t, root, "zlib", "1.3.1")

	cache := filepath.Join(t.TempDir(), "cache.json")
	idx := New(root, cache)
	idx.Refresh(true)

	r1, _, _ := idx.Find("zlib")
	if err := idx.Refresh(false); err != nil {
		t.Fatalf("Refresh() error: %v", err)
	}
	r2, _, _ := idx.Find("zlib")
	if r1 != r2 {
		t.Error("expected the same parsed *Recipe to be reused when mtime is unchanged")
	}
}

func TestInjectManifestDigest(t *testing.T) {
	root := t.TempDir()
	writeRecipe(t, root, "zlib", "1.3.1")
	path := filepath.Join(root, "zlib", "recipe.yaml")

	if err := InjectManifestDigest(path, "sha256:deadbeef"); err != nil {
		t.Fatalf("InjectManifestDigest() error: %v", err)
	}

	idx := New(root, "")
	idx.Refresh(true)
	r, _, _ := idx.Find("zlib")
	if r.ManifestDigest != "sha256:deadbeef" {
		t.Errorf("ManifestDigest = %q, want sha256:deadbeef", r.ManifestDigest)
	}
}
