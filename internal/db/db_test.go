package db

import (
	"path/filepath"
	"testing"
	"time"

	"sourcepm/internal/recipe"
)

func TestPutAndGet(t *testing.T) {
	dir := t.TempDir()
	d := New(filepath.Join(dir, "installed.json"))

	r := Record{
		Name:        "zlib",
		Version:     "1.3.1",
		Files:       []string{"/usr/local/lib/libz.so"},
		Recipe:      &recipe.Recipe{Name: "zlib", Version: "1.3.1"},
		InstalledAt: time.Now(),
		Explicit:    true,
	}

	if err := d.Put(r); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	got, ok, err := d.Get("zlib")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if !ok {
		t.Fatal("expected record to be found")
	}
	if got.Version != "1.3.1" || !got.Explicit {
		t.Errorf("unexpected record: %+v", got)
	}
}

func TestGet_Missing(t *testing.T) {
	dir := t.TempDir()
	d := New(filepath.Join(dir, "installed.json"))

	_, ok, err := d.Get("nope")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if ok {
		t.Error("expected record not found")
	}
}

func TestRemove(t *testing.T) {
	dir := t.TempDir()
	d := New(filepath.Join(dir, "installed.json"))

	d.Put(Record{Name: "zlib", Version: "1.3.1"})
	if err := d.Remove("zlib"); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}

	_, ok, _ := d.Get("zlib")
	if ok {
		t.Error("expected record removed")
	}
}

func TestList(t *testing.T) {
	dir := t.TempDir()
	d := New(filepath.Join(dir, "installed.json"))

	d.Put(Record{Name: "zlib", Version: "1.3.1"})
	d.Put(Record{Name: "openssl", Version: "3.0.0"})

	records, err := d.List()
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("expected 2 records, got %d", len(records))
	}
}

func TestOwnerOf(t *testing.T) {
	dir := t.TempDir()
	d := New(filepath.Join(dir, "installed.json"))

	d.Put(Record{Name: "zlib", Files: []string{"/usr/local/lib/libz.so"}})

	owner, err := d.OwnerOf("/usr/local/lib/libz.so")
	if err != nil {
		t.Fatalf("OwnerOf() error: %v", err)
	}
	if owner != "zlib" {
		t.Errorf("OwnerOf() = %q, want zlib", owner)
	}

	owner, err = d.OwnerOf("/nonexistent")
	if err != nil {
		t.Fatalf("OwnerOf() error: %v", err)
	}
	if owner != "" {
		t.Errorf("OwnerOf() = %q, want empty", owner)
	}
}

func TestLoad_NoFileYieldsEmptyMap(t *testing.T) {
	dir := t.TempDir()
	d := New(filepath.Join(dir, "installed.json"))

	records, err := d.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected empty map, got %v", records)
	}
}

func TestValidateName(t *testing.T) {
	cases := map[string]bool{
		"zlib":      true,
		"":          false,
		"../escape": false,
		".":         false,
		"..":        false,
	}
	for name, want := range cases {
		err := ValidateName(name)
		if (err == nil) != want {
			t.Errorf("ValidateName(%q) = %v, want valid=%v", name, err, want)
		}
	}
}
