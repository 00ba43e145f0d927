package remover

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"sourcepm/internal/db"
	"sourcepm/internal/hooks"
	"sourcepm/internal/privexec"
	"sourcepm/internal/recipe"
)

func newTestRemover(t *testing.T) (*Remover, *db.DB) {
	t.Helper()
	database := db.New(filepath.Join(t.TempDir(), "installed.json"))
	exec := privexec.New(privexec.WithRetryBackoffBase(time.Millisecond))
	dispatcher := hooks.New(exec, "")
	return New(database, dispatcher, exec), database
}

func seedInstalled(t *testing.T, database *db.DB, name string, files []string, deps []string, explicit bool) {
	t.Helper()
	var depList []recipe.Dependency
	for _, d := range deps {
		depList = append(depList, recipe.Dependency{Name: d})
	}
	r := &recipe.Recipe{Name: name, Version: "1.0.0", Dependencies: recipe.Dependencies{Run: depList}}
	if err := database.Put(db.Record{
		Name:        name,
		Version:     "1.0.0",
		Files:       files,
		Recipe:      r,
		InstalledAt: time.Now(),
		UpdatedAt:   time.Now(),
		Explicit:    explicit,
	}); err != nil {
		t.Fatalf("seed Put() error: %v", err)
	}
}

func TestRemove_RefusesWithDependents(t *testing.T) {
	rm, database := newTestRemover(t)
	seedInstalled(t, database, "lib", nil, nil, true)
	seedInstalled(t, database, "app", nil, []string{"lib"}, true)

	err := rm.Remove(context.Background(), "lib", Options{})
	if err == nil {
		t.Fatal("expected error removing a package with dependents")
	}
}

func TestRemove_ForceOverridesDependents(t *testing.T) {
	root := t.TempDir()
	rm, database := newTestRemover(t)
	file := filepath.Join(root, "bin", "lib")
	os.MkdirAll(filepath.Dir(file), 0o755)
	os.WriteFile(file, []byte("x"), 0o644)

	seedInstalled(t, database, "lib", []string{file}, nil, true)
	seedInstalled(t, database, "app", nil, []string{"lib"}, true)

	if err := rm.Remove(context.Background(), "lib", Options{Force: true}); err != nil {
		t.Fatalf("Remove() with force error: %v", err)
	}
	if _, ok, _ := database.Get("lib"); ok {
		t.Error("expected lib removed from DB")
	}
	if _, err := os.Stat(file); !os.IsNotExist(err) {
		t.Errorf("expected file removed, stat error = %v", err)
	}
}

func TestRemove_NotInstalled(t *testing.T) {
	rm, _ := newTestRemover(t)
	if err := rm.Remove(context.Background(), "ghost", Options{}); err == nil {
		t.Fatal("expected error removing an uninstalled package")
	}
}

func TestFindOrphans(t *testing.T) {
	rm, database := newTestRemover(t)
	seedInstalled(t, database, "app", nil, []string{"lib"}, true)
	seedInstalled(t, database, "lib", nil, nil, false)
	seedInstalled(t, database, "stray", nil, nil, false)

	orphans, err := rm.FindOrphans()
	if err != nil {
		t.Fatalf("FindOrphans() error: %v", err)
	}
	if len(orphans) != 1 || orphans[0] != "stray" {
		t.Errorf("FindOrphans() = %v, want [stray]", orphans)
	}
}
