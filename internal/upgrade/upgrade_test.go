package upgrade

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"sourcepm/internal/cache"
	"sourcepm/internal/db"
	"sourcepm/internal/hooks"
	"sourcepm/internal/installer"
	"sourcepm/internal/pipeline"
	"sourcepm/internal/privexec"
	"sourcepm/internal/recipe"
	"sourcepm/internal/sandbox"
)

type fakeIndex struct {
	recipes map[string]*recipe.Recipe
}

func (f *fakeIndex) Find(name string) (*recipe.Recipe, bool, error) {
	r, ok := f.recipes[name]
	return r, ok, nil
}

type fakeExecutor struct {
	base string
	exec *privexec.Executor
}

func (f *fakeExecutor) NewSandbox(name string) *sandbox.Sandbox {
	return sandbox.New(f.base, name, 0, f.exec)
}

func seedDB(t *testing.T, database *db.DB, name, version string) {
	t.Helper()
	if err := database.Put(db.Record{
		Name:        name,
		Version:     version,
		Recipe:      &recipe.Recipe{Name: name, Version: version},
		InstalledAt: time.Now(),
		UpdatedAt:   time.Now(),
		Explicit:    true,
	}); err != nil {
		t.Fatalf("seed Put() error: %v", err)
	}
}

func newHarness(t *testing.T, recipes map[string]*recipe.Recipe) (*Orchestrator, *db.DB) {
	t.Helper()
	database := db.New(filepath.Join(t.TempDir(), "installed.json"))
	exec := privexec.New(privexec.WithRetryBackoffBase(time.Millisecond))
	dispatcher := hooks.New(exec, "")

	idx := &fakeIndex{recipes: recipes}

	c, err := cache.New(t.TempDir(), 1<<30)
	if err != nil {
		t.Fatal(err)
	}
	fe := &fakeExecutor{base: t.TempDir(), exec: exec}
	p := pipeline.New(idx, c, dispatcher, fe, t.TempDir())

	inst := installer.New(database, dispatcher, exec)

	return New(database, idx, p, inst, dispatcher), database
}

func writeMakeSource(t *testing.T, name string) string {
	t.Helper()
	srcDir := t.TempDir()
	makefile := "install:\n\tmkdir -p $(DESTDIR)/bin\n\ttouch $(DESTDIR)/bin/" + name + "\n"
	os.WriteFile(filepath.Join(srcDir, "Makefile"), []byte(makefile), 0o644)
	return srcDir
}

func TestDiscoverCandidates_NewerVersion(t *testing.T) {
	o, database := newHarness(t, map[string]*recipe.Recipe{
		"hello": {Name: "hello", Version: "2.0.0", BuildSystem: "make"},
	})
	seedDB(t, database, "hello", "1.0.0")

	candidates, err := o.DiscoverCandidates(nil, false)
	if err != nil {
		t.Fatalf("DiscoverCandidates() error: %v", err)
	}
	if len(candidates) != 1 || candidates[0].Name != "hello" {
		t.Fatalf("candidates = %v, want [hello]", candidates)
	}
}

func TestDiscoverCandidates_SkipsUpToDate(t *testing.T) {
	o, database := newHarness(t, map[string]*recipe.Recipe{
		"hello": {Name: "hello", Version: "1.0.0", BuildSystem: "make"},
	})
	seedDB(t, database, "hello", "1.0.0")

	candidates, err := o.DiscoverCandidates(nil, false)
	if err != nil {
		t.Fatalf("DiscoverCandidates() error: %v", err)
	}
	if len(candidates) != 0 {
		t.Fatalf("candidates = %v, want none", candidates)
	}
}

func TestUpgrade_SingleCandidate(t *testing.T) {
	o, database := newHarness(t, map[string]*recipe.Recipe{
		"hello": {Name: "hello", Version: "2.0.0", BuildSystem: "make"},
	})
	seedDB(t, database, "hello", "1.0.0")

	root := t.TempDir()
	report, err := o.Upgrade(context.Background(), Options{
		Source: func(c Candidate) (string, []string) {
			return writeMakeSource(t, c.Name), nil
		},
		InstallOptions: installer.Options{Root: root},
	})
	if err != nil {
		t.Fatalf("Upgrade() error: %v", err)
	}
	if len(report.Levels) != 1 || len(report.Levels[0]) != 1 {
		t.Fatalf("Levels = %v, want one level with one package", report.Levels)
	}
	res, ok := report.Results["hello"]
	if !ok || res.Status != "ok" {
		t.Fatalf("Results[hello] = %+v, want ok", res)
	}

	got, ok, err := database.Get("hello")
	if err != nil || !ok {
		t.Fatalf("expected hello in DB after upgrade")
	}
	if got.Version != "2.0.0" {
		t.Errorf("DB Version = %q, want 2.0.0", got.Version)
	}
}

func TestUpgrade_NoCandidates(t *testing.T) {
	o, database := newHarness(t, map[string]*recipe.Recipe{
		"hello": {Name: "hello", Version: "1.0.0", BuildSystem: "make"},
	})
	seedDB(t, database, "hello", "1.0.0")

	report, err := o.Upgrade(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Upgrade() error: %v", err)
	}
	if len(report.Candidates) != 0 {
		t.Errorf("Candidates = %v, want none", report.Candidates)
	}
}
