package resolver

import (
	"reflect"
	"regexp"
	"testing"

	"sourcepm/internal/recipe"
)

type fakeIndex struct {
	recipes map[string]*recipe.Recipe
}

func (f *fakeIndex) Find(name string) (*recipe.Recipe, bool, error) {
	r, ok := f.recipes[name]
	return r, ok, nil
}

func rec(name string, buildDeps ...string) *recipe.Recipe {
	var deps []recipe.Dependency
	for _, d := range buildDeps {
		deps = append(deps, recipe.Dependency{Name: d})
	}
	return &recipe.Recipe{
		Name:         name,
		Version:      "1.0.0",
		Dependencies: recipe.Dependencies{Build: deps},
	}
}

func TestResolve_Levelizes(t *testing.T) {
	idx := &fakeIndex{recipes: map[string]*recipe.Recipe{
		"app":   rec("app", "libb", "liba"),
		"libb":  rec("libb", "libc"),
		"liba":  rec("liba", "libc"),
		"libc":  rec("libc"),
	}}

	plan, err := Resolve(idx, Options{Targets: []string{"app"}, Mode: ModeBuild})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	want := [][]string{{"libc"}, {"liba", "libb"}, {"app"}}
	if !reflect.DeepEqual(plan.Levels, want) {
		t.Errorf("Levels = %v, want %v", plan.Levels, want)
	}
	if len(plan.Cycle) != 0 {
		t.Errorf("unexpected cycle: %v", plan.Cycle)
	}
}

func TestResolve_MissingDependency(t *testing.T) {
	idx := &fakeIndex{recipes: map[string]*recipe.Recipe{
		"app": rec("app", "ghost"),
	}}

	plan, err := Resolve(idx, Options{Targets: []string{"app"}, Mode: ModeBuild})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if !reflect.DeepEqual(plan.Missing, []string{"ghost"}) {
		t.Errorf("Missing = %v, want [ghost]", plan.Missing)
	}
}

func TestResolve_Cycle(t *testing.T) {
	idx := &fakeIndex{recipes: map[string]*recipe.Recipe{
		"a": rec("a", "b"),
		"b": rec("b", "a"),
	}}

	plan, err := Resolve(idx, Options{Targets: []string{"a"}, Mode: ModeBuild})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if len(plan.Cycle) == 0 {
		t.Fatal("expected a cycle to be reported")
	}
	if len(plan.Levels) != 0 {
		t.Errorf("expected no levels when a cycle is present, got %v", plan.Levels)
	}
}

func TestResolve_IncludeExcludeFilters(t *testing.T) {
	idx := &fakeIndex{recipes: map[string]*recipe.Recipe{
		"app":      rec("app", "lib-core", "tool-debug"),
		"lib-core": rec("lib-core"),
		"tool-debug": rec("tool-debug"),
	}}

	plan, err := Resolve(idx, Options{
		Targets: []string{"app"},
		Mode:    ModeBuild,
		Exclude: regexp.MustCompile(`^tool-`),
	})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	var all []string
	for _, level := range plan.Levels {
		all = append(all, level...)
	}
	for _, name := range all {
		if name == "tool-debug" {
			t.Error("tool-debug should have been excluded")
		}
	}
}

func TestMatchConstraint_Caret(t *testing.T) {
	cases := []struct {
		version, constraint string
		want                 bool
	}{
		{"1.5.0", "^1.2.0", true},
		{"2.0.0", "^1.2.0", false},
		{"1.1.0", "^1.2.0", false},
	}
	for _, c := range cases {
		got, err := MatchConstraint(c.version, c.constraint)
		if err != nil {
			t.Fatalf("MatchConstraint(%q, %q) error: %v", c.version, c.constraint, err)
		}
		if got != c.want {
			t.Errorf("MatchConstraint(%q, %q) = %v, want %v", c.version, c.constraint, got, c.want)
		}
	}
}

func TestMatchConstraint_Tilde(t *testing.T) {
	cases := []struct {
		version, constraint string
		want                 bool
	}{
		{"1.2.5", "~1.2.0", true},
		{"1.3.0", "~1.2.0", false},
		{"1.1.9", "~1.2.0", false},
	}
	for _, c := range cases {
		got, err := MatchConstraint(c.version, c.constraint)
		if err != nil {
			t.Fatalf("MatchConstraint(%q, %q) error: %v", c.version, c.constraint, err)
		}
		if got != c.want {
			t.Errorf("MatchConstraint(%q, %q) = %v, want %v", c.version, c.constraint, got, c.want)
		}
	}
}

func TestMatchConstraint_PlainOperator(t *testing.T) {
	got, err := MatchConstraint("2.0.0", ">=1.0.0")
	if err != nil {
		t.Fatalf("MatchConstraint() error: %v", err)
	}
	if !got {
		t.Error("expected 2.0.0 to satisfy >=1.0.0")
	}
}
