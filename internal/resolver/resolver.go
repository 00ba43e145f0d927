// Package resolver walks the recipe index to build a dependency graph for a
// set of target packages, detects cycles, and levelizes the graph into a
// build plan (spec §4.8).
package resolver

import (
	"fmt"
	"regexp"
	"sort"

	"sourcepm/internal/recipe"
	"sourcepm/internal/versioncmp"
)

// Mode selects which dependency edges participate in the walk.
type Mode int

const (
	ModeBuild Mode = iota
	ModeRuntime
	ModeBoth
)

// Index is the lookup surface the resolver needs from the recipe index.
// internal/index.Index satisfies this.
type Index interface {
	Find(name string) (*recipe.Recipe, bool, error)
}

// Options configures a resolve.
type Options struct {
	Targets []string
	Mode    Mode
	Flags   recipe.FlagSet

	// Include/Exclude are regexes applied to package names after the
	// transitive walk; a name must match Include (if set) and must not
	// match Exclude.
	Include *regexp.Regexp
	Exclude *regexp.Regexp
}

// Plan is the result of a resolve: a levelized build order plus bookkeeping
// about nodes the walk couldn't fully account for.
type Plan struct {
	// Levels holds the build order: Levels[i] may build concurrently once
	// every level < i is done. Names within a level are lexicographically
	// sorted.
	Levels [][]string

	// Missing holds names referenced as dependencies whose recipe could
	// not be found in the index.
	Missing []string

	// Cycle holds the single level reported when the graph has a cycle;
	// Levels is empty in that case (spec: "return the cycle as a single
	// level, do not silently drop edges").
	Cycle []string
}

// graph maps a name to the names it depends on, restricted to the resolved set.
type graph map[string][]string

// Resolve walks the index from opts.Targets, applies filters, and returns a
// levelized Plan.
func Resolve(idx Index, opts Options) (*Plan, error) {
	nodes, missing, err := walk(idx, opts.Targets, opts.Mode, opts.Flags)
	if err != nil {
		return nil, err
	}

	filtered := applyFilters(nodes, opts.Include, opts.Exclude)

	g := buildGraph(idx, filtered, opts.Mode, opts.Flags)

	if cyc, ok := detectCycle(g); ok {
		return &Plan{Missing: missing, Cycle: cyc}, nil
	}

	levels := levelize(g)
	return &Plan{Levels: levels, Missing: missing}, nil
}

// walk performs the transitive dependency collection, recording any
// dependency name whose recipe is not found in the index.
func walk(idx Index, targets []string, mode Mode, flags recipe.FlagSet) (names []string, missing []string, err error) {
	visited := make(map[string]bool)
	missingSet := make(map[string]bool)
	var order []string

	var visit func(name string) error
	visit = func(name string) error {
		if visited[name] {
			return nil
		}
		visited[name] = true

		r, ok, err := idx.Find(name)
		if err != nil {
			return fmt.Errorf("resolve %q: %w", name, err)
		}
		if !ok {
			missingSet[name] = true
			return nil
		}
		order = append(order, name)

		for _, dep := range depsFor(r, mode, flags) {
			if err := visit(dep.Name); err != nil {
				return err
			}
		}
		return nil
	}

	for _, t := range targets {
		if err := visit(t); err != nil {
			return nil, nil, err
		}
	}

	for name := range missingSet {
		missing = append(missing, name)
	}
	sort.Strings(missing)

	return order, missing, nil
}

// depsFor returns the dependencies of r relevant to mode, gated by flags.
func depsFor(r *recipe.Recipe, mode Mode, flags recipe.FlagSet) []recipe.Dependency {
	var deps []recipe.Dependency
	switch mode {
	case ModeBuild:
		deps = append(deps, r.Dependencies.Build...)
	case ModeRuntime:
		deps = append(deps, r.Dependencies.Run...)
	default:
		deps = append(deps, r.Dependencies.Build...)
		deps = append(deps, r.Dependencies.Run...)
	}
	deps = append(deps, r.Dependencies.Opt...)
	for name, group := range r.Dependencies.Optional {
		if flags.Enabled(name) {
			deps = append(deps, group...)
		}
	}
	return deps
}

// applyFilters restricts names to those matching include (if set) and not
// matching exclude.
func applyFilters(names []string, include, exclude *regexp.Regexp) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if include != nil && !include.MatchString(n) {
			continue
		}
		if exclude != nil && exclude.MatchString(n) {
			continue
		}
		out = append(out, n)
	}
	return out
}

// buildGraph builds adjacency restricted to the given node set: an edge to a
// dependency outside the set (filtered out, or missing) is dropped, since
// the resolver only schedules nodes it will actually build.
func buildGraph(idx Index, names []string, mode Mode, flags recipe.FlagSet) graph {
	inSet := make(map[string]bool, len(names))
	for _, n := range names {
		inSet[n] = true
	}

	g := make(graph, len(names))
	for _, n := range names {
		r, ok, err := idx.Find(n)
		if err != nil || !ok {
			g[n] = nil
			continue
		}
		var edges []string
		for _, dep := range depsFor(r, mode, flags) {
			if inSet[dep.Name] {
				edges = append(edges, dep.Name)
			}
		}
		g[n] = edges
	}
	return g
}

// detectCycle runs a DFS with a three-color (memo-map) scheme: 0 (the map's
// zero value) means unvisited, 1 means in-progress, 2 means done.
// Encountering an in-progress node means a cycle; the cycle is returned as
// the set of nodes on the current DFS stack from the repeated node onward.
func detectCycle(g graph) ([]string, bool) {
	const (
		inProgress = 1
		done       = 2
	)
	state := make(map[string]int)
	var stack []string

	var visit func(n string) ([]string, bool)
	visit = func(n string) ([]string, bool) {
		state[n] = inProgress
		stack = append(stack, n)

		for _, dep := range g[n] {
			switch state[dep] {
			case inProgress:
				for i, s := range stack {
					if s == dep {
						cyc := append([]string(nil), stack[i:]...)
						sort.Strings(cyc)
						return cyc, true
					}
				}
			case done:
				continue
			default:
				if cyc, found := visit(dep); found {
					return cyc, true
				}
			}
		}

		stack = stack[:len(stack)-1]
		state[n] = done
		return nil, false
	}

	names := make([]string, 0, len(g))
	for n := range g {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, n := range names {
		if state[n] == inProgress || state[n] == done {
			continue
		}
		if cyc, found := visit(n); found {
			return cyc, true
		}
	}
	return nil, false
}

// levelize performs a Kahn-style repeated peel: a level is every remaining
// node whose dependencies are all already placed in an earlier level. Ties
// within a level are broken lexicographically for determinism.
func levelize(g graph) [][]string {
	remaining := make(map[string][]string, len(g))
	for n, deps := range g {
		remaining[n] = append([]string(nil), deps...)
	}

	var levels [][]string
	placed := make(map[string]bool, len(g))

	for len(remaining) > 0 {
		var ready []string
		for n, deps := range remaining {
			if allPlaced(deps, placed) {
				ready = append(ready, n)
			}
		}
		if len(ready) == 0 {
			// Every surviving node has an unplaced dependency; this can
			// only happen if detectCycle missed something, so break to
			// avoid an infinite loop rather than hang.
			break
		}
		sort.Strings(ready)
		levels = append(levels, ready)
		for _, n := range ready {
			placed[n] = true
			delete(remaining, n)
		}
	}

	return levels
}

func allPlaced(deps []string, placed map[string]bool) bool {
	for _, d := range deps {
		if !placed[d] {
			return false
		}
	}
	return true
}

// MatchConstraint extends versioncmp's operators with caret (^V: >=V and
// <next-major) and tilde (~V: >=V and <next-minor), both spelled out in the
// constraint string itself.
func MatchConstraint(version, constraint string) (bool, error) {
	if constraint == "" {
		return true, nil
	}

	switch {
	case len(constraint) > 0 && constraint[0] == '^':
		v := constraint[1:]
		upper, err := nextMajor(v)
		if err != nil {
			return false, err
		}
		return versioncmp.Compare(version, v) >= 0 && versioncmp.Compare(version, upper) < 0, nil
	case len(constraint) > 0 && constraint[0] == '~':
		v := constraint[1:]
		upper, err := nextMinor(v)
		if err != nil {
			return false, err
		}
		return versioncmp.Compare(version, v) >= 0 && versioncmp.Compare(version, upper) < 0, nil
	}

	constraints, err := versioncmp.ParseConstraints(constraint)
	if err != nil {
		return false, err
	}
	return versioncmp.SatisfiesAll(version, constraints), nil
}

// nextMajor returns the smallest version strictly greater than every
// version sharing v's major component.
func nextMajor(v string) (string, error) {
	major, _, _, err := splitSemver(v)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d", major+1), nil
}

// nextMinor returns the smallest version strictly greater than every
// version sharing v's major.minor component.
func nextMinor(v string) (string, error) {
	major, minor, _, err := splitSemver(v)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d.%d", major, minor+1), nil
}

// splitSemver parses the leading major[.minor[.patch]] numeric prefix of v,
// defaulting missing components to 0.
func splitSemver(v string) (major, minor, patch int, err error) {
	var parts [3]int
	idx := 0
	cur := 0
	sawDigit := false
	for i := 0; i <= len(v); i++ {
		if i == len(v) || v[i] == '.' || v[i] == '-' || v[i] == '+' {
			if idx < 3 {
				parts[idx] = cur
			}
			idx++
			cur = 0
			if i == len(v) || v[i] != '.' {
				break
			}
			continue
		}
		if v[i] < '0' || v[i] > '9' {
			return 0, 0, 0, fmt.Errorf("cannot parse version %q as semver for caret/tilde constraint", v)
		}
		sawDigit = true
		cur = cur*10 + int(v[i]-'0')
	}
	if !sawDigit {
		return 0, 0, 0, fmt.Errorf("cannot parse version %q as semver for caret/tilde constraint", v)
	}
	return parts[0], parts[1], parts[2], nil
}
