// Package index scans a recipes root directory, parses recipe files, and
// serves name/search/reverse-dependency lookups with an mtime-validated,
// disk-persisted parse cache (spec §4.2).
package index

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"sourcepm/internal/recipe"
)

// Entry is one recipe index entry: the parsed recipe plus the on-disk path
// and mtime it was parsed from.
type Entry struct {
	Recipe *recipe.Recipe
	Path   string
	ModTime time.Time
}

// cacheEntry is the on-disk persisted form of an Entry (recipe re-serialized,
// mtime kept for invalidation).
type cacheEntry struct {
	Recipe  *recipe.Recipe `json:"recipe"`
	Path    string         `json:"path"`
	ModTime time.Time      `json:"mod_time"`
}

// Index scans root for <root>/<name>/recipe.{yaml,yml,json} files.
type Index struct {
	root      string
	cachePath string

	mu      sync.RWMutex
	entries map[string]Entry
}

// New returns an Index rooted at recipesRoot, persisting its parse cache to
// cachePath (Config.IndexCache).
func New(recipesRoot, cachePath string) *Index {
	return &Index{
		root:      recipesRoot,
		cachePath: cachePath,
		entries:   make(map[string]Entry),
	}
}

// Refresh rescans the recipes root. If force is false, entries whose source
// file mtime is unchanged are kept from the in-memory/disk cache rather than
// reparsed.
func (idx *Index) Refresh(force bool) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if !force && len(idx.entries) == 0 {
		idx.loadCacheLocked()
	}

	dirEntries, err := os.ReadDir(idx.root)
	if err != nil {
		if os.IsNotExist(err) {
			idx.entries = make(map[string]Entry)
			return nil
		}
		return fmt.Errorf("scan recipes root %s: %w", idx.root, err)
	}

	fresh := make(map[string]Entry, len(dirEntries))
	for _, de := range dirEntries {
		if !de.IsDir() {
			continue
		}
		name := de.Name()
		path, err := findRecipeFile(filepath.Join(idx.root, name))
		if err != nil || path == "" {
			continue
		}

		info, err := os.Stat(path)
		if err != nil {
			continue
		}

		if !force {
			if existing, ok := idx.entries[name]; ok && existing.Path == path && existing.ModTime.Equal(info.ModTime()) {
				fresh[name] = existing
				continue
			}
		}

		r, err := recipe.Load(path)
		if err != nil {
			continue
		}
		fresh[name] = Entry{Recipe: r, Path: path, ModTime: info.ModTime()}
	}

	idx.entries = fresh
	return idx.saveCacheLocked()
}

// findRecipeFile returns the first recipe.{yaml,yml,json} file under dir.
func findRecipeFile(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if !e.IsDir() && e.Name() == "recipe.yaml" {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "recipe.") && recipe.IsRecipeFile(e.Name()) {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", nil
}

// Find looks up a recipe by exact name, reparsing if the source file's mtime
// has changed since it was cached.
func (idx *Index) Find(name string) (*recipe.Recipe, bool, error) {
	idx.mu.RLock()
	entry, ok := idx.entries[name]
	idx.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}

	info, err := os.Stat(entry.Path)
	if err != nil {
		return nil, false, nil
	}
	if info.ModTime().Equal(entry.ModTime) {
		return entry.Recipe, true, nil
	}

	r, err := recipe.Load(entry.Path)
	if err != nil {
		return nil, false, fmt.Errorf("reparse %s: %w", entry.Path, err)
	}

	idx.mu.Lock()
	idx.entries[name] = Entry{Recipe: r, Path: entry.Path, ModTime: info.ModTime()}
	idx.mu.Unlock()

	return r, true, nil
}

// List returns every recipe name in the index, sorted.
func (idx *Index) List() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	names := make([]string, 0, len(idx.entries))
	for name := range idx.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ReverseDependencies returns the names of every indexed recipe that
// declares name as a build, run, or opt dependency.
func (idx *Index) ReverseDependencies(name string) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var out []string
	for candidate, entry := range idx.entries {
		for _, dep := range entry.Recipe.Dependencies.All() {
			if dep.Name == name {
				out = append(out, candidate)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// SearchResult pairs a matched recipe name with its match score.
type SearchResult struct {
	Name  string
	Score float64
}

// Search scoring weights (spec §4.2): name-exact, substring, summary,
// keyword, fuzzy. The maximum matching weight per name is kept.
const (
	scoreExact     = 1.0
	scoreSubstring = 0.8
	scoreSummary   = 0.7
	scoreKeyword   = 0.75
	scoreFuzzy     = 0.65
)

// Search scores every indexed recipe against term and returns matches sorted
// by descending score, then name.
func (idx *Index) Search(term string, fuzzy bool) []SearchResult {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	lowerTerm := strings.ToLower(term)
	var results []SearchResult

	for name, entry := range idx.entries {
		best := 0.0

		lowerName := strings.ToLower(name)
		if lowerName == lowerTerm {
			best = scoreExact
		} else if strings.Contains(lowerName, lowerTerm) {
			best = max(best, scoreSubstring)
		}
		if strings.Contains(strings.ToLower(entry.Recipe.Description), lowerTerm) {
			best = max(best, scoreSummary)
		}
		if containsKeyword(entry.Recipe, lowerTerm) {
			best = max(best, scoreKeyword)
		}
		if fuzzy && best == 0 && fuzzyMatch(lowerName, lowerTerm) {
			best = scoreFuzzy
		}

		if best > 0 {
			results = append(results, SearchResult{Name: name, Score: best})
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Name < results[j].Name
	})
	return results
}

func containsKeyword(r *recipe.Recipe, lowerTerm string) bool {
	return strings.Contains(strings.ToLower(r.BuildSystem), lowerTerm)
}

// fuzzyMatch reports whether every rune of term appears in name in order
// (a classic subsequence fuzzy match, not edit-distance based).
func fuzzyMatch(name, term string) bool {
	i := 0
	for _, r := range name {
		if i >= len(term) {
			return true
		}
		if rune(term[i]) == r {
			i++
		}
	}
	return i >= len(term)
}

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// InjectManifestDigest updates the manifest_digest field of the recipe at
// recipeFile and rewrites it to disk. Used by maintainer tooling after
// re-tarballing upstream source with a pinned checksum.
func InjectManifestDigest(recipeFile, digest string) error {
	r, err := recipe.Load(recipeFile)
	if err != nil {
		return fmt.Errorf("load %s: %w", recipeFile, err)
	}
	r.ManifestDigest = digest
	return recipe.Write(r, recipeFile)
}

// Info aggregates everything known about a single package: its recipe,
// on-disk path, and the set of indexed packages that depend on it.
type Info struct {
	Recipe              *recipe.Recipe
	Path                string
	ReverseDependencies []string
}

// Info returns the aggregate info for name, or false if not indexed.
func (idx *Index) Info(name string) (Info, bool) {
	idx.mu.RLock()
	entry, ok := idx.entries[name]
	idx.mu.RUnlock()
	if !ok {
		return Info{}, false
	}
	return Info{Recipe: entry.Recipe, Path: entry.Path, ReverseDependencies: idx.ReverseDependencies(name)}, true
}

func (idx *Index) loadCacheLocked() {
	data, err := os.ReadFile(idx.cachePath)
	if err != nil {
		return
	}
	var cached map[string]cacheEntry
	if err := json.Unmarshal(data, &cached); err != nil {
		return
	}
	for name, ce := range cached {
		idx.entries[name] = Entry{Recipe: ce.Recipe, Path: ce.Path, ModTime: ce.ModTime}
	}
}

func (idx *Index) saveCacheLocked() error {
	if idx.cachePath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(idx.cachePath), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	cached := make(map[string]cacheEntry, len(idx.entries))
	for name, e := range idx.entries {
		cached[name] = cacheEntry{Recipe: e.Recipe, Path: e.Path, ModTime: e.ModTime}
	}

	data, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("marshal index cache: %w", err)
	}

	tmp := idx.cachePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write index cache: %w", err)
	}
	return os.Rename(tmp, idx.cachePath)
}
