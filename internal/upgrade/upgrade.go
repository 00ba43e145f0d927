// Package upgrade orchestrates a bounded-concurrency, level-by-level
// upgrade of installed packages against newer recipe versions (spec
// §4.13), reusing the Build Pipeline and Transactional Installer per
// package and the resolver's levelization for ordering.
package upgrade

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"sourcepm/internal/db"
	"sourcepm/internal/hooks"
	"sourcepm/internal/installer"
	"sourcepm/internal/pipeline"
	"sourcepm/internal/recipe"
	"sourcepm/internal/resolver"
	"sourcepm/internal/versioncmp"
)

// Candidate is an installed package with a strictly newer recipe version
// available (or force-flagged regardless of version).
type Candidate struct {
	Name             string
	InstalledVersion string
	AvailableVersion string
	Recipe           *recipe.Recipe
}

// Builder runs the Build Pipeline for one package, returning the produced
// (or cache-hit) artifact path. internal/pipeline.Pipeline satisfies this.
type Builder interface {
	Build(ctx context.Context, name, sourceDir string, manifest []string) (*pipeline.Result, error)
}

// SourceProvider returns the source tree and manifest files a candidate
// should be built from; callers outside the core (the CLI, per spec's
// "no network package discovery" non-goal) are responsible for having a
// checked-out source tree ready by the time Upgrade runs.
type SourceProvider func(c Candidate) (sourceDir string, manifest []string)

// Options configures an upgrade run.
type Options struct {
	// Targets restricts the upgrade to these installed package names; a
	// nil/empty slice means "all candidates" (spec §4.13).
	Targets []string

	Force       bool
	Concurrency int

	Source SourceProvider

	InstallOptions installer.Options
}

// PackageResult is one candidate's outcome.
type PackageResult struct {
	Status  string // "ok" or "failed"
	Error   string `json:"error,omitempty"`
	Version string `json:"version,omitempty"`
}

// Report is the upgrade run's summary (spec §4.13 step 4).
type Report struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Candidates []string
	Levels     [][]string
	Results    map[string]PackageResult
}

// Orchestrator drives upgrades.
type Orchestrator struct {
	database *db.DB
	index    resolver.Index
	builder  Builder
	inst     *installer.Installer
	hooksD   *hooks.Dispatcher
}

// New returns an Orchestrator.
func New(database *db.DB, idx resolver.Index, builder Builder, inst *installer.Installer, dispatcher *hooks.Dispatcher) *Orchestrator {
	return &Orchestrator{database: database, index: idx, builder: builder, inst: inst, hooksD: dispatcher}
}

// DiscoverCandidates compares every installed package's version against
// its current recipe, flagging strictly-newer (or force-flagged) packages
// as upgrade candidates (spec §4.13 step 1).
func (o *Orchestrator) DiscoverCandidates(targets []string, force bool) ([]Candidate, error) {
	records, err := o.database.List()
	if err != nil {
		return nil, err
	}

	names := targets
	if len(names) == 0 {
		for name := range records {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var candidates []Candidate
	for _, name := range names {
		record, ok := records[name]
		if !ok {
			continue
		}
		r, found, err := o.index.Find(name)
		if err != nil || !found {
			continue
		}
		cmp := versioncmp.Compare(r.Version, record.Version)
		if cmp > 0 || force {
			candidates = append(candidates, Candidate{
				Name:             name,
				InstalledVersion: record.Version,
				AvailableVersion: r.Version,
				Recipe:           r,
			})
		}
	}
	return candidates, nil
}

// Upgrade runs the full orchestration: discover, levelize, execute level
// by level with bounded concurrency, skipping dependents of a failed
// package (spec §4.13 steps 2-4).
func (o *Orchestrator) Upgrade(ctx context.Context, opts Options) (*Report, error) {
	report := &Report{StartedAt: time.Now(), Results: make(map[string]PackageResult)}

	candidates, err := o.DiscoverCandidates(opts.Targets, opts.Force)
	if err != nil {
		report.FinishedAt = time.Now()
		return report, err
	}
	if len(candidates) == 0 {
		report.FinishedAt = time.Now()
		return report, nil
	}

	byName := make(map[string]Candidate, len(candidates))
	candidateNames := make([]string, 0, len(candidates))
	for _, c := range candidates {
		byName[c.Name] = c
		candidateNames = append(candidateNames, c.Name)
		report.Candidates = append(report.Candidates, c.Name)
	}
	sort.Strings(report.Candidates)

	plan, err := resolver.Resolve(o.index, resolver.Options{Targets: candidateNames, Mode: resolver.ModeBoth})
	if err != nil {
		report.FinishedAt = time.Now()
		return report, err
	}
	report.Levels = plan.Levels

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	var mu sync.Mutex
	failed := make(map[string]bool)

	for _, level := range plan.Levels {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(concurrency)

		for _, name := range level {
			c, isCandidate := byName[name]
			if !isCandidate {
				continue
			}
			if o.dependsOnFailed(c, failed) {
				mu.Lock()
				report.Results[name] = PackageResult{Status: "failed", Error: "skipped: dependency failed upgrade"}
				failed[name] = true
				mu.Unlock()
				continue
			}

			g.Go(func() error {
				result, err := o.upgradeOne(gctx, c, opts)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					report.Results[name] = PackageResult{Status: "failed", Error: err.Error()}
					failed[name] = true
					o.hooksD.Dispatch(gctx, hooks.OnFailPkg, c.Recipe)
					return nil
				}
				report.Results[name] = PackageResult{Status: "ok", Version: result.Version}
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			report.FinishedAt = time.Now()
			return report, err
		}
	}

	report.FinishedAt = time.Now()
	return report, nil
}

// dependsOnFailed reports whether c depends (build, runtime or opt) on a
// package already marked failed this run; flag-gated optional groups are
// not checked.
func (o *Orchestrator) dependsOnFailed(c Candidate, failed map[string]bool) bool {
	if c.Recipe == nil {
		return false
	}
	for _, dep := range c.Recipe.Dependencies.All() {
		if failed[dep.Name] {
			return true
		}
	}
	return false
}

// upgradeOne builds (or reuses a cached artifact for) a candidate then
// installs it, updating the Installed DB immediately so later levels
// observe the new version (spec §4.13 step 3).
func (o *Orchestrator) upgradeOne(ctx context.Context, c Candidate, opts Options) (*db.Record, error) {
	var sourceDir string
	var manifest []string
	if opts.Source != nil {
		sourceDir, manifest = opts.Source(c)
	}
	// When the source provider supplies no manifest, the recipe-declared
	// manifest (§6) is used instead, so fingerprinting stays reproducible
	// across hosts (§8) even when the provider only knows how to fetch, not
	// what the build reads. A manifest from the provider is used as is.
	if len(manifest) == 0 && c.Recipe != nil {
		manifest = c.Recipe.ManifestFiles
	}

	result, err := o.builder.Build(ctx, c.Name, sourceDir, manifest)
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", c.Name, err)
	}

	installOpts := opts.InstallOptions
	installOpts.ArtifactPath = result.ArtifactPath
	installOpts.AllowDowngrade = false
	installOpts.Force = false

	record, err := o.inst.Install(ctx, installOpts)
	if err != nil {
		return nil, fmt.Errorf("install %s: %w", c.Name, err)
	}
	return record, nil
}
