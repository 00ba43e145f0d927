// Package pipeline drives the per-package build state machine: fingerprint,
// cache probe, sandbox prepare, build-system dispatch, hooks, snapshot,
// archive, cache store (spec §4.9).
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/singleflight"

	"sourcepm/internal/archive"
	"sourcepm/internal/cache"
	"sourcepm/internal/errs"
	"sourcepm/internal/fingerprint"
	"sourcepm/internal/hooks"
	"sourcepm/internal/recipe"
	"sourcepm/internal/sandbox"
)

// State names the build state machine's stages, in the order spec §4.9
// draws them.
type State string

const (
	StateIdle               State = "idle"
	StateFingerprinted       State = "fingerprinted"
	StateCacheHit            State = "cache_hit"
	StateSandboxPrepared     State = "sandbox_prepared"
	StatePreBuildHooks       State = "pre_build_hooks"
	StateBuildSystemInvoked  State = "build_system_invoked"
	StatePostBuildHooks      State = "post_build_hooks"
	StateSandboxSnapshot     State = "sandbox_snapshot"
	StateInstallIntoSandbox  State = "install_into_sandbox"
	StatePostInstallHooks    State = "post_install_hooks"
	StateArchived            State = "archived"
	StateCached              State = "cached"
	StateDone                State = "done"
	StateFailed              State = "failed"
)

// BuildError reports the stage and cause of a failed build.
type BuildError struct {
	Package string
	Stage   State
	Cause   error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build %s failed at stage %s: %v", e.Package, e.Stage, e.Cause)
}

func (e *BuildError) Unwrap() error { return e.Cause }

// Result is the outcome of a single-package build.
type Result struct {
	Package     string
	Fingerprint string
	State       State
	ArtifactPath string
	CacheHit    bool
}

// commandSequence is one build-system's command sequence, split into the
// configure/compile steps and the steps that actually populate the
// sandbox's DESTDIR. Spec §4.9 takes a sandbox snapshot between the two
// groups so a failed install step can be rolled back to the post-build,
// pre-install state; splitting the sequence here is what lets runBuild
// place that snapshot in the right spot. DESTDIR substitution happens
// implicitly: Sandbox.Run always sets the DESTDIR env var, so "make
// install" style steps pick it up themselves.
type commandSequence func(r *recipe.Recipe, srcDir, buildDir string) (build, install [][]string)

// sequences maps a build-system tag to its command sequence (spec §4.9).
var sequences = map[string]commandSequence{
	"cmake": func(r *recipe.Recipe, srcDir, buildDir string) ([][]string, [][]string) {
		cmakeArgs := append([]string{"cmake", srcDir}, r.BuildOptions...)
		return [][]string{
				cmakeArgs,
				{"make", "-j"},
			}, [][]string{
				{"make", "install"},
			}
	},
	"meson": func(r *recipe.Recipe, srcDir, buildDir string) ([][]string, [][]string) {
		mesonArgs := append([]string{"meson", buildDir, srcDir}, r.BuildOptions...)
		return [][]string{
				mesonArgs,
				{"ninja", "-C", buildDir},
			}, [][]string{
				{"ninja", "-C", buildDir, "install"},
			}
	},
	"autotools": func(r *recipe.Recipe, srcDir, buildDir string) ([][]string, [][]string) {
		configureArgs := append([]string{"./configure"}, r.BuildOptions...)
		return [][]string{
				configureArgs,
				{"make", "-j"},
			}, [][]string{
				{"make", "install"},
			}
	},
	"make": func(r *recipe.Recipe, srcDir, buildDir string) ([][]string, [][]string) {
		var build [][]string
		if _, err := os.Stat(filepath.Join(srcDir, "configure")); err == nil {
			build = append(build, append([]string{"./configure"}, r.BuildOptions...))
		}
		build = append(build, []string{"make", "-j"})
		return build, [][]string{{"make", "install"}}
	},
	"python": func(r *recipe.Recipe, srcDir, buildDir string) ([][]string, [][]string) {
		return [][]string{
			{"pip", "wheel", ".", "-w", buildDir},
		}, nil
	},
	"cargo": func(r *recipe.Recipe, srcDir, buildDir string) ([][]string, [][]string) {
		return [][]string{
			{"cargo", "build", "--release"},
		}, nil
	},
	"node": func(r *recipe.Recipe, srcDir, buildDir string) ([][]string, [][]string) {
		build := [][]string{{"npm", "install"}}
		for _, s := range r.BuildOptions {
			build = append(build, []string{"npm", "run", s})
		}
		return build, nil
	},
}

// DetectBuildSystem infers a build-system tag from well-known files in
// srcDir when the recipe doesn't declare one (spec §4.9).
func DetectBuildSystem(srcDir string) string {
	checks := []struct {
		file   string
		system string
	}{
		{"CMakeLists.txt", "cmake"},
		{"meson.build", "meson"},
		{"configure", "autotools"},
		{"pyproject.toml", "python"},
		{"setup.py", "python"},
		{"Cargo.toml", "cargo"},
		{"package.json", "node"},
		{"Makefile", "make"},
	}
	for _, c := range checks {
		if _, err := os.Stat(filepath.Join(srcDir, c.file)); err == nil {
			return c.system
		}
	}
	return "make"
}

// Pipeline drives builds for a set of packages, collapsing concurrent
// builds of the same (name, fingerprint) via singleflight (spec §5:
// "first write wins, second observes cache hit").
type Pipeline struct {
	index     Index
	cache     *cache.Cache
	hooksDir  *hooks.Dispatcher
	executor  Executor
	outputDir string

	group singleflight.Group
}

// Index is the recipe-lookup surface the pipeline needs (internal/index
// satisfies it, but a stub works for tests).
type Index interface {
	Find(name string) (*recipe.Recipe, bool, error)
}

// Executor creates a Sandbox bound to a given package; internal/sandbox.New
// wired with a shared *privexec.Executor satisfies this in production.
type Executor interface {
	NewSandbox(name string) *sandbox.Sandbox
}

// New returns a Pipeline.
func New(idx Index, c *cache.Cache, dispatcher *hooks.Dispatcher, executor Executor, outputDir string) *Pipeline {
	return &Pipeline{
		index:     idx,
		cache:     c,
		hooksDir:  dispatcher,
		executor:  executor,
		outputDir: outputDir,
	}
}

// Build runs the state machine for a single package's source tree,
// returning once a cache hit, a completed archive, or a failure is
// reached.
func (p *Pipeline) Build(ctx context.Context, name, sourceDir string, manifest []string) (*Result, error) {
	key := name
	if r, ok, err := p.index.Find(name); err == nil && ok {
		m := manifest
		if len(m) == 0 {
			m = r.ManifestFiles
		}
		if fp, err := fingerprint.Compute(r, sourceDir, m); err == nil {
			key = name + "\x00" + fp
		}
	}
	v, err, _ := p.group.Do(key, func() (interface{}, error) {
		return p.build(ctx, name, sourceDir, manifest)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

func (p *Pipeline) build(ctx context.Context, name, sourceDir string, manifest []string) (*Result, error) {
	r, ok, err := p.index.Find(name)
	if err != nil || !ok {
		return nil, &BuildError{Package: name, Stage: StateIdle, Cause: fmt.Errorf("recipe not found")}
	}

	if len(manifest) == 0 {
		manifest = r.ManifestFiles
	}

	fp, err := fingerprint.Compute(r, sourceDir, manifest)
	if err != nil {
		return nil, &BuildError{Package: name, Stage: StateFingerprinted, Cause: err}
	}

	if path, hit, err := p.cache.Lookup(name, fp); err == nil && hit {
		return &Result{Package: name, Fingerprint: fp, State: StateDone, ArtifactPath: path, CacheHit: true}, nil
	}

	sb := p.executor.NewSandbox(name)

	result, buildErr := p.runBuild(ctx, sb, r, name, fp, sourceDir)
	if buildErr != nil {
		p.hooksDir.Dispatch(ctx, hooks.OnFailPkg, r)
		return nil, buildErr
	}
	return result, nil
}

func (p *Pipeline) runBuild(ctx context.Context, sb *sandbox.Sandbox, r *recipe.Recipe, name, fp, sourceDir string) (*Result, error) {
	if err := sb.Prepare(true, r, fp); err != nil {
		return nil, &BuildError{Package: name, Stage: StateSandboxPrepared, Cause: err}
	}

	if err := p.hooksDir.Dispatch(ctx, hooks.PreBuild, r); err != nil {
		return nil, &BuildError{Package: name, Stage: StatePreBuildHooks, Cause: err}
	}

	buildSystem := r.BuildSystem
	if buildSystem == "" {
		buildSystem = DetectBuildSystem(sourceDir)
	}
	seq, ok := sequences[buildSystem]
	if !ok {
		return nil, &BuildError{Package: name, Stage: StateBuildSystemInvoked, Cause: fmt.Errorf("unknown build system %q", buildSystem)}
	}

	buildDir := filepath.Join(sb.Root(), ".build")
	if err := os.MkdirAll(buildDir, 0o755); err != nil {
		return nil, &BuildError{Package: name, Stage: StateBuildSystemInvoked, Cause: err}
	}

	buildSteps, installSteps := seq(r, sourceDir, buildDir)

	for _, step := range buildSteps {
		if _, err := sb.Run(ctx, step, nil, sourceDir, true); err != nil {
			p.restoreOnFailure(sb)
			return nil, &BuildError{Package: name, Stage: StateBuildSystemInvoked, Cause: err}
		}
	}

	if err := p.hooksDir.Dispatch(ctx, hooks.PostBuild, r); err != nil {
		return nil, &BuildError{Package: name, Stage: StatePostBuildHooks, Cause: err}
	}

	// Snapshot before install (§4.9): a failed install step restores this
	// post-build state instead of leaving a half-populated DESTDIR behind.
	if _, err := sb.Snapshot(); err != nil {
		return nil, &BuildError{Package: name, Stage: StateSandboxSnapshot, Cause: err}
	}

	for _, step := range installSteps {
		if _, err := sb.Run(ctx, step, nil, sourceDir, true); err != nil {
			p.restoreOnFailure(sb)
			return nil, &BuildError{Package: name, Stage: StateInstallIntoSandbox, Cause: err}
		}
	}

	if err := sb.CheckQuota(); err != nil {
		return nil, &BuildError{Package: name, Stage: StateInstallIntoSandbox, Cause: err}
	}

	if err := p.hooksDir.Dispatch(ctx, hooks.PostInstall, r); err != nil {
		return nil, &BuildError{Package: name, Stage: StatePostInstallHooks, Cause: err}
	}

	artifactPath := filepath.Join(p.outputDir, fmt.Sprintf("%s-%s.tar.gz", name, fp))
	files, err := sandboxFileList(sb.Root())
	if err != nil {
		return nil, &BuildError{Package: name, Stage: StateArchived, Cause: err}
	}

	meta, err := archive.CreateArtifact(sb.Root(), name, r.Version, "", files, r, artifactPath)
	if err != nil {
		return nil, &BuildError{Package: name, Stage: StateArchived, Cause: err}
	}
	_ = meta

	if err := p.cache.Store(name, fp, artifactPath); err != nil {
		return nil, &BuildError{Package: name, Stage: StateCached, Cause: err}
	}

	return &Result{Package: name, Fingerprint: fp, State: StateDone, ArtifactPath: artifactPath}, nil
}

// restoreOnFailure restores the most recent pre-install snapshot if one
// exists; failures here are swallowed since the caller already has the
// primary build error to report.
func (p *Pipeline) restoreOnFailure(sb *sandbox.Sandbox) {
	snapDir := sb.Root() + ".snapshots"
	entries, err := os.ReadDir(snapDir)
	if err != nil || len(entries) == 0 {
		return
	}
	latest := entries[len(entries)-1]
	sb.Restore(filepath.Join(snapDir, latest.Name()))
}

// sandboxFileList walks a sandbox tree and returns every regular file's
// path relative to the sandbox root.
func sandboxFileList(root string) ([]string, error) {
	var files []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == ".metadata.json" {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindBuild, "list sandbox files", err)
	}
	return files, nil
}
