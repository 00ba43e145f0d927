// Package recipe models the build recipe: the declarative description of
// how to fetch, configure, build, and stage a single package version.
package recipe

import (
	"fmt"
	"runtime"
	"strings"
)

// Recipe is the parsed, in-memory form of a recipe file (YAML or JSON).
type Recipe struct {
	Name        string `yaml:"name" json:"name"`
	Version     string `yaml:"version" json:"version"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Homepage    string `yaml:"homepage,omitempty" json:"homepage,omitempty"`
	License     string `yaml:"license,omitempty" json:"license,omitempty"`

	Source Source `yaml:"source" json:"source"`

	// BuildSystem selects the command sequence the pipeline runs
	// (cmake, meson, autotools, make, python, cargo, node).
	BuildSystem string `yaml:"build_system" json:"build_system"`

	// BuildOptions are appended to the configure command for cmake, meson
	// and autotools (and for make when the source tree has ./configure);
	// for node each entry names an npm script to run. python and cargo
	// builds ignore them.
	BuildOptions []string `yaml:"build_options,omitempty" json:"build_options,omitempty"`

	Dependencies Dependencies `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`

	Patches   []Patch    `yaml:"patches,omitempty" json:"patches,omitempty"`
	Resources []Resource `yaml:"resources,omitempty" json:"resources,omitempty"`

	Steps []Step `yaml:"steps,omitempty" json:"steps,omitempty"`

	Hooks Hooks `yaml:"hooks,omitempty" json:"hooks,omitempty"`

	// SupportedOS/SupportedArch/UnsupportedPlatforms define the
	// allowlist-minus-denylist platform support model. A nil allowlist
	// defaults to every platform sourcepm recognizes.
	SupportedOS          []string `yaml:"supported_os,omitempty" json:"supported_os,omitempty"`
	SupportedArch        []string `yaml:"supported_arch,omitempty" json:"supported_arch,omitempty"`
	UnsupportedPlatforms []string `yaml:"unsupported_platforms,omitempty" json:"unsupported_platforms,omitempty"`

	// ManifestDigest is maintained by the recipe index after a maintainer
	// re-tarballs upstream source (see index.InjectManifestDigest).
	ManifestDigest string `yaml:"manifest_digest,omitempty" json:"manifest_digest,omitempty"`

	// ManifestFiles declares the source-tree paths (relative to the
	// fetched source root) whose content determines the build output
	// (§6, §4.1). When set, fingerprint.Compute hashes exactly these
	// files instead of falling back to a full directory mtime listing,
	// which is what makes the fingerprint reproducible across hosts with
	// different checkout timestamps (§8).
	ManifestFiles []string `yaml:"manifest_files,omitempty" json:"manifest_files,omitempty"`
}

// Source describes the upstream artifact a recipe builds from.
type Source struct {
	URL      string `yaml:"url" json:"url"`
	Checksum string `yaml:"checksum" json:"checksum"` // "sha256:<hex>"
}

// Dependency is one entry in a dependency list, optionally version-constrained.
type Dependency struct {
	Name       string `yaml:"name" json:"name"`
	Constraint string `yaml:"constraint,omitempty" json:"constraint,omitempty"` // e.g. ">=1.2,<2.0"
}

// Dependencies splits a recipe's dependency graph edges by when they're needed.
type Dependencies struct {
	Build   []Dependency `yaml:"build,omitempty" json:"build,omitempty"`
	Run     []Dependency `yaml:"run,omitempty" json:"run,omitempty"`
	Opt     []Dependency `yaml:"opt,omitempty" json:"opt,omitempty"`

	// Optional gates build/run deps behind a named flag, evaluated against
	// the FlagSet passed into the resolver. Flags default to off; this is
	// sourcepm's equivalent of USE-flag-conditional dependencies.
	Optional map[string][]Dependency `yaml:"optional,omitempty" json:"optional,omitempty"`
}

// All returns every unconditional dependency (build, run, and opt), in order.
func (d Dependencies) All() []Dependency {
	all := make([]Dependency, 0, len(d.Build)+len(d.Run)+len(d.Opt))
	all = append(all, d.Build...)
	all = append(all, d.Run...)
	all = append(all, d.Opt...)
	return all
}

// WithFlags returns the unconditional dependencies plus any optional groups
// whose flag is set in the given FlagSet.
func (d Dependencies) WithFlags(flags FlagSet) []Dependency {
	all := d.All()
	for name, deps := range d.Optional {
		if flags.Enabled(name) {
			all = append(all, deps...)
		}
	}
	return all
}

// FlagSet is a resolve-time set of enabled optional-dependency flags.
// A nil FlagSet enables nothing.
type FlagSet map[string]bool

// Enabled reports whether the named flag is set.
func (f FlagSet) Enabled(name string) bool {
	return f != nil && f[name]
}

// Patch is a source modification applied before the build starts.
type Patch struct {
	URL      string `yaml:"url,omitempty" json:"url,omitempty"`
	Data     string `yaml:"data,omitempty" json:"data,omitempty"`
	Checksum string `yaml:"checksum,omitempty" json:"checksum,omitempty"`
	Strip    int    `yaml:"strip,omitempty" json:"strip,omitempty"`
	Subdir   string `yaml:"subdir,omitempty" json:"subdir,omitempty"`
}

// Resource is an additional download staged into the source tree before
// the build starts (vendored dependency trees, bundled test fixtures).
type Resource struct {
	Name     string `yaml:"name" json:"name"`
	URL      string `yaml:"url" json:"url"`
	Checksum string `yaml:"checksum" json:"checksum"`
	Dest     string `yaml:"dest" json:"dest"`
}

// Step is one primitive operation in the build pipeline, gated by an
// optional When clause. Steps beyond the build-system's generated sequence
// let a recipe inject custom commands (e.g. a post-install strip pass).
type Step struct {
	Action      string         `yaml:"action" json:"action"`
	Params      map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
	When        *WhenClause    `yaml:"when,omitempty" json:"when,omitempty"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
}

// Hooks maps a lifecycle stage name (§4.7) to the shell command strings run
// at that stage, in declared order. A recipe-declared hook is always a
// command string executed via the privileged executor, never an in-process
// callback — those are reserved for global hook registrations.
type Hooks map[string][]string

// Commands returns the commands declared for stage, or nil if none.
func (h Hooks) Commands(stage string) []string {
	if h == nil {
		return nil
	}
	return h[stage]
}

// WhenClause constrains a Step to a subset of platforms. Matches returns
// true when the clause has no constraints (always-run steps).
type WhenClause struct {
	OS       []string `yaml:"os,omitempty" json:"os,omitempty"`
	Arch     []string `yaml:"arch,omitempty" json:"arch,omitempty"`
	Platform []string `yaml:"platform,omitempty" json:"platform,omitempty"` // "os/arch" tuples
}

// MatchTarget is the platform a When clause is evaluated against.
type MatchTarget struct {
	OS   string
	Arch string
}

// NewMatchTarget builds a MatchTarget, defaulting to the current runtime.
func NewMatchTarget(goos, goarch string) MatchTarget {
	if goos == "" {
		goos = runtime.GOOS
	}
	if goarch == "" {
		goarch = runtime.GOARCH
	}
	return MatchTarget{OS: goos, Arch: goarch}
}

// Matches reports whether the clause admits the given target. An empty
// clause matches everything; each non-empty field narrows independently,
// and all non-empty fields must agree (conjunction).
func (w *WhenClause) Matches(t MatchTarget) bool {
	if w == nil {
		return true
	}

	if len(w.OS) > 0 && !containsString(w.OS, t.OS) {
		return false
	}
	if len(w.Arch) > 0 && !containsString(w.Arch, t.Arch) {
		return false
	}
	if len(w.Platform) > 0 {
		tuple := fmt.Sprintf("%s/%s", t.OS, t.Arch)
		if !containsString(w.Platform, tuple) {
			return false
		}
	}

	return true
}

func containsString(slice []string, value string) bool {
	for _, item := range slice {
		if item == value {
			return true
		}
	}
	return false
}

// SupportedOSDefaults returns the operating systems sourcepm supports
// when a recipe does not declare an explicit allowlist.
func SupportedOSDefaults() []string {
	return []string{"linux"}
}

// SupportedArchDefaults returns the architectures sourcepm supports
// when a recipe does not declare an explicit allowlist.
func SupportedArchDefaults() []string {
	return []string{"amd64", "arm64"}
}

// SupportsPlatform reports whether the recipe builds on the given
// OS/arch, applying the allowlist-minus-denylist model: the Cartesian
// product of SupportedOS x SupportedArch (or the sourcepm defaults when
// unset), minus any tuple named in UnsupportedPlatforms.
func (r *Recipe) SupportsPlatform(targetOS, targetArch string) bool {
	supportedOS := r.SupportedOS
	if supportedOS == nil {
		supportedOS = SupportedOSDefaults()
	}
	supportedArch := r.SupportedArch
	if supportedArch == nil {
		supportedArch = SupportedArchDefaults()
	}

	if !containsString(supportedOS, targetOS) || !containsString(supportedArch, targetArch) {
		return false
	}

	tuple := fmt.Sprintf("%s/%s", targetOS, targetArch)
	return !containsString(r.UnsupportedPlatforms, tuple)
}

// SupportsPlatformRuntime checks platform support against the running GOOS/GOARCH.
func (r *Recipe) SupportsPlatformRuntime() bool {
	return r.SupportsPlatform(runtime.GOOS, runtime.GOARCH)
}

// UnsupportedPlatformError reports that a recipe cannot build on the
// requested platform.
type UnsupportedPlatformError struct {
	RecipeName  string
	CurrentOS   string
	CurrentArch string
}

func (e *UnsupportedPlatformError) Error() string {
	return fmt.Sprintf("recipe %q is not available for %s/%s", e.RecipeName, e.CurrentOS, e.CurrentArch)
}

// ActiveSteps returns the steps whose When clause admits the given target,
// in declaration order.
func (r *Recipe) ActiveSteps(t MatchTarget) []Step {
	var active []Step
	for _, step := range r.Steps {
		if step.When.Matches(t) {
			active = append(active, step)
		}
	}
	return active
}

// String renders a short identity for logging: "name@version".
func (r *Recipe) String() string {
	return strings.Join([]string{r.Name, r.Version}, "@")
}
