// Package hooks dispatches lifecycle hooks (spec §4.7): global in-process
// callbacks, recipe-declared shell commands, and directory-discovered
// scripts, run in that order for a given stage.
package hooks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"sourcepm/internal/errs"
	"sourcepm/internal/privexec"
	"sourcepm/internal/recipe"
)

// Stage names recognized by the dispatcher (§4.7).
const (
	PrePrepare    = "pre_prepare"
	PostPrepare   = "post_prepare"
	PreBuild      = "pre_build"
	PostBuild     = "post_build"
	PreInstall    = "pre_install"
	PostInstall   = "post_install"
	PreRemove     = "pre_remove"
	PostRemove    = "post_remove"
	PreUpgrade    = "pre_upgrade"
	PostUpgrade   = "post_upgrade"
	PreSync       = "pre_sync"
	PostSync      = "post_sync"
	PreDeepclean  = "pre_deepclean"
	PostDeepclean = "post_deepclean"
	PreAuto       = "pre_auto"
	PostAuto      = "post_auto"
	PreAutoPkg    = "pre_auto_pkg"
	PostAutoPkg   = "post_auto_pkg"
	OnFailPkg     = "on_fail_pkg"
	OnRecoverPkg  = "on_recover_pkg"
)

// Callback is an in-process hook registration.
type Callback func(ctx context.Context, r *recipe.Recipe) error

// Dispatcher runs hooks for a stage against a given recipe, sourced from
// (in order) global in-process registrations, the recipe's own declared
// commands, and scripts discovered under a global hooks directory.
type Dispatcher struct {
	executor  *privexec.Executor
	hooksDir  string
	callbacks map[string][]Callback
}

// New returns a Dispatcher that runs recipe/directory hook commands
// through executor and looks for directory-discovered scripts under
// hooksDir (Config.HooksDir).
func New(executor *privexec.Executor, hooksDir string) *Dispatcher {
	return &Dispatcher{
		executor:  executor,
		hooksDir:  hooksDir,
		callbacks: make(map[string][]Callback),
	}
}

// Register adds an in-process callback for stage.
func (d *Dispatcher) Register(stage string, cb Callback) {
	d.callbacks[stage] = append(d.callbacks[stage], cb)
}

// Dispatch runs every hook source for stage in order. Any failure is fatal
// for the stage and returned as an errs.Error of kind KindHook.
func (d *Dispatcher) Dispatch(ctx context.Context, stage string, r *recipe.Recipe) error {
	for _, cb := range d.callbacks[stage] {
		if err := cb(ctx, r); err != nil {
			return errs.Wrap(errs.KindHook, fmt.Sprintf("in-process callback for stage %q", stage), err)
		}
	}

	if r != nil {
		for _, cmd := range r.Hooks.Commands(stage) {
			if _, err := d.executor.Run(ctx, privexec.Options{
				Shell:   cmd,
				Profile: privexec.ProfileDefault,
				Check:   true,
			}); err != nil {
				return errs.Wrap(errs.KindHook, fmt.Sprintf("recipe hook for stage %q", stage), err)
			}
		}
	}

	scripts, err := d.discoverScripts(stage)
	if err != nil {
		return errs.Wrap(errs.KindHook, fmt.Sprintf("discover scripts for stage %q", stage), err)
	}
	for _, script := range scripts {
		if _, err := d.executor.Run(ctx, privexec.Options{
			Argv:    []string{script},
			Profile: privexec.ProfileDefault,
			Check:   true,
		}); err != nil {
			return errs.Wrap(errs.KindHook, fmt.Sprintf("directory hook %q for stage %q", script, stage), err)
		}
	}

	return nil
}

// discoverScripts lists executable files under <hooksDir>/<stage>/,
// sorted by name for deterministic ordering.
func (d *Dispatcher) discoverScripts(stage string) ([]string, error) {
	if d.hooksDir == "" {
		return nil, nil
	}

	dir := filepath.Join(d.hooksDir, stage)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.Mode()&0o111 == 0 {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	scripts := make([]string, len(names))
	for i, n := range names {
		scripts[i] = filepath.Join(dir, n)
	}
	return scripts, nil
}
