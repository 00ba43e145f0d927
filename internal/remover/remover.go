// Package remover removes an installed package transactionally: reverse
// dependency refusal, backup, file removal with restore-on-failure, and
// Installed DB bookkeeping (spec §4.12). It also implements the deep-clean
// orphan sweep supplemented from original_source's deepclean module.
package remover

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"sourcepm/internal/db"
	"sourcepm/internal/errs"
	"sourcepm/internal/hooks"
	"sourcepm/internal/privexec"
)

// Options configures a single remove.
type Options struct {
	Force     bool
	Backup    bool
	BackupDir string
}

// Remover performs transactional removal against a shared Installed DB.
type Remover struct {
	database *db.DB
	hooksD   *hooks.Dispatcher
	executor *privexec.Executor
}

// New returns a Remover.
func New(database *db.DB, dispatcher *hooks.Dispatcher, executor *privexec.Executor) *Remover {
	return &Remover{database: database, hooksD: dispatcher, executor: executor}
}

// RemoveError wraps a failure during the transactional remove.
type RemoveError struct {
	Package string
	Stage   string
	Cause   error
}

func (e *RemoveError) Error() string {
	return fmt.Sprintf("remove %s failed at %s: %v", e.Package, e.Stage, e.Cause)
}

func (e *RemoveError) Unwrap() error { return e.Cause }

// Remove deletes an installed package per spec §4.12's six-step sequence.
func (rm *Remover) Remove(ctx context.Context, name string, opts Options) error {
	record, ok, err := rm.database.Get(name)
	if err != nil {
		return &RemoveError{Package: name, Stage: "db_lookup", Cause: err}
	}
	if !ok {
		return &RemoveError{Package: name, Stage: "db_lookup",
			Cause: errs.New(errs.KindRemove, fmt.Sprintf("%s is not installed", name))}
	}

	dependents, err := rm.ReverseDependencies(name)
	if err != nil {
		return &RemoveError{Package: name, Stage: "reverse_dependency_check", Cause: err}
	}
	if len(dependents) > 0 && !opts.Force {
		return &RemoveError{Package: name, Stage: "reverse_dependency_check",
			Cause: errs.New(errs.KindRemove, fmt.Sprintf("%s is required by %v, use force to remove anyway", name, dependents))}
	}

	if err := rm.hooksD.Dispatch(ctx, hooks.PreRemove, record.Recipe); err != nil {
		return &RemoveError{Package: name, Stage: "pre_remove_hooks", Cause: err}
	}

	var backupPath string
	if opts.Backup {
		backupPath, err = rm.backup(name, record.Files, opts.BackupDir)
		if err != nil {
			return &RemoveError{Package: name, Stage: "backup", Cause: err}
		}
	}

	if err := rm.removeFiles(ctx, record.Files); err != nil {
		if backupPath != "" {
			if restoreErr := rm.restore(backupPath); restoreErr != nil {
				return &errs.RollbackError{Original: err, Rollback: restoreErr}
			}
		}
		return &RemoveError{Package: name, Stage: "remove_files", Cause: err}
	}

	if err := rm.database.Remove(name); err != nil {
		return &RemoveError{Package: name, Stage: "db_update", Cause: err}
	}

	if err := rm.hooksD.Dispatch(ctx, hooks.PostRemove, record.Recipe); err != nil {
		return &RemoveError{Package: name, Stage: "post_remove_hooks", Cause: err}
	}

	return nil
}

// ReverseDependencies returns the names of every installed package whose
// recorded recipe snapshot depends on name, build, runtime or opt;
// flag-gated optional groups are not checked.
func (rm *Remover) ReverseDependencies(name string) ([]string, error) {
	records, err := rm.database.List()
	if err != nil {
		return nil, err
	}
	var dependents []string
	for pkgName, r := range records {
		if pkgName == name || r.Recipe == nil {
			continue
		}
		for _, dep := range r.Recipe.Dependencies.All() {
			if dep.Name == name {
				dependents = append(dependents, pkgName)
				break
			}
		}
	}
	sort.Strings(dependents)
	return dependents, nil
}

// FindOrphans returns every installed package that is neither Explicit nor
// reachable as a dependency of an Explicit package (spec SUPPLEMENTED
// FEATURES: deep-clean sweep).
func (rm *Remover) FindOrphans() ([]string, error) {
	records, err := rm.database.List()
	if err != nil {
		return nil, err
	}

	reachable := make(map[string]bool)
	var visit func(name string)
	visit = func(name string) {
		if reachable[name] {
			return
		}
		reachable[name] = true
		r, ok := records[name]
		if !ok || r.Recipe == nil {
			return
		}
		for _, dep := range r.Recipe.Dependencies.All() {
			visit(dep.Name)
		}
	}
	for name, r := range records {
		if r.Explicit {
			visit(name)
		}
	}

	var orphans []string
	for name := range records {
		if !reachable[name] {
			orphans = append(orphans, name)
		}
	}
	sort.Strings(orphans)
	return orphans, nil
}

func (rm *Remover) backup(name string, files []string, backupDir string) (string, error) {
	var existing []string
	for _, p := range files {
		if _, err := os.Lstat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return "", nil
	}

	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return "", err
	}
	backupPath := filepath.Join(backupDir, fmt.Sprintf("%s-remove-%d.tar", name, time.Now().UnixNano()))

	f, err := os.Create(backupPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	tw := tar.NewWriter(f)
	defer tw.Close()

	for _, p := range existing {
		if err := addFileToTar(tw, p); err != nil {
			return "", err
		}
	}
	return backupPath, nil
}

func addFileToTar(tw *tar.Writer, path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return err
	}

	var link string
	if info.Mode()&os.ModeSymlink != 0 {
		link, err = os.Readlink(path)
		if err != nil {
			return err
		}
	}

	hdr, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return err
	}
	hdr.Name = path

	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if info.Mode().IsRegular() {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		if _, err := io.Copy(tw, f); err != nil {
			return err
		}
	}
	return nil
}

func (rm *Remover) restore(backupPath string) error {
	f, err := os.Open(backupPath)
	if err != nil {
		return err
	}
	defer f.Close()

	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(hdr.Name), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(hdr.Name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			out.Close()
		case tar.TypeSymlink:
			os.Remove(hdr.Name)
			if err := os.Symlink(hdr.Linkname, hdr.Name); err != nil {
				return err
			}
		}
	}
	return nil
}

// removeFiles deletes every file via the Privileged Executor, aborting on
// the first error (spec §4.12 step 4: "abort on first error").
func (rm *Remover) removeFiles(ctx context.Context, files []string) error {
	for _, p := range files {
		if _, err := rm.executor.Run(ctx, privexec.Options{
			Argv:       []string{"rm", "-f", p},
			Privileged: true,
			Profile:    privexec.ProfileDefault,
			Check:      true,
		}); err != nil {
			return fmt.Errorf("rm %s: %w", p, err)
		}
	}
	return nil
}
