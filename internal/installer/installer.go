// Package installer extracts a built artifact into the real filesystem
// transactionally: backup before overwrite, atomic Installed DB update,
// restore-on-failure (spec §4.11).
package installer

import (
	"archive/tar"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ProtonMail/gopenpgp/v2/crypto"

	"sourcepm/internal/archive"
	"sourcepm/internal/db"
	"sourcepm/internal/errs"
	"sourcepm/internal/hooks"
	"sourcepm/internal/privexec"
	"sourcepm/internal/versioncmp"
)

// Options configures a single install.
type Options struct {
	ArtifactPath    string
	AllowDowngrade  bool
	Force           bool
	Backup          bool
	VerifySignature bool
	SignaturePath   string
	TrustedKey      *crypto.Key
	BackupDir       string

	// Root is prepended to every declared relative path to derive the
	// destination absolute path; defaults to "/" (spec §4.11 step 3:
	// "mapped to absolute paths under /"). Overriding it lets tooling
	// (and tests) target an alternate root without touching the real
	// filesystem.
	Root string
}

// Installer performs transactional installs against a shared Installed DB.
type Installer struct {
	database *db.DB
	hooksD   *hooks.Dispatcher
	executor *privexec.Executor
}

// New returns an Installer.
func New(database *db.DB, dispatcher *hooks.Dispatcher, executor *privexec.Executor) *Installer {
	return &Installer{database: database, hooksD: dispatcher, executor: executor}
}

// InstallError wraps a failure during the transactional install.
type InstallError struct {
	Package string
	Stage   string
	Cause   error
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("install %s failed at %s: %v", e.Package, e.Stage, e.Cause)
}

func (e *InstallError) Unwrap() error { return e.Cause }

// Install extracts the artifact at opts.ArtifactPath into the live
// filesystem per spec §4.11's nine-step transaction.
func (inst *Installer) Install(ctx context.Context, opts Options) (*db.Record, error) {
	meta, err := inst.verifyIntegrity(opts)
	if err != nil {
		return nil, &InstallError{Stage: "verify", Cause: err}
	}

	existing, hasExisting, err := inst.database.Get(meta.Name)
	if err != nil {
		return nil, &InstallError{Package: meta.Name, Stage: "db_lookup", Cause: err}
	}
	if hasExisting {
		cmp := versioncmp.Compare(meta.Version, existing.Version)
		if cmp < 0 && !opts.AllowDowngrade {
			return nil, &InstallError{Package: meta.Name, Stage: "version_check",
				Cause: errs.New(errs.KindInstall, fmt.Sprintf("refusing downgrade %s -> %s without allow_downgrade", existing.Version, meta.Version))}
		}
		if cmp == 0 && !opts.Force {
			return nil, &InstallError{Package: meta.Name, Stage: "version_check",
				Cause: errs.New(errs.KindInstall, fmt.Sprintf("%s %s is already installed, use force to reinstall", meta.Name, meta.Version))}
		}
	}

	tmpDir, err := os.MkdirTemp("", "sourcepm-install-")
	if err != nil {
		return nil, &InstallError{Package: meta.Name, Stage: "extract", Cause: err}
	}
	defer os.RemoveAll(tmpDir)

	if _, err := archive.ExtractArtifact(opts.ArtifactPath, tmpDir); err != nil {
		return nil, &InstallError{Package: meta.Name, Stage: "extract", Cause: err}
	}

	root := opts.Root
	if root == "" {
		root = string(filepath.Separator)
	}
	destPaths := make([]string, len(meta.Files))
	for i, f := range meta.Files {
		destPaths[i] = filepath.Join(root, f)
	}

	if err := inst.hooksD.Dispatch(ctx, hooks.PreInstall, meta.Recipe); err != nil {
		return nil, &InstallError{Package: meta.Name, Stage: "pre_install_hooks", Cause: err}
	}

	var backupPath string
	var preExisting []string
	if opts.Backup {
		backupPath, preExisting, err = inst.backup(meta.Name, destPaths, opts.BackupDir)
		if err != nil {
			return nil, &InstallError{Package: meta.Name, Stage: "backup", Cause: err}
		}
	} else {
		preExisting = existingPaths(destPaths)
	}

	written, copyErr := inst.copyFiles(ctx, tmpDir, meta.Files, destPaths)
	if copyErr != nil {
		if rbErr := inst.rollback(ctx, backupPath, preExisting, written); rbErr != nil {
			return nil, &errs.RollbackError{Original: copyErr, Rollback: rbErr}
		}
		return nil, &InstallError{Package: meta.Name, Stage: "copy_files", Cause: copyErr}
	}

	record := db.Record{
		Name:        meta.Name,
		Version:     meta.Version,
		Files:       destPaths,
		Recipe:      meta.Recipe,
		InstalledAt: time.Now(),
		UpdatedAt:   time.Now(),
	}
	if hasExisting {
		record.InstalledAt = existing.InstalledAt
		record.Explicit = existing.Explicit
	}

	if err := inst.database.Put(record); err != nil {
		if rbErr := inst.rollback(ctx, backupPath, preExisting, written); rbErr != nil {
			return nil, &errs.RollbackError{Original: err, Rollback: rbErr}
		}
		return nil, &InstallError{Package: meta.Name, Stage: "db_update", Cause: err}
	}

	if err := inst.hooksD.Dispatch(ctx, hooks.PostInstall, meta.Recipe); err != nil {
		return &record, &InstallError{Package: meta.Name, Stage: "post_install_hooks", Cause: err}
	}

	return &record, nil
}

// verifyIntegrity recomputes the archive's digest, compares it to the
// metadata's embedded digest, and optionally verifies a detached signature.
func (inst *Installer) verifyIntegrity(opts Options) (*archive.Metadata, error) {
	meta, err := readMetadataOnly(opts.ArtifactPath)
	if err != nil {
		return nil, err
	}
	if err := archive.VerifyDigest(opts.ArtifactPath, meta); err != nil {
		return nil, err
	}
	if opts.VerifySignature {
		if opts.TrustedKey == nil {
			return nil, errs.New(errs.KindInstall, "signature verification requested but no trusted key provided")
		}
		sigData, err := os.ReadFile(opts.SignaturePath)
		if err != nil {
			return nil, errs.Wrap(errs.KindInstall, "read detached signature", err)
		}
		if err := verifyDetachedSignature(opts.ArtifactPath, sigData, opts.TrustedKey); err != nil {
			return nil, errs.Wrap(errs.KindInstall, "signature verification failed", err)
		}
	}
	return meta, nil
}

// readMetadataOnly returns the embedded metadata.json by extracting the
// whole artifact with ExtractArtifact into a throwaway directory that is
// removed afterwards.
func readMetadataOnly(archivePath string) (*archive.Metadata, error) {
	tmp, err := os.MkdirTemp("", "sourcepm-meta-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmp)
	return archive.ExtractArtifact(archivePath, tmp)
}

func verifyDetachedSignature(filePath string, sigData []byte, key *crypto.Key) error {
	fileData, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}

	signature, err := crypto.NewPGPSignatureFromArmored(string(sigData))
	if err != nil {
		signature = crypto.NewPGPSignature(sigData)
	}

	keyRing, err := crypto.NewKeyRing(key)
	if err != nil {
		return err
	}

	message := crypto.NewPlainMessage(fileData)
	return keyRing.VerifyDetached(message, signature, 0)
}

// existingPaths returns the subset of destPaths that currently exist on
// disk, used to tell a rollback which paths an install is allowed to
// delete outright (the ones it created) from the ones it must restore
// from backup (the ones it overwrote).
func existingPaths(destPaths []string) []string {
	var existing []string
	for _, p := range destPaths {
		if _, err := os.Lstat(p); err == nil {
			existing = append(existing, p)
		}
	}
	return existing
}

// backup tarballs every destination path that currently exists into
// backupDir, and returns the tarball path (empty if nothing existed) plus
// the list of paths it backed up.
func (inst *Installer) backup(name string, destPaths []string, backupDir string) (string, []string, error) {
	existing := existingPaths(destPaths)
	if len(existing) == 0 {
		return "", nil, nil
	}

	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return "", nil, err
	}
	backupPath := filepath.Join(backupDir, fmt.Sprintf("%s-%d.tar", name, time.Now().UnixNano()))

	f, err := os.Create(backupPath)
	if err != nil {
		return "", nil, err
	}
	defer f.Close()

	tw := tar.NewWriter(f)
	defer tw.Close()

	for _, p := range existing {
		if err := addFileToTar(tw, p); err != nil {
			return "", nil, err
		}
	}
	return backupPath, existing, nil
}

// rollback undoes a partially-applied install: it restores the backup
// tarball (the destination paths that existed before this install) and
// deletes every path copyFiles wrote that did not previously exist (§8
// scenario 5: newly created paths must end up nonexistent again, not just
// whatever the backup happened to contain).
func (inst *Installer) rollback(ctx context.Context, backupPath string, preExisting, written []string) error {
	existingSet := make(map[string]bool, len(preExisting))
	for _, p := range preExisting {
		existingSet[p] = true
	}

	var rollbackErrs []error
	if backupPath != "" {
		if err := inst.restore(backupPath); err != nil {
			rollbackErrs = append(rollbackErrs, err)
		}
	}

	for _, p := range written {
		if existingSet[p] {
			continue
		}
		if _, err := inst.executor.Run(ctx, privexec.Options{
			Argv:       []string{"rm", "-f", p},
			Privileged: true,
			Profile:    privexec.ProfileDefault,
		}); err != nil {
			rollbackErrs = append(rollbackErrs, fmt.Errorf("remove newly created %s: %w", p, err))
		}
	}

	return stderrors.Join(rollbackErrs...)
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

// restore extracts a backup tarball back to absolute paths, reversing a
// failed install.
func (inst *Installer) restore(backupPath string) error {
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

// copyFiles copies every extracted file to its destination, preserving
// mode/timestamps/symlinks; falls back to tar-stream semantics (a plain
// byte copy via io.Copy, which is what a tar extraction does internally)
// if the direct os-level copy fails. Returns the destination paths
// successfully written so far, even on error, so a caller can roll back
// exactly what this call created.
func (inst *Installer) copyFiles(ctx context.Context, srcRoot string, relFiles, destPaths []string) ([]string, error) {
	var written []string
	for i, rel := range relFiles {
		src := filepath.Join(srcRoot, rel)
		dest := destPaths[i]

		if _, err := inst.executor.Run(ctx, privexec.Options{
			Argv:       []string{"mkdir", "-p", filepath.Dir(dest)},
			Privileged: true,
			Profile:    privexec.ProfileDefault,
			Check:      true,
		}); err != nil {
			return written, fmt.Errorf("mkdir -p %s: %w", filepath.Dir(dest), err)
		}

		if err := copyPreserve(src, dest); err != nil {
			if err := streamCopy(src, dest); err != nil {
				return written, fmt.Errorf("copy %s -> %s: %w", src, dest, err)
			}
		}
		written = append(written, dest)
	}
	return written, nil
}

func copyPreserve(src, dest string) error {
	info, err := os.Lstat(src)
	if err != nil {
		return err
	}

	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(src)
		if err != nil {
			return err
		}
		os.Remove(dest)
		return os.Symlink(target, dest)
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	out.Close()

	return os.Chtimes(dest, info.ModTime(), info.ModTime())
}

// streamCopy is the tar-stream-style fallback: a straightforward byte copy
// with default permissions, for destinations copyPreserve can't handle
// directly (e.g. a dest requiring elevated privileges to open).
func streamCopy(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
