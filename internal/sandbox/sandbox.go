// Package sandbox manages per-build staging directories: the standard
// filesystem skeleton a build installs into under DESTDIR, with
// snapshot/restore for rollback and a byte-size quota (spec §4.5).
package sandbox

import (
	"archive/tar"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"sourcepm/internal/errs"
	"sourcepm/internal/privexec"
	"sourcepm/internal/recipe"
)

// StandardDirs are created under the sandbox root by Prepare (spec §4.5,
// mirroring the FHS layout a DESTDIR install expects to find).
var StandardDirs = []string{
	"bin", "lib", "include", "share",
	"etc", "var", "tmp",
	filepath.Join("usr", "bin"),
	filepath.Join("usr", "lib"),
	filepath.Join("usr", "include"),
	filepath.Join("usr", "share"),
}

// QuotaError reports that a sandbox exceeded its configured byte limit.
type QuotaError struct {
	Package string
	Size    int64
	Limit   int64
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("sandbox for %s is %d bytes, over the %d byte quota", e.Package, e.Size, e.Limit)
}

// metadata is the sandbox's .metadata.json: recipe, fingerprint, and a
// simple operation log for post-mortem debugging.
type metadata struct {
	Recipe      *recipe.Recipe `json:"recipe"`
	Fingerprint string         `json:"fingerprint"`
	History     []string       `json:"history"`
}

// Sandbox is a single package's staging directory.
type Sandbox struct {
	root      string
	name      string
	quota     int64 // bytes; 0 means unlimited
	executor  *privexec.Executor
}

// New returns a Sandbox rooted at <base>/<name>.
func New(base, name string, quota int64, executor *privexec.Executor) *Sandbox {
	return &Sandbox{
		root:     filepath.Join(base, name),
		name:     name,
		quota:    quota,
		executor: executor,
	}
}

// Root returns the sandbox's staging directory path.
func (s *Sandbox) Root() string { return s.root }

// Prepare (re)creates the sandbox skeleton. If clean is true, any existing
// contents are erased first. Writes .metadata.json with r, fingerprint, and
// a fresh history log.
func (s *Sandbox) Prepare(clean bool, r *recipe.Recipe, fingerprint string) error {
	if clean {
		if err := os.RemoveAll(s.root); err != nil {
			return errs.Wrap(errs.KindSandbox, "clean sandbox root", err).WithPackage(s.name)
		}
	}

	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return errs.Wrap(errs.KindSandbox, "create sandbox root", err).WithPackage(s.name)
	}
	for _, d := range StandardDirs {
		if err := os.MkdirAll(filepath.Join(s.root, d), 0o755); err != nil {
			return errs.Wrap(errs.KindSandbox, fmt.Sprintf("create %s", d), err).WithPackage(s.name)
		}
	}

	meta := metadata{Recipe: r, Fingerprint: fingerprint, History: []string{"prepared"}}
	return s.writeMetadata(meta)
}

// Run executes argv inside the sandbox's working directory. DESTDIR is set
// to the sandbox root so install steps stage into it rather than the live
// filesystem. When privileged is true, the command runs through the
// Privileged Executor's fakeroot wrapper.
func (s *Sandbox) Run(ctx context.Context, argv []string, env []string, cwd string, privileged bool) (*privexec.Result, error) {
	dir := cwd
	if dir == "" {
		dir = s.root
	}

	fullEnv := append([]string(nil), env...)
	fullEnv = append(fullEnv, "DESTDIR="+s.root)

	result, err := s.executor.Run(ctx, privexec.Options{
		Argv:       argv,
		Env:        fullEnv,
		Dir:        dir,
		Privileged: privileged,
		Profile:    privexec.ProfileBuild,
		Check:      true,
	})
	if err != nil {
		return result, errs.Wrap(errs.KindSandbox, fmt.Sprintf("run %v", argv), err).WithPackage(s.name)
	}
	s.appendHistory(fmt.Sprintf("run %v", argv))
	return result, nil
}

// Snapshot archives the sandbox's current contents to a zstd-compressed tar
// at <root>.snapshots/<unix-nano>.tar.zst and returns its path. Snapshots
// are the rollback point before a destructive transition (e.g. installing
// into the sandbox, or the real filesystem install).
func (s *Sandbox) Snapshot() (string, error) {
	snapDir := s.root + ".snapshots"
	if err := os.MkdirAll(snapDir, 0o755); err != nil {
		return "", errs.Wrap(errs.KindSandbox, "create snapshot dir", err).WithPackage(s.name)
	}

	path := filepath.Join(snapDir, fmt.Sprintf("%d.tar.zst", time.Now().UnixNano()))
	if err := s.archiveDir(s.root, path); err != nil {
		return "", err
	}
	s.appendHistory("snapshot " + path)
	return path, nil
}

// Restore erases the sandbox's current contents and recreates them from a
// snapshot produced by Snapshot.
func (s *Sandbox) Restore(archivePath string) error {
	if err := os.RemoveAll(s.root); err != nil {
		return errs.Wrap(errs.KindSandbox, "clear sandbox before restore", err).WithPackage(s.name)
	}
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return errs.Wrap(errs.KindSandbox, "recreate sandbox root", err).WithPackage(s.name)
	}
	if err := s.extractArchive(archivePath, s.root); err != nil {
		return err
	}
	s.appendHistory("restored from " + archivePath)
	return nil
}

// Archive writes a zstd-compressed tar of the sandbox tree to outPath.
// internal/archive does not read it: the distributable artifact is built
// by archive.CreateArtifact from the staged files.
func (s *Sandbox) Archive(outPath string) error {
	return s.archiveDir(s.root, outPath)
}

// Size returns the total byte size of the sandbox tree.
func (s *Sandbox) Size() (int64, error) {
	var total int64
	err := filepath.Walk(s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, errs.Wrap(errs.KindSandbox, "walk sandbox for size", err).WithPackage(s.name)
	}
	return total, nil
}

// CheckQuota returns a *QuotaError if the sandbox exceeds its configured
// byte limit. A zero quota means unlimited; CheckQuota always succeeds.
func (s *Sandbox) CheckQuota() error {
	if s.quota <= 0 {
		return nil
	}
	size, err := s.Size()
	if err != nil {
		return err
	}
	if size > s.quota {
		return &QuotaError{Package: s.name, Size: size, Limit: s.quota}
	}
	return nil
}

func (s *Sandbox) appendHistory(entry string) {
	meta, err := s.readMetadata()
	if err != nil {
		return
	}
	meta.History = append(meta.History, entry)
	s.writeMetadata(meta)
}

func (s *Sandbox) readMetadata() (metadata, error) {
	data, err := os.ReadFile(filepath.Join(s.root, ".metadata.json"))
	if err != nil {
		return metadata{}, err
	}
	var meta metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return metadata{}, err
	}
	return meta, nil
}

func (s *Sandbox) writeMetadata(meta metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return errs.Wrap(errs.KindSandbox, "marshal sandbox metadata", err).WithPackage(s.name)
	}
	path := filepath.Join(s.root, ".metadata.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errs.Wrap(errs.KindSandbox, "write sandbox metadata", err).WithPackage(s.name)
	}
	return nil
}

// archiveDir writes a zstd-compressed tar of srcDir to outPath.
func (s *Sandbox) archiveDir(srcDir, outPath string) error {
	f, err := os.Create(outPath)
	if err != nil {
		return errs.Wrap(errs.KindSandbox, "create archive file", err).WithPackage(s.name)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return errs.Wrap(errs.KindSandbox, "create zstd writer", err).WithPackage(s.name)
	}
	defer zw.Close()

	tw := tar.NewWriter(zw)
	defer tw.Close()

	err = filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = rel

		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			file, err := os.Open(path)
			if err != nil {
				return err
			}
			defer file.Close()
			if _, err := io.Copy(tw, file); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errs.Wrap(errs.KindSandbox, "build snapshot archive", err).WithPackage(s.name)
	}
	return nil
}

// extractArchive extracts a zstd tar produced by archiveDir into destDir.
func (s *Sandbox) extractArchive(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return errs.Wrap(errs.KindSandbox, "open snapshot archive", err).WithPackage(s.name)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return errs.Wrap(errs.KindSandbox, "create zstd reader", err).WithPackage(s.name)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errs.Wrap(errs.KindSandbox, "read snapshot archive", err).WithPackage(s.name)
		}

		target := filepath.Join(destDir, hdr.Name)
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode)); err != nil {
				return errs.Wrap(errs.KindSandbox, "restore directory", err).WithPackage(s.name)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return errs.Wrap(errs.KindSandbox, "restore parent directory", err).WithPackage(s.name)
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return errs.Wrap(errs.KindSandbox, "restore file", err).WithPackage(s.name)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return errs.Wrap(errs.KindSandbox, "write restored file", err).WithPackage(s.name)
			}
			out.Close()
		case tar.TypeSymlink:
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return errs.Wrap(errs.KindSandbox, "restore symlink", err).WithPackage(s.name)
			}
		}
	}
	return nil
}
