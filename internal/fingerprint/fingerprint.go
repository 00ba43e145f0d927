// Package fingerprint computes the stable build identity used as a cache
// key and sandbox directory name: the SHA-256 of a canonical recipe
// serialization followed by the contents (or absence) of the files that
// feed the build.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/opencontainers/go-digest"

	"sourcepm/internal/recipe"
)

const chunkSize = 8 * 1024

const missingFileMarker = "__missing__:"

// Compute derives the fingerprint of a recipe given the source directory
// it will build from. If the recipe declares a manifest (the list of
// files whose content determines the build output), each listed file is
// hashed in turn; a listed file that does not exist contributes the
// literal marker "__missing__:<path>" instead, so its absence is still
// reflected in the digest, and a listed file that exists but cannot be
// read is an error. If no manifest is declared, every file under
// sourceDir is recorded instead as "<relative_path>:<mtime>", sorted
// lexicographically; an entry that cannot be stat'ed gets the same marker.
func Compute(r *recipe.Recipe, sourceDir string, manifest []string) (string, error) {
	h := sha256.New()

	canonical, err := canonicalJSON(r)
	if err != nil {
		return "", fmt.Errorf("fingerprint: canonicalize recipe: %w", err)
	}
	h.Write(canonical)

	if len(manifest) > 0 {
		if err := hashManifest(h, sourceDir, manifest); err != nil {
			return "", err
		}
	} else {
		if err := hashDirectoryListing(h, sourceDir); err != nil {
			return "", err
		}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// canonicalJSON serializes r as JSON with struct fields in their declared
// order but map keys sorted, matching encoding/json's default behavior for
// maps (Go's json package already sorts map keys; no custom walk needed).
func canonicalJSON(r *recipe.Recipe) ([]byte, error) {
	return json.Marshal(r)
}

func hashManifest(h io.Writer, sourceDir string, manifest []string) error {
	sorted := append([]string(nil), manifest...)
	sort.Strings(sorted)

	for _, rel := range sorted {
		path := filepath.Join(sourceDir, rel)
		if err := hashFile(h, path); err != nil {
			return fmt.Errorf("fingerprint: manifest file %q: %w", rel, err)
		}
	}
	return nil
}

func hashDirectoryListing(h io.Writer, sourceDir string) error {
	var entries []string
	err := filepath.WalkDir(sourceDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}
		entries = append(entries, rel)
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("fingerprint: walk %q: %w", sourceDir, err)
	}

	sort.Strings(entries)
	for _, rel := range entries {
		path := filepath.Join(sourceDir, rel)
		info, err := os.Stat(path)
		if err != nil {
			fmt.Fprintf(h, "%s%s", missingFileMarker, rel)
			continue
		}
		fmt.Fprintf(h, "%s:%d", rel, info.ModTime().UnixNano())
	}
	return nil
}

// hashFile streams a file's contents into h in fixed-size chunks.
func hashFile(h io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Fprintf(h, "%s%s", missingFileMarker, path)
			return nil
		}
		return err
	}
	defer f.Close()

	buf := make([]byte, chunkSize)
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return readErr
		}
	}
	return nil
}

// Digest wraps a fingerprint's hex string as an OCI-style content digest
// ("sha256:<hex>"), the form used throughout the cache and artifact store.
func Digest(fingerprint string) digest.Digest {
	return digest.NewDigestFromEncoded(digest.SHA256, fingerprint)
}
