// Package cache is the content-addressed artifact store (spec §4.4): a
// flat directory of "<name>-<fingerprint>.tar.gz" archives with
// "<name>-<fingerprint>.json" metadata sidecars, evicted under an
// LRU/size policy once a configured byte limit is exceeded.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	lru "github.com/hashicorp/golang-lru/v2"

	"sourcepm/internal/errs"
	"sourcepm/internal/log"
)

// sidecar is the on-disk metadata next to a cached archive, tracking
// recency for eviction — the same shape the teacher's recipe cache keeps
// per entry, generalized from "recipe" to "artifact".
type sidecar struct {
	Name       string    `json:"name"`
	Fingerprint string   `json:"fingerprint"`
	Size       int64     `json:"size"`
	LastAccess time.Time `json:"last_access"`
}

// Cache is a local artifact cache rooted at dir. recent is an in-process
// LRU of recently stored and looked-up keys; it is only written, and
// Lookup and Evict read the directory and sidecar files directly.
type Cache struct {
	dir       string
	sizeLimit int64
	highWater float64
	lowWater  float64
	recent    *lru.Cache[string, struct{}]
	logger    log.Logger
}

// New returns a Cache rooted at dir with the given byte size limit.
func New(dir string, sizeLimit int64) (*Cache, error) {
	recent, err := lru.New[string, struct{}](1024)
	if err != nil {
		return nil, err
	}
	return &Cache{
		dir:       dir,
		sizeLimit: sizeLimit,
		highWater: 0.80,
		lowWater:  0.60,
		recent:    recent,
		logger:    log.Default(),
	}, nil
}

func (c *Cache) key(name, fingerprint string) string {
	return fmt.Sprintf("%s-%s", name, fingerprint)
}

func (c *Cache) archivePath(name, fingerprint string) string {
	return filepath.Join(c.dir, c.key(name, fingerprint)+".tar.gz")
}

func (c *Cache) metaPath(name, fingerprint string) string {
	return filepath.Join(c.dir, c.key(name, fingerprint)+".json")
}

// Lookup returns the archive path iff both the archive and its metadata
// sidecar exist. Touches the entry's last-access time on a hit.
func (c *Cache) Lookup(name, fingerprint string) (string, bool, error) {
	archive := c.archivePath(name, fingerprint)
	meta := c.metaPath(name, fingerprint)

	if _, err := os.Stat(archive); err != nil {
		return "", false, nil
	}
	sc, err := c.readSidecar(meta)
	if err != nil {
		return "", false, nil
	}

	sc.LastAccess = time.Now()
	if err := c.writeSidecar(meta, sc); err != nil {
		return "", false, errs.Wrap(errs.KindDB, "update cache sidecar", err)
	}

	c.recent.Add(c.key(name, fingerprint), struct{}{})
	return archive, true, nil
}

// Store copies archivePath into the cache under (name, fingerprint),
// atomically, and writes its sidecar metadata.
func (c *Cache) Store(name, fingerprint, archivePath string) error {
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return errs.Wrap(errs.KindDB, "create cache directory", err)
	}

	dest := c.archivePath(name, fingerprint)
	tmp := dest + ".tmp"

	data, err := os.ReadFile(archivePath)
	if err != nil {
		return errs.Wrap(errs.KindDB, "read artifact to cache", err)
	}
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errs.Wrap(errs.KindDB, "write cache entry", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return errs.Wrap(errs.KindDB, "finalize cache entry", err)
	}

	sc := &sidecar{
		Name:        name,
		Fingerprint: fingerprint,
		Size:        int64(len(data)),
		LastAccess:  time.Now(),
	}
	if err := c.writeSidecar(c.metaPath(name, fingerprint), sc); err != nil {
		return errs.Wrap(errs.KindDB, "write cache sidecar", err)
	}

	c.recent.Add(c.key(name, fingerprint), struct{}{})
	return nil
}

// Size returns the total size in bytes of all cached archives + sidecars.
func (c *Cache) Size() (int64, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, errs.Wrap(errs.KindDB, "read cache directory", err)
	}

	var total int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		total += info.Size()
	}
	return total, nil
}

type entryInfo struct {
	key        string
	lastAccess time.Time
	size       int64
}

// Evict enforces the configured size limit, evicting least-recently-used
// entries once usage crosses the high-water mark until it's back under the
// low-water mark (spec §4.4 evict). Returns the number of entries removed.
func (c *Cache) Evict() (int, error) {
	current, err := c.Size()
	if err != nil {
		return 0, err
	}

	highWaterSize := int64(float64(c.sizeLimit) * c.highWater)
	if current <= highWaterSize {
		return 0, nil
	}

	entries, err := c.listEntries()
	if err != nil {
		return 0, err
	}

	sortByLastAccess(entries)

	lowWaterSize := int64(float64(c.sizeLimit) * c.lowWater)
	before := current
	evicted := 0
	for _, e := range entries {
		if current <= lowWaterSize {
			break
		}
		if err := c.deleteEntry(e.key); err != nil {
			continue
		}
		current -= e.size
		evicted++
	}

	if evicted > 0 {
		c.logger.Info("cache evicted",
			"entries", evicted, "before", humanize.Bytes(uint64(before)), "after", humanize.Bytes(uint64(current)))
	}
	return evicted, nil
}

func sortByLastAccess(entries []entryInfo) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].lastAccess.Before(entries[j-1].lastAccess); j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}

func (c *Cache) listEntries() ([]entryInfo, error) {
	dirEntries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.KindDB, "read cache directory", err)
	}

	seen := make(map[string]bool)
	var out []entryInfo

	for _, de := range dirEntries {
		name := de.Name()
		if filepath.Ext(name) != ".json" {
			continue
		}
		key := name[:len(name)-len(".json")]
		if seen[key] {
			continue
		}
		seen[key] = true

		metaPath := filepath.Join(c.dir, name)
		sc, err := c.readSidecar(metaPath)
		if err != nil {
			continue
		}

		archivePath := filepath.Join(c.dir, key+".tar.gz")
		size := sc.Size
		if info, err := os.Stat(archivePath); err == nil {
			size = info.Size()
		}

		out = append(out, entryInfo{key: key, lastAccess: sc.LastAccess, size: size})
	}
	return out, nil
}

func (c *Cache) deleteEntry(key string) error {
	a := filepath.Join(c.dir, key+".tar.gz")
	m := filepath.Join(c.dir, key+".json")

	var lastErr error
	if err := os.Remove(a); err != nil && !os.IsNotExist(err) {
		lastErr = err
	}
	if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
		lastErr = err
	}
	return lastErr
}

func (c *Cache) readSidecar(path string) (*sidecar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc sidecar
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, err
	}
	return &sc, nil
}

func (c *Cache) writeSidecar(path string, sc *sidecar) error {
	data, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// RemotePusher is a capability interface a later implementation can
// satisfy to push cache entries to a shared remote cache, without
// changing any existing consumer of Cache (spec §4.4 "stubs for remote
// push/fetch... so a later implementation can satisfy them").
type RemotePusher interface {
	Push(name, fingerprint, archivePath string) error
}

// RemoteFetcher is the fetch-side counterpart of RemotePusher.
type RemoteFetcher interface {
	Fetch(name, fingerprint string) (string, error)
}
