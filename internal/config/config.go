// Package config resolves sourcepm's on-disk layout and tunables.
//
// All paths live under $SOURCEPM_HOME (default ~/.sourcepm). Durations and
// byte sizes are read from environment variables, validated against a
// reasonable range, and clamped with a warning on stderr rather than
// rejected outright.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	// EnvHome overrides the default sourcepm home directory.
	EnvHome = "SOURCEPM_HOME"

	// EnvBuildTimeout configures the per-step build command timeout.
	EnvBuildTimeout = "SOURCEPM_BUILD_TIMEOUT"

	// EnvCacheSizeLimit configures the artifact cache size limit.
	EnvCacheSizeLimit = "SOURCEPM_CACHE_SIZE_LIMIT"

	// EnvWorkers configures the upgrade orchestrator's worker pool size.
	EnvWorkers = "SOURCEPM_WORKERS"

	// EnvRetryBackoffBase configures the base delay for privileged-exec retries.
	EnvRetryBackoffBase = "SOURCEPM_RETRY_BACKOFF_BASE"

	// EnvIndexCacheTTL configures how long a cached recipe index entry is trusted.
	EnvIndexCacheTTL = "SOURCEPM_INDEX_CACHE_TTL"

	// DefaultBuildTimeout bounds a single build step (10 minutes).
	DefaultBuildTimeout = 10 * time.Minute

	// DefaultCacheSizeLimit bounds the artifact cache (2GB).
	DefaultCacheSizeLimit = 2 * 1024 * 1024 * 1024

	// DefaultWorkers is the default upgrade-orchestrator concurrency.
	DefaultWorkers = 4

	// DefaultRetryBackoffBase is the base delay between privileged-exec retries.
	DefaultRetryBackoffBase = 500 * time.Millisecond

	// DefaultIndexCacheTTL is how long a parsed recipe is trusted before re-fingerprinting.
	DefaultIndexCacheTTL = 1 * time.Hour
)

// GetBuildTimeout returns the configured build step timeout.
// Accepts duration strings like "5m", "600s". Falls back to DefaultBuildTimeout
// on missing or invalid input, clamped to [30s, 2h].
func GetBuildTimeout() time.Duration {
	return getDuration(EnvBuildTimeout, DefaultBuildTimeout, 30*time.Second, 2*time.Hour)
}

// GetIndexCacheTTL returns the configured recipe index cache TTL.
func GetIndexCacheTTL() time.Duration {
	return getDuration(EnvIndexCacheTTL, DefaultIndexCacheTTL, 1*time.Minute, 7*24*time.Hour)
}

// GetRetryBackoffBase returns the configured base retry delay for privileged execution.
func GetRetryBackoffBase() time.Duration {
	return getDuration(EnvRetryBackoffBase, DefaultRetryBackoffBase, 10*time.Millisecond, 30*time.Second)
}

func getDuration(envName string, def, min, max time.Duration) time.Duration {
	envValue := os.Getenv(envName)
	if envValue == "" {
		return def
	}

	duration, err := time.ParseDuration(envValue)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: invalid %s value %q, using default %v\n", envName, envValue, def)
		return def
	}

	if duration < min {
		fmt.Fprintf(os.Stderr, "Warning: %s too low (%v), using minimum %v\n", envName, duration, min)
		return min
	}
	if duration > max {
		fmt.Fprintf(os.Stderr, "Warning: %s too high (%v), using maximum %v\n", envName, duration, max)
		return max
	}

	return duration
}

// ParseByteSize parses a human-readable byte size string into bytes.
// Accepts plain numbers, and K/KB, M/MB, G/GB suffixes (case-insensitive).
func ParseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	s = strings.ToUpper(s)

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}

	var numStr string
	var suffix string
	for i, c := range s {
		if c >= '0' && c <= '9' || c == '.' {
			numStr += string(c)
		} else {
			suffix = s[i:]
			break
		}
	}

	if numStr == "" {
		return 0, fmt.Errorf("invalid size format: %q", s)
	}

	num, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size number: %q", numStr)
	}

	var multiplier float64
	switch suffix {
	case "", "B":
		multiplier = 1
	case "K", "KB":
		multiplier = 1024
	case "M", "MB":
		multiplier = 1024 * 1024
	case "G", "GB":
		multiplier = 1024 * 1024 * 1024
	default:
		return 0, fmt.Errorf("invalid size suffix: %q", suffix)
	}

	return int64(num * multiplier), nil
}

// GetCacheSizeLimit returns the configured artifact cache size limit in bytes.
func GetCacheSizeLimit() int64 {
	envValue := os.Getenv(EnvCacheSizeLimit)
	if envValue == "" {
		return DefaultCacheSizeLimit
	}

	size, err := ParseByteSize(envValue)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: invalid %s value %q, using default %dMB\n",
			EnvCacheSizeLimit, envValue, DefaultCacheSizeLimit/(1024*1024))
		return DefaultCacheSizeLimit
	}

	minSize := int64(64 * 1024 * 1024)
	maxSize := int64(200 * 1024 * 1024 * 1024)

	if size < minSize {
		fmt.Fprintf(os.Stderr, "Warning: %s too low (%d bytes), using minimum 64MB\n", EnvCacheSizeLimit, size)
		return minSize
	}
	if size > maxSize {
		fmt.Fprintf(os.Stderr, "Warning: %s too high (%d bytes), using maximum 200GB\n", EnvCacheSizeLimit, size)
		return maxSize
	}

	return size
}

// GetWorkers returns the configured upgrade-orchestrator worker pool size.
func GetWorkers() int {
	envValue := os.Getenv(EnvWorkers)
	if envValue == "" {
		return DefaultWorkers
	}

	n, err := strconv.Atoi(envValue)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: invalid %s value %q, using default %d\n", EnvWorkers, envValue, DefaultWorkers)
		return DefaultWorkers
	}

	if n < 1 {
		fmt.Fprintf(os.Stderr, "Warning: %s too low (%d), using minimum 1\n", EnvWorkers, n)
		return 1
	}
	if n > 64 {
		fmt.Fprintf(os.Stderr, "Warning: %s too high (%d), using maximum 64\n", EnvWorkers, n)
		return 64
	}

	return n
}

// DefaultHomeOverride can be set via ldflags to change the default home
// directory for dev builds. SOURCEPM_HOME still takes precedence.
var DefaultHomeOverride string

// Config holds resolved sourcepm directory layout.
type Config struct {
	HomeDir     string // $SOURCEPM_HOME
	RecipesDir  string // $SOURCEPM_HOME/recipes
	IndexCache  string // $SOURCEPM_HOME/cache/recipes (parsed recipe index cache)
	ArtifactDir string // $SOURCEPM_HOME/cache/artifacts (content-addressed artifact cache)
	DBDir       string // $SOURCEPM_HOME/db (installed database + history log)
	SandboxDir  string // $SOURCEPM_HOME/sandbox (per-build staging roots)
	BackupsDir  string // $SOURCEPM_HOME/backups (pre-install/pre-remove snapshots)
	HooksDir    string // $SOURCEPM_HOME/hooks.d (directory-discovered global hooks)
	ReportsDir  string // $SOURCEPM_HOME/reports (upgrade orchestrator reports)
	KeyringDir  string // $SOURCEPM_HOME/keys (trusted signer public keys)
}

// DefaultConfig returns the default configuration, honoring SOURCEPM_HOME.
func DefaultConfig() (*Config, error) {
	home := os.Getenv(EnvHome)
	if home == "" {
		if DefaultHomeOverride != "" {
			home = DefaultHomeOverride
		} else {
			userHome, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("failed to get user home directory: %w", err)
			}
			home = filepath.Join(userHome, ".sourcepm")
		}
	}

	return &Config{
		HomeDir:     home,
		RecipesDir:  filepath.Join(home, "recipes"),
		IndexCache:  filepath.Join(home, "cache", "recipes"),
		ArtifactDir: filepath.Join(home, "cache", "artifacts"),
		DBDir:       filepath.Join(home, "db"),
		SandboxDir:  filepath.Join(home, "sandbox"),
		BackupsDir:  filepath.Join(home, "backups"),
		HooksDir:    filepath.Join(home, "hooks.d"),
		ReportsDir:  filepath.Join(home, "reports"),
		KeyringDir:  filepath.Join(home, "keys"),
	}, nil
}

// EnsureDirectories creates all directories in the layout.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.HomeDir, c.RecipesDir, c.IndexCache, c.ArtifactDir, c.DBDir,
		c.SandboxDir, c.BackupsDir, c.HooksDir, c.ReportsDir, c.KeyringDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// InstalledDBPath returns the path to the installed-packages database file.
func (c *Config) InstalledDBPath() string {
	return filepath.Join(c.DBDir, "installed.json")
}

// HistoryLogPath returns the path to the append-only history log.
func (c *Config) HistoryLogPath() string {
	return filepath.Join(c.DBDir, "history.log")
}

// SandboxRoot returns the staging root for a single build of (name, fingerprint).
func (c *Config) SandboxRoot(name, fingerprint string) string {
	return filepath.Join(c.SandboxDir, fmt.Sprintf("%s-%s", name, fingerprint))
}

// ArtifactPath returns the cache path for an artifact addressed by digest.
func (c *Config) ArtifactPath(digest string) string {
	return filepath.Join(c.ArtifactDir, digest+".tar.gz")
}

// BackupPath returns the pre-transaction snapshot path for a package.
func (c *Config) BackupPath(name string, txnID string) string {
	return filepath.Join(c.BackupsDir, fmt.Sprintf("%s-%s.tar", name, txnID))
}
