package postprocess

import (
	"fmt"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix prefixes every environment variable read by LoadConfig.
const EnvPrefix = "POSTPROCESS_"

// Config locates the files exchanged with the filter and the cache.
// Relative paths are resolved against WorkDir.
type Config struct {
	// WorkDir is the working tree the filter ran in.
	WorkDir string `env:"WORK_DIR" envDefault:"."`

	// CommandsPath is the deferred command list written by the filter.
	CommandsPath string `env:"COMMANDS" envDefault:"data/.cache/postprocessing"`

	// ActionsLogPath is the raw journal written by the filter.
	ActionsLogPath string `env:"ACTIONS_LOG" envDefault:"data/.cache/actions_log.json"`

	// SnapshotPath is the path -> digest map captured before the filter ran.
	SnapshotPath string `env:"FILE_STATS" envDefault:"data/.cache/file_stats.json"`

	// ProvenancePath receives the provenance journal.
	ProvenancePath string `env:"PREVIOUS_ACTIONS" envDefault:"data/.cache/previous_actions.json"`

	// CacheDir holds cached blobs named by digest.
	CacheDir string `env:"CACHE_DIR" envDefault:"data/.cache/files"`

	// SnapshotRoots are the tree roots captured by Snapshot.
	SnapshotRoots []string `env:"SNAPSHOT_ROOTS" envDefault:"BP,RP" envSeparator:","`

	// SnapshotWorkers bounds concurrent hashing in Snapshot. 0 means GOMAXPROCS.
	SnapshotWorkers int `env:"SNAPSHOT_WORKERS" envDefault:"0"`

	// Algorithm is the digest algorithm, e.g. "sha256" or "sha512".
	Algorithm string `env:"DIGEST_ALGORITHM" envDefault:"sha256"`

	// CompressCache stores blobs zstd-compressed. A cache directory must
	// always be used with the same setting.
	CompressCache bool `env:"COMPRESS_CACHE" envDefault:"false"`
}

// LoadConfig reads Config from POSTPROCESS_* environment variables,
// falling back to the defaults for unset variables.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns the configuration used when no variables are set.
func DefaultConfig() Config {
	var cfg Config
	// Defaults are static tags; parsing an empty environment cannot fail.
	_ = env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix, Environment: map[string]string{}})
	return cfg
}

func (c Config) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.WorkDir, path)
}
