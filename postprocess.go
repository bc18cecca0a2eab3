package postprocess

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/klauspost/compress/zstd"
	digest "github.com/opencontainers/go-digest"

	"github.com/meigma/postprocess/cache/disk"
	"github.com/meigma/postprocess/command"
	"github.com/meigma/postprocess/contenthash"
	"github.com/meigma/postprocess/journal"
	"github.com/meigma/postprocess/reconcile"
	"github.com/meigma/postprocess/snapshot"
)

// Runner executes the post-processing steps for one filter run.
type Runner struct {
	cfg       Config
	hasher    *contenthash.Hasher
	logger    *slog.Logger
	cacheOpts []disk.Option
}

// Option configures a Runner.
type Option func(*Runner) error

// WithLogger sets the logger shared by every step.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) error {
		r.logger = logger
		return nil
	}
}

// WithCacheOptions passes additional options to the disk cache.
func WithCacheOptions(opts ...disk.Option) Option {
	return func(r *Runner) error {
		r.cacheOpts = append(r.cacheOpts, opts...)
		return nil
	}
}

// WithChunkSize sets the read size used when hashing files.
func WithChunkSize(n int) Option {
	return func(r *Runner) error {
		if n <= 0 {
			return errors.New("chunk size must be > 0")
		}
		h, err := contenthash.New(contenthash.WithAlgorithm(r.hasher.Algorithm()), contenthash.WithChunkSize(n))
		if err != nil {
			return err
		}
		r.hasher = h
		return nil
	}
}

// New creates a Runner for cfg.
func New(cfg Config, opts ...Option) (*Runner, error) {
	if cfg.WorkDir == "" {
		cfg.WorkDir = "."
	}
	h, err := contenthash.New(contenthash.WithAlgorithm(digest.Algorithm(cfg.Algorithm)))
	if err != nil {
		return nil, err
	}
	r := &Runner{cfg: cfg, hasher: h}
	if cfg.CompressCache {
		r.cacheOpts = append(r.cacheOpts, disk.WithCompression(zstd.SpeedDefault))
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// log returns the logger, falling back to a discard logger if nil.
func (r *Runner) log() *slog.Logger {
	if r.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return r.logger
}

// Report summarizes a completed Run.
type Report struct {
	// CommandsApplied is the number of replayed commands.
	CommandsApplied int

	// Provenance is the journal written to Config.ProvenancePath.
	Provenance *journal.Provenance
}

// Run replays the deferred commands, reconciles the raw journal and writes
// the provenance journal.
//
// The snapshot and raw journal are read before any command runs. The
// provenance journal is only written once reconciliation has fully
// succeeded, and is replaced atomically.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	alg := r.hasher.Algorithm()

	snap, err := r.readSnapshot(alg)
	if err != nil {
		return nil, err
	}
	raw, err := r.readRaw()
	if err != nil {
		return nil, err
	}

	root, err := os.OpenRoot(r.cfg.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("open work dir: %w", err)
	}
	defer root.Close()

	c, err := disk.New(r.cfg.resolve(r.cfg.CacheDir), r.cacheOpts...)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}

	replayer := command.New(root, c, command.WithLogger(r.log()))
	applied, err := replayer.ReplayFile(ctx, r.cfg.resolve(r.cfg.CommandsPath), alg)
	if err != nil {
		return nil, fmt.Errorf("replay commands: %w", err)
	}
	r.log().Info("replayed commands", "count", applied)

	rec, err := reconcile.New(root.FS(), c, reconcile.WithHasher(r.hasher), reconcile.WithLogger(r.log()))
	if err != nil {
		return nil, err
	}
	prov, err := rec.Reconcile(ctx, raw, snap)
	if err != nil {
		return nil, fmt.Errorf("reconcile journal: %w", err)
	}

	out := r.cfg.resolve(r.cfg.ProvenancePath)
	if err := journal.WriteProvenanceFile(out, prov); err != nil {
		return nil, fmt.Errorf("write provenance journal: %w", err)
	}
	r.log().Info("wrote provenance journal", "path", out)

	return &Report{CommandsApplied: applied, Provenance: prov}, nil
}

// Snapshot captures the configured roots and writes the snapshot file.
// It must run before the filter.
func (r *Runner) Snapshot(ctx context.Context) (journal.Snapshot, error) {
	roots := r.cfg.SnapshotRoots
	if len(roots) == 0 {
		roots = snapshot.DefaultRoots
	}
	snap, err := snapshot.Take(ctx, os.DirFS(r.cfg.WorkDir), roots,
		snapshot.WithHasher(r.hasher),
		snapshot.WithWorkers(r.cfg.SnapshotWorkers),
		snapshot.WithLogger(r.log()),
	)
	if err != nil {
		return nil, fmt.Errorf("take snapshot: %w", err)
	}
	out := r.cfg.resolve(r.cfg.SnapshotPath)
	if err := journal.WriteSnapshotFile(out, snap); err != nil {
		return nil, fmt.Errorf("write snapshot: %w", err)
	}
	r.log().Info("wrote snapshot", "path", out, "files", len(snap))
	return snap, nil
}

// Stale reports which transformation sources recorded in the provenance
// journal have changed since it was written, compared against the current
// snapshot file.
func (r *Runner) Stale() ([]string, error) {
	alg := r.hasher.Algorithm()
	prov, err := journal.ReadProvenanceFile(r.cfg.resolve(r.cfg.ProvenancePath), alg)
	if err != nil {
		return nil, fmt.Errorf("read provenance journal: %w", err)
	}
	snap, err := r.readSnapshot(alg)
	if err != nil {
		return nil, err
	}
	return prov.StaleSources(snap), nil
}

// readSnapshot loads the snapshot; a missing file is an empty snapshot.
func (r *Runner) readSnapshot(alg digest.Algorithm) (journal.Snapshot, error) {
	path := r.cfg.resolve(r.cfg.SnapshotPath)
	snap, err := journal.ReadSnapshotFile(path, alg)
	if errors.Is(err, fs.ErrNotExist) {
		r.log().Warn("snapshot file missing, using empty snapshot", "path", path)
		return journal.Snapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return snap, nil
}

// readRaw loads the raw journal; a missing file is an empty journal.
func (r *Runner) readRaw() (*journal.Raw, error) {
	path := r.cfg.resolve(r.cfg.ActionsLogPath)
	raw, err := journal.ReadRawFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		r.log().Warn("actions log missing, using empty journal", "path", path)
		return &journal.Raw{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read actions log: %w", err)
	}
	return raw, nil
}
