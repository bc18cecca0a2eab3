// Package snapshot records the digest of every regular file under a set of
// working-tree roots. It runs before the filter, so the post-processing
// step can recover digests of content the filter deleted or replaced.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"runtime"

	digest "github.com/opencontainers/go-digest"
	"golang.org/x/sync/errgroup"

	"github.com/meigma/postprocess/contenthash"
	"github.com/meigma/postprocess/journal"
)

// DefaultRoots are the tree roots captured when none are configured.
var DefaultRoots = []string{"BP", "RP"}

type config struct {
	hasher  *contenthash.Hasher
	workers int
	logger  *slog.Logger
}

// Option configures Take.
type Option func(*config)

// WithHasher sets the hasher. Defaults to SHA-256.
func WithHasher(h *contenthash.Hasher) Option {
	return func(c *config) {
		c.hasher = h
	}
}

// WithWorkers sets how many files are hashed concurrently.
// Values <= 0 use GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(c *config) {
		c.workers = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// Take walks each root within fsys and hashes every regular file found.
// Roots that do not exist are skipped. Keys are slash paths relative to
// fsys, for example "RP/manifest.json".
func Take(ctx context.Context, fsys fs.FS, roots []string, opts ...Option) (journal.Snapshot, error) {
	cfg := config{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.hasher == nil {
		h, err := contenthash.New()
		if err != nil {
			return nil, err
		}
		cfg.hasher = h
	}
	if cfg.workers <= 0 {
		cfg.workers = runtime.GOMAXPROCS(0)
	}
	logger := cfg.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	paths, err := collect(fsys, roots, logger)
	if err != nil {
		return nil, err
	}

	digests := make([]digest.Digest, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.workers)
	for i, p := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			d, err := cfg.hasher.File(fsys, p)
			if err != nil {
				return fmt.Errorf("hash %s: %w", p, err)
			}
			digests[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	snap := make(journal.Snapshot, len(paths))
	for i, p := range paths {
		snap[p] = digests[i]
	}
	logger.Info("captured snapshot", "roots", roots, "files", len(snap))
	return snap, nil
}

func collect(fsys fs.FS, roots []string, logger *slog.Logger) ([]string, error) {
	seen := make(map[string]struct{})
	var paths []string
	for _, root := range roots {
		root = journal.CleanPath(root)
		err := fs.WalkDir(fsys, root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.Type().IsRegular() {
				return nil
			}
			if _, dup := seen[p]; dup {
				return nil
			}
			seen[p] = struct{}{}
			paths = append(paths, p)
			return nil
		})
		if errors.Is(err, fs.ErrNotExist) {
			logger.Debug("snapshot root missing", "root", root)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", root, err)
		}
	}
	return paths, nil
}
