// Package reconcile turns a raw action journal into a provenance journal.
//
// Digests of deleted files and transformation sources come from the
// snapshot taken before the filter ran, since that content may no longer
// exist. Digests of transformation outputs are computed from the current
// tree, and the output bytes are stored in the cache so a later run can
// load them back.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	digest "github.com/opencontainers/go-digest"

	"github.com/meigma/postprocess/cache"
	"github.com/meigma/postprocess/contenthash"
	"github.com/meigma/postprocess/journal"
)

var (
	// ErrMissingSnapshotEntry is returned when a deleted or source path has
	// no digest in the snapshot.
	ErrMissingSnapshotEntry = errors.New("missing snapshot entry")

	// ErrMissingOutput is returned when a transformation output does not
	// exist in the current tree.
	ErrMissingOutput = errors.New("missing transformation output")
)

// Reconciler builds provenance journals against a working tree and cache.
type Reconciler struct {
	fsys   fs.FS
	cache  cache.Cache
	hasher *contenthash.Hasher
	logger *slog.Logger
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithHasher sets the hasher used for transformation outputs. Its algorithm
// must match the one used to build snapshots.
func WithHasher(h *contenthash.Hasher) Option {
	return func(r *Reconciler) {
		r.hasher = h
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) {
		r.logger = logger
	}
}

// New creates a Reconciler reading outputs from fsys and storing them in c.
func New(fsys fs.FS, c cache.Cache, opts ...Option) (*Reconciler, error) {
	r := &Reconciler{fsys: fsys, cache: c}
	for _, opt := range opts {
		opt(r)
	}
	if r.hasher == nil {
		h, err := contenthash.New()
		if err != nil {
			return nil, err
		}
		r.hasher = h
	}
	return r, nil
}

func (r *Reconciler) log() *slog.Logger {
	if r.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return r.logger
}

// Reconcile qualifies every path in raw and stores every transformation
// output in the cache. Entry order matches raw exactly.
//
// On error no journal is returned. Blobs stored before the failure stay in
// the cache; they are addressed by content and harmless.
func (r *Reconciler) Reconcile(ctx context.Context, raw *journal.Raw, snap journal.Snapshot) (*journal.Provenance, error) {
	p := &journal.Provenance{
		Deletions:       make([]journal.QualifiedPath, 0, len(raw.Deletions)),
		Transformations: make([]journal.QualifiedTransformation, 0, len(raw.Transformations)),
	}

	for _, path := range raw.Deletions {
		q, err := qualifyFromSnapshot(snap, path)
		if err != nil {
			return nil, fmt.Errorf("deletion: %w", err)
		}
		p.Deletions = append(p.Deletions, q)
	}

	var stored, reused int
	for _, t := range raw.Transformations {
		src, err := qualifyFromSnapshot(snap, t.Source)
		if err != nil {
			return nil, fmt.Errorf("transformation source: %w", err)
		}
		qt := journal.QualifiedTransformation{
			Source:  src,
			Outputs: make([]journal.QualifiedPath, 0, len(t.Outputs)),
		}
		for _, out := range t.Outputs {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			q, hit, err := r.storeOutput(out)
			if err != nil {
				return nil, fmt.Errorf("output of %s: %w", t.Source, err)
			}
			if hit {
				reused++
			} else {
				stored++
			}
			qt.Outputs = append(qt.Outputs, q)
		}
		p.Transformations = append(p.Transformations, qt)
	}

	r.log().Info("reconciled journal",
		"deletions", len(p.Deletions),
		"transformations", len(p.Transformations),
		"blobs_stored", stored,
		"blobs_reused", reused,
	)
	return p, nil
}

func qualifyFromSnapshot(snap journal.Snapshot, path string) (journal.QualifiedPath, error) {
	d, ok := snap.Lookup(path)
	if !ok {
		return journal.QualifiedPath{}, fmt.Errorf("%w: %s", ErrMissingSnapshotEntry, path)
	}
	return journal.Qualify(path, d), nil
}

// storeOutput hashes the output file and copies it into the cache under the
// fresh digest. hit reports whether the cache already held the blob.
func (r *Reconciler) storeOutput(path string) (q journal.QualifiedPath, hit bool, err error) {
	name := journal.CleanPath(path)
	if !fs.ValidPath(name) {
		return q, false, fmt.Errorf("%w: %s is outside the tree", ErrMissingOutput, path)
	}
	d, err := r.hasher.File(r.fsys, name)
	if err != nil {
		if errors.Is(err, contenthash.ErrNotFound) {
			return q, false, fmt.Errorf("%w: %s", ErrMissingOutput, name)
		}
		return q, false, err
	}

	if desc, statErr := r.cache.Stat(d); statErr == nil {
		r.log().Debug("output already cached", "path", name, "digest", d, "size", desc.Size)
		return journal.Qualify(name, d), true, nil
	} else if !errors.Is(statErr, cache.ErrMiss) {
		return q, false, fmt.Errorf("stat cache: %w", statErr)
	}

	if err := r.put(name, d); err != nil {
		return q, false, err
	}
	return journal.Qualify(name, d), false, nil
}

func (r *Reconciler) put(name string, d digest.Digest) error {
	f, err := r.fsys.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrMissingOutput, name)
		}
		return err
	}
	defer f.Close()

	desc, err := r.cache.Put(d, f)
	if err != nil {
		return fmt.Errorf("cache %s: %w", name, err)
	}
	r.log().Debug("cached output", "path", name, "digest", desc.Digest, "size", desc.Size)
	return nil
}
