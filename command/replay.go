package command

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	digest "github.com/opencontainers/go-digest"

	"github.com/meigma/postprocess/cache"
	"github.com/meigma/postprocess/contenthash"
)

const (
	defaultDirPerm  = 0o750
	defaultFilePerm = 0o644
)

// Replayer applies commands to a working tree.
//
// Commands run strictly in order and replay stops at the first failure.
// Nothing is rolled back: the tree is left as the last successful command
// left it.
type Replayer struct {
	root     *os.Root
	cache    cache.Cache
	logger   *slog.Logger
	dirPerm  os.FileMode
	filePerm os.FileMode
}

// Option configures a Replayer.
type Option func(*Replayer)

// WithLogger sets the logger used for per-command debug output.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Replayer) {
		r.logger = logger
	}
}

// WithFilePerm sets the permissions of files written by load.
func WithFilePerm(mode os.FileMode) Option {
	return func(r *Replayer) {
		r.filePerm = mode
	}
}

// New creates a Replayer for the tree under root, loading blobs from c.
// Command paths are resolved relative to root and may not escape it.
func New(root *os.Root, c cache.Cache, opts ...Option) *Replayer {
	r := &Replayer{
		root:     root,
		cache:    c,
		dirPerm:  defaultDirPerm,
		filePerm: defaultFilePerm,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Replayer) log() *slog.Logger {
	if r.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return r.logger
}

// ReplayFile parses the command list at path and replays it. Every line is
// parsed before the first command runs, so a malformed list leaves the tree
// untouched. Returns the number of commands applied.
func (r *Replayer) ReplayFile(ctx context.Context, path string, alg digest.Algorithm) (int, error) {
	f, err := os.Open(path) //nolint:gosec // configured path
	if err != nil {
		return 0, fmt.Errorf("open command list: %w", err)
	}
	defer f.Close()

	cmds, err := ParseAll(f, alg)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	return r.Replay(ctx, cmds)
}

// Replay applies cmds in order. Returns the number of commands applied
// before returning or failing.
func (r *Replayer) Replay(ctx context.Context, cmds []Command) (int, error) {
	for i, cmd := range cmds {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		var err error
		switch c := cmd.(type) {
		case Delete:
			err = r.delete(c)
		case Load:
			err = r.load(c)
		default:
			err = fmt.Errorf("%w: %T", ErrUnknownCommand, cmd)
		}
		if err != nil {
			return i, fmt.Errorf("command %d (%s): %w", i+1, cmd, err)
		}
		r.log().Debug("replayed command", "index", i+1, "command", cmd.String())
	}
	return len(cmds), nil
}

func (r *Replayer) delete(c Delete) error {
	name := filepath.FromSlash(c.Path)
	info, err := r.root.Lstat(name)
	if err != nil {
		if isAbsent(err) {
			return nil
		}
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s", contenthash.ErrNotAFile, c.Path)
	}
	if err := r.root.Remove(name); err != nil && !isAbsent(err) {
		return err
	}
	return nil
}

// isAbsent reports whether err means the path does not exist, including a
// path that runs through a regular file.
func isAbsent(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR)
}

func (r *Replayer) load(c Load) error {
	// Resolve the blob before touching the tree so a miss changes nothing.
	blob, err := r.cache.Get(c.Key)
	if err != nil {
		if errors.Is(err, cache.ErrMiss) {
			return fmt.Errorf("%w: %s", ErrMissingCacheEntry, c.Key.Encoded())
		}
		return err
	}
	defer blob.Close()

	name := filepath.FromSlash(c.Path)
	info, err := r.root.Lstat(name)
	switch {
	case err == nil && info.IsDir():
		return fmt.Errorf("%w: %s", contenthash.ErrNotAFile, c.Path)
	case err == nil:
		if err := r.root.Remove(name); err != nil {
			return err
		}
	case !errors.Is(err, fs.ErrNotExist):
		return err
	}

	dir := filepath.Dir(name)
	if dir != "." {
		if err := r.root.MkdirAll(dir, r.dirPerm); err != nil {
			return fmt.Errorf("create parent directory: %w", err)
		}
	}

	tmp, tmpName, err := createTemp(r.root, dir, ".load-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(tmp, blob); err != nil {
		tmp.Close()
		_ = r.root.Remove(tmpName)
		return fmt.Errorf("copy blob %s: %w", c.Key.Encoded(), err)
	}
	if err := tmp.Chmod(r.filePerm); err != nil {
		tmp.Close()
		_ = r.root.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = r.root.Remove(tmpName)
		return err
	}
	if err := r.root.Rename(tmpName, name); err != nil {
		_ = r.root.Remove(tmpName)
		return err
	}
	return nil
}

func createTemp(root *os.Root, dir, pattern string) (*os.File, string, error) {
	for tries := 0; tries < 10000; tries++ {
		var randBytes [8]byte
		if _, err := rand.Read(randBytes[:]); err != nil {
			return nil, "", err
		}
		name := strings.Replace(pattern, "*", hex.EncodeToString(randBytes[:]), 1)
		path := filepath.Join(dir, name)
		f, err := root.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return nil, "", err
		}
		return f, path, nil
	}
	return nil, "", errors.New("failed to create temp file")
}
