// Package disk provides a disk-backed cache implementation.
package disk

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	digest "github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/meigma/postprocess/cache"
)

const (
	defaultShardPrefixLen = 0
	defaultDirPerm        = 0o750
	defaultFilePerm       = 0o644
)

// Cache implements cache.Cache using a local directory.
// Blobs are named by the hex part of their digest, without an extension.
//
// Compression is a property of the directory: a directory populated with
// compression enabled must always be opened with compression enabled.
type Cache struct {
	dir            string
	shardPrefixLen int
	dirPerm        os.FileMode
	filePerm       os.FileMode
	compress       bool
	level          zstd.EncoderLevel
}

// Option configures a disk cache.
type Option func(*Cache)

// WithShardPrefixLen sets the number of hex characters used for sharding.
// Defaults to 0, which stores every blob directly in the cache directory.
func WithShardPrefixLen(n int) Option {
	return func(c *Cache) {
		c.shardPrefixLen = n
	}
}

// WithDirPerm sets the directory permissions used for cache directories.
func WithDirPerm(mode os.FileMode) Option {
	return func(c *Cache) {
		c.dirPerm = mode
	}
}

// WithFilePerm sets the permissions of stored blobs.
func WithFilePerm(mode os.FileMode) Option {
	return func(c *Cache) {
		c.filePerm = mode
	}
}

// WithCompression stores blobs zstd-compressed at the given level.
// Get transparently decompresses.
func WithCompression(level zstd.EncoderLevel) Option {
	return func(c *Cache) {
		c.compress = true
		c.level = level
	}
}

// New creates a disk-backed cache rooted at dir, creating dir if needed.
func New(dir string, opts ...Option) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("cache dir is empty")
	}
	c := &Cache{
		dir:            dir,
		shardPrefixLen: defaultShardPrefixLen,
		dirPerm:        defaultDirPerm,
		filePerm:       defaultFilePerm,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.shardPrefixLen < 0 {
		return nil, errors.New("shard prefix length must be >= 0")
	}
	if err := os.MkdirAll(dir, c.dirPerm); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return c, nil
}

// Dir returns the cache root directory.
func (c *Cache) Dir() string {
	return c.dir
}

// Put stores the content read from r under d.
//
// Content is streamed into a temp file next to the final blob and renamed
// into place only after it verifies against d.
func (c *Cache) Put(d digest.Digest, r io.Reader) (ocispec.Descriptor, error) {
	path, err := c.path(d)
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	if info, statErr := os.Stat(path); statErr == nil {
		return c.descriptor(d, info.Size()), nil
	}

	dir := filepath.Dir(path)
	if mkdirErr := os.MkdirAll(dir, c.dirPerm); mkdirErr != nil {
		return ocispec.Descriptor{}, fmt.Errorf("create cache dir: %w", mkdirErr)
	}

	tmp, err := os.CreateTemp(dir, "cache-*")
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("create temp blob: %w", err)
	}
	tmpPath := tmp.Name()
	abort := func(err error) (ocispec.Descriptor, error) {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return ocispec.Descriptor{}, err
	}

	verifier := d.Verifier()
	var dst io.Writer = tmp
	var enc *zstd.Encoder
	if c.compress {
		enc, err = zstd.NewWriter(tmp, zstd.WithEncoderLevel(c.level))
		if err != nil {
			return abort(fmt.Errorf("create zstd encoder: %w", err))
		}
		dst = enc
	}

	if _, err := io.Copy(io.MultiWriter(dst, verifier), r); err != nil {
		if enc != nil {
			enc.Close()
		}
		return abort(fmt.Errorf("write blob %s: %w", d.Encoded(), err))
	}
	if enc != nil {
		if err := enc.Close(); err != nil {
			return abort(fmt.Errorf("close zstd encoder: %w", err))
		}
	}
	if !verifier.Verified() {
		return abort(fmt.Errorf("%w: content does not match %s", cache.ErrDigestMismatch, d))
	}
	if err := tmp.Chmod(c.filePerm); err != nil {
		return abort(fmt.Errorf("chmod blob: %w", err))
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return ocispec.Descriptor{}, fmt.Errorf("close blob: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return ocispec.Descriptor{}, fmt.Errorf("commit blob %s: %w", d.Encoded(), err)
	}
	return c.Stat(d)
}

// Get opens the blob stored under d.
func (c *Cache) Get(d digest.Digest) (io.ReadCloser, error) {
	path, err := c.path(d)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path) //nolint:gosec // path is derived from a validated digest
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", cache.ErrMiss, d.Encoded())
		}
		return nil, fmt.Errorf("open blob: %w", err)
	}
	if !c.compress {
		return f, nil
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &zstdReadCloser{ReadCloser: dec.IOReadCloser(), file: f}, nil
}

// Stat describes the blob stored under d.
func (c *Cache) Stat(d digest.Digest) (ocispec.Descriptor, error) {
	path, err := c.path(d)
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ocispec.Descriptor{}, fmt.Errorf("%w: %s", cache.ErrMiss, d.Encoded())
		}
		return ocispec.Descriptor{}, fmt.Errorf("stat blob: %w", err)
	}
	return c.descriptor(d, info.Size()), nil
}

func (c *Cache) descriptor(d digest.Digest, size int64) ocispec.Descriptor {
	mediaType := cache.MediaTypeBlob
	if c.compress {
		mediaType = cache.MediaTypeBlobZstd
	}
	return ocispec.Descriptor{
		MediaType: mediaType,
		Digest:    d,
		Size:      size,
	}
}

func (c *Cache) path(d digest.Digest) (string, error) {
	if err := d.Validate(); err != nil {
		return "", fmt.Errorf("%w: %q: %v", cache.ErrInvalidDigest, d, err)
	}
	hexHash := d.Encoded()
	if c.shardPrefixLen <= 0 {
		return filepath.Join(c.dir, hexHash), nil
	}
	prefixLen := min(c.shardPrefixLen, len(hexHash))
	return filepath.Join(c.dir, hexHash[:prefixLen], hexHash), nil
}

type zstdReadCloser struct {
	io.ReadCloser
	file *os.File
}

func (z *zstdReadCloser) Close() error {
	_ = z.ReadCloser.Close() //nolint:errcheck // decoder close never fails
	return z.file.Close()
}
