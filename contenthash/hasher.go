// Package contenthash computes content digests of working-tree files.
//
// Digests are go-digest values; the hex part ([digest.Digest.Encoded]) is
// what appears in qualified paths, snapshot files and cache blob names.
package contenthash

import (
	"errors"
	"fmt"
	"io"
	"io/fs"

	digest "github.com/opencontainers/go-digest"
)

// DefaultChunkSize is the read size used when streaming file content.
const DefaultChunkSize = 64 << 10

var (
	// ErrNotFound is returned when the file to hash does not exist.
	ErrNotFound = errors.New("file not found")

	// ErrNotAFile is returned when a path names a directory or other
	// non-regular entry.
	ErrNotAFile = errors.New("not a regular file")

	// ErrInvalidDigest is returned when an encoded digest is malformed for
	// the configured algorithm.
	ErrInvalidDigest = errors.New("invalid digest")
)

// Hasher streams content through an incremental hash.
// The zero value is not usable; use New.
type Hasher struct {
	alg       digest.Algorithm
	chunkSize int
}

// Option configures a Hasher.
type Option func(*Hasher)

// WithAlgorithm sets the digest algorithm. Defaults to SHA-256.
func WithAlgorithm(alg digest.Algorithm) Option {
	return func(h *Hasher) {
		h.alg = alg
	}
}

// WithChunkSize sets the read buffer size. Values <= 0 use DefaultChunkSize.
// The chunk size never affects the resulting digest.
func WithChunkSize(n int) Option {
	return func(h *Hasher) {
		h.chunkSize = n
	}
}

// New creates a Hasher.
func New(opts ...Option) (*Hasher, error) {
	h := &Hasher{
		alg:       digest.Canonical,
		chunkSize: DefaultChunkSize,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.chunkSize <= 0 {
		h.chunkSize = DefaultChunkSize
	}
	if !h.alg.Available() {
		return nil, fmt.Errorf("digest algorithm %q is not available", h.alg)
	}
	return h, nil
}

// Algorithm returns the configured digest algorithm.
func (h *Hasher) Algorithm() digest.Algorithm {
	return h.alg
}

// Reader hashes everything read from r.
func (h *Hasher) Reader(r io.Reader) (digest.Digest, error) {
	digester := h.alg.Digester()
	hw := digester.Hash()
	buf := make([]byte, h.chunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			_, _ = hw.Write(buf[:n]) //nolint:errcheck // hash writes never fail
		}
		if err == io.EOF {
			return digester.Digest(), nil
		}
		if err != nil {
			return "", err
		}
	}
}

// File hashes the regular file name within fsys.
func (h *Hasher) File(fsys fs.FS, name string) (digest.Digest, error) {
	info, err := fs.Stat(fsys, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return "", fmt.Errorf("stat %s: %w", name, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s", ErrNotAFile, name)
	}

	f, err := fsys.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return "", fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()

	d, err := h.Reader(f)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	return d, nil
}

// Parse converts a hex-encoded digest into a validated digest.Digest for
// the configured algorithm.
func (h *Hasher) Parse(encoded string) (digest.Digest, error) {
	return ParseEncoded(h.alg, encoded)
}

// ParseEncoded converts a hex-encoded digest of algorithm alg into a
// validated digest.Digest.
func ParseEncoded(alg digest.Algorithm, encoded string) (digest.Digest, error) {
	d := digest.NewDigestFromEncoded(alg, encoded)
	if err := d.Validate(); err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidDigest, encoded, err)
	}
	return d, nil
}
