// Package cache defines the content-addressed blob store used to keep
// filter outputs between pipeline runs.
//
// Blobs are keyed by the digest of their uncompressed content. Because keys
// are content hashes, storing a blob that already exists is a no-op and a
// hit is implicitly verified. Entries are never evicted.
package cache

import (
	"errors"
	"io"

	digest "github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// MediaTypeBlob is the media type reported for stored blobs.
const MediaTypeBlob = "application/vnd.meigma.postprocess.blob.v1"

// MediaTypeBlobZstd is the media type reported for zstd-compressed blobs.
const MediaTypeBlobZstd = MediaTypeBlob + "+zstd"

var (
	// ErrMiss is returned when no blob exists for a digest.
	ErrMiss = errors.New("cache miss")

	// ErrDigestMismatch is returned when content written to the cache does not
	// hash to the digest it was stored under.
	ErrDigestMismatch = errors.New("digest mismatch")

	// ErrInvalidDigest is returned for digests that cannot name a blob.
	ErrInvalidDigest = errors.New("invalid digest")
)

// Cache provides content-addressed blob storage.
type Cache interface {
	// Put stores the content read from r under d. The content must hash to
	// d. Storing a digest that is already present is a no-op and leaves r
	// unread.
	Put(d digest.Digest, r io.Reader) (ocispec.Descriptor, error)

	// Get opens the blob stored under d. Returns an error wrapping ErrMiss
	// if the blob is absent. The caller must close the reader.
	Get(d digest.Digest) (io.ReadCloser, error)

	// Stat describes the blob stored under d without opening it.
	// Returns an error wrapping ErrMiss if the blob is absent.
	Stat(d digest.Digest) (ocispec.Descriptor, error)
}
