// Package testutil provides shared helpers for package tests.
package testutil

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	digest "github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/meigma/postprocess/cache"
)

// MockCache implements cache.Cache in memory and counts operations.
type MockCache struct {
	mu   sync.RWMutex
	data map[digest.Digest][]byte
	puts int
}

// NewMockCache constructs an empty in-memory cache.
func NewMockCache() *MockCache {
	return &MockCache{data: make(map[digest.Digest][]byte)}
}

// Put stores content under d after verifying it.
func (c *MockCache) Put(d digest.Digest, r io.Reader) (ocispec.Descriptor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.puts++
	if content, ok := c.data[d]; ok {
		return descriptor(d, content), nil
	}
	content, err := io.ReadAll(r)
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	if d.Algorithm().FromBytes(content) != d {
		return ocispec.Descriptor{}, fmt.Errorf("%w: %s", cache.ErrDigestMismatch, d)
	}
	c.data[d] = content
	return descriptor(d, content), nil
}

// Get returns a reader over the content stored under d.
func (c *MockCache) Get(d digest.Digest) (io.ReadCloser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	content, ok := c.data[d]
	if !ok {
		return nil, fmt.Errorf("%w: %s", cache.ErrMiss, d)
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

// Stat describes the content stored under d.
func (c *MockCache) Stat(d digest.Digest) (ocispec.Descriptor, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	content, ok := c.data[d]
	if !ok {
		return ocispec.Descriptor{}, fmt.Errorf("%w: %s", cache.ErrMiss, d)
	}
	return descriptor(d, content), nil
}

// Seed stores content directly and returns its SHA-256 digest.
func (c *MockCache) Seed(content []byte) digest.Digest {
	d := digest.FromBytes(content)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[d] = bytes.Clone(content)
	return d
}

// Bytes returns the stored content for d.
func (c *MockCache) Bytes(d digest.Digest) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	content, ok := c.data[d]
	return content, ok
}

// Len returns the number of stored blobs.
func (c *MockCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// Puts returns the number of Put calls.
func (c *MockCache) Puts() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.puts
}

func descriptor(d digest.Digest, content []byte) ocispec.Descriptor {
	return ocispec.Descriptor{
		MediaType: cache.MediaTypeBlob,
		Digest:    d,
		Size:      int64(len(content)),
	}
}

// WriteTree creates files under dir. Keys are slash-separated paths.
func WriteTree(tb testing.TB, dir string, files map[string]string) {
	tb.Helper()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			tb.Fatalf("mkdir %s: %v", name, err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			tb.Fatalf("write %s: %v", name, err)
		}
	}
}

// OpenRoot opens dir as an os.Root closed at test cleanup.
func OpenRoot(tb testing.TB, dir string) *os.Root {
	tb.Helper()
	root, err := os.OpenRoot(dir)
	if err != nil {
		tb.Fatalf("open root: %v", err)
	}
	tb.Cleanup(func() { root.Close() })
	return root
}
