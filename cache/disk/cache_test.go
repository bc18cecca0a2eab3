package disk

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
	digest "github.com/opencontainers/go-digest"

	"github.com/meigma/postprocess/cache"
)

func TestCachePutGet(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c, err := New(dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	content := []byte("hello")
	d := digest.FromBytes(content)

	desc, err := c.Put(d, bytes.NewReader(content))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if desc.Digest != d || desc.Size != int64(len(content)) || desc.MediaType != cache.MediaTypeBlob {
		t.Fatalf("Put() descriptor = %+v", desc)
	}

	rc, err := c.Get(d)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer rc.Close()

	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("Get() content = %q, want %q", got, content)
	}

	path := filepath.Join(dir, d.Encoded())
	onDisk, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected flat cache file at %s: %v", path, err)
	}
	if !bytes.Equal(onDisk, content) {
		t.Fatalf("blob on disk = %q, want %q", onDisk, content)
	}
}

func TestCacheCreatesDir(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "data", ".cache", "files")
	if _, err := New(dir); err != nil {
		t.Fatalf("New() error = %v", err)
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		t.Fatalf("cache dir not created: %v", err)
	}
}

func TestCachePutExistingIsNoop(t *testing.T) {
	t.Parallel()

	c, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	content := []byte("same bytes")
	d := digest.FromBytes(content)
	if _, err := c.Put(d, bytes.NewReader(content)); err != nil {
		t.Fatalf("first Put() error = %v", err)
	}

	r := &countingReader{r: bytes.NewReader(content)}
	if _, err := c.Put(d, r); err != nil {
		t.Fatalf("second Put() error = %v", err)
	}
	if r.n != 0 {
		t.Fatalf("second Put() read %d bytes, want 0", r.n)
	}
}

func TestCachePutDigestMismatch(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c, err := New(dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	d := digest.FromString("expected")
	_, err = c.Put(d, strings.NewReader("actual"))
	if !errors.Is(err, cache.ErrDigestMismatch) {
		t.Fatalf("Put() error = %v, want ErrDigestMismatch", err)
	}

	if _, err := c.Stat(d); !errors.Is(err, cache.ErrMiss) {
		t.Fatalf("Stat() error = %v, want ErrMiss", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("cache dir has %d entries after failed Put, want 0", len(entries))
	}
}

func TestCacheGetMiss(t *testing.T) {
	t.Parallel()

	c, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, err := c.Get(digest.FromString("never stored")); !errors.Is(err, cache.ErrMiss) {
		t.Fatalf("Get() error = %v, want ErrMiss", err)
	}
}

func TestCacheInvalidDigest(t *testing.T) {
	t.Parallel()

	c, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	bad := digest.Digest("sha256:../../escape")
	if _, err := c.Get(bad); !errors.Is(err, cache.ErrInvalidDigest) {
		t.Fatalf("Get() error = %v, want ErrInvalidDigest", err)
	}
	if _, err := c.Put(bad, strings.NewReader("x")); !errors.Is(err, cache.ErrInvalidDigest) {
		t.Fatalf("Put() error = %v, want ErrInvalidDigest", err)
	}
}

func TestCacheShardPrefix(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c, err := New(dir, WithShardPrefixLen(2))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	content := []byte("sharded")
	d := digest.FromBytes(content)
	if _, err := c.Put(d, bytes.NewReader(content)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	hexHash := d.Encoded()
	path := filepath.Join(dir, hexHash[:2], hexHash)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected cache file at %s: %v", path, err)
	}
}

func TestCacheCompression(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c, err := New(dir, WithCompression(zstd.SpeedDefault))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	content := bytes.Repeat([]byte("compressible "), 1024)
	d := digest.FromBytes(content)
	desc, err := c.Put(d, bytes.NewReader(content))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if desc.MediaType != cache.MediaTypeBlobZstd {
		t.Fatalf("MediaType = %q, want %q", desc.MediaType, cache.MediaTypeBlobZstd)
	}
	if desc.Size >= int64(len(content)) {
		t.Fatalf("stored size %d not smaller than content size %d", desc.Size, len(content))
	}

	rc, err := c.Get(d)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if err := rc.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatal("decompressed content differs from original")
	}
}

func TestNewEmptyDir(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Fatal("New() error = nil, want error")
	}
}

func TestNewNegativeShard(t *testing.T) {
	t.Parallel()

	if _, err := New(t.TempDir(), WithShardPrefixLen(-1)); err == nil {
		t.Fatal("New() error = nil, want error")
	}
}

type countingReader struct {
	r io.Reader
	n int
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += n
	return n, err
}
