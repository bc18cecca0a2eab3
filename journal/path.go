// Package journal defines the action journals exchanged between a filter
// run and its post-processing step, and their JSON encodings.
//
// A [Raw] journal is produced by the filter and uses plain paths. A
// [Provenance] journal is produced by reconciliation and pairs every path
// with the digest of the content it held, as a [QualifiedPath]. A
// [Snapshot] maps paths to digests as they were before the filter ran.
//
// Object keys in both journals are kept in document order; consumers rely
// on the ordinal correspondence between raw and qualified entries.
package journal

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	digest "github.com/opencontainers/go-digest"

	"github.com/meigma/postprocess/contenthash"
)

var (
	// ErrMalformed is returned when a journal or snapshot document does not
	// have the expected shape.
	ErrMalformed = errors.New("malformed journal")

	// ErrDuplicateSource is returned when a transformation source appears
	// more than once in a journal.
	ErrDuplicateSource = errors.New("duplicate transformation source")
)

// CleanPath returns the canonical slash-separated form of p used for
// journal entries and snapshot keys.
func CleanPath(p string) string {
	return path.Clean(filepath.ToSlash(p))
}

// QualifiedPath is a path paired with the digest of the content it held
// when the raw journal was produced.
type QualifiedPath struct {
	Path   string
	Digest digest.Digest
}

// Qualify pairs p with d.
func Qualify(p string, d digest.Digest) QualifiedPath {
	return QualifiedPath{Path: CleanPath(p), Digest: d}
}

// String returns the "<path>:<hex>" form.
func (q QualifiedPath) String() string {
	return q.Path + ":" + q.Digest.Encoded()
}

// ParseQualified parses the "<path>:<hex>" form. The digest is the text
// after the last colon and must be valid for alg.
func ParseQualified(s string, alg digest.Algorithm) (QualifiedPath, error) {
	i := strings.LastIndexByte(s, ':')
	if i <= 0 || i == len(s)-1 {
		return QualifiedPath{}, fmt.Errorf("%w: qualified path %q", ErrMalformed, s)
	}
	d, err := contenthash.ParseEncoded(alg, s[i+1:])
	if err != nil {
		return QualifiedPath{}, fmt.Errorf("%w: qualified path %q: %w", ErrMalformed, s, err)
	}
	return QualifiedPath{Path: CleanPath(s[:i]), Digest: d}, nil
}
