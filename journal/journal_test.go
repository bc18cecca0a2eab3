package journal

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	digest "github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRawPreservesOrder(t *testing.T) {
	t.Parallel()

	data := []byte(`{
		"deletions": ["b.txt", "a.txt", "./c/../c/d.txt"],
		"transformations": {
			"z.txt": ["z2.txt", "z1.txt"],
			"a.txt": [],
			"m.txt": ["m.out"]
		}
	}`)

	raw, err := DecodeRaw(data)
	require.NoError(t, err)

	assert.Equal(t, []string{"b.txt", "a.txt", "c/d.txt"}, raw.Deletions)
	require.Len(t, raw.Transformations, 3)
	assert.Equal(t, Transformation{Source: "z.txt", Outputs: []string{"z2.txt", "z1.txt"}}, raw.Transformations[0])
	assert.Equal(t, Transformation{Source: "a.txt", Outputs: []string{}}, raw.Transformations[1])
	assert.Equal(t, Transformation{Source: "m.txt", Outputs: []string{"m.out"}}, raw.Transformations[2])
}

func TestDecodeRawMissingSections(t *testing.T) {
	t.Parallel()

	for _, doc := range []string{`{}`, `{"deletions": null, "transformations": null}`} {
		raw, err := DecodeRaw([]byte(doc))
		require.NoError(t, err, doc)
		assert.Empty(t, raw.Deletions)
		assert.Empty(t, raw.Transformations)
	}
}

func TestDecodeRawMalformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		doc  string
		want error
	}{
		{name: "invalid json", doc: `{"deletions": [`, want: ErrMalformed},
		{name: "not an object", doc: `[]`, want: ErrMalformed},
		{name: "deletions not array", doc: `{"deletions": "a"}`, want: ErrMalformed},
		{name: "deletion not string", doc: `{"deletions": [1]}`, want: ErrMalformed},
		{name: "empty deletion", doc: `{"deletions": [""]}`, want: ErrMalformed},
		{name: "transformations not object", doc: `{"transformations": []}`, want: ErrMalformed},
		{name: "outputs not array", doc: `{"transformations": {"a": "b"}}`, want: ErrMalformed},
		{name: "duplicate source", doc: `{"transformations": {"a": [], "a": ["b"]}}`, want: ErrDuplicateSource},
		{name: "duplicate source after cleaning", doc: `{"transformations": {"src/a": ["o"], "./src/a": ["p"]}}`, want: ErrDuplicateSource},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := DecodeRaw([]byte(tt.doc))
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRawMarshalJSON(t *testing.T) {
	t.Parallel()

	raw := &Raw{
		Transformations: []Transformation{
			{Source: "z", Outputs: []string{"1"}},
			{Source: "a", Outputs: []string{"2", "3"}},
		},
	}
	out, err := json.Marshal(raw)
	require.NoError(t, err)
	assert.JSONEq(t, `{"deletions":[],"transformations":{"z":["1"],"a":["2","3"]}}`, string(out))
	assert.Less(t, strings.Index(string(out), `"z"`), strings.Index(string(out), `"a"`))
}

func TestProvenanceEncodeDecode(t *testing.T) {
	t.Parallel()

	h1 := digest.FromString("source")
	h2 := digest.FromString("output one")
	h3 := digest.FromString("output two")
	h4 := digest.FromString("deleted")

	p := &Provenance{
		Deletions: []QualifiedPath{Qualify("gone.txt", h4)},
		Transformations: []QualifiedTransformation{
			{
				Source:  Qualify("src/a.txt", h1),
				Outputs: []QualifiedPath{Qualify("out/b.txt", h3), Qualify("out/a.txt", h2)},
			},
		},
	}

	out, err := p.Encode()
	require.NoError(t, err)
	assert.Contains(t, string(out), "\n\t\"deletions\"")
	assert.Contains(t, string(out), "src/a.txt:"+h1.Encoded())

	decoded, err := DecodeProvenance(out, digest.SHA256)
	require.NoError(t, err)
	assert.Equal(t, p, decoded)
}

func TestProvenanceEmpty(t *testing.T) {
	t.Parallel()

	out, err := json.Marshal(&Provenance{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"deletions": [], "transformations": {}}`, string(out))
}

func TestDecodeProvenanceInvalidDigest(t *testing.T) {
	t.Parallel()

	_, err := DecodeProvenance([]byte(`{"deletions": ["a.txt:nothex"]}`), digest.SHA256)
	require.ErrorIs(t, err, ErrMalformed)

	_, err = DecodeProvenance([]byte(`{"deletions": ["a.txt"]}`), digest.SHA256)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeProvenanceDuplicateAfterCleaning(t *testing.T) {
	t.Parallel()

	hex := digest.FromString("a").Encoded()
	doc := `{"transformations": {"src/a:` + hex + `": [], "./src/a:` + hex + `": []}}`
	_, err := DecodeProvenance([]byte(doc), digest.SHA256)
	require.ErrorIs(t, err, ErrDuplicateSource)
}

func TestParseQualified(t *testing.T) {
	t.Parallel()

	d := digest.FromString("x")

	q, err := ParseQualified("dir:with:colons/file.txt:"+d.Encoded(), digest.SHA256)
	require.NoError(t, err)
	assert.Equal(t, "dir:with:colons/file.txt", q.Path)
	assert.Equal(t, d, q.Digest)
	assert.Equal(t, "dir:with:colons/file.txt:"+d.Encoded(), q.String())

	for _, bad := range []string{"", ":" + d.Encoded(), "file.txt:", "file.txt"} {
		_, err := ParseQualified(bad, digest.SHA256)
		require.ErrorIs(t, err, ErrMalformed, bad)
	}
}

func TestStaleSources(t *testing.T) {
	t.Parallel()

	unchanged := digest.FromString("same")
	before := digest.FromString("before")
	after := digest.FromString("after")

	p := &Provenance{
		Transformations: []QualifiedTransformation{
			{Source: Qualify("keep.txt", unchanged)},
			{Source: Qualify("edit.txt", before)},
			{Source: Qualify("gone.txt", before)},
		},
	}
	snap := Snapshot{
		"keep.txt": unchanged,
		"edit.txt": after,
	}
	assert.Equal(t, []string{"edit.txt", "gone.txt"}, p.StaleSources(snap))
}

func TestSnapshotDecodeEncode(t *testing.T) {
	t.Parallel()

	a := digest.FromString("a")
	b := digest.FromString("b")
	data := []byte(`{"RP/a.json": "` + a.Encoded() + `", "./BP/b.json": "` + b.Encoded() + `"}`)

	snap, err := DecodeSnapshot(data, digest.SHA256)
	require.NoError(t, err)
	assert.Equal(t, Snapshot{"RP/a.json": a, "BP/b.json": b}, snap)

	got, ok := snap.Lookup("RP/./a.json")
	require.True(t, ok)
	assert.Equal(t, a, got)

	out, err := snap.Encode()
	require.NoError(t, err)
	assert.Less(t, strings.Index(string(out), "BP/b.json"), strings.Index(string(out), "RP/a.json"))
	assert.Contains(t, string(out), "\n    \"BP/b.json\"")

	again, err := DecodeSnapshot(out, digest.SHA256)
	require.NoError(t, err)
	assert.Equal(t, snap, again)

	_, err = DecodeSnapshot([]byte(`{"a": "zz"}`), digest.SHA256)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestWriteFileAtomic(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "previous_actions.json")
	require.NoError(t, WriteFileAtomic(path, []byte("first")))
	require.NoError(t, WriteFileAtomic(path, []byte("second")))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files should not be left behind")
}

func TestReadRawFileMissing(t *testing.T) {
	t.Parallel()

	_, err := ReadRawFile(filepath.Join(t.TempDir(), "actions_log.json"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestProvenanceFileRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "previous_actions.json")
	p := &Provenance{
		Deletions: []QualifiedPath{Qualify("a", digest.FromString("a"))},
	}
	require.NoError(t, WriteProvenanceFile(path, p))

	got, err := ReadProvenanceFile(path, digest.SHA256)
	require.NoError(t, err)
	assert.Equal(t, p.Deletions, got.Deletions)
	assert.Empty(t, got.Transformations)
}
