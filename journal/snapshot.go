package journal

import (
	"encoding/json"
	"fmt"

	digest "github.com/opencontainers/go-digest"

	"github.com/meigma/postprocess/contenthash"
)

// Snapshot maps working-tree paths to the digests of their content as
// captured before the filter ran. Keys are in CleanPath form.
type Snapshot map[string]digest.Digest

// Lookup returns the digest recorded for p.
func (s Snapshot) Lookup(p string) (digest.Digest, bool) {
	d, ok := s[CleanPath(p)]
	return d, ok
}

// DecodeSnapshot parses a {"<path>": "<hex>"} document whose digests use alg.
func DecodeSnapshot(data []byte, alg digest.Algorithm) (Snapshot, error) {
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: snapshot: %v", ErrMalformed, err)
	}
	snap := make(Snapshot, len(raw))
	for p, encoded := range raw {
		d, err := contenthash.ParseEncoded(alg, encoded)
		if err != nil {
			return nil, fmt.Errorf("%w: snapshot entry %q: %w", ErrMalformed, p, err)
		}
		snap[CleanPath(p)] = d
	}
	return snap, nil
}

// Encode returns the snapshot as 4-space indented JSON with sorted keys.
func (s Snapshot) Encode() ([]byte, error) {
	raw := make(map[string]string, len(s))
	for p, d := range s {
		raw[p] = d.Encoded()
	}
	out, err := json.MarshalIndent(raw, "", "    ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}
