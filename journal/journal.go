package journal

import (
	"fmt"

	digest "github.com/opencontainers/go-digest"
)

// Transformation records that the source file was transformed into the
// output files. Source refers to the tree before the filter ran, outputs to
// the tree after it.
type Transformation struct {
	Source  string
	Outputs []string
}

// Raw is the journal written by a filter run, using plain paths.
type Raw struct {
	Deletions       []string
	Transformations []Transformation
}

// DecodeRaw parses a raw journal. Paths are normalized with CleanPath, and
// two sources that clean to the same path are reported as
// ErrDuplicateSource.
func DecodeRaw(data []byte) (*Raw, error) {
	doc, err := decodeDocument(data)
	if err != nil {
		return nil, err
	}
	raw := &Raw{Deletions: make([]string, 0, len(doc.deletions))}
	for _, d := range doc.deletions {
		raw.Deletions = append(raw.Deletions, CleanPath(d))
	}
	seen := make(map[string]string, len(doc.transformations))
	for _, e := range doc.transformations {
		src := CleanPath(e.key)
		if prev, dup := seen[src]; dup {
			return nil, fmt.Errorf("%w: %q and %q", ErrDuplicateSource, prev, e.key)
		}
		seen[src] = e.key
		t := Transformation{
			Source:  src,
			Outputs: make([]string, 0, len(e.values)),
		}
		for _, v := range e.values {
			t.Outputs = append(t.Outputs, CleanPath(v))
		}
		raw.Transformations = append(raw.Transformations, t)
	}
	return raw, nil
}

// MarshalJSON implements json.Marshaler, preserving transformation order.
func (r *Raw) MarshalJSON() ([]byte, error) {
	return r.document().marshal()
}

// Encode returns the tab-indented JSON form.
func (r *Raw) Encode() ([]byte, error) {
	return r.document().marshalIndent()
}

func (r *Raw) document() *document {
	doc := &document{deletions: r.Deletions}
	for _, t := range r.Transformations {
		doc.transformations = append(doc.transformations, entry{key: t.Source, values: t.Outputs})
	}
	return doc
}

// QualifiedTransformation is a Transformation with every path qualified.
type QualifiedTransformation struct {
	Source  QualifiedPath
	Outputs []QualifiedPath
}

// Provenance is the hash-qualified journal a later run uses to decide
// whether previous outputs are still valid.
type Provenance struct {
	Deletions       []QualifiedPath
	Transformations []QualifiedTransformation
}

// DecodeProvenance parses a provenance journal whose digests use alg.
func DecodeProvenance(data []byte, alg digest.Algorithm) (*Provenance, error) {
	doc, err := decodeDocument(data)
	if err != nil {
		return nil, err
	}
	p := &Provenance{Deletions: make([]QualifiedPath, 0, len(doc.deletions))}
	for _, s := range doc.deletions {
		q, err := ParseQualified(s, alg)
		if err != nil {
			return nil, fmt.Errorf("deletions: %w", err)
		}
		p.Deletions = append(p.Deletions, q)
	}
	seen := make(map[string]string, len(doc.transformations))
	for _, e := range doc.transformations {
		src, err := ParseQualified(e.key, alg)
		if err != nil {
			return nil, fmt.Errorf("transformations: %w", err)
		}
		if prev, dup := seen[src.Path]; dup {
			return nil, fmt.Errorf("%w: %q and %q", ErrDuplicateSource, prev, e.key)
		}
		seen[src.Path] = e.key
		t := QualifiedTransformation{Source: src, Outputs: make([]QualifiedPath, 0, len(e.values))}
		for _, v := range e.values {
			q, err := ParseQualified(v, alg)
			if err != nil {
				return nil, fmt.Errorf("transformations[%s]: %w", e.key, err)
			}
			t.Outputs = append(t.Outputs, q)
		}
		p.Transformations = append(p.Transformations, t)
	}
	return p, nil
}

// MarshalJSON implements json.Marshaler, preserving transformation order.
func (p *Provenance) MarshalJSON() ([]byte, error) {
	return p.document().marshal()
}

// Encode returns the tab-indented JSON form.
func (p *Provenance) Encode() ([]byte, error) {
	return p.document().marshalIndent()
}

func (p *Provenance) document() *document {
	doc := &document{deletions: make([]string, 0, len(p.Deletions))}
	for _, d := range p.Deletions {
		doc.deletions = append(doc.deletions, d.String())
	}
	for _, t := range p.Transformations {
		values := make([]string, 0, len(t.Outputs))
		for _, o := range t.Outputs {
			values = append(values, o.String())
		}
		doc.transformations = append(doc.transformations, entry{key: t.Source.String(), values: values})
	}
	return doc
}

// StaleSources returns the transformation sources whose content in snap
// differs from the recorded digest, or which are missing from snap, in
// journal order.
func (p *Provenance) StaleSources(snap Snapshot) []string {
	var stale []string
	for _, t := range p.Transformations {
		current, ok := snap.Lookup(t.Source.Path)
		if !ok || current != t.Source.Digest {
			stale = append(stale, t.Source.Path)
		}
	}
	return stale
}
