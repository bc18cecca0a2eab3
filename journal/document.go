package journal

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
)

// document is the shape shared by raw and provenance journals:
// {"deletions": [string...], "transformations": {string: [string...]}}.
type document struct {
	deletions       []string
	transformations []entry
}

type entry struct {
	key    string
	values []string
}

// prettyOptions matches the tab-indented layout written by earlier
// versions of the pipeline.
var prettyOptions = &pretty.Options{Width: 80, Indent: "\t"}

func decodeDocument(data []byte) (*document, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrMalformed)
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, fmt.Errorf("%w: top level is not an object", ErrMalformed)
	}

	doc := &document{}
	dels, err := stringList(root.Get("deletions"), "deletions")
	if err != nil {
		return nil, err
	}
	doc.deletions = dels

	trans := root.Get("transformations")
	if isAbsent(trans) {
		return doc, nil
	}
	if !trans.IsObject() {
		return nil, fmt.Errorf("%w: transformations is not an object", ErrMalformed)
	}

	seen := make(map[string]struct{})
	trans.ForEach(func(key, value gjson.Result) bool {
		k := key.String()
		if k == "" {
			err = fmt.Errorf("%w: empty transformation source", ErrMalformed)
			return false
		}
		if _, dup := seen[k]; dup {
			err = fmt.Errorf("%w: %q", ErrDuplicateSource, k)
			return false
		}
		seen[k] = struct{}{}

		var values []string
		values, err = stringList(value, "transformations["+k+"]")
		if err != nil {
			return false
		}
		doc.transformations = append(doc.transformations, entry{key: k, values: values})
		return true
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func isAbsent(r gjson.Result) bool {
	return !r.Exists() || r.Type == gjson.Null
}

func stringList(r gjson.Result, field string) ([]string, error) {
	out := []string{}
	if isAbsent(r) {
		return out, nil
	}
	if !r.IsArray() {
		return nil, fmt.Errorf("%w: %s is not an array", ErrMalformed, field)
	}
	var err error
	r.ForEach(func(_, v gjson.Result) bool {
		if v.Type != gjson.String || v.Str == "" {
			err = fmt.Errorf("%w: %s contains %s, want a non-empty string", ErrMalformed, field, v.Raw)
			return false
		}
		out = append(out, v.Str)
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// marshal writes the compact form; keys keep their slice order.
func (d *document) marshal() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"deletions":`)
	if err := writeStrings(&buf, d.deletions); err != nil {
		return nil, err
	}
	buf.WriteString(`,"transformations":{`)
	for i, e := range d.transformations {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeString(&buf, e.key); err != nil {
			return nil, err
		}
		buf.WriteByte(':')
		if err := writeStrings(&buf, e.values); err != nil {
			return nil, err
		}
	}
	buf.WriteString("}}")
	return buf.Bytes(), nil
}

func (d *document) marshalIndent() ([]byte, error) {
	compact, err := d.marshal()
	if err != nil {
		return nil, err
	}
	return pretty.PrettyOptions(compact, prettyOptions), nil
}

func writeStrings(buf *bytes.Buffer, ss []string) error {
	buf.WriteByte('[')
	for i, s := range ss {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeString(buf, s); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

func writeString(buf *bytes.Buffer, s string) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	buf.Write(b)
	return nil
}
