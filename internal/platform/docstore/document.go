// Package docstore is the document-store layer the versioned resource store
// is written against.
//
// Documents are decoded JSON objects. Queries are built from a small set of
// filter fragments (equality, string match, date and number ranges, AND/OR)
// addressed by dot-separated field paths. A path step that lands on an array
// fans out over its elements, so "name.family" reaches the family of every
// HumanName in a Patient.
//
// Backends implement Collection: an in-memory one lives in this package,
// Postgres (JSONB) and SQLite live in the pgstore and sqlitestore
// sub-packages.
package docstore

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Document is a decoded JSON object.
type Document map[string]interface{}

// DecodeDocument parses a JSON object.
func DecodeDocument(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("decode document: not a JSON object")
	}
	return doc, nil
}

// Encode marshals the document to JSON.
func (d Document) Encode() ([]byte, error) {
	return json.Marshal(map[string]interface{}(d))
}

// ID returns the logical id of the document, or "" when absent.
func (d Document) ID() string {
	s, _ := d["id"].(string)
	return s
}

// Meta returns the meta object, or nil when the document has none.
func (d Document) Meta() map[string]interface{} {
	m, _ := d["meta"].(map[string]interface{})
	return m
}

// VersionID returns meta.versionId, or "" when absent.
func (d Document) VersionID() string {
	s, _ := d.Meta()["versionId"].(string)
	return s
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return cloneValue(map[string]interface{}(d)).(map[string]interface{})
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case Document:
		return Document(cloneValue(map[string]interface{}(t)).(map[string]interface{}))
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = e
		}
		return out
	default:
		return v
	}
}

// Values returns every value reachable at path. Arrays met on the way, and
// an array at the leaf, are flattened.
func Values(doc Document, path string) []interface{} {
	if doc == nil || path == "" {
		return nil
	}
	current := []interface{}{map[string]interface{}(doc)}
	for _, step := range strings.Split(path, ".") {
		var next []interface{}
		for _, v := range current {
			obj, ok := asObject(v)
			if !ok {
				continue
			}
			child, ok := obj[step]
			if !ok || child == nil {
				continue
			}
			next = appendFlattened(next, child)
		}
		if len(next) == 0 {
			return nil
		}
		current = next
	}
	return current
}

func asObject(v interface{}) (map[string]interface{}, bool) {
	switch t := v.(type) {
	case map[string]interface{}:
		return t, true
	case Document:
		return t, true
	}
	return nil, false
}

func appendFlattened(dst []interface{}, v interface{}) []interface{} {
	switch t := v.(type) {
	case []interface{}:
		for _, e := range t {
			dst = appendFlattened(dst, e)
		}
	case []string:
		for _, e := range t {
			dst = append(dst, e)
		}
	default:
		dst = append(dst, v)
	}
	return dst
}
