// Package graph loads and mutates workflow graph documents. A document is the
// node-keyed JSON form a generation server accepts: every top-level key is a
// node id mapping to {class_type, inputs, _meta}. The package never interprets
// node semantics; it only walks the tree, matches placeholder tokens, and
// merges overrides.
package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Document is an opaque node-keyed workflow graph. Values are the raw
// interface trees produced by encoding/json so unknown keys survive a
// load/mutate/encode round trip.
type Document map[string]any

// Load reads and parses a workflow document from disk.
func Load(path string) (Document, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow %s: %w", path, err)
	}
	return Parse(b)
}

// Parse decodes a workflow document from raw JSON.
func Parse(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse workflow: %w", err)
	}
	return doc, nil
}

// Encode renders the document as JSON without HTML escaping, so prompt text
// containing <, > or & reaches the server verbatim.
func (d Document) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(d); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Clone returns a value-equal deep copy. Mutating the copy never touches the
// original.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for id, node := range d {
		out[id] = deepCopy(node)
	}
	return out
}

// NodeIDs returns the document's node identifiers in sorted order.
func (d Document) NodeIDs() []string {
	ids := make([]string, 0, len(d))
	for id := range d {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (d Document) node(id string) (map[string]any, bool) {
	node, ok := d[id].(map[string]any)
	return node, ok
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = deepCopy(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = deepCopy(val)
		}
		return out
	default:
		return v
	}
}

// walk visits every leaf under v depth-first and reports it with its key path.
// Map keys are visited in sorted order so traversal is deterministic.
func walk(v any, prefix []string, visit func(path []string, leaf any)) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			walk(t[k], append(prefix, k), visit)
		}
	case []any:
		for i, item := range t {
			walk(item, append(prefix, fmt.Sprintf("%d", i)), visit)
		}
	default:
		path := make([]string, len(prefix))
		copy(path, prefix)
		visit(path, v)
	}
}

func classType(node map[string]any) string {
	ct, _ := node["class_type"].(string)
	return ct
}

func nodeTitle(node map[string]any) string {
	meta, ok := node["_meta"].(map[string]any)
	if !ok {
		return ""
	}
	title, _ := meta["title"].(string)
	return title
}
