package graph

import (
	"log"
	"strings"
)

// ApplyFieldOverrides merges updates into the inputs mapping of every node the
// selector matches. A selector of the form "id:<nodeId>" targets one node;
// any other selector is matched against node titles (_meta.title) and may hit
// zero, one, or many nodes. A selector with no matches logs a warning and
// leaves the document unchanged.
func ApplyFieldOverrides(doc Document, selector string, updates map[string]any) {
	if len(updates) == 0 {
		return
	}
	if id, ok := strings.CutPrefix(selector, "id:"); ok {
		node, found := doc.node(id)
		if !found {
			log.Printf("override skipped, node id %s not found", id)
			return
		}
		mergeInputs(node, updates)
		return
	}

	matched := false
	for _, nodeID := range doc.NodeIDs() {
		node, ok := doc.node(nodeID)
		if !ok || nodeTitle(node) != selector {
			continue
		}
		mergeInputs(node, updates)
		matched = true
	}
	if !matched {
		log.Printf("override skipped, title %q not found", selector)
	}
}

// ApplyDottedOverride sets a single leaf addressed as "nodeId.path.to.field".
// Missing intermediate levels are created as empty mappings. A missing node
// logs a warning and is a no-op.
func ApplyDottedOverride(doc Document, key string, value any) {
	parts := strings.Split(key, ".")
	if len(parts) < 2 {
		log.Printf("override skipped, %q is not a dotted path", key)
		return
	}
	node, ok := doc.node(parts[0])
	if !ok {
		log.Printf("override skipped, node id %s not found", parts[0])
		return
	}
	target := node
	for _, part := range parts[1 : len(parts)-1] {
		next, ok := target[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			target[part] = next
		}
		target = next
	}
	target[parts[len(parts)-1]] = value
}

// ApplyOverrides dispatches a mixed override mapping: "id:<nodeId>" and title
// selectors carry a mapping of input fields, dotted keys set a single leaf.
// A non-mapping value under a node selector logs a warning and is skipped.
func ApplyOverrides(doc Document, overrides map[string]any) {
	for key, value := range overrides {
		switch {
		case strings.HasPrefix(key, "id:"):
			updates, ok := value.(map[string]any)
			if !ok {
				log.Printf("override for %s should be a mapping", key)
				continue
			}
			ApplyFieldOverrides(doc, key, updates)
		case strings.Contains(key, "."):
			ApplyDottedOverride(doc, key, value)
		default:
			updates, ok := value.(map[string]any)
			if !ok {
				log.Printf("override for %s should be a mapping", key)
				continue
			}
			ApplyFieldOverrides(doc, key, updates)
		}
	}
}

func mergeInputs(node map[string]any, updates map[string]any) {
	inputs, ok := node["inputs"].(map[string]any)
	if !ok {
		inputs = map[string]any{}
		node["inputs"] = inputs
	}
	for k, v := range updates {
		inputs[k] = v
	}
}
