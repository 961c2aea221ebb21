package graph

import (
	"encoding/json"
	"sort"
	"strings"
)

// InferOutputTypes guesses which media types a workflow saves. A node counts
// as an output node when its inputs carry a filename_prefix field or a truthy
// save_output flag; the media type comes from keywords in the class type and
// the serialized inputs.
func InferOutputTypes(doc Document) []string {
	detected := map[string]bool{}
	for _, id := range doc.NodeIDs() {
		node, ok := doc.node(id)
		if !ok {
			continue
		}
		inputs, ok := node["inputs"].(map[string]any)
		if !ok {
			continue
		}
		if _, hasPrefix := inputs["filename_prefix"]; !hasPrefix && !truthy(inputs["save_output"]) {
			continue
		}
		if mt := outputTypeFromClass(classType(node), inputs); mt != "" {
			detected[mt] = true
		}
	}
	out := make([]string, 0, len(detected))
	for mt := range detected {
		out = append(out, mt)
	}
	sort.Strings(out)
	return out
}

func outputTypeFromClass(class string, inputs map[string]any) string {
	lowered := strings.ToLower(class)
	switch {
	case strings.Contains(lowered, "video") || strings.Contains(loweredJSON(inputs), "video"):
		return MediaVideo
	case strings.Contains(lowered, "image"):
		return MediaImage
	case strings.Contains(lowered, "audio"):
		return MediaAudio
	case strings.Contains(lowered, "gif"):
		return MediaGIF
	case strings.Contains(lowered, "text"):
		return MediaText
	}
	return ""
}

func loweredJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return strings.ToLower(string(b))
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case nil:
		return false
	default:
		return true
	}
}
