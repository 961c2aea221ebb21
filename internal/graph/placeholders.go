package graph

import (
	"regexp"
	"sort"
	"strings"
)

// Media types a placeholder or workflow output can resolve to.
const (
	MediaImage = "image"
	MediaVideo = "video"
	MediaAudio = "audio"
	MediaText  = "text"
	MediaFile  = "file"
	MediaGIF   = "gif"
)

var placeholderPattern = regexp.MustCompile(`^\{?(input_[^{}]+)\}?$`)

// Usage records one place a placeholder appears: the owning node's class type
// and the key path from the node to the string leaf.
type Usage struct {
	ClassType string
	Path      []string
}

// DiscoverPlaceholders scans every string leaf in the document for tokens of
// the form {input_*} (braces optional) and returns each token, canonicalized
// to its braced form, with the usages that will drive media-type inference.
// The document is not mutated.
func DiscoverPlaceholders(doc Document) map[string][]Usage {
	found := map[string][]Usage{}
	for _, id := range doc.NodeIDs() {
		node, ok := doc.node(id)
		if !ok {
			continue
		}
		ct := classType(node)
		walk(node, nil, func(path []string, leaf any) {
			s, ok := leaf.(string)
			if !ok {
				return
			}
			m := placeholderPattern.FindStringSubmatch(s)
			if m == nil {
				return
			}
			name := "{" + m[1] + "}"
			found[name] = append(found[name], Usage{ClassType: ct, Path: path})
		})
	}
	return found
}

// SortedPlaceholderNames returns the discovered placeholder names in sorted
// order so downstream listings are stable run to run.
func SortedPlaceholderNames(found map[string][]Usage) []string {
	names := make([]string, 0, len(found))
	for name := range found {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// InferMediaType guesses a placeholder's media type. The bare name is checked
// first; failing that, each usage's class type and path are scanned in a fixed
// keyword priority. Unmatched placeholders fall back to "file".
func InferMediaType(name string, usages []Usage) string {
	bare := strings.ToLower(strings.Trim(name, "{}"))
	switch {
	case strings.Contains(bare, "video"):
		return MediaVideo
	case strings.Contains(bare, "audio"), strings.Contains(bare, "sound"):
		return MediaAudio
	case strings.Contains(bare, "mask"):
		return MediaImage
	case strings.Contains(bare, "text"):
		return MediaText
	}

	for _, usage := range usages {
		class := strings.ToLower(usage.ClassType)
		path := strings.ToLower(strings.Join(usage.Path, "."))
		switch {
		case strings.Contains(class, "video") || strings.Contains(path, "video"):
			return MediaVideo
		case strings.Contains(class, "audio") || strings.Contains(path, "audio") || strings.Contains(class, "sound"):
			return MediaAudio
		case strings.Contains(class, "mask") || strings.Contains(path, "mask"):
			return MediaImage
		case strings.Contains(class, "text") || strings.Contains(path, "prompt"):
			return MediaText
		case strings.Contains(class, "image") || strings.Contains(path, "image"):
			return MediaImage
		}
	}
	return MediaFile
}

// PlaceholderAliases returns every spelling a placeholder may appear under in
// a document: the form given, the bare name, and the braced name.
func PlaceholderAliases(placeholder string) []string {
	bare := strings.Trim(placeholder, "{}")
	seen := map[string]bool{placeholder: true}
	aliases := []string{placeholder}
	if bare != "" {
		for _, alias := range []string{bare, "{" + bare + "}"} {
			if !seen[alias] {
				seen[alias] = true
				aliases = append(aliases, alias)
			}
		}
	}
	return aliases
}

// NormalizePlaceholder canonicalizes a placeholder key to its braced form.
// An empty key (after trimming braces and whitespace) is reported as invalid.
func NormalizePlaceholder(key string) (string, bool) {
	bare := strings.Trim(strings.TrimSpace(key), "{}")
	if bare == "" {
		return "", false
	}
	return "{" + bare + "}", true
}

// SubstitutePlaceholders returns a deep copy of doc in which every string
// leaf exactly equal to a mapping key is replaced by the mapped value.
// Partial matches are never replaced, unmapped tokens are left as-is, and the
// input document keeps its original values.
func SubstitutePlaceholders(doc Document, mapping map[string]string) Document {
	out := make(Document, len(doc))
	for id, node := range doc {
		out[id] = substitute(node, mapping)
	}
	return out
}

func substitute(v any, mapping map[string]string) any {
	switch t := v.(type) {
	case string:
		if replacement, ok := mapping[t]; ok {
			return replacement
		}
		return t
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = substitute(val, mapping)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = substitute(val, mapping)
		}
		return out
	default:
		return v
	}
}
