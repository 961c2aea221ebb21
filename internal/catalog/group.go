package catalog

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

const groupIDLength = 12

// Group collects the workflows sharing one input/output signature pair. The
// identifier is a stable truncated hash of the canonical signature JSON;
// collisions at this length are accepted as rare enough not to resolve.
type Group struct {
	ID              string      `json:"id"`
	InputSignature  [][2]string `json:"input_signature"`
	OutputSignature []string    `json:"output_signature"`
	Workflows       []Workflow  `json:"workflows"`
}

func buildGroups(workflows map[string]Workflow) map[string]Group {
	type key struct{ inputs, outputs string }
	grouped := map[key][]Workflow{}
	for _, w := range workflows {
		k := key{
			inputs:  fmt.Sprintf("%v", w.InputSignature()),
			outputs: strings.Join(w.OutputSignature(), ","),
		}
		grouped[k] = append(grouped[k], w)
	}

	groups := make(map[string]Group, len(grouped))
	for _, members := range grouped {
		sort.Slice(members, func(i, j int) bool { return members[i].Name < members[j].Name })
		g := Group{
			InputSignature:  members[0].InputSignature(),
			OutputSignature: members[0].OutputSignature(),
			Workflows:       members,
		}
		g.ID = groupID(g.InputSignature, g.OutputSignature)
		groups[g.ID] = g
	}
	return groups
}

func groupID(inputs [][2]string, outputs []string) string {
	blob, err := json.Marshal(map[string]any{
		"inputs":  inputs,
		"outputs": outputs,
	})
	if err != nil {
		blob = []byte(fmt.Sprintf("%v|%v", inputs, outputs))
	}
	sum := sha1.Sum(blob)
	return hex.EncodeToString(sum[:])[:groupIDLength]
}

// Label renders a human-readable summary of the group's signature, e.g.
// "inputs: 1 image, 1 text; outputs: 1 video". Empty signatures render the
// defined fallbacks instead of empty strings.
func (g Group) Label() string {
	inputCounts := map[string]int{}
	for _, pair := range g.InputSignature {
		inputCounts[pair[1]]++
	}
	outputCounts := map[string]int{}
	for _, mt := range g.OutputSignature {
		outputCounts[mt]++
	}
	return fmt.Sprintf("inputs: %s; outputs: %s",
		renderCounts(inputCounts, "none"),
		renderCounts(outputCounts, "not detected"))
}

func renderCounts(counts map[string]int, fallback string) string {
	if len(counts) == 0 {
		return fallback
	}
	types := make([]string, 0, len(counts))
	for mt := range counts {
		types = append(types, mt)
	}
	sort.Strings(types)
	parts := make([]string, 0, len(types))
	for _, mt := range types {
		parts = append(parts, fmt.Sprintf("%d %s", counts[mt], mt))
	}
	return strings.Join(parts, ", ")
}
