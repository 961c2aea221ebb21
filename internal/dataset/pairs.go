package dataset

import (
	"fmt"
	"sort"
)

// IterPairs expands per-placeholder asset lists into the per-run assignments
// for one batch.
//
// The pairing rule is modulo-cycling, NOT a strict zip: the batch length is
// the length of the LONGEST list, and shorter lists wrap around by index
// modulo their own length. A single fixed asset (list of length 1) therefore
// pairs against every element of a longer list — but lists of lengths 2 and
// 3 also yield 3 pairs with the first list's second element reused, which can
// surprise. This matches the established dataset semantics and is relied on
// by existing datasets; do not "fix" it to a zip.
func IterPairs(placeholderMap map[string][]string) ([]map[string]string, error) {
	if len(placeholderMap) == 0 {
		return nil, fmt.Errorf("no placeholder assets provided")
	}

	keys := make([]string, 0, len(placeholderMap))
	maxLen := 0
	for key, values := range placeholderMap {
		if len(values) == 0 {
			return nil, fmt.Errorf("placeholder %s has no assets", key)
		}
		keys = append(keys, key)
		if len(values) > maxLen {
			maxLen = len(values)
		}
	}
	sort.Strings(keys)

	pairs := make([]map[string]string, 0, maxLen)
	for i := 0; i < maxLen; i++ {
		assignment := make(map[string]string, len(keys))
		for _, key := range keys {
			values := placeholderMap[key]
			assignment[key] = values[i%len(values)]
		}
		pairs = append(pairs, assignment)
	}
	return pairs, nil
}
