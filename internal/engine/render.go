package engine

import (
	"sort"
	"strings"
)

// Render substitutes every scalar flattened key occurring literally in
// template with its value. Tuple values have no single textual form and are
// never substituted. Keys are applied longest first so a key that is a
// substring of another cannot corrupt the longer one. A template containing
// no flattened key is returned unchanged.
func Render(template string, flat FlatParams) string {
	keys := make([]string, 0, len(flat))
	for key, value := range flat {
		if value.IsTuple() {
			continue
		}
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})

	out := template
	for _, key := range keys {
		out = strings.ReplaceAll(out, key, flat[key].Scalar)
	}
	return out
}
