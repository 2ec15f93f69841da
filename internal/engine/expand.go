package engine

import "fmt"

// Value is one entry of a flattened parameter map: either a single scalar
// string, or a tuple of aligned scalar strings produced by list iteration.
type Value struct {
	Scalar string
	Tuple  []string
}

// IsTuple reports whether the value came from inside a list.
func (v Value) IsTuple() bool { return v.Tuple != nil }

// FlatParams maps dotted parameter paths to their flattened values.
type FlatParams map[string]Value

// ExpandParams flattens a nested parameter map into dotted paths. A nested
// map recurses with prefix+field+"."; a list expands each map element under
// the same prefix, coerces every resulting scalar to a 1-tuple and
// concatenates same-key tuples in element order, so element i of every key's
// tuple comes from list element i. Elements missing a key shorten that key's
// tuple relative to its siblings; no key-count validation is performed.
// Non-map list elements are skipped. ExpandParams never fails.
func ExpandParams(params map[string]interface{}, prefix string) FlatParams {
	expanded := make(FlatParams)
	for field, raw := range params {
		switch value := raw.(type) {
		case map[string]interface{}:
			for k, v := range ExpandParams(value, prefix+field+".") {
				expanded[k] = v
			}
		case []interface{}:
			var joined FlatParams
			for _, element := range value {
				item, ok := element.(map[string]interface{})
				if !ok {
					continue
				}
				expandedItem := ExpandParams(item, prefix+field+".")
				for key, v := range expandedItem {
					if !v.IsTuple() {
						expandedItem[key] = Value{Tuple: []string{v.Scalar}}
					}
				}

				if joined == nil {
					joined = expandedItem
				} else {
					for key := range joined {
						joined[key] = Value{
							Tuple: append(joined[key].Tuple, expandedItem[key].Tuple...),
						}
					}
				}
			}
			for k, v := range joined {
				expanded[k] = v
			}
		default:
			expanded[prefix+field] = Value{Scalar: fmt.Sprint(value)}
		}
	}
	return expanded
}
