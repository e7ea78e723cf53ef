package types

import (
	"maps"
	"strconv"

	"github.com/tiendc/go-deepcopy"
)

// Snapshot mirrors the controller state: top-level JSON keys mapped to
// arbitrarily nested JSON values as produced by encoding/json.
type Snapshot map[string]any

// Clone returns a deep copy so the host can hold on to it while polls and
// writes keep mutating the retained snapshot.
func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return nil
	}
	var out Snapshot
	if err := deepcopy.Copy(&out, &s); err != nil {
		// values are plain decoded JSON, fall back to a shallow copy
		return maps.Clone(s)
	}
	return out
}

// Merge overwrites the top-level keys present in delta. Keys missing from
// delta keep their previous value and null values are skipped so a delta
// never deletes a key.
func (s Snapshot) Merge(delta Snapshot) {
	for k, v := range delta {
		if v == nil {
			continue
		}
		s[k] = v
	}
}

// Map returns the nested object stored at key.
func (s Snapshot) Map(key string) (map[string]any, bool) {
	m, ok := s[key].(map[string]any)
	return m, ok
}

// List returns the array stored at key.
func (s Snapshot) List(key string) ([]any, bool) {
	l, ok := s[key].([]any)
	return l, ok
}

// Loadpoint returns the loadpoint object at the 1-based index.
func (s Snapshot) Loadpoint(index int) (map[string]any, bool) {
	lps, ok := s.List("loadpoints")
	if !ok || index < 1 || index > len(lps) {
		return nil, false
	}
	lp, ok := lps[index-1].(map[string]any)
	return lp, ok
}

// LoadpointCount returns the number of loadpoints currently reported.
func (s Snapshot) LoadpointCount() int {
	lps, _ := s.List("loadpoints")
	return len(lps)
}

// SetPath sets the value at a path of object keys and array indexes,
// creating intermediate objects when missing. Array elements are never
// appended; an out of range index fails.
func (s Snapshot) SetPath(path []string, v any) bool {
	if len(path) == 0 {
		return false
	}
	if len(path) == 1 {
		s[path[0]] = v
		return true
	}
	child, ok := s[path[0]]
	if !ok || child == nil {
		child = map[string]any{}
		s[path[0]] = child
	}
	return setIn(child, path[1:], v)
}

func setIn(node any, path []string, v any) bool {
	switch n := node.(type) {
	case map[string]any:
		if len(path) == 1 {
			n[path[0]] = v
			return true
		}
		child, ok := n[path[0]]
		if !ok || child == nil {
			child = map[string]any{}
			n[path[0]] = child
		}
		return setIn(child, path[1:], v)
	case []any:
		i, err := strconv.Atoi(path[0])
		if err != nil || i < 0 || i >= len(n) {
			return false
		}
		if len(path) == 1 {
			n[i] = v
			return true
		}
		return setIn(n[i], path[1:], v)
	default:
		return false
	}
}
