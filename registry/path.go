package registry

import "strings"

// splitPath breaks a dotted path into keys. A backslash escapes a dot,
// so `a\.b.c` addresses key "a.b" and then "c".
func splitPath(path string) []string {
	if path == "" {
		return nil
	}

	var (
		keys []string
		cur  strings.Builder
	)
	for i := 0; i < len(path); i++ {
		c := path[i]
		if c == '\\' && i+1 < len(path) && path[i+1] == '.' {
			cur.WriteByte('.')
			i++
			continue
		}
		if c == '.' {
			keys = append(keys, cur.String())
			cur.Reset()
			continue
		}
		cur.WriteByte(c)
	}

	return append(keys, cur.String())
}

func getPath(root map[string]interface{}, keys []string) (interface{}, bool) {
	if len(keys) == 0 {
		return nil, false
	}

	node := root
	for i, key := range keys {
		v, ok := node[key]
		if !ok {
			return nil, false
		}
		if i == len(keys)-1 {
			return v, true
		}
		next, ok := v.(map[string]interface{})
		if !ok {
			return nil, false
		}
		node = next
	}
	return nil, false
}

// parentOf walks to the map holding the last key. Missing or scalar
// intermediates are replaced by empty maps when create is set.
func parentOf(root map[string]interface{}, keys []string, create bool) map[string]interface{} {
	node := root
	for _, key := range keys[:len(keys)-1] {
		next, ok := node[key].(map[string]interface{})
		if !ok {
			if !create {
				return nil
			}
			next = map[string]interface{}{}
			node[key] = next
		}
		node = next
	}
	return node
}

func setPath(root map[string]interface{}, keys []string, value interface{}, overwrite bool) {
	if len(keys) == 0 {
		return
	}

	parent := parentOf(root, keys, true)
	last := keys[len(keys)-1]

	if !overwrite {
		dst, dstOK := parent[last].(map[string]interface{})
		src, srcOK := value.(map[string]interface{})
		if dstOK && srcOK {
			merge(dst, src)
			return
		}
	}

	parent[last] = clone(value)
}

func deletePath(root map[string]interface{}, keys []string) bool {
	if len(keys) == 0 {
		return false
	}

	parent := parentOf(root, keys, false)
	if parent == nil {
		return false
	}

	last := keys[len(keys)-1]
	if _, ok := parent[last]; !ok {
		return false
	}
	delete(parent, last)
	return true
}

// merge deep-merges src into dst. Nested maps are merged key by key,
// everything else in src replaces the value in dst.
func merge(dst, src map[string]interface{}) {
	for key, v := range src {
		if srcMap, ok := v.(map[string]interface{}); ok {
			if dstMap, ok := dst[key].(map[string]interface{}); ok {
				merge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = clone(v)
	}
}

// clone copies the map and slice skeleton of a value. Leaves, pointers
// included, are shared.
func clone(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = clone(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = clone(item)
		}
		return out
	default:
		return v
	}
}
