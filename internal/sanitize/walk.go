package sanitize

import (
	"sort"

	"secure.mail/internal/models"
)

// normalize deep-copies v into plain map[string]any / []any values so the
// passes below never mutate caller data.
func normalize(v any) any {
	switch t := v.(type) {
	case models.Envelope:
		return normalize(map[string]any(t))
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = val
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = val
		}
		return out
	default:
		return v
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

// dropFields removes every key matching match at any depth and returns
// the removed paths in a stable order.
func dropFields(v any, path string, match func(string) bool) []string {
	var removed []string
	switch t := v.(type) {
	case map[string]any:
		for _, k := range sortedKeys(t) {
			p := join(path, k)
			if match(k) {
				delete(t, k)
				removed = append(removed, p)
				continue
			}
			removed = append(removed, dropFields(t[k], p, match)...)
		}
	case []any:
		for _, item := range t {
			removed = append(removed, dropFields(item, path+"[]", match)...)
		}
	}
	return removed
}

// rewriteStrings applies fn to every string leaf and returns the paths
// whose value changed.
func rewriteStrings(v any, path string, fn func(string) string) (any, []string) {
	switch t := v.(type) {
	case string:
		out := fn(t)
		if out != t {
			return out, []string{path}
		}
		return t, nil
	case map[string]any:
		var changed []string
		for _, k := range sortedKeys(t) {
			var c []string
			t[k], c = rewriteStrings(t[k], join(path, k), fn)
			changed = append(changed, c...)
		}
		return t, changed
	case []any:
		var changed []string
		for i := range t {
			var c []string
			t[i], c = rewriteStrings(t[i], path+"[]", fn)
			changed = append(changed, c...)
		}
		return t, changed
	default:
		return v, nil
	}
}
