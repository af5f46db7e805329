// Package merge implements deep-default-merge over plain object trees.
//
// Trees are map[string]any values whose nested maps are themselves trees;
// anything else (JS functions, numbers, slices) is an opaque leaf.
package merge

// DefaultsDeep returns a new tree holding every key of dst, plus the keys
// of src that dst lacks. When both sides hold a tree under the same key the
// merge recurses. Leaves already present in dst are never replaced.
func DefaultsDeep(dst, src map[string]any) map[string]any {
	out := make(map[string]any, len(dst)+len(src))
	for k, v := range dst {
		out[k] = clone(v)
	}
	for k, sv := range src {
		dv, ok := out[k]
		if !ok {
			out[k] = clone(sv)
			continue
		}
		dm, dok := dv.(map[string]any)
		sm, sok := sv.(map[string]any)
		if dok && sok {
			out[k] = DefaultsDeep(dm, sm)
		}
	}
	return out
}

// All folds trees left to right with DefaultsDeep: earlier trees win.
func All(trees ...map[string]any) map[string]any {
	out := map[string]any{}
	for _, t := range trees {
		if t == nil {
			continue
		}
		out = DefaultsDeep(out, t)
	}
	return out
}

func clone(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	out := make(map[string]any, len(m))
	for k, vv := range m {
		out[k] = clone(vv)
	}
	return out
}
