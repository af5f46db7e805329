package jsrt

import (
	"github.com/dop251/goja"
)

// ToTree converts a plain JavaScript object into a map tree. Nested plain
// objects become nested maps; functions, arrays, class instances and
// primitives stay as goja.Value leaves. Non-objects yield nil.
func ToTree(v goja.Value) map[string]any {
	obj, ok := v.(*goja.Object)
	if !ok || !isPlain(obj) {
		return nil
	}
	return objectTree(obj, map[*goja.Object]bool{})
}

func objectTree(obj *goja.Object, seen map[*goja.Object]bool) map[string]any {
	seen[obj] = true
	out := make(map[string]any)
	for _, key := range obj.Keys() {
		val := obj.Get(key)
		if child, ok := val.(*goja.Object); ok && isPlain(child) && !seen[child] {
			out[key] = objectTree(child, seen)
			continue
		}
		out[key] = val
	}
	return out
}

func isPlain(obj *goja.Object) bool {
	if _, isFn := goja.AssertFunction(obj); isFn {
		return false
	}
	return obj.ClassName() == "Object"
}

// FromTree rebuilds a JavaScript object from a map tree. Only valid inside Do.
func (vm *VM) FromTree(tree map[string]any) *goja.Object {
	obj := vm.rt.NewObject()
	for k, v := range tree {
		switch val := v.(type) {
		case map[string]any:
			obj.Set(k, vm.FromTree(val))
		case goja.Value:
			obj.Set(k, val)
		default:
			obj.Set(k, vm.rt.ToValue(val))
		}
	}
	return obj
}

// Lookup walks tree along keys and returns the leaf found there.
func Lookup(tree map[string]any, keys ...string) (goja.Value, bool) {
	var cur any = tree
	for _, k := range keys {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[k]; !ok {
			return nil, false
		}
	}
	v, ok := cur.(goja.Value)
	return v, ok
}
