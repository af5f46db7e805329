package merge

import (
	"reflect"
	"testing"
)

func TestDefaultsDeep(t *testing.T) {
	tests := []struct {
		name string
		dst  map[string]any
		src  map[string]any
		want map[string]any
	}{
		{
			name: "nested disjoint keys",
			dst:  map[string]any{"a": map[string]any{"b": 1}},
			src:  map[string]any{"a": map[string]any{"c": 2}},
			want: map[string]any{"a": map[string]any{"b": 1, "c": 2}},
		},
		{
			name: "existing leaf kept",
			dst:  map[string]any{"a": map[string]any{"b": 1}},
			src:  map[string]any{"a": map[string]any{"b": 2}},
			want: map[string]any{"a": map[string]any{"b": 1}},
		},
		{
			name: "leaf not replaced by tree",
			dst:  map[string]any{"a": 1},
			src:  map[string]any{"a": map[string]any{"b": 2}},
			want: map[string]any{"a": 1},
		},
		{
			name: "tree not replaced by leaf",
			dst:  map[string]any{"a": map[string]any{"b": 1}},
			src:  map[string]any{"a": 5},
			want: map[string]any{"a": map[string]any{"b": 1}},
		},
		{
			name: "nil dst",
			dst:  nil,
			src:  map[string]any{"Query": map[string]any{"users": "fn"}},
			want: map[string]any{"Query": map[string]any{"users": "fn"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DefaultsDeep(tt.dst, tt.src)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("DefaultsDeep() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDefaultsDeep_DoesNotMutate(t *testing.T) {
	dst := map[string]any{"a": map[string]any{"b": 1}}
	src := map[string]any{"a": map[string]any{"c": 2}}
	DefaultsDeep(dst, src)

	if len(dst["a"].(map[string]any)) != 1 {
		t.Errorf("dst mutated: %v", dst)
	}
	if len(src["a"].(map[string]any)) != 1 {
		t.Errorf("src mutated: %v", src)
	}
}

func TestAll(t *testing.T) {
	got := All(
		map[string]any{"Query": map[string]any{"users": "first"}},
		nil,
		map[string]any{"Query": map[string]any{"users": "second", "posts": "p"}},
		map[string]any{"Mutation": map[string]any{"add": "m"}},
	)
	want := map[string]any{
		"Query":    map[string]any{"users": "first", "posts": "p"},
		"Mutation": map[string]any{"add": "m"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("All() = %v, want %v", got, want)
	}
}
