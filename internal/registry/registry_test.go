package registry

import (
	"reflect"
	"sync"
	"testing"
)

func TestRegistry_Replace(t *testing.T) {
	r := New[string]()
	if r.Load().Len() != 0 || r.Load().Generation() != 0 {
		t.Fatal("new registry should be empty at generation 0")
	}

	snap := r.Replace(map[string]string{"/api/users": "users/api.js", "/api": "api.js"})
	if snap.Generation() != 1 {
		t.Errorf("Generation() = %d, want 1", snap.Generation())
	}
	if got := snap.Keys(); !reflect.DeepEqual(got, []string{"/api", "/api/users"}) {
		t.Errorf("Keys() = %v", got)
	}

	r.Replace(map[string]string{"/api/posts": "posts/api.js"})
	if _, ok := r.Load().Get("/api/users"); ok {
		t.Error("Replace should drop entries not in the new set")
	}
	if _, ok := snap.Get("/api/users"); !ok {
		t.Error("earlier snapshot must not change")
	}
}

func TestRegistry_UpdateLastWins(t *testing.T) {
	r := New[int]()
	r.Update(func(b *Builder[int]) {
		b.Set("/api/a", 1)
		b.Set("/api/a", 2)
	})
	if v, _ := r.Load().Get("/api/a"); v != 2 {
		t.Errorf("Get() = %d, want 2", v)
	}

	r.Update(func(b *Builder[int]) { b.Delete("/api/a") })
	if r.Load().Len() != 0 {
		t.Error("Delete should remove the entry")
	}
}

func TestRegistry_Range(t *testing.T) {
	r := New[int]()
	r.Replace(map[string]int{"c": 3, "a": 1, "b": 2})

	var keys []string
	r.Load().Range(func(k string, _ int) bool {
		keys = append(keys, k)
		return k != "b"
	})
	if !reflect.DeepEqual(keys, []string{"a", "b"}) {
		t.Errorf("Range visited %v", keys)
	}
}

func TestRegistry_ConcurrentReaders(t *testing.T) {
	r := New[int]()
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= 100; i++ {
			n := i
			r.Update(func(b *Builder[int]) {
				b.Reset()
				for j := 0; j < n; j++ {
					b.Set(string(rune('a'+j%26))+string(rune('0'+j/26)), n)
				}
			})
		}
	}()

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				snap := r.Load()
				gen := int(snap.Generation())
				snap.Range(func(_ string, v int) bool {
					if v != gen {
						t.Errorf("mixed generations: entry %d in generation %d", v, gen)
						return false
					}
					return true
				})
			}
		}()
	}
	wg.Wait()
}
