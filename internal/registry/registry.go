// Package registry holds the route and artifact tables shared between the
// watcher (single writer) and request handling (many readers).
//
// Every update builds a complete new Snapshot and publishes it atomically.
// Readers holding a Snapshot keep seeing that generation for as long as they
// hold it; a Snapshot is never modified after publication.
package registry

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Snapshot is one immutable generation of the table.
type Snapshot[T any] struct {
	generation uint64
	entries    map[string]T
}

// Generation increases by one for every published snapshot.
func (s *Snapshot[T]) Generation() uint64 {
	return s.generation
}

// Get returns the entry registered under key.
func (s *Snapshot[T]) Get(key string) (T, bool) {
	v, ok := s.entries[key]
	return v, ok
}

// Len returns the number of entries.
func (s *Snapshot[T]) Len() int {
	return len(s.entries)
}

// Keys returns every key in lexical order.
func (s *Snapshot[T]) Keys() []string {
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Range calls fn for every entry in key order until fn returns false.
func (s *Snapshot[T]) Range(fn func(key string, v T) bool) {
	for _, k := range s.Keys() {
		if !fn(k, s.entries[k]) {
			return
		}
	}
}

// Builder accumulates the next generation.
type Builder[T any] struct {
	entries map[string]T
}

// Set registers v under key, replacing any earlier registration.
func (b *Builder[T]) Set(key string, v T) {
	b.entries[key] = v
}

// Delete removes key.
func (b *Builder[T]) Delete(key string) {
	delete(b.entries, key)
}

// Reset drops every entry.
func (b *Builder[T]) Reset() {
	b.entries = make(map[string]T)
}

// Registry publishes snapshots.
type Registry[T any] struct {
	mu      sync.Mutex // serializes writers
	current atomic.Pointer[Snapshot[T]]
}

// New returns a registry holding an empty generation zero.
func New[T any]() *Registry[T] {
	r := &Registry[T]{}
	r.current.Store(&Snapshot[T]{entries: map[string]T{}})
	return r
}

// Load returns the current snapshot.
func (r *Registry[T]) Load() *Snapshot[T] {
	return r.current.Load()
}

// Replace publishes a generation containing exactly entries.
func (r *Registry[T]) Replace(entries map[string]T) *Snapshot[T] {
	return r.Update(func(b *Builder[T]) {
		b.Reset()
		for k, v := range entries {
			b.Set(k, v)
		}
	})
}

// Update publishes a generation derived from the current one by fn.
func (r *Registry[T]) Update(fn func(b *Builder[T])) *Snapshot[T] {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.current.Load()
	b := &Builder[T]{entries: make(map[string]T, len(prev.entries))}
	for k, v := range prev.entries {
		b.entries[k] = v
	}
	fn(b)

	next := &Snapshot[T]{generation: prev.generation + 1, entries: b.entries}
	r.current.Store(next)
	return next
}
