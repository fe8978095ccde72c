package handle

import (
	"sort"
	"sync"

	"github.com/caffeineduck/vertigo/errors"
)

// WrapFunc builds the wrapper for one class.
type WrapFunc[W any] func(delegate any) W

// Registry maps type tags to wrappers. It is used where the host returns a
// polymorphic value and a tag names the concrete class.
type Registry[W any] struct {
	mu    sync.RWMutex
	wraps map[string]WrapFunc[W]
}

func NewRegistry[W any]() *Registry[W] {
	return &Registry[W]{wraps: make(map[string]WrapFunc[W])}
}

func (r *Registry[W]) Register(kind string, fn WrapFunc[W]) {
	r.mu.Lock()
	r.wraps[kind] = fn
	r.mu.Unlock()
}

// Wrap wraps delegate with the wrapper registered for kind.
func (r *Registry[W]) Wrap(kind string, delegate any) (W, error) {
	r.mu.RLock()
	fn, ok := r.wraps[kind]
	r.mu.RUnlock()
	if !ok {
		var zero W
		return zero, errors.NotFound(errors.PhaseMarshal, "wrapper for "+kind)
	}
	return fn(delegate), nil
}

// Kinds returns the registered tags, sorted.
func (r *Registry[W]) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.wraps))
	for k := range r.wraps {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Table tracks live wrappers by handle ID so they can be referenced from
// outside the process.
type Table[W any] struct {
	mu      sync.RWMutex
	entries map[string]W
}

func NewTable[W any]() *Table[W] {
	return &Table[W]{entries: make(map[string]W)}
}

func (t *Table[W]) Put(id string, w W) {
	t.mu.Lock()
	t.entries[id] = w
	t.mu.Unlock()
}

func (t *Table[W]) Get(id string) (W, bool) {
	t.mu.RLock()
	w, ok := t.entries[id]
	t.mu.RUnlock()
	return w, ok
}

// Remove drops id. It reports whether the entry existed.
func (t *Table[W]) Remove(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[id]; !ok {
		return false
	}
	delete(t.entries, id)
	return true
}

func (t *Table[W]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

func (t *Table[W]) IDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]string, 0, len(t.entries))
	for id := range t.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
