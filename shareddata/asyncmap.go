package shareddata

import (
	"sort"
	"sync"
	"time"

	"github.com/caffeineduck/vertigo/buffer"
	"github.com/caffeineduck/vertigo/errors"
	"github.com/caffeineduck/vertigo/future"
	"github.com/caffeineduck/vertigo/value"
)

type entry struct {
	val   any
	gen   uint64
	timer *time.Timer
}

type store struct {
	cfg MapConfig

	mu      sync.Mutex
	entries map[string]*entry
	gen     uint64
}

func newStore(cfg MapConfig) *store {
	return &store{cfg: cfg, entries: make(map[string]*entry)}
}

// AsyncMap is a named map shared by every context. Values are copied on
// the way in and out so no two callers share mutable state.
type AsyncMap struct {
	sd   *SharedData
	name string
	s    *store
}

func (m *AsyncMap) Name() string {
	return m.name
}

func run[T any](m *AsyncMap, fn func(s *store) (T, error)) *future.Future[T] {
	return completeLater(m.sd.group.OrCreate(), func() (T, error) {
		m.s.mu.Lock()
		defer m.s.mu.Unlock()
		return fn(m.s)
	})
}

// Get returns the value for k, or nil.
func (m *AsyncMap) Get(k string) *future.Future[any] {
	return run(m, func(s *store) (any, error) {
		if e, ok := s.entries[k]; ok {
			return copyValue(e.val), nil
		}
		return nil, nil
	})
}

// Put stores v under k.
func (m *AsyncMap) Put(k string, v any) *future.Future[struct{}] {
	return m.PutTTL(k, v, 0)
}

// PutTTL stores v under k and removes it after ttl. A zero ttl never
// expires.
func (m *AsyncMap) PutTTL(k string, v any, ttl time.Duration) *future.Future[struct{}] {
	return run(m, func(s *store) (struct{}, error) {
		if err := s.check(k, v, !s.has(k)); err != nil {
			return struct{}{}, err
		}
		s.set(k, v, ttl)
		return struct{}{}, nil
	})
}

// PutIfAbsent stores v only when k is missing and returns the existing
// value otherwise.
func (m *AsyncMap) PutIfAbsent(k string, v any) *future.Future[any] {
	return m.PutIfAbsentTTL(k, v, 0)
}

func (m *AsyncMap) PutIfAbsentTTL(k string, v any, ttl time.Duration) *future.Future[any] {
	return run(m, func(s *store) (any, error) {
		if e, ok := s.entries[k]; ok {
			return copyValue(e.val), nil
		}
		if err := s.check(k, v, true); err != nil {
			return nil, err
		}
		s.set(k, v, ttl)
		return nil, nil
	})
}

// Remove deletes k and returns its previous value.
func (m *AsyncMap) Remove(k string) *future.Future[any] {
	return run(m, func(s *store) (any, error) {
		e, ok := s.entries[k]
		if !ok {
			return nil, nil
		}
		s.delete(k)
		return e.val, nil
	})
}

// RemoveIfPresent deletes k only when it currently holds v.
func (m *AsyncMap) RemoveIfPresent(k string, v any) *future.Future[bool] {
	return run(m, func(s *store) (bool, error) {
		e, ok := s.entries[k]
		if !ok || !value.Equal(e.val, v) {
			return false, nil
		}
		s.delete(k)
		return true, nil
	})
}

// Replace stores v only when k exists and returns the previous value.
func (m *AsyncMap) Replace(k string, v any) *future.Future[any] {
	return run(m, func(s *store) (any, error) {
		e, ok := s.entries[k]
		if !ok {
			return nil, nil
		}
		if err := s.check(k, v, false); err != nil {
			return nil, err
		}
		prev := e.val
		s.set(k, v, 0)
		return prev, nil
	})
}

// ReplaceIfPresent stores newValue only when k currently holds oldValue.
func (m *AsyncMap) ReplaceIfPresent(k string, oldValue, newValue any) *future.Future[bool] {
	return run(m, func(s *store) (bool, error) {
		e, ok := s.entries[k]
		if !ok || !value.Equal(e.val, oldValue) {
			return false, nil
		}
		if err := s.check(k, newValue, false); err != nil {
			return false, err
		}
		s.set(k, newValue, 0)
		return true, nil
	})
}

func (m *AsyncMap) Clear() *future.Future[struct{}] {
	return run(m, func(s *store) (struct{}, error) {
		for k := range s.entries {
			s.delete(k)
		}
		return struct{}{}, nil
	})
}

func (m *AsyncMap) Size() *future.Future[int] {
	return run(m, func(s *store) (int, error) {
		return len(s.entries), nil
	})
}

// Keys returns the keys in sorted order.
func (m *AsyncMap) Keys() *future.Future[[]string] {
	return run(m, func(s *store) ([]string, error) {
		keys := make([]string, 0, len(s.entries))
		for k := range s.entries {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return keys, nil
	})
}

// Values returns copies of the values, ordered by key.
func (m *AsyncMap) Values() *future.Future[[]any] {
	return run(m, func(s *store) ([]any, error) {
		keys := make([]string, 0, len(s.entries))
		for k := range s.entries {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		vals := make([]any, len(keys))
		for i, k := range keys {
			vals[i] = copyValue(s.entries[k].val)
		}
		return vals, nil
	})
}

func (s *store) has(k string) bool {
	_, ok := s.entries[k]
	return ok
}

func (s *store) check(k string, v any, adding bool) error {
	if s.cfg.MaxKeySize > 0 && len(k) > s.cfg.MaxKeySize {
		return errors.LimitExceeded(errors.PhaseOperation, "key size", int64(s.cfg.MaxKeySize))
	}
	if s.cfg.MaxValueSize > 0 && sizeOf(v) > s.cfg.MaxValueSize {
		return errors.LimitExceeded(errors.PhaseOperation, "value size", int64(s.cfg.MaxValueSize))
	}
	if adding && s.cfg.MaxEntries > 0 && len(s.entries) >= s.cfg.MaxEntries {
		return errors.LimitExceeded(errors.PhaseOperation, "entry count", int64(s.cfg.MaxEntries))
	}
	return nil
}

func (s *store) set(k string, v any, ttl time.Duration) {
	if old, ok := s.entries[k]; ok && old.timer != nil {
		old.timer.Stop()
	}
	s.gen++
	e := &entry{val: copyValue(v), gen: s.gen}
	s.entries[k] = e
	if ttl > 0 {
		gen := e.gen
		e.timer = time.AfterFunc(ttl, func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if cur, ok := s.entries[k]; ok && cur.gen == gen {
				delete(s.entries, k)
			}
		})
	}
}

func (s *store) delete(k string) {
	if e, ok := s.entries[k]; ok {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(s.entries, k)
	}
}

func copyValue(v any) any {
	switch x := v.(type) {
	case *value.JsonObject:
		return x.Copy()
	case *value.JsonArray:
		return x.Copy()
	case *buffer.Buffer:
		return x.Copy()
	}
	return v
}

func sizeOf(v any) int {
	switch x := v.(type) {
	case string:
		return len(x)
	case *buffer.Buffer:
		return x.Len()
	case *value.JsonObject:
		return len(x.Encode())
	case *value.JsonArray:
		return len(x.Encode())
	}
	return 8
}
