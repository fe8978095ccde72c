// Package multimap implements the case-insensitive, multi-valued map used
// for HTTP headers, form parameters and event-bus message headers.
package multimap

import (
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
)

// MultiMap keeps names in first-insertion order and compares them without
// regard to case.
type MultiMap struct {
	mu    sync.RWMutex
	order []string
	names map[string]string
	vals  map[string][]string
}

// New returns an empty map.
func New() *MultiMap {
	return &MultiMap{
		names: make(map[string]string),
		vals:  make(map[string][]string),
	}
}

// FromHeader copies an http.Header. Names are added in sorted order since
// Go maps carry no order.
func FromHeader(h http.Header) *MultiMap {
	return fromValues(h)
}

// FromValues copies parsed query or form values.
func FromValues(v url.Values) *MultiMap {
	return fromValues(v)
}

func fromValues(src map[string][]string) *MultiMap {
	m := New()
	keys := make([]string, 0, len(src))
	for k := range src {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range src[k] {
			m.Add(k, v)
		}
	}
	return m
}

func fold(name string) string {
	return strings.ToLower(name)
}

// Get returns the first value for name, or "".
func (m *MultiMap) Get(name string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	vs := m.vals[fold(name)]
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

// GetAll returns every value for name.
func (m *MultiMap) GetAll(name string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.vals[fold(name)]...)
}

func (m *MultiMap) Contains(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.vals[fold(name)]
	return ok
}

// Names returns the names as first added.
func (m *MultiMap) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.order))
	for i, k := range m.order {
		out[i] = m.names[k]
	}
	return out
}

// Add appends a value.
func (m *MultiMap) Add(name, value string) *MultiMap {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := fold(name)
	if _, ok := m.vals[k]; !ok {
		m.order = append(m.order, k)
		m.names[k] = name
	}
	m.vals[k] = append(m.vals[k], value)
	return m
}

// Set replaces all values of name.
func (m *MultiMap) Set(name, value string) *MultiMap {
	return m.SetAll(name, []string{value})
}

// SetAll replaces all values of name. An empty values removes it.
func (m *MultiMap) SetAll(name string, values []string) *MultiMap {
	if len(values) == 0 {
		m.Remove(name)
		return m
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := fold(name)
	if _, ok := m.vals[k]; !ok {
		m.order = append(m.order, k)
		m.names[k] = name
	}
	m.vals[k] = append([]string(nil), values...)
	return m
}

// AddAll copies every entry of other.
func (m *MultiMap) AddAll(other *MultiMap) *MultiMap {
	if other == nil || other == m {
		return m
	}
	other.Each(func(name, value string) {
		m.Add(name, value)
	})
	return m
}

func (m *MultiMap) Remove(name string) *MultiMap {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := fold(name)
	if _, ok := m.vals[k]; !ok {
		return m
	}
	delete(m.vals, k)
	delete(m.names, k)
	for i, o := range m.order {
		if o == k {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return m
}

func (m *MultiMap) Clear() *MultiMap {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.order = nil
	m.names = make(map[string]string)
	m.vals = make(map[string][]string)
	return m
}

// Len returns the number of distinct names.
func (m *MultiMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order)
}

func (m *MultiMap) IsEmpty() bool {
	return m.Len() == 0
}

// Each calls fn for every value in order.
func (m *MultiMap) Each(fn func(name, value string)) {
	m.mu.RLock()
	type entry struct{ name, value string }
	var entries []entry
	for _, k := range m.order {
		for _, v := range m.vals[k] {
			entries = append(entries, entry{m.names[k], v})
		}
	}
	m.mu.RUnlock()
	for _, e := range entries {
		fn(e.name, e.value)
	}
}

// Copy returns an independent map.
func (m *MultiMap) Copy() *MultiMap {
	return New().AddAll(m)
}

// Header converts to an http.Header.
func (m *MultiMap) Header() http.Header {
	h := make(http.Header, m.Len())
	m.Each(func(name, value string) {
		h.Add(name, value)
	})
	return h
}

// Values converts to url.Values.
func (m *MultiMap) Values() url.Values {
	v := make(url.Values, m.Len())
	m.Each(func(name, value string) {
		v.Add(name, value)
	})
	return v
}

func (m *MultiMap) String() string {
	var b strings.Builder
	m.Each(func(name, value string) {
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(value)
		b.WriteByte('\n')
	})
	return b.String()
}
