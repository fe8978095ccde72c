// Package handle provides the caller-facing wrapper around a host object.
//
// A Handle pairs an identity with exactly one non-nil delegate for its whole
// lifetime. Accessors for singular sub-resources (the headers of a request,
// the local address of a socket) go through Child, which materializes the
// wrapper once and returns the same instance on every later call.
package handle

import (
	"reflect"
	"sync"

	"github.com/caffeineduck/vertigo/errors"
	"github.com/caffeineduck/vertigo/value"
	"github.com/google/uuid"
)

// Handle is the identity of one wrapped host object.
type Handle struct {
	kind     string
	id       string
	delegate any

	mu       sync.Mutex
	children map[string]any
}

// New wraps delegate. It panics when delegate is nil, including typed nil
// pointers, since an empty handle is never observable.
func New(kind string, delegate any) *Handle {
	if isNil(delegate) {
		panic("handle: nil delegate for " + kind)
	}
	return &Handle{
		kind:     kind,
		id:       uuid.NewString(),
		delegate: delegate,
	}
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// Kind returns the class name of the wrapped object.
func (h *Handle) Kind() string {
	return h.kind
}

// ID returns a unique identifier for the handle.
func (h *Handle) ID() string {
	return h.id
}

// Delegate returns the wrapped host object.
func (h *Handle) Delegate() any {
	return h.delegate
}

// Child returns the memoized child named name, creating it with create on
// first access. Entries are never evicted. create may itself call Child.
func (h *Handle) Child(name string, create func() any) any {
	h.mu.Lock()
	if c, ok := h.children[name]; ok {
		h.mu.Unlock()
		return c
	}
	h.mu.Unlock()

	c := create()

	h.mu.Lock()
	defer h.mu.Unlock()
	if existing, ok := h.children[name]; ok {
		return existing
	}
	if h.children == nil {
		h.children = make(map[string]any)
	}
	h.children[name] = c
	return c
}

// HasChild reports whether name has been materialized.
func (h *Handle) HasChild(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.children[name]
	return ok
}

// ChildOf is the typed form of Child.
func ChildOf[T any](h *Handle, name string, create func() T) T {
	return h.Child(name, func() any { return create() }).(T)
}

// Delegator is implemented by anything carrying a delegate.
type Delegator interface {
	Delegate() any
}

// Unwrap returns the delegate of a caller-supplied handle as T. Anything
// else is a marshal error.
func Unwrap[T any](v any) (T, error) {
	var zero T
	d, ok := v.(Delegator)
	if !ok || isNil(d) {
		return zero, errors.TypeMismatch(errors.PhaseMarshal, []string{"handle"},
			reflect.TypeFor[T]().String(), value.TypeOf(v))
	}
	t, ok := d.Delegate().(T)
	if !ok {
		return zero, errors.TypeMismatch(errors.PhaseMarshal, []string{"handle"},
			reflect.TypeFor[T]().String(), value.TypeOf(v))
	}
	return t, nil
}
