package value

import (
	"github.com/caffeineduck/vertigo/errors"
)

// Enum maps a closed set of host constants to the names callers use. The
// constant with value i is named names[i].
type Enum[T ~int] struct {
	typeName string
	names    []string
	index    map[string]T
}

// NewEnum declares an enumeration. Names must be unique.
func NewEnum[T ~int](typeName string, names ...string) *Enum[T] {
	e := &Enum[T]{
		typeName: typeName,
		names:    names,
		index:    make(map[string]T, len(names)),
	}
	for i, n := range names {
		if _, dup := e.index[n]; dup {
			panic("value: duplicate enum name " + typeName + "." + n)
		}
		e.index[n] = T(i)
	}
	return e
}

// Parse returns the constant with exactly this name. Matching is case
// sensitive; an unknown name is a binding error.
func (e *Enum[T]) Parse(name string) (T, error) {
	v, ok := e.index[name]
	if !ok {
		return 0, errors.InvalidEnum(name, e.typeName)
	}
	return v, nil
}

// ParseValue parses a caller value, which must be a string.
func (e *Enum[T]) ParseValue(v any) (T, error) {
	s, ok := v.(string)
	if !ok {
		return 0, errors.InvalidEnum(v, e.typeName)
	}
	return e.Parse(s)
}

// Name returns the name of v, or "" when v is out of range.
func (e *Enum[T]) Name(v T) string {
	if int(v) < 0 || int(v) >= len(e.names) {
		return ""
	}
	return e.names[v]
}

// Valid reports whether name belongs to the enumeration.
func (e *Enum[T]) Valid(name string) bool {
	_, ok := e.index[name]
	return ok
}

// Names returns the names in declaration order.
func (e *Enum[T]) Names() []string {
	return append([]string(nil), e.names...)
}

func (e *Enum[T]) TypeName() string {
	return e.typeName
}
