package overload

import (
	"strings"

	"github.com/caffeineduck/vertigo/buffer"
	"github.com/caffeineduck/vertigo/value"
)

// Predicate tests one positional argument.
type Predicate struct {
	Name   string
	Accept func(v any) bool
}

var (
	String = Predicate{"string", func(v any) bool {
		_, ok := v.(string)
		return ok
	}}

	Number = Predicate{"number", value.IsNumber}

	// Integer accepts numbers without a fractional part, so 3.0 passes.
	Integer = Predicate{"integer", value.IsInteger}

	Boolean = Predicate{"boolean", func(v any) bool {
		_, ok := v.(bool)
		return ok
	}}

	Callable = Predicate{"function", func(v any) bool {
		_, ok := value.AsCallable(v)
		return ok
	}}

	JSONObject = Predicate{"JsonObject", func(v any) bool {
		o, ok := v.(*value.JsonObject)
		return ok && o != nil
	}}

	JSONArray = Predicate{"JsonArray", func(v any) bool {
		a, ok := v.(*value.JsonArray)
		return ok && a != nil
	}}

	// List accepts plain sequences and JSON arrays.
	List = Predicate{"array", func(v any) bool {
		switch x := v.(type) {
		case []any:
			return true
		case *value.JsonArray:
			return x != nil
		}
		return false
	}}

	Buffer = Predicate{"Buffer", func(v any) bool {
		b, ok := v.(*buffer.Buffer)
		return ok && b != nil
	}}

	Failure = Predicate{"error", func(v any) bool {
		_, ok := value.ToError(v)
		return ok
	}}

	Null = Predicate{"null", func(v any) bool { return v == nil }}

	Any = Predicate{"any", func(any) bool { return true }}
)

// Handle accepts handles of one of the given kinds.
func Handle(kinds ...string) Predicate {
	return Predicate{
		Name: strings.Join(kinds, "|"),
		Accept: func(v any) bool {
			h, ok := v.(value.Kinded)
			if !ok || value.IsNil(h) {
				return false
			}
			k := h.Kind()
			for _, want := range kinds {
				if k == want {
					return true
				}
			}
			return false
		},
	}
}

// Nullable accepts nil in addition to whatever p accepts. A nil argument
// satisfies every nullable predicate, so signatures that differ only in a
// nullable slot must be declared in the intended order.
func Nullable(p Predicate) Predicate {
	return Predicate{
		Name: p.Name + "?",
		Accept: func(v any) bool {
			return v == nil || p.Accept(v)
		},
	}
}

// OneOf accepts anything one of ps accepts.
func OneOf(ps ...Predicate) Predicate {
	names := make([]string, len(ps))
	for i, p := range ps {
		names[i] = p.Name
	}
	return Predicate{
		Name: strings.Join(names, "|"),
		Accept: func(v any) bool {
			for _, p := range ps {
				if p.Accept(v) {
					return true
				}
			}
			return false
		},
	}
}

// Enum accepts strings naming one of the constants of e.
func Enum[T ~int](e *value.Enum[T]) Predicate {
	return Predicate{
		Name: e.TypeName(),
		Accept: func(v any) bool {
			s, ok := v.(string)
			return ok && e.Valid(s)
		},
	}
}
