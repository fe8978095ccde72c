// Package value defines the caller-side value universe and the conversions
// between it and host values.
//
// A caller value is one of:
//
//	nil, bool, string, a Go number
//	Callable                      a caller-supplied function
//	*buffer.Buffer                bytes
//	*JsonObject, *JsonArray       structured data with ordered keys
//	[]any                         an ordered sequence of caller values
//	a handle                      anything with a Kind() string method
//	*Failure                      an error value
//
// Enumerations cross the boundary as plain strings (see [Enum]).
package value

import (
	"fmt"
	"math"
	"reflect"

	"github.com/caffeineduck/vertigo/buffer"
)

// Callable is a function supplied by the caller. Asynchronous results are
// delivered to it as (value, error) with exactly one of the two non-nil.
type Callable func(args ...any)

// AsCallable reports whether v can be invoked as a Callable.
func AsCallable(v any) (Callable, bool) {
	switch f := v.(type) {
	case Callable:
		return f, f != nil
	case func(...any):
		return Callable(f), f != nil
	}
	return nil, false
}

// Kinded is implemented by handles.
type Kinded interface {
	Kind() string
}

// IsNil reports whether v is nil or a nil pointer, map, slice, func or
// channel held in an interface.
func IsNil(v any) bool {
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

// TypeOf returns the caller-visible type name of v.
func TypeOf(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case Callable, func(...any):
		return "function"
	case *buffer.Buffer:
		return "Buffer"
	case *JsonObject:
		return "JsonObject"
	case *JsonArray:
		return "JsonArray"
	case []any:
		return "array"
	case *Failure:
		return "error"
	case Kinded:
		if IsNil(x) {
			return "null"
		}
		return x.Kind()
	}
	if IsNumber(v) {
		return "number"
	}
	return fmt.Sprintf("%T", v)
}

// IsNumber reports whether v is any Go numeric type.
func IsNumber(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	}
	return false
}

// IsInteger reports whether v is a number with no fractional part that fits
// in an int64.
func IsInteger(v any) bool {
	_, ok := ToInt64(v)
	return ok
}

// ToInt64 converts an integral number to int64.
func ToInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), uint64(n) <= math.MaxInt64
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), n <= math.MaxInt64
	case float32:
		return floatToInt(float64(n))
	case float64:
		return floatToInt(n)
	}
	return 0, false
}

func floatToInt(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

// ToFloat64 converts any number to float64.
func ToFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	if i, ok := ToInt64(v); ok {
		return float64(i), true
	}
	if u, ok := v.(uint64); ok {
		return float64(u), true
	}
	if u, ok := v.(uint); ok {
		return float64(u), true
	}
	return 0, false
}

// normalizeNumber maps integer kinds to int64 and float32 to float64.
func normalizeNumber(v any) any {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	}
	if i, ok := ToInt64(v); ok {
		return i
	}
	if f, ok := ToFloat64(v); ok {
		return f
	}
	return v
}

// ToCaller converts a host value into the caller value universe. Sequences
// and maps are converted element-wise; maps with string keys become
// JsonObjects with sorted keys since Go maps carry no order.
func ToCaller(v any) any {
	switch x := v.(type) {
	case nil, bool, string, *buffer.Buffer, *JsonObject, *JsonArray, Callable, *Failure:
		return x
	case []byte:
		return buffer.FromBytes(x)
	case error:
		return FromError(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = ToCaller(e)
		}
		return out
	case []string:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = e
		}
		return out
	case map[string]any:
		return objectFromMap(x)
	case Kinded:
		if IsNil(x) {
			return nil
		}
		return x
	}
	if IsNumber(v) {
		return normalizeNumber(v)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = ToCaller(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		if rv.Type().Key().Kind() == reflect.String {
			m := make(map[string]any, rv.Len())
			iter := rv.MapRange()
			for iter.Next() {
				m[iter.Key().String()] = iter.Value().Interface()
			}
			return objectFromMap(m)
		}
	}
	return v
}

// FromSet converts a set into a caller sequence. The order of the result is
// not meaningful.
func FromSet[T comparable](set map[T]struct{}) []any {
	out := make([]any, 0, len(set))
	for k := range set {
		out = append(out, ToCaller(k))
	}
	return out
}

// FromSlice converts a host slice element-wise.
func FromSlice[T any](s []T, conv func(T) any) []any {
	out := make([]any, len(s))
	for i, e := range s {
		out[i] = conv(e)
	}
	return out
}

// ToSlice converts a caller sequence ([]any or *JsonArray) element-wise.
func ToSlice[T any](v any, conv func(any) (T, bool)) ([]T, bool) {
	var items []any
	switch x := v.(type) {
	case []any:
		items = x
	case *JsonArray:
		items = x.items
	case nil:
		return nil, true
	default:
		return nil, false
	}
	out := make([]T, len(items))
	for i, e := range items {
		t, ok := conv(e)
		if !ok {
			return nil, false
		}
		out[i] = t
	}
	return out, true
}

// ToStrings converts a caller sequence of strings.
func ToStrings(v any) ([]string, bool) {
	return ToSlice(v, func(e any) (string, bool) {
		s, ok := e.(string)
		return s, ok
	})
}
