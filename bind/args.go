package bind

import (
	"strconv"
	"time"

	"github.com/caffeineduck/vertigo/buffer"
	"github.com/caffeineduck/vertigo/errors"
	"github.com/caffeineduck/vertigo/future"
	"github.com/caffeineduck/vertigo/handle"
	"github.com/caffeineduck/vertigo/multimap"
	"github.com/caffeineduck/vertigo/overload"
	"github.com/caffeineduck/vertigo/value"
)

// Predicates shared by the class tables. Arguments have been checked
// against them before the helpers below convert them, so conversions that
// cannot fail ignore the ok result.
var (
	// bufferArg accepts raw buffers and Buffer objects.
	bufferArg = overload.Predicate{Name: "Buffer", Accept: func(v any) bool {
		return bufferOf(v) != nil
	}}

	handler      = overload.Nullable(overload.Callable)
	callback     = overload.Callable
	multiMapArg  = overload.Handle(KindMultiMap)
	optionsArg   = overload.JSONObject
	bodyArg      = overload.Any
	stringOrList = overload.OneOf(overload.String, overload.List)
)

func bufferOf(v any) *buffer.Buffer {
	switch x := v.(type) {
	case *buffer.Buffer:
		return x
	case *Object:
		if x == nil {
			return nil
		}
		b, _ := x.Delegate().(*buffer.Buffer)
		return b
	}
	return nil
}

func as[T any](o *Object) T {
	return o.Delegate().(T)
}

func str(args []any, i int) string {
	s, _ := args[i].(string)
	return s
}

func integer(args []any, i int) int {
	n, _ := value.ToInt64(args[i])
	return int(n)
}

func long(args []any, i int) int64 {
	n, _ := value.ToInt64(args[i])
	return n
}

func float(args []any, i int) float64 {
	f, _ := value.ToFloat64(args[i])
	return f
}

func boolean(args []any, i int) bool {
	b, _ := args[i].(bool)
	return b
}

// millis reads a duration given in milliseconds.
func millis(args []any, i int) time.Duration {
	return time.Duration(long(args, i)) * time.Millisecond
}

func fn(args []any, i int) value.Callable {
	cb, _ := value.AsCallable(args[i])
	return cb
}

// last is the trailing completion callable of an asynchronous call.
func last(args []any) value.Callable {
	return fn(args, len(args)-1)
}

func buf(args []any, i int) *buffer.Buffer {
	return bufferOf(args[i])
}

func jsonObject(args []any, i int) *value.JsonObject {
	o, _ := args[i].(*value.JsonObject)
	return o
}

func multiMap(args []any, i int) (*multimap.MultiMap, error) {
	if args[i] == nil {
		return nil, nil
	}
	return handle.Unwrap[*multimap.MultiMap](args[i])
}

func stringList(args []any, i int) ([]string, error) {
	if s, ok := args[i].(string); ok {
		return []string{s}, nil
	}
	list, ok := value.ToStrings(args[i])
	if !ok {
		return nil, errors.TypeMismatch(errors.PhaseMarshal, []string{"arg" + strconv.Itoa(i)},
			"array of string", value.TypeOf(args[i]))
	}
	return list, nil
}

// The handler adapters deliver host events to caller callables. A nil
// callable yields a nil host handler, which detaches.

func handler0(cb value.Callable) func() {
	if cb == nil {
		return nil
	}
	return func() { cb() }
}

func handlerOf[T any](cb value.Callable, marshal func(T) any) func(T) {
	if cb == nil {
		return nil
	}
	return func(v T) { cb(marshal(v)) }
}

func errorHandler(cb value.Callable) func(error) {
	if cb == nil {
		return nil
	}
	return func(err error) { cb(value.FromError(err)) }
}

// notify reports f to the trailing callable of args.
func notify[T any](args []any, f *future.Future[T], marshal func(T) any) {
	future.Notify(f, last(args), marshal)
}

// Marshal functions for results without a handle type.

func void(struct{}) any { return nil }

func same[T any](v T) any { return value.ToCaller(v) }
