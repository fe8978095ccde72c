package future

import (
	"sync/atomic"

	"github.com/caffeineduck/vertigo/value"
)

// Callback adapts a caller continuation to a completion handler. The
// continuation is invoked at most once, as (value, nil) on success or
// (nil, failure) on failure. marshal converts the host value before it is
// handed over; a nil marshal uses value.ToCaller. A nil cb yields a handler
// that discards the result.
func Callback[T any](cb value.Callable, marshal func(T) any) func(Result[T]) {
	if cb == nil {
		return func(Result[T]) {}
	}
	if marshal == nil {
		marshal = func(v T) any { return value.ToCaller(v) }
	}
	var fired atomic.Bool
	return func(r Result[T]) {
		if !fired.CompareAndSwap(false, true) {
			return
		}
		if r.Failed() {
			cb(nil, value.FromError(r.err))
			return
		}
		cb(marshal(r.val), nil)
	}
}

// Notify attaches cb to f through Callback.
func Notify[T any](f *Future[T], cb value.Callable, marshal func(T) any) {
	if f == nil || cb == nil {
		return
	}
	f.OnComplete(Callback(cb, marshal))
}

// Promisify builds a promise whose outcome is reported to cb. It is the
// usual shape for host operations that complete through a callback.
func Promisify[T any](d Dispatcher, cb value.Callable, marshal func(T) any) *Promise[T] {
	p := NewPromise[T](d)
	Notify(p.f, cb, marshal)
	return p
}
