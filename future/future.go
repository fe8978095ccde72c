// Package future implements pending completions: a Promise is completed
// exactly once with either a value or a failure, and the matching Future
// delivers that outcome to its handlers.
//
// Handlers attached after completion run immediately, on the calling
// goroutine. Handlers attached before completion run when the promise is
// completed, through the Dispatcher the promise was created with, so they
// land on the event-loop context that owns the operation.
package future

import (
	"context"
	"sync"

	"github.com/caffeineduck/vertigo/value"
)

// Result is the outcome of a completion: a value or a failure, never both.
type Result[T any] struct {
	val T
	err error
}

// Succeeded returns a successful result.
func Succeeded[T any](v T) Result[T] {
	return Result[T]{val: v}
}

// Failed returns a failed result. A nil error is replaced by a generic
// failure so the result is never ambiguous.
func Failed[T any](err error) Result[T] {
	if err == nil {
		err = value.NewFailure("failed")
	}
	return Result[T]{err: err}
}

func (r Result[T]) Value() T {
	return r.val
}

func (r Result[T]) Err() error {
	return r.err
}

func (r Result[T]) Failed() bool {
	return r.err != nil
}

// Get returns the value and error as a pair.
func (r Result[T]) Get() (T, error) {
	return r.val, r.err
}

// Dispatcher schedules a function, usually onto an event-loop context.
type Dispatcher interface {
	Dispatch(fn func())
}

// DispatchFunc adapts a function to Dispatcher.
type DispatchFunc func(fn func())

func (f DispatchFunc) Dispatch(fn func()) {
	f(fn)
}

// Future is the read side of a pending completion.
type Future[T any] struct {
	mu       sync.Mutex
	done     chan struct{}
	result   Result[T]
	complete bool
	handlers []func(Result[T])
	disp     Dispatcher
}

// Promise is the write side of a pending completion.
type Promise[T any] struct {
	f *Future[T]
}

// NewPromise creates a pending completion whose handlers are dispatched
// through d. A nil d runs handlers on the completing goroutine.
func NewPromise[T any](d Dispatcher) *Promise[T] {
	return &Promise[T]{f: &Future[T]{done: make(chan struct{}), disp: d}}
}

// Future returns the read side.
func (p *Promise[T]) Future() *Future[T] {
	return p.f
}

// Complete succeeds the promise. It reports false if it was already
// completed, in which case v is discarded.
func (p *Promise[T]) Complete(v T) bool {
	return p.f.resolve(Succeeded(v))
}

// Fail fails the promise. It reports false if it was already completed.
func (p *Promise[T]) Fail(err error) bool {
	return p.f.resolve(Failed[T](err))
}

// Resolve completes the promise with r.
func (p *Promise[T]) Resolve(r Result[T]) bool {
	return p.f.resolve(r)
}

// Handle completes the promise from a (value, error) pair.
func (p *Promise[T]) Handle(v T, err error) bool {
	if err != nil {
		return p.Fail(err)
	}
	return p.Complete(v)
}

func (f *Future[T]) resolve(r Result[T]) bool {
	f.mu.Lock()
	if f.complete {
		f.mu.Unlock()
		return false
	}
	f.complete = true
	f.result = r
	handlers := f.handlers
	f.handlers = nil
	close(f.done)
	f.mu.Unlock()

	if len(handlers) == 0 {
		return true
	}
	run := func() {
		for _, h := range handlers {
			h(r)
		}
	}
	if f.disp != nil {
		f.disp.Dispatch(run)
	} else {
		run()
	}
	return true
}

// SucceededFuture returns an already successful future.
func SucceededFuture[T any](v T) *Future[T] {
	p := NewPromise[T](nil)
	p.Complete(v)
	return p.f
}

// FailedFuture returns an already failed future.
func FailedFuture[T any](err error) *Future[T] {
	p := NewPromise[T](nil)
	p.Fail(err)
	return p.f
}

// OnComplete attaches h. If the future is already complete h runs before
// OnComplete returns; otherwise it runs when the promise is completed.
func (f *Future[T]) OnComplete(h func(Result[T])) *Future[T] {
	f.mu.Lock()
	if !f.complete {
		f.handlers = append(f.handlers, h)
		f.mu.Unlock()
		return f
	}
	r := f.result
	f.mu.Unlock()
	h(r)
	return f
}

// OnSuccess attaches a handler for the success path only.
func (f *Future[T]) OnSuccess(h func(T)) *Future[T] {
	return f.OnComplete(func(r Result[T]) {
		if !r.Failed() {
			h(r.val)
		}
	})
}

// OnFailure attaches a handler for the failure path only.
func (f *Future[T]) OnFailure(h func(error)) *Future[T] {
	return f.OnComplete(func(r Result[T]) {
		if r.Failed() {
			h(r.err)
		}
	})
}

func (f *Future[T]) IsComplete() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.complete
}

// Result returns the outcome and whether the future is complete.
func (f *Future[T]) Result() (Result[T], bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result, f.complete
}

// Done is closed once the future completes.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the future completes or ctx is done. It must not be
// called from the context that will complete the future.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.result.val, f.result.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Map returns a future completed with fn applied to f's value. A failure of
// f propagates unchanged and fn is not called.
func Map[T, U any](f *Future[T], fn func(T) (U, error)) *Future[U] {
	p := NewPromise[U](nil)
	f.OnComplete(func(r Result[T]) {
		if r.Failed() {
			p.Fail(r.err)
			return
		}
		p.Handle(fn(r.val))
	})
	return p.f
}

// Compose chains an operation that itself returns a future. A failure of f
// propagates unchanged and fn is not called.
func Compose[T, U any](f *Future[T], fn func(T) *Future[U]) *Future[U] {
	p := NewPromise[U](nil)
	f.OnComplete(func(r Result[T]) {
		if r.Failed() {
			p.Fail(r.err)
			return
		}
		next := fn(r.val)
		if next == nil {
			var zero U
			p.Complete(zero)
			return
		}
		next.OnComplete(func(n Result[U]) { p.Resolve(n) })
	})
	return p.f
}

// Recover maps a failure to a replacement value. Successes pass through.
func Recover[T any](f *Future[T], fn func(error) (T, error)) *Future[T] {
	p := NewPromise[T](nil)
	f.OnComplete(func(r Result[T]) {
		if !r.Failed() {
			p.Complete(r.val)
			return
		}
		p.Handle(fn(r.err))
	})
	return p.f
}

// Void discards the value of f.
func Void[T any](f *Future[T]) *Future[struct{}] {
	return Map(f, func(T) (struct{}, error) { return struct{}{}, nil })
}

// All completes when every future has succeeded, or fails with the first
// failure.
func All[T any](fs ...*Future[T]) *Future[[]T] {
	p := NewPromise[[]T](nil)
	if len(fs) == 0 {
		p.Complete(nil)
		return p.f
	}
	var (
		mu      sync.Mutex
		pending = len(fs)
		out     = make([]T, len(fs))
	)
	for i, f := range fs {
		f.OnComplete(func(r Result[T]) {
			if r.Failed() {
				p.Fail(r.err)
				return
			}
			mu.Lock()
			out[i] = r.val
			pending--
			last := pending == 0
			mu.Unlock()
			if last {
				p.Complete(out)
			}
		})
	}
	return p.f
}

// Join completes once every future has completed, successfully or not,
// with their results in order. It never fails.
func Join[T any](fs ...*Future[T]) *Future[[]Result[T]] {
	p := NewPromise[[]Result[T]](nil)
	if len(fs) == 0 {
		p.Complete(nil)
		return p.f
	}
	var (
		mu      sync.Mutex
		pending = len(fs)
		out     = make([]Result[T], len(fs))
	)
	for i, f := range fs {
		f.OnComplete(func(r Result[T]) {
			mu.Lock()
			out[i] = r
			pending--
			last := pending == 0
			mu.Unlock()
			if last {
				p.Complete(out)
			}
		})
	}
	return p.f
}
