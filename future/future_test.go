package future

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/caffeineduck/vertigo/value"
)

type queueDispatcher struct {
	mu  sync.Mutex
	fns []func()
}

func (q *queueDispatcher) Dispatch(fn func()) {
	q.mu.Lock()
	q.fns = append(q.fns, fn)
	q.mu.Unlock()
}

func (q *queueDispatcher) runAll() int {
	q.mu.Lock()
	fns := q.fns
	q.fns = nil
	q.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
	return len(fns)
}

func TestPromiseCompletesOnce(t *testing.T) {
	p := NewPromise[int](nil)
	var got []Result[int]
	p.Future().OnComplete(func(r Result[int]) { got = append(got, r) })

	if !p.Complete(1) {
		t.Fatal("first completion should win")
	}
	if p.Complete(2) || p.Fail(stderrors.New("late")) {
		t.Fatal("later completions should be rejected")
	}
	if len(got) != 1 || got[0].Value() != 1 || got[0].Failed() {
		t.Fatalf("unexpected results: %+v", got)
	}
}

func TestHandlersDispatchedThroughDispatcher(t *testing.T) {
	d := &queueDispatcher{}
	p := NewPromise[string](d)

	var called bool
	p.Future().OnComplete(func(Result[string]) { called = true })
	p.Complete("x")

	if called {
		t.Fatal("handler must not run before dispatch")
	}
	if d.runAll() != 1 || !called {
		t.Fatal("handler should run on dispatch")
	}
}

func TestOnCompleteAfterCompletionRunsImmediately(t *testing.T) {
	d := &queueDispatcher{}
	p := NewPromise[string](d)
	p.Complete("x")

	var got string
	p.Future().OnComplete(func(r Result[string]) { got = r.Value() })
	if got != "x" {
		t.Fatal("handler on a completed future should run synchronously")
	}
	if d.runAll() != 0 {
		t.Fatal("nothing should have been dispatched")
	}
}

func TestFailedNilErrorIsStillFailure(t *testing.T) {
	r := Failed[int](nil)
	if !r.Failed() || r.Err() == nil {
		t.Fatal("Failed(nil) must produce a failure")
	}
}

func TestMapSkipsOnFailure(t *testing.T) {
	cause := stderrors.New("boom")
	var mapped bool
	f := Map(FailedFuture[int](cause), func(int) (string, error) {
		mapped = true
		return "", nil
	})
	r, done := f.Result()
	if !done || r.Err() != cause {
		t.Fatalf("failure should propagate unchanged, got %+v", r)
	}
	if mapped {
		t.Fatal("map function must not run on failure")
	}

	f = Map(SucceededFuture(2), func(v int) (string, error) {
		return string(rune('a' + v)), nil
	})
	if r, _ := f.Result(); r.Value() != "c" {
		t.Errorf("mapped value = %q", r.Value())
	}
}

func TestCompose(t *testing.T) {
	inner := NewPromise[int](nil)
	f := Compose(SucceededFuture(1), func(v int) *Future[int] {
		return inner.Future()
	})
	if f.IsComplete() {
		t.Fatal("composed future should wait for the inner one")
	}
	inner.Complete(5)
	if r, _ := f.Result(); r.Value() != 5 {
		t.Errorf("composed value = %d", r.Value())
	}

	cause := stderrors.New("first")
	var ran bool
	f = Compose(FailedFuture[int](cause), func(int) *Future[int] {
		ran = true
		return SucceededFuture(0)
	})
	if r, _ := f.Result(); r.Err() != cause || ran {
		t.Errorf("compose should skip on failure")
	}
}

func TestRecover(t *testing.T) {
	f := Recover(FailedFuture[int](stderrors.New("x")), func(error) (int, error) {
		return 7, nil
	})
	if v, err := f.Await(context.Background()); err != nil || v != 7 {
		t.Errorf("recover = %d, %v", v, err)
	}
}

func TestAll(t *testing.T) {
	a, b := NewPromise[int](nil), NewPromise[int](nil)
	all := All(a.Future(), b.Future())
	b.Complete(2)
	a.Complete(1)
	v, err := all.Await(context.Background())
	if err != nil || len(v) != 2 || v[0] != 1 || v[1] != 2 {
		t.Errorf("All = %v, %v", v, err)
	}

	c := NewPromise[int](nil)
	all = All(c.Future(), FailedFuture[int](stderrors.New("x")))
	if r, done := all.Result(); !done || !r.Failed() {
		t.Error("All should fail on the first failure")
	}
}

func TestJoinWaitsForFailures(t *testing.T) {
	a, b := NewPromise[int](nil), NewPromise[int](nil)
	joined := Join(a.Future(), b.Future())
	a.Fail(stderrors.New("x"))
	if joined.IsComplete() {
		t.Fatal("Join completed before every future did")
	}
	b.Complete(2)
	rs, err := joined.Await(context.Background())
	if err != nil || len(rs) != 2 {
		t.Fatalf("Join = %v, %v", rs, err)
	}
	if !rs[0].Failed() || rs[1].Value() != 2 {
		t.Errorf("results = %+v", rs)
	}
}

func TestAwaitTimeout(t *testing.T) {
	p := NewPromise[int](nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := p.Future().Await(ctx); err == nil {
		t.Fatal("expected context error")
	}
}

func TestCallbackExactlyOnce(t *testing.T) {
	var calls [][]any
	cb := value.Callable(func(args ...any) { calls = append(calls, args) })

	h := Callback[int](cb, nil)
	h(Succeeded(3))
	h(Failed[int](stderrors.New("late")))

	if len(calls) != 1 {
		t.Fatalf("callback fired %d times", len(calls))
	}
	if calls[0][0] != int64(3) || calls[0][1] != nil {
		t.Errorf("success args = %#v", calls[0])
	}
}

func TestCallbackFailureShape(t *testing.T) {
	var got []any
	cb := value.Callable(func(args ...any) { got = args })

	p := Promisify[string](nil, cb, nil)
	p.Fail(stderrors.New("no route"))

	if len(got) != 2 || got[0] != nil {
		t.Fatalf("failure args = %#v", got)
	}
	f, ok := got[1].(*value.Failure)
	if !ok || f.Message != "no route" {
		t.Errorf("error arg = %#v", got[1])
	}
}

func TestCallbackNilResultOnSuccess(t *testing.T) {
	var got []any
	fired := false
	cb := value.Callable(func(args ...any) { fired = true; got = args })

	Notify(SucceededFuture(struct{}{}), cb, func(struct{}) any { return nil })
	if !fired || got[0] != nil || got[1] != nil {
		t.Errorf("void success args = %#v", got)
	}
}

func TestCallbackConcurrentResolution(t *testing.T) {
	var mu sync.Mutex
	count := 0
	h := Callback[int](func(...any) {
		mu.Lock()
		count++
		mu.Unlock()
	}, nil)

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h(Succeeded(i))
		}()
	}
	wg.Wait()
	if count != 1 {
		t.Errorf("callback fired %d times", count)
	}
}
