package eventloop

import (
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/caffeineduck/vertigo/future"
)

func newTestGroup(t *testing.T, size int, opts ...Option) *Group {
	t.Helper()
	g := NewGroup(size, opts...)
	t.Cleanup(g.Close)
	return g
}

func wait(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
	}
}

func TestRunOnContextOrderAndAffinity(t *testing.T) {
	g := newTestGroup(t, 2)
	c := g.Next()

	var got []int
	done := make(chan struct{})
	for i := range 100 {
		c.RunOnContext(func() {
			if !c.IsOnContext() {
				t.Error("handler not on its context")
			}
			if g.Current() != c {
				t.Error("Current should return the running context")
			}
			got = append(got, i)
			if i == 99 {
				close(done)
			}
		})
	}
	wait(t, done)

	for i, v := range got {
		if v != i {
			t.Fatalf("out of order at %d: %v", i, v)
		}
	}
	if c.IsOnContext() {
		t.Error("test goroutine is not on the context")
	}
	if g.Current() != nil {
		t.Error("Current should be nil off-context")
	}
}

func TestNextRoundRobin(t *testing.T) {
	g := newTestGroup(t, 3)
	seen := map[*Context]bool{}
	for range 3 {
		seen[g.Next()] = true
	}
	if len(seen) != 3 {
		t.Errorf("expected 3 distinct contexts, got %d", len(seen))
	}
}

func TestDispatchInlineOnContext(t *testing.T) {
	g := newTestGroup(t, 1)
	c := g.Next()
	done := make(chan struct{})
	c.RunOnContext(func() {
		ran := false
		c.Dispatch(func() { ran = true })
		if !ran {
			t.Error("Dispatch on the context should run inline")
		}
		close(done)
	})
	wait(t, done)
}

func TestPanicGoesToExceptionHandler(t *testing.T) {
	g := newTestGroup(t, 1)
	c := g.Next()

	got := make(chan any, 1)
	c.ExceptionHandler(func(r any) { got <- r })
	c.RunOnContext(func() { panic("boom") })

	select {
	case r := <-got:
		if r != "boom" {
			t.Errorf("recovered %v", r)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("exception handler not called")
	}

	done := make(chan struct{})
	c.RunOnContext(func() { close(done) })
	wait(t, done)
}

func TestTimerFiresOnContext(t *testing.T) {
	g := newTestGroup(t, 2)
	c := g.Next()
	done := make(chan struct{})
	var firedID int64
	id := c.SetTimer(5*time.Millisecond, func(id int64) {
		if !c.IsOnContext() {
			t.Error("timer not on its context")
		}
		firedID = id
		close(done)
	})
	wait(t, done)
	if firedID != id {
		t.Errorf("fired id %d, want %d", firedID, id)
	}
	if g.CancelTimer(id) {
		t.Error("cancelling a fired timer should report false")
	}
}

func TestCancelTimerIdempotent(t *testing.T) {
	g := newTestGroup(t, 1)
	c := g.Next()
	var fired atomic.Bool
	id := c.SetTimer(50*time.Millisecond, func(int64) { fired.Store(true) })

	if !g.CancelTimer(id) {
		t.Fatal("first cancel should succeed")
	}
	if g.CancelTimer(id) {
		t.Fatal("second cancel should report false")
	}
	if g.CancelTimer(12345) {
		t.Fatal("unknown id should report false")
	}
	time.Sleep(100 * time.Millisecond)
	if fired.Load() {
		t.Error("cancelled timer fired")
	}
}

func TestPeriodic(t *testing.T) {
	g := newTestGroup(t, 1)
	c := g.Next()
	var n atomic.Int32
	done := make(chan struct{})
	var id atomic.Int64
	var ids sync.Map
	id.Store(c.SetPeriodic(2*time.Millisecond, func(fired int64) {
		ids.Store(fired, true)
		if n.Add(1) == 3 {
			if !g.CancelTimer(fired) {
				t.Error("cancel periodic should succeed once")
			}
			close(done)
		}
	}))
	wait(t, done)
	if _, ok := ids.Load(id.Load()); !ok {
		t.Errorf("periodic handler did not receive its timer id")
	}
	time.Sleep(20 * time.Millisecond)
	if n.Load() != 3 {
		t.Errorf("periodic fired %d times after cancel", n.Load())
	}
	if g.PendingTimers() != 0 {
		t.Errorf("pending timers = %d", g.PendingTimers())
	}
}

func TestExecuteBlockingResultOnContext(t *testing.T) {
	g := newTestGroup(t, 2)
	c := g.Next()
	done := make(chan struct{})

	c.RunOnContext(func() {
		ExecuteBlocking(c, nil, func() (int, error) {
			if c.IsOnContext() {
				t.Error("blocking work ran on the event loop")
			}
			return 42, nil
		}, false).OnComplete(func(r future.Result[int]) {
			if !c.IsOnContext() {
				t.Error("result not delivered on the issuing context")
			}
			if r.Value() != 42 {
				t.Errorf("value = %d", r.Value())
			}
			close(done)
		})
	})
	wait(t, done)
}

func TestExecuteBlockingFailureAndPanic(t *testing.T) {
	g := newTestGroup(t, 1)
	c := g.Next()

	f := ExecuteBlocking(c, nil, func() (int, error) { return 0, stderrors.New("nope") }, false)
	<-f.Done()
	if r, _ := f.Result(); r.Err() == nil || r.Err().Error() != "nope" {
		t.Errorf("expected failure, got %+v", r)
	}

	f = ExecuteBlocking(c, nil, func() (int, error) { panic("bad") }, true)
	<-f.Done()
	if r, _ := f.Result(); !r.Failed() {
		t.Error("panic should fail the future")
	}
}

func TestExecuteBlockingOrdered(t *testing.T) {
	g := newTestGroup(t, 1, WithWorkerPoolSize(8))
	c := g.Next()

	var (
		mu      sync.Mutex
		order   []int
		running atomic.Int32
		overlap atomic.Bool
	)
	var fs []*future.Future[int]
	for i := range 20 {
		fs = append(fs, ExecuteBlocking(c, nil, func() (int, error) {
			if running.Add(1) > 1 {
				overlap.Store(true)
			}
			time.Sleep(time.Millisecond)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			running.Add(-1)
			return i, nil
		}, true))
	}
	for _, f := range fs {
		<-f.Done()
	}

	if overlap.Load() {
		t.Error("ordered work overlapped")
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("ordered work ran out of order: %v", order)
		}
	}
}

func TestExecuteBlockingUnorderedRunsConcurrently(t *testing.T) {
	g := newTestGroup(t, 1, WithWorkerPoolSize(4))
	c := g.Next()

	release := make(chan struct{})
	var started atomic.Int32
	var fs []*future.Future[struct{}]
	for range 4 {
		fs = append(fs, ExecuteBlocking(c, nil, func() (struct{}, error) {
			started.Add(1)
			<-release
			return struct{}{}, nil
		}, false))
	}

	deadline := time.Now().Add(5 * time.Second)
	for started.Load() < 4 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if started.Load() != 4 {
		t.Errorf("only %d unordered tasks started concurrently", started.Load())
	}
	close(release)
	for _, f := range fs {
		<-f.Done()
	}
}

func TestCloseDrainsQueue(t *testing.T) {
	g := NewGroup(1)
	c := g.Next()
	var ran atomic.Bool
	c.RunOnContext(func() {
		time.Sleep(5 * time.Millisecond)
		ran.Store(true)
	})
	g.Close()
	if !ran.Load() {
		t.Error("queued work should run before close returns")
	}
	if c.RunOnContext(func() {}) {
		t.Error("closed context should refuse work")
	}
}
