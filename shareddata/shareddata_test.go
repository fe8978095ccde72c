package shareddata

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/caffeineduck/vertigo/buffer"
	"github.com/caffeineduck/vertigo/errors"
	"github.com/caffeineduck/vertigo/eventloop"
	"github.com/caffeineduck/vertigo/future"
	"github.com/caffeineduck/vertigo/value"
)

func newTestShared(t *testing.T, opts ...Option) *SharedData {
	t.Helper()
	g := eventloop.NewGroup(2)
	t.Cleanup(g.Close)
	return New(g, opts...)
}

func mustAwait[T any](t *testing.T, f *future.Future[T]) T {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	v, err := f.Await(ctx)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	return v
}

func TestAsyncMapBasics(t *testing.T) {
	sd := newTestShared(t)
	m := mustAwait(t, sd.AsyncMap("users"))

	mustAwait(t, m.Put("a", "1"))
	mustAwait(t, m.Put("b", int64(2)))

	if v := mustAwait(t, m.Get("a")); v != "1" {
		t.Errorf("Get(a) = %v", v)
	}
	if v := mustAwait(t, m.Get("missing")); v != nil {
		t.Errorf("Get(missing) = %v", v)
	}
	if n := mustAwait(t, m.Size()); n != 2 {
		t.Errorf("Size = %d", n)
	}
	keys := mustAwait(t, m.Keys())
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Errorf("Keys = %v", keys)
	}

	same := mustAwait(t, sd.AsyncMap("users"))
	if v := mustAwait(t, same.Get("b")); v != int64(2) {
		t.Errorf("second handle sees %v", v)
	}

	if prev := mustAwait(t, m.Remove("a")); prev != "1" {
		t.Errorf("Remove = %v", prev)
	}
	mustAwait(t, m.Clear())
	if n := mustAwait(t, m.Size()); n != 0 {
		t.Errorf("Size after Clear = %d", n)
	}
}

func TestAsyncMapConditional(t *testing.T) {
	sd := newTestShared(t)
	m := mustAwait(t, sd.AsyncMap("cond"))

	if prev := mustAwait(t, m.PutIfAbsent("k", "first")); prev != nil {
		t.Errorf("PutIfAbsent on empty = %v", prev)
	}
	if prev := mustAwait(t, m.PutIfAbsent("k", "second")); prev != "first" {
		t.Errorf("PutIfAbsent on existing = %v", prev)
	}
	if prev := mustAwait(t, m.Replace("none", "x")); prev != nil {
		t.Errorf("Replace on missing = %v", prev)
	}
	if v := mustAwait(t, m.Get("none")); v != nil {
		t.Error("Replace created a missing key")
	}
	if prev := mustAwait(t, m.Replace("k", "third")); prev != "first" {
		t.Errorf("Replace = %v", prev)
	}
	if mustAwait(t, m.ReplaceIfPresent("k", "wrong", "x")) {
		t.Error("ReplaceIfPresent with a stale value succeeded")
	}
	if !mustAwait(t, m.ReplaceIfPresent("k", "third", "fourth")) {
		t.Error("ReplaceIfPresent with the current value failed")
	}
	if mustAwait(t, m.RemoveIfPresent("k", "third")) {
		t.Error("RemoveIfPresent with a stale value succeeded")
	}
	if !mustAwait(t, m.RemoveIfPresent("k", "fourth")) {
		t.Error("RemoveIfPresent with the current value failed")
	}
}

func TestAsyncMapCopiesValues(t *testing.T) {
	sd := newTestShared(t)
	m := mustAwait(t, sd.AsyncMap("copies"))

	obj := value.NewJsonObject().Put("n", 1)
	mustAwait(t, m.Put("obj", obj))
	obj.Put("n", 2)

	got := mustAwait(t, m.Get("obj")).(*value.JsonObject)
	if n, _ := got.GetInteger("n"); n != 1 {
		t.Errorf("stored object changed with caller: %s", got)
	}
	got.Put("n", 3)
	again := mustAwait(t, m.Get("obj")).(*value.JsonObject)
	if n, _ := again.GetInteger("n"); n != 1 {
		t.Errorf("stored object changed with reader: %s", again)
	}

	if !mustAwait(t, m.RemoveIfPresent("obj", value.NewJsonObject().Put("n", 1))) {
		t.Error("structurally equal object not matched")
	}

	buf := buffer.FromString("abc")
	mustAwait(t, m.Put("buf", buf))
	buf.AppendString("def")
	if b := mustAwait(t, m.Get("buf")).(*buffer.Buffer); b.String() != "abc" {
		t.Errorf("stored buffer = %q", b.String())
	}
}

func TestAsyncMapTTL(t *testing.T) {
	sd := newTestShared(t)
	m := mustAwait(t, sd.AsyncMap("ttl"))

	mustAwait(t, m.PutTTL("short", "x", 20*time.Millisecond))
	mustAwait(t, m.PutTTL("reset", "x", 20*time.Millisecond))
	mustAwait(t, m.Put("reset", "y"))

	time.Sleep(80 * time.Millisecond)
	if v := mustAwait(t, m.Get("short")); v != nil {
		t.Errorf("expired entry still present: %v", v)
	}
	if v := mustAwait(t, m.Get("reset")); v != "y" {
		t.Errorf("overwritten entry expired with the old ttl: %v", v)
	}
}

func TestAsyncMapLimits(t *testing.T) {
	sd := newTestShared(t, WithMapConfig(MapConfig{MaxKeySize: 4, MaxValueSize: 5, MaxEntries: 2}))
	m := mustAwait(t, sd.AsyncMap("limits"))

	tests := []struct {
		name string
		key  string
		val  any
	}{
		{"key too long", "toolong", "v"},
		{"value too long", "k", "123456"},
		{"json too long", "k", value.NewJsonObject().Put("a", 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := await(m.Put(tt.key, tt.val))
			if !errors.IsKind(err, errors.KindLimitExceeded) {
				t.Errorf("expected limit error, got %v", err)
			}
		})
	}

	mustAwait(t, m.Put("a", "1"))
	mustAwait(t, m.Put("b", "2"))
	if _, err := await(m.Put("c", "3")); !errors.IsKind(err, errors.KindLimitExceeded) {
		t.Errorf("entry limit not enforced: %v", err)
	}
	mustAwait(t, m.Put("a", "11"))
}

func await[T any](f *future.Future[T]) (T, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return f.Await(ctx)
}

func TestLockExclusive(t *testing.T) {
	sd := newTestShared(t)
	first := mustAwait(t, sd.Lock("res"))

	second := sd.Lock("res")
	time.Sleep(20 * time.Millisecond)
	if second.IsComplete() {
		t.Fatal("second lock acquired while the first is held")
	}

	first.Release()
	first.Release()
	l := mustAwait(t, second)
	if l.Name() != "res" {
		t.Errorf("lock name = %q", l.Name())
	}

	third := sd.Lock("res")
	time.Sleep(10 * time.Millisecond)
	if third.IsComplete() {
		t.Fatal("double release freed the lock twice")
	}
	l.Release()
	mustAwait(t, third).Release()
}

func TestLockTimeout(t *testing.T) {
	sd := newTestShared(t)
	held := mustAwait(t, sd.Lock("busy"))
	defer held.Release()

	_, err := await(sd.LockWithTimeout("busy", 20*time.Millisecond))
	if !errors.IsKind(err, errors.KindTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestLockFIFO(t *testing.T) {
	sd := newTestShared(t)
	held := mustAwait(t, sd.Lock("q"))

	var mu sync.Mutex
	var order []int
	var futures []*future.Future[*Lock]
	for i := range 3 {
		f := sd.Lock("q")
		f.OnSuccess(func(l *Lock) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			l.Release()
		})
		futures = append(futures, f)
		time.Sleep(2 * time.Millisecond)
	}
	held.Release()
	for _, f := range futures {
		mustAwait(t, f)
	}
	time.Sleep(10 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != i {
			t.Fatalf("waiters served out of order: %v", order)
		}
	}
}

func TestCounter(t *testing.T) {
	sd := newTestShared(t)
	c := mustAwait(t, sd.Counter("hits"))

	if v := mustAwait(t, c.IncrementAndGet()); v != 1 {
		t.Errorf("IncrementAndGet = %d", v)
	}
	if v := mustAwait(t, c.GetAndIncrement()); v != 1 {
		t.Errorf("GetAndIncrement = %d", v)
	}
	if v := mustAwait(t, c.AddAndGet(10)); v != 12 {
		t.Errorf("AddAndGet = %d", v)
	}
	if v := mustAwait(t, c.GetAndAdd(-2)); v != 12 {
		t.Errorf("GetAndAdd = %d", v)
	}
	if v := mustAwait(t, c.DecrementAndGet()); v != 9 {
		t.Errorf("DecrementAndGet = %d", v)
	}
	if mustAwait(t, c.CompareAndSet(0, 5)) {
		t.Error("CompareAndSet with wrong expectation succeeded")
	}
	if !mustAwait(t, c.CompareAndSet(9, 5)) {
		t.Error("CompareAndSet failed")
	}

	other := mustAwait(t, sd.Counter("hits"))
	if v := mustAwait(t, other.Get()); v != 5 {
		t.Errorf("shared counter = %d", v)
	}
}

func TestConcurrentCounter(t *testing.T) {
	sd := newTestShared(t)
	c := mustAwait(t, sd.Counter("n"))
	var wg sync.WaitGroup
	for range 50 {
		wg.Go(func() {
			c.IncrementAndGet()
		})
	}
	wg.Wait()
	if v := mustAwait(t, c.Get()); v != 50 {
		t.Errorf("counter = %d", v)
	}
}
