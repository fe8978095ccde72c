// Package bench measures the cost of the binding layer against calling the
// toolkit directly.
//
// Run with: go test -v -run=Test ./bench/
// Benchmarks: go test -bench=. -benchmem ./bench/
package bench

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/caffeineduck/vertigo/bind"
	"github.com/caffeineduck/vertigo/buffer"
	"github.com/caffeineduck/vertigo/config"
	"github.com/caffeineduck/vertigo/value"
	"github.com/caffeineduck/vertigo/vertx"
)

func newRuntime(tb testing.TB) *bind.Runtime {
	tb.Helper()
	cfg := config.Default()
	cfg.EventLoops = 2
	cfg.Deploy.CacheDir = tb.TempDir()
	vx, err := vertx.New(vertx.WithConfig(cfg))
	if err != nil {
		tb.Fatalf("vertx.New: %v", err)
	}
	tb.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		vx.Close().Await(ctx)
	})
	return bind.New(vx)
}

func newBuffer(tb testing.TB, rt *bind.Runtime, s string) *bind.Object {
	tb.Helper()
	static, _ := rt.Static(bind.KindBuffer)
	b, err := static.Call("buffer", s)
	if err != nil {
		tb.Fatalf("buffer: %v", err)
	}
	return b.(*bind.Object)
}

// --- Overload resolution ---

func BenchmarkDirect_GetString(b *testing.B) {
	buf := buffer.FromString("hello world")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf.GetString(0, 5, "")
	}
}

func BenchmarkBound_GetString_FirstSignature(b *testing.B) {
	o := newBuffer(b, newRuntime(b), "hello world")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := o.Call("getString", 0, 5); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkBound_GetString_SecondSignature(b *testing.B) {
	o := newBuffer(b, newRuntime(b), "hello world")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := o.Call("getString", 0, 5, "UTF-8"); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkBound_NoMatch(b *testing.B) {
	o := newBuffer(b, newRuntime(b), "hello world")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := o.Call("getString", "zero", 5); err == nil {
			b.Fatal("expected a binding error")
		}
	}
}

// --- Handle identity ---

func BenchmarkChildAccessor(b *testing.B) {
	vx := newRuntime(b).Vertx()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		vx.Call("eventBus")
	}
}

// --- Marshaling ---

const doc = `{"name":"vertigo","loops":4,"http":{"hosts":["a.example.com","b.example.com"],"timeout":"10s"},"tags":[1,2,3,null,true]}`

func BenchmarkDecodeJsonObject(b *testing.B) {
	b.SetBytes(int64(len(doc)))
	for i := 0; i < b.N; i++ {
		if _, err := value.DecodeObject(doc); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkEncodeJsonObject(b *testing.B) {
	o, _ := value.DecodeObject(doc)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		o.Encode()
	}
}

func BenchmarkToCaller(b *testing.B) {
	in := []any{1, int32(2), "three", []string{"a", "b"}, value.JsonObjectOf("k", 1)}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, v := range in {
			value.ToCaller(v)
		}
	}
}

// --- Callbacks ---

func BenchmarkEventBusRequestReply(b *testing.B) {
	rt := newRuntime(b)
	bus, _ := rt.Vertx().Call("eventBus")
	eb := bus.(*bind.Object)
	eb.Call("consumer", "echo", value.Callable(func(args ...any) {
		args[0].(*bind.Object).Call("reply", "pong")
	}))

	done := make(chan struct{}, 1)
	cb := value.Callable(func(args ...any) { done <- struct{}{} })
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := eb.Call("request", "echo", "ping", cb); err != nil {
			b.Fatal(err)
		}
		<-done
	}
}

// --- Wire protocol ---

func BenchmarkSessionRoundTrip(b *testing.B) {
	rt := newRuntime(b)
	replies := make(chan struct{}, 1)
	s := rt.NewSession(func(msg []byte) error {
		replies <- struct{}{}
		return nil
	})
	defer s.Close()

	s.Handle([]byte(`{"id":0,"target":"Buffer","method":"buffer","args":["hello"]}`))
	<-replies

	line := []byte(`{"id":1,"target":"vertx","method":"eventBus"}`)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Handle(line)
		<-replies
	}
}

// TestBindingOverhead reports bound call cost relative to a direct call.
func TestBindingOverhead(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping timing report in short mode")
	}
	rt := newRuntime(t)
	o := newBuffer(t, rt, "hello world")
	raw := buffer.FromString("hello world")

	const n = 100000
	start := time.Now()
	for i := 0; i < n; i++ {
		raw.GetString(0, 5, "")
	}
	direct := time.Since(start)

	start = time.Now()
	for i := 0; i < n; i++ {
		if _, err := o.Call("getString", 0, 5); err != nil {
			t.Fatal(err)
		}
	}
	bound := time.Since(start)

	t.Logf("%-12s %12s %12s", "", "total", "per call")
	t.Logf("%-12s %12s %12s", "direct", direct, direct/n)
	t.Logf("%-12s %12s %12s", "bound", bound, bound/n)
	if direct > 0 {
		t.Logf("overhead: %sx", strconv.FormatFloat(float64(bound)/float64(direct), 'f', 1, 64))
	}
}
