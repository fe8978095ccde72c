package eventbus

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/caffeineduck/vertigo/eventloop"
	"github.com/caffeineduck/vertigo/multimap"
	"github.com/caffeineduck/vertigo/value"
)

func newTestBus(t *testing.T, opts ...Option) *Bus {
	t.Helper()
	g := eventloop.NewGroup(2)
	b := New(g, opts...)
	t.Cleanup(func() {
		b.Close()
		g.Close()
	})
	return b
}

func await[T any](t *testing.T, f interface {
	Await(context.Context) (T, error)
}) (T, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return f.Await(ctx)
}

func within(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSendRoundRobin(t *testing.T) {
	b := newTestBus(t)
	var a, c atomic.Int32
	b.Consumer("work").Handler(func(*Message) { a.Add(1) })
	b.Consumer("work").Handler(func(*Message) { c.Add(1) })

	for range 10 {
		b.Send("work", "job", nil)
	}
	within(t, func() bool { return a.Load()+c.Load() == 10 })
	if a.Load() != 5 || c.Load() != 5 {
		t.Errorf("uneven distribution: %d / %d", a.Load(), c.Load())
	}
}

func TestPublishReachesAll(t *testing.T) {
	b := newTestBus(t)
	var n atomic.Int32
	for range 3 {
		b.Consumer("news").Handler(func(m *Message) {
			if m.IsSend() {
				t.Error("published message reported as send")
			}
			n.Add(1)
		})
	}
	b.Publish("news", "hello", nil)
	within(t, func() bool { return n.Load() == 3 })
}

func TestBodiesAreCopied(t *testing.T) {
	b := newTestBus(t)
	got := make(chan *value.JsonObject, 1)
	b.Consumer("json").Handler(func(m *Message) {
		got <- m.Body().(*value.JsonObject)
	})

	body := value.NewJsonObject().Put("n", 1)
	b.Send("json", body, nil)
	body.Put("n", 2)

	select {
	case o := <-got:
		if n, _ := o.GetInteger("n"); n != 1 {
			t.Errorf("recipient saw sender mutation: %s", o)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestRequestReply(t *testing.T) {
	b := newTestBus(t)
	b.Consumer("echo").Handler(func(m *Message) {
		if m.ReplyAddress() == "" {
			t.Error("request without reply address")
		}
		if m.Headers().Get("x-trace") != "abc" {
			t.Errorf("headers lost: %v", m.Headers())
		}
		m.Reply("re: "+m.Body().(string), nil)
	})

	f := b.Request("echo", "ping", &DeliveryOptions{Headers: multimap.New().Set("X-Trace", "abc")})
	reply, err := await[*Message](t, f)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if reply.Body() != "re: ping" {
		t.Errorf("reply = %v", reply.Body())
	}
}

func TestRequestFailures(t *testing.T) {
	b := newTestBus(t)

	_, err := await[*Message](t, b.Request("nobody", "x", nil))
	var re *ReplyError
	if !stderrors.As(err, &re) || re.Failure != NoHandlers {
		t.Errorf("expected NO_HANDLERS, got %v", err)
	}

	b.Consumer("failing").Handler(func(m *Message) { m.Fail(42, "bad request") })
	_, err = await[*Message](t, b.Request("failing", "x", nil))
	if !stderrors.As(err, &re) || re.Failure != RecipientFailure || re.Code != 42 || re.Message != "bad request" {
		t.Errorf("expected RECIPIENT_FAILURE 42, got %#v", err)
	}

	b.Consumer("silent").Handler(func(*Message) {})
	_, err = await[*Message](t, b.Request("silent", "x", &DeliveryOptions{Timeout: 20 * time.Millisecond}))
	if !stderrors.As(err, &re) || re.Failure != Timeout {
		t.Errorf("expected TIMEOUT, got %v", err)
	}
	if re.Failure.String() != "TIMEOUT" {
		t.Errorf("failure name = %q", re.Failure)
	}
}

func TestLateReplyIgnored(t *testing.T) {
	b := newTestBus(t)
	held := make(chan *Message, 1)
	b.Consumer("slow").Handler(func(m *Message) { held <- m })

	f := b.Request("slow", "x", &DeliveryOptions{Timeout: 10 * time.Millisecond})
	if _, err := await[*Message](t, f); err == nil {
		t.Fatal("expected timeout")
	}
	m := <-held
	m.Reply("too late", nil)
	r, _ := f.Result()
	if !r.Failed() {
		t.Error("late reply changed the outcome")
	}
}

func TestPausedConsumerBuffersThenDrops(t *testing.T) {
	b := newTestBus(t)
	var mu sync.Mutex
	var got []int
	c := b.Consumer("burst")
	c.SetMaxBufferedMessages(3)
	c.Handler(func(m *Message) {
		mu.Lock()
		got = append(got, m.Body().(int))
		mu.Unlock()
	})
	c.Pause()

	for i := range 10 {
		b.Send("burst", i, nil)
	}
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	if len(got) != 0 {
		t.Fatalf("paused consumer received %v", got)
	}
	mu.Unlock()

	c.Resume()
	within(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	})
	mu.Lock()
	defer mu.Unlock()
	if got[0] != 0 || got[2] != 2 {
		t.Errorf("buffered messages = %v", got)
	}
}

func TestUnregister(t *testing.T) {
	b := newTestBus(t)
	c := b.Consumer("temp")
	if c.IsRegistered() {
		t.Fatal("consumer registered before a handler was set")
	}
	ended := make(chan struct{})
	c.EndHandler(func() { close(ended) })
	c.Handler(func(*Message) {})
	if !c.IsRegistered() || b.Consumers("temp") != 1 {
		t.Fatal("handler should register the consumer")
	}

	if _, err := await[struct{}](t, c.Unregister()); err != nil {
		t.Fatalf("unregister failed: %v", err)
	}
	if c.IsRegistered() || b.Consumers("temp") != 0 {
		t.Error("consumer still registered")
	}
	select {
	case <-ended:
	case <-time.After(5 * time.Second):
		t.Fatal("end handler not called on unregister")
	}
}

func TestConsumerReregister(t *testing.T) {
	b := newTestBus(t)
	c := b.Consumer("again")
	echo := func(m *Message) { m.Reply(m.Body(), nil) }
	c.Handler(echo)
	c.Handler(nil)

	var re *ReplyError
	_, err := await[*Message](t, b.Request("again", "x", nil))
	if !stderrors.As(err, &re) || re.Failure != NoHandlers {
		t.Fatalf("expected NO_HANDLERS after unregister, got %v", err)
	}

	c.Handler(echo)
	if !c.IsRegistered() || b.Consumers("again") != 1 {
		t.Fatal("handler should register the consumer again")
	}
	reply, err := await[*Message](t, b.Request("again", "back", &DeliveryOptions{Timeout: time.Second}))
	if err != nil {
		t.Fatalf("request after re-register failed: %v", err)
	}
	if reply.Body() != "back" {
		t.Errorf("reply = %v", reply.Body())
	}
}

func TestFlowingConsumerIgnoresBufferBound(t *testing.T) {
	b := newTestBus(t, WithMaxBufferedMessages(10))
	var n atomic.Int32
	c := b.Consumer("flood")
	c.Handler(func(*Message) { n.Add(1) })

	c.ctx.RunOnContext(func() {
		for i := range 50 {
			b.Send("flood", i, nil)
		}
	})
	within(t, func() bool { return n.Load() == 50 })
}

func TestProducer(t *testing.T) {
	b := newTestBus(t)
	var n atomic.Int32
	b.Consumer("sink").Handler(func(*Message) { n.Add(1) })
	b.Consumer("sink").Handler(func(*Message) { n.Add(1) })

	sender := b.Sender("sink", nil)
	sender.Write("a")
	sender.Write("b")
	within(t, func() bool { return n.Load() == 2 })

	pub := b.Publisher("sink", nil)
	pub.Write("c")
	within(t, func() bool { return n.Load() == 4 })

	pub.Close()
	if _, err := await[struct{}](t, pub.Closed()); err != nil {
		t.Errorf("producer close: %v", err)
	}
}

func TestReplyFailureEnum(t *testing.T) {
	f, err := ReplyFailures.Parse("RECIPIENT_FAILURE")
	if err != nil || f != RecipientFailure {
		t.Errorf("Parse = %v, %v", f, err)
	}
	if _, err := ReplyFailures.Parse("recipient_failure"); err == nil {
		t.Error("names are case sensitive")
	}
}
