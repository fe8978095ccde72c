package web

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/caffeineduck/vertigo/buffer"
	"github.com/caffeineduck/vertigo/errors"
	"github.com/caffeineduck/vertigo/eventbus"
	"github.com/caffeineduck/vertigo/eventloop"
	"github.com/caffeineduck/vertigo/future"
)

type env struct {
	group *eventloop.Group
	bus   *eventbus.Bus
}

func newEnv(t *testing.T) *env {
	t.Helper()
	g := eventloop.NewGroup(2)
	b := eventbus.New(g)
	t.Cleanup(func() {
		b.Close()
		g.Close()
	})
	return &env{group: g, bus: b}
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

func awaitErr[T any](t *testing.T, f *future.Future[T]) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := f.Await(ctx)
	if err == nil {
		t.Fatal("expected failure")
	}
	return err
}

func listen(t *testing.T, e *env, h func(*ServerRequest)) (*Server, string) {
	t.Helper()
	srv := NewServer(e.group, e.bus).RequestHandler(h)
	mustAwait(t, srv.Listen(0, "127.0.0.1"))
	t.Cleanup(func() { srv.Close() })
	return srv, fmt.Sprintf("http://127.0.0.1:%d", srv.ActualPort())
}

func TestRequestAndResponse(t *testing.T) {
	e := newEnv(t)
	_, base := listen(t, e, func(r *ServerRequest) {
		r.BodyHandler(func(b *buffer.Buffer) {
			resp := r.Response()
			resp.SetStatusCode(http.StatusCreated)
			resp.PutHeader("X-Method", r.RawMethod())
			resp.PutHeader("X-Seen", r.Headers().Get("x-test"))
			resp.WriteString(r.Path()+"?"+r.Params().Get("q")+":"+b.String(), "")
			resp.End()
		})
	})

	client := NewClient(e.group, e.bus, Config{})
	defer client.Close()
	req := client.Post(base + "/items?q=1")
	req.PutHeader("X-Test", "yes")
	req.Write(buffer.FromString("hel"))
	req.Write(buffer.FromString("lo"))
	req.End()

	resp := mustAwait(t, req.Response())
	if resp.StatusCode() != http.StatusCreated || resp.StatusMessage() != "Created" {
		t.Errorf("status = %d %q", resp.StatusCode(), resp.StatusMessage())
	}
	if resp.Headers().Get("x-method") != "POST" || resp.Headers().Get("X-Seen") != "yes" {
		t.Errorf("headers = %s", resp.Headers())
	}
	if resp.Version() != HTTP11 {
		t.Errorf("version = %s", resp.Version())
	}
	body := mustAwait(t, resp.Body())
	if body.String() != "/items?1:hello" {
		t.Errorf("body = %q", body.String())
	}
}

func TestRequestWithoutWritesHasNoBody(t *testing.T) {
	e := newEnv(t)
	_, base := listen(t, e, func(r *ServerRequest) {
		r.BodyHandler(func(b *buffer.Buffer) {
			r.Response().WriteString(fmt.Sprintf("%d:%q", b.Len(), r.Headers().Get("Transfer-Encoding")), "")
			r.Response().End()
		})
	})
	req := NewClient(e.group, e.bus, Config{}).Get(base + "/")
	req.End()
	body := mustAwait(t, mustAwait(t, req.Response()).Body())
	if body.String() != `0:""` {
		t.Errorf("server saw %s", body.String())
	}
}

func TestNilBodyHandler(t *testing.T) {
	e := newEnv(t)
	_, base := listen(t, e, func(r *ServerRequest) {
		r.BodyHandler(nil)
		r.Body().OnSuccess(func(b *buffer.Buffer) {
			r.Response().WriteString("got "+b.String(), "")
			r.Response().End()
		})
	})
	req := NewClient(e.group, e.bus, Config{}).Post(base + "/")
	req.Write(buffer.FromString("data"))
	req.End()
	body := mustAwait(t, mustAwait(t, req.Response()).Body())
	if body.String() != "got data" {
		t.Errorf("body = %q", body.String())
	}
}

func TestServerAccessorsAreStable(t *testing.T) {
	e := newEnv(t)
	problems := make(chan string, 1)
	_, base := listen(t, e, func(r *ServerRequest) {
		var p []string
		if r.Headers() != r.Headers() || r.Params() != r.Params() || r.Response() != r.Response() {
			p = append(p, "sub-resources")
		}
		if r.LocalAddress() != r.LocalAddress() || r.RemoteAddress() != r.RemoteAddress() {
			p = append(p, "addresses")
		}
		if r.Response().Headers() != r.Response().Headers() {
			p = append(p, "response headers")
		}
		if r.Method() != MethodGet || r.Query() != "a=b" || !strings.HasSuffix(r.AbsoluteURI(), "/x?a=b") {
			p = append(p, fmt.Sprintf("request line %s %s %s", r.Method(), r.Query(), r.AbsoluteURI()))
		}
		problems <- strings.Join(p, ", ")
		r.Response().End()
	})
	req := NewClient(e.group, e.bus, Config{}).Get(base + "/x?a=b")
	req.End()
	mustAwait(t, req.Response())
	if p := <-problems; p != "" {
		t.Errorf("unstable or wrong: %s", p)
	}
}

func TestChunkedResponseStreams(t *testing.T) {
	e := newEnv(t)
	_, base := listen(t, e, func(r *ServerRequest) {
		resp := r.Response().SetChunked(true)
		for _, s := range []string{"a", "b", "c"} {
			resp.Write(buffer.FromString(s))
		}
		resp.End()
	})
	req := NewClient(e.group, e.bus, Config{}).Get(base + "/")
	req.End()
	resp := mustAwait(t, req.Response())

	var mu sync.Mutex
	var got strings.Builder
	ended := make(chan struct{})
	resp.Handler(func(b *buffer.Buffer) {
		mu.Lock()
		got.WriteString(b.String())
		mu.Unlock()
	})
	resp.EndHandler(func() { close(ended) })
	select {
	case <-ended:
	case <-time.After(5 * time.Second):
		t.Fatal("end handler not called")
	}
	mu.Lock()
	defer mu.Unlock()
	if got.String() != "abc" {
		t.Errorf("body = %q", got.String())
	}
}

func TestSendFile(t *testing.T) {
	e := newEnv(t)
	path := t.TempDir() + "/page.html"
	if err := os.WriteFile(path, []byte("<p>hi</p>"), 0644); err != nil {
		t.Fatal(err)
	}
	_, base := listen(t, e, func(r *ServerRequest) {
		if r.Path() == "/missing" {
			r.Response().SendFile(path + ".nope").OnFailure(func(err error) {
				r.Response().SetStatusCode(http.StatusNotFound).End()
			})
			return
		}
		r.Response().SendFile(path)
	})
	client := NewClient(e.group, e.bus, Config{})

	req := client.Get(base + "/page")
	req.End()
	resp := mustAwait(t, req.Response())
	if ct := resp.Headers().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("content type = %q", ct)
	}
	if body := mustAwait(t, resp.Body()); body.String() != "<p>hi</p>" {
		t.Errorf("body = %q", body.String())
	}

	req = client.Get(base + "/missing")
	req.End()
	if resp := mustAwait(t, req.Response()); resp.StatusCode() != http.StatusNotFound {
		t.Errorf("status = %d", resp.StatusCode())
	}
}

func TestClientLimits(t *testing.T) {
	e := newEnv(t)
	tests := []struct {
		name string
		cfg  Config
		url  string
		kind errors.Kind
	}{
		{"host not allowed", Config{AllowedHosts: []string{"example.com"}}, "http://127.0.0.1:1/", errors.KindPermissionDenied},
		{"url too long", Config{MaxURLLength: 20}, "http://127.0.0.1:1/" + strings.Repeat("a", 20), errors.KindLimitExceeded},
		{"bad scheme", Config{}, "ftp://127.0.0.1/", errors.KindInvalidData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := NewClient(e.group, e.bus, tt.cfg).Get(tt.url)
			req.End()
			if err := awaitErr(t, req.Response()); !errors.IsKind(err, tt.kind) {
				t.Errorf("expected %s, got %v", tt.kind, err)
			}
		})
	}
}

func TestAllowedSubdomain(t *testing.T) {
	cfg := Config{AllowedHosts: []string{"example.com"}}
	if !cfg.hostAllowed("api.example.com") || cfg.hostAllowed("badexample.com") {
		t.Error("subdomain matching is wrong")
	}
}

func TestRequestTimeout(t *testing.T) {
	e := newEnv(t)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()

	req := NewClient(e.group, e.bus, Config{}).Get(ts.URL)
	req.SetTimeout(50 * time.Millisecond)
	req.End()
	if err := awaitErr(t, req.Response()); !errors.IsKind(err, errors.KindTimeout) {
		t.Errorf("expected timeout, got %v", err)
	}
}

func TestResponseBodyLimit(t *testing.T) {
	e := newEnv(t)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 100)))
	}))
	defer ts.Close()

	req := NewClient(e.group, e.bus, Config{MaxBodySize: 10}).Get(ts.URL)
	req.End()
	resp := mustAwait(t, req.Response())
	if err := awaitErr(t, resp.Body()); !errors.IsKind(err, errors.KindLimitExceeded) {
		t.Errorf("expected limit exceeded, got %v", err)
	}
}

func TestWebSocketEcho(t *testing.T) {
	e := newEnv(t)
	paths := make(chan string, 1)
	serverClosed := make(chan struct{})
	srv := NewServer(e.group, e.bus).WebSocketHandler(func(ws *WebSocket) {
		paths <- ws.Path()
		ws.TextMessageHandler(func(s string) { ws.WriteTextMessage("echo:" + s) })
		ws.Handler(func(b *buffer.Buffer) {
			if b.String() == "bin" {
				ws.WriteBinaryMessage(buffer.FromString("bin-back"))
			}
		})
		ws.CloseHandler(func() { close(serverClosed) })
	})
	mustAwait(t, srv.Listen(0, "127.0.0.1"))
	defer srv.Close()

	client := NewClient(e.group, e.bus, Config{})
	ws := mustAwait(t, client.WebSocket(srv.ActualPort(), "127.0.0.1", "/chat"))
	if p := <-paths; p != "/chat" {
		t.Errorf("server path = %q", p)
	}

	texts := make(chan string, 4)
	binaries := make(chan string, 4)
	ws.TextMessageHandler(func(s string) { texts <- s })
	ws.Handler(func(b *buffer.Buffer) { binaries <- b.String() })

	next := func(ch chan string) string {
		select {
		case s := <-ch:
			return s
		case <-time.After(5 * time.Second):
			t.Fatal("message not received")
			return ""
		}
	}

	ws.WriteTextMessage("hi")
	if s := next(texts); s != "echo:hi" {
		t.Errorf("text = %q", s)
	}
	next(binaries) // text messages reach the data handler too

	e.bus.Send(ws.TextHandlerID(), "via bus", nil)
	if s := next(texts); s != "echo:via bus" {
		t.Errorf("text via bus = %q", s)
	}
	next(binaries)

	ws.Write(buffer.FromString("bin"))
	if s := next(binaries); s != "bin-back" {
		t.Errorf("binary = %q", s)
	}

	mustAwait(t, ws.Close())
	select {
	case <-serverClosed:
	case <-time.After(5 * time.Second):
		t.Fatal("server close handler not called")
	}
}

func TestMethods(t *testing.T) {
	tests := []struct {
		raw  string
		want HttpMethod
	}{
		{"GET", MethodGet},
		{"patch", MethodPatch},
		{"PROPFIND", MethodOther},
	}
	for _, tt := range tests {
		if got := MethodOf(tt.raw); got != tt.want {
			t.Errorf("MethodOf(%q) = %s, want %s", tt.raw, got, tt.want)
		}
	}
	if _, err := HttpVersions.Parse("HTTP_2"); err != nil {
		t.Errorf("HTTP_2: %v", err)
	}
	if _, err := HttpMethods.Parse("get"); !errors.IsKind(err, errors.KindInvalidEnum) {
		t.Errorf("lower case method accepted: %v", err)
	}
}
