package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
)

func TestHealthEndpoint(t *testing.T) {
	srv := httptest.NewServer(newServeMux(newRuntime(t)))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}
	if string(body) != "ok" {
		t.Errorf("expected 'ok', got %q", body)
	}
}

func TestWebSocketSession(t *testing.T) {
	srv := httptest.NewServer(newServeMux(newRuntime(t)))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/session", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	call := func(req string) gjson.Result {
		t.Helper()
		if err := conn.Write(ctx, websocket.MessageText, []byte(req)); err != nil {
			t.Fatalf("write: %v", err)
		}
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		return gjson.ParseBytes(data)
	}

	res := call(`{"id":1,"target":"Buffer","method":"buffer","args":["ws"]}`)
	id := res.Get(`data.\$handle`).String()
	if res.Get("id").Int() != 1 || id == "" {
		t.Fatalf("buffer() = %s", res.Raw)
	}
	res = call(`{"id":2,"target":"` + id + `","method":"length"}`)
	if res.Get("data").Int() != 2 {
		t.Errorf("length() = %s", res.Raw)
	}
	res = call(`{"id":3,"target":"vertx","method":"nope"}`)
	if res.Get("error.kind").String() != "not_found" {
		t.Errorf("unknown method = %s", res.Raw)
	}
}

func TestServeStdio(t *testing.T) {
	rt := newRuntime(t)
	in := strings.Join([]string{
		`{"id":1,"target":"Buffer","method":"buffer","args":["a"]}`,
		``,
		`{"id":2,"target":"vertx","method":"eventBus"}`,
		`{"id":3,"target":"vertx","method":"setTimer","args":["soon"]}`,
	}, "\n") + "\n"

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetIn(strings.NewReader(in))
	cmd.SetOut(&out)

	if err := serveStdio(context.Background(), cmd, rt, 5*time.Second); err != nil {
		t.Fatalf("serveStdio: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines: %q", len(lines), out.String())
	}
	for i, line := range lines {
		if got := gjson.Get(line, "id").Int(); got != int64(i+1) {
			t.Errorf("line %d has id %d", i, got)
		}
	}
	if gjson.Get(lines[1], `data.\$type`).String() != "EventBus" {
		t.Errorf("eventBus() = %s", lines[1])
	}
	if gjson.Get(lines[2], "error.kind").String() != "invalid_arguments" {
		t.Errorf("setTimer(\"soon\") = %s", lines[2])
	}
}

// syncBuffer is written from session goroutines while the test reads it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRepl(t *testing.T) {
	var out syncBuffer
	r := newRepl(newRuntime(t), &out, 5*time.Second)
	defer r.Close()

	for _, line := range []string{
		`b = Buffer buffer "hi"`,
		`$b appendString " there"`,
		`$b toString`,
		`n = $b length`,
	} {
		if err := r.eval(line); err != nil {
			t.Fatalf("%s: %v", line, err)
		}
	}
	if !strings.Contains(out.String(), `"hi there"`) {
		t.Errorf("output missing result: %q", out.String())
	}
	if r.vars["n"] != "8" {
		t.Errorf("$n = %q", r.vars["n"])
	}
	if _, ok := r.vars["_"]; !ok {
		t.Error("$_ not set after a handle result")
	}

	// Handles substitute into arguments.
	if err := r.eval(`c = Buffer buffer "!"`); err != nil {
		t.Fatal(err)
	}
	if err := r.eval(`$b appendBuffer $c`); err != nil {
		t.Fatal(err)
	}
	if err := r.eval(`$b toString`); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), `"hi there!"`) {
		t.Errorf("appendBuffer with a variable failed: %q", out.String())
	}

	if err := r.eval(`vertx setTimer "soon"`); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "bind/invalid_arguments") {
		t.Errorf("call failure not printed: %q", out.String())
	}

	if err := r.eval(`.methods $b`); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "appendString") {
		t.Errorf(".methods output: %q", out.String())
	}
}

func TestReplCallbacks(t *testing.T) {
	var out syncBuffer
	r := newRepl(newRuntime(t), &out, 5*time.Second)
	defer r.Close()

	if err := r.eval(`vertx setTimer 1, {"$callback":"tick"}`); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(out.String(), "<- tick") {
		if time.Now().After(deadline) {
			t.Fatalf("no callback event: %q", out.String())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestReplErrors(t *testing.T) {
	r := newRepl(newRuntime(t), io.Discard, time.Second)
	defer r.Close()

	for _, line := range []string{
		`Buffer`,
		`$missing toString`,
		`Buffer buffer {not json`,
		`.methods nothing`,
	} {
		if err := r.eval(line); err == nil {
			t.Errorf("%q: expected an error", line)
		}
	}
}
