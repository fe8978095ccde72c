package bind

import (
	"bytes"
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tidwall/gjson"
)

// wire drives a Session and collects what it sends.
type wire struct {
	t   *testing.T
	s   *Session
	out chan gjson.Result
}

func newWire(t *testing.T) (*wire, *Runtime) {
	t.Helper()
	rt := newRuntime(t)
	return wireOn(t, rt), rt
}

// wireOn opens another session on rt.
func wireOn(t *testing.T, rt *Runtime) *wire {
	t.Helper()
	w := &wire{t: t, out: make(chan gjson.Result, 64)}
	w.s = rt.NewSession(func(msg []byte) error {
		w.out <- gjson.ParseBytes(append([]byte(nil), msg...))
		return nil
	})
	t.Cleanup(w.s.Close)
	return w
}

func (w *wire) next() gjson.Result {
	w.t.Helper()
	select {
	case r := <-w.out:
		return r
	case <-time.After(5 * time.Second):
		w.t.Fatal("no message from session")
		return gjson.Result{}
	}
}

// roundTrip sends a request and returns its response, failing on an
// error response.
func (w *wire) roundTrip(line string) gjson.Result {
	w.t.Helper()
	w.s.Handle([]byte(line))
	r := w.next()
	if r.Get("error").Exists() {
		w.t.Fatalf("%s: %s", line, r.Get("error").Raw)
	}
	return r.Get("data")
}

func (w *wire) fails(line string) gjson.Result {
	w.t.Helper()
	w.s.Handle([]byte(line))
	r := w.next()
	if !r.Get("error").Exists() {
		w.t.Fatalf("%s: expected an error, got %s", line, r.Raw)
	}
	return r
}

func TestParseRequest(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		wantErr bool
		args    int
	}{
		{"full", `{"id":1,"target":"vertx","method":"eventBus","args":[1,"a"]}`, false, 2},
		{"no args", `{"id":2,"target":"vertx","method":"eventBus"}`, false, 0},
		{"null args", `{"id":2,"target":"vertx","method":"eventBus","args":null}`, false, 0},
		{"malformed", `{"id":1,`, true, 0},
		{"not an object", `[1,2]`, true, 0},
		{"string id", `{"id":"1","target":"vertx","method":"m"}`, true, 0},
		{"missing target", `{"id":1,"method":"m"}`, true, 0},
		{"empty method", `{"id":1,"target":"vertx","method":""}`, true, 0},
		{"object args", `{"id":1,"target":"vertx","method":"m","args":{}}`, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := parseRequest([]byte(tt.line))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parsed %+v", req)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseRequest: %v", err)
			}
			if len(req.Args) != tt.args {
				t.Errorf("args = %d, want %d", len(req.Args), tt.args)
			}
		})
	}
}

func TestSessionHandles(t *testing.T) {
	w, rt := newWire(t)

	data := w.roundTrip(`{"id":1,"target":"Buffer","method":"buffer","args":["hi"]}`)
	id := data.Get(`\$handle`).String()
	if id == "" || data.Get(`\$type`).String() != KindBuffer {
		t.Fatalf("buffer() = %s", data.Raw)
	}
	if _, ok := rt.Handles().Get(id); !ok {
		t.Fatal("returned object not in the handle table")
	}

	w.roundTrip(`{"id":2,"target":"` + id + `","method":"appendBuffer","args":[{"$buffer":"IHRoZXJl"}]}`)
	if got := w.roundTrip(`{"id":3,"target":"` + id + `","method":"toString"}`).String(); got != "hi there" {
		t.Errorf("toString = %q", got)
	}
	sub := w.roundTrip(`{"id":4,"target":"` + id + `","method":"getBuffer","args":[0,2]}`)
	if sub.Get(`\$type`).String() != KindBuffer {
		t.Errorf("getBuffer = %s", sub.Raw)
	}

	if !w.roundTrip(`{"id":5,"target":"` + id + `","method":"$release"}`).Bool() {
		t.Error("$release of a held handle should report true")
	}
	r := w.fails(`{"id":6,"target":"` + id + `","method":"toString"}`)
	if r.Get("id").Int() != 6 || r.Get("error.kind").String() != "not_found" {
		t.Errorf("released handle: %s", r.Raw)
	}
}

func TestSessionErrors(t *testing.T) {
	w, _ := newWire(t)

	r := w.fails(`not json`)
	if r.Get("id").Int() != 0 || r.Get("error.phase").String() != "protocol" {
		t.Errorf("malformed request: %s", r.Raw)
	}

	r = w.fails(`{"id":7,"target":"vertx","method":"setTimer","args":["soon"]}`)
	if r.Get("id").Int() != 7 || r.Get("error.phase").String() != "bind" ||
		r.Get("error.kind").String() != "invalid_arguments" {
		t.Errorf("bad arguments: %s", r.Raw)
	}

	r = w.fails(`{"id":8,"target":"vertx","method":"setTimer","args":[1,{"$handle":"nope","$type":"Buffer"}]}`)
	if r.Get("error.kind").String() != "not_found" {
		t.Errorf("unknown handle argument: %s", r.Raw)
	}
}

func TestSessionHandlesAreScoped(t *testing.T) {
	a, rt := newWire(t)
	b := wireOn(t, rt)

	theirs := a.roundTrip(`{"id":1,"target":"Buffer","method":"buffer","args":["secret"]}`).Get(`\$handle`).String()
	mine := b.roundTrip(`{"id":1,"target":"Buffer","method":"buffer","args":["mine"]}`).Get(`\$handle`).String()

	tests := []struct {
		name string
		line string
	}{
		{"target", `{"id":2,"target":"` + theirs + `","method":"toString"}`},
		{"argument", `{"id":2,"target":"` + mine + `","method":"appendBuffer","args":[{"$handle":"` + theirs + `","$type":"Buffer"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := b.fails(tt.line)
			if r.Get("error.kind").String() != "not_found" {
				t.Errorf("foreign handle: %s", r.Raw)
			}
		})
	}
	if b.roundTrip(`{"id":3,"target":"` + theirs + `","method":"$release"}`).Bool() {
		t.Error("released a handle the session never held")
	}

	if got := b.roundTrip(`{"id":4,"target":"` + mine + `","method":"toString"}`).String(); got != "mine" {
		t.Errorf("toString = %q", got)
	}
	if got := a.roundTrip(`{"id":5,"target":"` + theirs + `","method":"toString"}`).String(); got != "secret" {
		t.Errorf("owner lost its handle: %q", got)
	}
}

func TestSessionRecoversPanics(t *testing.T) {
	w, rt := newWire(t)
	bogus, err := rt.Wrap(KindBuffer, "not a buffer")
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	w.s.export(bogus)

	r := w.fails(`{"id":9,"target":"` + bogus.ID() + `","method":"length"}`)
	if r.Get("id").Int() != 9 || r.Get("error.kind").String() != "operation_failed" {
		t.Errorf("panicking call: %s", r.Raw)
	}

	id := w.roundTrip(`{"id":10,"target":"Buffer","method":"buffer","args":["abcd"]}`).Get(`\$handle`).String()
	r = w.fails(`{"id":11,"target":"` + id + `","method":"getInt","args":[9007199254740991]}`)
	if r.Get("id").Int() != 11 || r.Get("error.kind").String() != "out_of_bounds" {
		t.Errorf("read far past the end: %s", r.Raw)
	}
}

func TestSessionCallbacks(t *testing.T) {
	w, _ := newWire(t)

	timer := w.roundTrip(`{"id":1,"target":"vertx","method":"setTimer","args":[5,{"$callback":"t1"}]}`)
	ev := w.next()
	if ev.Get("callback").String() != "t1" {
		t.Fatalf("event = %s", ev.Raw)
	}
	if ev.Get("args.0").Int() != timer.Int() {
		t.Errorf("timer event id = %s, want %d", ev.Get("args.0").Raw, timer.Int())
	}

	bus := w.roundTrip(`{"id":2,"target":"vertx","method":"eventBus"}`).Get(`\$handle`).String()
	w.roundTrip(`{"id":3,"target":"` + bus + `","method":"request","args":["nobody",{"a":1},{"sendTimeout":20},{"$callback":"r"}]}`)
	ev = w.next()
	if ev.Get("callback").String() != "r" || ev.Get("args.0").Type != gjson.Null {
		t.Fatalf("event = %s", ev.Raw)
	}
	if ev.Get(`args.1.\$error`).String() == "" {
		t.Errorf("failure not tagged: %s", ev.Raw)
	}
}

func TestSessionKeepsArrivalOrder(t *testing.T) {
	w, _ := newWire(t)

	id := w.roundTrip(`{"id":0,"target":"Buffer","method":"buffer"}`).Get(`\$handle`).String()
	var lines []string
	for i := 1; i <= 50; i++ {
		lines = append(lines, `{"id":`+strconv.Itoa(i)+`,"target":"`+id+`","method":"appendString","args":["`+strconv.Itoa(i%10)+`"]}`)
	}
	if err := w.s.Serve(context.Background(), strings.NewReader(strings.Join(lines, "\n")+"\n")); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	for i := 1; i <= 50; i++ {
		if got := w.next().Get("id").Int(); got != int64(i) {
			t.Fatalf("response %d has id %d", i, got)
		}
	}
	got := w.roundTrip(`{"id":51,"target":"` + id + `","method":"toString"}`).String()
	if !strings.HasPrefix(got, "1234567890") || len(got) != 50 {
		t.Errorf("appends reordered: %q", got)
	}
}

func TestSessionCloseReleasesHandles(t *testing.T) {
	rt := newRuntime(t)
	var buf bytes.Buffer
	var mu sync.Mutex
	send := func(msg []byte) error {
		mu.Lock()
		defer mu.Unlock()
		return LineWriter(&buf)(msg)
	}
	a := rt.NewSession(send)
	b := rt.NewSession(send)

	bus := rt.Vertx()
	eb, _ := bus.Call("eventBus")
	a.encode(eb)
	b.encode(eb)
	id := eb.(*Object).ID()

	a.Close()
	if _, ok := rt.Handles().Get(id); !ok {
		t.Fatal("handle released while another session holds it")
	}
	b.Close()
	if _, ok := rt.Handles().Get(id); ok {
		t.Error("handle kept after the last session closed")
	}

	a.write([]byte(`{}`))
	mu.Lock()
	defer mu.Unlock()
	if buf.Len() != 0 {
		t.Errorf("closed session wrote %q", buf.String())
	}
}
