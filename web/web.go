// Package web implements HTTP clients and servers whose bodies are
// streams, plus WebSockets.
//
// Request and response bodies are read by a goroutine gated by a valve, so
// a paused body holds at most one chunk. Writes are queued and measured in
// bytes; a server response is held open until it is ended or the
// connection goes away.
package web

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/caffeineduck/vertigo/buffer"
	"github.com/caffeineduck/vertigo/errors"
	"github.com/caffeineduck/vertigo/eventloop"
	"github.com/caffeineduck/vertigo/future"
	"github.com/caffeineduck/vertigo/multimap"
	"github.com/caffeineduck/vertigo/stream"
	"github.com/caffeineduck/vertigo/value"
)

const (
	DefaultMaxURLLength   = 8192
	DefaultMaxBodySize    = 1 << 20 // 1MB
	DefaultRequestTimeout = 30 * time.Second
	DefaultReadBufferSize = 8192
)

// MultiMap holds headers and parameters.
type MultiMap = multimap.MultiMap

// HttpMethod is a request method. Methods outside the enumeration are
// MethodOther; their name is available from RawMethod.
type HttpMethod int

const (
	MethodOptions HttpMethod = iota
	MethodGet
	MethodHead
	MethodPost
	MethodPut
	MethodDelete
	MethodTrace
	MethodConnect
	MethodPatch
	MethodOther
)

var HttpMethods = value.NewEnum[HttpMethod]("HttpMethod",
	"OPTIONS", "GET", "HEAD", "POST", "PUT", "DELETE", "TRACE", "CONNECT", "PATCH", "OTHER")

func (m HttpMethod) String() string {
	return HttpMethods.Name(m)
}

// MethodOf maps a raw method name. Unknown names map to MethodOther.
func MethodOf(raw string) HttpMethod {
	m, err := HttpMethods.Parse(strings.ToUpper(raw))
	if err != nil {
		return MethodOther
	}
	return m
}

// HttpVersion is a protocol version.
type HttpVersion int

const (
	HTTP10 HttpVersion = iota
	HTTP11
	HTTP2
)

var HttpVersions = value.NewEnum[HttpVersion]("HttpVersion", "HTTP_1_0", "HTTP_1_1", "HTTP_2")

func (v HttpVersion) String() string {
	return HttpVersions.Name(v)
}

func versionOf(major, minor int) HttpVersion {
	switch {
	case major >= 2:
		return HTTP2
	case minor == 0:
		return HTTP10
	default:
		return HTTP11
	}
}

// Config limits what a Client may do.
type Config struct {
	// AllowedHosts restricts requests to these hosts and their
	// subdomains. Empty allows every host.
	AllowedHosts   []string
	MaxBodySize    int64
	MaxURLLength   int
	RequestTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxBodySize == 0 {
		c.MaxBodySize = DefaultMaxBodySize
	}
	if c.MaxURLLength == 0 {
		c.MaxURLLength = DefaultMaxURLLength
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	return c
}

func (c Config) hostAllowed(host string) bool {
	if len(c.AllowedHosts) == 0 {
		return true
	}
	for _, allowed := range c.AllowedHosts {
		if allowed == "*" || host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

// bodyReader turns an HTTP body into a ReadStream of buffers. Reading
// starts with the first handler.
type bodyReader struct {
	r        io.ReadCloser
	limit    int64
	readSize int
	name     string
	done     func()

	in    *stream.Inbound[*buffer.Buffer]
	valve *stream.Valve

	start  sync.Once
	cancel context.CancelFunc
	rctx   context.Context

	mu      sync.Mutex
	onData  func(*buffer.Buffer)
	onEnd   func()
	onError func(error)
	collect bool
	body    *buffer.Buffer
	result  *future.Promise[*buffer.Buffer]
}

// newBodyReader reads r on ctx's behalf. limit 0 means unlimited. done
// runs on the reader goroutine after the body is closed.
func newBodyReader(ctx *eventloop.Context, r io.ReadCloser, limit int64, name string, done func()) *bodyReader {
	br := &bodyReader{
		r:        r,
		limit:    limit,
		readSize: DefaultReadBufferSize,
		name:     name,
		done:     done,
		valve:    stream.NewValve(),
		result:   future.NewPromise[*buffer.Buffer](ctx),
	}
	br.rctx, br.cancel = context.WithCancel(context.Background())
	br.in = stream.NewInbound[*buffer.Buffer](ctx, br.valve.Hooks(1, 0))
	br.in.Handler(br.deliver)
	br.in.EndHandler(br.ended)
	br.in.ExceptionHandler(br.failed)
	return br
}

func (br *bodyReader) run() {
	br.start.Do(func() { go br.read() })
}

func (br *bodyReader) read() {
	defer func() {
		br.r.Close()
		if br.done != nil {
			br.done()
		}
	}()
	var total int64
	for {
		if err := br.valve.Wait(br.rctx); err != nil {
			return
		}
		data := make([]byte, br.readSize)
		n, err := br.r.Read(data)
		if n > 0 {
			total += int64(n)
			if br.limit > 0 && total > br.limit {
				br.in.Fail(errors.LimitExceeded(errors.PhaseStream, br.name+" body", br.limit))
				return
			}
			br.in.Push(buffer.Wrap(data[:n]))
		}
		if err != nil {
			if stderrors.Is(err, io.EOF) {
				br.in.Finish()
			} else if br.rctx.Err() == nil {
				br.in.Fail(errors.Wrap(errors.PhaseStream, errors.KindOperationFailed, err, "read "+br.name+" body"))
			}
			return
		}
	}
}

func (br *bodyReader) deliver(b *buffer.Buffer) {
	br.mu.Lock()
	if br.collect {
		if br.body == nil {
			br.body = buffer.New()
		}
		br.body.AppendBuffer(b)
	}
	h := br.onData
	br.mu.Unlock()
	if h != nil {
		h(b)
	}
}

func (br *bodyReader) ended() {
	br.mu.Lock()
	body := br.body
	h := br.onEnd
	br.mu.Unlock()
	if body == nil {
		body = buffer.New()
	}
	br.result.Complete(body)
	if h != nil {
		h()
	}
}

func (br *bodyReader) failed(err error) {
	br.result.Fail(err)
	br.mu.Lock()
	h := br.onError
	br.mu.Unlock()
	if h != nil {
		h(err)
	}
}

func (br *bodyReader) Handler(h func(*buffer.Buffer)) {
	br.mu.Lock()
	br.onData = h
	br.mu.Unlock()
	br.run()
}

func (br *bodyReader) EndHandler(h func()) {
	br.mu.Lock()
	br.onEnd = h
	br.mu.Unlock()
	br.run()
}

func (br *bodyReader) ExceptionHandler(h func(error)) {
	br.mu.Lock()
	br.onError = h
	br.mu.Unlock()
}

func (br *bodyReader) Pause() {
	br.in.Pause()
}

func (br *bodyReader) Resume() {
	br.in.Resume()
}

// Body collects the whole body. Chunks already delivered before the call
// are not included.
func (br *bodyReader) Body() *future.Future[*buffer.Buffer] {
	br.mu.Lock()
	br.collect = true
	br.mu.Unlock()
	br.run()
	return br.result.Future()
}

// BodyHandler calls h with the whole body once it has been read. A nil h
// is ignored.
func (br *bodyReader) BodyHandler(h func(*buffer.Buffer)) {
	if h == nil {
		return
	}
	br.Body().OnSuccess(h)
}

// stop abandons the body.
func (br *bodyReader) stop() {
	br.cancel()
	br.valve.Open()
}

func headerOf(m *MultiMap) http.Header {
	if m == nil {
		return http.Header{}
	}
	return m.Header()
}
