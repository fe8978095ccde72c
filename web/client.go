package web

import (
	"context"
	stderrors "errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/caffeineduck/vertigo/buffer"
	"github.com/caffeineduck/vertigo/errors"
	"github.com/caffeineduck/vertigo/eventbus"
	"github.com/caffeineduck/vertigo/eventloop"
	"github.com/caffeineduck/vertigo/future"
	"github.com/caffeineduck/vertigo/multimap"
	"github.com/caffeineduck/vertigo/stream"
	"go.uber.org/zap"
)

// Client issues HTTP requests within the limits of its Config.
type Client struct {
	group *eventloop.Group
	bus   *eventbus.Bus
	cfg   Config
	http  *http.Client
}

// NewClient creates a client. bus may be nil, in which case WebSockets
// have no handler IDs.
func NewClient(g *eventloop.Group, bus *eventbus.Bus, cfg Config) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		group: g,
		bus:   bus,
		cfg:   cfg,
		http:  &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()},
	}
}

func (c *Client) check(raw string, schemes ...string) (*url.URL, error) {
	if len(raw) > c.cfg.MaxURLLength {
		return nil, errors.LimitExceeded(errors.PhaseOperation, "url length", int64(c.cfg.MaxURLLength))
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseOperation, errors.KindInvalidData, err, "invalid url")
	}
	ok := false
	for _, s := range schemes {
		ok = ok || u.Scheme == s
	}
	if !ok {
		return nil, errors.InvalidData(errors.PhaseOperation, "unsupported scheme "+u.Scheme)
	}
	if !c.cfg.hostAllowed(u.Hostname()) {
		return nil, errors.PermissionDenied(errors.PhaseOperation, "host not allowed: "+u.Hostname())
	}
	return u, nil
}

// Request creates a request for an absolute http or https URI. Nothing is
// sent until the request is written to or ended.
func (c *Client) Request(method HttpMethod, absoluteURI string) *ClientRequest {
	return c.RawRequest(method.String(), absoluteURI)
}

// RawRequest is Request with a method outside the enumeration.
func (c *Client) RawRequest(method, absoluteURI string) *ClientRequest {
	u, err := c.check(absoluteURI, "http", "https")
	return newClientRequest(c, method, u, err)
}

// RequestHost creates a plain http request to host:port.
func (c *Client) RequestHost(method HttpMethod, port int, host, uri string) *ClientRequest {
	return c.Request(method, "http://"+net.JoinHostPort(host, strconv.Itoa(port))+uri)
}

func (c *Client) Get(absoluteURI string) *ClientRequest {
	return c.Request(MethodGet, absoluteURI)
}

func (c *Client) Post(absoluteURI string) *ClientRequest {
	return c.Request(MethodPost, absoluteURI)
}

func (c *Client) Put(absoluteURI string) *ClientRequest {
	return c.Request(MethodPut, absoluteURI)
}

func (c *Client) Delete(absoluteURI string) *ClientRequest {
	return c.Request(MethodDelete, absoluteURI)
}

func (c *Client) Head(absoluteURI string) *ClientRequest {
	return c.Request(MethodHead, absoluteURI)
}

// Close drops idle connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

// ClientRequest is an outgoing request. Its body is a WriteStream of
// buffers streamed to the server; a request ended without writes has no
// body.
type ClientRequest struct {
	client  *Client
	ctx     *eventloop.Context
	method  string
	url     *url.URL
	headers *MultiMap

	out *stream.Outbound[*buffer.Buffer]
	pr  *io.PipeReader
	pw  *io.PipeWriter

	response *future.Promise[*ClientResponse]

	mu       sync.Mutex
	sent     bool
	written  bool
	chunked  bool
	timeout  time.Duration
	onError  func(error)
	onResult func(*ClientResponse)
}

func newClientRequest(c *Client, method string, u *url.URL, err error) *ClientRequest {
	ctx := c.group.OrCreate()
	r := &ClientRequest{
		client:   c,
		ctx:      ctx,
		method:   method,
		url:      u,
		headers:  multimap.New(),
		timeout:  c.cfg.RequestTimeout,
		response: future.NewPromise[*ClientResponse](ctx),
	}
	r.pr, r.pw = io.Pipe()
	name := "request"
	if u != nil {
		name = "request to " + u.Host
	}
	r.out = stream.NewOutbound(ctx, r.sink,
		stream.WithSizer(stream.BufferSize),
		stream.WithCloser[*buffer.Buffer](r.pw.Close),
		stream.WithName[*buffer.Buffer](name))
	r.response.Future().OnComplete(func(res future.Result[*ClientResponse]) {
		r.mu.Lock()
		onResult, onError := r.onResult, r.onError
		r.mu.Unlock()
		if res.Failed() {
			if onError != nil {
				onError(res.Err())
			}
			return
		}
		if onResult != nil {
			onResult(res.Value())
		}
	})
	if err != nil {
		r.sent = true
		r.pr.CloseWithError(err)
		r.response.Fail(err)
	}
	return r
}

func (r *ClientRequest) sink(b *buffer.Buffer) error {
	_, err := r.pw.Write(b.Bytes())
	return err
}

// Headers always returns the same map. Changes after the request was
// sent have no effect.
func (r *ClientRequest) Headers() *MultiMap {
	return r.headers
}

func (r *ClientRequest) PutHeader(name, value string) *ClientRequest {
	r.headers.Set(name, value)
	return r
}

func (r *ClientRequest) Method() HttpMethod {
	return MethodOf(r.method)
}

func (r *ClientRequest) URI() string {
	if r.url == nil {
		return ""
	}
	return r.url.RequestURI()
}

func (r *ClientRequest) AbsoluteURI() string {
	if r.url == nil {
		return ""
	}
	return r.url.String()
}

// SetChunked sends the body with chunked transfer encoding.
func (r *ClientRequest) SetChunked(chunked bool) *ClientRequest {
	r.mu.Lock()
	r.chunked = chunked
	r.mu.Unlock()
	return r
}

func (r *ClientRequest) IsChunked() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.chunked
}

// SetTimeout bounds the time until the response headers arrive. Zero
// disables the timeout.
func (r *ClientRequest) SetTimeout(d time.Duration) *ClientRequest {
	r.mu.Lock()
	r.timeout = d
	r.mu.Unlock()
	return r
}

// Handler is called with the response.
func (r *ClientRequest) Handler(h func(*ClientResponse)) *ClientRequest {
	r.mu.Lock()
	r.onResult = h
	r.mu.Unlock()
	return r
}

// Response completes with the response, or fails when the request could
// not be sent. A request timing out fails with a timeout error.
func (r *ClientRequest) Response() *future.Future[*ClientResponse] {
	return r.response.Future()
}

func (r *ClientRequest) ExceptionHandler(h func(error)) {
	r.mu.Lock()
	r.onError = h
	r.mu.Unlock()
	r.out.ExceptionHandler(h)
}

// Write queues b for the body and sends the request if it was not sent
// yet. The buffer is copied.
func (r *ClientRequest) Write(b *buffer.Buffer) {
	r.mu.Lock()
	r.written = true
	r.mu.Unlock()
	r.send()
	r.out.Write(b.Copy())
}

// WriteString writes str in the named encoding.
func (r *ClientRequest) WriteString(str, enc string) error {
	b, err := buffer.FromStringEncoded(str, enc)
	if err != nil {
		return err
	}
	r.Write(b)
	return nil
}

// End finishes the body, sending the request first if needed.
func (r *ClientRequest) End() {
	r.send()
	r.out.End()
}

func (r *ClientRequest) SetWriteQueueMaxSize(n int) {
	r.out.SetWriteQueueMaxSize(n)
}

func (r *ClientRequest) WriteQueueFull() bool {
	return r.out.WriteQueueFull()
}

func (r *ClientRequest) DrainHandler(h func()) {
	r.out.DrainHandler(h)
}

// Sent reports whether the request has been dispatched.
func (r *ClientRequest) Sent() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent
}

func (r *ClientRequest) send() {
	r.mu.Lock()
	if r.sent {
		r.mu.Unlock()
		return
	}
	r.sent = true
	withBody := r.written
	chunked := r.chunked
	timeout := r.timeout
	r.mu.Unlock()

	header := headerOf(r.headers)
	go r.do(header, withBody, chunked, timeout)
}

func (r *ClientRequest) do(header http.Header, withBody, chunked bool, timeout time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	var timedOut atomic.Bool
	if timeout > 0 {
		t := time.AfterFunc(timeout, func() {
			timedOut.Store(true)
			cancel()
		})
		defer t.Stop()
	}
	var body io.Reader
	if withBody {
		body = r.pr
	}
	req, err := http.NewRequestWithContext(ctx, r.method, r.url.String(), body)
	if err != nil {
		cancel()
		r.fail(errors.Wrap(errors.PhaseOperation, errors.KindInvalidData, err, "build request"))
		return
	}
	req.Header = header
	if host := header.Get("Host"); host != "" {
		req.Host = host
	}
	if chunked && withBody {
		req.TransferEncoding = []string{"chunked"}
	} else if cl := header.Get("Content-Length"); cl != "" && withBody {
		req.ContentLength, _ = strconv.ParseInt(cl, 10, 64)
	}

	resp, err := r.client.http.Do(req)
	if err != nil {
		cancel()
		if timedOut.Load() || stderrors.Is(err, context.DeadlineExceeded) {
			r.fail(errors.Timeout(errors.PhaseOperation, "request to %s timed out after %s", r.url.Host, timeout))
			return
		}
		r.fail(errors.Failed(err, r.method+" "+r.url.String()))
		return
	}
	Logger().Debug("http response",
		zap.String("method", r.method),
		zap.String("url", r.url.String()),
		zap.Int("status", resp.StatusCode))
	r.response.Complete(newClientResponse(r.ctx, resp, r.client.cfg.MaxBodySize, cancel))
}

func (r *ClientRequest) fail(err error) {
	r.pr.CloseWithError(err)
	r.response.Fail(err)
}

// ClientResponse is a received response. Its body is a ReadStream of
// buffers that starts flowing once a handler is installed.
type ClientResponse struct {
	*bodyReader

	resp     *http.Response
	headers  *MultiMap
	trailers *MultiMap
	cookies  []string
}

func newClientResponse(ctx *eventloop.Context, resp *http.Response, limit int64, cancel context.CancelFunc) *ClientResponse {
	cr := &ClientResponse{
		resp:     resp,
		headers:  multimap.FromHeader(resp.Header),
		trailers: multimap.New(),
		cookies:  resp.Header.Values("Set-Cookie"),
	}
	cr.bodyReader = newBodyReader(ctx, resp.Body, limit, "response", func() {
		for name, values := range resp.Trailer {
			for _, v := range values {
				cr.trailers.Add(name, v)
			}
		}
		cancel()
	})
	return cr
}

func (r *ClientResponse) StatusCode() int {
	return r.resp.StatusCode
}

// StatusMessage returns the reason phrase.
func (r *ClientResponse) StatusMessage() string {
	code := strconv.Itoa(r.resp.StatusCode)
	if len(r.resp.Status) > len(code)+1 && r.resp.Status[:len(code)] == code {
		return r.resp.Status[len(code)+1:]
	}
	return http.StatusText(r.resp.StatusCode)
}

func (r *ClientResponse) Version() HttpVersion {
	return versionOf(r.resp.ProtoMajor, r.resp.ProtoMinor)
}

// Headers always returns the same map.
func (r *ClientResponse) Headers() *MultiMap {
	return r.headers
}

// Trailers always returns the same map. It is filled once the body has
// been read.
func (r *ClientResponse) Trailers() *MultiMap {
	return r.trailers
}

// Cookies returns the raw Set-Cookie values.
func (r *ClientResponse) Cookies() []string {
	return r.cookies
}
