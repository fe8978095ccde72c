package web

import (
	stderrors "errors"
	"mime"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/caffeineduck/vertigo/buffer"
	"github.com/caffeineduck/vertigo/errors"
	"github.com/caffeineduck/vertigo/eventbus"
	"github.com/caffeineduck/vertigo/eventloop"
	"github.com/caffeineduck/vertigo/future"
	"github.com/caffeineduck/vertigo/multimap"
	"github.com/caffeineduck/vertigo/stream"
	"github.com/caffeineduck/vertigo/tcp"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// Server serves HTTP requests and WebSocket upgrades.
type Server struct {
	group *eventloop.Group
	bus   *eventbus.Bus

	mu          sync.Mutex
	srv         *http.Server
	ctx         *eventloop.Context
	port        int
	onRequest   func(*ServerRequest)
	onWebSocket func(*WebSocket)
	sockets     map[*WebSocket]struct{}
}

// NewServer creates a server. bus may be nil, in which case WebSockets
// have no handler IDs.
func NewServer(g *eventloop.Group, bus *eventbus.Bus) *Server {
	return &Server{group: g, bus: bus, sockets: make(map[*WebSocket]struct{})}
}

// RequestHandler sets the handler called with every request.
func (s *Server) RequestHandler(h func(*ServerRequest)) *Server {
	s.mu.Lock()
	s.onRequest = h
	s.mu.Unlock()
	return s
}

// WebSocketHandler sets the handler called with every accepted WebSocket.
// Without it, upgrade requests go to the request handler.
func (s *Server) WebSocketHandler(h func(*WebSocket)) *Server {
	s.mu.Lock()
	s.onWebSocket = h
	s.mu.Unlock()
	return s
}

// Listen binds host:port. Port 0 picks a free port, see ActualPort.
// Handlers run on the calling context.
func (s *Server) Listen(port int, host string) *future.Future[*Server] {
	ctx := s.group.OrCreate()
	p := future.NewPromise[*Server](ctx)
	go func() {
		s.mu.Lock()
		if s.srv != nil {
			s.mu.Unlock()
			p.Fail(errors.InvalidState(errors.PhaseOperation, "server already listening"))
			return
		}
		ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err != nil {
			s.mu.Unlock()
			p.Fail(errors.Failed(err, "listen"))
			return
		}
		srv := &http.Server{Handler: s}
		s.srv = srv
		s.ctx = ctx
		s.port = ln.Addr().(*net.TCPAddr).Port
		s.mu.Unlock()

		Logger().Info("http server listening", zap.String("addr", ln.Addr().String()))
		go func() {
			if err := srv.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
				Logger().Warn("http server stopped", zap.Error(err))
			}
		}()
		p.Complete(s)
	}()
	return p.Future()
}

// ActualPort returns the bound port, or 0 before Listen completes.
func (s *Server) ActualPort() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// Close stops listening and closes every connection and WebSocket.
func (s *Server) Close() *future.Future[struct{}] {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	sockets := make([]*WebSocket, 0, len(s.sockets))
	for ws := range s.sockets {
		sockets = append(sockets, ws)
	}
	s.mu.Unlock()

	for _, ws := range sockets {
		ws.Close()
	}
	if srv == nil {
		return future.SucceededFuture(struct{}{})
	}
	if err := srv.Close(); err != nil {
		return future.FailedFuture[struct{}](errors.Failed(err, "close http server"))
	}
	return future.SucceededFuture(struct{}{})
}

func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// ServeHTTP dispatches r to the handlers and blocks until the response is
// ended or the client goes away.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	ctx := s.ctx
	onRequest, onWebSocket := s.onRequest, s.onWebSocket
	s.mu.Unlock()
	if ctx == nil {
		ctx = s.group.OrCreate()
	}

	if onWebSocket != nil && isUpgrade(r) {
		s.serveWebSocket(ctx, w, r, onWebSocket)
		return
	}
	if onRequest == nil {
		http.NotFound(w, r)
		return
	}

	req := newServerRequest(ctx, w, r)
	ctx.RunOnContext(func() { onRequest(req) })
	req.resp.wait(r)
	req.stop()
}

func (s *Server) serveWebSocket(ctx *eventloop.Context, w http.ResponseWriter, r *http.Request, h func(*WebSocket)) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		Logger().Debug("websocket upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	local, _ := r.Context().Value(http.LocalAddrContextKey).(net.Addr)
	ws := newWebSocket(ctx, conn, s.bus, r.URL.Path, multimap.FromHeader(r.Header),
		tcp.AddressOf(local), tcp.ParseSocketAddress(r.RemoteAddr))

	s.mu.Lock()
	s.sockets[ws] = struct{}{}
	s.mu.Unlock()

	ctx.RunOnContext(func() { h(ws) })
	ws.start()
	<-ws.closed
	s.mu.Lock()
	delete(s.sockets, ws)
	s.mu.Unlock()
}

// ServerRequest is a received request. Its body is a ReadStream of
// buffers that starts flowing once a handler is installed.
type ServerRequest struct {
	*bodyReader

	r       *http.Request
	resp    *ServerResponse
	headers *MultiMap
	params  *MultiMap
	local   *tcp.SocketAddress
	remote  *tcp.SocketAddress
}

func newServerRequest(ctx *eventloop.Context, w http.ResponseWriter, r *http.Request) *ServerRequest {
	local, _ := r.Context().Value(http.LocalAddrContextKey).(net.Addr)
	return &ServerRequest{
		bodyReader: newBodyReader(ctx, r.Body, 0, "request", nil),
		r:          r,
		resp:       newServerResponse(ctx, w, r.Method == http.MethodHead),
		headers:    multimap.FromHeader(r.Header),
		params:     multimap.FromValues(r.URL.Query()),
		local:      tcp.AddressOf(local),
		remote:     tcp.ParseSocketAddress(r.RemoteAddr),
	}
}

func (r *ServerRequest) Method() HttpMethod {
	return MethodOf(r.r.Method)
}

func (r *ServerRequest) RawMethod() string {
	return r.r.Method
}

// URI returns the request target as sent, path and query.
func (r *ServerRequest) URI() string {
	return r.r.RequestURI
}

func (r *ServerRequest) Path() string {
	return r.r.URL.Path
}

// Query returns the raw query string without the leading '?'.
func (r *ServerRequest) Query() string {
	return r.r.URL.RawQuery
}

func (r *ServerRequest) Version() HttpVersion {
	return versionOf(r.r.ProtoMajor, r.r.ProtoMinor)
}

func (r *ServerRequest) AbsoluteURI() string {
	scheme := "http"
	if r.r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.r.Host + r.r.RequestURI
}

// Headers always returns the same map.
func (r *ServerRequest) Headers() *MultiMap {
	return r.headers
}

// Params holds the query parameters. It always returns the same map.
func (r *ServerRequest) Params() *MultiMap {
	return r.params
}

// Response always returns the same response.
func (r *ServerRequest) Response() *ServerResponse {
	return r.resp
}

func (r *ServerRequest) LocalAddress() *tcp.SocketAddress {
	return r.local
}

func (r *ServerRequest) RemoteAddress() *tcp.SocketAddress {
	return r.remote
}

// frame is one write to a ServerResponse. The first frame carries the
// head.
type frame struct {
	header http.Header
	status int
	data   []byte
	flush  bool
}

func frameSize(f frame) int {
	return len(f.data)
}

// ServerResponse is the response to a ServerRequest, written as a
// WriteStream of buffers. The status and headers are sent with the first
// write or with End.
type ServerResponse struct {
	w       http.ResponseWriter
	ctx     *eventloop.Context
	out     *stream.Outbound[frame]
	headers *MultiMap
	done    chan struct{}
	head    bool

	mu          sync.Mutex
	status      int
	message     string
	chunked     bool
	headWritten bool
	onClose     func()
	closeOnce   sync.Once
}

func newServerResponse(ctx *eventloop.Context, w http.ResponseWriter, head bool) *ServerResponse {
	r := &ServerResponse{
		w:       w,
		ctx:     ctx,
		headers: multimap.New(),
		status:  http.StatusOK,
		done:    make(chan struct{}),
		head:    head,
	}
	r.out = stream.NewOutbound(ctx, r.sink,
		stream.WithSizer(frameSize),
		stream.WithCloser[frame](r.closeResponse),
		stream.WithName[frame]("response"))
	return r
}

func (r *ServerResponse) sink(f frame) error {
	if f.header != nil {
		dst := r.w.Header()
		for name, values := range f.header {
			dst[name] = values
		}
		r.w.WriteHeader(f.status)
	}
	if len(f.data) > 0 && !r.head {
		if _, err := r.w.Write(f.data); err != nil {
			return err
		}
	}
	if f.flush {
		if fl, ok := r.w.(http.Flusher); ok {
			fl.Flush()
		}
	}
	return nil
}

func (r *ServerResponse) closeResponse() error {
	r.closeOnce.Do(func() { close(r.done) })
	return nil
}

// wait blocks until the response is done. A client that goes away first
// aborts the response and fires the close handler.
func (r *ServerResponse) wait(req *http.Request) {
	select {
	case <-r.done:
		return
	case <-req.Context().Done():
		select {
		case <-r.done:
			return
		default:
		}
	}
	r.out.Abort()
	<-r.done
	r.mu.Lock()
	h := r.onClose
	r.mu.Unlock()
	if h != nil {
		r.ctx.RunOnContext(h)
	}
	Logger().Debug("connection closed before response ended", zap.String("uri", req.RequestURI))
}

func (r *ServerResponse) SetStatusCode(code int) *ServerResponse {
	r.mu.Lock()
	r.status = code
	r.mu.Unlock()
	return r
}

func (r *ServerResponse) StatusCode() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// SetStatusMessage records the reason phrase. The standard library always
// sends the standard phrase for the status code.
func (r *ServerResponse) SetStatusMessage(msg string) *ServerResponse {
	r.mu.Lock()
	r.message = msg
	r.mu.Unlock()
	return r
}

func (r *ServerResponse) StatusMessage() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.message != "" {
		return r.message
	}
	return http.StatusText(r.status)
}

// Headers always returns the same map. Changes after the head was written
// have no effect.
func (r *ServerResponse) Headers() *MultiMap {
	return r.headers
}

func (r *ServerResponse) PutHeader(name, value string) *ServerResponse {
	r.headers.Set(name, value)
	return r
}

// SetChunked flushes every write to the client as it happens.
func (r *ServerResponse) SetChunked(chunked bool) *ServerResponse {
	r.mu.Lock()
	r.chunked = chunked
	r.mu.Unlock()
	return r
}

func (r *ServerResponse) IsChunked() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.chunked
}

func (r *ServerResponse) HeadWritten() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.headWritten
}

func (r *ServerResponse) frame(data []byte) frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	f := frame{data: data, flush: r.chunked}
	if !r.headWritten {
		r.headWritten = true
		f.header = headerOf(r.headers)
		f.status = r.status
	}
	return f
}

// Write queues b, writing the head first if needed. The buffer is copied.
func (r *ServerResponse) Write(b *buffer.Buffer) {
	r.out.Write(r.frame(b.Copy().Bytes()))
}

// WriteString writes str in the named encoding.
func (r *ServerResponse) WriteString(str, enc string) error {
	b, err := buffer.FromStringEncoded(str, enc)
	if err != nil {
		return err
	}
	r.out.Write(r.frame(b.Bytes()))
	return nil
}

// End finishes the response. A response without writes is sent with an
// empty body.
func (r *ServerResponse) End() {
	if !r.out.Ended() && !r.HeadWritten() {
		r.out.Write(r.frame(nil))
	}
	r.out.End()
}

// Ended reports whether End was called.
func (r *ServerResponse) Ended() bool {
	return r.out.Ended()
}

// Closed completes once the response has been handed to the connection.
func (r *ServerResponse) Closed() *future.Future[struct{}] {
	return r.out.Closed()
}

// SendFile reads the file at path on a worker, sends it as the whole body
// and ends the response.
func (r *ServerResponse) SendFile(path string) *future.Future[struct{}] {
	data := eventloop.ExecuteBlocking(r.ctx, nil, func() ([]byte, error) {
		b, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, errors.NotFound(errors.PhaseOperation, path)
			}
			return nil, errors.Failed(err, "send file")
		}
		return b, nil
	}, true)
	return future.Compose(data, func(b []byte) *future.Future[struct{}] {
		if r.HeadWritten() {
			return future.FailedFuture[struct{}](errors.InvalidState(errors.PhaseOperation, "response head already written"))
		}
		if !r.headers.Contains("Content-Type") {
			ct := mime.TypeByExtension(filepath.Ext(path))
			if ct == "" {
				ct = http.DetectContentType(b)
			}
			r.headers.Set("Content-Type", ct)
		}
		r.headers.Set("Content-Length", strconv.Itoa(len(b)))
		r.out.Write(r.frame(b))
		r.out.End()
		return r.out.Closed()
	})
}

func (r *ServerResponse) SetWriteQueueMaxSize(n int) {
	r.out.SetWriteQueueMaxSize(n)
}

func (r *ServerResponse) WriteQueueFull() bool {
	return r.out.WriteQueueFull()
}

func (r *ServerResponse) DrainHandler(h func()) {
	r.out.DrainHandler(h)
}

func (r *ServerResponse) ExceptionHandler(h func(error)) {
	r.out.ExceptionHandler(h)
}

// CloseHandler is called if the connection closes before the response
// was ended.
func (r *ServerResponse) CloseHandler(h func()) {
	r.mu.Lock()
	r.onClose = h
	r.mu.Unlock()
}
