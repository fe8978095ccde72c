package web

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/caffeineduck/vertigo/buffer"
	"github.com/caffeineduck/vertigo/errors"
	"github.com/caffeineduck/vertigo/eventbus"
	"github.com/caffeineduck/vertigo/eventloop"
	"github.com/caffeineduck/vertigo/future"
	"github.com/caffeineduck/vertigo/multimap"
	"github.com/caffeineduck/vertigo/stream"
	"github.com/caffeineduck/vertigo/tcp"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MaxMessageSize is the largest WebSocket message read.
const MaxMessageSize = 1 << 20

const writeTimeout = 30 * time.Second

type message struct {
	text bool
	data []byte
}

func messageSize(m message) int {
	return len(m.data)
}

// WebSocket is an open WebSocket. It reads as a ReadStream of buffers,
// text messages included, and writes binary messages as a WriteStream.
type WebSocket struct {
	conn    *websocket.Conn
	ctx     *eventloop.Context
	path    string
	headers *MultiMap
	local   *tcp.SocketAddress
	remote  *tcp.SocketAddress

	in    *stream.Inbound[message]
	valve *stream.Valve
	out   *stream.Outbound[message]

	textID, binaryID string
	consumers        []*eventbus.Consumer

	readCtx    context.Context
	stopReader context.CancelFunc
	closed     chan struct{}
	closeOnce  sync.Once

	mu      sync.Mutex
	onData  func(*buffer.Buffer)
	onText  func(string)
	onClose func()
}

func newWebSocket(ctx *eventloop.Context, conn *websocket.Conn, bus *eventbus.Bus, path string, headers *MultiMap, local, remote *tcp.SocketAddress) *WebSocket {
	conn.SetReadLimit(MaxMessageSize)
	ws := &WebSocket{
		conn:    conn,
		ctx:     ctx,
		path:    path,
		headers: headers,
		local:   local,
		remote:  remote,
		valve:   stream.NewValve(),
		closed:  make(chan struct{}),
	}
	ws.readCtx, ws.stopReader = context.WithCancel(context.Background())
	ws.in = stream.NewInbound[message](ctx, ws.valve.Hooks(1, 0))
	ws.in.Handler(ws.deliver)
	ws.out = stream.NewOutbound(ctx, ws.sink,
		stream.WithSizer(messageSize),
		stream.WithCloser[message](ws.closeConn),
		stream.WithName[message]("websocket "+path))

	if bus != nil {
		id := uuid.NewString()
		ws.binaryID = "__vertigo.ws.binary." + id
		ws.textID = "__vertigo.ws.text." + id
		binary := bus.LocalConsumer(ws.binaryID)
		binary.Handler(func(m *eventbus.Message) {
			if b, ok := m.Body().(*buffer.Buffer); ok {
				ws.WriteBinaryMessage(b)
			}
		})
		text := bus.LocalConsumer(ws.textID)
		text.Handler(func(m *eventbus.Message) {
			if s, ok := m.Body().(string); ok {
				ws.WriteTextMessage(s)
			}
		})
		ws.consumers = []*eventbus.Consumer{binary, text}
	}
	return ws
}

func (ws *WebSocket) start() {
	go ws.reader()
}

func (ws *WebSocket) reader() {
	for {
		if err := ws.valve.Wait(ws.readCtx); err != nil {
			break
		}
		typ, data, err := ws.conn.Read(ws.readCtx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == -1 && ws.readCtx.Err() == nil && !stderrors.Is(err, net.ErrClosed) {
				ws.in.Fail(errors.Wrap(errors.PhaseStream, errors.KindOperationFailed, err, "websocket read"))
			}
			break
		}
		ws.in.Push(message{text: typ == websocket.MessageText, data: data})
	}
	ws.finish()
}

func (ws *WebSocket) deliver(m message) {
	ws.mu.Lock()
	onData, onText := ws.onData, ws.onText
	ws.mu.Unlock()
	if m.text && onText != nil {
		onText(string(m.data))
	}
	if onData != nil {
		onData(buffer.Wrap(m.data))
	}
}

func (ws *WebSocket) finish() {
	ws.closeOnce.Do(func() {
		ws.stopReader()
		ws.valve.Open()
		ws.in.Finish()
		ws.out.End()
		for _, c := range ws.consumers {
			c.Unregister()
		}
		ws.mu.Lock()
		h := ws.onClose
		ws.mu.Unlock()
		if h != nil {
			ws.ctx.RunOnContext(h)
		}
		close(ws.closed)
		Logger().Debug("websocket closed", zap.String("path", ws.path))
	})
}

func (ws *WebSocket) sink(m message) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	typ := websocket.MessageBinary
	if m.text {
		typ = websocket.MessageText
	}
	return ws.conn.Write(ctx, typ, m.data)
}

func (ws *WebSocket) closeConn() error {
	err := ws.conn.Close(websocket.StatusNormalClosure, "")
	ws.stopReader()
	go ws.finish()
	if err != nil && websocket.CloseStatus(err) == -1 && !stderrors.Is(err, net.ErrClosed) {
		Logger().Debug("websocket close handshake failed", zap.Error(err))
	}
	return nil
}

// Handler receives every message as a buffer.
func (ws *WebSocket) Handler(h func(*buffer.Buffer)) {
	ws.mu.Lock()
	ws.onData = h
	ws.mu.Unlock()
}

// TextMessageHandler receives text messages as strings, before the data
// handler sees them.
func (ws *WebSocket) TextMessageHandler(h func(string)) {
	ws.mu.Lock()
	ws.onText = h
	ws.mu.Unlock()
}

func (ws *WebSocket) Pause() {
	ws.in.Pause()
}

func (ws *WebSocket) Resume() {
	ws.in.Resume()
}

func (ws *WebSocket) EndHandler(h func()) {
	ws.in.EndHandler(h)
}

func (ws *WebSocket) ExceptionHandler(h func(error)) {
	ws.in.ExceptionHandler(h)
	ws.out.ExceptionHandler(h)
}

// Write sends b as a binary message. The buffer is copied.
func (ws *WebSocket) Write(b *buffer.Buffer) {
	ws.WriteBinaryMessage(b)
}

func (ws *WebSocket) WriteBinaryMessage(b *buffer.Buffer) {
	ws.out.Write(message{data: b.Copy().Bytes()})
}

func (ws *WebSocket) WriteTextMessage(s string) {
	ws.out.Write(message{text: true, data: []byte(s)})
}

// End closes the WebSocket after queued messages are sent.
func (ws *WebSocket) End() {
	ws.out.End()
}

// Close is End returning a future that completes once the close
// handshake is done.
func (ws *WebSocket) Close() *future.Future[struct{}] {
	ws.out.End()
	return ws.out.Closed()
}

func (ws *WebSocket) SetWriteQueueMaxSize(n int) {
	ws.out.SetWriteQueueMaxSize(n)
}

func (ws *WebSocket) WriteQueueFull() bool {
	return ws.out.WriteQueueFull()
}

func (ws *WebSocket) DrainHandler(h func()) {
	ws.out.DrainHandler(h)
}

// CloseHandler is called once when the WebSocket is closed by either
// side.
func (ws *WebSocket) CloseHandler(h func()) {
	ws.mu.Lock()
	ws.onClose = h
	ws.mu.Unlock()
}

// TextHandlerID is an event bus address. Strings sent to it are written
// as text messages.
func (ws *WebSocket) TextHandlerID() string {
	return ws.textID
}

// BinaryHandlerID is an event bus address. Buffers sent to it are written
// as binary messages.
func (ws *WebSocket) BinaryHandlerID() string {
	return ws.binaryID
}

// Path returns the path of the upgrade request.
func (ws *WebSocket) Path() string {
	return ws.path
}

// Headers holds the upgrade request headers. It always returns the same
// map.
func (ws *WebSocket) Headers() *MultiMap {
	return ws.headers
}

// LocalAddress is nil for client WebSockets.
func (ws *WebSocket) LocalAddress() *tcp.SocketAddress {
	return ws.local
}

func (ws *WebSocket) RemoteAddress() *tcp.SocketAddress {
	return ws.remote
}

// WebSocket connects to ws://host:port/uri.
func (c *Client) WebSocket(port int, host, uri string) *future.Future[*WebSocket] {
	return c.WebSocketURI("ws://"+net.JoinHostPort(host, strconv.Itoa(port))+uri, nil)
}

// WebSocketURI connects to an absolute ws or wss URI with extra request
// headers, which may be nil.
func (c *Client) WebSocketURI(absoluteURI string, headers *MultiMap) *future.Future[*WebSocket] {
	ctx := c.group.OrCreate()
	u, err := c.check(absoluteURI, "ws", "wss")
	if err != nil {
		return future.FailedFuture[*WebSocket](err)
	}
	p := future.NewPromise[*WebSocket](ctx)
	go func() {
		dctx, cancel := context.WithTimeout(context.Background(), c.cfg.RequestTimeout)
		defer cancel()
		conn, resp, err := websocket.Dial(dctx, u.String(), &websocket.DialOptions{
			HTTPClient: c.http,
			HTTPHeader: headerOf(headers),
		})
		if err != nil {
			if stderrors.Is(err, context.DeadlineExceeded) {
				p.Fail(errors.Timeout(errors.PhaseOperation, "websocket handshake with %s timed out", u.Host))
				return
			}
			p.Fail(errors.Failed(err, "websocket connect to "+u.Host))
			return
		}
		respHeaders := http.Header{}
		if resp != nil {
			respHeaders = resp.Header
		}
		ws := newWebSocket(ctx, conn, c.bus, u.Path, multimap.FromHeader(respHeaders),
			nil, tcp.ParseSocketAddress(u.Host))
		p.Complete(ws)
		ws.start()
	}()
	return p.Future()
}
