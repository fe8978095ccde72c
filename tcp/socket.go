package tcp

import (
	"context"
	stderrors "errors"
	"io"
	"net"
	"os"
	"sync"

	"github.com/caffeineduck/vertigo/buffer"
	"github.com/caffeineduck/vertigo/errors"
	"github.com/caffeineduck/vertigo/eventbus"
	"github.com/caffeineduck/vertigo/eventloop"
	"github.com/caffeineduck/vertigo/future"
	"github.com/caffeineduck/vertigo/stream"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Socket is one TCP connection. It reads as a ReadStream of buffers and
// writes as a WriteStream measured in bytes. Its handlers run on the
// context it was created on.
type Socket struct {
	conn net.Conn
	ctx  *eventloop.Context
	pool *eventloop.WorkerPool

	in    *stream.Inbound[*buffer.Buffer]
	valve *stream.Valve
	out   *stream.Outbound[*buffer.Buffer]

	local  *SocketAddress
	remote *SocketAddress

	writeHandlerID string
	writeConsumer  *eventbus.Consumer

	readCtx    context.Context
	stopReader context.CancelFunc
	readSize   int

	mu        sync.Mutex
	onClose   func()
	closeOnce sync.Once
	closed    bool
	release   func(*Socket)
}

func newSocket(conn net.Conn, ctx *eventloop.Context, bus *eventbus.Bus, o options, release func(*Socket)) *Socket {
	s := &Socket{
		conn:     conn,
		ctx:      ctx,
		pool:     ctx.Group().Pool(),
		valve:    stream.NewValve(),
		local:    AddressOf(conn.LocalAddr()),
		remote:   AddressOf(conn.RemoteAddr()),
		readSize: o.readBufferSize,
		release:  release,
	}
	s.readCtx, s.stopReader = context.WithCancel(context.Background())
	s.in = stream.NewInbound[*buffer.Buffer](ctx, s.valve.Hooks(1, 0))
	s.out = stream.NewOutbound(ctx, s.sink,
		stream.WithSizer(stream.BufferSize),
		stream.WithWriteQueueMaxSize[*buffer.Buffer](o.writeQueueMaxSize),
		stream.WithCloser[*buffer.Buffer](s.closeConn),
		stream.WithName[*buffer.Buffer]("socket "+s.remote.String()))

	if bus != nil {
		s.writeHandlerID = "__vertigo.net." + uuid.NewString()
		s.writeConsumer = bus.LocalConsumer(s.writeHandlerID)
		s.writeConsumer.Handler(func(m *eventbus.Message) {
			if b, ok := m.Body().(*buffer.Buffer); ok {
				s.Write(b)
			}
		})
	}
	go s.reader()
	return s
}

func (s *Socket) reader() {
	for {
		if err := s.valve.Wait(s.readCtx); err != nil {
			break
		}
		data := make([]byte, s.readSize)
		n, err := s.conn.Read(data)
		if n > 0 {
			s.in.Push(buffer.Wrap(data[:n]))
		}
		if err != nil {
			if !stderrors.Is(err, io.EOF) && !stderrors.Is(err, net.ErrClosed) && s.readCtx.Err() == nil {
				s.in.Fail(errors.Wrap(errors.PhaseStream, errors.KindOperationFailed, err, "read from "+s.remote.String()))
			}
			break
		}
	}
	s.finish()
}

// finish runs once, when the connection is gone for either side.
func (s *Socket) finish() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		h := s.onClose
		s.mu.Unlock()

		s.stopReader()
		s.valve.Open()
		s.in.Finish()
		s.out.End()
		if s.writeConsumer != nil {
			s.writeConsumer.Unregister()
		}
		if s.release != nil {
			s.release(s)
		}
		if h != nil {
			s.ctx.RunOnContext(h)
		}
		Logger().Debug("socket closed", zap.Stringer("remote", s.remote))
	})
}

func (s *Socket) sink(b *buffer.Buffer) error {
	_, err := s.conn.Write(b.Bytes())
	return err
}

func (s *Socket) closeConn() error {
	err := s.conn.Close()
	go s.finish()
	if stderrors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (s *Socket) Handler(h func(*buffer.Buffer)) {
	s.in.Handler(h)
}

func (s *Socket) Pause() {
	s.in.Pause()
}

func (s *Socket) Resume() {
	s.in.Resume()
}

// EndHandler fires once the peer has closed its side and every received
// buffer has been delivered.
func (s *Socket) EndHandler(h func()) {
	s.in.EndHandler(h)
}

func (s *Socket) ExceptionHandler(h func(error)) {
	s.in.ExceptionHandler(h)
	s.out.ExceptionHandler(h)
}

// Write queues b. The buffer is copied.
func (s *Socket) Write(b *buffer.Buffer) {
	s.out.Write(b.Copy())
}

// WriteString writes str in the named encoding.
func (s *Socket) WriteString(str, enc string) error {
	b, err := buffer.FromStringEncoded(str, enc)
	if err != nil {
		return err
	}
	s.out.Write(b)
	return nil
}

// SendFile reads the file at path on a worker and writes it.
func (s *Socket) SendFile(path string) *future.Future[struct{}] {
	return eventloop.ExecuteBlocking(s.ctx, s.pool, func() (struct{}, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return struct{}{}, errors.NotFound(errors.PhaseOperation, path)
			}
			return struct{}{}, errors.Failed(err, "send file")
		}
		s.out.Write(buffer.Wrap(data))
		return struct{}{}, nil
	}, true)
}

// End flushes queued writes and closes the connection.
func (s *Socket) End() {
	s.out.End()
}

// Close is End returning a future that completes once the connection is
// closed.
func (s *Socket) Close() *future.Future[struct{}] {
	s.out.End()
	return s.out.Closed()
}

func (s *Socket) SetWriteQueueMaxSize(n int) {
	s.out.SetWriteQueueMaxSize(n)
}

func (s *Socket) WriteQueueFull() bool {
	return s.out.WriteQueueFull()
}

func (s *Socket) DrainHandler(h func()) {
	s.out.DrainHandler(h)
}

// CloseHandler is called once when the connection is closed by either
// side.
func (s *Socket) CloseHandler(h func()) {
	s.mu.Lock()
	s.onClose = h
	s.mu.Unlock()
}

// WriteHandlerID is an event bus address. Buffers sent to it are written
// to the socket, so other contexts can write without touching it.
func (s *Socket) WriteHandlerID() string {
	return s.writeHandlerID
}

// LocalAddress always returns the same value.
func (s *Socket) LocalAddress() *SocketAddress {
	return s.local
}

// RemoteAddress always returns the same value.
func (s *Socket) RemoteAddress() *SocketAddress {
	return s.remote
}

// Context returns the context the socket's handlers run on.
func (s *Socket) Context() *eventloop.Context {
	return s.ctx
}
