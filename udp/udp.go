// Package udp implements datagram sockets. A socket is a ReadStream of
// packets; packets that arrive while it is paused are dropped.
package udp

import (
	stderrors "errors"
	"net"
	"strconv"
	"sync"

	"github.com/caffeineduck/vertigo/buffer"
	"github.com/caffeineduck/vertigo/errors"
	"github.com/caffeineduck/vertigo/eventloop"
	"github.com/caffeineduck/vertigo/future"
	"github.com/caffeineduck/vertigo/stream"
	"github.com/caffeineduck/vertigo/tcp"
	"go.uber.org/zap"
)

// MaxPacketSize is the largest datagram read.
const MaxPacketSize = 65536

// Packet is one received datagram.
type Packet struct {
	Sender *tcp.SocketAddress
	Data   *buffer.Buffer
}

// Socket is a datagram socket. It binds on Listen, or on an ephemeral
// port at the first Send.
type Socket struct {
	group *eventloop.Group
	ctx   *eventloop.Context
	in    *stream.Inbound[*Packet]

	mu     sync.Mutex
	conn   *net.UDPConn
	local  *tcp.SocketAddress
	closed bool
}

// NewSocket creates an unbound socket whose handlers run on the calling
// context.
func NewSocket(g *eventloop.Group) *Socket {
	ctx := g.OrCreate()
	return &Socket{
		group: g,
		ctx:   ctx,
		in:    stream.NewInbound[*Packet](ctx, stream.WithPolicy(stream.DropWhilePaused)),
	}
}

func (s *Socket) bindLocked(addr *net.UDPAddr) error {
	if s.closed {
		return errors.Closed(errors.PhaseOperation, "datagram socket")
	}
	if s.conn != nil {
		return errors.InvalidState(errors.PhaseOperation, "datagram socket already bound")
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return errors.Failed(err, "bind")
	}
	s.conn = conn
	s.local = tcp.AddressOf(conn.LocalAddr())
	go s.reader(conn)
	return nil
}

// Listen binds host:port and starts receiving.
func (s *Socket) Listen(port int, host string) *future.Future[*Socket] {
	return eventloop.ExecuteBlocking(s.ctx, nil, func() (*Socket, error) {
		addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err != nil {
			return nil, errors.Failed(err, "resolve "+host)
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if err := s.bindLocked(addr); err != nil {
			return nil, err
		}
		Logger().Info("datagram socket listening", zap.Stringer("addr", s.local))
		return s, nil
	}, true)
}

func (s *Socket) reader(conn *net.UDPConn) {
	data := make([]byte, MaxPacketSize)
	for {
		n, from, err := conn.ReadFromUDP(data)
		if err != nil {
			if !stderrors.Is(err, net.ErrClosed) {
				s.in.Fail(errors.Wrap(errors.PhaseStream, errors.KindOperationFailed, err, "receive"))
			}
			s.in.Finish()
			return
		}
		p := &Packet{Sender: tcp.AddressOf(from), Data: buffer.FromBytes(data[:n])}
		if !s.in.Push(p) {
			Logger().Debug("dropping datagram", zap.Stringer("from", p.Sender), zap.Int("size", n))
		}
	}
}

// Send sends b to host:port. Sends from one context go out in call order.
func (s *Socket) Send(b *buffer.Buffer, port int, host string) *future.Future[struct{}] {
	data := b.Copy()
	return eventloop.ExecuteBlocking(s.ctx, nil, func() (struct{}, error) {
		addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err != nil {
			return struct{}{}, errors.Failed(err, "resolve "+host)
		}
		s.mu.Lock()
		if s.conn == nil {
			if err := s.bindLocked(nil); err != nil {
				s.mu.Unlock()
				return struct{}{}, err
			}
		}
		conn := s.conn
		s.mu.Unlock()
		if _, err := conn.WriteToUDP(data.Bytes(), addr); err != nil {
			return struct{}{}, errors.Failed(err, "send")
		}
		return struct{}{}, nil
	}, true)
}

// SendString sends str in the named encoding.
func (s *Socket) SendString(str, enc string, port int, host string) *future.Future[struct{}] {
	b, err := buffer.FromStringEncoded(str, enc)
	if err != nil {
		return future.FailedFuture[struct{}](err)
	}
	return s.Send(b, port, host)
}

// Sender returns a write stream sending every buffer to host:port.
func (s *Socket) Sender(port int, host string) *PacketWriter {
	w := &PacketWriter{socket: s, port: port, host: host}
	w.Outbound = stream.NewOutbound(s.ctx, w.send,
		stream.WithSizer(stream.BufferSize),
		stream.WithName[*buffer.Buffer]("packet writer "+net.JoinHostPort(host, strconv.Itoa(port))))
	return w
}

// LocalAddress returns the bound address, or nil before binding. The
// same value is returned on every call.
func (s *Socket) LocalAddress() *tcp.SocketAddress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.local
}

func (s *Socket) Handler(h func(*Packet)) {
	s.in.Handler(h)
}

func (s *Socket) Pause() {
	s.in.Pause()
}

func (s *Socket) Resume() {
	s.in.Resume()
}

func (s *Socket) EndHandler(h func()) {
	s.in.EndHandler(h)
}

func (s *Socket) ExceptionHandler(h func(error)) {
	s.in.ExceptionHandler(h)
}

// Dropped returns the number of packets dropped while paused.
func (s *Socket) Dropped() int64 {
	return s.in.Dropped()
}

// Close unbinds the socket. The end handler fires once.
func (s *Socket) Close() *future.Future[struct{}] {
	s.mu.Lock()
	conn := s.conn
	s.closed = true
	s.mu.Unlock()
	if conn == nil {
		s.in.Finish()
		return future.SucceededFuture(struct{}{})
	}
	if err := conn.Close(); err != nil && !stderrors.Is(err, net.ErrClosed) {
		return future.FailedFuture[struct{}](errors.Failed(err, "close"))
	}
	return future.SucceededFuture(struct{}{})
}

// PacketWriter is a WriteStream of buffers sent as datagrams to one
// address.
type PacketWriter struct {
	*stream.Outbound[*buffer.Buffer]

	socket *Socket
	port   int
	host   string
}

// send runs on the writer goroutine, so it may wait for the datagram.
func (w *PacketWriter) send(b *buffer.Buffer) error {
	f := w.socket.Send(b, w.port, w.host)
	<-f.Done()
	r, _ := f.Result()
	return r.Err()
}
