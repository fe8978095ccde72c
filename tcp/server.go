// Package tcp implements TCP servers, clients and sockets as streams.
//
// A socket's reader stops while the socket is paused, so at most one read
// chunk waits for Resume. Writes are queued and measured in bytes.
package tcp

import (
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/caffeineduck/vertigo/errors"
	"github.com/caffeineduck/vertigo/eventbus"
	"github.com/caffeineduck/vertigo/eventloop"
	"github.com/caffeineduck/vertigo/future"
	"github.com/caffeineduck/vertigo/stream"
	"go.uber.org/zap"
)

const (
	DefaultConnectTimeout = 60 * time.Second
	DefaultReadBufferSize = 8192
)

type options struct {
	connectTimeout    time.Duration
	readBufferSize    int
	writeQueueMaxSize int
}

// Option configures servers and clients.
type Option func(*options)

func WithConnectTimeout(d time.Duration) Option {
	return func(o *options) {
		o.connectTimeout = d
	}
}

func WithReadBufferSize(n int) Option {
	return func(o *options) {
		o.readBufferSize = n
	}
}

// WithWriteQueueMaxSize sets the initial write queue threshold of each
// socket, in bytes.
func WithWriteQueueMaxSize(n int) Option {
	return func(o *options) {
		o.writeQueueMaxSize = n
	}
}

func buildOptions(opts []Option) options {
	o := options{
		connectTimeout:    DefaultConnectTimeout,
		readBufferSize:    DefaultReadBufferSize,
		writeQueueMaxSize: stream.DefaultWriteQueueMaxSize,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.readBufferSize <= 0 {
		o.readBufferSize = DefaultReadBufferSize
	}
	return o
}

// sockets tracks the live sockets of a server or client.
type sockets struct {
	mu  sync.Mutex
	set map[*Socket]struct{}
}

func (ss *sockets) add(s *Socket) {
	ss.mu.Lock()
	if ss.set == nil {
		ss.set = make(map[*Socket]struct{})
	}
	ss.set[s] = struct{}{}
	ss.mu.Unlock()
}

func (ss *sockets) remove(s *Socket) {
	ss.mu.Lock()
	delete(ss.set, s)
	ss.mu.Unlock()
}

func (ss *sockets) closeAll() {
	ss.mu.Lock()
	all := make([]*Socket, 0, len(ss.set))
	for s := range ss.set {
		all = append(all, s)
	}
	ss.mu.Unlock()
	for _, s := range all {
		s.Close()
	}
}

func (ss *sockets) len() int {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return len(ss.set)
}

// Server accepts TCP connections.
type Server struct {
	group *eventloop.Group
	bus   *eventbus.Bus
	opts  options
	conns sockets

	mu      sync.Mutex
	ln      net.Listener
	ctx     *eventloop.Context
	handler func(*Socket)
	port    int
}

// NewServer creates a server. bus may be nil, in which case sockets have
// no write handler ID.
func NewServer(g *eventloop.Group, bus *eventbus.Bus, opts ...Option) *Server {
	return &Server{group: g, bus: bus, opts: buildOptions(opts)}
}

// ConnectHandler sets the handler called with every accepted socket.
func (s *Server) ConnectHandler(h func(*Socket)) *Server {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
	return s
}

// Listen binds host:port. Port 0 picks a free port, see ActualPort.
// Accepted sockets and the handler run on the calling context.
func (s *Server) Listen(port int, host string) *future.Future[*Server] {
	ctx := s.group.OrCreate()
	p := future.NewPromise[*Server](ctx)
	go func() {
		s.mu.Lock()
		if s.ln != nil {
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
		s.ln = ln
		s.ctx = ctx
		s.port = ln.Addr().(*net.TCPAddr).Port
		s.mu.Unlock()

		Logger().Info("tcp server listening", zap.String("addr", ln.Addr().String()))
		go s.accept(ln, ctx)
		p.Complete(s)
	}()
	return p.Future()
}

func (s *Server) accept(ln net.Listener, ctx *eventloop.Context) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			Logger().Debug("accept loop stopped", zap.Error(err))
			return
		}
		sock := newSocket(conn, ctx, s.bus, s.opts, s.conns.remove)
		s.conns.add(sock)
		s.mu.Lock()
		h := s.handler
		s.mu.Unlock()
		if h == nil {
			sock.Close()
			continue
		}
		ctx.RunOnContext(func() { h(sock) })
	}
}

// ActualPort returns the bound port, or 0 before Listen completes.
func (s *Server) ActualPort() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// Connections returns the number of open sockets.
func (s *Server) Connections() int {
	return s.conns.len()
}

// Close stops listening and closes every accepted socket.
func (s *Server) Close() *future.Future[struct{}] {
	s.mu.Lock()
	ln := s.ln
	s.ln = nil
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	s.conns.closeAll()
	if err != nil {
		return future.FailedFuture[struct{}](errors.Failed(err, "close server"))
	}
	return future.SucceededFuture(struct{}{})
}

// Client opens TCP connections.
type Client struct {
	group *eventloop.Group
	bus   *eventbus.Bus
	opts  options
	conns sockets
}

func NewClient(g *eventloop.Group, bus *eventbus.Bus, opts ...Option) *Client {
	return &Client{group: g, bus: bus, opts: buildOptions(opts)}
}

// Connect dials host:port. A connection not established within the
// connect timeout fails with a timeout.
func (c *Client) Connect(port int, host string) *future.Future[*Socket] {
	ctx := c.group.OrCreate()
	p := future.NewPromise[*Socket](ctx)
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	go func() {
		d := net.Dialer{Timeout: c.opts.connectTimeout}
		conn, err := d.Dial("tcp", addr)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				p.Fail(errors.Timeout(errors.PhaseOperation, "connect to %s timed out", addr))
				return
			}
			p.Fail(errors.Failed(err, "connect to "+addr))
			return
		}
		sock := newSocket(conn, ctx, c.bus, c.opts, c.conns.remove)
		c.conns.add(sock)
		p.Complete(sock)
	}()
	return p.Future()
}

// Close closes every socket opened by the client.
func (c *Client) Close() {
	c.conns.closeAll()
}
