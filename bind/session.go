package bind

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/caffeineduck/vertigo/errors"
	"github.com/caffeineduck/vertigo/eventloop"
	"github.com/caffeineduck/vertigo/value"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// MaxLineSize bounds one request line.
const MaxLineSize = 4 << 20

// Session serves one remote caller. Its calls run on a single Context in
// arrival order, so a caller observes the same ordering as an in-process
// one. Responses and callback events go through send one at a time.
type Session struct {
	rt   *Runtime
	ctx  *eventloop.Context
	send func(msg []byte) error

	mu     sync.Mutex
	closed bool

	refsMu   sync.Mutex
	exported map[string]struct{}
	released bool
}

// NewSession creates a session writing its messages to send. Each message
// is one JSON document without a trailing newline.
func (rt *Runtime) NewSession(send func(msg []byte) error) *Session {
	return &Session{
		rt:       rt,
		ctx:      rt.vx.Group().Next(),
		send:     send,
		exported: make(map[string]struct{}),
	}
}

// LineWriter frames messages as newline-delimited JSON on w.
func LineWriter(w io.Writer) func(msg []byte) error {
	return func(msg []byte) error {
		_, err := w.Write(append(msg, '\n'))
		return err
	}
}

// Handle decodes one request and queues it on the session's context.
func (s *Session) Handle(line []byte) {
	req, err := parseRequest(line)
	if err != nil {
		Logger().Warn("invalid request", zap.Int64("id", req.ID), zap.Error(err))
		s.reply(response{ID: req.ID, Error: wireErrorOf(err)})
		return
	}
	if !s.ctx.RunOnContext(func() { s.reply(s.call(req)) }) {
		s.reply(response{ID: req.ID, Error: wireErrorOf(errors.Closed(errors.PhaseProtocol, "session context"))})
	}
}

// Serve handles every line of r until it ends or ctx is done.
func (s *Session) Serve(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxLineSize)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		s.Handle(append([]byte(nil), line...))
	}
	return scanner.Err()
}

// Flush waits until every request handled so far has been answered.
// Callback events may still follow.
func (s *Session) Flush(ctx context.Context) error {
	done := make(chan struct{})
	if !s.ctx.RunOnContext(func() { close(done) }) {
		return errors.Closed(errors.PhaseProtocol, "session context")
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops all output and releases the handles the session exported.
// Host objects stay alive; only their table entries go.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.refsMu.Lock()
	ids := s.exported
	s.exported = make(map[string]struct{})
	s.released = true
	s.refsMu.Unlock()
	for id := range ids {
		s.rt.release(id)
	}
}

func (s *Session) call(req request) (resp response) {
	defer func() {
		if r := recover(); r != nil {
			Logger().Error("call panicked",
				zap.String("target", req.Target),
				zap.String("method", req.Method),
				zap.Any("panic", r),
				zap.Stack("stack"))
			err := errors.New(errors.PhaseOperation, errors.KindOperationFailed).Detail("%s.%s panicked: %v", req.Target, req.Method, r).Build()
			resp = response{ID: req.ID, Error: wireErrorOf(err)}
		}
	}()
	data, err := s.invoke(req)
	if err != nil {
		Logger().Debug("call failed",
			zap.String("target", req.Target),
			zap.String("method", req.Method),
			zap.Error(err))
		return response{ID: req.ID, Error: wireErrorOf(err)}
	}
	return response{ID: req.ID, Data: s.encode(data)}
}

func (s *Session) invoke(req request) (any, error) {
	if req.Method == methodRelease {
		return s.release(req.Target), nil
	}
	target, err := s.target(req.Target)
	if err != nil {
		return nil, err
	}
	args := make([]any, len(req.Args))
	for i, a := range req.Args {
		if args[i], err = s.decode(a, []string{"args", strconv.Itoa(i)}); err != nil {
			return nil, err
		}
	}
	return target.Call(req.Method, args...)
}

func (s *Session) target(name string) (*Object, error) {
	if name == targetVertx {
		return s.rt.Vertx(), nil
	}
	if o, ok := s.rt.Static(name); ok {
		return o, nil
	}
	return s.handle(name)
}

// handle resolves an id among the handles this session exported.
func (s *Session) handle(id string) (*Object, error) {
	s.refsMu.Lock()
	_, held := s.exported[id]
	s.refsMu.Unlock()
	if held {
		if o, ok := s.rt.handles.Get(id); ok {
			return o, nil
		}
	}
	return nil, errors.NotFound(errors.PhaseProtocol, "handle "+id)
}

func (s *Session) export(o *Object) {
	s.refsMu.Lock()
	_, seen := s.exported[o.ID()]
	seen = seen || s.released
	if !seen {
		s.exported[o.ID()] = struct{}{}
	}
	s.refsMu.Unlock()
	if !seen {
		s.rt.export(o)
	}
}

// release reports whether the session held id.
func (s *Session) release(id string) bool {
	s.refsMu.Lock()
	_, held := s.exported[id]
	delete(s.exported, id)
	s.refsMu.Unlock()
	if held {
		s.rt.release(id)
	}
	return held
}

// callback returns a Callable that reports its arguments to the remote
// caller as an event.
func (s *Session) callback(name string) value.Callable {
	return func(args ...any) {
		out := make([]any, len(args))
		for i, a := range args {
			out[i] = s.encode(a)
		}
		msg, err := json.Marshal(event{Callback: name, Args: out})
		if err != nil {
			Logger().Warn("dropping callback event", zap.String("callback", name), zap.Error(err))
			return
		}
		s.write(msg)
	}
}

func (s *Session) reply(resp response) {
	msg, err := json.Marshal(resp)
	if err != nil {
		err = errors.Wrap(errors.PhaseProtocol, errors.KindInvalidData, err, "encode result")
		msg, _ = json.Marshal(response{ID: resp.ID, Error: wireErrorOf(err)})
	}
	s.write(msg)
}

func (s *Session) write(msg []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if err := s.send(msg); err != nil {
		Logger().Debug("session write failed", zap.Error(err))
	}
}

// WebSocketHandler serves one session per WebSocket connection. Every text
// message is one request.
func (rt *Runtime) WebSocketHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			Logger().Debug("websocket upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
			return
		}
		conn.SetReadLimit(MaxLineSize)
		ctx := r.Context()
		s := rt.NewSession(func(msg []byte) error {
			return conn.Write(ctx, websocket.MessageText, msg)
		})
		defer s.Close()

		Logger().Info("session opened", zap.String("remote", r.RemoteAddr))
		for {
			typ, data, err := conn.Read(ctx)
			if err != nil {
				if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
					Logger().Debug("session read failed", zap.Error(err))
				}
				break
			}
			if typ != websocket.MessageText {
				conn.Close(websocket.StatusUnsupportedData, "text messages only")
				break
			}
			s.Handle(data)
		}
		Logger().Info("session closed", zap.String("remote", r.RemoteAddr))
	})
}
