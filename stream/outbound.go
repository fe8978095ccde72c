package stream

import (
	"sync"

	"github.com/caffeineduck/vertigo/errors"
	"github.com/caffeineduck/vertigo/future"
)

// DefaultWriteQueueMaxSize is the threshold used until
// SetWriteQueueMaxSize is called.
const DefaultWriteQueueMaxSize = 64 * 1024

type outboundOptions[T any] struct {
	size   func(T) int
	max    int
	closer func() error
	name   string
}

// OutboundOption configures an Outbound.
type OutboundOption[T any] func(*outboundOptions[T])

// WithSizer sets how queued items are measured. The default counts items.
func WithSizer[T any](size func(T) int) OutboundOption[T] {
	return func(o *outboundOptions[T]) {
		o.size = size
	}
}

// WithWriteQueueMaxSize sets the initial threshold.
func WithWriteQueueMaxSize[T any](n int) OutboundOption[T] {
	return func(o *outboundOptions[T]) {
		o.max = n
	}
}

// WithCloser sets a function run once the queue has been flushed after
// End.
func WithCloser[T any](closer func() error) OutboundOption[T] {
	return func(o *outboundOptions[T]) {
		o.closer = closer
	}
}

// WithName names the stream in errors.
func WithName[T any](name string) OutboundOption[T] {
	return func(o *outboundOptions[T]) {
		o.name = name
	}
}

// Outbound is a WriteStream that hands items to a sink on a dedicated
// writer goroutine, in write order. Handlers run on the executor.
type Outbound[T any] struct {
	exec Executor
	sink func(T) error
	opts outboundOptions[T]

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []T
	queued  int
	full    bool
	ended   bool
	failed  error
	onDrain func()
	onError func(error)

	closed *future.Promise[struct{}]
}

// NewOutbound starts the writer goroutine.
func NewOutbound[T any](exec Executor, sink func(T) error, opts ...OutboundOption[T]) *Outbound[T] {
	s := &Outbound[T]{
		exec: exec,
		sink: sink,
		opts: outboundOptions[T]{
			size: ItemSize[T],
			max:  DefaultWriteQueueMaxSize,
			name: "stream",
		},
	}
	for _, opt := range opts {
		opt(&s.opts)
	}
	s.cond = sync.NewCond(&s.mu)
	s.closed = future.NewPromise[struct{}](future.DispatchFunc(func(fn func()) {
		exec.RunOnContext(fn)
	}))
	go s.writer()
	return s
}

// Write queues item. It never blocks and never rejects; writing after End
// reports a closed error to the exception handler.
func (s *Outbound[T]) Write(item T) {
	s.mu.Lock()
	if s.ended {
		h := s.onError
		s.mu.Unlock()
		s.report(h, errors.Closed(errors.PhaseStream, s.opts.name))
		return
	}
	s.queue = append(s.queue, item)
	s.queued += s.opts.size(item)
	if s.queued > s.opts.max {
		s.full = true
	}
	s.mu.Unlock()
	s.cond.Signal()
}

// End flushes the queue and then runs the closer. Further writes fail.
func (s *Outbound[T]) End() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.mu.Unlock()
	s.cond.Signal()
}

// Abort discards everything still queued and ends the stream. The closer
// still runs.
func (s *Outbound[T]) Abort() {
	s.mu.Lock()
	s.queue = nil
	s.queued = 0
	s.full = false
	s.ended = true
	s.mu.Unlock()
	s.cond.Signal()
}

// Ended reports whether End was called.
func (s *Outbound[T]) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// Closed completes once the queue is flushed after End and the closer has
// run. It fails with the closer's error or the first sink error.
func (s *Outbound[T]) Closed() *future.Future[struct{}] {
	return s.closed.Future()
}

// SetWriteQueueMaxSize changes the threshold. Raising it above what is
// queued on a full stream fires the drain handler.
func (s *Outbound[T]) SetWriteQueueMaxSize(n int) {
	if n <= 0 {
		n = DefaultWriteQueueMaxSize
	}
	s.mu.Lock()
	s.opts.max = n
	var onDrain func()
	switch {
	case s.queued > n:
		s.full = true
	case s.full:
		s.full = false
		onDrain = s.onDrain
	}
	s.mu.Unlock()
	if onDrain != nil {
		s.exec.RunOnContext(onDrain)
	}
}

func (s *Outbound[T]) WriteQueueMaxSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts.max
}

func (s *Outbound[T]) WriteQueueFull() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queued > s.opts.max
}

// Queued returns the amount waiting to be written.
func (s *Outbound[T]) Queued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queued
}

func (s *Outbound[T]) DrainHandler(h func()) {
	s.mu.Lock()
	s.onDrain = h
	s.mu.Unlock()
}

func (s *Outbound[T]) ExceptionHandler(h func(error)) {
	s.mu.Lock()
	s.onError = h
	s.mu.Unlock()
}

func (s *Outbound[T]) report(h func(error), err error) {
	if h == nil {
		return
	}
	s.exec.RunOnContext(func() { h(err) })
}

func (s *Outbound[T]) writer() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.ended {
			s.cond.Wait()
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			break
		}
		item := s.queue[0]
		var zero T
		s.queue[0] = zero
		s.queue = s.queue[1:]
		failed := s.failed != nil
		s.mu.Unlock()

		var err error
		if !failed {
			err = s.sink(item)
		}

		s.mu.Lock()
		s.queued -= s.opts.size(item)
		var onError func(error)
		if err != nil && s.failed == nil {
			s.failed = err
			onError = s.onError
		}
		var onDrain func()
		if s.full && s.queued <= s.opts.max/2 {
			s.full = false
			onDrain = s.onDrain
		}
		s.mu.Unlock()

		if onError != nil {
			s.report(onError, errors.Wrap(errors.PhaseStream, errors.KindOperationFailed, err, "write to "+s.opts.name))
		}
		if onDrain != nil {
			s.exec.RunOnContext(onDrain)
		}
	}

	var err error
	if s.opts.closer != nil {
		err = s.opts.closer()
	}
	s.mu.Lock()
	if err == nil {
		err = s.failed
	}
	s.mu.Unlock()
	if err != nil {
		s.closed.Fail(err)
		return
	}
	s.closed.Complete(struct{}{})
}
