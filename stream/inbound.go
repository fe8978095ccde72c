package stream

import (
	"sync"
)

// Policy decides what happens to items that arrive while a stream is
// paused.
type Policy int

const (
	// QueueWhilePaused keeps items and delivers them after Resume.
	QueueWhilePaused Policy = iota
	// DropWhilePaused discards items that arrive while paused.
	DropWhilePaused
)

type inboundOptions struct {
	policy      Policy
	maxBuffered int
	highWater   int
	lowWater    int
	stop        func()
	start       func()
}

// InboundOption configures an Inbound.
type InboundOption func(*inboundOptions)

// WithPolicy sets the paused policy.
func WithPolicy(p Policy) InboundOption {
	return func(o *inboundOptions) {
		o.policy = p
	}
}

// WithMaxBuffered bounds the queue kept while paused. Items pushed onto a
// full queue of a paused stream are dropped. Zero means unbounded.
func WithMaxBuffered(n int) InboundOption {
	return func(o *inboundOptions) {
		o.maxBuffered = n
	}
}

// WithFlowHooks lets the driver stop producing. stop is called when the
// stream is paused or when high items are waiting; start is called once
// the stream flows again with at most low items waiting. Hooks run on the
// goroutine that caused the transition, outside any lock.
func WithFlowHooks(high, low int, stop, start func()) InboundOption {
	return func(o *inboundOptions) {
		o.highWater = high
		o.lowWater = low
		o.stop = stop
		o.start = start
	}
}

// Inbound is a ReadStream fed by a transport driver through Push, Finish
// and Fail. Deliveries always happen on the executor, never inside Push.
type Inbound[T any] struct {
	exec Executor
	opts inboundOptions

	mu        sync.Mutex
	handler   func(T)
	onEnd     func()
	onError   func(error)
	paused    bool
	pending   []T
	finished  bool
	endFired  bool
	scheduled bool
	stopped   bool
	dropped   int64
}

// NewInbound creates a flowing stream delivering on exec.
func NewInbound[T any](exec Executor, opts ...InboundOption) *Inbound[T] {
	s := &Inbound[T]{exec: exec}
	for _, opt := range opts {
		opt(&s.opts)
	}
	if s.opts.highWater <= 0 {
		s.opts.highWater = 1
	}
	if s.opts.lowWater >= s.opts.highWater {
		s.opts.lowWater = s.opts.highWater - 1
	}
	return s
}

func (s *Inbound[T]) Handler(h func(T)) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

func (s *Inbound[T]) EndHandler(h func()) {
	s.mu.Lock()
	s.onEnd = h
	s.mu.Unlock()
}

func (s *Inbound[T]) ExceptionHandler(h func(error)) {
	s.mu.Lock()
	s.onError = h
	s.mu.Unlock()
}

// Pause stops delivery. It takes effect before the next item, even when
// called from inside the data handler.
func (s *Inbound[T]) Pause() {
	s.mu.Lock()
	s.paused = true
	stop := s.stopLocked()
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// Resume restarts delivery of queued and new items.
func (s *Inbound[T]) Resume() {
	s.mu.Lock()
	if !s.paused {
		s.mu.Unlock()
		return
	}
	s.paused = false
	s.scheduleLocked()
	start := s.startLocked()
	s.mu.Unlock()
	if start != nil {
		start()
	}
}

// Paused reports the current state.
func (s *Inbound[T]) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Push offers an item from the driver. It reports false if the item was
// dropped because the stream is finished or because it is paused and its
// policy or bound rejects the item.
func (s *Inbound[T]) Push(item T) bool {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return false
	}
	if s.paused && s.opts.policy == DropWhilePaused {
		s.dropped++
		s.mu.Unlock()
		return false
	}
	if s.paused && s.opts.maxBuffered > 0 && len(s.pending) >= s.opts.maxBuffered {
		s.dropped++
		s.mu.Unlock()
		return false
	}
	s.pending = append(s.pending, item)
	var stop func()
	if len(s.pending) >= s.opts.highWater {
		stop = s.stopLocked()
	}
	s.scheduleLocked()
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
	return true
}

// Finish marks the source as exhausted. The end handler fires after every
// queued item has been delivered.
func (s *Inbound[T]) Finish() {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.finished = true
	s.scheduleLocked()
	s.mu.Unlock()
}

// Fail reports a transport error to the exception handler. It does not end
// the stream.
func (s *Inbound[T]) Fail(err error) {
	if err == nil {
		return
	}
	s.exec.RunOnContext(func() {
		s.mu.Lock()
		h := s.onError
		s.mu.Unlock()
		if h != nil {
			h(err)
		}
	})
}

// Finished reports whether Finish was called.
func (s *Inbound[T]) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// Buffered returns the number of items waiting for delivery.
func (s *Inbound[T]) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Dropped returns the number of items discarded so far.
func (s *Inbound[T]) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// SetMaxBuffered changes the queue bound.
func (s *Inbound[T]) SetMaxBuffered(n int) {
	s.mu.Lock()
	s.opts.maxBuffered = n
	s.mu.Unlock()
}

func (s *Inbound[T]) stopLocked() func() {
	if s.opts.stop == nil || s.stopped {
		return nil
	}
	s.stopped = true
	return s.opts.stop
}

func (s *Inbound[T]) startLocked() func() {
	if s.opts.start == nil || !s.stopped || s.paused || len(s.pending) > s.opts.lowWater {
		return nil
	}
	s.stopped = false
	return s.opts.start
}

func (s *Inbound[T]) scheduleLocked() {
	if s.scheduled || s.paused {
		return
	}
	if len(s.pending) == 0 && !(s.finished && !s.endFired) {
		return
	}
	s.scheduled = true
	if !s.exec.RunOnContext(s.drain) {
		s.scheduled = false
	}
}

func (s *Inbound[T]) drain() {
	for {
		s.mu.Lock()
		if s.paused {
			s.scheduled = false
			s.mu.Unlock()
			return
		}
		if len(s.pending) > 0 {
			item := s.pending[0]
			var zero T
			s.pending[0] = zero
			s.pending = s.pending[1:]
			h := s.handler
			start := s.startLocked()
			s.mu.Unlock()

			if start != nil {
				start()
			}
			if h != nil {
				h(item)
			}
			continue
		}
		s.scheduled = false
		if !s.finished || s.endFired {
			s.mu.Unlock()
			return
		}
		s.endFired = true
		end := s.onEnd
		s.mu.Unlock()
		if end != nil {
			end()
		}
		return
	}
}
