package stream

import (
	"sync/atomic"
)

// Pump copies a ReadStream into a WriteStream, pausing the source while
// the destination's write queue is full and resuming it on drain.
type Pump[T any] struct {
	rs     ReadStream[T]
	ws     WriteStream[T]
	pumped atomic.Int64
}

// NewPump creates a stopped pump. A positive maxQueue is applied to ws.
func NewPump[T any](rs ReadStream[T], ws WriteStream[T], maxQueue int) *Pump[T] {
	if maxQueue > 0 {
		ws.SetWriteQueueMaxSize(maxQueue)
	}
	return &Pump[T]{rs: rs, ws: ws}
}

// SetWriteQueueMaxSize changes the destination threshold.
func (p *Pump[T]) SetWriteQueueMaxSize(n int) *Pump[T] {
	p.ws.SetWriteQueueMaxSize(n)
	return p
}

// Start installs the handlers.
func (p *Pump[T]) Start() *Pump[T] {
	p.ws.DrainHandler(p.rs.Resume)
	p.rs.Handler(func(item T) {
		p.ws.Write(item)
		p.pumped.Add(1)
		if p.ws.WriteQueueFull() {
			p.rs.Pause()
		}
	})
	return p
}

// Stop removes the handlers. The source stays in whatever state it is in.
func (p *Pump[T]) Stop() *Pump[T] {
	p.ws.DrainHandler(nil)
	p.rs.Handler(nil)
	return p
}

// Pumped returns the number of items written so far.
func (p *Pump[T]) Pumped() int64 {
	return p.pumped.Load()
}
