// Package stream defines the flow-control contract shared by every
// streaming resource, and the two shims transports use to implement it.
//
// A ReadStream is either flowing or paused. While paused no item reaches
// the data handler; items that arrive meanwhile are queued or dropped
// depending on the transport's Policy. The end handler fires at most once,
// after the last item has been delivered.
//
// A WriteStream accepts every write. WriteQueueFull reports when the queued
// amount exceeds the configured maximum, and the drain handler fires once
// the queue has fallen back to half of it. Nothing enforces the threshold:
// callers that keep writing into a full queue simply queue more.
package stream

import (
	"github.com/caffeineduck/vertigo/buffer"
)

// ReadStream is the readable side of the contract.
type ReadStream[T any] interface {
	// Handler installs the data handler. nil detaches it and items
	// delivered while detached are discarded.
	Handler(h func(T))
	Pause()
	Resume()
	EndHandler(h func())
	ExceptionHandler(h func(error))
}

// WriteStream is the writable side of the contract.
type WriteStream[T any] interface {
	Write(item T)
	End()
	SetWriteQueueMaxSize(n int)
	WriteQueueFull() bool
	DrainHandler(h func())
	ExceptionHandler(h func(error))
}

// EndWith writes a final item and ends ws.
func EndWith[T any](ws WriteStream[T], item T) {
	ws.Write(item)
	ws.End()
}

// Executor runs functions on the context that owns a stream.
type Executor interface {
	RunOnContext(fn func()) bool
}

// ItemSize counts every item as one unit.
func ItemSize[T any](T) int {
	return 1
}

// BufferSize measures buffers in bytes.
func BufferSize(b *buffer.Buffer) int {
	if b == nil {
		return 0
	}
	return b.Len()
}
