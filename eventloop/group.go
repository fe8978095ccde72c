// Package eventloop provides the execution model the rest of vertigo
// builds on: a fixed group of single-goroutine event-loop contexts, timers
// bound to those contexts and a worker pool for blocking work.
//
// Every handler registered by a resource runs on the context that created
// the resource, so handler code needs no locking of its own.
package eventloop

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/petermattis/goid"
	"go.uber.org/zap"
)

const (
	DefaultWorkerPoolSize = 20
	DefaultMaxExecuteTime = 60 * time.Second
)

type options struct {
	workerPoolSize int
	maxExecuteTime time.Duration
}

// Option configures a Group.
type Option func(*options)

// WithWorkerPoolSize sets the number of concurrent blocking tasks.
func WithWorkerPoolSize(n int) Option {
	return func(o *options) {
		o.workerPoolSize = n
	}
}

// WithMaxExecuteTime sets the duration after which running blocking work
// is reported.
func WithMaxExecuteTime(d time.Duration) Option {
	return func(o *options) {
		o.maxExecuteTime = d
	}
}

// Group is a fixed set of contexts sharing timers and a worker pool.
type Group struct {
	contexts []*Context
	next     atomic.Uint64
	timers   *timerSet
	pool     *WorkerPool

	closeOnce sync.Once
}

// NewGroup starts size contexts. A size of zero or less uses twice the
// number of CPUs.
func NewGroup(size int, opts ...Option) *Group {
	o := &options{
		workerPoolSize: DefaultWorkerPoolSize,
		maxExecuteTime: DefaultMaxExecuteTime,
	}
	for _, opt := range opts {
		opt(o)
	}
	if size <= 0 {
		size = 2 * runtime.NumCPU()
	}

	g := &Group{
		timers: newTimerSet(),
		pool:   NewWorkerPool("vertigo-worker", o.workerPoolSize, o.maxExecuteTime),
	}
	g.contexts = make([]*Context, size)
	for i := range g.contexts {
		g.contexts[i] = newContext(g, i)
	}

	Logger().Debug("event loop group started",
		zap.Int("contexts", size),
		zap.Int("workers", o.workerPoolSize))
	return g
}

// Next returns contexts round-robin.
func (g *Group) Next() *Context {
	n := g.next.Add(1) - 1
	return g.contexts[n%uint64(len(g.contexts))]
}

// Current returns the context the caller runs on, or nil.
func (g *Group) Current() *Context {
	id := goid.Get()
	for _, c := range g.contexts {
		if c.gid.Load() == id {
			return c
		}
	}
	return nil
}

// OrCreate returns the current context, or the next one when the caller is
// not on a context.
func (g *Group) OrCreate() *Context {
	if c := g.Current(); c != nil {
		return c
	}
	return g.Next()
}

// Size returns the number of contexts.
func (g *Group) Size() int {
	return len(g.contexts)
}

// Pool returns the shared worker pool.
func (g *Group) Pool() *WorkerPool {
	return g.pool
}

// Close cancels every timer and stops the contexts after their queued work
// has run. When called from a context it does not wait for that context.
func (g *Group) Close() {
	g.closeOnce.Do(func() {
		g.timers.close()
		current := g.Current()
		for _, c := range g.contexts {
			c.close()
		}
		for _, c := range g.contexts {
			if c != current {
				<-c.done
			}
		}
		Logger().Debug("event loop group closed")
	})
}
