package eventloop

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/petermattis/goid"
	"go.uber.org/zap"
)

// Context is a single-goroutine event loop. Every function queued on it
// runs on the same goroutine, one at a time, in submission order.
type Context struct {
	group *Group
	index int

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool
	done   chan struct{}
	gid    atomic.Int64

	exceptionHandler atomic.Pointer[func(any)]

	orderedMu sync.Mutex
	ordered   map[*WorkerPool]*serialQueue
}

func newContext(g *Group, index int) *Context {
	c := &Context{
		group:   g,
		index:   index,
		done:    make(chan struct{}),
		ordered: make(map[*WorkerPool]*serialQueue),
	}
	c.cond = sync.NewCond(&c.mu)
	started := make(chan struct{})
	go c.loop(started)
	<-started
	return c
}

func (c *Context) loop(started chan<- struct{}) {
	c.gid.Store(goid.Get())
	close(started)
	defer close(c.done)

	for {
		c.mu.Lock()
		for len(c.queue) == 0 && !c.closed {
			c.cond.Wait()
		}
		if len(c.queue) == 0 {
			c.mu.Unlock()
			return
		}
		batch := c.queue
		c.queue = nil
		c.mu.Unlock()

		for _, fn := range batch {
			c.run(fn)
		}
	}
}

func (c *Context) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.reportPanic(r)
		}
	}()
	fn()
}

func (c *Context) reportPanic(r any) {
	if h := c.exceptionHandler.Load(); h != nil {
		func() {
			defer func() {
				if r2 := recover(); r2 != nil {
					Logger().Error("exception handler panicked",
						zap.Int("context", c.index),
						zap.String("panic", fmt.Sprint(r2)))
				}
			}()
			(*h)(r)
		}()
		return
	}
	Logger().Error("unhandled panic on event loop",
		zap.Int("context", c.index),
		zap.String("panic", fmt.Sprint(r)))
}

// RunOnContext queues fn. It reports false if the context is closed, in
// which case fn is dropped.
func (c *Context) RunOnContext(fn func()) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.queue = append(c.queue, fn)
	c.mu.Unlock()
	c.cond.Signal()
	return true
}

// Dispatch runs fn inline when called from this context, otherwise queues
// it.
func (c *Context) Dispatch(fn func()) {
	if c.IsOnContext() {
		c.run(fn)
		return
	}
	c.RunOnContext(fn)
}

// IsOnContext reports whether the caller runs on this context's goroutine.
func (c *Context) IsOnContext() bool {
	return goid.Get() == c.gid.Load()
}

// ExceptionHandler sets the function receiving panics recovered from
// handlers. Without one they are logged.
func (c *Context) ExceptionHandler(h func(any)) {
	if h == nil {
		c.exceptionHandler.Store(nil)
		return
	}
	c.exceptionHandler.Store(&h)
}

// Index returns the position of the context in its group.
func (c *Context) Index() int {
	return c.index
}

func (c *Context) Group() *Group {
	return c.group
}

func (c *Context) close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cond.Broadcast()
}

func (c *Context) orderedQueue(p *WorkerPool) *serialQueue {
	c.orderedMu.Lock()
	defer c.orderedMu.Unlock()
	q, ok := c.ordered[p]
	if !ok {
		q = &serialQueue{pool: p}
		c.ordered[p] = q
	}
	return q
}
