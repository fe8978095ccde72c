package shareddata

import (
	"sync/atomic"

	"github.com/caffeineduck/vertigo/future"
)

// Counter is a named, shared 64-bit counter.
type Counter struct {
	sd   *SharedData
	name string
	v    *atomic.Int64
}

func (c *Counter) Name() string {
	return c.name
}

func (c *Counter) later(fn func() int64) *future.Future[int64] {
	return completeLater(c.sd.group.OrCreate(), func() (int64, error) { return fn(), nil })
}

func (c *Counter) Get() *future.Future[int64] {
	return c.later(c.v.Load)
}

func (c *Counter) IncrementAndGet() *future.Future[int64] {
	return c.AddAndGet(1)
}

func (c *Counter) GetAndIncrement() *future.Future[int64] {
	return c.GetAndAdd(1)
}

func (c *Counter) DecrementAndGet() *future.Future[int64] {
	return c.AddAndGet(-1)
}

func (c *Counter) AddAndGet(n int64) *future.Future[int64] {
	return c.later(func() int64 { return c.v.Add(n) })
}

func (c *Counter) GetAndAdd(n int64) *future.Future[int64] {
	return c.later(func() int64 { return c.v.Add(n) - n })
}

// CompareAndSet sets the counter to next when it currently equals expected.
func (c *Counter) CompareAndSet(expected, next int64) *future.Future[bool] {
	return completeLater(c.sd.group.OrCreate(), func() (bool, error) {
		return c.v.CompareAndSwap(expected, next), nil
	})
}
