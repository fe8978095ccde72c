package eventloop

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/caffeineduck/vertigo/future"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// WorkerPool runs blocking work on at most size goroutines at a time.
type WorkerPool struct {
	name           string
	size           int
	maxExecuteTime time.Duration
	sem            *semaphore.Weighted
}

// NewWorkerPool creates a pool. Work running longer than maxExecuteTime is
// logged; zero disables the check.
func NewWorkerPool(name string, size int, maxExecuteTime time.Duration) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	return &WorkerPool{
		name:           name,
		size:           size,
		maxExecuteTime: maxExecuteTime,
		sem:            semaphore.NewWeighted(int64(size)),
	}
}

func (p *WorkerPool) Name() string {
	return p.name
}

func (p *WorkerPool) Size() int {
	return p.size
}

// Submit runs fn on a worker. It never blocks the caller.
func (p *WorkerPool) Submit(fn func()) {
	p.spawn(func() { p.run(fn) })
}

func (p *WorkerPool) spawn(fn func()) {
	go func() {
		if err := p.sem.Acquire(context.Background(), 1); err != nil {
			return
		}
		defer p.sem.Release(1)
		fn()
	}()
}

func (p *WorkerPool) run(fn func()) {
	start := time.Now()
	fn()
	if p.maxExecuteTime > 0 {
		if elapsed := time.Since(start); elapsed > p.maxExecuteTime {
			Logger().Warn("blocking work exceeded max execute time",
				zap.String("pool", p.name),
				zap.Duration("elapsed", elapsed),
				zap.Duration("limit", p.maxExecuteTime))
		}
	}
}

// serialQueue runs tasks one after another on a pool, in submission order.
type serialQueue struct {
	pool    *WorkerPool
	mu      sync.Mutex
	tasks   []func()
	running bool
}

func (q *serialQueue) submit(fn func()) {
	q.mu.Lock()
	q.tasks = append(q.tasks, fn)
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.mu.Unlock()

	q.pool.spawn(q.drain)
}

func (q *serialQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.tasks) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		fn := q.tasks[0]
		q.tasks = q.tasks[1:]
		q.mu.Unlock()
		q.pool.run(fn)
	}
}

// ExecuteBlocking runs work on pool and completes the returned future on c.
// Ordered submissions from the same context run one at a time in
// submission order; unordered ones may run concurrently. A panic in work
// fails the future.
func ExecuteBlocking[T any](c *Context, pool *WorkerPool, work func() (T, error), ordered bool) *future.Future[T] {
	if pool == nil {
		pool = c.group.pool
	}
	p := future.NewPromise[T](c)
	task := func() {
		v, err := protect(work)
		p.Handle(v, err)
	}
	if ordered {
		c.orderedQueue(pool).submit(task)
	} else {
		pool.Submit(task)
	}
	return p.Future()
}

func protect[T any](work func() (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("blocking work panicked: %v", r)
		}
	}()
	return work()
}
