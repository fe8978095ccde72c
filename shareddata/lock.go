package shareddata

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/caffeineduck/vertigo/errors"
	"github.com/caffeineduck/vertigo/future"
	"go.uber.org/zap"
)

type waiter struct {
	p     *future.Promise[*Lock]
	timer *time.Timer
	lock  *Lock
}

type lockState struct {
	mu      sync.Mutex
	held    bool
	waiters []*waiter
}

// Lock is an exclusive lock held until Release is called.
type Lock struct {
	name     string
	st       *lockState
	released atomic.Bool
}

func (l *Lock) Name() string {
	return l.name
}

// Release gives the lock to the next waiter. Calling it more than once has
// no effect.
func (l *Lock) Release() {
	if !l.released.CompareAndSwap(false, true) {
		return
	}
	l.st.release()
	Logger().Debug("lock released", zap.String("name", l.name))
}

// LockWithTimeout acquires the lock called name. Waiters are served in
// arrival order; a waiter not served within d fails with a timeout.
func (sd *SharedData) LockWithTimeout(name string, d time.Duration) *future.Future[*Lock] {
	sd.mu.Lock()
	st, ok := sd.locks[name]
	if !ok {
		st = &lockState{}
		sd.locks[name] = st
	}
	sd.mu.Unlock()

	ctx := sd.group.OrCreate()
	w := &waiter{
		p:    future.NewPromise[*Lock](ctx),
		lock: &Lock{name: name, st: st},
	}

	st.mu.Lock()
	if !st.held {
		st.held = true
		st.mu.Unlock()
		if !ctx.RunOnContext(func() { w.p.Complete(w.lock) }) {
			w.p.Complete(w.lock)
		}
		return w.p.Future()
	}
	st.waiters = append(st.waiters, w)
	if d > 0 {
		w.timer = time.AfterFunc(d, func() {
			if st.remove(w) {
				w.p.Fail(errors.Timeout(errors.PhaseOperation, "timed out waiting for lock %q", name))
			}
		})
	}
	st.mu.Unlock()
	return w.p.Future()
}

func (st *lockState) remove(w *waiter) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	for i, x := range st.waiters {
		if x == w {
			st.waiters = append(st.waiters[:i], st.waiters[i+1:]...)
			return true
		}
	}
	return false
}

func (st *lockState) release() {
	st.mu.Lock()
	if len(st.waiters) == 0 {
		st.held = false
		st.mu.Unlock()
		return
	}
	next := st.waiters[0]
	st.waiters = st.waiters[1:]
	st.mu.Unlock()
	if next.timer != nil {
		next.timer.Stop()
	}
	next.p.Complete(next.lock)
}
