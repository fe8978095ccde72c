package eventloop

import (
	"sync"
	"sync/atomic"
	"time"
)

type timer struct {
	t        *time.Timer
	periodic bool
}

// timerSet owns every timer of a group. IDs are unique within the group.
type timerSet struct {
	nextID atomic.Int64

	mu     sync.Mutex
	timers map[int64]*timer
	closed bool
}

func newTimerSet() *timerSet {
	return &timerSet{timers: make(map[int64]*timer)}
}

func (s *timerSet) schedule(c *Context, d time.Duration, periodic bool, fn func(int64)) int64 {
	id := s.nextID.Add(1)
	if d < time.Millisecond {
		d = time.Millisecond
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return id
	}

	tm := &timer{periodic: periodic}
	s.timers[id] = tm

	if !periodic {
		tm.t = time.AfterFunc(d, func() {
			if s.take(id) {
				c.RunOnContext(func() { fn(id) })
			}
		})
		return id
	}

	var tick func()
	tick = func() {
		s.mu.Lock()
		cur, ok := s.timers[id]
		if !ok {
			s.mu.Unlock()
			return
		}
		cur.t = time.AfterFunc(d, tick)
		s.mu.Unlock()

		c.RunOnContext(func() {
			if s.active(id) {
				fn(id)
			}
		})
	}
	tm.t = time.AfterFunc(d, tick)
	return id
}

// take removes a one-shot timer that is about to fire.
func (s *timerSet) take(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.timers[id]; !ok {
		return false
	}
	delete(s.timers, id)
	return true
}

func (s *timerSet) active(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[id]
	return ok
}

// cancel stops a timer. It reports false when the timer already fired, was
// already cancelled or never existed.
func (s *timerSet) cancel(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	tm, ok := s.timers[id]
	if !ok {
		return false
	}
	delete(s.timers, id)
	tm.t.Stop()
	return true
}

func (s *timerSet) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *timerSet) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, tm := range s.timers {
		tm.t.Stop()
		delete(s.timers, id)
	}
}

// SetTimer runs fn on this context once after d and returns the timer ID.
func (c *Context) SetTimer(d time.Duration, fn func(id int64)) int64 {
	return c.group.timers.schedule(c, d, false, fn)
}

// SetPeriodic runs fn on this context every d until cancelled.
func (c *Context) SetPeriodic(d time.Duration, fn func(id int64)) int64 {
	return c.group.timers.schedule(c, d, true, fn)
}

// CancelTimer cancels a timer created on any context of the group.
func (g *Group) CancelTimer(id int64) bool {
	return g.timers.cancel(id)
}

// PendingTimers returns the number of timers that have not fired or been
// cancelled.
func (g *Group) PendingTimers() int {
	return g.timers.pending()
}
