package stream

import (
	"context"
	"sync"
)

// Valve gates a reader goroutine. A closed valve makes Wait block until
// the valve is opened again.
type Valve struct {
	mu   sync.Mutex
	open bool
	ch   chan struct{}
}

// NewValve returns an open valve.
func NewValve() *Valve {
	ch := make(chan struct{})
	close(ch)
	return &Valve{open: true, ch: ch}
}

func (v *Valve) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.open {
		v.open = false
		v.ch = make(chan struct{})
	}
}

func (v *Valve) Open() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.open {
		v.open = true
		close(v.ch)
	}
}

func (v *Valve) IsOpen() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.open
}

// Wait blocks until the valve is open or ctx is done.
func (v *Valve) Wait(ctx context.Context) error {
	v.mu.Lock()
	ch := v.ch
	v.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Hooks returns flow hooks that close and open the valve.
func (v *Valve) Hooks(high, low int) InboundOption {
	return WithFlowHooks(high, low, v.Close, v.Open)
}
