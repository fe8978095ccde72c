// Package shareddata provides maps, locks and counters shared between
// contexts. Every operation is asynchronous and completes on the context
// of the caller.
package shareddata

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/caffeineduck/vertigo/eventloop"
	"github.com/caffeineduck/vertigo/future"
)

const DefaultLockTimeout = 10 * time.Second

// MapConfig bounds every async map.
type MapConfig struct {
	MaxKeySize   int
	MaxValueSize int
	MaxEntries   int
}

// DefaultMapConfig returns the limits used when none are configured.
func DefaultMapConfig() MapConfig {
	return MapConfig{
		MaxKeySize:   256,
		MaxValueSize: 1024 * 1024,
		MaxEntries:   10000,
	}
}

type options struct {
	mapConfig   MapConfig
	lockTimeout time.Duration
}

// Option configures SharedData.
type Option func(*options)

func WithMapConfig(cfg MapConfig) Option {
	return func(o *options) {
		o.mapConfig = cfg
	}
}

// WithLockTimeout sets the default time to wait for a lock.
func WithLockTimeout(d time.Duration) Option {
	return func(o *options) {
		o.lockTimeout = d
	}
}

// SharedData owns the named maps, locks and counters.
type SharedData struct {
	group *eventloop.Group
	opts  options

	mu       sync.Mutex
	maps     map[string]*store
	locks    map[string]*lockState
	counters map[string]*atomic.Int64
}

// New creates the shared data service for g.
func New(g *eventloop.Group, opts ...Option) *SharedData {
	o := options{
		mapConfig:   DefaultMapConfig(),
		lockTimeout: DefaultLockTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &SharedData{
		group:    g,
		opts:     o,
		maps:     make(map[string]*store),
		locks:    make(map[string]*lockState),
		counters: make(map[string]*atomic.Int64),
	}
}

// AsyncMap returns the map called name, creating it on first use.
func (sd *SharedData) AsyncMap(name string) *future.Future[*AsyncMap] {
	sd.mu.Lock()
	s, ok := sd.maps[name]
	if !ok {
		s = newStore(sd.opts.mapConfig)
		sd.maps[name] = s
	}
	sd.mu.Unlock()
	m := &AsyncMap{sd: sd, name: name, s: s}
	return completeLater(sd.group.OrCreate(), func() (*AsyncMap, error) { return m, nil })
}

// Counter returns the counter called name, starting at zero.
func (sd *SharedData) Counter(name string) *future.Future[*Counter] {
	sd.mu.Lock()
	v, ok := sd.counters[name]
	if !ok {
		v = new(atomic.Int64)
		sd.counters[name] = v
	}
	sd.mu.Unlock()
	c := &Counter{sd: sd, name: name, v: v}
	return completeLater(sd.group.OrCreate(), func() (*Counter, error) { return c, nil })
}

// Lock acquires the lock called name with the default timeout.
func (sd *SharedData) Lock(name string) *future.Future[*Lock] {
	return sd.LockWithTimeout(name, sd.opts.lockTimeout)
}

// completeLater runs fn now and delivers its outcome on ctx, so handlers
// attached by the caller always run after the call returns.
func completeLater[T any](ctx *eventloop.Context, fn func() (T, error)) *future.Future[T] {
	p := future.NewPromise[T](ctx)
	v, err := fn()
	if !ctx.RunOnContext(func() { p.Handle(v, err) }) {
		p.Handle(v, err)
	}
	return p.Future()
}
