// Package vertx wires the toolkit together. A Vertx owns one event-loop
// group and the services every resource shares: the event bus, shared
// data, the file system and the deployer.
package vertx

import (
	"context"
	"sync"
	"time"

	"github.com/caffeineduck/vertigo/config"
	"github.com/caffeineduck/vertigo/deploy"
	"github.com/caffeineduck/vertigo/dns"
	"github.com/caffeineduck/vertigo/errors"
	"github.com/caffeineduck/vertigo/eventbus"
	"github.com/caffeineduck/vertigo/eventloop"
	"github.com/caffeineduck/vertigo/filesystem"
	"github.com/caffeineduck/vertigo/future"
	"github.com/caffeineduck/vertigo/overload"
	"github.com/caffeineduck/vertigo/shareddata"
	"github.com/caffeineduck/vertigo/tcp"
	"github.com/caffeineduck/vertigo/udp"
	"github.com/caffeineduck/vertigo/web"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// closeTimeout bounds how long Close waits for each resource.
const closeTimeout = 10 * time.Second

type options struct {
	cfg    *config.Config
	logger *zap.Logger
}

// Option configures a Vertx.
type Option func(*options)

// WithConfig uses cfg instead of config.Default().
func WithConfig(cfg *config.Config) Option {
	return func(o *options) {
		o.cfg = cfg
	}
}

// WithLogger installs l into every package. Without it the packages keep
// whatever logger they already have.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Vertx is the root of a running toolkit.
type Vertx struct {
	cfg      *config.Config
	group    *eventloop.Group
	bus      *eventbus.Bus
	shared   *shareddata.SharedData
	fs       *filesystem.FileSystem
	deployer *deploy.Deployer

	mu        sync.Mutex
	resources map[any]func() error
	closed    bool
	done      *future.Future[struct{}]
}

// New starts a Vertx.
func New(opts ...Option) (*Vertx, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	cfg := o.cfg
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if o.logger != nil {
		SetLogger(o.logger)
	}

	var loopOpts []eventloop.Option
	if cfg.Workers > 0 {
		loopOpts = append(loopOpts, eventloop.WithWorkerPoolSize(cfg.Workers))
	}
	if cfg.MaxWorkerExecuteTime > 0 {
		loopOpts = append(loopOpts, eventloop.WithMaxExecuteTime(cfg.MaxWorkerExecuteTime.Std()))
	}
	group := eventloop.NewGroup(cfg.EventLoops, loopOpts...)
	deployer, err := deploy.New(group, cfg.Deploy.Options()...)
	if err != nil {
		group.Close()
		return nil, err
	}

	busOpts := []eventbus.Option{eventbus.WithMaxBufferedMessages(cfg.EventBus.MaxBufferedMessages)}
	if cfg.EventBus.ReplyTimeout > 0 {
		busOpts = append(busOpts, eventbus.WithReplyTimeout(cfg.EventBus.ReplyTimeout.Std()))
	}
	sharedOpts := []shareddata.Option{shareddata.WithMapConfig(cfg.SharedData.MapConfig())}
	if cfg.SharedData.LockTimeout > 0 {
		sharedOpts = append(sharedOpts, shareddata.WithLockTimeout(cfg.SharedData.LockTimeout.Std()))
	}

	vx := &Vertx{
		cfg:    cfg,
		group:  group,
		bus:    eventbus.New(group, busOpts...),
		shared: shareddata.New(group, sharedOpts...),
		fs: filesystem.New(group,
			filesystem.WithMounts(cfg.FileSystem.MountList()...),
			filesystem.WithLimits(cfg.FileSystem.Limits()),
			filesystem.WithReadBufferSize(cfg.Stream.ReadBufferSize)),
		deployer:  deployer,
		resources: make(map[any]func() error),
	}
	Logger().Info("vertx started",
		zap.Int("event_loops", group.Size()),
		zap.Int("workers", cfg.Workers))
	return vx, nil
}

// NewFromConfig starts a Vertx configured by cfg.
func NewFromConfig(cfg *config.Config) (*Vertx, error) {
	return New(WithConfig(cfg))
}

// SetLogger installs l into every package that logs.
func SetLogger(l *zap.Logger) {
	logger = l
	eventloop.SetLogger(l.Named("eventloop"))
	overload.SetLogger(l.Named("overload"))
	eventbus.SetLogger(l.Named("eventbus"))
	shareddata.SetLogger(l.Named("shareddata"))
	filesystem.SetLogger(l.Named("filesystem"))
	tcp.SetLogger(l.Named("tcp"))
	udp.SetLogger(l.Named("udp"))
	dns.SetLogger(l.Named("dns"))
	web.SetLogger(l.Named("web"))
	deploy.SetLogger(l.Named("deploy"))
}

func (vx *Vertx) Config() *config.Config {
	return vx.cfg
}

func (vx *Vertx) Group() *eventloop.Group {
	return vx.group
}

// OrCreateContext returns the calling goroutine's context, or the next one
// of the group when called from outside the group.
func (vx *Vertx) OrCreateContext() *eventloop.Context {
	return vx.group.OrCreate()
}

// RunOnContext runs fn on the caller's context.
func (vx *Vertx) RunOnContext(fn func()) {
	vx.group.OrCreate().RunOnContext(fn)
}

// SetTimer calls fn once after d on the caller's context and returns the
// timer ID.
func (vx *Vertx) SetTimer(d time.Duration, fn func(id int64)) int64 {
	return vx.group.OrCreate().SetTimer(d, fn)
}

// SetPeriodic calls fn every d until the timer is cancelled.
func (vx *Vertx) SetPeriodic(d time.Duration, fn func(id int64)) int64 {
	return vx.group.OrCreate().SetPeriodic(d, fn)
}

// CancelTimer reports whether the timer was still pending.
func (vx *Vertx) CancelTimer(id int64) bool {
	return vx.group.CancelTimer(id)
}

// ExecuteBlocking runs work on the worker pool and completes on the
// caller's context. Ordered work from one context runs one at a time in
// submission order.
func ExecuteBlocking[T any](vx *Vertx, work func() (T, error), ordered bool) *future.Future[T] {
	return eventloop.ExecuteBlocking(vx.group.OrCreate(), nil, work, ordered)
}

func (vx *Vertx) EventBus() *eventbus.Bus {
	return vx.bus
}

func (vx *Vertx) SharedData() *shareddata.SharedData {
	return vx.shared
}

func (vx *Vertx) FileSystem() *filesystem.FileSystem {
	return vx.fs
}

func (vx *Vertx) Deployer() *deploy.Deployer {
	return vx.deployer
}

func (vx *Vertx) tcpOptions() []tcp.Option {
	return []tcp.Option{
		tcp.WithReadBufferSize(vx.cfg.Stream.ReadBufferSize),
		tcp.WithWriteQueueMaxSize(vx.cfg.Stream.WriteQueueMaxSize),
	}
}

// CreateNetServer creates a TCP server. It is closed with the Vertx.
func (vx *Vertx) CreateNetServer() *tcp.Server {
	s := tcp.NewServer(vx.group, vx.bus, vx.tcpOptions()...)
	vx.track(s, func() error { return awaitClose(s.Close()) })
	return s
}

func (vx *Vertx) CreateNetClient() *tcp.Client {
	c := tcp.NewClient(vx.group, vx.bus, vx.tcpOptions()...)
	vx.track(c, func() error { c.Close(); return nil })
	return c
}

func (vx *Vertx) CreateHttpServer() *web.Server {
	s := web.NewServer(vx.group, vx.bus)
	vx.track(s, func() error { return awaitClose(s.Close()) })
	return s
}

func (vx *Vertx) CreateHttpClient() *web.Client {
	c := web.NewClient(vx.group, vx.bus, vx.cfg.HTTP.Web())
	vx.track(c, func() error { c.Close(); return nil })
	return c
}

func (vx *Vertx) CreateDatagramSocket() *udp.Socket {
	s := udp.NewSocket(vx.group)
	vx.track(s, func() error { return awaitClose(s.Close()) })
	return s
}

// CreateDnsClient uses the configured server unless server is given as
// host or host:port.
func (vx *Vertx) CreateDnsClient(server ...string) *dns.Client {
	var opts []dns.Option
	if vx.cfg.DNS.Timeout > 0 {
		opts = append(opts, dns.WithTimeout(vx.cfg.DNS.Timeout.Std()))
	}
	addr := vx.cfg.DNS.Server
	if len(server) > 0 && server[0] != "" {
		addr = server[0]
	}
	if addr != "" {
		opts = append(opts, dns.WithServer(addr))
	}
	return dns.NewClient(vx.group, opts...)
}

// Deploy deploys a verticle by name.
func (vx *Vertx) Deploy(name string, o deploy.DeploymentOptions) *future.Future[string] {
	return vx.deployer.Deploy(name, o)
}

func (vx *Vertx) Undeploy(id string) *future.Future[struct{}] {
	return vx.deployer.Undeploy(id)
}

func (vx *Vertx) DeploymentIDs() []string {
	return vx.deployer.DeploymentIDs()
}

func (vx *Vertx) track(key any, closer func() error) {
	vx.mu.Lock()
	defer vx.mu.Unlock()
	if vx.closed {
		go closer()
		return
	}
	vx.resources[key] = closer
}

// Close undeploys every verticle, closes the resources created through
// vx and stops the event loops. It is safe to call more than once, from
// any goroutine including an event loop.
func (vx *Vertx) Close() *future.Future[struct{}] {
	vx.mu.Lock()
	if vx.closed {
		done := vx.done
		vx.mu.Unlock()
		return done
	}
	vx.closed = true
	p := future.NewPromise[struct{}](nil)
	vx.done = p.Future()
	resources := vx.resources
	vx.resources = nil
	vx.mu.Unlock()

	go func() {
		err := vx.deployer.Close()
		for _, closer := range resources {
			err = multierr.Append(err, closer())
		}
		vx.bus.Close()
		vx.group.Close()
		if err != nil {
			Logger().Warn("vertx closed with errors", zap.Error(err))
			p.Fail(errors.Failed(err, "close"))
			return
		}
		Logger().Info("vertx closed")
		p.Complete(struct{}{})
	}()
	return vx.done
}

func awaitClose(f *future.Future[struct{}]) error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	_, err := f.Await(ctx)
	if errors.IsKind(err, errors.KindClosed) {
		return nil
	}
	return err
}
