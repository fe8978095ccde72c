// Package deploy starts and stops verticles.
//
// A verticle is deployed by name:
//
//	go:<name>           a Go verticle registered with Register
//	http(s)://host/m    a WASM module fetched into the cache directory
//	<path>              a WASM module on disk
//
// WASM verticles run under wazero with WASI. A deployment succeeds once
// every instance's _start has returned; exiting with status 0 counts as
// success. Each instance stays alive until it is undeployed.
package deploy

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/caffeineduck/vertigo/errors"
	"github.com/caffeineduck/vertigo/eventloop"
	"github.com/caffeineduck/vertigo/future"
	"github.com/caffeineduck/vertigo/value"
	"github.com/google/uuid"
	"github.com/tetratelabs/wazero"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Verticle is a deployable unit written in Go.
type Verticle interface {
	// Start runs on the verticle's context. Returning an error fails the
	// deployment.
	Start(d *Deployment) error
	// Stop runs on the verticle's context when it is undeployed.
	Stop() error
}

// Deployment is what a Go verticle instance knows about itself.
type Deployment struct {
	ID       string
	Name     string
	Instance int
	Config   *value.JsonObject
	Context  *eventloop.Context
}

// DeploymentOptions controls a deployment.
type DeploymentOptions struct {
	// Config is handed to Go verticles and exported to WASM verticles as
	// VERTIGO_CONFIG.
	Config    *value.JsonObject
	Instances int
	// Env is added to the environment of WASM verticles.
	Env map[string]string
}

type instance interface {
	stop() error
}

type deployment struct {
	id        string
	name      string
	instances []instance
}

// Deployer owns the WASM runtime and the deployed verticles.
type Deployer struct {
	group *eventloop.Group
	opts  options

	runtime  wazero.Runtime
	cache    wazero.CompilationCache
	flight   singleflight.Group
	compiled sync.Map // path -> wazero.CompiledModule

	mu          sync.Mutex
	factories   map[string]func() Verticle
	deployments map[string]*deployment
	closed      bool
}

// New creates a deployer and its WASM runtime.
func New(g *eventloop.Group, opts ...Option) (*Deployer, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.pool == nil {
		o.pool = g.Pool()
	}
	d := &Deployer{
		group:       g,
		opts:        o,
		factories:   make(map[string]func() Verticle),
		deployments: make(map[string]*deployment),
	}
	if err := d.initRuntime(context.Background()); err != nil {
		return nil, err
	}
	return d, nil
}

// Register makes a Go verticle deployable as "go:"+name.
func (d *Deployer) Register(name string, factory func() Verticle) {
	d.mu.Lock()
	d.factories[name] = factory
	d.mu.Unlock()
}

// Deploy deploys the named verticle and completes with the deployment ID.
func (d *Deployer) Deploy(name string, o DeploymentOptions) *future.Future[string] {
	if o.Instances <= 0 {
		o.Instances = 1
	}
	if o.Config == nil {
		o.Config = value.NewJsonObject()
	}
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return future.FailedFuture[string](errors.Closed(errors.PhaseDeploy, "deployer"))
	}

	id := uuid.NewString()
	if goName, ok := strings.CutPrefix(name, "go:"); ok {
		return d.deployGo(id, goName, o)
	}
	return d.deployWasm(id, name, o)
}

func (d *Deployer) deployGo(id, name string, o DeploymentOptions) *future.Future[string] {
	d.mu.Lock()
	factory, ok := d.factories[name]
	d.mu.Unlock()
	if !ok {
		return future.FailedFuture[string](errors.NotFound(errors.PhaseDeploy, "verticle go:"+name))
	}

	caller := d.group.OrCreate()
	started := make([]*future.Future[instance], o.Instances)
	for i := range o.Instances {
		started[i] = d.startGo(caller, factory(), &Deployment{
			ID:       id,
			Name:     "go:" + name,
			Instance: i,
			Config:   o.Config.Copy(),
			Context:  d.group.Next(),
		})
	}

	p := future.NewPromise[string](caller)
	future.Join(started...).OnComplete(func(r future.Result[[]future.Result[instance]]) {
		var (
			live  []instance
			cause error
		)
		for _, res := range r.Value() {
			if res.Failed() {
				if cause == nil {
					cause = res.Err()
				}
				continue
			}
			live = append(live, res.Value())
		}
		if cause != nil {
			stopAll(live)
			p.Fail(cause)
			return
		}
		d.record(&deployment{id: id, name: "go:" + name, instances: live})
		p.Complete(id)
	})
	return p.Future()
}

type goInstance struct {
	v   Verticle
	ctx *eventloop.Context
}

func (g *goInstance) stop() error {
	done := make(chan error, 1)
	g.ctx.Dispatch(func() {
		defer func() {
			if r := recover(); r != nil {
				done <- errors.New(errors.PhaseDeploy, errors.KindOperationFailed).
					Detail("verticle stop panicked: %v", r).Build()
			}
		}()
		done <- g.v.Stop()
	})
	return <-done
}

func (d *Deployer) startGo(caller *eventloop.Context, v Verticle, dep *Deployment) *future.Future[instance] {
	p := future.NewPromise[instance](caller)
	dep.Context.RunOnContext(func() {
		defer func() {
			if r := recover(); r != nil {
				p.Fail(errors.New(errors.PhaseDeploy, errors.KindOperationFailed).
					Detail("verticle %s panicked: %v", dep.Name, r).Build())
			}
		}()
		if err := v.Start(dep); err != nil {
			p.Fail(errors.Wrap(errors.PhaseDeploy, errors.KindOperationFailed, err, "start "+dep.Name))
			return
		}
		p.Complete(&goInstance{v: v, ctx: dep.Context})
	})
	return p.Future()
}

func (d *Deployer) record(dep *deployment) {
	d.mu.Lock()
	d.deployments[dep.id] = dep
	d.mu.Unlock()
	Logger().Info("verticle deployed",
		zap.String("id", dep.id),
		zap.String("name", dep.name),
		zap.Int("instances", len(dep.instances)))
}

func stopAll(instances []instance) error {
	var err error
	for _, in := range instances {
		err = multierr.Append(err, in.stop())
	}
	return err
}

// Undeploy stops every instance of a deployment.
func (d *Deployer) Undeploy(id string) *future.Future[struct{}] {
	d.mu.Lock()
	dep, ok := d.deployments[id]
	delete(d.deployments, id)
	d.mu.Unlock()
	if !ok {
		return future.FailedFuture[struct{}](errors.NotFound(errors.PhaseDeploy, "deployment "+id))
	}
	return eventloop.ExecuteBlocking(d.group.OrCreate(), d.opts.pool, func() (struct{}, error) {
		err := stopAll(dep.instances)
		Logger().Info("verticle undeployed", zap.String("id", id), zap.String("name", dep.name), zap.Error(err))
		return struct{}{}, err
	}, false)
}

// DeploymentIDs returns the live deployment IDs, sorted.
func (d *Deployer) DeploymentIDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, 0, len(d.deployments))
	for id := range d.deployments {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close undeploys everything and releases the runtime.
func (d *Deployer) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	deps := d.deployments
	d.deployments = make(map[string]*deployment)
	d.mu.Unlock()

	var err error
	for _, dep := range deps {
		err = multierr.Append(err, stopAll(dep.instances))
	}
	ctx := context.Background()
	err = multierr.Append(err, d.runtime.Close(ctx))
	if d.cache != nil {
		err = multierr.Append(err, d.cache.Close(ctx))
	}
	return err
}

func defaultCacheDir() string {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, "vertigo")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "vertigo")
	}
	return filepath.Join(os.TempDir(), "vertigo-cache")
}

func deployError(err error, format string, args ...any) error {
	return errors.New(errors.PhaseDeploy, errors.KindOperationFailed).Cause(err).Detail(format, args...).Build()
}
