package deploy

import (
	"github.com/caffeineduck/vertigo/eventloop"
)

// Option configures a Deployer.
type Option func(*options)

type options struct {
	diskCache        bool
	cacheDir         string
	memoryLimitPages uint32 // each page is 64KB, 0 keeps the wazero default of 4GB
	allowedHosts     []string
	pool             *eventloop.WorkerPool
}

func defaultOptions() options {
	return options{cacheDir: defaultCacheDir()}
}

// WithDiskCache keeps compiled modules on disk across runs. Optionally
// provide a directory; otherwise the cache directory is used.
//
// Examples:
//
//	deploy.New(g, deploy.WithDiskCache())             // default dir
//	deploy.New(g, deploy.WithDiskCache("/tmp/cache")) // custom dir
func WithDiskCache(dir ...string) Option {
	return func(o *options) {
		o.diskCache = true
		if len(dir) > 0 && dir[0] != "" {
			o.cacheDir = dir[0]
		}
	}
}

// WithCacheDir sets where fetched modules and the compilation cache live.
func WithCacheDir(dir string) Option {
	return func(o *options) {
		if dir != "" {
			o.cacheDir = dir
		}
	}
}

// WithMemoryLimit caps the memory of each WASM instance, in 64KB pages.
//   - WithMemoryLimit(16) = 1MB max
//   - WithMemoryLimit(1024) = 64MB max
func WithMemoryLimit(pages uint32) Option {
	return func(o *options) {
		o.memoryLimitPages = pages
	}
}

// WithAllowedModuleHosts lists the hosts modules may be fetched from.
// Without it, deploying a module by URL is refused.
func WithAllowedModuleHosts(hosts ...string) Option {
	return func(o *options) {
		o.allowedHosts = append(o.allowedHosts, hosts...)
	}
}

// WithWorkerPool runs compilation and instantiation on p instead of the
// group's pool.
func WithWorkerPool(p *eventloop.WorkerPool) Option {
	return func(o *options) {
		o.pool = p
	}
}

// Memory limits in pages.
const (
	MemoryLimit1MB   uint32 = 16
	MemoryLimit16MB  uint32 = 256
	MemoryLimit64MB  uint32 = 1024
	MemoryLimit256MB uint32 = 4096
	MemoryLimit1GB   uint32 = 16384
)
