package deploy

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/caffeineduck/vertigo/errors"
	"github.com/caffeineduck/vertigo/eventloop"
	"github.com/caffeineduck/vertigo/future"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// HostModule is the name of the module WASM verticles import host
// functions from.
const HostModule = "vertigo"

// ConfigEnv is the environment variable holding a WASM verticle's config
// as JSON.
const ConfigEnv = "VERTIGO_CONFIG"

type deploymentKey struct{}

func (d *Deployer) initRuntime(ctx context.Context) error {
	var err error
	if d.opts.diskCache {
		d.cache, err = wazero.NewCompilationCacheWithDir(filepath.Join(d.opts.cacheDir, "compiled"))
		if err != nil {
			return deployError(err, "create disk cache")
		}
	}

	cfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if d.cache != nil {
		cfg = cfg.WithCompilationCache(d.cache)
	}
	if d.opts.memoryLimitPages > 0 {
		cfg = cfg.WithMemoryLimitPages(d.opts.memoryLimitPages)
	}

	d.runtime = wazero.NewRuntimeWithConfig(ctx, cfg)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, d.runtime); err != nil {
		d.closeRuntime(ctx)
		return deployError(err, "instantiate WASI")
	}
	_, err = d.runtime.NewHostModuleBuilder(HostModule).
		NewFunctionBuilder().WithFunc(hostLog).Export("log").
		Instantiate(ctx)
	if err != nil {
		d.closeRuntime(ctx)
		return deployError(err, "instantiate host module")
	}
	return nil
}

func (d *Deployer) closeRuntime(ctx context.Context) {
	d.runtime.Close(ctx)
	if d.cache != nil {
		d.cache.Close(ctx)
	}
}

// hostLog is vertigo.log(level, ptr, len). Levels follow zap: -1 debug, 0
// info, 1 warn, 2 error.
func hostLog(ctx context.Context, m api.Module, level int32, ptr, length uint32) {
	data, ok := m.Memory().Read(ptr, length)
	if !ok {
		Logger().Warn("verticle log out of bounds", zap.Uint32("ptr", ptr), zap.Uint32("len", length))
		return
	}
	lvl := zapcore.Level(level)
	if lvl < zapcore.DebugLevel || lvl > zapcore.ErrorLevel {
		lvl = zapcore.InfoLevel
	}
	id, _ := ctx.Value(deploymentKey{}).(string)
	if ce := Logger().Check(lvl, string(data)); ce != nil {
		ce.Write(zap.String("deployment", id))
	}
}

type wasmInstance struct {
	mod    api.Module
	cancel context.CancelFunc
}

func (w *wasmInstance) stop() error {
	w.cancel()
	if w.mod == nil {
		return nil
	}
	err := w.mod.Close(context.Background())
	var exit *sys.ExitError
	if stderrors.As(err, &exit) {
		return nil
	}
	return err
}

func (d *Deployer) deployWasm(id, name string, o DeploymentOptions) *future.Future[string] {
	return eventloop.ExecuteBlocking(d.group.OrCreate(), d.opts.pool, func() (string, error) {
		path, err := d.resolve(name)
		if err != nil {
			return "", err
		}
		compiled, err := d.compile(path)
		if err != nil {
			return "", err
		}
		instances := make([]instance, 0, o.Instances)
		for i := range o.Instances {
			in, err := d.instantiate(id, name, i, compiled, o)
			if err != nil {
				stopAll(instances)
				return "", err
			}
			instances = append(instances, in)
		}
		d.record(&deployment{id: id, name: name, instances: instances})
		return id, nil
	}, false)
}

func (d *Deployer) instantiate(id, name string, n int, compiled wazero.CompiledModule, o DeploymentOptions) (instance, error) {
	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), deploymentKey{}, id))
	stdout := &lineWriter{id: id, level: zapcore.InfoLevel}
	stderr := &lineWriter{id: id, level: zapcore.WarnLevel}
	cfg := wazero.NewModuleConfig().
		WithName("").
		WithArgs(name).
		WithStdout(stdout).
		WithStderr(stderr).
		WithEnv(ConfigEnv, o.Config.Encode()).
		WithEnv("VERTIGO_DEPLOYMENT_ID", id).
		WithEnv("VERTIGO_INSTANCE", strconv.Itoa(n))
	for k, v := range o.Env {
		cfg = cfg.WithEnv(k, v)
	}

	mod, err := d.runtime.InstantiateModule(ctx, compiled, cfg)
	stdout.Flush()
	stderr.Flush()
	if err != nil {
		var exit *sys.ExitError
		if stderrors.As(err, &exit) && exit.ExitCode() == 0 {
			return &wasmInstance{mod: mod, cancel: cancel}, nil
		}
		cancel()
		return nil, deployError(err, "start %s instance %d", name, n)
	}
	return &wasmInstance{mod: mod, cancel: cancel}, nil
}

func (d *Deployer) compile(path string) (wazero.CompiledModule, error) {
	if c, ok := d.compiled.Load(path); ok {
		return c.(wazero.CompiledModule), nil
	}
	v, err, _ := d.flight.Do("compile:"+path, func() (any, error) {
		if c, ok := d.compiled.Load(path); ok {
			return c, nil
		}
		code, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, errors.NotFound(errors.PhaseDeploy, "module "+path)
			}
			return nil, deployError(err, "read module %s", path)
		}
		c, err := d.runtime.CompileModule(context.Background(), code)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseDeploy, errors.KindInvalidData, err, "compile "+path)
		}
		d.compiled.Store(path, c)
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(wazero.CompiledModule), nil
}

// resolve maps a verticle name to a module file, fetching URLs first.
func (d *Deployer) resolve(name string) (string, error) {
	if !strings.HasPrefix(name, "http://") && !strings.HasPrefix(name, "https://") {
		return name, nil
	}
	u, err := url.Parse(name)
	if err != nil {
		return "", errors.Wrap(errors.PhaseDeploy, errors.KindInvalidData, err, "invalid module url")
	}
	if !d.hostAllowed(u.Hostname()) {
		return "", errors.PermissionDenied(errors.PhaseDeploy, "module host not allowed: "+u.Hostname())
	}
	sum := sha256.Sum256([]byte(name))
	path := filepath.Join(d.opts.cacheDir, "modules", hex.EncodeToString(sum[:])+".wasm")
	_, err, _ = d.flight.Do("fetch:"+name, func() (any, error) {
		return nil, fetch(name, path)
	})
	return path, err
}

func (d *Deployer) hostAllowed(host string) bool {
	for _, allowed := range d.opts.allowedHosts {
		if allowed == "*" || host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

// fetch downloads url to output unless output already exists.
func fetch(url, output string) error {
	if _, err := os.Stat(output); err == nil {
		return nil
	}
	resp, err := http.Get(url)
	if err != nil {
		return deployError(err, "fetch %s", url)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.New(errors.PhaseDeploy, errors.KindNotFound).Detail("fetch %s: %s", url, resp.Status).Build()
	}

	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return deployError(err, "create module cache")
	}
	tmp, err := os.CreateTemp(filepath.Dir(output), ".fetch-*")
	if err != nil {
		return deployError(err, "create module cache file")
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return deployError(err, "fetch %s", url)
	}
	if err := tmp.Close(); err != nil {
		return deployError(err, "write module cache")
	}
	Logger().Info("module fetched", zap.String("url", url), zap.String("path", output))
	return os.Rename(tmp.Name(), output)
}

// lineWriter forwards a verticle's output to the logger one line at a
// time.
type lineWriter struct {
	id    string
	level zapcore.Level

	mu  sync.Mutex
	buf bytes.Buffer
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	for {
		i := bytes.IndexByte(w.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		line := string(w.buf.Next(i + 1))
		w.emit(strings.TrimRight(line, "\r\n"))
	}
	return len(p), nil
}

// Flush emits a trailing partial line.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.emit(w.buf.String())
		w.buf.Reset()
	}
}

func (w *lineWriter) emit(line string) {
	if ce := Logger().Check(w.level, "verticle output"); ce != nil {
		ce.Write(zap.String("deployment", w.id), zap.String("line", line))
	}
}
