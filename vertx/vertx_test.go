package vertx

import (
	"context"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/caffeineduck/vertigo/buffer"
	"github.com/caffeineduck/vertigo/config"
	"github.com/caffeineduck/vertigo/deploy"
	"github.com/caffeineduck/vertigo/errors"
	"github.com/caffeineduck/vertigo/eventbus"
	"github.com/caffeineduck/vertigo/future"
	"github.com/caffeineduck/vertigo/tcp"
	"github.com/caffeineduck/vertigo/web"
)

func newVertx(t *testing.T) *Vertx {
	t.Helper()
	cfg := config.Default()
	cfg.EventLoops = 2
	cfg.Deploy.CacheDir = t.TempDir()
	vx, err := NewFromConfig(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { await(t, vx.Close()) })
	return vx
}

func await[T any](t *testing.T, f *future.Future[T]) T {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	v, err := f.Await(ctx)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	return v
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Workers = -1
	if _, err := NewFromConfig(cfg); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestTimers(t *testing.T) {
	vx := newVertx(t)

	fired := make(chan int64, 1)
	id := vx.SetTimer(10*time.Millisecond, func(id int64) { fired <- id })
	select {
	case got := <-fired:
		if got != id {
			t.Errorf("timer id = %d, want %d", got, id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}

	var ticks atomic.Int32
	periodic := vx.SetPeriodic(5*time.Millisecond, func(int64) { ticks.Add(1) })
	time.Sleep(50 * time.Millisecond)
	if !vx.CancelTimer(periodic) {
		t.Error("periodic timer was not pending")
	}
	if ticks.Load() == 0 {
		t.Error("periodic timer never fired")
	}
	if vx.CancelTimer(periodic) {
		t.Error("second cancel reported pending")
	}
}

func TestExecuteBlocking(t *testing.T) {
	vx := newVertx(t)
	if v := await(t, ExecuteBlocking(vx, func() (int, error) { return 42, nil }, true)); v != 42 {
		t.Errorf("ExecuteBlocking = %d", v)
	}
}

func TestRunOnContext(t *testing.T) {
	vx := newVertx(t)
	done := make(chan bool, 1)
	vx.RunOnContext(func() {
		done <- vx.OrCreateContext().IsOnContext()
	})
	if !<-done {
		t.Error("OrCreateContext inside a handler is not the running context")
	}
}

func TestEventBusAndSharedData(t *testing.T) {
	vx := newVertx(t)
	vx.EventBus().Consumer("echo").Handler(func(m *eventbus.Message) {
		m.Reply(m.Body(), nil)
	})
	reply := await(t, vx.EventBus().Request("echo", "hi", nil))
	if reply.Body() != "hi" {
		t.Errorf("reply = %v", reply.Body())
	}

	c := await(t, vx.SharedData().Counter("hits"))
	if n := await(t, c.IncrementAndGet()); n != 1 {
		t.Errorf("counter = %d", n)
	}
}

func TestFileSystemUsesConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.EventLoops = 1
	cfg.Deploy.CacheDir = t.TempDir()
	cfg.FileSystem.Mounts = []config.MountConfig{{Virtual: "/data", Host: dir, Mode: "ro"}}
	vx, err := New(WithConfig(cfg))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { await(t, vx.Close()) }()

	_, err = vx.FileSystem().WriteFile("/data/x.txt", buffer.FromString("x")).Await(context.Background())
	if !errors.IsKind(err, errors.KindPermissionDenied) {
		t.Errorf("write to read-only mount: %v", err)
	}
	_, err = vx.FileSystem().ReadFile(filepath.Join(dir, "x.txt")).Await(context.Background())
	if err == nil {
		t.Error("host path outside the mounts should be rejected")
	}
}

func TestNetAndHttpFactories(t *testing.T) {
	vx := newVertx(t)

	srv := vx.CreateNetServer().ConnectHandler(func(s *tcp.Socket) {
		s.Handler(func(b *buffer.Buffer) { s.Write(b) })
	})
	await(t, srv.Listen(0, "127.0.0.1"))
	sock := await(t, vx.CreateNetClient().Connect(srv.ActualPort(), "127.0.0.1"))
	got := make(chan string, 1)
	sock.Handler(func(b *buffer.Buffer) { got <- b.String() })
	sock.Write(buffer.FromString("ping"))
	select {
	case s := <-got:
		if s != "ping" {
			t.Errorf("echo = %q", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no echo")
	}

	hs := vx.CreateHttpServer().RequestHandler(func(r *web.ServerRequest) {
		r.Response().End()
	})
	await(t, hs.Listen(0, "127.0.0.1"))
	req := vx.CreateHttpClient().Get("http://127.0.0.1:" + strconv.Itoa(hs.ActualPort()) + "/")
	req.End()
	resp := await(t, req.Response())
	if resp.StatusCode() != 200 {
		t.Errorf("status = %d", resp.StatusCode())
	}
}

func TestDeployThroughVertx(t *testing.T) {
	vx := newVertx(t)
	stopped := make(chan struct{})
	vx.Deployer().Register("v", func() deploy.Verticle {
		return verticle{stopped: stopped}
	})
	id := await(t, vx.Deploy("go:v", deploy.DeploymentOptions{}))
	if ids := vx.DeploymentIDs(); len(ids) != 1 || ids[0] != id {
		t.Fatalf("DeploymentIDs = %v", ids)
	}
	await(t, vx.Undeploy(id))
	select {
	case <-stopped:
	default:
		t.Error("verticle not stopped")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	cfg := config.Default()
	cfg.EventLoops = 1
	cfg.Deploy.CacheDir = t.TempDir()
	vx, err := NewFromConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	srv := vx.CreateNetServer()
	await(t, srv.Listen(0, "127.0.0.1"))

	first := vx.Close()
	if second := vx.Close(); second != first {
		t.Error("Close returned a different future")
	}
	await(t, first)
	if _, err := vx.Deploy("go:none", deploy.DeploymentOptions{}).Await(context.Background()); !errors.IsKind(err, errors.KindClosed) {
		t.Errorf("deploy after close: %v", err)
	}
}

type verticle struct {
	stopped chan struct{}
}

func (verticle) Start(*deploy.Deployment) error { return nil }

func (v verticle) Stop() error {
	close(v.stopped)
	return nil
}
