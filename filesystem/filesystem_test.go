package filesystem

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/caffeineduck/vertigo/buffer"
	"github.com/caffeineduck/vertigo/errors"
	"github.com/caffeineduck/vertigo/eventloop"
	"github.com/caffeineduck/vertigo/future"
)

func newTestFS(t *testing.T, opts ...Option) *FileSystem {
	t.Helper()
	g := eventloop.NewGroup(1)
	t.Cleanup(g.Close)
	return New(g, opts...)
}

func await[T any](f *future.Future[T]) (T, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return f.Await(ctx)
}

func mustAwait[T any](t *testing.T, f *future.Future[T]) T {
	t.Helper()
	v, err := await(f)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	return v
}

func TestReadOnlyMount(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "test.txt"), []byte("hello world"), 0644)

	fs := newTestFS(t, WithMounts(Mount{VirtualPath: "/data", HostPath: dir, Mode: MountReadOnly}))

	b := mustAwait(t, fs.ReadFile("/data/test.txt"))
	if b.String() != "hello world" {
		t.Errorf("expected 'hello world', got %q", b.String())
	}

	_, err := await(fs.WriteFile("/data/test.txt", buffer.FromString("modified")))
	if !errors.IsKind(err, errors.KindPermissionDenied) {
		t.Errorf("expected write to fail on read-only mount, got %v", err)
	}
}

func TestReadWriteMount(t *testing.T) {
	dir := t.TempDir()
	testFile := filepath.Join(dir, "test.txt")
	os.WriteFile(testFile, []byte("original"), 0644)

	fs := newTestFS(t, WithMounts(Mount{VirtualPath: "/output", HostPath: dir, Mode: MountReadWrite}))

	mustAwait(t, fs.WriteFile("/output/test.txt", buffer.FromString("modified")))
	content, _ := os.ReadFile(testFile)
	if string(content) != "modified" {
		t.Errorf("expected 'modified', got %q", content)
	}

	if _, err := await(fs.WriteFile("/output/new.txt", buffer.FromString("new"))); err == nil {
		t.Error("expected creating new file to fail on rw mount")
	}
	if _, err := await(fs.Mkdir("/output/sub")); err == nil {
		t.Error("expected mkdir to fail on rw mount")
	}
}

func TestReadWriteCreateMount(t *testing.T) {
	dir := t.TempDir()
	fs := newTestFS(t, WithMounts(Mount{VirtualPath: "/workspace", HostPath: dir, Mode: MountReadWriteCreate}))

	mustAwait(t, fs.WriteFile("/workspace/new.txt", buffer.FromString("created")))
	content, _ := os.ReadFile(filepath.Join(dir, "new.txt"))
	if string(content) != "created" {
		t.Errorf("expected 'created', got %q", content)
	}

	mustAwait(t, fs.Mkdirs("/workspace/a/b"))
	info, err := os.Stat(filepath.Join(dir, "a", "b"))
	if err != nil || !info.IsDir() {
		t.Error("expected directory to be created")
	}

	if _, err := await(fs.CreateFile("/workspace/new.txt")); err == nil {
		t.Error("CreateFile on an existing file should fail")
	}
}

func TestPathChecks(t *testing.T) {
	dir := t.TempDir()
	fs := newTestFS(t,
		WithMounts(Mount{VirtualPath: "/data", HostPath: dir, Mode: MountReadOnly}),
		WithLimits(Limits{MaxPathLength: 64}))

	tests := []struct {
		name string
		path string
		kind errors.Kind
	}{
		{"traversal", "/data/../secret.txt", errors.KindPermissionDenied},
		{"outside mount", "/etc/passwd", errors.KindPermissionDenied},
		{"too long", "/data/" + strings.Repeat("x", 80), errors.KindLimitExceeded},
		{"missing", "/data/none.txt", errors.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := await(fs.ReadFile(tt.path))
			if !errors.IsKind(err, tt.kind) {
				t.Errorf("expected %s, got %v", tt.kind, err)
			}
		})
	}

	if mustAwait(t, fs.Exists("/etc/passwd")) {
		t.Error("paths outside every mount should not exist")
	}
}

func TestFileLimits(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "big.txt"), []byte("0123456789"), 0644)
	fs := newTestFS(t, WithLimits(Limits{MaxFileSize: 5, MaxWriteSize: 5}))

	if _, err := await(fs.ReadFile(filepath.Join(dir, "big.txt"))); !errors.IsKind(err, errors.KindLimitExceeded) {
		t.Errorf("read limit not enforced: %v", err)
	}
	if _, err := await(fs.WriteFile(filepath.Join(dir, "out.txt"), buffer.FromString("too long"))); !errors.IsKind(err, errors.KindLimitExceeded) {
		t.Errorf("write limit not enforced: %v", err)
	}
}

func TestFileOperations(t *testing.T) {
	dir := t.TempDir()
	fs := newTestFS(t)
	p := func(name string) string { return filepath.Join(dir, name) }

	mustAwait(t, fs.WriteFile(p("a.txt"), buffer.FromString("abcdef")))
	mustAwait(t, fs.Copy(p("a.txt"), p("b.txt")))
	mustAwait(t, fs.Move(p("b.txt"), p("c.txt")))
	if mustAwait(t, fs.Exists(p("b.txt"))) {
		t.Error("moved file still exists")
	}
	mustAwait(t, fs.Truncate(p("c.txt"), 3))
	if b := mustAwait(t, fs.ReadFile(p("c.txt"))); b.String() != "abc" {
		t.Errorf("truncated content = %q", b.String())
	}

	props := mustAwait(t, fs.Props(p("a.txt")))
	if !props.IsRegularFile || props.IsDirectory || props.Size != 6 {
		t.Errorf("props = %+v", props)
	}

	mustAwait(t, fs.Mkdir(p("sub")))
	mustAwait(t, fs.WriteFile(p("sub/x.log"), buffer.FromString("x")))
	names := mustAwait(t, fs.ReadDir(dir, `\.txt$`))
	if len(names) != 2 || names[0] != p("a.txt") || names[1] != p("c.txt") {
		t.Errorf("ReadDir = %v", names)
	}

	if _, err := await(fs.Delete(p("sub"))); err == nil {
		t.Error("deleting a non-empty directory should fail")
	}
	mustAwait(t, fs.DeleteRecursive(p("sub"), true))
	if _, err := await(fs.Delete(p("sub"))); !errors.IsKind(err, errors.KindNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestAsyncFileReadStream(t *testing.T) {
	dir := t.TempDir()
	content := strings.Repeat("0123456789", 100)
	os.WriteFile(filepath.Join(dir, "in.txt"), []byte(content), 0644)
	fs := newTestFS(t)

	f := mustAwait(t, fs.Open(filepath.Join(dir, "in.txt"), OpenOptions{Read: true}))
	f.SetReadBufferSize(64).SetReadPos(10)

	var mu sync.Mutex
	var sb strings.Builder
	chunks := 0
	ended := make(chan struct{})
	f.EndHandler(func() { close(ended) })
	f.Handler(func(b *buffer.Buffer) {
		mu.Lock()
		defer mu.Unlock()
		if b.Len() > 64 {
			t.Errorf("chunk of %d bytes exceeds read buffer size", b.Len())
		}
		sb.WriteString(b.String())
		chunks++
	})

	select {
	case <-ended:
	case <-time.After(5 * time.Second):
		t.Fatal("end handler not called")
	}
	mu.Lock()
	if sb.String() != content[10:] {
		t.Errorf("read %d bytes, want %d", sb.Len(), len(content)-10)
	}
	if chunks < 2 {
		t.Errorf("expected several chunks, got %d", chunks)
	}
	mu.Unlock()
	mustAwait(t, f.Close())
}

func TestAsyncFilePauseHoldsData(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "in.txt"), []byte(strings.Repeat("x", 1000)), 0644)
	fs := newTestFS(t)
	f := mustAwait(t, fs.Open(filepath.Join(dir, "in.txt"), OpenOptions{Read: true}))
	f.SetReadBufferSize(100)

	var mu sync.Mutex
	total := 0
	first := make(chan struct{}, 1)
	ended := make(chan struct{})
	f.EndHandler(func() { close(ended) })
	f.Handler(func(b *buffer.Buffer) {
		mu.Lock()
		total += b.Len()
		mu.Unlock()
		f.Pause()
		select {
		case first <- struct{}{}:
		default:
		}
	})

	<-first
	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	if total != 100 {
		t.Errorf("paused file delivered %d bytes", total)
	}
	mu.Unlock()

	f.Handler(func(b *buffer.Buffer) {
		mu.Lock()
		total += b.Len()
		mu.Unlock()
	})
	f.Resume()
	select {
	case <-ended:
	case <-time.After(5 * time.Second):
		t.Fatal("file did not finish after resume")
	}
	mu.Lock()
	defer mu.Unlock()
	if total != 1000 {
		t.Errorf("total = %d", total)
	}
}

func TestAsyncFileWrite(t *testing.T) {
	dir := t.TempDir()
	fs := newTestFS(t)
	path := filepath.Join(dir, "out.txt")

	f := mustAwait(t, fs.Open(path, DefaultOpenOptions()))
	f.Write(buffer.FromString("hello "))
	f.Write(buffer.FromString("world"))
	mustAwait(t, f.Flush())
	if data, _ := os.ReadFile(path); string(data) != "hello world" {
		t.Errorf("after flush = %q", data)
	}

	mustAwait(t, f.WriteAt(buffer.FromString("J"), 6))
	got := mustAwait(t, f.ReadAt(buffer.FromString("__"), 2, 0, 5))
	if got.String() != "__hello" {
		t.Errorf("ReadAt = %q", got.String())
	}
	mustAwait(t, f.Close())

	if data, _ := os.ReadFile(path); string(data) != "hello Jorld" {
		t.Errorf("final content = %q", data)
	}
	if _, err := await(f.Flush()); !errors.IsKind(err, errors.KindClosed) {
		t.Errorf("flush after close: %v", err)
	}
}

func TestAsyncFileAppend(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "log.txt")
	os.WriteFile(path, []byte("one\n"), 0644)
	fs := newTestFS(t)

	f := mustAwait(t, fs.Open(path, OpenOptions{Write: true, Append: true}))
	f.Write(buffer.FromString("two\n"))
	mustAwait(t, f.Close())
	if data, _ := os.ReadFile(path); string(data) != "one\ntwo\n" {
		t.Errorf("appended content = %q", data)
	}
}

func TestMountModes(t *testing.T) {
	m, err := MountModes.Parse("rwc")
	if err != nil || m != MountReadWriteCreate {
		t.Errorf("Parse(rwc) = %v, %v", m, err)
	}
	if MountReadOnly.String() != "ro" {
		t.Errorf("String() = %q", MountReadOnly.String())
	}
}
