package filesystem

import (
	"context"
	stderrors "errors"
	"io"
	"os"
	"sync"

	"github.com/caffeineduck/vertigo/buffer"
	"github.com/caffeineduck/vertigo/errors"
	"github.com/caffeineduck/vertigo/eventloop"
	"github.com/caffeineduck/vertigo/future"
	"github.com/caffeineduck/vertigo/stream"
	"go.uber.org/zap"
)

// DefaultReadBufferSize is the chunk size of AsyncFile reads.
const DefaultReadBufferSize = 8192

// OpenOptions controls how Open opens a file.
type OpenOptions struct {
	Read          bool
	Write         bool
	Create        bool
	CreateNew     bool
	Truncate      bool
	Append        bool
	Sync          bool
	DeleteOnClose bool
}

// DefaultOpenOptions opens for reading and writing, creating the file if
// it is missing.
func DefaultOpenOptions() OpenOptions {
	return OpenOptions{Read: true, Write: true, Create: true}
}

// Appending is done by positioning writes at the end; os.File.WriteAt
// refuses files opened with O_APPEND.
func (o OpenOptions) flags() int {
	write := o.Write || o.Append || o.Truncate
	var flag int
	switch {
	case write && o.Read:
		flag = os.O_RDWR
	case write:
		flag = os.O_WRONLY
	default:
		flag = os.O_RDONLY
	}
	if o.CreateNew {
		flag |= os.O_CREATE | os.O_EXCL
	} else if o.Create {
		flag |= os.O_CREATE
	}
	if o.Truncate {
		flag |= os.O_TRUNC
	}
	if o.Sync {
		flag |= os.O_SYNC
	}
	return flag
}

type chunk struct {
	data  *buffer.Buffer
	pos   int64
	flush *future.Promise[struct{}]
}

func chunkSize(c chunk) int {
	return stream.BufferSize(c.data)
}

// AsyncFile is an open file. It reads as a ReadStream of buffers, starting
// when a handler is installed, and writes sequentially as a WriteStream.
type AsyncFile struct {
	fs   *FileSystem
	ctx  *eventloop.Context
	path string
	host string
	f    *os.File
	opts OpenOptions

	in    *stream.Inbound[*buffer.Buffer]
	valve *stream.Valve
	out   *stream.Outbound[chunk]

	readCtx    context.Context
	stopReader context.CancelFunc

	mu             sync.Mutex
	readPos        int64
	readLength     int64
	readBufferSize int
	writePos       int64
	reading        bool
	closed         bool
}

func newAsyncFile(fs *FileSystem, ctx *eventloop.Context, p, host string, f *os.File, opts OpenOptions, writePos int64) *AsyncFile {
	af := &AsyncFile{
		fs:             fs,
		ctx:            ctx,
		path:           p,
		host:           host,
		f:              f,
		opts:           opts,
		valve:          stream.NewValve(),
		readLength:     -1,
		readBufferSize: fs.readBufferSize,
		writePos:       writePos,
	}
	af.readCtx, af.stopReader = context.WithCancel(context.Background())
	af.in = stream.NewInbound[*buffer.Buffer](ctx, af.valve.Hooks(1, 0))
	af.out = stream.NewOutbound(ctx, af.sink,
		stream.WithSizer(chunkSize),
		stream.WithCloser[chunk](af.closeFile),
		stream.WithName[chunk]("file "+p))
	return af
}

// Path returns the path the file was opened with.
func (af *AsyncFile) Path() string {
	return af.path
}

// Handler installs the data handler and starts reading on first use.
func (af *AsyncFile) Handler(h func(*buffer.Buffer)) {
	af.in.Handler(h)
	if h == nil {
		return
	}
	af.mu.Lock()
	start := !af.reading && !af.closed
	af.reading = true
	af.mu.Unlock()
	if start {
		go af.reader()
	}
}

func (af *AsyncFile) Pause() {
	af.in.Pause()
}

func (af *AsyncFile) Resume() {
	af.in.Resume()
}

func (af *AsyncFile) EndHandler(h func()) {
	af.in.EndHandler(h)
}

// ExceptionHandler receives read and write errors.
func (af *AsyncFile) ExceptionHandler(h func(error)) {
	af.in.ExceptionHandler(h)
	af.out.ExceptionHandler(h)
}

// SetReadPos sets where the next stream read starts.
func (af *AsyncFile) SetReadPos(pos int64) *AsyncFile {
	af.mu.Lock()
	af.readPos = pos
	af.mu.Unlock()
	return af
}

// SetReadLength limits how many bytes the stream reads. Negative means
// until EOF.
func (af *AsyncFile) SetReadLength(n int64) *AsyncFile {
	af.mu.Lock()
	af.readLength = n
	af.mu.Unlock()
	return af
}

func (af *AsyncFile) SetReadBufferSize(n int) *AsyncFile {
	if n <= 0 {
		n = DefaultReadBufferSize
	}
	af.mu.Lock()
	af.readBufferSize = n
	af.mu.Unlock()
	return af
}

// SetWritePos sets where the next sequential write lands.
func (af *AsyncFile) SetWritePos(pos int64) *AsyncFile {
	af.mu.Lock()
	af.writePos = pos
	af.mu.Unlock()
	return af
}

// WritePos returns the position of the next sequential write.
func (af *AsyncFile) WritePos() int64 {
	af.mu.Lock()
	defer af.mu.Unlock()
	return af.writePos
}

func (af *AsyncFile) reader() {
	var read int64
	for {
		if err := af.valve.Wait(af.readCtx); err != nil {
			return
		}
		af.mu.Lock()
		pos, size, limit := af.readPos, af.readBufferSize, af.readLength
		af.mu.Unlock()
		if limit >= 0 && int64(size) > limit-read {
			size = int(limit - read)
		}
		if size <= 0 {
			af.in.Finish()
			return
		}

		data := make([]byte, size)
		n, err := af.f.ReadAt(data, pos)
		if n > 0 {
			read += int64(n)
			af.mu.Lock()
			if af.readPos == pos {
				af.readPos = pos + int64(n)
			}
			af.mu.Unlock()
			af.in.Push(buffer.Wrap(data[:n]))
		}
		if stderrors.Is(err, io.EOF) {
			af.in.Finish()
			return
		}
		if err != nil {
			if af.readCtx.Err() == nil {
				af.in.Fail(fsError(err, af.path))
			}
			return
		}
	}
}

// Write queues b at the current write position and advances it.
func (af *AsyncFile) Write(b *buffer.Buffer) {
	af.mu.Lock()
	pos := af.writePos
	af.writePos += int64(b.Len())
	af.mu.Unlock()
	af.out.Write(chunk{data: b.Copy(), pos: pos})
}

func (af *AsyncFile) sink(c chunk) error {
	if c.flush != nil {
		c.flush.Handle(struct{}{}, fsError(af.f.Sync(), af.path))
		return nil
	}
	_, err := af.f.WriteAt(c.data.Bytes(), c.pos)
	return err
}

// End flushes queued writes and closes the file.
func (af *AsyncFile) End() {
	af.stopReader()
	af.out.End()
}

func (af *AsyncFile) SetWriteQueueMaxSize(n int) {
	af.out.SetWriteQueueMaxSize(n)
}

func (af *AsyncFile) WriteQueueFull() bool {
	return af.out.WriteQueueFull()
}

func (af *AsyncFile) DrainHandler(h func()) {
	af.out.DrainHandler(h)
}

// WriteAt writes b at pos without moving the sequential write position.
func (af *AsyncFile) WriteAt(b *buffer.Buffer, pos int64) *future.Future[struct{}] {
	data := b.Copy()
	return eventloop.ExecuteBlocking(af.ctx, af.fs.pool, func() (struct{}, error) {
		if pos < 0 {
			return struct{}{}, errors.InvalidData(errors.PhaseOperation, "negative position")
		}
		_, err := af.f.WriteAt(data.Bytes(), pos)
		return struct{}{}, fsError(err, af.path)
	}, false)
}

// ReadAt reads up to length bytes at pos into b starting at offset. The
// result is b.
func (af *AsyncFile) ReadAt(b *buffer.Buffer, offset int, pos int64, length int) *future.Future[*buffer.Buffer] {
	return eventloop.ExecuteBlocking(af.ctx, af.fs.pool, func() (*buffer.Buffer, error) {
		if offset < 0 || pos < 0 || length < 0 {
			return nil, errors.InvalidData(errors.PhaseOperation, "negative offset, position or length")
		}
		data := make([]byte, length)
		n, err := af.f.ReadAt(data, pos)
		if err != nil && !stderrors.Is(err, io.EOF) {
			return nil, fsError(err, af.path)
		}
		if err := b.SetBytes(offset, data[:n]); err != nil {
			return nil, err
		}
		return b, nil
	}, false)
}

// Flush completes once every write queued before it is on storage.
func (af *AsyncFile) Flush() *future.Future[struct{}] {
	if af.out.Ended() {
		return future.FailedFuture[struct{}](errors.Closed(errors.PhaseOperation, "file "+af.path))
	}
	p := future.NewPromise[struct{}](af.ctx)
	af.out.Write(chunk{flush: p})
	return p.Future()
}

// Close stops reading, flushes queued writes and closes the file.
func (af *AsyncFile) Close() *future.Future[struct{}] {
	af.End()
	return af.out.Closed()
}

func (af *AsyncFile) closeFile() error {
	af.mu.Lock()
	af.closed = true
	af.mu.Unlock()
	af.valve.Open()
	err := af.f.Close()
	if af.opts.DeleteOnClose {
		if rmErr := os.Remove(af.host); rmErr != nil {
			Logger().Warn("failed to delete file on close", zap.String("path", af.path), zap.Error(rmErr))
		}
	}
	return fsError(err, af.path)
}
