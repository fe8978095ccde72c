// Package filesystem runs file operations on the worker pool and exposes
// open files as streams.
//
// A FileSystem may be restricted to a set of mounts. Each mount maps a
// virtual prefix to a host directory with a permission mode:
//
//   - ro: read only
//   - rw: read and write existing files
//   - rwc: read, write and create
//
// Paths that escape their mount through ".." are rejected. A FileSystem
// without mounts uses host paths unchanged.
package filesystem

import (
	stderrors "errors"
	"io"
	"os"
	"path"
	"regexp"
	"time"

	"github.com/caffeineduck/vertigo/buffer"
	"github.com/caffeineduck/vertigo/errors"
	"github.com/caffeineduck/vertigo/eventloop"
	"github.com/caffeineduck/vertigo/future"
)

// Limits bounds what a FileSystem will read and write. Zero disables a
// limit.
type Limits struct {
	MaxFileSize   int64
	MaxWriteSize  int64
	MaxPathLength int
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		MaxFileSize:   64 * 1024 * 1024,
		MaxWriteSize:  64 * 1024 * 1024,
		MaxPathLength: 4096,
	}
}

type options struct {
	mounts         []Mount
	limits         Limits
	pool           *eventloop.WorkerPool
	readBufferSize int
}

// Option configures a FileSystem.
type Option func(*options)

func WithMounts(mounts ...Mount) Option {
	return func(o *options) {
		o.mounts = append(o.mounts, mounts...)
	}
}

func WithLimits(l Limits) Option {
	return func(o *options) {
		o.limits = l
	}
}

// WithWorkerPool runs operations on p instead of the group's pool.
func WithWorkerPool(p *eventloop.WorkerPool) Option {
	return func(o *options) {
		o.pool = p
	}
}

// WithReadBufferSize sets the default chunk size of AsyncFile reads.
func WithReadBufferSize(n int) Option {
	return func(o *options) {
		o.readBufferSize = n
	}
}

// FileSystem performs asynchronous file operations.
type FileSystem struct {
	group          *eventloop.Group
	pool           *eventloop.WorkerPool
	mounts         []Mount
	limits         Limits
	readBufferSize int
}

// New creates a FileSystem running its work on g's worker pool.
func New(g *eventloop.Group, opts ...Option) *FileSystem {
	o := options{limits: DefaultLimits(), readBufferSize: DefaultReadBufferSize}
	for _, opt := range opts {
		opt(&o)
	}
	if o.pool == nil {
		o.pool = g.Pool()
	}
	if o.readBufferSize <= 0 {
		o.readBufferSize = DefaultReadBufferSize
	}
	return &FileSystem{
		group:          g,
		pool:           o.pool,
		mounts:         normalizeMounts(o.mounts),
		limits:         o.limits,
		readBufferSize: o.readBufferSize,
	}
}

// Mounts returns the normalized mounts.
func (fs *FileSystem) Mounts() []Mount {
	return append([]Mount(nil), fs.mounts...)
}

func blocking[T any](fs *FileSystem, work func() (T, error)) *future.Future[T] {
	return eventloop.ExecuteBlocking(fs.group.OrCreate(), fs.pool, work, true)
}

func void(work func() error) func() (struct{}, error) {
	return func() (struct{}, error) {
		return struct{}{}, work()
	}
}

// ReadFile reads the whole file.
func (fs *FileSystem) ReadFile(p string) *future.Future[*buffer.Buffer] {
	return blocking(fs, func() (*buffer.Buffer, error) {
		host, err := fs.resolve(p, accessRead)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(host)
		if err != nil {
			return nil, fsError(err, p)
		}
		if info.IsDir() {
			return nil, errors.InvalidState(errors.PhaseOperation, p+" is a directory")
		}
		if fs.limits.MaxFileSize > 0 && info.Size() > fs.limits.MaxFileSize {
			return nil, errors.LimitExceeded(errors.PhaseOperation, "file size", fs.limits.MaxFileSize)
		}
		data, err := os.ReadFile(host)
		if err != nil {
			return nil, fsError(err, p)
		}
		return buffer.Wrap(data), nil
	})
}

// WriteFile replaces the content of p, creating it if needed.
func (fs *FileSystem) WriteFile(p string, data *buffer.Buffer) *future.Future[struct{}] {
	b := data.Copy()
	return blocking(fs, void(func() error {
		if fs.limits.MaxWriteSize > 0 && int64(b.Len()) > fs.limits.MaxWriteSize {
			return errors.LimitExceeded(errors.PhaseOperation, "write size", fs.limits.MaxWriteSize)
		}
		host, err := fs.resolve(p, accessCreate)
		if err != nil {
			return err
		}
		return fsError(os.WriteFile(host, b.Bytes(), 0o644), p)
	}))
}

// CreateFile creates an empty file. It fails if p already exists.
func (fs *FileSystem) CreateFile(p string) *future.Future[struct{}] {
	return blocking(fs, void(func() error {
		host, err := fs.resolve(p, accessCreate)
		if err != nil {
			return err
		}
		f, err := os.OpenFile(host, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
		if err != nil {
			return fsError(err, p)
		}
		return f.Close()
	}))
}

// Exists reports whether p exists. Paths outside every mount do not
// exist.
func (fs *FileSystem) Exists(p string) *future.Future[bool] {
	return blocking(fs, func() (bool, error) {
		host, err := fs.resolve(p, accessRead)
		if err != nil {
			return false, nil
		}
		_, err = os.Stat(host)
		return err == nil, nil
	})
}

// Mkdir creates a single directory. The parent must exist.
func (fs *FileSystem) Mkdir(p string) *future.Future[struct{}] {
	return blocking(fs, void(func() error {
		host, err := fs.resolve(p, accessCreate)
		if err != nil {
			return err
		}
		return fsError(os.Mkdir(host, 0o755), p)
	}))
}

// Mkdirs creates p and any missing parents.
func (fs *FileSystem) Mkdirs(p string) *future.Future[struct{}] {
	return blocking(fs, void(func() error {
		host, err := fs.resolve(p, accessCreate)
		if err != nil {
			return err
		}
		return fsError(os.MkdirAll(host, 0o755), p)
	}))
}

// Delete removes a file or an empty directory.
func (fs *FileSystem) Delete(p string) *future.Future[struct{}] {
	return fs.DeleteRecursive(p, false)
}

// DeleteRecursive removes p; with recursive set, directories are removed
// with their content.
func (fs *FileSystem) DeleteRecursive(p string, recursive bool) *future.Future[struct{}] {
	return blocking(fs, void(func() error {
		host, err := fs.resolve(p, accessWrite)
		if err != nil {
			return err
		}
		if _, err := os.Lstat(host); err != nil {
			return fsError(err, p)
		}
		if recursive {
			return fsError(os.RemoveAll(host), p)
		}
		return fsError(os.Remove(host), p)
	}))
}

// Copy copies the file from to to, replacing to.
func (fs *FileSystem) Copy(from, to string) *future.Future[struct{}] {
	return blocking(fs, void(func() error {
		src, err := fs.resolve(from, accessRead)
		if err != nil {
			return err
		}
		dst, err := fs.resolve(to, accessCreate)
		if err != nil {
			return err
		}
		in, err := os.Open(src)
		if err != nil {
			return fsError(err, from)
		}
		defer in.Close()
		out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			return fsError(err, to)
		}
		if _, err := io.Copy(out, in); err != nil {
			out.Close()
			return fsError(err, to)
		}
		return fsError(out.Close(), to)
	}))
}

// Move renames from to to.
func (fs *FileSystem) Move(from, to string) *future.Future[struct{}] {
	return blocking(fs, void(func() error {
		src, err := fs.resolve(from, accessWrite)
		if err != nil {
			return err
		}
		dst, err := fs.resolve(to, accessCreate)
		if err != nil {
			return err
		}
		return fsError(os.Rename(src, dst), from)
	}))
}

// Truncate cuts or extends the file to size bytes.
func (fs *FileSystem) Truncate(p string, size int64) *future.Future[struct{}] {
	return blocking(fs, void(func() error {
		if size < 0 {
			return errors.InvalidData(errors.PhaseOperation, "negative truncate size")
		}
		host, err := fs.resolve(p, accessWrite)
		if err != nil {
			return err
		}
		return fsError(os.Truncate(host, size), p)
	}))
}

// FileProps describes a file.
type FileProps struct {
	LastModifiedTime time.Time
	IsDirectory      bool
	IsRegularFile    bool
	IsSymbolicLink   bool
	IsOther          bool
	Size             int64
}

func propsOf(info os.FileInfo) *FileProps {
	mode := info.Mode()
	return &FileProps{
		LastModifiedTime: info.ModTime(),
		IsDirectory:      mode.IsDir(),
		IsRegularFile:    mode.IsRegular(),
		IsSymbolicLink:   mode&os.ModeSymlink != 0,
		IsOther:          !mode.IsDir() && !mode.IsRegular() && mode&os.ModeSymlink == 0,
		Size:             info.Size(),
	}
}

// Props returns the properties of p, following symbolic links.
func (fs *FileSystem) Props(p string) *future.Future[*FileProps] {
	return blocking(fs, func() (*FileProps, error) {
		host, err := fs.resolve(p, accessRead)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(host)
		if err != nil {
			return nil, fsError(err, p)
		}
		return propsOf(info), nil
	})
}

// LProps is Props without following a final symbolic link.
func (fs *FileSystem) LProps(p string) *future.Future[*FileProps] {
	return blocking(fs, func() (*FileProps, error) {
		host, err := fs.resolve(p, accessRead)
		if err != nil {
			return nil, err
		}
		info, err := os.Lstat(host)
		if err != nil {
			return nil, fsError(err, p)
		}
		return propsOf(info), nil
	})
}

// ReadDir lists the entries of directory p as paths joined to p. When
// filter is not empty only names matching the regular expression are
// returned.
func (fs *FileSystem) ReadDir(p, filter string) *future.Future[[]string] {
	return blocking(fs, func() ([]string, error) {
		var re *regexp.Regexp
		if filter != "" {
			var err error
			if re, err = regexp.Compile(filter); err != nil {
				return nil, errors.Wrap(errors.PhaseOperation, errors.KindInvalidData, err, "invalid filter")
			}
		}
		host, err := fs.resolve(p, accessRead)
		if err != nil {
			return nil, err
		}
		entries, err := os.ReadDir(host)
		if err != nil {
			return nil, fsError(err, p)
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if re != nil && !re.MatchString(e.Name()) {
				continue
			}
			names = append(names, path.Join(p, e.Name()))
		}
		return names, nil
	})
}

// Open opens p as an AsyncFile.
func (fs *FileSystem) Open(p string, opts OpenOptions) *future.Future[*AsyncFile] {
	ctx := fs.group.OrCreate()
	return eventloop.ExecuteBlocking(ctx, fs.pool, func() (*AsyncFile, error) {
		need := accessRead
		if opts.Write || opts.Append || opts.Truncate {
			need = accessWrite
		}
		if opts.Create || opts.CreateNew {
			need = accessCreate
		}
		host, err := fs.resolve(p, need)
		if err != nil {
			return nil, err
		}
		f, err := os.OpenFile(host, opts.flags(), 0o644)
		if err != nil {
			return nil, fsError(err, p)
		}
		var writePos int64
		if opts.Append {
			info, err := f.Stat()
			if err != nil {
				f.Close()
				return nil, fsError(err, p)
			}
			writePos = info.Size()
		}
		return newAsyncFile(fs, ctx, p, host, f, opts, writePos), nil
	}, true)
}

func fsError(err error, p string) error {
	if err == nil {
		return nil
	}
	switch {
	case stderrors.Is(err, os.ErrNotExist):
		return errors.NotFound(errors.PhaseOperation, p)
	case stderrors.Is(err, os.ErrExist):
		return errors.Wrap(errors.PhaseOperation, errors.KindInvalidState, err, p+" already exists")
	case stderrors.Is(err, os.ErrPermission):
		return errors.PermissionDenied(errors.PhaseOperation, p)
	}
	return errors.Failed(err, p)
}
