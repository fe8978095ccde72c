package bind

import (
	"github.com/caffeineduck/vertigo/buffer"
	"github.com/caffeineduck/vertigo/errors"
	"github.com/caffeineduck/vertigo/filesystem"
	"github.com/caffeineduck/vertigo/overload"
	"github.com/caffeineduck/vertigo/value"
)

// openOptions reads the boolean flags of an open call. Missing flags keep
// the defaults of filesystem.DefaultOpenOptions.
func openOptions(obj *value.JsonObject) (filesystem.OpenOptions, error) {
	opts := filesystem.DefaultOpenOptions()
	if obj == nil {
		return opts, nil
	}
	flags := []struct {
		name string
		dst  *bool
	}{
		{"read", &opts.Read},
		{"write", &opts.Write},
		{"create", &opts.Create},
		{"createNew", &opts.CreateNew},
		{"truncateExisting", &opts.Truncate},
		{"append", &opts.Append},
		{"sync", &opts.Sync},
		{"deleteOnClose", &opts.DeleteOnClose},
	}
	for _, f := range flags {
		v, ok := obj.Lookup(f.name)
		if !ok {
			continue
		}
		b, ok := v.(bool)
		if !ok {
			return opts, errors.TypeMismatch(errors.PhaseMarshal, []string{"OpenOptions", f.name},
				"boolean", value.TypeOf(v))
		}
		*f.dst = b
	}
	return opts, nil
}

var _ = defineClass(KindFileSystem, func(t *overload.Table[*Object]) {
	fs := as[*filesystem.FileSystem]
	path := overload.String

	// Every operation returns the file system so calls chain.
	t.Method("readFile").On(func(o *Object, args []any) (any, error) {
		notify(args, fs(o).ReadFile(str(args, 0)), wrapper[*buffer.Buffer](o.rt, KindBuffer))
		return o, nil
	}, path, callback)
	t.Method("writeFile").On(func(o *Object, args []any) (any, error) {
		notify(args, fs(o).WriteFile(str(args, 0), buf(args, 1)), void)
		return o, nil
	}, path, bufferArg, handler)
	t.Method("createFile").On(func(o *Object, args []any) (any, error) {
		notify(args, fs(o).CreateFile(str(args, 0)), void)
		return o, nil
	}, path, handler)
	t.Method("exists").On(func(o *Object, args []any) (any, error) {
		notify(args, fs(o).Exists(str(args, 0)), same[bool])
		return o, nil
	}, path, callback)
	t.Method("mkdir").On(func(o *Object, args []any) (any, error) {
		notify(args, fs(o).Mkdir(str(args, 0)), void)
		return o, nil
	}, path, handler)
	t.Method("mkdirs").On(func(o *Object, args []any) (any, error) {
		notify(args, fs(o).Mkdirs(str(args, 0)), void)
		return o, nil
	}, path, handler)
	t.Method("delete").On(func(o *Object, args []any) (any, error) {
		notify(args, fs(o).Delete(str(args, 0)), void)
		return o, nil
	}, path, handler)
	t.Method("deleteRecursive").On(func(o *Object, args []any) (any, error) {
		notify(args, fs(o).DeleteRecursive(str(args, 0), boolean(args, 1)), void)
		return o, nil
	}, path, overload.Boolean, handler)
	t.Method("copy").On(func(o *Object, args []any) (any, error) {
		notify(args, fs(o).Copy(str(args, 0), str(args, 1)), void)
		return o, nil
	}, path, path, handler)
	t.Method("move").On(func(o *Object, args []any) (any, error) {
		notify(args, fs(o).Move(str(args, 0), str(args, 1)), void)
		return o, nil
	}, path, path, handler)
	t.Method("truncate").On(func(o *Object, args []any) (any, error) {
		notify(args, fs(o).Truncate(str(args, 0), long(args, 1)), void)
		return o, nil
	}, path, overload.Integer, handler)
	t.Method("props").On(func(o *Object, args []any) (any, error) {
		notify(args, fs(o).Props(str(args, 0)), wrapper[*filesystem.FileProps](o.rt, KindFileProps))
		return o, nil
	}, path, callback)
	t.Method("lprops").On(func(o *Object, args []any) (any, error) {
		notify(args, fs(o).LProps(str(args, 0)), wrapper[*filesystem.FileProps](o.rt, KindFileProps))
		return o, nil
	}, path, callback)
	t.Method("readDir").
		On(func(o *Object, args []any) (any, error) {
			notify(args, fs(o).ReadDir(str(args, 0), ""), same[[]string])
			return o, nil
		}, path, callback).
		On(func(o *Object, args []any) (any, error) {
			notify(args, fs(o).ReadDir(str(args, 0), str(args, 1)), same[[]string])
			return o, nil
		}, path, overload.String, callback)
	t.Method("open").On(func(o *Object, args []any) (any, error) {
		opts, err := openOptions(jsonObject(args, 1))
		if err != nil {
			return nil, err
		}
		notify(args, fs(o).Open(str(args, 0), opts), wrapper[*filesystem.AsyncFile](o.rt, KindAsyncFile))
		return o, nil
	}, path, overload.Nullable(optionsArg), callback)
})

var _ = defineClass(KindAsyncFile, func(t *overload.Table[*Object]) {
	af := as[*filesystem.AsyncFile]

	bufferReadStream(t)
	bufferWriteStream(t)
	// write(buffer, position, handler) writes out of band of the stream.
	t.Method("write").On(func(o *Object, args []any) (any, error) {
		notify(args, af(o).WriteAt(buf(args, 0), long(args, 1)), void)
		return o, nil
	}, bufferArg, overload.Integer, handler)
	t.Method("read").On(func(o *Object, args []any) (any, error) {
		f := af(o).ReadAt(buf(args, 0), integer(args, 1), long(args, 2), integer(args, 3))
		notify(args, f, wrapper[*buffer.Buffer](o.rt, KindBuffer))
		return o, nil
	}, bufferArg, overload.Integer, overload.Integer, overload.Integer, callback)
	t.Method("setReadPos").On(func(o *Object, args []any) (any, error) {
		af(o).SetReadPos(long(args, 0))
		return o, nil
	}, overload.Integer)
	t.Method("setReadLength").On(func(o *Object, args []any) (any, error) {
		af(o).SetReadLength(long(args, 0))
		return o, nil
	}, overload.Integer)
	t.Method("setReadBufferSize").On(func(o *Object, args []any) (any, error) {
		af(o).SetReadBufferSize(integer(args, 0))
		return o, nil
	}, overload.Integer)
	t.Method("setWritePos").On(func(o *Object, args []any) (any, error) {
		af(o).SetWritePos(long(args, 0))
		return o, nil
	}, overload.Integer)
	t.Method("getWritePos").On(func(o *Object, args []any) (any, error) {
		return af(o).WritePos(), nil
	})
	t.Method("flush").
		On(func(o *Object, args []any) (any, error) {
			af(o).Flush()
			return o, nil
		}).
		On(func(o *Object, args []any) (any, error) {
			notify(args, af(o).Flush(), void)
			return o, nil
		}, handler)
	t.Method("close").
		On(func(o *Object, args []any) (any, error) {
			af(o).Close()
			return nil, nil
		}).
		On(func(o *Object, args []any) (any, error) {
			notify(args, af(o).Close(), void)
			return nil, nil
		}, handler)
	t.Method("path").On(func(o *Object, args []any) (any, error) {
		return af(o).Path(), nil
	})
})

var _ = defineClass(KindFileProps, func(t *overload.Table[*Object]) {
	props := as[*filesystem.FileProps]
	t.Method("lastModifiedTime").On(func(o *Object, args []any) (any, error) {
		return props(o).LastModifiedTime.UnixMilli(), nil
	})
	t.Method("isDirectory").On(func(o *Object, args []any) (any, error) {
		return props(o).IsDirectory, nil
	})
	t.Method("isRegularFile").On(func(o *Object, args []any) (any, error) {
		return props(o).IsRegularFile, nil
	})
	t.Method("isSymbolicLink").On(func(o *Object, args []any) (any, error) {
		return props(o).IsSymbolicLink, nil
	})
	t.Method("isOther").On(func(o *Object, args []any) (any, error) {
		return props(o).IsOther, nil
	})
	t.Method("size").On(func(o *Object, args []any) (any, error) {
		return props(o).Size, nil
	})
})
