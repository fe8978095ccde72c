package bind

import (
	"github.com/caffeineduck/vertigo/buffer"
	"github.com/caffeineduck/vertigo/overload"
	"github.com/caffeineduck/vertigo/stream"
	"github.com/caffeineduck/vertigo/value"
)

// readStream declares the readable half of the flow-control contract on t.
// The receiver's delegate must implement stream.ReadStream[T]; items are
// converted for the caller by marshal.
func readStream[T any](t *overload.Table[*Object], marshal func(rt *Runtime, item T) any) {
	rs := func(o *Object) stream.ReadStream[T] {
		return o.Delegate().(stream.ReadStream[T])
	}
	t.Method("handler").On(func(o *Object, args []any) (any, error) {
		rt := o.rt
		rs(o).Handler(handlerOf(fn(args, 0), func(item T) any { return marshal(rt, item) }))
		return o, nil
	}, handler)
	t.Method("pause").On(func(o *Object, args []any) (any, error) {
		rs(o).Pause()
		return o, nil
	})
	t.Method("resume").On(func(o *Object, args []any) (any, error) {
		rs(o).Resume()
		return o, nil
	})
	t.Method("endHandler").On(func(o *Object, args []any) (any, error) {
		rs(o).EndHandler(handler0(fn(args, 0)))
		return o, nil
	}, handler)
	exceptionHandler(t, func(o *Object, h func(error)) { rs(o).ExceptionHandler(h) })
}

// writeStream declares the writable half of the contract. item accepts the
// caller form of one item and unmarshal converts it.
func writeStream[T any](t *overload.Table[*Object], item overload.Predicate, unmarshal func(v any) T) {
	ws := func(o *Object) stream.WriteStream[T] {
		return o.Delegate().(stream.WriteStream[T])
	}
	t.Method("write").On(func(o *Object, args []any) (any, error) {
		ws(o).Write(unmarshal(args[0]))
		return o, nil
	}, item)
	t.Method("end").
		On(func(o *Object, args []any) (any, error) {
			ws(o).End()
			return nil, nil
		}).
		On(func(o *Object, args []any) (any, error) {
			stream.EndWith(ws(o), unmarshal(args[0]))
			return nil, nil
		}, item)
	t.Method("setWriteQueueMaxSize").On(func(o *Object, args []any) (any, error) {
		ws(o).SetWriteQueueMaxSize(integer(args, 0))
		return o, nil
	}, overload.Integer)
	t.Method("writeQueueFull").On(func(o *Object, args []any) (any, error) {
		return ws(o).WriteQueueFull(), nil
	})
	t.Method("drainHandler").On(func(o *Object, args []any) (any, error) {
		ws(o).DrainHandler(handler0(fn(args, 0)))
		return o, nil
	}, handler)
	exceptionHandler(t, func(o *Object, h func(error)) { ws(o).ExceptionHandler(h) })
}

// exceptionHandler is shared by both halves; duplex classes declare it once.
func exceptionHandler(t *overload.Table[*Object], set func(o *Object, h func(error))) {
	if _, ok := t.Lookup("exceptionHandler"); ok {
		return
	}
	t.Method("exceptionHandler").On(func(o *Object, args []any) (any, error) {
		set(o, errorHandler(fn(args, 0)))
		return o, nil
	}, handler)
}

// Buffer streams are the common case.

func bufferReadStream(t *overload.Table[*Object]) {
	readStream(t, func(rt *Runtime, b *buffer.Buffer) any {
		return wrapper[*buffer.Buffer](rt, KindBuffer)(b)
	})
}

func bufferWriteStream(t *overload.Table[*Object]) {
	writeStream(t, bufferArg, bufferOf)
}

// stringWrites adds write(string) and write(string, encoding) for classes
// whose delegate can encode strings.
func stringWrites(t *overload.Table[*Object], write func(o *Object, s, enc string) error) {
	t.Method("write").
		On(func(o *Object, args []any) (any, error) {
			return o, write(o, str(args, 0), "")
		}, overload.String).
		On(func(o *Object, args []any) (any, error) {
			return o, write(o, str(args, 0), str(args, 1))
		}, overload.String, overload.String)
}

// stringEnds adds end(string) and end(string, encoding).
func stringEnds(t *overload.Table[*Object], write func(o *Object, s, enc string) error, end func(o *Object)) {
	t.Method("end").
		On(func(o *Object, args []any) (any, error) {
			if err := write(o, str(args, 0), ""); err != nil {
				return nil, err
			}
			end(o)
			return nil, nil
		}, overload.String).
		On(func(o *Object, args []any) (any, error) {
			if err := write(o, str(args, 0), str(args, 1)); err != nil {
				return nil, err
			}
			end(o)
			return nil, nil
		}, overload.String, overload.String)
}

// Pump endpoints are objects of any Buffer read or write stream class.
var (
	readStreamArg = overload.Predicate{Name: "ReadStream", Accept: func(v any) bool {
		o, ok := v.(*Object)
		if !ok {
			return false
		}
		_, ok = o.Delegate().(stream.ReadStream[*buffer.Buffer])
		return ok
	}}
	writeStreamArg = overload.Predicate{Name: "WriteStream", Accept: func(v any) bool {
		o, ok := v.(*Object)
		if !ok {
			return false
		}
		_, ok = o.Delegate().(stream.WriteStream[*buffer.Buffer])
		return ok
	}}
)

func newPump(rt *Runtime, args []any, maxQueue int) *Object {
	rs := args[0].(*Object).Delegate().(stream.ReadStream[*buffer.Buffer])
	ws := args[1].(*Object).Delegate().(stream.WriteStream[*buffer.Buffer])
	return rt.wrap(KindPump, stream.NewPump(rs, ws, maxQueue))
}

var _ = defineStatic(KindPump, func(t *overload.Table[*Object]) {
	t.Method("pump").
		On(func(o *Object, args []any) (any, error) {
			return newPump(o.rt, args, 0), nil
		}, readStreamArg, writeStreamArg).
		On(func(o *Object, args []any) (any, error) {
			return newPump(o.rt, args, integer(args, 2)), nil
		}, readStreamArg, writeStreamArg, overload.Integer)
})

var _ = defineClass(KindPump, func(t *overload.Table[*Object]) {
	pump := as[*stream.Pump[*buffer.Buffer]]
	t.Method("start").On(func(o *Object, args []any) (any, error) {
		pump(o).Start()
		return o, nil
	})
	t.Method("stop").On(func(o *Object, args []any) (any, error) {
		pump(o).Stop()
		return o, nil
	})
	t.Method("setWriteQueueMaxSize").On(func(o *Object, args []any) (any, error) {
		pump(o).SetWriteQueueMaxSize(integer(args, 0))
		return o, nil
	}, overload.Integer)
	t.Method("numberOfWrites").On(func(o *Object, args []any) (any, error) {
		return pump(o).Pumped(), nil
	})
})

var _ value.Kinded = (*Object)(nil)
