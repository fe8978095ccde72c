package bind

import (
	"context"
	"net"
	"strconv"

	"github.com/caffeineduck/vertigo/buffer"
	"github.com/caffeineduck/vertigo/deploy"
	"github.com/caffeineduck/vertigo/errors"
	"github.com/caffeineduck/vertigo/future"
	"github.com/caffeineduck/vertigo/overload"
	"github.com/caffeineduck/vertigo/value"
	"github.com/caffeineduck/vertigo/vertx"
)

var _ = defineClass(KindVertx, func(t *overload.Table[*Object]) {
	vx := as[*vertx.Vertx]

	t.Method("setTimer").On(func(o *Object, args []any) (any, error) {
		cb := fn(args, 1)
		return vx(o).SetTimer(millis(args, 0), func(id int64) { cb(id) }), nil
	}, overload.Integer, callback)
	t.Method("setPeriodic").On(func(o *Object, args []any) (any, error) {
		cb := fn(args, 1)
		return vx(o).SetPeriodic(millis(args, 0), func(id int64) { cb(id) }), nil
	}, overload.Integer, callback)
	t.Method("cancelTimer").On(func(o *Object, args []any) (any, error) {
		return vx(o).CancelTimer(long(args, 0)), nil
	}, overload.Integer)
	t.Method("runOnContext").On(func(o *Object, args []any) (any, error) {
		cb := fn(args, 0)
		vx(o).RunOnContext(func() { cb() })
		return nil, nil
	}, callback)

	// executeBlocking hands the blocking code a Promise object. The worker
	// stays busy until the promise is completed.
	blocking := func(o *Object, code value.Callable, ordered bool, result value.Callable) {
		rt := o.rt
		f := vertx.ExecuteBlocking(vx(o), func() (any, error) {
			p := future.NewPromise[any](nil)
			code(rt.wrap(KindPromise, p))
			return p.Future().Await(context.Background())
		}, ordered)
		future.Notify(f, result, rt.out)
	}
	t.Method("executeBlocking").
		On(func(o *Object, args []any) (any, error) {
			blocking(o, fn(args, 0), true, fn(args, 1))
			return nil, nil
		}, callback, handler).
		On(func(o *Object, args []any) (any, error) {
			blocking(o, fn(args, 0), boolean(args, 1), fn(args, 2))
			return nil, nil
		}, callback, overload.Boolean, handler)

	t.Method("eventBus").On(func(o *Object, args []any) (any, error) {
		return o.child("eventBus", KindEventBus, func() any { return vx(o).EventBus() }), nil
	})
	t.Method("sharedData").On(func(o *Object, args []any) (any, error) {
		return o.child("sharedData", KindSharedData, func() any { return vx(o).SharedData() }), nil
	})
	t.Method("fileSystem").On(func(o *Object, args []any) (any, error) {
		return o.child("fileSystem", KindFileSystem, func() any { return vx(o).FileSystem() }), nil
	})

	t.Method("createNetServer").On(func(o *Object, args []any) (any, error) {
		return o.rt.wrap(KindNetServer, vx(o).CreateNetServer()), nil
	})
	t.Method("createNetClient").On(func(o *Object, args []any) (any, error) {
		return o.rt.wrap(KindNetClient, vx(o).CreateNetClient()), nil
	})
	t.Method("createHttpServer").On(func(o *Object, args []any) (any, error) {
		return o.rt.wrap(KindHttpServer, vx(o).CreateHttpServer()), nil
	})
	t.Method("createHttpClient").On(func(o *Object, args []any) (any, error) {
		return o.rt.wrap(KindHttpClient, vx(o).CreateHttpClient()), nil
	})
	t.Method("createDatagramSocket").On(func(o *Object, args []any) (any, error) {
		return o.rt.wrap(KindDatagramSocket, vx(o).CreateDatagramSocket()), nil
	})
	t.Method("createDnsClient").
		On(func(o *Object, args []any) (any, error) {
			return o.rt.wrap(KindDnsClient, vx(o).CreateDnsClient()), nil
		}).
		On(func(o *Object, args []any) (any, error) {
			return o.rt.wrap(KindDnsClient, vx(o).CreateDnsClient(str(args, 0))), nil
		}, overload.String).
		On(func(o *Object, args []any) (any, error) {
			addr := net.JoinHostPort(str(args, 1), strconv.Itoa(integer(args, 0)))
			return o.rt.wrap(KindDnsClient, vx(o).CreateDnsClient(addr)), nil
		}, overload.Integer, overload.String)

	deployWith := func(o *Object, name string, opts *value.JsonObject, cb value.Callable) error {
		do, err := deploymentOptions(opts)
		if err != nil {
			return err
		}
		future.Notify(vx(o).Deploy(name, do), cb, same[string])
		return nil
	}
	t.Method("deployVerticle").
		On(func(o *Object, args []any) (any, error) {
			return nil, deployWith(o, str(args, 0), nil, nil)
		}, overload.String).
		On(func(o *Object, args []any) (any, error) {
			return nil, deployWith(o, str(args, 0), nil, fn(args, 1))
		}, overload.String, callback).
		On(func(o *Object, args []any) (any, error) {
			return nil, deployWith(o, str(args, 0), jsonObject(args, 1), nil)
		}, overload.String, optionsArg).
		On(func(o *Object, args []any) (any, error) {
			return nil, deployWith(o, str(args, 0), jsonObject(args, 1), fn(args, 2))
		}, overload.String, optionsArg, handler)
	t.Method("undeploy").
		On(func(o *Object, args []any) (any, error) {
			vx(o).Undeploy(str(args, 0))
			return nil, nil
		}, overload.String).
		On(func(o *Object, args []any) (any, error) {
			notify(args, vx(o).Undeploy(str(args, 0)), void)
			return nil, nil
		}, overload.String, handler)
	t.Method("deploymentIDs").On(func(o *Object, args []any) (any, error) {
		return value.ToCaller(vx(o).DeploymentIDs()), nil
	})
	t.Method("close").
		On(func(o *Object, args []any) (any, error) {
			vx(o).Close()
			return nil, nil
		}).
		On(func(o *Object, args []any) (any, error) {
			notify(args, vx(o).Close(), void)
			return nil, nil
		}, handler)
})

// deploymentOptions reads {"instances": n, "config": {...}, "env": {...}}.
func deploymentOptions(obj *value.JsonObject) (deploy.DeploymentOptions, error) {
	var do deploy.DeploymentOptions
	if obj == nil {
		return do, nil
	}
	if v, ok := obj.Lookup("instances"); ok {
		n, ok := value.ToInt64(v)
		if !ok || n < 0 {
			return do, errors.TypeMismatch(errors.PhaseMarshal, []string{"DeploymentOptions", "instances"},
				"non-negative integer", value.TypeOf(v))
		}
		do.Instances = int(n)
	}
	if v, ok := obj.Lookup("config"); ok && v != nil {
		cfg, ok := v.(*value.JsonObject)
		if !ok {
			return do, errors.TypeMismatch(errors.PhaseMarshal, []string{"DeploymentOptions", "config"},
				"JsonObject", value.TypeOf(v))
		}
		do.Config = cfg
	}
	if env, ok := obj.GetObject("env"); ok {
		do.Env = make(map[string]string, env.Len())
		for _, k := range env.Keys() {
			s, ok := env.GetString(k)
			if !ok {
				return do, errors.TypeMismatch(errors.PhaseMarshal, []string{"DeploymentOptions", "env", k},
					"string", value.TypeOf(env.Get(k)))
			}
			do.Env[k] = s
		}
	}
	return do, nil
}

var _ = defineClass(KindPromise, func(t *overload.Table[*Object]) {
	promise := as[*future.Promise[any]]
	t.Method("complete").
		On(func(o *Object, args []any) (any, error) {
			return promise(o).Complete(nil), nil
		}).
		On(func(o *Object, args []any) (any, error) {
			return promise(o).Complete(in(args[0])), nil
		}, bodyArg)
	t.Method("fail").On(func(o *Object, args []any) (any, error) {
		err, _ := value.ToError(args[0])
		return promise(o).Fail(err), nil
	}, overload.Failure)
	t.Method("isComplete").On(func(o *Object, args []any) (any, error) {
		return promise(o).Future().IsComplete(), nil
	})
})

var _ = defineStatic(KindBuffer, func(t *overload.Table[*Object]) {
	t.Method("buffer").
		On(func(o *Object, args []any) (any, error) {
			return o.rt.wrap(KindBuffer, buffer.New()), nil
		}).
		On(func(o *Object, args []any) (any, error) {
			return o.rt.wrap(KindBuffer, buffer.NewSize(integer(args, 0))), nil
		}, overload.Integer).
		On(func(o *Object, args []any) (any, error) {
			return o.rt.wrap(KindBuffer, buffer.FromString(str(args, 0))), nil
		}, overload.String).
		On(func(o *Object, args []any) (any, error) {
			b, err := buffer.FromStringEncoded(str(args, 0), str(args, 1))
			if err != nil {
				return nil, err
			}
			return o.rt.wrap(KindBuffer, b), nil
		}, overload.String, overload.String)
	t.Method("fromBase64").On(func(o *Object, args []any) (any, error) {
		b, err := buffer.FromBase64(str(args, 0))
		if err != nil {
			return nil, err
		}
		return o.rt.wrap(KindBuffer, b), nil
	}, overload.String)
	t.Method("encodings").On(func(o *Object, args []any) (any, error) {
		return value.ToCaller(buffer.Encodings()), nil
	})
})

type integers interface {
	~int8 | ~uint8 | ~int16 | ~uint16 | ~int32 | ~uint32 | ~int64
}

// fixedInt declares get<name>, set<name> and append<name>. set and app may
// be nil where the host has no such form.
func fixedInt[T integers](t *overload.Table[*Object], name string,
	get func(*buffer.Buffer, int) (T, error),
	set func(*buffer.Buffer, int, T) error,
	app func(*buffer.Buffer, T) *buffer.Buffer) {

	t.Method("get"+name).On(func(o *Object, args []any) (any, error) {
		v, err := get(bufferOf(o), integer(args, 0))
		if err != nil {
			return nil, err
		}
		return int64(v), nil
	}, overload.Integer)
	if set != nil {
		t.Method("set"+name).On(func(o *Object, args []any) (any, error) {
			return o, set(bufferOf(o), integer(args, 0), T(long(args, 1)))
		}, overload.Integer, overload.Integer)
	}
	if app != nil {
		t.Method("append"+name).On(func(o *Object, args []any) (any, error) {
			app(bufferOf(o), T(long(args, 0)))
			return o, nil
		}, overload.Integer)
	}
}

func fixedFloat[T ~float32 | ~float64](t *overload.Table[*Object], name string,
	get func(*buffer.Buffer, int) (T, error),
	set func(*buffer.Buffer, int, T) error,
	app func(*buffer.Buffer, T) *buffer.Buffer) {

	t.Method("get"+name).On(func(o *Object, args []any) (any, error) {
		v, err := get(bufferOf(o), integer(args, 0))
		if err != nil {
			return nil, err
		}
		return float64(v), nil
	}, overload.Integer)
	t.Method("set"+name).On(func(o *Object, args []any) (any, error) {
		return o, set(bufferOf(o), integer(args, 0), T(float(args, 1)))
	}, overload.Integer, overload.Number)
	t.Method("append"+name).On(func(o *Object, args []any) (any, error) {
		app(bufferOf(o), T(float(args, 0)))
		return o, nil
	}, overload.Number)
}

var _ = defineClass(KindBuffer, func(t *overload.Table[*Object]) {
	type B = *buffer.Buffer

	fixedInt(t, "Byte", B.GetByte, B.SetByte, B.AppendByte)
	fixedInt(t, "UnsignedByte", B.GetUnsignedByte, B.SetUnsignedByte, B.AppendUnsignedByte)
	fixedInt(t, "Short", B.GetShort, B.SetShort, B.AppendShort)
	fixedInt(t, "ShortLE", B.GetShortLE, B.SetShortLE, B.AppendShortLE)
	fixedInt(t, "UnsignedShort", B.GetUnsignedShort, B.SetUnsignedShort, B.AppendUnsignedShort)
	fixedInt(t, "UnsignedShortLE", B.GetUnsignedShortLE, B.SetUnsignedShortLE, B.AppendUnsignedShortLE)
	fixedInt(t, "Medium", B.GetMedium, B.SetMedium, B.AppendMedium)
	fixedInt(t, "MediumLE", B.GetMediumLE, B.SetMediumLE, B.AppendMediumLE)
	fixedInt(t, "UnsignedMedium", B.GetUnsignedMedium, nil, nil)
	fixedInt(t, "UnsignedMediumLE", B.GetUnsignedMediumLE, nil, nil)
	fixedInt(t, "Int", B.GetInt, B.SetInt, B.AppendInt)
	fixedInt(t, "IntLE", B.GetIntLE, B.SetIntLE, B.AppendIntLE)
	fixedInt(t, "UnsignedInt", B.GetUnsignedInt, B.SetUnsignedInt, B.AppendUnsignedInt)
	fixedInt(t, "UnsignedIntLE", B.GetUnsignedIntLE, B.SetUnsignedIntLE, B.AppendUnsignedIntLE)
	fixedInt(t, "Long", B.GetLong, B.SetLong, B.AppendLong)
	fixedInt(t, "LongLE", B.GetLongLE, B.SetLongLE, B.AppendLongLE)
	fixedFloat(t, "Float", B.GetFloat, B.SetFloat, B.AppendFloat)
	fixedFloat(t, "FloatLE", B.GetFloatLE, B.SetFloatLE, B.AppendFloatLE)
	fixedFloat(t, "Double", B.GetDouble, B.SetDouble, B.AppendDouble)
	fixedFloat(t, "DoubleLE", B.GetDoubleLE, B.SetDoubleLE, B.AppendDoubleLE)

	t.Method("length").On(func(o *Object, args []any) (any, error) {
		return bufferOf(o).Len(), nil
	})
	t.Method("getBuffer").On(func(o *Object, args []any) (any, error) {
		b, err := bufferOf(o).GetBuffer(integer(args, 0), integer(args, 1))
		if err != nil {
			return nil, err
		}
		return o.rt.wrap(KindBuffer, b), nil
	}, overload.Integer, overload.Integer)
	t.Method("getString").
		On(func(o *Object, args []any) (any, error) {
			return bufferOf(o).GetString(integer(args, 0), integer(args, 1), "")
		}, overload.Integer, overload.Integer).
		On(func(o *Object, args []any) (any, error) {
			return bufferOf(o).GetString(integer(args, 0), integer(args, 1), str(args, 2))
		}, overload.Integer, overload.Integer, overload.String)
	t.Method("setBuffer").On(func(o *Object, args []any) (any, error) {
		return o, bufferOf(o).SetBuffer(integer(args, 0), buf(args, 1))
	}, overload.Integer, bufferArg)
	t.Method("setString").
		On(func(o *Object, args []any) (any, error) {
			return o, bufferOf(o).SetString(integer(args, 0), str(args, 1), "")
		}, overload.Integer, overload.String).
		On(func(o *Object, args []any) (any, error) {
			return o, bufferOf(o).SetString(integer(args, 0), str(args, 1), str(args, 2))
		}, overload.Integer, overload.String, overload.String)
	t.Method("appendBuffer").
		On(func(o *Object, args []any) (any, error) {
			bufferOf(o).AppendBuffer(buf(args, 0))
			return o, nil
		}, bufferArg).
		On(func(o *Object, args []any) (any, error) {
			part, err := buf(args, 0).SliceRange(integer(args, 1), integer(args, 1)+integer(args, 2))
			if err != nil {
				return nil, err
			}
			bufferOf(o).AppendBuffer(part)
			return o, nil
		}, bufferArg, overload.Integer, overload.Integer)
	t.Method("appendString").
		On(func(o *Object, args []any) (any, error) {
			bufferOf(o).AppendString(str(args, 0))
			return o, nil
		}, overload.String).
		On(func(o *Object, args []any) (any, error) {
			_, err := bufferOf(o).AppendStringEncoded(str(args, 0), str(args, 1))
			return o, err
		}, overload.String, overload.String)
	t.Method("slice").
		On(func(o *Object, args []any) (any, error) {
			return o.rt.wrap(KindBuffer, bufferOf(o).Slice()), nil
		}).
		On(func(o *Object, args []any) (any, error) {
			s, err := bufferOf(o).SliceRange(integer(args, 0), integer(args, 1))
			if err != nil {
				return nil, err
			}
			return o.rt.wrap(KindBuffer, s), nil
		}, overload.Integer, overload.Integer)
	t.Method("copy").On(func(o *Object, args []any) (any, error) {
		return o.rt.wrap(KindBuffer, bufferOf(o).Copy()), nil
	})
	t.Method("toString").
		On(func(o *Object, args []any) (any, error) {
			return bufferOf(o).String(), nil
		}).
		On(func(o *Object, args []any) (any, error) {
			return bufferOf(o).ToString(str(args, 0))
		}, overload.String)
	t.Method("toJsonObject").On(func(o *Object, args []any) (any, error) {
		obj, err := value.DecodeObject(bufferOf(o).String())
		if err != nil {
			return nil, errors.Wrap(errors.PhaseMarshal, errors.KindInvalidData, err, "buffer is not a JSON object")
		}
		return obj, nil
	})
	t.Method("toBase64").On(func(o *Object, args []any) (any, error) {
		return bufferOf(o).Base64(), nil
	})
	t.Method("equals").On(func(o *Object, args []any) (any, error) {
		other := bufferOf(args[0])
		return other != nil && bufferOf(o).Equal(other), nil
	}, overload.Any)
})
