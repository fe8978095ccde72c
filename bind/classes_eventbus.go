package bind

import (
	"time"

	"github.com/caffeineduck/vertigo/errors"
	"github.com/caffeineduck/vertigo/eventbus"
	"github.com/caffeineduck/vertigo/future"
	"github.com/caffeineduck/vertigo/multimap"
	"github.com/caffeineduck/vertigo/overload"
	"github.com/caffeineduck/vertigo/value"
)

// deliveryOptions reads {"sendTimeout": ms, "headers": {name: value or
// [values]}}. "timeout" is accepted for sendTimeout.
func deliveryOptions(obj *value.JsonObject) (*eventbus.DeliveryOptions, error) {
	if obj == nil {
		return nil, nil
	}
	opts := &eventbus.DeliveryOptions{}
	for _, key := range []string{"sendTimeout", "timeout"} {
		v, ok := obj.Lookup(key)
		if !ok {
			continue
		}
		ms, ok := value.ToInt64(v)
		if !ok || ms < 0 {
			return nil, errors.TypeMismatch(errors.PhaseMarshal, []string{"DeliveryOptions", key},
				"non-negative integer", value.TypeOf(v))
		}
		opts.Timeout = time.Duration(ms) * time.Millisecond
		break
	}
	if headers, ok := obj.GetObject("headers"); ok {
		opts.Headers = multimap.New()
		for _, name := range headers.Keys() {
			h := headers.Get(name)
			if s, ok := h.(string); ok {
				opts.Headers.Add(name, s)
				continue
			}
			values, ok := value.ToStrings(h)
			if !ok {
				return nil, errors.TypeMismatch(errors.PhaseMarshal, []string{"DeliveryOptions", "headers", name},
					"string or array of string", value.TypeOf(h))
			}
			opts.Headers.SetAll(name, values)
		}
	}
	return opts, nil
}

func messageOf(rt *Runtime) func(*eventbus.Message) any {
	return wrapper[*eventbus.Message](rt, KindMessage)
}

var _ = defineClass(KindEventBus, func(t *overload.Table[*Object]) {
	bus := as[*eventbus.Bus]

	request := func(o *Object, args []any, opts *value.JsonObject) (any, error) {
		do, err := deliveryOptions(opts)
		if err != nil {
			return nil, err
		}
		notify(args, bus(o).Request(str(args, 0), in(args[1]), do), messageOf(o.rt))
		return o, nil
	}
	send := func(o *Object, args []any, opts *value.JsonObject) (any, error) {
		do, err := deliveryOptions(opts)
		if err != nil {
			return nil, err
		}
		bus(o).Send(str(args, 0), in(args[1]), do)
		return o, nil
	}

	// send with a trailing callable expects a reply, as request does.
	t.Method("send").
		On(func(o *Object, args []any) (any, error) {
			return send(o, args, nil)
		}, overload.String, bodyArg).
		On(func(o *Object, args []any) (any, error) {
			return request(o, args, nil)
		}, overload.String, bodyArg, callback).
		On(func(o *Object, args []any) (any, error) {
			return send(o, args, jsonObject(args, 2))
		}, overload.String, bodyArg, optionsArg).
		On(func(o *Object, args []any) (any, error) {
			return request(o, args, jsonObject(args, 2))
		}, overload.String, bodyArg, optionsArg, callback)
	t.Method("request").
		On(func(o *Object, args []any) (any, error) {
			return request(o, args, nil)
		}, overload.String, bodyArg, callback).
		On(func(o *Object, args []any) (any, error) {
			return request(o, args, jsonObject(args, 2))
		}, overload.String, bodyArg, optionsArg, callback)
	t.Method("publish").
		On(func(o *Object, args []any) (any, error) {
			bus(o).Publish(str(args, 0), in(args[1]), nil)
			return o, nil
		}, overload.String, bodyArg).
		On(func(o *Object, args []any) (any, error) {
			do, err := deliveryOptions(jsonObject(args, 2))
			if err != nil {
				return nil, err
			}
			bus(o).Publish(str(args, 0), in(args[1]), do)
			return o, nil
		}, overload.String, bodyArg, optionsArg)

	consumer := func(local bool) overload.Func[*Object] {
		return func(o *Object, args []any) (any, error) {
			var c *eventbus.Consumer
			if local {
				c = bus(o).LocalConsumer(str(args, 0))
			} else {
				c = bus(o).Consumer(str(args, 0))
			}
			if len(args) == 2 {
				c.Handler(handlerOf(fn(args, 1), messageOf(o.rt)))
			}
			return o.rt.wrap(KindMessageConsumer, c), nil
		}
	}
	t.Method("consumer").
		On(consumer(false), overload.String).
		On(consumer(false), overload.String, callback)
	t.Method("localConsumer").
		On(consumer(true), overload.String).
		On(consumer(true), overload.String, callback)

	producer := func(publish bool) overload.Func[*Object] {
		return func(o *Object, args []any) (any, error) {
			var opts *value.JsonObject
			if len(args) == 2 {
				opts = jsonObject(args, 1)
			}
			do, err := deliveryOptions(opts)
			if err != nil {
				return nil, err
			}
			if publish {
				return o.rt.wrap(KindMessageProducer, bus(o).Publisher(str(args, 0), do)), nil
			}
			return o.rt.wrap(KindMessageProducer, bus(o).Sender(str(args, 0), do)), nil
		}
	}
	t.Method("sender").
		On(producer(false), overload.String).
		On(producer(false), overload.String, optionsArg)
	t.Method("publisher").
		On(producer(true), overload.String).
		On(producer(true), overload.String, optionsArg)
})

var _ = defineClass(KindMessage, func(t *overload.Table[*Object]) {
	msg := as[*eventbus.Message]

	t.Method("address").On(func(o *Object, args []any) (any, error) {
		return msg(o).Address(), nil
	})
	t.Method("replyAddress").On(func(o *Object, args []any) (any, error) {
		if a := msg(o).ReplyAddress(); a != "" {
			return a, nil
		}
		return nil, nil
	})
	t.Method("headers").On(func(o *Object, args []any) (any, error) {
		return o.child("headers", KindMultiMap, func() any { return msg(o).Headers() }), nil
	})
	t.Method("body").On(func(o *Object, args []any) (any, error) {
		// The body is converted once so a buffer body keeps its identity.
		return o.Child("body", func() any { return o.rt.out(msg(o).Body()) }), nil
	})
	t.Method("isSend").On(func(o *Object, args []any) (any, error) {
		return msg(o).IsSend(), nil
	})

	reply := func(o *Object, args []any, opts *value.JsonObject, cb value.Callable) (any, error) {
		do, err := deliveryOptions(opts)
		if err != nil {
			return nil, err
		}
		if cb == nil {
			msg(o).Reply(in(args[0]), do)
			return nil, nil
		}
		future.Notify(msg(o).ReplyAndRequest(in(args[0]), do), cb, messageOf(o.rt))
		return nil, nil
	}
	t.Method("reply").
		On(func(o *Object, args []any) (any, error) {
			return reply(o, args, nil, nil)
		}, bodyArg).
		On(func(o *Object, args []any) (any, error) {
			return reply(o, args, nil, fn(args, 1))
		}, bodyArg, callback).
		On(func(o *Object, args []any) (any, error) {
			return reply(o, args, jsonObject(args, 1), nil)
		}, bodyArg, optionsArg).
		On(func(o *Object, args []any) (any, error) {
			return reply(o, args, jsonObject(args, 1), fn(args, 2))
		}, bodyArg, optionsArg, callback)
	t.Method("fail").On(func(o *Object, args []any) (any, error) {
		msg(o).Fail(integer(args, 0), str(args, 1))
		return nil, nil
	}, overload.Integer, overload.String)
})

var _ = defineClass(KindMessageConsumer, func(t *overload.Table[*Object]) {
	consumer := as[*eventbus.Consumer]

	readStream(t, func(rt *Runtime, m *eventbus.Message) any {
		return messageOf(rt)(m)
	})
	t.Method("address").On(func(o *Object, args []any) (any, error) {
		return consumer(o).Address(), nil
	})
	t.Method("isRegistered").On(func(o *Object, args []any) (any, error) {
		return consumer(o).IsRegistered(), nil
	})
	t.Method("setMaxBufferedMessages").On(func(o *Object, args []any) (any, error) {
		consumer(o).SetMaxBufferedMessages(integer(args, 0))
		return o, nil
	}, overload.Integer)
	t.Method("getMaxBufferedMessages").On(func(o *Object, args []any) (any, error) {
		return consumer(o).MaxBufferedMessages(), nil
	})
	t.Method("unregister").
		On(func(o *Object, args []any) (any, error) {
			consumer(o).Unregister()
			return nil, nil
		}).
		On(func(o *Object, args []any) (any, error) {
			notify(args, consumer(o).Unregister(), void)
			return nil, nil
		}, handler)
})

var _ = defineClass(KindMessageProducer, func(t *overload.Table[*Object]) {
	producer := as[*eventbus.Producer]

	writeStream(t, bodyArg, in)
	// send is the historical name of write.
	t.Method("send").On(func(o *Object, args []any) (any, error) {
		producer(o).Write(in(args[0]))
		return o, nil
	}, bodyArg)
	t.Method("address").On(func(o *Object, args []any) (any, error) {
		return producer(o).Address(), nil
	})
	t.Method("deliveryOptions").On(func(o *Object, args []any) (any, error) {
		do, err := deliveryOptions(jsonObject(args, 0))
		if err != nil {
			return nil, err
		}
		producer(o).SetDeliveryOptions(do)
		return o, nil
	}, optionsArg)
	t.Method("close").On(func(o *Object, args []any) (any, error) {
		producer(o).Close()
		return nil, nil
	})
})
