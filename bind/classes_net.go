package bind

import (
	"github.com/caffeineduck/vertigo/future"
	"github.com/caffeineduck/vertigo/overload"
	"github.com/caffeineduck/vertigo/tcp"
	"github.com/caffeineduck/vertigo/udp"
	"github.com/caffeineduck/vertigo/value"
)

// listen declares listen(port), listen(port, host), listen(port, handler)
// and listen(port, host, handler). The host defaults to all interfaces.
func listen[S any](t *overload.Table[*Object], do func(o *Object, port int, host string) *future.Future[S]) {
	call := func(o *Object, args []any, host string, cb value.Callable) (any, error) {
		future.Notify(do(o, integer(args, 0), host), cb, func(S) any { return o })
		return o, nil
	}
	t.Method("listen").
		On(func(o *Object, args []any) (any, error) {
			return call(o, args, "0.0.0.0", nil)
		}, overload.Integer).
		On(func(o *Object, args []any) (any, error) {
			return call(o, args, str(args, 1), nil)
		}, overload.Integer, overload.String).
		On(func(o *Object, args []any) (any, error) {
			return call(o, args, "0.0.0.0", fn(args, 1))
		}, overload.Integer, handler).
		On(func(o *Object, args []any) (any, error) {
			return call(o, args, str(args, 1), fn(args, 2))
		}, overload.Integer, overload.String, handler)
}

var _ = defineClass(KindNetServer, func(t *overload.Table[*Object]) {
	srv := as[*tcp.Server]

	t.Method("connectHandler").On(func(o *Object, args []any) (any, error) {
		srv(o).ConnectHandler(handlerOf(fn(args, 0), wrapper[*tcp.Socket](o.rt, KindNetSocket)))
		return o, nil
	}, handler)
	listen(t, func(o *Object, port int, host string) *future.Future[*tcp.Server] {
		return srv(o).Listen(port, host)
	})
	t.Method("actualPort").On(func(o *Object, args []any) (any, error) {
		return srv(o).ActualPort(), nil
	})
	t.Method("connections").On(func(o *Object, args []any) (any, error) {
		return srv(o).Connections(), nil
	})
	t.Method("close").
		On(func(o *Object, args []any) (any, error) {
			srv(o).Close()
			return nil, nil
		}).
		On(func(o *Object, args []any) (any, error) {
			notify(args, srv(o).Close(), void)
			return nil, nil
		}, handler)
})

var _ = defineClass(KindNetClient, func(t *overload.Table[*Object]) {
	client := as[*tcp.Client]

	t.Method("connect").On(func(o *Object, args []any) (any, error) {
		notify(args, client(o).Connect(integer(args, 0), str(args, 1)), wrapper[*tcp.Socket](o.rt, KindNetSocket))
		return o, nil
	}, overload.Integer, overload.String, callback)
	t.Method("close").On(func(o *Object, args []any) (any, error) {
		client(o).Close()
		return nil, nil
	})
})

var _ = defineClass(KindNetSocket, func(t *overload.Table[*Object]) {
	sock := as[*tcp.Socket]
	writeString := func(o *Object, s, enc string) error {
		return sock(o).WriteString(s, enc)
	}

	bufferReadStream(t)
	bufferWriteStream(t)
	stringWrites(t, writeString)
	stringEnds(t, writeString, func(o *Object) { sock(o).End() })
	t.Method("sendFile").
		On(func(o *Object, args []any) (any, error) {
			sock(o).SendFile(str(args, 0))
			return o, nil
		}, overload.String).
		On(func(o *Object, args []any) (any, error) {
			notify(args, sock(o).SendFile(str(args, 0)), void)
			return o, nil
		}, overload.String, handler)
	t.Method("close").
		On(func(o *Object, args []any) (any, error) {
			sock(o).Close()
			return nil, nil
		}).
		On(func(o *Object, args []any) (any, error) {
			notify(args, sock(o).Close(), void)
			return nil, nil
		}, handler)
	t.Method("closeHandler").On(func(o *Object, args []any) (any, error) {
		sock(o).CloseHandler(handler0(fn(args, 0)))
		return o, nil
	}, handler)
	t.Method("writeHandlerID").On(func(o *Object, args []any) (any, error) {
		return sock(o).WriteHandlerID(), nil
	})
	t.Method("localAddress").On(func(o *Object, args []any) (any, error) {
		return o.child("localAddress", KindSocketAddress, func() any { return sock(o).LocalAddress() }), nil
	})
	t.Method("remoteAddress").On(func(o *Object, args []any) (any, error) {
		return o.child("remoteAddress", KindSocketAddress, func() any { return sock(o).RemoteAddress() }), nil
	})
})

var _ = defineClass(KindSocketAddress, func(t *overload.Table[*Object]) {
	addr := as[*tcp.SocketAddress]
	t.Method("host").On(func(o *Object, args []any) (any, error) {
		return addr(o).Host, nil
	})
	t.Method("port").On(func(o *Object, args []any) (any, error) {
		return addr(o).Port, nil
	})
	t.Method("toString").On(func(o *Object, args []any) (any, error) {
		return addr(o).String(), nil
	})
})

var _ = defineClass(KindDatagramSocket, func(t *overload.Table[*Object]) {
	sock := as[*udp.Socket]

	readStream(t, func(rt *Runtime, p *udp.Packet) any {
		return wrapper[*udp.Packet](rt, KindDatagramPacket)(p)
	})
	t.Method("listen").On(func(o *Object, args []any) (any, error) {
		notify(args, sock(o).Listen(integer(args, 0), str(args, 1)), func(*udp.Socket) any { return o })
		return o, nil
	}, overload.Integer, overload.String, handler)
	t.Method("send").
		On(func(o *Object, args []any) (any, error) {
			notify(args, sock(o).Send(buf(args, 0), integer(args, 1), str(args, 2)), void)
			return o, nil
		}, bufferArg, overload.Integer, overload.String, handler).
		On(func(o *Object, args []any) (any, error) {
			notify(args, sock(o).SendString(str(args, 0), "", integer(args, 1), str(args, 2)), void)
			return o, nil
		}, overload.String, overload.Integer, overload.String, handler).
		On(func(o *Object, args []any) (any, error) {
			notify(args, sock(o).SendString(str(args, 0), str(args, 1), integer(args, 2), str(args, 3)), void)
			return o, nil
		}, overload.String, overload.String, overload.Integer, overload.String, handler)
	t.Method("sender").On(func(o *Object, args []any) (any, error) {
		return o.rt.wrap(KindPacketWriter, sock(o).Sender(integer(args, 0), str(args, 1))), nil
	}, overload.Integer, overload.String)
	t.Method("localAddress").On(func(o *Object, args []any) (any, error) {
		// Unbound sockets have no address yet, so nothing is memoized.
		a := sock(o).LocalAddress()
		if a == nil {
			return nil, nil
		}
		return o.child("localAddress", KindSocketAddress, func() any { return a }), nil
	})
	t.Method("close").
		On(func(o *Object, args []any) (any, error) {
			sock(o).Close()
			return nil, nil
		}).
		On(func(o *Object, args []any) (any, error) {
			notify(args, sock(o).Close(), void)
			return nil, nil
		}, handler)
})

var _ = defineClass(KindDatagramPacket, func(t *overload.Table[*Object]) {
	packet := as[*udp.Packet]
	t.Method("sender").On(func(o *Object, args []any) (any, error) {
		return o.child("sender", KindSocketAddress, func() any { return packet(o).Sender }), nil
	})
	t.Method("data").On(func(o *Object, args []any) (any, error) {
		return o.child("data", KindBuffer, func() any { return packet(o).Data }), nil
	})
})

var _ = defineClass(KindPacketWriter, func(t *overload.Table[*Object]) {
	bufferWriteStream(t)
})
