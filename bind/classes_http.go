package bind

import (
	"strings"

	"github.com/caffeineduck/vertigo/buffer"
	"github.com/caffeineduck/vertigo/future"
	"github.com/caffeineduck/vertigo/multimap"
	"github.com/caffeineduck/vertigo/overload"
	"github.com/caffeineduck/vertigo/value"
	"github.com/caffeineduck/vertigo/web"
)

// Requests with a relative uri go to the default host.
const (
	defaultHost = "localhost"
	defaultPort = 80
)

func isAbsolute(uri string) bool {
	return strings.Contains(uri, "://")
}

func clientResponseOf(rt *Runtime) func(*web.ClientResponse) any {
	return wrapper[*web.ClientResponse](rt, KindHttpClientResponse)
}

// headerValues adds a header given as a string or a list of strings.
func headerValues(args []any, i int, set func(name string, values []string)) error {
	values, err := stringList(args, i)
	if err != nil {
		return err
	}
	set(str(args, i-1), values)
	return nil
}

var _ = defineClass(KindHttpClient, func(t *overload.Table[*Object]) {
	client := as[*web.Client]

	// open creates the request and installs the response handler, which
	// may be nil.
	open := func(o *Object, method web.HttpMethod, uri string, cb value.Callable) *Object {
		var req *web.ClientRequest
		if isAbsolute(uri) {
			req = client(o).Request(method, uri)
		} else {
			req = client(o).RequestHost(method, defaultPort, defaultHost, uri)
		}
		req.Handler(handlerOf(cb, clientResponseOf(o.rt)))
		return o.rt.wrap(KindHttpClientRequest, req)
	}
	method := func(args []any) (web.HttpMethod, error) {
		return web.HttpMethods.Parse(str(args, 0))
	}

	t.Method("request").
		On(func(o *Object, args []any) (any, error) {
			m, err := method(args)
			if err != nil {
				return nil, err
			}
			return open(o, m, str(args, 1), nil), nil
		}, overload.String, overload.String).
		On(func(o *Object, args []any) (any, error) {
			m, err := method(args)
			if err != nil {
				return nil, err
			}
			return open(o, m, "/", fn(args, 1)), nil
		}, overload.String, callback).
		On(func(o *Object, args []any) (any, error) {
			m, err := method(args)
			if err != nil {
				return nil, err
			}
			return open(o, m, str(args, 1), fn(args, 2)), nil
		}, overload.String, overload.String, handler).
		On(func(o *Object, args []any) (any, error) {
			m, err := method(args)
			if err != nil {
				return nil, err
			}
			req := client(o).RequestHost(m, integer(args, 1), str(args, 2), str(args, 3))
			return o.rt.wrap(KindHttpClientRequest, req), nil
		}, overload.String, overload.Integer, overload.String, overload.String).
		On(func(o *Object, args []any) (any, error) {
			m, err := method(args)
			if err != nil {
				return nil, err
			}
			req := client(o).RequestHost(m, integer(args, 1), str(args, 2), str(args, 3))
			req.Handler(handlerOf(fn(args, 4), clientResponseOf(o.rt)))
			return o.rt.wrap(KindHttpClientRequest, req), nil
		}, overload.String, overload.Integer, overload.String, overload.String, handler)
	t.Method("requestAbs").
		On(func(o *Object, args []any) (any, error) {
			m, err := method(args)
			if err != nil {
				return nil, err
			}
			return o.rt.wrap(KindHttpClientRequest, client(o).Request(m, str(args, 1))), nil
		}, overload.String, overload.String).
		On(func(o *Object, args []any) (any, error) {
			m, err := method(args)
			if err != nil {
				return nil, err
			}
			req := client(o).Request(m, str(args, 1))
			req.Handler(handlerOf(fn(args, 2), clientResponseOf(o.rt)))
			return o.rt.wrap(KindHttpClientRequest, req), nil
		}, overload.String, overload.String, handler)

	shortcuts := []struct {
		name   string
		method web.HttpMethod
	}{
		{"get", web.MethodGet},
		{"post", web.MethodPost},
		{"put", web.MethodPut},
		{"delete", web.MethodDelete},
		{"head", web.MethodHead},
	}
	for _, s := range shortcuts {
		m := s.method
		t.Method(s.name).
			On(func(o *Object, args []any) (any, error) {
				return open(o, m, str(args, 0), nil), nil
			}, overload.String).
			On(func(o *Object, args []any) (any, error) {
				return open(o, m, str(args, 0), fn(args, 1)), nil
			}, overload.String, handler)
	}

	webSocketOf := func(rt *Runtime) func(*web.WebSocket) any {
		return wrapper[*web.WebSocket](rt, KindWebSocket)
	}
	t.Method("webSocket").
		On(func(o *Object, args []any) (any, error) {
			notify(args, client(o).WebSocket(defaultPort, defaultHost, str(args, 0)), webSocketOf(o.rt))
			return o, nil
		}, overload.String, callback).
		On(func(o *Object, args []any) (any, error) {
			notify(args, client(o).WebSocket(integer(args, 0), str(args, 1), str(args, 2)), webSocketOf(o.rt))
			return o, nil
		}, overload.Integer, overload.String, overload.String, callback)
	t.Method("webSocketAbs").
		On(func(o *Object, args []any) (any, error) {
			notify(args, client(o).WebSocketURI(str(args, 0), nil), webSocketOf(o.rt))
			return o, nil
		}, overload.String, callback).
		On(func(o *Object, args []any) (any, error) {
			headers, err := multiMap(args, 1)
			if err != nil {
				return nil, err
			}
			notify(args, client(o).WebSocketURI(str(args, 0), headers), webSocketOf(o.rt))
			return o, nil
		}, overload.String, overload.Nullable(multiMapArg), callback)
	t.Method("close").On(func(o *Object, args []any) (any, error) {
		client(o).Close()
		return nil, nil
	})
})

var _ = defineClass(KindHttpClientRequest, func(t *overload.Table[*Object]) {
	req := as[*web.ClientRequest]
	writeString := func(o *Object, s, enc string) error {
		return req(o).WriteString(s, enc)
	}

	bufferWriteStream(t)
	stringWrites(t, writeString)
	stringEnds(t, writeString, func(o *Object) { req(o).End() })
	t.Method("handler").On(func(o *Object, args []any) (any, error) {
		req(o).Handler(handlerOf(fn(args, 0), clientResponseOf(o.rt)))
		return o, nil
	}, handler)
	t.Method("response").On(func(o *Object, args []any) (any, error) {
		notify(args, req(o).Response(), clientResponseOf(o.rt))
		return o, nil
	}, callback)
	t.Method("headers").On(func(o *Object, args []any) (any, error) {
		return o.child("headers", KindMultiMap, func() any { return req(o).Headers() }), nil
	})
	t.Method("putHeader").On(func(o *Object, args []any) (any, error) {
		return o, headerValues(args, 1, func(name string, values []string) {
			req(o).Headers().SetAll(name, values)
		})
	}, overload.String, stringOrList)
	t.Method("method").On(func(o *Object, args []any) (any, error) {
		return req(o).Method().String(), nil
	})
	t.Method("uri").On(func(o *Object, args []any) (any, error) {
		return req(o).URI(), nil
	})
	t.Method("absoluteURI").On(func(o *Object, args []any) (any, error) {
		return req(o).AbsoluteURI(), nil
	})
	t.Method("setChunked").On(func(o *Object, args []any) (any, error) {
		req(o).SetChunked(boolean(args, 0))
		return o, nil
	}, overload.Boolean)
	t.Method("isChunked").On(func(o *Object, args []any) (any, error) {
		return req(o).IsChunked(), nil
	})
	t.Method("setTimeout").On(func(o *Object, args []any) (any, error) {
		req(o).SetTimeout(millis(args, 0))
		return o, nil
	}, overload.Integer)
	t.Method("sent").On(func(o *Object, args []any) (any, error) {
		return req(o).Sent(), nil
	})
})

// wholeBody is implemented by both kinds of incoming message.
type wholeBody interface {
	BodyHandler(func(*buffer.Buffer))
	Body() *future.Future[*buffer.Buffer]
}

// bodyMethods declares bodyHandler and body.
func bodyMethods(t *overload.Table[*Object], body func(o *Object) wholeBody) {
	t.Method("bodyHandler").On(func(o *Object, args []any) (any, error) {
		body(o).BodyHandler(handlerOf(fn(args, 0), wrapper[*buffer.Buffer](o.rt, KindBuffer)))
		return o, nil
	}, handler)
	t.Method("body").On(func(o *Object, args []any) (any, error) {
		notify(args, body(o).Body(), wrapper[*buffer.Buffer](o.rt, KindBuffer))
		return o, nil
	}, callback)
}

var _ = defineClass(KindHttpClientResponse, func(t *overload.Table[*Object]) {
	resp := as[*web.ClientResponse]

	bufferReadStream(t)
	bodyMethods(t, func(o *Object) wholeBody {
		return resp(o)
	})
	t.Method("statusCode").On(func(o *Object, args []any) (any, error) {
		return resp(o).StatusCode(), nil
	})
	t.Method("statusMessage").On(func(o *Object, args []any) (any, error) {
		return resp(o).StatusMessage(), nil
	})
	t.Method("version").On(func(o *Object, args []any) (any, error) {
		return resp(o).Version().String(), nil
	})
	t.Method("headers").On(func(o *Object, args []any) (any, error) {
		return o.child("headers", KindMultiMap, func() any { return resp(o).Headers() }), nil
	})
	t.Method("trailers").On(func(o *Object, args []any) (any, error) {
		return o.child("trailers", KindMultiMap, func() any { return resp(o).Trailers() }), nil
	})
	t.Method("cookies").On(func(o *Object, args []any) (any, error) {
		return same(resp(o).Cookies()), nil
	})
})

var _ = defineClass(KindHttpServer, func(t *overload.Table[*Object]) {
	srv := as[*web.Server]

	t.Method("requestHandler").On(func(o *Object, args []any) (any, error) {
		srv(o).RequestHandler(handlerOf(fn(args, 0), wrapper[*web.ServerRequest](o.rt, KindHttpServerRequest)))
		return o, nil
	}, handler)
	t.Method("webSocketHandler").On(func(o *Object, args []any) (any, error) {
		srv(o).WebSocketHandler(handlerOf(fn(args, 0), wrapper[*web.WebSocket](o.rt, KindWebSocket)))
		return o, nil
	}, handler)
	listen(t, func(o *Object, port int, host string) *future.Future[*web.Server] {
		return srv(o).Listen(port, host)
	})
	t.Method("actualPort").On(func(o *Object, args []any) (any, error) {
		return srv(o).ActualPort(), nil
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

var _ = defineClass(KindHttpServerRequest, func(t *overload.Table[*Object]) {
	req := as[*web.ServerRequest]

	bufferReadStream(t)
	bodyMethods(t, func(o *Object) wholeBody {
		return req(o)
	})
	t.Method("method").On(func(o *Object, args []any) (any, error) {
		return req(o).Method().String(), nil
	})
	t.Method("rawMethod").On(func(o *Object, args []any) (any, error) {
		return req(o).RawMethod(), nil
	})
	t.Method("uri").On(func(o *Object, args []any) (any, error) {
		return req(o).URI(), nil
	})
	t.Method("path").On(func(o *Object, args []any) (any, error) {
		return req(o).Path(), nil
	})
	t.Method("query").On(func(o *Object, args []any) (any, error) {
		if q := req(o).Query(); q != "" {
			return q, nil
		}
		return nil, nil
	})
	t.Method("version").On(func(o *Object, args []any) (any, error) {
		return req(o).Version().String(), nil
	})
	t.Method("absoluteURI").On(func(o *Object, args []any) (any, error) {
		return req(o).AbsoluteURI(), nil
	})
	t.Method("headers").On(func(o *Object, args []any) (any, error) {
		return o.child("headers", KindMultiMap, func() any { return req(o).Headers() }), nil
	})
	t.Method("params").On(func(o *Object, args []any) (any, error) {
		return o.child("params", KindMultiMap, func() any { return req(o).Params() }), nil
	})
	t.Method("response").On(func(o *Object, args []any) (any, error) {
		return o.child("response", KindHttpServerResponse, func() any { return req(o).Response() }), nil
	})
	t.Method("localAddress").On(func(o *Object, args []any) (any, error) {
		a := req(o).LocalAddress()
		if a == nil {
			return nil, nil
		}
		return o.child("localAddress", KindSocketAddress, func() any { return a }), nil
	})
	t.Method("remoteAddress").On(func(o *Object, args []any) (any, error) {
		return o.child("remoteAddress", KindSocketAddress, func() any { return req(o).RemoteAddress() }), nil
	})
})

var _ = defineClass(KindHttpServerResponse, func(t *overload.Table[*Object]) {
	resp := as[*web.ServerResponse]
	writeString := func(o *Object, s, enc string) error {
		return resp(o).WriteString(s, enc)
	}

	bufferWriteStream(t)
	stringWrites(t, writeString)
	stringEnds(t, writeString, func(o *Object) { resp(o).End() })
	t.Method("setStatusCode").On(func(o *Object, args []any) (any, error) {
		resp(o).SetStatusCode(integer(args, 0))
		return o, nil
	}, overload.Integer)
	t.Method("getStatusCode").On(func(o *Object, args []any) (any, error) {
		return resp(o).StatusCode(), nil
	})
	t.Method("setStatusMessage").On(func(o *Object, args []any) (any, error) {
		resp(o).SetStatusMessage(str(args, 0))
		return o, nil
	}, overload.String)
	t.Method("getStatusMessage").On(func(o *Object, args []any) (any, error) {
		return resp(o).StatusMessage(), nil
	})
	t.Method("headers").On(func(o *Object, args []any) (any, error) {
		return o.child("headers", KindMultiMap, func() any { return resp(o).Headers() }), nil
	})
	t.Method("putHeader").On(func(o *Object, args []any) (any, error) {
		return o, headerValues(args, 1, func(name string, values []string) {
			resp(o).Headers().SetAll(name, values)
		})
	}, overload.String, stringOrList)
	t.Method("setChunked").On(func(o *Object, args []any) (any, error) {
		resp(o).SetChunked(boolean(args, 0))
		return o, nil
	}, overload.Boolean)
	t.Method("isChunked").On(func(o *Object, args []any) (any, error) {
		return resp(o).IsChunked(), nil
	})
	t.Method("headWritten").On(func(o *Object, args []any) (any, error) {
		return resp(o).HeadWritten(), nil
	})
	t.Method("ended").On(func(o *Object, args []any) (any, error) {
		return resp(o).Ended(), nil
	})
	t.Method("sendFile").
		On(func(o *Object, args []any) (any, error) {
			resp(o).SendFile(str(args, 0))
			return o, nil
		}, overload.String).
		On(func(o *Object, args []any) (any, error) {
			notify(args, resp(o).SendFile(str(args, 0)), void)
			return o, nil
		}, overload.String, handler)
	t.Method("closeHandler").On(func(o *Object, args []any) (any, error) {
		resp(o).CloseHandler(handler0(fn(args, 0)))
		return o, nil
	}, handler)
})

var _ = defineClass(KindMultiMap, func(t *overload.Table[*Object]) {
	m := as[*multimap.MultiMap]
	name := overload.String

	t.Method("get").On(func(o *Object, args []any) (any, error) {
		if !m(o).Contains(str(args, 0)) {
			return nil, nil
		}
		return m(o).Get(str(args, 0)), nil
	}, name)
	t.Method("getAll").On(func(o *Object, args []any) (any, error) {
		return same(m(o).GetAll(str(args, 0))), nil
	}, name)
	t.Method("contains").On(func(o *Object, args []any) (any, error) {
		return m(o).Contains(str(args, 0)), nil
	}, name)
	t.Method("names").On(func(o *Object, args []any) (any, error) {
		return same(m(o).Names()), nil
	})
	t.Method("add").On(func(o *Object, args []any) (any, error) {
		return o, headerValues(args, 1, func(name string, values []string) {
			for _, v := range values {
				m(o).Add(name, v)
			}
		})
	}, name, stringOrList)
	t.Method("set").On(func(o *Object, args []any) (any, error) {
		return o, headerValues(args, 1, func(name string, values []string) {
			m(o).SetAll(name, values)
		})
	}, name, stringOrList)
	t.Method("addAll").On(func(o *Object, args []any) (any, error) {
		other, err := multiMap(args, 0)
		if err != nil {
			return nil, err
		}
		m(o).AddAll(other)
		return o, nil
	}, multiMapArg)
	t.Method("remove").On(func(o *Object, args []any) (any, error) {
		m(o).Remove(str(args, 0))
		return o, nil
	}, name)
	t.Method("clear").On(func(o *Object, args []any) (any, error) {
		m(o).Clear()
		return o, nil
	})
	t.Method("size").On(func(o *Object, args []any) (any, error) {
		return m(o).Len(), nil
	})
	t.Method("isEmpty").On(func(o *Object, args []any) (any, error) {
		return m(o).IsEmpty(), nil
	})
	// entries lists [name, value] pairs in insertion order.
	t.Method("entries").On(func(o *Object, args []any) (any, error) {
		var entries []any
		m(o).Each(func(name, v string) {
			entries = append(entries, []any{name, v})
		})
		return entries, nil
	})
	t.Method("toString").On(func(o *Object, args []any) (any, error) {
		return m(o).String(), nil
	})
})

var _ = defineStatic(KindMultiMap, func(t *overload.Table[*Object]) {
	t.Method("caseInsensitiveMultiMap").On(func(o *Object, args []any) (any, error) {
		return o.rt.wrap(KindMultiMap, multimap.New()), nil
	})
})

var _ = defineClass(KindWebSocket, func(t *overload.Table[*Object]) {
	ws := as[*web.WebSocket]

	bufferReadStream(t)
	bufferWriteStream(t)
	t.Method("textMessageHandler").On(func(o *Object, args []any) (any, error) {
		ws(o).TextMessageHandler(handlerOf(fn(args, 0), same[string]))
		return o, nil
	}, handler)
	t.Method("writeBinaryMessage").On(func(o *Object, args []any) (any, error) {
		ws(o).WriteBinaryMessage(buf(args, 0))
		return o, nil
	}, bufferArg)
	t.Method("writeTextMessage").On(func(o *Object, args []any) (any, error) {
		ws(o).WriteTextMessage(str(args, 0))
		return o, nil
	}, overload.String)
	t.Method("close").
		On(func(o *Object, args []any) (any, error) {
			ws(o).Close()
			return nil, nil
		}).
		On(func(o *Object, args []any) (any, error) {
			notify(args, ws(o).Close(), void)
			return nil, nil
		}, handler)
	t.Method("closeHandler").On(func(o *Object, args []any) (any, error) {
		ws(o).CloseHandler(handler0(fn(args, 0)))
		return o, nil
	}, handler)
	t.Method("textHandlerID").On(func(o *Object, args []any) (any, error) {
		return nullable(ws(o).TextHandlerID()), nil
	})
	t.Method("binaryHandlerID").On(func(o *Object, args []any) (any, error) {
		return nullable(ws(o).BinaryHandlerID()), nil
	})
	t.Method("path").On(func(o *Object, args []any) (any, error) {
		return ws(o).Path(), nil
	})
	t.Method("headers").On(func(o *Object, args []any) (any, error) {
		h := ws(o).Headers()
		if h == nil {
			return nil, nil
		}
		return o.child("headers", KindMultiMap, func() any { return h }), nil
	})
	t.Method("localAddress").On(func(o *Object, args []any) (any, error) {
		a := ws(o).LocalAddress()
		if a == nil {
			return nil, nil
		}
		return o.child("localAddress", KindSocketAddress, func() any { return a }), nil
	})
	t.Method("remoteAddress").On(func(o *Object, args []any) (any, error) {
		a := ws(o).RemoteAddress()
		if a == nil {
			return nil, nil
		}
		return o.child("remoteAddress", KindSocketAddress, func() any { return a }), nil
	})
})
