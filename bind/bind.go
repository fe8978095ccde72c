// Package bind exposes the toolkit to a dynamically typed caller.
//
// Every host class is described by an overload table of *Object methods.
// A call names a method and passes caller values (see package value); the
// table picks the first declared signature accepting the arguments and
// forwards to the host. Asynchronous methods take a trailing (result,
// error) callable, chainable methods return the receiver and singular
// accessors return the same Object on every call.
//
//	rt := bind.New(vx)
//	client, _ := rt.Vertx().Call("createHttpClient")
//	req, _ := client.(*bind.Object).Call("request", "GET", "http://example.com/")
//
// A Runtime can also be driven over a newline-delimited JSON protocol, see
// Session.
package bind

import (
	"sort"
	"sync"

	"github.com/caffeineduck/vertigo/buffer"
	"github.com/caffeineduck/vertigo/handle"
	"github.com/caffeineduck/vertigo/overload"
	"github.com/caffeineduck/vertigo/value"
	"github.com/caffeineduck/vertigo/vertx"
)

// Class names as seen by callers.
const (
	KindVertx              = "Vertx"
	KindBuffer             = "Buffer"
	KindPump               = "Pump"
	KindPromise            = "Promise"
	KindEventBus           = "EventBus"
	KindMessage            = "Message"
	KindMessageConsumer    = "MessageConsumer"
	KindMessageProducer    = "MessageProducer"
	KindSharedData         = "SharedData"
	KindAsyncMap           = "AsyncMap"
	KindLock               = "Lock"
	KindCounter            = "Counter"
	KindFileSystem         = "FileSystem"
	KindAsyncFile          = "AsyncFile"
	KindFileProps          = "FileProps"
	KindNetServer          = "NetServer"
	KindNetClient          = "NetClient"
	KindNetSocket          = "NetSocket"
	KindSocketAddress      = "SocketAddress"
	KindDatagramSocket     = "DatagramSocket"
	KindDatagramPacket     = "DatagramPacket"
	KindPacketWriter       = "PacketWriter"
	KindDnsClient          = "DnsClient"
	KindMxRecord           = "MxRecord"
	KindSrvRecord          = "SrvRecord"
	KindHttpClient         = "HttpClient"
	KindHttpClientRequest  = "HttpClientRequest"
	KindHttpClientResponse = "HttpClientResponse"
	KindHttpServer         = "HttpServer"
	KindHttpServerRequest  = "HttpServerRequest"
	KindHttpServerResponse = "HttpServerResponse"
	KindMultiMap           = "MultiMap"
	KindWebSocket          = "WebSocket"
)

var (
	classes = make(map[string]*overload.Table[*Object])
	statics = make(map[string]*overload.Table[*Object])
)

// defineClass builds the method table of kind. Tables are built once at
// package initialisation and shared by every Runtime.
func defineClass(kind string, build func(t *overload.Table[*Object])) *overload.Table[*Object] {
	t := overload.NewTable[*Object](kind)
	build(t)
	classes[kind] = t
	return t
}

// defineStatic builds the table of a class's static functions, addressed
// by the class name.
func defineStatic(kind string, build func(t *overload.Table[*Object])) *overload.Table[*Object] {
	t := overload.NewTable[*Object](kind)
	build(t)
	statics[kind] = t
	return t
}

// Classes returns the names of every wrapped host class.
func Classes() []string {
	kinds := make([]string, 0, len(classes))
	for k := range classes {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Object is the caller-side handle of one host object.
type Object struct {
	*handle.Handle
	rt    *Runtime
	class *overload.Table[*Object]
}

// Call invokes method with caller values. A call matching no signature of
// the method fails synchronously with a binding error and reaches nothing
// on the host side.
func (o *Object) Call(method string, args ...any) (any, error) {
	return o.class.Invoke(o, method, args)
}

// Methods returns the method names of the object's class in declaration
// order.
func (o *Object) Methods() []string {
	return o.class.Methods()
}

func (o *Object) Runtime() *Runtime {
	return o.rt
}

func (o *Object) String() string {
	return o.Kind() + "@" + o.ID()
}

// child memoizes a wrapper for a singular sub-resource.
func (o *Object) child(name, kind string, delegate func() any) *Object {
	return handle.ChildOf(o.Handle, name, func() *Object {
		return o.rt.wrap(kind, delegate())
	})
}

// Runtime binds one Vertx. It holds the wrappers of every class and the
// table of handles exported to out-of-process callers.
type Runtime struct {
	vx       *vertx.Vertx
	registry *handle.Registry[*Object]
	handles  *handle.Table[*Object]

	once    sync.Once
	root    *Object
	statics map[string]*Object

	mu   sync.Mutex
	refs map[string]int // sessions holding each exported handle
}

// New binds vx.
func New(vx *vertx.Vertx) *Runtime {
	rt := &Runtime{
		vx:       vx,
		registry: handle.NewRegistry[*Object](),
		handles:  handle.NewTable[*Object](),
		statics:  make(map[string]*Object, len(statics)),
		refs:     make(map[string]int),
	}
	for kind, t := range classes {
		rt.registry.Register(kind, func(delegate any) *Object {
			return &Object{Handle: handle.New(kind, delegate), rt: rt, class: t}
		})
	}
	for kind, t := range statics {
		rt.statics[kind] = &Object{Handle: handle.New(kind, rt), rt: rt, class: t}
	}
	return rt
}

// Vertx returns the root object.
func (rt *Runtime) Vertx() *Object {
	rt.once.Do(func() {
		rt.root = rt.wrap(KindVertx, rt.vx)
	})
	return rt.root
}

// Static returns the static functions of a class: Buffer, Pump and
// MultiMap.
func (rt *Runtime) Static(kind string) (*Object, bool) {
	o, ok := rt.statics[kind]
	return o, ok
}

// Lookup resolves a request target: "vertx", a static class name or an
// exported handle id.
func (rt *Runtime) Lookup(name string) (*Object, bool) {
	if name == targetVertx {
		return rt.Vertx(), true
	}
	if o, ok := rt.Static(name); ok {
		return o, true
	}
	return rt.handles.Get(name)
}

// Wrap wraps delegate as kind. It fails when kind is not a known class.
func (rt *Runtime) Wrap(kind string, delegate any) (*Object, error) {
	return rt.registry.Wrap(kind, delegate)
}

// Handles returns the table of handles exported over the wire.
func (rt *Runtime) Handles() *handle.Table[*Object] {
	return rt.handles
}

// export adds o to the handle table on behalf of one session.
func (rt *Runtime) export(o *Object) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.refs[o.ID()] == 0 {
		rt.handles.Put(o.ID(), o)
	}
	rt.refs[o.ID()]++
}

// release drops one session's reference. The handle leaves the table with
// the last one.
func (rt *Runtime) release(id string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	n, ok := rt.refs[id]
	if !ok {
		return
	}
	if n <= 1 {
		delete(rt.refs, id)
		rt.handles.Remove(id)
		return
	}
	rt.refs[id] = n - 1
}

// wrap is Wrap for kinds known to be registered.
func (rt *Runtime) wrap(kind string, delegate any) *Object {
	o, err := rt.registry.Wrap(kind, delegate)
	if err != nil {
		panic(err)
	}
	return o
}

// wrapper returns a marshal function wrapping host values of one static
// type as kind. A nil host value stays nil.
func wrapper[T any](rt *Runtime, kind string) func(T) any {
	return func(v T) any {
		if value.IsNil(v) {
			return nil
		}
		return rt.wrap(kind, v)
	}
}

// out converts a dynamically typed host value, such as a message body or
// a map entry, for the caller. Buffers become Buffer objects.
func (rt *Runtime) out(v any) any {
	switch x := value.ToCaller(v).(type) {
	case *buffer.Buffer:
		return rt.wrap(KindBuffer, x)
	case []any:
		for i, e := range x {
			x[i] = rt.out(e)
		}
		return x
	default:
		return x
	}
}

// in is the inverse of out: Buffer objects are replaced by their bytes.
// Other handles stay handles.
func in(v any) any {
	switch x := v.(type) {
	case *Object:
		if b, ok := x.Delegate().(*buffer.Buffer); ok {
			return b
		}
		return x
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = in(e)
		}
		return out
	}
	return v
}

