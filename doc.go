// Package vertigo exposes an event-loop based asynchronous I/O toolkit to
// dynamically typed callers.
//
// # Overview
//
// The toolkit itself lives in ordinary Go packages: [eventloop], [eventbus],
// [shareddata], [filesystem], [tcp], [udp], [web] and [dns], wired together
// by [vertx]. The [bind] package puts every host class behind a handle whose
// methods take untyped arguments. A call is matched against the method's
// signatures in declaration order, its arguments are converted, and any
// asynchronous result comes back through a (result, error) callback.
//
// # Basic Usage
//
//	vx, _ := vertx.New()
//	defer vx.Close()
//	rt := bind.New(vx)
//
//	bus, _ := rt.Vertx().Call("eventBus")
//	bus.(*bind.Object).Call("request", "greeter", "hi",
//	    value.Callable(func(args ...any) {
//	        reply, err := args[0], args[1]
//	        ...
//	    }))
//
// # Remote Callers
//
// Callers in another process speak newline-delimited JSON through a
// [bind.Session], on stdio or a WebSocket:
//
//	vertigo serve --stdio
//	vertigo serve --listen 127.0.0.1:8080
//
// See the [bind] package for the wire format.
package vertigo
