package bind

import (
	"github.com/caffeineduck/vertigo/dns"
	"github.com/caffeineduck/vertigo/future"
	"github.com/caffeineduck/vertigo/overload"
	"github.com/caffeineduck/vertigo/value"
)

// nullable maps an empty lookup result to nil.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var _ = defineClass(KindDnsClient, func(t *overload.Table[*Object]) {
	client := as[*dns.Client]

	one := func(lookup func(*dns.Client, string) *future.Future[string]) overload.Func[*Object] {
		return func(o *Object, args []any) (any, error) {
			notify(args, lookup(client(o), str(args, 0)), nullable)
			return o, nil
		}
	}
	all := func(resolve func(*dns.Client, string) *future.Future[[]string]) overload.Func[*Object] {
		return func(o *Object, args []any) (any, error) {
			notify(args, resolve(client(o), str(args, 0)), same[[]string])
			return o, nil
		}
	}

	t.Method("lookup").On(one((*dns.Client).Lookup), overload.String, callback)
	t.Method("lookup4").On(one((*dns.Client).Lookup4), overload.String, callback)
	t.Method("lookup6").On(one((*dns.Client).Lookup6), overload.String, callback)
	t.Method("reverseLookup").On(one((*dns.Client).ReverseLookup), overload.String, callback)
	t.Method("resolveA").On(all((*dns.Client).ResolveA), overload.String, callback)
	t.Method("resolveAAAA").On(all((*dns.Client).ResolveAAAA), overload.String, callback)
	t.Method("resolveCNAME").On(all((*dns.Client).ResolveCNAME), overload.String, callback)
	t.Method("resolveTXT").On(all((*dns.Client).ResolveTXT), overload.String, callback)
	t.Method("resolveNS").On(all((*dns.Client).ResolveNS), overload.String, callback)
	t.Method("resolveMX").On(func(o *Object, args []any) (any, error) {
		wrap := wrapper[*dns.MxRecord](o.rt, KindMxRecord)
		notify(args, client(o).ResolveMX(str(args, 0)), func(rs []*dns.MxRecord) any {
			return value.FromSlice(rs, wrap)
		})
		return o, nil
	}, overload.String, callback)
	t.Method("resolveSRV").On(func(o *Object, args []any) (any, error) {
		wrap := wrapper[*dns.SrvRecord](o.rt, KindSrvRecord)
		notify(args, client(o).ResolveSRV(str(args, 0)), func(rs []*dns.SrvRecord) any {
			return value.FromSlice(rs, wrap)
		})
		return o, nil
	}, overload.String, callback)
})

var _ = defineClass(KindMxRecord, func(t *overload.Table[*Object]) {
	mx := as[*dns.MxRecord]
	t.Method("priority").On(func(o *Object, args []any) (any, error) {
		return mx(o).Priority, nil
	})
	t.Method("name").On(func(o *Object, args []any) (any, error) {
		return mx(o).Name, nil
	})
})

var _ = defineClass(KindSrvRecord, func(t *overload.Table[*Object]) {
	srv := as[*dns.SrvRecord]
	fields := []struct {
		name string
		get  func(*dns.SrvRecord) any
	}{
		{"priority", func(r *dns.SrvRecord) any { return r.Priority }},
		{"weight", func(r *dns.SrvRecord) any { return r.Weight }},
		{"port", func(r *dns.SrvRecord) any { return r.Port }},
		{"name", func(r *dns.SrvRecord) any { return r.Name }},
		{"protocol", func(r *dns.SrvRecord) any { return r.Protocol }},
		{"service", func(r *dns.SrvRecord) any { return r.Service }},
		{"target", func(r *dns.SrvRecord) any { return r.Target }},
	}
	for _, f := range fields {
		get := f.get
		t.Method(f.name).On(func(o *Object, args []any) (any, error) {
			return get(srv(o)), nil
		})
	}
})
