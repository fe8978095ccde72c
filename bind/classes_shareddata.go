package bind

import (
	"github.com/caffeineduck/vertigo/overload"
	"github.com/caffeineduck/vertigo/shareddata"
)

var _ = defineClass(KindSharedData, func(t *overload.Table[*Object]) {
	sd := as[*shareddata.SharedData]

	asyncMap := func(o *Object, args []any) (any, error) {
		notify(args, sd(o).AsyncMap(str(args, 0)), wrapper[*shareddata.AsyncMap](o.rt, KindAsyncMap))
		return nil, nil
	}
	// Every map is shared by the whole process, so the local and cluster
	// forms are the same map.
	t.Method("getAsyncMap").On(asyncMap, overload.String, callback)
	t.Method("getLocalAsyncMap").On(asyncMap, overload.String, callback)
	t.Method("getClusterWideMap").On(asyncMap, overload.String, callback)
	t.Method("getCounter").On(func(o *Object, args []any) (any, error) {
		notify(args, sd(o).Counter(str(args, 0)), wrapper[*shareddata.Counter](o.rt, KindCounter))
		return nil, nil
	}, overload.String, callback)
	t.Method("getLock").On(func(o *Object, args []any) (any, error) {
		notify(args, sd(o).Lock(str(args, 0)), wrapper[*shareddata.Lock](o.rt, KindLock))
		return nil, nil
	}, overload.String, callback)
	t.Method("getLockWithTimeout").On(func(o *Object, args []any) (any, error) {
		notify(args, sd(o).LockWithTimeout(str(args, 0), millis(args, 1)), wrapper[*shareddata.Lock](o.rt, KindLock))
		return nil, nil
	}, overload.String, overload.Integer, callback)
})

var _ = defineClass(KindAsyncMap, func(t *overload.Table[*Object]) {
	m := as[*shareddata.AsyncMap]
	key := overload.String

	t.Method("get").On(func(o *Object, args []any) (any, error) {
		notify(args, m(o).Get(str(args, 0)), o.rt.out)
		return nil, nil
	}, key, callback)
	t.Method("put").
		On(func(o *Object, args []any) (any, error) {
			notify(args, m(o).Put(str(args, 0), in(args[1])), void)
			return nil, nil
		}, key, bodyArg, handler).
		On(func(o *Object, args []any) (any, error) {
			notify(args, m(o).PutTTL(str(args, 0), in(args[1]), millis(args, 2)), void)
			return nil, nil
		}, key, bodyArg, overload.Integer, handler)
	t.Method("putIfAbsent").
		On(func(o *Object, args []any) (any, error) {
			notify(args, m(o).PutIfAbsent(str(args, 0), in(args[1])), o.rt.out)
			return nil, nil
		}, key, bodyArg, callback).
		On(func(o *Object, args []any) (any, error) {
			notify(args, m(o).PutIfAbsentTTL(str(args, 0), in(args[1]), millis(args, 2)), o.rt.out)
			return nil, nil
		}, key, bodyArg, overload.Integer, callback)
	t.Method("remove").On(func(o *Object, args []any) (any, error) {
		notify(args, m(o).Remove(str(args, 0)), o.rt.out)
		return nil, nil
	}, key, callback)
	t.Method("removeIfPresent").On(func(o *Object, args []any) (any, error) {
		notify(args, m(o).RemoveIfPresent(str(args, 0), in(args[1])), same[bool])
		return nil, nil
	}, key, bodyArg, callback)
	t.Method("replace").On(func(o *Object, args []any) (any, error) {
		notify(args, m(o).Replace(str(args, 0), in(args[1])), o.rt.out)
		return nil, nil
	}, key, bodyArg, callback)
	t.Method("replaceIfPresent").On(func(o *Object, args []any) (any, error) {
		notify(args, m(o).ReplaceIfPresent(str(args, 0), in(args[1]), in(args[2])), same[bool])
		return nil, nil
	}, key, bodyArg, bodyArg, callback)
	t.Method("clear").On(func(o *Object, args []any) (any, error) {
		notify(args, m(o).Clear(), void)
		return nil, nil
	}, handler)
	t.Method("size").On(func(o *Object, args []any) (any, error) {
		notify(args, m(o).Size(), same[int])
		return nil, nil
	}, callback)
	t.Method("keys").On(func(o *Object, args []any) (any, error) {
		notify(args, m(o).Keys(), same[[]string])
		return nil, nil
	}, callback)
	t.Method("values").On(func(o *Object, args []any) (any, error) {
		notify(args, m(o).Values(), func(vs []any) any { return o.rt.out(vs) })
		return nil, nil
	}, callback)
	t.Method("name").On(func(o *Object, args []any) (any, error) {
		return m(o).Name(), nil
	})
})

var _ = defineClass(KindCounter, func(t *overload.Table[*Object]) {
	c := as[*shareddata.Counter]
	long0 := same[int64]

	t.Method("get").On(func(o *Object, args []any) (any, error) {
		notify(args, c(o).Get(), long0)
		return nil, nil
	}, callback)
	t.Method("incrementAndGet").On(func(o *Object, args []any) (any, error) {
		notify(args, c(o).IncrementAndGet(), long0)
		return nil, nil
	}, callback)
	t.Method("getAndIncrement").On(func(o *Object, args []any) (any, error) {
		notify(args, c(o).GetAndIncrement(), long0)
		return nil, nil
	}, callback)
	t.Method("decrementAndGet").On(func(o *Object, args []any) (any, error) {
		notify(args, c(o).DecrementAndGet(), long0)
		return nil, nil
	}, callback)
	t.Method("addAndGet").On(func(o *Object, args []any) (any, error) {
		notify(args, c(o).AddAndGet(long(args, 0)), long0)
		return nil, nil
	}, overload.Integer, callback)
	t.Method("getAndAdd").On(func(o *Object, args []any) (any, error) {
		notify(args, c(o).GetAndAdd(long(args, 0)), long0)
		return nil, nil
	}, overload.Integer, callback)
	t.Method("compareAndSet").On(func(o *Object, args []any) (any, error) {
		notify(args, c(o).CompareAndSet(long(args, 0), long(args, 1)), same[bool])
		return nil, nil
	}, overload.Integer, overload.Integer, callback)
})

var _ = defineClass(KindLock, func(t *overload.Table[*Object]) {
	t.Method("release").On(func(o *Object, args []any) (any, error) {
		as[*shareddata.Lock](o).Release()
		return nil, nil
	})
})
