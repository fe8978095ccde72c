// Package overload resolves a dynamically typed argument list to one of
// several declared signatures.
//
// Signatures of one method are tried in declaration order. The first whose
// arity equals the argument count and whose every positional predicate
// accepts its argument is invoked. When none matches the call fails with a
// synchronous invalid arguments error and nothing is invoked.
//
//	t := overload.NewTable[*Request]("HttpClient")
//	t.Method("request").
//		On(requestURI, overload.String, overload.String).
//		On(requestHandler, overload.String, overload.Callable)
//
// Declaration order is part of the contract: nil satisfies every Nullable
// predicate, so a nullable signature declared first shadows a strict one of
// the same arity.
package overload

import (
	"strings"

	"github.com/caffeineduck/vertigo/errors"
	"github.com/caffeineduck/vertigo/value"
	"go.uber.org/zap"
)

// Func is the implementation behind one signature. args has already been
// checked against the signature's predicates.
type Func[R any] func(recv R, args []any) (any, error)

// Signature is one candidate form of a method.
type Signature[R any] struct {
	Params []Predicate
	Call   Func[R]
}

// Arity returns the number of parameters.
func (s Signature[R]) Arity() int {
	return len(s.Params)
}

// Matches reports whether args satisfy the signature.
func (s Signature[R]) Matches(args []any) bool {
	if len(args) != len(s.Params) {
		return false
	}
	for i, p := range s.Params {
		if !p.Accept(args[i]) {
			return false
		}
	}
	return true
}

// String renders the signature as "(string, function)".
func (s Signature[R]) String() string {
	names := make([]string, len(s.Params))
	for i, p := range s.Params {
		names[i] = p.Name
	}
	return "(" + strings.Join(names, ", ") + ")"
}

// Set is the ordered overload set of one method.
type Set[R any] struct {
	target string
	name   string
	sigs   []Signature[R]
}

// NewSet creates an empty overload set for target.name.
func NewSet[R any](target, name string) *Set[R] {
	return &Set[R]{target: target, name: name}
}

// On appends a signature. Order of On calls is resolution order.
func (s *Set[R]) On(call Func[R], params ...Predicate) *Set[R] {
	if call == nil {
		panic("overload: nil implementation for " + s.target + "." + s.name)
	}
	s.sigs = append(s.sigs, Signature[R]{Params: params, Call: call})
	return s
}

func (s *Set[R]) Name() string {
	return s.name
}

// Signatures returns the declared signatures in order.
func (s *Set[R]) Signatures() []Signature[R] {
	return append([]Signature[R](nil), s.sigs...)
}

// Matching returns the indices of every signature that accepts args.
func (s *Set[R]) Matching(args []any) []int {
	var out []int
	for i, sig := range s.sigs {
		if sig.Matches(args) {
			out = append(out, i)
		}
	}
	return out
}

// Resolve returns the first signature accepting args.
func (s *Set[R]) Resolve(args []any) (Signature[R], error) {
	chosen := -1
	for i, sig := range s.sigs {
		if !sig.Matches(args) {
			continue
		}
		if chosen < 0 {
			chosen = i
			if !debugEnabled() {
				break
			}
			continue
		}
		Logger().Debug("ambiguous overload resolved by declaration order",
			zap.String("target", s.target),
			zap.String("method", s.name),
			zap.Stringer("chosen", s.sigs[chosen]),
			zap.Stringer("shadowed", sig))
	}
	if chosen < 0 {
		return Signature[R]{}, errors.InvalidArguments(s.target, s.name, argTypes(args))
	}
	return s.sigs[chosen], nil
}

// Invoke resolves and calls.
func (s *Set[R]) Invoke(recv R, args []any) (any, error) {
	sig, err := s.Resolve(args)
	if err != nil {
		return nil, err
	}
	return sig.Call(recv, args)
}

func debugEnabled() bool {
	return Logger().Core().Enabled(zap.DebugLevel)
}

func argTypes(args []any) []string {
	types := make([]string, len(args))
	for i, a := range args {
		types[i] = value.TypeOf(a)
	}
	return types
}

// Table holds the methods of one class.
type Table[R any] struct {
	kind  string
	sets  map[string]*Set[R]
	order []string
}

// NewTable creates an empty method table for the class kind.
func NewTable[R any](kind string) *Table[R] {
	return &Table[R]{kind: kind, sets: make(map[string]*Set[R])}
}

func (t *Table[R]) Kind() string {
	return t.kind
}

// Method returns the overload set for name, creating it on first use.
func (t *Table[R]) Method(name string) *Set[R] {
	if s, ok := t.sets[name]; ok {
		return s
	}
	s := NewSet[R](t.kind, name)
	t.sets[name] = s
	t.order = append(t.order, name)
	return s
}

// Lookup returns the overload set for name.
func (t *Table[R]) Lookup(name string) (*Set[R], bool) {
	s, ok := t.sets[name]
	return s, ok
}

// Invoke dispatches a call on recv.
func (t *Table[R]) Invoke(recv R, method string, args []any) (any, error) {
	s, ok := t.sets[method]
	if !ok {
		return nil, errors.UnknownMethod(t.kind, method)
	}
	return s.Invoke(recv, args)
}

// Methods returns method names in declaration order.
func (t *Table[R]) Methods() []string {
	return append([]string(nil), t.order...)
}
