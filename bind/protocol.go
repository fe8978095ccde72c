package bind

import (
	"strconv"

	"github.com/caffeineduck/vertigo/buffer"
	"github.com/caffeineduck/vertigo/errors"
	"github.com/caffeineduck/vertigo/value"
	"github.com/tidwall/gjson"
)

// Wire format: one JSON document per line.
//
//	-> {"id":1,"target":"vertx","method":"createHttpClient","args":[]}
//	<- {"id":1,"data":{"$handle":"...","$type":"HttpClient"}}
//	<- {"callback":"cb1","args":[null,{"$error":"connection refused"}]}
//
// Values that JSON cannot carry are tagged objects:
//
//	{"$callback":"name"}                 a caller function (arguments only)
//	{"$handle":"id","$type":"Kind"}      a host object
//	{"$buffer":"base64"}                 bytes
//	{"$jsonArray":[...]}                 a JsonArray, as opposed to a list
//	{"$error":"message"}                 a failure
//
// Any other object is a JsonObject with its key order kept; any other array
// is a list.
const (
	tagCallback  = "$callback"
	tagHandle    = "$handle"
	tagType      = "$type"
	tagBuffer    = "$buffer"
	tagJsonArray = "$jsonArray"
	tagError     = "$error"

	// targetVertx addresses the root object.
	targetVertx = "vertx"
	// methodRelease drops the target from the handle table.
	methodRelease = "$release"
)

type request struct {
	ID     int64
	Target string
	Method string
	Args   []gjson.Result
}

type response struct {
	ID    int64      `json:"id"`
	Data  any        `json:"data"`
	Error *wireError `json:"error,omitempty"`
}

type wireError struct {
	Phase   string `json:"phase"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type event struct {
	Callback string `json:"callback"`
	Args     []any  `json:"args"`
}

func parseRequest(line []byte) (request, error) {
	if !gjson.ValidBytes(line) {
		return request{}, errors.InvalidData(errors.PhaseProtocol, "malformed json")
	}
	r := gjson.ParseBytes(line)
	if !r.IsObject() {
		return request{}, errors.TypeMismatch(errors.PhaseProtocol, nil, "object", typeOf(r))
	}
	id := r.Get("id")
	if id.Type != gjson.Number {
		return request{}, errors.TypeMismatch(errors.PhaseProtocol, []string{"id"}, "integer", typeOf(id))
	}
	req := request{ID: id.Int()}
	for _, f := range []struct {
		name string
		dst  *string
	}{{"target", &req.Target}, {"method", &req.Method}} {
		v := r.Get(f.name)
		if v.Type != gjson.String || v.Str == "" {
			return request{ID: req.ID}, errors.TypeMismatch(errors.PhaseProtocol, []string{f.name}, "string", typeOf(v))
		}
		*f.dst = v.Str
	}
	args := r.Get("args")
	switch {
	case !args.Exists(), args.Type == gjson.Null:
	case args.IsArray():
		req.Args = args.Array()
	default:
		return request{ID: req.ID}, errors.TypeMismatch(errors.PhaseProtocol, []string{"args"}, "array", typeOf(args))
	}
	return req, nil
}

func typeOf(r gjson.Result) string {
	switch {
	case !r.Exists():
		return "missing"
	case r.IsObject():
		return "object"
	case r.IsArray():
		return "array"
	}
	return value.TypeOf(value.FromResult(r))
}

// at extends an error path without sharing path's backing array.
func at(path []string, elem string) []string {
	return append(path[:len(path):len(path)], elem)
}

// tagged returns the payload of a single-purpose tagged object.
func tagged(m map[string]gjson.Result, tag string, size int) (gjson.Result, bool) {
	if len(m) != size {
		return gjson.Result{}, false
	}
	v, ok := m[tag]
	return v, ok
}

// decode converts one wire argument into a caller value.
func (s *Session) decode(r gjson.Result, path []string) (any, error) {
	switch {
	case r.IsArray():
		items := r.Array()
		out := make([]any, len(items))
		for i, item := range items {
			v, err := s.decode(item, at(path, strconv.Itoa(i)))
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case !r.IsObject():
		return value.FromResult(r), nil
	}

	m := r.Map()
	if v, ok := tagged(m, tagCallback, 1); ok {
		if v.Type != gjson.String {
			return nil, errors.TypeMismatch(errors.PhaseProtocol, at(path, tagCallback), "string", typeOf(v))
		}
		return s.callback(v.Str), nil
	}
	if v, ok := tagged(m, tagHandle, 2); ok {
		o, err := s.handle(v.String())
		if err != nil {
			return nil, err
		}
		if kind := m[tagType].String(); kind != o.Kind() {
			return nil, errors.TypeMismatch(errors.PhaseProtocol, at(path, tagType), o.Kind(), kind)
		}
		return o, nil
	}
	if v, ok := tagged(m, tagBuffer, 1); ok {
		b, err := buffer.FromBase64(v.String())
		if err != nil {
			return nil, errors.Wrap(errors.PhaseProtocol, errors.KindInvalidData, err, "buffer")
		}
		return b, nil
	}
	if v, ok := tagged(m, tagJsonArray, 1); ok {
		if !v.IsArray() {
			return nil, errors.TypeMismatch(errors.PhaseProtocol, at(path, tagJsonArray), "array", typeOf(v))
		}
		return value.FromResult(v), nil
	}
	if v, ok := tagged(m, tagError, 1); ok {
		return value.NewFailure("%s", v.String()), nil
	}
	return value.FromResult(r), nil
}

// encode converts a caller value into its wire form. Objects are exported
// into the handle table on the way out.
func (s *Session) encode(v any) any {
	switch x := value.ToCaller(v).(type) {
	case nil:
		return nil
	case *Object:
		s.export(x)
		return map[string]string{tagHandle: x.ID(), tagType: x.Kind()}
	case *buffer.Buffer:
		return map[string]string{tagBuffer: x.Base64()}
	case *value.Failure:
		return map[string]string{tagError: x.Message}
	case *value.JsonArray:
		return map[string]any{tagJsonArray: x}
	case value.Callable:
		// Host functions do not cross the wire.
		return nil
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = s.encode(e)
		}
		return out
	default:
		return x
	}
}

func wireErrorOf(err error) *wireError {
	var e *errors.Error
	if errors.As(err, &e) {
		return &wireError{Phase: string(e.Phase), Kind: string(e.Kind), Message: e.Message()}
	}
	return &wireError{
		Phase:   string(errors.PhaseOperation),
		Kind:    string(errors.KindOperationFailed),
		Message: err.Error(),
	}
}
