package value

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/caffeineduck/vertigo/buffer"
	"github.com/caffeineduck/vertigo/errors"
	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
)

// JsonObject is a JSON object whose keys keep insertion order.
type JsonObject struct {
	keys []string
	vals map[string]any
}

// NewJsonObject returns an empty object.
func NewJsonObject() *JsonObject {
	return &JsonObject{vals: make(map[string]any)}
}

// JsonObjectOf builds an object from alternating keys and values.
func JsonObjectOf(kv ...any) *JsonObject {
	o := NewJsonObject()
	for i := 0; i+1 < len(kv); i += 2 {
		k, _ := kv[i].(string)
		o.Put(k, kv[i+1])
	}
	return o
}

func objectFromMap(m map[string]any) *JsonObject {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	o := NewJsonObject()
	for _, k := range keys {
		o.Put(k, m[k])
	}
	return o
}

// normalizeJSON converts nested Go containers to their JSON forms.
func normalizeJSON(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return objectFromMap(x)
	case []any:
		a := NewJsonArray()
		for _, e := range x {
			a.Add(e)
		}
		return a
	case []string:
		a := NewJsonArray()
		for _, e := range x {
			a.Add(e)
		}
		return a
	}
	if IsNumber(v) {
		return normalizeNumber(v)
	}
	return v
}

// Put sets key to v. An existing key keeps its position.
func (o *JsonObject) Put(key string, v any) *JsonObject {
	if o.vals == nil {
		o.vals = make(map[string]any)
	}
	if _, ok := o.vals[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.vals[key] = normalizeJSON(v)
	return o
}

// Get returns the value for key or nil.
func (o *JsonObject) Get(key string) any {
	return o.vals[key]
}

// Lookup returns the value for key and whether it was present.
func (o *JsonObject) Lookup(key string) (any, bool) {
	v, ok := o.vals[key]
	return v, ok
}

func (o *JsonObject) GetString(key string) (string, bool) {
	s, ok := o.vals[key].(string)
	return s, ok
}

func (o *JsonObject) GetInteger(key string) (int64, bool) {
	return ToInt64(o.vals[key])
}

func (o *JsonObject) GetNumber(key string) (float64, bool) {
	return ToFloat64(o.vals[key])
}

func (o *JsonObject) GetBool(key string) (bool, bool) {
	b, ok := o.vals[key].(bool)
	return b, ok
}

func (o *JsonObject) GetObject(key string) (*JsonObject, bool) {
	v, ok := o.vals[key].(*JsonObject)
	return v, ok
}

func (o *JsonObject) GetArray(key string) (*JsonArray, bool) {
	v, ok := o.vals[key].(*JsonArray)
	return v, ok
}

// GetBuffer returns a Buffer value, decoding base64 strings.
func (o *JsonObject) GetBuffer(key string) (*buffer.Buffer, bool) {
	switch v := o.vals[key].(type) {
	case *buffer.Buffer:
		return v, true
	case string:
		b, err := buffer.FromBase64(v)
		return b, err == nil
	}
	return nil, false
}

// Remove deletes key and returns its previous value.
func (o *JsonObject) Remove(key string) any {
	v, ok := o.vals[key]
	if !ok {
		return nil
	}
	delete(o.vals, key)
	for i, k := range o.keys {
		if k == key {
			o.keys = append(o.keys[:i], o.keys[i+1:]...)
			break
		}
	}
	return v
}

func (o *JsonObject) ContainsKey(key string) bool {
	_, ok := o.vals[key]
	return ok
}

// Keys returns the keys in order.
func (o *JsonObject) Keys() []string {
	return append([]string(nil), o.keys...)
}

func (o *JsonObject) Len() int {
	return len(o.keys)
}

// ForEach calls fn for every entry in key order.
func (o *JsonObject) ForEach(fn func(key string, v any)) {
	for _, k := range o.keys {
		fn(k, o.vals[k])
	}
}

// Copy returns a deep copy.
func (o *JsonObject) Copy() *JsonObject {
	c := &JsonObject{
		keys: append([]string(nil), o.keys...),
		vals: make(map[string]any, len(o.vals)),
	}
	for k, v := range o.vals {
		c.vals[k] = copyJSON(v)
	}
	return c
}

// Map returns the object as plain Go maps and slices.
func (o *JsonObject) Map() map[string]any {
	m := make(map[string]any, len(o.vals))
	for k, v := range o.vals {
		m[k] = plainJSON(v)
	}
	return m
}

// Equal reports whether both objects hold equal entries. Key order is not
// compared; numbers compare by value.
func (o *JsonObject) Equal(other *JsonObject) bool {
	if o == nil || other == nil {
		return o == other
	}
	if len(o.vals) != len(other.vals) {
		return false
	}
	for k, v := range o.vals {
		w, ok := other.vals[k]
		if !ok || !equalJSON(v, w) {
			return false
		}
	}
	return true
}

// Encode returns the compact JSON text.
func (o *JsonObject) Encode() string {
	var b bytes.Buffer
	encodeJSON(&b, o)
	return b.String()
}

// EncodePrettily returns indented JSON text with keys in order.
func (o *JsonObject) EncodePrettily() string {
	return string(pretty.PrettyOptions([]byte(o.Encode()), &pretty.Options{Width: 80, Indent: "  "}))
}

func (o *JsonObject) String() string {
	return o.Encode()
}

func (o *JsonObject) MarshalJSON() ([]byte, error) {
	var b bytes.Buffer
	if err := encodeJSON(&b, o); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func (o *JsonObject) UnmarshalJSON(data []byte) error {
	d, err := DecodeObject(string(data))
	if err != nil {
		return err
	}
	*o = *d
	return nil
}

// DecodeObject parses JSON text that must hold an object.
func DecodeObject(s string) (*JsonObject, error) {
	r, err := parse(s)
	if err != nil {
		return nil, err
	}
	if !r.IsObject() {
		return nil, errors.TypeMismatch(errors.PhaseMarshal, []string{"JsonObject"}, "object", r.Type.String())
	}
	return objectFromResult(r), nil
}

// JsonArray is an ordered JSON array.
type JsonArray struct {
	items []any
}

// NewJsonArray returns an empty array.
func NewJsonArray() *JsonArray {
	return &JsonArray{}
}

// JsonArrayOf builds an array from values.
func JsonArrayOf(items ...any) *JsonArray {
	a := NewJsonArray()
	for _, v := range items {
		a.Add(v)
	}
	return a
}

// Add appends v.
func (a *JsonArray) Add(v any) *JsonArray {
	a.items = append(a.items, normalizeJSON(v))
	return a
}

// Get returns element i or nil when out of range.
func (a *JsonArray) Get(i int) any {
	if i < 0 || i >= len(a.items) {
		return nil
	}
	return a.items[i]
}

func (a *JsonArray) GetString(i int) (string, bool) {
	s, ok := a.Get(i).(string)
	return s, ok
}

func (a *JsonArray) GetInteger(i int) (int64, bool) {
	return ToInt64(a.Get(i))
}

func (a *JsonArray) GetObject(i int) (*JsonObject, bool) {
	o, ok := a.Get(i).(*JsonObject)
	return o, ok
}

// Set replaces element i.
func (a *JsonArray) Set(i int, v any) bool {
	if i < 0 || i >= len(a.items) {
		return false
	}
	a.items[i] = normalizeJSON(v)
	return true
}

// Remove deletes element i and returns it.
func (a *JsonArray) Remove(i int) (any, bool) {
	if i < 0 || i >= len(a.items) {
		return nil, false
	}
	v := a.items[i]
	a.items = append(a.items[:i], a.items[i+1:]...)
	return v, true
}

// Contains reports whether an equal value is present.
func (a *JsonArray) Contains(v any) bool {
	v = normalizeJSON(v)
	for _, e := range a.items {
		if equalJSON(e, v) {
			return true
		}
	}
	return false
}

func (a *JsonArray) Len() int {
	return len(a.items)
}

// Items returns the elements; the slice is a copy.
func (a *JsonArray) Items() []any {
	return append([]any(nil), a.items...)
}

// List returns the array as plain Go slices and maps.
func (a *JsonArray) List() []any {
	out := make([]any, len(a.items))
	for i, v := range a.items {
		out[i] = plainJSON(v)
	}
	return out
}

// Copy returns a deep copy.
func (a *JsonArray) Copy() *JsonArray {
	c := &JsonArray{items: make([]any, len(a.items))}
	for i, v := range a.items {
		c.items[i] = copyJSON(v)
	}
	return c
}

// Equal compares element-wise in order.
func (a *JsonArray) Equal(other *JsonArray) bool {
	if a == nil || other == nil {
		return a == other
	}
	if len(a.items) != len(other.items) {
		return false
	}
	for i := range a.items {
		if !equalJSON(a.items[i], other.items[i]) {
			return false
		}
	}
	return true
}

func (a *JsonArray) Encode() string {
	var b bytes.Buffer
	encodeJSON(&b, a)
	return b.String()
}

func (a *JsonArray) EncodePrettily() string {
	return string(pretty.PrettyOptions([]byte(a.Encode()), &pretty.Options{Width: 80, Indent: "  "}))
}

func (a *JsonArray) String() string {
	return a.Encode()
}

func (a *JsonArray) MarshalJSON() ([]byte, error) {
	var b bytes.Buffer
	if err := encodeJSON(&b, a); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func (a *JsonArray) UnmarshalJSON(data []byte) error {
	d, err := DecodeArray(string(data))
	if err != nil {
		return err
	}
	*a = *d
	return nil
}

// DecodeArray parses JSON text that must hold an array.
func DecodeArray(s string) (*JsonArray, error) {
	r, err := parse(s)
	if err != nil {
		return nil, err
	}
	if !r.IsArray() {
		return nil, errors.TypeMismatch(errors.PhaseMarshal, []string{"JsonArray"}, "array", r.Type.String())
	}
	return arrayFromResult(r), nil
}

// DecodeValue parses any JSON text into a caller value.
func DecodeValue(s string) (any, error) {
	r, err := parse(s)
	if err != nil {
		return nil, err
	}
	return FromResult(r), nil
}

func parse(s string) (gjson.Result, error) {
	if !gjson.Valid(s) {
		return gjson.Result{}, errors.InvalidData(errors.PhaseMarshal, "invalid JSON")
	}
	return gjson.Parse(s), nil
}

// FromResult converts a parsed gjson value, keeping object key order.
// Integral numbers become int64, all others float64.
func FromResult(r gjson.Result) any {
	switch r.Type {
	case gjson.Null:
		return nil
	case gjson.False:
		return false
	case gjson.True:
		return true
	case gjson.String:
		return r.Str
	case gjson.Number:
		if !strings.ContainsAny(r.Raw, ".eE") {
			if i, err := strconv.ParseInt(r.Raw, 10, 64); err == nil {
				return i
			}
		}
		return r.Num
	case gjson.JSON:
		if r.IsObject() {
			return objectFromResult(r)
		}
		if r.IsArray() {
			return arrayFromResult(r)
		}
	}
	return nil
}

func objectFromResult(r gjson.Result) *JsonObject {
	o := NewJsonObject()
	r.ForEach(func(k, v gjson.Result) bool {
		o.Put(k.Str, FromResult(v))
		return true
	})
	return o
}

func arrayFromResult(r gjson.Result) *JsonArray {
	a := NewJsonArray()
	r.ForEach(func(_, v gjson.Result) bool {
		a.items = append(a.items, FromResult(v))
		return true
	})
	return a
}

func encodeJSON(b *bytes.Buffer, v any) error {
	switch x := v.(type) {
	case nil:
		b.WriteString("null")
	case bool:
		b.WriteString(strconv.FormatBool(x))
	case string:
		encodeString(b, x)
	case int64:
		b.WriteString(strconv.FormatInt(x, 10))
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return errors.InvalidData(errors.PhaseMarshal, "JSON cannot encode "+strconv.FormatFloat(x, 'g', -1, 64))
		}
		p, _ := json.Marshal(x)
		b.Write(p)
	case *JsonObject:
		b.WriteByte('{')
		for i, k := range x.keys {
			if i > 0 {
				b.WriteByte(',')
			}
			encodeString(b, k)
			b.WriteByte(':')
			if err := encodeJSON(b, x.vals[k]); err != nil {
				return err
			}
		}
		b.WriteByte('}')
	case *JsonArray:
		b.WriteByte('[')
		for i, e := range x.items {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := encodeJSON(b, e); err != nil {
				return err
			}
		}
		b.WriteByte(']')
	case *buffer.Buffer:
		encodeString(b, x.Base64())
	case []byte:
		encodeString(b, base64.StdEncoding.EncodeToString(x))
	default:
		if IsNumber(v) {
			return encodeJSON(b, normalizeNumber(v))
		}
		switch v.(type) {
		case map[string]any, []any, []string:
			return encodeJSON(b, normalizeJSON(v))
		}
		p, err := json.Marshal(v)
		if err != nil {
			return errors.Wrap(errors.PhaseMarshal, errors.KindInvalidData, err, "encode JSON")
		}
		b.Write(p)
	}
	return nil
}

func encodeString(b *bytes.Buffer, s string) {
	enc := json.NewEncoder(b)
	enc.SetEscapeHTML(false)
	enc.Encode(s)
	// Encode terminates with a newline
	b.Truncate(b.Len() - 1)
}

func copyJSON(v any) any {
	switch x := v.(type) {
	case *JsonObject:
		return x.Copy()
	case *JsonArray:
		return x.Copy()
	case *buffer.Buffer:
		return x.Copy()
	}
	return v
}

func plainJSON(v any) any {
	switch x := v.(type) {
	case *JsonObject:
		return x.Map()
	case *JsonArray:
		return x.List()
	}
	return v
}

func equalJSON(a, b any) bool {
	switch x := a.(type) {
	case *JsonObject:
		y, ok := b.(*JsonObject)
		return ok && x.Equal(y)
	case *JsonArray:
		y, ok := b.(*JsonArray)
		return ok && x.Equal(y)
	case *buffer.Buffer:
		y, ok := b.(*buffer.Buffer)
		return ok && x.Equal(y)
	}
	if IsNumber(a) && IsNumber(b) {
		ai, aok := ToInt64(a)
		bi, bok := ToInt64(b)
		if aok && bok {
			return ai == bi
		}
		af, _ := ToFloat64(a)
		bf, _ := ToFloat64(b)
		return af == bf
	}
	return reflect.DeepEqual(a, b)
}

// Equal compares two caller values structurally. Numbers compare by value
// and JSON objects ignore key order.
func Equal(a, b any) bool {
	return equalJSON(normalizeJSON(a), normalizeJSON(b))
}
