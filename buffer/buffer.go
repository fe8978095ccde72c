// Package buffer implements the byte sequence that crosses the binding
// boundary.
//
// A Buffer grows on demand when written past its end. Fixed width numbers can
// be read, written and appended at byte offsets in big-endian (the default) or
// little-endian order. Strings are encoded and decoded through a named
// character encoding (see [Encodings]).
//
// # Slices and copies
//
// [Buffer.Slice] returns a view that shares storage with its parent: a write
// through either is visible through both. A view has a fixed length; writing
// or appending past the end of a view detaches it onto its own storage.
// [Buffer.Copy] always returns independent storage.
package buffer

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"math"
	"slices"

	"github.com/caffeineduck/vertigo/errors"
)

// MaxLength is the largest length a Buffer grows to.
const MaxLength = math.MaxInt32

// Buffer is a growable byte sequence. The zero value is an empty buffer.
type Buffer struct {
	data []byte

	// Views reference the root buffer's storage.
	parent *Buffer
	off    int
	n      int
}

// New returns an empty buffer.
func New() *Buffer {
	return &Buffer{}
}

// NewSize returns an empty buffer with capacity for hint bytes.
func NewSize(hint int) *Buffer {
	if hint < 0 {
		hint = 0
	}
	return &Buffer{data: make([]byte, 0, hint)}
}

// FromBytes returns a buffer holding a copy of b.
func FromBytes(b []byte) *Buffer {
	return &Buffer{data: bytes.Clone(b)}
}

// Wrap returns a buffer that takes ownership of b without copying.
func Wrap(b []byte) *Buffer {
	return &Buffer{data: b}
}

// FromString returns s encoded as UTF-8.
func FromString(s string) *Buffer {
	return &Buffer{data: []byte(s)}
}

// FromStringEncoded returns s in the named encoding.
func FromStringEncoded(s, enc string) (*Buffer, error) {
	b, err := Encode(s, enc)
	if err != nil {
		return nil, err
	}
	return &Buffer{data: b}, nil
}

func (b *Buffer) bytes() []byte {
	if b.parent != nil {
		return b.parent.data[b.off : b.off+b.n]
	}
	return b.data
}

// Len returns the number of bytes in the buffer.
func (b *Buffer) Len() int {
	if b.parent != nil {
		return b.n
	}
	return len(b.data)
}

// Bytes returns a copy of the buffer contents.
func (b *Buffer) Bytes() []byte {
	return bytes.Clone(b.bytes())
}

// detach moves a view onto its own storage.
func (b *Buffer) detach() {
	if b.parent == nil {
		return
	}
	b.data = bytes.Clone(b.bytes())
	b.parent, b.off, b.n = nil, 0, 0
}

// get returns the size bytes at pos for reading.
func (b *Buffer) get(op string, pos, size int) ([]byte, error) {
	data := b.bytes()
	if pos < 0 || size < 0 || pos > len(data)-size {
		return nil, errors.OutOfBounds(errors.PhaseMarshal, []string{"Buffer", op}, pos, len(data))
	}
	return data[pos : pos+size], nil
}

// set returns the size bytes at pos for writing, growing the buffer as
// needed.
func (b *Buffer) set(op string, pos, size int) ([]byte, error) {
	if pos < 0 || size < 0 || pos > MaxLength-size {
		return nil, errors.OutOfBounds(errors.PhaseMarshal, []string{"Buffer", op}, pos, b.Len())
	}
	end := pos + size
	if end > b.Len() {
		b.detach()
		if end > cap(b.data) {
			b.data = slices.Grow(b.data, end-len(b.data))
		}
		old := len(b.data)
		b.data = b.data[:end]
		clear(b.data[old:])
	}
	return b.bytes()[pos:end], nil
}

// extend appends size zero bytes and returns them for writing.
func (b *Buffer) extend(size int) []byte {
	b.detach()
	n := len(b.data)
	b.data = slices.Grow(b.data, size)[:n+size]
	return b.data[n:]
}

// Getters

func (b *Buffer) GetByte(pos int) (int8, error) {
	p, err := b.get("getByte", pos, 1)
	if err != nil {
		return 0, err
	}
	return int8(p[0]), nil
}

func (b *Buffer) GetUnsignedByte(pos int) (uint8, error) {
	p, err := b.get("getUnsignedByte", pos, 1)
	if err != nil {
		return 0, err
	}
	return p[0], nil
}

func (b *Buffer) GetShort(pos int) (int16, error) {
	v, err := b.GetUnsignedShort(pos)
	return int16(v), err
}

func (b *Buffer) GetShortLE(pos int) (int16, error) {
	v, err := b.GetUnsignedShortLE(pos)
	return int16(v), err
}

func (b *Buffer) GetUnsignedShort(pos int) (uint16, error) {
	p, err := b.get("getUnsignedShort", pos, 2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(p), nil
}

func (b *Buffer) GetUnsignedShortLE(pos int) (uint16, error) {
	p, err := b.get("getUnsignedShortLE", pos, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(p), nil
}

// GetMedium reads a signed 24-bit integer.
func (b *Buffer) GetMedium(pos int) (int32, error) {
	v, err := b.GetUnsignedMedium(pos)
	return signExtend24(v), err
}

func (b *Buffer) GetMediumLE(pos int) (int32, error) {
	v, err := b.GetUnsignedMediumLE(pos)
	return signExtend24(v), err
}

func (b *Buffer) GetUnsignedMedium(pos int) (uint32, error) {
	p, err := b.get("getUnsignedMedium", pos, 3)
	if err != nil {
		return 0, err
	}
	return uint32(p[0])<<16 | uint32(p[1])<<8 | uint32(p[2]), nil
}

func (b *Buffer) GetUnsignedMediumLE(pos int) (uint32, error) {
	p, err := b.get("getUnsignedMediumLE", pos, 3)
	if err != nil {
		return 0, err
	}
	return uint32(p[2])<<16 | uint32(p[1])<<8 | uint32(p[0]), nil
}

func signExtend24(v uint32) int32 {
	if v&0x800000 != 0 {
		return int32(v | 0xff000000)
	}
	return int32(v)
}

func (b *Buffer) GetInt(pos int) (int32, error) {
	v, err := b.GetUnsignedInt(pos)
	return int32(v), err
}

func (b *Buffer) GetIntLE(pos int) (int32, error) {
	v, err := b.GetUnsignedIntLE(pos)
	return int32(v), err
}

func (b *Buffer) GetUnsignedInt(pos int) (uint32, error) {
	p, err := b.get("getUnsignedInt", pos, 4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(p), nil
}

func (b *Buffer) GetUnsignedIntLE(pos int) (uint32, error) {
	p, err := b.get("getUnsignedIntLE", pos, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(p), nil
}

func (b *Buffer) GetLong(pos int) (int64, error) {
	p, err := b.get("getLong", pos, 8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(p)), nil
}

func (b *Buffer) GetLongLE(pos int) (int64, error) {
	p, err := b.get("getLongLE", pos, 8)
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(p)), nil
}

func (b *Buffer) GetFloat(pos int) (float32, error) {
	v, err := b.GetUnsignedInt(pos)
	return math.Float32frombits(v), err
}

func (b *Buffer) GetFloatLE(pos int) (float32, error) {
	v, err := b.GetUnsignedIntLE(pos)
	return math.Float32frombits(v), err
}

func (b *Buffer) GetDouble(pos int) (float64, error) {
	v, err := b.GetLong(pos)
	return math.Float64frombits(uint64(v)), err
}

func (b *Buffer) GetDoubleLE(pos int) (float64, error) {
	v, err := b.GetLongLE(pos)
	return math.Float64frombits(uint64(v)), err
}

// GetBytes returns a copy of the bytes in [start, end).
func (b *Buffer) GetBytes(start, end int) ([]byte, error) {
	p, err := b.get("getBytes", start, end-start)
	if err != nil {
		return nil, err
	}
	return bytes.Clone(p), nil
}

// GetBuffer returns an independent buffer holding [start, end).
func (b *Buffer) GetBuffer(start, end int) (*Buffer, error) {
	p, err := b.GetBytes(start, end)
	if err != nil {
		return nil, err
	}
	return Wrap(p), nil
}

// GetString decodes [start, end) in the named encoding.
func (b *Buffer) GetString(start, end int, enc string) (string, error) {
	p, err := b.get("getString", start, end-start)
	if err != nil {
		return "", err
	}
	return Decode(p, enc)
}

// Setters

func (b *Buffer) SetByte(pos int, v int8) error {
	return b.SetUnsignedByte(pos, uint8(v))
}

func (b *Buffer) SetUnsignedByte(pos int, v uint8) error {
	p, err := b.set("setByte", pos, 1)
	if err != nil {
		return err
	}
	p[0] = v
	return nil
}

func (b *Buffer) SetShort(pos int, v int16) error {
	return b.SetUnsignedShort(pos, uint16(v))
}

func (b *Buffer) SetShortLE(pos int, v int16) error {
	return b.SetUnsignedShortLE(pos, uint16(v))
}

func (b *Buffer) SetUnsignedShort(pos int, v uint16) error {
	p, err := b.set("setShort", pos, 2)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint16(p, v)
	return nil
}

func (b *Buffer) SetUnsignedShortLE(pos int, v uint16) error {
	p, err := b.set("setShortLE", pos, 2)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(p, v)
	return nil
}

// SetMedium writes the low 24 bits of v.
func (b *Buffer) SetMedium(pos int, v int32) error {
	p, err := b.set("setMedium", pos, 3)
	if err != nil {
		return err
	}
	p[0], p[1], p[2] = byte(v>>16), byte(v>>8), byte(v)
	return nil
}

func (b *Buffer) SetMediumLE(pos int, v int32) error {
	p, err := b.set("setMediumLE", pos, 3)
	if err != nil {
		return err
	}
	p[0], p[1], p[2] = byte(v), byte(v>>8), byte(v>>16)
	return nil
}

func (b *Buffer) SetInt(pos int, v int32) error {
	return b.SetUnsignedInt(pos, uint32(v))
}

func (b *Buffer) SetIntLE(pos int, v int32) error {
	return b.SetUnsignedIntLE(pos, uint32(v))
}

func (b *Buffer) SetUnsignedInt(pos int, v uint32) error {
	p, err := b.set("setInt", pos, 4)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint32(p, v)
	return nil
}

func (b *Buffer) SetUnsignedIntLE(pos int, v uint32) error {
	p, err := b.set("setIntLE", pos, 4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(p, v)
	return nil
}

func (b *Buffer) SetLong(pos int, v int64) error {
	p, err := b.set("setLong", pos, 8)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint64(p, uint64(v))
	return nil
}

func (b *Buffer) SetLongLE(pos int, v int64) error {
	p, err := b.set("setLongLE", pos, 8)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(p, uint64(v))
	return nil
}

func (b *Buffer) SetFloat(pos int, v float32) error {
	return b.SetUnsignedInt(pos, math.Float32bits(v))
}

func (b *Buffer) SetFloatLE(pos int, v float32) error {
	return b.SetUnsignedIntLE(pos, math.Float32bits(v))
}

func (b *Buffer) SetDouble(pos int, v float64) error {
	return b.SetLong(pos, int64(math.Float64bits(v)))
}

func (b *Buffer) SetDoubleLE(pos int, v float64) error {
	return b.SetLongLE(pos, int64(math.Float64bits(v)))
}

func (b *Buffer) SetBytes(pos int, v []byte) error {
	p, err := b.set("setBytes", pos, len(v))
	if err != nil {
		return err
	}
	copy(p, v)
	return nil
}

func (b *Buffer) SetBuffer(pos int, v *Buffer) error {
	return b.SetBytes(pos, v.bytes())
}

// SetString writes s in the named encoding at pos.
func (b *Buffer) SetString(pos int, s, enc string) error {
	p, err := Encode(s, enc)
	if err != nil {
		return err
	}
	return b.SetBytes(pos, p)
}

// Appenders return the receiver so calls can be chained.

func (b *Buffer) AppendByte(v int8) *Buffer {
	b.extend(1)[0] = byte(v)
	return b
}

func (b *Buffer) AppendUnsignedByte(v uint8) *Buffer {
	b.extend(1)[0] = v
	return b
}

func (b *Buffer) AppendShort(v int16) *Buffer {
	binary.BigEndian.PutUint16(b.extend(2), uint16(v))
	return b
}

func (b *Buffer) AppendShortLE(v int16) *Buffer {
	binary.LittleEndian.PutUint16(b.extend(2), uint16(v))
	return b
}

func (b *Buffer) AppendUnsignedShort(v uint16) *Buffer {
	binary.BigEndian.PutUint16(b.extend(2), v)
	return b
}

func (b *Buffer) AppendUnsignedShortLE(v uint16) *Buffer {
	binary.LittleEndian.PutUint16(b.extend(2), v)
	return b
}

func (b *Buffer) AppendMedium(v int32) *Buffer {
	p := b.extend(3)
	p[0], p[1], p[2] = byte(v>>16), byte(v>>8), byte(v)
	return b
}

func (b *Buffer) AppendMediumLE(v int32) *Buffer {
	p := b.extend(3)
	p[0], p[1], p[2] = byte(v), byte(v>>8), byte(v>>16)
	return b
}

func (b *Buffer) AppendInt(v int32) *Buffer {
	binary.BigEndian.PutUint32(b.extend(4), uint32(v))
	return b
}

func (b *Buffer) AppendIntLE(v int32) *Buffer {
	binary.LittleEndian.PutUint32(b.extend(4), uint32(v))
	return b
}

func (b *Buffer) AppendUnsignedInt(v uint32) *Buffer {
	binary.BigEndian.PutUint32(b.extend(4), v)
	return b
}

func (b *Buffer) AppendUnsignedIntLE(v uint32) *Buffer {
	binary.LittleEndian.PutUint32(b.extend(4), v)
	return b
}

func (b *Buffer) AppendLong(v int64) *Buffer {
	binary.BigEndian.PutUint64(b.extend(8), uint64(v))
	return b
}

func (b *Buffer) AppendLongLE(v int64) *Buffer {
	binary.LittleEndian.PutUint64(b.extend(8), uint64(v))
	return b
}

func (b *Buffer) AppendFloat(v float32) *Buffer {
	return b.AppendUnsignedInt(math.Float32bits(v))
}

func (b *Buffer) AppendFloatLE(v float32) *Buffer {
	return b.AppendUnsignedIntLE(math.Float32bits(v))
}

func (b *Buffer) AppendDouble(v float64) *Buffer {
	return b.AppendLong(int64(math.Float64bits(v)))
}

func (b *Buffer) AppendDoubleLE(v float64) *Buffer {
	return b.AppendLongLE(int64(math.Float64bits(v)))
}

func (b *Buffer) AppendBytes(v []byte) *Buffer {
	copy(b.extend(len(v)), v)
	return b
}

func (b *Buffer) AppendBuffer(v *Buffer) *Buffer {
	// v may be b itself or a view of it
	return b.AppendBytes(v.Bytes())
}

func (b *Buffer) AppendString(s string) *Buffer {
	copy(b.extend(len(s)), s)
	return b
}

// AppendStringEncoded appends s in the named encoding.
func (b *Buffer) AppendStringEncoded(s, enc string) (*Buffer, error) {
	p, err := Encode(s, enc)
	if err != nil {
		return b, err
	}
	return b.AppendBytes(p), nil
}

// Slice returns a view over the whole buffer.
func (b *Buffer) Slice() *Buffer {
	s, _ := b.SliceRange(0, b.Len())
	return s
}

// SliceRange returns a view over [start, end) sharing storage with b.
func (b *Buffer) SliceRange(start, end int) (*Buffer, error) {
	if start < 0 || end < start || end > b.Len() {
		return nil, errors.OutOfBounds(errors.PhaseMarshal, []string{"Buffer", "slice"}, end, b.Len())
	}
	root, off := b, 0
	if b.parent != nil {
		root, off = b.parent, b.off
	}
	return &Buffer{parent: root, off: off + start, n: end - start}, nil
}

// Copy returns an independent copy.
func (b *Buffer) Copy() *Buffer {
	return FromBytes(b.bytes())
}

// ToString decodes the whole buffer in the named encoding.
func (b *Buffer) ToString(enc string) (string, error) {
	return Decode(b.bytes(), enc)
}

// String returns the buffer decoded as UTF-8.
func (b *Buffer) String() string {
	return string(b.bytes())
}

// Equal reports whether both buffers hold the same bytes.
func (b *Buffer) Equal(o *Buffer) bool {
	if b == nil || o == nil {
		return b == o
	}
	return bytes.Equal(b.bytes(), o.bytes())
}

// Base64 returns the standard base64 encoding of the contents.
func (b *Buffer) Base64() string {
	return base64.StdEncoding.EncodeToString(b.bytes())
}

// FromBase64 decodes standard base64 into a new buffer.
func FromBase64(s string) (*Buffer, error) {
	p, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseMarshal, errors.KindInvalidData, err, "invalid base64 buffer")
	}
	return Wrap(p), nil
}

// MarshalJSON encodes the buffer as a base64 string.
func (b *Buffer) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.Base64())
}

// UnmarshalJSON decodes a base64 string.
func (b *Buffer) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	p, err := FromBase64(s)
	if err != nil {
		return err
	}
	b.parent, b.off, b.n = nil, 0, 0
	b.data = p.data
	return nil
}
