// Package dictionary implements Constellation's self-describing scalar
// Value, the heterogeneous List, and the ordered Dictionary, together with
// the binary wire codec every protocol in this module uses as its payload
// format. The codec is MessagePack via
// github.com/vmihailenco/msgpack/v5, the same concrete choice the original
// C++ implementation makes, and a library already present in the retrieved
// example corpus's dependency surface.
package dictionary

import (
	"fmt"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Kind tags the scalar variant a Value holds. Vector kinds are the
// corresponding scalar Kind with vectorBit set.
type Kind uint8

const (
	KindNone Kind = iota
	KindBool
	KindInt
	KindFloat
	KindBytes
	KindString
	KindTime
	// KindList holds a heterogeneous ordered sequence of Values.
	KindList

	vectorBit Kind = 0x80
)

// VectorOf returns the vector-kind tag for scalar kind k.
func VectorOf(k Kind) Kind { return k | vectorBit }

// IsVector reports whether k is a vector-of-scalar kind.
func (k Kind) IsVector() bool { return k&vectorBit != 0 && k != KindList }

// ElemKind returns the scalar element kind of a vector kind (itself if not a vector).
func (k Kind) ElemKind() Kind { return k &^ vectorBit }

func (k Kind) String() string {
	switch k.ElemKind() {
	case KindNone:
		if k.IsVector() {
			return "vector<none>"
		}
		return "none"
	case KindBool:
		if k.IsVector() {
			return "vector<bool>"
		}
		return "bool"
	case KindInt:
		if k.IsVector() {
			return "vector<int>"
		}
		return "int"
	case KindFloat:
		if k.IsVector() {
			return "vector<float>"
		}
		return "float"
	case KindBytes:
		if k.IsVector() {
			return "vector<bytes>"
		}
		return "bytes"
	case KindString:
		if k.IsVector() {
			return "vector<string>"
		}
		return "string"
	case KindTime:
		if k.IsVector() {
			return "vector<time>"
		}
		return "time"
	case KindList:
		return "list"
	default:
		return "unknown"
	}
}

// Value is the tagged scalar union carried by every protocol payload:
// none, bool, int64, float64, byte string, text string, timestamp, or a
// homogeneous vector-of-T / heterogeneous list of those.
type Value struct {
	kind  Kind
	b     bool
	i     int64
	f     float64
	bs    []byte
	s     string
	t     time.Time
	elems []Value
}

// Kind returns the Value's variant tag.
func (v Value) Kind() Kind { return v.kind }

// IsNone reports whether v holds no value.
func (v Value) IsNone() bool { return v.kind == KindNone }

// None is the absent value.
func None() Value { return Value{kind: KindNone} }

// NewBool builds a boolean Value.
func NewBool(b bool) Value { return Value{kind: KindBool, b: b} }

// NewInt builds a signed 64-bit integer Value.
func NewInt(i int64) Value { return Value{kind: KindInt, i: i} }

// NewFloat builds a double-precision float Value.
func NewFloat(f float64) Value { return Value{kind: KindFloat, f: f} }

// NewBytes builds a byte-string Value. The slice is not copied.
func NewBytes(b []byte) Value { return Value{kind: KindBytes, bs: b} }

// NewString builds a text-string Value.
func NewString(s string) Value { return Value{kind: KindString, s: s} }

// NewTime builds a timestamp Value. Precision is nanoseconds since the Unix
// epoch ; the time is normalized to UTC.
func NewTime(t time.Time) Value { return Value{kind: KindTime, t: t.UTC()} }

// NewList builds a heterogeneous List Value from arbitrary elements.
func NewList(elems ...Value) Value {
	return Value{kind: KindList, elems: append([]Value(nil), elems...)}
}

// NewVector builds a homogeneous vector-of-elemKind Value. It returns a
// TypeMismatchError if any element's Kind does not equal elemKind, or if
// elemKind is itself a vector or list kind (nesting is not permitted).
func NewVector(elemKind Kind, elems ...Value) (Value, error) {
	if elemKind.IsVector() || elemKind == KindList {
		return Value{}, NewTypeMismatchError("scalar kind", elemKind.String())
	}
	for _, e := range elems {
		if e.kind != elemKind {
			return Value{}, NewTypeMismatchError(elemKind.String(), e.kind.String())
		}
	}
	return Value{kind: VectorOf(elemKind), elems: append([]Value(nil), elems...)}, nil
}

// MustVector is NewVector but panics on error; for use with literal,
// statically-known-homogeneous element lists.
func MustVector(elemKind Kind, elems ...Value) Value {
	v, err := NewVector(elemKind, elems...)
	if err != nil {
		panic(err)
	}
	return v
}

// AsBool returns the boolean payload and whether v is a bool Value.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsInt returns the integer payload and whether v is an int Value.
func (v Value) AsInt() (int64, bool) { return v.i, v.kind == KindInt }

// AsFloat returns the float payload and whether v is a float Value.
func (v Value) AsFloat() (float64, bool) { return v.f, v.kind == KindFloat }

// AsBytes returns the byte-string payload and whether v is a bytes Value.
func (v Value) AsBytes() ([]byte, bool) { return v.bs, v.kind == KindBytes }

// AsString returns the text payload and whether v is a string Value.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsTime returns the timestamp payload and whether v is a time Value.
func (v Value) AsTime() (time.Time, bool) { return v.t, v.kind == KindTime }

// Elems returns the elements of a List or vector Value, or nil otherwise.
func (v Value) Elems() []Value {
	if v.kind == KindList || v.kind.IsVector() {
		return v.elems
	}
	return nil
}

// Equal reports deep structural equality between two Values.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNone:
		return true
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f
	case KindBytes:
		return string(v.bs) == string(o.bs)
	case KindString:
		return v.s == o.s
	case KindTime:
		return v.t.Equal(o.t)
	default: // list or vector
		if len(v.elems) != len(o.elems) {
			return false
		}
		for i := range v.elems {
			if !v.elems[i].Equal(o.elems[i]) {
				return false
			}
		}
		return true
	}
}

// String renders v in Constellation's canonical textual form.
func (v Value) String() string {
	switch v.kind {
	case KindNone:
		return "NIL"
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindFloat:
		return fmt.Sprintf("%g", v.f)
	case KindBytes:
		return fmt.Sprintf("%x", v.bs)
	case KindString:
		return v.s
	case KindTime:
		return v.t.UTC().Format("2006-01-02 15:04:05.000000000")
	default:
		parts := make([]string, len(v.elems))
		for i, e := range v.elems {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
}

// =============================================================================
// Wire codec (MessagePack via vmihailenco/msgpack/v5)
// =============================================================================

var _ msgpack.CustomEncoder = Value{}
var _ msgpack.CustomDecoder = (*Value)(nil)

// EncodeMsgpack implements msgpack.CustomEncoder. Empty lists/vectors
// encode to nil ("empty array decodes to none"), keeping encode/decode a
// round trip.
func (v Value) EncodeMsgpack(enc *msgpack.Encoder) error {
	switch {
	case v.kind == KindNone:
		return enc.EncodeNil()
	case v.kind == KindBool:
		return enc.EncodeBool(v.b)
	case v.kind == KindInt:
		return enc.EncodeInt64(v.i)
	case v.kind == KindFloat:
		return enc.EncodeFloat64(v.f)
	case v.kind == KindBytes:
		return enc.EncodeBytes(v.bs)
	case v.kind == KindString:
		return enc.EncodeString(v.s)
	case v.kind == KindTime:
		return enc.EncodeTime(v.t)
	case v.kind == KindList || v.kind.IsVector():
		if len(v.elems) == 0 {
			return enc.EncodeNil()
		}
		if err := enc.EncodeArrayLen(len(v.elems)); err != nil {
			return err
		}
		for _, e := range v.elems {
			if err := enc.Encode(e); err != nil {
				return err
			}
		}
		return nil
	default:
		return NewMalformedPayloadError(fmt.Sprintf("unknown value kind %d", v.kind), nil)
	}
}

// DecodeMsgpack implements msgpack.CustomDecoder. It decodes through the
// generic DecodeInterface path and reclassifies the result into a Value,
// applying the homogeneity rule for arrays: an array whose first decoded
// element is scalar kind K yields a vector-of-K Value; a heterogeneous
// array yields a List Value; an empty array yields None.
func (v *Value) DecodeMsgpack(dec *msgpack.Decoder) error {
	raw, err := dec.DecodeInterface()
	if err != nil {
		return NewMalformedPayloadError("decode value", err)
	}
	val, err := fromGo(raw)
	if err != nil {
		return err
	}
	*v = val
	return nil
}

// fromGo converts a value produced by msgpack's generic DecodeInterface into
// a Value, enforcing sequence homogeneity.
func fromGo(raw any) (Value, error) {
	switch x := raw.(type) {
	case nil:
		return None(), nil
	case bool:
		return NewBool(x), nil
	case int8:
		return NewInt(int64(x)), nil
	case int16:
		return NewInt(int64(x)), nil
	case int32:
		return NewInt(int64(x)), nil
	case int64:
		return NewInt(x), nil
	case int:
		return NewInt(int64(x)), nil
	case uint8:
		return NewInt(int64(x)), nil
	case uint16:
		return NewInt(int64(x)), nil
	case uint32:
		return NewInt(int64(x)), nil
	case uint64:
		return NewInt(int64(x)), nil
	case float32:
		return NewFloat(float64(x)), nil
	case float64:
		return NewFloat(x), nil
	case []byte:
		return NewBytes(x), nil
	case string:
		return NewString(x), nil
	case time.Time:
		return NewTime(x), nil
	case []any:
		if len(x) == 0 {
			return None(), nil
		}
		elems := make([]Value, len(x))
		for i, raw := range x {
			e, err := fromGo(raw)
			if err != nil {
				return Value{}, err
			}
			elems[i] = e
		}
		homogeneous := true
		first := elems[0].kind
		for _, e := range elems[1:] {
			if e.kind != first {
				homogeneous = false
				break
			}
		}
		if homogeneous && first != KindList && !first.IsVector() {
			return Value{kind: VectorOf(first), elems: elems}, nil
		}
		return Value{kind: KindList, elems: elems}, nil
	default:
		return Value{}, NewMalformedPayloadError(fmt.Sprintf("unsupported wire type %T", raw), nil)
	}
}
