package dictionary

import "github.com/vmihailenco/msgpack/v5"

// EncodeDictionary serializes d to its wire form.
func EncodeDictionary(d *Dictionary) ([]byte, error) {
	if d == nil {
		d = New()
	}
	b, err := msgpack.Marshal(d)
	if err != nil {
		return nil, NewMalformedPayloadError("encode dictionary", err)
	}
	return b, nil
}

// DecodeDictionary parses the wire form of a Dictionary.
func DecodeDictionary(b []byte) (*Dictionary, error) {
	d := New()
	if len(b) == 0 {
		return d, nil
	}
	if err := msgpack.Unmarshal(b, d); err != nil {
		return nil, NewMalformedPayloadError("decode dictionary", err)
	}
	return d, nil
}

// EncodeList serializes l to its wire form (a top-level msgpack array; an
// empty List encodes as nil).
func EncodeList(l List) ([]byte, error) {
	b, err := msgpack.Marshal(l.ToValue())
	if err != nil {
		return nil, NewMalformedPayloadError("encode list", err)
	}
	return b, nil
}

// DecodeList parses the wire form of a List.
func DecodeList(b []byte) (List, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var v Value
	if err := msgpack.Unmarshal(b, &v); err != nil {
		return nil, NewMalformedPayloadError("decode list", err)
	}
	if v.IsNone() {
		return nil, nil
	}
	l, ok := ListFromValue(v)
	if !ok {
		return nil, NewTypeMismatchError("list", v.Kind().String())
	}
	return l, nil
}

// EncodeValue serializes a single Value to its wire form.
func EncodeValue(v Value) ([]byte, error) {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return nil, NewMalformedPayloadError("encode value", err)
	}
	return b, nil
}

// DecodeValue parses the wire form of a single Value.
func DecodeValue(b []byte) (Value, error) {
	if len(b) == 0 {
		return None(), nil
	}
	var v Value
	if err := msgpack.Unmarshal(b, &v); err != nil {
		return Value{}, NewMalformedPayloadError("decode value", err)
	}
	return v, nil
}
