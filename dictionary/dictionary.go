package dictionary

import "github.com/vmihailenco/msgpack/v5"

// Dictionary is an ordered string-to-Value map: the payload type for CSCP
// replies, CDTP begin/end-of-run records, and satellite configuration.
// Iteration and wire order follow insertion order, which a plain Go map
// cannot guarantee, hence the explicit key slice.
type Dictionary struct {
	keys   []string
	values map[string]Value
}

// New returns an empty Dictionary.
func New() *Dictionary {
	return &Dictionary{values: make(map[string]Value)}
}

// Set inserts or updates key. Updating an existing key preserves its
// original position; a new key is appended.
func (d *Dictionary) Set(key string, v Value) {
	if d.values == nil {
		d.values = make(map[string]Value)
	}
	if _, exists := d.values[key]; !exists {
		d.keys = append(d.keys, key)
	}
	d.values[key] = v
}

// Get returns the value stored under key and whether it was present.
func (d *Dictionary) Get(key string) (Value, bool) {
	v, ok := d.values[key]
	return v, ok
}

// Delete removes key, if present.
func (d *Dictionary) Delete(key string) {
	if _, ok := d.values[key]; !ok {
		return
	}
	delete(d.values, key)
	for i, k := range d.keys {
		if k == key {
			d.keys = append(d.keys[:i], d.keys[i+1:]...)
			break
		}
	}
}

// Has reports whether key is present.
func (d *Dictionary) Has(key string) bool {
	_, ok := d.values[key]
	return ok
}

// Len returns the number of entries.
func (d *Dictionary) Len() int { return len(d.keys) }

// Keys returns the keys in insertion order. The returned slice must not be mutated.
func (d *Dictionary) Keys() []string { return d.keys }

// Range calls fn for every entry in insertion order, stopping early if fn
// returns false.
func (d *Dictionary) Range(fn func(key string, v Value) bool) {
	for _, k := range d.keys {
		if !fn(k, d.values[k]) {
			return
		}
	}
}

// Clone returns a shallow copy of d; Values are immutable so this is a safe
// independent copy.
func (d *Dictionary) Clone() *Dictionary {
	out := New()
	out.keys = append([]string(nil), d.keys...)
	out.values = make(map[string]Value, len(d.values))
	for k, v := range d.values {
		out.values[k] = v
	}
	return out
}

// =============================================================================
// Wire codec
// =============================================================================

var _ msgpack.CustomEncoder = (*Dictionary)(nil)
var _ msgpack.CustomDecoder = (*Dictionary)(nil)

// EncodeMsgpack writes d as a msgpack map, keys in insertion order.
func (d *Dictionary) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeMapLen(len(d.keys)); err != nil {
		return err
	}
	for _, k := range d.keys {
		if err := enc.EncodeString(k); err != nil {
			return err
		}
		if err := enc.Encode(d.values[k]); err != nil {
			return err
		}
	}
	return nil
}

// DecodeMsgpack reads a msgpack map into d, preserving wire key order and
// keeping the last value on duplicate keys without reordering the key's
// first-seen position.
func (d *Dictionary) DecodeMsgpack(dec *msgpack.Decoder) error {
	n, err := dec.DecodeMapLen()
	if err != nil {
		return NewMalformedPayloadError("decode dictionary header", err)
	}
	*d = Dictionary{values: make(map[string]Value, n)}
	for i := 0; i < n; i++ {
		key, err := dec.DecodeString()
		if err != nil {
			return NewMalformedPayloadError("decode dictionary key", err)
		}
		var v Value
		if err := dec.Decode(&v); err != nil {
			return NewMalformedPayloadError("decode dictionary value for key "+key, err)
		}
		d.Set(key, v)
	}
	return nil
}
