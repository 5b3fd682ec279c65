package protocol

import (
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/constellation-daq/constellation-core/dictionary"
)

// Protocol tags exchanged as the first field of every frame header.
const (
	TagCHIRP2 = "CHIRP2"
	TagCSCP1  = "CSCP1"
	TagCDTP1  = "CDTP1"
	TagCMDP1  = "CMDP1"
	TagCHP1   = "CHP1"
)

// Header is the common envelope carried by CSCP, CDTP and CMDP frames:
// a protocol tag, the sending endpoint's canonical name, a timestamp, and a
// free-form tags dictionary (used for thread id / source location in CMDP,
// arbitrary metadata elsewhere). It encodes as its own msgpack map rather
// than through dictionary.Value, since a Header nests a full Dictionary
// under "tags" and Value's sequence kinds don't model nested maps.
type Header struct {
	Tag    string
	Sender string
	Time   time.Time
	Tags   *dictionary.Dictionary
}

// NewHeader builds a Header stamped with the current time and an empty tags dictionary.
func NewHeader(tag, sender string) Header {
	return Header{Tag: tag, Sender: sender, Time: time.Now().UTC(), Tags: dictionary.New()}
}

var _ msgpack.CustomEncoder = Header{}
var _ msgpack.CustomDecoder = (*Header)(nil)

// EncodeMsgpack writes h as a 4-entry map: protocol, sender, time, tags.
func (h Header) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeMapLen(4); err != nil {
		return err
	}
	if err := enc.EncodeString("protocol"); err != nil {
		return err
	}
	if err := enc.EncodeString(h.Tag); err != nil {
		return err
	}
	if err := enc.EncodeString("sender"); err != nil {
		return err
	}
	if err := enc.EncodeString(h.Sender); err != nil {
		return err
	}
	if err := enc.EncodeString("time"); err != nil {
		return err
	}
	if err := enc.EncodeTime(h.Time); err != nil {
		return err
	}
	if err := enc.EncodeString("tags"); err != nil {
		return err
	}
	tags := h.Tags
	if tags == nil {
		tags = dictionary.New()
	}
	return enc.Encode(tags)
}

// DecodeMsgpack reads a Header back from its 4-entry map form.
func (h *Header) DecodeMsgpack(dec *msgpack.Decoder) error {
	n, err := dec.DecodeMapLen()
	if err != nil {
		return NewMalformedPayloadError("header", "decode header map", err)
	}
	out := Header{Tags: dictionary.New()}
	for i := 0; i < n; i++ {
		key, err := dec.DecodeString()
		if err != nil {
			return NewMalformedPayloadError("header", "decode header key", err)
		}
		switch key {
		case "protocol":
			out.Tag, err = dec.DecodeString()
		case "sender":
			out.Sender, err = dec.DecodeString()
		case "time":
			out.Time, err = dec.DecodeTime()
		case "tags":
			err = dec.Decode(out.Tags)
		default:
			var skip dictionary.Value
			err = dec.Decode(&skip)
		}
		if err != nil {
			return NewMalformedPayloadError("header", "decode header field "+key, err)
		}
	}
	*h = out
	return nil
}

// RequireTag checks h's protocol tag against wantTag.
func (h Header) RequireTag(wantTag string) error {
	if h.Tag != wantTag {
		return NewInvalidProtocolTagError(wantTag, h.Tag)
	}
	return nil
}

// EncodeHeader serializes h to its wire form (a top-level msgpack map, via
// Header's own CustomEncoder).
func EncodeHeader(h Header) ([]byte, error) {
	b, err := msgpack.Marshal(h)
	if err != nil {
		return nil, NewMalformedPayloadError("header", "encode header", err)
	}
	return b, nil
}

// DecodeHeader parses the wire form of a Header.
func DecodeHeader(b []byte) (Header, error) {
	var h Header
	if err := msgpack.Unmarshal(b, &h); err != nil {
		return Header{}, NewMalformedPayloadError("header", "decode header", err)
	}
	return h, nil
}
