// Package cdtp implements the Constellation Data Transmission Protocol:
// a single-producer, single-consumer push/pull data stream framed as
// BOR/DATA/EOR messages with a strictly monotonic sequence number. The
// sender/receiver explicit-state idiom follows fsm.State; the
// accept-then-stream connection shape follows cscp.Server.
package cdtp

import (
	"fmt"

	"github.com/constellation-daq/constellation-core/dictionary"
	"github.com/constellation-daq/constellation-core/protocol"
)

// MessageType is a CDTP frame's type tag.
type MessageType string

const (
	TypeBOR  MessageType = "BOR"
	TypeDATA MessageType = "DATA"
	TypeEOR  MessageType = "EOR"
)

// Message is one decoded CDTP frame set: a header plus zero or more payload
// frames (arbitrary bytes for DATA, a single encoded Dictionary for BOR/EOR).
type Message struct {
	Sender   string
	Type     MessageType
	Sequence uint64
	Payloads [][]byte
}

// encode builds the wire frames for msg: [header, meta, payload...]. meta
// carries type and sequence_number since protocol.Header has no field for
// either.
func encode(msg Message) ([][]byte, error) {
	header := protocol.NewHeader(protocol.TagCDTP1, msg.Sender)
	headerBytes, err := protocol.EncodeHeader(header)
	if err != nil {
		return nil, err
	}

	meta := dictionary.New()
	meta.Set("type", dictionary.NewString(string(msg.Type)))
	meta.Set("sequence_number", dictionary.NewInt(int64(msg.Sequence)))
	metaBytes, err := dictionary.EncodeDictionary(meta)
	if err != nil {
		return nil, err
	}

	frames := make([][]byte, 0, 2+len(msg.Payloads))
	frames = append(frames, headerBytes, metaBytes)
	frames = append(frames, msg.Payloads...)
	return frames, nil
}

// decode parses the wire frames of a CDTP message.
func decode(frames [][]byte) (Message, error) {
	if len(frames) < 2 {
		return Message{}, protocol.NewMalformedPayloadError("cdtp", "message requires at least 2 frames", nil)
	}
	header, err := protocol.DecodeHeader(frames[0])
	if err != nil {
		return Message{}, err
	}
	if err := header.RequireTag(protocol.TagCDTP1); err != nil {
		return Message{}, err
	}
	meta, err := dictionary.DecodeDictionary(frames[1])
	if err != nil {
		return Message{}, err
	}

	msg := Message{Sender: header.Sender, Payloads: frames[2:]}
	if v, ok := meta.Get("type"); ok {
		s, _ := v.AsString()
		msg.Type = MessageType(s)
	}
	if v, ok := meta.Get("sequence_number"); ok {
		n, _ := v.AsInt()
		msg.Sequence = uint64(n)
	}
	return msg, nil
}

// singleDictPayload decodes a BOR/EOR message's sole payload frame as a
// Dictionary.
func singleDictPayload(msg Message) (*dictionary.Dictionary, error) {
	if len(msg.Payloads) != 1 {
		return nil, protocol.NewMalformedPayloadError("cdtp", fmt.Sprintf("%s requires exactly one payload frame, got %d", msg.Type, len(msg.Payloads)), nil)
	}
	return dictionary.DecodeDictionary(msg.Payloads[0])
}
