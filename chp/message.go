// Package chp implements the Constellation Heartbeat Protocol: a periodic
// liveness broadcast plus a watchdog that fires an interrupt when a
// remote's heartbeats stop arriving on schedule. The publisher's
// connected-subscriber fan-out follows an in-memory pub/sub bus's Publish
// idiom, adapted from in-process callback dispatch to writing frames to
// open network connections.
package chp

import (
	"time"

	"github.com/constellation-daq/constellation-core/dictionary"
	"github.com/constellation-daq/constellation-core/protocol"
)

// Message is one heartbeat: sender identity travels in the Header, state/
// interval/flags in the payload.
type Message struct {
	Sender   string
	Time     time.Time
	State    string
	Interval time.Duration
	Flags    uint8
}

// Encode serializes m as a [header, payload] multipart frame pair.
func (m Message) Encode() ([][]byte, error) {
	header := protocol.NewHeader(protocol.TagCHP1, m.Sender)
	header.Time = m.Time
	headerBytes, err := protocol.EncodeHeader(header)
	if err != nil {
		return nil, err
	}

	payload := dictionary.New()
	payload.Set("state", dictionary.NewString(m.State))
	payload.Set("interval_ms", dictionary.NewInt(m.Interval.Milliseconds()))
	payload.Set("flags", dictionary.NewInt(int64(m.Flags)))
	payloadBytes, err := dictionary.EncodeDictionary(payload)
	if err != nil {
		return nil, err
	}
	return [][]byte{headerBytes, payloadBytes}, nil
}

// Decode parses a [header, payload] multipart frame pair into a Message.
func Decode(frames [][]byte) (Message, error) {
	if len(frames) < 2 {
		return Message{}, protocol.NewMalformedPayloadError("chp", "message requires 2 frames", nil)
	}
	header, err := protocol.DecodeHeader(frames[0])
	if err != nil {
		return Message{}, err
	}
	if err := header.RequireTag(protocol.TagCHP1); err != nil {
		return Message{}, err
	}
	payload, err := dictionary.DecodeDictionary(frames[1])
	if err != nil {
		return Message{}, err
	}

	msg := Message{Sender: header.Sender, Time: header.Time}
	if v, ok := payload.Get("state"); ok {
		msg.State, _ = v.AsString()
	}
	if v, ok := payload.Get("interval_ms"); ok {
		ms, _ := v.AsInt()
		msg.Interval = time.Duration(ms) * time.Millisecond
	}
	if v, ok := payload.Get("flags"); ok {
		f, _ := v.AsInt()
		msg.Flags = uint8(f)
	}
	return msg, nil
}

// DefaultInterval is the heartbeat period a sender promises to hold unless
// configured otherwise.
const DefaultInterval = time.Second
