// Package cscp implements the Constellation Satellite Control Protocol:
// the request/reply control channel that drives a satellite's FSM and
// exposes its standard and user commands. The accept-loop-per-connection,
// mutex-serialised-dispatch shape follows a graceful RPC server's accept
// loop, adapted from gRPC's listener lifecycle to a plain length-prefixed
// multipart transport.
package cscp

import (
	"strings"

	"github.com/google/uuid"

	"github.com/constellation-daq/constellation-core/dictionary"
	"github.com/constellation-daq/constellation-core/protocol"
)

// RequestType is the sole incoming verb type; anything else is a
// protocol-level error.
const RequestType = "REQUEST"

// ReplyType classifies a CSCP reply.
type ReplyType string

const (
	ReplySuccess        ReplyType = "SUCCESS"
	ReplyInvalid        ReplyType = "INVALID"
	ReplyUnknown        ReplyType = "UNKNOWN"
	ReplyIncomplete     ReplyType = "INCOMPLETE"
	ReplyNotImplemented ReplyType = "NOTIMPLEMENTED"
	ReplyError          ReplyType = "ERROR"
)

// Verb is the second CSCP frame: a (type, name) tuple. Request verbs carry
// RequestType and a lowercased command name; reply verbs carry a ReplyType
// and a human-readable description.
type Verb struct {
	Type string
	Name string
}

func encodeVerb(v Verb) ([]byte, error) {
	return dictionary.EncodeList(dictionary.Strings(v.Type, v.Name))
}

func decodeVerb(b []byte) (Verb, error) {
	l, err := dictionary.DecodeList(b)
	if err != nil {
		return Verb{}, err
	}
	if len(l) != 2 {
		return Verb{}, protocol.NewMalformedPayloadError("cscp", "verb frame must have exactly 2 elements", nil)
	}
	typ, ok := l[0].AsString()
	if !ok {
		return Verb{}, protocol.NewMalformedPayloadError("cscp", "verb type must be a string", nil)
	}
	name, ok := l[1].AsString()
	if !ok {
		return Verb{}, protocol.NewMalformedPayloadError("cscp", "verb name must be a string", nil)
	}
	return Verb{Type: typ, Name: name}, nil
}

// Request is a decoded incoming CSCP message.
type Request struct {
	Header  protocol.Header
	Verb    string // lowercased command name
	Payload []byte // nil if no payload frame was sent
}

// Reply is an outgoing CSCP message.
type Reply struct {
	Type        ReplyType
	Description string
	Payload     []byte
}

// encodeRequest builds the wire frames for a CSCP request, stamping a fresh
// request_id tag so a reply (and any tracing span) can be correlated back
// to the request that caused it.
func encodeRequest(sender, verb string, payload []byte) ([][]byte, error) {
	header := protocol.NewHeader(protocol.TagCSCP1, sender)
	header.Tags.Set("request_id", dictionary.NewString(uuid.NewString()))
	headerBytes, err := protocol.EncodeHeader(header)
	if err != nil {
		return nil, err
	}
	verbBytes, err := encodeVerb(Verb{Type: RequestType, Name: strings.ToLower(verb)})
	if err != nil {
		return nil, err
	}
	frames := [][]byte{headerBytes, verbBytes}
	if payload != nil {
		frames = append(frames, payload)
	}
	return frames, nil
}

// decodeRequest parses the wire frames of an incoming CSCP request.
func decodeRequest(frames [][]byte) (Request, error) {
	if len(frames) < 2 {
		return Request{}, protocol.NewMalformedPayloadError("cscp", "request requires at least 2 frames", nil)
	}
	header, err := protocol.DecodeHeader(frames[0])
	if err != nil {
		return Request{}, err
	}
	if err := header.RequireTag(protocol.TagCSCP1); err != nil {
		return Request{}, err
	}
	verb, err := decodeVerb(frames[1])
	if err != nil {
		return Request{}, err
	}
	if verb.Type != RequestType {
		return Request{}, protocol.NewIncorrectMessageTypeError(RequestType, verb.Type)
	}
	var payload []byte
	if len(frames) >= 3 {
		payload = frames[2]
	}
	return Request{Header: header, Verb: strings.ToLower(verb.Name), Payload: payload}, nil
}

// encodeReply builds the wire frames for a CSCP reply.
func encodeReply(sender string, reply Reply) ([][]byte, error) {
	header := protocol.NewHeader(protocol.TagCSCP1, sender)
	headerBytes, err := protocol.EncodeHeader(header)
	if err != nil {
		return nil, err
	}
	verbBytes, err := encodeVerb(Verb{Type: string(reply.Type), Name: reply.Description})
	if err != nil {
		return nil, err
	}
	frames := [][]byte{headerBytes, verbBytes}
	if reply.Payload != nil {
		frames = append(frames, reply.Payload)
	}
	return frames, nil
}

// decodeReply parses the wire frames of a CSCP reply.
func decodeReply(frames [][]byte) (Reply, error) {
	if len(frames) < 2 {
		return Reply{}, protocol.NewMalformedPayloadError("cscp", "reply requires at least 2 frames", nil)
	}
	header, err := protocol.DecodeHeader(frames[0])
	if err != nil {
		return Reply{}, err
	}
	if err := header.RequireTag(protocol.TagCSCP1); err != nil {
		return Reply{}, err
	}
	verb, err := decodeVerb(frames[1])
	if err != nil {
		return Reply{}, err
	}
	var payload []byte
	if len(frames) >= 3 {
		payload = frames[2]
	}
	return Reply{Type: ReplyType(verb.Type), Description: verb.Name, Payload: payload}, nil
}
