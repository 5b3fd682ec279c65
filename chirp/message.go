// Package chirp implements CHIRP, Constellation's UDP multicast service
// discovery protocol: advertising, requesting, and
// tracking the CONTROL/HEARTBEAT/MONITORING/DATA sockets of every
// participant reachable on the multicast group.
package chirp

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"

	"github.com/constellation-daq/constellation-core/protocol"
)

// MessageType is the CHIRP message kind.
type MessageType byte

const (
	MessageRequest MessageType = 0x00
	MessageOffer   MessageType = 0x01
	MessageDepart  MessageType = 0x02
)

func (t MessageType) String() string {
	switch t {
	case MessageRequest:
		return "REQUEST"
	case MessageOffer:
		return "OFFER"
	case MessageDepart:
		return "DEPART"
	default:
		return fmt.Sprintf("UNKNOWN(%#x)", byte(t))
	}
}

// ServiceIdentifier is the kind of socket a CHIRP message advertises or requests.
type ServiceIdentifier byte

const (
	ServiceAny        ServiceIdentifier = 0x00
	ServiceControl    ServiceIdentifier = 0x01
	ServiceHeartbeat  ServiceIdentifier = 0x02
	ServiceMonitoring ServiceIdentifier = 0x03
	ServiceData       ServiceIdentifier = 0x04
)

func (s ServiceIdentifier) String() string {
	switch s {
	case ServiceAny:
		return "ANY"
	case ServiceControl:
		return "CONTROL"
	case ServiceHeartbeat:
		return "HEARTBEAT"
	case ServiceMonitoring:
		return "MONITORING"
	case ServiceData:
		return "DATA"
	default:
		return fmt.Sprintf("UNKNOWN(%#x)", byte(s))
	}
}

func parseServiceIdentifier(b byte) (ServiceIdentifier, bool) {
	switch ServiceIdentifier(b) {
	case ServiceAny, ServiceControl, ServiceHeartbeat, ServiceMonitoring, ServiceData:
		return ServiceIdentifier(b), true
	default:
		return 0, false
	}
}

func parseMessageType(b byte) (MessageType, bool) {
	switch MessageType(b) {
	case MessageRequest, MessageOffer, MessageDepart:
		return MessageType(b), true
	default:
		return 0, false
	}
}

// GroupID is the MD5 digest of a group name.
type GroupID [md5.Size]byte

// HostID is the MD5 digest of a host name.
type HostID [md5.Size]byte

// GroupIDOf hashes a group name.
func GroupIDOf(name string) GroupID { return GroupID(md5.Sum([]byte(name))) }

// HostIDOf hashes a host name.
func HostIDOf(name string) HostID { return HostID(md5.Sum([]byte(name))) }

// Message is a decoded CHIRP datagram.
type Message struct {
	GroupName string
	HostName  string
	Type      MessageType
	Service   ServiceIdentifier
	Port      uint16
}

// Encode packs m into its wire form: "CHIRP2", group name, host name, type
// byte, service byte, port. Strings are length-prefixed with a
// single byte, matching the original implementation's compact framing; this
// module's own Dictionary codec is not used for CHIRP since CHIRP predates
// and is independent of the self-describing payload format used by every
// other protocol.
func (m Message) Encode() ([]byte, error) {
	return encodeMessage(m)
}

func encodeMessage(m Message) ([]byte, error) {
	if len(m.GroupName) > 255 || len(m.HostName) > 255 {
		return nil, protocol.NewMalformedPayloadError(protocol.TagCHIRP2, "group/host name exceeds 255 bytes", nil)
	}
	out := make([]byte, 0, 6+1+len(protocolID)+1+len(m.GroupName)+1+len(m.HostName)+2)
	out = append(out, byte(len(protocolID)))
	out = append(out, protocolID...)
	out = append(out, byte(len(m.GroupName)))
	out = append(out, m.GroupName...)
	out = append(out, byte(len(m.HostName)))
	out = append(out, m.HostName...)
	out = append(out, byte(m.Type))
	out = append(out, byte(m.Service))
	var portBuf [2]byte
	binary.BigEndian.PutUint16(portBuf[:], m.Port)
	out = append(out, portBuf[:]...)
	return out, nil
}

const protocolID = protocol.TagCHIRP2

// Decode unpacks a CHIRP datagram. It returns MalformedPayloadError for any
// structural violation, including an unrecognised message type or service
// identifier.
func Decode(b []byte) (Message, error) {
	if len(b) > 1024 {
		return Message{}, protocol.NewMalformedPayloadError(protocol.TagCHIRP2, "datagram exceeds 1024 bytes", nil)
	}
	r := &reader{buf: b}

	idLen, err := r.byte()
	if err != nil {
		return Message{}, protocol.NewMalformedPayloadError(protocol.TagCHIRP2, "truncated protocol id length", err)
	}
	id, err := r.take(int(idLen))
	if err != nil {
		return Message{}, protocol.NewMalformedPayloadError(protocol.TagCHIRP2, "truncated protocol id", err)
	}
	if string(id) != protocolID {
		return Message{}, protocol.NewInvalidProtocolTagError(protocolID, string(id))
	}

	groupLen, err := r.byte()
	if err != nil {
		return Message{}, protocol.NewMalformedPayloadError(protocol.TagCHIRP2, "truncated group length", err)
	}
	group, err := r.take(int(groupLen))
	if err != nil {
		return Message{}, protocol.NewMalformedPayloadError(protocol.TagCHIRP2, "truncated group name", err)
	}

	hostLen, err := r.byte()
	if err != nil {
		return Message{}, protocol.NewMalformedPayloadError(protocol.TagCHIRP2, "truncated host length", err)
	}
	host, err := r.take(int(hostLen))
	if err != nil {
		return Message{}, protocol.NewMalformedPayloadError(protocol.TagCHIRP2, "truncated host name", err)
	}

	typeByte, err := r.byte()
	if err != nil {
		return Message{}, protocol.NewMalformedPayloadError(protocol.TagCHIRP2, "truncated message type", err)
	}
	msgType, ok := parseMessageType(typeByte)
	if !ok {
		return Message{}, protocol.NewMalformedPayloadError(protocol.TagCHIRP2, fmt.Sprintf("unknown message type %#x", typeByte), nil)
	}

	serviceByte, err := r.byte()
	if err != nil {
		return Message{}, protocol.NewMalformedPayloadError(protocol.TagCHIRP2, "truncated service identifier", err)
	}
	service, ok := parseServiceIdentifier(serviceByte)
	if !ok {
		return Message{}, protocol.NewMalformedPayloadError(protocol.TagCHIRP2, fmt.Sprintf("unknown service identifier %#x", serviceByte), nil)
	}
	if service == ServiceAny && msgType != MessageRequest {
		return Message{}, protocol.NewMalformedPayloadError(protocol.TagCHIRP2, "ANY service identifier is only legal in REQUEST", nil)
	}

	portBytes, err := r.take(2)
	if err != nil {
		return Message{}, protocol.NewMalformedPayloadError(protocol.TagCHIRP2, "truncated port", err)
	}

	return Message{
		GroupName: string(group),
		HostName:  string(host),
		Type:      msgType,
		Service:   service,
		Port:      binary.BigEndian.Uint16(portBytes),
	}, nil
}

type reader struct {
	buf []byte
	pos int
}

func (r *reader) byte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, fmt.Errorf("unexpected end of datagram")
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) take(n int) ([]byte, error) {
	if r.pos+n > len(r.buf) {
		return nil, fmt.Errorf("unexpected end of datagram")
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}
