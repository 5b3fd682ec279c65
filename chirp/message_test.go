package chirp

import "testing"

func TestMessageRoundTrip(t *testing.T) {
	cases := []Message{
		{GroupName: "g1", HostName: "sat1", Type: MessageOffer, Service: ServiceControl, Port: 5555},
		{GroupName: "g1", HostName: "ctrl1", Type: MessageRequest, Service: ServiceAny, Port: 0},
		{GroupName: "g1", HostName: "sat1", Type: MessageDepart, Service: ServiceData, Port: 9090},
	}
	for _, m := range cases {
		b, err := m.Encode()
		if err != nil {
			t.Fatalf("encode %+v: %v", m, err)
		}
		got, err := Decode(b)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got != m {
			t.Errorf("round trip mismatch: got %+v, want %+v", got, m)
		}
	}
}

func TestDecodeRejectsUnknownMessageType(t *testing.T) {
	m := Message{GroupName: "g", HostName: "h", Type: MessageOffer, Service: ServiceControl, Port: 1}
	b, _ := m.Encode()
	b[1+len(protocolID)+1+len(m.GroupName)+1+len(m.HostName)] = 0xEE // corrupt type byte
	if _, err := Decode(b); err == nil {
		t.Fatal("expected decode error for unknown message type")
	}
}

func TestDecodeRejectsAnyOutsideRequest(t *testing.T) {
	m := Message{GroupName: "g", HostName: "h", Type: MessageOffer, Service: ServiceAny, Port: 1}
	b, err := m.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := Decode(b); err == nil {
		t.Fatal("expected decode error for ANY service identifier outside REQUEST")
	}
}

func TestGroupAndHostIDsAreDeterministic(t *testing.T) {
	if GroupIDOf("g1") != GroupIDOf("g1") {
		t.Fatal("expected stable group id hash")
	}
	if HostIDOf("h1") == HostIDOf("h2") {
		t.Fatal("expected distinct host ids for distinct names")
	}
}
