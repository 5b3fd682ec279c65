package chp

import (
	"net"
	"testing"
	"time"

	"github.com/constellation-daq/constellation-core/chirp"
	"github.com/constellation-daq/constellation-core/protocol"
)

func TestSubscriberForwardsHeartbeatsFromDiscoveredSender(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	mgr := NewManager(0, nil, nil)
	sub := NewSubscriber(mgr, nil)
	defer sub.Stop()

	svc := chirp.ServiceDescriptor{GroupName: "g", HostName: "sender1", Service: chirp.ServiceHeartbeat, Port: uint16(port), IPv4: [4]byte{127, 0, 0, 1}}
	sub.HandleDiscovery(chirp.MessageOffer, svc)

	var conn net.Conn
	select {
	case conn = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber never connected")
	}
	defer conn.Close()

	msg := Message{Sender: "sender1", State: "RUN", Interval: time.Second}
	frames, err := msg.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := protocol.WriteMultipart(conn, frames); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := mgr.GetRemoteState("sender1"); ok {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("manager never observed the heartbeat")
}
