package subscriberpool

import (
	"net"
	"testing"
	"time"

	"github.com/constellation-daq/constellation-core/chirp"
	"github.com/constellation-daq/constellation-core/protocol"
)

type fakeMsg struct{ body string }

func decodeFake(frames [][]byte) (fakeMsg, error) {
	if len(frames) != 1 {
		return fakeMsg{}, protocol.NewMalformedPayloadError("fake", "expected 1 frame", nil)
	}
	return fakeMsg{body: string(frames[0])}, nil
}

func listenLoopback(t *testing.T) (net.Listener, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return ln, ln.Addr().(*net.TCPAddr).Port
}

func offerDescriptor(port int) chirp.ServiceDescriptor {
	return chirp.ServiceDescriptor{
		GroupName: "grp",
		HostName:  "remote1",
		Service:   chirp.ServiceMonitoring,
		Port:      uint16(port),
		IPv4:      [4]byte{127, 0, 0, 1},
	}
}

func TestPoolConnectsOnOfferAndDeliversMessages(t *testing.T) {
	ln, port := listenLoopback(t)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	received := make(chan fakeMsg, 1)
	pool := New[fakeMsg](chirp.ServiceMonitoring, decodeFake, func(host string, msg fakeMsg) {
		received <- msg
	}, nil)
	defer pool.Stop()

	pool.HandleDiscovery(chirp.MessageOffer, offerDescriptor(port))

	var conn net.Conn
	select {
	case conn = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("pool never connected to the offered service")
	}
	defer conn.Close()

	if err := protocol.WriteMultipart(conn, [][]byte{[]byte("hello")}); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case msg := <-received:
		if msg.body != "hello" {
			t.Fatalf("unexpected body: %q", msg.body)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler never received the message")
	}
}

func TestPoolSubscribeSendsFrameToConnectedSockets(t *testing.T) {
	ln, port := listenLoopback(t)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	pool := New[fakeMsg](chirp.ServiceMonitoring, decodeFake, func(string, fakeMsg) {}, nil)
	defer pool.Stop()

	pool.HandleDiscovery(chirp.MessageOffer, offerDescriptor(port))

	var conn net.Conn
	select {
	case conn = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("pool never connected")
	}
	defer conn.Close()

	pool.Subscribe("LOG/INFO")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	frames, err := protocol.ReadMultipart(conn)
	if err != nil {
		t.Fatalf("expected a subscription frame: %v", err)
	}
	if len(frames) != 1 || frames[0][0] != 0x01 || string(frames[0][1:]) != "LOG/INFO" {
		t.Fatalf("unexpected subscription frame: %v", frames)
	}
}

func TestPoolDisconnectsOnDepart(t *testing.T) {
	ln, port := listenLoopback(t)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	pool := New[fakeMsg](chirp.ServiceMonitoring, decodeFake, func(string, fakeMsg) {}, nil)
	defer pool.Stop()

	svc := offerDescriptor(port)
	pool.HandleDiscovery(chirp.MessageOffer, svc)

	var conn net.Conn
	select {
	case conn = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("pool never connected")
	}
	defer conn.Close()

	pool.HandleDiscovery(chirp.MessageDepart, svc)

	if hosts := pool.Hosts(); len(hosts) != 0 {
		t.Fatalf("expected no hosts after depart, got %v", hosts)
	}
}

func TestRemoveExtraSubscriptionsUnsubscribesOnlyTopicsNotGlobal(t *testing.T) {
	ln, port := listenLoopback(t)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	pool := New[fakeMsg](chirp.ServiceMonitoring, decodeFake, func(string, fakeMsg) {}, nil)
	defer pool.Stop()

	svc := offerDescriptor(port)
	pool.HandleDiscovery(chirp.MessageOffer, svc)

	var conn net.Conn
	select {
	case conn = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("pool never connected")
	}
	defer conn.Close()

	readFrame := func() [][]byte {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		frames, err := protocol.ReadMultipart(conn)
		if err != nil {
			t.Fatalf("expected a subscription frame: %v", err)
		}
		return frames
	}

	pool.Subscribe("GLOBAL/A")
	readFrame() // subscribe GLOBAL/A

	pool.SubscribeExtra(svc.HostName, "EXTRA/B")
	readFrame() // subscribe EXTRA/B

	pool.SubscribeExtra(svc.HostName, "GLOBAL/A")
	readFrame() // subscribe GLOBAL/A again, now also tracked as an extra

	pool.RemoveExtraSubscriptions(svc.HostName)

	frames := readFrame()
	if frames[0][0] != 0x00 || string(frames[0][1:]) != "EXTRA/B" {
		t.Fatalf("expected an unsubscribe frame for EXTRA/B, got %v", frames)
	}

	conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, err := protocol.ReadMultipart(conn); err == nil {
		t.Fatal("expected no further unsubscribe frame for a topic still covered by the global set")
	}
}
