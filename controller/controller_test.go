package controller

import (
	"net"
	"testing"
	"time"

	"github.com/constellation-daq/constellation-core/chirp"
	"github.com/constellation-daq/constellation-core/cmdp"
	"github.com/constellation-daq/constellation-core/cscp"
	"github.com/constellation-daq/constellation-core/fsm"
)

// inertSocket satisfies chirp.Socket without ever producing a datagram; this
// test drives discovery directly rather than through a real multicast Listener.Run().
type inertSocket struct{}

func (inertSocket) Send([]byte) error                             { return nil }
func (inertSocket) SetDeadline(time.Time) error                    { return nil }
func (inertSocket) Recv([]byte) (int, *net.UDPAddr, error) {
	return 0, nil, &timeoutError{}
}

type timeoutError struct{}

func (*timeoutError) Error() string   { return "timeout" }
func (*timeoutError) Timeout() bool   { return true }
func (*timeoutError) Temporary() bool { return true }

func startSatelliteServer(t *testing.T) (*cscp.Server, *fsm.Machine) {
	t.Helper()
	machine := fsm.New(fsm.NoopHooks{}, nil)
	dispatcher := &cscp.Dispatcher{Name: "tlu1", Version: "1.0", Machine: machine, Registry: cscp.NewRegistry()}
	server, err := cscp.NewServer("127.0.0.1", "tlu1", dispatcher, nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	go server.Serve()
	return server, machine
}

func TestControllerDialsDiscoveredSatelliteAndDrivesItsFSM(t *testing.T) {
	server, machine := startSatelliteServer(t)
	defer server.Stop()

	listener := chirp.NewListener(inertSocket{}, "grp", "", nil)
	c := New(listener, "ctrl", func(string, cmdp.Message) {}, nil)
	defer c.Stop()

	svc := chirp.ServiceDescriptor{GroupName: "grp", HostName: "tlu1", Service: chirp.ServiceControl, Port: uint16(server.Port()), IPv4: [4]byte{127, 0, 0, 1}}
	c.handleDiscovery(chirp.MessageOffer, svc)

	if got := c.Satellites(); len(got) != 1 || got[0] != "tlu1" {
		t.Fatalf("expected [tlu1], got %v", got)
	}

	reply, err := c.Call("tlu1", "initialize", nil, 2*time.Second)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if reply.Type != cscp.ReplySuccess {
		t.Fatalf("expected SUCCESS, got %+v", reply)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if machine.State() == fsm.StateInit {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("expected INIT, got %s", machine.State())
}

func TestControllerDepartRemovesSatellite(t *testing.T) {
	server, _ := startSatelliteServer(t)
	defer server.Stop()

	listener := chirp.NewListener(inertSocket{}, "grp", "", nil)
	c := New(listener, "ctrl", func(string, cmdp.Message) {}, nil)
	defer c.Stop()

	svc := chirp.ServiceDescriptor{GroupName: "grp", HostName: "tlu1", Service: chirp.ServiceControl, Port: uint16(server.Port()), IPv4: [4]byte{127, 0, 0, 1}}
	c.handleDiscovery(chirp.MessageOffer, svc)
	c.handleDiscovery(chirp.MessageDepart, svc)

	if got := c.Satellites(); len(got) != 0 {
		t.Fatalf("expected no satellites after depart, got %v", got)
	}
}
