package cscp

import (
	"strconv"
	"testing"
	"time"

	"github.com/constellation-daq/constellation-core/dictionary"
	"github.com/constellation-daq/constellation-core/fsm"
)

func startTestServer(t *testing.T) (*Server, *fsm.Machine) {
	t.Helper()
	m := fsm.New(noopHooks{}, nil)
	d := &Dispatcher{Name: "sat1", Version: "0.1.0", Machine: m, Registry: NewRegistry()}
	srv, err := NewServer("127.0.0.1", "sat1", d, nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	go srv.Serve()
	t.Cleanup(srv.Stop)
	return srv, m
}

func TestServerRoundTripGetState(t *testing.T) {
	srv, _ := startTestServer(t)

	client, err := Dial("127.0.0.1:"+strconv.Itoa(srv.Port()), "ctrl1", time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	reply, err := client.Call("get_state", nil, time.Second)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if reply.Type != ReplySuccess {
		t.Fatalf("expected SUCCESS, got %s", reply.Type)
	}
	v, err := dictionary.DecodeValue(reply.Payload)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if s, _ := v.AsString(); s != string(fsm.StateNew) {
		t.Fatalf("expected NEW, got %q", s)
	}
}

func TestServerRoundTripUnknownVerb(t *testing.T) {
	srv, _ := startTestServer(t)

	client, err := Dial("127.0.0.1:"+strconv.Itoa(srv.Port()), "ctrl1", time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	reply, err := client.Call("not_a_verb", nil, time.Second)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if reply.Type != ReplyUnknown {
		t.Fatalf("expected UNKNOWN, got %s", reply.Type)
	}
}

func TestServerSequentialRepliesMatchRequestOrder(t *testing.T) {
	srv, _ := startTestServer(t)

	client, err := Dial("127.0.0.1:"+strconv.Itoa(srv.Port()), "ctrl1", time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	for i := 0; i < 5; i++ {
		reply, err := client.Call("get_name", nil, time.Second)
		if err != nil {
			t.Fatalf("Call %d: %v", i, err)
		}
		if reply.Type != ReplySuccess {
			t.Fatalf("Call %d: expected SUCCESS, got %s", i, reply.Type)
		}
	}
}
