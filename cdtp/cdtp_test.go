package cdtp

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/constellation-daq/constellation-core/chirp"
	"github.com/constellation-daq/constellation-core/config"
	"github.com/constellation-daq/constellation-core/dictionary"
)

func TestMessageRoundTrip(t *testing.T) {
	msg := Message{Sender: "producer", Type: TypeDATA, Sequence: 7, Payloads: [][]byte{[]byte("\x01\x02")}}
	frames, err := encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := decode(frames)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Sender != msg.Sender || got.Type != msg.Type || got.Sequence != msg.Sequence || len(got.Payloads) != 1 {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, msg)
	}
}

// pipeSocket is an in-memory chirp.Socket: Send on one end appears on Recv
// of its peer. Mirrors chirp's own unexported test fake, reimplemented here
// since it lives in a _test.go file in another package.
type pipeSocket struct {
	peer    *pipeSocket
	inbound chan []byte
	addr    *net.UDPAddr
}

func newPipeSocketPair() (*pipeSocket, *pipeSocket) {
	a := &pipeSocket{inbound: make(chan []byte, 16), addr: &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1}}
	b := &pipeSocket{inbound: make(chan []byte, 16), addr: &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 2}}
	a.peer, b.peer = b, a
	return a, b
}

func (p *pipeSocket) Send(payload []byte) error {
	cp := append([]byte(nil), payload...)
	p.peer.inbound <- cp
	return nil
}

func (p *pipeSocket) SetDeadline(t time.Time) error { return nil }

func (p *pipeSocket) Recv(buf []byte) (int, *net.UDPAddr, error) {
	select {
	case b := <-p.inbound:
		n := copy(buf, b)
		return n, p.addr, nil
	case <-time.After(200 * time.Millisecond):
		return 0, nil, &pipeTimeoutError{}
	}
}

type pipeTimeoutError struct{}

func (*pipeTimeoutError) Error() string   { return "i/o timeout" }
func (*pipeTimeoutError) Timeout() bool   { return true }
func (*pipeTimeoutError) Temporary() bool { return true }

func TestSenderReceiverBORDataEORSequence(t *testing.T) {
	sender, err := NewSender("127.0.0.1", "producer", nil)
	if err != nil {
		t.Fatalf("NewSender: %v", err)
	}
	defer sender.Close()

	acceptErr := make(chan error, 1)
	go func() { acceptErr <- sender.AcceptReceiver(2 * time.Second) }()

	recv := NewReceiver("producer", nil)
	addr := "127.0.0.1:" + strconv.Itoa(sender.Port())

	cfg := config.New()
	cfg.Set("sensor", dictionary.NewString("tlu"))

	starting := make(chan error, 1)
	go func() { starting <- sender.Starting(cfg, DefaultBORTimeout) }()

	if err := <-acceptErr; err != nil {
		t.Fatalf("AcceptReceiver: %v", err)
	}

	bor, err := recv.Starting(addr, DefaultBORTimeout)
	if err != nil {
		t.Fatalf("receiver Starting: %v", err)
	}
	if err := <-starting; err != nil {
		t.Fatalf("sender Starting: %v", err)
	}
	sensor, _ := bor.Get("sensor")
	if s, _ := sensor.AsString(); s != "tlu" {
		t.Fatalf("expected sensor=tlu in BOR, got %v", sensor)
	}

	payloads := [][]byte{[]byte{0x01}, []byte{0x02}, []byte{0x03}}
	for _, p := range payloads {
		if err := sender.SendData([][]byte{p}, time.Second); err != nil {
			t.Fatalf("SendData: %v", err)
		}
		msg, err := recv.RecvData(time.Second)
		if err != nil {
			t.Fatalf("RecvData: %v", err)
		}
		if msg.Type != TypeDATA || len(msg.Payloads) != 1 || msg.Payloads[0][0] != p[0] {
			t.Fatalf("unexpected DATA message: %+v", msg)
		}
	}

	meta := dictionary.New()
	meta.Set("events", dictionary.NewInt(3))
	eorErr := make(chan error, 1)
	go func() { eorErr <- sender.Stopping(meta, DefaultEORTimeout) }()

	recv.Stopping()
	msg, err := recv.RecvData(time.Second)
	if err != nil {
		t.Fatalf("RecvData EOR: %v", err)
	}
	if msg.Type != TypeEOR {
		t.Fatalf("expected EOR, got %s", msg.Type)
	}
	if err := <-eorErr; err != nil {
		t.Fatalf("sender Stopping: %v", err)
	}

	if !recv.GotEOR() {
		t.Fatal("expected GotEOR true")
	}
	eor, err := recv.GetEOR()
	if err != nil {
		t.Fatalf("GetEOR: %v", err)
	}
	events, _ := eor.Get("events")
	n, _ := events.AsInt()
	if n != 3 {
		t.Fatalf("expected events=3, got %d", n)
	}
}

func TestReceiverRecvDataToleratesSequenceGap(t *testing.T) {
	sender, err := NewSender("127.0.0.1", "producer", nil)
	if err != nil {
		t.Fatalf("NewSender: %v", err)
	}
	defer sender.Close()

	acceptErr := make(chan error, 1)
	go func() { acceptErr <- sender.AcceptReceiver(2 * time.Second) }()

	recv := NewReceiver("producer", nil)
	addr := "127.0.0.1:" + strconv.Itoa(sender.Port())

	startErr := make(chan error, 1)
	go func() { startErr <- sender.Starting(config.New(), DefaultBORTimeout) }()
	if err := <-acceptErr; err != nil {
		t.Fatalf("AcceptReceiver: %v", err)
	}
	if _, err := recv.Starting(addr, DefaultBORTimeout); err != nil {
		t.Fatalf("receiver Starting: %v", err)
	}
	if err := <-startErr; err != nil {
		t.Fatalf("sender Starting: %v", err)
	}

	if err := sender.SendData([][]byte{{0x01}}, time.Second); err != nil {
		t.Fatalf("SendData 1: %v", err)
	}
	if _, err := recv.RecvData(time.Second); err != nil {
		t.Fatalf("RecvData 1: %v", err)
	}
	// Skip a sequence number by sending directly rather than via SendData,
	// simulating a dropped message: the receiver must still surface it.
	sender.mu.Lock()
	sender.seq += 2
	msg := Message{Sender: sender.name, Type: TypeDATA, Sequence: sender.seq, Payloads: [][]byte{{0x03}}}
	sendErr := sender.send(msg, time.Second)
	sender.mu.Unlock()
	if sendErr != nil {
		t.Fatalf("send: %v", sendErr)
	}
	got, err := recv.RecvData(time.Second)
	if err != nil {
		t.Fatalf("RecvData after gap: %v", err)
	}
	if got.Sequence != msg.Sequence {
		t.Fatalf("expected sequence %d surfaced despite gap, got %d", msg.Sequence, got.Sequence)
	}
}

func TestSenderStartingRejectsWhenAlreadyInRun(t *testing.T) {
	sender, err := NewSender("127.0.0.1", "producer", nil)
	if err != nil {
		t.Fatalf("NewSender: %v", err)
	}
	defer sender.Close()

	acceptErr := make(chan error, 1)
	go func() { acceptErr <- sender.AcceptReceiver(2 * time.Second) }()
	recv := NewReceiver("producer", nil)
	addr := "127.0.0.1:" + strconv.Itoa(sender.Port())

	startErr := make(chan error, 1)
	go func() { startErr <- sender.Starting(config.New(), DefaultBORTimeout) }()
	if err := <-acceptErr; err != nil {
		t.Fatalf("AcceptReceiver: %v", err)
	}
	if _, err := recv.Starting(addr, DefaultBORTimeout); err != nil {
		t.Fatalf("receiver Starting: %v", err)
	}
	if err := <-startErr; err != nil {
		t.Fatalf("sender Starting: %v", err)
	}

	if err := sender.Starting(config.New(), DefaultBORTimeout); err == nil {
		t.Fatal("expected error starting a second BOR while IN_RUN")
	}
}

func TestReceiverLaunchingTimesOutWithoutDiscovery(t *testing.T) {
	a, b := newPipeSocketPair()
	_ = a
	listener := chirp.NewListener(b, "group", "", nil)
	go listener.Run()
	defer listener.Stop()

	recv := NewReceiver("producer", nil)
	_, err := recv.Launching(listener, 150*time.Millisecond)
	if err == nil {
		t.Fatal("expected ChirpTimeoutError")
	}
	if _, ok := err.(*ChirpTimeoutError); !ok {
		t.Fatalf("expected *ChirpTimeoutError, got %T", err)
	}
}

func TestReceiverLaunchingFindsAdvertisedDataService(t *testing.T) {
	mgrSock, listenSock := newPipeSocketPair()
	mgr := chirp.NewManager(mgrSock, "group", "producer", nil)
	listener := chirp.NewListener(listenSock, "group", "", nil)
	go listener.Run()
	defer listener.Stop()

	if err := mgr.RegisterService(chirp.ServiceData, 9999); err != nil {
		t.Fatalf("RegisterService: %v", err)
	}

	recv := NewReceiver("producer", nil)
	svc, err := recv.Launching(listener, 2*time.Second)
	if err != nil {
		t.Fatalf("Launching: %v", err)
	}
	if svc.HostName != "producer" || svc.Service != chirp.ServiceData || svc.Port != 9999 {
		t.Fatalf("unexpected service descriptor: %+v", svc)
	}
}
