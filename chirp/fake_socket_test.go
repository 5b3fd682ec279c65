package chirp

import (
	"net"
	"time"
)

// pipeSocket is an in-memory Socket: Send on one end appears on Recv of its
// peer. Used to test the Listener/Manager without opening a real UDP socket.
type pipeSocket struct {
	peer    *pipeSocket
	inbound chan []byte
	addr    *net.UDPAddr
}

func newPipePair() (*pipeSocket, *pipeSocket) {
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
		return 0, nil, &timeoutError{}
	}
}

type timeoutError struct{}

func (*timeoutError) Error() string   { return "i/o timeout" }
func (*timeoutError) Timeout() bool   { return true }
func (*timeoutError) Temporary() bool { return true }
