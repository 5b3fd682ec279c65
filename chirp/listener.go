package chirp

import (
	"net"
	"sync"
	"time"

	"github.com/constellation-daq/constellation-core/logging"
	"github.com/constellation-daq/constellation-core/obsv"
)

// recvTimeout is the Listener's blocking-recv timeout.
const recvTimeout = 50 * time.Millisecond

// Socket is the subset of networking.MulticastSocket the Listener and
// Manager need; an interface so tests can substitute an in-memory fake
// instead of opening a real multicast socket.
type Socket interface {
	Send(payload []byte) error
	SetDeadline(t time.Time) error
	Recv(buf []byte) (int, *net.UDPAddr, error)
}

// RequestCallback handles an inbound REQUEST for the given service
// identifier. It receives the shared socket so it may reply with an OFFER.
type RequestCallback func(service ServiceIdentifier, sock Socket)

// DiscoveryCallback handles an OFFER or DEPART for svc.
type DiscoveryCallback func(kind MessageType, svc ServiceDescriptor)

// Listener runs the CHIRP receive loop: decoding inbound datagrams, filtering
// by group and self-host, and dispatching REQUEST/OFFER/DEPART to registered
// callbacks.
type Listener struct {
	sock      Socket
	groupName string
	selfHost  string
	logger    logging.Logger

	mu                 sync.Mutex
	requestCallbacks   []RequestCallback
	discoveryCallbacks []DiscoveryCallback
	discovered         map[ServiceDescriptor]struct{}

	stop chan struct{}
	done chan struct{}
}

// NewListener builds a Listener bound to sock, filtering to groupName and
// (if non-empty) dropping datagrams whose host name equals selfHost.
func NewListener(sock Socket, groupName, selfHost string, logger logging.Logger) *Listener {
	if logger == nil {
		logger = logging.Noop()
	}
	return &Listener{
		sock:       sock,
		groupName:  groupName,
		selfHost:   selfHost,
		logger:     logging.Named(logger, "chirp.listener"),
		discovered: make(map[ServiceDescriptor]struct{}),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// OnRequest registers a REQUEST callback, invoked in its own goroutine per datagram.
func (l *Listener) OnRequest(cb RequestCallback) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.requestCallbacks = append(l.requestCallbacks, cb)
}

// OnDiscovery registers an OFFER/DEPART callback.
func (l *Listener) OnDiscovery(cb DiscoveryCallback) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.discoveryCallbacks = append(l.discoveryCallbacks, cb)
}

// Discovered returns a snapshot of currently known services.
func (l *Listener) Discovered() []ServiceDescriptor {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ServiceDescriptor, 0, len(l.discovered))
	for svc := range l.discovered {
		out = append(out, svc)
	}
	return out
}

// MarkDead drops all discovered services whose host matches hostName. A
// later OFFER may re-introduce them.
func (l *Listener) MarkDead(hostName string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for svc := range l.discovered {
		if svc.HostName == hostName {
			delete(l.discovered, svc)
		}
	}
}

// Run blocks, servicing the receive loop until Stop is called.
func (l *Listener) Run() {
	defer close(l.done)
	buf := make([]byte, 1500)
	for {
		select {
		case <-l.stop:
			return
		default:
		}
		if err := l.sock.SetDeadline(time.Now().Add(recvTimeout)); err != nil {
			l.logger.Error("set recv deadline", "error", err)
			return
		}
		n, addr, err := l.sock.Recv(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			select {
			case <-l.stop:
				return
			default:
			}
			l.logger.Warn("recv failed", "error", err)
			continue
		}
		l.handle(buf[:n], addr)
	}
}

// Stop signals the receive loop to exit and waits for it to return.
func (l *Listener) Stop() {
	select {
	case <-l.stop:
	default:
		close(l.stop)
	}
	<-l.done
}

func (l *Listener) handle(datagram []byte, addr *net.UDPAddr) {
	msg, err := Decode(datagram)
	if err != nil {
		l.logger.Warn("dropping malformed datagram", "error", err)
		obsv.RecordChirpDropped("malformed")
		return
	}
	if msg.GroupName != l.groupName {
		obsv.RecordChirpDropped("group_mismatch")
		return
	}
	if l.selfHost != "" && msg.HostName == l.selfHost {
		return
	}

	switch msg.Type {
	case MessageRequest:
		l.mu.Lock()
		callbacks := append([]RequestCallback(nil), l.requestCallbacks...)
		l.mu.Unlock()
		for _, cb := range callbacks {
			go cb(msg.Service, l.sock)
		}
	case MessageOffer, MessageDepart:
		svc := NewServiceDescriptor(msg.GroupName, msg.HostName, msg.Service, msg.Port, addr)
		l.dispatchDiscovery(msg.Type, svc)
	}
}

func (l *Listener) dispatchDiscovery(kind MessageType, svc ServiceDescriptor) {
	l.mu.Lock()
	var fire bool
	switch kind {
	case MessageOffer:
		if _, known := l.discovered[svc]; !known {
			l.discovered[svc] = struct{}{}
			fire = true
		}
	case MessageDepart:
		if _, known := l.discovered[svc]; known {
			delete(l.discovered, svc)
			fire = true
		}
	}
	count := len(l.discovered)
	callbacks := append([]DiscoveryCallback(nil), l.discoveryCallbacks...)
	l.mu.Unlock()

	if !fire {
		return
	}
	obsv.SetChirpServicesDiscovered(svc.Service.String(), count)
	// Callbacks run synchronously on the receive loop's own goroutine, not
	// in per-event goroutines: that's what guarantees a host's OFFER
	// callback completes before its later DEPART callback starts.
	for _, cb := range callbacks {
		cb(kind, svc)
	}
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	te, ok := err.(timeouter)
	return ok && te.Timeout()
}
