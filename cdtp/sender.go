package cdtp

import (
	"net"
	"sync"
	"time"

	"github.com/constellation-daq/constellation-core/config"
	"github.com/constellation-daq/constellation-core/dictionary"
	"github.com/constellation-daq/constellation-core/logging"
	"github.com/constellation-daq/constellation-core/obsv"
	"github.com/constellation-daq/constellation-core/protocol"
)

// SenderState is the sender's BEFORE_BOR <-> IN_RUN cycle.
type SenderState int

const (
	SenderBeforeBOR SenderState = iota
	SenderInRun
)

// DefaultBORTimeout and DefaultEORTimeout are the sender's default send
// timeouts.
const (
	DefaultBORTimeout = 10 * time.Second
	DefaultEORTimeout = 10 * time.Second
)

// Sender is the CDTP push side: it accepts exactly one receiver connection
// and streams BOR, then DATA messages, then EOR.
type Sender struct {
	name     string
	listener net.Listener
	port     int
	logger   logging.Logger

	mu    sync.Mutex
	state SenderState
	seq   uint64
	conn  net.Conn
}

// NewSender binds an ephemeral port, advertised as DATA via CHIRP.
func NewSender(host, name string, logger logging.Logger) (*Sender, error) {
	ln, port, err := protocol.BindEphemeral(host)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Noop()
	}
	return &Sender{name: name, listener: ln, port: port, logger: logging.Named(logger, "cdtp.sender")}, nil
}

// Port returns the bound ephemeral TCP port.
func (s *Sender) Port() int { return s.port }

// AcceptReceiver blocks until the one receiver connects, or acceptTimeout elapses.
func (s *Sender) AcceptReceiver(acceptTimeout time.Duration) error {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := s.listener.Accept()
		ch <- result{conn, err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			return r.err
		}
		s.mu.Lock()
		s.conn = r.conn
		s.mu.Unlock()
		return nil
	case <-time.After(acceptTimeout):
		return NewSendTimeoutError("accept")
	}
}

// Starting requires BEFORE_BOR, resets seq to 0, and sends a BOR message
// carrying cfg.GetAll(): every key not starting with "_", whether or not it
// has been read through a typed getter (keys are not filtered to the used
// ones). Exceeding borTimeout yields SendTimeoutError.
func (s *Sender) Starting(cfg *config.Configuration, borTimeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SenderBeforeBOR {
		return NewInvalidMessageTypeError(string(TypeBOR), "already IN_RUN")
	}
	s.seq = 0

	payload, err := dictionary.EncodeDictionary(cfg.GetAll())
	if err != nil {
		return err
	}
	if err := s.send(Message{Sender: s.name, Type: TypeBOR, Sequence: 0, Payloads: [][]byte{payload}}, borTimeout); err != nil {
		return err
	}
	s.state = SenderInRun
	return nil
}

// SendData requires IN_RUN, increments the sequence, and sends frames as one
// DATA message.
func (s *Sender) SendData(frames [][]byte, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SenderInRun {
		return NewInvalidMessageTypeError(string(TypeDATA), "not IN_RUN")
	}
	s.seq++
	return s.send(Message{Sender: s.name, Type: TypeDATA, Sequence: s.seq, Payloads: frames}, timeout)
}

// Stopping requires IN_RUN, sends an EOR message with the given run
// metadata and the next sequence number, and returns to BEFORE_BOR. Exceeding eorTimeout yields
// SendTimeoutError.
func (s *Sender) Stopping(metadata *dictionary.Dictionary, eorTimeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SenderInRun {
		return NewInvalidMessageTypeError(string(TypeEOR), "not IN_RUN")
	}
	payload, err := dictionary.EncodeDictionary(metadata)
	if err != nil {
		return err
	}
	s.seq++
	if err := s.send(Message{Sender: s.name, Type: TypeEOR, Sequence: s.seq, Payloads: [][]byte{payload}}, eorTimeout); err != nil {
		return err
	}
	s.state = SenderBeforeBOR
	return nil
}

// send encodes and writes msg under timeout, translating a write deadline
// expiry to SendTimeoutError. Caller must hold s.mu.
func (s *Sender) send(msg Message, timeout time.Duration) error {
	frames, err := encode(msg)
	if err != nil {
		return err
	}
	if s.conn == nil {
		return NewSendTimeoutError(string(msg.Type))
	}
	s.conn.SetWriteDeadline(time.Now().Add(timeout))
	if err := protocol.WriteMultipart(s.conn, frames); err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return NewSendTimeoutError(string(msg.Type))
		}
		return err
	}
	obsv.RecordCDTPMessage("send", string(msg.Type), framesLen(msg.Payloads))
	return nil
}

func framesLen(frames [][]byte) int {
	n := 0
	for _, f := range frames {
		n += len(f)
	}
	return n
}

// Close closes the listener and any connected receiver.
func (s *Sender) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	return s.listener.Close()
}
