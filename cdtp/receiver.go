package cdtp

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/constellation-daq/constellation-core/chirp"
	"github.com/constellation-daq/constellation-core/dictionary"
	"github.com/constellation-daq/constellation-core/logging"
	"github.com/constellation-daq/constellation-core/obsv"
	"github.com/constellation-daq/constellation-core/protocol"
)

// ReceiverState is the receiver's BEFORE_BOR -> IN_RUN -> STOPPING ->
// GOT_EOR -> BEFORE_BOR cycle.
type ReceiverState int

const (
	ReceiverBeforeBOR ReceiverState = iota
	ReceiverInRun
	ReceiverStopping
	ReceiverGotEOR
)

// Defaults for the receiver's phase timeouts.
const (
	DefaultChirpTimeout = 10 * time.Second
	DefaultDataTimeout  = time.Second
	chirpPollInterval   = 100 * time.Millisecond
)

// Receiver is the CDTP pull side: it discovers a sender via CHIRP, connects,
// and consumes BOR, then DATA messages, then EOR.
type Receiver struct {
	senderName string
	logger     logging.Logger

	state ReceiverState
	conn  net.Conn
	seq   uint64

	eor *dictionary.Dictionary
}

// NewReceiver builds a Receiver that will look for DATA services advertised
// by senderName.
func NewReceiver(senderName string, logger logging.Logger) *Receiver {
	if logger == nil {
		logger = logging.Noop()
	}
	return &Receiver{senderName: senderName, logger: logging.Named(logger, "cdtp.receiver")}
}

// Launching polls listener's discovered services every 100ms, up to
// chirpTimeout, for a DATA descriptor from senderName. Absent after the
// deadline yields ChirpTimeoutError.
func (r *Receiver) Launching(listener *chirp.Listener, chirpTimeout time.Duration) (chirp.ServiceDescriptor, error) {
	var found chirp.ServiceDescriptor
	op := func() error {
		for _, svc := range listener.Discovered() {
			if svc.HostName == r.senderName && svc.Service == chirp.ServiceData {
				found = svc
				return nil
			}
		}
		return errNotFoundYet
	}
	ctx, cancel := context.WithTimeout(context.Background(), chirpTimeout)
	defer cancel()
	boff := backoff.WithContext(backoff.NewConstantBackOff(chirpPollInterval), ctx)
	if err := backoff.Retry(op, boff); err != nil {
		return chirp.ServiceDescriptor{}, NewChirpTimeoutError(r.senderName, chirpTimeout.String())
	}
	return found, nil
}

var errNotFoundYet = errors.New("cdtp: DATA service not yet discovered")

// Starting connects to addr, reads the BOR message within borTimeout, and
// returns its decoded configuration dictionary. The receiver's sequence
// counter is initialised from the BOR's sequence number (always 0).
func (r *Receiver) Starting(addr string, borTimeout time.Duration) (*dictionary.Dictionary, error) {
	conn, err := net.DialTimeout("tcp", addr, borTimeout)
	if err != nil {
		return nil, err
	}
	r.conn = conn

	conn.SetReadDeadline(time.Now().Add(borTimeout))
	frames, err := protocol.ReadMultipart(conn)
	if err != nil {
		return nil, err
	}
	msg, err := decode(frames)
	if err != nil {
		return nil, err
	}
	if msg.Type != TypeBOR {
		return nil, NewInvalidMessageTypeError(string(TypeBOR), string(msg.Type))
	}
	dict, err := singleDictPayload(msg)
	if err != nil {
		return nil, err
	}
	r.seq = msg.Sequence
	r.state = ReceiverInRun
	obsv.RecordCDTPMessage("recv", string(msg.Type), 0)
	return dict, nil
}

// RecvData blocks up to timeout for the next message. On DATA it requires
// strict sequence monotonicity (logging a warning and adopting the received
// value on a gap) and returns the message. On EOR it stores the metadata and
// enters GOT_EOR. A timeout while STOPPING yields RecvTimeoutError.
func (r *Receiver) RecvData(timeout time.Duration) (Message, error) {
	r.conn.SetReadDeadline(time.Now().Add(timeout))
	frames, err := protocol.ReadMultipart(r.conn)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			if r.state == ReceiverStopping {
				return Message{}, NewRecvTimeoutError("stopping")
			}
			return Message{}, NewRecvTimeoutError("in_run")
		}
		return Message{}, err
	}
	msg, err := decode(frames)
	if err != nil {
		return Message{}, err
	}

	switch msg.Type {
	case TypeDATA:
		if msg.Sequence != r.seq+1 {
			r.logger.Warn("sequence gap", "expected", r.seq+1, "got", msg.Sequence)
		}
		r.seq = msg.Sequence
		obsv.RecordCDTPMessage("recv", string(msg.Type), framesLen(msg.Payloads))
		return msg, nil
	case TypeEOR:
		dict, err := singleDictPayload(msg)
		if err != nil {
			return Message{}, err
		}
		r.eor = dict
		r.state = ReceiverGotEOR
		obsv.RecordCDTPMessage("recv", string(msg.Type), 0)
		return msg, nil
	default:
		return Message{}, NewInvalidMessageTypeError(string(TypeDATA)+" or "+string(TypeEOR), string(msg.Type))
	}
}

// Stopping moves the receiver into STOPPING, where RecvData still accepts
// one final message before timing out.
func (r *Receiver) Stopping() {
	r.state = ReceiverStopping
}

// GotEOR reports whether the terminal EOR has been received.
func (r *Receiver) GotEOR() bool { return r.state == ReceiverGotEOR }

// GetEOR returns the stored EOR metadata, resets to BEFORE_BOR, and closes
// the connection.
func (r *Receiver) GetEOR() (*dictionary.Dictionary, error) {
	if r.state != ReceiverGotEOR {
		return nil, NewInvalidMessageTypeError(string(TypeEOR), "not GOT_EOR")
	}
	eor := r.eor
	r.eor = nil
	r.state = ReceiverBeforeBOR
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
	return eor, nil
}
