package chp

import (
	"net"
	"time"

	"github.com/constellation-daq/constellation-core/logging"
	"github.com/constellation-daq/constellation-core/protocol"
)

// Receiver connects to one remote's CHP sender and forwards every decoded
// heartbeat to a Manager's Observe method.
type Receiver struct {
	conn    net.Conn
	manager *Manager
	logger  logging.Logger

	stop chan struct{}
	done chan struct{}
}

// Dial connects to a remote CHP sender's advertised HEARTBEAT address.
func Dial(addr string, manager *Manager, logger logging.Logger) (*Receiver, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Noop()
	}
	return &Receiver{
		conn:    conn,
		manager: manager,
		logger:  logging.Named(logger, "chp.receiver"),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Run reads heartbeats until Stop is called or the connection fails.
func (r *Receiver) Run() {
	defer close(r.done)
	for {
		select {
		case <-r.stop:
			return
		default:
		}

		r.conn.SetReadDeadline(time.Now().Add(maxWake))
		frames, err := protocol.ReadMultipart(r.conn)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			r.logger.Warn("chp connection closed", "error", err)
			return
		}
		msg, err := Decode(frames)
		if err != nil {
			r.logger.Warn("dropping malformed heartbeat", "error", err)
			continue
		}
		r.manager.Observe(msg, time.Now().UTC())
	}
}

// Stop closes the connection and waits for Run to return.
func (r *Receiver) Stop() {
	close(r.stop)
	r.conn.Close()
	<-r.done
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
