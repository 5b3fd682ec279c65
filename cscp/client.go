package cscp

import (
	"net"
	"time"

	"github.com/constellation-daq/constellation-core/protocol"
)

// Client is a CSCP request socket: a controller dials a satellite's
// advertised CONTROL port and issues sequential request/reply round trips.
type Client struct {
	sender string
	conn   net.Conn
}

// Dial connects to a satellite's CSCP reply socket.
func Dial(addr, sender string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	return &Client{sender: sender, conn: conn}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

// Call sends verb with an optional pre-encoded payload frame and returns the
// decoded reply. verb names are lowercased by the wire encoder.
func (c *Client) Call(verb string, payload []byte, timeout time.Duration) (Reply, error) {
	frames, err := encodeRequest(c.sender, verb, payload)
	if err != nil {
		return Reply{}, err
	}
	if timeout > 0 {
		c.conn.SetDeadline(time.Now().Add(timeout))
	}
	if err := protocol.WriteMultipart(c.conn, frames); err != nil {
		return Reply{}, err
	}
	respFrames, err := protocol.ReadMultipart(c.conn)
	if err != nil {
		return Reply{}, err
	}
	return decodeReply(respFrames)
}
