// Package networking provides the low-level socket primitives shared by
// every protocol in this module: the CHIRP UDP multicast socket and the
// process-wide messaging context that owns it. Multicast
// group membership and TTL are managed through golang.org/x/net/ipv4, which
// exposes the packet-conn controls net.UDPConn does not.
package networking

import (
	"fmt"
	"net"
	"time"

	"golang.org/x/net/ipv4"
)

// CHIRPMulticastAddr and CHIRPPort are the fixed multicast group and port
// CHIRP datagrams are sent to and received from.
const (
	CHIRPMulticastAddr = "239.192.49.192"
	CHIRPPort          = 49192
	chirpTTL           = 8
	// MaxDatagramBytes bounds a single CHIRP datagram 
	MaxDatagramBytes = 1024
)

// MulticastSocket is a UDP socket joined to the CHIRP multicast group, with
// loopback enabled and TTL set 
type MulticastSocket struct {
	conn   *net.UDPConn
	pc     *ipv4.PacketConn
	group  *net.UDPAddr
	iface  *net.Interface
}

// NewMulticastSocket opens and joins the CHIRP multicast group. ifaceName
// selects the outbound interface for sends; an empty string lets the kernel
// choose the default multicast-capable interface.
func NewMulticastSocket(ifaceName string) (*MulticastSocket, error) {
	group := &net.UDPAddr{IP: net.ParseIP(CHIRPMulticastAddr), Port: CHIRPPort}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: CHIRPPort})
	if err != nil {
		return nil, fmt.Errorf("networking: listen udp: %w", err)
	}

	pc := ipv4.NewPacketConn(conn)

	var iface *net.Interface
	if ifaceName != "" {
		iface, err = net.InterfaceByName(ifaceName)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("networking: lookup interface %q: %w", ifaceName, err)
		}
	}

	if err := pc.JoinGroup(iface, group); err != nil {
		conn.Close()
		return nil, fmt.Errorf("networking: join multicast group: %w", err)
	}
	if err := pc.SetMulticastTTL(chirpTTL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("networking: set multicast ttl: %w", err)
	}
	if err := pc.SetMulticastLoopback(true); err != nil {
		conn.Close()
		return nil, fmt.Errorf("networking: set multicast loopback: %w", err)
	}
	if iface != nil {
		if err := pc.SetMulticastInterface(iface); err != nil {
			conn.Close()
			return nil, fmt.Errorf("networking: set multicast interface: %w", err)
		}
	}

	return &MulticastSocket{conn: conn, pc: pc, group: group, iface: iface}, nil
}

// Send broadcasts payload to the CHIRP multicast group.
func (m *MulticastSocket) Send(payload []byte) error {
	_, err := m.conn.WriteToUDP(payload, m.group)
	if err != nil {
		return fmt.Errorf("networking: send multicast datagram: %w", err)
	}
	return nil
}

// Recv reads one datagram, blocking until deadline. It returns the payload
// and the sender's address. A timeout returns (0, nil, err) with an
// os.ErrDeadlineExceeded-wrapping err from the underlying net.Conn; callers distinguish it with
// errors matching a net.Error whose Timeout() is true.
func (m *MulticastSocket) Recv(buf []byte) (int, *net.UDPAddr, error) {
	n, addr, err := m.conn.ReadFromUDP(buf)
	if err != nil {
		return 0, nil, err
	}
	return n, addr, nil
}

// SetDeadline arms the deadline for the next Recv call.
func (m *MulticastSocket) SetDeadline(t time.Time) error { return m.conn.SetReadDeadline(t) }

// Close leaves the multicast group and closes the underlying socket.
func (m *MulticastSocket) Close() error {
	_ = m.pc.LeaveGroup(m.iface, m.group)
	return m.conn.Close()
}
