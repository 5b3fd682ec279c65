package chirp

import (
	"net"
	"strconv"
)

// ServiceDescriptor identifies one discovered or locally registered
// service: the group and host it belongs to, which kind of socket it
// is, and where to reach it. Equality is structural, so ServiceDescriptor
// can be used directly as a map key for deduplication.
type ServiceDescriptor struct {
	GroupName string
	HostName  string
	Service   ServiceIdentifier
	Port      uint16
	IPv4      [4]byte
}

// NewServiceDescriptor builds a descriptor from a datagram's source address
// and the message fields that accompanied it.
func NewServiceDescriptor(groupName, hostName string, service ServiceIdentifier, port uint16, addr *net.UDPAddr) ServiceDescriptor {
	var ip [4]byte
	if addr != nil {
		if v4 := addr.IP.To4(); v4 != nil {
			copy(ip[:], v4)
		}
	}
	return ServiceDescriptor{
		GroupName: groupName,
		HostName:  hostName,
		Service:   service,
		Port:      port,
		IPv4:      ip,
	}
}

// URI renders the descriptor's reachable address as host:port.
func (d ServiceDescriptor) URI() string {
	ip := net.IPv4(d.IPv4[0], d.IPv4[1], d.IPv4[2], d.IPv4[3])
	return net.JoinHostPort(ip.String(), strconv.Itoa(int(d.Port)))
}

// GroupID is the MD5 digest of the descriptor's group name.
func (d ServiceDescriptor) GroupID() GroupID { return GroupIDOf(d.GroupName) }

// HostID is the MD5 digest of the descriptor's host name.
func (d ServiceDescriptor) HostID() HostID { return HostIDOf(d.HostName) }

// registrationKey identifies a locally registered service for the Manager's
// bookkeeping: the same group/host always apply to one process, so only the
// service identifier and port distinguish entries.
type registrationKey struct {
	Service ServiceIdentifier
	Port    uint16
}
