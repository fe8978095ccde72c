package tcp

import (
	"net"
	"strconv"
)

// SocketAddress is a host and port pair.
type SocketAddress struct {
	Host string
	Port int
}

// NewSocketAddress returns the address of host:port.
func NewSocketAddress(port int, host string) *SocketAddress {
	return &SocketAddress{Host: host, Port: port}
}

// AddressOf converts a net.Addr. It returns nil for nil.
func AddressOf(addr net.Addr) *SocketAddress {
	if addr == nil {
		return nil
	}
	return ParseSocketAddress(addr.String())
}

// ParseSocketAddress splits "host:port". A value without a port becomes
// the host with port 0.
func ParseSocketAddress(hostport string) *SocketAddress {
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		return &SocketAddress{Host: hostport}
	}
	p, _ := strconv.Atoi(port)
	return &SocketAddress{Host: host, Port: p}
}

func (a *SocketAddress) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}
