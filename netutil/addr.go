// Package netutil provides the socket, address, and acceptor primitives
// the reactor kernel builds its TCP transport on top of: non-blocking
// socket creation, v4/v6 address wrapping, and EMFILE-resilient accept.
//
// Author: momentics <momentics@gmail.com>
package netutil

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// InetAddress wraps a v4 or v6 socket address, grounded on cooper's
// InetAddress (a POD wrapper over sockaddr_in/sockaddr_in6).
type InetAddress struct {
	ip   net.IP
	port uint16
	ipv6 bool
}

// NewListenAddress builds a listening endpoint for port, optionally
// restricted to loopback and optionally IPv6.
func NewListenAddress(port uint16, loopbackOnly, ipv6 bool) InetAddress {
	if ipv6 {
		if loopbackOnly {
			return InetAddress{ip: net.IPv6loopback, port: port, ipv6: true}
		}
		return InetAddress{ip: net.IPv6unspecified, port: port, ipv6: true}
	}
	if loopbackOnly {
		return InetAddress{ip: net.IPv4(127, 0, 0, 1), port: port}
	}
	return InetAddress{ip: net.IPv4zero, port: port}
}

// NewAddress wraps an explicit ip:port, used when reporting a peer address
// obtained from accept.
func NewAddress(ip net.IP, port uint16) InetAddress {
	return InetAddress{ip: ip, port: port, ipv6: ip.To4() == nil}
}

func (a InetAddress) IP() net.IP    { return a.ip }
func (a InetAddress) Port() uint16  { return a.port }
func (a InetAddress) IsIPv6() bool  { return a.ipv6 }
func (a InetAddress) String() string {
	return fmt.Sprintf("%s:%d", a.ip.String(), a.port)
}

// sockaddr converts the address into the unix package's sockaddr
// representation for bind/connect.
func (a InetAddress) sockaddr() unix.Sockaddr {
	if a.ipv6 {
		var sa unix.SockaddrInet6
		sa.Port = int(a.port)
		copy(sa.Addr[:], a.ip.To16())
		return &sa
	}
	var sa unix.SockaddrInet4
	sa.Port = int(a.port)
	copy(sa.Addr[:], a.ip.To4())
	return &sa
}

func addressFromSockaddr(sa unix.Sockaddr) InetAddress {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return InetAddress{ip: net.IPv4(v.Addr[0], v.Addr[1], v.Addr[2], v.Addr[3]), port: uint16(v.Port)}
	case *unix.SockaddrInet6:
		ip := make(net.IP, net.IPv6len)
		copy(ip, v.Addr[:])
		return InetAddress{ip: ip, port: uint16(v.Port), ipv6: true}
	default:
		return InetAddress{}
	}
}
