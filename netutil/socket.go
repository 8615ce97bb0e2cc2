//go:build linux

// Author: momentics <momentics@gmail.com>
package netutil

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// CreateNonblockingSocketOrDie creates a non-blocking, close-on-exec TCP
// socket for the given address family, panicking on failure. Grounded on
// cooper's Socket::createNonblockingSocketOrDie — the source aborts the
// process on this failure too, since a reactor cannot run without its
// listening socket.
func CreateNonblockingSocketOrDie(ipv6 bool) int {
	family := unix.AF_INET
	if ipv6 {
		family = unix.AF_INET6
	}
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		panic(fmt.Sprintf("netutil: socket(%d): %v", family, err))
	}
	return fd
}

// SetReuseAddr toggles SO_REUSEADDR.
func SetReuseAddr(fd int, on bool) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, boolToInt(on))
}

// SetReusePort toggles SO_REUSEPORT.
func SetReusePort(fd int, on bool) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, boolToInt(on))
}

// SetKeepAlive toggles SO_KEEPALIVE.
func SetKeepAlive(fd int, on bool) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, boolToInt(on))
}

// SetTCPNoDelay toggles TCP_NODELAY (disables/enables Nagle's algorithm).
func SetTCPNoDelay(fd int, on bool) error {
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, boolToInt(on))
}

// BindAddress binds fd to addr, returning an error (the caller decides
// whether to abort; Acceptor construction treats this as fatal per
// spec.md §6's exit-code rule).
func BindAddress(fd int, addr InetAddress) error {
	if err := unix.Bind(fd, addr.sockaddr()); err != nil {
		return fmt.Errorf("netutil: bind(%s): %w", addr, err)
	}
	return nil
}

// Listen marks fd as a listening socket with the given backlog.
func Listen(fd int, backlog int) error {
	if err := unix.Listen(fd, backlog); err != nil {
		return fmt.Errorf("netutil: listen: %w", err)
	}
	return nil
}

// Accept4 performs a non-blocking accept, returning the new fd and the
// peer's address.
func Accept4(fd int) (int, InetAddress, error) {
	nfd, sa, err := unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, InetAddress{}, err
	}
	return nfd, addressFromSockaddr(sa), nil
}

// GetLocalAddr returns the local address fd is bound to, used to resolve
// an ephemeral port (port 0) after bind.
func GetLocalAddr(fd int) (InetAddress, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return InetAddress{}, fmt.Errorf("netutil: getsockname: %w", err)
	}
	return addressFromSockaddr(sa), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
