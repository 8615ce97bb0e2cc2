//go:build linux

// Author: momentics <momentics@gmail.com>
package netutil

import (
	"fmt"
	"log"

	"golang.org/x/sys/unix"

	"github.com/momentics/reactorcore/control"
	"github.com/momentics/reactorcore/reactor"
)

// NewConnectionCallback is invoked on the acceptor's loop with a freshly
// accepted, non-blocking fd and the peer's address.
type NewConnectionCallback func(fd int, peer InetAddress)

// Acceptor owns a non-blocking listening socket on a single loop (the
// "main" loop in TcpServer terms) and an idle fd held open to recover from
// EMFILE without busy-looping. Grounded on cooper's Acceptor.{hpp,cpp}.
type Acceptor struct {
	loop    *reactor.EventLoop
	sockFd  int
	addr    InetAddress
	channel *reactor.Channel
	idleFd  int

	beforeListen     func(fd int)
	afterAccept      func(fd int)
	newConnectionCb  NewConnectionCallback
}

// NewAcceptor creates a listening socket bound to addr on loop's thread,
// setting SO_REUSEADDR/SO_REUSEPORT per the flags. Construction is fatal
// (returns an error) on bind failure, matching spec.md §6's exit-code
// rule for init errors.
func NewAcceptor(loop *reactor.EventLoop, addr InetAddress, reuseAddr, reusePort bool) (*Acceptor, error) {
	idleFd, err := unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("netutil: open /dev/null: %w", err)
	}
	fd := CreateNonblockingSocketOrDie(addr.IsIPv6())
	if err := SetReuseAddr(fd, reuseAddr); err != nil {
		_ = unix.Close(fd)
		_ = unix.Close(idleFd)
		return nil, fmt.Errorf("netutil: SO_REUSEADDR: %w", err)
	}
	if err := SetReusePort(fd, reusePort); err != nil {
		_ = unix.Close(fd)
		_ = unix.Close(idleFd)
		return nil, fmt.Errorf("netutil: SO_REUSEPORT: %w", err)
	}
	if err := BindAddress(fd, addr); err != nil {
		_ = unix.Close(fd)
		_ = unix.Close(idleFd)
		return nil, err
	}
	if addr.Port() == 0 {
		if real, err := GetLocalAddr(fd); err == nil {
			addr = real
		}
	}
	a := &Acceptor{
		loop:   loop,
		sockFd: fd,
		addr:   addr,
		idleFd: idleFd,
	}
	a.channel = reactor.NewChannel(loop, fd)
	a.channel.SetReadCallback(a.handleRead)
	return a, nil
}

// SetBeforeListenSockOpt registers a hook run just before listen(2), for
// additional socket options the caller wants applied (e.g. a custom
// backlog-related sockopt).
func (a *Acceptor) SetBeforeListenSockOpt(f func(fd int)) { a.beforeListen = f }

// SetAfterAcceptSockOpt registers a hook run on every freshly accepted fd,
// before the new-connection callback fires.
func (a *Acceptor) SetAfterAcceptSockOpt(f func(fd int)) { a.afterAccept = f }

// SetNewConnectionCallback registers the callback invoked per accepted
// connection.
func (a *Acceptor) SetNewConnectionCallback(cb NewConnectionCallback) { a.newConnectionCb = cb }

// Addr returns the bound local address, resolved after bind if port 0 was
// requested.
func (a *Acceptor) Addr() InetAddress { return a.addr }

// Listen marks the socket listening and enables read interest on its
// channel. Must be called on the acceptor's loop.
func (a *Acceptor) Listen(backlog int) error {
	if a.beforeListen != nil {
		a.beforeListen(a.sockFd)
	}
	if err := Listen(a.sockFd, backlog); err != nil {
		return err
	}
	a.channel.EnableReading()
	return nil
}

// handleRead drains one accept per readable event — sufficient under
// level-triggered epoll, since a pending backlog re-signals readiness.
func (a *Acceptor) handleRead() {
	nfd, peer, err := Accept4(a.sockFd)
	if err == nil {
		if a.afterAccept != nil {
			a.afterAccept(nfd)
		}
		if a.newConnectionCb != nil {
			a.newConnectionCb(nfd, peer)
		} else {
			_ = unix.Close(nfd)
		}
		return
	}
	// libev's "the special problem of accept()ing when you can't": drop
	// the idle fd to free a descriptor, accept (now succeeds), drop the
	// accepted connection to reject it gracefully, then reopen the idle
	// fd so the trick is available again.
	if err == unix.EMFILE {
		cerr := control.NewError(control.ErrResourceExhausted, "accept: out of file descriptors").
			WithContext("sock_fd", a.sockFd)
		log.Printf("netutil: %v, recovering via idle fd", cerr)
		_ = unix.Close(a.idleFd)
		if nfd2, _, err2 := Accept4(a.sockFd); err2 == nil {
			_ = unix.Close(nfd2)
		}
		idleFd, openErr := unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
		if openErr == nil {
			a.idleFd = idleFd
		}
		return
	}
	log.Printf("netutil: accept error: %v", err)
}

// Close releases the acceptor's sockets. Call only from the owning loop.
func (a *Acceptor) Close() error {
	a.channel.DisableAll()
	a.channel.Remove()
	_ = unix.Close(a.idleFd)
	return unix.Close(a.sockFd)
}
