//go:build linux

// Author: momentics <momentics@gmail.com>
package reactor

import (
	"fmt"

	"golang.org/x/sys/unix"
)

const initialEventListSize = 16

// Poller is a thin wrapper over level-triggered Linux epoll, mapping fd to
// Channel and exposing the three verbs the reactor needs: add, modify,
// remove. Grounded on cooper's EpollPoller (Poller.hpp/EpollPoller.hpp).
type Poller struct {
	epfd     int
	events   []unix.EpollEvent
	channels map[int]*Channel
}

// NewPoller creates a fresh epoll instance.
func NewPoller() (*Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("reactor: epoll_create1: %w", err)
	}
	return &Poller{
		epfd:     fd,
		events:   make([]unix.EpollEvent, initialEventListSize),
		channels: make(map[int]*Channel),
	}, nil
}

// Poll blocks up to timeoutMs milliseconds, appending ready channels to
// *active in kernel-reported order.
func (p *Poller) Poll(timeoutMs int, active *[]*Channel) error {
	n, err := unix.EpollWait(p.epfd, p.events, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return fmt.Errorf("reactor: epoll_wait: %w", err)
	}
	for i := 0; i < n; i++ {
		fd := int(p.events[i].Fd)
		ch, ok := p.channels[fd]
		if !ok {
			continue
		}
		ch.setRevents(p.events[i].Events)
		*active = append(*active, ch)
	}
	if n == len(p.events) {
		// grow for next call, mirroring cooper's EventList doubling.
		p.events = make([]unix.EpollEvent, len(p.events)*2)
	}
	return nil
}

// UpdateChannel adds or modifies fd's registration according to the
// channel's current interest mask and bookkeeping index.
func (p *Poller) UpdateChannel(c *Channel) error {
	if c.IsNoneEvent() {
		if c.index == indexAdded {
			if err := p.ctl(unix.EPOLL_CTL_DEL, c); err != nil {
				return err
			}
			delete(p.channels, c.fd)
			c.index = indexRemoved
		}
		return nil
	}
	if c.index == indexAdded {
		return p.ctl(unix.EPOLL_CTL_MOD, c)
	}
	p.channels[c.fd] = c
	c.index = indexAdded
	return p.ctl(unix.EPOLL_CTL_ADD, c)
}

// RemoveChannel unregisters c entirely, if it was ever added.
func (p *Poller) RemoveChannel(c *Channel) error {
	if c.index == indexAdded {
		delete(p.channels, c.fd)
		if err := p.ctl(unix.EPOLL_CTL_DEL, c); err != nil {
			return err
		}
	}
	c.index = indexNew
	return nil
}

func (p *Poller) ctl(op int, c *Channel) error {
	ev := unix.EpollEvent{Events: uint32(c.events), Fd: int32(c.fd)}
	if err := unix.EpollCtl(p.epfd, op, c.fd, &ev); err != nil {
		return fmt.Errorf("reactor: epoll_ctl(%d, fd=%d): %w", op, c.fd, err)
	}
	return nil
}

// Close releases the underlying epoll fd.
func (p *Poller) Close() error {
	return unix.Close(p.epfd)
}
