//go:build linux

// Package reactor implements the single-threaded, epoll-driven event loop
// kernel: Channel, Poller, EventLoop, the timer queue, and the loop pool.
//
// Author: momentics <momentics@gmail.com>
package reactor

import "golang.org/x/sys/unix"

// Event is the epoll interest/readiness bitmask a Channel tracks.
type Event uint32

const (
	EventNone  Event = 0
	EventRead  Event = unix.EPOLLIN | unix.EPOLLPRI
	EventWrite Event = unix.EPOLLOUT
)

// pollerIndex tracks a Channel's bookkeeping state inside the Poller.
type pollerIndex int

const (
	indexNew pollerIndex = iota - 1
	indexAdded
	indexRemoved
)

// Channel binds one file descriptor's readiness events, inside one
// EventLoop, to user callbacks. A Channel is never shared across loops and
// all mutation of its interest mask happens on the owning loop's goroutine.
type Channel struct {
	loop   *EventLoop
	fd     int
	events Event  // interest mask
	ready  uint32 // last readiness bitmask reported by the poller (raw epoll bits)

	readCallback  func()
	writeCallback func()
	closeCallback func()
	errorCallback func()

	// tieCheck, when set, guards HandleEvent: if it returns false the
	// event is dropped instead of dispatched, because the owner (e.g. a
	// tcp.Connection) has been torn down concurrently. This is the Go
	// analogue of cooper's weak_ptr "tie_" guard.
	tieCheck func() bool

	index      pollerIndex
	handling   bool
	addedOnce  bool
}

// NewChannel creates a Channel for fd, owned by loop. It is not registered
// with the poller until EnableReading/EnableWriting is called.
func NewChannel(loop *EventLoop, fd int) *Channel {
	return &Channel{loop: loop, fd: fd, index: indexNew}
}

func (c *Channel) Fd() int { return c.fd }

func (c *Channel) SetReadCallback(cb func())  { c.readCallback = cb }
func (c *Channel) SetWriteCallback(cb func()) { c.writeCallback = cb }
func (c *Channel) SetCloseCallback(cb func()) { c.closeCallback = cb }
func (c *Channel) SetErrorCallback(cb func()) { c.errorCallback = cb }

// Tie guards event dispatch with alive, called only while the owning loop
// is handling this channel's events.
func (c *Channel) Tie(alive func() bool) { c.tieCheck = alive }

func (c *Channel) IsReading() bool { return c.events&EventRead != 0 }
func (c *Channel) IsWriting() bool { return c.events&EventWrite != 0 }
func (c *Channel) IsNoneEvent() bool { return c.events == EventNone }

func (c *Channel) EnableReading() {
	c.events |= EventRead
	c.update()
}

func (c *Channel) DisableReading() {
	c.events &^= EventRead
	c.update()
}

func (c *Channel) EnableWriting() {
	c.events |= EventWrite
	c.update()
}

func (c *Channel) DisableWriting() {
	c.events &^= EventWrite
	c.update()
}

func (c *Channel) DisableAll() {
	c.events = EventNone
	c.update()
}

func (c *Channel) update() {
	c.addedOnce = true
	c.loop.updateChannel(c)
}

// Remove detaches the channel from its loop's poller entirely.
func (c *Channel) Remove() {
	c.loop.removeChannel(c)
}

// setRevents is called by the Poller after EpollWait to record readiness.
func (c *Channel) setRevents(ev uint32) { c.ready = ev }

// HandleEvent dispatches the channel's readiness to the appropriate
// callback(s), in the order: close, error, read, write — matching cooper's
// Channel::handleEventSafely dispatch order.
func (c *Channel) HandleEvent() {
	if c.tieCheck != nil && !c.tieCheck() {
		return
	}
	c.handling = true
	defer func() { c.handling = false }()

	const hup = uint32(unix.EPOLLHUP)
	const in = uint32(unix.EPOLLIN)
	const errBits = uint32(unix.EPOLLERR)
	const readBits = uint32(unix.EPOLLIN) | uint32(unix.EPOLLPRI) | uint32(unix.EPOLLRDHUP)
	const writeBits = uint32(unix.EPOLLOUT)

	if c.ready&hup != 0 && c.ready&in == 0 {
		if c.closeCallback != nil {
			c.closeCallback()
		}
	}
	if c.ready&errBits != 0 {
		if c.errorCallback != nil {
			c.errorCallback()
		}
	}
	if c.ready&readBits != 0 {
		if c.readCallback != nil {
			c.readCallback()
		}
	}
	if c.ready&writeBits != 0 {
		if c.writeCallback != nil {
			c.writeCallback()
		}
	}
}
