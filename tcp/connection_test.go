package tcp_test

import (
	"bytes"
	"io"
	"net"
	"testing"
	"time"

	"github.com/momentics/reactorcore/buffer"
	"github.com/momentics/reactorcore/netutil"
	"github.com/momentics/reactorcore/reactor"
	"github.com/momentics/reactorcore/tcp"
)

func newRunningLoop(t *testing.T) *reactor.EventLoop {
	t.Helper()
	loop, err := reactor.NewEventLoop()
	if err != nil {
		t.Fatalf("NewEventLoop: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- loop.Run() }()
	t.Cleanup(func() {
		loop.Quit()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("loop did not quit in time")
		}
		_ = loop.Close()
	})
	return loop
}

func TestServerEchoesBytes(t *testing.T) {
	loop := newRunningLoop(t)

	addr := netutil.NewListenAddress(0, true, false)
	srv, err := tcp.NewServer(loop, addr, "echo", true, false)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	srv.SetMessageCallback(func(c *tcp.Connection, buf *buffer.Buffer) {
		c.Send(buf.Read(buf.ReadableBytes()))
	})
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(srv.Stop)

	conn, err := net.DialTimeout("tcp", srv.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	payload := []byte("hello reactor")
	if _, err := conn.Write(payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	got := make([]byte, len(payload))
	if _, err := io.ReadFull(conn, got); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("echoed = %q, want %q", got, payload)
	}
}

func TestServerConnectionCallback(t *testing.T) {
	loop := newRunningLoop(t)
	addr := netutil.NewListenAddress(0, true, false)
	srv, err := tcp.NewServer(loop, addr, "cb", true, false)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	up := make(chan struct{}, 1)
	down := make(chan struct{}, 1)
	srv.SetConnectionCallback(func(c *tcp.Connection) {
		if c.Connected() {
			up <- struct{}{}
		} else if c.Disconnected() {
			down <- struct{}{}
		}
	})
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(srv.Stop)

	conn, err := net.DialTimeout("tcp", srv.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	select {
	case <-up:
	case <-time.After(2 * time.Second):
		t.Fatal("connection callback (up) did not fire")
	}
	conn.Close()
	select {
	case <-down:
	case <-time.After(2 * time.Second):
		t.Fatal("connection callback (down) did not fire")
	}
}

func TestHighWaterMarkFiresOncePerCrossing(t *testing.T) {
	loop := newRunningLoop(t)
	addr := netutil.NewListenAddress(0, true, false)
	srv, err := tcp.NewServer(loop, addr, "hwm", true, false)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	var crossings int
	crossCh := make(chan struct{}, 16)
	srv.SetHighWaterMarkCallback(func(c *tcp.Connection, queued int) {
		crossCh <- struct{}{}
	}, 1024)

	var serverConn *tcp.Connection
	connCh := make(chan *tcp.Connection, 1)
	srv.SetConnectionCallback(func(c *tcp.Connection) {
		if c.Connected() {
			connCh <- c
		}
	})
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(srv.Stop)

	conn, err := net.DialTimeout("tcp", srv.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	select {
	case serverConn = <-connCh:
	case <-time.After(2 * time.Second):
		t.Fatal("no connection established")
	}

	// Each chunk is far larger than loopback socket buffers absorb for a
	// peer that never reads, so most of it stays queued above the mark.
	big := bytes.Repeat([]byte("x"), 4<<20)
	for i := 0; i < 4; i++ {
		serverConn.Send(big)
	}

	select {
	case <-crossCh:
		crossings++
	case <-time.After(2 * time.Second):
		t.Fatal("expected at least one high-water-mark callback")
	}
	select {
	case <-crossCh:
		t.Fatal("high-water-mark callback fired more than once without dropping below the mark")
	case <-time.After(200 * time.Millisecond):
	}
}
