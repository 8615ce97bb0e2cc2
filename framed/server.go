package framed

import (
	"log"
	"os"
	"sync"
	"time"

	"github.com/momentics/reactorcore/buffer"
	"github.com/momentics/reactorcore/control"
	"github.com/momentics/reactorcore/netutil"
	"github.com/momentics/reactorcore/reactor"
	"github.com/momentics/reactorcore/tcp"
	"github.com/momentics/reactorcore/timingwheel"
)

// Mode selects how frame payloads are interpreted.
type Mode int

const (
	// Structured frames carry a JSON object with a numeric "type" field.
	Structured Mode = iota
	// Opaque frames carry a u32 type followed by raw bytes.
	Opaque
)

// StructuredHandler receives a fully-parsed structured-mode message.
type StructuredHandler func(conn *tcp.Connection, msg *Message)

// OpaqueHandler receives an opaque-mode message's type and raw body.
type OpaqueHandler func(conn *tcp.Connection, body []byte)

// pingPongState is the per-connection liveness bookkeeping attached via
// tcp.Connection.SetContext, since the framed layer has no connection type
// of its own to carry it on (grounded on AppTcpServer attaching
// timingWheelWeakPtr_/kickoffEntry_ directly onto TcpConnectionImpl). Both
// entries live in the server's per-loop TimingWheel, per spec.md §4.8's
// "collapses the 'repeat every I' timer into the timing wheel uniformly
// with the liveness timeout" — the self-reinserting destructor-as-effect
// idiom is replaced with an explicit callback that reinserts itself, per
// spec.md §9's explicit-callback resolution.
type pingPongState struct {
	mu           sync.Mutex
	pingEntry    *timingwheel.Entry
	kickoffEntry *timingwheel.Entry
}

// Server is the length-prefixed framed-message application server: a
// tcp.Server with frame decoding spliced into the message callback and,
// optionally, ping/pong liveness enforcement. Grounded on cooper's
// AppTcpServer, unifying its BUSINESS_MODE/MEDIA_MODE split into a single
// Mode-switched type per spec.md §9.
type Server struct {
	mode Mode
	tcp  *tcp.Server

	structuredHandlers map[uint32]StructuredHandler
	opaqueHandlers     map[uint32]OpaqueHandler

	pingPongEnabled bool
	interval        time.Duration
	timeout         time.Duration

	wheelMu sync.Mutex
	wheels  map[*reactor.EventLoop]*timingwheel.TimingWheel

	connectionCallback tcp.ConnectionCallback

	logger *log.Logger
}

// NewServer constructs a framed Server bound to addr, listening once
// Start is called.
func NewServer(mainLoop *reactor.EventLoop, addr netutil.InetAddress, name string, mode Mode, reuseAddr, reusePort bool) (*Server, error) {
	ts, err := tcp.NewServer(mainLoop, addr, name, reuseAddr, reusePort)
	if err != nil {
		return nil, err
	}
	s := &Server{
		mode:               mode,
		tcp:                ts,
		structuredHandlers: make(map[uint32]StructuredHandler),
		opaqueHandlers:     make(map[uint32]OpaqueHandler),
		wheels:             make(map[*reactor.EventLoop]*timingwheel.TimingWheel),
		logger:             log.New(os.Stderr, "[framed] ", log.LstdFlags|log.Lmicroseconds),
	}
	ts.SetMessageCallback(s.onMessage)
	ts.SetConnectionCallback(s.onConnection)
	return s, nil
}

func (s *Server) Addr() netutil.InetAddress     { return s.tcp.Addr() }
func (s *Server) SetIoLoopNum(n int)            { s.tcp.SetIoLoopNum(n) }
func (s *Server) ConnectionCount() int          { return s.tcp.ConnectionCount() }
func (s *Server) SetConnectionCallback(cb tcp.ConnectionCallback) { s.connectionCallback = cb }

// RegisterStructuredHandler installs the handler invoked for structured
// frames of the given type; no-op in Opaque mode.
func (s *Server) RegisterStructuredHandler(msgType uint32, h StructuredHandler) {
	s.structuredHandlers[msgType] = h
}

// RegisterOpaqueHandler installs the handler invoked for opaque frames of
// the given type; no-op in Structured mode.
func (s *Server) RegisterOpaqueHandler(msgType uint32, h OpaqueHandler) {
	s.opaqueHandlers[msgType] = h
}

// EnablePingPong arms liveness: every interval a PING frame is sent and a
// kickoff entry with timeout is armed in the connection's owning loop's
// TimingWheel; a PONG received before it fires cancels it. Grounded on
// AppTcpServer::start's runEvery/insertEntry pair and resetPingPongEntry,
// with the destructor-driven "self-reinserting entry" idiom replaced by an
// explicit callback that reinserts itself on the wheel, per spec.md §4.8
// and §9.
func (s *Server) EnablePingPong(interval, timeout time.Duration) {
	s.pingPongEnabled = true
	s.interval = interval
	s.timeout = timeout
}

// Start launches the underlying tcp.Server. If ping/pong is enabled, each
// connection's ping entry is armed in the timing wheel as it is
// established (onConnection).
func (s *Server) Start() error {
	return s.tcp.Start()
}

// Stop tears down the underlying tcp.Server.
func (s *Server) Stop() { s.tcp.Stop() }

func (s *Server) onConnection(conn *tcp.Connection) {
	if conn.Connected() {
		if s.pingPongEnabled {
			conn.SetContext(&pingPongState{})
			s.armPing(conn)
		}
	} else if s.pingPongEnabled {
		// Connection torn down: cancel both wheel entries so a stale ping
		// or kickoff does not fire against a gone connection (force-close
		// is idempotent via Connected(), but there is no reason to let
		// either entry occupy a bucket until its natural expiry).
		if st, ok := conn.Context().(*pingPongState); ok {
			st.mu.Lock()
			if st.pingEntry != nil {
				st.pingEntry.Cancel()
			}
			if st.kickoffEntry != nil {
				st.kickoffEntry.Cancel()
			}
			st.mu.Unlock()
		}
	}
	if s.connectionCallback != nil {
		s.connectionCallback(conn)
	}
}

// wheelFor returns (lazily creating) the TimingWheel driving loop's
// ping/pong entries, sized to hold both the ping interval and the kickoff
// timeout. One wheel per I/O loop, matching spec.md §5's "timing wheel is
// owned by a single loop" invariant — Insert/Cancel on it only ever
// happen from callbacks running on that same loop.
func (s *Server) wheelFor(loop *reactor.EventLoop) *timingwheel.TimingWheel {
	s.wheelMu.Lock()
	defer s.wheelMu.Unlock()
	if w, ok := s.wheels[loop]; ok {
		return w
	}
	w := timingwheel.NewOnLoop(loop, s.interval+s.timeout+time.Second)
	s.wheels[loop] = w
	return w
}

// armPing inserts the first ping entry into conn's owning loop's
// TimingWheel. Grounded on spec.md §4.8's "recursive ping scheduling ...
// implemented as a self-reinserting timing-wheel entry": each firing sends
// a PING, inserts a fresh kickoff entry at timeout T, and reinserts itself
// at interval I — collapsing both the repeat-every-I timer and the T-second
// liveness deadline into the same wheel, rather than a separate EventLoop
// timer.
func (s *Server) armPing(conn *tcp.Connection) {
	st, _ := conn.Context().(*pingPongState)
	if st == nil {
		return
	}
	wheel := s.wheelFor(conn.Loop())

	var fire func()
	fire = func() {
		if !conn.Connected() {
			return
		}
		frame, err := s.pingFrame()
		if err != nil {
			s.logger.Printf("ping encode: %v", err)
		} else {
			conn.Send(frame)
		}
		st.mu.Lock()
		st.kickoffEntry = wheel.Insert(s.timeout, func() {
			if conn.Connected() {
				conn.ForceClose()
			}
		})
		st.pingEntry = wheel.Insert(s.interval, fire)
		st.mu.Unlock()
	}

	st.mu.Lock()
	st.pingEntry = wheel.Insert(s.interval, fire)
	st.mu.Unlock()
}

func (s *Server) pingFrame() ([]byte, error) {
	if s.mode == Structured {
		return EncodeStructured(PingType, nil)
	}
	return EncodeOpaque(PingType, nil), nil
}

// resetPong cancels the outstanding kickoff entry on PONG receipt,
// preventing its force-close effect from firing — the wheel-entry
// equivalent of cooper's resetPingPongEntry.
func (s *Server) resetPong(conn *tcp.Connection) {
	st, _ := conn.Context().(*pingPongState)
	if st == nil {
		return
	}
	st.mu.Lock()
	if st.kickoffEntry != nil {
		st.kickoffEntry.Cancel()
		st.kickoffEntry = nil
	}
	st.mu.Unlock()
}

func (s *Server) onMessage(conn *tcp.Connection, buf *buffer.Buffer) {
	for {
		payload, ok := decodeFrame(buf)
		if !ok {
			return
		}
		switch s.mode {
		case Structured:
			s.dispatchStructured(conn, payload)
		case Opaque:
			s.dispatchOpaque(conn, payload)
		}
	}
}

func (s *Server) dispatchStructured(conn *tcp.Connection, payload []byte) {
	msg, err := decodeStructured(payload)
	if err != nil {
		cerr := control.NewError(control.ErrParseFailure, "malformed structured frame").
			WithContext("conn", conn.Name()).WithContext("cause", err.Error())
		s.logger.Printf("%v", cerr)
		conn.ForceClose()
		return
	}
	if msg.Type == PongType && s.pingPongEnabled {
		s.resetPong(conn)
	}
	if h, ok := s.structuredHandlers[msg.Type]; ok {
		h(conn, msg)
	} else {
		s.logger.Printf("%s: no handler for type %d", conn.Name(), msg.Type)
	}
}

func (s *Server) dispatchOpaque(conn *tcp.Connection, payload []byte) {
	msgType, body, err := decodeOpaque(payload)
	if err != nil {
		s.logger.Printf("%s: %v", conn.Name(), err)
		conn.ForceClose()
		return
	}
	if msgType == PongType && s.pingPongEnabled {
		s.resetPong(conn)
	}
	if h, ok := s.opaqueHandlers[msgType]; ok {
		h(conn, body)
	} else {
		s.logger.Printf("%s: no handler for type %d", conn.Name(), msgType)
	}
}
