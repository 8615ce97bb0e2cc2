package httpserver

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/momentics/reactorcore/buffer"
	"github.com/momentics/reactorcore/control"
	"github.com/momentics/reactorcore/netutil"
	"github.com/momentics/reactorcore/reactor"
	"github.com/momentics/reactorcore/tcp"
)

// parseState tags where a request-in-progress is within the strict
// start-line -> headers -> body parse sequence, per spec.md §3's HTTP
// request data model.
type parseState int

const (
	stateStartLine parseState = iota
	stateHeaders
	stateBody
)

// requestParser carries one request's incremental parse state, since a
// connection's bytes arrive across arbitrarily many read events.
type requestParser struct {
	req       *Request
	state     parseState
	multipart *multipartParser
}

// connState is the per-connection bookkeeping attached via
// tcp.Connection.SetContext: the keep-alive counter pair
// (requests_served, limit), the request currently being parsed, and any
// file descriptors opened for an in-flight static file response, pending
// close once the transfer completes. Grounded on HttpServer's
// thread_local keepAliveRequests map, folded into per-connection state
// since each connection here is owned by exactly one loop already.
type connState struct {
	requestsServed int
	limit          int
	negotiated     bool

	parser *requestParser

	pendingFiles []*os.File
}

// Server is the HTTP/1.1 request/response layer atop tcp.Server: request
// parsing, routing, static files, and keep-alive budget management.
// Grounded on cooper's HttpServer.{hpp,cpp}.
type Server struct {
	tcp    *tcp.Server
	router *router

	keepAliveTimeout     time.Duration
	maxKeepAliveRequests int

	connectionCallback tcp.ConnectionCallback

	logger *log.Logger
}

// NewServer constructs an HTTP Server bound to addr.
func NewServer(mainLoop *reactor.EventLoop, addr netutil.InetAddress, name string, reuseAddr, reusePort bool) (*Server, error) {
	ts, err := tcp.NewServer(mainLoop, addr, name, reuseAddr, reusePort)
	if err != nil {
		return nil, err
	}
	s := &Server{
		tcp:                  ts,
		router:               newRouter(),
		keepAliveTimeout:     60 * time.Second,
		maxKeepAliveRequests: 10,
		logger:               log.New(os.Stderr, "[httpserver] ", log.LstdFlags|log.Lmicroseconds),
	}
	ts.SetMessageCallback(s.onMessage)
	ts.SetConnectionCallback(s.onConnection)
	return s, nil
}

func (s *Server) Addr() netutil.InetAddress { return s.tcp.Addr() }
func (s *Server) SetIoLoopNum(n int)        { s.tcp.SetIoLoopNum(n) }
func (s *Server) ConnectionCount() int      { return s.tcp.ConnectionCount() }

func (s *Server) SetConnectionCallback(cb tcp.ConnectionCallback) { s.connectionCallback = cb }

// SetKeepAliveTimeout configures the idle-kickoff timeout installed on
// every connection via the underlying tcp.Server's timing wheel. Start
// hands the value to the tcp.Server once; a call after Start changes only
// the timeout advertised in the Keep-Alive response header, not the
// idle-kickoff timeout of the running server.
func (s *Server) SetKeepAliveTimeout(d time.Duration) { s.keepAliveTimeout = d }

// SetMaxKeepAliveRequests configures the per-connection request budget
// negotiated on the first request.
func (s *Server) SetMaxKeepAliveRequests(n int) { s.maxKeepAliveRequests = n }

// Handle registers handler for method/path (GET or POST).
func (s *Server) Handle(method, path string, handler Handler) { s.router.Handle(method, path, handler) }

// Mount adds a static-file mount point serving directory under urlPrefix.
func (s *Server) Mount(urlPrefix, directory string, extraHeaders map[string]string) {
	s.router.Mount(urlPrefix, directory, extraHeaders)
}

// SetFileAuth installs the predicate consulted before serving any static
// file.
func (s *Server) SetFileAuth(fn func(path string) bool) { s.router.SetFileAuth(fn) }

// Start launches the underlying tcp.Server and arms the idle-kickoff
// timeout on every connection, matching HttpServer::start's
// kickoffIdleConnections call.
func (s *Server) Start() error {
	s.tcp.KickoffIdleConnections(s.keepAliveTimeout)
	return s.tcp.Start()
}

// Stop tears down the underlying tcp.Server.
func (s *Server) Stop() { s.tcp.Stop() }

func (s *Server) onConnection(conn *tcp.Connection) {
	if conn.Connected() {
		conn.SetContext(&connState{})
		conn.SetWriteCompleteCallback(s.onWriteComplete)
	} else if conn.Disconnected() {
		s.closePendingFiles(conn)
	}
	if s.connectionCallback != nil {
		s.connectionCallback(conn)
	}
}

func (s *Server) onWriteComplete(conn *tcp.Connection) { s.closePendingFiles(conn) }

func (s *Server) closePendingFiles(conn *tcp.Connection) {
	st, _ := conn.Context().(*connState)
	if st == nil {
		return
	}
	for _, f := range st.pendingFiles {
		f.Close()
	}
	st.pendingFiles = nil
}

// onMessage drives the per-connection parser across as many complete
// requests as the currently-buffered bytes allow, matching
// HttpServer::recvMsgCallback plus the keep-alive negotiation and close
// rules it applies after every response.
func (s *Server) onMessage(conn *tcp.Connection, buf *buffer.Buffer) {
	st, _ := conn.Context().(*connState)
	if st == nil {
		st = &connState{}
		conn.SetContext(st)
	}
	for conn.Connected() {
		if st.parser == nil {
			st.parser = &requestParser{req: &Request{}}
		}
		p := st.parser

		if p.state == stateStartLine {
			ok, fatal := parseRequestStartingLine(buf, p.req)
			if fatal {
				s.failAndClose(conn, st)
				return
			}
			if !ok {
				return
			}
			p.state = stateHeaders
		}

		if p.state == stateHeaders {
			ok, fatal := parseHeaders(buf, p.req)
			if fatal {
				s.failAndClose(conn, st)
				return
			}
			if !ok {
				return
			}
			p.state = stateBody
		}

		if boundary, isMp := isMultipart(p.req); isMp {
			if p.multipart == nil {
				p.multipart = newMultipartParser(boundary, &p.req.Files)
			}
			done, err := p.multipart.feed(buf)
			if err != nil {
				s.failAndClose(conn, st)
				return
			}
			if !done {
				return
			}
		} else {
			ok, fatal := parseBody(buf, p.req)
			if fatal {
				s.failAndClose(conn, st)
				return
			}
			if !ok {
				return
			}
		}

		req := p.req
		st.parser = nil
		s.serve(conn, st, req)
	}
}

// failAndClose responds 400 then force-closes, matching
// HttpServer::recvMsgCallback's parse-failure branch.
func (s *Server) failAndClose(conn *tcp.Connection, st *connState) {
	cerr := control.NewError(control.ErrParseFailure, "malformed HTTP request").
		WithContext("conn", conn.Name())
	s.logger.Printf("%v", cerr)
	resp := NewResponse()
	resp.Status = StatusBadRequest
	resp.write(conn, "")
	conn.ForceClose()
	st.parser = nil
}

// serve negotiates the keep-alive budget on the first request, dispatches
// to the static-file router then the route table, and enforces the
// close-on-non-2xx / close-after-limit rules, matching
// HttpServer::recvMsgCallback + handleFileRequest + handleRequest.
func (s *Server) serve(conn *tcp.Connection, st *connState, req *Request) {
	if !st.negotiated {
		st.negotiated = true
		if wantsKeepAlive(req) {
			st.limit = s.maxKeepAliveRequests
		} else {
			st.limit = 0
		}
	}

	resp := NewResponse()
	s.dispatch(req, resp)

	st.requestsServed++
	remaining := st.limit - st.requestsServed
	keepAliveHeader := ""
	if st.limit > 0 {
		if remaining < 0 {
			remaining = 0
		}
		keepAliveHeader = formatKeepAlive(s.keepAliveTimeout, remaining)
	}

	if f := resp.write(conn, keepAliveHeader); f != nil {
		st.pendingFiles = append(st.pendingFiles, f)
	}

	if !resp.Status.IsSuccess() || st.requestsServed >= st.limit {
		conn.ForceClose()
	}
}

func (s *Server) dispatch(req *Request, resp *Response) {
	if req.Method == "GET" {
		if filePath, extra, outcome := s.router.resolveStaticFile(req.Method, req.Path); outcome != staticNoMatch {
			switch outcome {
			case staticAuthDenied:
				cerr := control.NewError(control.ErrFileAuthDenied, "static file auth denied").
					WithContext("path", filePath)
				s.logger.Printf("%v", cerr)
				resp.Status = StatusForbidden
			case staticFound:
				for k, v := range extra {
					resp.Headers.Set(k, v)
				}
				if err := resp.ServeFile(filePath); err != nil {
					resp.Status = StatusInternalServerError
				}
			}
			return
		}
	}

	handler, outcome := s.router.resolveRoute(req.Method, req.Path)
	switch outcome {
	case routeFound:
		handler(req, resp)
	case routeMissing:
		cerr := control.NewError(control.ErrRouteNotFound, "no handler for path").
			WithContext("method", req.Method).WithContext("path", req.Path)
		s.logger.Printf("%v", cerr)
		resp.Status = StatusNotFound
	case routeMethodNotAllowed:
		cerr := control.NewError(control.ErrMethodNotAllowed, "method not routable").
			WithContext("method", req.Method).WithContext("path", req.Path)
		s.logger.Printf("%v", cerr)
		resp.Status = StatusMethodNotAllowed
	}
}

// wantsKeepAlive implements the first-request negotiation rule of
// spec.md §4.9: HTTP/1.1 without "Connection: close", or HTTP/1.0 with
// "Connection: keep-alive".
func wantsKeepAlive(req *Request) bool {
	conn, present := req.Headers.Get(HeaderConnection)
	switch req.Version {
	case "HTTP/1.1":
		return !present || !strings.EqualFold(conn, connectionClose)
	case "HTTP/1.0":
		return present && strings.EqualFold(conn, connectionKeepAlive)
	default:
		return false
	}
}

func formatKeepAlive(timeout time.Duration, remaining int) string {
	return "timeout=" + itoa(int(timeout.Seconds())) + ", max=" + itoa(remaining)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
