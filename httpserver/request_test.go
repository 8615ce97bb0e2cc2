package httpserver

import (
	"testing"

	"github.com/momentics/reactorcore/buffer"
)

func TestParseRequestStartingLineWaitsForCRLF(t *testing.T) {
	buf := buffer.New()
	buf.Append([]byte("GET /index.html HTTP/1.1"))
	req := &Request{}
	ok, fatal := parseRequestStartingLine(buf, req)
	if ok || fatal {
		t.Fatalf("expected (false, false) without a terminating CRLF, got (%v, %v)", ok, fatal)
	}
}

func TestParseRequestStartingLineParsesFields(t *testing.T) {
	buf := buffer.New()
	buf.Append([]byte("GET /index.html HTTP/1.1\r\nHost: example.com\r\n\r\n"))
	req := &Request{}
	ok, fatal := parseRequestStartingLine(buf, req)
	if !ok || fatal {
		t.Fatalf("parseRequestStartingLine: ok=%v fatal=%v", ok, fatal)
	}
	if req.Method != "GET" || req.Path != "/index.html" || req.Version != "HTTP/1.1" {
		t.Fatalf("unexpected parse: %+v", req)
	}
}

func TestParseRequestStartingLineRejectsUnknownMethod(t *testing.T) {
	buf := buffer.New()
	buf.Append([]byte("FROB / HTTP/1.1\r\n"))
	req := &Request{}
	ok, fatal := parseRequestStartingLine(buf, req)
	if ok || !fatal {
		t.Fatalf("expected fatal rejection of unknown method, got (%v, %v)", ok, fatal)
	}
}

func TestParseHeadersCollectsUntilBlankLine(t *testing.T) {
	buf := buffer.New()
	buf.Append([]byte("Host: example.com\r\nContent-Length: 5\r\n\r\nhello"))
	req := &Request{}
	ok, fatal := parseHeaders(buf, req)
	if !ok || fatal {
		t.Fatalf("parseHeaders: ok=%v fatal=%v", ok, fatal)
	}
	if v, _ := req.Headers.Get("host"); v != "example.com" {
		t.Fatalf("Host header not preserved case-insensitively: %q", v)
	}
	if buf.ReadableBytes() != 5 {
		t.Fatalf("expected 5 leftover body bytes, got %d", buf.ReadableBytes())
	}
}

func TestParseBodyWaitsForFullContentLength(t *testing.T) {
	buf := buffer.New()
	req := &Request{Headers: NewHeaders()}
	req.Headers.Set(HeaderContentLength, "5")
	buf.Append([]byte("he"))
	ok, fatal := parseBody(buf, req)
	if ok || fatal {
		t.Fatalf("expected (false, false) for a partial body, got (%v, %v)", ok, fatal)
	}
	buf.Append([]byte("llo"))
	ok, fatal = parseBody(buf, req)
	if !ok || fatal {
		t.Fatalf("parseBody: ok=%v fatal=%v", ok, fatal)
	}
	if string(req.Body) != "hello" {
		t.Fatalf("unexpected body: %q", req.Body)
	}
}

func TestIsMultipartExtractsBoundary(t *testing.T) {
	req := &Request{Headers: NewHeaders()}
	req.Headers.Set(HeaderContentType, `multipart/form-data; boundary=----abc123`)
	boundary, ok := isMultipart(req)
	if !ok || boundary != "----abc123" {
		t.Fatalf("isMultipart: ok=%v boundary=%q", ok, boundary)
	}
}

func TestIsMultipartFalseForOrdinaryBody(t *testing.T) {
	req := &Request{Headers: NewHeaders()}
	req.Headers.Set(HeaderContentType, "application/json")
	if _, ok := isMultipart(req); ok {
		t.Fatalf("expected isMultipart to be false for application/json")
	}
}
