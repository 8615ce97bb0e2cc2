package httpserver

import (
	"strconv"
	"strings"

	"github.com/momentics/reactorcore/buffer"
)

// FormFile is one streamed or materialised multipart part, grounded on
// cooper's MultipartFormData (Http.hpp).
type FormFile struct {
	Name        string
	Filename    string
	ContentType string
	Content     []byte
}

// Request is a fully-parsed HTTP/1.1 request. Parsing proceeds strictly
// start-line -> headers -> body; any failed step is fatal for the
// connection, per spec.md §3's HTTP request data model.
type Request struct {
	Method  string
	Path    string
	Version string
	Headers *Headers
	Body    []byte
	Files   []FormFile
}

// parseRequestStartingLine reads one CRLF-terminated line and splits it
// into method/path/version, grounded on
// HttpRequest::parseRequestStartingLine. Returns (false, false) if the
// line is not yet complete (caller should wait for more bytes) and
// (false, true) if it is complete but malformed.
func parseRequestStartingLine(buf *buffer.Buffer, req *Request) (ok, fatal bool) {
	idx, found := buf.FindCRLF()
	if !found {
		return false, false
	}
	line := buf.ReadUntil(idx)
	buf.Retrieve(idx + 2)

	fields := strings.Fields(string(line))
	if len(fields) != 3 {
		return false, true
	}
	req.Method, req.Path, req.Version = fields[0], fields[1], fields[2]
	if !allowedMethods[req.Method] {
		return false, true
	}
	if !allowedVersions[req.Version] {
		return false, true
	}
	return true, false
}

// parseHeaders reads CRLF-terminated header lines until a blank line,
// grounded on HttpRequest::parseHeaders. Returns (false, false) if
// incomplete, (false, true) if malformed.
func parseHeaders(buf *buffer.Buffer, req *Request) (ok, fatal bool) {
	if req.Headers == nil {
		req.Headers = NewHeaders()
	}
	for {
		idx, found := buf.FindCRLF()
		if !found {
			return false, false
		}
		line := buf.ReadUntil(idx)
		buf.Retrieve(idx + 2)
		if len(line) == 0 {
			return true, false
		}
		colon := strings.IndexByte(string(line), ':')
		if colon < 0 {
			return false, true
		}
		key := strings.TrimSpace(string(line[:colon]))
		value := strings.TrimSpace(string(line[colon+1:]))
		if key == "" {
			return false, true
		}
		req.Headers.Set(key, value)
	}
}

// parseBody consumes the body according to Content-Length, grounded on
// HttpRequest::parseBody; multipart bodies are handled separately by the
// caller (isMultipart), which dispatches to the dedicated multipart state
// machine instead of calling this. Returns (false, false) if the declared
// length has not fully arrived yet.
func parseBody(buf *buffer.Buffer, req *Request) (ok, fatal bool) {
	cl, present := req.Headers.Get(HeaderContentLength)
	if !present || cl == "" {
		req.Body = buf.Read(buf.ReadableBytes())
		return true, false
	}
	length, err := strconv.Atoi(cl)
	if err != nil || length < 0 {
		return false, true
	}
	if buf.ReadableBytes() < length {
		return false, false
	}
	req.Body = buf.Read(length)
	return true, false
}

// isMultipart reports whether the request's Content-Type begins with
// multipart/form-data, and returns the boundary parameter if so.
func isMultipart(req *Request) (boundary string, ok bool) {
	ct, present := req.Headers.Get(HeaderContentType)
	if !present {
		return "", false
	}
	const prefix = "multipart/form-data"
	if !strings.HasPrefix(ct, prefix) {
		return "", false
	}
	parts := strings.Split(ct, ";")
	for _, p := range parts[1:] {
		p = strings.TrimSpace(p)
		if strings.HasPrefix(p, "boundary=") {
			b := strings.TrimPrefix(p, "boundary=")
			b = strings.Trim(b, `"`)
			return b, b != ""
		}
	}
	return "", false
}
