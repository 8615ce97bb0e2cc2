package httpserver

import (
	"fmt"
	"strings"

	"github.com/momentics/reactorcore/buffer"
)

// multipartParser is the five-state multipart/form-data machine described
// in spec.md §4.9. No reference implementation of
// MultipartFormDataParser::parse exists in the retrieved cooper source
// (only the class and its field names, dashBoundaryCrlf_/crlfDashBoundary_/
// state_, are declared in Http.hpp); the state transitions themselves are
// authored from the spec text, keeping those field names as the model for
// this type's own.
type multipartParser struct {
	dashBoundaryCrlf []byte // state 0 target: "--boundary\r\n"
	crlfDashBoundary []byte // state 3 target: "\r\n--boundary"

	state int

	current FormFile
	content []byte

	files *[]FormFile
}

func newMultipartParser(boundary string, files *[]FormFile) *multipartParser {
	dashBoundary := "--" + boundary
	return &multipartParser{
		dashBoundaryCrlf: []byte(dashBoundary + "\r\n"),
		crlfDashBoundary: []byte("\r\n" + dashBoundary),
		files:            files,
	}
}

// feed advances the parser as far as buf's currently-available bytes
// allow, consuming everything it can commit to and leaving the remainder
// untouched for the next feed call (triggered by the next socket read).
// Returns done=true once the terminating "--boundary--" has been seen.
func (p *multipartParser) feed(buf *buffer.Buffer) (done bool, err error) {
	for {
		switch p.state {
		case 0: // find the first "--boundary\r\n"
			idx, found := buf.Find(p.dashBoundaryCrlf)
			if !found {
				return false, nil
			}
			buf.Retrieve(idx + len(p.dashBoundaryCrlf))
			p.state = 1

		case 1: // begin a new part; clear current file info
			p.current = FormFile{}
			p.content = nil
			p.state = 2

		case 2: // read part headers until a blank line
			ok, perr := p.readPartHeaders(buf)
			if perr != nil {
				return false, perr
			}
			if !ok {
				return false, nil
			}
			p.state = 3

		case 3: // stream content until the next "\r\n--boundary"
			complete, cerr := p.streamContent(buf)
			if cerr != nil {
				return false, cerr
			}
			if !complete {
				return false, nil
			}
			p.current.Content = p.content
			*p.files = append(*p.files, p.current)
			p.state = 4

		case 4: // after a boundary: \r\n -> next part, -- -> end, else error
			if buf.ReadableBytes() < 2 {
				return false, nil
			}
			head := buf.Peek()
			switch {
			case head[0] == '\r' && head[1] == '\n':
				buf.Retrieve(2)
				p.state = 1
			case head[0] == '-' && head[1] == '-':
				buf.Retrieve(2)
				return true, nil
			default:
				return false, fmt.Errorf("httpserver: multipart: unexpected bytes after boundary")
			}
		}
	}
}

// readPartHeaders reads CRLF-terminated lines until a blank line,
// extracting name/filename from Content-Disposition and the part's
// Content-Type, matching each header name case-insensitively.
func (p *multipartParser) readPartHeaders(buf *buffer.Buffer) (ok bool, err error) {
	for {
		idx, found := buf.FindCRLF()
		if !found {
			return false, nil
		}
		line := buf.ReadUntil(idx)
		buf.Retrieve(idx + 2)
		if len(line) == 0 {
			return true, nil
		}
		colon := strings.IndexByte(string(line), ':')
		if colon < 0 {
			return false, fmt.Errorf("httpserver: multipart: malformed part header %q", line)
		}
		key := strings.TrimSpace(string(line[:colon]))
		value := strings.TrimSpace(string(line[colon+1:]))
		switch {
		case strings.EqualFold(key, "Content-Disposition"):
			p.current.Name, p.current.Filename = parseContentDisposition(value)
		case strings.EqualFold(key, "Content-Type"):
			p.current.ContentType = value
		}
	}
}

// parseContentDisposition extracts the name and filename parameters from
// a `form-data; name="f"; filename="a.txt"` value.
func parseContentDisposition(value string) (name, filename string) {
	for _, param := range strings.Split(value, ";") {
		param = strings.TrimSpace(param)
		switch {
		case strings.HasPrefix(param, "name="):
			name = strings.Trim(strings.TrimPrefix(param, "name="), `"`)
		case strings.HasPrefix(param, "filename="):
			filename = strings.Trim(strings.TrimPrefix(param, "filename="), `"`)
		}
	}
	return name, filename
}

// streamContent commits bytes up to the next "\r\n--boundary" occurrence.
// When the terminator has not yet arrived, only the bytes preceding the
// last len(crlfDashBoundary)-1 of the buffer are committed, so a
// terminator straddling this read and the next one is never split and
// falsely missed, per spec.md §4.9 state 3.
func (p *multipartParser) streamContent(buf *buffer.Buffer) (complete bool, err error) {
	data := buf.Peek()
	if idx, found := buf.Find(p.crlfDashBoundary); found {
		p.content = append(p.content, data[:idx]...)
		buf.Retrieve(idx + len(p.crlfDashBoundary))
		return true, nil
	}
	safe := len(data) - (len(p.crlfDashBoundary) - 1)
	if safe <= 0 {
		return false, nil
	}
	p.content = append(p.content, data[:safe]...)
	buf.Retrieve(safe)
	return false, nil
}
