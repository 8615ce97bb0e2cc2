package httpserver

import (
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/momentics/reactorcore/tcp"
)

// mimeTypes is the common-extension-to-Content-Type table used for static
// file responses, grounded on cooper's utils::findContentType (called from
// HttpServer::handleFileRequest; its own table was not present in the
// retrieval pack, so the entries below are the common web extensions any
// such table carries).
var mimeTypes = map[string]string{
	".html": "text/html; charset=utf-8",
	".htm":  "text/html; charset=utf-8",
	".css":  "text/css; charset=utf-8",
	".js":   "application/javascript; charset=utf-8",
	".json": "application/json; charset=utf-8",
	".txt":  "text/plain; charset=utf-8",
	".xml":  "application/xml; charset=utf-8",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
	".ico":  "image/x-icon",
	".pdf":  "application/pdf",
	".wasm": "application/wasm",
}

const defaultContentType = "application/octet-stream"

func contentTypeFor(filePath string) string {
	ext := strings.ToLower(path.Ext(filePath))
	if ct, ok := mimeTypes[ext]; ok {
		return ct
	}
	return defaultContentType
}

// Response is the server's mutable response-in-progress, grounded on
// cooper's HttpResponse/HttpContentWriter pair (Http.hpp).
type Response struct {
	Status  Status
	Headers *Headers
	Body    []byte

	file       *os.File
	fileSize   int64
}

// NewResponse returns a 200 OK response with an empty header set.
func NewResponse() *Response {
	return &Response{Status: StatusOK, Headers: NewHeaders()}
}

// SetBody sets the response body to a materialised byte slice.
func (r *Response) SetBody(body []byte) { r.Body = body }

// ServeFile opens filePath for a zero-copy file transfer and sets
// Content-Type from its extension. The caller must not call SetBody on
// the same response. Grounded on
// HttpServer::handleFileRequest/HttpContentWriter.
func (r *Response) ServeFile(filePath string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("httpserver: serve file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("httpserver: serve file: %w", err)
	}
	r.file = f
	r.fileSize = info.Size()
	r.Headers.Set(HeaderContentType, contentTypeFor(filePath))
	return nil
}

// write serializes the status line and headers, then the body or the
// opened file via the connection's zero-copy send path. keepAliveHeader,
// if non-empty, is set as the Keep-Alive header value before
// serialization. Returns the *os.File opened by ServeFile, if any, so the
// caller can close it once the transfer completes.
func (r *Response) write(conn *tcp.Connection, keepAliveHeader string) *os.File {
	r.Headers.Set(HeaderServer, ServerName)
	if keepAliveHeader != "" {
		r.Headers.Set(HeaderKeepAlive, keepAliveHeader)
	}
	if r.file != nil {
		if r.fileSize > 0 {
			r.Headers.Set(HeaderContentLength, strconv.FormatInt(r.fileSize, 10))
		}
	} else if len(r.Body) > 0 {
		r.Headers.Set(HeaderContentLength, strconv.Itoa(len(r.Body)))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", r.Status.Code, r.Status.Reason)
	r.Headers.Range(func(key, value string) {
		fmt.Fprintf(&b, "%s: %s\r\n", key, value)
	})
	b.WriteString("\r\n")
	if r.file == nil {
		b.Write(r.Body)
	}
	conn.SendString(b.String())

	if r.file != nil {
		fd := int(r.file.Fd())
		conn.SendFile(fd, 0, r.fileSize)
		return r.file
	}
	return nil
}
