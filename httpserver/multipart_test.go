package httpserver

import (
	"bytes"
	"testing"

	"github.com/momentics/reactorcore/buffer"
)

const testBoundary = "----boundary7f3a"

func buildMultipartBody(boundary string) []byte {
	var b bytes.Buffer
	b.WriteString("--" + boundary + "\r\n")
	b.WriteString("Content-Disposition: form-data; name=\"title\"\r\n\r\n")
	b.WriteString("hello\r\n")
	b.WriteString("--" + boundary + "\r\n")
	b.WriteString("Content-Disposition: form-data; name=\"upload\"; filename=\"a.txt\"\r\n")
	b.WriteString("Content-Type: text/plain\r\n\r\n")
	b.WriteString("file contents here")
	b.WriteString("\r\n--" + boundary + "--\r\n")
	return b.Bytes()
}

func TestMultipartParserWholeBodyInOneFeed(t *testing.T) {
	body := buildMultipartBody(testBoundary)
	buf := buffer.New()
	buf.Append(body)

	var files []FormFile
	p := newMultipartParser(testBoundary, &files)
	done, err := p.feed(buf)
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if !done {
		t.Fatalf("expected parser to complete on a whole body")
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(files))
	}
	if files[0].Name != "title" || string(files[0].Content) != "hello" {
		t.Fatalf("unexpected first part: %+v", files[0])
	}
	if files[1].Name != "upload" || files[1].Filename != "a.txt" || files[1].ContentType != "text/plain" {
		t.Fatalf("unexpected second part metadata: %+v", files[1])
	}
	if string(files[1].Content) != "file contents here" {
		t.Fatalf("unexpected second part content: %q", files[1].Content)
	}
}

// TestMultipartParserSurvivesArbitraryChunking feeds the same body one
// byte at a time, asserting that splitting the stream at every possible
// boundary still yields the exact same (name, filename, content_type,
// content) tuples.
func TestMultipartParserSurvivesArbitraryChunking(t *testing.T) {
	body := buildMultipartBody(testBoundary)
	buf := buffer.New()

	var files []FormFile
	p := newMultipartParser(testBoundary, &files)

	var done bool
	for i := 0; i < len(body); i++ {
		buf.Append(body[i : i+1])
		var err error
		done, err = p.feed(buf)
		if err != nil {
			t.Fatalf("feed at byte %d: %v", i, err)
		}
		if done {
			break
		}
	}
	if !done {
		t.Fatalf("parser never completed across byte-at-a-time feed")
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(files))
	}
	if files[0].Name != "title" || string(files[0].Content) != "hello" {
		t.Fatalf("unexpected first part: %+v", files[0])
	}
	if files[1].Name != "upload" || files[1].Filename != "a.txt" || files[1].ContentType != "text/plain" {
		t.Fatalf("unexpected second part metadata: %+v", files[1])
	}
	if string(files[1].Content) != "file contents here" {
		t.Fatalf("unexpected second part content: %q", files[1].Content)
	}
}

func TestParseContentDispositionHandlesBothParams(t *testing.T) {
	name, filename := parseContentDisposition(`form-data; name="f"; filename="report.csv"`)
	if name != "f" || filename != "report.csv" {
		t.Fatalf("parseContentDisposition: name=%q filename=%q", name, filename)
	}
}
