package buffer

import (
	"bytes"
	"testing"
)

func TestAppendPeekRetrieve(t *testing.T) {
	b := New()
	b.Append([]byte("hello"))
	if got := string(b.Peek()); got != "hello" {
		t.Fatalf("Peek = %q, want hello", got)
	}
	b.Retrieve(2)
	if got := string(b.Peek()); got != "llo" {
		t.Fatalf("Peek after Retrieve(2) = %q, want llo", got)
	}
	b.RetrieveAll()
	if b.ReadableBytes() != 0 {
		t.Fatalf("ReadableBytes after RetrieveAll = %d, want 0", b.ReadableBytes())
	}
}

func TestReadConsumes(t *testing.T) {
	b := New()
	b.Append([]byte("0123456789"))
	got := b.Read(4)
	if string(got) != "0123" {
		t.Fatalf("Read(4) = %q, want 0123", got)
	}
	if string(b.Peek()) != "456789" {
		t.Fatalf("remaining = %q, want 456789", b.Peek())
	}
}

func TestFindCRLF(t *testing.T) {
	b := New()
	b.Append([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"))
	idx, ok := b.FindCRLF()
	if !ok || idx != 14 {
		t.Fatalf("FindCRLF = (%d,%v), want (14,true)", idx, ok)
	}
	line := b.ReadUntil(idx)
	if string(line) != "GET / HTTP/1.1" {
		t.Fatalf("ReadUntil = %q", line)
	}
	b.RetrieveUntil(idx + 2)
	if string(b.Peek()[:5]) != "Host:" {
		t.Fatalf("after RetrieveUntil, head = %q", b.Peek()[:5])
	}
}

func TestGeometricGrowth(t *testing.T) {
	b := New()
	big := bytes.Repeat([]byte("x"), 1<<20+1)
	b.Append(big)
	if b.ReadableBytes() != len(big) {
		t.Fatalf("ReadableBytes = %d, want %d", b.ReadableBytes(), len(big))
	}
	if !bytes.Equal(b.Peek(), big) {
		t.Fatalf("content mismatch after growth")
	}
}

func TestPrependUint32LE(t *testing.T) {
	b := New()
	b.Append([]byte("payload"))
	b.PrependUint32LE(7)
	got := b.Peek()
	if len(got) != 11 {
		t.Fatalf("len = %d, want 11", len(got))
	}
	if got[0] != 7 || got[1] != 0 || got[2] != 0 || got[3] != 0 {
		t.Fatalf("prefix = %v, want little-endian 7", got[:4])
	}
	if string(got[4:]) != "payload" {
		t.Fatalf("payload = %q", got[4:])
	}
}

func TestCompactReuse(t *testing.T) {
	b := New()
	b.Append(bytes.Repeat([]byte("a"), 900))
	b.Retrieve(900)
	// The backing array should be reused, not regrown: retrieving every
	// readable byte resets both cursors, so a second 500-byte append fits
	// the existing writable space.
	before := len(b.buf)
	b.Append(bytes.Repeat([]byte("b"), 500))
	if len(b.buf) != before {
		t.Fatalf("buffer regrew on compactable append: before=%d after=%d", before, len(b.buf))
	}
	if string(b.Peek()) != string(bytes.Repeat([]byte("b"), 500)) {
		t.Fatalf("content mismatch after compaction")
	}
}
