package framed

import (
	"bytes"
	"testing"

	"github.com/momentics/reactorcore/buffer"
)

func TestEncodeDecodeOpaqueRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 255, 4096, 1 << 16} {
		body := bytes.Repeat([]byte{0xAB}, n)
		frame := EncodeOpaque(42, body)

		buf := buffer.New()
		buf.Append(frame)

		payload, ok := decodeFrame(buf)
		if !ok {
			t.Fatalf("n=%d: decodeFrame returned false", n)
		}
		msgType, decoded, err := decodeOpaque(payload)
		if err != nil {
			t.Fatalf("n=%d: decodeOpaque: %v", n, err)
		}
		if msgType != 42 {
			t.Fatalf("n=%d: type = %d, want 42", n, msgType)
		}
		if !bytes.Equal(decoded, body) {
			t.Fatalf("n=%d: body mismatch", n)
		}
	}
}

func TestDecodeFrameWaitsForFullPayload(t *testing.T) {
	frame := EncodeOpaque(1, []byte("hello world"))
	buf := buffer.New()
	// Feed one byte at a time; decodeFrame must return false until the
	// complete frame (length prefix + payload) has arrived.
	for i := 0; i < len(frame)-1; i++ {
		buf.AppendByte(frame[i])
		if _, ok := decodeFrame(buf); ok {
			t.Fatalf("decodeFrame succeeded after only %d/%d bytes", i+1, len(frame))
		}
	}
	buf.AppendByte(frame[len(frame)-1])
	payload, ok := decodeFrame(buf)
	if !ok {
		t.Fatal("decodeFrame did not succeed once the full frame arrived")
	}
	msgType, body, err := decodeOpaque(payload)
	if err != nil {
		t.Fatalf("decodeOpaque: %v", err)
	}
	if msgType != 1 || string(body) != "hello world" {
		t.Fatalf("got type=%d body=%q", msgType, body)
	}
}

func TestEncodeDecodeStructuredRoundTrip(t *testing.T) {
	frame, err := EncodeStructured(1, map[string]any{"data": "x"})
	if err != nil {
		t.Fatalf("EncodeStructured: %v", err)
	}
	buf := buffer.New()
	buf.Append(frame)
	payload, ok := decodeFrame(buf)
	if !ok {
		t.Fatal("decodeFrame returned false")
	}
	msg, err := decodeStructured(payload)
	if err != nil {
		t.Fatalf("decodeStructured: %v", err)
	}
	if msg.Type != 1 {
		t.Fatalf("type = %d, want 1", msg.Type)
	}
	if msg.Fields["data"] != "x" {
		t.Fatalf("data field = %v, want \"x\"", msg.Fields["data"])
	}
}

func TestPingPongFramesUseReservedTypes(t *testing.T) {
	ping := EncodeOpaque(PingType, nil)
	buf := buffer.New()
	buf.Append(ping)
	payload, ok := decodeFrame(buf)
	if !ok {
		t.Fatal("decodeFrame returned false")
	}
	msgType, body, err := decodeOpaque(payload)
	if err != nil {
		t.Fatalf("decodeOpaque: %v", err)
	}
	if msgType != PingType || len(body) != 0 {
		t.Fatalf("got type=%d body=%q, want PingType/empty", msgType, body)
	}
}
