// Package framed implements the length-prefixed application-message layer
// that sits on top of tcp.Connection: a u32-little-endian length prefix
// followed by a payload that is either a JSON object (structured mode) or
// a u32 type plus raw bytes (opaque mode), with application-level
// ping/pong liveness driving a per-connection timing-wheel entry.
//
// Grounded on cooper's AppTcpServer.{hpp,cpp}: recvBusinessMsgCallback and
// recvMediaMsgCallback are the two decode paths unified here into one
// Server with a Mode switch, per spec.md §9's "unifies them into a single
// two-mode variant" resolution.
//
// Author: momentics <momentics@gmail.com>
package framed

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/sugawarayuuta/sonnet"

	"github.com/momentics/reactorcore/buffer"
)

// lengthPrefixSize is the size of the u32-LE frame length field. Fixed
// little-endian per spec.md §9's resolution of the source's host-endian
// pointer-cast read.
const lengthPrefixSize = 4

// PingType and PongType are the reserved structured/opaque type values
// driving liveness, matching cooper's PING_TYPE=100 / PONG_TYPE=200.
const (
	PingType uint32 = 100
	PongType uint32 = 200
)

// Message is the decoded structured-mode frame: a JSON object carrying at
// least a numeric "type" field, plus its raw fields for handler use.
type Message struct {
	Type   uint32
	Fields map[string]any
}

// encodeFrame prepends a u32-LE length to payload using the buffer's
// fixed prepend area, avoiding a copy of payload itself.
func encodeFrame(payload []byte) []byte {
	out := buffer.New()
	out.Append(payload)
	out.PrependUint32LE(uint32(len(payload)))
	return out.Peek()
}

// EncodeStructured serializes a structured-mode frame: length-prefixed
// JSON with the supplied type merged into the field set.
func EncodeStructured(msgType uint32, fields map[string]any) ([]byte, error) {
	if fields == nil {
		fields = make(map[string]any, 1)
	}
	fields["type"] = msgType
	payload, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("framed: encode structured: %w", err)
	}
	return encodeFrame(payload), nil
}

// EncodeOpaque serializes an opaque-mode frame: length-prefixed u32 type
// followed by body.
func EncodeOpaque(msgType uint32, body []byte) []byte {
	payload := make([]byte, lengthPrefixSize+len(body))
	binary.LittleEndian.PutUint32(payload, msgType)
	copy(payload[lengthPrefixSize:], body)
	return encodeFrame(payload)
}

// decodeFrame extracts one complete length-prefixed frame from buf,
// returning the payload and true if a full frame is available; otherwise
// returns (nil, false) and leaves buf untouched so a later read can
// complete it. Grounded on AppTcpServer::recvBusinessMsgCallback's
// peek-length / wait-for-full-payload structure, corrected to account for
// the 4-byte prefix itself when checking availability (the source's
// `readableBytes() < packSize` omits it).
func decodeFrame(buf *buffer.Buffer) ([]byte, bool) {
	if buf.ReadableBytes() < lengthPrefixSize {
		return nil, false
	}
	header := buf.Peek()[:lengthPrefixSize]
	length := binary.LittleEndian.Uint32(header)
	if buf.ReadableBytes() < lengthPrefixSize+int(length) {
		return nil, false
	}
	buf.Retrieve(lengthPrefixSize)
	return buf.Read(int(length)), true
}

// decodeStructured parses a structured-mode payload, using sonnet for the
// decode path per the asymmetric JSON library usage grounded in
// other_examples/codewanderer42820-evm_triarb/syncharvester/syncharvester.go
// (decode via sonnet, encode via stdlib encoding/json).
func decodeStructured(payload []byte) (*Message, error) {
	var fields map[string]any
	if err := sonnet.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("framed: decode structured: %w", err)
	}
	t, ok := fields["type"]
	if !ok {
		return nil, fmt.Errorf("framed: decode structured: missing \"type\" field")
	}
	tf, ok := t.(float64)
	if !ok {
		return nil, fmt.Errorf("framed: decode structured: \"type\" is not numeric")
	}
	return &Message{Type: uint32(tf), Fields: fields}, nil
}

// decodeOpaque splits an opaque-mode payload into its type and body.
func decodeOpaque(payload []byte) (uint32, []byte, error) {
	if len(payload) < lengthPrefixSize {
		return 0, nil, fmt.Errorf("framed: decode opaque: payload too short (%d bytes)", len(payload))
	}
	t := binary.LittleEndian.Uint32(payload)
	return t, payload[lengthPrefixSize:], nil
}
