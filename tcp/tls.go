package tcp

import "github.com/momentics/reactorcore/buffer"

// TLSProvider is the byte-in/byte-out filter interface the TLS provider
// consumes, per spec.md §1's explicit out-of-scope framing: the reactor
// core only ever calls into a provider through this boundary and never
// implements one itself. Grounded on cooper's TcpConnectionImpl.cpp TLS
// callback glue (onSslError, onHandshakeFinished, onSslMessage,
// onSslWrite, onSslCloseAlert), translated into a Go interface with no
// concrete implementation.
type TLSProvider interface {
	// StartEncryption begins the handshake (as client or server,
	// determined by how the provider was constructed).
	StartEncryption()

	// RecvData feeds ciphertext from buf; decoded cleartext is delivered
	// later via the message callback.
	RecvData(buf *buffer.Buffer)

	// SendData encrypts and writes cleartext, returning the number of
	// input bytes consumed.
	SendData(cleartext []byte) (int, error)

	// SendBufferedData flushes any ciphertext queued internally by the
	// provider (e.g. because the raw write callback backpressured);
	// returns true once fully drained.
	SendBufferedData() bool

	// BufferedDataLen reports bytes still queued inside the provider,
	// counted toward the connection's high-water-mark check.
	BufferedDataLen() int

	// Close sends a TLS close_notify alert to the peer.
	Close()

	SetWriteCallback(func(ciphertext []byte) (int, error))
	SetMessageCallback(func(buf *buffer.Buffer))
	SetHandshakeCallback(func())
	SetErrorCallback(func(err error))
	SetCloseCallback(func())
}
