package httpcore

import "time"

// HTTPProtocol is the version-agnostic contract of a sans-I/O HTTP
// connection. One instance manages one transport connection; it is owned
// exclusively by its driving task and every method is synchronous.
//
// The contract is pull-based on both sides: the caller feeds transport
// input through the transport-shaped extension interface
// (HTTPOverTCPProtocol or HTTPOverQUICProtocol), drains HTTP events with
// NextEvent, submits actions, and drains the resulting outbound bytes or
// datagrams.
type HTTPProtocol interface {
	// HTTPVersion returns the ALPN-style version tag: "http/1.1", "h2"
	// or "h3".
	HTTPVersion() string

	// Multiplexed reports whether the connection supports multiple
	// parallel streams. False for HTTP/1.
	Multiplexed() bool

	// ErrorCodes returns the wire error codes of this HTTP version.
	ErrorCodes() ErrorCodes

	// IsAvailable reports whether a new stream may be opened right now.
	IsAvailable() bool

	// HasExpired reports whether the connection is terminal or must not
	// be reused for further streams.
	HasExpired() bool

	// GetAvailableStreamID returns a stream ID for a new stream. The ID
	// is reserved at allocation: two successive calls return distinct
	// IDs even without an intervening SubmitHeaders (HTTP/1, which has a
	// single stream, is the exception and always deals in stream 1).
	// Fails with ErrNotAvailable when no stream can be opened.
	GetAvailableStreamID() (uint64, error)

	// SubmitHeaders sends a header block on the stream, starting a
	// request (client) or a response (server). Invalid calls fail with a
	// *MisuseError and leave connection state unchanged.
	SubmitHeaders(streamID uint64, headers Headers, endStream bool) error

	// SubmitData sends body data on an open stream.
	SubmitData(streamID uint64, data []byte, endStream bool) error

	// SubmitStreamReset terminates one stream immediately. HTTP/1 has no
	// reset on the wire, so there it forces the connection closed.
	SubmitStreamReset(streamID uint64, errorCode uint64) error

	// SubmitClose starts a graceful connection shutdown, emitting the
	// version's GOAWAY/close equivalent.
	SubmitClose(errorCode uint64) error

	// NextEvent consumes the next HTTP event, or returns nil when the
	// queue is empty and more transport input is needed. After a
	// ConnectionTerminated event it returns nil forever.
	NextEvent() Event

	// Info exposes the transport details recorded by the connection
	// layer.
	Info() *ConnectionInfo
}

// HTTPOverTCPProtocol is an HTTPProtocol driven by a byte-oriented
// transport. HTTP/1 and HTTP/2 engines implement it.
type HTTPOverTCPProtocol interface {
	HTTPProtocol

	// BytesReceived feeds received transport bytes to the engine. The
	// parser advances opportunistically; resulting events become
	// observable through NextEvent.
	BytesReceived(data []byte)

	// BytesToSend drains the pending outbound buffer. Bytes produced
	// after action A and before action B contain the wire encoding of A
	// in submission order.
	BytesToSend() []byte

	// EOFReceived signals a half-close from the peer.
	EOFReceived()

	// ConnectionLost signals abrupt transport loss. If the connection is
	// not already terminal the engine synthesizes a ConnectionTerminated
	// event; err == nil is treated as a clean close.
	ConnectionLost(err error)
}

// HTTPOverQUICProtocol is an HTTPProtocol driven by a datagram transport
// with integrated TLS. HTTP/3 engines implement it.
type HTTPOverQUICProtocol interface {
	HTTPProtocol

	// Clock feeds the driver's monotonic time to the engine so timer
	// handling can run without new I/O.
	Clock(now time.Time)

	// GetTimer returns the next absolute time the engine needs to run
	// for retransmission or ACK timers, if any.
	GetTimer() (time.Time, bool)

	// DatagramReceived feeds one received UDP datagram to the engine.
	DatagramReceived(dg Datagram)

	// DatagramsToSend drains the outbound datagram batch generated since
	// the last call.
	DatagramsToSend() []Datagram

	// ConnectionIDs returns the currently valid QUIC connection IDs,
	// usable for routing packets to connections.
	ConnectionIDs() [][]byte

	// ConnectionLost signals abrupt transport loss, as in
	// HTTPOverTCPProtocol.
	ConnectionLost(err error)
}
