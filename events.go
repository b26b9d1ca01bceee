package httpcore

import "fmt"

// Event is an HTTP-level event produced by a protocol engine. The set of
// implementations is closed: ConnectionTerminated, GoawayReceived,
// HeadersReceived, DataReceived, StreamResetReceived and StreamResetSent.
type Event interface {
	isEvent()
}

// StreamEvent is implemented by events scoped to a single stream.
type StreamEvent interface {
	Event
	Stream() uint64
}

// ConnectionTerminated reports that the connection is terminal. The engine
// emits it at most once and produces no further events afterwards.
type ConnectionTerminated struct {
	// ErrorCode is the version-specific reason for closing the connection.
	ErrorCode uint64
	// Message optionally carries more information.
	Message string
}

func (ConnectionTerminated) isEvent() {}

func (e ConnectionTerminated) String() string {
	return fmt.Sprintf("ConnectionTerminated(error_code=%d, message=%q)", e.ErrorCode, e.Message)
}

// GoawayReceived reports that the peer will process no new streams with an
// ID above LastStreamID. Existing streams may continue.
type GoawayReceived struct {
	// LastStreamID is the highest stream ID the peer may still process.
	LastStreamID uint64
	// ErrorCode is the version-specific reason for going away.
	ErrorCode uint64
}

func (GoawayReceived) isEvent() {}

func (e GoawayReceived) String() string {
	return fmt.Sprintf("GoawayReceived(last_stream_id=%d, error_code=%d)", e.LastStreamID, e.ErrorCode)
}

// HeadersReceived reports a received header block. For HTTP/1 connections
// the pseudo-headers are synthesized from the request or status line.
type HeadersReceived struct {
	StreamID uint64
	Headers  Headers
	// EndStream signals that the peer will send no more data on the stream.
	EndStream bool
}

func (HeadersReceived) isEvent() {}

// Stream returns the stream the headers arrived on.
func (e HeadersReceived) Stream() uint64 { return e.StreamID }

func (e HeadersReceived) String() string {
	return fmt.Sprintf("HeadersReceived(stream_id=%d, len(headers)=%d, end_stream=%t)",
		e.StreamID, len(e.Headers), e.EndStream)
}

// DataReceived reports a received chunk of body data.
type DataReceived struct {
	StreamID uint64
	Data     []byte
	// EndStream signals that the peer will send no more data on the stream.
	EndStream bool
}

func (DataReceived) isEvent() {}

// Stream returns the stream the data arrived on.
func (e DataReceived) Stream() uint64 { return e.StreamID }

func (e DataReceived) String() string {
	return fmt.Sprintf("DataReceived(stream_id=%d, len(data)=%d, end_stream=%t)",
		e.StreamID, len(e.Data), e.EndStream)
}

// StreamResetReceived reports that the peer reset a stream. The stream must
// no longer be used; the connection and other streams are unaffected.
type StreamResetReceived struct {
	StreamID  uint64
	ErrorCode uint64
}

func (StreamResetReceived) isEvent() {}

// Stream returns the reset stream.
func (e StreamResetReceived) Stream() uint64 { return e.StreamID }

func (e StreamResetReceived) String() string {
	return fmt.Sprintf("StreamResetReceived(stream_id=%d, error_code=%d)", e.StreamID, e.ErrorCode)
}

// StreamResetSent mirrors a locally submitted stream reset so observers can
// see both directions of reset traffic.
type StreamResetSent struct {
	StreamID  uint64
	ErrorCode uint64
}

func (StreamResetSent) isEvent() {}

// Stream returns the reset stream.
func (e StreamResetSent) Stream() uint64 { return e.StreamID }

func (e StreamResetSent) String() string {
	return fmt.Sprintf("StreamResetSent(stream_id=%d, error_code=%d)", e.StreamID, e.ErrorCode)
}
