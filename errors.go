package httpcore

import (
	"errors"
	"fmt"
)

// ErrNotAvailable is returned by GetAvailableStreamID when no stream can be
// allocated right now: the single HTTP/1 stream is busy, a GOAWAY was seen,
// the handshake has not finished, or the stream-ID space is exhausted.
var ErrNotAvailable = errors.New("httpcore: no stream available")

// ErrConnectionClosed is returned from submit operations once the
// connection is terminal.
var ErrConnectionClosed = errors.New("httpcore: connection closed")

// MisuseError reports that the caller violated the API contract, for
// example by submitting data before headers or writing to a reset stream.
// The submit call fails synchronously and connection state is unchanged.
type MisuseError struct {
	Op       string
	StreamID uint64
	Msg      string
}

// Error returns a string representation of the MisuseError.
func (e *MisuseError) Error() string {
	return fmt.Sprintf("httpcore: %s on stream %d: %s", e.Op, e.StreamID, e.Msg)
}

// NewMisuseError creates a MisuseError for the given operation and stream.
func NewMisuseError(op string, streamID uint64, msg string) *MisuseError {
	return &MisuseError{Op: op, StreamID: streamID, Msg: msg}
}

// IsMisuse reports whether err is a MisuseError.
func IsMisuse(err error) bool {
	var me *MisuseError
	return errors.As(err, &me)
}

// TransportError wraps a transport-level failure that stops a submit
// operation, such as an HTTP/3 stream write failing for a reason other
// than a stream reset. Errors passed to ConnectionLost are not wrapped:
// engines turn them into a terminal ConnectionTerminated event with the
// version's internal_error code and the error text as message.
type TransportError struct {
	Cause error
}

// Error returns a string representation of the TransportError.
func (e *TransportError) Error() string {
	return fmt.Sprintf("httpcore: transport error: %v", e.Cause)
}

// Unwrap returns the underlying cause.
func (e *TransportError) Unwrap() error { return e.Cause }
