// Package http1 implements the sans-I/O HTTP/1.1 engine. It maps the
// line-oriented wire format onto the common event vocabulary: request and
// status lines become pseudo-headers on receive and are reconstructed from
// them on send. HTTP/1 has a single logical stream, always stream 1, and
// no pipelining.
package http1

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"example.com/httpcore"
)

// ALPNProtocol is the ALPN token for HTTP/1.1.
const ALPNProtocol = "http/1.1"

// StreamID is the only stream identifier HTTP/1 connections use.
const StreamID uint64 = 1

type sendState int

const (
	sendIdle sendState = iota // nothing submitted this cycle
	sendBody                  // head written, body open
	sendDone                  // end of message sent
)

type recvState int

const (
	recvHead recvState = iota
	recvBody
	recvDone
)

type chunkPhase int

const (
	chunkSize chunkPhase = iota
	chunkData
	chunkDataCRLF
	chunkTrailer
)

// Protocol is a sans-I/O HTTP/1.1 connection.
type Protocol struct {
	role   httpcore.Role
	scheme string
	log    zerolog.Logger
	info   httpcore.ConnectionInfo

	recvBuf []byte
	sendBuf bytes.Buffer
	events  []httpcore.Event

	terminated bool
	closing    bool // SubmitClose requested

	// Send direction.
	sstate    sendState
	sendKind  bodyKind
	sendLeft  int64
	sendClose bool

	// Receive direction.
	rstate    recvState
	recvKind  bodyKind
	recvLeft  int64
	recvClose bool
	peerEOF   bool
	cphase    chunkPhase

	// The request method in flight, used to interpret the response.
	method string
}

// NewProtocol creates an HTTP/1.1 engine for one transport connection.
// The scheme ("http" or "https") feeds pseudo-header synthesis on the
// server side.
func NewProtocol(role httpcore.Role, scheme string, log zerolog.Logger) *Protocol {
	return &Protocol{
		role:   role,
		scheme: scheme,
		log:    log.With().Str("proto", ALPNProtocol).Stringer("role", role).Logger(),
	}
}

// HTTPVersion returns "http/1.1".
func (p *Protocol) HTTPVersion() string { return ALPNProtocol }

// Multiplexed returns false: HTTP/1 has one stream per connection.
func (p *Protocol) Multiplexed() bool { return false }

// ErrorCodes returns the HTTP/1 error-code table.
func (p *Protocol) ErrorCodes() httpcore.ErrorCodes { return httpcore.HTTP1ErrorCodes }

// Info exposes the transport details recorded by the connection layer.
func (p *Protocol) Info() *httpcore.ConnectionInfo { return &p.info }

// IsAvailable reports whether a new exchange may start: both directions
// idle and the connection not closing.
func (p *Protocol) IsAvailable() bool {
	return !p.terminated && !p.closing && p.sstate == sendIdle && p.rstate == recvHead
}

// HasExpired reports whether the connection is terminal.
func (p *Protocol) HasExpired() bool { return p.terminated }

// GetAvailableStreamID returns 1, the only HTTP/1 stream ID. Only clients
// initiate exchanges, and only one may be in flight at a time.
func (p *Protocol) GetAvailableStreamID() (uint64, error) {
	if p.role != httpcore.RoleClient {
		return 0, httpcore.NewMisuseError("get_available_stream_id", 0,
			"only clients initiate HTTP/1 exchanges")
	}
	if !p.IsAvailable() {
		return 0, httpcore.ErrNotAvailable
	}
	return StreamID, nil
}

// SubmitHeaders starts a request (client) or a response (server) on
// stream 1.
func (p *Protocol) SubmitHeaders(streamID uint64, headers httpcore.Headers, endStream bool) error {
	if err := p.checkSubmit("submit_headers", streamID); err != nil {
		return err
	}
	if p.sstate != sendIdle {
		return httpcore.NewMisuseError("submit_headers", streamID,
			"an exchange is already in flight; HTTP/1 has no pipelining")
	}
	if p.role == httpcore.RoleClient {
		head, err := buildRequestHead(headers, endStream)
		if err != nil {
			return httpcore.NewMisuseError("submit_headers", streamID, err.Error())
		}
		p.method = head.method
		p.sendKind, p.sendLeft = head.kind, head.length
		p.sendClose = p.sendClose || head.close
		p.sendBuf.Write(head.line)
	} else {
		if p.rstate == recvHead && p.method == "" {
			return httpcore.NewMisuseError("submit_headers", streamID,
				"no request to respond to")
		}
		head, err := buildResponseHead(headers, p.method, endStream)
		if err != nil {
			return httpcore.NewMisuseError("submit_headers", streamID, err.Error())
		}
		p.sendKind, p.sendLeft = head.kind, head.length
		p.sendClose = p.sendClose || head.close
		p.sendBuf.Write(head.line)
		if head.status < 200 {
			// Informational response; the final response is still owed.
			return nil
		}
	}
	if endStream || p.sendKind == bodyNone {
		p.sstate = sendDone
		p.maybeFinishCycle()
	} else {
		p.sstate = sendBody
	}
	return nil
}

// SubmitData sends body data using the framing chosen at SubmitHeaders.
func (p *Protocol) SubmitData(streamID uint64, data []byte, endStream bool) error {
	if err := p.checkSubmit("submit_data", streamID); err != nil {
		return err
	}
	switch p.sstate {
	case sendIdle:
		return httpcore.NewMisuseError("submit_data", streamID, "headers not submitted")
	case sendDone:
		return httpcore.NewMisuseError("submit_data", streamID, "message already ended")
	}
	switch p.sendKind {
	case bodyChunked:
		if len(data) > 0 {
			p.sendBuf.WriteString(strconv.FormatInt(int64(len(data)), 16))
			p.sendBuf.WriteString("\r\n")
			p.sendBuf.Write(data)
			p.sendBuf.WriteString("\r\n")
		}
		if endStream {
			p.sendBuf.WriteString("0\r\n\r\n")
		}
	case bodyContentLength:
		if int64(len(data)) > p.sendLeft {
			return httpcore.NewMisuseError("submit_data", streamID,
				"data exceeds declared Content-Length")
		}
		if endStream && int64(len(data)) < p.sendLeft {
			return httpcore.NewMisuseError("submit_data", streamID,
				"message shorter than declared Content-Length")
		}
		p.sendLeft -= int64(len(data))
		p.sendBuf.Write(data)
	default:
		return httpcore.NewMisuseError("submit_data", streamID, "message has no body")
	}
	if endStream {
		p.sstate = sendDone
		p.maybeFinishCycle()
	}
	return nil
}

// SubmitStreamReset aborts the exchange. HTTP/1 has no reset primitive on
// the wire, so the connection is closed instead; both the mirror reset
// event and the terminal event are emitted.
func (p *Protocol) SubmitStreamReset(streamID uint64, errorCode uint64) error {
	if err := p.checkSubmit("submit_stream_reset", streamID); err != nil {
		return err
	}
	p.pushEvent(httpcore.StreamResetSent{StreamID: StreamID, ErrorCode: errorCode})
	p.terminate(errorCode, "stream reset closes an HTTP/1 connection")
	return nil
}

// SubmitClose requests a graceful shutdown: immediately when idle,
// otherwise once the in-flight exchange completes.
func (p *Protocol) SubmitClose(errorCode uint64) error {
	if p.terminated {
		return httpcore.ErrConnectionClosed
	}
	p.closing = true
	if p.sstate == sendIdle && p.rstate == recvHead {
		p.terminate(errorCode, "")
	}
	return nil
}

// NextEvent returns the next queued event, or nil when more input is
// needed. After ConnectionTerminated it returns nil forever.
func (p *Protocol) NextEvent() httpcore.Event {
	if len(p.events) == 0 {
		return nil
	}
	ev := p.events[0]
	p.events = p.events[1:]
	return ev
}

// BytesReceived feeds transport bytes to the parser.
func (p *Protocol) BytesReceived(data []byte) {
	if p.terminated || len(data) == 0 {
		return
	}
	p.recvBuf = append(p.recvBuf, data...)
	p.advance()
}

// BytesToSend drains the outbound buffer.
func (p *Protocol) BytesToSend() []byte {
	if p.sendBuf.Len() == 0 {
		return nil
	}
	out := make([]byte, p.sendBuf.Len())
	copy(out, p.sendBuf.Bytes())
	p.sendBuf.Reset()
	return out
}

// EOFReceived handles a half-close from the peer. For close-delimited
// response bodies this legitimately completes the message; in the middle
// of a framed message it is a protocol error.
func (p *Protocol) EOFReceived() {
	if p.terminated {
		return
	}
	p.peerEOF = true
	switch {
	case p.rstate == recvBody && p.recvKind == bodyUntilClose:
		p.endReceivedMessage()
		p.terminate(httpcore.HTTP1ErrorCodes.NoError, "")
	case p.rstate == recvHead && p.sstate == sendIdle && len(p.recvBuf) == 0:
		p.terminate(httpcore.HTTP1ErrorCodes.NoError, "")
	case p.rstate == recvDone:
		// Peer finished its message and half-closed; finish ours, then
		// the cycle ends the connection.
		p.recvClose = true
	default:
		p.terminate(httpcore.HTTP1ErrorCodes.ProtocolError, "unexpected EOF in message")
	}
}

// ConnectionLost handles abrupt transport loss.
func (p *Protocol) ConnectionLost(err error) {
	if p.terminated {
		return
	}
	if err != nil {
		p.terminate(httpcore.HTTP1ErrorCodes.InternalError, err.Error())
		return
	}
	p.terminate(httpcore.HTTP1ErrorCodes.NoError, "")
}

func (p *Protocol) checkSubmit(op string, streamID uint64) error {
	if p.terminated {
		return httpcore.ErrConnectionClosed
	}
	if streamID != StreamID {
		return httpcore.NewMisuseError(op, streamID, "HTTP/1 only has stream 1")
	}
	return nil
}

// advance runs the receive parser over the buffered bytes.
func (p *Protocol) advance() {
	for !p.terminated {
		switch p.rstate {
		case recvHead:
			if p.sstate != sendIdle && p.role == httpcore.RoleServer {
				// A pipelined request; leave it buffered until the
				// current cycle completes.
				return
			}
			end := bytes.Index(p.recvBuf, []byte("\r\n\r\n"))
			if end < 0 {
				return
			}
			head := p.recvBuf[:end]
			p.recvBuf = p.recvBuf[end+4:]
			if !p.parseHead(head) {
				return
			}
		case recvBody:
			if !p.parseBody() {
				return
			}
		case recvDone:
			return
		}
	}
}

func (p *Protocol) parseHead(head []byte) bool {
	var ph parsedHead
	var err error
	if p.role == httpcore.RoleServer {
		ph, err = parseRequestHead(head, p.scheme)
	} else {
		ph, err = parseResponseHead(head, p.method)
	}
	if err != nil {
		p.terminate(httpcore.HTTP1ErrorCodes.ProtocolError, err.Error())
		return false
	}
	if p.role == httpcore.RoleServer {
		p.method = ph.method
	} else if ph.status < 200 {
		// Informational response; keep waiting for the final one.
		p.pushEvent(httpcore.HeadersReceived{StreamID: StreamID, Headers: ph.headers})
		return true
	}
	p.recvKind, p.recvLeft = ph.kind, ph.length
	p.recvClose = p.recvClose || ph.close
	p.cphase = chunkSize

	ended := ph.kind == bodyNone
	p.pushEvent(httpcore.HeadersReceived{StreamID: StreamID, Headers: ph.headers, EndStream: ended})
	if ended {
		p.rstate = recvDone
		p.maybeFinishCycle()
	} else {
		p.rstate = recvBody
	}
	return true
}

// parseBody consumes buffered body bytes. It returns false when it needs
// more input.
func (p *Protocol) parseBody() bool {
	switch p.recvKind {
	case bodyContentLength:
		if len(p.recvBuf) == 0 {
			return false
		}
		n := int64(len(p.recvBuf))
		if n > p.recvLeft {
			n = p.recvLeft
		}
		data := append([]byte(nil), p.recvBuf[:n]...)
		p.recvBuf = p.recvBuf[n:]
		p.recvLeft -= n
		done := p.recvLeft == 0
		p.pushEvent(httpcore.DataReceived{StreamID: StreamID, Data: data, EndStream: done})
		if done {
			p.rstate = recvDone
			p.maybeFinishCycle()
		}
		return done || len(p.recvBuf) > 0
	case bodyChunked:
		return p.parseChunked()
	case bodyUntilClose:
		if len(p.recvBuf) == 0 {
			return false
		}
		data := append([]byte(nil), p.recvBuf...)
		p.recvBuf = p.recvBuf[:0]
		p.pushEvent(httpcore.DataReceived{StreamID: StreamID, Data: data})
		return false
	}
	return false
}

func (p *Protocol) parseChunked() bool {
	for {
		switch p.cphase {
		case chunkSize:
			line, rest, ok := cutLine(p.recvBuf)
			if !ok {
				return false
			}
			p.recvBuf = rest
			sizeStr, _, _ := bytes.Cut(line, []byte(";"))
			size, err := strconv.ParseInt(string(bytes.TrimSpace(sizeStr)), 16, 64)
			if err != nil || size < 0 {
				p.terminate(httpcore.HTTP1ErrorCodes.ProtocolError,
					fmt.Sprintf("invalid chunk size line %q", line))
				return false
			}
			if size == 0 {
				p.cphase = chunkTrailer
				continue
			}
			p.recvLeft = size
			p.cphase = chunkData
		case chunkData:
			if len(p.recvBuf) == 0 {
				return false
			}
			n := int64(len(p.recvBuf))
			if n > p.recvLeft {
				n = p.recvLeft
			}
			data := append([]byte(nil), p.recvBuf[:n]...)
			p.recvBuf = p.recvBuf[n:]
			p.recvLeft -= n
			p.pushEvent(httpcore.DataReceived{StreamID: StreamID, Data: data})
			if p.recvLeft > 0 {
				return false
			}
			p.cphase = chunkDataCRLF
		case chunkDataCRLF:
			if len(p.recvBuf) < 2 {
				return false
			}
			if !bytes.HasPrefix(p.recvBuf, []byte("\r\n")) {
				p.terminate(httpcore.HTTP1ErrorCodes.ProtocolError, "missing CRLF after chunk data")
				return false
			}
			p.recvBuf = p.recvBuf[2:]
			p.cphase = chunkSize
		case chunkTrailer:
			line, rest, ok := cutLine(p.recvBuf)
			if !ok {
				return false
			}
			p.recvBuf = rest
			if len(line) != 0 {
				continue // trailer field, skipped
			}
			p.endReceivedMessage()
			return true
		}
	}
}

// endReceivedMessage marks the inbound message complete, tagging the last
// pending event with end_stream when possible, mirroring how HTTP/2 and
// HTTP/3 attach END_STREAM to the final frame.
func (p *Protocol) endReceivedMessage() {
	tagged := false
	if n := len(p.events); n > 0 {
		switch last := p.events[n-1].(type) {
		case httpcore.DataReceived:
			last.EndStream = true
			p.events[n-1] = last
			tagged = true
		case httpcore.HeadersReceived:
			last.EndStream = true
			p.events[n-1] = last
			tagged = true
		}
	}
	if !tagged {
		p.pushEvent(httpcore.DataReceived{StreamID: StreamID, EndStream: true})
	}
	p.rstate = recvDone
	p.maybeFinishCycle()
}

// maybeFinishCycle resets the exchange once both directions are complete,
// or terminates when reuse is impossible.
func (p *Protocol) maybeFinishCycle() {
	if p.terminated || p.sstate != sendDone || p.rstate != recvDone {
		return
	}
	if p.closing || p.recvClose || p.sendClose || p.peerEOF {
		p.terminate(httpcore.HTTP1ErrorCodes.NoError, "")
		return
	}
	p.log.Debug().Msg("exchange complete, connection available again")
	p.sstate = sendIdle
	p.rstate = recvHead
	p.sendKind, p.recvKind = bodyNone, bodyNone
	p.method = ""
	// A pipelined request may already be buffered.
	if len(p.recvBuf) > 0 {
		p.advance()
	}
}

func (p *Protocol) terminate(code uint64, msg string) {
	if p.terminated {
		return
	}
	p.terminated = true
	p.log.Debug().Uint64("error_code", code).Str("message", msg).Msg("connection terminated")
	p.pushEvent(httpcore.ConnectionTerminated{ErrorCode: code, Message: msg})
}

func (p *Protocol) pushEvent(ev httpcore.Event) {
	p.events = append(p.events, ev)
}

// cutLine splits buf at the first CRLF.
func cutLine(buf []byte) (line, rest []byte, ok bool) {
	i := bytes.Index(buf, []byte("\r\n"))
	if i < 0 {
		return nil, buf, false
	}
	return buf[:i], buf[i+2:], true
}
