// Package http3 implements the HTTP/3 engine over the quic-go QUIC stack
// and the qpack field-section codec.
//
// Go has no sans-I/O QUIC engine, so the package encapsulates quic-go
// behind an in-memory packet conduit: callers still feed datagrams in
// through DatagramReceived and drain them with DatagramsToSend, and no
// code in this package ever opens a socket. The QUIC handshake, TLS 1.3,
// retransmission and flow control all happen inside quic-go; request
// streams, the control stream and the QPACK streams are managed here and
// surfaced through the common event vocabulary.
package http3

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/quic-go/qpack"
	"github.com/quic-go/quic-go"
	"github.com/rs/zerolog"

	"example.com/httpcore"
)

// ALPNProtocol is the ALPN token for HTTP/3.
const ALPNProtocol = "h3"

type requestStream struct {
	id         uint64
	str        quic.Stream
	sendOpened bool
	sendClosed bool
	recvClosed bool
	reset      bool
}

// Protocol is an HTTP/3 connection. Unlike the TCP engines it contains
// internal synchronization: quic-go drives the connection from its own
// goroutines, and the engine funnels their results into the synchronous
// event queue the caller drains.
type Protocol struct {
	role httpcore.Role
	log  zerolog.Logger
	info httpcore.ConnectionInfo

	pconn  *memConn
	tr     *quic.Transport
	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	conn           quic.Connection
	control        quic.SendStream
	events         []httpcore.Event
	streams        map[uint64]*requestStream
	connIDs        map[string][]byte
	ready          bool
	terminated     bool
	goawaySent     bool
	goawayReceived bool
	lastPeerStream uint64
	now            time.Time
}

// newProtocol builds an engine and starts the internal QUIC machinery.
// For clients remote is the destination of outbound packets; servers
// learn the peer address from the first Initial.
func newProtocol(role httpcore.Role, tlsConf *tlsConfigHolder, remote httpcore.Address, log zerolog.Logger) *Protocol {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Protocol{
		role:    role,
		log:     log.With().Str("proto", ALPNProtocol).Stringer("role", role).Logger(),
		pconn:   newMemConn(&net.UDPAddr{IP: net.IPv4zero, Port: 0}),
		ctx:     ctx,
		cancel:  cancel,
		streams: make(map[uint64]*requestStream),
		connIDs: make(map[string][]byte),
	}
	p.tr = &quic.Transport{Conn: p.pconn}
	go p.run(tlsConf, remote)
	return p
}

func (p *Protocol) run(tlsConf *tlsConfigHolder, remote httpcore.Address) {
	var conn quic.Connection
	var err error
	if p.role == httpcore.RoleClient {
		conn, err = p.tr.Dial(p.ctx, net.UDPAddrFromAddrPort(remote), tlsConf.tls, tlsConf.quic)
	} else {
		var ln *quic.Listener
		ln, err = p.tr.Listen(tlsConf.tls, tlsConf.quic)
		if err == nil {
			conn, err = ln.Accept(p.ctx)
		}
	}
	if err != nil {
		p.mu.Lock()
		p.terminate(httpcore.HTTP3ErrorCodes.InternalError, err.Error())
		p.mu.Unlock()
		return
	}
	p.setup(conn)
}

func (p *Protocol) setup(conn quic.Connection) {
	control, err := conn.OpenUniStream()
	if err == nil {
		buf := appendVarint(nil, streamTypeControl)
		buf = appendFrame(buf, frameTypeSettings, nil)
		_, err = control.Write(buf)
	}
	p.mu.Lock()
	if err != nil {
		p.terminate(httpcore.HTTP3ErrorCodes.InternalError, err.Error())
		p.mu.Unlock()
		return
	}
	p.conn = conn
	p.control = control
	p.ready = true
	p.mu.Unlock()
	p.log.Debug().Msg("connection established")

	go p.watchConn(conn)
	go p.acceptUniStreams(conn)
	if p.role == httpcore.RoleServer {
		go p.acceptRequestStreams(conn)
	} else {
		go p.rejectPeerBidiStreams(conn)
	}
}

// watchConn turns the QUIC connection's terminal state into the terminal
// event.
func (p *Protocol) watchConn(conn quic.Connection) {
	<-conn.Context().Done()
	cause := context.Cause(conn.Context())

	code := httpcore.HTTP3ErrorCodes.InternalError
	msg := ""
	var appErr *quic.ApplicationError
	var transportErr *quic.TransportError
	switch {
	case errors.As(cause, &appErr):
		code = uint64(appErr.ErrorCode)
		msg = appErr.ErrorMessage
	case errors.As(cause, &transportErr):
		code = httpcore.HTTP3ErrorCodes.ProtocolError
		msg = transportErr.Error()
	case cause != nil:
		msg = cause.Error()
	}
	p.mu.Lock()
	p.terminate(code, msg)
	p.mu.Unlock()
}

// acceptRequestStreams surfaces client-initiated bidirectional streams as
// request streams.
func (p *Protocol) acceptRequestStreams(conn quic.Connection) {
	for {
		str, err := conn.AcceptStream(p.ctx)
		if err != nil {
			return
		}
		id := uint64(str.StreamID())
		rs := &requestStream{id: id, str: str}
		p.mu.Lock()
		p.streams[id] = rs
		if id > p.lastPeerStream {
			p.lastPeerStream = id
		}
		p.mu.Unlock()
		go p.readRequestStream(rs)
	}
}

// rejectPeerBidiStreams enforces RFC 9114 section 6.1 on the client:
// servers must not initiate bidirectional streams.
func (p *Protocol) rejectPeerBidiStreams(conn quic.Connection) {
	if _, err := conn.AcceptStream(p.ctx); err != nil {
		return
	}
	conn.CloseWithError(errH3StreamCreation, "server-initiated bidirectional stream")
}

// readRequestStream decodes HEADERS and DATA frames from one request
// stream. Each decoded event is held back until the next read so the FIN
// can be folded into it as end_stream, mirroring how the other engines
// report it.
func (p *Protocol) readRequestStream(rs *requestStream) {
	br := bufio.NewReader(rs.str)
	var pending httpcore.Event
	flush := func(end bool) {
		if pending == nil {
			if !end {
				return
			}
			pending = httpcore.DataReceived{StreamID: rs.id, EndStream: true}
		} else if end {
			switch ev := pending.(type) {
			case httpcore.HeadersReceived:
				ev.EndStream = true
				pending = ev
			case httpcore.DataReceived:
				ev.EndStream = true
				pending = ev
			}
		}
		p.mu.Lock()
		p.pushEvent(pending)
		p.mu.Unlock()
		pending = nil
	}
	for {
		ftype, payload, err := readFrame(br)
		if err != nil {
			p.handleStreamReadError(rs, err, flush)
			return
		}
		switch ftype {
		case frameTypeHeaders:
			fields, err := qpack.NewDecoder(nil).DecodeFull(payload)
			if err != nil {
				p.closeConn(errQPACKDecompression, "qpack decode failed")
				return
			}
			flush(false)
			pending = httpcore.HeadersReceived{StreamID: rs.id, Headers: fieldsToHeaders(fields)}
		case frameTypeData:
			flush(false)
			pending = httpcore.DataReceived{StreamID: rs.id, Data: payload}
		case frameTypePushPromise:
			p.closeConn(errH3FrameUnexpected, "PUSH_PROMISE on request stream")
			return
		default:
			// Unknown frame types are ignored (RFC 9114 section 9).
		}
		// Look ahead one byte so a FIN directly after this frame turns
		// into end_stream on the event just decoded.
		if _, err := br.Peek(1); err != nil {
			p.handleStreamReadError(rs, err, flush)
			return
		}
	}
}

func (p *Protocol) handleStreamReadError(rs *requestStream, err error, flush func(end bool)) {
	var streamErr *quic.StreamError
	switch {
	case err == io.EOF:
		flush(true)
		p.mu.Lock()
		rs.recvClosed = true
		p.reapStream(rs)
		p.mu.Unlock()
	case errors.As(err, &streamErr):
		p.mu.Lock()
		if !rs.reset {
			rs.reset = true
			p.pushEvent(httpcore.StreamResetReceived{
				StreamID:  rs.id,
				ErrorCode: uint64(streamErr.ErrorCode),
			})
		}
		p.reapStream(rs)
		p.mu.Unlock()
	case err == io.ErrUnexpectedEOF:
		p.closeConn(errH3FrameError, "truncated frame")
	default:
		// Connection-level teardown; watchConn reports it.
	}
}

// acceptUniStreams dispatches peer-initiated unidirectional streams: the
// control stream and the QPACK streams are consumed internally, push
// streams are refused, unknown types cancelled.
func (p *Protocol) acceptUniStreams(conn quic.Connection) {
	for {
		str, err := conn.AcceptUniStream(p.ctx)
		if err != nil {
			return
		}
		go p.readUniStream(str)
	}
}

func (p *Protocol) readUniStream(str quic.ReceiveStream) {
	br := bufio.NewReader(str)
	stype, err := readVarint(br)
	if err != nil {
		return
	}
	switch stype {
	case streamTypeControl:
		p.readControlStream(br)
	case streamTypeQPACKEncoder, streamTypeQPACKDecoder:
		// Static-table-only QPACK; drain instructions.
		io.Copy(io.Discard, br)
	case streamTypePush:
		// Push is not supported; refuse the stream.
		str.CancelRead(errH3RequestCancelled)
	default:
		str.CancelRead(errH3StreamCreation)
	}
}

func (p *Protocol) readControlStream(br *bufio.Reader) {
	first := true
	for {
		ftype, payload, err := readFrame(br)
		if err != nil {
			return
		}
		if first {
			if ftype != frameTypeSettings {
				p.closeConn(errH3MissingSettings, "control stream must start with SETTINGS")
				return
			}
			first = false
			continue
		}
		switch ftype {
		case frameTypeSettings:
			p.closeConn(errH3FrameUnexpected, "duplicate SETTINGS")
			return
		case frameTypeGoaway:
			pr := bufio.NewReader(bytes.NewReader(payload))
			last, err := readVarint(pr)
			if err != nil {
				p.closeConn(errH3FrameError, "malformed GOAWAY")
				return
			}
			// A server's GOAWAY names the first request stream it will not
			// process (RFC 9114 section 5.2); report the last one it may
			// still process, the preceding client bidirectional stream.
			if p.role == httpcore.RoleClient && last >= 4 {
				last -= 4
			}
			p.mu.Lock()
			p.goawayReceived = true
			p.pushEvent(httpcore.GoawayReceived{
				LastStreamID: last,
				ErrorCode:    httpcore.HTTP3ErrorCodes.NoError,
			})
			p.mu.Unlock()
		case frameTypeCancelPush, frameTypeMaxPushID:
			// No push support; nothing to do.
		}
	}
}

// HTTPVersion returns "h3".
func (p *Protocol) HTTPVersion() string { return ALPNProtocol }

// Multiplexed returns true.
func (p *Protocol) Multiplexed() bool { return true }

// ErrorCodes returns the RFC 9114 error-code table.
func (p *Protocol) ErrorCodes() httpcore.ErrorCodes { return httpcore.HTTP3ErrorCodes }

// Info exposes the transport details recorded by the connection layer.
func (p *Protocol) Info() *httpcore.ConnectionInfo { return &p.info }

// IsAvailable reports whether a new stream may be opened: the handshake
// finished and neither GOAWAY nor termination happened. Before the
// handshake completes the caller must keep pumping datagrams.
func (p *Protocol) IsAvailable() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready && !p.terminated && !p.goawayReceived && !p.goawaySent
}

// HasExpired reports whether the connection is terminal.
func (p *Protocol) HasExpired() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated
}

// GetAvailableStreamID reserves the next client-initiated bidirectional
// QUIC stream and returns its ID. Only clients open request streams in
// HTTP/3.
func (p *Protocol) GetAvailableStreamID() (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.role != httpcore.RoleClient {
		return 0, httpcore.NewMisuseError("get_available_stream_id", 0,
			"HTTP/3 servers do not initiate request streams")
	}
	if !p.ready || p.terminated || p.goawayReceived || p.goawaySent {
		return 0, httpcore.ErrNotAvailable
	}
	str, err := p.conn.OpenStream()
	if err != nil {
		return 0, httpcore.ErrNotAvailable
	}
	id := uint64(str.StreamID())
	rs := &requestStream{id: id, str: str}
	p.streams[id] = rs
	go p.readRequestStream(rs)
	return id, nil
}

// SubmitHeaders sends a QPACK-encoded HEADERS frame on the stream.
func (p *Protocol) SubmitHeaders(streamID uint64, headers httpcore.Headers, endStream bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	rs, err := p.checkSubmit("submit_headers", streamID)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	enc := qpack.NewEncoder(&buf)
	for _, f := range headers {
		if err := enc.WriteField(qpack.HeaderField{Name: strings.ToLower(f.Name), Value: f.Value}); err != nil {
			return httpcore.NewMisuseError("submit_headers", streamID, err.Error())
		}
	}
	frame := appendFrame(nil, frameTypeHeaders, buf.Bytes())
	if _, err := rs.str.Write(frame); err != nil {
		return p.streamWriteError("submit_headers", rs, err)
	}
	rs.sendOpened = true
	if endStream {
		rs.str.Close()
		rs.sendClosed = true
		p.reapStream(rs)
	}
	return nil
}

// SubmitData sends a DATA frame on the stream.
func (p *Protocol) SubmitData(streamID uint64, data []byte, endStream bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	rs, err := p.checkSubmit("submit_data", streamID)
	if err != nil {
		return err
	}
	if !rs.sendOpened {
		return httpcore.NewMisuseError("submit_data", streamID, "headers not submitted")
	}
	if len(data) > 0 {
		frame := appendFrame(nil, frameTypeData, data)
		if _, err := rs.str.Write(frame); err != nil {
			return p.streamWriteError("submit_data", rs, err)
		}
	}
	if endStream {
		rs.str.Close()
		rs.sendClosed = true
		p.reapStream(rs)
	}
	return nil
}

// SubmitStreamReset aborts both directions of the stream and mirrors the
// action as a StreamResetSent event.
func (p *Protocol) SubmitStreamReset(streamID uint64, errorCode uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	rs, err := p.checkSubmit("submit_stream_reset", streamID)
	if err != nil {
		return err
	}
	rs.str.CancelWrite(quic.StreamErrorCode(errorCode))
	rs.str.CancelRead(quic.StreamErrorCode(errorCode))
	rs.reset = true
	p.reapStream(rs)
	p.pushEvent(httpcore.StreamResetSent{StreamID: streamID, ErrorCode: errorCode})
	return nil
}

// SubmitClose performs a graceful shutdown: a GOAWAY frame on the control
// stream followed by an application CONNECTION_CLOSE. QUIC distinguishes
// transport and application closes on the wire; closing with an
// application code covers both the clean and the error case here.
func (p *Protocol) SubmitClose(errorCode uint64) error {
	p.mu.Lock()
	if p.terminated {
		p.mu.Unlock()
		return httpcore.ErrConnectionClosed
	}
	p.goawaySent = true
	conn, control := p.conn, p.control
	var last uint64
	if p.role == httpcore.RoleServer {
		last = p.lastPeerStream + 4
	}
	p.mu.Unlock()

	if conn == nil {
		p.cancel()
		p.mu.Lock()
		p.terminate(errorCode, "")
		p.mu.Unlock()
		return nil
	}
	if control != nil {
		control.Write(appendFrame(nil, frameTypeGoaway, appendVarint(nil, last)))
	}
	conn.CloseWithError(quic.ApplicationErrorCode(errorCode), "")
	return nil
}

// NextEvent returns the next queued event, or nil when more input is
// needed. After ConnectionTerminated it returns nil forever.
func (p *Protocol) NextEvent() httpcore.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) == 0 {
		return nil
	}
	ev := p.events[0]
	p.events = p.events[1:]
	return ev
}

// Clock records the driver's time. The embedded QUIC engine schedules its
// own retransmission timers, so the value only feeds diagnostics.
func (p *Protocol) Clock(now time.Time) {
	p.mu.Lock()
	p.now = now
	p.mu.Unlock()
}

// GetTimer reports no deadline: the embedded QUIC engine arms its own
// timers internally.
func (p *Protocol) GetTimer() (time.Time, bool) {
	return time.Time{}, false
}

// DatagramReceived feeds one received UDP datagram to the QUIC engine.
func (p *Protocol) DatagramReceived(dg httpcore.Datagram) {
	if dcid, _, ok := sniffLongHeader(dg.Payload); ok && len(dcid) > 0 {
		p.mu.Lock()
		p.connIDs[string(dcid)] = dcid
		p.mu.Unlock()
	}
	p.pconn.deliver(dg)
}

// DatagramsToSend drains the outbound datagram batch generated since the
// last call.
func (p *Protocol) DatagramsToSend() []httpcore.Datagram {
	out := p.pconn.drain()
	for _, dg := range out {
		if _, scid, ok := sniffLongHeader(dg.Payload); ok && len(scid) > 0 {
			p.mu.Lock()
			p.connIDs[string(scid)] = scid
			p.mu.Unlock()
		}
	}
	return out
}

// ConnectionIDs returns the connection IDs observed for this endpoint,
// usable to route incoming packets to the connection.
func (p *Protocol) ConnectionIDs() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, 0, len(p.connIDs))
	for _, id := range p.connIDs {
		out = append(out, id)
	}
	return out
}

// ConnectionLost handles abrupt transport loss.
func (p *Protocol) ConnectionLost(err error) {
	p.cancel()
	p.pconn.Close()
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.terminate(httpcore.HTTP3ErrorCodes.InternalError, err.Error())
		return
	}
	p.terminate(httpcore.HTTP3ErrorCodes.NoError, "")
}

// checkSubmit is called with p.mu held.
func (p *Protocol) checkSubmit(op string, streamID uint64) (*requestStream, error) {
	if p.terminated {
		return nil, httpcore.ErrConnectionClosed
	}
	rs, ok := p.streams[streamID]
	if !ok {
		return nil, httpcore.NewMisuseError(op, streamID, "unknown stream; allocate with GetAvailableStreamID")
	}
	if rs.reset {
		return nil, httpcore.NewMisuseError(op, streamID, "stream was reset")
	}
	if rs.sendClosed && op != "submit_stream_reset" {
		return nil, httpcore.NewMisuseError(op, streamID, "stream closed for sending")
	}
	return rs, nil
}

// streamWriteError is called with p.mu held.
func (p *Protocol) streamWriteError(op string, rs *requestStream, err error) error {
	var streamErr *quic.StreamError
	if errors.As(err, &streamErr) {
		rs.reset = true
		return httpcore.NewMisuseError(op, rs.id, "stream was reset")
	}
	return &httpcore.TransportError{Cause: err}
}

// closeConn tears the connection down with an HTTP/3 error code.
func (p *Protocol) closeConn(code quic.ApplicationErrorCode, msg string) {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn != nil {
		conn.CloseWithError(code, msg)
	}
}

// reapStream drops a stream from the table once both directions are
// finished. Called with p.mu held.
func (p *Protocol) reapStream(rs *requestStream) {
	if rs.reset || (rs.sendClosed && rs.recvClosed) {
		delete(p.streams, rs.id)
	}
}

// terminate is called with p.mu held.
func (p *Protocol) terminate(code uint64, msg string) {
	if p.terminated {
		return
	}
	p.terminated = true
	p.ready = false
	p.log.Debug().Uint64("error_code", code).Str("message", msg).Msg("connection terminated")
	p.pushEvent(httpcore.ConnectionTerminated{ErrorCode: code, Message: msg})
}

// pushEvent is called with p.mu held.
func (p *Protocol) pushEvent(ev httpcore.Event) {
	p.events = append(p.events, ev)
}

// fieldsToHeaders converts decoded qpack fields to the common header
// list.
func fieldsToHeaders(fields []qpack.HeaderField) httpcore.Headers {
	out := make(httpcore.Headers, len(fields))
	for i, f := range fields {
		out[i] = httpcore.HeaderField{Name: f.Name, Value: f.Value}
	}
	return out
}
