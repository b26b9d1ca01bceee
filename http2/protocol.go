// Package http2 implements the sans-I/O HTTP/2 engine on top of the
// golang.org/x/net/http2 framer and HPACK codec. The engine owns the
// connection preface, settings exchange, stream-ID allocation and
// flow-control windows; frames are decoded only once a whole frame (and,
// for header blocks, the whole CONTINUATION sequence) has been buffered,
// so the framer never observes a short read.
package http2

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/net/http2"

	"example.com/httpcore"
)

// ALPNProtocol is the ALPN token for HTTP/2.
const ALPNProtocol = "h2"

// Settings advertised to the peer (RFC 9113 section 6.5.2 defaults, with
// the limits the reference deployment uses).
const (
	initialHeaderTableSize = 4096
	initialWindowSize      = 65535
	maxFrameSize           = 16384
	maxConcurrentStreams   = 100
	maxStreamID            = 1<<31 - 1
	frameHeaderLen         = 9
	flagEndHeaders         = 0x4
	frameTypeHeaders       = 0x1
	frameTypePushPromise   = 0x5
)

type stream struct {
	id           uint32
	localOpened  bool
	remoteOpened bool
	localClosed  bool
	remoteClosed bool
	reset        bool

	sendWindow int64
	pending    []byte
	pendingEnd bool
	pendingSet bool
}

func (s *stream) closed() bool {
	return s.reset || (s.localClosed && s.remoteClosed)
}

// Protocol is a sans-I/O HTTP/2 connection.
type Protocol struct {
	role httpcore.Role
	log  zerolog.Logger
	info httpcore.ConnectionInfo

	fr      *http2.Framer
	recvBuf bytes.Buffer
	sendBuf bytes.Buffer
	henc    *hpackEncoder

	events []httpcore.Event

	prefaceRead bool // server: client preface consumed
	firstFrame  bool // peer's first frame seen (must be SETTINGS)

	streams        map[uint32]*stream
	nextStreamID   uint32
	lastPeerStream uint32
	localActive    int

	connSendWindow int64
	peerInitWindow int64
	peerMaxFrame   uint32
	peerMaxStreams int64

	goawaySent     bool
	goawayReceived bool
	terminated     bool
}

// NewProtocol creates an HTTP/2 engine for one transport connection. The
// client immediately queues the connection preface and its SETTINGS frame;
// the server queues SETTINGS and expects the preface as its first inbound
// bytes.
func NewProtocol(role httpcore.Role, log zerolog.Logger) *Protocol {
	p := &Protocol{
		role:           role,
		log:            log.With().Str("proto", ALPNProtocol).Stringer("role", role).Logger(),
		streams:        make(map[uint32]*stream),
		connSendWindow: initialWindowSize,
		peerInitWindow: initialWindowSize,
		peerMaxFrame:   maxFrameSize,
		peerMaxStreams: 1 << 31,
		henc:           newHPACKEncoder(initialHeaderTableSize),
	}
	if role == httpcore.RoleClient {
		p.nextStreamID = 1
		p.prefaceRead = true // clients do not receive a preface
		p.sendBuf.WriteString(http2.ClientPreface)
	} else {
		p.nextStreamID = 2
	}
	p.fr = http2.NewFramer(&p.sendBuf, &p.recvBuf)
	p.fr.ReadMetaHeaders = newMetaDecoder()
	p.fr.WriteSettings(
		http2.Setting{ID: http2.SettingHeaderTableSize, Val: initialHeaderTableSize},
		http2.Setting{ID: http2.SettingEnablePush, Val: 0},
		http2.Setting{ID: http2.SettingMaxConcurrentStreams, Val: maxConcurrentStreams},
		http2.Setting{ID: http2.SettingInitialWindowSize, Val: initialWindowSize},
		http2.Setting{ID: http2.SettingMaxFrameSize, Val: maxFrameSize},
	)
	return p
}

// HTTPVersion returns "h2".
func (p *Protocol) HTTPVersion() string { return ALPNProtocol }

// Multiplexed returns true.
func (p *Protocol) Multiplexed() bool { return true }

// ErrorCodes returns the RFC 9113 error-code table.
func (p *Protocol) ErrorCodes() httpcore.ErrorCodes { return httpcore.HTTP2ErrorCodes }

// Info exposes the transport details recorded by the connection layer.
func (p *Protocol) Info() *httpcore.ConnectionInfo { return &p.info }

// IsAvailable reports whether a new local stream may be opened: the
// connection is live, no GOAWAY was exchanged, the peer's concurrency
// limit has room and the stream-ID space is not exhausted.
func (p *Protocol) IsAvailable() bool {
	return !p.terminated && !p.goawayReceived && !p.goawaySent &&
		int64(p.localActive) < p.peerMaxStreams &&
		uint64(p.nextStreamID) <= maxStreamID
}

// HasExpired reports whether the connection is terminal or out of stream
// IDs.
func (p *Protocol) HasExpired() bool {
	return p.terminated || uint64(p.nextStreamID) > maxStreamID
}

// GetAvailableStreamID reserves and returns the next stream ID on our
// side of the parity space: odd for clients, even for servers. The ID is
// recorded at allocation, so successive calls return distinct IDs.
func (p *Protocol) GetAvailableStreamID() (uint64, error) {
	if !p.IsAvailable() {
		return 0, httpcore.ErrNotAvailable
	}
	id := p.nextStreamID
	p.nextStreamID += 2
	p.streams[id] = &stream{id: id, sendWindow: p.peerInitWindow}
	p.localActive++
	return uint64(id), nil
}

// SubmitHeaders sends a header block on the stream. For a locally
// initiated stream the ID must come from GetAvailableStreamID; for a
// peer-initiated stream this is the response. A second header block on a
// stream carries trailers and must end the stream.
func (p *Protocol) SubmitHeaders(streamID uint64, headers httpcore.Headers, endStream bool) error {
	st, err := p.checkSubmit("submit_headers", streamID)
	if err != nil {
		return err
	}
	if st.localOpened {
		if st.localClosed {
			return httpcore.NewMisuseError("submit_headers", streamID, "stream closed for sending")
		}
		if !endStream {
			return httpcore.NewMisuseError("submit_headers", streamID, "trailers must end the stream")
		}
	}
	block, err := p.henc.encode(headers)
	if err != nil {
		return httpcore.NewMisuseError("submit_headers", streamID, err.Error())
	}
	p.writeHeaderBlock(uint32(streamID), block, endStream)
	st.localOpened = true
	if endStream {
		st.localClosed = true
	}
	p.reapStream(st)
	return nil
}

// SubmitData sends body data, splitting it into DATA frames of at most
// the peer's maximum frame size. Data beyond the peer's flow-control
// windows is queued and flushed when WINDOW_UPDATE arrives.
func (p *Protocol) SubmitData(streamID uint64, data []byte, endStream bool) error {
	st, err := p.checkSubmit("submit_data", streamID)
	if err != nil {
		return err
	}
	if !st.localOpened {
		return httpcore.NewMisuseError("submit_data", streamID, "headers not submitted")
	}
	if st.localClosed {
		return httpcore.NewMisuseError("submit_data", streamID, "stream closed for sending")
	}
	if st.pendingSet {
		st.pending = append(st.pending, data...)
		st.pendingEnd = endStream
	} else {
		p.writeData(st, data, endStream)
	}
	if endStream && !st.pendingSet {
		st.localClosed = true
		p.reapStream(st)
	}
	return nil
}

// SubmitStreamReset sends RST_STREAM and mirrors it as a StreamResetSent
// event.
func (p *Protocol) SubmitStreamReset(streamID uint64, errorCode uint64) error {
	st, err := p.checkSubmit("submit_stream_reset", streamID)
	if err != nil {
		return err
	}
	p.fr.WriteRSTStream(uint32(streamID), http2.ErrCode(errorCode))
	st.reset = true
	p.reapStream(st)
	p.pushEvent(httpcore.StreamResetSent{StreamID: streamID, ErrorCode: errorCode})
	return nil
}

// SubmitClose starts a graceful shutdown by sending GOAWAY with the
// highest peer-initiated stream ID processed. In-flight streams may
// complete; no new ones can be opened.
func (p *Protocol) SubmitClose(errorCode uint64) error {
	if p.terminated {
		return httpcore.ErrConnectionClosed
	}
	if p.goawaySent {
		return nil
	}
	p.goawaySent = true
	p.fr.WriteGoAway(p.lastPeerStream, http2.ErrCode(errorCode), nil)
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

// BytesReceived feeds transport bytes to the engine.
func (p *Protocol) BytesReceived(data []byte) {
	if p.terminated || len(data) == 0 {
		return
	}
	p.recvBuf.Write(data)
	if !p.prefaceRead && !p.readPreface() {
		return
	}
	p.readFrames()
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

// EOFReceived handles a half-close from the peer; HTTP/2 connections do
// not survive it.
func (p *Protocol) EOFReceived() {
	p.terminate(httpcore.HTTP2ErrorCodes.NoError, "")
}

// ConnectionLost handles abrupt transport loss.
func (p *Protocol) ConnectionLost(err error) {
	if err != nil {
		p.terminate(httpcore.HTTP2ErrorCodes.InternalError, err.Error())
		return
	}
	p.terminate(httpcore.HTTP2ErrorCodes.NoError, "")
}

func (p *Protocol) checkSubmit(op string, streamID uint64) (*stream, error) {
	if p.terminated {
		return nil, httpcore.ErrConnectionClosed
	}
	if streamID == 0 || streamID > maxStreamID {
		return nil, httpcore.NewMisuseError(op, streamID, "stream ID out of range")
	}
	st, ok := p.streams[uint32(streamID)]
	if !ok {
		return nil, httpcore.NewMisuseError(op, streamID, "unknown stream; allocate with GetAvailableStreamID")
	}
	if st.reset {
		return nil, httpcore.NewMisuseError(op, streamID, "stream was reset")
	}
	return st, nil
}

func (p *Protocol) readPreface() bool {
	if p.recvBuf.Len() < len(http2.ClientPreface) {
		return false
	}
	got := p.recvBuf.Next(len(http2.ClientPreface))
	if !bytes.Equal(got, []byte(http2.ClientPreface)) {
		p.terminate(httpcore.HTTP2ErrorCodes.ProtocolError, "invalid client connection preface")
		return false
	}
	p.prefaceRead = true
	return true
}

// readFrames decodes every whole frame currently buffered.
func (p *Protocol) readFrames() {
	for !p.terminated {
		if pendingFrameLen(p.recvBuf.Bytes()) == 0 {
			return
		}
		frame, err := p.fr.ReadFrame()
		if err != nil {
			p.handleReadError(err)
			return
		}
		p.handleFrame(frame)
	}
}

func (p *Protocol) handleReadError(err error) {
	var se http2.StreamError
	if errors.As(err, &se) {
		p.fr.WriteRSTStream(se.StreamID, se.Code)
		if st, ok := p.streams[se.StreamID]; ok {
			st.reset = true
			p.reapStream(st)
		}
		p.pushEvent(httpcore.StreamResetSent{StreamID: uint64(se.StreamID), ErrorCode: uint64(se.Code)})
		return
	}
	var ce http2.ConnectionError
	if errors.As(err, &ce) {
		p.terminate(uint64(http2.ErrCode(ce)), err.Error())
		return
	}
	p.terminate(httpcore.HTTP2ErrorCodes.ProtocolError, err.Error())
}

func (p *Protocol) handleFrame(frame http2.Frame) {
	if !p.firstFrame {
		if _, ok := frame.(*http2.SettingsFrame); !ok {
			p.terminate(httpcore.HTTP2ErrorCodes.ProtocolError,
				"first frame from peer must be SETTINGS")
			return
		}
		p.firstFrame = true
	}
	switch f := frame.(type) {
	case *http2.MetaHeadersFrame:
		p.handleHeaders(f)
	case *http2.DataFrame:
		p.handleData(f)
	case *http2.RSTStreamFrame:
		p.handleReset(f)
	case *http2.SettingsFrame:
		p.handleSettings(f)
	case *http2.PingFrame:
		if !f.IsAck() {
			p.fr.WritePing(true, f.Data)
		}
	case *http2.GoAwayFrame:
		p.goawayReceived = true
		p.pushEvent(httpcore.GoawayReceived{
			LastStreamID: uint64(f.LastStreamID),
			ErrorCode:    uint64(f.ErrCode),
		})
	case *http2.WindowUpdateFrame:
		p.handleWindowUpdate(f)
	case *http2.PushPromiseFrame:
		// Push is disabled via SETTINGS_ENABLE_PUSH=0, so a
		// PUSH_PROMISE is a connection error (RFC 9113 section 6.6).
		p.terminate(httpcore.HTTP2ErrorCodes.ProtocolError, "server push is disabled")
	case *http2.PriorityFrame:
		// Deprecated priority scheme; ignored.
	}
}

func (p *Protocol) handleHeaders(f *http2.MetaHeadersFrame) {
	id := f.Header().StreamID
	st, ok := p.streams[id]
	if !ok {
		if !p.peerInitiated(id) {
			p.terminate(httpcore.HTTP2ErrorCodes.ProtocolError,
				fmt.Sprintf("HEADERS on unopened local stream %d", id))
			return
		}
		st = &stream{id: id, sendWindow: p.peerInitWindow}
		p.streams[id] = st
	}
	if st.reset {
		return
	}
	st.remoteOpened = true
	if p.peerInitiated(id) && id > p.lastPeerStream {
		p.lastPeerStream = id
	}
	if f.StreamEnded() {
		st.remoteClosed = true
	}
	p.pushEvent(httpcore.HeadersReceived{
		StreamID:  uint64(id),
		Headers:   fieldsToHeaders(f.Fields),
		EndStream: f.StreamEnded(),
	})
	p.reapStream(st)
}

func (p *Protocol) handleData(f *http2.DataFrame) {
	id := f.Header().StreamID
	st, ok := p.streams[id]
	if !ok || !st.remoteOpened {
		p.terminate(httpcore.HTTP2ErrorCodes.ProtocolError,
			fmt.Sprintf("DATA on idle stream %d", id))
		return
	}
	if st.reset {
		return
	}
	data := append([]byte(nil), f.Data()...)
	if f.StreamEnded() {
		st.remoteClosed = true
	}
	p.pushEvent(httpcore.DataReceived{
		StreamID:  uint64(id),
		Data:      data,
		EndStream: f.StreamEnded(),
	})
	// Replenish both windows so the peer never stalls; windows are
	// managed internally and not exposed to callers.
	if n := uint32(len(data)); n > 0 {
		p.fr.WriteWindowUpdate(0, n)
		if !st.remoteClosed {
			p.fr.WriteWindowUpdate(id, n)
		}
	}
	p.reapStream(st)
}

func (p *Protocol) handleReset(f *http2.RSTStreamFrame) {
	id := f.Header().StreamID
	st, ok := p.streams[id]
	if !ok {
		return
	}
	if !st.reset {
		st.reset = true
		p.reapStream(st)
		p.pushEvent(httpcore.StreamResetReceived{
			StreamID:  uint64(id),
			ErrorCode: uint64(f.ErrCode),
		})
	}
}

func (p *Protocol) handleSettings(f *http2.SettingsFrame) {
	if f.IsAck() {
		return
	}
	f.ForeachSetting(func(s http2.Setting) error {
		switch s.ID {
		case http2.SettingInitialWindowSize:
			delta := int64(s.Val) - p.peerInitWindow
			p.peerInitWindow = int64(s.Val)
			for _, st := range p.streams {
				st.sendWindow += delta
			}
		case http2.SettingMaxFrameSize:
			p.peerMaxFrame = s.Val
		case http2.SettingMaxConcurrentStreams:
			p.peerMaxStreams = int64(s.Val)
		case http2.SettingHeaderTableSize:
			p.henc.setMaxTableSize(s.Val)
		}
		return nil
	})
	p.fr.WriteSettingsAck()
	p.flushPending()
}

func (p *Protocol) handleWindowUpdate(f *http2.WindowUpdateFrame) {
	id := f.Header().StreamID
	if id == 0 {
		p.connSendWindow += int64(f.Increment)
	} else if st, ok := p.streams[id]; ok {
		st.sendWindow += int64(f.Increment)
	}
	p.flushPending()
}

// writeData emits as much of data as the peer's windows allow and queues
// the rest on the stream.
func (p *Protocol) writeData(st *stream, data []byte, endStream bool) {
	for {
		if len(data) == 0 {
			if endStream {
				p.fr.WriteData(st.id, true, nil)
			}
			return
		}
		allow := int64(len(data))
		if allow > int64(p.peerMaxFrame) {
			allow = int64(p.peerMaxFrame)
		}
		if allow > p.connSendWindow {
			allow = p.connSendWindow
		}
		if allow > st.sendWindow {
			allow = st.sendWindow
		}
		if allow <= 0 {
			st.pending = append(st.pending, data...)
			st.pendingEnd = endStream
			st.pendingSet = true
			return
		}
		last := allow == int64(len(data))
		p.fr.WriteData(st.id, endStream && last, data[:allow])
		p.connSendWindow -= allow
		st.sendWindow -= allow
		data = data[allow:]
		if last {
			return
		}
	}
}

// flushPending retries queued DATA after window growth.
func (p *Protocol) flushPending() {
	for _, st := range p.streams {
		if !st.pendingSet || st.reset {
			continue
		}
		data, end := st.pending, st.pendingEnd
		st.pending, st.pendingEnd, st.pendingSet = nil, false, false
		p.writeData(st, data, end)
		if !st.pendingSet && end {
			st.localClosed = true
			p.reapStream(st)
		}
	}
}

// writeHeaderBlock emits HEADERS plus CONTINUATION frames as needed to
// respect the peer's maximum frame size.
func (p *Protocol) writeHeaderBlock(id uint32, block []byte, endStream bool) {
	max := int(p.peerMaxFrame)
	first := block
	if len(first) > max {
		first = block[:max]
	}
	block = block[len(first):]
	p.fr.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      id,
		BlockFragment: first,
		EndStream:     endStream,
		EndHeaders:    len(block) == 0,
	})
	for len(block) > 0 {
		frag := block
		if len(frag) > max {
			frag = block[:max]
		}
		block = block[len(frag):]
		p.fr.WriteContinuation(id, len(block) == 0, frag)
	}
}

// reapStream drops closed streams from the table and releases their slot
// in the local concurrency count.
func (p *Protocol) reapStream(st *stream) {
	if !st.closed() {
		return
	}
	if p.localInitiated(st.id) && p.streams[st.id] != nil {
		p.localActive--
	}
	delete(p.streams, st.id)
}

func (p *Protocol) localInitiated(id uint32) bool {
	if p.role == httpcore.RoleClient {
		return id%2 == 1
	}
	return id%2 == 0
}

func (p *Protocol) peerInitiated(id uint32) bool {
	return !p.localInitiated(id)
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

// pendingFrameLen returns the length of the first complete logical frame
// in buf, or 0 when more bytes are needed. A HEADERS or PUSH_PROMISE
// without END_HEADERS counts together with its CONTINUATION frames, so
// the framer's header-block assembly never stalls on a partial sequence.
func pendingFrameLen(buf []byte) int {
	if len(buf) < frameHeaderLen {
		return 0
	}
	length := int(buf[0])<<16 | int(buf[1])<<8 | int(buf[2])
	ftype := buf[3]
	flags := buf[4]
	total := frameHeaderLen + length
	if len(buf) < total {
		return 0
	}
	if (ftype != frameTypeHeaders && ftype != frameTypePushPromise) || flags&flagEndHeaders != 0 {
		return total
	}
	// Scan the CONTINUATION sequence.
	off := total
	for {
		if len(buf) < off+frameHeaderLen {
			return 0
		}
		clen := int(buf[off])<<16 | int(buf[off+1])<<8 | int(buf[off+2])
		cflags := buf[off+4]
		off += frameHeaderLen + clen
		if len(buf) < off {
			return 0
		}
		if cflags&flagEndHeaders != 0 {
			return off
		}
	}
}
