package httpcore

// ErrorCodes provides the wire error codes for one HTTP version. Each
// version encodes errors differently: HTTP/1 has only status codes,
// HTTP/2 uses the RFC 9113 section 7 registry, HTTP/3 the RFC 9114
// section 8.1 registry. Callers work with these version-neutral slots and
// pass the concrete values to SubmitStreamReset and SubmitClose.
type ErrorCodes struct {
	// NoError signals clean termination.
	NoError uint64
	// ProtocolError is the generic code for a peer violating the wire spec.
	ProtocolError uint64
	// InternalError is the generic code for a fault on our side.
	InternalError uint64
	// ConnectError reports that the tunnel behind a CONNECT request broke.
	ConnectError uint64
	// Cancel asks the peer to stop processing a stream.
	Cancel uint64
}

// HTTP1ErrorCodes maps the neutral slots onto HTTP status codes, the
// closest thing HTTP/1 has to stream error codes.
var HTTP1ErrorCodes = ErrorCodes{
	NoError:       0,
	ProtocolError: 400,
	InternalError: 500,
	ConnectError:  502,
	Cancel:        0,
}

// HTTP2ErrorCodes holds the RFC 9113 section 7 codes.
var HTTP2ErrorCodes = ErrorCodes{
	NoError:       0x0,
	ProtocolError: 0x1,
	InternalError: 0x2,
	ConnectError:  0xA,
	Cancel:        0x8,
}

// HTTP3ErrorCodes holds the RFC 9114 section 8.1 codes.
var HTTP3ErrorCodes = ErrorCodes{
	NoError:       0x100,
	ProtocolError: 0x101,
	InternalError: 0x102,
	ConnectError:  0x10F,
	Cancel:        0x10C,
}
