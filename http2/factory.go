package http2

import (
	"fmt"

	"github.com/rs/zerolog"

	"example.com/httpcore"
)

// checkALPN rejects TLS connections that did not negotiate HTTP/2.
// RFC 9113 section 3.3: HTTP/2 over TLS MUST use ALPN; only cleartext
// connections may rely on prior knowledge.
func checkALPN(info httpcore.TLSInfo) error {
	if info.Secure() && info.ALPNProtocol != ALPNProtocol {
		return fmt.Errorf("http2: HTTP/2 was not negotiated using ALPN in the TLS handshake")
	}
	return nil
}

// ClientFactory creates HTTP/2 client protocols. The zero value is ready
// to use; Logger defaults to a no-op logger.
type ClientFactory struct {
	Logger zerolog.Logger
}

// ALPNProtocols returns ["h2"].
func (f *ClientFactory) ALPNProtocols() []string { return []string{ALPNProtocol} }

// New creates a client protocol; the connection preface is queued for
// sending immediately.
func (f *ClientFactory) New(info httpcore.TLSInfo) (httpcore.HTTPOverTCPProtocol, error) {
	if err := checkALPN(info); err != nil {
		return nil, err
	}
	p := NewProtocol(httpcore.RoleClient, f.Logger)
	p.Info().SetTLSVersion(info.Version)
	return p, nil
}

// ServerFactory creates HTTP/2 server protocols. The zero value is ready
// to use; Logger defaults to a no-op logger.
type ServerFactory struct {
	Logger zerolog.Logger
}

// ALPNProtocols returns ["h2"].
func (f *ServerFactory) ALPNProtocols() []string { return []string{ALPNProtocol} }

// New creates a server protocol; it expects the client preface as its
// first inbound bytes.
func (f *ServerFactory) New(info httpcore.TLSInfo) (httpcore.HTTPOverTCPProtocol, error) {
	if err := checkALPN(info); err != nil {
		return nil, err
	}
	p := NewProtocol(httpcore.RoleServer, f.Logger)
	p.Info().SetTLSVersion(info.Version)
	return p, nil
}
