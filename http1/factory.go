package http1

import (
	"github.com/rs/zerolog"

	"example.com/httpcore"
)

// ClientFactory creates HTTP/1.1 client protocols. The zero value is
// ready to use; Logger defaults to a no-op logger.
type ClientFactory struct {
	Logger zerolog.Logger
}

// ALPNProtocols returns ["http/1.1"].
func (f *ClientFactory) ALPNProtocols() []string { return []string{ALPNProtocol} }

// New creates a client protocol. The scheme used when building requests
// follows the transport's TLS state.
func (f *ClientFactory) New(info httpcore.TLSInfo) (httpcore.HTTPOverTCPProtocol, error) {
	p := NewProtocol(httpcore.RoleClient, schemeFor(info), f.Logger)
	p.Info().SetTLSVersion(info.Version)
	return p, nil
}

// ServerFactory creates HTTP/1.1 server protocols. The zero value is
// ready to use; Logger defaults to a no-op logger.
type ServerFactory struct {
	Logger zerolog.Logger
}

// ALPNProtocols returns ["http/1.1"].
func (f *ServerFactory) ALPNProtocols() []string { return []string{ALPNProtocol} }

// New creates a server protocol. The scheme used when synthesizing
// :scheme pseudo-headers follows the transport's TLS state.
func (f *ServerFactory) New(info httpcore.TLSInfo) (httpcore.HTTPOverTCPProtocol, error) {
	p := NewProtocol(httpcore.RoleServer, schemeFor(info), f.Logger)
	p.Info().SetTLSVersion(info.Version)
	return p, nil
}

func schemeFor(info httpcore.TLSInfo) string {
	if info.Secure() {
		return "https"
	}
	return "http"
}
