package httpcore

import "fmt"

// TLSInfo describes the outcome of a TLS handshake performed by the
// connection layer on top of TCP. The zero value means a cleartext
// connection. HTTP/3 factories never see a TLSInfo because the handshake
// happens inside QUIC.
type TLSInfo struct {
	// Version is the negotiated TLS version, e.g. "TLSv1.3".
	Version string
	// ALPNProtocol is the negotiated ALPN token, or "" if ALPN was not
	// used.
	ALPNProtocol string
}

// Secure reports whether the connection went through a TLS handshake.
func (i TLSInfo) Secure() bool { return i.Version != "" }

// HTTPOverTCPFactory creates fresh HTTPOverTCPProtocol instances for one
// role. Constructors are not part of the protocol interface, so factories
// unify how clients, servers and proxies obtain protocol instances.
// Factories are immutable after setup and freely shared.
type HTTPOverTCPFactory interface {
	// ALPNProtocols returns the ALPN tokens to offer in a TLS handshake,
	// most preferred first.
	ALPNProtocols() []string

	// New creates a protocol instance for a connection whose TLS
	// handshake (if any) is described by info.
	New(info TLSInfo) (HTTPOverTCPProtocol, error)
}

// HTTPOverQUICClientFactory creates client HTTPOverQUICProtocol instances.
// The remote address and TLS configuration are needed up front because
// both packet addressing and the TLS handshake live inside the QUIC layer.
type HTTPOverQUICClientFactory interface {
	// ALPNProtocols returns the tokens offered inside the QUIC
	// handshake.
	ALPNProtocols() []string

	// New creates a protocol instance that will connect to remote,
	// sending serverName in SNI.
	New(remote Address, serverName string, cfg *ClientTLSConfig) (HTTPOverQUICProtocol, error)
}

// HTTPOverQUICServerFactory creates server HTTPOverQUICProtocol instances,
// one per incoming QUIC connection.
type HTTPOverQUICServerFactory interface {
	// ALPNProtocols returns the tokens accepted inside the QUIC
	// handshake.
	ALPNProtocols() []string

	// ConnectionIDLength is the length in bytes of connection IDs issued
	// by protocols from this factory. Servers use it to sniff and route
	// packets before a protocol instance exists.
	ConnectionIDLength() int

	// SupportedVersions lists the QUIC versions instances will accept,
	// for the same routing purpose.
	SupportedVersions() []uint32

	// New creates a protocol instance for an incoming connection.
	New(cfg *ServerTLSConfig) (HTTPOverQUICProtocol, error)
}

// ALPNMux selects between HTTPOverTCPFactory children based on the ALPN
// token negotiated during the TLS handshake. It lets one listener accept
// both HTTP/1.1 and HTTP/2 on the same endpoint.
type ALPNMux struct {
	children []HTTPOverTCPFactory
	tokens   []string
	byToken  map[string]HTTPOverTCPFactory
}

// NewALPNMux builds a multiplexing factory over the given children. Order
// expresses preference: the advertised token list preserves it, and the
// first child is the fallback when ALPN was not negotiated at all.
func NewALPNMux(children ...HTTPOverTCPFactory) *ALPNMux {
	m := &ALPNMux{
		children: children,
		byToken:  make(map[string]HTTPOverTCPFactory),
	}
	for _, child := range children {
		for _, token := range child.ALPNProtocols() {
			if _, ok := m.byToken[token]; ok {
				continue
			}
			m.byToken[token] = child
			m.tokens = append(m.tokens, token)
		}
	}
	return m
}

// ALPNProtocols returns the union of the children's tokens in preference
// order.
func (m *ALPNMux) ALPNProtocols() []string {
	return append([]string(nil), m.tokens...)
}

// New instantiates the child whose token was negotiated. Without ALPN the
// first child wins, the pragmatic HTTP/1 default. A token no child
// advertised fails the connection.
func (m *ALPNMux) New(info TLSInfo) (HTTPOverTCPProtocol, error) {
	if len(m.children) == 0 {
		return nil, fmt.Errorf("httpcore: ALPN mux has no child factories")
	}
	if info.ALPNProtocol == "" {
		return m.children[0].New(info)
	}
	child, ok := m.byToken[info.ALPNProtocol]
	if !ok {
		return nil, fmt.Errorf("httpcore: peer negotiated unknown ALPN protocol %q", info.ALPNProtocol)
	}
	return child.New(info)
}
